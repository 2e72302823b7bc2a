package engagement

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/onnwee/promorank/internal/tracing"
)

// PostgresSource reads snapshots from the product_engagement table.
type PostgresSource struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresSource creates a new PostgresSource.
func NewPostgresSource(db *sql.DB, logger *slog.Logger) *PostgresSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresSource{db: db, logger: logger}
}

// ListByScope returns every record of a scope ordered by product ID.
func (s *PostgresSource) ListByScope(ctx context.Context, scope string) (_ []Snapshot, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "product_engagement", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, scope, clicks, views, likes, created_at,
		       last_clicked_at, last_viewed_at,
		       seller_rating_avg, seller_rating_count, seller_posts_per_month, seller_active_days,
		       status
		FROM product_engagement
		WHERE scope = $1
		ORDER BY product_id`, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to query engagement: %w", err)
	}
	defer rows.Close()

	out := []Snapshot{}
	for rows.Next() {
		var (
			snap        Snapshot
			lastClicked sql.NullTime
			lastViewed  sql.NullTime
			rating      sql.NullFloat64
			status      string
		)
		if err := rows.Scan(
			&snap.ProductID, &snap.Scope, &snap.Clicks, &snap.Views, &snap.Likes, &snap.CreatedAt,
			&lastClicked, &lastViewed,
			&rating, &snap.SellerRatingCount, &snap.SellerPostsPerMonth, &snap.SellerActiveDays,
			&status,
		); err != nil {
			return nil, fmt.Errorf("failed to scan engagement: %w", err)
		}
		snap.CreatedAt = snap.CreatedAt.UTC()
		if lastClicked.Valid {
			t := lastClicked.Time.UTC()
			snap.LastClickedAt = &t
		}
		if lastViewed.Valid {
			t := lastViewed.Time.UTC()
			snap.LastViewedAt = &t
		}
		if rating.Valid {
			r := rating.Float64
			snap.SellerRatingAvg = &r
		}
		snap.Status = Status(status)
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate engagement: %w", err)
	}
	return out, nil
}

// ListScopes returns every scope with its active product count.
func (s *PostgresSource) ListScopes(ctx context.Context) (_ []ScopeCount, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "product_engagement", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT scope, COUNT(*) FILTER (WHERE status = 'active')
		FROM product_engagement
		GROUP BY scope
		ORDER BY scope`)
	if err != nil {
		return nil, fmt.Errorf("failed to query scopes: %w", err)
	}
	defer rows.Close()

	out := []ScopeCount{}
	for rows.Next() {
		var sc ScopeCount
		if err := rows.Scan(&sc.Scope, &sc.Products); err != nil {
			return nil, fmt.Errorf("failed to scan scope: %w", err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate scopes: %w", err)
	}
	return out, nil
}

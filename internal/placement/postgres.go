package placement

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/lib/pq"

	"github.com/onnwee/promorank/internal/tracing"
)

// Postgres error codes mapped to ErrConflict.
const (
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
)

const placementColumns = `product_id, scope, position, plan_key, started_at, expires_at, expired_marked_at`

// PostgresStore implements Store on PostgreSQL.
//
// Writers take a transaction-scoped advisory lock keyed by the scope, so
// writes to one scope are serialized while different scopes proceed in
// parallel. Every mutation bumps the scope row in placement_scopes.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{db: db, logger: logger}
}

// Get returns the placement for a product, or ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, scope, productID string) (_ *Placement, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "manual_placements", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+placementColumns+` FROM manual_placements WHERE scope = $1 AND product_id = $2`,
		scope, productID)
	p, err := scanPlacement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, mapError("get placement", err)
	}
	return &p, nil
}

// ListByScope returns every placement of a scope ordered by product ID.
func (s *PostgresStore) ListByScope(ctx context.Context, scope string) (_ []Placement, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "manual_placements", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+placementColumns+` FROM manual_placements WHERE scope = $1 ORDER BY product_id`,
		scope)
	if err != nil {
		return nil, mapError("list placements", err)
	}
	defer rows.Close()

	out := []Placement{}
	for rows.Next() {
		p, err := scanPlacement(rows)
		if err != nil {
			return nil, mapError("scan placement", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("iterate placements", err)
	}
	return out, nil
}

// Revision returns the scope revision, 0 for unknown scopes.
func (s *PostgresStore) Revision(ctx context.Context, scope string) (_ int64, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "placement_scopes", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rev, err := readRevision(ctx, s.db, scope)
	if err != nil {
		return 0, mapError("read revision", err)
	}
	return rev, nil
}

// Scopes returns every scope holding at least one placement.
func (s *PostgresStore) Scopes(ctx context.Context) (_ []string, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "manual_placements", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT scope FROM manual_placements ORDER BY scope`)
	if err != nil {
		return nil, mapError("list scopes", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var scope string
		if err := rows.Scan(&scope); err != nil {
			return nil, mapError("scan scope", err)
		}
		out = append(out, scope)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("iterate scopes", err)
	}
	return out, nil
}

// Upsert stores p, superseding any existing placement for the slot.
func (s *PostgresStore) Upsert(ctx context.Context, p Placement) (_ WriteResult, err error) {
	if err := p.Validate(); err != nil {
		return WriteResult{}, err
	}
	ctx, endSpan := tracing.StartDBSpan(ctx, "manual_placements", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	var result WriteResult
	err = s.withScopeTx(ctx, p.Scope, func(tx *sql.Tx) error {
		existing, err := existingProducts(ctx, tx, p.Scope)
		if err != nil {
			return err
		}
		if err := upsertPlacement(ctx, tx, p); err != nil {
			return err
		}
		rev, err := bumpRevision(ctx, tx, p.Scope)
		if err != nil {
			return err
		}
		result = WriteResult{Changed: existing[p.ProductID], Revision: rev}
		return nil
	})
	if err != nil {
		return WriteResult{}, mapError("upsert placement", err)
	}
	return result, nil
}

// Delete removes a placement. Missing placements are a no-op.
func (s *PostgresStore) Delete(ctx context.Context, scope, productID string) (_ WriteResult, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "manual_placements", tracing.DBOperationDelete)
	defer func() { endSpan(err) }()

	var result WriteResult
	err = s.withScopeTx(ctx, scope, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM manual_placements WHERE scope = $1 AND product_id = $2`,
			scope, productID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			rev, err := readRevision(ctx, tx, scope)
			result = WriteResult{Revision: rev}
			return err
		}
		rev, err := bumpRevision(ctx, tx, scope)
		result = WriteResult{Changed: true, Revision: rev}
		return err
	})
	if err != nil {
		return WriteResult{}, mapError("delete placement", err)
	}
	return result, nil
}

// ApplyBatch writes a batch in a single transaction.
func (s *PostgresStore) ApplyBatch(ctx context.Context, batch BatchWrite) (_ BatchResult, err error) {
	if err := validateBatch(batch); err != nil {
		return BatchResult{}, err
	}
	ctx, endSpan := tracing.StartDBSpan(ctx, "manual_placements", tracing.DBOperationExec)
	defer func() { endSpan(err) }()

	var result BatchResult
	err = s.withScopeTx(ctx, batch.Scope, func(tx *sql.Tx) error {
		current, err := readRevision(ctx, tx, batch.Scope)
		if err != nil {
			return err
		}
		if batch.ExpectedRevision != nil && *batch.ExpectedRevision != current {
			return fmt.Errorf("%w: expected revision %d, current %d",
				ErrConflict, *batch.ExpectedRevision, current)
		}

		existing, err := existingProducts(ctx, tx, batch.Scope)
		if err != nil {
			return err
		}

		ids := make([]string, 0, len(batch.Placements))
		for _, p := range batch.Placements {
			if existing[p.ProductID] {
				result.Superseded++
			}
			if err := upsertPlacement(ctx, tx, p); err != nil {
				return err
			}
			ids = append(ids, p.ProductID)
			result.Applied++
		}

		if batch.ResetOthers {
			res, err := tx.ExecContext(ctx,
				`DELETE FROM manual_placements WHERE scope = $1 AND NOT (product_id = ANY($2))`,
				batch.Scope, pq.Array(ids))
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			result.Removed = int(n)
		}

		result.Revision, err = bumpRevision(ctx, tx, batch.Scope)
		return err
	})
	if err != nil {
		return BatchResult{}, mapError("apply batch", err)
	}

	s.logger.DebugContext(ctx, "placement batch committed",
		slog.String("scope", batch.Scope),
		slog.Int("applied", result.Applied),
		slog.Int("removed", result.Removed),
		slog.Int64("revision", result.Revision))
	return result, nil
}

// MarkExpired stamps newly elapsed placements. It does not bump the revision
// since the stamp never changes ranking output.
func (s *PostgresStore) MarkExpired(ctx context.Context, scope string, now time.Time) (_ int, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "manual_placements", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	res, err := s.db.ExecContext(ctx,
		`UPDATE manual_placements SET expired_marked_at = $2
		 WHERE scope = $1 AND expires_at <= $2 AND expired_marked_at IS NULL`,
		scope, now.UTC())
	if err != nil {
		return 0, mapError("mark expired", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, mapError("mark expired", err)
	}
	return int(n), nil
}

// withScopeTx runs fn in a transaction holding the scope's advisory lock.
func (s *PostgresStore) withScopeTx(ctx context.Context, scope string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Always attempt rollback on function exit (no-op after successful commit)
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.logger.Warn("failed to rollback transaction",
				slog.String("scope", scope),
				slog.String("error", err.Error()))
		}
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, scope); err != nil {
		return fmt.Errorf("failed to lock scope: %w", err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readRevision(ctx context.Context, q queryer, scope string) (int64, error) {
	var rev int64
	err := q.QueryRowContext(ctx,
		`SELECT revision FROM placement_scopes WHERE scope = $1`, scope).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return rev, err
}

func bumpRevision(ctx context.Context, tx *sql.Tx, scope string) (int64, error) {
	var rev int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO placement_scopes (scope, revision, updated_at)
		VALUES ($1, 1, NOW())
		ON CONFLICT (scope) DO UPDATE
		SET revision = placement_scopes.revision + 1, updated_at = NOW()
		RETURNING revision`, scope).Scan(&rev)
	return rev, err
}

func existingProducts(ctx context.Context, tx *sql.Tx, scope string) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx, `SELECT product_id FROM manual_placements WHERE scope = $1`, scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

func upsertPlacement(ctx context.Context, tx *sql.Tx, p Placement) error {
	var plan sql.NullString
	if p.Plan != PlanNone {
		plan = sql.NullString{String: string(p.Plan), Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO manual_placements (product_id, scope, position, plan_key, started_at, expires_at, expired_marked_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULL)
		ON CONFLICT (scope, product_id) DO UPDATE
		SET position = EXCLUDED.position,
		    plan_key = EXCLUDED.plan_key,
		    started_at = EXCLUDED.started_at,
		    expires_at = EXCLUDED.expires_at,
		    expired_marked_at = NULL`,
		p.ProductID, p.Scope, p.Position, plan, p.StartedAt.UTC(), p.ExpiresAt.UTC())
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlacement(row rowScanner) (Placement, error) {
	var (
		p       Placement
		plan    sql.NullString
		expired sql.NullTime
	)
	if err := row.Scan(&p.ProductID, &p.Scope, &p.Position, &plan, &p.StartedAt, &p.ExpiresAt, &expired); err != nil {
		return Placement{}, err
	}
	p.StartedAt = p.StartedAt.UTC()
	p.ExpiresAt = p.ExpiresAt.UTC()
	if plan.Valid {
		p.Plan = Plan(plan.String)
	}
	if expired.Valid {
		ts := expired.Time.UTC()
		p.ExpiredMarkedAt = &ts
	}
	return p, nil
}

// mapError translates driver errors into the package taxonomy.
// Errors that already carry a sentinel pass through unchanged.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) || IsValidation(err) {
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pqSerializationFailure, pqDeadlockDetected:
			return fmt.Errorf("%s: %w: %v", op, ErrConflict, err)
		}
		if pqErr.Code.Class() == "08" {
			return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

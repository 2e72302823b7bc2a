package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/promorank/internal/tracing"
)

// chainLockKey serializes appends so that each entry links to the true head.
const chainLockKey = "audit_log_chain"

// PostgresRepository implements Repository on the audit_log table.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a repository backed by db.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{db: db, logger: logger}
}

// Append stores a new entry linked to the current chain head.
func (r *PostgresRepository) Append(ctx context.Context, entry LogEntry) (_ *Entry, err error) {
	if err := validateLogEntry(entry); err != nil {
		return nil, err
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "audit_log", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			r.logger.Warn("failed to rollback audit transaction", slog.String("error", err.Error()))
		}
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, chainLockKey); err != nil {
		return nil, fmt.Errorf("failed to lock audit chain: %w", err)
	}

	var prev string
	err = tx.QueryRowContext(ctx,
		`SELECT entry_hash FROM audit_log ORDER BY seq DESC LIMIT 1`).Scan(&prev)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read audit chain head: %w", err)
	}

	e := &Entry{
		ID:           uuid.NewString(),
		OperatorID:   entry.OperatorID,
		Action:       entry.Action,
		Scope:        entry.Scope,
		ProductID:    entry.ProductID,
		Outcome:      entry.Outcome,
		Revision:     entry.Revision,
		Detail:       entry.Detail,
		RequestID:    entry.RequestID,
		CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
		PreviousHash: prev,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_log (
			id, operator_id, action, scope, product_id, outcome, revision,
			detail, request_id, created_at, previous_hash, entry_hash
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, e.OperatorID, e.Action, e.Scope, e.ProductID, e.Outcome, e.Revision,
		e.Detail, e.RequestID, e.CreatedAt, e.PreviousHash, e.Hash(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert audit entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return e, nil
}

// QueryByScope returns entries for scope, newest first.
func (r *PostgresRepository) QueryByScope(ctx context.Context, scope string, limit int) (_ []*Entry, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "audit_log", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := selectEntries + ` WHERE scope = $1 ORDER BY seq DESC`
	args := []any{scope}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	return r.query(ctx, query, args...)
}

// All returns every entry in append order.
func (r *PostgresRepository) All(ctx context.Context) (_ []*Entry, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "audit_log", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	return r.query(ctx, selectEntries+` ORDER BY seq ASC`)
}

const selectEntries = `
	SELECT id, operator_id, action, scope, product_id, outcome, revision,
	       detail, request_id, created_at, previous_hash
	FROM audit_log`

func (r *PostgresRepository) query(ctx context.Context, query string, args ...any) ([]*Entry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.ID, &e.OperatorID, &e.Action, &e.Scope, &e.ProductID,
			&e.Outcome, &e.Revision, &e.Detail, &e.RequestID, &e.CreatedAt, &e.PreviousHash); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit log: %w", err)
	}
	return out, nil
}

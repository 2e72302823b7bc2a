package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/onnwee/promorank/internal/tracing"
)

// uniqueViolation is the Postgres SQLSTATE for a duplicate primary key.
const uniqueViolation = "23505"

// PostgresRepository implements Repository on the idempotency_keys table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repository backed by db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Get retrieves a record by its key.
func (r *PostgresRepository) Get(ctx context.Context, key string) (rec *Record, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "idempotency_keys", tracing.DBOperationQuery)
	defer func() {
		if errors.Is(err, ErrKeyNotFound) {
			endSpan(nil)
			return
		}
		endSpan(err)
	}()

	rec = &Record{}
	err = r.db.QueryRowContext(ctx, `
		SELECT key, method, route, request_hash, created_at, response_hash,
		       status, response_body, response_status
		FROM idempotency_keys
		WHERE key = $1`, key).Scan(
		&rec.Key, &rec.Method, &rec.Route, &rec.RequestHash, &rec.CreatedAt,
		&rec.ResponseHash, &rec.Status, &rec.ResponseBody, &rec.ResponseStatusCode,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency key: %w", err)
	}
	return rec, nil
}

// Store inserts a new record. A concurrent insert of the same key yields
// ErrKeyExists.
func (r *PostgresRepository) Store(ctx context.Context, record *Record) (err error) {
	if err := ValidateKey(record.Key); err != nil {
		return err
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "idempotency_keys", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (
			key, method, route, request_hash, created_at, response_hash,
			status, response_body, response_status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		record.Key, record.Method, record.Route, record.RequestHash, createdAt,
		record.ResponseHash, record.Status, record.ResponseBody, record.ResponseStatusCode,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return ErrKeyExists
	}
	if err != nil {
		return fmt.Errorf("store idempotency key: %w", err)
	}
	record.CreatedAt = createdAt
	return nil
}

// DeleteOlderThan removes records created more than age ago.
func (r *PostgresRepository) DeleteOlderThan(ctx context.Context, age time.Duration) (n int64, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "idempotency_keys", tracing.DBOperationDelete)
	defer func() { endSpan(err) }()

	res, err := r.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE created_at < $1`,
		time.Now().UTC().Add(-age),
	)
	if err != nil {
		return 0, fmt.Errorf("delete idempotency keys: %w", err)
	}
	return res.RowsAffected()
}

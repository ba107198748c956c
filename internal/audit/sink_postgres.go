package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresSink appends audit records to the audit_log table.
//
// The table is append-only:
//
//	CREATE TABLE IF NOT EXISTS audit_log (
//	    id        BIGSERIAL PRIMARY KEY,
//	    logged_at TIMESTAMPTZ NOT NULL,
//	    user_name TEXT NOT NULL,
//	    path      TEXT NOT NULL
//	);
//
// The sink does not own the *sql.DB; callers share one pool across the
// process and close it at shutdown.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink creates a sink over an open database handle.
func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// Record inserts one row. The caller's context bounds the insert, so a slow
// or unreachable database surfaces as a sink error rather than a stalled
// request.
func (s *PostgresSink) Record(ctx context.Context, rec Record) error {
	const query = `
INSERT INTO audit_log (logged_at, user_name, path)
VALUES ($1, $2, $3)`

	if _, err := s.db.ExecContext(ctx, query, rec.Time, rec.User, rec.Path); err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

// Close is a no-op; the database handle is owned by the caller.
func (s *PostgresSink) Close() error {
	return nil
}

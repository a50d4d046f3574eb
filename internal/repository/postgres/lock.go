package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"

	"rental-payments-backend/internal/logger"
	"rental-payments-backend/internal/repository"
)

type advisoryLocker struct {
	db *sql.DB
}

// NewAdvisoryLocker serializes work on a transaction across server and cron processes
// with a session-level advisory lock held on a dedicated connection
func NewAdvisoryLocker(db *sql.DB) repository.TransactionLocker {
	return &advisoryLocker{db: db}
}

func (l *advisoryLocker) Lock(ctx context.Context, transactionID string) (func(), error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection for lock: %w", err)
	}
	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock(hashtext($1))`, transactionID); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("advisory lock %s: %w", transactionID, err)
	}

	return func() {
		// The unlock must run even if the caller's context is already done.
		if _, err := conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock(hashtext($1))`, transactionID); err != nil {
			logger.Error("Failed to release advisory lock, discarding connection", "transactionID", transactionID, "error", err)
			// A session that may still hold the lock must not go back to the pool.
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		}
		_ = conn.Close()
	}, nil
}

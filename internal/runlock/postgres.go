package runlock

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RowLock is the row-based mutex with a staleness timeout: an atomic
// insert-if-absent into run_locks wins the lock, and rows older than the
// staleness window are cleared on the way in so a crashed holder cannot
// wedge the system.
type RowLock struct {
	db        *sql.DB
	owner     string
	staleness time.Duration
}

var _ Substrate = (*RowLock)(nil)

// NewRowLock wires the database handle; each instance gets a fresh owner id.
func NewRowLock(db *sql.DB, staleness time.Duration) *RowLock {
	return &RowLock{
		db:        db,
		owner:     uuid.NewString(),
		staleness: staleness,
	}
}

// TryAcquire clears stale rows, then races an insert.
func (l *RowLock) TryAcquire(ctx context.Context, name string) (bool, error) {
	_, err := l.db.ExecContext(ctx, `
		DELETE FROM run_locks
		WHERE name = $1 AND acquired_at < NOW() - $2 * INTERVAL '1 second'`,
		name, l.staleness.Seconds())
	if err != nil {
		return false, fmt.Errorf("clear stale lock: %w", err)
	}

	res, err := l.db.ExecContext(ctx, `
		INSERT INTO run_locks (name, owner, acquired_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO NOTHING`,
		name, l.owner)
	if err != nil {
		return false, fmt.Errorf("insert lock row: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert lock row: %w", err)
	}
	return affected == 1, nil
}

// Release deletes the row unconditionally; acquisition is exclusive, so the
// releasing run is the only legitimate holder.
func (l *RowLock) Release(ctx context.Context, name string) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM run_locks WHERE name = $1`, name); err != nil {
		return fmt.Errorf("delete lock row: %w", err)
	}
	return nil
}

// AdvisoryLock uses Postgres session-scoped advisory locks. The session is
// pinned to a dedicated connection for the lifetime of the hold; if the
// process dies, the server drops the session and the lock with it, so no
// staleness bookkeeping is needed.
type AdvisoryLock struct {
	db *sql.DB

	mu   sync.Mutex
	held map[string]*sql.Conn
}

var _ Substrate = (*AdvisoryLock)(nil)

// NewAdvisoryLock wires the database handle.
func NewAdvisoryLock(db *sql.DB) *AdvisoryLock {
	return &AdvisoryLock{db: db, held: map[string]*sql.Conn{}}
}

// TryAcquire takes pg_try_advisory_lock on a pinned connection.
func (l *AdvisoryLock) TryAcquire(ctx context.Context, name string) (bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("pin connection: %w", err)
	}

	var acquired bool
	err = conn.QueryRowContext(ctx,
		`SELECT pg_try_advisory_lock(hashtext($1))`, name).Scan(&acquired)
	if err != nil {
		_ = conn.Close()
		return false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		_ = conn.Close()
		return false, nil
	}

	l.mu.Lock()
	l.held[name] = conn
	l.mu.Unlock()
	return true, nil
}

// Release unlocks and returns the pinned connection to the pool.
func (l *AdvisoryLock) Release(ctx context.Context, name string) error {
	l.mu.Lock()
	conn, ok := l.held[name]
	delete(l.held, name)
	l.mu.Unlock()
	if !ok {
		return nil
	}

	_, err := conn.ExecContext(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, name)
	closeErr := conn.Close()
	if err != nil {
		return fmt.Errorf("advisory unlock: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("close pinned connection: %w", closeErr)
	}
	return nil
}

package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hackgods/vet-appointment-scheduling/internal/appointment"
)

const pgLockNotAvailable = "55P03"

// TxBeginner is satisfied by *pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// AdvisoryLocker holds transaction-scoped Postgres advisory locks for the duration of fn.
// fn receives a context carrying the locking transaction, so a PgRepository used with it
// reads and writes on the same connection and its writes commit together with the
// lock release. A cancelled context rolls everything back.
type AdvisoryLocker struct {
	db   TxBeginner
	wait time.Duration
}

func NewAdvisoryLocker(db TxBeginner, wait time.Duration) *AdvisoryLocker {
	if wait <= 0 {
		wait = DefaultWait
	}
	return &AdvisoryLocker{db: db, wait: wait}
}

func (l *AdvisoryLocker) WithLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	keys = Normalize(keys)

	return pgx.BeginFunc(ctx, l.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, fmt.Sprintf("%dms", l.wait.Milliseconds())); err != nil {
			return fmt.Errorf("set lock timeout: %w", err)
		}
		for _, k := range keys {
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, k); err != nil {
				var pgErr *pgconn.PgError
				if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
					return appointment.ErrSlotBeingBooked
				}
				return fmt.Errorf("acquire advisory lock %s: %w", k, err)
			}
		}
		return fn(appointment.ContextWithTx(ctx, tx))
	})
}

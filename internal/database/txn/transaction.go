// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package txn

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/canonical/sqlair"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/retry"
	"github.com/mattn/go-sqlite3"
)

const (
	defaultRetryAttempts = 25
	defaultRetryDelay    = 5 * time.Millisecond
	defaultMaxRetryDelay = time.Second
)

var logger = loggo.GetLogger("healthmigration.database.txn")

// Option configures a RetryingTxnRunner.
type Option func(*option)

type option struct {
	clock    clock.Clock
	attempts int
}

// WithClock sets the clock used to delay retries.
func WithClock(clk clock.Clock) Option {
	return func(o *option) {
		o.clock = clk
	}
}

// WithRetryAttempts sets the number of times a retryable transaction is
// attempted before giving up.
func WithRetryAttempts(attempts int) Option {
	return func(o *option) {
		o.attempts = attempts
	}
}

// RetryingTxnRunner runs transactions, retrying them when the database
// reports a transient failure such as a busy or locked database.
type RetryingTxnRunner struct {
	clock    clock.Clock
	attempts int
}

// NewRetryingTxnRunner returns a new RetryingTxnRunner.
func NewRetryingTxnRunner(opts ...Option) *RetryingTxnRunner {
	o := &option{
		clock:    clock.WallClock,
		attempts: defaultRetryAttempts,
	}
	for _, opt := range opts {
		opt(o)
	}
	return &RetryingTxnRunner{
		clock:    o.clock,
		attempts: o.attempts,
	}
}

// Txn runs fn inside a sqlair transaction. The transaction is committed if
// fn returns nil, otherwise it is rolled back.
func (r *RetryingTxnRunner) Txn(ctx context.Context, db *sqlair.DB, fn func(context.Context, *sqlair.TX) error) error {
	return r.retry(ctx, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}

		tx, err := db.Begin(ctx, nil)
		if err != nil {
			return errors.Trace(err)
		}
		if err := fn(ctx, tx); err != nil {
			if rErr := tx.Rollback(); rErr != nil {
				logger.Debugf("rolling back transaction: %v", rErr)
			}
			return err
		}
		return errors.Trace(tx.Commit())
	})
}

// StdTxn runs fn inside a standard library transaction. The transaction is
// committed if fn returns nil, otherwise it is rolled back.
func (r *RetryingTxnRunner) StdTxn(ctx context.Context, db *sql.DB, fn func(context.Context, *sql.Tx) error) error {
	return r.retry(ctx, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return errors.Trace(err)
		}
		if err := fn(ctx, tx); err != nil {
			if rErr := tx.Rollback(); rErr != nil {
				logger.Debugf("rolling back transaction: %v", rErr)
			}
			return err
		}
		return errors.Trace(tx.Commit())
	})
}

func (r *RetryingTxnRunner) retry(ctx context.Context, fn func() error) error {
	err := retry.Call(retry.CallArgs{
		Func: fn,
		IsFatalError: func(err error) bool {
			return !IsErrRetryable(err)
		},
		NotifyFunc: func(err error, attempt int) {
			logger.Tracef("retrying transaction, attempt %d: %v", attempt, err)
		},
		Attempts:    r.attempts,
		Delay:       defaultRetryDelay,
		MaxDelay:    defaultMaxRetryDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       r.clock,
		Stop:        ctx.Done(),
	})
	if retry.IsAttemptsExceeded(err) || retry.IsRetryStopped(err) {
		return retry.LastError(err)
	}
	return err
}

// IsErrRetryable returns true if the given error might be transient and the
// interaction can be safely retried.
func IsErrRetryable(err error) bool {
	if err == nil {
		return false
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		if sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked {
			return true
		}
	}
	if errors.Is(err, sqlite3.ErrBusy) || errors.Is(err, sqlite3.ErrLocked) {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "cannot start a transaction within a transaction") ||
		strings.Contains(msg, "bad connection") ||
		strings.Contains(msg, "checkpoint in progress")
}

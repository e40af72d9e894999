// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/canonical/sqlair"
	"github.com/juju/errors"
	_ "github.com/mattn/go-sqlite3"

	coredatabase "github.com/juju/healthmigration/core/database"
	"github.com/juju/healthmigration/internal/database/txn"
)

// DB is a TxnRunner backed by a single sqlite database file.
type DB struct {
	std    *sql.DB
	db     *sqlair.DB
	runner *txn.RetryingTxnRunner
}

// Open opens the sqlite database at path, creating it if necessary.
// Foreign keys are enforced and a single connection is used, so that
// writers are serialised by the driver rather than failing as busy.
func Open(path string, opts ...txn.Option) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate", path)
	std, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Annotatef(err, "opening database %q", path)
	}
	std.SetMaxOpenConns(1)

	if err := std.Ping(); err != nil {
		_ = std.Close()
		return nil, errors.Annotatef(err, "connecting to database %q", path)
	}
	return NewDB(std, opts...), nil
}

// NewDB wraps an already open database.
func NewDB(std *sql.DB, opts ...txn.Option) *DB {
	return &DB{
		std:    std,
		db:     sqlair.NewDB(std),
		runner: txn.NewRetryingTxnRunner(opts...),
	}
}

// Txn implements coredatabase.TxnRunner.
func (d *DB) Txn(ctx context.Context, fn func(context.Context, *sqlair.TX) error) error {
	return errors.Trace(d.runner.Txn(ctx, d.db, fn))
}

// StdTxn implements coredatabase.TxnRunner.
func (d *DB) StdTxn(ctx context.Context, fn func(context.Context, *sql.Tx) error) error {
	return errors.Trace(d.runner.StdTxn(ctx, d.std, fn))
}

// Factory returns a TxnRunnerFactory that always yields this database.
func (d *DB) Factory() coredatabase.TxnRunnerFactory {
	return func() (coredatabase.TxnRunner, error) {
		return d, nil
	}
}

// Close closes the underlying database.
func (d *DB) Close() error {
	return errors.Trace(d.std.Close())
}

// ApplyDDL applies the schema deltas to the database in a single
// transaction.
func ApplyDDL(ctx context.Context, runner coredatabase.TxnRunner, deltas []coredatabase.Delta) error {
	return runner.StdTxn(ctx, func(ctx context.Context, tx *sql.Tx) error {
		for i, delta := range deltas {
			if _, err := tx.ExecContext(ctx, delta.Stmt(), delta.Args()...); err != nil {
				return errors.Annotatef(err, "applying schema delta %d", i)
			}
		}
		return nil
	})
}

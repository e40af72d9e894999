// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

import (
	"context"
	"sort"

	"github.com/canonical/sqlair"
	"github.com/juju/errors"

	coredatabase "github.com/juju/healthmigration/core/database"
	"github.com/juju/healthmigration/core/user"
	"github.com/juju/healthmigration/domain"
	migrationerrors "github.com/juju/healthmigration/domain/migration/errors"
)

// State is the persistent key/value store backing the migration state
// machine.
type State struct {
	*domain.StateBase
}

// NewState returns a new State reference.
func NewState(factory coredatabase.TxnRunnerFactory) *State {
	return &State{
		StateBase: domain.NewStateBase(factory),
	}
}

// Get returns the value persisted for key. If there is no such key an
// error satisfying [migrationerrors.KeyNotFound] is returned.
func (st *State) Get(ctx context.Context, u user.ID, key string) (string, error) {
	db, err := st.DB()
	if err != nil {
		return "", errors.Trace(err)
	}

	entry := dbEntry{UserID: int(u), Key: key}
	stmt, err := st.Prepare(`
SELECT &dbEntry.value
FROM   migration_state
WHERE  user_id = $dbEntry.user_id
AND    key = $dbEntry.key`, entry)
	if err != nil {
		return "", errors.Annotate(err, "preparing select migration key statement")
	}

	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		return tx.Query(ctx, stmt, entry).Get(&entry)
	})
	if errors.Is(err, sqlair.ErrNoRows) {
		return "", errors.Annotatef(migrationerrors.KeyNotFound, "%q", key)
	} else if err != nil {
		return "", errors.Annotatef(err, "reading migration key %q", key)
	}
	return entry.Value, nil
}

// GetAll returns every key persisted for the user.
func (st *State) GetAll(ctx context.Context, u user.ID) (map[string]string, error) {
	db, err := st.DB()
	if err != nil {
		return nil, errors.Trace(err)
	}

	ident := dbUser{UserID: int(u)}
	stmt, err := st.Prepare(`
SELECT &dbEntry.*
FROM   migration_state
WHERE  user_id = $dbUser.user_id`, dbEntry{}, ident)
	if err != nil {
		return nil, errors.Annotate(err, "preparing select migration keys statement")
	}

	var entries []dbEntry
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, ident).GetAll(&entries)
		if errors.Is(err, sqlair.ErrNoRows) {
			return nil
		}
		return errors.Trace(err)
	})
	if err != nil {
		return nil, errors.Annotate(err, "reading migration keys")
	}

	result := make(map[string]string, len(entries))
	for _, e := range entries {
		result[e.Key] = e.Value
	}
	return result, nil
}

// Set upserts the input values and removes the keys in remove, all in a
// single transaction.
func (st *State) Set(ctx context.Context, u user.ID, values map[string]string, remove ...string) error {
	db, err := st.DB()
	if err != nil {
		return errors.Trace(err)
	}

	upsertStmt, err := st.Prepare(`
INSERT INTO migration_state (user_id, key, value)
VALUES ($dbEntry.user_id, $dbEntry.key, $dbEntry.value)
ON CONFLICT (user_id, key) DO UPDATE SET value = excluded.value`, dbEntry{})
	if err != nil {
		return errors.Annotate(err, "preparing upsert migration key statement")
	}

	deleteStmt, err := st.Prepare(`
DELETE FROM migration_state
WHERE  user_id = $dbEntry.user_id
AND    key = $dbEntry.key`, dbEntry{})
	if err != nil {
		return errors.Annotate(err, "preparing delete migration key statement")
	}

	// Write in a stable order so that failures are reproducible.
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		for _, k := range keys {
			entry := dbEntry{UserID: int(u), Key: k, Value: values[k]}
			if err := tx.Query(ctx, upsertStmt, entry).Run(); err != nil {
				return errors.Annotatef(err, "setting %q", k)
			}
		}
		for _, k := range remove {
			entry := dbEntry{UserID: int(u), Key: k}
			if err := tx.Query(ctx, deleteStmt, entry).Run(); err != nil {
				return errors.Annotatef(err, "removing %q", k)
			}
		}
		return nil
	})
	return errors.Annotate(err, "writing migration keys")
}

// DeleteAll removes every key persisted for the user.
func (st *State) DeleteAll(ctx context.Context, u user.ID) error {
	db, err := st.DB()
	if err != nil {
		return errors.Trace(err)
	}

	ident := dbUser{UserID: int(u)}
	stmt, err := st.Prepare(`
DELETE FROM migration_state
WHERE  user_id = $dbUser.user_id`, ident)
	if err != nil {
		return errors.Annotate(err, "preparing delete migration keys statement")
	}

	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		return tx.Query(ctx, stmt, ident).Run()
	})
	return errors.Annotate(err, "deleting migration keys")
}

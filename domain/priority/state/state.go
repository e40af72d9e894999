// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

import (
	"context"
	"sort"

	"github.com/canonical/sqlair"
	"github.com/juju/errors"

	coredatabase "github.com/juju/healthmigration/core/database"
	"github.com/juju/healthmigration/domain"
	"github.com/juju/healthmigration/domain/priority"
)

// State reads and writes the live and pre-migration priority tables.
type State struct {
	*domain.StateBase
}

// NewState returns a new State reference.
func NewState(factory coredatabase.TxnRunnerFactory) *State {
	return &State{
		StateBase: domain.NewStateBase(factory),
	}
}

// LivePriorities returns every live priority order keyed by category.
func (st *State) LivePriorities(ctx context.Context) (map[priority.Category]priority.Order, error) {
	result, err := st.readAll(ctx, "health_data_category_priority")
	return result, errors.Annotate(err, "reading live priorities")
}

// LivePriority returns the live priority order of a category. An unknown
// category has an empty order.
func (st *State) LivePriority(ctx context.Context, category priority.Category) (priority.Order, error) {
	db, err := st.DB()
	if err != nil {
		return nil, errors.Trace(err)
	}

	row := dbPriority{CategoryID: int(category)}
	stmt, err := st.Prepare(`
SELECT &dbPriority.*
FROM   health_data_category_priority
WHERE  category_id = $dbPriority.category_id`, row)
	if err != nil {
		return nil, errors.Annotate(err, "preparing select live priority statement")
	}

	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		return tx.Query(ctx, stmt, row).Get(&row)
	})
	if errors.Is(err, sqlair.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Annotatef(err, "reading live priority of category %d", category)
	}
	return priority.DecodeOrder(row.SourceIDs), nil
}

// SetLivePriority replaces the live priority order of a category.
func (st *State) SetLivePriority(ctx context.Context, category priority.Category, order priority.Order) error {
	db, err := st.DB()
	if err != nil {
		return errors.Trace(err)
	}

	stmt, err := st.upsertStmt("health_data_category_priority")
	if err != nil {
		return errors.Trace(err)
	}

	row := dbPriority{CategoryID: int(category), SourceIDs: priority.EncodeOrder(order)}
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		return tx.Query(ctx, stmt, row).Run()
	})
	return errors.Annotatef(err, "setting live priority of category %d", category)
}

// AppendLiveSource appends pkg to the live priority order of a category
// unless it is already part of it. It returns true if the order changed.
func (st *State) AppendLiveSource(ctx context.Context, category priority.Category, pkg string) (bool, error) {
	db, err := st.DB()
	if err != nil {
		return false, errors.Trace(err)
	}

	selectStmt, err := st.Prepare(`
SELECT &dbPriority.*
FROM   health_data_category_priority
WHERE  category_id = $dbPriority.category_id`, dbPriority{})
	if err != nil {
		return false, errors.Annotate(err, "preparing select live priority statement")
	}
	upsertStmt, err := st.upsertStmt("health_data_category_priority")
	if err != nil {
		return false, errors.Trace(err)
	}

	var changed bool
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		changed = false

		row := dbPriority{CategoryID: int(category)}
		err := tx.Query(ctx, selectStmt, row).Get(&row)
		if err != nil && !errors.Is(err, sqlair.ErrNoRows) {
			return errors.Trace(err)
		}

		order := priority.DecodeOrder(row.SourceIDs)
		for _, existing := range order {
			if existing == pkg {
				return nil
			}
		}
		row.SourceIDs = priority.EncodeOrder(append(order, pkg))
		if err := tx.Query(ctx, upsertStmt, row).Run(); err != nil {
			return errors.Trace(err)
		}
		changed = true
		return nil
	})
	return changed, errors.Annotatef(err, "appending %q to live priority of category %d", pkg, category)
}

// HasSnapshot returns true if the snapshot of the current migration epoch
// has been taken, whether or not it copied any rows.
func (st *State) HasSnapshot(ctx context.Context) (bool, error) {
	db, err := st.DB()
	if err != nil {
		return false, errors.Trace(err)
	}

	stmt, err := st.Prepare(`
SELECT COUNT(*) AS &dbCount.count
FROM   pre_migration_priority_epoch`, dbCount{})
	if err != nil {
		return false, errors.Annotate(err, "preparing count snapshot statement")
	}

	var count dbCount
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		return tx.Query(ctx, stmt).Get(&count)
	})
	if err != nil {
		return false, errors.Annotate(err, "reading pre-migration priority epoch")
	}
	return count.Count > 0, nil
}

// UpsertSnapshot writes the given orders into the pre-migration table,
// replacing any existing row for the same category, and marks the
// snapshot of the current epoch as taken. An empty orders map only sets
// the mark.
func (st *State) UpsertSnapshot(ctx context.Context, orders map[priority.Category]priority.Order) error {
	db, err := st.DB()
	if err != nil {
		return errors.Trace(err)
	}

	stmt, err := st.upsertStmt("pre_migration_category_priority")
	if err != nil {
		return errors.Trace(err)
	}
	markStmt, err := st.Prepare(`
INSERT INTO pre_migration_priority_epoch (id)
VALUES (0)
ON CONFLICT (id) DO NOTHING`)
	if err != nil {
		return errors.Annotate(err, "preparing mark snapshot statement")
	}

	categories := make([]priority.Category, 0, len(orders))
	for category := range orders {
		categories = append(categories, category)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })

	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		for _, category := range categories {
			row := dbPriority{
				CategoryID: int(category),
				SourceIDs:  priority.EncodeOrder(orders[category]),
			}
			if err := tx.Query(ctx, stmt, row).Run(); err != nil {
				return errors.Annotatef(err, "category %d", category)
			}
		}
		return errors.Trace(tx.Query(ctx, markStmt).Run())
	})
	return errors.Annotate(err, "writing pre-migration priorities")
}

// Snapshot returns every pre-migration priority order keyed by category.
func (st *State) Snapshot(ctx context.Context) (map[priority.Category]priority.Order, error) {
	result, err := st.readAll(ctx, "pre_migration_category_priority")
	return result, errors.Annotate(err, "reading pre-migration priorities")
}

// DeleteSnapshot removes every pre-migration priority row and the epoch
// mark, so the next snapshot starts a new epoch.
func (st *State) DeleteSnapshot(ctx context.Context) error {
	db, err := st.DB()
	if err != nil {
		return errors.Trace(err)
	}

	stmt, err := st.Prepare(`DELETE FROM pre_migration_category_priority`)
	if err != nil {
		return errors.Annotate(err, "preparing delete snapshot statement")
	}
	epochStmt, err := st.Prepare(`DELETE FROM pre_migration_priority_epoch`)
	if err != nil {
		return errors.Annotate(err, "preparing delete snapshot epoch statement")
	}

	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		if err := tx.Query(ctx, stmt).Run(); err != nil {
			return errors.Trace(err)
		}
		return errors.Trace(tx.Query(ctx, epochStmt).Run())
	})
	return errors.Annotate(err, "deleting pre-migration priorities")
}

func (st *State) readAll(ctx context.Context, table string) (map[priority.Category]priority.Order, error) {
	db, err := st.DB()
	if err != nil {
		return nil, errors.Trace(err)
	}

	stmt, err := st.Prepare(`
SELECT &dbPriority.*
FROM   `+table, dbPriority{})
	if err != nil {
		return nil, errors.Annotatef(err, "preparing select %s statement", table)
	}

	var rows []dbPriority
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt).GetAll(&rows)
		if errors.Is(err, sqlair.ErrNoRows) {
			return nil
		}
		return errors.Trace(err)
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	result := make(map[priority.Category]priority.Order, len(rows))
	for _, row := range rows {
		result[priority.Category(row.CategoryID)] = priority.DecodeOrder(row.SourceIDs)
	}
	return result, nil
}

func (st *State) upsertStmt(table string) (*sqlair.Statement, error) {
	stmt, err := st.Prepare(`
INSERT INTO `+table+` (category_id, source_ids)
VALUES ($dbPriority.*)
ON CONFLICT (category_id) DO UPDATE SET source_ids = excluded.source_ids`, dbPriority{})
	return stmt, errors.Annotatef(err, "preparing upsert %s statement", table)
}

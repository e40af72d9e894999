// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

import (
	"context"
	"time"

	"github.com/canonical/sqlair"
	"github.com/juju/errors"

	coredatabase "github.com/juju/healthmigration/core/database"
	"github.com/juju/healthmigration/domain"
	"github.com/juju/healthmigration/domain/healthdata"
	"github.com/juju/healthmigration/domain/priority"
)

// State is the record store migrated health data is written to.
type State struct {
	*domain.StateBase
}

// NewState returns a new State reference.
func NewState(factory coredatabase.TxnRunnerFactory) *State {
	return &State{
		StateBase: domain.NewStateBase(factory),
	}
}

// InsertAll writes every request in a single transaction. Any failure
// leaves the store untouched. Records already present are overwritten.
func (st *State) InsertAll(ctx context.Context, reqs []healthdata.InsertRequest, migratedAt time.Time) error {
	db, err := st.DB()
	if err != nil {
		return errors.Trace(err)
	}

	stmt, err := st.Prepare(`
INSERT INTO health_record (uuid, record_type, data_category, package_name, client_record_id, payload, migrated_at)
VALUES ($dbRecord.*)
ON CONFLICT (uuid) DO UPDATE SET
    record_type = excluded.record_type,
    data_category = excluded.data_category,
    package_name = excluded.package_name,
    client_record_id = excluded.client_record_id,
    payload = excluded.payload,
    migrated_at = excluded.migrated_at`, dbRecord{})
	if err != nil {
		return errors.Annotate(err, "preparing insert record statement")
	}

	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		for _, req := range reqs {
			record := dbRecord{
				UUID:           req.UUID,
				RecordType:     req.RecordType,
				DataCategory:   int(req.DataCategory),
				PackageName:    req.PackageName,
				ClientRecordID: req.ClientRecordID,
				Payload:        req.Data,
				MigratedAt:     migratedAt.UTC(),
			}
			if err := tx.Query(ctx, stmt, record).Run(); err != nil {
				return errors.Annotatef(err, "inserting record %q", req.UUID)
			}
		}
		return nil
	})
	return errors.Annotatef(err, "inserting %d records", len(reqs))
}

// RecordsByCategory returns the records of a data category.
func (st *State) RecordsByCategory(ctx context.Context, category priority.Category) ([]healthdata.InsertRequest, error) {
	db, err := st.DB()
	if err != nil {
		return nil, errors.Trace(err)
	}

	ident := dbCategory{DataCategory: int(category)}
	stmt, err := st.Prepare(`
SELECT &dbRecord.*
FROM   health_record
WHERE  data_category = $dbCategory.data_category
ORDER BY uuid`, dbRecord{}, ident)
	if err != nil {
		return nil, errors.Annotate(err, "preparing select records statement")
	}

	var records []dbRecord
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, ident).GetAll(&records)
		if errors.Is(err, sqlair.ErrNoRows) {
			return nil
		}
		return errors.Trace(err)
	})
	if err != nil {
		return nil, errors.Annotatef(err, "reading records of category %d", category)
	}

	result := make([]healthdata.InsertRequest, len(records))
	for i, r := range records {
		result[i] = healthdata.InsertRequest{
			UUID:           r.UUID,
			RecordType:     r.RecordType,
			DataCategory:   priority.Category(r.DataCategory),
			PackageName:    r.PackageName,
			ClientRecordID: r.ClientRecordID,
			Data:           r.Payload,
		}
	}
	return result, nil
}

// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

import "time"

type dbRecord struct {
	UUID           string    `db:"uuid"`
	RecordType     string    `db:"record_type"`
	DataCategory   int       `db:"data_category"`
	PackageName    string    `db:"package_name"`
	ClientRecordID string    `db:"client_record_id"`
	Payload        []byte    `db:"payload"`
	MigratedAt     time.Time `db:"migrated_at"`
}

type dbCategory struct {
	DataCategory int `db:"data_category"`
}

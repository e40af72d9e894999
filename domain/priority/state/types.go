// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

// dbPriority is a single row of either priority table.
type dbPriority struct {
	CategoryID int    `db:"category_id"`
	SourceIDs  string `db:"source_ids"`
}

type dbCount struct {
	Count int `db:"count"`
}

// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

// dbEntry represents a single persisted migration key.
type dbEntry struct {
	UserID int    `db:"user_id"`
	Key    string `db:"key"`
	Value  string `db:"value"`
}

// dbUser is used to scope queries to a single user.
type dbUser struct {
	UserID int `db:"user_id"`
}

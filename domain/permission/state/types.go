// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

import "time"

type dbPermission struct {
	UserID      int    `db:"user_id"`
	PackageName string `db:"package_name"`
	Permission  string `db:"permission"`
}

type dbPackage struct {
	UserID      int    `db:"user_id"`
	PackageName string `db:"package_name"`
}

type dbFirstGrant struct {
	UserID         int       `db:"user_id"`
	PackageName    string    `db:"package_name"`
	FirstGrantTime time.Time `db:"first_grant_time"`
}

type permissions []string

type dbCount struct {
	Count int `db:"count"`
}

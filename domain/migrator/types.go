// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package migrator describes the application that drives a health data
// migration, and how it is discovered among the installed packages.
package migrator

const (
	// MigrationCapability is the capability a package must hold to be
	// considered as a migration driver.
	MigrationCapability = "health.permission.MIGRATE_HEALTH_CONNECT_DATA"

	// ShowMigrationInfoRequest is the request a migration driver must
	// register a handler for.
	ShowMigrationInfoRequest = "health.action.SHOW_MIGRATION_INFO"
)

// DriverStatus describes the well-known migration driver as seen by the
// foreground user.
type DriverStatus struct {
	// Present is true when the well-known package is installed.
	Present bool

	// HandlesRequest is true when the well-known package handles
	// ShowMigrationInfoRequest.
	HandlesRequest bool

	// InstallSource is the package that installed the well-known
	// package, if known.
	InstallSource string
}

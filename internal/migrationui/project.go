// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package migrationui derives the migration state shown to the user and
// keeps the migration notifications in step with it.
package migrationui

import (
	"github.com/juju/healthmigration/core/migration"
)

// Inputs holds everything the UI state is derived from.
type Inputs struct {
	State                migration.State
	StartsCount          int
	DriverPresent        bool
	DriverHandlesRequest bool
	InProgressTimedOut   bool
	IdleTimedOut         bool
}

// Project derives the UI state from the migration state and the health of
// the migration driver.
//
// An Allowed migration is reported against its driver first: a missing
// or disabled driver hides whether the migration was ever started.
func Project(in Inputs, maxStartAttempts int) migration.UIState {
	switch in.State {
	case migration.AppUpgradeRequired:
		return migration.UIAppUpgradeRequired
	case migration.ModuleUpgradeRequired:
		return migration.UIModuleUpgradeRequired
	case migration.InProgress:
		return migration.UIInProgress
	case migration.Complete:
		if in.IdleTimedOut {
			return migration.UICompleteIdle
		}
		return migration.UIComplete
	case migration.Allowed:
		return projectAllowed(in, maxStartAttempts)
	default:
		return migration.UIIdle
	}
}

func projectAllowed(in Inputs, maxStartAttempts int) migration.UIState {
	switch {
	case !in.DriverPresent:
		return migration.UIAllowedDriverMissing
	case !in.DriverHandlesRequest:
		return migration.UIAllowedDriverDisabled
	case in.StartsCount == 0:
		return migration.UIAllowedNotStarted
	case in.StartsCount >= maxStartAttempts:
		return migration.UIAllowedError
	case in.InProgressTimedOut:
		return migration.UIAllowedPaused
	default:
		// Started, then returned to Allowed without timing out.
		return migration.UIAllowedError
	}
}

// Notification returns the notification due for a UI state, and false if
// none is due and earlier ones should be cleared.
func Notification(state migration.UIState) (migration.NotificationKind, bool) {
	switch state {
	case migration.UIAllowedPaused:
		return migration.NotificationMigrationPaused, true
	case migration.UIAppUpgradeRequired:
		return migration.NotificationAppUpdateNeeded, true
	case migration.UIModuleUpgradeRequired:
		return migration.NotificationModuleUpdateNeeded, true
	default:
		return "", false
	}
}

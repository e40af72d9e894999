// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package migration

// UIState is the migration state as presented to the user. It carries
// more detail than State, as it also reflects the presence and health of
// the migrator package.
type UIState string

const (
	UIIdle                  UIState = "idle"
	UIAppUpgradeRequired    UIState = "app-upgrade-required"
	UIModuleUpgradeRequired UIState = "module-upgrade-required"

	// UIAllowedDriverMissing indicates that migration is allowed but the
	// migrator package is not installed at all.
	UIAllowedDriverMissing UIState = "allowed-driver-missing"

	// UIAllowedDriverDisabled indicates that the migrator package is
	// installed but does not handle the show migration info request.
	UIAllowedDriverDisabled UIState = "allowed-driver-disabled"

	// UIAllowedNotStarted indicates that migration is allowed and has
	// never been started.
	UIAllowedNotStarted UIState = "allowed-not-started"

	// UIAllowedPaused indicates that a started migration was paused
	// because the migrator stopped responding.
	UIAllowedPaused UIState = "allowed-paused"

	// UIAllowedError indicates that the migrator has exhausted its start
	// attempts or gave up without a recorded timeout.
	UIAllowedError UIState = "allowed-error"

	UIInProgress UIState = "in-progress"
	UIComplete   UIState = "complete"

	// UICompleteIdle indicates completion caused by the idle timeout; no
	// data was ever migrated.
	UICompleteIdle UIState = "complete-idle"
)

// NotificationKind identifies a user-facing migration notification.
type NotificationKind string

const (
	NotificationMigrationPaused    NotificationKind = "migration-paused"
	NotificationAppUpdateNeeded    NotificationKind = "migration-app-update-needed"
	NotificationModuleUpdateNeeded NotificationKind = "migration-module-update-needed"
)

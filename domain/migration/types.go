// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package migration holds the persisted keys of the health data migration
// state machine. Each key is stored per user in the migration_state table.
package migration

const (
	// KeyState holds the string form of the current migration state.
	KeyState = "migration_state"

	// KeyCurrentStateStartTime holds the time the current state was
	// entered, in RFC3339 with nanoseconds.
	KeyCurrentStateStartTime = "current_state_start_time"

	// KeyAllowedStateDeadline holds the hard ceiling on the time spent in
	// Allowed and InProgress.
	KeyAllowedStateDeadline = "allowed_state_deadline"

	// KeyStartsCount holds the number of times InProgress was entered.
	KeyStartsCount = "migration_starts_count"

	// KeyMinSDKExtensionVersion holds the minimum module version
	// requested by the migrator.
	KeyMinSDKExtensionVersion = "min_sdk_extension_version"

	// KeyInProgressTimeoutReached is set once InProgress times out.
	KeyInProgressTimeoutReached = "in_progress_timeout_reached"

	// KeyIdleTimeoutReached is set once Idle times out.
	KeyIdleTimeoutReached = "idle_timeout_reached"
)

// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package migration

import (
	"time"

	"github.com/juju/errors"
)

// State describes the stage a health data migration has reached for a
// single user.
type State string

const (
	// Idle is the starting state. No migrator has declared itself yet.
	Idle State = "idle"

	// AppUpgradeRequired indicates that a migrator package is installed
	// but it is too old to drive a migration.
	AppUpgradeRequired State = "app-upgrade-required"

	// ModuleUpgradeRequired indicates that the migrator requires a newer
	// version of the storage module than the one installed.
	ModuleUpgradeRequired State = "module-upgrade-required"

	// Allowed indicates that the migrator may start a migration.
	Allowed State = "allowed"

	// InProgress indicates that the migrator is pushing data.
	InProgress State = "in-progress"

	// Complete is terminal. Only an administrative reset leaves it.
	Complete State = "complete"
)

var allStates = []State{
	Idle,
	AppUpgradeRequired,
	ModuleUpgradeRequired,
	Allowed,
	InProgress,
	Complete,
}

// AllStates returns every migration state in lifecycle order.
func AllStates() []State {
	return append([]State(nil), allStates...)
}

// ParseState converts the persisted form of a state back into a State.
func ParseState(value string) (State, error) {
	for _, s := range allStates {
		if string(s) == value {
			return s, nil
		}
	}
	return "", errors.NotValidf("migration state %q", value)
}

// String implements fmt.Stringer.
func (s State) String() string {
	return string(s)
}

// Validate returns an error if the state is not one of the known states.
func (s State) Validate() error {
	_, err := ParseState(string(s))
	return errors.Trace(err)
}

// IsTerminal reports whether no further transitions are permitted.
func (s State) IsTerminal() bool {
	return s == Complete
}

// HasDeadline reports whether the allowed state deadline bounds the time
// spent in the state.
func (s State) HasDeadline() bool {
	return s == Allowed || s == InProgress
}

// Transition describes a single applied state change. Seq increases by one
// for every transition applied by a state machine instance, so consumers
// can detect the order in which transitions were written.
type Transition struct {
	// Seq is the sequence number of the transition.
	Seq uint64

	// From is the state before the transition.
	From State

	// To is the newly written state.
	To State

	// IsTimeout is true when the transition was forced by a timeout job.
	IsTimeout bool

	// At is the time the transition was written.
	At time.Time
}

// Timestamps holds the persisted instants used by the timeout jobs.
type Timestamps struct {
	// CurrentStateStartTime is reset on every transition. It is nil until
	// the first transition or the first timeout job bootstraps it.
	CurrentStateStartTime *time.Time

	// AllowedStateDeadline is set when Allowed is first entered and is
	// only meaningful while the state is Allowed or InProgress.
	AllowedStateDeadline *time.Time
}

// Counters holds the persisted values that feed the UI state derivation.
type Counters struct {
	// StartsCount is incremented each time InProgress is entered.
	StartsCount int

	// MinSDKExtensionVersion is the minimum module version requested by
	// the migrator.
	MinSDKExtensionVersion int

	// InProgressTimeoutReached is set when InProgress timed out into
	// Allowed.
	InProgressTimeoutReached bool

	// IdleTimeoutReached is set when Idle timed out into Complete.
	IdleTimeoutReached bool
}

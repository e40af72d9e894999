// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package errors

import "github.com/juju/errors"

const (
	// InvalidStateTransition describes an error that occurs when an
	// operation is attempted in a migration state that does not permit it.
	InvalidStateTransition = errors.ConstError("invalid migration state transition")

	// KeyNotFound describes an error that occurs when a persisted
	// migration key does not exist.
	KeyNotFound = errors.ConstError("migration key not found")

	// MaxStartAttemptsReached describes an error that occurs when the
	// migrator has started the migration more times than permitted.
	MaxStartAttemptsReached = errors.ConstError("maximum migration start attempts reached")
)

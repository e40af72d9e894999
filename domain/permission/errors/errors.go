// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package errors

import "github.com/juju/errors"

const (
	// NotFound describes an error that occurs when the permission being
	// requested does not exist.
	NotFound = errors.ConstError("permission not found")

	// FirstGrantNotFound describes an error that occurs when no first
	// grant time has been recorded for a package.
	FirstGrantNotFound = errors.ConstError("first grant time not found")

	// TargetInvalid describes an error that occurs when the package or
	// permission named in a grant is invalid.
	TargetInvalid = errors.ConstError("permission target invalid")
)

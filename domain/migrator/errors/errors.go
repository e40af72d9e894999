// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package errors

import "github.com/juju/errors"

const (
	// NoDriver describes an error that occurs when no installed package
	// is able to drive the migration. Scheduling paths treat it as
	// nothing to do.
	NoDriver = errors.ConstError("no migration driver present")

	// DriverNotWellKnown describes an error that occurs when the single
	// candidate driver is not the configured well-known package.
	DriverNotWellKnown = errors.ConstError("migration driver is not the well-known package")

	// AmbiguousDriver describes an error that occurs when several
	// candidate drivers exist and none of them is the well-known package.
	AmbiguousDriver = errors.ConstError("ambiguous migration driver")

	// PackageNotResolvable describes an error that occurs when a package
	// is not installed for the user.
	PackageNotResolvable = errors.ConstError("package not resolvable")
)

// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package packages

import (
	"fmt"

	"github.com/juju/errors"

	"github.com/juju/healthmigration/core/user"
)

// EventKind describes what happened to an installed package.
type EventKind string

const (
	Installed EventKind = "installed"
	Changed   EventKind = "changed"
	Removed   EventKind = "removed"
)

// Event is a single package change observed on the device.
type Event struct {
	Kind    EventKind
	Package string
	User    user.ID

	// Replacing is set on a removal that is immediately followed by the
	// installation of a new version of the same package.
	Replacing bool
}

// Validate returns an error if the event is incomplete.
func (e Event) Validate() error {
	switch e.Kind {
	case Installed, Changed, Removed:
	default:
		return errors.NotValidf("package event kind %q", e.Kind)
	}
	if e.Package == "" {
		return errors.NotValidf("empty package name")
	}
	return errors.Trace(e.User.Validate())
}

// String implements fmt.Stringer.
func (e Event) String() string {
	return fmt.Sprintf("%s %s (user %s)", e.Package, e.Kind, e.User)
}

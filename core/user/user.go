// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package user

import (
	"strconv"

	"github.com/juju/errors"
)

// ID identifies a device user. Migration state, permission grants and
// scheduled jobs are all scoped to a user.
type ID int

// System is the user that owns the device.
const System ID = 0

// String implements fmt.Stringer.
func (id ID) String() string {
	return strconv.Itoa(int(id))
}

// Validate returns an error if the id cannot identify a user.
func (id ID) Validate() error {
	if id < 0 {
		return errors.NotValidf("user id %d", int(id))
	}
	return nil
}

// ParseID converts the string form of a user id back into an ID.
func ParseID(s string) (ID, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.NotValidf("user id %q", s)
	}
	id := ID(v)
	return id, errors.Trace(id.Validate())
}

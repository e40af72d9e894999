// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package errors

import "github.com/juju/errors"

const (
	// UnrecognizedEntityType describes an error that occurs when a
	// migration entity carries an unknown type tag.
	UnrecognizedEntityType = errors.ConstError("unrecognized migration entity type")

	// MalformedEntity describes an error that occurs when the payload of a
	// migration entity cannot be decoded.
	MalformedEntity = errors.ConstError("malformed migration entity")
)

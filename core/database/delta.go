// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package database

// Delta is a single DDL statement, along with any arguments it binds.
type Delta struct {
	stmt string
	args []any
}

// MakeDelta returns a Delta for the input statement and arguments.
func MakeDelta(stmt string, args ...any) Delta {
	return Delta{stmt: stmt, args: args}
}

// Stmt returns the statement of the delta.
func (d Delta) Stmt() string {
	return d.stmt
}

// Args returns the arguments bound to the statement.
func (d Delta) Args() []any {
	return d.args
}

// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"

	"github.com/juju/cmd/v3"
	"github.com/juju/errors"

	"github.com/juju/healthmigration/core/user"
	migrationservice "github.com/juju/healthmigration/domain/migration/service"
	migrationstate "github.com/juju/healthmigration/domain/migration/state"
	priorityservice "github.com/juju/healthmigration/domain/priority/service"
	prioritystate "github.com/juju/healthmigration/domain/priority/state"
)

const resetDoc = `
Returns the migration of a user to Idle. The counters, the timestamps and
the pre-migration priority snapshot are removed, so the next migration
starts a new epoch. This is the only way out of a completed migration.

Examples:
    healthmigrate reset 0
`

type resetCommand struct {
	dbCommand

	user user.ID
}

func newResetCommand() cmd.Command {
	return &resetCommand{}
}

// Info implements cmd.Command.
func (c *resetCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "reset",
		Args:    "<user-id>",
		Purpose: "return the migration of a user to idle",
		Doc:     resetDoc,
	}
}

// Init implements cmd.Command.
func (c *resetCommand) Init(args []string) error {
	u, rest, err := parseUser(args)
	if err != nil {
		return errors.Trace(err)
	}
	c.user = u
	return cmd.CheckEmpty(rest)
}

// Run implements cmd.Command.
func (c *resetCommand) Run(ctx *cmd.Context) error {
	stdCtx := context.Background()
	config, err := c.tunables()
	if err != nil {
		return errors.Trace(err)
	}
	db, err := c.openDB(stdCtx)
	if err != nil {
		return errors.Trace(err)
	}
	defer db.Close()

	machine, err := migrationservice.NewService(migrationservice.Config{
		State:               migrationstate.NewState(db.Factory()),
		User:                c.user,
		Clock:               c.getClock(),
		AllowedStateTimeout: config.NonIdleStateTimeout,
	})
	if err != nil {
		return errors.Trace(err)
	}
	from, err := machine.GetState(stdCtx)
	if err != nil {
		return errors.Trace(err)
	}

	priorities := priorityservice.NewService(prioritystate.NewState(db.Factory()))
	if err := priorities.Clear(stdCtx); err != nil {
		return errors.Annotate(err, "clearing pre-migration priority")
	}
	if err := machine.Reset(stdCtx); err != nil {
		return errors.Trace(err)
	}
	ctx.Infof("migration for user %s reset from %s to idle", c.user, from)
	return nil
}

// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/juju/cmd/v3"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	"github.com/juju/healthmigration/core/user"
	migrationservice "github.com/juju/healthmigration/domain/migration/service"
	migrationstate "github.com/juju/healthmigration/domain/migration/state"
)

const statusDoc = `
Shows the persisted migration state of a user along with the counters
and timestamps driving its timeouts.

Examples:
    healthmigrate status 0
    healthmigrate status 10 --format json
`

type statusCommand struct {
	dbCommand

	user user.ID
	out  cmd.Output
}

func newStatusCommand() cmd.Command {
	return &statusCommand{}
}

// Info implements cmd.Command.
func (c *statusCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "status",
		Args:    "<user-id>",
		Purpose: "show the migration state of a user",
		Doc:     statusDoc,
	}
}

// SetFlags implements cmd.Command.
func (c *statusCommand) SetFlags(f *gnuflag.FlagSet) {
	c.dbCommand.SetFlags(f)
	c.out.AddFlags(f, "yaml", map[string]cmd.Formatter{
		"yaml": cmd.FormatYaml,
		"json": cmd.FormatJson,
	})
}

// Init implements cmd.Command.
func (c *statusCommand) Init(args []string) error {
	u, rest, err := parseUser(args)
	if err != nil {
		return errors.Trace(err)
	}
	c.user = u
	return cmd.CheckEmpty(rest)
}

type statusOutput struct {
	User                   string `yaml:"user" json:"user"`
	State                  string `yaml:"state" json:"state"`
	StartsCount            int    `yaml:"starts-count" json:"starts-count"`
	MinSDKExtensionVersion int    `yaml:"min-sdk-extension-version" json:"min-sdk-extension-version"`
	InProgressTimedOut     bool   `yaml:"in-progress-timed-out" json:"in-progress-timed-out"`
	IdleTimedOut           bool   `yaml:"idle-timed-out" json:"idle-timed-out"`
	StateStarted           string `yaml:"state-started,omitempty" json:"state-started,omitempty"`
	TimeInState            string `yaml:"time-in-state,omitempty" json:"time-in-state,omitempty"`
	AllowedDeadline        string `yaml:"allowed-deadline,omitempty" json:"allowed-deadline,omitempty"`
}

// Run implements cmd.Command.
func (c *statusCommand) Run(ctx *cmd.Context) error {
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

	state, err := machine.GetState(stdCtx)
	if err != nil {
		return errors.Trace(err)
	}
	counters, err := machine.Counters(stdCtx)
	if err != nil {
		return errors.Trace(err)
	}
	stamps, err := machine.Timestamps(stdCtx)
	if err != nil {
		return errors.Trace(err)
	}

	result := statusOutput{
		User:                   c.user.String(),
		State:                  state.String(),
		StartsCount:            counters.StartsCount,
		MinSDKExtensionVersion: counters.MinSDKExtensionVersion,
		InProgressTimedOut:     counters.InProgressTimeoutReached,
		IdleTimedOut:           counters.IdleTimeoutReached,
	}
	if t := stamps.CurrentStateStartTime; t != nil {
		result.StateStarted = t.UTC().Format(time.RFC3339)
		result.TimeInState = humanize.RelTime(*t, c.getClock().Now(), "ago", "from now")
	}
	if t := stamps.AllowedStateDeadline; t != nil && state.HasDeadline() {
		result.AllowedDeadline = t.UTC().Format(time.RFC3339)
	}
	return c.out.Write(ctx, result)
}

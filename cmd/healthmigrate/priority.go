// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"strconv"

	"github.com/juju/cmd/v3"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	"github.com/juju/healthmigration/domain/priority"
	priorityservice "github.com/juju/healthmigration/domain/priority/service"
	prioritystate "github.com/juju/healthmigration/domain/priority/state"
)

const priorityDoc = `
Shows the data source priority of a health data category, highest
priority first. While a migration epoch is open, the sources recorded
before the migration started come first.

With --append the package is added as the lowest priority source of the
category instead.

Examples:
    healthmigrate priority 3
    healthmigrate priority 3 --append com.example.fitness
`

type priorityCommand struct {
	dbCommand

	category  priority.Category
	appendPkg string
	out       cmd.Output
}

func newPriorityCommand() cmd.Command {
	return &priorityCommand{}
}

// Info implements cmd.Command.
func (c *priorityCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "priority",
		Args:    "<category>",
		Purpose: "show or extend the data source priority of a category",
		Doc:     priorityDoc,
	}
}

// SetFlags implements cmd.Command.
func (c *priorityCommand) SetFlags(f *gnuflag.FlagSet) {
	c.dbCommand.SetFlags(f)
	f.StringVar(&c.appendPkg, "append", "", "package to add as the lowest priority source")
	c.out.AddFlags(f, "yaml", map[string]cmd.Formatter{
		"yaml": cmd.FormatYaml,
		"json": cmd.FormatJson,
	})
}

// Init implements cmd.Command.
func (c *priorityCommand) Init(args []string) error {
	if len(args) == 0 {
		return errors.New("no category specified")
	}
	category, err := strconv.Atoi(args[0])
	if err != nil || category < 0 {
		return errors.NotValidf("category %q", args[0])
	}
	c.category = priority.Category(category)
	return cmd.CheckEmpty(args[1:])
}

// Run implements cmd.Command.
func (c *priorityCommand) Run(ctx *cmd.Context) error {
	stdCtx := context.Background()
	db, err := c.openDB(stdCtx)
	if err != nil {
		return errors.Trace(err)
	}
	defer db.Close()

	priorities := priorityservice.NewService(prioritystate.NewState(db.Factory()))
	if c.appendPkg != "" {
		if err := priorities.AppendSource(stdCtx, c.category, c.appendPkg); err != nil {
			return errors.Trace(err)
		}
	}
	order, err := priorities.MergedPriority(stdCtx, c.category)
	if err != nil {
		return errors.Trace(err)
	}
	if order == nil {
		order = priority.Order{}
	}
	return c.out.Write(ctx, []string(order))
}

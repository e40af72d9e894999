// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"fmt"
	"os"

	"github.com/juju/cmd/v3"
	"github.com/juju/loggo/v2"
)

var logger = loggo.GetLogger("healthmigration.cmd.healthmigrate")

const healthmigrateDoc = `
healthmigrate inspects and administers the health data migration state
stored on a device.

The migration database is opened directly, so the commands are meant to
be run while the migration manager is stopped.
`

// NewHealthMigrateCommand returns the super command holding every
// healthmigrate subcommand.
func NewHealthMigrateCommand() cmd.Command {
	sc := cmd.NewSuperCommand(cmd.SuperCommandParams{
		Name:    "healthmigrate",
		Purpose: "administer the health data migration",
		Doc:     healthmigrateDoc,
	})
	sc.Register(newStatusCommand())
	sc.Register(newResetCommand())
	sc.Register(newPriorityCommand())
	return sc
}

// Main runs the command line and returns the process exit code.
func Main(args []string) int {
	ctx, err := cmd.DefaultContext()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	return cmd.Main(NewHealthMigrateCommand(), ctx, args[1:])
}

func main() {
	os.Exit(Main(os.Args))
}

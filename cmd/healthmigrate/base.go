// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"

	"github.com/juju/clock"
	"github.com/juju/cmd/v3"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	"github.com/juju/healthmigration/core/user"
	"github.com/juju/healthmigration/domain/schema"
	"github.com/juju/healthmigration/internal/database"
	"github.com/juju/healthmigration/internal/tunables"
)

const defaultDBPath = "healthmigration.db"

// dbCommand holds the flags shared by the commands opening the
// migration database.
type dbCommand struct {
	cmd.CommandBase

	dbPath       string
	tunablesPath string

	clock clock.Clock
}

// SetFlags implements cmd.Command.
func (c *dbCommand) SetFlags(f *gnuflag.FlagSet) {
	f.StringVar(&c.dbPath, "db", defaultDBPath, "path to the migration database")
	f.StringVar(&c.tunablesPath, "tunables", "", "path to a YAML file overriding the migration tunables")
}

// tunables returns the configured tunables. The well-known package is
// irrelevant to the offline commands, so the defaults are completed with
// a placeholder when no file is given.
func (c *dbCommand) tunables() (tunables.Config, error) {
	if c.tunablesPath == "" {
		config := tunables.Default()
		config.WellKnownPackage = "unknown"
		return config, nil
	}
	config, err := tunables.Load(c.tunablesPath)
	return config, errors.Trace(err)
}

func (c *dbCommand) getClock() clock.Clock {
	if c.clock == nil {
		return clock.WallClock
	}
	return c.clock
}

// openDB opens the migration database, creating the schema when it is
// missing.
func (c *dbCommand) openDB(ctx context.Context) (*database.DB, error) {
	db, err := database.Open(c.dbPath)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := database.ApplyDDL(ctx, db, schema.HealthDDL()); err != nil {
		_ = db.Close()
		return nil, errors.Annotate(err, "preparing migration schema")
	}
	logger.Debugf("opened migration database %q", c.dbPath)
	return db, nil
}

func parseUser(args []string) (user.ID, []string, error) {
	if len(args) == 0 {
		return 0, nil, errors.New("no user specified")
	}
	u, err := user.ParseID(args[0])
	if err != nil {
		return 0, nil, errors.Trace(err)
	}
	return u, args[1:], nil
}

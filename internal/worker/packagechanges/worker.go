// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package packagechanges forwards the package changes of the foreground
// user to the health data migration.
package packagechanges

import (
	"context"

	"github.com/juju/errors"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/catacomb"

	"github.com/juju/healthmigration/core/packages"
	"github.com/juju/healthmigration/core/user"
)

// Logger is the logging interface used by the worker.
type Logger interface {
	Debugf(string, ...any)
	Errorf(string, ...any)
}

// PackageWatcher reports package changes on the device.
type PackageWatcher interface {
	worker.Worker
	Changes() <-chan packages.Event
}

// UserTracker reports the user currently in the foreground.
type UserTracker interface {
	ForegroundUser() user.ID
}

// ChangeHandler reacts to a package change.
type ChangeHandler interface {
	PackageChanged(ctx context.Context, event packages.Event) error
}

// Config holds the dependencies of the worker.
type Config struct {
	Watcher PackageWatcher
	Users   UserTracker
	Handler ChangeHandler
	Logger  Logger
}

// Validate returns an error if the config cannot be used to start the
// worker.
func (c Config) Validate() error {
	if c.Watcher == nil {
		return errors.NotValidf("nil Watcher")
	}
	if c.Users == nil {
		return errors.NotValidf("nil Users")
	}
	if c.Handler == nil {
		return errors.NotValidf("nil Handler")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

type receiver struct {
	catacomb catacomb.Catacomb
	config   Config
}

// NewWorker returns a worker that forwards package changes to the
// handler until killed. The watcher is stopped with the worker.
func NewWorker(config Config) (worker.Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	w := &receiver{config: config}
	if err := catacomb.Invoke(catacomb.Plan{
		Site: &w.catacomb,
		Work: w.loop,
		Init: []worker.Worker{config.Watcher},
	}); err != nil {
		return nil, errors.Trace(err)
	}
	return w, nil
}

// Kill is part of the worker.Worker interface.
func (w *receiver) Kill() {
	w.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *receiver) Wait() error {
	return w.catacomb.Wait()
}

func (w *receiver) loop() error {
	ctx, cancel := w.scopedContext()
	defer cancel()

	for {
		select {
		case <-w.catacomb.Dying():
			return w.catacomb.ErrDying()

		case event, ok := <-w.config.Watcher.Changes():
			if !ok {
				return errors.New("package watcher closed")
			}
			if !w.relevant(event) {
				continue
			}
			// A failed event is not fatal, the next change re-evaluates
			// the migration from scratch.
			if err := w.config.Handler.PackageChanged(ctx, event); err != nil {
				w.config.Logger.Errorf("handling package change %s: %v", event, err)
			}
		}
	}
}

func (w *receiver) relevant(event packages.Event) bool {
	if err := event.Validate(); err != nil {
		w.config.Logger.Errorf("ignoring package change: %v", err)
		return false
	}
	if foreground := w.config.Users.ForegroundUser(); event.User != foreground {
		w.config.Logger.Debugf("ignoring package change %s, foreground user is %s", event, foreground)
		return false
	}
	if event.Kind == packages.Removed && event.Replacing {
		w.config.Logger.Debugf("ignoring replacing package removal %s", event)
		return false
	}
	return true
}

func (w *receiver) scopedContext() (context.Context, context.CancelFunc) {
	return context.WithCancel(w.catacomb.Context(context.Background()))
}

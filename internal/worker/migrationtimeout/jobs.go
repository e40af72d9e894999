// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package migrationtimeout holds the periodic jobs that force the health
// data migration forward once the time allowed for a state has elapsed.
//
// The jobs may run late, early or more than once. Every decision is taken
// from the persisted state and timestamps, so running a job twice has the
// same effect as running it once.
package migrationtimeout

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/juju/healthmigration/core/migration"
	migrationerrors "github.com/juju/healthmigration/domain/migration/errors"
	"github.com/juju/healthmigration/internal/tunables"
)

// StateMachine is the part of the migration state machine of a single
// user used by the timeout jobs.
type StateMachine interface {
	GetState(ctx context.Context) (migration.State, error)
	Timestamps(ctx context.Context) (migration.Timestamps, error)
	SetCurrentStateStartTime(ctx context.Context, t time.Time) error
	Transition(ctx context.Context, to migration.State, isTimeout bool) error
}

// Logger is the logging interface used by the timeout jobs.
type Logger interface {
	Infof(string, ...any)
	Debugf(string, ...any)
	Errorf(string, ...any)
}

// Jobs evaluates the elapsed time of the current migration state against
// the configured timeouts.
type Jobs struct {
	clock    clock.Clock
	tunables tunables.Config
	logger   Logger
}

// NewJobs returns the timeout jobs for the given tunables.
func NewJobs(clock clock.Clock, config tunables.Config, logger Logger) *Jobs {
	return &Jobs{
		clock:    clock,
		tunables: config,
		logger:   logger,
	}
}

// Completion moves the migration to Complete once the current state has
// outlived its timeout. While Allowed or InProgress the allowed state
// deadline is a hard ceiling, so a later InProgress stay never extends
// the budget granted when Allowed was first entered.
//
// The first run after a state without a recorded start time only records
// the start time.
func (j *Jobs) Completion(ctx context.Context, m StateMachine) error {
	state, err := m.GetState(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if state.IsTerminal() {
		return nil
	}

	ts, err := m.Timestamps(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	now := j.clock.Now().UTC()
	if ts.CurrentStateStartTime == nil {
		j.logger.Debugf("no start time recorded for migration state %s, starting the clock", state)
		return errors.Trace(m.SetCurrentStateStartTime(ctx, now))
	}

	buffer := j.tunables.ExecutionTimeBuffer
	executionTime := ts.CurrentStateStartTime.Add(j.tunables.CompletionTimeout(state) - buffer)
	if state.HasDeadline() && ts.AllowedStateDeadline != nil {
		if ceiling := ts.AllowedStateDeadline.Add(-buffer); executionTime.After(ceiling) {
			executionTime = ceiling
		}
	}
	if !now.After(executionTime) {
		return nil
	}

	j.logger.Infof("migration timed out in state %s, completing", state)
	return errors.Trace(transition(ctx, m, migration.Complete, j.logger))
}

// Pause moves an InProgress migration back to Allowed once a single
// InProgress stay has outlived its timeout.
func (j *Jobs) Pause(ctx context.Context, m StateMachine) error {
	state, err := m.GetState(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if state != migration.InProgress {
		return nil
	}

	ts, err := m.Timestamps(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	now := j.clock.Now().UTC()
	if ts.CurrentStateStartTime == nil {
		j.logger.Debugf("no start time recorded for migration state %s, starting the clock", state)
		return errors.Trace(m.SetCurrentStateStartTime(ctx, now))
	}

	executionTime := ts.CurrentStateStartTime.Add(j.tunables.PauseTimeout() - j.tunables.ExecutionTimeBuffer)
	if !now.After(executionTime) {
		return nil
	}

	j.logger.Infof("migration in progress timed out, pausing")
	return errors.Trace(transition(ctx, m, migration.Allowed, j.logger))
}

// transition forces a timeout transition. Losing the race against a
// concurrent move to Complete is not an error.
func transition(ctx context.Context, m StateMachine, to migration.State, logger Logger) error {
	err := m.Transition(ctx, to, true)
	if errors.Is(err, migrationerrors.InvalidStateTransition) {
		logger.Debugf("migration timeout to %s superseded: %v", to, err)
		return nil
	}
	return errors.Trace(err)
}

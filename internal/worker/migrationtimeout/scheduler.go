// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package migrationtimeout

import (
	"context"
	"fmt"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/juju/healthmigration/core/migration"
	"github.com/juju/healthmigration/core/user"
	"github.com/juju/healthmigration/internal/jobrunner"
	"github.com/juju/healthmigration/internal/tunables"
)

const (
	// NamespacePrefix prefixes the job namespace of every user.
	NamespacePrefix = "migration-timeout"

	// CompletionJobID identifies the completion job within a namespace.
	CompletionJobID = "completion"

	// PauseJobID identifies the pause job within a namespace.
	PauseJobID = "pause"
)

// Namespace returns the job namespace holding the timeout jobs of a user.
func Namespace(u user.ID) string {
	return fmt.Sprintf("%s/%s", NamespacePrefix, u)
}

// JobRunner runs the scheduled timeout jobs.
type JobRunner interface {
	Schedule(job jobrunner.Job) error
	CancelAll(namespace string)
}

// StateMachineGetter returns the migration state machine of a user.
type StateMachineGetter interface {
	StateMachine(ctx context.Context, u user.ID) (StateMachine, error)
}

// Config holds the dependencies of a Scheduler.
type Config struct {
	Runner   JobRunner
	Machines StateMachineGetter
	Clock    clock.Clock
	Tunables tunables.Config
	Logger   Logger
}

// Validate returns an error if the config cannot be used.
func (c Config) Validate() error {
	if c.Runner == nil {
		return errors.NotValidf("nil Runner")
	}
	if c.Machines == nil {
		return errors.NotValidf("nil Machines")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return errors.Trace(c.Tunables.Validate())
}

// Scheduler keeps the timeout jobs of every user in step with the
// migration state.
type Scheduler struct {
	config Config
	jobs   *Jobs
}

// NewScheduler returns a new timeout job scheduler.
func NewScheduler(config Config) (*Scheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Scheduler{
		config: config,
		jobs:   NewJobs(config.Clock, config.Tunables, config.Logger),
	}, nil
}

// Jobs returns the job bodies run by the scheduled jobs.
func (s *Scheduler) Jobs() *Jobs {
	return s.jobs
}

// Reschedule replaces the timeout jobs of the user. The completion job
// runs until the migration is Complete, the pause job only while it is
// InProgress.
func (s *Scheduler) Reschedule(ctx context.Context, u user.ID) error {
	namespace := Namespace(u)
	s.config.Runner.CancelAll(namespace)

	m, err := s.config.Machines.StateMachine(ctx, u)
	if err != nil {
		return errors.Trace(err)
	}
	state, err := m.GetState(ctx)
	if err != nil {
		return errors.Trace(err)
	}

	if !state.IsTerminal() {
		err := s.config.Runner.Schedule(jobrunner.Job{
			Key:      jobrunner.Key{Namespace: namespace, ID: CompletionJobID},
			Periodic: s.config.Tunables.CompletionJobInterval,
			Run:      s.run(u, s.jobs.Completion),
		})
		if err != nil {
			return errors.Annotatef(err, "scheduling completion job for user %s", u)
		}
	}
	if state == migration.InProgress {
		err := s.config.Runner.Schedule(jobrunner.Job{
			Key:      jobrunner.Key{Namespace: namespace, ID: PauseJobID},
			Periodic: s.config.Tunables.PauseJobInterval,
			Run:      s.run(u, s.jobs.Pause),
		})
		if err != nil {
			return errors.Annotatef(err, "scheduling pause job for user %s", u)
		}
	}
	s.config.Logger.Debugf("scheduled migration timeout jobs for user %s in state %s", u, state)
	return nil
}

func (s *Scheduler) run(u user.ID, job func(context.Context, StateMachine) error) func(context.Context) error {
	return func(ctx context.Context) error {
		m, err := s.config.Machines.StateMachine(ctx, u)
		if err != nil {
			return errors.Trace(err)
		}
		return errors.Annotatef(job(ctx, m), "migration timeout job for user %s", u)
	}
}

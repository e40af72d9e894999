// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package migrationbroadcast

import (
	"context"
	"fmt"
	"time"

	"github.com/im7mortal/kmutex"
	"github.com/juju/errors"

	"github.com/juju/healthmigration/core/migration"
	"github.com/juju/healthmigration/core/user"
	migratorerrors "github.com/juju/healthmigration/domain/migrator/errors"
	"github.com/juju/healthmigration/internal/jobrunner"
	"github.com/juju/healthmigration/internal/tunables"
)

// NamespacePrefix prefixes the job namespace of every user.
const NamespacePrefix = "migration-broadcast"

// Namespace returns the job namespace holding the broadcast jobs of a
// user.
func Namespace(u user.ID) string {
	return fmt.Sprintf("%s/%s", NamespacePrefix, u)
}

// Logger is the logging interface used by the scheduler.
type Logger interface {
	Infof(string, ...any)
	Debugf(string, ...any)
	Errorf(string, ...any)
}

// JobRunner runs the scheduled broadcast jobs.
type JobRunner interface {
	Schedule(job jobrunner.Job) error
	CancelAll(namespace string)
	MinPeriodicInterval() time.Duration
}

// MigrationStates returns the migration state of a user.
type MigrationStates interface {
	GetState(ctx context.Context, u user.ID) (migration.State, error)
}

// Discovery resolves the package driving the migration.
type Discovery interface {
	ResolveCanonical(ctx context.Context) (string, error)
}

// Broadcaster notifies the migration driver that it may push data.
type Broadcaster interface {
	SendMigrationReady(ctx context.Context, pkg string, u user.ID) error
}

// Config holds the dependencies of a Scheduler.
type Config struct {
	Runner      JobRunner
	States      MigrationStates
	Discovery   Discovery
	Broadcaster Broadcaster
	Tunables    tunables.Config
	Logger      Logger
}

// Validate returns an error if the config cannot be used.
func (c Config) Validate() error {
	if c.Runner == nil {
		return errors.NotValidf("nil Runner")
	}
	if c.States == nil {
		return errors.NotValidf("nil States")
	}
	if c.Discovery == nil {
		return errors.NotValidf("nil Discovery")
	}
	if c.Broadcaster == nil {
		return errors.NotValidf("nil Broadcaster")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return errors.Trace(c.Tunables.Validate())
}

// Scheduler keeps the migration ready broadcasts of every user in step
// with the migration state.
type Scheduler struct {
	config Config
	locks  *kmutex.Kmutex
}

// NewScheduler returns a new broadcast scheduler.
func NewScheduler(config Config) (*Scheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Scheduler{
		config: config,
		locks:  kmutex.New(),
	}, nil
}

// ScheduleNewJobs replaces the broadcast jobs of the user with the ones
// due in the current migration state. The broadcasts due in a state are
// spread evenly over its timeout: as a single periodic job when the
// interval is long enough for the runner, otherwise as one-shot jobs.
//
// Nothing is scheduled when no driver can be resolved.
func (s *Scheduler) ScheduleNewJobs(ctx context.Context, u user.ID) error {
	s.locks.Lock(u)
	defer s.locks.Unlock(u)

	namespace := Namespace(u)
	s.config.Runner.CancelAll(namespace)

	if _, err := s.config.Discovery.ResolveCanonical(ctx); isDriverError(err) {
		s.config.Logger.Infof("not scheduling migration broadcasts for user %s: %v", u, err)
		return nil
	} else if err != nil {
		return errors.Annotate(err, "resolving migration driver")
	}

	state, err := s.config.States.GetState(ctx, u)
	if err != nil {
		return errors.Trace(err)
	}
	count, period := s.config.Tunables.BroadcastPlan(state)
	if count <= 0 || period <= 0 {
		s.config.Logger.Debugf("no migration broadcasts due for user %s in state %s", u, state)
		return nil
	}

	interval := period / time.Duration(count)
	run := func(ctx context.Context) error {
		return s.SendBroadcast(ctx, u)
	}

	if interval >= s.config.Runner.MinPeriodicInterval() {
		err := s.config.Runner.Schedule(jobrunner.Job{
			Key:      jobrunner.Key{Namespace: namespace, ID: "periodic"},
			Periodic: interval,
			Run:      run,
		})
		if err != nil {
			s.config.Logger.Errorf("scheduling periodic migration broadcast for user %s: %v", u, err)
			return errors.Trace(err)
		}
		s.config.Logger.Debugf("scheduled migration broadcast for user %s every %v", u, interval)
		return nil
	}

	for i := 0; i < count; i++ {
		err := s.config.Runner.Schedule(jobrunner.Job{
			Key:        jobrunner.Key{Namespace: namespace, ID: fmt.Sprintf("one-shot-%d", i)},
			MinLatency: interval * time.Duration(i),
			Run:        run,
		})
		if err != nil {
			s.config.Logger.Errorf("scheduling migration broadcast %d for user %s: %v", i, u, err)
			return errors.Trace(err)
		}
	}
	s.config.Logger.Debugf("scheduled %d migration broadcasts for user %s, %v apart", count, u, interval)
	return nil
}

// SendBroadcast tells the migration driver that it may push data, if the
// migration is still Allowed or InProgress. Failing to resolve the driver
// is an error.
func (s *Scheduler) SendBroadcast(ctx context.Context, u user.ID) error {
	state, err := s.config.States.GetState(ctx, u)
	if err != nil {
		return errors.Trace(err)
	}
	if !state.HasDeadline() {
		s.config.Logger.Debugf("skipping migration broadcast for user %s in state %s", u, state)
		return nil
	}

	pkg, err := s.config.Discovery.ResolveCanonical(ctx)
	if err != nil {
		return errors.Annotate(err, "resolving migration driver for broadcast")
	}
	return errors.Annotatef(s.config.Broadcaster.SendMigrationReady(ctx, pkg, u),
		"sending migration broadcast to %q", pkg)
}

func isDriverError(err error) bool {
	return errors.Is(err, migratorerrors.NoDriver) ||
		errors.Is(err, migratorerrors.AmbiguousDriver) ||
		errors.Is(err, migratorerrors.DriverNotWellKnown)
}

// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package migration wires the health data migration together. The
// Manager owns the per user state machines and the workers reacting to
// them, and exposes the entry points called by the migration driver.
package migration

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/catacomb"

	coredatabase "github.com/juju/healthmigration/core/database"
	coremigration "github.com/juju/healthmigration/core/migration"
	"github.com/juju/healthmigration/core/user"
	healthdataservice "github.com/juju/healthmigration/domain/healthdata/service"
	healthdatastate "github.com/juju/healthmigration/domain/healthdata/state"
	migrationservice "github.com/juju/healthmigration/domain/migration/service"
	migrationstate "github.com/juju/healthmigration/domain/migration/state"
	migratorservice "github.com/juju/healthmigration/domain/migrator/service"
	permissionservice "github.com/juju/healthmigration/domain/permission/service"
	permissionstate "github.com/juju/healthmigration/domain/permission/state"
	priorityservice "github.com/juju/healthmigration/domain/priority/service"
	prioritystate "github.com/juju/healthmigration/domain/priority/state"
	"github.com/juju/healthmigration/internal/jobrunner"
	"github.com/juju/healthmigration/internal/migrationui"
	"github.com/juju/healthmigration/internal/tunables"
	"github.com/juju/healthmigration/internal/worker/migrationbroadcast"
	"github.com/juju/healthmigration/internal/worker/migrationtimeout"
	"github.com/juju/healthmigration/internal/worker/packagechanges"
)

// Logger is the logging interface used by the manager and the workers it
// starts.
type Logger interface {
	Infof(string, ...any)
	Debugf(string, ...any)
	Warningf(string, ...any)
	Errorf(string, ...any)
}

// Config holds the dependencies of a Manager.
type Config struct {
	// DB yields the database every domain state is stored in.
	DB coredatabase.TxnRunnerFactory

	Clock    clock.Clock
	Tunables tunables.Config

	// Registry answers questions about the installed packages.
	Registry migratorservice.PackageRegistry

	// Broadcaster tells the migration driver it may push data.
	Broadcaster migrationbroadcast.Broadcaster

	// Notifier posts the user facing migration notifications.
	Notifier migrationui.Notifier

	// PackageWatcher and Users are optional. When both are set, package
	// changes of the foreground user are fed to PackageChanged.
	PackageWatcher packagechanges.PackageWatcher
	Users          packagechanges.UserTracker

	// MinPeriodicInterval overrides the job runner default when set.
	MinPeriodicInterval time.Duration

	// Metrics is optional.
	Metrics *Collector

	Logger Logger
}

// Validate returns an error if the config cannot be used.
func (c Config) Validate() error {
	if c.DB == nil {
		return errors.NotValidf("nil DB")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if c.Registry == nil {
		return errors.NotValidf("nil Registry")
	}
	if c.Broadcaster == nil {
		return errors.NotValidf("nil Broadcaster")
	}
	if c.Notifier == nil {
		return errors.NotValidf("nil Notifier")
	}
	if (c.PackageWatcher == nil) != (c.Users == nil) {
		return errors.NotValidf("PackageWatcher without Users")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return errors.Trace(c.Tunables.Validate())
}

type userMigration struct {
	machine   *migrationservice.Service
	projector *migrationui.Projector
}

// Manager is a worker owning the health data migration of every user on
// the device.
type Manager struct {
	catacomb catacomb.Catacomb
	config   Config
	metrics  *Collector

	migrationState *migrationstate.State
	discovery      *migratorservice.Service
	priorities     *priorityservice.Service
	permissions    *permissionservice.Service
	healthdata     *healthdataservice.Service

	runner     *jobrunner.Runner
	broadcasts *migrationbroadcast.Scheduler
	timeouts   *migrationtimeout.Scheduler

	mu    sync.Mutex
	users map[user.ID]*userMigration
}

// NewManager starts a new migration manager.
func NewManager(config Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = NewMetricsCollector()
	}

	runner, err := jobrunner.NewRunner(jobrunner.Config{
		Clock:               config.Clock,
		Logger:              config.Logger,
		MinPeriodicInterval: config.MinPeriodicInterval,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	priorities := priorityservice.NewService(prioritystate.NewState(config.DB))
	permissions := permissionservice.NewService(permissionstate.NewState(config.DB))
	m := &Manager{
		config:         config,
		metrics:        metrics,
		migrationState: migrationstate.NewState(config.DB),
		discovery:      migratorservice.NewService(config.Registry, config.Tunables.WellKnownPackage),
		priorities:     priorities,
		permissions:    permissions,
		healthdata: healthdataservice.NewService(
			healthdatastate.NewState(config.DB),
			permissions,
			config.Registry,
			priorities,
			config.Clock,
		),
		runner: runner,
		users:  make(map[user.ID]*userMigration),
	}

	if m.broadcasts, err = migrationbroadcast.NewScheduler(migrationbroadcast.Config{
		Runner:      runner,
		States:      m,
		Discovery:   m.discovery,
		Broadcaster: config.Broadcaster,
		Tunables:    config.Tunables,
		Logger:      config.Logger,
	}); err != nil {
		return nil, stopOnError(runner, err)
	}
	if m.timeouts, err = migrationtimeout.NewScheduler(migrationtimeout.Config{
		Runner:   runner,
		Machines: timeoutMachines{m},
		Clock:    config.Clock,
		Tunables: config.Tunables,
		Logger:   config.Logger,
	}); err != nil {
		return nil, stopOnError(runner, err)
	}

	if err := catacomb.Invoke(catacomb.Plan{
		Site: &m.catacomb,
		Work: m.loop,
		Init: []worker.Worker{runner},
	}); err != nil {
		return nil, stopOnError(runner, err)
	}

	// The receiver calls back into the manager, so it only starts once
	// the manager is running.
	if config.PackageWatcher != nil {
		receiver, err := packagechanges.NewWorker(packagechanges.Config{
			Watcher: config.PackageWatcher,
			Users:   config.Users,
			Handler: m,
			Logger:  config.Logger,
		})
		if err == nil {
			err = m.catacomb.Add(receiver)
		}
		if err != nil {
			m.Kill()
			_ = m.Wait()
			return nil, errors.Trace(err)
		}
	}
	return m, nil
}

func stopOnError(w worker.Worker, err error) error {
	_ = worker.Stop(w)
	return errors.Trace(err)
}

// Kill is part of the worker.Worker interface.
func (m *Manager) Kill() {
	m.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (m *Manager) Wait() error {
	return m.catacomb.Wait()
}

func (m *Manager) loop() error {
	<-m.catacomb.Dying()
	return m.catacomb.ErrDying()
}

// Metrics returns the collector the manager reports to.
func (m *Manager) Metrics() *Collector {
	return m.metrics
}

// StateMachine returns the migration state machine of the user, creating
// and initialising it on first use. A new state machine gets its UI
// projector and its scheduled jobs before it is returned.
func (m *Manager) StateMachine(ctx context.Context, u user.ID) (*migrationservice.Service, error) {
	m.mu.Lock()
	if um, ok := m.users[u]; ok {
		m.mu.Unlock()
		return um.machine, nil
	}
	um, err := m.newUserMigration(ctx, u)
	if err != nil {
		m.mu.Unlock()
		return nil, errors.Annotatef(err, "starting migration for user %s", u)
	}
	m.users[u] = um
	m.mu.Unlock()

	// Scheduling reads the state machine back through the manager, so it
	// must happen once the user is registered.
	m.reschedule(ctx, u)
	return um.machine, nil
}

func (m *Manager) newUserMigration(ctx context.Context, u user.ID) (*userMigration, error) {
	select {
	case <-m.catacomb.Dying():
		return nil, m.catacomb.ErrDying()
	default:
	}

	machine, err := migrationservice.NewService(migrationservice.Config{
		State:               m.migrationState,
		User:                u,
		Clock:               m.config.Clock,
		AllowedStateTimeout: m.config.Tunables.NonIdleStateTimeout,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := machine.Init(ctx); err != nil {
		return nil, errors.Trace(err)
	}
	machine.AddListener(m.transitionListener(u))

	projector, err := migrationui.NewProjector(migrationui.Config{
		User:             u,
		Machine:          machine,
		Drivers:          m.discovery,
		Notifier:         m.config.Notifier,
		MaxStartAttempts: m.config.Tunables.MaxStartMigrationCalls,
		Logger:           m.config.Logger,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := m.catacomb.Add(projector); err != nil {
		return nil, errors.Trace(err)
	}
	return &userMigration{machine: machine, projector: projector}, nil
}

// transitionListener keeps the metrics, the priority snapshot and the
// scheduled jobs in step with every transition of the user's migration.
func (m *Manager) transitionListener(u user.ID) migrationservice.Listener {
	return migrationservice.ListenerFunc(func(ctx context.Context, t coremigration.Transition) error {
		m.metrics.transitioned(t)

		var result error
		if t.To.IsTerminal() {
			if err := m.priorities.Clear(ctx); err != nil {
				result = errors.Annotate(err, "clearing pre-migration priority")
			}
		}
		m.reschedule(ctx, u)
		return result
	})
}

func (m *Manager) reschedule(ctx context.Context, u user.ID) {
	if err := m.broadcasts.ScheduleNewJobs(ctx, u); err != nil {
		m.config.Logger.Errorf("scheduling migration broadcasts for user %s: %v", u, err)
	}
	if err := m.timeouts.Reschedule(ctx, u); err != nil {
		m.config.Logger.Errorf("scheduling migration timeouts for user %s: %v", u, err)
	}
}

// GetState returns the migration state of the user.
func (m *Manager) GetState(ctx context.Context, u user.ID) (coremigration.State, error) {
	machine, err := m.StateMachine(ctx, u)
	if err != nil {
		return "", errors.Trace(err)
	}
	return machine.GetState(ctx)
}

// UIState projects the migration state of the user as shown to them.
func (m *Manager) UIState(ctx context.Context, u user.ID) (coremigration.UIState, error) {
	if _, err := m.StateMachine(ctx, u); err != nil {
		return "", errors.Trace(err)
	}
	m.mu.Lock()
	projector := m.users[u].projector
	m.mu.Unlock()

	ui, err := projector.Refresh(ctx)
	return ui, errors.Trace(err)
}

// timeoutMachines hands the user state machines to the timeout jobs.
type timeoutMachines struct {
	m *Manager
}

func (t timeoutMachines) StateMachine(ctx context.Context, u user.ID) (migrationtimeout.StateMachine, error) {
	machine, err := t.m.StateMachine(ctx, u)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return machine, nil
}

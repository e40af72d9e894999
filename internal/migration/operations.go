// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package migration

import (
	"context"

	"github.com/juju/errors"

	coremigration "github.com/juju/healthmigration/core/migration"
	"github.com/juju/healthmigration/core/packages"
	"github.com/juju/healthmigration/core/user"
	"github.com/juju/healthmigration/domain/healthdata"
	"github.com/juju/healthmigration/domain/priority"
)

// Start moves the migration of the user to InProgress, taking the
// pre-migration priority snapshot first. Starting a migration already in
// progress does nothing. Once the driver has used up its start attempts
// the migration is completed instead, and an error satisfying
// [migrationerrors.MaxStartAttemptsReached] is returned.
func (m *Manager) Start(ctx context.Context, u user.ID) error {
	machine, err := m.StateMachine(ctx, u)
	if err != nil {
		return errors.Trace(err)
	}
	if err := machine.ValidateCanStart(ctx); err != nil {
		return errors.Trace(err)
	}
	m.metrics.started()

	// The budget check, the snapshot and the transition happen under the
	// state machine lock so that concurrent starts are counted once.
	return errors.Trace(machine.StartMigration(ctx, m.config.Tunables.MaxStartMigrationCalls, func(ctx context.Context) error {
		return errors.Annotate(m.priorities.SnapshotOnce(ctx), "taking pre-migration priority snapshot")
	}))
}

// Finish completes the migration of the user.
func (m *Manager) Finish(ctx context.Context, u user.ID) error {
	machine, err := m.StateMachine(ctx, u)
	if err != nil {
		return errors.Trace(err)
	}
	if err := machine.ValidateCanFinish(ctx); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(machine.Transition(ctx, coremigration.Complete, false))
}

// WriteBatch applies a batch of migrated entities. The migration must be
// in progress.
func (m *Manager) WriteBatch(ctx context.Context, u user.ID, entities []healthdata.MigrationEntity) error {
	machine, err := m.StateMachine(ctx, u)
	if err != nil {
		return errors.Trace(err)
	}
	if err := machine.ValidateCanWrite(ctx); err != nil {
		return errors.Trace(err)
	}

	err = m.healthdata.Apply(ctx, u, entities)
	m.metrics.applied(len(entities), err)
	return errors.Trace(err)
}

// SetMinRequiredVersion records the minimum module version the driver
// needs. A version above the installed module version requires a module
// upgrade, one at or below it lifts an earlier upgrade requirement.
func (m *Manager) SetMinRequiredVersion(ctx context.Context, u user.ID, version int) error {
	machine, err := m.StateMachine(ctx, u)
	if err != nil {
		return errors.Trace(err)
	}
	if err := machine.ValidateCanSetMinVersion(ctx); err != nil {
		return errors.Trace(err)
	}
	if err := machine.SetMinSDKExtensionVersion(ctx, version); err != nil {
		return errors.Trace(err)
	}

	state, err := machine.GetState(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	supported := version <= m.config.Tunables.ModuleSDKExtensionVersion
	switch {
	case !supported && state != coremigration.ModuleUpgradeRequired:
		return errors.Trace(machine.Transition(ctx, coremigration.ModuleUpgradeRequired, false))
	case supported && state == coremigration.ModuleUpgradeRequired:
		return errors.Trace(machine.Transition(ctx, coremigration.Allowed, false))
	}
	return nil
}

// PackageChanged re-evaluates the migration of the event's user after a
// package change. Only changes to the migration driver move the
// migration:
//   - removing it completes any unfinished migration
//   - installing or changing it while Idle allows the migration, or asks
//     for an app upgrade when it cannot show the migration info
//   - changing it while an app upgrade is required allows the migration
//     once it can show the migration info
//
// The UI state is projected again after every change.
func (m *Manager) PackageChanged(ctx context.Context, event packages.Event) error {
	u := event.User
	machine, err := m.StateMachine(ctx, u)
	if err != nil {
		return errors.Trace(err)
	}

	isMigrator, err := m.discovery.IsMigratorPackage(ctx, event.Package)
	if err != nil {
		return errors.Trace(err)
	}
	if isMigrator {
		if err := m.migratorChanged(ctx, machine, event); err != nil {
			return errors.Annotatef(err, "handling %s", event)
		}
	}

	_, err = m.UIState(ctx, u)
	return errors.Trace(err)
}

type stateMachine interface {
	GetState(ctx context.Context) (coremigration.State, error)
	Transition(ctx context.Context, to coremigration.State, isTimeout bool) error
}

func (m *Manager) migratorChanged(ctx context.Context, machine stateMachine, event packages.Event) error {
	state, err := machine.GetState(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if state.IsTerminal() {
		return nil
	}

	if event.Kind == packages.Removed {
		m.config.Logger.Infof("migration driver %q removed for user %s, completing migration", event.Package, event.User)
		return errors.Trace(machine.Transition(ctx, coremigration.Complete, false))
	}

	if state != coremigration.Idle && state != coremigration.AppUpgradeRequired {
		// The driver may have changed enough to be resolved differently.
		if err := m.broadcasts.ScheduleNewJobs(ctx, event.User); err != nil {
			m.config.Logger.Errorf("scheduling migration broadcasts for user %s: %v", event.User, err)
		}
		return nil
	}

	driver, err := m.discovery.DriverStatus(ctx, event.User)
	if err != nil {
		return errors.Trace(err)
	}
	switch {
	case driver.HandlesRequest:
		return errors.Trace(machine.Transition(ctx, coremigration.Allowed, false))
	case state == coremigration.Idle && driver.Present:
		return errors.Trace(machine.Transition(ctx, coremigration.AppUpgradeRequired, false))
	}
	return nil
}

// Reset is an administrative action that returns the migration of the
// user to Idle, clearing its counters and the pre-migration priority
// snapshot so a new migration epoch can begin.
func (m *Manager) Reset(ctx context.Context, u user.ID) error {
	machine, err := m.StateMachine(ctx, u)
	if err != nil {
		return errors.Trace(err)
	}
	if err := m.priorities.Clear(ctx); err != nil {
		return errors.Annotate(err, "clearing pre-migration priority")
	}
	return errors.Trace(machine.Reset(ctx))
}

// Priority returns the data source priority of a category, pre-migration
// sources first.
func (m *Manager) Priority(ctx context.Context, category priority.Category) (priority.Order, error) {
	order, err := m.priorities.MergedPriority(ctx, category)
	return order, errors.Trace(err)
}

// GrantedPermissions returns the permissions held by a package for the
// user.
func (m *Manager) GrantedPermissions(ctx context.Context, u user.ID, pkg string) ([]string, error) {
	perms, err := m.permissions.Permissions(ctx, pkg, u)
	return perms, errors.Trace(err)
}

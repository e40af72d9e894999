// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package migrationui

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	jujutesting "github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/juju/worker/v4/workertest"
	"go.uber.org/mock/gomock"
	gc "gopkg.in/check.v1"

	"github.com/juju/healthmigration/core/migration"
	"github.com/juju/healthmigration/core/user"
	"github.com/juju/healthmigration/domain/migrator"
)

const testUser = user.ID(3)

type projectorSuite struct {
	jujutesting.IsolationSuite

	machine  *MockStateMachine
	drivers  *MockDriverStatusGetter
	notifier *MockNotifier

	handlers chan func(migration.Transition)
	done     chan struct{}
}

var _ = gc.Suite(&projectorSuite{})

func (s *projectorSuite) setupMocks(c *gc.C) *gomock.Controller {
	ctrl := gomock.NewController(c)
	s.machine = NewMockStateMachine(ctrl)
	s.drivers = NewMockDriverStatusGetter(ctrl)
	s.notifier = NewMockNotifier(ctrl)

	s.handlers = make(chan func(migration.Transition), 1)
	s.done = make(chan struct{}, 10)
	s.machine.EXPECT().Subscribe(gomock.Any()).DoAndReturn(func(handler func(migration.Transition)) func() {
		s.handlers <- handler
		return func() {}
	})
	return ctrl
}

func (s *projectorSuite) newProjector(c *gc.C) *Projector {
	p, err := NewProjector(Config{
		User:             testUser,
		Machine:          s.machine,
		Drivers:          s.drivers,
		Notifier:         s.notifier,
		MaxStartAttempts: 3,
		Logger:           loggo.GetLogger("test"),
	})
	c.Assert(err, jc.ErrorIsNil)
	return p
}

func (s *projectorSuite) expectInputs(counters migration.Counters, driver migrator.DriverStatus) {
	s.machine.EXPECT().Counters(gomock.Any()).Return(counters, nil)
	s.drivers.EXPECT().DriverStatus(gomock.Any(), testUser).Return(driver, nil)
}

func (s *projectorSuite) expectNotify(kind migration.NotificationKind) {
	s.notifier.EXPECT().Notify(gomock.Any(), testUser, kind).DoAndReturn(
		func(context.Context, user.ID, migration.NotificationKind) error {
			s.done <- struct{}{}
			return nil
		})
}

func (s *projectorSuite) expectClear() {
	s.notifier.EXPECT().ClearNotifications(gomock.Any(), testUser).DoAndReturn(
		func(context.Context, user.ID) error {
			s.done <- struct{}{}
			return nil
		})
}

func (s *projectorSuite) waitDone(c *gc.C) {
	select {
	case <-s.done:
	case <-time.After(longWait):
		c.Fatalf("timed out waiting for projection")
	}
}

func (s *projectorSuite) handler(c *gc.C) func(migration.Transition) {
	select {
	case h := <-s.handlers:
		return h
	case <-time.After(longWait):
		c.Fatalf("projector did not subscribe")
	}
	panic("unreachable")
}

func (s *projectorSuite) TestValidateConfig(c *gc.C) {
	_, err := NewProjector(Config{})
	c.Assert(err, jc.ErrorIs, errors.NotValid)
}

func (s *projectorSuite) TestInitialProjectionClears(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.machine.EXPECT().GetState(gomock.Any()).Return(migration.Idle, nil)
	s.expectInputs(migration.Counters{}, migrator.DriverStatus{})
	s.expectClear()

	p := s.newProjector(c)
	defer workertest.CleanKill(c, p)

	s.waitDone(c)
	c.Check(p.UIState(), gc.Equals, migration.UIIdle)
}

func (s *projectorSuite) TestTransitionToPausedNotifies(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.machine.EXPECT().GetState(gomock.Any()).Return(migration.InProgress, nil)
	s.expectInputs(migration.Counters{StartsCount: 1}, migrator.DriverStatus{Present: true, HandlesRequest: true})
	s.expectClear()

	p := s.newProjector(c)
	defer workertest.CleanKill(c, p)
	handler := s.handler(c)
	s.waitDone(c)
	c.Check(p.UIState(), gc.Equals, migration.UIInProgress)

	s.expectInputs(
		migration.Counters{StartsCount: 1, InProgressTimeoutReached: true},
		migrator.DriverStatus{Present: true, HandlesRequest: true},
	)
	s.expectNotify(migration.NotificationMigrationPaused)

	handler(migration.Transition{Seq: 1, From: migration.InProgress, To: migration.Allowed, IsTimeout: true})
	s.waitDone(c)
	c.Check(p.UIState(), gc.Equals, migration.UIAllowedPaused)
}

func (s *projectorSuite) TestTransitionsProjectedInOrder(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.machine.EXPECT().GetState(gomock.Any()).Return(migration.Idle, nil)
	s.expectInputs(migration.Counters{}, migrator.DriverStatus{Present: true})
	s.expectClear()

	p := s.newProjector(c)
	defer workertest.CleanKill(c, p)
	handler := s.handler(c)
	s.waitDone(c)

	gomock.InOrder(
		s.notifier.EXPECT().Notify(gomock.Any(), testUser, migration.NotificationAppUpdateNeeded).Return(nil),
		s.notifier.EXPECT().ClearNotifications(gomock.Any(), testUser).DoAndReturn(
			func(context.Context, user.ID) error {
				s.done <- struct{}{}
				return nil
			}),
	)
	s.machine.EXPECT().Counters(gomock.Any()).Return(migration.Counters{}, nil).Times(2)
	s.drivers.EXPECT().DriverStatus(gomock.Any(), testUser).Return(migrator.DriverStatus{Present: true}, nil).Times(2)

	handler(migration.Transition{Seq: 1, From: migration.Idle, To: migration.AppUpgradeRequired})
	handler(migration.Transition{Seq: 2, From: migration.AppUpgradeRequired, To: migration.Allowed})
	s.waitDone(c)
	c.Check(p.UIState(), gc.Equals, migration.UIAllowedDriverDisabled)
}

func (s *projectorSuite) TestRefresh(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.machine.EXPECT().GetState(gomock.Any()).Return(migration.Complete, nil).Times(2)
	s.expectInputs(migration.Counters{}, migrator.DriverStatus{})
	s.expectClear()

	p := s.newProjector(c)
	defer workertest.CleanKill(c, p)
	s.waitDone(c)

	s.expectInputs(migration.Counters{IdleTimeoutReached: true}, migrator.DriverStatus{})
	s.expectClear()

	ui, err := p.Refresh(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(ui, gc.Equals, migration.UICompleteIdle)
	s.waitDone(c)
}

func (s *projectorSuite) TestRefreshWaitsForTransitionProjection(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.machine.EXPECT().GetState(gomock.Any()).Return(migration.Idle, nil)
	s.expectInputs(migration.Counters{}, migrator.DriverStatus{Present: true})
	s.expectClear()

	p := s.newProjector(c)
	defer workertest.CleanKill(c, p)
	handler := s.handler(c)
	s.waitDone(c)

	entered := make(chan struct{})
	release := make(chan struct{})
	gomock.InOrder(
		s.machine.EXPECT().Counters(gomock.Any()).Return(migration.Counters{}, nil),
		s.drivers.EXPECT().DriverStatus(gomock.Any(), testUser).DoAndReturn(
			func(context.Context, user.ID) (migrator.DriverStatus, error) {
				close(entered)
				<-release
				return migrator.DriverStatus{Present: true}, nil
			}),
		s.notifier.EXPECT().Notify(gomock.Any(), testUser, migration.NotificationAppUpdateNeeded).Return(nil),
		s.machine.EXPECT().GetState(gomock.Any()).Return(migration.Allowed, nil),
		s.machine.EXPECT().Counters(gomock.Any()).Return(migration.Counters{}, nil),
		s.drivers.EXPECT().DriverStatus(gomock.Any(), testUser).Return(migrator.DriverStatus{Present: true}, nil),
		s.notifier.EXPECT().ClearNotifications(gomock.Any(), testUser).Return(nil),
	)

	handler(migration.Transition{Seq: 1, From: migration.Idle, To: migration.AppUpgradeRequired})
	select {
	case <-entered:
	case <-time.After(longWait):
		c.Fatalf("transition not projected")
	}

	type result struct {
		ui  migration.UIState
		err error
	}
	refreshed := make(chan result, 1)
	go func() {
		ui, err := p.Refresh(context.Background())
		refreshed <- result{ui: ui, err: err}
	}()
	select {
	case <-refreshed:
		c.Fatalf("refresh projected while a transition was being projected")
	case <-time.After(shortWait):
	}

	close(release)
	select {
	case r := <-refreshed:
		c.Assert(r.err, jc.ErrorIsNil)
		c.Check(r.ui, gc.Equals, migration.UIAllowedDriverDisabled)
	case <-time.After(longWait):
		c.Fatalf("timed out waiting for refresh")
	}
	c.Check(p.UIState(), gc.Equals, migration.UIAllowedDriverDisabled)
}

func (s *projectorSuite) TestRefreshAfterKill(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.machine.EXPECT().GetState(gomock.Any()).Return(migration.Idle, nil)
	s.expectInputs(migration.Counters{}, migrator.DriverStatus{})
	s.expectClear()

	p := s.newProjector(c)
	s.waitDone(c)
	workertest.CleanKill(c, p)

	_, err := p.Refresh(context.Background())
	c.Check(err, gc.ErrorMatches, "tomb: dying")
}

func (s *projectorSuite) TestProjectionErrorIsNotFatal(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.machine.EXPECT().GetState(gomock.Any()).Return(migration.Idle, nil)
	s.machine.EXPECT().Counters(gomock.Any()).Return(migration.Counters{}, errors.New("boom"))

	p := s.newProjector(c)
	defer workertest.CleanKill(c, p)
	handler := s.handler(c)

	s.expectInputs(migration.Counters{}, migrator.DriverStatus{})
	s.expectNotify(migration.NotificationModuleUpdateNeeded)

	handler(migration.Transition{Seq: 1, From: migration.Idle, To: migration.ModuleUpgradeRequired})
	s.waitDone(c)
	workertest.CheckAlive(c, p)
}

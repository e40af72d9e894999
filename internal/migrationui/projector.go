// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package migrationui

import (
	"context"
	"sync"

	"github.com/juju/errors"
	"github.com/juju/worker/v4/catacomb"

	"github.com/juju/healthmigration/core/migration"
	"github.com/juju/healthmigration/core/user"
	"github.com/juju/healthmigration/domain/migrator"
)

// StateMachine is the part of the migration state machine of a single user
// the projector reads.
type StateMachine interface {
	GetState(ctx context.Context) (migration.State, error)
	Counters(ctx context.Context) (migration.Counters, error)
	Subscribe(handler func(migration.Transition)) func()
}

// DriverStatusGetter reports the health of the migration driver.
type DriverStatusGetter interface {
	DriverStatus(ctx context.Context, u user.ID) (migrator.DriverStatus, error)
}

// Notifier posts and clears the migration notifications of a user.
type Notifier interface {
	Notify(ctx context.Context, u user.ID, kind migration.NotificationKind) error
	ClearNotifications(ctx context.Context, u user.ID) error
}

// Logger is the logging interface used by the projector.
type Logger interface {
	Debugf(string, ...any)
	Errorf(string, ...any)
}

// Config holds the dependencies of a Projector.
type Config struct {
	User             user.ID
	Machine          StateMachine
	Drivers          DriverStatusGetter
	Notifier         Notifier
	MaxStartAttempts int
	Logger           Logger
}

// Validate returns an error if the config cannot be used.
func (c Config) Validate() error {
	if c.Machine == nil {
		return errors.NotValidf("nil Machine")
	}
	if c.Drivers == nil {
		return errors.NotValidf("nil Drivers")
	}
	if c.Notifier == nil {
		return errors.NotValidf("nil Notifier")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	if c.MaxStartAttempts <= 0 {
		return errors.NotValidf("non-positive MaxStartAttempts")
	}
	return errors.Trace(c.User.Validate())
}

type refresh struct {
	ctx   context.Context
	reply chan refreshResult
}

type refreshResult struct {
	ui  migration.UIState
	err error
}

// Projector is a worker that re-projects the UI state on every migration
// transition, in the order the transitions were written.
type Projector struct {
	catacomb catacomb.Catacomb
	config   Config

	transitions chan migration.Transition
	refreshes   chan refresh

	mu      sync.Mutex
	current migration.UIState
}

// NewProjector starts a projector subscribed to the state machine.
func NewProjector(config Config) (*Projector, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	p := &Projector{
		config:      config,
		transitions: make(chan migration.Transition),
		refreshes:   make(chan refresh),
	}
	if err := catacomb.Invoke(catacomb.Plan{
		Site: &p.catacomb,
		Work: p.loop,
	}); err != nil {
		return nil, errors.Trace(err)
	}
	return p, nil
}

// Kill is part of the worker.Worker interface.
func (p *Projector) Kill() {
	p.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (p *Projector) Wait() error {
	return p.catacomb.Wait()
}

// UIState returns the last projected UI state.
func (p *Projector) UIState() migration.UIState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Refresh projects the current migration state. It is used when
// something other than a transition, such as a package change, may have
// changed the UI state. The projection is made by the worker loop, so it
// is never interleaved with the projection of a transition.
func (p *Projector) Refresh(ctx context.Context) (migration.UIState, error) {
	req := refresh{ctx: ctx, reply: make(chan refreshResult, 1)}
	select {
	case p.refreshes <- req:
	case <-p.catacomb.Dying():
		return "", p.catacomb.ErrDying()
	case <-ctx.Done():
		return "", errors.Trace(ctx.Err())
	}
	select {
	case res := <-req.reply:
		return res.ui, errors.Trace(res.err)
	case <-p.catacomb.Dying():
		return "", p.catacomb.ErrDying()
	case <-ctx.Done():
		return "", errors.Trace(ctx.Err())
	}
}

func (p *Projector) loop() error {
	// The hub calls the handler on its own goroutine, one transition at a
	// time, so the channel preserves the write order.
	unsubscribe := p.config.Machine.Subscribe(func(t migration.Transition) {
		select {
		case p.transitions <- t:
		case <-p.catacomb.Dying():
		}
	})
	defer unsubscribe()

	ctx := p.catacomb.Context(context.Background())
	if _, err := p.refresh(ctx); err != nil {
		p.config.Logger.Errorf("projecting initial migration ui state for user %s: %v", p.config.User, err)
	}

	for {
		select {
		case <-p.catacomb.Dying():
			return p.catacomb.ErrDying()
		case req := <-p.refreshes:
			ui, err := p.refresh(req.ctx)
			req.reply <- refreshResult{ui: ui, err: err}
		case t := <-p.transitions:
			if _, err := p.project(ctx, t.To); err != nil {
				p.config.Logger.Errorf("projecting migration ui state after %s -> %s: %v", t.From, t.To, err)
			}
		}
	}
}

func (p *Projector) refresh(ctx context.Context) (migration.UIState, error) {
	state, err := p.config.Machine.GetState(ctx)
	if err != nil {
		return "", errors.Trace(err)
	}
	return p.project(ctx, state)
}

func (p *Projector) project(ctx context.Context, state migration.State) (migration.UIState, error) {
	counters, err := p.config.Machine.Counters(ctx)
	if err != nil {
		return "", errors.Trace(err)
	}
	driver, err := p.config.Drivers.DriverStatus(ctx, p.config.User)
	if err != nil {
		return "", errors.Annotate(err, "reading migration driver status")
	}

	ui := Project(Inputs{
		State:                state,
		StartsCount:          counters.StartsCount,
		DriverPresent:        driver.Present,
		DriverHandlesRequest: driver.HandlesRequest,
		InProgressTimedOut:   counters.InProgressTimeoutReached,
		IdleTimedOut:         counters.IdleTimeoutReached,
	}, p.config.MaxStartAttempts)

	p.mu.Lock()
	p.current = ui
	p.mu.Unlock()
	p.config.Logger.Debugf("migration ui state for user %s is %s", p.config.User, ui)

	if kind, ok := Notification(ui); ok {
		return ui, errors.Annotatef(p.config.Notifier.Notify(ctx, p.config.User, kind), "sending %s notification", kind)
	}
	return ui, errors.Annotate(p.config.Notifier.ClearNotifications(ctx, p.config.User), "clearing migration notifications")
}

// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package service

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/pubsub/v2"

	"github.com/juju/healthmigration/core/migration"
	"github.com/juju/healthmigration/core/user"
	domainmigration "github.com/juju/healthmigration/domain/migration"
	migrationerrors "github.com/juju/healthmigration/domain/migration/errors"
)

// TransitionTopic is the hub topic on which every applied transition is
// published, in the order the transitions were written.
const TransitionTopic = "healthmigration.migration.transition"

var logger = loggo.GetLogger("healthmigration.migration.service")

// State describes retrieval and persistence methods for the migration
// key/value store.
type State interface {
	// Get returns the value of key, or an error satisfying
	// [migrationerrors.KeyNotFound].
	Get(ctx context.Context, u user.ID, key string) (string, error)

	// GetAll returns every key persisted for the user.
	GetAll(ctx context.Context, u user.ID) (map[string]string, error)

	// Set upserts values and removes the keys in remove atomically.
	Set(ctx context.Context, u user.ID, values map[string]string, remove ...string) error

	// DeleteAll removes every key persisted for the user.
	DeleteAll(ctx context.Context, u user.ID) error
}

// Listener is notified synchronously of every applied transition, before
// Transition returns. Listeners must not call back into Transition.
type Listener interface {
	MigrationStateChanged(ctx context.Context, t migration.Transition) error
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(ctx context.Context, t migration.Transition) error

// MigrationStateChanged implements Listener.
func (f ListenerFunc) MigrationStateChanged(ctx context.Context, t migration.Transition) error {
	return f(ctx, t)
}

// Config holds the dependencies of a Service.
type Config struct {
	// State is the persistent store.
	State State

	// User is the user whose migration this service drives.
	User user.ID

	// Clock supplies the transition timestamps.
	Clock clock.Clock

	// AllowedStateTimeout bounds the total time spent in Allowed and
	// InProgress, measured from when Allowed is first entered.
	AllowedStateTimeout time.Duration

	// Hub receives every applied transition. A private hub is created
	// when nil.
	Hub *pubsub.SimpleHub
}

// Validate returns an error if the config cannot drive a Service.
func (c Config) Validate() error {
	if c.State == nil {
		return errors.NotValidf("nil State")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if c.AllowedStateTimeout <= 0 {
		return errors.NotValidf("non-positive AllowedStateTimeout")
	}
	return errors.Trace(c.User.Validate())
}

// Service is the migration state machine for a single user. Every
// transition is serialised under a single lock and fanned out to the
// registered listeners before Transition returns.
type Service struct {
	st             State
	user           user.ID
	clock          clock.Clock
	allowedTimeout time.Duration
	hub            *pubsub.SimpleHub

	mu  sync.Mutex
	seq uint64

	listenerMu sync.RWMutex
	listeners  []Listener
}

// NewService returns a new state machine for the configured user.
func NewService(config Config) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	hub := config.Hub
	if hub == nil {
		hub = pubsub.NewSimpleHub(&pubsub.SimpleHubConfig{
			Logger: logger,
		})
	}
	return &Service{
		st:             config.State,
		user:           config.User,
		clock:          config.Clock,
		allowedTimeout: config.AllowedStateTimeout,
		hub:            hub,
	}, nil
}

// User returns the user whose migration is driven by the service.
func (s *Service) User() user.ID {
	return s.user
}

// Init persists the Idle state if no state has been written yet.
func (s *Service) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.st.Get(ctx, s.user, domainmigration.KeyState)
	if err == nil {
		return nil
	} else if !errors.Is(err, migrationerrors.KeyNotFound) {
		return errors.Annotate(err, "initialising migration state")
	}

	err = s.st.Set(ctx, s.user, map[string]string{
		domainmigration.KeyState: migration.Idle.String(),
	})
	return errors.Annotate(err, "initialising migration state")
}

// Reset is an administrative action that removes every persisted key,
// including the counters, returning the machine to Idle. It is the only
// way out of Complete.
func (s *Service) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	from, err := s.getState(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if err := s.st.DeleteAll(ctx, s.user); err != nil {
		return errors.Annotate(err, "resetting migration state")
	}
	logger.Infof("migration state for user %s reset from %s", s.user, from)

	s.applied(ctx, from, migration.Idle, false, s.clock.Now().UTC())
	return nil
}

// GetState returns the current migration state. A user without any
// persisted state is Idle.
func (s *Service) GetState(ctx context.Context) (migration.State, error) {
	return s.getState(ctx)
}

func (s *Service) getState(ctx context.Context) (migration.State, error) {
	value, err := s.st.Get(ctx, s.user, domainmigration.KeyState)
	if errors.Is(err, migrationerrors.KeyNotFound) {
		return migration.Idle, nil
	} else if err != nil {
		return "", errors.Annotate(err, "getting migration state")
	}
	state, err := migration.ParseState(value)
	return state, errors.Trace(err)
}

// ValidateCanStart returns an error satisfying
// [migrationerrors.InvalidStateTransition] if the migration cannot be
// started.
func (s *Service) ValidateCanStart(ctx context.Context) error {
	return s.validateNotComplete(ctx, "start migration")
}

// ValidateCanSetMinVersion returns an error satisfying
// [migrationerrors.InvalidStateTransition] if the minimum module version
// can no longer be set.
func (s *Service) ValidateCanSetMinVersion(ctx context.Context) error {
	return s.validateNotComplete(ctx, "set minimum version")
}

// ValidateCanFinish returns an error satisfying
// [migrationerrors.InvalidStateTransition] unless the migration is
// Allowed or InProgress.
func (s *Service) ValidateCanFinish(ctx context.Context) error {
	state, err := s.getState(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if state != migration.Allowed && state != migration.InProgress {
		return errors.Annotatef(migrationerrors.InvalidStateTransition, "cannot finish migration in state %s", state)
	}
	return nil
}

// ValidateCanWrite returns an error satisfying
// [migrationerrors.InvalidStateTransition] unless the migration is
// InProgress.
func (s *Service) ValidateCanWrite(ctx context.Context) error {
	state, err := s.getState(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if state != migration.InProgress {
		return errors.Annotatef(migrationerrors.InvalidStateTransition, "cannot write migration data in state %s", state)
	}
	return nil
}

func (s *Service) validateNotComplete(ctx context.Context, op string) error {
	state, err := s.getState(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if state.IsTerminal() {
		return errors.Annotatef(migrationerrors.InvalidStateTransition, "cannot %s in state %s", op, state)
	}
	return nil
}

// Transition writes the new state along with its start time and the
// derived bookkeeping, then notifies every listener. Leaving Complete is
// rejected with an error satisfying [migrationerrors.InvalidStateTransition].
// Moving from InProgress to InProgress does nothing.
func (s *Service) Transition(ctx context.Context, to migration.State, isTimeout bool) error {
	if err := to.Validate(); err != nil {
		return errors.Trace(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	values, from, err := s.readAll(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	return s.transition(ctx, values, from, to, isTimeout)
}

// StartMigration moves the migration to InProgress. The start budget is
// checked and prepare is run under the same lock as the transition, so
// concurrent starts count once. Starting a migration already in progress
// does nothing. Once maxStarts starts have been made the migration is
// completed instead, and an error satisfying
// [migrationerrors.MaxStartAttemptsReached] is returned.
func (s *Service) StartMigration(ctx context.Context, maxStarts int, prepare func(context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, from, err := s.readAll(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	switch {
	case from.IsTerminal():
		return errors.Annotatef(migrationerrors.InvalidStateTransition, "cannot start migration in state %s", from)
	case from == migration.InProgress:
		return nil
	}

	starts, err := parseInt(values[domainmigration.KeyStartsCount])
	if err != nil {
		return errors.Annotate(err, "reading migration starts count")
	}
	if starts >= maxStarts {
		logger.Warningf("migration for user %s started %d times, completing", s.user, starts)
		if err := s.transition(ctx, values, from, migration.Complete, false); err != nil {
			return errors.Trace(err)
		}
		return errors.Annotatef(migrationerrors.MaxStartAttemptsReached, "%d start attempts", maxStarts)
	}

	if prepare != nil {
		if err := prepare(ctx); err != nil {
			return errors.Trace(err)
		}
	}
	return s.transition(ctx, values, from, migration.InProgress, false)
}

func (s *Service) readAll(ctx context.Context) (map[string]string, migration.State, error) {
	values, err := s.st.GetAll(ctx, s.user)
	if err != nil {
		return nil, "", errors.Annotate(err, "reading migration state")
	}
	from := migration.Idle
	if v, ok := values[domainmigration.KeyState]; ok {
		if from, err = migration.ParseState(v); err != nil {
			return nil, "", errors.Trace(err)
		}
	}
	return values, from, nil
}

// transition must be called with s.mu held.
func (s *Service) transition(ctx context.Context, values map[string]string, from, to migration.State, isTimeout bool) error {
	if from.IsTerminal() {
		return errors.Annotatef(migrationerrors.InvalidStateTransition, "cannot move from %s to %s", from, to)
	}
	// InProgress is only entered once per start.
	if from == migration.InProgress && to == migration.InProgress {
		logger.Debugf("migration for user %s already in progress", s.user)
		return nil
	}

	now := s.clock.Now().UTC()
	update := map[string]string{
		domainmigration.KeyState:                 to.String(),
		domainmigration.KeyCurrentStateStartTime: formatTime(now),
	}
	var remove []string

	// The deadline only exists while Allowed or InProgress. It is set on
	// first entry and never extended by later entries.
	if to.HasDeadline() {
		if _, ok := values[domainmigration.KeyAllowedStateDeadline]; !ok {
			update[domainmigration.KeyAllowedStateDeadline] = formatTime(now.Add(s.allowedTimeout))
		}
	} else {
		remove = append(remove, domainmigration.KeyAllowedStateDeadline)
	}

	if to == migration.InProgress {
		starts, err := parseInt(values[domainmigration.KeyStartsCount])
		if err != nil {
			return errors.Annotate(err, "reading migration starts count")
		}
		update[domainmigration.KeyStartsCount] = strconv.Itoa(starts + 1)
	}
	if isTimeout && from == migration.InProgress && to == migration.Allowed {
		update[domainmigration.KeyInProgressTimeoutReached] = strconv.FormatBool(true)
	}
	if isTimeout && from == migration.Idle && to == migration.Complete {
		update[domainmigration.KeyIdleTimeoutReached] = strconv.FormatBool(true)
	}

	if err := s.st.Set(ctx, s.user, update, remove...); err != nil {
		return errors.Annotatef(err, "moving migration from %s to %s", from, to)
	}
	logger.Infof("migration for user %s moved from %s to %s (timeout: %t)", s.user, from, to, isTimeout)

	s.applied(ctx, from, to, isTimeout, now)
	return nil
}

// applied assigns the next sequence number to a written transition, runs
// the synchronous listeners and queues the transition on the hub. It must
// be called with s.mu held, so that listeners and subscribers observe
// transitions in exactly the order they were written.
func (s *Service) applied(ctx context.Context, from, to migration.State, isTimeout bool, at time.Time) {
	s.seq++
	t := migration.Transition{
		Seq:       s.seq,
		From:      from,
		To:        to,
		IsTimeout: isTimeout,
		At:        at,
	}

	s.listenerMu.RLock()
	listeners := append([]Listener(nil), s.listeners...)
	s.listenerMu.RUnlock()

	for _, l := range listeners {
		s.callListener(ctx, l, t)
	}

	// Publishing only queues the transition for each subscriber; handlers
	// run on the hub's goroutines after the lock is released.
	s.hub.Publish(TransitionTopic, t)
}

func (s *Service) callListener(ctx context.Context, l Listener, t migration.Transition) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("migration listener panicked on %s -> %s: %v", t.From, t.To, r)
		}
	}()
	if err := l.MigrationStateChanged(ctx, t); err != nil {
		logger.Errorf("migration listener failed on %s -> %s: %v", t.From, t.To, err)
	}
}

// AddListener registers a synchronous listener.
func (s *Service) AddListener(l Listener) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Subscribe registers handler to be called asynchronously, in order, with
// every applied transition. The returned func unsubscribes.
func (s *Service) Subscribe(handler func(migration.Transition)) func() {
	return s.hub.Subscribe(TransitionTopic, func(topic string, data interface{}) {
		t, ok := data.(migration.Transition)
		if !ok {
			logger.Errorf("unexpected data on %q: %T", topic, data)
			return
		}
		handler(t)
	})
}

// Timestamps returns the persisted state timestamps.
func (s *Service) Timestamps(ctx context.Context) (migration.Timestamps, error) {
	values, err := s.st.GetAll(ctx, s.user)
	if err != nil {
		return migration.Timestamps{}, errors.Annotate(err, "reading migration timestamps")
	}

	var result migration.Timestamps
	if result.CurrentStateStartTime, err = parseOptionalTime(values[domainmigration.KeyCurrentStateStartTime]); err != nil {
		return migration.Timestamps{}, errors.Annotate(err, "parsing current state start time")
	}
	if result.AllowedStateDeadline, err = parseOptionalTime(values[domainmigration.KeyAllowedStateDeadline]); err != nil {
		return migration.Timestamps{}, errors.Annotate(err, "parsing allowed state deadline")
	}
	return result, nil
}

// SetCurrentStateStartTime overwrites the start time of the current state.
func (s *Service) SetCurrentStateStartTime(ctx context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.st.Set(ctx, s.user, map[string]string{
		domainmigration.KeyCurrentStateStartTime: formatTime(t.UTC()),
	})
	return errors.Annotate(err, "setting current state start time")
}

// Counters returns the persisted migration counters.
func (s *Service) Counters(ctx context.Context) (migration.Counters, error) {
	values, err := s.st.GetAll(ctx, s.user)
	if err != nil {
		return migration.Counters{}, errors.Annotate(err, "reading migration counters")
	}

	var result migration.Counters
	if result.StartsCount, err = parseInt(values[domainmigration.KeyStartsCount]); err != nil {
		return migration.Counters{}, errors.Annotate(err, "parsing migration starts count")
	}
	if result.MinSDKExtensionVersion, err = parseInt(values[domainmigration.KeyMinSDKExtensionVersion]); err != nil {
		return migration.Counters{}, errors.Annotate(err, "parsing min sdk extension version")
	}
	if result.InProgressTimeoutReached, err = parseBool(values[domainmigration.KeyInProgressTimeoutReached]); err != nil {
		return migration.Counters{}, errors.Annotate(err, "parsing in progress timeout")
	}
	if result.IdleTimeoutReached, err = parseBool(values[domainmigration.KeyIdleTimeoutReached]); err != nil {
		return migration.Counters{}, errors.Annotate(err, "parsing idle timeout")
	}
	return result, nil
}

// SetMinSDKExtensionVersion records the minimum module version requested
// by the migrator.
func (s *Service) SetMinSDKExtensionVersion(ctx context.Context, version int) error {
	if version < 0 {
		return errors.NotValidf("min sdk extension version %d", version)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.st.Set(ctx, s.user, map[string]string{
		domainmigration.KeyMinSDKExtensionVersion: strconv.Itoa(version),
	})
	return errors.Annotate(err, "setting min sdk extension version")
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func parseOptionalTime(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &t, nil
}

func parseInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	i, err := strconv.Atoi(v)
	return i, errors.Trace(err)
}

func parseBool(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	return b, errors.Trace(err)
}

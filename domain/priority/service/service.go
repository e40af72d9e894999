// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package service

import (
	"context"
	"sync"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/juju/healthmigration/domain/priority"
)

var logger = loggo.GetLogger("healthmigration.priority.service")

// State describes retrieval and persistence methods for the priority
// tables.
type State interface {
	// LivePriorities returns every live priority order.
	LivePriorities(ctx context.Context) (map[priority.Category]priority.Order, error)

	// LivePriority returns the live priority order of a category.
	LivePriority(ctx context.Context, category priority.Category) (priority.Order, error)

	// AppendLiveSource appends pkg to the live order of a category if it
	// is not already part of it.
	AppendLiveSource(ctx context.Context, category priority.Category, pkg string) (bool, error)

	// HasSnapshot returns true if the snapshot of the current epoch was
	// taken.
	HasSnapshot(ctx context.Context) (bool, error)

	// UpsertSnapshot writes orders into the pre-migration table and marks
	// the snapshot of the current epoch as taken.
	UpsertSnapshot(ctx context.Context, orders map[priority.Category]priority.Order) error

	// Snapshot returns the pre-migration table.
	Snapshot(ctx context.Context) (map[priority.Category]priority.Order, error)

	// DeleteSnapshot empties the pre-migration table and ends the epoch.
	DeleteSnapshot(ctx context.Context) error
}

// Service captures the live priority order when a migration starts and
// serves it for the rest of the migration.
type Service struct {
	st State

	mu     sync.Mutex
	cache  map[priority.Category]priority.Order
	loaded bool
}

// NewService returns a new Service backed by the input state.
func NewService(st State) *Service {
	return &Service{
		st: st,
	}
}

// SnapshotOnce copies every non-empty live priority order into the
// pre-migration table. Nothing is copied if the snapshot of the current
// migration epoch was already taken, even if it was empty.
func (s *Service) SnapshotOnce(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	has, err := s.st.HasSnapshot(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if has {
		logger.Debugf("pre-migration priority already captured")
		return nil
	}

	live, err := s.st.LivePriorities(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	orders := make(map[priority.Category]priority.Order, len(live))
	for category, order := range live {
		if len(order) > 0 {
			orders[category] = order
		}
	}
	// The epoch is marked even when there is nothing to copy, so orders
	// edited during the migration are never taken as pre-migration ones.
	if err := s.st.UpsertSnapshot(ctx, orders); err != nil {
		return errors.Trace(err)
	}
	s.invalidate()
	logger.Infof("captured pre-migration priority for %d categories", len(orders))
	return nil
}

// Get returns the pre-migration order of a category. The snapshot is read
// once and cached. Unknown categories, and read failures, yield an empty
// order.
func (s *Service) Get(ctx context.Context, category priority.Category) priority.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		snapshot, err := s.st.Snapshot(ctx)
		if err != nil {
			logger.Errorf("reading pre-migration priority: %v", err)
			return nil
		}
		s.cache = snapshot
		s.loaded = true
	}
	return append(priority.Order(nil), s.cache[category]...)
}

// Clear removes the pre-migration snapshot and invalidates the cache.
func (s *Service) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.st.DeleteSnapshot(ctx); err != nil {
		return errors.Trace(err)
	}
	s.invalidate()
	return nil
}

// MergedPriority returns the pre-migration order of a category followed by
// the live sources that were not part of it.
func (s *Service) MergedPriority(ctx context.Context, category priority.Category) (priority.Order, error) {
	merged := s.Get(ctx, category)

	live, err := s.st.LivePriority(ctx, category)
	if err != nil {
		return nil, errors.Trace(err)
	}
	seen := set.NewStrings(merged...)
	for _, pkg := range live {
		if !seen.Contains(pkg) {
			seen.Add(pkg)
			merged = append(merged, pkg)
		}
	}
	return merged, nil
}

// AppendSource appends pkg to the live order of a category unless it is
// already present in the live or pre-migration order.
func (s *Service) AppendSource(ctx context.Context, category priority.Category, pkg string) error {
	if set.NewStrings(s.Get(ctx, category)...).Contains(pkg) {
		return nil
	}
	changed, err := s.st.AppendLiveSource(ctx, category, pkg)
	if err != nil {
		return errors.Trace(err)
	}
	if changed {
		logger.Debugf("appended %q to priority of category %d", pkg, category)
	}
	return nil
}

func (s *Service) invalidate() {
	s.cache = nil
	s.loaded = false
}

// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package migration_test

import (
	"context"
	"sync"

	"github.com/juju/collections/set"

	coremigration "github.com/juju/healthmigration/core/migration"
	"github.com/juju/healthmigration/core/user"
	"github.com/juju/healthmigration/domain/migrator"
)

// fakeRegistry is a package registry where every installed package is
// installed for every user.
type fakeRegistry struct {
	mu        sync.Mutex
	installed set.Strings
	capable   set.Strings
	handlers  set.Strings
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		installed: set.NewStrings(),
		capable:   set.NewStrings(),
		handlers:  set.NewStrings(),
	}
}

func (r *fakeRegistry) install(pkg string, handlesRequest bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.installed.Add(pkg)
	r.capable.Add(pkg)
	if handlesRequest {
		r.handlers.Add(pkg)
	} else {
		r.handlers.Remove(pkg)
	}
}

func (r *fakeRegistry) remove(pkg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.installed.Remove(pkg)
	r.capable.Remove(pkg)
	r.handlers.Remove(pkg)
}

func (r *fakeRegistry) PackagesWithCapability(_ context.Context, capability string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if capability != migrator.MigrationCapability {
		return nil, nil
	}
	return r.capable.SortedValues(), nil
}

func (r *fakeRegistry) ResolvesRequest(_ context.Context, pkg, request string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return request == migrator.ShowMigrationInfoRequest && r.handlers.Contains(pkg), nil
}

func (r *fakeRegistry) IsInstalled(_ context.Context, pkg string, _ user.ID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.installed.Contains(pkg), nil
}

func (r *fakeRegistry) InstallSource(_ context.Context, pkg string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.installed.Contains(pkg) {
		return "", false, nil
	}
	return "store", true, nil
}

type broadcast struct {
	pkg  string
	user user.ID
}

type fakeBroadcaster struct {
	sent chan broadcast
}

func (b *fakeBroadcaster) SendMigrationReady(_ context.Context, pkg string, u user.ID) error {
	select {
	case b.sent <- broadcast{pkg: pkg, user: u}:
	default:
	}
	return nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	current map[user.ID]coremigration.NotificationKind
}

func (n *fakeNotifier) Notify(_ context.Context, u user.ID, kind coremigration.NotificationKind) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.current[u] = kind
	return nil
}

func (n *fakeNotifier) ClearNotifications(_ context.Context, u user.ID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.current, u)
	return nil
}

func (n *fakeNotifier) notification(u user.ID) coremigration.NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current[u]
}

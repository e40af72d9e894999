// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package service

import (
	"context"
	"time"

	"github.com/juju/collections/set"
	"github.com/juju/errors"

	"github.com/juju/healthmigration/core/user"
	permissionerrors "github.com/juju/healthmigration/domain/permission/errors"
)

// State describes retrieval and persistence methods for package
// permissions.
type State interface {
	Permissions(ctx context.Context, u user.ID, pkg string) ([]string, error)
	CountGranted(ctx context.Context, u user.ID, pkg string, perms []string) (int, error)
	Grant(ctx context.Context, u user.ID, pkg, permission string) error
	SetFirstGrantTime(ctx context.Context, u user.ID, pkg string, t time.Time) error
	FirstGrantTime(ctx context.Context, u user.ID, pkg string) (time.Time, error)
}

// Service records the permissions granted to packages.
type Service struct {
	st State
}

// NewService returns a new Service backed by the input state.
func NewService(st State) *Service {
	return &Service{st: st}
}

// HasAll returns true if the package holds every permission in perms.
func (s *Service) HasAll(ctx context.Context, pkg string, u user.ID, perms []string) (bool, error) {
	wanted := set.NewStrings(perms...)
	if wanted.Contains("") {
		return false, errors.Annotate(permissionerrors.TargetInvalid, "empty permission")
	}
	if wanted.IsEmpty() {
		return true, nil
	}

	count, err := s.st.CountGranted(ctx, u, pkg, wanted.SortedValues())
	if err != nil {
		return false, errors.Trace(err)
	}
	return count == wanted.Size(), nil
}

// Grant grants a permission to a package.
func (s *Service) Grant(ctx context.Context, pkg, permission string, u user.ID) error {
	if pkg == "" || permission == "" {
		return errors.Annotatef(permissionerrors.TargetInvalid, "granting %q to %q", permission, pkg)
	}
	return errors.Trace(s.st.Grant(ctx, u, pkg, permission))
}

// SetFirstGrantTime records the time a package was first granted a
// permission. Only the first call for a package has any effect.
func (s *Service) SetFirstGrantTime(ctx context.Context, pkg string, t time.Time, u user.ID) error {
	if pkg == "" {
		return errors.Annotate(permissionerrors.TargetInvalid, "empty package")
	}
	return errors.Trace(s.st.SetFirstGrantTime(ctx, u, pkg, t))
}

// FirstGrantTime returns the first grant time of a package.
func (s *Service) FirstGrantTime(ctx context.Context, pkg string, u user.ID) (time.Time, error) {
	t, err := s.st.FirstGrantTime(ctx, u, pkg)
	return t, errors.Trace(err)
}

// Permissions returns the permissions held by a package, sorted.
func (s *Service) Permissions(ctx context.Context, pkg string, u user.ID) ([]string, error) {
	perms, err := s.st.Permissions(ctx, u, pkg)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return perms, nil
}

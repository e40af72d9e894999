// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package service

import (
	"context"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/juju/healthmigration/core/user"
	"github.com/juju/healthmigration/domain/migrator"
	migratorerrors "github.com/juju/healthmigration/domain/migrator/errors"
)

var logger = loggo.GetLogger("healthmigration.migrator.service")

// PackageRegistry describes the installed-package registry queried to
// discover the migration driver.
type PackageRegistry interface {
	// PackagesWithCapability returns the installed packages holding the
	// named capability.
	PackagesWithCapability(ctx context.Context, capability string) ([]string, error)

	// ResolvesRequest returns true if pkg registers a handler for the
	// request.
	ResolvesRequest(ctx context.Context, pkg, request string) (bool, error)

	// IsInstalled returns true if pkg is installed for the user.
	IsInstalled(ctx context.Context, pkg string, u user.ID) (bool, error)

	// InstallSource returns the package that installed pkg. The boolean
	// is false when the installer is unknown.
	InstallSource(ctx context.Context, pkg string) (string, bool, error)
}

// Service discovers the package driving the migration.
type Service struct {
	registry  PackageRegistry
	wellKnown string
}

// NewService returns a new Service for discovering the migration driver.
// wellKnown is the package used to disambiguate between candidates.
func NewService(registry PackageRegistry, wellKnown string) *Service {
	return &Service{
		registry:  registry,
		wellKnown: wellKnown,
	}
}

// WellKnownPackage returns the configured well-known package.
func (s *Service) WellKnownPackage() string {
	return s.wellKnown
}

// FindCandidatePackages returns, sorted, the packages that hold the
// migration capability and also handle the show migration info request.
func (s *Service) FindCandidatePackages(ctx context.Context) ([]string, error) {
	holders, err := s.registry.PackagesWithCapability(ctx, migrator.MigrationCapability)
	if err != nil {
		return nil, errors.Annotatef(err, "listing packages with %q", migrator.MigrationCapability)
	}

	candidates := set.NewStrings()
	for _, pkg := range set.NewStrings(holders...).Values() {
		ok, err := s.registry.ResolvesRequest(ctx, pkg, migrator.ShowMigrationInfoRequest)
		if err != nil {
			return nil, errors.Annotatef(err, "resolving %q for %q", migrator.ShowMigrationInfoRequest, pkg)
		}
		if ok {
			candidates.Add(pkg)
		}
	}
	return candidates.SortedValues(), nil
}

// ResolveCanonical returns the package that drives the migration.
//
// A single candidate must be the well-known package, otherwise an error
// satisfying [migratorerrors.DriverNotWellKnown] is returned. With several
// candidates the well-known package must be among them, otherwise an error
// satisfying [migratorerrors.AmbiguousDriver] is returned. Without any
// candidate an error satisfying [migratorerrors.NoDriver] is returned.
func (s *Service) ResolveCanonical(ctx context.Context) (string, error) {
	candidates, err := s.FindCandidatePackages(ctx)
	if err != nil {
		return "", errors.Trace(err)
	}

	switch len(candidates) {
	case 0:
		return "", migratorerrors.NoDriver
	case 1:
		if candidates[0] != s.wellKnown {
			return "", errors.Annotatef(migratorerrors.DriverNotWellKnown, "%q", candidates[0])
		}
		return candidates[0], nil
	}

	if !set.NewStrings(candidates...).Contains(s.wellKnown) {
		return "", errors.Annotatef(migratorerrors.AmbiguousDriver, "candidates %v", candidates)
	}
	logger.Debugf("picked %q among migration driver candidates %v", s.wellKnown, candidates)
	return s.wellKnown, nil
}

// IsMigratorPackage returns true if pkg is the well-known package or one
// of the current driver candidates.
func (s *Service) IsMigratorPackage(ctx context.Context, pkg string) (bool, error) {
	if pkg == s.wellKnown {
		return true, nil
	}
	candidates, err := s.FindCandidatePackages(ctx)
	if err != nil {
		return false, errors.Trace(err)
	}
	return set.NewStrings(candidates...).Contains(pkg), nil
}

// DriverStatus reports on the well-known package as seen by the user.
func (s *Service) DriverStatus(ctx context.Context, u user.ID) (migrator.DriverStatus, error) {
	present, err := s.registry.IsInstalled(ctx, s.wellKnown, u)
	if err != nil {
		return migrator.DriverStatus{}, errors.Annotatef(err, "checking %q is installed", s.wellKnown)
	}
	if !present {
		return migrator.DriverStatus{}, nil
	}

	handles, err := s.registry.ResolvesRequest(ctx, s.wellKnown, migrator.ShowMigrationInfoRequest)
	if err != nil {
		return migrator.DriverStatus{}, errors.Annotatef(err, "resolving %q for %q", migrator.ShowMigrationInfoRequest, s.wellKnown)
	}
	source, _, err := s.registry.InstallSource(ctx, s.wellKnown)
	if err != nil {
		return migrator.DriverStatus{}, errors.Annotatef(err, "getting install source of %q", s.wellKnown)
	}
	return migrator.DriverStatus{
		Present:        true,
		HandlesRequest: handles,
		InstallSource:  source,
	}, nil
}

// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package service

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/juju/healthmigration/core/user"
	"github.com/juju/healthmigration/domain/healthdata"
	"github.com/juju/healthmigration/domain/priority"
)

var logger = loggo.GetLogger("healthmigration.healthdata.service")

// RecordState is the storage that migrated records are written to.
type RecordState interface {
	// InsertAll writes every request atomically.
	InsertAll(ctx context.Context, reqs []healthdata.InsertRequest, migratedAt time.Time) error
}

// PermissionService grants permissions to packages.
type PermissionService interface {
	HasAll(ctx context.Context, pkg string, u user.ID, perms []string) (bool, error)
	Grant(ctx context.Context, pkg, permission string, u user.ID) error
	SetFirstGrantTime(ctx context.Context, pkg string, t time.Time, u user.ID) error
}

// PackageResolver resolves a package for a user.
type PackageResolver interface {
	IsInstalled(ctx context.Context, pkg string, u user.ID) (bool, error)
}

// PriorityService keeps the data source priority in step with the
// migrated records.
type PriorityService interface {
	AppendSource(ctx context.Context, category priority.Category, pkg string) error
}

// Service applies batches of migration entities.
type Service struct {
	records     RecordState
	permissions PermissionService
	packages    PackageResolver
	priorities  PriorityService
	clock       clock.Clock
}

// NewService returns a new Service applying entities to the input
// collaborators.
func NewService(
	records RecordState,
	permissions PermissionService,
	packages PackageResolver,
	priorities PriorityService,
	clock clock.Clock,
) *Service {
	return &Service{
		records:     records,
		permissions: permissions,
		packages:    packages,
		priorities:  priorities,
		clock:       clock,
	}
}

// batch splits parse results by kind, keeping their relative order.
type batch struct {
	upserts []healthdata.InsertRequest
	grants  []healthdata.GrantPermissions
}

func (b *batch) UpsertData(u healthdata.UpsertData) error {
	b.upserts = append(b.upserts, u.Request)
	return nil
}

func (b *batch) GrantPermissions(g healthdata.GrantPermissions) error {
	b.grants = append(b.grants, g)
	return nil
}

// Apply parses the entities and applies them for the user.
//
// Every record is inserted in one atomic write; a parse failure or insert
// failure leaves storage untouched. Permission grants are then applied one
// package at a time. A grant for a package that is not installed, or that
// already holds every permission, is skipped. A failed grant does not
// undo the records or the grants applied before it; the first such
// failure is returned once every grant has been attempted.
func (s *Service) Apply(ctx context.Context, u user.ID, entities []healthdata.MigrationEntity) error {
	results, err := healthdata.Parse(entities)
	if err != nil {
		return errors.Trace(err)
	}

	var b batch
	for _, result := range results {
		if err := result.Visit(&b); err != nil {
			return errors.Trace(err)
		}
	}

	if len(b.upserts) > 0 {
		if err := s.records.InsertAll(ctx, b.upserts, s.clock.Now()); err != nil {
			return errors.Annotate(err, "applying migrated records")
		}
		s.appendSources(ctx, b.upserts)
	}

	var firstErr error
	for _, grant := range b.grants {
		if err := s.applyGrant(ctx, u, grant); err != nil {
			logger.Errorf("granting permissions to %q: %v", grant.PackageName, err)
			if firstErr == nil {
				firstErr = errors.Annotatef(err, "granting permissions to %q", grant.PackageName)
			}
		}
	}
	return firstErr
}

// appendSources adds the package of every migrated record to the priority
// order of its category. The records are already written, so failures are
// only logged.
func (s *Service) appendSources(ctx context.Context, reqs []healthdata.InsertRequest) {
	type source struct {
		category priority.Category
		pkg      string
	}
	seen := make(map[source]bool)
	for _, req := range reqs {
		src := source{category: req.DataCategory, pkg: req.PackageName}
		if seen[src] {
			continue
		}
		seen[src] = true

		if err := s.priorities.AppendSource(ctx, src.category, src.pkg); err != nil {
			logger.Warningf("adding %q to priority of category %d: %v", src.pkg, src.category, err)
		}
	}
}

func (s *Service) applyGrant(ctx context.Context, u user.ID, grant healthdata.GrantPermissions) error {
	installed, err := s.packages.IsInstalled(ctx, grant.PackageName, u)
	if err != nil {
		return errors.Trace(err)
	}
	if !installed {
		logger.Warningf("skipping permissions of %q: package not installed for user %s", grant.PackageName, u)
		return nil
	}

	held, err := s.permissions.HasAll(ctx, grant.PackageName, u, grant.Permissions)
	if err != nil {
		return errors.Trace(err)
	}
	if held {
		logger.Debugf("package %q already holds %v", grant.PackageName, grant.Permissions)
		return nil
	}

	for _, permission := range grant.Permissions {
		if err := s.permissions.Grant(ctx, grant.PackageName, permission, u); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(s.permissions.SetFirstGrantTime(ctx, grant.PackageName, grant.FirstGrantTime, u))
}

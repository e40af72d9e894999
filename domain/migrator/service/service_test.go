// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package service

import (
	"context"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	"go.uber.org/mock/gomock"
	gc "gopkg.in/check.v1"

	"github.com/juju/healthmigration/core/user"
	"github.com/juju/healthmigration/domain/migrator"
	migratorerrors "github.com/juju/healthmigration/domain/migrator/errors"
)

type serviceSuite struct {
	registry *MockPackageRegistry
}

var _ = gc.Suite(&serviceSuite{})

func (s *serviceSuite) setupMocks(c *gc.C) *gomock.Controller {
	ctrl := gomock.NewController(c)
	s.registry = NewMockPackageRegistry(ctrl)
	return ctrl
}

// expectCandidates sets up the registry so that every package in holders
// holds the migration capability, and only those in resolving handle the
// show migration info request.
func (s *serviceSuite) expectCandidates(holders []string, resolving ...string) {
	s.registry.EXPECT().PackagesWithCapability(gomock.Any(), migrator.MigrationCapability).Return(holders, nil)
	resolves := set.NewStrings(resolving...)
	for _, pkg := range set.NewStrings(holders...).Values() {
		s.registry.EXPECT().ResolvesRequest(gomock.Any(), pkg, migrator.ShowMigrationInfoRequest).Return(resolves.Contains(pkg), nil)
	}
}

func (s *serviceSuite) TestFindCandidatePackagesIntersects(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.expectCandidates([]string{"c.pkg", "a.pkg", "b.pkg"}, "c.pkg", "a.pkg")

	candidates, err := NewService(s.registry, "a.pkg").FindCandidatePackages(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(candidates, jc.DeepEquals, []string{"a.pkg", "c.pkg"})
}

func (s *serviceSuite) TestFindCandidatePackagesRegistryError(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.registry.EXPECT().PackagesWithCapability(gomock.Any(), migrator.MigrationCapability).Return(nil, errors.New("boom"))

	_, err := NewService(s.registry, "a.pkg").FindCandidatePackages(context.Background())
	c.Assert(err, gc.ErrorMatches, `listing packages with ".*": boom`)
}

func (s *serviceSuite) TestResolveCanonicalSingleWellKnown(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.expectCandidates([]string{"a.pkg"}, "a.pkg")

	pkg, err := NewService(s.registry, "a.pkg").ResolveCanonical(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(pkg, gc.Equals, "a.pkg")
}

func (s *serviceSuite) TestResolveCanonicalSingleNotWellKnown(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.expectCandidates([]string{"a.pkg"}, "a.pkg")

	_, err := NewService(s.registry, "b.pkg").ResolveCanonical(context.Background())
	c.Assert(err, jc.ErrorIs, migratorerrors.DriverNotWellKnown)
}

func (s *serviceSuite) TestResolveCanonicalManyIncludingWellKnown(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.expectCandidates([]string{"a.pkg", "b.pkg"}, "a.pkg", "b.pkg")

	pkg, err := NewService(s.registry, "b.pkg").ResolveCanonical(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(pkg, gc.Equals, "b.pkg")
}

func (s *serviceSuite) TestResolveCanonicalManyAmbiguous(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.expectCandidates([]string{"a.pkg", "b.pkg"}, "a.pkg", "b.pkg")

	_, err := NewService(s.registry, "c.pkg").ResolveCanonical(context.Background())
	c.Assert(err, jc.ErrorIs, migratorerrors.AmbiguousDriver)
}

func (s *serviceSuite) TestResolveCanonicalNoDriver(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.expectCandidates([]string{"a.pkg"})

	_, err := NewService(s.registry, "a.pkg").ResolveCanonical(context.Background())
	c.Assert(err, jc.ErrorIs, migratorerrors.NoDriver)
}

func (s *serviceSuite) TestIsMigratorPackage(c *gc.C) {
	defer s.setupMocks(c).Finish()

	svc := NewService(s.registry, "a.pkg")

	ok, err := svc.IsMigratorPackage(context.Background(), "a.pkg")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(ok, jc.IsTrue)

	s.expectCandidates([]string{"b.pkg", "c.pkg"}, "b.pkg")
	ok, err = svc.IsMigratorPackage(context.Background(), "b.pkg")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(ok, jc.IsTrue)

	s.expectCandidates([]string{"b.pkg", "c.pkg"}, "b.pkg")
	ok, err = svc.IsMigratorPackage(context.Background(), "c.pkg")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(ok, jc.IsFalse)
}

func (s *serviceSuite) TestDriverStatusMissing(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.registry.EXPECT().IsInstalled(gomock.Any(), "a.pkg", user.ID(10)).Return(false, nil)

	status, err := NewService(s.registry, "a.pkg").DriverStatus(context.Background(), user.ID(10))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(status, jc.DeepEquals, migrator.DriverStatus{})
}

func (s *serviceSuite) TestDriverStatusPresent(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.registry.EXPECT().IsInstalled(gomock.Any(), "a.pkg", user.ID(10)).Return(true, nil)
	s.registry.EXPECT().ResolvesRequest(gomock.Any(), "a.pkg", migrator.ShowMigrationInfoRequest).Return(false, nil)
	s.registry.EXPECT().InstallSource(gomock.Any(), "a.pkg").Return("store.pkg", true, nil)

	status, err := NewService(s.registry, "a.pkg").DriverStatus(context.Background(), user.ID(10))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(status, jc.DeepEquals, migrator.DriverStatus{
		Present:       true,
		InstallSource: "store.pkg",
	})
}

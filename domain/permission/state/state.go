// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

import (
	"context"
	"time"

	"github.com/canonical/sqlair"
	"github.com/juju/errors"

	coredatabase "github.com/juju/healthmigration/core/database"
	"github.com/juju/healthmigration/core/user"
	"github.com/juju/healthmigration/domain"
	permissionerrors "github.com/juju/healthmigration/domain/permission/errors"
)

// State persists the permissions granted to packages.
type State struct {
	*domain.StateBase
}

// NewState returns a new State reference.
func NewState(factory coredatabase.TxnRunnerFactory) *State {
	return &State{
		StateBase: domain.NewStateBase(factory),
	}
}

// Permissions returns the permissions held by a package.
func (st *State) Permissions(ctx context.Context, u user.ID, pkg string) ([]string, error) {
	db, err := st.DB()
	if err != nil {
		return nil, errors.Trace(err)
	}

	ident := dbPackage{UserID: int(u), PackageName: pkg}
	stmt, err := st.Prepare(`
SELECT &dbPermission.permission
FROM   package_permission
WHERE  user_id = $dbPackage.user_id
AND    package_name = $dbPackage.package_name
ORDER BY permission`, dbPermission{}, ident)
	if err != nil {
		return nil, errors.Annotate(err, "preparing select permissions statement")
	}

	var rows []dbPermission
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, ident).GetAll(&rows)
		if errors.Is(err, sqlair.ErrNoRows) {
			return nil
		}
		return errors.Trace(err)
	})
	if err != nil {
		return nil, errors.Annotatef(err, "reading permissions of %q", pkg)
	}

	result := make([]string, len(rows))
	for i, row := range rows {
		result[i] = row.Permission
	}
	return result, nil
}

// CountGranted returns how many of perms are held by a package.
func (st *State) CountGranted(ctx context.Context, u user.ID, pkg string, perms []string) (int, error) {
	db, err := st.DB()
	if err != nil {
		return 0, errors.Trace(err)
	}

	ident := dbPackage{UserID: int(u), PackageName: pkg}
	stmt, err := st.Prepare(`
SELECT COUNT(*) AS &dbCount.count
FROM   package_permission
WHERE  user_id = $dbPackage.user_id
AND    package_name = $dbPackage.package_name
AND    permission IN ($permissions[:])`, dbCount{}, ident, permissions{})
	if err != nil {
		return 0, errors.Annotate(err, "preparing count permissions statement")
	}

	var count dbCount
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		return tx.Query(ctx, stmt, ident, permissions(perms)).Get(&count)
	})
	if err != nil {
		return 0, errors.Annotatef(err, "counting permissions of %q", pkg)
	}
	return count.Count, nil
}

// Grant records that a package holds a permission. Granting a held
// permission is a no-op.
func (st *State) Grant(ctx context.Context, u user.ID, pkg, permission string) error {
	db, err := st.DB()
	if err != nil {
		return errors.Trace(err)
	}

	row := dbPermission{UserID: int(u), PackageName: pkg, Permission: permission}
	stmt, err := st.Prepare(`
INSERT INTO package_permission (user_id, package_name, permission)
VALUES ($dbPermission.*)
ON CONFLICT DO NOTHING`, row)
	if err != nil {
		return errors.Annotate(err, "preparing insert permission statement")
	}

	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		return tx.Query(ctx, stmt, row).Run()
	})
	return errors.Annotatef(err, "granting %q to %q", permission, pkg)
}

// SetFirstGrantTime records when a package was first granted any
// permission. An existing record is kept.
func (st *State) SetFirstGrantTime(ctx context.Context, u user.ID, pkg string, t time.Time) error {
	db, err := st.DB()
	if err != nil {
		return errors.Trace(err)
	}

	row := dbFirstGrant{UserID: int(u), PackageName: pkg, FirstGrantTime: t.UTC()}
	stmt, err := st.Prepare(`
INSERT INTO package_first_grant (user_id, package_name, first_grant_time)
VALUES ($dbFirstGrant.*)
ON CONFLICT DO NOTHING`, row)
	if err != nil {
		return errors.Annotate(err, "preparing insert first grant statement")
	}

	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		return tx.Query(ctx, stmt, row).Run()
	})
	return errors.Annotatef(err, "setting first grant time of %q", pkg)
}

// FirstGrantTime returns when a package was first granted a permission.
// If none was recorded an error satisfying
// [permissionerrors.FirstGrantNotFound] is returned.
func (st *State) FirstGrantTime(ctx context.Context, u user.ID, pkg string) (time.Time, error) {
	db, err := st.DB()
	if err != nil {
		return time.Time{}, errors.Trace(err)
	}

	ident := dbPackage{UserID: int(u), PackageName: pkg}
	stmt, err := st.Prepare(`
SELECT &dbFirstGrant.first_grant_time
FROM   package_first_grant
WHERE  user_id = $dbPackage.user_id
AND    package_name = $dbPackage.package_name`, dbFirstGrant{}, ident)
	if err != nil {
		return time.Time{}, errors.Annotate(err, "preparing select first grant statement")
	}

	var row dbFirstGrant
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		return tx.Query(ctx, stmt, ident).Get(&row)
	})
	if errors.Is(err, sqlair.ErrNoRows) {
		return time.Time{}, errors.Annotatef(permissionerrors.FirstGrantNotFound, "%q", pkg)
	} else if err != nil {
		return time.Time{}, errors.Annotatef(err, "reading first grant time of %q", pkg)
	}
	return row.FirstGrantTime.UTC(), nil
}

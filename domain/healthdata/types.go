// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package healthdata describes the entities pushed by a migration driver
// and the operations they decode into.
package healthdata

import (
	"time"

	"github.com/juju/healthmigration/domain/priority"
)

// EntityType is the type tag of a migration entity.
type EntityType string

const (
	// EntityRecord tags an entity carrying a single health record.
	EntityRecord EntityType = "record"

	// EntityPackagePermissions tags an entity carrying the permissions
	// held by a package in the legacy application.
	EntityPackagePermissions EntityType = "package-permissions"
)

// MigrationEntity is an opaque envelope pushed by the migration driver.
type MigrationEntity struct {
	// EntityID is unique among the entities sent by the driver.
	EntityID string

	// Type selects how the payload is decoded.
	Type EntityType

	// Payload is the encoded entity.
	Payload []byte
}

// InsertRequest is a single record to be written to storage.
type InsertRequest struct {
	UUID           string
	RecordType     string
	DataCategory   priority.Category
	PackageName    string
	ClientRecordID string
	Data           []byte
}

// ParseResult is the operation a single migration entity decodes into. It
// is implemented only by UpsertData and GrantPermissions.
type ParseResult interface {
	// Visit calls the visitor method matching the concrete result.
	Visit(v ParseResultVisitor) error

	parseResult()
}

// ParseResultVisitor has one method per ParseResult implementation, so
// that adding a result type breaks every consumer until it is handled.
type ParseResultVisitor interface {
	UpsertData(UpsertData) error
	GrantPermissions(GrantPermissions) error
}

// UpsertData writes a record to storage.
type UpsertData struct {
	Request InsertRequest
}

// Visit implements ParseResult.
func (u UpsertData) Visit(v ParseResultVisitor) error {
	return v.UpsertData(u)
}

func (UpsertData) parseResult() {}

// GrantPermissions grants permissions to an installed package.
type GrantPermissions struct {
	PackageName    string
	Permissions    []string
	FirstGrantTime time.Time
}

// Visit implements ParseResult.
func (g GrantPermissions) Visit(v ParseResultVisitor) error {
	return v.GrantPermissions(g)
}

func (GrantPermissions) parseResult() {}

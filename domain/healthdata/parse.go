// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package healthdata

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"

	healthdataerrors "github.com/juju/healthmigration/domain/healthdata/errors"
	"github.com/juju/healthmigration/domain/priority"
)

// recordNamespace seeds the name based UUIDs of migrated records.
var recordNamespace = uuid.MustParse("0b6f7c6e-57d5-4f0c-9d39-6f1c7f0e2a11")

type recordPayload struct {
	RecordType     string `json:"record_type"`
	DataCategory   int    `json:"data_category"`
	PackageName    string `json:"package_name"`
	ClientRecordID string `json:"client_record_id,omitempty"`
	Data           []byte `json:"data"`
}

type permissionsPayload struct {
	PackageName    string    `json:"package_name"`
	Permissions    []string  `json:"permissions"`
	FirstGrantTime time.Time `json:"first_grant_time"`
}

// Parse decodes every entity, in order, into the operation it describes.
// An unknown type tag fails the whole batch with an error satisfying
// [healthdataerrors.UnrecognizedEntityType]; an undecodable payload fails
// it with [healthdataerrors.MalformedEntity].
func Parse(entities []MigrationEntity) ([]ParseResult, error) {
	results := make([]ParseResult, 0, len(entities))
	for i, entity := range entities {
		result, err := parseEntity(entity)
		if err != nil {
			return nil, errors.Annotatef(err, "entity %d (%q)", i, entity.EntityID)
		}
		results = append(results, result)
	}
	return results, nil
}

func parseEntity(entity MigrationEntity) (ParseResult, error) {
	switch entity.Type {
	case EntityRecord:
		return parseRecord(entity)
	case EntityPackagePermissions:
		return parsePermissions(entity)
	default:
		return nil, errors.Annotatef(healthdataerrors.UnrecognizedEntityType, "%q", entity.Type)
	}
}

func parseRecord(entity MigrationEntity) (ParseResult, error) {
	var payload recordPayload
	if err := json.Unmarshal(entity.Payload, &payload); err != nil {
		return nil, errors.Annotatef(healthdataerrors.MalformedEntity, "decoding record: %v", err)
	}
	if payload.RecordType == "" {
		return nil, errors.Annotate(healthdataerrors.MalformedEntity, "record type missing")
	}
	if payload.PackageName == "" {
		return nil, errors.Annotate(healthdataerrors.MalformedEntity, "record package missing")
	}

	return UpsertData{
		Request: InsertRequest{
			UUID:           RecordUUID(payload.PackageName, entity.EntityID),
			RecordType:     payload.RecordType,
			DataCategory:   priority.Category(payload.DataCategory),
			PackageName:    payload.PackageName,
			ClientRecordID: payload.ClientRecordID,
			Data:           payload.Data,
		},
	}, nil
}

func parsePermissions(entity MigrationEntity) (ParseResult, error) {
	var payload permissionsPayload
	if err := json.Unmarshal(entity.Payload, &payload); err != nil {
		return nil, errors.Annotatef(healthdataerrors.MalformedEntity, "decoding permissions: %v", err)
	}
	if payload.PackageName == "" {
		return nil, errors.Annotate(healthdataerrors.MalformedEntity, "permissions package missing")
	}
	if len(payload.Permissions) == 0 {
		return nil, errors.Annotatef(healthdataerrors.MalformedEntity, "no permissions for %q", payload.PackageName)
	}

	return GrantPermissions{
		PackageName:    payload.PackageName,
		Permissions:    payload.Permissions,
		FirstGrantTime: payload.FirstGrantTime.UTC(),
	}, nil
}

// RecordUUID returns the id of a migrated record. The same package and
// entity always yield the same id, so replaying a batch overwrites rather
// than duplicates.
func RecordUUID(pkg, entityID string) string {
	return uuid.NewSHA1(recordNamespace, []byte(pkg+"/"+entityID)).String()
}

// EncodeRecord returns the payload of a record entity.
func EncodeRecord(req InsertRequest) ([]byte, error) {
	data, err := json.Marshal(recordPayload{
		RecordType:     req.RecordType,
		DataCategory:   int(req.DataCategory),
		PackageName:    req.PackageName,
		ClientRecordID: req.ClientRecordID,
		Data:           req.Data,
	})
	return data, errors.Trace(err)
}

// EncodePermissions returns the payload of a package permissions entity.
func EncodePermissions(g GrantPermissions) ([]byte, error) {
	data, err := json.Marshal(permissionsPayload(g))
	return data, errors.Trace(err)
}

// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package schema

import "github.com/juju/healthmigration/core/database"

// HealthDDL is used to create the health data database schema. Applying
// it to an existing database leaves the database untouched.
func HealthDDL() []database.Delta {
	schemas := []func() database.Delta{
		migrationStateSchema,
		prioritySchema,
		healthRecordSchema,
		permissionSchema,
	}

	var deltas []database.Delta
	for _, fn := range schemas {
		deltas = append(deltas, fn())
	}
	return deltas
}

func migrationStateSchema() database.Delta {
	return database.MakeDelta(`
CREATE TABLE IF NOT EXISTS migration_state (
    user_id INT NOT NULL,
    key     TEXT NOT NULL,
    value   TEXT NOT NULL,
    PRIMARY KEY (user_id, key)
);`)
}

func prioritySchema() database.Delta {
	return database.MakeDelta(`
-- Source ids are package names, comma separated, highest priority first.
CREATE TABLE IF NOT EXISTS health_data_category_priority (
    category_id INT PRIMARY KEY,
    source_ids  TEXT NOT NULL
);

-- Shadow copy of health_data_category_priority taken when a migration
-- starts. Rows only exist for the duration of a migration epoch.
CREATE TABLE IF NOT EXISTS pre_migration_category_priority (
    category_id INT PRIMARY KEY,
    source_ids  TEXT NOT NULL
);

-- Holds a single row once the snapshot of the current epoch is taken,
-- including when no category had a live order to copy.
CREATE TABLE IF NOT EXISTS pre_migration_priority_epoch (
    id INT PRIMARY KEY CHECK (id = 0)
);`)
}

func healthRecordSchema() database.Delta {
	return database.MakeDelta(`
CREATE TABLE IF NOT EXISTS health_record (
    uuid             TEXT PRIMARY KEY,
    record_type      TEXT NOT NULL CHECK (record_type <> ''),
    data_category    INT NOT NULL,
    package_name     TEXT NOT NULL,
    client_record_id TEXT,
    payload          BLOB NOT NULL,
    migrated_at      TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_health_record_category
ON health_record (data_category);`)
}

func permissionSchema() database.Delta {
	return database.MakeDelta(`
CREATE TABLE IF NOT EXISTS package_permission (
    user_id      INT NOT NULL,
    package_name TEXT NOT NULL,
    permission   TEXT NOT NULL,
    PRIMARY KEY (user_id, package_name, permission)
);

CREATE TABLE IF NOT EXISTS package_first_grant (
    user_id          INT NOT NULL,
    package_name     TEXT NOT NULL,
    first_grant_time TIMESTAMP NOT NULL,
    PRIMARY KEY (user_id, package_name)
);`)
}

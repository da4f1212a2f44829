package database

import (
	"context"
	"fmt"
)

// schemaStatements contains the DDL for all service tables. Statements are
// idempotent so Migrate can run on every startup.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS principal_roles (
		principal    TEXT PRIMARY KEY,
		role         TEXT NOT NULL,
		assigned_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS user_profiles (
		principal      TEXT PRIMARY KEY,
		name           TEXT NOT NULL DEFAULT '',
		specialization TEXT NOT NULL DEFAULT '',
		institution    TEXT NOT NULL DEFAULT '',
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS records (
		id           BIGINT PRIMARY KEY,
		owner        TEXT NOT NULL,
		content_ref  TEXT NOT NULL,
		category     TEXT NOT NULL,
		tags         TEXT[] NOT NULL DEFAULT '{}',
		is_encrypted BOOLEAN NOT NULL DEFAULT false,
		created_at   TIMESTAMPTZ NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_records_owner ON records(owner)`,

	`CREATE TABLE IF NOT EXISTS record_grants (
		record_id  BIGINT NOT NULL REFERENCES records(id),
		grantee    TEXT NOT NULL,
		granted_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		position   BIGSERIAL,
		PRIMARY KEY (record_id, grantee)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_record_grants_grantee ON record_grants(grantee)`,

	`CREATE TABLE IF NOT EXISTS emergency_grants (
		record_id  BIGINT NOT NULL REFERENCES records(id),
		contact    TEXT NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		is_active  BOOLEAN NOT NULL,
		PRIMARY KEY (record_id, contact)
	)`,

	`CREATE TABLE IF NOT EXISTS role_change_requests (
		requester      TEXT PRIMARY KEY,
		requested_role TEXT NOT NULL,
		requested_at   TIMESTAMPTZ NOT NULL,
		status         TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS events (
		id          TEXT PRIMARY KEY,
		event_type  TEXT NOT NULL,
		payload     JSONB NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type)`,
}

// Migrate applies the schema to the connected database
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}

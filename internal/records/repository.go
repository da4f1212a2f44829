package records

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/medvault/phr-access/pkg/interfaces"
	"github.com/medvault/phr-access/pkg/types"
)

// PostgresRepository persists record state to PostgreSQL.
type PostgresRepository struct {
	db    *sql.DB
	timer interfaces.QueryTimer
}

// NewPostgresRepository creates a repository backed by db. timer may be nil.
func NewPostgresRepository(db *sql.DB, timer interfaces.QueryTimer) *PostgresRepository {
	return &PostgresRepository{db: db, timer: timer}
}

func (r *PostgresRepository) observe(queryType string, start time.Time) {
	if r.timer != nil {
		r.timer.RecordDatabaseQuery(queryType, time.Since(start))
	}
}

func (r *PostgresRepository) SaveRecord(ctx context.Context, record types.Record) error {
	defer r.observe("save_record", time.Now())
	query := `
		INSERT INTO records (id, owner, content_ref, category, tags, is_encrypted, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		uint64(record.ID), record.Owner.String(), record.ContentRef,
		string(record.Category), pq.Array(record.Tags), record.IsEncrypted, record.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("record %d already exists: %w", record.ID, err)
		}
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SaveTags(ctx context.Context, id types.RecordID, tags []string) error {
	defer r.observe("save_tags", time.Now())
	query := `UPDATE records SET tags = $2 WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, uint64(id), pq.Array(tags)); err != nil {
		return fmt.Errorf("failed to save tags: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SaveGrant(ctx context.Context, id types.RecordID, grantee types.Principal) error {
	defer r.observe("save_grant", time.Now())
	query := `
		INSERT INTO record_grants (record_id, grantee, granted_at)
		VALUES ($1, $2, now())
		ON CONFLICT (record_id, grantee) DO NOTHING`

	if _, err := r.db.ExecContext(ctx, query, uint64(id), grantee.String()); err != nil {
		return fmt.Errorf("failed to save grant: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteGrant(ctx context.Context, id types.RecordID, grantee types.Principal) error {
	defer r.observe("delete_grant", time.Now())
	query := `DELETE FROM record_grants WHERE record_id = $1 AND grantee = $2`

	if _, err := r.db.ExecContext(ctx, query, uint64(id), grantee.String()); err != nil {
		return fmt.Errorf("failed to delete grant: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SaveEmergency(ctx context.Context, grant types.EmergencyGrant) error {
	defer r.observe("save_emergency", time.Now())
	query := `
		INSERT INTO emergency_grants (record_id, contact, expires_at, is_active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (record_id, contact) DO UPDATE
		SET expires_at = $3, is_active = $4`

	_, err := r.db.ExecContext(ctx, query,
		uint64(grant.RecordID), grant.Contact.String(), grant.ExpiresAt, grant.IsActive)
	if err != nil {
		return fmt.Errorf("failed to save emergency grant: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteEmergency(ctx context.Context, id types.RecordID, contact types.Principal) error {
	defer r.observe("delete_emergency", time.Now())
	query := `UPDATE emergency_grants SET is_active = false WHERE record_id = $1 AND contact = $2`

	if _, err := r.db.ExecContext(ctx, query, uint64(id), contact.String()); err != nil {
		return fmt.Errorf("failed to deactivate emergency grant: %w", err)
	}
	return nil
}

func (r *PostgresRepository) LoadAll(ctx context.Context) ([]types.Record, map[types.RecordID][]types.Principal, []types.EmergencyGrant, error) {
	defer r.observe("load_all", time.Now())
	records, err := r.loadRecords(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	grants, err := r.loadGrants(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	emergencies, err := r.loadEmergencies(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	return records, grants, emergencies, nil
}

func (r *PostgresRepository) loadRecords(ctx context.Context) ([]types.Record, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, owner, content_ref, category, tags, is_encrypted, created_at FROM records ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}
	defer rows.Close()

	var out []types.Record
	for rows.Next() {
		var rec types.Record
		var id uint64
		var owner, category string
		if err := rows.Scan(&id, &owner, &rec.ContentRef, &category,
			pq.Array(&rec.Tags), &rec.IsEncrypted, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan record row: %w", err)
		}
		rec.ID = types.RecordID(id)
		rec.Owner = types.Principal(owner)
		rec.Category = types.Category(category)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) loadGrants(ctx context.Context) (map[types.RecordID][]types.Principal, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT record_id, grantee FROM record_grants ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to load grants: %w", err)
	}
	defer rows.Close()

	out := make(map[types.RecordID][]types.Principal)
	for rows.Next() {
		var id uint64
		var grantee string
		if err := rows.Scan(&id, &grantee); err != nil {
			return nil, fmt.Errorf("failed to scan grant row: %w", err)
		}
		rid := types.RecordID(id)
		out[rid] = append(out[rid], types.Principal(grantee))
	}
	return out, rows.Err()
}

func (r *PostgresRepository) loadEmergencies(ctx context.Context) ([]types.EmergencyGrant, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT record_id, contact, expires_at, is_active FROM emergency_grants`)
	if err != nil {
		return nil, fmt.Errorf("failed to load emergency grants: %w", err)
	}
	defer rows.Close()

	var out []types.EmergencyGrant
	for rows.Next() {
		var g types.EmergencyGrant
		var id uint64
		var contact string
		if err := rows.Scan(&id, &contact, &g.ExpiresAt, &g.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan emergency grant row: %w", err)
		}
		g.RecordID = types.RecordID(id)
		g.Contact = types.Principal(contact)
		out = append(out, g)
	}
	return out, rows.Err()
}

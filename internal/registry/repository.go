package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/medvault/phr-access/pkg/interfaces"
	"github.com/medvault/phr-access/pkg/types"
)

// PostgresRepository persists role assignments and profiles to PostgreSQL.
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

func (r *PostgresRepository) SaveRole(ctx context.Context, principal types.Principal, role types.Role) error {
	defer r.observe("save_role", time.Now())
	query := `
		INSERT INTO principal_roles (principal, role, assigned_at)
		VALUES ($1, $2, now())
		ON CONFLICT (principal) DO UPDATE SET role = $2, assigned_at = now()`

	if _, err := r.db.ExecContext(ctx, query, principal.String(), role.String()); err != nil {
		return fmt.Errorf("failed to save role: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SaveProfile(ctx context.Context, profile types.UserProfile) error {
	defer r.observe("save_profile", time.Now())
	query := `
		INSERT INTO user_profiles (principal, name, specialization, institution, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (principal) DO UPDATE
		SET name = $2, specialization = $3, institution = $4, updated_at = $5`

	_, err := r.db.ExecContext(ctx, query,
		profile.Principal.String(), profile.Name, profile.Specialization,
		profile.Institution, profile.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

func (r *PostgresRepository) LoadRoles(ctx context.Context) (map[types.Principal]types.Role, error) {
	defer r.observe("load_roles", time.Now())
	rows, err := r.db.QueryContext(ctx, `SELECT principal, role FROM principal_roles`)
	if err != nil {
		return nil, fmt.Errorf("failed to load roles: %w", err)
	}
	defer rows.Close()

	out := make(map[types.Principal]types.Role)
	for rows.Next() {
		var principal, role string
		if err := rows.Scan(&principal, &role); err != nil {
			return nil, fmt.Errorf("failed to scan role row: %w", err)
		}
		out[types.Principal(principal)] = types.Role(role)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) LoadProfiles(ctx context.Context) (map[types.Principal]types.UserProfile, error) {
	defer r.observe("load_profiles", time.Now())
	rows, err := r.db.QueryContext(ctx,
		`SELECT principal, name, specialization, institution, updated_at FROM user_profiles`)
	if err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}
	defer rows.Close()

	out := make(map[types.Principal]types.UserProfile)
	for rows.Next() {
		var p types.UserProfile
		var principal string
		if err := rows.Scan(&principal, &p.Name, &p.Specialization, &p.Institution, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan profile row: %w", err)
		}
		p.Principal = types.Principal(principal)
		out[p.Principal] = p
	}
	return out, rows.Err()
}

package rolereq

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/medvault/phr-access/pkg/interfaces"
	"github.com/medvault/phr-access/pkg/types"
)

// PostgresRepository persists role-change requests to PostgreSQL.
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

func (r *PostgresRepository) SaveRequest(ctx context.Context, req types.RoleChangeRequest) error {
	defer r.observe("save_role_request", time.Now())
	query := `
		INSERT INTO role_change_requests (requester, requested_role, requested_at, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (requester) DO UPDATE
		SET requested_role = $2, requested_at = $3, status = $4`

	_, err := r.db.ExecContext(ctx, query,
		req.Requester.String(), req.RequestedRole.String(), req.RequestedAt, string(req.Status))
	if err != nil {
		return fmt.Errorf("failed to save role request: %w", err)
	}
	return nil
}

func (r *PostgresRepository) LoadRequests(ctx context.Context) (map[types.Principal]types.RoleChangeRequest, error) {
	defer r.observe("load_role_requests", time.Now())
	rows, err := r.db.QueryContext(ctx,
		`SELECT requester, requested_role, requested_at, status FROM role_change_requests`)
	if err != nil {
		return nil, fmt.Errorf("failed to load role requests: %w", err)
	}
	defer rows.Close()

	out := make(map[types.Principal]types.RoleChangeRequest)
	for rows.Next() {
		var req types.RoleChangeRequest
		var requester, role, status string
		if err := rows.Scan(&requester, &role, &req.RequestedAt, &status); err != nil {
			return nil, fmt.Errorf("failed to scan role request row: %w", err)
		}
		req.Requester = types.Principal(requester)
		req.RequestedRole = types.Role(role)
		req.Status = types.RequestStatus(status)
		out[req.Requester] = req
	}
	return out, rows.Err()
}

package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/medvault/phr-access/pkg/interfaces"
)

// Postgres is an event log backed by a PostgreSQL events table. Payload
// filtering uses JSONB containment so the filter is evaluated in the
// database.
type Postgres struct {
	db    *sql.DB
	timer interfaces.QueryTimer
}

// NewPostgres creates an event log backed by db. timer may be nil.
func NewPostgres(db *sql.DB, timer interfaces.QueryTimer) *Postgres {
	return &Postgres{db: db, timer: timer}
}

func (p *Postgres) observe(queryType string, start time.Time) {
	if p.timer != nil {
		p.timer.RecordDatabaseQuery(queryType, time.Since(start))
	}
}

func (p *Postgres) Append(ctx context.Context, event interfaces.Event) error {
	defer p.observe("append_event", time.Now())
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	query := `INSERT INTO events (id, event_type, payload, occurred_at) VALUES ($1, $2, $3, $4)`
	if _, err := p.db.ExecContext(ctx, query, event.ID, event.Type, payload, event.OccurredAt); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

func (p *Postgres) Query(ctx context.Context, eventType string, filter map[string]interface{}) ([]interfaces.Event, error) {
	defer p.observe("query_events", time.Now())
	var rows *sql.Rows
	var err error

	if len(filter) == 0 {
		rows, err = p.db.QueryContext(ctx,
			`SELECT id, event_type, payload, occurred_at FROM events
			 WHERE event_type = $1 ORDER BY occurred_at`, eventType)
	} else {
		var filterJSON []byte
		filterJSON, err = json.Marshal(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal event filter: %w", err)
		}
		rows, err = p.db.QueryContext(ctx,
			`SELECT id, event_type, payload, occurred_at FROM events
			 WHERE event_type = $1 AND payload @> $2 ORDER BY occurred_at`, eventType, filterJSON)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []interfaces.Event
	for rows.Next() {
		var e interfaces.Event
		var payload []byte
		if err := rows.Scan(&e.ID, &e.Type, &payload, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event payload: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

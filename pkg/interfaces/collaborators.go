package interfaces

import (
	"context"
	"io"
	"time"
)

// ContentStore abstracts the external content-addressed store that holds
// record payloads. Implementations must be safe for concurrent use.
type ContentStore interface {
	// Put stores the content and returns its content reference.
	Put(ctx context.Context, content io.Reader) (string, error)
	// Get retrieves the content for the given reference.
	Get(ctx context.Context, ref string) (io.ReadCloser, error)
}

// Event is an append-only log entry describing something that happened.
type Event struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Payload    map[string]interface{} `json:"payload"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// QueryTimer records the duration of database queries.
// monitoring.MetricsCollector satisfies it; repositories accept a nil
// timer when metrics are not wanted.
type QueryTimer interface {
	RecordDatabaseQuery(queryType string, duration time.Duration)
}

// EventLog abstracts the append-only event log used for workflow discovery
// and auditing. Implementations must be safe for concurrent use.
type EventLog interface {
	// Append stores an event. The event's ID is assigned by the caller.
	Append(ctx context.Context, event Event) error
	// Query returns events of the given type whose payload contains all
	// key/value pairs in filter, ordered by occurrence time ascending.
	// A nil or empty filter matches all events of the type.
	Query(ctx context.Context, eventType string, filter map[string]interface{}) ([]Event, error)
}

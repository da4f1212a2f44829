package eventlog

import (
	"context"
	"sort"
	"sync"

	"github.com/medvault/phr-access/pkg/interfaces"
)

// Memory is an in-memory append-only event log.
type Memory struct {
	mu     sync.RWMutex
	events []interfaces.Event
}

// NewMemory creates an empty in-memory event log.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Append(ctx context.Context, event interfaces.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *Memory) Query(ctx context.Context, eventType string, filter map[string]interface{}) ([]interfaces.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []interfaces.Event
	for _, e := range m.events {
		if e.Type != eventType {
			continue
		}
		if !matches(e.Payload, filter) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	return out, nil
}

func matches(payload, filter map[string]interface{}) bool {
	for k, want := range filter {
		got, ok := payload[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

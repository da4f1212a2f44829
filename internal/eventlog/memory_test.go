package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medvault/phr-access/pkg/interfaces"
)

func TestMemoryQuery(t *testing.T) {
	log := NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	append := func(eventType string, payload map[string]interface{}, at time.Time) {
		require.NoError(t, log.Append(ctx, interfaces.Event{
			ID:         uuid.NewString(),
			Type:       eventType,
			Payload:    payload,
			OccurredAt: at,
		}))
	}

	append("role_change.requested", map[string]interface{}{"requester": "0xaa", "role": "doctor"}, base.Add(2*time.Hour))
	append("role_change.requested", map[string]interface{}{"requester": "0xbb", "role": "patient"}, base.Add(1*time.Hour))
	append("record.created", map[string]interface{}{"owner": "0xaa"}, base)

	t.Run("filters by type and orders by occurrence time", func(t *testing.T) {
		events, err := log.Query(ctx, "role_change.requested", nil)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "0xbb", events[0].Payload["requester"])
		assert.Equal(t, "0xaa", events[1].Payload["requester"])
	})

	t.Run("payload filter matches all pairs", func(t *testing.T) {
		events, err := log.Query(ctx, "role_change.requested",
			map[string]interface{}{"requester": "0xaa", "role": "doctor"})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "doctor", events[0].Payload["role"])
	})

	t.Run("no match returns empty", func(t *testing.T) {
		events, err := log.Query(ctx, "role_change.requested",
			map[string]interface{}{"requester": "0xcc"})
		require.NoError(t, err)
		assert.Empty(t, events)
	})
}

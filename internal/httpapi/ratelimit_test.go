package httpapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/medvault/phr-access/pkg/types"
)

func TestRateLimiter(t *testing.T) {
	alice := types.Principal("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	bob := types.Principal("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	t.Run("allows up to the limit then blocks", func(t *testing.T) {
		rl := NewRateLimiter(3, time.Minute)
		base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		rl.now = func() time.Time { return base }

		for i := 0; i < 3; i++ {
			assert.True(t, rl.Allow(alice), "request %d should pass", i)
		}
		assert.False(t, rl.Allow(alice))
	})

	t.Run("buckets are per principal", func(t *testing.T) {
		rl := NewRateLimiter(1, time.Minute)
		base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		rl.now = func() time.Time { return base }

		assert.True(t, rl.Allow(alice))
		assert.False(t, rl.Allow(alice))
		assert.True(t, rl.Allow(bob))
	})

	t.Run("tokens refill after the period", func(t *testing.T) {
		rl := NewRateLimiter(2, time.Minute)
		current := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		rl.now = func() time.Time { return current }

		assert.True(t, rl.Allow(alice))
		assert.True(t, rl.Allow(alice))
		assert.False(t, rl.Allow(alice))

		current = current.Add(time.Minute)
		assert.True(t, rl.Allow(alice))
	})

	t.Run("partial refill grants proportional tokens", func(t *testing.T) {
		rl := NewRateLimiter(60, time.Minute)
		current := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		rl.now = func() time.Time { return current }

		for i := 0; i < 60; i++ {
			assert.True(t, rl.Allow(alice))
		}
		assert.False(t, rl.Allow(alice))

		// Half the period back: half the tokens.
		current = current.Add(30 * time.Second)
		for i := 0; i < 30; i++ {
			assert.True(t, rl.Allow(alice), "refilled request %d should pass", i)
		}
		assert.False(t, rl.Allow(alice))
	})
}

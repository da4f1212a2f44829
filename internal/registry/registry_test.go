package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medvault/phr-access/pkg/types"
)

func TestSetRole(t *testing.T) {
	alice := types.Principal("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

	t.Run("assigns a role to an unassigned principal", func(t *testing.T) {
		reg := New(nil, nil)

		err := reg.SetRole(context.Background(), alice, types.RolePatient)
		require.NoError(t, err)

		assert.Equal(t, types.RolePatient, reg.GetRole(alice))
		assert.True(t, reg.HasRole(alice, types.RolePatient))
	})

	t.Run("replaces an existing role atomically", func(t *testing.T) {
		reg := New(nil, nil)
		require.NoError(t, reg.SetRole(context.Background(), alice, types.RolePatient))

		err := reg.SetRole(context.Background(), alice, types.RoleDoctor)
		require.NoError(t, err)

		assert.Equal(t, types.RoleDoctor, reg.GetRole(alice))
		assert.False(t, reg.HasRole(alice, types.RolePatient))
	})

	t.Run("rejects the unassigned role", func(t *testing.T) {
		reg := New(nil, nil)

		err := reg.SetRole(context.Background(), alice, types.RoleNone)
		require.Error(t, err)
		assert.Equal(t, "INVALID_ROLE", types.ErrorCode(err))
		assert.Equal(t, types.RoleNone, reg.GetRole(alice))
	})
}

func TestGetRole(t *testing.T) {
	t.Run("returns none for an unknown principal", func(t *testing.T) {
		reg := New(nil, nil)
		assert.Equal(t, types.RoleNone, reg.GetRole(types.Principal("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")))
	})
}

func TestListByRole(t *testing.T) {
	reg := New(nil, nil)
	ctx := context.Background()

	doctors := []types.Principal{
		"0xcccccccccccccccccccccccccccccccccccccccc",
		"0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		"0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
	}
	for _, d := range doctors {
		require.NoError(t, reg.SetRole(ctx, d, types.RoleDoctor))
	}
	require.NoError(t, reg.SetRole(ctx, "0xdddddddddddddddddddddddddddddddddddddddd", types.RolePatient))

	t.Run("returns only principals holding the role, sorted", func(t *testing.T) {
		got := reg.ListByRole(types.RoleDoctor)
		assert.Equal(t, []types.Principal{
			"0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
			"0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
			"0xcccccccccccccccccccccccccccccccccccccccc",
		}, got)
	})

	t.Run("returns empty for a role nobody holds", func(t *testing.T) {
		assert.Empty(t, reg.ListByRole(types.RoleResearcher))
	})
}

func TestProfiles(t *testing.T) {
	alice := types.Principal("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

	t.Run("stores and retrieves a profile", func(t *testing.T) {
		reg := New(nil, nil)
		err := reg.SetProfile(context.Background(), types.UserProfile{
			Principal:      alice,
			Name:           "Dr. Alice",
			Specialization: "Cardiology",
			Institution:    "General Hospital",
		})
		require.NoError(t, err)

		got, err := reg.GetProfile(alice)
		require.NoError(t, err)
		assert.Equal(t, "Dr. Alice", got.Name)
		assert.Equal(t, "Cardiology", got.Specialization)
		assert.False(t, got.UpdatedAt.IsZero())
	})

	t.Run("returns not found for a missing profile", func(t *testing.T) {
		reg := New(nil, nil)
		_, err := reg.GetProfile(alice)
		require.Error(t, err)
		assert.Equal(t, "NO_SUCH_PROFILE", types.ErrorCode(err))
	})

	t.Run("rejects a profile without a principal", func(t *testing.T) {
		reg := New(nil, nil)
		err := reg.SetProfile(context.Background(), types.UserProfile{Name: "nobody"})
		require.Error(t, err)
		assert.Equal(t, "INVALID_PRINCIPAL", types.ErrorCode(err))
	})
}

func TestConcurrentRoleChanges(t *testing.T) {
	reg := New(nil, nil)
	ctx := context.Background()
	alice := types.Principal("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

	var wg sync.WaitGroup
	roles := []types.Role{types.RolePatient, types.RoleDoctor, types.RoleResearcher}
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(role types.Role) {
			defer wg.Done()
			_ = reg.SetRole(ctx, alice, role)
		}(roles[i%len(roles)])
	}
	wg.Wait()

	// Whatever won, the principal holds exactly one assignable role.
	final := reg.GetRole(alice)
	assert.True(t, final.Assignable())

	count := 0
	for _, role := range types.AllRoles {
		if reg.HasRole(alice, role) {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

package registry

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medvault/phr-access/pkg/types"
)

func TestSaveRole(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepository(db, nil)
	alice := types.Principal("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

	mock.ExpectExec("INSERT INTO principal_roles").
		WithArgs(alice.String(), "doctor").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SaveRole(context.Background(), alice, types.RoleDoctor))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadRoles(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepository(db, nil)

	mock.ExpectQuery("SELECT principal, role FROM principal_roles").
		WillReturnRows(sqlmock.NewRows([]string{"principal", "role"}).
			AddRow("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "patient").
			AddRow("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", "admin"))

	roles, err := repo.LoadRoles(context.Background())
	require.NoError(t, err)
	assert.Len(t, roles, 2)
	assert.Equal(t, types.RolePatient, roles["0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"])
	assert.Equal(t, types.RoleAdmin, roles["0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveProfile(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepository(db, nil)
	updated := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO user_profiles").
		WithArgs("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "Dr. Alice", "Cardiology", "General Hospital", updated).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.SaveProfile(context.Background(), types.UserProfile{
		Principal:      "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		Name:           "Dr. Alice",
		Specialization: "Cardiology",
		Institution:    "General Hospital",
		UpdatedAt:      updated,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistryWriteThrough(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	reg := New(NewPostgresRepository(db, nil), nil)
	alice := types.Principal("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

	t.Run("successful persist keeps the assignment", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO principal_roles").
			WithArgs(alice.String(), "patient").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, reg.SetRole(context.Background(), alice, types.RolePatient))
		assert.Equal(t, types.RolePatient, reg.GetRole(alice))
	})

	t.Run("failed persist rolls the assignment back", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO principal_roles").
			WithArgs(alice.String(), "doctor").
			WillReturnError(assert.AnError)

		err := reg.SetRole(context.Background(), alice, types.RoleDoctor)
		require.Error(t, err)
		assert.Equal(t, types.RolePatient, reg.GetRole(alice), "previous role should survive")
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

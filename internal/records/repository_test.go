package records

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medvault/phr-access/pkg/types"
)

func TestSaveRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepository(db, nil)
	created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	rec := types.Record{
		ID:         7,
		Owner:      owner,
		ContentRef: "QmHash",
		Category:   types.CategoryImaging,
		Tags:       []string{"xray", "chest"},
		CreatedAt:  created,
	}

	mock.ExpectExec("INSERT INTO records").
		WithArgs(uint64(7), owner.String(), "QmHash", "imaging",
			pq.Array([]string{"xray", "chest"}), false, created).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SaveRecord(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveGrantIdempotent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepository(db, nil)

	// The upsert swallows the duplicate, so a second save affects no rows
	// and still succeeds.
	mock.ExpectExec("INSERT INTO record_grants").
		WithArgs(uint64(3), doctor.String()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.SaveGrant(context.Background(), 3, doctor))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveEmergencyReplaces(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepository(db, nil)
	expires := time.Date(2026, 8, 2, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO emergency_grants").
		WithArgs(uint64(3), contact.String(), expires, true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.SaveEmergency(context.Background(), types.EmergencyGrant{
		RecordID:  3,
		Contact:   contact,
		ExpiresAt: expires,
		IsActive:  true,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteEmergencyScopedToContact(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepository(db, nil)

	mock.ExpectExec("UPDATE emergency_grants SET is_active = false").
		WithArgs(uint64(3), contact.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.DeleteEmergency(context.Background(), 3, contact))
	assert.NoError(t, mock.ExpectationsWereMet())
}

type capturingTimer struct {
	queries []string
}

func (c *capturingTimer) RecordDatabaseQuery(queryType string, duration time.Duration) {
	c.queries = append(c.queries, queryType)
}

func TestQueriesAreTimed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	timer := &capturingTimer{}
	repo := NewPostgresRepository(db, timer)

	mock.ExpectExec("INSERT INTO record_grants").
		WithArgs(uint64(3), doctor.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM record_grants").
		WithArgs(uint64(3), doctor.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SaveGrant(context.Background(), 3, doctor))
	require.NoError(t, repo.DeleteGrant(context.Background(), 3, doctor))

	assert.Equal(t, []string{"save_grant", "delete_grant"}, timer.queries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadAll(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepository(db, nil)
	created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	expires := created.Add(24 * time.Hour)

	mock.ExpectQuery("SELECT id, owner, content_ref, category, tags, is_encrypted, created_at FROM records").
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "owner", "content_ref", "category", "tags", "is_encrypted", "created_at"}).
			AddRow(uint64(1), owner.String(), "QmOne", "general", "{}", false, created).
			AddRow(uint64(2), doctor.String(), "QmTwo", "lab_report", "{blood}", true, created))

	mock.ExpectQuery("SELECT record_id, grantee FROM record_grants").
		WillReturnRows(sqlmock.NewRows([]string{"record_id", "grantee"}).
			AddRow(uint64(1), doctor.String()).
			AddRow(uint64(1), other.String()))

	mock.ExpectQuery("SELECT record_id, contact, expires_at, is_active FROM emergency_grants").
		WillReturnRows(sqlmock.NewRows([]string{"record_id", "contact", "expires_at", "is_active"}).
			AddRow(uint64(2), contact.String(), expires, true))

	records, grants, emergencies, err := repo.LoadAll(context.Background())
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, types.RecordID(1), records[0].ID)
	assert.Equal(t, owner, records[0].Owner)
	assert.Equal(t, []string{"blood"}, records[1].Tags)

	assert.Equal(t, []types.Principal{doctor, other}, grants[1])

	require.Len(t, emergencies, 1)
	assert.Equal(t, contact, emergencies[0].Contact)
	assert.True(t, emergencies[0].IsActive)

	assert.NoError(t, mock.ExpectationsWereMet())
}

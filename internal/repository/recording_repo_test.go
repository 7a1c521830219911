package repository

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/recarr/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	return db
}

func newRecording() *models.Recording {
	return &models.Recording{
		Status:      models.RecordingStatusCreated,
		OriginalURL: "https://example.com/stream.mpd",
	}
}

func TestAppendAssignsDerivedFields(t *testing.T) {
	repo := NewRecordingRepository(setupTestDB(t))
	ctx := context.Background()

	id, err := repo.Append(ctx, newRecording())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	rec, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "recording_1", rec.Partition)
	assert.Equal(t, "offline://1", rec.StoreURL)
	assert.Equal(t, models.RecordingStatusCreated, rec.Status)
}

func TestAppendIDsAreMonotonicAcrossDeletes(t *testing.T) {
	repo := NewRecordingRepository(setupTestDB(t))
	ctx := context.Background()

	// Ids must always be 1 + the highest id ever assigned, even after the
	// entries holding the highest ids are deleted.
	id1, err := repo.Append(ctx, newRecording())
	require.NoError(t, err)
	id2, err := repo.Append(ctx, newRecording())
	require.NoError(t, err)
	id3, err := repo.Append(ctx, newRecording())
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3}, []uint64{id1, id2, id3})

	require.NoError(t, repo.Delete(ctx, id2))
	require.NoError(t, repo.Delete(ctx, id3))

	id4, err := repo.Append(ctx, newRecording())
	require.NoError(t, err)
	assert.Equal(t, uint64(4), id4, "deleted ids must not be reused")

	require.NoError(t, repo.Delete(ctx, id1))
	require.NoError(t, repo.Delete(ctx, id4))

	id5, err := repo.Append(ctx, newRecording())
	require.NoError(t, err)
	assert.Equal(t, uint64(5), id5, "high-water mark survives an empty catalog")
}

func TestListReturnsInsertionOrder(t *testing.T) {
	repo := NewRecordingRepository(setupTestDB(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := repo.Append(ctx, newRecording())
		require.NoError(t, err)
	}

	recs, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, uint64(1), recs[0].ID)
	assert.Equal(t, uint64(2), recs[1].ID)
	assert.Equal(t, uint64(3), recs[2].ID)
}

func TestUpdateMutatesStatus(t *testing.T) {
	repo := NewRecordingRepository(setupTestDB(t))
	ctx := context.Background()

	id, err := repo.Append(ctx, newRecording())
	require.NoError(t, err)

	err = repo.Update(ctx, id, func(rec *models.Recording) error {
		rec.Status = models.RecordingStatusStarted
		return nil
	})
	require.NoError(t, err)

	rec, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.RecordingStatusStarted, rec.Status)
}

func TestNotFoundErrors(t *testing.T) {
	repo := NewRecordingRepository(setupTestDB(t))
	ctx := context.Background()

	_, err := repo.GetByID(ctx, 99)
	assert.ErrorIs(t, err, models.ErrRecordingNotFound)

	err = repo.Update(ctx, 99, func(*models.Recording) error { return nil })
	assert.ErrorIs(t, err, models.ErrRecordingNotFound)

	err = repo.Delete(ctx, 99)
	assert.ErrorIs(t, err, models.ErrRecordingNotFound)
}

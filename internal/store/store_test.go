package store

import (
	"context"
	"errors"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/repository"
)

func setupStore(t *testing.T) *Store {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(db))

	blobs, err := OpenBlobStore("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = blobs.Close() })

	return New(repository.NewRecordingRepository(db), blobs, nil)
}

func appendEntry(t *testing.T, st *Store) uint64 {
	t.Helper()
	id, err := st.AppendCatalogEntry(context.Background(), &models.Recording{
		Status:      models.RecordingStatusCreated,
		OriginalURL: "https://example.com/stream.mpd",
	})
	require.NoError(t, err)
	return id
}

func TestSegmentRoundTrip(t *testing.T) {
	st := setupStore(t)
	id := appendEntry(t, st)
	require.NoError(t, st.CreatePartition(id))

	require.NoError(t, st.PutSegment(id, "video1_1", []byte("segment-bytes")))

	data, err := st.GetSegment(id, "video1_1")
	require.NoError(t, err)
	assert.Equal(t, []byte("segment-bytes"), data)

	_, err = st.GetSegment(id, "video1_2")
	assert.ErrorIs(t, err, ErrSegmentNotFound)
}

func TestDeleteCascadesToPartition(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()
	id := appendEntry(t, st)
	require.NoError(t, st.CreatePartition(id))

	for _, key := range []string{"video1_0", "video1_1", "audio1_1"} {
		require.NoError(t, st.PutSegment(id, key, []byte("x")))
	}
	count, err := st.CountSegments(id)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	require.NoError(t, st.DeleteCatalogEntry(ctx, id))

	_, err = st.GetCatalogEntry(ctx, id)
	assert.ErrorIs(t, err, models.ErrRecordingNotFound)
	_, err = st.GetSegment(id, "video1_1")
	assert.ErrorIs(t, err, ErrSegmentNotFound)

	count, err = st.CountSegments(id)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDeleteWithoutPartitionSucceeds(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	// An entry deleted before any segment was stored must not fail on the
	// partition cleanup.
	id := appendEntry(t, st)
	require.NoError(t, st.DeleteCatalogEntry(ctx, id))

	err := st.DeleteCatalogEntry(ctx, id)
	assert.ErrorIs(t, err, models.ErrRecordingNotFound)
}

func TestPartitionsAreIsolated(t *testing.T) {
	st := setupStore(t)
	id1 := appendEntry(t, st)
	id2 := appendEntry(t, st)

	require.NoError(t, st.PutSegment(id1, "video1_1", []byte("one")))
	require.NoError(t, st.PutSegment(id2, "video1_1", []byte("two")))

	data, err := st.GetSegment(id1, "video1_1")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), data)

	require.NoError(t, st.DeleteCatalogEntry(context.Background(), id1))

	data, err = st.GetSegment(id2, "video1_1")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), data)
}

func TestCreatePartitionValidation(t *testing.T) {
	st := setupStore(t)
	assert.NoError(t, st.CreatePartition(1))
	// Idempotent.
	assert.NoError(t, st.CreatePartition(1))

	err := st.blobs.CreatePartition("bad/name")
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestClassifyWriteError(t *testing.T) {
	quota := classifyWriteError(errors.New("write: no space left on device"))
	assert.ErrorIs(t, quota, ErrQuotaExceeded)
	assert.ErrorIs(t, quota, ErrStorageWrite)
	assert.True(t, IsFatal(quota))

	generic := classifyWriteError(errors.New("i/o failure"))
	assert.ErrorIs(t, generic, ErrStorageWrite)
	assert.NotErrorIs(t, generic, ErrQuotaExceeded)
	assert.True(t, IsFatal(generic))

	assert.False(t, IsFatal(ErrSegmentNotFound))
	assert.False(t, IsFatal(nil))
}

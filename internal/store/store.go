package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/repository"
)

// Blobs is the partition-keyed blob engine the store writes segments
// through. *BlobStore is the production implementation.
type Blobs interface {
	CreatePartition(name string) error
	Put(partition, key string, data []byte) error
	Get(partition, key string) ([]byte, error)
	DropPartition(name string) error
	CountPartition(name string) (int, error)
}

// Store is the segment store façade: a single shared catalog namespace (the
// list of Recording entries) plus one partition namespace per recording (its
// segment blobs). Catalog id assignment and partition naming derive from the
// same id, so an entry can always locate its blobs.
type Store struct {
	catalog repository.RecordingRepository
	blobs   Blobs
	logger  *slog.Logger
}

// New creates a Store over the given catalog repository and blob store.
func New(catalog repository.RecordingRepository, blobs Blobs, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{catalog: catalog, blobs: blobs, logger: logger}
}

// CreatePartition creates/opens the partition for a recording id. Idempotent.
func (s *Store) CreatePartition(id uint64) error {
	return s.blobs.CreatePartition(models.PartitionName(id))
}

// PutSegment persists segment bytes under a recording's partition. A returned
// error satisfying IsFatal means the whole recording must stop.
func (s *Store) PutSegment(id uint64, key string, data []byte) error {
	return s.blobs.Put(models.PartitionName(id), key, data)
}

// GetSegment retrieves segment bytes from a recording's partition.
func (s *Store) GetSegment(id uint64, key string) ([]byte, error) {
	return s.blobs.Get(models.PartitionName(id), key)
}

// AppendCatalogEntry inserts a new catalog entry and returns its assigned id.
// Ids are monotonic: always 1 + the highest id ever assigned, never reused.
func (s *Store) AppendCatalogEntry(ctx context.Context, rec *models.Recording) (uint64, error) {
	return s.catalog.Append(ctx, rec)
}

// UpdateCatalogEntry mutates one catalog entry.
func (s *Store) UpdateCatalogEntry(ctx context.Context, id uint64, mutate func(*models.Recording) error) error {
	return s.catalog.Update(ctx, id, mutate)
}

// GetCatalogEntry retrieves one catalog entry.
func (s *Store) GetCatalogEntry(ctx context.Context, id uint64) (*models.Recording, error) {
	return s.catalog.GetByID(ctx, id)
}

// DeleteCatalogEntry removes a catalog entry and drops its entire segment
// partition. Deleting an entry whose partition was never created succeeds;
// deleting an unknown id returns models.ErrRecordingNotFound.
func (s *Store) DeleteCatalogEntry(ctx context.Context, id uint64) error {
	if err := s.catalog.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.blobs.DropPartition(models.PartitionName(id)); err != nil {
		// The catalog entry is already gone; orphaned blobs are harmless
		// but worth surfacing.
		return fmt.Errorf("catalog entry %d deleted, partition cleanup failed: %w", id, err)
	}
	s.logger.Info("recording deleted", slog.Uint64("recording_id", id))
	return nil
}

// ListCatalogEntries retrieves all catalog entries in insertion order.
func (s *Store) ListCatalogEntries(ctx context.Context) ([]*models.Recording, error) {
	return s.catalog.List(ctx)
}

// CountSegments returns the number of blobs stored for a recording.
func (s *Store) CountSegments(id uint64) (int, error) {
	return s.blobs.CountPartition(models.PartitionName(id))
}

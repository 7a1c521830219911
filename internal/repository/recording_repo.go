// Package repository provides data access for the recording catalog.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmylchreest/recarr/internal/models"
	"gorm.io/gorm"
)

// RecordingRepository defines catalog access for recordings.
type RecordingRepository interface {
	// Append inserts a new entry, assigning it the next monotonic id.
	Append(ctx context.Context, rec *models.Recording) (uint64, error)

	// GetByID retrieves one entry. Returns models.ErrRecordingNotFound if
	// the id does not exist.
	GetByID(ctx context.Context, id uint64) (*models.Recording, error)

	// List retrieves all entries in insertion order.
	List(ctx context.Context) ([]*models.Recording, error)

	// Update applies a mutator to one entry inside a transaction. Returns
	// models.ErrRecordingNotFound if the id does not exist.
	Update(ctx context.Context, id uint64, mutate func(*models.Recording) error) error

	// Delete removes one entry. Returns models.ErrRecordingNotFound if the
	// id does not exist.
	Delete(ctx context.Context, id uint64) error
}

// recordingRepo implements RecordingRepository using GORM.
type recordingRepo struct {
	db *gorm.DB
}

// NewRecordingRepository creates a new RecordingRepository.
func NewRecordingRepository(db *gorm.DB) *recordingRepo {
	return &recordingRepo{db: db}
}

// Migrate creates the catalog tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Recording{}, &models.CatalogState{}); err != nil {
		return fmt.Errorf("migrating catalog schema: %w", err)
	}
	return nil
}

// Append inserts a new recording with id = 1 + the highest id ever assigned.
// The high-water mark lives in catalog_state, so ids below it are never
// reused even after entries are deleted.
func (r *recordingRepo) Append(ctx context.Context, rec *models.Recording) (uint64, error) {
	if err := rec.Validate(); err != nil {
		return 0, fmt.Errorf("validating recording: %w", err)
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var state models.CatalogState
		if err := tx.First(&state).Error; err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("reading catalog state: %w", err)
			}
			state = models.CatalogState{ID: 1}
		}

		state.LastAssignedID++
		rec.ID = state.LastAssignedID
		rec.Partition = models.PartitionName(rec.ID)
		rec.StoreURL = models.StoreURL(rec.ID)

		if err := tx.Create(rec).Error; err != nil {
			return fmt.Errorf("creating recording: %w", err)
		}
		if err := tx.Save(&state).Error; err != nil {
			return fmt.Errorf("saving catalog state: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return rec.ID, nil
}

// GetByID retrieves a recording by id.
func (r *recordingRepo) GetByID(ctx context.Context, id uint64) (*models.Recording, error) {
	var rec models.Recording
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrRecordingNotFound
		}
		return nil, fmt.Errorf("getting recording by id: %w", err)
	}
	return &rec, nil
}

// List retrieves all recordings ordered by id. Ids are assigned in insertion
// order, so id order is insertion order.
func (r *recordingRepo) List(ctx context.Context) ([]*models.Recording, error) {
	var recs []*models.Recording
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("listing recordings: %w", err)
	}
	return recs, nil
}

// Update loads, mutates, and saves one recording atomically.
func (r *recordingRepo) Update(ctx context.Context, id uint64, mutate func(*models.Recording) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec models.Recording
		if err := tx.Where("id = ?", id).First(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.ErrRecordingNotFound
			}
			return fmt.Errorf("getting recording for update: %w", err)
		}

		if err := mutate(&rec); err != nil {
			return err
		}
		if err := rec.Validate(); err != nil {
			return fmt.Errorf("validating recording: %w", err)
		}

		if err := tx.Save(&rec).Error; err != nil {
			return fmt.Errorf("updating recording: %w", err)
		}
		return nil
	})
}

// Delete removes a recording by id.
func (r *recordingRepo) Delete(ctx context.Context, id uint64) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Recording{})
	if result.Error != nil {
		return fmt.Errorf("deleting recording: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return models.ErrRecordingNotFound
	}
	return nil
}

// Ensure recordingRepo implements RecordingRepository at compile time.
var _ RecordingRepository = (*recordingRepo)(nil)

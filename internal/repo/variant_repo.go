// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// EphemeralVariant model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a record is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/emirhandeniz58/frame-customizer-v2/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for consistency across the service layer.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateEphemeralVariant inserts a new EphemeralVariant row. The ID is a
// randomly generated UUID when unset, and CreatedAt defaults to UTC now.
func CreateEphemeralVariant(ctx context.Context, db *gorm.DB, rec *domain.EphemeralVariant) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(rec).Error
}

// GetEphemeralVariant fetches a single record by ID, or ErrNotFound.
func GetEphemeralVariant(ctx context.Context, db *gorm.DB, id string) (*domain.EphemeralVariant, error) {
	var rec domain.EphemeralVariant
	if err := db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindExpiredVariants returns every live, non-ordered, non-dead-lettered
// record whose scheduled deletion time has passed, ordered oldest-expired
// first so the worst-case staleness is bounded.
func FindExpiredVariants(ctx context.Context, db *gorm.DB, now time.Time) ([]domain.EphemeralVariant, error) {
	var out []domain.EphemeralVariant
	err := db.WithContext(ctx).
		Where("deleted_at IS NULL AND is_ordered = ? AND dead_lettered_at IS NULL AND scheduled_deletion_at <= ?", false, now).
		Order("scheduled_deletion_at asc").
		Find(&out).Error
	return out, err
}

// FindStaleVariants returns every live, non-ordered, non-dead-lettered record
// created at or before cutoff, regardless of its scheduled deletion time.
// Used by the daily full scan as a safety net for missed deletions.
func FindStaleVariants(ctx context.Context, db *gorm.DB, cutoff time.Time) ([]domain.EphemeralVariant, error) {
	var out []domain.EphemeralVariant
	err := db.WithContext(ctx).
		Where("deleted_at IS NULL AND is_ordered = ? AND dead_lettered_at IS NULL AND created_at <= ?", false, cutoff).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// MarkVariantDeleted sets deleted_at for a live record. The column moves at
// most once: a record that already carries a deletion timestamp is left
// untouched and the call still succeeds.
func MarkVariantDeleted(ctx context.Context, db *gorm.DB, id string, now time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.EphemeralVariant{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Update("deleted_at", now.UTC()).Error
}

// RecordCleanupFailure increments cleanup_attempts and stores the latest
// error text. When maxAttempts > 0 and the new attempt count reaches it, the
// record is dead-lettered (excluded from future sweeps) by setting
// dead_lettered_at; maxAttempts <= 0 retries forever.
//
// It returns the new attempt count and whether the record was dead-lettered.
func RecordCleanupFailure(ctx context.Context, db *gorm.DB, id, errMsg string, maxAttempts int, now time.Time) (int, bool, error) {
	var rec domain.EphemeralVariant
	if err := db.WithContext(ctx).
		Select("id", "cleanup_attempts").
		Where("id = ?", id).
		First(&rec).Error; err != nil {
		return 0, false, err
	}

	attempts := rec.CleanupAttempts + 1
	updates := map[string]any{
		"cleanup_attempts":   attempts,
		"last_cleanup_error": errMsg,
	}
	dead := maxAttempts > 0 && attempts >= maxAttempts
	if dead {
		updates["dead_lettered_at"] = now.UTC()
	}

	err := db.WithContext(ctx).
		Model(&domain.EphemeralVariant{}).
		Where("id = ?", id).
		Updates(updates).Error
	return attempts, dead, err
}

// FindLiveByVariantID returns the live record tracking the given catalog
// variant, or ErrNotFound. Deleted records are ignored so a re-created
// variant with a recycled ID resolves to the current record.
func FindLiveByVariantID(ctx context.Context, db *gorm.DB, variantID int64) (*domain.EphemeralVariant, error) {
	var rec domain.EphemeralVariant
	if err := db.WithContext(ctx).
		Where("variant_id = ? AND deleted_at IS NULL", variantID).
		First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// AppendVariantOrder marks the record as ordered and appends orderID to its
// order list. Ordered records are permanently excluded from cleanup. The
// append is idempotent per orderID so webhook redeliveries do not duplicate.
func AppendVariantOrder(ctx context.Context, db *gorm.DB, id, orderID string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec domain.EphemeralVariant
		if err := tx.Where("id = ?", id).First(&rec).Error; err != nil {
			return err
		}
		seen := false
		for _, existing := range rec.OrderIDs {
			if existing == orderID {
				seen = true
				break
			}
		}
		if seen && rec.IsOrdered {
			return nil
		}
		if !seen {
			rec.OrderIDs = append(rec.OrderIDs, orderID)
		}
		return tx.Model(&domain.EphemeralVariant{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"is_ordered": true,
				"order_ids":  rec.OrderIDs,
			}).Error
	})
}

// CountPastDueVariants returns how many live, non-ordered records are past
// their scheduled deletion time right now.
func CountPastDueVariants(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.EphemeralVariant{}).
		Where("deleted_at IS NULL AND is_ordered = ? AND dead_lettered_at IS NULL AND scheduled_deletion_at <= ?", false, now).
		Count(&total).Error
	return total, err
}

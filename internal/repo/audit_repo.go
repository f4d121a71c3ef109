// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides append and aggregate queries for the
// append-only AuditLogEntry model.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/emirhandeniz58/frame-customizer-v2/internal/domain"
)

// AppendAudit inserts one audit-log row. The ID is a randomly generated UUID
// when unset, and CreatedAt defaults to UTC now. Rows are never updated or
// deleted afterwards.
func AppendAudit(ctx context.Context, db *gorm.DB, entry *domain.AuditLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(entry).Error
}

// CountAuditActionsSince returns per-action row counts for entries created at
// or after since. Actions with no rows are absent from the map.
func CountAuditActionsSince(ctx context.Context, db *gorm.DB, since time.Time) (map[domain.AuditAction]int64, error) {
	var rows []struct {
		Action domain.AuditAction
		N      int64
	}
	err := db.WithContext(ctx).
		Model(&domain.AuditLogEntry{}).
		Select("action, count(*) as n").
		Where("created_at >= ?", since).
		Group("action").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[domain.AuditAction]int64, len(rows))
	for _, r := range rows {
		out[r.Action] = r.N
	}
	return out, nil
}

// RecentAuditErrors returns the most recent error-action entries, newest
// first, capped at limit.
func RecentAuditErrors(ctx context.Context, db *gorm.DB, limit int) ([]domain.AuditLogEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []domain.AuditLogEntry
	err := db.WithContext(ctx).
		Where("action = ?", domain.ActionError).
		Order("created_at desc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

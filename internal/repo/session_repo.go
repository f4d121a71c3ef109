// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides lookups for the ShopSession credential
// store.
package repo

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/emirhandeniz58/frame-customizer-v2/internal/domain"
)

// GetSession fetches the credential bundle for sessionID, or ErrNotFound.
func GetSession(ctx context.Context, db *gorm.DB, sessionID string) (*domain.ShopSession, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrNotFound
	}
	var sess domain.ShopSession
	if err := db.WithContext(ctx).Where("id = ?", sessionID).First(&sess).Error; err != nil {
		return nil, err
	}
	return &sess, nil
}

// SaveSession inserts or replaces the credential bundle for sess.ID.
func SaveSession(ctx context.Context, db *gorm.DB, sess *domain.ShopSession) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	sess.UpdatedAt = time.Now().UTC()
	return db.WithContext(ctx).Save(sess).Error
}

// Package domain defines the persistence models for ephemeral catalog
// variants, the append-only audit log, and shop sessions. These types are
// mapped with GORM and form the core data layer of the application.
package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// AuditAction enumerates the recorded audit-log actions.
type AuditAction string

// Audit-log actions written by the provisioner and the cleanup worker.
const (
	ActionCleanupRun     AuditAction = "cleanup_run"
	ActionDailyScan      AuditAction = "daily_scan"
	ActionDeleted        AuditAction = "deleted"
	ActionError          AuditAction = "error"
	ActionVariantCreated AuditAction = "variant_created"
	ActionAlarm          AuditAction = "alarm"
)

// StringList is an append-only list of strings stored as a JSON text column.
type StringList []string

// Value implements driver.Valuer by serializing the list to JSON.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner by deserializing a JSON text column.
func (l *StringList) Scan(src any) error {
	if src == nil {
		*l = nil
		return nil
	}
	switch v := src.(type) {
	case string:
		return json.Unmarshal([]byte(v), l)
	case []byte:
		return json.Unmarshal(v, l)
	default:
		return errors.New("unsupported source type for StringList")
	}
}

// EphemeralVariant tracks one customer-specific catalog variant that must be
// deleted after a bounded lifetime unless it was converted into an order.
//
// Invariants:
//   - DeletedAt moves at most once, from null to a timestamp.
//   - ScheduledDeletionAt is fixed at creation time.
//   - A record with IsOrdered = true is never selected for cleanup.
//   - CleanupAttempts only increments; it is never reset.
type EphemeralVariant struct {
	ID        string `json:"id"         gorm:"type:char(36);primaryKey"`
	ProductID int64  `json:"product_id" gorm:"not null;index"`
	VariantID int64  `json:"variant_id" gorm:"not null;index"`

	Width        int             `json:"width"         gorm:"not null"`
	Height       int             `json:"height"        gorm:"not null"`
	Material     string          `json:"material"      gorm:"type:varchar(64);not null"`
	ComputedArea int             `json:"computed_area" gorm:"not null"`
	Price        decimal.Decimal `json:"price"         gorm:"type:decimal(10,2);not null"`

	IsOrdered bool       `json:"is_ordered" gorm:"not null;default:false;index"`
	OrderIDs  StringList `json:"order_ids"  gorm:"type:text"`

	CleanupAttempts  int        `json:"cleanup_attempts" gorm:"not null;default:0"`
	LastCleanupError *string    `json:"-"                gorm:"type:text"`
	DeadLetteredAt   *time.Time `json:"-"                gorm:"index"`

	ShopDomain string `json:"shop_domain" gorm:"type:varchar(255);not null;index"`
	SessionID  string `json:"-"           gorm:"type:varchar(128);not null"`

	CreatedAt           time.Time  `json:"created_at"`
	ScheduledDeletionAt time.Time  `json:"scheduled_deletion_at" gorm:"not null;index"`
	DeletedAt           *time.Time `json:"deleted_at,omitempty"  gorm:"index"`
}

// TableName returns the database table name for EphemeralVariant.
func (EphemeralVariant) TableName() string { return "ephemeral_variants" }

// Live reports whether the record has not yet been logically deleted.
func (v *EphemeralVariant) Live() bool { return v.DeletedAt == nil }

// AuditLogEntry is one append-only operational log row. Entries are never
// updated or deleted; they double as the data source for the stats query.
//
// ProductID/VariantID form a weak reference to an EphemeralVariant (lookup
// only, no referential integrity).
type AuditLogEntry struct {
	ID           string      `json:"id"     gorm:"type:char(36);primaryKey"`
	Action       AuditAction `json:"action" gorm:"type:varchar(32);not null;index"`
	ProductID    *int64      `json:"product_id,omitempty"`
	VariantID    *int64      `json:"variant_id,omitempty"`
	Message      string      `json:"message" gorm:"type:text;not null"`
	ErrorDetails *string     `json:"error_details,omitempty" gorm:"type:text"`
	CreatedAt    time.Time   `json:"created_at" gorm:"index"`
}

// TableName returns the database table name for AuditLogEntry.
func (AuditLogEntry) TableName() string { return "audit_log_entries" }

// ShopSession is the credential bundle used to authenticate catalog API calls
// for one shop. Sessions are keyed by an opaque session identifier carried by
// foreground requests and stored on each EphemeralVariant so the cleanup
// worker can authenticate deletions later.
type ShopSession struct {
	ID          string    `json:"id"          gorm:"type:varchar(128);primaryKey"`
	ShopDomain  string    `json:"shop_domain" gorm:"type:varchar(255);not null;index"`
	AccessToken string    `json:"-"           gorm:"type:varchar(255);not null"`
	Scope       string    `json:"scope"       gorm:"type:varchar(255)"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for ShopSession.
func (ShopSession) TableName() string { return "shop_sessions" }

package repo

import (
	"context"
	"testing"
	"time"

	"github.com/emirhandeniz58/frame-customizer-v2/internal/domain"
)

func TestAppendAudit_FillsDefaults(t *testing.T) {
	db := newTestDB(t, "auditrepo_append")

	entry := &domain.AuditLogEntry{
		Action:  domain.ActionVariantCreated,
		Message: "variant 42 created",
	}
	if err := AppendAudit(context.Background(), db, entry); err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}
	if entry.ID == "" || entry.CreatedAt.IsZero() {
		t.Fatalf("expected defaults filled: %+v", entry)
	}

	var got domain.AuditLogEntry
	if err := db.Where("id = ?", entry.ID).First(&got).Error; err != nil {
		t.Fatalf("load entry: %v", err)
	}
	if got.Action != domain.ActionVariantCreated || got.Message != "variant 42 created" {
		t.Fatalf("unexpected row: %+v", got)
	}
}

func TestCountAuditActionsSince(t *testing.T) {
	db := newTestDB(t, "auditrepo_counts")
	ctx := context.Background()
	now := time.Now().UTC()

	appendAt := func(action domain.AuditAction, at time.Time) {
		t.Helper()
		if err := AppendAudit(ctx, db, &domain.AuditLogEntry{
			Action:    action,
			Message:   "x",
			CreatedAt: at,
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	appendAt(domain.ActionCleanupRun, now.Add(-1*time.Hour))
	appendAt(domain.ActionCleanupRun, now.Add(-2*time.Hour))
	appendAt(domain.ActionDeleted, now.Add(-3*time.Hour))
	// Outside the 24h window: must not be counted.
	appendAt(domain.ActionDeleted, now.Add(-30*time.Hour))

	counts, err := CountAuditActionsSince(ctx, db, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("CountAuditActionsSince: %v", err)
	}
	if counts[domain.ActionCleanupRun] != 2 {
		t.Fatalf("cleanup_run = %d; want 2", counts[domain.ActionCleanupRun])
	}
	if counts[domain.ActionDeleted] != 1 {
		t.Fatalf("deleted = %d; want 1", counts[domain.ActionDeleted])
	}
	if _, ok := counts[domain.ActionAlarm]; ok {
		t.Fatalf("alarm should be absent from counts")
	}
}

func TestRecentAuditErrors_OrderAndLimit(t *testing.T) {
	db := newTestDB(t, "auditrepo_errors")
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 15; i++ {
		if err := AppendAudit(ctx, db, &domain.AuditLogEntry{
			Action:    domain.ActionError,
			Message:   "boom",
			CreatedAt: now.Add(time.Duration(-i) * time.Minute),
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	// Non-error entries must not show up.
	if err := AppendAudit(ctx, db, &domain.AuditLogEntry{
		Action:    domain.ActionDeleted,
		Message:   "deleted",
		CreatedAt: now,
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := RecentAuditErrors(ctx, db, 10)
	if err != nil {
		t.Fatalf("RecentAuditErrors: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("expected 10 entries, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].CreatedAt.After(got[i-1].CreatedAt) {
			t.Fatalf("entries not ordered newest-first at index %d", i)
		}
	}
	for _, e := range got {
		if e.Action != domain.ActionError {
			t.Fatalf("non-error entry returned: %+v", e)
		}
	}

	// Limit <= 0 defaults to 10.
	got, err = RecentAuditErrors(ctx, db, 0)
	if err != nil || len(got) != 10 {
		t.Fatalf("default limit: len=%d err=%v", len(got), err)
	}
}

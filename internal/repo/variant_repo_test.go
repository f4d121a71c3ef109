package repo

import (
	"context"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/emirhandeniz58/frame-customizer-v2/internal/domain"
)

func newTestDB(t *testing.T, name string) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedVariant(t *testing.T, db *gorm.DB, mutate func(*domain.EphemeralVariant)) *domain.EphemeralVariant {
	t.Helper()
	now := time.Now().UTC()
	rec := &domain.EphemeralVariant{
		ProductID:           101,
		VariantID:           now.UnixNano(),
		Width:               20,
		Height:              30,
		Material:            "oak",
		ComputedArea:        600,
		Price:               decimal.RequireFromString("49.90"),
		ShopDomain:          "demo.myshopify.com",
		SessionID:           "sess-1",
		CreatedAt:           now,
		ScheduledDeletionAt: now.Add(2 * time.Hour),
	}
	if mutate != nil {
		mutate(rec)
	}
	if err := CreateEphemeralVariant(context.Background(), db, rec); err != nil {
		t.Fatalf("seed variant: %v", err)
	}
	return rec
}

func TestCreateEphemeralVariant_FillsDefaults(t *testing.T) {
	db := newTestDB(t, "variantrepo_create")
	rec := seedVariant(t, db, nil)
	if rec.ID == "" {
		t.Fatalf("expected generated ID")
	}

	got, err := GetEphemeralVariant(context.Background(), db, rec.ID)
	if err != nil {
		t.Fatalf("GetEphemeralVariant: %v", err)
	}
	if got.ComputedArea != 600 || got.Material != "oak" {
		t.Fatalf("unexpected row: %+v", got)
	}
	if !got.Price.Equal(decimal.RequireFromString("49.90")) {
		t.Fatalf("price round-trip = %s", got.Price)
	}
	if !got.Live() {
		t.Fatalf("new record should be live")
	}
}

func TestGetEphemeralVariant_NotFound(t *testing.T) {
	db := newTestDB(t, "variantrepo_missing")
	if _, err := GetEphemeralVariant(context.Background(), db, "nope"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindExpiredVariants_SelectionAndOrder(t *testing.T) {
	db := newTestDB(t, "variantrepo_expired")
	now := time.Now().UTC()

	// Due records, seeded out of order on purpose.
	late := seedVariant(t, db, func(v *domain.EphemeralVariant) {
		v.ScheduledDeletionAt = now.Add(-1 * time.Minute)
	})
	early := seedVariant(t, db, func(v *domain.EphemeralVariant) {
		v.ScheduledDeletionAt = now.Add(-3 * time.Hour)
	})
	mid := seedVariant(t, db, func(v *domain.EphemeralVariant) {
		v.ScheduledDeletionAt = now.Add(-1 * time.Hour)
	})

	// Excluded records: not yet due, ordered, already deleted, dead-lettered.
	seedVariant(t, db, func(v *domain.EphemeralVariant) {
		v.ScheduledDeletionAt = now.Add(1 * time.Hour)
	})
	seedVariant(t, db, func(v *domain.EphemeralVariant) {
		v.ScheduledDeletionAt = now.Add(-5 * time.Hour)
		v.IsOrdered = true
	})
	seedVariant(t, db, func(v *domain.EphemeralVariant) {
		v.ScheduledDeletionAt = now.Add(-5 * time.Hour)
		v.DeletedAt = &now
	})
	seedVariant(t, db, func(v *domain.EphemeralVariant) {
		v.ScheduledDeletionAt = now.Add(-5 * time.Hour)
		v.DeadLetteredAt = &now
	})

	got, err := FindExpiredVariants(context.Background(), db, now)
	if err != nil {
		t.Fatalf("FindExpiredVariants: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 due records, got %d", len(got))
	}
	if got[0].ID != early.ID || got[1].ID != mid.ID || got[2].ID != late.ID {
		t.Fatalf("expected oldest-expired-first order, got %s, %s, %s",
			got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestFindExpiredVariants_OrderedNeverSelected(t *testing.T) {
	db := newTestDB(t, "variantrepo_ordered")
	now := time.Now().UTC()

	// Ordered record expired long ago; must never be selected.
	seedVariant(t, db, func(v *domain.EphemeralVariant) {
		v.ScheduledDeletionAt = now.Add(-100 * 24 * time.Hour)
		v.IsOrdered = true
	})

	got, err := FindExpiredVariants(context.Background(), db, now)
	if err != nil {
		t.Fatalf("FindExpiredVariants: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("ordered record selected for cleanup: %+v", got)
	}
}

func TestFindExpiredVariants_ScheduleBoundary(t *testing.T) {
	db := newTestDB(t, "variantrepo_boundary")
	t0 := time.Now().UTC().Truncate(time.Second)

	rec := seedVariant(t, db, func(v *domain.EphemeralVariant) {
		v.CreatedAt = t0
		v.ScheduledDeletionAt = t0.Add(2 * time.Hour)
	})

	// One hour in: not due yet.
	got, err := FindExpiredVariants(context.Background(), db, t0.Add(1*time.Hour))
	if err != nil {
		t.Fatalf("FindExpiredVariants: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("record selected before its scheduled deletion time")
	}

	// One second past the window: due.
	got, err = FindExpiredVariants(context.Background(), db, t0.Add(2*time.Hour+time.Second))
	if err != nil {
		t.Fatalf("FindExpiredVariants: %v", err)
	}
	if len(got) != 1 || got[0].ID != rec.ID {
		t.Fatalf("record not selected after its scheduled deletion time")
	}
}

func TestFindStaleVariants(t *testing.T) {
	db := newTestDB(t, "variantrepo_stale")
	now := time.Now().UTC()

	old := seedVariant(t, db, func(v *domain.EphemeralVariant) {
		v.CreatedAt = now.Add(-30 * time.Hour)
		// Scheduled deletion far in the future: stale scan must still catch it.
		v.ScheduledDeletionAt = now.Add(100 * time.Hour)
	})
	seedVariant(t, db, func(v *domain.EphemeralVariant) {
		v.CreatedAt = now.Add(-1 * time.Hour)
	})
	seedVariant(t, db, func(v *domain.EphemeralVariant) {
		v.CreatedAt = now.Add(-30 * time.Hour)
		v.IsOrdered = true
	})

	got, err := FindStaleVariants(context.Background(), db, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("FindStaleVariants: %v", err)
	}
	if len(got) != 1 || got[0].ID != old.ID {
		t.Fatalf("expected only the 30h-old live record, got %+v", got)
	}
}

func TestMarkVariantDeleted_SetAtMostOnce(t *testing.T) {
	db := newTestDB(t, "variantrepo_markdel")
	rec := seedVariant(t, db, nil)

	first := time.Now().UTC().Truncate(time.Second)
	if err := MarkVariantDeleted(context.Background(), db, rec.ID, first); err != nil {
		t.Fatalf("MarkVariantDeleted: %v", err)
	}
	got, _ := GetEphemeralVariant(context.Background(), db, rec.ID)
	if got.DeletedAt == nil || !got.DeletedAt.Equal(first) {
		t.Fatalf("DeletedAt = %v; want %v", got.DeletedAt, first)
	}

	// A second mark is a no-op, not an error; the timestamp is preserved.
	if err := MarkVariantDeleted(context.Background(), db, rec.ID, first.Add(time.Hour)); err != nil {
		t.Fatalf("second MarkVariantDeleted: %v", err)
	}
	got, _ = GetEphemeralVariant(context.Background(), db, rec.ID)
	if !got.DeletedAt.Equal(first) {
		t.Fatalf("DeletedAt moved on re-mark: %v", got.DeletedAt)
	}
}

func TestRecordCleanupFailure_IncrementsAndDeadLetters(t *testing.T) {
	db := newTestDB(t, "variantrepo_fail")
	rec := seedVariant(t, db, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	attempts, dead, err := RecordCleanupFailure(ctx, db, rec.ID, "boom", 3, now)
	if err != nil || attempts != 1 || dead {
		t.Fatalf("first failure: attempts=%d dead=%v err=%v", attempts, dead, err)
	}
	attempts, dead, err = RecordCleanupFailure(ctx, db, rec.ID, "boom again", 3, now)
	if err != nil || attempts != 2 || dead {
		t.Fatalf("second failure: attempts=%d dead=%v err=%v", attempts, dead, err)
	}
	attempts, dead, err = RecordCleanupFailure(ctx, db, rec.ID, "still broken", 3, now)
	if err != nil || attempts != 3 || !dead {
		t.Fatalf("third failure should dead-letter: attempts=%d dead=%v err=%v", attempts, dead, err)
	}

	got, _ := GetEphemeralVariant(ctx, db, rec.ID)
	if got.CleanupAttempts != 3 {
		t.Fatalf("CleanupAttempts = %d; want 3", got.CleanupAttempts)
	}
	if got.LastCleanupError == nil || *got.LastCleanupError != "still broken" {
		t.Fatalf("LastCleanupError = %v", got.LastCleanupError)
	}
	if got.DeadLetteredAt == nil {
		t.Fatalf("expected DeadLetteredAt to be set")
	}

	// Dead-lettered records fall out of the sweep selection.
	due, err := FindExpiredVariants(ctx, db, now.Add(10*time.Hour))
	if err != nil {
		t.Fatalf("FindExpiredVariants: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("dead-lettered record still selected: %+v", due)
	}
}

func TestRecordCleanupFailure_UncappedNeverDeadLetters(t *testing.T) {
	db := newTestDB(t, "variantrepo_uncapped")
	rec := seedVariant(t, db, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 1; i <= 5; i++ {
		attempts, dead, err := RecordCleanupFailure(ctx, db, rec.ID, "err", 0, now)
		if err != nil || attempts != i || dead {
			t.Fatalf("attempt %d: attempts=%d dead=%v err=%v", i, attempts, dead, err)
		}
	}
}

func TestAppendVariantOrder(t *testing.T) {
	db := newTestDB(t, "variantrepo_order")
	rec := seedVariant(t, db, nil)
	ctx := context.Background()

	if err := AppendVariantOrder(ctx, db, rec.ID, "order-1"); err != nil {
		t.Fatalf("AppendVariantOrder: %v", err)
	}
	if err := AppendVariantOrder(ctx, db, rec.ID, "order-2"); err != nil {
		t.Fatalf("AppendVariantOrder: %v", err)
	}

	got, _ := GetEphemeralVariant(ctx, db, rec.ID)
	if !got.IsOrdered {
		t.Fatalf("expected IsOrdered after append")
	}
	if len(got.OrderIDs) != 2 || got.OrderIDs[0] != "order-1" || got.OrderIDs[1] != "order-2" {
		t.Fatalf("OrderIDs = %v", got.OrderIDs)
	}

	// Redelivering the same order must not duplicate it.
	if err := AppendVariantOrder(ctx, db, rec.ID, "order-1"); err != nil {
		t.Fatalf("AppendVariantOrder redelivery: %v", err)
	}
	got, _ = GetEphemeralVariant(ctx, db, rec.ID)
	if len(got.OrderIDs) != 2 {
		t.Fatalf("OrderIDs after redelivery = %v", got.OrderIDs)
	}
}

func TestFindLiveByVariantID(t *testing.T) {
	db := newTestDB(t, "variantrepo_byvariant")
	ctx := context.Background()
	now := time.Now().UTC()

	// Deleted record for the same catalog variant is skipped.
	seedVariant(t, db, func(v *domain.EphemeralVariant) {
		v.VariantID = 900
		v.DeletedAt = &now
	})
	live := seedVariant(t, db, func(v *domain.EphemeralVariant) {
		v.VariantID = 900
	})

	got, err := FindLiveByVariantID(ctx, db, 900)
	if err != nil {
		t.Fatalf("FindLiveByVariantID: %v", err)
	}
	if got.ID != live.ID {
		t.Fatalf("got record %s, want %s", got.ID, live.ID)
	}

	if _, err := FindLiveByVariantID(ctx, db, 999); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCountPastDueVariants(t *testing.T) {
	db := newTestDB(t, "variantrepo_pastdue")
	now := time.Now().UTC()

	seedVariant(t, db, func(v *domain.EphemeralVariant) {
		v.ScheduledDeletionAt = now.Add(-time.Minute)
	})
	seedVariant(t, db, func(v *domain.EphemeralVariant) {
		v.ScheduledDeletionAt = now.Add(time.Hour)
	})
	seedVariant(t, db, func(v *domain.EphemeralVariant) {
		v.ScheduledDeletionAt = now.Add(-time.Hour)
		v.IsOrdered = true
	})

	n, err := CountPastDueVariants(context.Background(), db, now)
	if err != nil {
		t.Fatalf("CountPastDueVariants: %v", err)
	}
	if n != 1 {
		t.Fatalf("past due = %d; want 1", n)
	}
}

package repo

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestIdempotency_CreateAndGet(t *testing.T) {
	db := newTestDB(t, "idemrepo_roundtrip")
	ctx := context.Background()

	rec, err := CreateIdempotency(ctx, db, "sess-1", "key-1", 42, 201, time.Hour)
	if err != nil {
		t.Fatalf("CreateIdempotency: %v", err)
	}
	if rec.VariantID != 42 || rec.Status != 201 {
		t.Fatalf("unexpected record: %+v", rec)
	}

	got, err := GetIdempotency(ctx, db, "sess-1", "key-1", time.Now().UTC())
	if err != nil {
		t.Fatalf("GetIdempotency: %v", err)
	}
	if got.VariantID != 42 {
		t.Fatalf("VariantID = %d; want 42", got.VariantID)
	}
}

func TestIdempotency_Duplicate(t *testing.T) {
	db := newTestDB(t, "idemrepo_dup")
	ctx := context.Background()

	if _, err := CreateIdempotency(ctx, db, "sess-1", "key-1", 1, 201, time.Hour); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := CreateIdempotency(ctx, db, "sess-1", "key-1", 2, 201, time.Hour); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestIdempotency_ExpiredNotReturned(t *testing.T) {
	db := newTestDB(t, "idemrepo_expired")
	ctx := context.Background()

	if _, err := CreateIdempotency(ctx, db, "sess-1", "key-1", 1, 201, time.Millisecond); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := GetIdempotency(ctx, db, "sess-1", "key-1", time.Now().UTC().Add(time.Second)); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for expired record, got %v", err)
	}
}

func TestIdempotency_BlankSession(t *testing.T) {
	db := newTestDB(t, "idemrepo_blank")
	if _, err := GetIdempotency(context.Background(), db, "", "k", time.Now()); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

package repo

import (
	"context"
	"testing"

	"github.com/emirhandeniz58/frame-customizer-v2/internal/domain"
)

func TestGetSession_EmptyID(t *testing.T) {
	db := newTestDB(t, "sessionrepo_empty")
	if _, err := GetSession(context.Background(), db, "   "); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for blank session id, got %v", err)
	}
}

func TestSaveAndGetSession(t *testing.T) {
	db := newTestDB(t, "sessionrepo_roundtrip")
	ctx := context.Background()

	sess := &domain.ShopSession{
		ID:          "sess-abc",
		ShopDomain:  "demo.myshopify.com",
		AccessToken: "shpat_secret",
		Scope:       "write_products",
	}
	if err := SaveSession(ctx, db, sess); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	got, err := GetSession(ctx, db, "sess-abc")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.ShopDomain != "demo.myshopify.com" || got.AccessToken != "shpat_secret" {
		t.Fatalf("unexpected session: %+v", got)
	}

	// Save again updates in place.
	sess.AccessToken = "shpat_rotated"
	if err := SaveSession(ctx, db, sess); err != nil {
		t.Fatalf("SaveSession update: %v", err)
	}
	got, _ = GetSession(ctx, db, "sess-abc")
	if got.AccessToken != "shpat_rotated" {
		t.Fatalf("token not updated: %+v", got)
	}
}

func TestGetSession_Missing(t *testing.T) {
	db := newTestDB(t, "sessionrepo_missing")
	if _, err := GetSession(context.Background(), db, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

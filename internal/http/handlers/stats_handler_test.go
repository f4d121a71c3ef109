package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/emirhandeniz58/frame-customizer-v2/internal/cleanup"
	"github.com/emirhandeniz58/frame-customizer-v2/internal/domain"
	"github.com/emirhandeniz58/frame-customizer-v2/internal/repo"
)

func TestCleanupStats(t *testing.T) {
	db := newHandlerTestDB(t)
	ctx := context.Background()

	if err := repo.AppendAudit(ctx, db, &domain.AuditLogEntry{
		Action:  domain.ActionCleanupRun,
		Message: "cleanup run: scanned 2, deleted 2, failed 0",
	}); err != nil {
		t.Fatalf("seed audit: %v", err)
	}

	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := New(nil, db)
	r.GET("/cleanup/stats", h.CleanupStats)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/cleanup/stats", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var stats cleanup.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if stats.ActionCounts[domain.ActionCleanupRun] != 1 {
		t.Fatalf("action counts = %v", stats.ActionCounts)
	}
	if stats.GeneratedAt.IsZero() {
		t.Fatal("expected a generation timestamp")
	}
}

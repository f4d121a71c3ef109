package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRateLimiter_AllowsBurstThenDenies(t *testing.T) {
	r := newTestEngine()
	rl := NewRateLimiter(0.0001, 2, KeyBySessionOrIP())
	r.Use(SessionID(), rl.Handler())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set(sessionIDHeader, "sess-rl")
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Fatalf("burst requests should pass, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("third request should be limited, got %v", codes)
	}
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	r := newTestEngine()
	rl := NewRateLimiter(0.0001, 1, KeyBySessionOrIP())
	r.Use(SessionID(), rl.Handler())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(session string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set(sessionIDHeader, session)
		r.ServeHTTP(w, req)
		return w.Code
	}

	if got := do("sess-a"); got != http.StatusOK {
		t.Fatalf("first request for sess-a = %d", got)
	}
	if got := do("sess-a"); got != http.StatusTooManyRequests {
		t.Fatalf("second request for sess-a = %d, want 429", got)
	}
	if got := do("sess-b"); got != http.StatusOK {
		t.Fatalf("sess-b must have its own bucket, got %d", got)
	}
}

func TestRateLimiter_DeniedResponseShape(t *testing.T) {
	r := newTestEngine()
	rl := NewRateLimiter(0.0001, 1, KeyBySessionOrIP())
	r.Use(RequestID(), rl.Handler())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		if i == 1 {
			if w.Code != http.StatusTooManyRequests {
				t.Fatalf("status = %d, want 429", w.Code)
			}
			if w.Header().Get("Retry-After") != "1" {
				t.Fatalf("Retry-After = %q, want \"1\"", w.Header().Get("Retry-After"))
			}
		}
	}
}

func TestRateLimiter_ReplayBypassesLimit(t *testing.T) {
	r := newTestEngine()
	rl := NewRateLimiter(0.0001, 1, KeyBySessionOrIP())
	r.Use(func(c *gin.Context) {
		c.Set(ctxKeyRateBypass, true)
		c.Next()
	}, rl.Handler())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d with bypass flag = %d, want 200", i, w.Code)
		}
	}
}

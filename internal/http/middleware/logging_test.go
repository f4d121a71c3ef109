package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func newTestEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	return r
}

func TestRequestID_GeneratesWhenAbsent(t *testing.T) {
	r := newTestEngine()
	r.Use(RequestID())

	var seen string
	r.GET("/ping", func(c *gin.Context) {
		v, _ := c.Get(requestIDKey)
		seen, _ = v.(string)
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	r.ServeHTTP(w, req)

	if seen == "" {
		t.Fatal("expected a generated request ID in the context")
	}
	if got := w.Header().Get(requestIDHeader); got != seen {
		t.Fatalf("response header = %q, context value = %q", got, seen)
	}
}

func TestRequestID_PropagatesIncoming(t *testing.T) {
	r := newTestEngine()
	r.Use(RequestID())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(requestIDHeader, "rid-123")
	r.ServeHTTP(w, req)

	if got := w.Header().Get(requestIDHeader); got != "rid-123" {
		t.Fatalf("expected propagated ID rid-123, got %q", got)
	}
}

func TestSessionID_StoresHeaderValue(t *testing.T) {
	r := newTestEngine()
	r.Use(SessionID())

	var got string
	var present bool
	r.GET("/ping", func(c *gin.Context) {
		v, ok := c.Get(sessionIDKey)
		present = ok
		got, _ = v.(string)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(sessionIDHeader, "  sess-42  ")
	r.ServeHTTP(w, req)

	if !present || got != "sess-42" {
		t.Fatalf("expected trimmed session ID sess-42 in context, got %q (present=%v)", got, present)
	}
}

func TestSessionID_AbsentHeaderLeavesContextEmpty(t *testing.T) {
	r := newTestEngine()
	r.Use(SessionID())

	var present bool
	r.GET("/ping", func(c *gin.Context) {
		_, present = c.Get(sessionIDKey)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if present {
		t.Fatal("expected no session ID in context")
	}
}

func TestRecovery_ReturnsJSON500(t *testing.T) {
	r := newTestEngine()
	r.Use(RequestID(), Recovery())
	r.GET("/boom", func(c *gin.Context) { panic("kaboom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if body := w.Body.String(); body == "" {
		t.Fatal("expected a JSON error body")
	}
}

func TestLoggerFrom_FallbackWithoutMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if LoggerFrom(c) == nil {
		t.Fatal("expected a fallback logger, got nil")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdef", 4); got != "abcd…" {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("abc", 10); got != "abc" {
		t.Fatalf("short strings must pass through, got %q", got)
	}
	if got := truncate("abc", 0); got != "abc" {
		t.Fatalf("max<=0 must disable truncation, got %q", got)
	}
}

// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the standard response utilities used across all endpoints,
// including structured error envelopes, consistent JSON serialization, and
// helpers for common HTTP patterns. The goal is to guarantee uniform responses
// for both success and failure cases, making the API predictable and
// machine-friendly.
//
// Conventions:
//   - All error responses must return an ErrorResponse with a stable `code`.
//   - `fail()` centralizes error logging and formatting, ensuring 5xx responses
//     are logged with request context for observability.
//   - `ok()` simplifies writing success responses in a consistent shape.
//
// Example error response:
//
//	HTTP/1.1 409 Conflict
//	Retry-After: 2
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "conflict",
//	  "message": "a request for this configuration is already running",
//	  "retry_after_ms": 1800
//	}
package handlers

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/emirhandeniz58/frame-customizer-v2/internal/http/middleware"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
//
// Fields:
//   - RequestID: Optional correlation ID, echoed from X-Request-ID header, used
//     to correlate server logs with client-side errors.
//   - Code: A stable, machine-readable string (see errors.go constants).
//   - Message: A human-readable error description, safe for display to users.
//   - Field: Set on validation errors, names the offending input field.
//   - RetryAfterMS: Set on conflict responses, the suggested wait before retry.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"conflict"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"a request for this configuration is already running"`
	// Offending input field on validation errors
	Field string `json:"field,omitempty" example:"price"`
	// Suggested retry delay in milliseconds on conflicts
	RetryAfterMS int64 `json:"retry_after_ms,omitempty" example:"1800"`
}

// fail aborts the request with a structured error and logs server-side errors.
//
// It constructs an ErrorResponse, writes it as JSON with the given HTTP status,
// and calls gin.Context.AbortWithStatusJSON to stop further processing.
//
// Server errors (>=500) are logged using the request-scoped logger from middleware.
func fail(c *gin.Context, status int, code, msg string) {
	failWith(c, status, ErrorResponse{Code: code, Message: msg})
}

// failField is fail() with the offending input field attached.
func failField(c *gin.Context, status int, code, msg, field string) {
	failWith(c, status, ErrorResponse{Code: code, Message: msg, Field: field})
}

// failRetry is fail() with a Retry-After header and retry hint attached.
// The header value is rounded up to whole seconds per RFC 9110.
func failRetry(c *gin.Context, status int, code, msg string, retryAfter time.Duration) {
	secs := int64(math.Ceil(retryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	c.Header("Retry-After", strconv.FormatInt(secs, 10))
	failWith(c, status, ErrorResponse{Code: code, Message: msg, RetryAfterMS: retryAfter.Milliseconds()})
}

func failWith(c *gin.Context, status int, resp ErrorResponse) {
	resp.RequestID = c.Writer.Header().Get("X-Request-ID")

	// Log 5xx (server-side) with request-scoped logger
	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().
			Int("status", status).
			Str("code", resp.Code).
			Str("message", resp.Message).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail().
//
// External packages (e.g., router setup) should call Fail to return
// consistent error envelopes without directly depending on unexported helpers.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

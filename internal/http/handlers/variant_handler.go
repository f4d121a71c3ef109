// Variant HTTP handlers.
//
// This file exposes the REST endpoint for provisioning ephemeral variants:
//   - POST /variants   (create or reuse a variant for a frame configuration)
//
// Handlers are transport-thin:
//   - resolve the caller's session (X-Session-ID header)
//   - delegate to the application service (ProvisionService)
//   - translate the service error taxonomy into HTTP status codes
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// result exists for (session, key), the handler returns the recorded variant
// and sets `Idempotency-Replayed: true`.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/emirhandeniz58/frame-customizer-v2/internal/catalog"
	"github.com/emirhandeniz58/frame-customizer-v2/internal/http/middleware"
	"github.com/emirhandeniz58/frame-customizer-v2/internal/repo"
	"github.com/emirhandeniz58/frame-customizer-v2/internal/services"
)

//
// Service contracts (context-aware)
//

// VariantProvisioner defines the provisioning operation consumed by HTTP
// handlers. Implementations should be safe for concurrent use and must honor
// the provided context for cancellation and timeouts.
type VariantProvisioner interface {
	// Provision validates the input and serves an existing or newly created
	// catalog variant for the configuration.
	Provision(ctx context.Context, in services.ProvisionInput) (*services.ProvisionResult, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for variant provisioning, order webhooks,
// and cleanup stats. It depends on abstract service interfaces to keep
// transport concerns separate from business logic.
type Handlers struct {
	provSvc VariantProvisioner
	db      *gorm.DB
}

// New constructs and returns a Handlers instance bound to the given service
// and database handle.
func New(provSvc VariantProvisioner, db *gorm.DB) *Handlers {
	return &Handlers{provSvc: provSvc, db: db}
}

// sessionID extracts the caller's session identifier from the Gin context
// (set by upstream middleware) or the "X-Session-ID" header. Empty when the
// request carries no session.
func sessionID(c *gin.Context) string {
	if v, ok := c.Get("sessionID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		return strings.TrimSpace(c.GetHeader("X-Session-ID"))
	}
	return ""
}

//
// DTOs
//

// ProvisionVariantRequest is the JSON payload for provisioning a variant.
// Dimensions and price arrive as strings and are validated by the service.
type ProvisionVariantRequest struct {
	// ProductID is the catalog product the variant is added to.
	ProductID int64 `json:"product_id" binding:"required" example:"8812667345112"`
	// Width of the frame.
	Width string `json:"width" binding:"required" example:"200"`
	// Height of the frame.
	Height string `json:"height" binding:"required" example:"300"`
	// Material of the frame (e.g. "oak").
	Material string `json:"material" binding:"required" example:"oak"`
	// Price as a decimal string.
	Price string `json:"price" binding:"required" example:"49.90"`
}

// ProvisionVariantResponse is the JSON envelope for a provisioned variant.
type ProvisionVariantResponse struct {
	// Variant is the catalog variant serving this configuration.
	Variant *catalog.Variant `json:"variant"`
	// Price the variant carries, as a decimal string.
	Price string `json:"price"`
	// PriceSettled is false when the catalog has not yet confirmed the price.
	PriceSettled bool `json:"price_settled"`
	// Reused is true when an existing variant was served.
	Reused bool `json:"reused"`
	// RecordID identifies the cleanup record; empty on the reuse path.
	RecordID string `json:"record_id,omitempty"`
	// ExpiresAt is when the variant becomes eligible for cleanup.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

//
// Handlers
//

// ProvisionVariant creates or reuses a catalog variant for one frame
// configuration.
func (h *Handlers) ProvisionVariant(c *gin.Context) {
	ctx := c.Request.Context()

	sid := sessionID(c)
	if sid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "session required")
		return
	}

	var req ProvisionVariantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "product_id, width, height, material and price are required")
		return
	}

	// Idempotency (replay path): read the key the validator stashed, if any.
	idemKey, _ := middleware.GetIdempotencyKey(c)
	if idemKey != "" && h.db != nil {
		if rec, err := repo.GetIdempotency(ctx, h.db, sid, idemKey, time.Now().UTC()); err == nil && rec != nil {
			if resp, ok2 := h.replayResponse(ctx, rec.VariantID); ok2 {
				c.Header("Idempotency-Replayed", "true")
				ok(c, rec.Status, resp)
				return
			}
		}
	}

	res, err := h.provSvc.Provision(ctx, services.ProvisionInput{
		ProductID: req.ProductID,
		Width:     req.Width,
		Height:    req.Height,
		Material:  req.Material,
		Price:     req.Price,
		SessionID: sid,
	})
	if err != nil {
		h.failProvision(c, err)
		return
	}

	resp := ProvisionVariantResponse{
		Variant:      res.Variant,
		Price:        res.Price.StringFixed(2),
		PriceSettled: res.PriceSettled,
		Reused:       res.Reused,
	}
	if res.Record != nil {
		resp.RecordID = res.Record.ID
		resp.ExpiresAt = &res.Record.ScheduledDeletionAt
	}

	// Idempotency (store path): best effort.
	if idemKey != "" && h.db != nil {
		_, _ = repo.CreateIdempotency(ctx, h.db, sid, idemKey, res.Variant.ID, http.StatusOK, 24*time.Hour)
	}

	ok(c, http.StatusOK, resp)
}

// failProvision maps the service error taxonomy onto HTTP responses.
func (h *Handlers) failProvision(c *gin.Context, err error) {
	var ve *services.ValidationError
	var ce *services.ConflictError
	switch {
	case errors.As(err, &ve):
		failField(c, http.StatusBadRequest, ErrCodeValidation, ve.Error(), ve.Field)
	case errors.As(err, &ce):
		failRetry(c, http.StatusConflict, ErrCodeConflict,
			"a request for this configuration is already running", ce.RetryAfter)
	case errors.Is(err, services.ErrSessionNotFound):
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "unknown session")
	case errors.Is(err, services.ErrTimeout):
		fail(c, http.StatusGatewayTimeout, ErrCodeTimeout, "catalog request timed out; please retry")
	case errors.Is(err, services.ErrCreationFailed):
		msg := "variant creation failed"
		if gin.Mode() != gin.ReleaseMode {
			msg = err.Error()
		}
		fail(c, http.StatusBadGateway, ErrCodeCreateFailed, msg)
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

// replayResponse rebuilds a provisioning response from the stored cleanup
// record for an idempotent replay. Reused provisions leave no record, so a
// replay is only possible for created variants; otherwise the request is
// processed normally (the dedup guard has long expired by then).
func (h *Handlers) replayResponse(ctx context.Context, variantID int64) (ProvisionVariantResponse, bool) {
	rec, err := repo.FindLiveByVariantID(ctx, h.db, variantID)
	if err != nil {
		return ProvisionVariantResponse{}, false
	}
	opt1 := strconv.Itoa(rec.Width)
	opt2 := strconv.Itoa(rec.Height)
	return ProvisionVariantResponse{
		Variant: &catalog.Variant{
			ID:        rec.VariantID,
			ProductID: rec.ProductID,
			Price:     rec.Price,
			Option1:   opt1,
			Option2:   opt2,
			Option3:   rec.Material,
		},
		Price:        rec.Price.StringFixed(2),
		PriceSettled: true,
		RecordID:     rec.ID,
		ExpiresAt:    &rec.ScheduledDeletionAt,
	}, true
}

// Order webhook handler.
//
// The shop platform calls POST /webhooks/orders when an order is placed.
// Any ephemeral variant appearing in the order's line items is marked as
// ordered, which permanently excludes it from cleanup: a variant a customer
// bought must survive so the order keeps rendering correctly.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/emirhandeniz58/frame-customizer-v2/internal/http/middleware"
	"github.com/emirhandeniz58/frame-customizer-v2/internal/repo"
)

// OrderWebhookRequest mirrors the platform's order payload, reduced to the
// fields this service needs.
type OrderWebhookRequest struct {
	// ID is the platform's order identifier.
	ID int64 `json:"id" binding:"required"`
	// LineItems carry the purchased variants.
	LineItems []OrderLineItem `json:"line_items"`
}

// OrderLineItem is one purchased variant inside an order.
type OrderLineItem struct {
	VariantID int64 `json:"variant_id"`
}

// OrderWebhookResponse reports how many tracked variants were retained.
type OrderWebhookResponse struct {
	Retained int `json:"retained"`
}

// OrderWebhook marks every tracked variant in the order as ordered. Line
// items that reference untracked variants (regular, permanent variants) are
// skipped; a failure on one line item does not fail the webhook, since the
// platform retries the whole delivery on non-2xx responses.
func (h *Handlers) OrderWebhook(c *gin.Context) {
	ctx := c.Request.Context()

	var req OrderWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "order id required")
		return
	}

	orderID := strconv.FormatInt(req.ID, 10)
	retained := 0
	for _, item := range req.LineItems {
		if item.VariantID == 0 {
			continue
		}
		rec, err := repo.FindLiveByVariantID(ctx, h.db, item.VariantID)
		if err != nil {
			if !errors.Is(err, repo.ErrNotFound) {
				middleware.LoggerFrom(c).Warn().
					Err(err).
					Int64("variant_id", item.VariantID).
					Msg("order webhook lookup failed")
			}
			continue
		}
		if err := repo.AppendVariantOrder(ctx, h.db, rec.ID, orderID); err != nil {
			middleware.LoggerFrom(c).Warn().
				Err(err).
				Str("record_id", rec.ID).
				Msg("order webhook retain failed")
			continue
		}
		retained++
	}

	ok(c, http.StatusOK, OrderWebhookResponse{Retained: retained})
}

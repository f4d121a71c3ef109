// Cleanup stats handler.
//
// Exposes GET /cleanup/stats, the operational snapshot backing the admin
// dashboard: per-action audit counts over the last day, the most recent
// failures, and the number of currently overdue records.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/emirhandeniz58/frame-customizer-v2/internal/cleanup"
)

// CleanupStats returns the cleanup worker's operational snapshot.
func (h *Handlers) CleanupStats(c *gin.Context) {
	stats, err := cleanup.QueryStats(c.Request.Context(), h.db)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeStatsFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, stats)
}

package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// CacheStats godoc
// @Summary      Cache statistics
// @Tags         psa-lookup
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /psa-lookup/cache/stats [get]
func (h *Handler) CacheStats(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.cache-stats")
	defer span.End()

	stats, err := h.lookup.CacheStats(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": stats})
}

// ClearCache godoc
// @Summary      Clear the lookup cache
// @Tags         psa-lookup
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /psa-lookup/cache/clear [post]
func (h *Handler) ClearCache(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.clear-cache")
	defer span.End()

	if err := h.lookup.ClearCache(ctx); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "cache cleared"})
}

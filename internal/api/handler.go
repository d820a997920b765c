package api

import (
	"net/http"
	"strconv"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"

	"recycling-sorter/internal/snapshot"
	"recycling-sorter/internal/store"
)

// SnapshotSource provides the latest controller snapshot.
type SnapshotSource interface {
	Load() *snapshot.Snapshot
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store     store.Store
	snapshots SnapshotSource
	webpush   *webpush.Options
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, snapshots SnapshotSource, webpushOptions *webpush.Options) *Handler {
	return &Handler{
		store:     s,
		snapshots: snapshots,
		webpush:   webpushOptions,
	}
}

// queryLimit parses the "limit" query parameter, clamped to [1, upper].
func queryLimit(c *gin.Context, def, upper int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return 0, false
	}
	if n > upper {
		n = upper
	}
	return n, true
}

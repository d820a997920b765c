package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"recycling-sorter/internal/bins"
	"recycling-sorter/internal/model"
)

// GetBins handles GET /api/bins.
func (h *Handler) GetBins(c *gin.Context) {
	views, err := h.store.ListBins(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve bins"})
		return
	}
	c.JSON(http.StatusOK, views)
}

type transitionResponse struct {
	Full        bool       `json:"full"`
	ObservedAt  time.Time  `json:"observedAt"`
	PeriodStart *time.Time `json:"periodStart"`
}

// GetBinHistory handles GET /api/bins/:bin/history?limit=N.
func (h *Handler) GetBinHistory(c *gin.Context) {
	id, err := bins.Parse(c.Param("bin"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit, ok := queryLimit(c, 50, 500)
	if !ok {
		return
	}

	history, err := h.store.BinHistory(c.Request.Context(), model.BinKey(id), limit)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve bin history"})
		return
	}

	response := make([]transitionResponse, 0, len(history))
	for _, t := range history {
		r := transitionResponse{Full: t.Full, ObservedAt: t.ObservedAt}
		if !t.PeriodStart.IsZero() {
			start := t.PeriodStart
			r.PeriodStart = &start
		}
		response = append(response, r)
	}
	c.JSON(http.StatusOK, gin.H{"bin": id.String(), "transitions": response})
}

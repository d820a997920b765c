package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"recycling-sorter/internal/classifier"
)

type sortResponse struct {
	ID          string    `json:"id"`
	Category    string    `json:"category"`
	Confidence  float64   `json:"confidence"`
	Fallback    bool      `json:"fallback"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
}

// GetSorts handles GET /api/sorts?limit=N.
func (h *Handler) GetSorts(c *gin.Context) {
	limit, ok := queryLimit(c, 20, 200)
	if !ok {
		return
	}

	records, err := h.store.RecentSorts(c.Request.Context(), limit)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve sorts"})
		return
	}

	response := make([]sortResponse, 0, len(records))
	for _, r := range records {
		response = append(response, sortResponse{
			ID:          r.ID,
			Category:    r.Category,
			Confidence:  r.Confidence,
			Fallback:    r.Fallback,
			StartedAt:   r.StartedAt,
			CompletedAt: r.CompletedAt,
		})
	}
	c.JSON(http.StatusOK, response)
}

// GetSortStats handles GET /api/sorts/stats?since=RFC3339. Without since it
// counts the last 24 hours.
func (h *Handler) GetSortStats(c *gin.Context) {
	since := time.Now().UTC().Add(-24 * time.Hour)
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid 'since' timestamp format. Use RFC3339."})
			return
		}
		since = t
	}

	counts, err := h.store.SortCounts(c.Request.Context(), since)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to count sorts"})
		return
	}

	// every category is present, even when nothing was sorted into it
	out := make(map[string]int64, len(classifier.Categories))
	var total int64
	for _, cat := range classifier.Categories {
		n := counts[cat.String()]
		out[cat.String()] = n
		total += n
	}
	c.JSON(http.StatusOK, gin.H{"since": since, "total": total, "counts": out})
}

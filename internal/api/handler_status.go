package api

import (
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
)

type climateResponse struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
}

// statusResponse is the flattened snapshot served to displays.
type statusResponse struct {
	Classification *string          `json:"classification"`
	ClassifiedAt   *time.Time       `json:"classifiedAt,omitempty"`
	Bins           map[string]bool  `json:"bins"`
	Climate        *climateResponse `json:"climate"`
	HasImage       bool             `json:"hasImage"`
	UpdatedAt      *time.Time       `json:"updatedAt,omitempty"`
}

// GetStatus handles GET /api/status.
func (h *Handler) GetStatus(c *gin.Context) {
	snap := h.snapshots.Load()

	resp := statusResponse{
		Bins:     snap.BinStatus.JSON(),
		HasImage: snap.ImagePath != "",
	}
	if snap.Classification != nil {
		name := snap.Classification.String()
		at := snap.ClassifiedAt
		resp.Classification = &name
		resp.ClassifiedAt = &at
	}
	if snap.HasClimate {
		resp.Climate = &climateResponse{Temperature: snap.Temperature, Humidity: snap.Humidity}
	}
	if !snap.UpdatedAt.IsZero() {
		at := snap.UpdatedAt
		resp.UpdatedAt = &at
	}
	c.JSON(http.StatusOK, resp)
}

// GetImage handles GET /api/image, serving the last classified frame.
func (h *Handler) GetImage(c *gin.Context) {
	path := h.snapshots.Load().ImagePath
	if path == "" {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no image captured yet"})
		return
	}
	if _, err := os.Stat(path); err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "image not available"})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.File(path)
}

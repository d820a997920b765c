package store

import "time"

// BinView is a bin with its current reported state.
type BinView struct {
	ID          int        `json:"-"`
	Name        string     `json:"name"`
	DisplayName string     `json:"display_name"`
	Enabled     bool       `json:"enabled"`
	Full        *bool      `json:"full"`
	ObservedAt  *time.Time `json:"observed_at,omitempty"`
}

// CategoryCount is one row of the per-category sort counts.
type CategoryCount struct {
	Category string
	Count    int64
}

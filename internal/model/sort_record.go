package model

import "time"

// SortRecord is one completed capture, classify and actuate cycle.
type SortRecord struct {
	ID          string    `gorm:"primaryKey;size:36"`
	Category    string    `gorm:"size:16;not null;index"`
	Confidence  float64
	Fallback    bool      `gorm:"not null"`
	ImagePath   string    `gorm:"size:256"`
	StartedAt   time.Time `gorm:"not null"`
	CompletedAt time.Time `gorm:"not null;index"`
}

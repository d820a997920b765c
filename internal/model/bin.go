package model

import (
	"time"

	"recycling-sorter/internal/bins"
)

// Bin is one of the sorter's bins and its wiring.
type Bin struct {
	ID           int    `gorm:"primaryKey;autoIncrement:false"`
	Name         string `gorm:"uniqueIndex;size:32;not null"`
	DisplayName  string `gorm:"size:64;not null"`
	Enabled      bool   `gorm:"not null"`
	SensorPin    int
	ServoChannel int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// BinKey is the primary key of a bin. Keys start at 1 so that no row has a
// zero primary key.
func BinKey(id bins.ID) int {
	return int(id) + 1
}

// BinID is the inverse of BinKey.
func BinID(key int) bins.ID {
	return bins.ID(key - 1)
}

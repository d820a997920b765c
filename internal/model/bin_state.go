package model

import (
	"time"
)

// BinStateOpen is the current reported fullness of a bin (hot table).
type BinStateOpen struct {
	BinID      int       `gorm:"primaryKey;autoIncrement:false"`
	Full       bool      `gorm:"not null"`
	ObservedAt time.Time `gorm:"not null"`
}

// BinTransition is the log of reported fullness changes (cold table).
type BinTransition struct {
	ID          int64     `gorm:"primaryKey"`
	BinID       int       `gorm:"not null;index"`
	Full        bool      `gorm:"not null"`
	ObservedAt  time.Time `gorm:"not null;index"`
	PeriodStart time.Time // when the previous state was first reported, zero if unknown
}

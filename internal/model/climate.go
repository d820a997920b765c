package model

import "time"

// ClimateReading is a periodic sample of the filtered climate readings.
type ClimateReading struct {
	ID          int64     `gorm:"primaryKey"`
	ObservedAt  time.Time `gorm:"not null;index"`
	Temperature float64   `gorm:"not null"`
	Humidity    float64   `gorm:"not null"`
}

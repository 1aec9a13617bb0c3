package models

import (
	"fmt"
	"time"
)

// Location represents a monitored geographic point
type Location struct {
	ID        int64     `json:"id" db:"id"`
	City      string    `json:"city" db:"city"`
	Country   string    `json:"country" db:"country"`
	Latitude  float64   `json:"latitude" db:"latitude"`
	Longitude float64   `json:"longitude" db:"longitude"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Reading represents a single pollutant reading for a location.
// Immutable once stored; missing pollutants are NULL, never zero.
type Reading struct {
	ID          int64     `json:"id" db:"id"`
	LocationID  int64     `json:"location_id" db:"location_id"`
	RecordedAt  time.Time `json:"recorded_at" db:"recorded_at"`
	PM25        *float64  `json:"pm25,omitempty" db:"pm25"`
	PM10        *float64  `json:"pm10,omitempty" db:"pm10"`
	O3          *float64  `json:"o3,omitempty" db:"o3"`
	NO2         *float64  `json:"no2,omitempty" db:"no2"`
	SO2         *float64  `json:"so2,omitempty" db:"so2"`
	CO          *float64  `json:"co,omitempty" db:"co"`
	AQIValue    int       `json:"aqi_value" db:"aqi_value"`
	AQICategory string    `json:"aqi_category" db:"aqi_category"`
	Source      string    `json:"source" db:"source"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Validate checks the reading invariants before it is persisted
func (r *Reading) Validate() error {
	if r.AQIValue < 0 || r.AQIValue > 500 {
		return &ValidationError{
			Field:   "aqi_value",
			Value:   fmt.Sprintf("%d", r.AQIValue),
			Message: "aqi_value must be within [0, 500]",
		}
	}
	if r.RecordedAt.IsZero() {
		return &ValidationError{
			Field:   "recorded_at",
			Value:   "",
			Message: "recorded_at must be set",
		}
	}
	return nil
}

// ValidationError represents a data validation error
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsTransient returns false as validation errors are permanent
func (e *ValidationError) IsTransient() bool {
	return false
}

package sources

import (
	"context"
	"fmt"
	"time"
)

// Observation is one normalized payload from an external provider.
// Pollutant values keep the provider's reporting units; missing
// pollutants stay nil. Providers that publish an overall AQI for the
// station set StationAQI, otherwise the pipeline composes one.
type Observation struct {
	PM25       *float64
	PM10       *float64
	O3         *float64
	NO2        *float64
	SO2        *float64
	CO         *float64
	StationAQI *int
	Station    string
	ObservedAt time.Time
	Source     string
}

// Source is one external air-quality provider
type Source interface {
	// Name identifies the provider in config, logs, and stored readings
	Name() string

	// Timeout bounds a single fetch attempt
	Timeout() time.Duration

	// Retries is the number of additional attempts after the first
	Retries() int

	// GetReading fetches the current observation for a coordinate
	GetReading(ctx context.Context, lat, lon float64) (*Observation, error)
}

// FetchError wraps a failed fetch from one provider. Recoverable:
// the pipeline falls through to the next source in priority.
type FetchError struct {
	Source     string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("source %s: unexpected status %d", e.Source, e.StatusCode)
	}
	return fmt.Sprintf("source %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsTransient returns true; a later attempt against the same source may succeed
func (e *FetchError) IsTransient() bool {
	return true
}

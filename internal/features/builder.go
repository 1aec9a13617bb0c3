package features

import (
	"fmt"
	"math"
	"time"

	"aqi-platform/internal/models"
)

// DefaultLags are the lag offsets, in hours, fed to the model.
var DefaultLags = []int{1, 2, 3, 6, 12, 24}

// DefaultTolerance bounds how far a stored reading may sit from an
// exact lag offset and still count as that lag.
const DefaultTolerance = 30 * time.Minute

// VectorSize is the width of one feature row: lag values, cyclical
// time encodings with two indicator flags, then pollutant values.
const VectorSize = 6 + 8 + 4

// InsufficientHistoryError reports that the stored series cannot cover
// the configured lag offsets for a reference time.
type InsufficientHistoryError struct {
	Available int
	Required  int
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("insufficient history: %d usable rows, need %d", e.Available, e.Required)
}

func (e *InsufficientHistoryError) IsTransient() bool { return false }

// Builder turns an ascending reading series into model feature rows
type Builder struct {
	lags      []int
	tolerance time.Duration
}

// NewBuilder creates a feature builder with the given lag offsets in
// hours. A zero tolerance falls back to the default.
func NewBuilder(lags []int, tolerance time.Duration) *Builder {
	if len(lags) == 0 {
		lags = DefaultLags
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Builder{lags: lags, tolerance: tolerance}
}

// Lags returns the configured lag offsets in hours
func (b *Builder) Lags() []int { return b.lags }

// TimeFeatures encodes a timestamp as cyclical values plus weekend and
// rush-hour indicators. Cyclical encoding keeps hour 23 adjacent to
// hour 0 instead of maximally distant.
func TimeFeatures(t time.Time) []float64 {
	t = t.UTC()
	hour := float64(t.Hour())
	weekday := float64(t.Weekday())
	month := float64(t.Month() - 1)

	isWeekend := 0.0
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		isWeekend = 1.0
	}

	isRushHour := 0.0
	switch t.Hour() {
	case 7, 8, 9, 17, 18, 19:
		isRushHour = 1.0
	}

	return []float64{
		math.Sin(2 * math.Pi * hour / 24),
		math.Cos(2 * math.Pi * hour / 24),
		math.Sin(2 * math.Pi * weekday / 7),
		math.Cos(2 * math.Pi * weekday / 7),
		math.Sin(2 * math.Pi * month / 12),
		math.Cos(2 * math.Pi * month / 12),
		isWeekend,
		isRushHour,
	}
}

// PollutantValues extracts the model's pollutant inputs from a reading.
// Missing pollutants are zero-filled.
func PollutantValues(r *models.Reading) []float64 {
	values := make([]float64, 0, 4)
	for _, p := range []*float64{r.PM25, r.PM10, r.O3, r.NO2} {
		if p != nil {
			values = append(values, *p)
		} else {
			values = append(values, 0)
		}
	}
	return values
}

// LagValues resolves each configured lag offset against the series.
// Only readings with recorded_at at or before the reference time are
// eligible, and a lag matches the reading nearest its exact offset
// within the tolerance. The second return reports full coverage.
func (b *Builder) LagValues(readings []*models.Reading, ref time.Time) ([]float64, bool) {
	values := make([]float64, len(b.lags))
	for i, lag := range b.lags {
		target := ref.Add(-time.Duration(lag) * time.Hour)

		found := false
		bestDelta := b.tolerance + 1
		for _, r := range readings {
			if r.RecordedAt.After(ref) {
				break
			}
			delta := r.RecordedAt.Sub(target)
			if delta < 0 {
				delta = -delta
			}
			if delta <= b.tolerance && delta < bestDelta {
				bestDelta = delta
				values[i] = float64(r.AQIValue)
				found = true
			}
		}
		if !found {
			return nil, false
		}
	}
	return values, true
}

// Vector builds one feature row for a reference time. The pollutant
// inputs come from the newest reading at or before the reference.
func (b *Builder) Vector(readings []*models.Reading, ref time.Time) ([]float64, error) {
	lagValues, ok := b.LagValues(readings, ref)
	if !ok {
		return nil, &InsufficientHistoryError{Available: len(readings), Required: len(b.lags)}
	}

	var current *models.Reading
	for _, r := range readings {
		if r.RecordedAt.After(ref) {
			break
		}
		current = r
	}
	if current == nil {
		return nil, &InsufficientHistoryError{Available: 0, Required: len(b.lags)}
	}

	row := make([]float64, 0, VectorSize)
	row = append(row, lagValues...)
	row = append(row, TimeFeatures(ref)...)
	row = append(row, PollutantValues(current)...)
	return row, nil
}

// Row is one supervised training example with its reference time
type Row struct {
	At       time.Time
	Features []float64
	Target   float64
}

// DatasetRows builds the supervised training set from an ascending
// series. Each reading with full lag coverage yields one row whose
// target is that reading's overall index. Rows missing any lag are
// dropped.
func (b *Builder) DatasetRows(readings []*models.Reading) ([]Row, error) {
	var rows []Row

	for i, r := range readings {
		lagValues, ok := b.LagValues(readings[:i+1], r.RecordedAt)
		if !ok {
			continue
		}

		row := make([]float64, 0, VectorSize)
		row = append(row, lagValues...)
		row = append(row, TimeFeatures(r.RecordedAt)...)
		row = append(row, PollutantValues(r)...)

		rows = append(rows, Row{At: r.RecordedAt, Features: row, Target: float64(r.AQIValue)})
	}

	if len(rows) == 0 {
		return nil, &InsufficientHistoryError{Available: len(readings), Required: len(b.lags) + 1}
	}

	return rows, nil
}

// Dataset builds the feature matrix and target vector directly
func (b *Builder) Dataset(readings []*models.Reading) ([][]float64, []float64, error) {
	rows, err := b.DatasetRows(readings)
	if err != nil {
		return nil, nil, err
	}

	x := make([][]float64, len(rows))
	y := make([]float64, len(rows))
	for i, row := range rows {
		x[i] = row.Features
		y[i] = row.Target
	}
	return x, y, nil
}

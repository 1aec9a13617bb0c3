package kelm

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"aqi-platform/internal/models"
)

// FitScaler computes column means and standard deviations over a
// feature matrix. Constant columns get unit deviation so the transform
// never divides by zero.
func FitScaler(x [][]float64) models.Scaler {
	if len(x) == 0 {
		return models.Scaler{}
	}

	cols := len(x[0])
	scaler := models.Scaler{
		Mean: make([]float64, cols),
		Std:  make([]float64, cols),
	}

	column := make([]float64, len(x))
	for j := 0; j < cols; j++ {
		for i := range x {
			column[i] = x[i][j]
		}
		mean, std := stat.MeanStdDev(column, nil)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		scaler.Mean[j] = mean
		scaler.Std[j] = std
	}

	return scaler
}

// Standardize applies a fitted scaler to one row, returning a new slice
func Standardize(scaler models.Scaler, row []float64) []float64 {
	out := make([]float64, len(row))
	for j := range row {
		out[j] = (row[j] - scaler.Mean[j]) / scaler.Std[j]
	}
	return out
}

// StandardizeAll applies a fitted scaler to every row
func StandardizeAll(scaler models.Scaler, x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for i, row := range x {
		out[i] = Standardize(scaler, row)
	}
	return out
}

// FitTarget computes the mean and standard deviation of the target
// vector, with the same constant-column guard as FitScaler.
func FitTarget(y []float64) (mean, std float64) {
	mean, std = stat.MeanStdDev(y, nil)
	if std == 0 || math.IsNaN(std) {
		std = 1
	}
	return mean, std
}

// StandardizeTarget maps targets into standard units
func StandardizeTarget(y []float64, mean, std float64) []float64 {
	out := make([]float64, len(y))
	for i, v := range y {
		out[i] = (v - mean) / std
	}
	return out
}

// Destandardize maps one model output back to the original scale
func Destandardize(v, mean, std float64) float64 {
	return v*std + mean
}

package models

import "math"

// Pollutant identifies a measured pollutant species
type Pollutant string

const (
	PollutantPM25 Pollutant = "pm25"
	PollutantPM10 Pollutant = "pm10"
	PollutantO3   Pollutant = "o3"
	PollutantNO2  Pollutant = "no2"
	PollutantSO2  Pollutant = "so2"
	PollutantCO   Pollutant = "co"
)

// aqiBreakpoint maps a concentration band onto an AQI band.
// AQI = ((IHigh-ILow)/(CHigh-CLow)) * (C-CLow) + ILow
type aqiBreakpoint struct {
	CLow, CHigh float64
	ILow, IHigh int
}

// EPA breakpoint tables. Concentrations are in each pollutant's reporting
// unit: µg/m³ for PM2.5/PM10, ppb for O3/NO2/SO2, ppm for CO.
var aqiBreakpoints = map[Pollutant][]aqiBreakpoint{
	PollutantPM25: {
		{0, 12.0, 0, 50},
		{12.1, 35.4, 51, 100},
		{35.5, 55.4, 101, 150},
		{55.5, 150.4, 151, 200},
		{150.5, 250.4, 201, 300},
		{250.5, 350.4, 301, 400},
		{350.5, 500.4, 401, 500},
	},
	PollutantPM10: {
		{0, 54, 0, 50},
		{55, 154, 51, 100},
		{155, 254, 101, 150},
		{255, 354, 151, 200},
		{355, 424, 201, 300},
		{425, 504, 301, 400},
		{505, 604, 401, 500},
	},
	PollutantO3: {
		{0, 54, 0, 50},
		{55, 70, 51, 100},
		{71, 85, 101, 150},
		{86, 105, 151, 200},
		{106, 200, 201, 300},
	},
	PollutantNO2: {
		{0, 53, 0, 50},
		{54, 100, 51, 100},
		{101, 360, 101, 150},
		{361, 649, 151, 200},
		{650, 1249, 201, 300},
		{1250, 1649, 301, 400},
		{1650, 2049, 401, 500},
	},
	PollutantSO2: {
		{0, 35, 0, 50},
		{36, 75, 51, 100},
		{76, 185, 101, 150},
		{186, 304, 151, 200},
		{305, 604, 201, 300},
		{605, 804, 301, 400},
		{805, 1004, 401, 500},
	},
	PollutantCO: {
		{0, 4.4, 0, 50},
		{4.5, 9.4, 51, 100},
		{9.5, 12.4, 101, 150},
		{12.5, 15.4, 151, 200},
		{15.5, 30.4, 201, 300},
		{30.5, 40.4, 301, 400},
		{40.5, 50.4, 401, 500},
	},
}

// SubIndex converts a pollutant concentration to its EPA AQI sub-index.
// Concentrations above the top breakpoint saturate at 500.
func SubIndex(concentration float64, pollutant Pollutant) int {
	breakpoints, ok := aqiBreakpoints[pollutant]
	if !ok || concentration < 0 {
		return 0
	}

	// Bands are matched on their upper edge so that concentrations falling
	// in the reporting gap between two bands resolve to the band above.
	for _, bp := range breakpoints {
		if concentration <= bp.CHigh {
			aqi := (float64(bp.IHigh-bp.ILow)/(bp.CHigh-bp.CLow))*(concentration-bp.CLow) + float64(bp.ILow)
			return ClampAQI(int(math.Round(aqi)))
		}
	}

	return 500
}

// ComposeAQI computes the overall AQI from whichever pollutant
// concentrations are available: the maximum of the sub-indices.
// Returns 0 if no concentration is present.
func ComposeAQI(concentrations map[Pollutant]*float64) int {
	overall := 0
	for pollutant, c := range concentrations {
		if c == nil {
			continue
		}
		if sub := SubIndex(*c, pollutant); sub > overall {
			overall = sub
		}
	}
	return ClampAQI(overall)
}

// ClampAQI clips an AQI value into the valid [0, 500] range
func ClampAQI(aqi int) int {
	if aqi < 0 {
		return 0
	}
	if aqi > 500 {
		return 500
	}
	return aqi
}

// Category returns the EPA category name for an AQI value
func Category(aqi float64) string {
	switch {
	case aqi <= 50:
		return "Good"
	case aqi <= 100:
		return "Moderate"
	case aqi <= 150:
		return "Unhealthy for Sensitive Groups"
	case aqi <= 200:
		return "Unhealthy"
	case aqi <= 300:
		return "Very Unhealthy"
	default:
		return "Hazardous"
	}
}

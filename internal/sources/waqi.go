package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const waqiDefaultBaseURL = "https://api.waqi.info"

// WAQIClient fetches readings from the World Air Quality Index feed.
// WAQI reports per-pollutant sub-indices (iaqi) plus the station's
// overall AQI, so no breakpoint conversion is needed.
type WAQIClient struct {
	baseURL string
	token   string
	timeout time.Duration
	retries int
	client  *http.Client
}

// NewWAQIClient creates a WAQI source client
func NewWAQIClient(token string, timeout time.Duration, retries int) *WAQIClient {
	return &WAQIClient{
		baseURL: waqiDefaultBaseURL,
		token:   token,
		timeout: timeout,
		retries: retries,
		client:  &http.Client{Timeout: timeout},
	}
}

// NewWAQIClientWithBaseURL creates a WAQI client against a custom endpoint. Used in tests.
func NewWAQIClientWithBaseURL(baseURL, token string, timeout time.Duration, retries int) *WAQIClient {
	c := NewWAQIClient(token, timeout, retries)
	c.baseURL = baseURL
	return c
}

func (c *WAQIClient) Name() string           { return "waqi" }
func (c *WAQIClient) Timeout() time.Duration { return c.timeout }
func (c *WAQIClient) Retries() int           { return c.retries }

type waqiResponse struct {
	Status string `json:"status"`
	Data   struct {
		AQI  json.RawMessage `json:"aqi"`
		IAQI map[string]struct {
			V float64 `json:"v"`
		} `json:"iaqi"`
		City struct {
			Name string `json:"name"`
		} `json:"city"`
	} `json:"data"`
}

// GetReading fetches the current station feed nearest to the coordinate
func (c *WAQIClient) GetReading(ctx context.Context, lat, lon float64) (*Observation, error) {
	url := fmt.Sprintf("%s/feed/geo:%g;%g/?token=%s", c.baseURL, lat, lon, c.token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{Source: c.Name(), Err: err}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &FetchError{Source: c.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{Source: c.Name(), StatusCode: resp.StatusCode}
	}

	var payload waqiResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &FetchError{Source: c.Name(), Err: fmt.Errorf("decode payload: %w", err)}
	}

	if payload.Status != "ok" {
		return nil, &FetchError{Source: c.Name(), Err: fmt.Errorf("provider status %q", payload.Status)}
	}

	// Stations with no current index report aqi as the string "-".
	aqi, err := parseWAQIIndex(payload.Data.AQI)
	if err != nil {
		return nil, &FetchError{Source: c.Name(), Err: err}
	}

	obs := &Observation{
		StationAQI: &aqi,
		Station:    payload.Data.City.Name,
		ObservedAt: time.Now().UTC(),
		Source:     c.Name(),
	}

	for key, v := range payload.Data.IAQI {
		value := v.V
		switch key {
		case "pm25":
			obs.PM25 = &value
		case "pm10":
			obs.PM10 = &value
		case "o3":
			obs.O3 = &value
		case "no2":
			obs.NO2 = &value
		case "so2":
			obs.SO2 = &value
		case "co":
			obs.CO = &value
		}
	}

	return obs, nil
}

func parseWAQIIndex(raw json.RawMessage) (int, error) {
	var asNumber float64
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return int(asNumber), nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if n, convErr := strconv.Atoi(asString); convErr == nil {
			return n, nil
		}
		return 0, fmt.Errorf("station reports no index (aqi=%q)", asString)
	}

	return 0, fmt.Errorf("unparsable aqi field: %s", string(raw))
}

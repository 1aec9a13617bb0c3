package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const ambeeDefaultBaseURL = "https://api.ambeedata.com"

// AmbeeClient fetches readings from the Ambee latest-by-coordinate API
type AmbeeClient struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	retries int
	client  *http.Client
}

// NewAmbeeClient creates an Ambee source client
func NewAmbeeClient(apiKey string, timeout time.Duration, retries int) *AmbeeClient {
	return &AmbeeClient{
		baseURL: ambeeDefaultBaseURL,
		apiKey:  apiKey,
		timeout: timeout,
		retries: retries,
		client:  &http.Client{Timeout: timeout},
	}
}

// NewAmbeeClientWithBaseURL creates an Ambee client against a custom endpoint. Used in tests.
func NewAmbeeClientWithBaseURL(baseURL, apiKey string, timeout time.Duration, retries int) *AmbeeClient {
	c := NewAmbeeClient(apiKey, timeout, retries)
	c.baseURL = baseURL
	return c
}

func (c *AmbeeClient) Name() string           { return "ambee" }
func (c *AmbeeClient) Timeout() time.Duration { return c.timeout }
func (c *AmbeeClient) Retries() int           { return c.retries }

type ambeeResponse struct {
	Stations []struct {
		AQI         int      `json:"AQI"`
		PM25        *float64 `json:"PM25"`
		PM10        *float64 `json:"PM10"`
		NO2         *float64 `json:"NO2"`
		Ozone       *float64 `json:"OZONE"`
		SO2         *float64 `json:"SO2"`
		CO          *float64 `json:"CO"`
		StationName string   `json:"stationName"`
	} `json:"stations"`
}

// GetReading fetches the latest station observation for a coordinate
func (c *AmbeeClient) GetReading(ctx context.Context, lat, lon float64) (*Observation, error) {
	url := fmt.Sprintf("%s/latest/by-lat-lng?lat=%g&lng=%g", c.baseURL, lat, lon)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{Source: c.Name(), Err: err}
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Content-type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &FetchError{Source: c.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{Source: c.Name(), StatusCode: resp.StatusCode}
	}

	var payload ambeeResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &FetchError{Source: c.Name(), Err: fmt.Errorf("decode payload: %w", err)}
	}

	if len(payload.Stations) == 0 {
		return nil, &FetchError{Source: c.Name(), Err: fmt.Errorf("no stations in payload")}
	}

	station := payload.Stations[0]
	aqi := station.AQI

	return &Observation{
		PM25:       station.PM25,
		PM10:       station.PM10,
		O3:         station.Ozone,
		NO2:        station.NO2,
		SO2:        station.SO2,
		CO:         station.CO,
		StationAQI: &aqi,
		Station:    station.StationName,
		ObservedAt: time.Now().UTC(),
		Source:     c.Name(),
	}, nil
}

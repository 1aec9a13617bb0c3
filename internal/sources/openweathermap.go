package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const owmDefaultBaseURL = "https://api.openweathermap.org"

// OpenWeatherMapClient fetches readings from the OWM air pollution API.
// OWM reports raw concentrations in µg/m³ and no overall AQI, so the
// pipeline derives one from the EPA breakpoint tables.
type OpenWeatherMapClient struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	retries int
	client  *http.Client
}

// NewOpenWeatherMapClient creates an OpenWeatherMap source client
func NewOpenWeatherMapClient(apiKey string, timeout time.Duration, retries int) *OpenWeatherMapClient {
	return &OpenWeatherMapClient{
		baseURL: owmDefaultBaseURL,
		apiKey:  apiKey,
		timeout: timeout,
		retries: retries,
		client:  &http.Client{Timeout: timeout},
	}
}

// NewOpenWeatherMapClientWithBaseURL creates an OWM client against a custom endpoint. Used in tests.
func NewOpenWeatherMapClientWithBaseURL(baseURL, apiKey string, timeout time.Duration, retries int) *OpenWeatherMapClient {
	c := NewOpenWeatherMapClient(apiKey, timeout, retries)
	c.baseURL = baseURL
	return c
}

func (c *OpenWeatherMapClient) Name() string           { return "openweathermap" }
func (c *OpenWeatherMapClient) Timeout() time.Duration { return c.timeout }
func (c *OpenWeatherMapClient) Retries() int           { return c.retries }

type owmResponse struct {
	List []struct {
		Dt         int64 `json:"dt"`
		Components struct {
			PM25 *float64 `json:"pm2_5"`
			PM10 *float64 `json:"pm10"`
			O3   *float64 `json:"o3"`
			NO2  *float64 `json:"no2"`
			SO2  *float64 `json:"so2"`
			CO   *float64 `json:"co"`
		} `json:"components"`
	} `json:"list"`
}

// GetReading fetches the current pollution snapshot for a coordinate
func (c *OpenWeatherMapClient) GetReading(ctx context.Context, lat, lon float64) (*Observation, error) {
	url := fmt.Sprintf("%s/data/2.5/air_pollution?lat=%g&lon=%g&appid=%s", c.baseURL, lat, lon, c.apiKey)

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

	var payload owmResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &FetchError{Source: c.Name(), Err: fmt.Errorf("decode payload: %w", err)}
	}

	if len(payload.List) == 0 {
		return nil, &FetchError{Source: c.Name(), Err: fmt.Errorf("empty pollution list")}
	}

	entry := payload.List[0]
	observedAt := time.Now().UTC()
	if entry.Dt > 0 {
		observedAt = time.Unix(entry.Dt, 0).UTC()
	}

	obs := &Observation{
		PM25:       entry.Components.PM25,
		PM10:       entry.Components.PM10,
		O3:         entry.Components.O3,
		NO2:        entry.Components.NO2,
		SO2:        entry.Components.SO2,
		Station:    "OpenWeatherMap",
		ObservedAt: observedAt,
		Source:     c.Name(),
	}

	// OWM reports CO in µg/m³; the EPA CO table expects ppm-scale values.
	if entry.Components.CO != nil {
		co := *entry.Components.CO / 1000.0
		obs.CO = &co
	}

	return obs, nil
}

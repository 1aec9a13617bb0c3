package sources

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWAQIClientGetReading(t *testing.T) {
	t.Run("parses station feed", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Contains(t, r.URL.Path, "/feed/geo:28.6139;77.209/")
			assert.Equal(t, "test-token", r.URL.Query().Get("token"))
			w.Write([]byte(`{
				"status": "ok",
				"data": {
					"aqi": 154,
					"iaqi": {
						"pm25": {"v": 154},
						"pm10": {"v": 89},
						"o3": {"v": 21.4},
						"no2": {"v": 18.2}
					},
					"city": {"name": "Delhi US Embassy"}
				}
			}`))
		}))
		defer server.Close()

		client := NewWAQIClientWithBaseURL(server.URL, "test-token", 5*time.Second, 2)
		obs, err := client.GetReading(context.Background(), 28.6139, 77.2090)
		require.NoError(t, err)

		require.NotNil(t, obs.StationAQI)
		assert.Equal(t, 154, *obs.StationAQI)
		require.NotNil(t, obs.PM25)
		assert.Equal(t, 154.0, *obs.PM25)
		require.NotNil(t, obs.O3)
		assert.Equal(t, 21.4, *obs.O3)
		assert.Nil(t, obs.SO2)
		assert.Equal(t, "Delhi US Embassy", obs.Station)
		assert.Equal(t, "waqi", obs.Source)
	})

	t.Run("station with no index", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status": "ok", "data": {"aqi": "-", "iaqi": {}, "city": {"name": "x"}}}`))
		}))
		defer server.Close()

		client := NewWAQIClientWithBaseURL(server.URL, "t", 5*time.Second, 2)
		_, err := client.GetReading(context.Background(), 0, 0)

		var fetchErr *FetchError
		require.ErrorAs(t, err, &fetchErr)
		assert.Equal(t, "waqi", fetchErr.Source)
		assert.True(t, fetchErr.IsTransient())
	})

	t.Run("provider error status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status": "error", "data": {}}`))
		}))
		defer server.Close()

		client := NewWAQIClientWithBaseURL(server.URL, "t", 5*time.Second, 2)
		_, err := client.GetReading(context.Background(), 0, 0)
		var fetchErr *FetchError
		assert.ErrorAs(t, err, &fetchErr)
	})

	t.Run("http 500", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		client := NewWAQIClientWithBaseURL(server.URL, "t", 5*time.Second, 2)
		_, err := client.GetReading(context.Background(), 0, 0)

		var fetchErr *FetchError
		require.ErrorAs(t, err, &fetchErr)
		assert.Equal(t, http.StatusInternalServerError, fetchErr.StatusCode)
	})

	t.Run("context cancellation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		defer server.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		client := NewWAQIClientWithBaseURL(server.URL, "t", 5*time.Second, 2)
		_, err := client.GetReading(ctx, 0, 0)
		var fetchErr *FetchError
		require.ErrorAs(t, err, &fetchErr)
		assert.True(t, errors.Is(fetchErr.Err, context.DeadlineExceeded))
	})
}

func TestAmbeeClientGetReading(t *testing.T) {
	t.Run("parses first station", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "secret-key", r.Header.Get("x-api-key"))
			assert.Equal(t, "28.6139", r.URL.Query().Get("lat"))
			w.Write([]byte(`{
				"stations": [
					{
						"AQI": 142,
						"PM25": 52.3,
						"PM10": 110.5,
						"NO2": 31.8,
						"OZONE": 44.2,
						"SO2": 8.1,
						"CO": 0.9,
						"stationName": "Anand Vihar"
					},
					{"AQI": 90, "stationName": "Second"}
				]
			}`))
		}))
		defer server.Close()

		client := NewAmbeeClientWithBaseURL(server.URL, "secret-key", 5*time.Second, 2)
		obs, err := client.GetReading(context.Background(), 28.6139, 77.2090)
		require.NoError(t, err)

		require.NotNil(t, obs.StationAQI)
		assert.Equal(t, 142, *obs.StationAQI)
		require.NotNil(t, obs.O3)
		assert.Equal(t, 44.2, *obs.O3)
		assert.Equal(t, "Anand Vihar", obs.Station)
		assert.Equal(t, "ambee", obs.Source)
	})

	t.Run("empty station list", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"stations": []}`))
		}))
		defer server.Close()

		client := NewAmbeeClientWithBaseURL(server.URL, "k", 5*time.Second, 2)
		_, err := client.GetReading(context.Background(), 0, 0)
		var fetchErr *FetchError
		assert.ErrorAs(t, err, &fetchErr)
	})

	t.Run("unauthorized", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		client := NewAmbeeClientWithBaseURL(server.URL, "bad", 5*time.Second, 2)
		_, err := client.GetReading(context.Background(), 0, 0)

		var fetchErr *FetchError
		require.ErrorAs(t, err, &fetchErr)
		assert.Equal(t, http.StatusUnauthorized, fetchErr.StatusCode)
	})
}

func TestOpenWeatherMapClientGetReading(t *testing.T) {
	t.Run("parses components and scales CO", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/data/2.5/air_pollution", r.URL.Path)
			assert.Equal(t, "app-key", r.URL.Query().Get("appid"))
			w.Write([]byte(`{
				"list": [
					{
						"dt": 1741600800,
						"components": {
							"pm2_5": 35.4,
							"pm10": 60.1,
							"o3": 48.9,
							"no2": 22.7,
							"so2": 6.3,
							"co": 1200.0
						}
					}
				]
			}`))
		}))
		defer server.Close()

		client := NewOpenWeatherMapClientWithBaseURL(server.URL, "app-key", 5*time.Second, 2)
		obs, err := client.GetReading(context.Background(), 28.6139, 77.2090)
		require.NoError(t, err)

		assert.Nil(t, obs.StationAQI)
		require.NotNil(t, obs.PM25)
		assert.Equal(t, 35.4, *obs.PM25)
		require.NotNil(t, obs.CO)
		assert.InDelta(t, 1.2, *obs.CO, 1e-9)
		assert.Equal(t, time.Unix(1741600800, 0).UTC(), obs.ObservedAt)
		assert.Equal(t, "openweathermap", obs.Source)
	})

	t.Run("empty list", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"list": []}`))
		}))
		defer server.Close()

		client := NewOpenWeatherMapClientWithBaseURL(server.URL, "k", 5*time.Second, 2)
		_, err := client.GetReading(context.Background(), 0, 0)
		var fetchErr *FetchError
		assert.ErrorAs(t, err, &fetchErr)
	})

	t.Run("malformed payload", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`not json`))
		}))
		defer server.Close()

		client := NewOpenWeatherMapClientWithBaseURL(server.URL, "k", 5*time.Second, 2)
		_, err := client.GetReading(context.Background(), 0, 0)
		var fetchErr *FetchError
		assert.ErrorAs(t, err, &fetchErr)
	})
}

package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"aiweather/internal/config"
)

const defaultBaseURL = "https://api.openweathermap.org/data/3.0"

// Client fetches current weather from the OpenWeather One Call API 3.0.
type Client struct {
	cfg        config.WeatherConfig
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates an OpenWeather client.
func NewClient(cfg config.WeatherConfig, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		cfg:     cfg,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.Named("weather"),
	}
}

// Fetch retrieves the current conditions. The returned snapshot carries
// the raw `current` JSON object and the capture time truncated to the
// hour.
func (c *Client) Fetch(ctx context.Context) (*Snapshot, error) {
	if c.cfg.APIKey == "" {
		return nil, fmt.Errorf("weather API key not configured")
	}

	params := url.Values{}
	params.Set("lat", fmt.Sprintf("%v", c.cfg.Lat))
	params.Set("lon", fmt.Sprintf("%v", c.cfg.Lon))
	params.Set("appid", c.cfg.APIKey)
	params.Set("units", c.cfg.Units)

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/onecall?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("weather request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read weather response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("weather API error (status %d): %s", resp.StatusCode, truncate(string(body), 200))
	}

	var oneCall struct {
		Current json.RawMessage `json:"current"`
	}
	if err := json.Unmarshal(body, &oneCall); err != nil {
		return nil, fmt.Errorf("failed to parse weather response: %w", err)
	}
	if len(oneCall.Current) == 0 {
		return nil, fmt.Errorf("weather response missing current conditions")
	}

	snap := &Snapshot{
		Payload:    oneCall.Current,
		CapturedAt: time.Now().UTC().Truncate(time.Hour),
	}

	c.logger.Info("weather fetched",
		zap.String("cycle_id", snap.CycleID()),
		zap.Int("payload_bytes", len(snap.Payload)))

	return snap, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

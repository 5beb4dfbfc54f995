// Package openweather fetches the OpenWeatherMap 5 day / 3 hour forecast.
package openweather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	retryx "github.com/tanpawarit/krishi-saathi/pkg/retry"
)

var ErrNotConfigured = errors.New("openweather: api key missing")

type Config struct {
	APIKey      string        `envconfig:"API_KEY" split_words:"true"`
	BaseURL     string        `envconfig:"BASE_URL" split_words:"true" default:"https://api.openweathermap.org"`
	CountryCode string        `envconfig:"COUNTRY_CODE" split_words:"true" default:"IN"`
	Lang        string        `envconfig:"LANG" default:"hi"`
	Timeout     time.Duration `envconfig:"TIMEOUT" default:"8s"`
	MaxRetries  int           `envconfig:"MAX_RETRIES" split_words:"true" default:"2"`
}

func (c Config) Enabled() bool {
	return strings.TrimSpace(c.APIKey) != ""
}

type Client struct {
	baseURL    string
	apiKey     string
	country    string
	lang       string
	policy     retryx.Policy
	httpClient *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("openweather: invalid base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		country: strings.TrimSpace(cfg.CountryCode),
		lang:    strings.TrimSpace(cfg.Lang),
		policy: retryx.Policy{
			Attempts:  retries + 1,
			BaseDelay: 250 * time.Millisecond,
			MaxDelay:  2 * time.Second,
		},
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Slot is one 3 hour forecast entry.
type Slot struct {
	Timestamp int64 `json:"dt"`
	Main      struct {
		TempMin float64 `json:"temp_min"`
		TempMax float64 `json:"temp_max"`
	} `json:"main"`
	Weather []struct {
		ID          int    `json:"id"`
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
	// PrecipitationProbability is 0..1.
	PrecipitationProbability float64 `json:"pop"`
}

type Forecast struct {
	City struct {
		Name     string `json:"name"`
		Timezone int    `json:"timezone"`
	} `json:"city"`
	List []Slot `json:"list"`
}

// Location returns the city's fixed UTC offset.
func (f *Forecast) Location() *time.Location {
	return time.FixedZone(f.City.Name, f.City.Timezone)
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("openweather: status %d: %s", e.code, e.body)
}

// Forecast fetches the forecast for a city name. Server errors and rate limits
// are retried; other client errors are not.
func (c *Client) Forecast(ctx context.Context, city string) (*Forecast, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return nil, errors.New("openweather: city is required")
	}
	q := city
	if c.country != "" {
		q = city + "," + c.country
	}

	params := url.Values{}
	params.Set("q", q)
	params.Set("appid", c.apiKey)
	params.Set("units", "metric")
	if c.lang != "" {
		params.Set("lang", c.lang)
	}
	endpoint := c.baseURL + "/data/2.5/forecast?" + params.Encode()

	var out Forecast
	err := retryx.Do(ctx, c.policy, func(ctx context.Context) error {
		return c.get(ctx, endpoint, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, endpoint string, out *Forecast) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return retryx.Permanent(fmt.Errorf("openweather: build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("openweather: request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("openweather: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		serr := &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(raw))}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return serr
		}
		return retryx.Permanent(serr)
	}

	*out = Forecast{}
	if err := json.Unmarshal(raw, out); err != nil {
		return retryx.Permanent(fmt.Errorf("openweather: decode: %w", err))
	}
	return nil
}

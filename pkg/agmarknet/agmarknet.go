// Package agmarknet reads daily mandi prices from the data.gov.in
// "current daily price of various commodities" resource.
package agmarknet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	retryx "github.com/tanpawarit/krishi-saathi/pkg/retry"
)

var ErrNotConfigured = errors.New("agmarknet: api key missing")

type Config struct {
	APIKey     string        `envconfig:"API_KEY" split_words:"true"`
	BaseURL    string        `envconfig:"BASE_URL" split_words:"true" default:"https://api.data.gov.in"`
	ResourceID string        `envconfig:"RESOURCE_ID" split_words:"true" default:"9ef84268-d588-465a-a308-a864a43d0070"`
	Limit      int           `envconfig:"LIMIT" default:"50"`
	Timeout    time.Duration `envconfig:"TIMEOUT" default:"10s"`
	MaxRetries int           `envconfig:"MAX_RETRIES" split_words:"true" default:"2"`
}

func (c Config) Enabled() bool {
	return strings.TrimSpace(c.APIKey) != ""
}

type Client struct {
	endpoint   string
	apiKey     string
	limit      int
	policy     retryx.Policy
	httpClient *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("agmarknet: invalid base url: %w", err)
	}
	resource := strings.Trim(strings.TrimSpace(cfg.ResourceID), "/")
	if resource == "" {
		return nil, errors.New("agmarknet: resource id is required")
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = 50
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &Client{
		endpoint: baseURL + "/resource/" + resource,
		apiKey:   strings.TrimSpace(cfg.APIKey),
		limit:    limit,
		policy: retryx.Policy{
			Attempts:  retries + 1,
			BaseDelay: 300 * time.Millisecond,
			MaxDelay:  3 * time.Second,
		},
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Price is a number the API sends either as a JSON string or a number.
type Price float64

func (p *Price) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*p = 0
		return nil
	}
	s := strings.Trim(string(b), `"`)
	if s == "" || strings.EqualFold(s, "NR") {
		*p = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("agmarknet: parse price %q: %w", s, err)
	}
	*p = Price(f)
	return nil
}

type Record struct {
	State       string `json:"state"`
	District    string `json:"district"`
	Market      string `json:"market"`
	Commodity   string `json:"commodity"`
	Variety     string `json:"variety"`
	ArrivalDate string `json:"arrival_date"`
	MinPrice    Price  `json:"min_price"`
	MaxPrice    Price  `json:"max_price"`
	ModalPrice  Price  `json:"modal_price"`
}

type Query struct {
	// Commodity is the Agmarknet commodity name, e.g. "Wheat" or "Paddy(Dhan)(Common)".
	Commodity string
	State     string
	District  string
}

type response struct {
	Status  string   `json:"status"`
	Message string   `json:"message"`
	Records []Record `json:"records"`
}

// Records returns today's price rows matching q.
func (c *Client) Records(ctx context.Context, q Query) ([]Record, error) {
	if strings.TrimSpace(q.Commodity) == "" {
		return nil, errors.New("agmarknet: commodity is required")
	}

	params := url.Values{}
	params.Set("api-key", c.apiKey)
	params.Set("format", "json")
	params.Set("limit", strconv.Itoa(c.limit))
	params.Set("filters[commodity]", q.Commodity)
	if s := strings.TrimSpace(q.State); s != "" {
		params.Set("filters[state]", s)
	}
	if d := strings.TrimSpace(q.District); d != "" {
		params.Set("filters[district]", d)
	}
	endpoint := c.endpoint + "?" + params.Encode()

	var out response
	err := retryx.Do(ctx, c.policy, func(ctx context.Context) error {
		return c.get(ctx, endpoint, &out)
	})
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(out.Status, "error") {
		return nil, fmt.Errorf("agmarknet: %s", out.Message)
	}
	return out.Records, nil
}

func (c *Client) get(ctx context.Context, endpoint string, out *response) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return retryx.Permanent(fmt.Errorf("agmarknet: build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("agmarknet: request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("agmarknet: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("agmarknet: status %d", resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return err
		}
		return retryx.Permanent(err)
	}

	*out = response{}
	if err := json.Unmarshal(raw, out); err != nil {
		return retryx.Permanent(fmt.Errorf("agmarknet: decode: %w", err))
	}
	return nil
}

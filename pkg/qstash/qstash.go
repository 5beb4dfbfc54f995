package qstash

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
)

type Config struct {
	URL               string        `split_words:"true" default:"https://qstash.upstash.io"`
	Token             string        `split_words:"true"`
	CurrentSigningKey string        `split_words:"true"`
	NextSigningKey    string        `split_words:"true"`
	Timeout           time.Duration `split_words:"true" default:"10s"`
	Retries           int           `split_words:"true" default:"3"`
}

// Enabled reports whether a publish token is configured.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Token) != ""
}

type Client struct {
	baseURL    string
	token      string
	retries    int
	verifier   *Verifier
	httpClient *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.URL)
	if baseURL == "" {
		return nil, errors.New("qstash url is required")
	}

	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, err
	}

	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("qstash token is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		retries:  cfg.Retries,
		verifier: NewVerifier(cfg.CurrentSigningKey, cfg.NextSigningKey),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}

	return client, nil
}

func MustNew(cfg Config) *Client {
	client, err := NewClient(cfg)
	if err != nil {
		panic(err)
	}
	return client
}

// Verifier returns the signature verifier built from the signing keys.
func (c *Client) Verifier() *Verifier {
	return c.verifier
}

type PublishRequest struct {
	// Destination is the public URL QStash will POST the body to.
	Destination string
	Body        []byte
	ContentType string
	// DeduplicationID makes repeated publishes of the same message a no-op.
	DeduplicationID string
	Headers         map[string]string
}

type publishResponse struct {
	MessageID string `json:"messageId"`
	Error     string `json:"error"`
}

// Publish enqueues req with QStash and returns its message id.
func (c *Client) Publish(ctx context.Context, req PublishRequest) (string, error) {
	dest := strings.TrimSpace(req.Destination)
	if dest == "" {
		return "", errors.New("qstash: destination is required")
	}

	endpoint := c.baseURL + "/v2/publish/" + dest
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(req.Body))
	if err != nil {
		return "", fmt.Errorf("qstash: build request: %w", err)
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("Content-Type", contentType)
	if req.DeduplicationID != "" {
		httpReq.Header.Set("Upstash-Deduplication-Id", req.DeduplicationID)
	}
	if c.retries > 0 {
		httpReq.Header.Set("Upstash-Retries", strconv.Itoa(c.retries))
	}
	for k, v := range req.Headers {
		httpReq.Header.Set("Upstash-Forward-"+k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("qstash: publish: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("qstash: read response: %w", err)
	}

	var out publishResponse
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return "", fmt.Errorf("qstash: decode response: %w", err)
		}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		msg := strings.TrimSpace(out.Error)
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return "", fmt.Errorf("qstash: publish failed (%d): %s", resp.StatusCode, msg)
	}
	return out.MessageID, nil
}

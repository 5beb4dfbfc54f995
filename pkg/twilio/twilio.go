// Package twilio wraps the Twilio REST SDK for outbound messages and webhook
// signature checks, and downloads MediaUrl and RecordingUrl payloads.
package twilio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	twiliosdk "github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

const defaultMediaBaseURL = "https://api.twilio.com"

// maxMediaBytes bounds downloads of farmer photos and voice recordings.
const maxMediaBytes = 10 << 20

var ErrNotConfigured = errors.New("twilio: account sid or auth token missing")

type Config struct {
	AccountSID        string        `envconfig:"ACCOUNT_SID" split_words:"true"`
	AuthToken         string        `envconfig:"AUTH_TOKEN" split_words:"true"`
	PhoneNumber       string        `envconfig:"PHONE_NUMBER" split_words:"true"`
	WhatsAppNumber    string        `envconfig:"WHATSAPP_NUMBER" split_words:"true"`
	// MediaBaseURL is a host trusted with the account credentials on media
	// downloads, besides *.twilio.com.
	MediaBaseURL      string        `envconfig:"MEDIA_BASE_URL" split_words:"true" default:"https://api.twilio.com"`
	Timeout           time.Duration `envconfig:"TIMEOUT" default:"10s"`
	ValidateSignature bool          `envconfig:"VALIDATE_SIGNATURE" split_words:"true" default:"false"`
}

// Enabled reports whether outbound calls can be authenticated.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.AccountSID) != "" && strings.TrimSpace(c.AuthToken) != ""
}

// MessageAPI is the part of the v2010 API service the client sends through.
type MessageAPI interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

var _ MessageAPI = (*openapi.ApiService)(nil)

type Option func(*Client)

// WithMessageAPI replaces the SDK message service.
func WithMessageAPI(api MessageAPI) Option {
	return func(c *Client) {
		if api != nil {
			c.messages = api
		}
	}
}

type Client struct {
	messages     MessageAPI
	mediaBaseURL string
	accountSID   string
	authToken    string
	timeout      time.Duration
	httpClient   *http.Client
}

func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}
	mediaBase := strings.TrimRight(strings.TrimSpace(cfg.MediaBaseURL), "/")
	if mediaBase == "" {
		mediaBase = defaultMediaBaseURL
	}
	if _, err := url.ParseRequestURI(mediaBase); err != nil {
		return nil, fmt.Errorf("twilio: invalid media base url: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		mediaBaseURL: mediaBase,
		accountSID:   strings.TrimSpace(cfg.AccountSID),
		authToken:    strings.TrimSpace(cfg.AuthToken),
		timeout:      timeout,
		httpClient:   &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.messages == nil {
		rest := twiliosdk.NewRestClientWithParams(twiliosdk.ClientParams{
			Username: c.accountSID,
			Password: c.authToken,
		})
		c.messages = rest.Api
	}
	return c, nil
}

type Message struct {
	SID string
}

type sendResult struct {
	msg *openapi.ApiV2010Message
	err error
}

// SendMessage creates an SMS or WhatsApp message. WhatsApp addresses carry
// the "whatsapp:" prefix on both from and to. The SDK call is not context
// aware, so ctx and the configured timeout only bound the wait.
func (c *Client) SendMessage(ctx context.Context, from, to, body string) (*Message, error) {
	if strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
		return nil, errors.New("twilio: from and to are required")
	}

	params := &openapi.CreateMessageParams{}
	params.SetFrom(from)
	params.SetTo(to)
	params.SetBody(body)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	done := make(chan sendResult, 1)
	go func() {
		msg, err := c.messages.CreateMessage(params)
		done <- sendResult{msg: msg, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("twilio: send message: %w", ctx.Err())
	case res := <-done:
		if res.err != nil {
			var restErr *twclient.TwilioRestError
			if errors.As(res.err, &restErr) {
				return nil, fmt.Errorf("twilio: send message failed (%d, code %d): %s", restErr.Status, restErr.Code, restErr.Message)
			}
			return nil, fmt.Errorf("twilio: send message: %w", res.err)
		}
		out := &Message{}
		if res.msg != nil && res.msg.Sid != nil {
			out.SID = *res.msg.Sid
		}
		return out, nil
	}
}

// FetchMedia downloads a MediaUrl or RecordingUrl. Twilio media requires the
// account credentials; other hosts receive them only when they share the
// configured media base host. The SDK has no media download call.
func (c *Client) FetchMedia(ctx context.Context, mediaURL string) ([]byte, string, error) {
	if !c.ownsHost(mediaURL) {
		return fetch(ctx, c.httpClient, mediaURL, "", "")
	}
	return fetch(ctx, c.httpClient, mediaURL, c.accountSID, c.authToken)
}

func (c *Client) ownsHost(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "twilio.com" || strings.HasSuffix(host, ".twilio.com") {
		return true
	}
	base, err := url.Parse(c.mediaBaseURL)
	return err == nil && strings.EqualFold(base.Hostname(), host)
}

// FetchPublic downloads media without credentials.
func FetchPublic(ctx context.Context, client *http.Client, mediaURL string) ([]byte, string, error) {
	if client == nil {
		client = http.DefaultClient
	}
	return fetch(ctx, client, mediaURL, "", "")
}

func fetch(ctx context.Context, client *http.Client, mediaURL, user, pass string) ([]byte, string, error) {
	u, err := url.Parse(strings.TrimSpace(mediaURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, "", fmt.Errorf("twilio: invalid media url %q", mediaURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("twilio: build media request: %w", err)
	}
	if user != "" {
		req.SetBasicAuth(user, pass)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("twilio: fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("twilio: fetch media: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("twilio: read media: %w", err)
	}
	if len(data) > maxMediaBytes {
		return nil, "", fmt.Errorf("twilio: media exceeds %d bytes", maxMediaBytes)
	}

	mime := resp.Header.Get("Content-Type")
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	return data, mime, nil
}

// ValidSignature reports whether signature matches the request parameters.
// Twilio signs the first value of every form field.
func ValidSignature(authToken, fullURL string, params url.Values, signature string) bool {
	if authToken == "" || signature == "" {
		return false
	}
	flat := make(map[string]string, len(params))
	for k := range params {
		flat[k] = params.Get(k)
	}
	validator := twclient.NewRequestValidator(authToken)
	return validator.Validate(fullURL, flat, signature)
}

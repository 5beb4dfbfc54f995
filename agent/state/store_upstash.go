package state

import (
	"bytes"
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

const (
	defaultKeyPrefix = "krishi:session:"
	maxReplyBytes    = 2 << 20
)

type UpstashRedisConfig struct {
	URL     string        `envconfig:"URL" required:"true"`
	Token   string        `envconfig:"TOKEN" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" default:"10s"`
}

// StoreOption customizes UpstashRedisStore.
type StoreOption func(*UpstashRedisStore)

func WithKeyPrefix(prefix string) StoreOption {
	return func(s *UpstashRedisStore) {
		if p := strings.TrimSpace(prefix); p != "" {
			s.prefix = p
		}
	}
}

// WithTTL sets the key expiry refreshed on every Save. Zero keeps keys forever.
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *UpstashRedisStore) { s.ttl = ttl }
}

func WithHTTPClient(client *http.Client) StoreOption {
	return func(s *UpstashRedisStore) {
		if client != nil {
			s.client = client
		}
	}
}

// WithRetryPolicy overrides how transport failures and 5xx replies are retried.
func WithRetryPolicy(p retryx.Policy) StoreOption {
	return func(s *UpstashRedisStore) { s.policy = p }
}

// UpstashRedisStore keeps one JSON document per caller in Upstash Redis,
// talking to its REST endpoint. Idle expiry is native: Save sets EX.
type UpstashRedisStore struct {
	endpoint string
	token    string
	client   *http.Client
	prefix   string
	ttl      time.Duration
	policy   retryx.Policy
}

var _ Store = (*UpstashRedisStore)(nil)

type upstashReply struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

func NewUpstashRedisStore(cfg UpstashRedisConfig, opts ...StoreOption) (*UpstashRedisStore, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if endpoint == "" {
		return nil, errors.New("upstash redis url is required")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid upstash redis url: %w", err)
	}
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("upstash redis token is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	s := &UpstashRedisStore{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: timeout},
		prefix:   defaultKeyPrefix,
		policy:   retryx.Policy{Attempts: 2, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.ttl < 0 {
		return nil, errors.New("ttl must be >= 0")
	}
	return s, nil
}

func (s *UpstashRedisStore) Load(ctx context.Context, callerID string) (*Session, error) {
	key, err := s.key(callerID)
	if err != nil {
		return nil, err
	}
	result, err := s.do(ctx, "GET", key)
	if err != nil {
		return nil, err
	}
	if len(result) == 0 || bytes.Equal(result, []byte("null")) {
		return nil, ErrSessionNotFound
	}

	// GET returns the stored document as a JSON string.
	var doc string
	if err := json.Unmarshal(result, &doc); err != nil {
		return nil, fmt.Errorf("decode session payload: %w", err)
	}
	var sess Session
	if err := json.Unmarshal([]byte(doc), &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	if err := sess.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session loaded from store: %w", err)
	}
	return &sess, nil
}

func (s *UpstashRedisStore) Save(ctx context.Context, sess *Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	key, err := s.key(sess.ID)
	if err != nil {
		return err
	}
	doc, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	args := []any{"SET", key, string(doc)}
	if s.ttl > 0 {
		args = append(args, "EX", ttlSeconds(s.ttl))
	}
	_, err = s.do(ctx, args...)
	return err
}

func (s *UpstashRedisStore) Delete(ctx context.Context, callerID string) error {
	key, err := s.key(callerID)
	if err != nil {
		return err
	}
	_, err = s.do(ctx, "DEL", key)
	return err
}

// DeleteIdle is a no-op: Redis expires idle keys through the TTL set on Save.
func (s *UpstashRedisStore) DeleteIdle(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (s *UpstashRedisStore) key(callerID string) (string, error) {
	id := strings.TrimSpace(callerID)
	if id == "" {
		return "", ErrInvalidSession
	}
	prefix := s.prefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return prefix + id, nil
}

// do runs one Redis command. Transport errors and 5xx replies are retried;
// a Redis error reply is returned as is.
func (s *UpstashRedisStore) do(ctx context.Context, args ...any) (json.RawMessage, error) {
	if len(args) == 0 {
		return nil, errors.New("empty redis command")
	}
	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal redis command: %w", err)
	}
	name := fmt.Sprint(args[0])

	var result json.RawMessage
	err = retryx.Do(ctx, s.policy, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
		if err != nil {
			return retryx.Permanent(fmt.Errorf("build redis request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+s.token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return fmt.Errorf("redis %s: %w", name, err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
		if err != nil {
			return fmt.Errorf("read redis reply: %w", err)
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("redis %s: http status %d", name, resp.StatusCode)
		}

		var reply upstashReply
		if err := json.Unmarshal(raw, &reply); err != nil {
			return retryx.Permanent(fmt.Errorf("redis %s: http status %d: decode reply: %w", name, resp.StatusCode, err))
		}
		if reply.Error != "" {
			return retryx.Permanent(fmt.Errorf("redis %s: %s", name, reply.Error))
		}
		if resp.StatusCode >= http.StatusMultipleChoices {
			return retryx.Permanent(fmt.Errorf("redis %s: http status %d", name, resp.StatusCode))
		}
		result = bytes.TrimSpace(reply.Result)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ttlSeconds rounds up so a sub-second TTL never becomes EX 0.
func ttlSeconds(ttl time.Duration) int64 {
	seconds := ttl / time.Second
	if ttl%time.Second != 0 {
		seconds++
	}
	if seconds <= 0 {
		return 1
	}
	return int64(seconds)
}

package delivery

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	contractx "github.com/tanpawarit/krishi-saathi/agent/contract"
	qstashx "github.com/tanpawarit/krishi-saathi/pkg/qstash"
	twiliox "github.com/tanpawarit/krishi-saathi/pkg/twilio"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []contractx.OutboundMessage
	err  error
	wait time.Duration
}

func (s *recordingSender) SendMessage(ctx context.Context, msg contractx.OutboundMessage) error {
	if s.wait > 0 {
		select {
		case <-time.After(s.wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return s.err
}

func TestNormalizeAddress(t *testing.T) {
	t.Parallel()

	cases := []struct {
		channel contractx.DeliveryChannel
		in      string
		want    string
	}{
		{contractx.DeliveryWhatsApp, "+919800000001", "whatsapp:+919800000001"},
		{contractx.DeliveryWhatsApp, "whatsapp:+919800000001", "whatsapp:+919800000001"},
		{contractx.DeliveryWhatsApp, "WhatsApp:+919800000001", "whatsapp:+919800000001"},
		{contractx.DeliverySMS, "whatsapp:+919800000001", "+919800000001"},
		{contractx.DeliverySMS, " +919800000001 ", "+919800000001"},
		{contractx.DeliverySMS, "", ""},
	}
	for _, tc := range cases {
		got := NormalizeAddress(tc.channel, tc.in)
		assert.Equal(t, tc.want, got, "%s %q", tc.channel, tc.in)
		assert.Equal(t, got, NormalizeAddress(tc.channel, got), "not idempotent for %q", tc.in)
	}
}

func TestGatewaySend(t *testing.T) {
	t.Parallel()

	s := &recordingSender{}
	g := NewGateway(s, time.Second)
	ok := g.Send(context.Background(), contractx.OutboundMessage{
		Channel: contractx.DeliveryWhatsApp,
		To:      "+919800000001",
		Body:    "नमस्ते",
	})
	require.True(t, ok)
	require.Len(t, s.sent, 1)
	assert.Equal(t, "whatsapp:+919800000001", s.sent[0].To)
	assert.NotEmpty(t, s.sent[0].DedupID)

	ok = g.Send(context.Background(), contractx.OutboundMessage{To: "whatsapp:+91", Body: "x", DedupID: "d1"})
	require.True(t, ok)
	assert.Equal(t, contractx.DeliverySMS, s.sent[1].Channel)
	assert.Equal(t, "+91", s.sent[1].To)
	assert.Equal(t, "d1", s.sent[1].DedupID)
}

func TestGatewaySendFailuresReturnFalse(t *testing.T) {
	t.Parallel()

	msg := contractx.OutboundMessage{To: "+91", Body: "hi"}

	assert.False(t, NewGateway(&recordingSender{err: errors.New("boom")}, time.Second).Send(context.Background(), msg))
	assert.False(t, NewGateway(LogSender{}, time.Second).Send(context.Background(), msg))
	assert.False(t, NewGateway(nil, time.Second).Send(context.Background(), msg))
	assert.False(t, NewGateway(&recordingSender{}, time.Second).Send(context.Background(), contractx.OutboundMessage{To: "+91"}))

	slow := &recordingSender{wait: time.Second}
	start := time.Now()
	assert.False(t, NewGateway(slow, 20*time.Millisecond).Send(context.Background(), msg))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

type fakeTwilioMessages struct {
	mu     sync.Mutex
	params []*openapi.CreateMessageParams
}

func (f *fakeTwilioMessages) CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params = append(f.params, params)
	sid := "SM1"
	return &openapi.ApiV2010Message{Sid: &sid}, nil
}

func TestTwilioSender(t *testing.T) {
	t.Parallel()

	api := &fakeTwilioMessages{}
	client, err := twiliox.NewClient(twiliox.Config{AccountSID: "AC1", AuthToken: "t"}, twiliox.WithMessageAPI(api))
	require.NoError(t, err)
	s, err := NewTwilioSender(client, "+15550001", "+15550002")
	require.NoError(t, err)

	require.NoError(t, s.SendMessage(context.Background(), contractx.OutboundMessage{Channel: contractx.DeliverySMS, To: "+91", Body: "a"}))
	require.NoError(t, s.SendMessage(context.Background(), contractx.OutboundMessage{Channel: contractx.DeliveryWhatsApp, To: "+91", Body: "b"}))

	api.mu.Lock()
	defer api.mu.Unlock()
	require.Len(t, api.params, 2)
	assert.Equal(t, "+15550001", *api.params[0].From)
	assert.Equal(t, "+91", *api.params[0].To)
	assert.Equal(t, "a", *api.params[0].Body)
	assert.Equal(t, "whatsapp:+15550002", *api.params[1].From)
	assert.Equal(t, "whatsapp:+91", *api.params[1].To)

	noWA, _ := NewTwilioSender(client, "+15550001", "")
	assert.Error(t, noWA.SendMessage(context.Background(), contractx.OutboundMessage{Channel: contractx.DeliveryWhatsApp, To: "+91", Body: "b"}))
}

func TestQStashSender(t *testing.T) {
	t.Parallel()

	var gotPath, gotDedup string
	var got contractx.OutboundMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotDedup = r.Header.Get("Upstash-Deduplication-Id")
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"messageId":"msg_1"}`))
	}))
	t.Cleanup(srv.Close)

	client, err := qstashx.NewClient(qstashx.Config{URL: srv.URL, Token: "tok"})
	require.NoError(t, err)
	s, err := NewQStashSender(client, "https://krishi.example/api/delivery/relay")
	require.NoError(t, err)

	g := NewGateway(s, time.Second)
	require.True(t, g.Send(context.Background(), contractx.OutboundMessage{To: "+91", Body: "hi", DedupID: "d-1"}))
	assert.Equal(t, "/v2/publish/https://krishi.example/api/delivery/relay", gotPath)
	assert.Equal(t, "d-1", gotDedup)
	assert.Equal(t, contractx.OutboundMessage{Channel: contractx.DeliverySMS, To: "+91", Body: "hi", DedupID: "d-1"}, got)
}

func signRelay(t *testing.T, key, subject string, body []byte) string {
	t.Helper()
	sum := sha256.Sum256(body)
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":  "Upstash",
		"sub":  subject,
		"exp":  time.Now().Add(time.Minute).Unix(),
		"body": base64.RawURLEncoding.EncodeToString(sum[:]),
	}).SignedString([]byte(key))
	require.NoError(t, err)
	return tok
}

func TestRelay(t *testing.T) {
	t.Parallel()

	const dest = "https://krishi.example/api/delivery/relay"
	s := &recordingSender{}
	r, err := NewRelay(qstashx.NewVerifier("current", "next"), s)
	require.NoError(t, err)

	body := []byte(`{"channel":"sms","to":"whatsapp:+91","body":"खरीदार"}`)
	require.NoError(t, r.Handle(context.Background(), signRelay(t, "next", dest, body), strings.NewReader(string(body)), dest))
	require.Len(t, s.sent, 1)
	assert.Equal(t, "+91", s.sent[0].To)

	err = r.Handle(context.Background(), signRelay(t, "wrong", dest, body), strings.NewReader(string(body)), dest)
	assert.ErrorIs(t, err, qstashx.ErrInvalidSignature)

	bad := []byte(`{"to":"","body":""}`)
	err = r.Handle(context.Background(), signRelay(t, "current", dest, bad), strings.NewReader(string(bad)), dest)
	assert.ErrorIs(t, err, contractx.ErrValidation)
	assert.Len(t, s.sent, 1)
}

func TestNewSenderDegradesToLog(t *testing.T) {
	t.Parallel()

	assert.IsType(t, LogSender{}, NewSender(Config{Provider: "twilio"}, nil, twiliox.Config{}, nil, ""))
	assert.IsType(t, LogSender{}, NewSender(Config{Provider: "qstash", RelayPath: "/r"}, nil, twiliox.Config{}, nil, "https://x"))
	assert.IsType(t, LogSender{}, NewSender(Config{}, nil, twiliox.Config{}, nil, ""))

	client, err := twiliox.NewClient(twiliox.Config{AccountSID: "AC1", AuthToken: "t"})
	require.NoError(t, err)
	assert.IsType(t, &TwilioSender{}, NewSender(Config{Provider: "Twilio"}, client, twiliox.Config{PhoneNumber: "+1"}, nil, ""))
}

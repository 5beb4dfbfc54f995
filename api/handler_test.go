package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	contractx "github.com/tanpawarit/krishi-saathi/agent/contract"
	"github.com/tanpawarit/krishi-saathi/agent/delivery"
	"github.com/tanpawarit/krishi-saathi/agent/locale"
	qstashx "github.com/tanpawarit/krishi-saathi/pkg/qstash"
)

type fakeDispatcher struct {
	reply contractx.Reply
	err   error

	mu       sync.Mutex
	requests []contractx.Request
	welcomed []string
}

func (f *fakeDispatcher) Handle(ctx context.Context, req contractx.Request) (contractx.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.reply, f.err
}

func (f *fakeDispatcher) Welcome(ctx context.Context, callerID string) (contractx.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.welcomed = append(f.welcomed, callerID)
	return f.reply, f.err
}

type fakeGateway struct {
	ok   bool
	sent []contractx.OutboundMessage
}

func (f *fakeGateway) Send(ctx context.Context, msg contractx.OutboundMessage) bool {
	f.sent = append(f.sent, msg)
	return f.ok
}

type fakeSpeaker struct {
	enabled bool
	ok      bool
	text    string
	lang    string
}

func (f *fakeSpeaker) CanSynthesize() bool { return f.enabled }

func (f *fakeSpeaker) TextToSpeech(ctx context.Context, text, lang string) (contractx.Media, bool) {
	f.text, f.lang = text, lang
	if !f.ok {
		return contractx.Media{}, false
	}
	return contractx.Media{Data: []byte("ID3"), MIMEType: "audio/mpeg"}, true
}

type recordingSender struct {
	sent []contractx.OutboundMessage
	err  error
}

func (s *recordingSender) SendMessage(ctx context.Context, msg contractx.OutboundMessage) error {
	s.sent = append(s.sent, msg)
	return s.err
}

func testCatalog() *locale.Catalog {
	return locale.MustNew([]string{"hi-IN", "en-IN"}, "hi-IN")
}

func newTestServer(t *testing.T, d Dispatcher, g contractx.DeliveryGateway, cfg Config, opts ...Option) *httptest.Server {
	t.Helper()
	h, err := NewHandler(d, testCatalog(), g, cfg, opts...)
	require.NoError(t, err)
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", strings.NewReader(string(raw)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestNewHandlerValidation(t *testing.T) {
	t.Parallel()

	_, err := NewHandler(nil, testCatalog(), &fakeGateway{}, Config{})
	assert.Error(t, err)
	_, err = NewHandler(&fakeDispatcher{}, nil, &fakeGateway{}, Config{})
	assert.Error(t, err)
	_, err = NewHandler(&fakeDispatcher{}, testCatalog(), nil, Config{})
	assert.Error(t, err)
	_, err = NewHandler(&fakeDispatcher{}, testCatalog(), &fakeGateway{}, Config{ValidateSignature: true})
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeDispatcher{}, &fakeGateway{}, Config{})
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, "ok", body["status"])
	_, err = time.Parse(time.RFC3339, body["timestamp"])
	assert.NoError(t, err)
}

func TestIVRWelcome(t *testing.T) {
	t.Parallel()

	d := &fakeDispatcher{reply: contractx.Reply{
		Text:      "स्वागत",
		Language:  "hi-IN",
		Directive: contractx.DirectiveKeepListening,
	}}
	srv := newTestServer(t, d, &fakeGateway{}, Config{PublicBaseURL: "https://krishi.example/"})

	resp := postJSON(t, srv.URL+"/api/ivr/welcome", map[string]string{"caller_id": "+919800000001"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decode[IVRResponse](t, resp)
	assert.Equal(t, IVRResponse{
		Action: ActionSpeakAndListen,
		Payload: IVRPayload{
			TextToSpeak:   "स्वागत",
			Language:      "hi-IN",
			CallbackURL:   "https://krishi.example/api/ivr/handle-query",
			SpeechTimeout: 5,
		},
	}, got)
	assert.Equal(t, []string{"+919800000001"}, d.welcomed)
}

func TestIVRWelcomeErrors(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeDispatcher{}, &fakeGateway{}, Config{})
	resp := postJSON(t, srv.URL+"/api/ivr/welcome", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, map[string]string{"error": "Missing caller_id"}, decode[map[string]string](t, resp))

	failing := newTestServer(t, &fakeDispatcher{err: errors.New("store down")}, &fakeGateway{}, Config{})
	resp = postJSON(t, failing.URL+"/api/ivr/welcome", map[string]string{"caller_id": "+91"})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	got := decode[IVRResponse](t, resp)
	assert.Equal(t, ActionSpeakAndHangup, got.Action)
	assert.Equal(t, "hi-IN", got.Payload.Language)
	assert.Equal(t, testCatalog().Text("hi-IN", locale.TechnicalProblem), got.Payload.TextToSpeak)
}

func TestIVRHandleQueryTwilioForm(t *testing.T) {
	t.Parallel()

	d := &fakeDispatcher{reply: contractx.Reply{
		Text:      "Current wheat prices",
		Language:  "en-IN",
		Directive: contractx.DirectiveEndInteraction,
		Intent:    contractx.IntentMarketPrice,
	}}
	srv := newTestServer(t, d, &fakeGateway{}, Config{})

	form := url.Values{}
	form.Set("From", "+919800000002")
	form.Set("SpeechResult", "wheat price")
	form.Set("RecordingUrl", "https://api.twilio.com/rec.wav")
	resp, err := http.PostForm(srv.URL+"/api/ivr/handle-query", form)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[IVRResponse](t, resp)
	assert.Equal(t, ActionSpeakAndHangup, got.Action)
	assert.Equal(t, "Current wheat prices", got.Payload.TextToSpeak)
	assert.Empty(t, got.Payload.CallbackURL)

	require.Len(t, d.requests, 1)
	req := d.requests[0]
	assert.Equal(t, contractx.ChannelIVR, req.Channel)
	assert.Equal(t, "+919800000002", req.CallerID)
	assert.Equal(t, "wheat price", req.Text)
	assert.Equal(t, "https://api.twilio.com/rec.wav", req.AudioURL)
	assert.NotEmpty(t, req.RequestID)
}

func TestIVRHandleQueryReprompt(t *testing.T) {
	t.Parallel()

	d := &fakeDispatcher{reply: contractx.Reply{
		Text:      "फिर से कहें",
		Language:  "hi-IN",
		Directive: contractx.DirectiveKeepListening,
		Reprompt:  true,
	}}
	speaker := &fakeSpeaker{enabled: true, ok: true}
	srv := newTestServer(t, d, &fakeGateway{}, Config{PublicBaseURL: "https://krishi.example"}, WithSpeaker(speaker))

	resp := postJSON(t, srv.URL+"/api/ivr/handle-query", map[string]string{"caller_id": "+919800000003"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decode[IVRResponse](t, resp)
	assert.Equal(t, ActionSpeakAndListen, got.Action)
	assert.Equal(t, "https://krishi.example/api/ivr/handle-query", got.Payload.CallbackURL)

	audio, err := url.Parse(got.Payload.AudioURL)
	require.NoError(t, err)
	assert.Equal(t, "/api/tts", audio.Path)
	assert.Equal(t, "फिर से कहें", audio.Query().Get("text"))
	assert.Equal(t, "hi-IN", audio.Query().Get("lang"))
}

func TestIVRHandleQueryFailure(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeDispatcher{err: contractx.ErrHandlerWiring}, &fakeGateway{}, Config{})
	resp := postJSON(t, srv.URL+"/api/ivr/handle-query", map[string]string{"caller_id": "+91", "spoken_text": "loan"})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	got := decode[IVRResponse](t, resp)
	assert.Equal(t, ActionSpeakAndHangup, got.Action)
	assert.Equal(t, testCatalog().Text("hi-IN", locale.QueryError), got.Payload.TextToSpeak)
}

func TestIVRHandleQueryRejectsMalformedJSON(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeDispatcher{}, &fakeGateway{}, Config{})
	resp, err := http.Post(srv.URL+"/api/ivr/handle-query", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWhatsAppMessageDeliversReply(t *testing.T) {
	t.Parallel()

	d := &fakeDispatcher{reply: contractx.Reply{Text: "Wheat yellow rust\nAdvice: Contact an expert."}}
	g := &fakeGateway{ok: true}
	srv := newTestServer(t, d, g, Config{})

	resp := postJSON(t, srv.URL+"/api/whatsapp/message", map[string]string{
		"sender_id":  "whatsapp:+919800000004",
		"media_url":  "https://media.example/leaf.jpg",
		"media_type": "image/jpeg",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, WhatsAppResponse{
		Status:         "received",
		ReplySimulated: "Wheat yellow rust\nAdvice: Contact an expert.",
		Delivered:      true,
	}, decode[WhatsAppResponse](t, resp))

	require.Len(t, d.requests, 1)
	assert.Equal(t, contractx.ChannelWhatsApp, d.requests[0].Channel)
	assert.Equal(t, "https://media.example/leaf.jpg", d.requests[0].MediaURL)

	require.Len(t, g.sent, 1)
	assert.Equal(t, contractx.OutboundMessage{
		Channel: contractx.DeliveryWhatsApp,
		To:      "whatsapp:+919800000004",
		Body:    "Wheat yellow rust\nAdvice: Contact an expert.",
	}, g.sent[0])
}

func TestWhatsAppMessageTwilioForm(t *testing.T) {
	t.Parallel()

	d := &fakeDispatcher{reply: contractx.Reply{Text: "ok"}}
	srv := newTestServer(t, d, &fakeGateway{}, Config{})

	form := url.Values{}
	form.Set("From", "whatsapp:+919800000005")
	form.Set("Body", "mandi bhav")
	form.Set("NumMedia", "1")
	form.Set("MediaUrl0", "https://api.twilio.com/media/1")
	form.Set("MediaContentType0", "image/png")
	resp, err := http.PostForm(srv.URL+"/api/whatsapp/message", form)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[WhatsAppResponse](t, resp).Delivered)
	require.Len(t, d.requests, 1)
	assert.Equal(t, contractx.Request{
		RequestID: d.requests[0].RequestID,
		Channel:   contractx.ChannelWhatsApp,
		CallerID:  "whatsapp:+919800000005",
		Text:      "mandi bhav",
		MediaURL:  "https://api.twilio.com/media/1",
		MediaType: "image/png",
	}, d.requests[0])
}

func TestWhatsAppMessageErrors(t *testing.T) {
	t.Parallel()

	g := &fakeGateway{ok: true}
	srv := newTestServer(t, &fakeDispatcher{err: errors.New("boom")}, g, Config{})

	resp := postJSON(t, srv.URL+"/api/whatsapp/message", map[string]string{"message_body": "hi"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, map[string]string{"error": "Missing sender_id"}, decode[map[string]string](t, resp))

	resp = postJSON(t, srv.URL+"/api/whatsapp/message", map[string]string{"sender_id": "whatsapp:+91", "message_body": "hi"})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, WhatsAppResponse{Status: "error"}, decode[WhatsAppResponse](t, resp))
	assert.Empty(t, g.sent, "no delivery after a failed dispatch")
}

func TestTextToSpeech(t *testing.T) {
	t.Parallel()

	unavailable := newTestServer(t, &fakeDispatcher{}, &fakeGateway{}, Config{})
	resp, err := http.Get(unavailable.URL + "/api/tts?text=hello")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	speaker := &fakeSpeaker{enabled: true, ok: true}
	srv := newTestServer(t, &fakeDispatcher{}, &fakeGateway{}, Config{}, WithSpeaker(speaker))

	resp, err = http.Get(srv.URL + "/api/tts?text=" + url.QueryEscape("नमस्ते") + "&lang=mr-IN")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio/mpeg", resp.Header.Get("Content-Type"))
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ID3", string(data))
	assert.Equal(t, "नमस्ते", speaker.text)
	assert.Equal(t, "hi-IN", speaker.lang, "unsupported language falls back to the default")

	resp2, err := http.Get(srv.URL + "/api/tts")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)

	speaker.ok = false
	resp3, err := http.Get(srv.URL + "/api/tts?text=hello")
	require.NoError(t, err)
	resp3.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp3.StatusCode)
}

// twilioSignature signs a webhook the way Twilio does: HMAC-SHA1 over the
// URL followed by every sorted parameter name and value.
func twilioSignature(token, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(fullURL))
	for _, k := range keys {
		mac.Write([]byte(k + form.Get(k)))
	}
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestTwilioSignature(t *testing.T) {
	t.Parallel()

	const token = "twilio-token"
	d := &fakeDispatcher{reply: contractx.Reply{Text: "ok", Directive: contractx.DirectiveEndInteraction}}
	srv := newTestServer(t, d, &fakeGateway{}, Config{
		PublicBaseURL:     "https://krishi.example",
		TwilioAuthToken:   token,
		ValidateSignature: true,
	})

	form := url.Values{}
	form.Set("From", "+919800000006")
	form.Set("SpeechResult", "mausam")

	post := func(signature string) *http.Response {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/ivr/handle-query", strings.NewReader(form.Encode()))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("X-Twilio-Signature", signature)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	assert.Equal(t, http.StatusForbidden, post("bogus").StatusCode)
	assert.Empty(t, d.requests)

	valid := twilioSignature(token, "https://krishi.example/api/ivr/handle-query", form)
	assert.Equal(t, http.StatusOK, post(valid).StatusCode)
	require.Len(t, d.requests, 1)
	assert.Equal(t, "mausam", d.requests[0].Text)

	resp := postJSON(t, srv.URL+"/api/ivr/handle-query", map[string]string{"caller_id": "+91"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
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

func TestDeliveryRelay(t *testing.T) {
	t.Parallel()

	const dest = "https://krishi.example/api/delivery/relay"
	sender := &recordingSender{}
	relay, err := delivery.NewRelay(qstashx.NewVerifier("current", "next"), sender)
	require.NoError(t, err)
	srv := newTestServer(t, &fakeDispatcher{}, &fakeGateway{}, Config{PublicBaseURL: "https://krishi.example"}, WithRelay(relay))

	post := func(signature, body string) int {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/delivery/relay", strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Upstash-Signature", signature)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	body := `{"channel":"sms","to":"+919800000007","body":"Krishi Saathi: wheat buyer"}`
	assert.Equal(t, http.StatusOK, post(signRelay(t, "current", dest, []byte(body)), body))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "+919800000007", sender.sent[0].To)

	assert.Equal(t, http.StatusUnauthorized, post(signRelay(t, "wrong", dest, []byte(body)), body))

	bad := `{"channel":"sms","to":"","body":"x"}`
	assert.Equal(t, http.StatusBadRequest, post(signRelay(t, "current", dest, []byte(bad)), bad))

	sender.err = errors.New("twilio down")
	assert.Equal(t, http.StatusBadGateway, post(signRelay(t, "current", dest, []byte(body)), body))
}

func TestDeliveryRelayNotMountedWithoutRelay(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeDispatcher{}, &fakeGateway{}, Config{})
	resp, err := http.Post(srv.URL+"/api/delivery/relay", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

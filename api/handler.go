// Package api exposes the IVR, WhatsApp, speech and delivery relay webhooks.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/krishi-saathi/agent/contract"
	"github.com/tanpawarit/krishi-saathi/agent/delivery"
	"github.com/tanpawarit/krishi-saathi/agent/locale"
)

const (
	ActionSpeakAndListen = "SPEAK_AND_LISTEN"
	ActionSpeakAndHangup = "SPEAK_AND_HANGUP"

	defaultSpeechTimeout = 5
)

// Dispatcher is the part of the dispatcher the webhooks need.
type Dispatcher interface {
	Handle(ctx context.Context, req contractx.Request) (contractx.Reply, error)
	Welcome(ctx context.Context, callerID string) (contractx.Reply, error)
}

// Speaker synthesizes reply audio for IVR providers that cannot do TTS.
type Speaker interface {
	CanSynthesize() bool
	TextToSpeech(ctx context.Context, text string, language string) (contractx.Media, bool)
}

type Config struct {
	// PublicBaseURL is how providers reach this server. Empty means the
	// request's own scheme and host.
	PublicBaseURL string
	// TwilioAuthToken enables X-Twilio-Signature checks on the webhook routes.
	TwilioAuthToken   string
	ValidateSignature bool
	SpeechTimeout     int
	RelayPath         string
}

type Handler struct {
	dispatcher Dispatcher
	catalog    *locale.Catalog
	delivery   contractx.DeliveryGateway
	speaker    Speaker
	relay      *delivery.Relay
	cfg        Config
	now        func() time.Time
}

type Option func(*Handler)

func WithSpeaker(s Speaker) Option {
	return func(h *Handler) { h.speaker = s }
}

// WithRelay mounts the QStash callback route.
func WithRelay(r *delivery.Relay) Option {
	return func(h *Handler) { h.relay = r }
}

func NewHandler(
	dispatcher Dispatcher,
	catalog *locale.Catalog,
	gateway contractx.DeliveryGateway,
	cfg Config,
	opts ...Option,
) (*Handler, error) {
	if dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if catalog == nil {
		return nil, errors.New("locale catalog is required")
	}
	if gateway == nil {
		return nil, errors.New("delivery gateway is required")
	}
	if cfg.SpeechTimeout <= 0 {
		cfg.SpeechTimeout = defaultSpeechTimeout
	}
	if strings.TrimSpace(cfg.RelayPath) == "" {
		cfg.RelayPath = "/api/delivery/relay"
	}
	cfg.PublicBaseURL = strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	if cfg.ValidateSignature && strings.TrimSpace(cfg.TwilioAuthToken) == "" {
		return nil, errors.New("twilio signature validation needs an auth token")
	}

	h := &Handler{
		dispatcher: dispatcher,
		catalog:    catalog,
		delivery:   gateway,
		cfg:        cfg,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Router builds the full route tree with the global middleware.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(RequestLogger)
	r.Use(chiMiddleware.Recoverer)

	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers every webhook route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if h.cfg.ValidateSignature {
				r.Use(TwilioSignature(h.cfg.TwilioAuthToken, h.cfg.PublicBaseURL))
			}
			r.Post("/ivr/welcome", h.IVRWelcome)
			r.Post("/ivr/handle-query", h.IVRHandleQuery)
			r.Post("/whatsapp/message", h.WhatsAppMessage)
		})
		r.Get("/tts", h.TextToSpeech)
		if h.relay != nil && strings.HasPrefix(h.cfg.RelayPath, "/api/") {
			r.Post(strings.TrimPrefix(h.cfg.RelayPath, "/api"), h.DeliveryRelay)
		}
	})

	if h.relay != nil && !strings.HasPrefix(h.cfg.RelayPath, "/api/") {
		r.Post(h.cfg.RelayPath, h.DeliveryRelay)
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// baseURL is the configured public URL or the one the request arrived on.
func (h *Handler) baseURL(r *http.Request) string {
	if h.cfg.PublicBaseURL != "" {
		return h.cfg.PublicBaseURL
	}
	return requestBaseURL(r)
}

func requestBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}
	return scheme + "://" + r.Host
}

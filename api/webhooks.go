package api

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/krishi-saathi/agent/contract"
	"github.com/tanpawarit/krishi-saathi/agent/locale"
	qstashx "github.com/tanpawarit/krishi-saathi/pkg/qstash"
)

// IVRResponse tells the voice provider what to say and whether to listen.
type IVRResponse struct {
	Action  string     `json:"action"`
	Payload IVRPayload `json:"payload"`
}

type IVRPayload struct {
	TextToSpeak   string `json:"text_to_speak"`
	Language      string `json:"language"`
	CallbackURL   string `json:"callback_url,omitempty"`
	SpeechTimeout int    `json:"speech_timeout,omitempty"`
	// AudioURL points at /api/tts when a synthesizer is configured.
	AudioURL string `json:"audio_url,omitempty"`
}

type WhatsAppResponse struct {
	Status         string `json:"status"`
	ReplySimulated string `json:"reply_simulated,omitempty"`
	Delivered      bool   `json:"delivered"`
}

func (h *Handler) IVRWelcome(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	f, err := readFields(w, r)
	if err != nil {
		Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	callerID := f.get("caller_id", "From")
	if callerID == "" {
		log.Ctx(ctx).Warn().Msg("ivr welcome without caller id")
		Error(w, http.StatusBadRequest, "Missing caller_id")
		return
	}

	reply, err := h.dispatcher.Welcome(ctx, callerID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("caller_id", callerID).Msg("ivr welcome failed")
		JSON(w, http.StatusInternalServerError, h.hangup(locale.TechnicalProblem))
		return
	}
	JSON(w, http.StatusOK, h.ivrResponse(r, reply))
}

func (h *Handler) IVRHandleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	f, err := readFields(w, r)
	if err != nil {
		Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req := ivrRequest(f)
	req.RequestID = chiMiddleware.GetReqID(ctx)
	if req.CallerID == "" {
		log.Ctx(ctx).Warn().Msg("ivr query without caller id")
		Error(w, http.StatusBadRequest, "Missing caller_id")
		return
	}

	reply, err := h.dispatcher.Handle(ctx, req)
	if err != nil {
		if errors.Is(err, contractx.ErrMissingCaller) {
			Error(w, http.StatusBadRequest, "Missing caller_id")
			return
		}
		log.Ctx(ctx).Error().Err(err).Str("caller_id", req.CallerID).Msg("ivr query failed")
		JSON(w, http.StatusInternalServerError, h.hangup(locale.QueryError))
		return
	}
	JSON(w, http.StatusOK, h.ivrResponse(r, reply))
}

// WhatsAppMessage answers through the delivery gateway; the HTTP response is
// only an acknowledgement for the provider.
func (h *Handler) WhatsAppMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	f, err := readFields(w, r)
	if err != nil {
		Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req := whatsAppRequest(f)
	req.RequestID = chiMiddleware.GetReqID(ctx)
	if req.CallerID == "" {
		log.Ctx(ctx).Warn().Msg("whatsapp message without sender id")
		Error(w, http.StatusBadRequest, "Missing sender_id")
		return
	}

	reply, err := h.dispatcher.Handle(ctx, req)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("caller_id", req.CallerID).Msg("whatsapp message failed")
		JSON(w, http.StatusInternalServerError, WhatsAppResponse{Status: "error"})
		return
	}

	delivered := h.delivery.Send(ctx, contractx.OutboundMessage{
		Channel: contractx.DeliveryWhatsApp,
		To:      req.CallerID,
		Body:    reply.Text,
	})
	JSON(w, http.StatusOK, WhatsAppResponse{
		Status:         "received",
		ReplySimulated: reply.Text,
		Delivered:      delivered,
	})
}

func (h *Handler) TextToSpeech(w http.ResponseWriter, r *http.Request) {
	if h.speaker == nil || !h.speaker.CanSynthesize() {
		Error(w, http.StatusServiceUnavailable, "Speech synthesis is not available")
		return
	}
	text := strings.TrimSpace(r.URL.Query().Get("text"))
	if text == "" {
		Error(w, http.StatusBadRequest, "Missing text")
		return
	}
	lang := h.catalog.Resolve(r.URL.Query().Get("lang"))

	media, ok := h.speaker.TextToSpeech(r.Context(), text, lang)
	if !ok {
		Error(w, http.StatusBadGateway, "Speech synthesis failed")
		return
	}
	mimeType := media.MIMEType
	if mimeType == "" {
		mimeType = "audio/mpeg"
	}
	w.Header().Set("Content-Type", mimeType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(media.Data); err != nil {
		log.Ctx(r.Context()).Warn().Err(err).Msg("failed to write audio")
	}
}

// DeliveryRelay is the QStash callback. Non-2xx responses make QStash retry,
// so only transient provider failures return 5xx.
func (h *Handler) DeliveryRelay(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	destination := h.baseURL(r) + h.cfg.RelayPath

	err := h.relay.Handle(ctx, r.Header.Get("Upstash-Signature"), r.Body, destination)
	switch {
	case err == nil:
		JSON(w, http.StatusOK, map[string]string{"status": "sent"})
	case errors.Is(err, qstashx.ErrInvalidSignature):
		log.Ctx(ctx).Warn().Err(err).Msg("relay signature rejected")
		Error(w, http.StatusUnauthorized, "Invalid signature")
	case errors.Is(err, contractx.ErrValidation):
		log.Ctx(ctx).Warn().Err(err).Msg("relay message rejected")
		Error(w, http.StatusBadRequest, "Invalid message")
	default:
		log.Ctx(ctx).Error().Err(err).Msg("relay send failed")
		Error(w, http.StatusBadGateway, "Send failed")
	}
}

func (h *Handler) ivrResponse(r *http.Request, reply contractx.Reply) IVRResponse {
	out := IVRResponse{
		Action: ActionSpeakAndHangup,
		Payload: IVRPayload{
			TextToSpeak: reply.Text,
			Language:    reply.Language,
		},
	}
	base := h.baseURL(r)
	if reply.Directive == contractx.DirectiveKeepListening {
		out.Action = ActionSpeakAndListen
		out.Payload.CallbackURL = base + "/api/ivr/handle-query"
		out.Payload.SpeechTimeout = h.cfg.SpeechTimeout
	}
	if h.speaker != nil && h.speaker.CanSynthesize() {
		q := url.Values{}
		q.Set("text", reply.Text)
		q.Set("lang", reply.Language)
		out.Payload.AudioURL = base + "/api/tts?" + q.Encode()
	}
	return out
}

// hangup is the error reply, always in the default language.
func (h *Handler) hangup(key string) IVRResponse {
	lang := h.catalog.Default()
	return IVRResponse{
		Action: ActionSpeakAndHangup,
		Payload: IVRPayload{
			TextToSpeak: h.catalog.Text(lang, key),
			Language:    lang,
		},
	}
}

package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/krishi-saathi/agent/contract"
	qstashx "github.com/tanpawarit/krishi-saathi/pkg/qstash"
	twiliox "github.com/tanpawarit/krishi-saathi/pkg/twilio"
)

/* ---------------------------------- Twilio --------------------------------- */

type TwilioSender struct {
	client       *twiliox.Client
	smsFrom      string
	whatsappFrom string
}

var _ contractx.MessageSender = (*TwilioSender)(nil)

func NewTwilioSender(client *twiliox.Client, smsFrom, whatsappFrom string) (*TwilioSender, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: twilio client is required", contractx.ErrCapabilityUnavailable)
	}
	return &TwilioSender{
		client:       client,
		smsFrom:      strings.TrimSpace(smsFrom),
		whatsappFrom: strings.TrimSpace(whatsappFrom),
	}, nil
}

func (s *TwilioSender) SendMessage(ctx context.Context, msg contractx.OutboundMessage) error {
	from := s.smsFrom
	if msg.Channel == contractx.DeliveryWhatsApp {
		from = NormalizeAddress(contractx.DeliveryWhatsApp, s.whatsappFrom)
	}
	if from == "" {
		return fmt.Errorf("twilio: no sender number for %s", msg.Channel)
	}
	sent, err := s.client.SendMessage(ctx, from, NormalizeAddress(msg.Channel, msg.To), msg.Body)
	if err != nil {
		return err
	}
	log.Ctx(ctx).Debug().Str("sid", sent.SID).Msg("twilio message created")
	return nil
}

/* ---------------------------------- QStash --------------------------------- */

// QStashSender enqueues the message with QStash, which calls the relay
// endpoint until it accepts. The dedup id keeps retries from double sending.
type QStashSender struct {
	client      *qstashx.Client
	destination string
}

var _ contractx.MessageSender = (*QStashSender)(nil)

func NewQStashSender(client *qstashx.Client, destination string) (*QStashSender, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: qstash client is required", contractx.ErrCapabilityUnavailable)
	}
	if strings.TrimSpace(destination) == "" {
		return nil, errors.New("qstash relay destination is required")
	}
	return &QStashSender{client: client, destination: strings.TrimSpace(destination)}, nil
}

func (s *QStashSender) SendMessage(ctx context.Context, msg contractx.OutboundMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode outbound message: %w", err)
	}
	id, err := s.client.Publish(ctx, qstashx.PublishRequest{
		Destination:     s.destination,
		Body:            body,
		ContentType:     "application/json",
		DeduplicationID: msg.DedupID,
	})
	if err != nil {
		return err
	}
	log.Ctx(ctx).Debug().Str("qstash_message_id", id).Msg("delivery enqueued")
	return nil
}

/* ----------------------------------- Log ----------------------------------- */

// LogSender writes the message to the log and reports ErrSimulated so that
// callers never claim the farmer received it.
type LogSender struct{}

var _ contractx.MessageSender = LogSender{}

func (LogSender) SendMessage(ctx context.Context, msg contractx.OutboundMessage) error {
	log.Ctx(ctx).Info().
		Str("channel", string(msg.Channel)).
		Str("to", msg.To).
		Str("body", msg.Body).
		Msg("simulated outbound message")
	return ErrSimulated
}

/* ---------------------------------- Relay ---------------------------------- */

const maxRelayBytes = 64 << 10

// Relay receives QStash callbacks and forwards the message to the real
// provider.
type Relay struct {
	verifier *qstashx.Verifier
	sender   contractx.MessageSender
}

func NewRelay(verifier *qstashx.Verifier, sender contractx.MessageSender) (*Relay, error) {
	if verifier == nil {
		return nil, errors.New("qstash verifier is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("%w: relay needs a message sender", contractx.ErrCapabilityUnavailable)
	}
	return &Relay{verifier: verifier, sender: sender}, nil
}

// Handle verifies the Upstash-Signature token against body and destination,
// then sends. Signature failures wrap qstash.ErrInvalidSignature and malformed
// bodies wrap contract.ErrValidation.
func (r *Relay) Handle(ctx context.Context, signature string, body io.Reader, destination string) error {
	raw, err := io.ReadAll(io.LimitReader(body, maxRelayBytes))
	if err != nil {
		return fmt.Errorf("%w: read relay body: %v", contractx.ErrValidation, err)
	}
	if err := r.verifier.Verify(signature, raw, destination); err != nil {
		return err
	}

	var msg contractx.OutboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("%w: decode relay body: %v", contractx.ErrValidation, err)
	}
	if msg.Channel == "" {
		msg.Channel = contractx.DeliverySMS
	}
	msg.To = NormalizeAddress(msg.Channel, msg.To)
	if msg.To == "" || strings.TrimSpace(msg.Body) == "" {
		return fmt.Errorf("%w: relay message needs to and body", contractx.ErrValidation)
	}
	return r.sender.SendMessage(ctx, msg)
}

// NewSender picks the provider named in cfg. A provider whose client is nil
// degrades to LogSender.
func NewSender(cfg Config, tw *twiliox.Client, twCfg twiliox.Config, qs *qstashx.Client, publicBaseURL string) contractx.MessageSender {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case ProviderTwilio:
		if s, err := NewTwilioSender(tw, twCfg.PhoneNumber, twCfg.WhatsAppNumber); err == nil {
			return s
		}
	case ProviderQStash:
		dest := strings.TrimRight(strings.TrimSpace(publicBaseURL), "/") + cfg.RelayPath
		if strings.TrimSpace(publicBaseURL) != "" {
			if s, err := NewQStashSender(qs, dest); err == nil {
				return s
			}
		}
	}
	if provider != "" && provider != ProviderLog {
		log.Warn().Str("provider", provider).Msg("delivery provider not configured, messages will only be logged")
	}
	return LogSender{}
}

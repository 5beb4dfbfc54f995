// Package delivery sends best-effort direct messages (SMS, WhatsApp) to
// farmers. Send reports success as a bool and never returns an error.
package delivery

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/krishi-saathi/agent/contract"
)

const whatsappPrefix = "whatsapp:"

// ErrSimulated is returned by senders that only pretend to deliver.
var ErrSimulated = errors.New("delivery: simulated send")

const (
	ProviderLog    = "log"
	ProviderTwilio = "twilio"
	ProviderQStash = "qstash"
)

// Config is loaded with prefix "DELIVERY".
type Config struct {
	Provider string        `envconfig:"PROVIDER" default:"log"`
	Timeout  time.Duration `envconfig:"TIMEOUT" default:"8s"`
	// RelayPath is appended to the public base url to build the QStash destination.
	RelayPath string `envconfig:"RELAY_PATH" split_words:"true" default:"/api/delivery/relay"`
}

// NormalizeAddress formats to for the channel. Applying it twice gives the
// same result.
func NormalizeAddress(channel contractx.DeliveryChannel, to string) string {
	to = strings.TrimSpace(to)
	if to == "" {
		return ""
	}
	hasPrefix := len(to) >= len(whatsappPrefix) && strings.EqualFold(to[:len(whatsappPrefix)], whatsappPrefix)
	switch channel {
	case contractx.DeliveryWhatsApp:
		if hasPrefix {
			return whatsappPrefix + strings.TrimSpace(to[len(whatsappPrefix):])
		}
		return whatsappPrefix + to
	default:
		if hasPrefix {
			return strings.TrimSpace(to[len(whatsappPrefix):])
		}
		return to
	}
}

type Gateway struct {
	sender  contractx.MessageSender
	timeout time.Duration
}

var _ contractx.DeliveryGateway = (*Gateway)(nil)

func NewGateway(sender contractx.MessageSender, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Gateway{sender: sender, timeout: timeout}
}

// Send normalizes the address, fills in a dedup id and hands the message to
// the provider under the gateway timeout.
func (g *Gateway) Send(ctx context.Context, msg contractx.OutboundMessage) bool {
	logger := log.Ctx(ctx).With().Str("component", "delivery").Str("channel", string(msg.Channel)).Logger()
	if g == nil || g.sender == nil {
		logger.Warn().Msg("no delivery provider configured")
		return false
	}
	if msg.Channel == "" {
		msg.Channel = contractx.DeliverySMS
	}
	msg.To = NormalizeAddress(msg.Channel, msg.To)
	if msg.To == "" || strings.TrimSpace(msg.Body) == "" {
		logger.Warn().Msg("delivery skipped: empty address or body")
		return false
	}
	if msg.DedupID == "" {
		msg.DedupID = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.sender.SendMessage(ctx, msg); err != nil {
		if errors.Is(err, ErrSimulated) {
			logger.Info().Str("to", msg.To).Msg("delivery simulated")
		} else {
			logger.Warn().Err(err).Str("to", msg.To).Msg("delivery failed")
		}
		return false
	}
	logger.Debug().Str("to", msg.To).Str("dedup_id", msg.DedupID).Msg("message delivered")
	return true
}

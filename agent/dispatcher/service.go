// Package dispatcher turns one canonical request into one reply: session,
// transcription, classification, the intent's handler and any direct message
// the handler asked for.
package dispatcher

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/krishi-saathi/agent/contract"
	"github.com/tanpawarit/krishi-saathi/agent/locale"
	nodex "github.com/tanpawarit/krishi-saathi/agent/nodes"
	statex "github.com/tanpawarit/krishi-saathi/agent/state"
)

type Handlers = nodex.Handlers

// MarketPriceResult is the Reply.Result of a market price turn.
type MarketPriceResult = nodex.MarketPriceResult

type Config struct {
	// DefaultLocation is used when neither the utterance nor the session has
	// one. Empty means the reference tables' default region.
	DefaultLocation string
}

type Dispatcher struct {
	sessions *statex.Manager
	language contractx.LanguageGateway
	delivery contractx.DeliveryGateway
	catalog  *locale.Catalog
	handlers Handlers
	defaults nodex.ContextDefaults

	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]

	now func() time.Time
}

func New(
	sessions *statex.Manager,
	language contractx.LanguageGateway,
	delivery contractx.DeliveryGateway,
	catalog *locale.Catalog,
	handlers Handlers,
	cfg Config,
) (*Dispatcher, error) {
	if sessions == nil {
		return nil, errors.New("session manager is required")
	}
	if language == nil {
		return nil, errors.New("language gateway is required")
	}
	if catalog == nil {
		return nil, errors.New("locale catalog is required")
	}
	if delivery == nil {
		delivery = noopDelivery{}
	}

	d := &Dispatcher{
		sessions: sessions,
		language: language,
		delivery: delivery,
		catalog:  catalog,
		handlers: handlers,
		defaults: nodex.ContextDefaults{
			Crop:     sessions.Defaults().Crop,
			Location: strings.TrimSpace(cfg.DefaultLocation),
		},
		now: time.Now,
	}

	graphRunner, err := d.compileHandleRequestGraph(context.Background())
	if err != nil {
		return nil, err
	}
	d.graphRunner = graphRunner

	return d, nil
}

// Handle runs the request through the dispatcher graph. Errors are either
// validation failures (missing caller, bad channel), store failures or
// handler wiring errors; everything else is answered in the reply.
func (d *Dispatcher) Handle(ctx context.Context, req contractx.Request) (contractx.Reply, error) {
	logger := log.Ctx(ctx).With().
		Str("component", "dispatcher").
		Str("channel", string(req.Channel)).
		Str("caller_id", strings.TrimSpace(req.CallerID)).
		Logger()
	if req.RequestID != "" {
		logger = logger.With().Str("request_id", req.RequestID).Logger()
	}
	ctx = logger.WithContext(ctx)

	out, err := d.graphRunner.Invoke(ctx, nodex.GraphInput{Request: req})
	if err != nil {
		logger.Error().Err(err).Msg("dispatch failed")
		return contractx.Reply{}, err
	}
	logger.Info().
		Str("intent", string(out.Reply.Intent)).
		Str("directive", string(out.Reply.Directive)).
		Bool("notified", out.Reply.Notified).
		Msg("request handled")
	return out.Reply, nil
}

// Welcome greets a caller in the session language, creating the session on
// first contact.
func (d *Dispatcher) Welcome(ctx context.Context, callerID string) (contractx.Reply, error) {
	callerID = strings.TrimSpace(callerID)
	if callerID == "" {
		return contractx.Reply{}, contractx.ErrMissingCaller
	}
	sess, err := d.sessions.GetOrCreate(ctx, callerID)
	if err != nil {
		return contractx.Reply{}, err
	}
	lang := d.catalog.Resolve(sess.Language)
	return contractx.Reply{
		Text:      d.catalog.Text(lang, locale.Welcome),
		Language:  lang,
		Directive: contractx.DirectiveKeepListening,
		Intent:    contractx.IntentUnknown,
	}, nil
}

// Catalog exposes the message catalog for entry point error texts.
func (d *Dispatcher) Catalog() *locale.Catalog {
	return d.catalog
}

type noopDelivery struct{}

func (noopDelivery) Send(context.Context, contractx.OutboundMessage) bool {
	return false
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/krishi-saathi/agent/contract"
	"github.com/tanpawarit/krishi-saathi/agent/delivery"
	"github.com/tanpawarit/krishi-saathi/agent/dispatcher"
	"github.com/tanpawarit/krishi-saathi/agent/domain/advisory"
	"github.com/tanpawarit/krishi-saathi/agent/domain/disease"
	"github.com/tanpawarit/krishi-saathi/agent/domain/finance"
	"github.com/tanpawarit/krishi-saathi/agent/domain/market"
	"github.com/tanpawarit/krishi-saathi/agent/domain/weather"
	"github.com/tanpawarit/krishi-saathi/agent/language"
	"github.com/tanpawarit/krishi-saathi/agent/llm"
	"github.com/tanpawarit/krishi-saathi/agent/locale"
	"github.com/tanpawarit/krishi-saathi/agent/media"
	"github.com/tanpawarit/krishi-saathi/agent/prompt"
	referencex "github.com/tanpawarit/krishi-saathi/agent/reference"
	statex "github.com/tanpawarit/krishi-saathi/agent/state"
	"github.com/tanpawarit/krishi-saathi/agent/vision"
	"github.com/tanpawarit/krishi-saathi/api"
	agmarknetx "github.com/tanpawarit/krishi-saathi/pkg/agmarknet"
	configx "github.com/tanpawarit/krishi-saathi/pkg/config"
	geminix "github.com/tanpawarit/krishi-saathi/pkg/gemini"
	openrouterx "github.com/tanpawarit/krishi-saathi/pkg/openrouter"
	openweatherx "github.com/tanpawarit/krishi-saathi/pkg/openweather"
	qstashx "github.com/tanpawarit/krishi-saathi/pkg/qstash"
	twiliox "github.com/tanpawarit/krishi-saathi/pkg/twilio"
)

type AppConfig struct {
	DefaultLanguage      string   `envconfig:"DEFAULT_LANGUAGE" default:"hi-IN"`
	SupportedLanguages   []string `envconfig:"SUPPORTED_LANGUAGES" default:"hi-IN,en-IN"`
	DefaultCrop          string   `envconfig:"DEFAULT_CROP" default:"wheat"`
	DefaultLocation      string   `envconfig:"DEFAULT_LOCATION"`
	DefaultLandSizeAcres float64  `envconfig:"DEFAULT_LAND_SIZE_ACRES" default:"2.0"`

	PublicBaseURL   string        `envconfig:"PUBLIC_BASE_URL"`
	Port            string        `envconfig:"PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	MediaTimeout    time.Duration `envconfig:"MEDIA_TIMEOUT" default:"15s"`
	ImageTimeout    time.Duration `envconfig:"IMAGE_TIMEOUT" default:"15s"`
	QnATimeout      time.Duration `envconfig:"QNA_TIMEOUT" default:"10s"`
	MarketCacheTTL  time.Duration `envconfig:"MARKET_CACHE_TTL" default:"1h"`
	WeatherCacheTTL time.Duration `envconfig:"WEATHER_CACHE_TTL" default:"30m"`
}

// app holds everything the commands share. close releases the session store.
type app struct {
	cfg        *AppConfig
	catalog    *locale.Catalog
	sessions   *statex.Manager
	language   *language.Gateway
	delivery   *delivery.Gateway
	relay      *delivery.Relay
	dispatcher *dispatcher.Dispatcher

	storeCfg  *statex.Config
	twilioCfg *twiliox.Config
	relayPath string

	closer io.Closer
}

func (a *app) Close() error {
	if a == nil || a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

// buildApp wires the process from the environment. Every external capability
// is optional: without credentials the simulated or reference adapter is used.
func buildApp(ctx context.Context) (*app, error) {
	cfg, err := configx.New[AppConfig]("")
	if err != nil {
		return nil, fmt.Errorf("load app config: %w", err)
	}

	catalog, err := locale.New(cfg.SupportedLanguages, cfg.DefaultLanguage)
	if err != nil {
		return nil, err
	}
	tables, err := referencex.Load()
	if err != nil {
		return nil, err
	}
	prompts := prompt.LoadPromptSet()

	storeCfg, err := configx.New[statex.Config]("STORE")
	if err != nil {
		return nil, fmt.Errorf("load store config: %w", err)
	}
	store, closer, err := statex.OpenStore(ctx, *storeCfg)
	if err != nil {
		return nil, err
	}
	sessions, err := statex.NewManager(store, statex.Defaults{
		Language:      catalog.Default(),
		Crop:          cfg.DefaultCrop,
		LandSizeAcres: cfg.DefaultLandSizeAcres,
	}, statex.WithIdleTTL(storeCfg.IdleTTL))
	if err != nil {
		_ = closer.Close()
		return nil, err
	}

	twilioCfg, err := configx.New[twiliox.Config]("TWILIO")
	if err != nil {
		_ = closer.Close()
		return nil, fmt.Errorf("load twilio config: %w", err)
	}
	var twilio *twiliox.Client
	if twilioCfg.Enabled() {
		if twilio, err = twiliox.NewClient(*twilioCfg); err != nil {
			log.Warn().Err(err).Msg("twilio client unavailable")
		}
	}
	fetcher := media.NewFetcher(twilio, cfg.MediaTimeout)

	llmCfg, err := configx.New[llm.Config]("LLM")
	if err != nil {
		_ = closer.Close()
		return nil, fmt.Errorf("load llm config: %w", err)
	}

	gateway, err := buildLanguage(ctx, tables, fetcher, llmCfg, prompts)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}

	handlers, err := buildHandlers(ctx, cfg, tables, catalog, fetcher, llmCfg, prompts)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}

	deliveryCfg, err := configx.New[delivery.Config]("DELIVERY")
	if err != nil {
		_ = closer.Close()
		return nil, fmt.Errorf("load delivery config: %w", err)
	}
	qstashCfg, err := configx.New[qstashx.Config]("QSTASH")
	if err != nil {
		_ = closer.Close()
		return nil, fmt.Errorf("load qstash config: %w", err)
	}
	var qstash *qstashx.Client
	if qstashCfg.Enabled() {
		if qstash, err = qstashx.NewClient(*qstashCfg); err != nil {
			log.Warn().Err(err).Msg("qstash client unavailable")
		}
	}
	sender := delivery.NewSender(*deliveryCfg, twilio, *twilioCfg, qstash, cfg.PublicBaseURL)
	deliveryGateway := delivery.NewGateway(sender, deliveryCfg.Timeout)

	var relay *delivery.Relay
	if strings.TrimSpace(qstashCfg.CurrentSigningKey) != "" && twilio != nil {
		twilioSender, err := delivery.NewTwilioSender(twilio, twilioCfg.PhoneNumber, twilioCfg.WhatsAppNumber)
		if err == nil {
			relay, err = delivery.NewRelay(qstashx.NewVerifier(qstashCfg.CurrentSigningKey, qstashCfg.NextSigningKey), twilioSender)
		}
		if err != nil {
			log.Warn().Err(err).Msg("delivery relay disabled")
		}
	}

	d, err := dispatcher.New(sessions, gateway, deliveryGateway, catalog, handlers, dispatcher.Config{
		DefaultLocation: cfg.DefaultLocation,
	})
	if err != nil {
		_ = closer.Close()
		return nil, err
	}

	return &app{
		cfg:        cfg,
		catalog:    catalog,
		sessions:   sessions,
		language:   gateway,
		delivery:   deliveryGateway,
		relay:      relay,
		dispatcher: d,
		storeCfg:   storeCfg,
		twilioCfg:  twilioCfg,
		relayPath:  deliveryCfg.RelayPath,
		closer:     closer,
	}, nil
}

func buildLanguage(
	ctx context.Context,
	tables *referencex.Tables,
	fetcher contractx.MediaFetcher,
	llmCfg *llm.Config,
	prompts prompt.PromptSet,
) (*language.Gateway, error) {
	langCfg, err := configx.New[language.Config]("LANGUAGE")
	if err != nil {
		return nil, fmt.Errorf("load language config: %w", err)
	}
	opts := []language.Option{language.WithConfig(*langCfg)}

	if langCfg.AudioEnabled() {
		audioClient := openrouterx.NewClient(openrouterx.Config{
			BaseURL: langCfg.AudioBaseURL,
			APIKey:  langCfg.AudioAPIKey,
			Timeout: langCfg.STTTimeout,
		})
		if t, err := language.NewWhisperTranscriber(audioClient, fetcher, langCfg.TranscriptionModel); err == nil {
			opts = append(opts, language.WithTranscriber(t))
		} else {
			log.Warn().Err(err).Msg("speech to text unavailable")
		}
		if s, err := language.NewSpeechSynthesizer(audioClient, langCfg.SpeechModel, langCfg.SpeechVoice); err == nil {
			opts = append(opts, language.WithSynthesizer(s))
		} else {
			log.Warn().Err(err).Msg("text to speech unavailable")
		}
	} else {
		log.Info().Msg("no audio api key, using simulated transcription")
		opts = append(opts, language.WithTranscriber(language.SimulatedTranscriber{}))
	}

	if llmCfg.Enabled() {
		orCfg := llmCfg.OpenRouterFor(llm.PurposeClassifier)
		chatModel, err := orCfg.New(ctx)
		if err == nil {
			var classifier *language.LLMClassifier
			if classifier, err = language.NewLLMClassifier(ctx, chatModel, prompts.Intent); err == nil {
				opts = append(opts, language.WithClassifier(classifier))
			}
		}
		if err != nil {
			log.Warn().Err(err).Msg("llm intent classifier unavailable, using keywords")
		}
	}

	return language.NewGateway(language.NewKeywordClassifier(tables), opts...)
}

func buildHandlers(
	ctx context.Context,
	cfg *AppConfig,
	tables *referencex.Tables,
	catalog *locale.Catalog,
	fetcher contractx.MediaFetcher,
	llmCfg *llm.Config,
	prompts prompt.PromptSet,
) (dispatcher.Handlers, error) {
	var advisoryOpts []advisory.Option
	if llmCfg.Enabled() {
		orCfg := llmCfg.OpenRouterFor(llm.PurposeQnA)
		chatModel, err := orCfg.New(ctx)
		if err == nil {
			var answerer *advisory.LLMAnswerer
			if answerer, err = advisory.NewLLMAnswerer(ctx, chatModel, prompts.QnA); err == nil {
				advisoryOpts = append(advisoryOpts, advisory.WithAnswerer(answerer, cfg.QnATimeout))
			}
		}
		if err != nil {
			log.Warn().Err(err).Msg("llm answerer unavailable, using rule based answers")
		}
	}

	weatherProvider, err := buildWeatherProvider()
	if err != nil {
		return dispatcher.Handlers{}, err
	}
	priceSource, err := buildPriceSource()
	if err != nil {
		return dispatcher.Handlers{}, err
	}

	diseaseOpts, err := buildImageClassifier(ctx, tables, fetcher, prompts, cfg.ImageTimeout)
	if err != nil {
		return dispatcher.Handlers{}, err
	}

	financeCfg, err := configx.New[finance.Config]("FINANCE")
	if err != nil {
		return dispatcher.Handlers{}, fmt.Errorf("load finance config: %w", err)
	}

	return dispatcher.Handlers{
		Advisory: advisory.NewHandler(tables, catalog, advisoryOpts...),
		Disease:  disease.NewHandler(tables, catalog, diseaseOpts...),
		Finance:  finance.NewHandler(tables, catalog, *financeCfg),
		Market:   market.NewHandler(tables, catalog, market.NewCachedSource(priceSource, cfg.MarketCacheTTL)),
		Weather:  weather.NewHandler(tables, catalog, weather.NewCachedProvider(weatherProvider, cfg.WeatherCacheTTL)),
	}, nil
}

func buildWeatherProvider() (weather.Provider, error) {
	climatology := weather.NewClimatologyProvider()
	owCfg, err := configx.New[openweatherx.Config]("OPENWEATHER")
	if err != nil {
		return nil, fmt.Errorf("load openweather config: %w", err)
	}
	if !owCfg.Enabled() {
		return climatology, nil
	}
	client, err := openweatherx.NewClient(*owCfg)
	if err == nil {
		var live *weather.OpenWeatherProvider
		if live, err = weather.NewOpenWeatherProvider(client); err == nil {
			return weather.NewFallbackProvider(live, climatology), nil
		}
	}
	log.Warn().Err(err).Msg("openweather unavailable, using climatology")
	return climatology, nil
}

func buildPriceSource() (market.PriceSource, error) {
	agCfg, err := configx.New[agmarknetx.Config]("AGMARKNET")
	if err != nil {
		return nil, fmt.Errorf("load agmarknet config: %w", err)
	}
	if !agCfg.Enabled() {
		return market.ReferenceSource{}, nil
	}
	client, err := agmarknetx.NewClient(*agCfg)
	if err == nil {
		var live *market.AgmarknetSource
		if live, err = market.NewAgmarknetSource(client); err == nil {
			return market.NewFallbackSource(live, market.ReferenceSource{}), nil
		}
	}
	log.Warn().Err(err).Msg("agmarknet unavailable, using reference prices")
	return market.ReferenceSource{}, nil
}

func buildImageClassifier(
	ctx context.Context,
	tables *referencex.Tables,
	fetcher contractx.MediaFetcher,
	prompts prompt.PromptSet,
	timeout time.Duration,
) ([]disease.Option, error) {
	gemCfg, err := configx.New[geminix.Config]("GEMINI")
	if err != nil {
		return nil, fmt.Errorf("load gemini config: %w", err)
	}
	if !gemCfg.Enabled() {
		return nil, nil
	}

	labels := make([]string, 0, len(tables.ImageCandidates))
	for _, c := range tables.ImageCandidates {
		labels = append(labels, c.Label)
	}

	client, err := geminix.NewClient(ctx, *gemCfg)
	if err == nil {
		var classifier *vision.GeminiClassifier
		if classifier, err = vision.NewGeminiClassifier(client, fetcher, gemCfg.ModelName(), prompts.Vision, labels); err == nil {
			if gemCfg.Timeout > 0 {
				timeout = gemCfg.Timeout
			}
			return []disease.Option{disease.WithImageClassifier(classifier, timeout)}, nil
		}
	}
	if errors.Is(err, contractx.ErrPromptMissing) {
		return nil, err
	}
	log.Warn().Err(err).Msg("gemini image classifier unavailable, using fallback candidates")
	return nil, nil
}

// apiConfig maps the process config onto the webhook handler's.
func (a *app) apiConfig() api.Config {
	return api.Config{
		PublicBaseURL:     a.cfg.PublicBaseURL,
		TwilioAuthToken:   a.twilioCfg.AuthToken,
		ValidateSignature: a.twilioCfg.ValidateSignature,
		RelayPath:         a.relayPath,
	}
}

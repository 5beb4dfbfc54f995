// Package language hides speech recognition, speech synthesis and intent
// classification behind soft-failing calls. Nothing here returns an error to
// the dispatcher: a failed transcription is empty text, a failed
// classification is the keyword result or UNKNOWN.
package language

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/krishi-saathi/agent/contract"
)

type Gateway struct {
	transcriber contractx.Transcriber
	classifier  contractx.IntentClassifier
	fallback    contractx.IntentClassifier
	synthesizer contractx.Synthesizer
	cfg         Config
}

var _ contractx.LanguageGateway = (*Gateway)(nil)

type Option func(*Gateway)

func WithTranscriber(t contractx.Transcriber) Option {
	return func(g *Gateway) { g.transcriber = t }
}

// WithClassifier sets the primary classifier. The fallback still answers
// whenever it errors, times out or returns an intent outside the taxonomy.
func WithClassifier(c contractx.IntentClassifier) Option {
	return func(g *Gateway) { g.classifier = c }
}

func WithSynthesizer(s contractx.Synthesizer) Option {
	return func(g *Gateway) { g.synthesizer = s }
}

func WithConfig(cfg Config) Option {
	return func(g *Gateway) { g.cfg = cfg.normalized() }
}

func NewGateway(fallback contractx.IntentClassifier, opts ...Option) (*Gateway, error) {
	if fallback == nil {
		return nil, errors.New("fallback intent classifier is required")
	}
	g := &Gateway{
		fallback: fallback,
		cfg:      Config{}.normalized(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

// SpeechToText returns "" when there is nothing to transcribe or the
// transcriber fails.
func (g *Gateway) SpeechToText(ctx context.Context, audio contractx.MediaRef, language string) string {
	if strings.TrimSpace(audio.URL) == "" || g.transcriber == nil {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.STTTimeout)
	defer cancel()

	text, err := g.transcriber.Transcribe(ctx, audio, language)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("audio_url", audio.URL).Msg("speech to text failed")
		return ""
	}
	return strings.TrimSpace(text)
}

// ClassifyIntent always returns a member of the taxonomy.
func (g *Gateway) ClassifyIntent(ctx context.Context, text string, language string) contractx.Classification {
	if strings.TrimSpace(text) == "" {
		return contractx.Classification{Intent: contractx.IntentUnknown, Entities: map[string]string{}}
	}

	if g.classifier != nil {
		out, err := g.classify(ctx, g.classifier, text, language)
		if err == nil {
			return out
		}
		log.Ctx(ctx).Warn().Err(err).Msg("primary intent classifier failed, using keyword rules")
	}

	out, err := g.classify(ctx, g.fallback, text, language)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("fallback intent classifier failed")
		return contractx.Classification{Intent: contractx.IntentUnknown, Entities: map[string]string{}}
	}
	return out
}

func (g *Gateway) classify(
	ctx context.Context,
	c contractx.IntentClassifier,
	text string,
	language string,
) (contractx.Classification, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.NLUTimeout)
	defer cancel()

	out, err := c.Classify(ctx, text, language)
	if err != nil {
		return contractx.Classification{}, err
	}
	if !out.Intent.Valid() {
		return contractx.Classification{}, contractx.ErrSchemaViolation
	}
	return out.Normalize(), nil
}

// CanSynthesize reports whether TextToSpeech can ever succeed.
func (g *Gateway) CanSynthesize() bool {
	return g.synthesizer != nil
}

// TextToSpeech synthesizes text; ok is false on any failure.
func (g *Gateway) TextToSpeech(ctx context.Context, text string, language string) (contractx.Media, bool) {
	if g.synthesizer == nil || strings.TrimSpace(text) == "" {
		return contractx.Media{}, false
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.TTSTimeout)
	defer cancel()

	media, err := g.synthesizer.Synthesize(ctx, text, language)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("text to speech failed")
		return contractx.Media{}, false
	}
	if len(media.Data) == 0 {
		return contractx.Media{}, false
	}
	return media, true
}

// Package disease diagnoses crop problems from a spoken description or a
// photo.
package disease

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/krishi-saathi/agent/contract"
	"github.com/tanpawarit/krishi-saathi/agent/locale"
	referencex "github.com/tanpawarit/krishi-saathi/agent/reference"
)

const (
	ModeSymptoms = "symptoms"
	ModeImage    = "image"

	SourceClassifier = "classifier"
	SourceFallback   = "fallback"
)

type Result struct {
	Mode       string  `json:"mode"`
	RuleID     string  `json:"rule_id,omitempty"`
	Label      string  `json:"label,omitempty"`
	Source     string  `json:"source,omitempty"`
	Diagnosis  string  `json:"diagnosis"`
	Advice     string  `json:"advice"`
	Confidence float64 `json:"confidence,omitempty"`
	Message    string  `json:"message"`
}

type SymptomArgs struct {
	Symptoms string
	Crop     string
	Channel  contractx.Channel
	Language string
}

type ImageArgs struct {
	Image    contractx.MediaRef
	Language string
}

type Handler struct {
	tables     *referencex.Tables
	catalog    *locale.Catalog
	classifier contractx.ImageClassifier
	timeout    time.Duration
}

type Option func(*Handler)

// WithImageClassifier enables photo classification, bounded by timeout.
// Without one every photo gets the deterministic fallback.
func WithImageClassifier(c contractx.ImageClassifier, timeout time.Duration) Option {
	return func(h *Handler) {
		h.classifier = c
		if timeout > 0 {
			h.timeout = timeout
		}
	}
}

func NewHandler(tables *referencex.Tables, catalog *locale.Catalog, opts ...Option) *Handler {
	h := &Handler{
		tables:  tables,
		catalog: catalog,
		timeout: 12 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

func (h *Handler) ready() error {
	if h == nil || h.tables == nil || h.catalog == nil {
		return fmt.Errorf("%w: disease handler needs tables and catalog", contractx.ErrHandlerWiring)
	}
	return nil
}

// FromSymptoms applies the symptom rules in order. On voice calls the reply
// suggests sending a photo over WhatsApp.
func (h *Handler) FromSymptoms(ctx context.Context, args SymptomArgs) (Result, error) {
	if err := h.ready(); err != nil {
		return Result{}, err
	}
	lang := h.catalog.Resolve(args.Language)

	rule := h.tables.SymptomDefault
	for _, r := range h.tables.SymptomRules {
		if r.Matches(args.Symptoms) {
			rule = r
			break
		}
	}

	res := Result{
		Mode:      ModeSymptoms,
		RuleID:    rule.ID,
		Diagnosis: rule.Diagnosis.In(lang, h.catalog.Default()),
		Advice:    rule.Advice.In(lang, h.catalog.Default()),
	}
	res.Message = res.Diagnosis + " " + res.Advice
	if args.Channel == contractx.ChannelIVR {
		res.Message += h.catalog.Text(lang, locale.DiseasePhotoHint)
	}

	log.Ctx(ctx).Debug().Str("rule", rule.ID).Str("crop", args.Crop).Msg("symptom diagnosis")
	return res, nil
}

// FromImage classifies the photo. When the classifier is missing, fails or
// answers with a label the tables do not know, a fallback candidate is chosen
// from a hash of the image URL, so the same photo always gets the same answer.
// A missing image or one that cannot be downloaded gets no diagnosis at all.
func (h *Handler) FromImage(ctx context.Context, args ImageArgs) (Result, error) {
	if err := h.ready(); err != nil {
		return Result{}, err
	}
	lang := h.catalog.Resolve(args.Language)
	logger := log.Ctx(ctx)

	if strings.TrimSpace(args.Image.URL) == "" {
		logger.Warn().Msg("image diagnosis requested without an image")
		return h.noDiagnosis(lang, locale.DiseaseImageUnreadable), nil
	}

	var (
		candidate  referencex.ImageCandidate
		confidence float64
		source     string
		found      bool
	)
	if h.classifier != nil {
		cctx, cancel := context.WithTimeout(ctx, h.timeout)
		label, err := h.classifier.ClassifyImage(cctx, args.Image)
		cancel()
		switch {
		case errors.Is(err, contractx.ErrMediaFetch):
			logger.Warn().Err(err).Str("media_url", args.Image.URL).Msg("image download failed")
			return h.noDiagnosis(lang, locale.WhatsAppImageDownload), nil
		case err != nil:
			logger.Warn().Err(err).Str("media_url", args.Image.URL).Msg("image classification failed")
		default:
			if c, ok := h.tables.CandidateByLabel(label.Label); ok {
				candidate, confidence, source, found = c, label.Confidence, SourceClassifier, true
			} else {
				logger.Warn().Str("label", label.Label).Msg("classifier returned an unknown label")
			}
		}
	}
	if !found {
		candidate, found = fallbackCandidate(h.tables.FallbackCandidates(), args.Image.URL)
		confidence, source = candidate.Confidence, SourceFallback
	}
	if !found {
		return h.noDiagnosis(lang, locale.DiseaseImageUnreadable), nil
	}

	res := Result{
		Mode:       ModeImage,
		Source:     source,
		Label:      candidate.Label,
		Confidence: clampConfidence(confidence),
		Advice:     candidate.Advice.In(lang, h.catalog.Default()),
		Diagnosis:  candidate.Diagnosis.In(lang, h.catalog.Default()),
	}
	if res.Confidence > 0 {
		res.Diagnosis = h.catalog.Text(lang, locale.DiseaseImageDiagnosis,
			"name", res.Diagnosis,
			"confidence", strconv.FormatFloat(res.Confidence*100, 'f', 1, 64),
		)
	}
	res.Message = h.catalog.Text(lang, locale.WhatsAppImageReply, "diagnosis", res.Diagnosis, "advice", res.Advice)

	logger.Debug().Str("label", res.Label).Str("source", source).Float64("confidence", res.Confidence).Msg("image diagnosis")
	return res, nil
}

// noDiagnosis is the reply for a photo that could not be looked at. reason
// is a catalog key.
func (h *Handler) noDiagnosis(lang, reason string) Result {
	res := Result{
		Mode:      ModeImage,
		Diagnosis: h.catalog.Text(lang, reason),
		Advice:    h.catalog.Text(lang, locale.DiseaseImageRetake),
	}
	res.Message = h.catalog.Text(lang, locale.WhatsAppImageReply, "diagnosis", res.Diagnosis, "advice", res.Advice)
	return res
}

func fallbackCandidate(candidates []referencex.ImageCandidate, ref string) (referencex.ImageCandidate, bool) {
	if len(candidates) == 0 {
		return referencex.ImageCandidate{}, false
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.TrimSpace(ref)))
	return candidates[int(h.Sum32()%uint32(len(candidates)))], true
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// Package vision labels crop photos with a Gemini multimodal model.
package vision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/krishi-saathi/agent/contract"
	"google.golang.org/genai"
)

// LabelUnreadable is what the model answers for photos it cannot judge.
const LabelUnreadable = "unreadable"

// contentGenerator is the part of genai.Models the classifier calls.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type GeminiClassifier struct {
	models  contentGenerator
	fetcher contractx.MediaFetcher
	model   string
	prompt  string
}

var _ contractx.ImageClassifier = (*GeminiClassifier)(nil)

// NewGeminiClassifier builds a classifier that may only answer with one of
// labels. prompt is the instruction text the label list is appended to.
func NewGeminiClassifier(client *genai.Client, fetcher contractx.MediaFetcher, model, prompt string, labels []string) (*GeminiClassifier, error) {
	if client == nil || client.Models == nil {
		return nil, fmt.Errorf("%w: gemini client is required", contractx.ErrCapabilityUnavailable)
	}
	return newClassifier(client.Models, fetcher, model, prompt, labels)
}

func newClassifier(models contentGenerator, fetcher contractx.MediaFetcher, model, prompt string, labels []string) (*GeminiClassifier, error) {
	if fetcher == nil {
		return nil, errors.New("media fetcher is required")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("gemini model is required")
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("%w: vision", contractx.ErrPromptMissing)
	}
	if len(labels) == 0 {
		return nil, errors.New("at least one label is required")
	}

	var b strings.Builder
	b.WriteString(strings.TrimSpace(prompt))
	for _, l := range append(append([]string(nil), labels...), LabelUnreadable) {
		b.WriteString("\n- ")
		b.WriteString(l)
	}
	return &GeminiClassifier{models: models, fetcher: fetcher, model: model, prompt: b.String()}, nil
}

type labelOutput struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

func (c *GeminiClassifier) ClassifyImage(ctx context.Context, image contractx.MediaRef) (contractx.ImageLabel, error) {
	media, err := c.fetcher.Fetch(ctx, image.URL)
	if err != nil {
		return contractx.ImageLabel{}, err
	}
	if len(media.Data) == 0 {
		return contractx.ImageLabel{}, fmt.Errorf("%w: image is empty", contractx.ErrMediaFetch)
	}
	mime := media.MIMEType
	if mime == "" {
		mime = image.MIMEType
	}
	if mime == "" {
		mime = "image/jpeg"
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(media.Data, mime),
			genai.NewPartFromText("Label this crop photo."),
		}, genai.RoleUser),
	}
	resp, err := c.models.GenerateContent(ctx, c.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(c.prompt, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		Temperature:       genai.Ptr[float32](0),
	})
	if err != nil {
		return contractx.ImageLabel{}, fmt.Errorf("%w: gemini: %v", contractx.ErrModelInvoke, err)
	}
	if resp == nil {
		return contractx.ImageLabel{}, fmt.Errorf("%w: empty gemini response", contractx.ErrSchemaViolation)
	}

	out, err := parseLabel(resp.Text())
	if err != nil {
		return contractx.ImageLabel{}, err
	}
	log.Ctx(ctx).Debug().Str("label", out.Label).Float64("confidence", out.Confidence).Msg("image classified")
	return out, nil
}

func parseLabel(text string) (contractx.ImageLabel, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var raw labelOutput
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &raw); err != nil {
		return contractx.ImageLabel{}, fmt.Errorf("%w: decode label: %v", contractx.ErrSchemaViolation, err)
	}
	label := strings.ToLower(strings.TrimSpace(raw.Label))
	label = strings.ReplaceAll(label, " ", "_")
	if label == "" {
		return contractx.ImageLabel{}, fmt.Errorf("%w: empty label", contractx.ErrSchemaViolation)
	}
	conf := raw.Confidence
	switch {
	case conf < 0:
		conf = 0
	case conf > 1:
		conf = 1
	}
	return contractx.ImageLabel{Label: label, Confidence: conf}, nil
}

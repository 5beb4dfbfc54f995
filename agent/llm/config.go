package llm

import (
	"strings"
	"time"

	openrouterx "github.com/tanpawarit/krishi-saathi/pkg/openrouter"
)

// Purpose selects per-use model overrides.
type Purpose string

const (
	PurposeClassifier Purpose = "classifier"
	PurposeQnA        Purpose = "qna"
)

type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"600"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.2"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"15s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true" default:"Krishi Saathi"`

	ClassifierModel       string  `envconfig:"CLASSIFIER_MODEL" split_words:"true"`
	QnAModel              string  `envconfig:"QNA_MODEL" split_words:"true"`
	ClassifierTemperature float32 `envconfig:"CLASSIFIER_TEMPERATURE" split_words:"true" default:"0"`
	QnATemperature        float32 `envconfig:"QNA_TEMPERATURE" split_words:"true" default:"-1"`
	// ClassifierNoReasoning drops reasoning tokens on intent classification.
	ClassifierNoReasoning bool    `envconfig:"CLASSIFIER_NO_REASONING" split_words:"true" default:"true"`
}

// Enabled reports whether any LLM backed component can be built. Without it
// the keyword classifier and rule based answers are used.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.APIKey) != "" && strings.TrimSpace(c.Model) != ""
}

func (c Config) OpenRouterFor(purpose Purpose) openrouterx.Config {
	modelName := strings.TrimSpace(c.Model)
	temp := c.Temperature
	excludeReasoning := false

	switch purpose {
	case PurposeClassifier:
		if v := strings.TrimSpace(c.ClassifierModel); v != "" {
			modelName = v
		}
		if c.ClassifierTemperature >= 0 {
			temp = c.ClassifierTemperature
		}
		excludeReasoning = c.ClassifierNoReasoning
	case PurposeQnA:
		if v := strings.TrimSpace(c.QnAModel); v != "" {
			modelName = v
		}
		if c.QnATemperature >= 0 {
			temp = c.QnATemperature
		}
	}

	maxCompletionToken := c.MaxCompletionToken
	return openrouterx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              modelName,
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        temp,
		Timeout:            c.Timeout,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
		ExcludeReasoning:   excludeReasoning,
	}
}

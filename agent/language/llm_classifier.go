package language

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	contractx "github.com/tanpawarit/krishi-saathi/agent/contract"
	llmx "github.com/tanpawarit/krishi-saathi/agent/llm"
)

type llmClassification struct {
	Intent   string         `json:"intent"`
	Entities map[string]any `json:"entities,omitempty"`
}

var knownEntities = map[string]bool{
	contractx.EntityCrop:         true,
	contractx.EntityLocation:     true,
	contractx.EntitySymptoms:     true,
	contractx.EntityQueryText:    true,
	contractx.EntityTopic:        true,
	contractx.EntityQuantity:     true,
	contractx.EntityForecastDays: true,
}

// LLMClassifier asks a chat model for a JSON classification.
type LLMClassifier struct {
	runner compose.Runnable[map[string]any, llmClassification]
}

var _ contractx.IntentClassifier = (*LLMClassifier)(nil)

func NewLLMClassifier(ctx context.Context, chatModel einomodel.BaseChatModel, systemPrompt string) (*LLMClassifier, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("%w: chat model is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(systemPrompt) == "" {
		return nil, contractx.ErrPromptMissing
	}
	runner, err := llmx.CompileStructuredGraph[llmClassification](ctx, chatModel, systemPrompt, "language.intent_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile intent graph: %v", contractx.ErrModelInvoke, err)
	}
	return &LLMClassifier{runner: runner}, nil
}

func (c *LLMClassifier) Classify(ctx context.Context, text string, language string) (contractx.Classification, error) {
	payload, err := json.Marshal(map[string]string{
		"text":     text,
		"language": language,
	})
	if err != nil {
		return contractx.Classification{}, fmt.Errorf("%w: marshal intent payload: %v", contractx.ErrValidation, err)
	}

	out, err := c.runner.Invoke(ctx, map[string]any{"input": string(payload)})
	if err != nil {
		return contractx.Classification{}, fmt.Errorf("%w: intent invoke: %v", contractx.ErrModelInvoke, err)
	}

	intent := contractx.ParseIntent(out.Intent)
	if intent == contractx.IntentUnknown && !strings.EqualFold(strings.TrimSpace(out.Intent), string(contractx.IntentUnknown)) {
		return contractx.Classification{}, fmt.Errorf("%w: unsupported intent=%q", contractx.ErrSchemaViolation, out.Intent)
	}

	entities := map[string]string{}
	for k, v := range out.Entities {
		key := strings.TrimSpace(k)
		if !knownEntities[key] {
			continue
		}
		if s := entityString(v); s != "" {
			entities[key] = s
		}
	}
	return contractx.Classification{Intent: intent, Entities: entities}.Normalize(), nil
}

func entityString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

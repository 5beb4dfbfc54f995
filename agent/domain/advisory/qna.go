package advisory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/krishi-saathi/agent/contract"
	llmx "github.com/tanpawarit/krishi-saathi/agent/llm"
	"github.com/tanpawarit/krishi-saathi/agent/locale"
)

// Topics the keyword classifier may put in the topic entity.
const (
	TopicSeed      = "seed"
	TopicPesticide = "pesticide"
	TopicWeather   = "weather"
	TopicSoilTest  = "soil_test"
)

// QnAAnswerer answers a free-form farming question.
type QnAAnswerer interface {
	Answer(ctx context.Context, q Question) (string, error)
}

type Question struct {
	Text     string `json:"question"`
	Language string `json:"language"`
	Crop     string `json:"crop,omitempty"`
	Location string `json:"location,omitempty"`
}

type QnAArgs struct {
	Query    string
	Topic    string
	Crop     string
	Location string
	Language string
}

type QnAResult struct {
	Topic   string `json:"topic,omitempty"`
	Source  string `json:"source"`
	Message string `json:"message"`
}

type qnaRule struct {
	topic    string
	keywords []string
	key      string
}

// Checked in order; the first rule with a matching keyword wins.
var qnaRules = []qnaRule{
	{topic: TopicSeed, keywords: []string{"बीज", "seed"}, key: locale.QnASeed},
	{topic: TopicPesticide, keywords: []string{"दवा", "pesticide", "खरपतवार", "weed"}, key: locale.QnAPesticide},
	{topic: TopicWeather, keywords: []string{"मौसम", "weather"}, key: locale.QnAWeather},
	{topic: TopicSoilTest, keywords: []string{"मिट्टी जांच", "मिट्टी की जांच", "soil test"}, key: locale.QnASoilTest},
}

// Answer tries the answerer first when one is configured and falls back to
// the fixed rules.
func (h *Handler) Answer(ctx context.Context, args QnAArgs) (QnAResult, error) {
	if err := h.ready(); err != nil {
		return QnAResult{}, err
	}
	lang := h.catalog.Resolve(args.Language)

	cropName := ""
	if crop, ok := h.tables.Crop(args.Crop); ok {
		cropName = crop.Names.In(lang, h.catalog.Default())
	}

	if h.answerer != nil && strings.TrimSpace(args.Query) != "" {
		actx, cancel := context.WithTimeout(ctx, h.qnaLimit)
		answer, err := h.answerer.Answer(actx, Question{
			Text:     args.Query,
			Language: lang,
			Crop:     cropName,
			Location: args.Location,
		})
		cancel()
		if err == nil && strings.TrimSpace(answer) != "" {
			return QnAResult{Source: "llm", Message: strings.TrimSpace(answer)}, nil
		}
		log.Ctx(ctx).Warn().Err(err).Msg("qna answerer failed, using rules")
	}

	topic := matchTopic(args.Query, args.Topic)
	res := QnAResult{Topic: topic, Source: "rules"}
	switch topic {
	case "":
		res.Message = h.catalog.Text(lang, locale.QnADefault)
	case TopicSeed:
		if cropName != "" {
			res.Message = h.catalog.Text(lang, locale.QnASeedCrop, "crop", cropName)
		} else {
			res.Message = h.catalog.Text(lang, locale.QnASeed)
		}
	default:
		for _, r := range qnaRules {
			if r.topic == topic {
				res.Message = h.catalog.Text(lang, r.key)
			}
		}
	}
	return res, nil
}

// matchTopic prefers the rules over the text and uses the classifier's topic
// only when no rule matched.
func matchTopic(text, topic string) string {
	lower := strings.ToLower(text)
	for _, r := range qnaRules {
		for _, k := range r.keywords {
			if strings.Contains(lower, strings.ToLower(k)) {
				return r.topic
			}
		}
	}
	topic = strings.ToLower(strings.TrimSpace(topic))
	for _, r := range qnaRules {
		if r.topic == topic {
			return topic
		}
	}
	return ""
}

/* ------------------------------- LLM answerer ------------------------------ */

type qnaAnswer struct {
	Answer string `json:"answer"`
}

// LLMAnswerer answers through a structured chat model graph.
type LLMAnswerer struct {
	runner compose.Runnable[map[string]any, qnaAnswer]
}

var _ QnAAnswerer = (*LLMAnswerer)(nil)

func NewLLMAnswerer(ctx context.Context, chatModel einomodel.BaseChatModel, systemPrompt string) (*LLMAnswerer, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("%w: chat model is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(systemPrompt) == "" {
		return nil, contractx.ErrPromptMissing
	}
	runner, err := llmx.CompileStructuredGraph[qnaAnswer](ctx, chatModel, systemPrompt, "advisory.qna_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile qna graph: %v", contractx.ErrModelInvoke, err)
	}
	return &LLMAnswerer{runner: runner}, nil
}

func (a *LLMAnswerer) Answer(ctx context.Context, q Question) (string, error) {
	payload, err := json.Marshal(q)
	if err != nil {
		return "", fmt.Errorf("%w: marshal qna payload: %v", contractx.ErrValidation, err)
	}
	out, err := a.runner.Invoke(ctx, map[string]any{"input": string(payload)})
	if err != nil {
		return "", fmt.Errorf("%w: qna invoke: %v", contractx.ErrModelInvoke, err)
	}
	answer := strings.TrimSpace(out.Answer)
	if answer == "" {
		return "", fmt.Errorf("%w: empty answer", contractx.ErrSchemaViolation)
	}
	return answer, nil
}

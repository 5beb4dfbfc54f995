package language

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	contractx "github.com/tanpawarit/krishi-saathi/agent/contract"
	referencex "github.com/tanpawarit/krishi-saathi/agent/reference"
)

type keywordRule struct {
	intent   contractx.Intent
	keywords []string
	topic    string
}

// Rules are checked in order; the first rule with any matching keyword wins.
var keywordRules = []keywordRule{
	{intent: contractx.IntentCropAdvisoryWater, keywords: []string{"पानी", "water", "सिंचाई", "irrigat", "pani"}},
	{intent: contractx.IntentCropAdvisoryFertilizer, keywords: []string{"खाद", "fertilizer", "fertiliser", "यूरिया", "urea", "khad"}},
	{intent: contractx.IntentDiseaseSymptoms, keywords: []string{"रोग", "बीमारी", "disease", "धब्बे", "spots", "कीड़े"}},
	{intent: contractx.IntentFinanceLoan, keywords: []string{"लोन", "loan", "ऋण", "कर्ज", "credit"}},
	{intent: contractx.IntentFinanceInsurance, keywords: []string{"बीमा", "insurance", "pmfby"}},
	{intent: contractx.IntentMarketPrice, keywords: []string{"भाव", "price", "मंडी", "mandi", "rate", "दाम"}},
	{intent: contractx.IntentMarketLinkage, keywords: []string{"बेचना", "बेचनी", "sell", "खरीदार", "buyer"}},
	{intent: contractx.IntentWeather, keywords: []string{"मौसम", "weather", "बारिश", "rain", "barish"}},
	{intent: contractx.IntentGeneralQnA, keywords: []string{"बीज", "seed", "beej"}, topic: "seed"},
}

var questionWords = []string{"क्या", "कब", "कैसे", "क्यों", "कौन", "what", "when", "how", "why", "which"}

var (
	quantityPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:क्विंटल|quintal|qtl|q\b)`)
	daysPattern     = regexp.MustCompile(`(\d+)\s*(?:दिन|days?\b)`)
)

// KeywordClassifier is the deterministic classifier used when no model is
// configured and as the fallback for one that fails.
type KeywordClassifier struct {
	tables *referencex.Tables
}

var _ contractx.IntentClassifier = (*KeywordClassifier)(nil)

func NewKeywordClassifier(tables *referencex.Tables) *KeywordClassifier {
	return &KeywordClassifier{tables: tables}
}

func (k *KeywordClassifier) Classify(ctx context.Context, text string, language string) (contractx.Classification, error) {
	raw := strings.TrimSpace(text)
	lower := normalizeDigits(strings.ToLower(raw))
	tokens := latinTokens(lower)

	out := contractx.Classification{Intent: contractx.IntentUnknown, Entities: map[string]string{}}
	for _, rule := range keywordRules {
		if matchesAny(lower, tokens, rule.keywords) {
			out.Intent = rule.intent
			if rule.topic != "" {
				out.Entities[contractx.EntityTopic] = rule.topic
			}
			break
		}
	}
	if out.Intent == contractx.IntentUnknown && matchesAny(lower, tokens, questionWords) {
		out.Intent = contractx.IntentGeneralQnA
	}

	switch out.Intent {
	case contractx.IntentDiseaseSymptoms:
		out.Entities[contractx.EntitySymptoms] = raw
	case contractx.IntentGeneralQnA:
		out.Entities[contractx.EntityQueryText] = raw
	}

	if k.tables != nil {
		if crop, ok := k.tables.FindCrop(raw); ok {
			out.Entities[contractx.EntityCrop] = crop.ID
		}
		if region, ok := k.tables.FindRegion(raw); ok {
			out.Entities[contractx.EntityLocation] = region.ID
		}
	}
	if m := quantityPattern.FindStringSubmatch(lower); m != nil {
		out.Entities[contractx.EntityQuantity] = m[1]
	}
	if m := daysPattern.FindStringSubmatch(lower); m != nil {
		out.Entities[contractx.EntityForecastDays] = m[1]
	}
	return out, nil
}

// matchesAny matches Latin keywords as token prefixes ("selling" matches
// "sell") and Devanagari keywords as substrings.
func matchesAny(lower string, tokens []string, keywords []string) bool {
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if !isASCII(kw) {
			if strings.Contains(lower, kw) {
				return true
			}
			continue
		}
		for _, tok := range tokens {
			if strings.HasPrefix(tok, kw) {
				return true
			}
		}
	}
	return false
}

func latinTokens(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r))
	})
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// normalizeDigits maps Devanagari digits to ASCII.
func normalizeDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '०' && r <= '९' {
			return '0' + (r - '०')
		}
		return r
	}, s)
}

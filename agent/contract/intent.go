package contract

import "strings"

// Intent is a label from the closed taxonomy of things a farmer can ask for.
type Intent string

const (
	IntentCropAdvisoryWater      Intent = "CROP_ADVISORY_WATER"
	IntentCropAdvisoryFertilizer Intent = "CROP_ADVISORY_FERTILIZER"
	IntentCropAdvisoryGeneral    Intent = "CROP_ADVISORY_GENERAL"
	IntentDiseaseSymptoms        Intent = "DISEASE_QUERY_SYMPTOMS"
	IntentDiseaseImage           Intent = "DISEASE_QUERY_IMAGE"
	IntentFinanceLoan            Intent = "FINANCE_LOAN_REQUEST"
	IntentFinanceInsurance       Intent = "FINANCE_INSURANCE_QUERY"
	IntentMarketPrice            Intent = "MARKET_PRICE_QUERY"
	IntentMarketLinkage          Intent = "MARKET_LINKAGE_REQUEST"
	IntentWeather                Intent = "WEATHER_QUERY"
	IntentGeneralQnA             Intent = "GENERAL_QNA"
	IntentUnknown                Intent = "UNKNOWN"
)

var intents = []Intent{
	IntentCropAdvisoryWater,
	IntentCropAdvisoryFertilizer,
	IntentCropAdvisoryGeneral,
	IntentDiseaseSymptoms,
	IntentDiseaseImage,
	IntentFinanceLoan,
	IntentFinanceInsurance,
	IntentMarketPrice,
	IntentMarketLinkage,
	IntentWeather,
	IntentGeneralQnA,
	IntentUnknown,
}

// Intents returns every member of the taxonomy in declaration order.
func Intents() []Intent {
	return append([]Intent(nil), intents...)
}

func (i Intent) Valid() bool {
	for _, known := range intents {
		if i == known {
			return true
		}
	}
	return false
}

// ParseIntent maps free-form labels onto the taxonomy. Anything it does not
// recognise becomes IntentUnknown.
func ParseIntent(raw string) Intent {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, " ", "_")
	normalized = strings.ReplaceAll(normalized, "-", "_")
	intent := Intent(normalized)
	if !intent.Valid() {
		return IntentUnknown
	}
	return intent
}

// IsAdvisory reports whether the intent is answered from the crop calendar.
func (i Intent) IsAdvisory() bool {
	return i == IntentCropAdvisoryWater || i == IntentCropAdvisoryFertilizer || i == IntentCropAdvisoryGeneral
}

const (
	EntityCrop         = "crop"
	EntityLocation     = "location"
	EntitySymptoms     = "symptoms"
	EntityQueryText    = "query_text"
	EntityTopic        = "topic"
	EntityQuantity     = "quantity_quintals"
	EntityForecastDays = "forecast_days"
)

// Classification is the outcome of intent extraction.
type Classification struct {
	Intent   Intent            `json:"intent"`
	Entities map[string]string `json:"entities,omitempty"`
}

// Entity returns a trimmed entity value or "".
func (c Classification) Entity(key string) string {
	if c.Entities == nil {
		return ""
	}
	return strings.TrimSpace(c.Entities[key])
}

// Normalize forces the intent into the taxonomy and drops blank entities.
func (c Classification) Normalize() Classification {
	out := Classification{Intent: c.Intent, Entities: map[string]string{}}
	if !out.Intent.Valid() {
		out.Intent = ParseIntent(string(c.Intent))
	}
	for k, v := range c.Entities {
		key := strings.TrimSpace(k)
		val := strings.TrimSpace(v)
		if key == "" || val == "" {
			continue
		}
		out.Entities[key] = val
	}
	return out
}

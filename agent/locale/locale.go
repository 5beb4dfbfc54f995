// Package locale resolves language tags and renders user facing messages.
package locale

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed data/messages.yaml
var messagesRaw []byte

// Message keys.
const (
	Welcome          = "welcome"
	Reprompt         = "reprompt"
	UnknownIntent    = "unknown_intent"
	CannotHelp       = "cannot_help"
	HandlerError     = "handler_error"
	TechnicalProblem = "technical_problem"
	QueryError       = "query_error"

	WhatsAppInstructions   = "whatsapp.instructions"
	WhatsAppImageReply     = "whatsapp.image_reply"
	WhatsAppImageDownload  = "whatsapp.image_download_failed"
	AdvisoryStagePrefix    = "advisory.stage_prefix"
	AdvisoryNoAdvice       = "advisory.no_advice"
	AdvisoryPostHarvest    = "advisory.post_harvest"
	AdvisoryCaveatRain     = "advisory.caveat_rain"
	AdvisoryCaveatDry      = "advisory.caveat_dry"
	QnADefault             = "qna.default"
	QnASeed                = "qna.seed"
	QnASeedCrop            = "qna.seed_crop"
	QnAPesticide           = "qna.pesticide"
	QnAWeather             = "qna.weather"
	QnASoilTest            = "qna.soil_test"
	DiseasePhotoHint       = "disease.photo_hint"
	DiseaseImageDiagnosis  = "disease.image_diagnosis"
	DiseaseImageUnreadable = "disease.image_unreadable"
	DiseaseImageRetake     = "disease.image_unreadable_advice"
	FinanceNeedInfo        = "finance.need_info"
	FinanceSmallHolding    = "finance.small_holding"
	FinanceEligible        = "finance.eligible"
	FinanceLenderSeparator = "finance.lender_separator"
	FinanceInsuranceScheme = "finance.insurance_scheme"
	FinanceInsurance       = "finance.insurance"
	MarketPrices           = "market.prices"
	MarketQuote            = "market.quote"
	MarketNoPrices         = "market.no_prices"
	MarketForecastUp       = "market.forecast_up"
	MarketForecastDown     = "market.forecast_down"
	MarketForecastFlat     = "market.forecast_flat"
	MarketForecastNone     = "market.forecast_unavailable"
	MarketBuyer            = "market.buyer"
	MarketBuyerDirect      = "market.buyer_direct"
	MarketNoBuyer          = "market.no_buyer"
	MarketBuyerSMS         = "market.buyer_sms"
	MarketSMSConfirmation  = "market.sms_confirmation"
	WeatherForecast        = "weather.forecast"
	WeatherDay             = "weather.day"
	WeatherDaySeparator    = "weather.day_separator"
	WeatherToday           = "weather.today"
	WeatherTomorrow        = "weather.tomorrow"
	WeatherUnavailable     = "weather.unavailable"
	WeatherConditionPrefix = "weather.condition."
)

type catalogFile struct {
	Default   string                       `yaml:"default"`
	Fallbacks map[string]string            `yaml:"fallbacks"`
	Messages  map[string]map[string]string `yaml:"messages"`
}

// Catalog is immutable after construction and safe for concurrent use.
type Catalog struct {
	def       string
	supported map[string]bool
	fallbacks map[string]string
	messages  map[string]map[string]string
}

var loadEmbedded = sync.OnceValues(func() (*catalogFile, error) {
	var f catalogFile
	if err := yaml.Unmarshal(messagesRaw, &f); err != nil {
		return nil, fmt.Errorf("decode message catalog: %w", err)
	}
	if f.Default == "" {
		return nil, fmt.Errorf("message catalog has no default language")
	}
	for key, texts := range f.Messages {
		if strings.TrimSpace(texts[f.Default]) == "" {
			return nil, fmt.Errorf("message %q has no %s text", key, f.Default)
		}
	}
	return &f, nil
})

// New builds a catalog. supported limits which tags callers may use;
// defaultLang overrides the catalog default when it is supported.
func New(supported []string, defaultLang string) (*Catalog, error) {
	f, err := loadEmbedded()
	if err != nil {
		return nil, err
	}

	c := &Catalog{
		def:       f.Default,
		supported: map[string]bool{},
		fallbacks: f.Fallbacks,
		messages:  f.Messages,
	}
	for _, tag := range supported {
		if tag = canonical(tag); tag != "" {
			c.supported[tag] = true
		}
	}
	if len(c.supported) == 0 {
		c.supported[f.Default] = true
	}
	if d := canonical(defaultLang); d != "" {
		c.def = d
		c.supported[d] = true
	}
	return c, nil
}

func MustNew(supported []string, defaultLang string) *Catalog {
	c, err := New(supported, defaultLang)
	if err != nil {
		panic(err)
	}
	return c
}

// Default returns the process wide default language.
func (c *Catalog) Default() string {
	return c.def
}

// Supported lists the accepted language tags, sorted.
func (c *Catalog) Supported() []string {
	out := make([]string, 0, len(c.supported))
	for tag := range c.supported {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// Resolve maps a requested tag onto a supported one, or the default.
func (c *Catalog) Resolve(lang string) string {
	tag := canonical(lang)
	if c.supported[tag] {
		return tag
	}
	if base, _, ok := strings.Cut(tag, "-"); ok || base != "" {
		for _, s := range c.Supported() {
			if strings.HasPrefix(s, base+"-") || s == base {
				return s
			}
		}
	}
	return c.def
}

// Text renders key in lang. args are name/value pairs substituted for {name}.
// Lookup falls back through the configured chain, then the default language.
// An unknown key renders as the key itself.
func (c *Catalog) Text(lang, key string, args ...string) string {
	texts, ok := c.messages[key]
	if !ok {
		return key
	}

	tmpl := ""
	seen := map[string]bool{}
	for tag := c.Resolve(lang); tag != "" && !seen[tag]; tag = c.fallbacks[tag] {
		seen[tag] = true
		if t, ok := texts[tag]; ok && t != "" {
			tmpl = t
			break
		}
	}
	if tmpl == "" {
		tmpl = texts[c.def]
	}
	if tmpl == "" {
		tmpl = texts["hi-IN"]
	}
	return render(tmpl, args...)
}

// Has reports whether key exists in the catalog.
func (c *Catalog) Has(key string) bool {
	_, ok := c.messages[key]
	return ok
}

func render(tmpl string, args ...string) string {
	if len(args) < 2 {
		return tmpl
	}
	pairs := make([]string, 0, len(args))
	for i := 0; i+1 < len(args); i += 2 {
		pairs = append(pairs, "{"+args[i]+"}", args[i+1])
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// canonical normalises "hi_in" or "HI-in" to "hi-IN".
func canonical(tag string) string {
	tag = strings.TrimSpace(strings.ReplaceAll(tag, "_", "-"))
	if tag == "" {
		return ""
	}
	lang, region, ok := strings.Cut(tag, "-")
	if !ok {
		return strings.ToLower(lang)
	}
	return strings.ToLower(lang) + "-" + strings.ToUpper(region)
}

// Package reference holds the read-only tables the domain handlers answer
// from: crop calendars, regions and their mandis, buyers, lenders and disease
// rules. The tables are embedded YAML and are never mutated after load.
package reference

import (
	"embed"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

//go:embed data/*.yaml
var dataFS embed.FS

// Text is a string in several locales, keyed by locale tag.
type Text map[string]string

// In returns the text for lang, then for the language part of lang, then for
// fallback, then any value.
func (t Text) In(lang, fallback string) string {
	if v := strings.TrimSpace(t[lang]); v != "" {
		return v
	}
	if base, _, ok := strings.Cut(lang, "-"); ok {
		for tag, v := range t {
			if strings.HasPrefix(tag, base+"-") && strings.TrimSpace(v) != "" {
				return v
			}
		}
	}
	if v := strings.TrimSpace(t[fallback]); v != "" {
		return v
	}
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := strings.TrimSpace(t[k]); v != "" {
			return v
		}
	}
	return ""
}

type Stage struct {
	ID     string `yaml:"id"`
	Days   int    `yaml:"days"`
	Advice Text   `yaml:"advice"`
}

type Crop struct {
	ID           string   `yaml:"id"`
	Names        Text     `yaml:"names"`
	Aliases      []string `yaml:"aliases"`
	Agmarknet    string   `yaml:"agmarknet"`
	SowingMonths []int    `yaml:"sowing_months"`
	BasePrice    int      `yaml:"base_price"`
	WeeklyTrend  float64  `yaml:"weekly_trend"`
	Stages       []Stage  `yaml:"stages"`
}

func (c Crop) HasCalendar() bool {
	return len(c.Stages) > 0
}

// TotalDays is the length of the whole calendar.
func (c Crop) TotalDays() int {
	total := 0
	for _, s := range c.Stages {
		total += s.Days
	}
	return total
}

type Mandi struct {
	ID            string `yaml:"id"`
	Names         Text   `yaml:"names"`
	Market        string `yaml:"market"`
	OffsetPercent int    `yaml:"offset_percent"`
}

type ClimateNormal struct {
	TempMinC int `yaml:"temp_min_c"`
	TempMaxC int `yaml:"temp_max_c"`
	Wetness  int `yaml:"wetness"`
}

type Region struct {
	ID          string          `yaml:"id"`
	Names       Text            `yaml:"names"`
	Aliases     []string        `yaml:"aliases"`
	State       string          `yaml:"state"`
	WeatherCity string          `yaml:"weather_city"`
	Mandis      []Mandi         `yaml:"mandis"`
	Climate     []ClimateNormal `yaml:"climate"`
}

// Normal returns the climate normal for month (1..12).
func (r Region) Normal(month int) ClimateNormal {
	if len(r.Climate) != 12 || month < 1 || month > 12 {
		return ClimateNormal{TempMinC: 18, TempMaxC: 30, Wetness: 1}
	}
	return r.Climate[month-1]
}

// MandiByMarket matches an Agmarknet market name against the region's mandis.
func (r Region) MandiByMarket(market string) (Mandi, bool) {
	for _, m := range r.Mandis {
		if strings.EqualFold(strings.TrimSpace(m.Market), strings.TrimSpace(market)) {
			return m, true
		}
	}
	return Mandi{}, false
}

type Buyer struct {
	ID      string   `yaml:"id"`
	Names   Text     `yaml:"names"`
	Type    string   `yaml:"type"`
	Contact string   `yaml:"contact"`
	Region  string   `yaml:"region"`
	Crops   []string `yaml:"crops"`
}

// ContactIsNumber reports whether Contact is a dialable phone number.
func (b Buyer) ContactIsNumber() bool {
	digits := 0
	for _, r := range b.Contact {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == '+' || r == ' ' || r == '-':
		default:
			return false
		}
	}
	return digits >= 10
}

func (b Buyer) handles(crop string) bool {
	for _, c := range b.Crops {
		if c == crop {
			return true
		}
	}
	return false
}

type Lender struct {
	ID    string `yaml:"id"`
	Names Text   `yaml:"names"`
}

type SymptomRule struct {
	ID        string   `yaml:"id"`
	Keywords  []string `yaml:"keywords"`
	Diagnosis Text     `yaml:"diagnosis"`
	Advice    Text     `yaml:"advice"`
}

// Matches reports whether any keyword occurs in text, case-insensitively.
func (r SymptomRule) Matches(text string) bool {
	lower := strings.ToLower(text)
	for _, k := range r.Keywords {
		if k != "" && strings.Contains(lower, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

type ImageCandidate struct {
	ID         string  `yaml:"id"`
	Label      string  `yaml:"label"`
	Confidence float64 `yaml:"confidence"`
	Fallback   *bool   `yaml:"fallback"`
	Diagnosis  Text    `yaml:"diagnosis"`
	Advice     Text    `yaml:"advice"`
}

// UsableAsFallback reports whether the candidate may be picked when no
// classifier answered. Defaults to true.
func (c ImageCandidate) UsableAsFallback() bool {
	return c.Fallback == nil || *c.Fallback
}

// Tables is the full reference data set.
type Tables struct {
	IrrigationKeywords []string         `yaml:"irrigation_keywords"`
	Crops              []Crop           `yaml:"crops"`
	DefaultRegion      string           `yaml:"default_region"`
	Regions            []Region         `yaml:"regions"`
	Buyers             []Buyer          `yaml:"buyers"`
	Lenders            []Lender         `yaml:"lenders"`
	SymptomRules       []SymptomRule    `yaml:"symptom_rules"`
	SymptomDefault     SymptomRule      `yaml:"symptom_default"`
	ImageCandidates    []ImageCandidate `yaml:"image_candidates"`

	aliases []alias
}

type alias struct {
	text  string
	idx   int
	isRgn bool
}

var loadEmbedded = sync.OnceValues(func() (*Tables, error) {
	entries, err := dataFS.ReadDir("data")
	if err != nil {
		return nil, fmt.Errorf("read embedded reference data: %w", err)
	}
	docs := make([][]byte, 0, len(entries))
	for _, e := range entries {
		raw, err := dataFS.ReadFile(path.Join("data", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		docs = append(docs, raw)
	}
	return Parse(docs...)
})

// Load returns the embedded tables. The result is shared and must be treated
// as read-only.
func Load() (*Tables, error) {
	return loadEmbedded()
}

func MustLoad() *Tables {
	t, err := Load()
	if err != nil {
		panic(err)
	}
	return t
}

// Parse decodes and validates one or more YAML documents into one Tables.
// Later documents only fill fields the earlier ones left empty.
func Parse(docs ...[]byte) (*Tables, error) {
	var out Tables
	for i, doc := range docs {
		var part Tables
		if err := yaml.Unmarshal(doc, &part); err != nil {
			return nil, fmt.Errorf("decode reference document %d: %w", i, err)
		}
		out.merge(part)
	}
	if err := out.validate(); err != nil {
		return nil, err
	}
	out.index()
	return &out, nil
}

func (t *Tables) merge(p Tables) {
	t.IrrigationKeywords = append(t.IrrigationKeywords, p.IrrigationKeywords...)
	t.Crops = append(t.Crops, p.Crops...)
	t.Regions = append(t.Regions, p.Regions...)
	t.Buyers = append(t.Buyers, p.Buyers...)
	t.Lenders = append(t.Lenders, p.Lenders...)
	t.SymptomRules = append(t.SymptomRules, p.SymptomRules...)
	t.ImageCandidates = append(t.ImageCandidates, p.ImageCandidates...)
	if t.DefaultRegion == "" {
		t.DefaultRegion = p.DefaultRegion
	}
	if t.SymptomDefault.ID == "" {
		t.SymptomDefault = p.SymptomDefault
	}
}

func (t *Tables) validate() error {
	var errs []error
	seen := map[string]bool{}
	for _, c := range t.Crops {
		if c.ID == "" {
			errs = append(errs, errors.New("crop without id"))
			continue
		}
		if seen[c.ID] {
			errs = append(errs, fmt.Errorf("duplicate crop %q", c.ID))
		}
		seen[c.ID] = true
		for _, s := range c.Stages {
			if s.Days <= 0 {
				errs = append(errs, fmt.Errorf("crop %s stage %s: days must be > 0", c.ID, s.ID))
			}
		}
		for _, m := range c.SowingMonths {
			if m < 1 || m > 12 {
				errs = append(errs, fmt.Errorf("crop %s: invalid sowing month %d", c.ID, m))
			}
		}
	}
	if len(t.Regions) > 0 {
		if _, ok := t.regionByID(t.DefaultRegion); !ok {
			errs = append(errs, fmt.Errorf("default region %q is not defined", t.DefaultRegion))
		}
	}
	for _, r := range t.Regions {
		if len(r.Climate) != 0 && len(r.Climate) != 12 {
			errs = append(errs, fmt.Errorf("region %s: climate needs 12 months, got %d", r.ID, len(r.Climate)))
		}
	}
	for _, c := range t.ImageCandidates {
		if c.Confidence < 0 || c.Confidence > 1 {
			errs = append(errs, fmt.Errorf("image candidate %s: confidence out of range", c.ID))
		}
	}
	return errors.Join(errs...)
}

// index builds the alias list, longest alias first so "pearl millet" wins
// over "millet".
func (t *Tables) index() {
	t.aliases = t.aliases[:0]
	for i, c := range t.Crops {
		for _, a := range append([]string{c.ID}, c.Aliases...) {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				t.aliases = append(t.aliases, alias{text: a, idx: i})
			}
		}
		for _, n := range c.Names {
			if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
				t.aliases = append(t.aliases, alias{text: n, idx: i})
			}
		}
	}
	for i, r := range t.Regions {
		for _, a := range append([]string{r.ID}, r.Aliases...) {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				t.aliases = append(t.aliases, alias{text: a, idx: i, isRgn: true})
			}
		}
		for _, n := range r.Names {
			if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
				t.aliases = append(t.aliases, alias{text: n, idx: i, isRgn: true})
			}
		}
	}
	sort.SliceStable(t.aliases, func(i, j int) bool {
		return len(t.aliases[i].text) > len(t.aliases[j].text)
	})
}

// Crop resolves a crop id, display name or alias.
func (t *Tables) Crop(name string) (Crop, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return Crop{}, false
	}
	for _, a := range t.aliases {
		if !a.isRgn && a.text == key {
			return t.Crops[a.idx], true
		}
	}
	return Crop{}, false
}

// FindCrop returns the first crop whose alias occurs in free text.
func (t *Tables) FindCrop(text string) (Crop, bool) {
	lower := strings.ToLower(text)
	for _, a := range t.aliases {
		if !a.isRgn && containsWord(lower, a.text) {
			return t.Crops[a.idx], true
		}
	}
	return Crop{}, false
}

// Region resolves a region id, name, district or alias.
func (t *Tables) Region(name string) (Region, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return Region{}, false
	}
	for _, a := range t.aliases {
		if a.isRgn && a.text == key {
			return t.Regions[a.idx], true
		}
	}
	return Region{}, false
}

// FindRegion returns the first region whose alias occurs in free text.
func (t *Tables) FindRegion(text string) (Region, bool) {
	lower := strings.ToLower(text)
	for _, a := range t.aliases {
		if a.isRgn && containsWord(lower, a.text) {
			return t.Regions[a.idx], true
		}
	}
	return Region{}, false
}

// RegionOrDefault resolves name and falls back to the default region.
func (t *Tables) RegionOrDefault(name string) Region {
	if r, ok := t.Region(name); ok {
		return r
	}
	r, _ := t.regionByID(t.DefaultRegion)
	return r
}

func (t *Tables) regionByID(id string) (Region, bool) {
	for _, r := range t.Regions {
		if r.ID == id {
			return r, true
		}
	}
	return Region{}, false
}

// BuyersFor lists buyers for crop, same-region buyers first, then buyers with
// a dialable contact, then file order.
func (t *Tables) BuyersFor(cropID, regionID string) []Buyer {
	var out []Buyer
	for _, b := range t.Buyers {
		if b.handles(cropID) {
			out = append(out, b)
		}
	}
	rank := func(b Buyer) int {
		r := 0
		if b.Region == regionID {
			r += 2
		}
		if b.ContactIsNumber() {
			r++
		}
		return r
	}
	sort.SliceStable(out, func(i, j int) bool {
		return rank(out[i]) > rank(out[j])
	})
	return out
}

// MentionsIrrigation reports whether advice text talks about irrigation.
func (t *Tables) MentionsIrrigation(text string) bool {
	lower := strings.ToLower(text)
	for _, k := range t.IrrigationKeywords {
		if k != "" && strings.Contains(lower, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

// FallbackCandidates returns the image candidates usable without a classifier.
func (t *Tables) FallbackCandidates() []ImageCandidate {
	var out []ImageCandidate
	for _, c := range t.ImageCandidates {
		if c.UsableAsFallback() {
			out = append(out, c)
		}
	}
	return out
}

// CandidateByLabel finds an image candidate by classifier label.
func (t *Tables) CandidateByLabel(label string) (ImageCandidate, bool) {
	key := strings.ToLower(strings.TrimSpace(label))
	for _, c := range t.ImageCandidates {
		if strings.ToLower(c.Label) == key || c.ID == key {
			return c, true
		}
	}
	return ImageCandidate{}, false
}

// containsWord matches needle in haystack. Latin script needles must sit on
// word boundaries so "rice" does not match "price"; Devanagari needles match
// as substrings because inflection attaches directly.
func containsWord(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	if !isLatin(needle) {
		return strings.Contains(haystack, needle)
	}
	from := 0
	for {
		i := strings.Index(haystack[from:], needle)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(needle)
		if boundaryBefore(haystack, start) && boundaryAfter(haystack, end) {
			return true
		}
		from = start + 1
	}
}

func isLatin(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	c, _ := utf8.DecodeLastRuneInString(s[:i])
	return !(unicode.IsLetter(c) || unicode.IsDigit(c))
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	c, _ := utf8.DecodeRuneInString(s[i:])
	return !(unicode.IsLetter(c) || unicode.IsDigit(c))
}

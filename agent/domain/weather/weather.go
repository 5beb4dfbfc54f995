// Package weather answers forecast questions and derives the short term
// outlook the crop advisory uses for its irrigation caveat.
package weather

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/krishi-saathi/agent/contract"
	"github.com/tanpawarit/krishi-saathi/agent/locale"
	referencex "github.com/tanpawarit/krishi-saathi/agent/reference"
)

const (
	DefaultDays = 3
	MaxDays     = 5
)

// ErrNoForecast is returned by providers that answered with no usable days.
var ErrNoForecast = errors.New("weather: no forecast data")

// Condition is a sky condition, ordered from clear to heavy rain.
type Condition string

const (
	ConditionClear        Condition = "clear"
	ConditionLightClouds  Condition = "light_clouds"
	ConditionDenseClouds  Condition = "dense_clouds"
	ConditionLightRain    Condition = "light_rain"
	ConditionModerateRain Condition = "moderate_rain"
	ConditionHeavyRain    Condition = "heavy_rain"
)

var conditionScale = []Condition{
	ConditionClear,
	ConditionLightClouds,
	ConditionDenseClouds,
	ConditionLightRain,
	ConditionModerateRain,
	ConditionHeavyRain,
}

// typical precipitation probability per condition, used where a provider has
// no probability of its own.
var conditionPrecipitation = map[Condition]int{
	ConditionClear:        5,
	ConditionLightClouds:  10,
	ConditionDenseClouds:  20,
	ConditionLightRain:    40,
	ConditionModerateRain: 60,
	ConditionHeavyRain:    75,
}

func (c Condition) severity() int {
	for i, known := range conditionScale {
		if c == known {
			return i
		}
	}
	return -1
}

// Day is one forecast day in the place's local calendar.
type Day struct {
	Date                            time.Time `json:"date"`
	Condition                       Condition `json:"condition"`
	PrecipitationProbabilityPercent int       `json:"precipitation_probability_percent"`
	TempMinC                        int       `json:"temp_min_c"`
	TempMaxC                        int       `json:"temp_max_c"`
}

// Place is what a provider forecasts for. City is the provider query,
// Region backs the climatology fallback.
type Place struct {
	Name   string
	City   string
	Region referencex.Region
}

type Provider interface {
	Forecast(ctx context.Context, place Place, days int) ([]Day, error)
}

// Outlook summarises the next few days for irrigation advice.
type Outlook string

const (
	OutlookNormal   Outlook = "normal"
	OutlookRainSoon Outlook = "rain_soon"
	OutlookDrySpell Outlook = "dry_spell"
)

const (
	outlookWindow   = 3
	rainSoonPercent = 60
	dryPercent      = 10
)

// OutlookFor looks at the first three days: any day at 60% or more is
// rain_soon, all days at 10% or less is a dry_spell.
func OutlookFor(days []Day) Outlook {
	if len(days) == 0 {
		return OutlookNormal
	}
	window := days
	if len(window) > outlookWindow {
		window = window[:outlookWindow]
	}
	dry := true
	for _, d := range window {
		if d.PrecipitationProbabilityPercent >= rainSoonPercent {
			return OutlookRainSoon
		}
		if d.PrecipitationProbabilityPercent > dryPercent {
			dry = false
		}
	}
	if dry {
		return OutlookDrySpell
	}
	return OutlookNormal
}

type Args struct {
	Location string
	Days     int
	Language string
}

type Result struct {
	Location  string  `json:"location"`
	Days      []Day   `json:"days"`
	Outlook   Outlook `json:"outlook"`
	Available bool    `json:"available"`
	Message   string  `json:"message"`
}

type Handler struct {
	tables   *referencex.Tables
	catalog  *locale.Catalog
	provider Provider
	now      func() time.Time
}

type Option func(*Handler)

func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

func NewHandler(tables *referencex.Tables, catalog *locale.Catalog, provider Provider, opts ...Option) *Handler {
	h := &Handler{
		tables:   tables,
		catalog:  catalog,
		provider: provider,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// ResolvePlace maps a location name onto a region. Names the tables do not
// know are still queried by name and fall back to the default region's
// climate.
func (h *Handler) ResolvePlace(location, lang string) Place {
	if r, ok := h.tables.Region(location); ok {
		return Place{Name: r.Names.In(lang, h.catalog.Default()), City: r.WeatherCity, Region: r}
	}
	def := h.tables.RegionOrDefault("")
	loc := strings.TrimSpace(location)
	if loc == "" || strings.EqualFold(loc, "unknown") {
		return Place{Name: def.Names.In(lang, h.catalog.Default()), City: def.WeatherCity, Region: def}
	}
	return Place{Name: loc, City: loc, Region: def}
}

// Forecast never fails for missing data: an unavailable forecast is reported
// in the message. Errors mean the handler was built without collaborators.
func (h *Handler) Forecast(ctx context.Context, args Args) (Result, error) {
	if h == nil || h.provider == nil || h.tables == nil || h.catalog == nil {
		return Result{}, fmt.Errorf("%w: weather handler needs tables, catalog and provider", contractx.ErrHandlerWiring)
	}

	lang := h.catalog.Resolve(args.Language)
	place := h.ResolvePlace(args.Location, lang)
	days := args.Days
	if days <= 0 {
		days = DefaultDays
	}
	if days > MaxDays {
		days = MaxDays
	}

	forecast, err := h.provider.Forecast(ctx, place, days)
	if err != nil || len(forecast) == 0 {
		log.Ctx(ctx).Warn().Err(err).Str("city", place.City).Msg("weather forecast unavailable")
		return Result{
			Location: place.Name,
			Outlook:  OutlookNormal,
			Message:  h.catalog.Text(lang, locale.WeatherUnavailable, "location", place.Name),
		}, nil
	}
	if len(forecast) > days {
		forecast = forecast[:days]
	}

	parts := make([]string, 0, len(forecast))
	for _, d := range forecast {
		parts = append(parts, h.catalog.Text(lang, locale.WeatherDay,
			"day", h.dayLabel(d.Date, lang),
			"condition", h.catalog.Text(lang, locale.WeatherConditionPrefix+string(d.Condition)),
			"precip", strconv.Itoa(d.PrecipitationProbabilityPercent),
			"min", strconv.Itoa(d.TempMinC),
			"max", strconv.Itoa(d.TempMaxC),
		))
	}
	sep := h.catalog.Text(lang, locale.WeatherDaySeparator)

	return Result{
		Location:  place.Name,
		Days:      forecast,
		Outlook:   OutlookFor(forecast),
		Available: true,
		Message:   h.catalog.Text(lang, locale.WeatherForecast, "days", strings.Join(parts, sep)),
	}, nil
}

// Outlook runs the forecast only for its outlook. Failures read as normal.
func (h *Handler) Outlook(ctx context.Context, location string) Outlook {
	res, err := h.Forecast(ctx, Args{Location: location, Days: outlookWindow})
	if err != nil {
		return OutlookNormal
	}
	return res.Outlook
}

func (h *Handler) dayLabel(date time.Time, lang string) string {
	today := startOfDay(h.now().In(date.Location()))
	switch startOfDay(date).Sub(today) {
	case 0:
		return h.catalog.Text(lang, locale.WeatherToday)
	case 24 * time.Hour:
		return h.catalog.Text(lang, locale.WeatherTomorrow)
	default:
		return date.Format("02 Jan")
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

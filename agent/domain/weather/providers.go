package weather

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanpawarit/krishi-saathi/pkg/openweather"
)

/* ------------------------------ OpenWeatherMap ----------------------------- */

// OpenWeatherProvider folds the 3 hour forecast into local calendar days.
type OpenWeatherProvider struct {
	client *openweather.Client
	now    func() time.Time
}

func NewOpenWeatherProvider(client *openweather.Client) (*OpenWeatherProvider, error) {
	if client == nil {
		return nil, errors.New("openweather client is required")
	}
	return &OpenWeatherProvider{client: client, now: time.Now}, nil
}

type dayAccumulator struct {
	date      time.Time
	condition Condition
	precip    float64
	tempMin   float64
	tempMax   float64
}

func (p *OpenWeatherProvider) Forecast(ctx context.Context, place Place, days int) ([]Day, error) {
	fc, err := p.client.Forecast(ctx, place.City)
	if err != nil {
		return nil, err
	}

	loc := fc.Location()
	today := startOfDay(p.now().In(loc))

	var acc []*dayAccumulator
	byDate := map[time.Time]*dayAccumulator{}
	for _, slot := range fc.List {
		date := startOfDay(time.Unix(slot.Timestamp, 0).In(loc))
		if date.Before(today) {
			continue
		}
		a, ok := byDate[date]
		if !ok {
			if len(acc) == days {
				continue
			}
			a = &dayAccumulator{
				date:      date,
				condition: ConditionClear,
				tempMin:   math.Inf(1),
				tempMax:   math.Inf(-1),
			}
			byDate[date] = a
			acc = append(acc, a)
		}
		for _, w := range slot.Weather {
			if c := conditionFromCode(w.ID); c.severity() > a.condition.severity() {
				a.condition = c
			}
		}
		a.precip = math.Max(a.precip, slot.PrecipitationProbability)
		a.tempMin = math.Min(a.tempMin, slot.Main.TempMin)
		a.tempMax = math.Max(a.tempMax, slot.Main.TempMax)
	}
	if len(acc) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoForecast, place.City)
	}

	out := make([]Day, 0, len(acc))
	for _, a := range acc {
		out = append(out, Day{
			Date:                            a.date,
			Condition:                       a.condition,
			PrecipitationProbabilityPercent: clampPercent(int(math.Round(a.precip * 100))),
			TempMinC:                        int(math.Round(a.tempMin)),
			TempMaxC:                        int(math.Round(a.tempMax)),
		})
	}
	return out, nil
}

// conditionFromCode maps OpenWeatherMap condition ids
// (https://openweathermap.org/weather-conditions).
func conditionFromCode(id int) Condition {
	switch {
	case id >= 200 && id < 300:
		return ConditionHeavyRain
	case id >= 300 && id < 400:
		return ConditionLightRain
	case id == 500 || id == 520:
		return ConditionLightRain
	case id == 501 || id == 521:
		return ConditionModerateRain
	case id >= 500 && id < 600:
		return ConditionHeavyRain
	case id >= 600 && id < 700:
		return ConditionModerateRain
	case id >= 700 && id < 800:
		return ConditionLightClouds
	case id == 800:
		return ConditionClear
	case id == 801 || id == 802:
		return ConditionLightClouds
	case id > 802:
		return ConditionDenseClouds
	default:
		return ConditionClear
	}
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

/* -------------------------------- Climatology ------------------------------ */

// ClimatologyProvider answers from the region's monthly normals. The same
// region and date always give the same day.
type ClimatologyProvider struct {
	loc *time.Location
	now func() time.Time
}

func NewClimatologyProvider() *ClimatologyProvider {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		loc = time.FixedZone("IST", 5*3600+1800)
	}
	return &ClimatologyProvider{loc: loc, now: time.Now}
}

func (p *ClimatologyProvider) Forecast(_ context.Context, place Place, days int) ([]Day, error) {
	if days <= 0 {
		days = DefaultDays
	}
	today := startOfDay(p.now().In(p.loc))

	out := make([]Day, 0, days)
	for i := 0; i < days; i++ {
		date := today.AddDate(0, 0, i)
		normal := place.Region.Normal(int(date.Month()))

		h := fnv.New32a()
		_, _ = fmt.Fprintf(h, "%s|%s", place.Region.ID, date.Format("2006-01-02"))
		sum := h.Sum32()

		idx := normal.Wetness + int(sum%3) - 1
		if idx < 0 {
			idx = 0
		}
		if idx >= len(conditionScale) {
			idx = len(conditionScale) - 1
		}
		cond := conditionScale[idx]
		jitter := int(sum/3%3) - 1

		out = append(out, Day{
			Date:                            date,
			Condition:                       cond,
			PrecipitationProbabilityPercent: conditionPrecipitation[cond],
			TempMinC:                        normal.TempMinC + jitter,
			TempMaxC:                        normal.TempMaxC + jitter,
		})
	}
	return out, nil
}

/* --------------------------------- Fallback -------------------------------- */

// FallbackProvider asks primary first and secondary when primary fails.
type FallbackProvider struct {
	primary   Provider
	secondary Provider
}

func NewFallbackProvider(primary, secondary Provider) *FallbackProvider {
	return &FallbackProvider{primary: primary, secondary: secondary}
}

func (p *FallbackProvider) Forecast(ctx context.Context, place Place, days int) ([]Day, error) {
	if p.primary != nil {
		out, err := p.primary.Forecast(ctx, place, days)
		if err == nil && len(out) > 0 {
			return out, nil
		}
		log.Ctx(ctx).Warn().Err(err).Str("city", place.City).Msg("primary weather provider failed, using fallback")
	}
	if p.secondary == nil {
		return nil, fmt.Errorf("%w for %s", ErrNoForecast, place.City)
	}
	return p.secondary.Forecast(ctx, place, days)
}

// Package advisory answers crop care questions from the crop calendars and
// handles general farming questions.
package advisory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/krishi-saathi/agent/contract"
	"github.com/tanpawarit/krishi-saathi/agent/domain/weather"
	"github.com/tanpawarit/krishi-saathi/agent/locale"
	referencex "github.com/tanpawarit/krishi-saathi/agent/reference"
	statex "github.com/tanpawarit/krishi-saathi/agent/state"
)

const (
	StageUnknown     = "Unknown"
	StagePostHarvest = "harvest/post-harvest"
)

type Args struct {
	Intent   contractx.Intent
	Crop     string
	Location string
	Language string
	Outlook  weather.Outlook
}

type Result struct {
	Crop            string `json:"crop"`
	Stage           string `json:"stage"`
	DaysSinceSowing int    `json:"days_since_sowing"`
	Estimated       bool   `json:"estimated"`
	Advice          string `json:"advice"`
	WeatherCaveat   string `json:"weather_caveat,omitempty"`
	Message         string `json:"message"`
}

type Handler struct {
	tables   *referencex.Tables
	catalog  *locale.Catalog
	answerer QnAAnswerer
	qnaLimit time.Duration
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

// WithAnswerer puts a free-form answerer in front of the QnA rules. It gets
// at most timeout per question.
func WithAnswerer(a QnAAnswerer, timeout time.Duration) Option {
	return func(h *Handler) {
		h.answerer = a
		if timeout > 0 {
			h.qnaLimit = timeout
		}
	}
}

func NewHandler(tables *referencex.Tables, catalog *locale.Catalog, opts ...Option) *Handler {
	h := &Handler{
		tables:   tables,
		catalog:  catalog,
		qnaLimit: 8 * time.Second,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

func (h *Handler) ready() error {
	if h == nil || h.tables == nil || h.catalog == nil {
		return fmt.Errorf("%w: advisory handler needs tables and catalog", contractx.ErrHandlerWiring)
	}
	return nil
}

// Advise picks the crop's current stage from the session's sowing date and
// returns that stage's advice, with a weather caveat when the advice is about
// irrigation.
func (h *Handler) Advise(ctx context.Context, args Args, sess *statex.Session) (Result, error) {
	if err := h.ready(); err != nil {
		return Result{}, err
	}
	lang := h.catalog.Resolve(args.Language)

	crop, ok := h.tables.Crop(args.Crop)
	if !ok || !crop.HasCalendar() {
		name := strings.TrimSpace(args.Crop)
		if ok {
			name = crop.Names.In(lang, h.catalog.Default())
		}
		log.Ctx(ctx).Warn().Str("crop", args.Crop).Msg("crop calendar not found")
		return Result{
			Crop:    name,
			Stage:   StageUnknown,
			Message: h.catalog.Text(lang, locale.AdvisoryNoAdvice, "crop", name),
		}, nil
	}

	cropName := crop.Names.In(lang, h.catalog.Default())
	today := h.now()
	days, estimated := DaysSinceSowing(crop, sess, today)

	res := Result{
		Crop:            crop.ID,
		DaysSinceSowing: days,
		Estimated:       estimated,
	}

	stage, found := SelectStage(crop, days)
	if found {
		res.Stage = stage.ID
		res.Advice = stage.Advice.In(lang, h.catalog.Default())
	} else {
		res.Stage = StagePostHarvest
		res.Advice = h.catalog.Text(lang, locale.AdvisoryPostHarvest, "crop", cropName)
	}

	if h.tables.MentionsIrrigation(res.Advice) {
		switch args.Outlook {
		case weather.OutlookRainSoon:
			res.WeatherCaveat = h.catalog.Text(lang, locale.AdvisoryCaveatRain)
		case weather.OutlookDrySpell:
			res.WeatherCaveat = h.catalog.Text(lang, locale.AdvisoryCaveatDry)
		}
	}

	res.Message = h.catalog.Text(lang, locale.AdvisoryStagePrefix,
		"crop", cropName,
		"stage", res.Stage,
		"advice", res.Advice,
		"caveat", res.WeatherCaveat,
	)

	log.Ctx(ctx).Debug().
		Str("crop", crop.ID).
		Str("stage", res.Stage).
		Int("days_since_sowing", days).
		Bool("estimated", estimated).
		Msg("advisory resolved")
	return res, nil
}

// SelectStage returns the first stage whose cumulative end is at or after
// days. found is false once the calendar is over.
func SelectStage(crop referencex.Crop, days int) (referencex.Stage, bool) {
	if days < 0 {
		days = 0
	}
	end := 0
	for _, s := range crop.Stages {
		end += s.Days
		if days <= end {
			return s, true
		}
	}
	return referencex.Stage{}, false
}

// DaysSinceSowing counts whole days from the session's sowing date. Without a
// usable date it estimates from the 1st of the most recent sowing month and
// reports estimated.
func DaysSinceSowing(crop referencex.Crop, sess *statex.Session, now time.Time) (int, bool) {
	today := dateOnly(now)
	if sess != nil && sess.SowingDate != nil {
		sown := dateOnly(*sess.SowingDate)
		if !sown.After(today) {
			return int(today.Sub(sown).Hours() / 24), false
		}
	}
	return estimateDays(crop, today), true
}

func estimateDays(crop referencex.Crop, today time.Time) int {
	if len(crop.SowingMonths) == 0 {
		return 0
	}
	best := -1
	for _, m := range crop.SowingMonths {
		start := time.Date(today.Year(), time.Month(m), 1, 0, 0, 0, 0, today.Location())
		if start.After(today) {
			start = start.AddDate(-1, 0, 0)
		}
		d := int(today.Sub(start).Hours() / 24)
		if best < 0 || d < best {
			best = d
		}
	}
	return best
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

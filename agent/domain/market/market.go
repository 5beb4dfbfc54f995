// Package market answers mandi price questions, projects short term prices
// and links farmers with buyers.
package market

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/krishi-saathi/agent/contract"
	"github.com/tanpawarit/krishi-saathi/agent/locale"
	referencex "github.com/tanpawarit/krishi-saathi/agent/reference"
)

const (
	DefaultForecastDays = 7
	// MaxForecastDays caps the horizon; the linear trend means nothing past it.
	MaxForecastDays     = 30
	DefaultQuantity     = 10.0

	TrendUp   = "up"
	TrendDown = "down"
	TrendFlat = "flat"

	minProjectedPrice = 500
	trendThreshold    = 0.005
)

type PriceArgs struct {
	Crop     string
	Location string
	Language string
}

type PriceQuote struct {
	Mandi           string `json:"mandi"`
	PricePerQuintal int    `json:"price_per_quintal"`
}

type PriceResult struct {
	Crop    string       `json:"crop"`
	Quotes  []PriceQuote `json:"quotes"`
	Message string       `json:"message"`
}

type ForecastArgs struct {
	Crop     string
	Location string
	Days     int
	// BasePrice skips the price lookup when the caller already has a quote.
	BasePrice int
	Language  string
}

type ForecastResult struct {
	Trend          string `json:"trend,omitempty"`
	BasePrice      int    `json:"base_price,omitempty"`
	ProjectedPrice int    `json:"projected_price,omitempty"`
	HorizonDays    int    `json:"horizon_days"`
	Message        string `json:"message"`
}

type BuyerArgs struct {
	Crop             string
	Location         string
	QuantityQuintals float64
	Language         string
}

type BuyerResult struct {
	Buyer            string  `json:"buyer,omitempty"`
	BuyerType        string  `json:"buyer_type,omitempty"`
	Contact          string  `json:"contact,omitempty"`
	ContactIsNumber  bool    `json:"contact_is_number"`
	QuantityQuintals float64 `json:"quantity_quintals"`
	// SMSBody is what the farmer receives when the contact is a phone number.
	SMSBody string `json:"-"`
	Message string `json:"message"`
}

type Handler struct {
	tables  *referencex.Tables
	catalog *locale.Catalog
	source  PriceSource
}

func NewHandler(tables *referencex.Tables, catalog *locale.Catalog, source PriceSource) *Handler {
	return &Handler{tables: tables, catalog: catalog, source: source}
}

func (h *Handler) ready() error {
	if h == nil || h.tables == nil || h.catalog == nil || h.source == nil {
		return fmt.Errorf("%w: market handler needs tables, catalog and price source", contractx.ErrHandlerWiring)
	}
	return nil
}

// Prices lists current quotes for the crop in the farmer's region.
func (h *Handler) Prices(ctx context.Context, args PriceArgs) (PriceResult, error) {
	if err := h.ready(); err != nil {
		return PriceResult{}, err
	}
	lang := h.catalog.Resolve(args.Language)

	crop, ok := h.tables.Crop(args.Crop)
	if !ok {
		log.Ctx(ctx).Warn().Str("crop", args.Crop).Msg("price query for unknown crop")
		return PriceResult{Crop: args.Crop, Message: h.catalog.Text(lang, locale.MarketNoPrices)}, nil
	}
	region := h.tables.RegionOrDefault(args.Location)

	quotes, err := h.source.Quotes(ctx, crop, region)
	if err != nil || len(quotes) == 0 {
		log.Ctx(ctx).Warn().Err(err).Str("crop", crop.ID).Str("region", region.ID).Msg("no price quotes")
		return PriceResult{Crop: crop.ID, Message: h.catalog.Text(lang, locale.MarketNoPrices)}, nil
	}

	res := PriceResult{Crop: crop.ID, Quotes: make([]PriceQuote, 0, len(quotes))}
	parts := make([]string, 0, len(quotes))
	for _, q := range quotes {
		name := q.Names.In(lang, h.catalog.Default())
		res.Quotes = append(res.Quotes, PriceQuote{Mandi: name, PricePerQuintal: q.PricePerQuintal})
		parts = append(parts, h.catalog.Text(lang, locale.MarketQuote, "mandi", name, "price", strconv.Itoa(q.PricePerQuintal)))
	}
	res.Message = h.catalog.Text(lang, locale.MarketPrices,
		"crop", crop.Names.In(lang, h.catalog.Default()),
		"quotes", strings.Join(parts, ", "),
	)
	return res, nil
}

// Forecast projects the price linearly from the crop's weekly trend.
func (h *Handler) Forecast(ctx context.Context, args ForecastArgs) (ForecastResult, error) {
	if err := h.ready(); err != nil {
		return ForecastResult{}, err
	}
	lang := h.catalog.Resolve(args.Language)
	days := args.Days
	switch {
	case days <= 0:
		days = DefaultForecastDays
	case days > MaxForecastDays:
		days = MaxForecastDays
	}

	crop, ok := h.tables.Crop(args.Crop)
	if !ok {
		return ForecastResult{HorizonDays: days, Message: h.catalog.Text(lang, locale.MarketForecastNone)}, nil
	}

	base := args.BasePrice
	if base <= 0 {
		quotes, err := h.source.Quotes(ctx, crop, h.tables.RegionOrDefault(args.Location))
		if err == nil && len(quotes) > 0 {
			base = quotes[0].PricePerQuintal
		}
	}
	if base <= 0 {
		base = crop.BasePrice
	}
	if base <= 0 {
		return ForecastResult{HorizonDays: days, Message: h.catalog.Text(lang, locale.MarketForecastNone)}, nil
	}

	res := ForecastResult{
		Trend:          TrendLabel(crop.WeeklyTrend),
		BasePrice:      base,
		ProjectedPrice: ProjectPrice(base, crop.WeeklyTrend, days),
		HorizonDays:    days,
	}
	key := locale.MarketForecastFlat
	switch res.Trend {
	case TrendUp:
		key = locale.MarketForecastUp
	case TrendDown:
		key = locale.MarketForecastDown
	}
	res.Message = h.catalog.Text(lang, key, "days", strconv.Itoa(days), "price", strconv.Itoa(res.ProjectedPrice))
	return res, nil
}

// ProjectPrice is base * (1 + trend * days / 7), floored at 500.
func ProjectPrice(base int, weeklyTrend float64, days int) int {
	projected := int(float64(base) * (1 + weeklyTrend*float64(days)/7))
	if projected < minProjectedPrice {
		return minProjectedPrice
	}
	return projected
}

func TrendLabel(weeklyTrend float64) string {
	switch {
	case weeklyTrend > trendThreshold:
		return TrendUp
	case weeklyTrend < -trendThreshold:
		return TrendDown
	default:
		return TrendFlat
	}
}

// FindBuyers picks the best buyer from the directory. The contact is read out
// when it is not a phone number; phone numbers are left for the caller to
// send by SMS.
func (h *Handler) FindBuyers(ctx context.Context, args BuyerArgs) (BuyerResult, error) {
	if h == nil || h.tables == nil || h.catalog == nil {
		return BuyerResult{}, fmt.Errorf("%w: market handler needs tables and catalog", contractx.ErrHandlerWiring)
	}
	lang := h.catalog.Resolve(args.Language)

	qty := args.QuantityQuintals
	if qty <= 0 {
		qty = DefaultQuantity
	}
	res := BuyerResult{QuantityQuintals: qty}

	crop, ok := h.tables.Crop(args.Crop)
	if !ok {
		res.Message = h.catalog.Text(lang, locale.MarketNoBuyer)
		return res, nil
	}
	region := h.tables.RegionOrDefault(args.Location)
	buyers := h.tables.BuyersFor(crop.ID, region.ID)
	if len(buyers) == 0 {
		log.Ctx(ctx).Info().Str("crop", crop.ID).Str("region", region.ID).Msg("no buyer found")
		res.Message = h.catalog.Text(lang, locale.MarketNoBuyer)
		return res, nil
	}

	b := buyers[0]
	cropName := crop.Names.In(lang, h.catalog.Default())
	res.Buyer = b.Names.In(lang, h.catalog.Default())
	res.BuyerType = b.Type
	res.Contact = b.Contact
	res.ContactIsNumber = b.ContactIsNumber()
	res.Message = h.catalog.Text(lang, locale.MarketBuyer,
		"quantity", strconv.FormatFloat(qty, 'f', -1, 64),
		"crop", cropName,
		"buyer", res.Buyer,
		"type", b.Type,
	)
	if res.ContactIsNumber {
		res.SMSBody = h.catalog.Text(lang, locale.MarketBuyerSMS, "crop", cropName, "buyer", res.Buyer, "contact", b.Contact)
	} else {
		res.Message += h.catalog.Text(lang, locale.MarketBuyerDirect, "contact", b.Contact)
	}
	return res, nil
}

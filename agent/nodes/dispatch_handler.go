package dispatchnode

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/krishi-saathi/agent/contract"
	"github.com/tanpawarit/krishi-saathi/agent/domain/advisory"
	"github.com/tanpawarit/krishi-saathi/agent/domain/disease"
	"github.com/tanpawarit/krishi-saathi/agent/domain/finance"
	"github.com/tanpawarit/krishi-saathi/agent/domain/market"
	"github.com/tanpawarit/krishi-saathi/agent/domain/weather"
	"github.com/tanpawarit/krishi-saathi/agent/locale"
)

// Handlers are the domain modules the intent table routes to.
type Handlers struct {
	Advisory *advisory.Handler
	Disease  *disease.Handler
	Finance  *finance.Handler
	Market   *market.Handler
	Weather  *weather.Handler
}

// MarketPriceResult pairs the quotes with the forecast built from them.
type MarketPriceResult struct {
	Prices   market.PriceResult    `json:"prices"`
	Forecast market.ForecastResult `json:"forecast"`
}

type routeFunc func(ctx context.Context, in *GraphState, h Handlers) (string, any, error)

type route struct {
	run routeFunc
	// notify rows may leave an outbound message for the notify node.
	notify bool
}

// routes has exactly one row per intent.
var routes = map[contractx.Intent]route{
	contractx.IntentCropAdvisoryWater:      {run: runAdvisory},
	contractx.IntentCropAdvisoryFertilizer: {run: runAdvisory},
	contractx.IntentCropAdvisoryGeneral:    {run: runAdvisory},
	contractx.IntentDiseaseSymptoms:        {run: runDiseaseSymptoms},
	contractx.IntentDiseaseImage:           {run: runDiseaseImage},
	contractx.IntentFinanceLoan:            {run: runLoan},
	contractx.IntentFinanceInsurance:       {run: runInsurance},
	contractx.IntentMarketPrice:            {run: runMarketPrice},
	contractx.IntentMarketLinkage:          {run: runMarketLinkage, notify: true},
	contractx.IntentWeather:                {run: runWeather},
	contractx.IntentGeneralQnA:             {run: runQnA},
	contractx.IntentUnknown:                {run: nil},
}

// DispatchHandler runs the row for the classified intent. Handler errors are
// logged and replaced by a localized apology, except wiring errors which fail
// the request.
func DispatchHandler(
	ctx context.Context,
	in *GraphState,
	h Handlers,
	catalog *locale.Catalog,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	intent := in.Classification.Intent
	r, ok := routes[intent]
	if !ok || r.run == nil {
		log.Ctx(ctx).Warn().Str("intent", string(intent)).Str("text", in.Text).Msg("unhandled intent")
		in.Message = catalog.Text(in.Language, locale.UnknownIntent)
		return in, nil
	}

	msg, result, err := r.run(ctx, in, h)
	if err != nil {
		if errors.Is(err, contractx.ErrHandlerWiring) {
			return nil, err
		}
		log.Ctx(ctx).Error().Err(err).Str("intent", string(intent)).Msg("handler failed")
		in.Message = catalog.Text(in.Language, locale.HandlerError)
		in.Outbound = nil
		return in, nil
	}
	if !r.notify {
		in.Outbound = nil
	}

	in.Message = strings.TrimSpace(msg)
	if in.Message == "" {
		in.Message = catalog.Text(in.Language, locale.CannotHelp)
	}
	in.Result = result
	return in, nil
}

func runAdvisory(ctx context.Context, in *GraphState, h Handlers) (string, any, error) {
	outlook := h.Weather.Outlook(ctx, in.Location)
	res, err := h.Advisory.Advise(ctx, advisory.Args{
		Intent:   in.Classification.Intent,
		Crop:     in.Crop,
		Location: in.Location,
		Language: in.Language,
		Outlook:  outlook,
	}, in.Session)
	return res.Message, res, err
}

func runDiseaseSymptoms(ctx context.Context, in *GraphState, h Handlers) (string, any, error) {
	res, err := h.Disease.FromSymptoms(ctx, disease.SymptomArgs{
		Symptoms: firstNonEmpty(in.Classification.Entity(contractx.EntitySymptoms), in.Text),
		Crop:     in.Crop,
		Channel:  in.Request.Channel,
		Language: in.Language,
	})
	return res.Message, res, err
}

func runDiseaseImage(ctx context.Context, in *GraphState, h Handlers) (string, any, error) {
	res, err := h.Disease.FromImage(ctx, disease.ImageArgs{
		Image:    contractx.MediaRef{URL: in.Request.MediaURL, MIMEType: in.Request.MediaType},
		Language: in.Language,
	})
	return res.Message, res, err
}

func runLoan(ctx context.Context, in *GraphState, h Handlers) (string, any, error) {
	res, err := h.Finance.CheckLoan(ctx, finance.LoanArgs{Crop: in.Crop, Language: in.Language}, in.Session)
	return res.Message, res, err
}

func runInsurance(ctx context.Context, in *GraphState, h Handlers) (string, any, error) {
	res, err := h.Finance.Insurance(ctx, finance.InsuranceArgs{
		Crop:     in.Crop,
		Location: in.Location,
		Language: in.Language,
	})
	return res.Message, res, err
}

// runMarketPrice answers with the quotes followed by the forecast. The first
// quote is the forecast base so the source is queried once.
func runMarketPrice(ctx context.Context, in *GraphState, h Handlers) (string, any, error) {
	prices, err := h.Market.Prices(ctx, market.PriceArgs{Crop: in.Crop, Location: in.Location, Language: in.Language})
	if err != nil {
		return "", nil, err
	}
	args := market.ForecastArgs{
		Crop:     in.Crop,
		Location: in.Location,
		Days:     atoi(in.Classification.Entity(contractx.EntityForecastDays)),
		Language: in.Language,
	}
	if len(prices.Quotes) > 0 {
		args.BasePrice = prices.Quotes[0].PricePerQuintal
	}
	forecast, err := h.Market.Forecast(ctx, args)
	if err != nil {
		return "", nil, err
	}
	return prices.Message + " " + forecast.Message, MarketPriceResult{Prices: prices, Forecast: forecast}, nil
}

func runMarketLinkage(ctx context.Context, in *GraphState, h Handlers) (string, any, error) {
	qty, _ := strconv.ParseFloat(in.Classification.Entity(contractx.EntityQuantity), 64)
	res, err := h.Market.FindBuyers(ctx, market.BuyerArgs{
		Crop:             in.Crop,
		Location:         in.Location,
		QuantityQuintals: qty,
		Language:         in.Language,
	})
	if err != nil {
		return "", nil, err
	}
	if res.ContactIsNumber && res.SMSBody != "" {
		in.Outbound = &contractx.OutboundMessage{
			Channel: contractx.DeliverySMS,
			To:      in.Request.CallerID,
			Body:    res.SMSBody,
		}
	}
	return res.Message, res, nil
}

func runWeather(ctx context.Context, in *GraphState, h Handlers) (string, any, error) {
	res, err := h.Weather.Forecast(ctx, weather.Args{
		Location: in.Location,
		Days:     atoi(in.Classification.Entity(contractx.EntityForecastDays)),
		Language: in.Language,
	})
	return res.Message, res, err
}

// runQnA passes only a crop named in the utterance, never the session crop.
func runQnA(ctx context.Context, in *GraphState, h Handlers) (string, any, error) {
	res, err := h.Advisory.Answer(ctx, advisory.QnAArgs{
		Query:    firstNonEmpty(in.Classification.Entity(contractx.EntityQueryText), in.Text),
		Topic:    in.Classification.Entity(contractx.EntityTopic),
		Crop:     in.Classification.Entity(contractx.EntityCrop),
		Location: in.Location,
		Language: in.Language,
	})
	return res.Message, res, err
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Package finance estimates farm loan eligibility and points farmers at crop
// insurance.
package finance

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/krishi-saathi/agent/contract"
	"github.com/tanpawarit/krishi-saathi/agent/locale"
	referencex "github.com/tanpawarit/krishi-saathi/agent/reference"
	statex "github.com/tanpawarit/krishi-saathi/agent/state"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Config is loaded with prefix "FINANCE".
type Config struct {
	RatePerAcre  int     `envconfig:"RATE_PER_ACRE" split_words:"true" default:"10000"`
	Cap          int     `envconfig:"CAP" default:"150000"`
	MinLandAcres float64 `envconfig:"MIN_LAND_ACRES" split_words:"true" default:"0.5"`
	MaxLenders   int     `envconfig:"MAX_LENDERS" split_words:"true" default:"2"`
}

func (c Config) normalized() Config {
	out := c
	if out.RatePerAcre <= 0 {
		out.RatePerAcre = 10000
	}
	if out.Cap <= 0 {
		out.Cap = 150000
	}
	if out.MinLandAcres <= 0 {
		out.MinLandAcres = 0.5
	}
	if out.MaxLenders <= 0 {
		out.MaxLenders = 2
	}
	return out
}

type LoanArgs struct {
	Crop     string
	Language string
}

type LoanResult struct {
	Eligible          bool     `json:"eligible"`
	MaxEligibleAmount int      `json:"max_eligible_amount"`
	LandSizeAcres     float64  `json:"land_size_acres"`
	Lenders           []string `json:"lenders,omitempty"`
	Message           string   `json:"message"`
}

type InsuranceArgs struct {
	Crop     string
	Location string
	Language string
}

type InsuranceResult struct {
	Scheme  string `json:"scheme"`
	Message string `json:"message"`
}

type Handler struct {
	tables  *referencex.Tables
	catalog *locale.Catalog
	cfg     Config
	printer *message.Printer
}

func NewHandler(tables *referencex.Tables, catalog *locale.Catalog, cfg Config) *Handler {
	return &Handler{
		tables:  tables,
		catalog: catalog,
		cfg:     cfg.normalized(),
		printer: message.NewPrinter(language.English),
	}
}

func (h *Handler) ready() error {
	if h == nil || h.tables == nil || h.catalog == nil {
		return fmt.Errorf("%w: finance handler needs tables and catalog", contractx.ErrHandlerWiring)
	}
	return nil
}

// CheckLoan applies the land holding rule. Small holdings are pointed at self
// help groups; larger ones with a known crop get an amount capped at Cap.
func (h *Handler) CheckLoan(ctx context.Context, args LoanArgs, sess *statex.Session) (LoanResult, error) {
	if err := h.ready(); err != nil {
		return LoanResult{}, err
	}
	lang := h.catalog.Resolve(args.Language)

	land := 0.0
	if sess != nil && sess.LandSizeAcres > 0 {
		land = sess.LandSizeAcres
	}
	crop := strings.TrimSpace(args.Crop)
	knownCrop := crop != "" && !strings.EqualFold(crop, "unknown")

	res := LoanResult{LandSizeAcres: land}
	switch {
	case land > h.cfg.MinLandAcres && knownCrop:
		res.Eligible = true
		res.MaxEligibleAmount = h.LoanAmount(land)
		for i, l := range h.tables.Lenders {
			if i == h.cfg.MaxLenders {
				break
			}
			res.Lenders = append(res.Lenders, l.Names.In(lang, h.catalog.Default()))
		}
		res.Message = h.catalog.Text(lang, locale.FinanceEligible,
			"amount", h.printer.Sprintf("%d", res.MaxEligibleAmount),
			"lenders", strings.Join(res.Lenders, h.catalog.Text(lang, locale.FinanceLenderSeparator)),
		)
	case land <= h.cfg.MinLandAcres:
		res.Message = h.catalog.Text(lang, locale.FinanceSmallHolding)
	default:
		res.Message = h.catalog.Text(lang, locale.FinanceNeedInfo)
	}

	log.Ctx(ctx).Debug().
		Float64("land_size_acres", land).
		Bool("eligible", res.Eligible).
		Int("amount", res.MaxEligibleAmount).
		Msg("loan eligibility")
	return res, nil
}

// LoanAmount is land times the per acre rate, capped, never negative.
func (h *Handler) LoanAmount(land float64) int {
	if land <= 0 {
		return 0
	}
	amount := math.Floor(land * float64(h.cfg.RatePerAcre))
	if amount > float64(h.cfg.Cap) {
		return h.cfg.Cap
	}
	return int(amount)
}

// Insurance describes PMFBY for the crop.
func (h *Handler) Insurance(ctx context.Context, args InsuranceArgs) (InsuranceResult, error) {
	if err := h.ready(); err != nil {
		return InsuranceResult{}, err
	}
	lang := h.catalog.Resolve(args.Language)

	cropName := strings.TrimSpace(args.Crop)
	if crop, ok := h.tables.Crop(args.Crop); ok {
		cropName = crop.Names.In(lang, h.catalog.Default())
	}
	scheme := h.catalog.Text(lang, locale.FinanceInsuranceScheme)

	log.Ctx(ctx).Debug().Str("crop", args.Crop).Str("location", args.Location).Msg("insurance info")
	return InsuranceResult{
		Scheme:  scheme,
		Message: h.catalog.Text(lang, locale.FinanceInsurance, "crop", cropName, "scheme", scheme),
	}, nil
}

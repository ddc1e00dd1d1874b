// Package sizing turns a fused, gated signal into a bounded position-size
// recommendation with an explainable factor breakdown.
package sizing

import (
	"errors"
	"math"
	"sort"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ninjahangover/signalcartel-alien-sub001/internal/fusion"
	"github.com/ninjahangover/signalcartel-alien-sub001/internal/safenum"
)

// ErrNoFusion is returned when sizing is requested without a fusion result.
var ErrNoFusion = errors.New("sizing: missing fusion result")

// RiskLevel labels how much of the allowed size budget a recommendation uses.
type RiskLevel string

const (
	RiskConservative RiskLevel = "CONSERVATIVE"
	RiskModerate     RiskLevel = "MODERATE"
	RiskAggressive   RiskLevel = "AGGRESSIVE"
	RiskMaximum      RiskLevel = "MAXIMUM"
)

// Config holds the sizing tunables.
type Config struct {
	// BaseFraction is the starting size (fraction of capital) at exactly
	// the minimum information content.
	BaseFraction float64 `yaml:"base_fraction" default:"0.10" validate:"gt=0,lte=1"`
	// MinInfoBits anchors the information-driven base scaling.
	MinInfoBits float64 `yaml:"min_info_bits" default:"2.0" validate:"gt=0"`
	// InfoCap caps the information multiple of the base.
	InfoCap float64 `yaml:"info_cap" default:"1.5" validate:"gte=1"`
	// ConfidenceExponent keeps confidence scaling sub-linear.
	ConfidenceExponent float64 `yaml:"confidence_exponent" default:"0.7" validate:"gt=0,lte=1"`
	// ReliabilityBlend mixes fused reliability with the per-system mean.
	ReliabilityBlend float64 `yaml:"reliability_blend" default:"0.6" validate:"gte=0,lte=1"`

	// Market-risk aggregation: risk rises with expected volatility and
	// falls with consensus; the adjustment is the inverse of the result.
	RiskVolCoeff       float64 `yaml:"risk_vol_coeff" default:"4.0" validate:"gte=0"`
	RiskConsensusCoeff float64 `yaml:"risk_consensus_coeff" default:"0.5" validate:"gte=0"`
	RiskGain           float64 `yaml:"risk_gain" default:"1.0" validate:"gte=0"`

	// Kelly ceiling: conservative payoff odds and a half-Kelly fraction.
	KellyOddsRatio float64 `yaml:"kelly_odds_ratio" default:"1.5" validate:"gt=0"`
	KellyFraction  float64 `yaml:"kelly_fraction" default:"0.5" validate:"gt=0,lte=1"`
	KellyFloor     float64 `yaml:"kelly_floor" default:"0.01" validate:"gt=0"`

	// Sharpe ceiling grows with the engine's recent risk-adjusted results.
	SharpeBase  float64 `yaml:"sharpe_base" default:"0.05" validate:"gt=0"`
	SharpeCoeff float64 `yaml:"sharpe_coeff" default:"0.05" validate:"gte=0"`
	SharpeMax   float64 `yaml:"sharpe_max" default:"2.0" validate:"gt=0"`

	// Drawdown ceiling: per-trade risk budget over the estimated adverse
	// excursion (volatility times DrawdownMultiple).
	RiskBudget       float64 `yaml:"risk_budget" default:"0.02" validate:"gt=0,lte=1"`
	DrawdownMultiple float64 `yaml:"drawdown_multiple" default:"3.0" validate:"gt=0"`
	MinVolatility    float64 `yaml:"min_volatility" default:"0.005" validate:"gt=0"`

	// GlobalCeiling is the final safety cap on any recommendation.
	GlobalCeiling float64 `yaml:"global_ceiling" default:"0.25" validate:"gt=0,lte=1"`

	// DefaultNotionalUSD prices a recommendation when capital is unknown.
	DefaultNotionalUSD float64 `yaml:"default_notional_usd" default:"60" validate:"gt=0"`
	// CommissionUSD is the per-side transaction cost for net-return math.
	CommissionUSD float64 `yaml:"commission_usd" default:"0.25" validate:"gte=0"`
}

// DefaultConfig returns the stock sizing tunables.
func DefaultConfig() Config {
	return Config{
		BaseFraction:       0.10,
		MinInfoBits:        2.0,
		InfoCap:            1.5,
		ConfidenceExponent: 0.7,
		ReliabilityBlend:   0.6,
		RiskVolCoeff:       4.0,
		RiskConsensusCoeff: 0.5,
		RiskGain:           1.0,
		KellyOddsRatio:     1.5,
		KellyFraction:      0.5,
		KellyFloor:         0.01,
		SharpeBase:         0.05,
		SharpeCoeff:        0.05,
		SharpeMax:          2.0,
		RiskBudget:         0.02,
		DrawdownMultiple:   3.0,
		MinVolatility:      0.005,
		GlobalCeiling:      0.25,
		DefaultNotionalUSD: 60,
		CommissionUSD:      0.25,
	}
}

// Inputs carries the fused result plus the engine-level estimates sizing
// depends on.
type Inputs struct {
	Fusion      *fusion.Result
	ShouldTrade bool
	// WinProbability is the engine's estimate for the Kelly ceiling.
	WinProbability float64
	// Volatility is the expected move dispersion from market context.
	Volatility float64
	// RecentSharpe is the rolling risk-adjusted result of recorded trades.
	RecentSharpe float64
	// AvailableCapital prices the fraction; zero means unknown capital.
	AvailableCapital decimal.Decimal
}

// Recommendation is a bounded position size with its factor breakdown.
type Recommendation struct {
	Fraction    float64         `json:"fraction"`
	NotionalUSD decimal.Decimal `json:"notional_usd"`
	RiskLevel   RiskLevel       `json:"risk_level"`
	// Factors records every multiplier and ceiling that shaped the size.
	Factors map[string]float64 `json:"factors"`
	// DominantFactors names the strongest influences, most binding first.
	DominantFactors []string `json:"dominant_factors"`
	// ExpectedNetUSD is the commission-adjusted expected profit.
	ExpectedNetUSD decimal.Decimal `json:"expected_net_usd"`
}

// Sizer computes position-size recommendations.
type Sizer struct {
	cfg       Config
	validator *safenum.Validator
	logger    zerolog.Logger
}

// New returns a sizer with the given config and validator; nil arguments
// fall back to defaults.
func New(cfg *Config, validator *safenum.Validator) *Sizer {
	if cfg == nil {
		c := DefaultConfig()
		cfg = &c
	}
	if validator == nil {
		validator = safenum.New(nil)
	}
	return &Sizer{
		cfg:       *cfg,
		validator: validator,
		logger:    log.With().Str("component", "position_sizer").Logger(),
	}
}

// Recommend computes the bounded size for one evaluation. The raw product
// base x confidence x reliability x risk-adjustment is clamped to the
// minimum of the Kelly, Sharpe, and drawdown ceilings, then to the global
// safety ceiling. An ineligible evaluation sizes to zero but still reports
// its factor breakdown.
func (s *Sizer) Recommend(in Inputs) (*Recommendation, error) {
	if in.Fusion == nil {
		return nil, ErrNoFusion
	}
	f := in.Fusion

	base := s.cfg.BaseFraction * math.Min(s.cfg.InfoCap, f.InformationBits/s.cfg.MinInfoBits)
	confMult := math.Pow(clamp01(f.Fused.Confidence), s.cfg.ConfidenceExponent)
	relMult := s.cfg.ReliabilityBlend*f.Fused.Reliability + (1-s.cfg.ReliabilityBlend)*f.AvgReliability

	vol := in.Volatility
	if !safenum.Finite(vol) || vol < 0 {
		vol = s.cfg.MinVolatility
	}
	riskScore := clamp01(s.cfg.RiskVolCoeff*vol + s.cfg.RiskConsensusCoeff*(1-f.ConsensusStrength))
	riskAdj := 1 / (1 + s.cfg.RiskGain*riskScore)

	raw := base * confMult * relMult * riskAdj

	kelly := s.kellyCeiling(in.WinProbability)
	sharpe := s.sharpeCeiling(in.RecentSharpe)
	drawdown := s.drawdownCeiling(vol)

	fraction := raw
	binding := ""
	for _, c := range []struct {
		name string
		cap  float64
	}{
		{"kelly_ceiling", kelly},
		{"sharpe_ceiling", sharpe},
		{"drawdown_ceiling", drawdown},
		{"global_ceiling", s.cfg.GlobalCeiling},
	} {
		if fraction > c.cap {
			fraction = c.cap
			binding = c.name
		}
	}
	fraction = s.validator.Sanitize(safenum.PositionSize, "final_size", fraction)
	if binding != "" {
		s.logger.Debug().
			Str("binding", binding).
			Float64("raw", raw).
			Float64("fraction", fraction).
			Msg("size clipped by ceiling")
	}

	rec := &Recommendation{
		Factors: map[string]float64{
			"information_base":       base,
			"confidence_multiplier":  confMult,
			"reliability_multiplier": relMult,
			"risk_adjustment":        riskAdj,
			"raw_product":            raw,
			"kelly_ceiling":          kelly,
			"sharpe_ceiling":         sharpe,
			"drawdown_ceiling":       drawdown,
			"global_ceiling":         s.cfg.GlobalCeiling,
		},
	}
	rec.DominantFactors = s.dominantFactors(binding, confMult, relMult, riskAdj)

	if !in.ShouldTrade {
		fraction = 0
	}
	rec.Fraction = fraction
	rec.NotionalUSD = s.notional(in.AvailableCapital, fraction)
	rec.RiskLevel = s.riskLevel(fraction)
	rec.ExpectedNetUSD = s.expectedNet(rec.NotionalUSD, f)
	return rec, nil
}

// kellyCeiling applies the classic criterion with conservative odds:
// k = W - (1-W)/R, scaled to a half-Kelly and floored above zero.
func (s *Sizer) kellyCeiling(winProb float64) float64 {
	w := winProb
	if !safenum.Finite(w) {
		w = 0.5
	}
	w = math.Max(0.05, math.Min(0.95, w))
	k := w - (1-w)/s.cfg.KellyOddsRatio
	k *= s.cfg.KellyFraction
	if k < s.cfg.KellyFloor {
		return s.cfg.KellyFloor
	}
	return k
}

// sharpeCeiling grows the allowance with realized risk-adjusted results.
func (s *Sizer) sharpeCeiling(recentSharpe float64) float64 {
	sh := recentSharpe
	if !safenum.Finite(sh) || sh < 0 {
		sh = 0
	}
	return s.cfg.SharpeBase + s.cfg.SharpeCoeff*math.Min(s.cfg.SharpeMax, sh)
}

// drawdownCeiling divides the per-trade risk budget by the estimated
// adverse excursion.
func (s *Sizer) drawdownCeiling(vol float64) float64 {
	excursion := math.Max(s.cfg.MinVolatility, vol) * s.cfg.DrawdownMultiple
	return math.Min(1, s.cfg.RiskBudget/excursion)
}

func (s *Sizer) notional(capital decimal.Decimal, fraction float64) decimal.Decimal {
	if fraction <= 0 {
		return decimal.Zero
	}
	if capital.IsZero() || capital.IsNegative() {
		// Unknown capital prices the flat default stake.
		return decimal.NewFromFloat(s.cfg.DefaultNotionalUSD)
	}
	return capital.Mul(decimal.NewFromFloat(fraction)).Round(2)
}

// expectedNet prices the fused expected move on the notional and removes
// the round-trip commission.
func (s *Sizer) expectedNet(notional decimal.Decimal, f *fusion.Result) decimal.Decimal {
	if notional.IsZero() {
		return decimal.Zero
	}
	edge := math.Abs(f.Fused.Direction) * f.Fused.Magnitude
	gross := notional.Mul(decimal.NewFromFloat(edge))
	cost := decimal.NewFromFloat(2 * s.cfg.CommissionUSD)
	return gross.Sub(cost).Round(4)
}

func (s *Sizer) riskLevel(fraction float64) RiskLevel {
	share := fraction / s.cfg.GlobalCeiling
	switch {
	case share < 0.25:
		return RiskConservative
	case share < 0.50:
		return RiskModerate
	case share < 0.80:
		return RiskAggressive
	default:
		return RiskMaximum
	}
}

// dominantFactors names the binding ceiling (when one clipped the product)
// followed by the multipliers that shrank the size the most.
func (s *Sizer) dominantFactors(binding string, confMult, relMult, riskAdj float64) []string {
	out := []string{}
	if binding != "" {
		out = append(out, binding)
	}
	mults := []struct {
		name  string
		value float64
	}{
		{"confidence_multiplier", confMult},
		{"reliability_multiplier", relMult},
		{"risk_adjustment", riskAdj},
	}
	sort.Slice(mults, func(i, j int) bool { return mults[i].value < mults[j].value })
	for _, m := range mults[:2] {
		out = append(out, m.name)
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

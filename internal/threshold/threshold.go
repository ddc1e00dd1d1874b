// Package threshold derives the dynamic confidence bar a fused signal must
// clear before it becomes a trade, plus the advisory hold-score that can
// veto an eligible trade in extreme conditions.
package threshold

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ninjahangover/signalcartel-alien-sub001/internal/fusion"
)

// Action is the tri-state trading decision attached to every evaluation.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// ErrNoFusion is returned when an assessment is requested without a fusion
// result to assess.
var ErrNoFusion = errors.New("threshold: missing fusion result")

// Config holds the gating tunables. The additive terms are expressed as
// plain configuration values; none of them are derived constants.
type Config struct {
	// Base is the starting confidence threshold before adjustments.
	Base float64 `yaml:"base" default:"0.15" validate:"gt=0,lt=1"`
	// BandMin / BandMax clamp the final threshold to the safety band.
	BandMin float64 `yaml:"band_min" default:"0.08" validate:"gt=0,lt=1"`
	BandMax float64 `yaml:"band_max" default:"0.30" validate:"gt=0,lte=1"`

	// MoveCoeff lowers the bar as the expected move grows; MoveScale is
	// the magnitude at which the discount saturates.
	MoveCoeff float64 `yaml:"move_coeff" default:"0.04" validate:"gte=0"`
	MoveScale float64 `yaml:"move_scale" default:"0.05" validate:"gt=0"`
	// CountStep lowers the bar per extra contributing system, up to CountMax.
	CountStep float64 `yaml:"count_step" default:"0.01" validate:"gte=0"`
	CountMax  float64 `yaml:"count_max" default:"0.05" validate:"gte=0"`
	// PerfCoeff scales the recent-performance adjustment (centered on 0.5).
	PerfCoeff float64 `yaml:"perf_coeff" default:"0.05" validate:"gte=0"`
	// RegimeCoeff scales the market-regime adjustment. Favorable regimes
	// (positive) lower the bar, hostile regimes raise it.
	RegimeCoeff float64 `yaml:"regime_coeff" default:"0.03" validate:"gte=0"`
	// ConsistencyCoeff scales the cross-system consistency adjustment
	// (centered on 0.5).
	ConsistencyCoeff float64 `yaml:"consistency_coeff" default:"0.04" validate:"gte=0"`

	// MinInformationBits gates trades on combined information content.
	MinInformationBits float64 `yaml:"min_information_bits" default:"2.0" validate:"gte=0"`

	// Hold-score advisory checks. Each triggered check contributes its
	// weight; the veto fires only once the total crosses VetoBar.
	ConflictFloor      float64 `yaml:"conflict_floor" default:"0.25" validate:"gte=0,lte=1"`
	ConsistencyFloor   float64 `yaml:"consistency_floor" default:"0.20" validate:"gte=0,lte=1"`
	InstabilityCeiling float64 `yaml:"instability_ceiling" default:"0.85" validate:"gte=0,lte=1"`
	CostMarginMultiple float64 `yaml:"cost_margin_multiple" default:"2.0" validate:"gte=1"`
	CommissionUSD      float64 `yaml:"commission_usd" default:"0.25" validate:"gte=0"`
	ConflictWeight     float64 `yaml:"conflict_weight" default:"0.35" validate:"gte=0,lte=1"`
	ConsistencyWeight  float64 `yaml:"consistency_weight" default:"0.25" validate:"gte=0,lte=1"`
	InstabilityWeight  float64 `yaml:"instability_weight" default:"0.20" validate:"gte=0,lte=1"`
	CostWeight         float64 `yaml:"cost_weight" default:"0.20" validate:"gte=0,lte=1"`
	VetoBar            float64 `yaml:"veto_bar" default:"0.75" validate:"gt=0,lte=1"`
}

// DefaultConfig returns the stock gating tunables.
func DefaultConfig() Config {
	return Config{
		Base:               0.15,
		BandMin:            0.08,
		BandMax:            0.30,
		MoveCoeff:          0.04,
		MoveScale:          0.05,
		CountStep:          0.01,
		CountMax:           0.05,
		PerfCoeff:          0.05,
		RegimeCoeff:        0.03,
		ConsistencyCoeff:   0.04,
		MinInformationBits: 2.0,
		ConflictFloor:      0.25,
		ConsistencyFloor:   0.20,
		InstabilityCeiling: 0.85,
		CostMarginMultiple: 2.0,
		CommissionUSD:      0.25,
		ConflictWeight:     0.35,
		ConsistencyWeight:  0.25,
		InstabilityWeight:  0.20,
		CostWeight:         0.20,
		VetoBar:            0.75,
	}
}

// Inputs carries everything the gate needs beyond the fusion result.
type Inputs struct {
	Fusion *fusion.Result
	// RecentPerformance is the weight-averaged performance from the store.
	RecentPerformance float64
	// MarketRegime is the externally supplied regime signal in [-1,1].
	MarketRegime float64
	// TrendStrength is the externally supplied trend consistency in [0,1].
	TrendStrength float64
	// NotionalUSD is the planned position notional for the cost check.
	NotionalUSD float64
}

// Check records one advisory hold-score test, in the same shape the entry
// gates report: observed value versus the bar it was held to.
type Check struct {
	Name        string  `json:"name"`
	Triggered   bool    `json:"triggered"`
	Value       float64 `json:"value"`
	Threshold   float64 `json:"threshold"`
	Weight      float64 `json:"weight"`
	Description string  `json:"description"`
}

// Assessment is the gating verdict for one evaluation.
type Assessment struct {
	Threshold   float64            `json:"threshold"`
	Terms       map[string]float64 `json:"terms"`
	Eligible    bool               `json:"eligible"`
	ShouldTrade bool               `json:"should_trade"`
	Action      Action             `json:"action"`
	// Lean reports the directional read even when the trade is ineligible,
	// so monitoring can see what the fusion wanted.
	Lean Action `json:"lean"`

	InformationOK bool `json:"information_ok"`

	HoldScore   float64  `json:"hold_score"`
	HoldVeto    bool     `json:"hold_veto"`
	Checks      []Check  `json:"checks"`
	VetoReasons []string `json:"veto_reasons,omitempty"`
}

// Engine computes trade-gating assessments.
type Engine struct {
	cfg    Config
	logger zerolog.Logger
}

// New returns a threshold engine with the given config, or defaults when nil.
func New(cfg *Config) *Engine {
	if cfg == nil {
		c := DefaultConfig()
		cfg = &c
	}
	return &Engine{
		cfg:    *cfg,
		logger: log.With().Str("component", "threshold_engine").Logger(),
	}
}

// Evaluate derives the dynamic threshold, applies the confidence and
// information gates, and runs the advisory hold-score. The fusion result
// is the sole decision authority: the hold-score may only veto once its
// accumulated evidence crosses the configured bar, and every veto is
// logged with the checks that produced it.
func (e *Engine) Evaluate(in Inputs) (*Assessment, error) {
	if in.Fusion == nil {
		return nil, ErrNoFusion
	}
	f := in.Fusion
	consistency := 1 - f.EigenvalueSpread

	terms := map[string]float64{
		"base":        e.cfg.Base,
		"move":        -e.cfg.MoveCoeff * clamp01(f.Fused.Magnitude/e.cfg.MoveScale),
		"count":       -math.Min(e.cfg.CountMax, e.cfg.CountStep*float64(f.Contributing-1)),
		"performance": -e.cfg.PerfCoeff * 2 * (in.RecentPerformance - 0.5),
		"regime":      -e.cfg.RegimeCoeff * clampSym(in.MarketRegime),
		"consistency": -e.cfg.ConsistencyCoeff * 2 * (consistency - 0.5),
	}
	var threshold float64
	for _, v := range terms {
		threshold += v
	}
	threshold = math.Max(e.cfg.BandMin, math.Min(e.cfg.BandMax, threshold))

	a := &Assessment{
		Threshold: threshold,
		Terms:     terms,
		Lean:      directionAction(f.Fused.Direction),
	}
	a.InformationOK = f.InformationBits >= e.cfg.MinInformationBits
	a.Eligible = f.Fused.Confidence >= threshold && a.InformationOK

	a.Checks = e.holdChecks(in)
	for _, c := range a.Checks {
		if c.Triggered {
			a.HoldScore += c.Weight
			a.VetoReasons = append(a.VetoReasons,
				fmt.Sprintf("%s: %.3f vs %.3f", c.Name, c.Value, c.Threshold))
		}
	}

	a.ShouldTrade = a.Eligible
	a.Action = ActionHold
	if a.Eligible {
		a.Action = a.Lean
	}

	if a.Eligible && a.HoldScore >= e.cfg.VetoBar {
		a.HoldVeto = true
		a.ShouldTrade = false
		a.Action = ActionHold
		e.logger.Warn().
			Float64("hold_score", a.HoldScore).
			Float64("veto_bar", e.cfg.VetoBar).
			Str("checks", strings.Join(a.VetoReasons, "; ")).
			Msg("hold-score veto overrode an eligible trade")
	}
	return a, nil
}

// holdChecks runs the four advisory tests that accumulate hold evidence.
func (e *Engine) holdChecks(in Inputs) []Check {
	f := in.Fusion
	notional := in.NotionalUSD
	if notional <= 0 {
		notional = 60
	}
	expectedProfit := math.Abs(f.Fused.Direction) * f.Fused.Magnitude * notional
	roundTripCost := 2 * e.cfg.CommissionUSD
	costBar := e.cfg.CostMarginMultiple * roundTripCost

	return []Check{
		{
			Name:        "extreme_conflict",
			Triggered:   f.ConsensusStrength < e.cfg.ConflictFloor,
			Value:       f.ConsensusStrength,
			Threshold:   e.cfg.ConflictFloor,
			Weight:      e.cfg.ConflictWeight,
			Description: "direction consensus collapsed across subsystems",
		},
		{
			Name:        "low_trend_consistency",
			Triggered:   in.TrendStrength < e.cfg.ConsistencyFloor,
			Value:       in.TrendStrength,
			Threshold:   e.cfg.ConsistencyFloor,
			Weight:      e.cfg.ConsistencyWeight,
			Description: "market trend too weak to support the thesis",
		},
		{
			Name:        "severe_instability",
			Triggered:   f.EigenvalueSpread > e.cfg.InstabilityCeiling,
			Value:       f.EigenvalueSpread,
			Threshold:   e.cfg.InstabilityCeiling,
			Weight:      e.cfg.InstabilityWeight,
			Description: "conviction dispersion signals unstable conditions",
		},
		{
			Name:        "profit_below_cost_margin",
			Triggered:   expectedProfit < costBar,
			Value:       expectedProfit,
			Threshold:   costBar,
			Weight:      e.cfg.CostWeight,
			Description: fmt.Sprintf("expected profit under %.1fx round-trip cost", e.cfg.CostMarginMultiple),
		},
	}
}

func directionAction(dir float64) Action {
	switch {
	case dir > 0:
		return ActionBuy
	case dir < 0:
		return ActionSell
	default:
		return ActionHold
	}
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

// clampSym restricts v to [-1, 1].
func clampSym(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}

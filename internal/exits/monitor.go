// Package exits re-evaluates an open position's thesis and decides when
// accumulated urgency justifies closing it.
package exits

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ninjahangover/signalcartel-alien-sub001/internal/fusion"
	"github.com/ninjahangover/signalcartel-alien-sub001/internal/market"
)

// Reason identifies the dominant urgency source behind an exit, in
// precedence order for ties.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonThesisDegraded
	ReasonProfitTarget
	ReasonOpportunityCost
)

// String returns the reason label used in logs and the ops API.
func (r Reason) String() string {
	switch r {
	case ReasonThesisDegraded:
		return "thesis_degraded"
	case ReasonProfitTarget:
		return "profit_target"
	case ReasonOpportunityCost:
		return "opportunity_cost"
	default:
		return "none"
	}
}

// ErrNoFusion is returned when exit evaluation lacks a fresh fusion result.
var ErrNoFusion = errors.New("exits: missing fresh fusion result")

// Config holds the exit-monitor tunables.
type Config struct {
	// ConvictionGrowth sets how fast time-held conviction accumulates:
	// conviction = 1 + growth * ln(1 + hours).
	ConvictionGrowth float64 `yaml:"conviction_growth" default:"0.35" validate:"gte=0"`

	// ProfitTargetPct is the default profit-taking center when no learned
	// target is supplied.
	ProfitTargetPct float64 `yaml:"profit_target_pct" default:"0.02" validate:"gt=0"`
	// ProfitSlope shapes the profit sigmoid steepness.
	ProfitSlope float64 `yaml:"profit_slope" default:"150" validate:"gt=0"`

	// OpportunitySlope shapes the opportunity-cost sigmoid; OpportunityGap
	// is the minimum edge advantage before it starts pulling.
	OpportunitySlope float64 `yaml:"opportunity_slope" default:"80" validate:"gt=0"`
	OpportunityGap   float64 `yaml:"opportunity_gap" default:"0.005" validate:"gte=0"`

	// Thesis-degradation blend. The direction flip counts at full strength;
	// consensus and confidence erosion are dampened by conviction so
	// short-lived coherence noise cannot force an exit.
	FlipWeight       float64 `yaml:"flip_weight" default:"0.7" validate:"gte=0,lte=1"`
	ConsensusWeight  float64 `yaml:"consensus_weight" default:"0.2" validate:"gte=0,lte=1"`
	ConfidenceWeight float64 `yaml:"confidence_weight" default:"0.1" validate:"gte=0,lte=1"`

	// Urgency term weights.
	ThesisTermWeight      float64 `yaml:"thesis_term_weight" default:"0.75" validate:"gte=0"`
	ProfitTermWeight      float64 `yaml:"profit_term_weight" default:"0.45" validate:"gte=0"`
	OpportunityTermWeight float64 `yaml:"opportunity_term_weight" default:"0.25" validate:"gte=0"`

	// Exit threshold: starts at Base and shrinks logarithmically with hold
	// time down to Min.
	BaseThreshold float64 `yaml:"base_threshold" default:"0.75" validate:"gt=0,lte=1"`
	MinThreshold  float64 `yaml:"min_threshold" default:"0.35" validate:"gt=0,lte=1"`
	ShrinkRate    float64 `yaml:"shrink_rate" default:"0.08" validate:"gte=0"`
}

// DefaultConfig returns the stock exit tunables.
func DefaultConfig() Config {
	return Config{
		ConvictionGrowth:      0.35,
		ProfitTargetPct:       0.02,
		ProfitSlope:           150,
		OpportunitySlope:      80,
		OpportunityGap:        0.005,
		FlipWeight:            0.7,
		ConsensusWeight:       0.2,
		ConfidenceWeight:      0.1,
		ThesisTermWeight:      0.75,
		ProfitTermWeight:      0.45,
		OpportunityTermWeight: 0.25,
		BaseThreshold:         0.75,
		MinThreshold:          0.35,
		ShrinkRate:            0.08,
	}
}

// Inputs carries the open position plus the fresh view of its market.
type Inputs struct {
	Position market.OpenPosition
	// Fresh is the current fusion result for the position's symbol.
	Fresh *fusion.Result
	// OriginalConsensus and OriginalConfidence snapshot the entry thesis.
	OriginalConsensus  float64
	OriginalConfidence float64
	// UnrealizedPnLPct is the current unrealized result as a fraction.
	UnrealizedPnLPct float64
	// ProfitTargetPct overrides the learned profit-taking center; zero
	// falls back to config.
	ProfitTargetPct float64
	// BestAlternativeEdge is the expected edge of the best competing
	// opportunity; zero or negative means none is known.
	BestAlternativeEdge float64
	// Now anchors hold-duration math; zero means current time.
	Now time.Time
}

// Advice is the exit verdict with its term breakdown.
type Advice struct {
	ShouldExit bool    `json:"should_exit"`
	Urgency    float64 `json:"urgency"`
	Threshold  float64 `json:"threshold"`
	HoldHours  float64 `json:"hold_hours"`
	Conviction float64 `json:"conviction"`
	// Terms holds the weighted urgency contributions by name.
	Terms       map[string]float64 `json:"terms"`
	Reason      Reason             `json:"-"`
	ReasonLabel string             `json:"reason"`
	Description string             `json:"description"`
}

// Monitor evaluates exit urgency for open positions.
type Monitor struct {
	cfg    Config
	logger zerolog.Logger
}

// NewMonitor returns an exit monitor with the given config, or defaults
// when nil.
func NewMonitor(cfg *Config) *Monitor {
	if cfg == nil {
		c := DefaultConfig()
		cfg = &c
	}
	return &Monitor{
		cfg:    *cfg,
		logger: log.With().Str("component", "exit_monitor").Logger(),
	}
}

// Evaluate sums the urgency contributions and compares them against the
// time-shrinking threshold. Young positions are shielded by the high
// starting threshold; as hold time grows the bar drops, and profit or
// opportunity pressure can realize gains that thesis noise alone could not.
func (m *Monitor) Evaluate(in Inputs) (*Advice, error) {
	if in.Fresh == nil {
		return nil, ErrNoFusion
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	holdHours := math.Max(0, now.Sub(in.Position.OpenedAt).Hours())
	conviction := 1 + m.cfg.ConvictionGrowth*math.Log1p(holdHours)

	thesis := m.thesisDegradation(in, conviction)
	profit := m.profitUrgency(in)
	opportunity := m.opportunityUrgency(in)

	terms := map[string]float64{
		"thesis_degraded":  m.cfg.ThesisTermWeight * thesis,
		"profit_target":    m.cfg.ProfitTermWeight * profit,
		"opportunity_cost": m.cfg.OpportunityTermWeight * opportunity,
	}
	var urgency float64
	for _, v := range terms {
		urgency += v
	}

	threshold := math.Max(m.cfg.MinThreshold,
		m.cfg.BaseThreshold-m.cfg.ShrinkRate*math.Log1p(holdHours))

	adv := &Advice{
		ShouldExit: urgency >= threshold,
		Urgency:    urgency,
		Threshold:  threshold,
		HoldHours:  holdHours,
		Conviction: conviction,
		Terms:      terms,
	}
	adv.Reason = m.dominantReason(adv)
	adv.ReasonLabel = adv.Reason.String()
	adv.Description = m.describe(adv, in)

	if adv.ShouldExit {
		m.logger.Info().
			Str("symbol", in.Position.Symbol).
			Float64("urgency", urgency).
			Float64("threshold", threshold).
			Float64("hold_hours", holdHours).
			Str("reason", adv.ReasonLabel).
			Msg("exit recommended")
	}
	return adv, nil
}

// thesisDegradation measures how far the fresh fusion has moved against the
// position. A fused direction now opposing the position counts in full;
// consensus and confidence erosion count dampened by conviction.
func (m *Monitor) thesisDegradation(in Inputs, conviction float64) float64 {
	f := in.Fresh
	posDir := in.Position.Direction()

	var flip float64
	if f.Fused.Direction*posDir < 0 {
		flip = math.Abs(f.Fused.Direction)
	}
	consensusDrop := math.Max(0, in.OriginalConsensus-f.ConsensusStrength)
	confidenceDrop := math.Max(0, in.OriginalConfidence-f.Fused.Confidence)

	degr := m.cfg.FlipWeight*flip +
		(m.cfg.ConsensusWeight*consensusDrop+m.cfg.ConfidenceWeight*confidenceDrop)/conviction
	return clamp01(degr)
}

// profitUrgency is a sigmoid centered on the profit-taking target.
func (m *Monitor) profitUrgency(in Inputs) float64 {
	target := in.ProfitTargetPct
	if target <= 0 {
		target = m.cfg.ProfitTargetPct
	}
	return sigmoid(m.cfg.ProfitSlope * (in.UnrealizedPnLPct - target))
}

// opportunityUrgency is a sigmoid on the edge gap to the best alternative,
// active only when an alternative is known.
func (m *Monitor) opportunityUrgency(in Inputs) float64 {
	if in.BestAlternativeEdge <= 0 {
		return 0
	}
	currentEdge := math.Abs(in.Fresh.Fused.Direction) * in.Fresh.Fused.Magnitude
	gap := in.BestAlternativeEdge - currentEdge - m.cfg.OpportunityGap
	return sigmoid(m.cfg.OpportunitySlope * gap)
}

func (m *Monitor) dominantReason(adv *Advice) Reason {
	if !adv.ShouldExit {
		return ReasonNone
	}
	best, bestVal := ReasonThesisDegraded, adv.Terms["thesis_degraded"]
	if v := adv.Terms["profit_target"]; v > bestVal {
		best, bestVal = ReasonProfitTarget, v
	}
	if v := adv.Terms["opportunity_cost"]; v > bestVal {
		best = ReasonOpportunityCost
	}
	return best
}

func (m *Monitor) describe(adv *Advice, in Inputs) string {
	if !adv.ShouldExit {
		return fmt.Sprintf("hold: urgency %.2f below threshold %.2f after %.1fh",
			adv.Urgency, adv.Threshold, adv.HoldHours)
	}
	return fmt.Sprintf("exit (%s): urgency %.2f crossed threshold %.2f after %.1fh, pnl %.2f%%",
		adv.ReasonLabel, adv.Urgency, adv.Threshold, adv.HoldHours, in.UnrealizedPnLPct*100)
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
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

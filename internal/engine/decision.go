package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ninjahangover/signalcartel-alien-sub001/internal/exits"
	"github.com/ninjahangover/signalcartel-alien-sub001/internal/learning"
	"github.com/ninjahangover/signalcartel-alien-sub001/internal/market"
	"github.com/ninjahangover/signalcartel-alien-sub001/internal/sizing"
	"github.com/ninjahangover/signalcartel-alien-sub001/internal/threshold"
	"github.com/ninjahangover/signalcartel-alien-sub001/internal/weights"
)

// Evaluation kinds.
const (
	KindEntry = "entry"
	KindExit  = "exit"
)

// FusedDecision is the engine's complete answer for one evaluation: the
// fused view, the gate verdict, the size, and the reasoning trail.
type FusedDecision struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`

	Action      threshold.Action `json:"action"`
	ShouldTrade bool             `json:"should_trade"`

	// Fused tensor view.
	Confidence  float64 `json:"confidence"`
	Direction   float64 `json:"direction"`
	Magnitude   float64 `json:"magnitude"`
	Reliability float64 `json:"reliability"`

	ConsensusStrength float64 `json:"consensus_strength"`
	EigenvalueSpread  float64 `json:"eigenvalue_spread"`
	InformationBits   float64 `json:"information_bits"`
	Threshold         float64 `json:"threshold"`
	HoldScore         float64 `json:"hold_score"`

	SystemsUsed     []string `json:"systems_used"`
	UniformFallback bool     `json:"uniform_fallback,omitempty"`
	NeutralFallback bool     `json:"neutral_fallback,omitempty"`
	Corrections     int      `json:"corrections,omitempty"`

	// Sizing.
	Fraction       float64          `json:"fraction"`
	NotionalUSD    decimal.Decimal  `json:"notional_usd"`
	ExpectedNetUSD decimal.Decimal  `json:"expected_net_usd"`
	RiskLevel      sizing.RiskLevel `json:"risk_level"`

	// Attribution maps effective fusion weight per system; Factors is the
	// sizing multiplier breakdown, DominantFactors the most binding ones.
	Attribution     map[string]float64 `json:"attribution,omitempty"`
	Factors         map[string]float64 `json:"factors,omitempty"`
	DominantFactors []string           `json:"dominant_factors,omitempty"`
	Checks          []threshold.Check  `json:"checks,omitempty"`

	Reasoning []string `json:"reasoning"`

	// Contributions snapshot each system's prediction for outcome scoring.
	Contributions []learning.Contribution `json:"contributions,omitempty"`

	// ExitRecommendation is set on exit evaluations only.
	ExitRecommendation *exits.Advice `json:"exit_recommendation,omitempty"`

	LatencyMS float64 `json:"latency_ms"`
}

// Summary renders the one-line human view of the decision.
func (d *FusedDecision) Summary() string {
	if d.Kind == KindExit {
		if d.ShouldTrade {
			return fmt.Sprintf("%s %s: exit urgency crossed (%s), confidence %.2f",
				d.Action, d.Symbol, d.exitReason(), d.Confidence)
		}
		return fmt.Sprintf("HOLD %s: position kept, confidence %.2f consensus %.2f",
			d.Symbol, d.Confidence, d.ConsensusStrength)
	}
	if d.ShouldTrade {
		return fmt.Sprintf("%s %s: confidence %.2f consensus %.2f (%.1f bits, %d systems), size %.1f%% ($%s)",
			d.Action, d.Symbol, d.Confidence, d.ConsensusStrength,
			d.InformationBits, len(d.SystemsUsed), d.Fraction*100, d.NotionalUSD.StringFixed(2))
	}
	return fmt.Sprintf("HOLD %s: confidence %.2f vs threshold %.2f (%.1f bits, %d systems)",
		d.Symbol, d.Confidence, d.Threshold, d.InformationBits, len(d.SystemsUsed))
}

func (d *FusedDecision) exitReason() string {
	if d.ExitRecommendation == nil {
		return "unknown"
	}
	return d.ExitRecommendation.ReasonLabel
}

// ExitRequest asks the engine to re-evaluate an open position.
type ExitRequest struct {
	Position market.OpenPosition `json:"position"`
	// EntryDecisionID links back to the decision that opened the position,
	// so thesis degradation is measured against the entry snapshot.
	EntryDecisionID  string  `json:"entry_decision_id"`
	UnrealizedPnLPct float64 `json:"unrealized_pnl_pct"`
	// ProfitTargetPct overrides the exit monitor's default target when the
	// caller carries a learned one; zero keeps the default.
	ProfitTargetPct     float64 `json:"profit_target_pct,omitempty"`
	BestAlternativeEdge float64 `json:"best_alternative_edge,omitempty"`
}

// SystemStatus is the engine's observable state snapshot.
type SystemStatus struct {
	StartedAt     time.Time `json:"started_at"`
	UptimeSeconds float64   `json:"uptime_seconds"`

	EntryEvaluations int64            `json:"entry_evaluations"`
	ExitEvaluations  int64            `json:"exit_evaluations"`
	OutcomesRecorded int64            `json:"outcomes_recorded"`
	Actions          map[string]int64 `json:"actions"`

	Systems           map[string]weights.SystemWeight `json:"systems"`
	WeightSum         float64                         `json:"weight_sum"`
	RecentPerformance float64                         `json:"recent_performance"`
	RecentSharpe      float64                         `json:"recent_sharpe"`
	WinProbability    float64                         `json:"win_probability"`

	SanitizerReplacements float64 `json:"sanitizer_replacements"`
	HistorySize           int     `json:"history_size"`

	LastDecision *FusedDecision `json:"last_decision,omitempty"`
}

// Package learning feeds realized trade outcomes back into per-system
// weights and performance bookkeeping.
package learning

import (
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ninjahangover/signalcartel-alien-sub001/internal/weights"
)

// Outcome is a closed trade's realized result.
type Outcome struct {
	DecisionID      string          `json:"decision_id"`
	Symbol          string          `json:"symbol"`
	ActualDirection float64         `json:"actual_direction"`
	ActualMagnitude float64         `json:"actual_magnitude"`
	ActualPnL       decimal.Decimal `json:"actual_pnl"`
	ClosedAt        time.Time       `json:"closed_at"`
}

// Contribution is one system's prediction recorded at decision time.
type Contribution struct {
	SystemID           string  `json:"system_id"`
	PredictedDirection float64 `json:"predicted_direction"`
	PredictedMagnitude float64 `json:"predicted_magnitude"`
	Confidence         float64 `json:"confidence"`
}

// Report summarizes one learning pass.
type Report struct {
	DecisionID string             `json:"decision_id"`
	Updated    []string           `json:"updated"`
	Skipped    map[string]string  `json:"skipped,omitempty"`
	Accuracy   map[string]float64 `json:"accuracy"`
}

// Config holds the learner tunables.
type Config struct {
	// EMA learning rates: young systems move fast, mature systems settle.
	AlphaYoung     float64 `yaml:"alpha_young" default:"0.30" validate:"gt=0,lte=1"`
	AlphaMature    float64 `yaml:"alpha_mature" default:"0.10" validate:"gt=0,lte=1"`
	MaturityTrades int     `yaml:"maturity_trades" default:"20" validate:"gt=0"`

	// Performance blend. The shares must sum to 1.
	AccuracyShare       float64 `yaml:"accuracy_share" default:"0.35" validate:"gte=0,lte=1"`
	WinRateShare        float64 `yaml:"win_rate_share" default:"0.25" validate:"gte=0,lte=1"`
	ProfitabilityShare  float64 `yaml:"profitability_share" default:"0.20" validate:"gte=0,lte=1"`
	ConsistencyShare    float64 `yaml:"consistency_share" default:"0.10" validate:"gte=0,lte=1"`
	SpecializationShare float64 `yaml:"specialization_share" default:"0.10" validate:"gte=0,lte=1"`

	// Weight momentum: how much of the old weight survives each update.
	// Momentum rises with trade count so established systems drift slowly.
	MomentumBase float64 `yaml:"momentum_base" default:"0.30" validate:"gte=0,lt=1"`
	MomentumStep float64 `yaml:"momentum_step" default:"0.025" validate:"gte=0"`
	MomentumMax  float64 `yaml:"momentum_max" default:"0.80" validate:"gt=0,lt=1"`

	// ProfitNormUSD maps average per-trade PnL onto the 0..1 blend scale.
	ProfitNormUSD float64 `yaml:"profit_norm_usd" default:"2.0" validate:"gt=0"`
	// MagnitudeEps floors the magnitude-error denominator.
	MagnitudeEps float64 `yaml:"magnitude_eps" default:"0.001" validate:"gt=0"`
	// HistoryCap bounds per-system accuracy history and the portfolio PnL
	// window backing the Sharpe estimate.
	HistoryCap int `yaml:"history_cap" default:"100" validate:"gt=0"`
}

// DefaultConfig returns the stock learner tunables.
func DefaultConfig() Config {
	return Config{
		AlphaYoung:          0.30,
		AlphaMature:         0.10,
		MaturityTrades:      20,
		AccuracyShare:       0.35,
		WinRateShare:        0.25,
		ProfitabilityShare:  0.20,
		ConsistencyShare:    0.10,
		SpecializationShare: 0.10,
		MomentumBase:        0.30,
		MomentumStep:        0.025,
		MomentumMax:         0.80,
		ProfitNormUSD:       2.0,
		MagnitudeEps:        0.001,
		HistoryCap:          100,
	}
}

// Learner updates the weight store from realized outcomes. It is not
// goroutine safe; the engine serializes all calls.
type Learner struct {
	cfg    Config
	store  *weights.Store
	logger zerolog.Logger

	// accHist holds recent per-system accuracy samples for consistency
	// scoring; symbolAcc holds per-system per-symbol accuracy EMAs.
	accHist   map[string][]float64
	symbolAcc map[string]map[string]float64
	// pnlHist is the portfolio-level realized PnL window.
	pnlHist []float64
}

// NewLearner returns a learner bound to the given weight store; a nil
// config selects defaults.
func NewLearner(cfg *Config, store *weights.Store) *Learner {
	if cfg == nil {
		c := DefaultConfig()
		cfg = &c
	}
	return &Learner{
		cfg:       *cfg,
		store:     store,
		logger:    log.With().Str("component", "outcome_learner").Logger(),
		accHist:   make(map[string][]float64),
		symbolAcc: make(map[string]map[string]float64),
	}
}

// Apply scores every contributing system against the realized outcome and
// folds the scores into the weight store. Unknown systems are skipped and
// logged, never fabricated; whatever happens, the store stays normalized.
func (l *Learner) Apply(contribs []Contribution, outcome Outcome) *Report {
	rep := &Report{
		DecisionID: outcome.DecisionID,
		Skipped:    make(map[string]string),
		Accuracy:   make(map[string]float64),
	}
	if len(contribs) == 0 {
		l.logger.Warn().Str("decision_id", outcome.DecisionID).
			Msg("outcome arrived without contributions, nothing to learn")
		return rep
	}

	l.recordPnL(outcome.ActualPnL)
	now := outcome.ClosedAt
	if now.IsZero() {
		now = time.Now()
	}

	for _, c := range contribs {
		if c.SystemID == "" {
			rep.Skipped["(blank)"] = "missing system id"
			continue
		}
		if _, ok := l.store.Get(c.SystemID); !ok {
			rep.Skipped[c.SystemID] = "unknown system"
			l.logger.Warn().Str("system", c.SystemID).
				Str("decision_id", outcome.DecisionID).
				Msg("skipping outcome for unknown system")
			continue
		}
		acc := l.accuracy(c, outcome)
		rep.Accuracy[c.SystemID] = acc
		l.updateSystem(c, outcome, acc, now)
		rep.Updated = append(rep.Updated, c.SystemID)
	}

	if len(rep.Updated) > 0 {
		l.store.Normalize()
		l.logger.Info().
			Str("decision_id", outcome.DecisionID).
			Str("symbol", outcome.Symbol).
			Int("updated", len(rep.Updated)).
			Int("skipped", len(rep.Skipped)).
			Msg("outcome applied")
	}
	return rep
}

// accuracy scores a prediction 0..1: direction agreement dominates,
// magnitude error refines.
func (l *Learner) accuracy(c Contribution, o Outcome) float64 {
	dir := directionScore(c.PredictedDirection, o.ActualDirection)

	am := math.Abs(o.ActualMagnitude)
	pm := math.Abs(c.PredictedMagnitude)
	if !finite(am) {
		am = 0
	}
	if !finite(pm) {
		pm = 0
	}
	magErr := math.Min(1, math.Abs(pm-am)/math.Max(am, l.cfg.MagnitudeEps))
	return 0.7*dir + 0.3*(1-magErr)
}

func (l *Learner) updateSystem(c Contribution, o Outcome, acc float64, now time.Time) {
	l.pushAccuracy(c.SystemID, acc)
	consistency := l.consistency(c.SystemID)
	specialization := l.updateSpecialization(c.SystemID, o.Symbol, acc)

	dir := directionScore(c.PredictedDirection, o.ActualDirection)
	// A system's own PnL view: the trade's realized PnL signed by whether
	// the system called the direction.
	pnl, _ := o.ActualPnL.Float64()
	systemPnL := math.Abs(pnl) * (2*dir - 1)

	l.store.Update(c.SystemID, now, func(w *weights.SystemWeight) {
		alpha := l.cfg.AlphaMature
		if w.RecentTradeCount < l.cfg.MaturityTrades {
			alpha = l.cfg.AlphaYoung
		}
		w.RecentTradeCount++
		w.WinRate = ema(w.WinRate, winValue(dir), alpha)
		w.AvgProfitability = ema(w.AvgProfitability, systemPnL, alpha)
		w.ConsistencyScore = consistency

		profScore := clamp01(0.5 + w.AvgProfitability/l.cfg.ProfitNormUSD/2)
		accEMA := ema(w.PerformanceScore, acc, alpha)
		w.PerformanceScore = clamp01(
			l.cfg.AccuracyShare*accEMA +
				l.cfg.WinRateShare*w.WinRate +
				l.cfg.ProfitabilityShare*profScore +
				l.cfg.ConsistencyShare*consistency +
				l.cfg.SpecializationShare*specialization)

		momentum := math.Min(l.cfg.MomentumMax,
			l.cfg.MomentumBase+l.cfg.MomentumStep*float64(w.RecentTradeCount))
		w.Weight = momentum*w.Weight + (1-momentum)*w.PerformanceScore
	})
}

func (l *Learner) pushAccuracy(systemID string, acc float64) {
	h := append(l.accHist[systemID], acc)
	if len(h) > l.cfg.HistoryCap {
		h = h[len(h)-l.cfg.HistoryCap:]
	}
	l.accHist[systemID] = h
}

// consistency rewards systems whose accuracy does not swing: 1 minus twice
// the accuracy standard deviation, clamped.
func (l *Learner) consistency(systemID string) float64 {
	h := l.accHist[systemID]
	if len(h) < 2 {
		return 0.5
	}
	var sum float64
	for _, v := range h {
		sum += v
	}
	mean := sum / float64(len(h))
	var sq float64
	for _, v := range h {
		d := v - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(len(h)))
	return clamp01(1 - 2*std)
}

// updateSpecialization folds this outcome's accuracy into the system's
// per-symbol EMA and returns the updated value for the outcome's symbol.
func (l *Learner) updateSpecialization(systemID, symbol string, acc float64) float64 {
	if symbol == "" {
		return 0.5
	}
	bySym := l.symbolAcc[systemID]
	if bySym == nil {
		bySym = make(map[string]float64)
		l.symbolAcc[systemID] = bySym
	}
	prev, ok := bySym[symbol]
	if !ok {
		prev = 0.5
	}
	next := ema(prev, acc, l.cfg.AlphaYoung)
	bySym[symbol] = next
	return next
}

func (l *Learner) recordPnL(pnl decimal.Decimal) {
	v, _ := pnl.Float64()
	if !finite(v) {
		return
	}
	l.pnlHist = append(l.pnlHist, v)
	if len(l.pnlHist) > l.cfg.HistoryCap {
		l.pnlHist = l.pnlHist[len(l.pnlHist)-l.cfg.HistoryCap:]
	}
}

// RecentSharpe is the mean over standard deviation of the recent realized
// PnL window; zero until there is enough variance to measure.
func (l *Learner) RecentSharpe() float64 {
	if len(l.pnlHist) < 2 {
		return 0
	}
	var sum float64
	for _, v := range l.pnlHist {
		sum += v
	}
	mean := sum / float64(len(l.pnlHist))
	var sq float64
	for _, v := range l.pnlHist {
		d := v - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(len(l.pnlHist)))
	if std == 0 {
		return 0
	}
	return mean / std
}

// WinProbability is the weight-blended win rate across the store, used as
// the Kelly estimate; 0.5 until systems exist.
func (l *Learner) WinProbability() float64 {
	snap := l.store.Snapshot()
	if len(snap) == 0 {
		return 0.5
	}
	var sum float64
	for _, w := range snap {
		sum += w.Weight * w.WinRate
	}
	return clamp01(sum)
}

// Outcomes is the count of realized results seen this session.
func (l *Learner) Outcomes() int {
	return len(l.pnlHist)
}

// directionScore is 1 for an agreeing call, 0 for an opposing call, and
// 0.5 when either side sat out near zero.
func directionScore(predicted, actual float64) float64 {
	if !finite(predicted) || !finite(actual) {
		return 0.5
	}
	const dead = 0.05
	if math.Abs(predicted) < dead || math.Abs(actual) < dead {
		return 0.5
	}
	if predicted*actual > 0 {
		return 1
	}
	return 0
}

func winValue(dir float64) float64 {
	if dir > 0.5 {
		return 1
	}
	if dir < 0.5 {
		return 0
	}
	return 0.5
}

func ema(prev, sample, alpha float64) float64 {
	return (1-alpha)*prev + alpha*sample
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

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

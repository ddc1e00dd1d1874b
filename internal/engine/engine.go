// Package engine is the decision facade: it validates incoming signals,
// fuses them, gates and sizes the result, re-evaluates open positions, and
// learns from realized outcomes. Every public method is safe for concurrent
// use; a single mutex serializes all state changes per instance.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ninjahangover/signalcartel-alien-sub001/internal/exits"
	"github.com/ninjahangover/signalcartel-alien-sub001/internal/fusion"
	"github.com/ninjahangover/signalcartel-alien-sub001/internal/learning"
	"github.com/ninjahangover/signalcartel-alien-sub001/internal/market"
	"github.com/ninjahangover/signalcartel-alien-sub001/internal/safenum"
	"github.com/ninjahangover/signalcartel-alien-sub001/internal/signal"
	"github.com/ninjahangover/signalcartel-alien-sub001/internal/sizing"
	"github.com/ninjahangover/signalcartel-alien-sub001/internal/telemetry"
	"github.com/ninjahangover/signalcartel-alien-sub001/internal/threshold"
	"github.com/ninjahangover/signalcartel-alien-sub001/internal/weights"
)

// Config aggregates the engine's own knobs with every component's tunables,
// so one struct builds a complete instance.
type Config struct {
	// HistoryCap bounds the in-memory decision ring used for outcome
	// round-trips and the ops API.
	HistoryCap int `yaml:"history_cap" default:"256" validate:"gt=0"`
	// DecayInterval sets how often stale-system decay runs, piggybacked on
	// evaluations.
	DecayInterval time.Duration `yaml:"decay_interval" default:"1h" validate:"gt=0"`
	// MarketTimeout bounds the market-context fetch at the evaluation edge.
	MarketTimeout time.Duration `yaml:"market_timeout" default:"500ms" validate:"gt=0"`

	Sanitizer safenum.Config   `yaml:"sanitizer"`
	Weights   weights.Config   `yaml:"weights"`
	Fusion    fusion.Config    `yaml:"fusion"`
	Threshold threshold.Config `yaml:"threshold"`
	Sizing    sizing.Config    `yaml:"sizing"`
	Exits     exits.Config     `yaml:"exits"`
	Learning  learning.Config  `yaml:"learning"`
}

// DefaultConfig returns a complete stock configuration.
func DefaultConfig() Config {
	return Config{
		HistoryCap:    256,
		DecayInterval: time.Hour,
		MarketTimeout: 500 * time.Millisecond,
		Sanitizer:     safenum.DefaultConfig(),
		Weights:       weights.DefaultConfig(),
		Fusion:        fusion.DefaultConfig(),
		Threshold:     threshold.DefaultConfig(),
		Sizing:        sizing.DefaultConfig(),
		Exits:         exits.DefaultConfig(),
		Learning:      learning.DefaultConfig(),
	}
}

// Engine owns one independent decision pipeline. Instances do not share
// state; each carries its own weight store, history, and metrics registry.
type Engine struct {
	mu  sync.Mutex
	cfg Config

	validator *safenum.Validator
	builder   *signal.Builder
	store     *weights.Store
	core      *fusion.Core
	gates     *threshold.Engine
	sizer     *sizing.Sizer
	monitor   *exits.Monitor
	learner   *learning.Learner
	provider  market.Provider
	metrics   *telemetry.Metrics
	logger    zerolog.Logger

	history []*FusedDecision
	byID    map[string]*FusedDecision

	startedAt time.Time
	lastDecay time.Time

	entryCount   int64
	exitCount    int64
	outcomeCount int64
	actionCounts map[string]int64
	lastDecision *FusedDecision
}

// New builds a fully wired engine; nil selects the default configuration.
func New(cfg *Config) *Engine {
	if cfg == nil {
		c := DefaultConfig()
		cfg = &c
	}

	metrics := telemetry.NewMetrics()
	validator := safenum.New(&cfg.Sanitizer)
	validator.SetReplaceHook(metrics.RecordReplacement)
	store := weights.NewStore(&cfg.Weights)

	e := &Engine{
		cfg:          *cfg,
		validator:    validator,
		builder:      signal.NewBuilder(validator),
		store:        store,
		core:         fusion.NewCore(&cfg.Fusion, validator),
		gates:        threshold.New(&cfg.Threshold),
		sizer:        sizing.New(&cfg.Sizing, validator),
		monitor:      exits.NewMonitor(&cfg.Exits),
		learner:      learning.NewLearner(&cfg.Learning, store),
		metrics:      metrics,
		logger:       log.With().Str("component", "engine").Logger(),
		byID:         make(map[string]*FusedDecision),
		startedAt:    time.Now(),
		lastDecay:    time.Now(),
		actionCounts: make(map[string]int64),
	}
	return e
}

// SetMarketProvider attaches an optional market-context source. Without
// one, evaluations run on neutral context.
func (e *Engine) SetMarketProvider(p market.Provider) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.provider = p
}

// Metrics exposes the instance metric registry for HTTP serving.
func (e *Engine) Metrics() *telemetry.Metrics {
	return e.metrics
}

// EvaluateEntry fuses the given signals into an entry decision. It never
// returns an error and never panics outward: malformed input is corrected,
// an empty set yields a neutral hold, and any internal anomaly collapses to
// a neutral hold with the anomaly logged.
func (e *Engine) EvaluateEntry(symbol string, raw []signal.Output) (decision *FusedDecision) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	timer := e.metrics.StartEvalTimer(KindEntry)
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Str("symbol", symbol).
				Msg("entry evaluation anomaly, substituting neutral hold")
			e.metrics.RecordAnomaly("panic")
			decision = e.neutralHold(symbol, KindEntry, "internal anomaly, evaluation reset to neutral hold")
		}
		decision.LatencyMS = float64(time.Since(start).Microseconds()) / 1000
		timer.Stop(string(decision.Action))
		e.finish(KindEntry, decision)
	}()

	e.maybeDecay(start)

	build, fused, err := e.fuse(raw)
	if err != nil {
		e.metrics.RecordAnomaly("fusion")
		decision = e.neutralHold(symbol, KindEntry, "fusion stage unavailable, holding")
		return decision
	}

	mc, live := e.marketContext(symbol)

	notionalHint := e.cfg.Sizing.DefaultNotionalUSD
	if capital, _ := mc.AvailableCapital.Float64(); capital > 0 {
		notionalHint = capital * e.cfg.Sizing.BaseFraction
	}
	assess, err := e.gates.Evaluate(threshold.Inputs{
		Fusion:            fused,
		RecentPerformance: e.store.RecentPerformance(),
		MarketRegime:      mc.Regime,
		TrendStrength:     mc.TrendStrength,
		NotionalUSD:       notionalHint,
	})
	if err != nil {
		e.metrics.RecordAnomaly("threshold")
		decision = e.neutralHold(symbol, KindEntry, "threshold stage unavailable, holding")
		return decision
	}

	rec, err := e.sizer.Recommend(sizing.Inputs{
		Fusion:           fused,
		ShouldTrade:      assess.ShouldTrade,
		WinProbability:   e.learner.WinProbability(),
		Volatility:       mc.Volatility,
		RecentSharpe:     e.learner.RecentSharpe(),
		AvailableCapital: mc.AvailableCapital,
	})
	if err != nil {
		e.metrics.RecordAnomaly("sizing")
		decision = e.neutralHold(symbol, KindEntry, "sizing stage unavailable, holding")
		return decision
	}

	decision = &FusedDecision{
		ID:                uuid.New().String(),
		Symbol:            symbol,
		Kind:              KindEntry,
		Timestamp:         start,
		Action:            assess.Action,
		ShouldTrade:       assess.ShouldTrade,
		Confidence:        fused.Fused.Confidence,
		Direction:         fused.Fused.Direction,
		Magnitude:         fused.Fused.Magnitude,
		Reliability:       fused.Fused.Reliability,
		ConsensusStrength: fused.ConsensusStrength,
		EigenvalueSpread:  fused.EigenvalueSpread,
		InformationBits:   fused.InformationBits,
		Threshold:         assess.Threshold,
		HoldScore:         assess.HoldScore,
		UniformFallback:   fused.UniformFallback,
		NeutralFallback:   build.NeutralFallback,
		Corrections:       build.Corrections,
		Fraction:          rec.Fraction,
		NotionalUSD:       rec.NotionalUSD,
		ExpectedNetUSD:    rec.ExpectedNetUSD,
		RiskLevel:         rec.RiskLevel,
		Attribution:       fused.Weights,
		Factors:           rec.Factors,
		DominantFactors:   rec.DominantFactors,
		Checks:            assess.Checks,
	}
	if !build.NeutralFallback {
		decision.SystemsUsed = make([]string, 0, len(build.Signals))
		decision.Contributions = make([]learning.Contribution, 0, len(build.Signals))
		for i, s := range build.Signals {
			t := build.Tensors[i]
			decision.SystemsUsed = append(decision.SystemsUsed, s.SystemID)
			decision.Contributions = append(decision.Contributions, learning.Contribution{
				SystemID:           s.SystemID,
				PredictedDirection: t.Direction,
				PredictedMagnitude: t.Magnitude,
				Confidence:         t.Confidence,
			})
		}
	}
	decision.Reasoning = e.entryReasoning(decision, build, assess, live)
	return decision
}

// EvaluateExit re-runs fusion for an open position and asks the exit
// monitor whether accumulated urgency justifies closing. The same
// resilience contract as EvaluateEntry applies.
func (e *Engine) EvaluateExit(req ExitRequest, raw []signal.Output) (decision *FusedDecision) {
	e.mu.Lock()
	defer e.mu.Unlock()

	symbol := req.Position.Symbol
	start := time.Now()
	timer := e.metrics.StartEvalTimer(KindExit)
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Str("symbol", symbol).
				Msg("exit evaluation anomaly, keeping position")
			e.metrics.RecordAnomaly("panic")
			decision = e.neutralHold(symbol, KindExit, "internal anomaly, keeping position")
		}
		decision.LatencyMS = float64(time.Since(start).Microseconds()) / 1000
		timer.Stop(string(decision.Action))
		e.finish(KindExit, decision)
	}()

	e.maybeDecay(start)

	build, fused, err := e.fuse(raw)
	if err != nil {
		e.metrics.RecordAnomaly("fusion")
		decision = e.neutralHold(symbol, KindExit, "fusion stage unavailable, keeping position")
		return decision
	}

	origConsensus := fused.ConsensusStrength
	origConfidence := fused.Fused.Confidence
	entryKnown := false
	if entry, ok := e.byID[req.EntryDecisionID]; ok {
		origConsensus = entry.ConsensusStrength
		origConfidence = entry.Confidence
		entryKnown = true
	}

	advice, err := e.monitor.Evaluate(exits.Inputs{
		Position:            req.Position,
		Fresh:               fused,
		OriginalConsensus:   origConsensus,
		OriginalConfidence:  origConfidence,
		UnrealizedPnLPct:    req.UnrealizedPnLPct,
		ProfitTargetPct:     req.ProfitTargetPct,
		BestAlternativeEdge: req.BestAlternativeEdge,
		Now:                 start,
	})
	if err != nil {
		e.metrics.RecordAnomaly("exit")
		decision = e.neutralHold(symbol, KindExit, "exit stage unavailable, keeping position")
		return decision
	}
	e.metrics.RecordExitUrgency(advice.Urgency)

	action := threshold.ActionHold
	if advice.ShouldExit {
		if req.Position.Side == market.SideShort {
			action = threshold.ActionBuy
		} else {
			action = threshold.ActionSell
		}
	}

	decision = &FusedDecision{
		ID:                 uuid.New().String(),
		Symbol:             symbol,
		Kind:               KindExit,
		Timestamp:          start,
		Action:             action,
		ShouldTrade:        advice.ShouldExit,
		Confidence:         fused.Fused.Confidence,
		Direction:          fused.Fused.Direction,
		Magnitude:          fused.Fused.Magnitude,
		Reliability:        fused.Fused.Reliability,
		ConsensusStrength:  fused.ConsensusStrength,
		EigenvalueSpread:   fused.EigenvalueSpread,
		InformationBits:    fused.InformationBits,
		Threshold:          advice.Threshold,
		UniformFallback:    fused.UniformFallback,
		NeutralFallback:    build.NeutralFallback,
		Corrections:        build.Corrections,
		Attribution:        fused.Weights,
		ExitRecommendation: advice,
	}
	if !build.NeutralFallback {
		for _, s := range build.Signals {
			decision.SystemsUsed = append(decision.SystemsUsed, s.SystemID)
		}
	}

	reasoning := []string{advice.Description}
	if build.NeutralFallback {
		reasoning = append(reasoning, "no fresh signals provided, thesis checked on neutral view")
	} else {
		reasoning = append(reasoning, fmt.Sprintf(
			"fresh fusion of %d systems: confidence %.2f, direction %+.2f, consensus %.2f",
			fused.Contributing, fused.Fused.Confidence, fused.Fused.Direction, fused.ConsensusStrength))
	}
	if !entryKnown && req.EntryDecisionID != "" {
		reasoning = append(reasoning, "entry decision not in history, fresh thesis used as baseline")
	}
	decision.Reasoning = reasoning
	return decision
}

// RecordOutcome folds a realized result back into the weight store using
// the contribution snapshot from the originating decision. Failures are
// logged and skipped; the store is never left unnormalized.
func (e *Engine) RecordOutcome(outcome learning.Outcome) *learning.Report {
	e.mu.Lock()
	defer e.mu.Unlock()

	decision, ok := e.byID[outcome.DecisionID]
	if !ok {
		e.logger.Warn().Str("decision_id", outcome.DecisionID).
			Str("symbol", outcome.Symbol).
			Msg("outcome for unknown decision, nothing to learn")
		rep := &learning.Report{
			DecisionID: outcome.DecisionID,
			Skipped:    map[string]string{outcome.DecisionID: "unknown decision"},
			Accuracy:   map[string]float64{},
		}
		e.metrics.RecordOutcome(0, rep.Skipped)
		return rep
	}

	rep := e.learner.Apply(decision.Contributions, outcome)
	e.outcomeCount++
	e.metrics.RecordOutcome(len(rep.Updated), rep.Skipped)
	e.metrics.UpdateWeights(e.store.Weights())
	return rep
}

// Status snapshots the engine's observable state.
func (e *Engine) Status() *SystemStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	actions := make(map[string]int64, len(e.actionCounts))
	for k, v := range e.actionCounts {
		actions[k] = v
	}
	return &SystemStatus{
		StartedAt:             e.startedAt,
		UptimeSeconds:         now.Sub(e.startedAt).Seconds(),
		EntryEvaluations:      e.entryCount,
		ExitEvaluations:       e.exitCount,
		OutcomesRecorded:      e.outcomeCount,
		Actions:               actions,
		Systems:               e.store.Snapshot(),
		WeightSum:             e.store.Sum(),
		RecentPerformance:     e.store.RecentPerformance(),
		RecentSharpe:          e.learner.RecentSharpe(),
		WinProbability:        e.learner.WinProbability(),
		SanitizerReplacements: e.metrics.ReplacementCount(),
		HistorySize:           len(e.history),
		LastDecision:          e.lastDecision,
	}
}

// Decisions returns up to limit most recent decisions, newest first.
// Decisions are immutable once published.
func (e *Engine) Decisions(limit int) []*FusedDecision {
	e.mu.Lock()
	defer e.mu.Unlock()

	if limit <= 0 || limit > len(e.history) {
		limit = len(e.history)
	}
	out := make([]*FusedDecision, 0, limit)
	for i := len(e.history) - 1; i >= len(e.history)-limit; i-- {
		out = append(out, e.history[i])
	}
	return out
}

// Decision looks up one decision by id.
func (e *Engine) Decision(id string) (*FusedDecision, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.byID[id]
	return d, ok
}

// fuse shapes raw producer output and runs the weighted combination. Real
// systems are registered in the weight store first; the neutral fallback
// row never is.
func (e *Engine) fuse(raw []signal.Output) (*signal.BuildResult, *fusion.Result, error) {
	build := e.builder.Build(raw)

	var stored map[string]float64
	if !build.NeutralFallback {
		for _, s := range build.Signals {
			e.store.Ensure(s.SystemID, s.Reliability)
		}
		stored = e.store.Weights()
	}

	fused, err := e.core.Fuse(build.Signals, build.Tensors, stored)
	if err != nil {
		e.logger.Error().Err(err).Msg("fusion failed on shaped input")
		return build, nil, err
	}
	return build, fused, nil
}

// marketContext fetches live context when a provider is attached; the
// second result reports whether the context is live or neutral.
func (e *Engine) marketContext(symbol string) (*market.Context, bool) {
	if e.provider == nil {
		return market.Neutral(symbol), false
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.MarketTimeout)
	defer cancel()

	mc, err := e.provider.Context(ctx, symbol)
	if err != nil {
		e.logger.Warn().Err(err).Str("symbol", symbol).
			Msg("market context unavailable, using neutral")
		return market.Neutral(symbol), false
	}
	return mc, true
}

// maybeDecay runs stale-system decay when the interval has elapsed.
func (e *Engine) maybeDecay(now time.Time) {
	if now.Sub(e.lastDecay) < e.cfg.DecayInterval {
		return
	}
	e.lastDecay = now
	if n := e.store.ApplyDecay(now); n > 0 {
		e.logger.Info().Int("systems", n).Msg("stale system weights decayed toward mean")
	}
}

// finish publishes a completed decision: history ring, counters, metric
// gauges, and the info log line.
func (e *Engine) finish(kind string, d *FusedDecision) {
	if kind == KindEntry {
		e.entryCount++
	} else {
		e.exitCount++
	}
	e.actionCounts[string(d.Action)]++
	e.lastDecision = d

	e.history = append(e.history, d)
	e.byID[d.ID] = d
	for len(e.history) > e.cfg.HistoryCap {
		evicted := e.history[0]
		e.history = e.history[1:]
		delete(e.byID, evicted.ID)
	}

	e.metrics.RecordDecision(d.Confidence, d.ConsensusStrength, d.InformationBits)
	e.metrics.UpdateWeights(e.store.Weights())

	e.logger.Info().
		Str("decision_id", d.ID).
		Str("symbol", d.Symbol).
		Str("kind", d.Kind).
		Str("action", string(d.Action)).
		Bool("should_trade", d.ShouldTrade).
		Float64("confidence", d.Confidence).
		Float64("consensus", d.ConsensusStrength).
		Float64("bits", d.InformationBits).
		Float64("fraction", d.Fraction).
		Msg(d.Summary())
}

// neutralHold is the universal safe decision: HOLD, neutral tensor, zero
// size, with the reason on the reasoning trail.
func (e *Engine) neutralHold(symbol, kind, reason string) *FusedDecision {
	t := signal.NeutralTensor()
	return &FusedDecision{
		ID:              uuid.New().String(),
		Symbol:          symbol,
		Kind:            kind,
		Timestamp:       time.Now(),
		Action:          threshold.ActionHold,
		ShouldTrade:     false,
		Confidence:      t.Confidence,
		Direction:       t.Direction,
		Magnitude:       t.Magnitude,
		Reliability:     t.Reliability,
		NeutralFallback: true,
		Reasoning:       []string{reason},
	}
}

// entryReasoning assembles the human-readable trail for an entry decision.
func (e *Engine) entryReasoning(d *FusedDecision, build *signal.BuildResult, assess *threshold.Assessment, liveContext bool) []string {
	var lines []string

	if build.NeutralFallback {
		lines = append(lines, "no signals provided, neutral fallback evaluated")
	} else {
		lines = append(lines, fmt.Sprintf(
			"fused %d systems: confidence %.2f, direction %+.2f, consensus %.2f, %.2f bits",
			len(build.Signals), d.Confidence, d.Direction, d.ConsensusStrength, d.InformationBits))
	}
	if d.UniformFallback {
		lines = append(lines, "stored weights unusable, uniform weighting applied")
	}
	if build.Corrections > 0 {
		lines = append(lines, fmt.Sprintf("%d malformed fields corrected during validation", build.Corrections))
	}
	if !liveContext {
		lines = append(lines, "market context neutral (no live provider data)")
	}

	if assess.Eligible {
		lines = append(lines, fmt.Sprintf("confidence %.2f cleared threshold %.2f", d.Confidence, assess.Threshold))
	} else {
		lines = append(lines, fmt.Sprintf("confidence %.2f below threshold %.2f", d.Confidence, assess.Threshold))
	}
	if !assess.InformationOK {
		lines = append(lines, fmt.Sprintf("information content %.2f bits under the %.1f bit floor",
			d.InformationBits, e.cfg.Threshold.MinInformationBits))
	}
	if assess.HoldVeto {
		lines = append(lines, fmt.Sprintf("hold veto (%s)", strings.Join(assess.VetoReasons, "; ")))
	}

	if d.ShouldTrade {
		lines = append(lines, fmt.Sprintf("sized %.1f%% ($%s) at %s risk, expected net $%s",
			d.Fraction*100, d.NotionalUSD.StringFixed(2),
			strings.ToLower(string(d.RiskLevel)), d.ExpectedNetUSD.StringFixed(2)))
	}
	return lines
}

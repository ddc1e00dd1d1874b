// Package fusion combines validated signal tensors into a single fused
// tensor plus the coherence metrics downstream gating depends on.
package fusion

import (
	"errors"
	"math"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ninjahangover/signalcartel-alien-sub001/internal/safenum"
	"github.com/ninjahangover/signalcartel-alien-sub001/internal/signal"
)

// ErrNoTensors is returned when Fuse is called with an empty tensor set.
// The tensor builder guarantees at least one row, so seeing this error
// means a stage upstream misbehaved.
var ErrNoTensors = errors.New("fusion: no tensors to fuse")

// Config holds the fusion and coherence tunables.
type Config struct {
	// MinInfoProbability floors the probability fed into the entropy term
	// so log2 never sees zero.
	MinInfoProbability float64 `yaml:"min_info_probability" default:"0.001" validate:"gt=0,lt=1"`
	// ConsensusBaseScale scales the raw direction-alignment term, leaving
	// headroom for the count and reliability bonuses below the 1.0 cap.
	ConsensusBaseScale float64 `yaml:"consensus_base_scale" default:"0.7" validate:"gt=0,lte=1"`
	// CountBonusStep is the consensus bonus added per contributing system
	// beyond the first.
	CountBonusStep float64 `yaml:"count_bonus_step" default:"0.05" validate:"gte=0,lte=0.3"`
	// CountBonusMax caps the system-count consensus bonus.
	CountBonusMax float64 `yaml:"count_bonus_max" default:"0.30" validate:"gte=0,lte=1"`
	// ReliabilityBonusMax caps the average-reliability consensus bonus.
	ReliabilityBonusMax float64 `yaml:"reliability_bonus_max" default:"0.20" validate:"gte=0,lte=1"`
	// ReliabilityBonusPivot is the average reliability at which the bonus
	// starts accruing.
	ReliabilityBonusPivot float64 `yaml:"reliability_bonus_pivot" default:"0.5" validate:"gte=0,lt=1"`
	// SpreadScale converts the weighted confidence dispersion into the
	// roughly [0,1] eigenvalue-spread score.
	SpreadScale float64 `yaml:"spread_scale" default:"0.5" validate:"gt=0"`
}

// DefaultConfig returns the stock fusion tunables.
func DefaultConfig() Config {
	return Config{
		MinInfoProbability:    0.001,
		ConsensusBaseScale:    0.7,
		CountBonusStep:        0.05,
		CountBonusMax:         0.30,
		ReliabilityBonusMax:   0.20,
		ReliabilityBonusPivot: 0.5,
		SpreadScale:           0.5,
	}
}

// Result is the fused tensor plus coherence metrics for one evaluation.
type Result struct {
	Fused             signal.Tensor      `json:"fused"`
	ConsensusStrength float64            `json:"consensus_strength"`
	EigenvalueSpread  float64            `json:"eigenvalue_spread"`
	InformationBits   float64            `json:"information_bits"`
	AvgConfidence     float64            `json:"avg_confidence"`
	AvgReliability    float64            `json:"avg_reliability"`
	Contributing      int                `json:"contributing"`
	UniformFallback   bool               `json:"uniform_fallback,omitempty"`
	Weights           map[string]float64 `json:"weights"`
}

// Core performs the weighted tensor combination.
type Core struct {
	cfg       Config
	validator *safenum.Validator
	logger    zerolog.Logger
}

// NewCore returns a fusion core using the given config and validator;
// nil arguments fall back to defaults.
func NewCore(cfg *Config, validator *safenum.Validator) *Core {
	if cfg == nil {
		c := DefaultConfig()
		cfg = &c
	}
	if validator == nil {
		validator = safenum.New(nil)
	}
	return &Core{
		cfg:       *cfg,
		validator: validator,
		logger:    log.With().Str("component", "fusion_core").Logger(),
	}
}

// Fuse combines the tensors into one fused tensor using the stored weights,
// renormalized over the contributing systems immediately before use. A
// degenerate weight total falls back to uniform 1/N rather than dividing by
// zero. Every fused component passes back through the validator before the
// result is returned.
func (c *Core) Fuse(signals []signal.Output, tensors []signal.Tensor, stored map[string]float64) (*Result, error) {
	n := len(tensors)
	if n == 0 || len(signals) != n {
		return nil, ErrNoTensors
	}

	w := make([]float64, n)
	var total float64
	for i, s := range signals {
		v := stored[s.SystemID]
		if !safenum.Finite(v) || v < 0 {
			v = 0
		}
		w[i] = v
		total += v
	}

	res := &Result{Contributing: n, Weights: make(map[string]float64, n)}
	if !safenum.Finite(total) || total <= 0 {
		res.UniformFallback = true
		uniform := 1 / float64(n)
		for i := range w {
			w[i] = uniform
		}
		c.logger.Warn().
			Int("systems", n).
			Float64("total", total).
			Msg("degenerate weight total, fusing with uniform weights")
	} else {
		for i := range w {
			w[i] /= total
		}
	}
	for i, s := range signals {
		res.Weights[s.SystemID] = w[i]
	}

	var conf, dir, mag, rel float64
	for i, t := range tensors {
		conf += w[i] * t.Confidence
		dir += w[i] * t.Direction
		mag += w[i] * t.Magnitude
		rel += w[i] * t.Reliability
	}
	res.Fused = signal.Tensor{
		Confidence:  c.validator.Sanitize(safenum.Confidence, "fused.confidence", conf),
		Direction:   c.validator.Sanitize(safenum.Direction, "fused.direction", dir),
		Magnitude:   c.validator.Sanitize(safenum.Magnitude, "fused.magnitude", mag),
		Reliability: c.validator.Sanitize(safenum.Reliability, "fused.reliability", rel),
	}

	res.ConsensusStrength, res.EigenvalueSpread = c.coherence(tensors)
	res.InformationBits = c.informationContent(tensors)
	res.AvgConfidence, res.AvgReliability = averages(tensors)
	return res, nil
}

// informationContent sums the per-system entropy term -c*log2(c) in bits.
// The floor keeps the logarithm defined for near-zero confidences.
func (c *Core) informationContent(tensors []signal.Tensor) float64 {
	var bits float64
	for _, t := range tensors {
		p := math.Max(c.cfg.MinInfoProbability, t.Confidence)
		bits += -t.Confidence * math.Log2(p)
	}
	return c.validator.Sanitize(safenum.Generic, "information_bits", bits)
}

func averages(tensors []signal.Tensor) (conf, rel float64) {
	for _, t := range tensors {
		conf += t.Confidence
		rel += t.Reliability
	}
	n := float64(len(tensors))
	return conf / n, rel / n
}

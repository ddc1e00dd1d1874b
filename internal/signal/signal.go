// Package signal defines the producer-facing signal shape and the tensor
// builder that turns raw producer output into validated 4-component tensors.
package signal

import (
	"time"
)

// Documented optional Meta keys. Producers may attach any of these to an
// Output; the fusion path never branches on them, they only surface in
// reasoning text and telemetry.
const (
	MetaPatternStrength = "pattern_strength"
	MetaBidAskPressure  = "bid_ask_pressure"
	MetaTransitionProb  = "transition_prob"
	MetaRiskReward      = "risk_reward"
	MetaMomentum        = "momentum"
	MetaVolatility      = "volatility"
	MetaVolumeSurge     = "volume_surge"
)

// Output is one predictive subsystem's signal for one evaluation cycle.
// Producers emit it once per cycle; the engine treats it as immutable.
type Output struct {
	SystemID    string             `json:"system_id"`
	Confidence  float64            `json:"confidence"`
	Direction   float64            `json:"direction"`
	Magnitude   float64            `json:"magnitude"`
	Reliability float64            `json:"reliability"`
	Timestamp   time.Time          `json:"timestamp"`
	Meta        map[string]float64 `json:"meta,omitempty"`
}

// Tensor is the fixed 4-component summary of one signal. Every component is
// validated before the tensor is constructed, so consumers can rely on
// finite, in-range values.
type Tensor struct {
	Confidence  float64 `json:"confidence"`
	Direction   float64 `json:"direction"`
	Magnitude   float64 `json:"magnitude"`
	Reliability float64 `json:"reliability"`
}

// NeutralTensor is the row substituted when no usable signals exist:
// midpoint confidence and reliability, no directional lean, zero magnitude.
func NeutralTensor() Tensor {
	return Tensor{Confidence: 0.5, Direction: 0, Magnitude: 0, Reliability: 0.5}
}

package signal

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ninjahangover/signalcartel-alien-sub001/internal/safenum"
)

// BuildResult pairs the cleaned signals with their tensors. Tensors[i]
// always corresponds to Signals[i], and both slices hold at least one row.
type BuildResult struct {
	Signals []Output
	Tensors []Tensor

	// NeutralFallback is set when the input list held no usable signals and
	// the single neutral row was substituted.
	NeutralFallback bool
	// Corrections counts fields that had to be replaced or clamped.
	Corrections int
}

// Builder validates raw producer output and shapes it into tensors.
type Builder struct {
	validator *safenum.Validator
	logger    zerolog.Logger
}

// NewBuilder returns a Builder using the given validator, or a default
// validator when nil.
func NewBuilder(validator *safenum.Validator) *Builder {
	if validator == nil {
		validator = safenum.New(nil)
	}
	return &Builder{
		validator: validator,
		logger:    log.With().Str("component", "tensor_builder").Logger(),
	}
}

// Build cleans every raw signal and produces one tensor per signal.
// Signals missing an identifier get a synthesized one so weight lookups
// stay keyed. An empty or fully unusable input yields the single neutral
// row with NeutralFallback set, so downstream stages always see >=1 tensor.
func (b *Builder) Build(raw []Output) *BuildResult {
	res := &BuildResult{}
	if len(raw) == 0 {
		return b.neutral(res)
	}

	res.Signals = make([]Output, 0, len(raw))
	res.Tensors = make([]Tensor, 0, len(raw))

	for i, s := range raw {
		before := s
		if s.SystemID == "" {
			s.SystemID = fmt.Sprintf("unknown_system_%d", i+1)
			res.Corrections++
			b.logger.Warn().
				Int("index", i).
				Str("assigned_id", s.SystemID).
				Msg("signal missing system id, synthesized one")
		}
		if s.Timestamp.IsZero() {
			s.Timestamp = time.Now()
		}

		s.Confidence = b.validator.Clamp(safenum.Confidence, s.SystemID+".confidence", s.Confidence)
		s.Direction = b.validator.Clamp(safenum.Direction, s.SystemID+".direction", s.Direction)
		s.Magnitude = b.validator.Clamp(safenum.Magnitude, s.SystemID+".magnitude", s.Magnitude)
		s.Reliability = b.validator.Clamp(safenum.Reliability, s.SystemID+".reliability", s.Reliability)

		if s.Confidence != before.Confidence || s.Direction != before.Direction ||
			s.Magnitude != before.Magnitude || s.Reliability != before.Reliability {
			res.Corrections++
		}

		res.Signals = append(res.Signals, s)
		res.Tensors = append(res.Tensors, Tensor{
			Confidence:  s.Confidence,
			Direction:   s.Direction,
			Magnitude:   s.Magnitude,
			Reliability: s.Reliability,
		})
	}
	return res
}

func (b *Builder) neutral(res *BuildResult) *BuildResult {
	b.logger.Warn().Msg("no usable signals, substituting neutral tensor")
	res.Signals = []Output{{
		SystemID:    "neutral_fallback",
		Confidence:  0.5,
		Direction:   0,
		Magnitude:   0,
		Reliability: 0.5,
		Timestamp:   time.Now(),
	}}
	res.Tensors = []Tensor{NeutralTensor()}
	res.NeutralFallback = true
	return res
}

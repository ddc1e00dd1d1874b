// Package safenum sanitizes raw numeric input into bounded, finite values.
//
// Every number that enters the decision path passes through a Validator,
// which guarantees downstream arithmetic never sees NaN, Inf, or a value
// outside its semantic range. Replacement values are category-specific
// neutral defaults, not zero: a zero confidence or magnitude would silently
// disable downstream multiplications, which is worse than a visible
// midpoint fallback.
package safenum

import (
	"math"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Category identifies the semantic role of a numeric field. The role decides
// the legal range and the neutral replacement used when the raw value is
// unusable.
type Category int

const (
	Confidence Category = iota
	Reliability
	Direction
	Magnitude
	PositionSize
	Price
	Generic
)

// String returns the lowercase category name used in logs and metrics labels.
func (c Category) String() string {
	switch c {
	case Confidence:
		return "confidence"
	case Reliability:
		return "reliability"
	case Direction:
		return "direction"
	case Magnitude:
		return "magnitude"
	case PositionSize:
		return "position_size"
	case Price:
		return "price"
	default:
		return "generic"
	}
}

// Bounds is the legal range and neutral replacement for one category.
type Bounds struct {
	Min     float64
	Max     float64
	Neutral float64
}

// Config holds the tunable replacement values. All of these are ordinary
// configuration, not derived constants.
type Config struct {
	// Midpoint replaces unusable confidence and reliability values.
	Midpoint float64 `yaml:"midpoint" default:"0.5" validate:"gt=0,lt=1"`
	// MagnitudeEpsilon replaces unusable magnitudes. Must stay above zero
	// so expected-move math keeps a usable operand.
	MagnitudeEpsilon float64 `yaml:"magnitude_epsilon" default:"0.001" validate:"gt=0,lt=1"`
	// SizeFloor replaces unusable position sizes (fraction of capital).
	SizeFloor float64 `yaml:"size_floor" default:"0.005" validate:"gt=0,lt=1"`
	// PriceCeiling bounds sanitized prices.
	PriceCeiling float64 `yaml:"price_ceiling" default:"1e12" validate:"gt=0"`
	// GenericBound bounds uncategorized values symmetrically.
	GenericBound float64 `yaml:"generic_bound" default:"1e9" validate:"gt=0"`
}

// DefaultConfig returns the stock replacement values.
func DefaultConfig() Config {
	return Config{
		Midpoint:         0.5,
		MagnitudeEpsilon: 0.001,
		SizeFloor:        0.005,
		PriceCeiling:     1e12,
		GenericBound:     1e9,
	}
}

// Validator replaces or clamps raw values according to their category.
// A Validator is safe for concurrent use once constructed; the replace hook
// must be set before the validator is shared.
type Validator struct {
	cfg       Config
	logger    zerolog.Logger
	onReplace func(category string)
}

// New returns a Validator using the given config, or defaults when nil.
func New(cfg *Config) *Validator {
	if cfg == nil {
		c := DefaultConfig()
		cfg = &c
	}
	return &Validator{
		cfg:    *cfg,
		logger: log.With().Str("component", "safenum").Logger(),
	}
}

// SetReplaceHook registers a callback invoked once for every replaced or
// clamped value, keyed by category name. Used for metrics.
func (v *Validator) SetReplaceHook(fn func(category string)) {
	v.onReplace = fn
}

// BoundsFor returns the legal range and neutral replacement for a category.
func (v *Validator) BoundsFor(c Category) Bounds {
	switch c {
	case Confidence, Reliability:
		return Bounds{Min: 0, Max: 1, Neutral: v.cfg.Midpoint}
	case Direction:
		return Bounds{Min: -1, Max: 1, Neutral: 0}
	case Magnitude:
		return Bounds{Min: 0, Max: 1, Neutral: v.cfg.MagnitudeEpsilon}
	case PositionSize:
		return Bounds{Min: 0, Max: 1, Neutral: v.cfg.SizeFloor}
	case Price:
		return Bounds{Min: 0, Max: v.cfg.PriceCeiling, Neutral: 0}
	default:
		return Bounds{Min: -v.cfg.GenericBound, Max: v.cfg.GenericBound, Neutral: 0}
	}
}

// Sanitize returns the raw value if it is finite and inside the category's
// range, otherwise the category's neutral default. This is the strict form
// used at stage boundaries, where an out-of-range value means an upstream
// computation went wrong rather than a producer being sloppy.
func (v *Validator) Sanitize(c Category, field string, raw float64) float64 {
	b := v.BoundsFor(c)
	if Finite(raw) && raw >= b.Min && raw <= b.Max {
		return raw
	}
	v.report(c, field, raw, b.Neutral)
	return b.Neutral
}

// Clamp returns the raw value forced into the category's range. Non-finite
// input falls back to the neutral default. This is the lenient form used on
// producer input, where mild overshoot is expected and preserving the
// producer's intent matters more than flagging it.
func (v *Validator) Clamp(c Category, field string, raw float64) float64 {
	b := v.BoundsFor(c)
	if !Finite(raw) {
		v.report(c, field, raw, b.Neutral)
		return b.Neutral
	}
	if raw < b.Min {
		v.report(c, field, raw, b.Min)
		return b.Min
	}
	if raw > b.Max {
		v.report(c, field, raw, b.Max)
		return b.Max
	}
	return raw
}

func (v *Validator) report(c Category, field string, raw, replacement float64) {
	v.logger.Debug().
		Str("category", c.String()).
		Str("field", field).
		Float64("raw", raw).
		Float64("replacement", replacement).
		Msg("replaced unusable numeric value")
	if v.onReplace != nil {
		v.onReplace(c.String())
	}
}

// Finite reports whether x is a usable real number.
func Finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

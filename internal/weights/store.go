// Package weights tracks one adaptive weight per predictive subsystem,
// normalized across all known subsystems so the weights always sum to 1.
//
// The store is deliberately not goroutine-safe. The engine owns exactly one
// store and serializes access behind its own mutex; keeping locking out of
// this package keeps the normalization math testable in isolation.
package weights

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SystemWeight is the adaptive state tracked for one subsystem.
type SystemWeight struct {
	SystemID         string    `json:"system_id"`
	Weight           float64   `json:"weight"`
	PerformanceScore float64   `json:"performance_score"`
	RecentTradeCount int       `json:"recent_trade_count"`
	WinRate          float64   `json:"win_rate"`
	AvgProfitability float64   `json:"avg_profitability"`
	ConsistencyScore float64   `json:"consistency_score"`
	LastUpdated      time.Time `json:"last_updated"`

	// seed is the raw priority-derived mass recorded at registration. It
	// anchors reseeding until the subsystem has learned outcomes.
	seed float64
}

// Config holds the weight-store tunables.
type Config struct {
	// Floor is the minimum normalized weight any subsystem keeps, so no
	// producer is starved out of the fusion entirely.
	Floor float64 `yaml:"floor" default:"0.05" validate:"gt=0,lt=0.5"`
	// CeilingScale scales the 1/sqrt(N) dominance ceiling.
	CeilingScale float64 `yaml:"ceiling_scale" default:"1.0" validate:"gt=0,lte=2"`
	// StaleAfter is how long a subsystem may go without an outcome before
	// its weight starts decaying toward the population mean.
	StaleAfter time.Duration `yaml:"stale_after" default:"24h" validate:"gt=0"`
	// DecayPerHour is the exponential rate applied per hour past StaleAfter.
	DecayPerHour float64 `yaml:"decay_per_hour" default:"0.05" validate:"gt=0,lte=1"`
	// SumTolerance is the accepted drift of the post-normalization sum.
	SumTolerance float64 `yaml:"sum_tolerance" default:"1e-9" validate:"gt=0"`
	// UnknownPriority seeds subsystems missing from the priority table.
	UnknownPriority float64 `yaml:"unknown_priority" default:"1.0" validate:"gt=0"`
	// InitialPerformance seeds the performance score of a new subsystem.
	InitialPerformance float64 `yaml:"initial_performance" default:"0.5" validate:"gte=0,lte=1"`
	// InitialConsistency seeds the consistency score of a new subsystem.
	InitialConsistency float64 `yaml:"initial_consistency" default:"0.5" validate:"gte=0,lte=1"`
	// Priorities seeds starting weights by subsystem sophistication.
	Priorities map[string]float64 `yaml:"priorities"`
}

// DefaultConfig returns the stock store tunables, including the default
// sophistication table for the known producer fleet.
func DefaultConfig() Config {
	return Config{
		Floor:              0.05,
		CeilingScale:       1.0,
		StaleAfter:         24 * time.Hour,
		DecayPerHour:       0.05,
		SumTolerance:       1e-9,
		UnknownPriority:    1.0,
		InitialPerformance: 0.5,
		InitialConsistency: 0.5,
		Priorities: map[string]float64{
			"gpu-neural":             3.0,
			"quantum-supremacy":      2.8,
			"orderbook-ai":           2.5,
			"enhanced-markov":        2.2,
			"profit-optimizer":       2.0,
			"mathematical-intuition": 1.5,
			"pine-script-rsi":        0.8,
		},
	}
}

// Store holds one SystemWeight per subsystem and keeps them normalized.
type Store struct {
	cfg     Config
	entries map[string]*SystemWeight
	logger  zerolog.Logger
}

// NewStore creates an empty store using the given config, or defaults when nil.
func NewStore(cfg *Config) *Store {
	if cfg == nil {
		c := DefaultConfig()
		cfg = &c
	}
	if cfg.Priorities == nil {
		cfg.Priorities = DefaultConfig().Priorities
	}
	return &Store{
		cfg:     *cfg,
		entries: make(map[string]*SystemWeight),
		logger:  log.With().Str("component", "weight_store").Logger(),
	}
}

// Len returns the number of tracked subsystems.
func (s *Store) Len() int { return len(s.entries) }

// IDs returns all tracked subsystem ids in stable order.
func (s *Store) IDs() []string {
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Get returns a copy of the entry for systemID.
func (s *Store) Get(systemID string) (SystemWeight, bool) {
	e, ok := s.entries[systemID]
	if !ok {
		return SystemWeight{}, false
	}
	return *e, true
}

// Ensure returns the entry for systemID, creating it on first sighting.
// New entries start from the sophistication table (unknown ids get the
// conservative default), adjusted by the producer's reported reliability,
// and the whole store is renormalized.
func (s *Store) Ensure(systemID string, reliability float64) SystemWeight {
	if e, ok := s.entries[systemID]; ok {
		return *e
	}
	priority, ok := s.cfg.Priorities[systemID]
	if !ok {
		priority = s.cfg.UnknownPriority
	}
	if !finite(reliability) || reliability < 0 || reliability > 1 {
		reliability = 0.5
	}
	// Reliability scales the seed into [0.5x, 1.5x] of its table priority.
	seed := priority * (0.5 + reliability)

	e := &SystemWeight{
		SystemID:         systemID,
		seed:             seed,
		PerformanceScore: s.cfg.InitialPerformance,
		WinRate:          0.5,
		ConsistencyScore: s.cfg.InitialConsistency,
		LastUpdated:      time.Now(),
	}
	s.entries[systemID] = e
	s.reseedUnlearned()
	s.Normalize()

	s.logger.Info().
		Str("system", systemID).
		Float64("priority", priority).
		Float64("weight", e.Weight).
		Int("tracked", len(s.entries)).
		Msg("registered new subsystem")
	return *e
}

// reseedUnlearned splits the mass not held by learned entries across the
// entries that have no outcomes yet, proportionally to their seeds. The
// seed scale never mixes with the normalized scale, so registration order
// cannot change how an unlearned population ranks. A newcomer entering a
// fully learned population starts at the floor and earns weight through
// outcomes.
func (s *Store) reseedUnlearned() {
	var learnedMass, seedSum float64
	for _, e := range s.entries {
		if e.RecentTradeCount > 0 {
			learnedMass += e.Weight
		} else {
			seedSum += e.seed
		}
	}
	if seedSum <= 0 {
		return
	}
	available := math.Max(0, 1-learnedMass)
	for _, e := range s.entries {
		if e.RecentTradeCount == 0 {
			e.Weight = available * e.seed / seedSum
		}
	}
}

// Update applies fn to the entry for systemID and stamps LastUpdated.
// Returns false when the subsystem is unknown. The caller is responsible
// for calling Normalize once its batch of updates is complete.
func (s *Store) Update(systemID string, now time.Time, fn func(*SystemWeight)) bool {
	e, ok := s.entries[systemID]
	if !ok {
		return false
	}
	fn(e)
	e.LastUpdated = now
	return true
}

// Weights returns a copy of the current normalized weight per subsystem.
func (s *Store) Weights() map[string]float64 {
	out := make(map[string]float64, len(s.entries))
	for id, e := range s.entries {
		out[id] = e.Weight
	}
	return out
}

// Snapshot returns a deep copy of every entry keyed by subsystem id.
func (s *Store) Snapshot() map[string]SystemWeight {
	out := make(map[string]SystemWeight, len(s.entries))
	for id, e := range s.entries {
		out[id] = *e
	}
	return out
}

// RecentPerformance returns the weight-averaged performance score across
// all subsystems, in [0,1]. Empty store reports the neutral 0.5.
func (s *Store) RecentPerformance() float64 {
	if len(s.entries) == 0 {
		return 0.5
	}
	var sum float64
	for _, e := range s.entries {
		sum += e.Weight * e.PerformanceScore
	}
	return clamp(sum, 0, 1)
}

// Ceiling returns the per-subsystem dominance cap for the current count.
func (s *Store) Ceiling() float64 {
	n := len(s.entries)
	if n == 0 {
		return 1
	}
	return math.Min(1, s.cfg.CeilingScale/math.Sqrt(float64(n)))
}

// floorFor keeps the floor feasible when many subsystems are tracked.
func (s *Store) floorFor(n int) float64 {
	if n == 0 {
		return s.cfg.Floor
	}
	return math.Min(s.cfg.Floor, 1/float64(n))
}

// Normalize rebalances all weights: raise to the floor, cap at the ceiling
// with proportional redistribution of the excess, then scale to sum exactly
// 1. Residual drift beyond the configured tolerance is logged.
func (s *Store) Normalize() {
	n := len(s.entries)
	if n == 0 {
		return
	}
	floor := s.floorFor(n)
	ceiling := s.Ceiling()

	// Single entry always holds the full weight.
	if n == 1 {
		for _, e := range s.entries {
			e.Weight = 1
		}
		return
	}

	// Pass 1: replace unusable values and raise to the floor.
	for _, e := range s.entries {
		if !finite(e.Weight) || e.Weight <= 0 {
			e.Weight = floor
		}
		if e.Weight < floor {
			e.Weight = floor
		}
	}

	// Pass 2: cap at the ceiling, redistributing excess proportionally
	// among uncapped entries. Redistribution can push another entry over
	// the ceiling, so iterate; n passes is an upper bound.
	capped := make(map[string]bool, n)
	for iter := 0; iter < n; iter++ {
		var excess, uncappedSum float64
		for id, e := range s.entries {
			if e.Weight > ceiling {
				excess += e.Weight - ceiling
				e.Weight = ceiling
				capped[id] = true
			}
		}
		if excess == 0 {
			break
		}
		for id, e := range s.entries {
			if !capped[id] {
				uncappedSum += e.Weight
			}
		}
		if uncappedSum <= 0 {
			break
		}
		for id, e := range s.entries {
			if !capped[id] {
				e.Weight += excess * (e.Weight / uncappedSum)
			}
		}
	}

	// Pass 3: scale to sum 1 and repair any floor violation the scaling
	// introduced, taking the repair mass from the largest entry.
	var total float64
	for _, e := range s.entries {
		total += e.Weight
	}
	if total <= 0 || !finite(total) {
		uniform := 1 / float64(n)
		for _, e := range s.entries {
			e.Weight = uniform
		}
		s.logger.Warn().Float64("total", total).Msg("degenerate weight total, reset to uniform")
		return
	}
	for _, e := range s.entries {
		e.Weight /= total
	}

	var largest *SystemWeight
	var repaired float64
	for _, e := range s.entries {
		if largest == nil || e.Weight > largest.Weight {
			largest = e
		}
	}
	for _, e := range s.entries {
		if e != largest && e.Weight < floor {
			repaired += floor - e.Weight
			e.Weight = floor
		}
	}
	largest.Weight -= repaired

	// Absorb residual float drift into the largest entry so the sum is
	// exact at rest.
	var sum float64
	for _, e := range s.entries {
		sum += e.Weight
	}
	drift := 1 - sum
	largest.Weight += drift
	if math.Abs(drift) > s.cfg.SumTolerance {
		s.logger.Warn().
			Float64("drift", drift).
			Int("tracked", n).
			Msg("weight normalization drift above tolerance")
	}
}

// ApplyDecay pulls stale entries toward the population mean and returns how
// many entries decayed. An entry is stale once it has gone StaleAfter
// without an update; the pull strengthens exponentially with staleness.
// LastUpdated is deliberately left untouched so decay keeps compounding.
func (s *Store) ApplyDecay(now time.Time) int {
	if len(s.entries) < 2 {
		return 0
	}
	var meanW, meanPerf float64
	for _, e := range s.entries {
		meanW += e.Weight
		meanPerf += e.PerformanceScore
	}
	meanW /= float64(len(s.entries))
	meanPerf /= float64(len(s.entries))

	decayed := 0
	for _, e := range s.entries {
		stale := now.Sub(e.LastUpdated) - s.cfg.StaleAfter
		if stale <= 0 {
			continue
		}
		keep := math.Exp(-s.cfg.DecayPerHour * stale.Hours())
		e.Weight = meanW + (e.Weight-meanW)*keep
		e.PerformanceScore = meanPerf + (e.PerformanceScore-meanPerf)*keep
		decayed++
		s.logger.Debug().
			Str("system", e.SystemID).
			Float64("hours_stale", stale.Hours()).
			Float64("weight", e.Weight).
			Msg("decayed stale subsystem toward population mean")
	}
	if decayed > 0 {
		s.Normalize()
	}
	return decayed
}

// Sum returns the current total weight. At rest this is 1 within tolerance.
func (s *Store) Sum() float64 {
	var sum float64
	for _, e := range s.entries {
		sum += e.Weight
	}
	return sum
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

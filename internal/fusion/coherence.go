package fusion

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/ninjahangover/signalcartel-alien-sub001/internal/safenum"
	"github.com/ninjahangover/signalcartel-alien-sub001/internal/signal"
)

// coherence computes the direction-consensus strength and the confidence
// dispersion ("eigenvalue spread") over the tensor set. Fewer than two
// tensors carry no disagreement evidence, so both metrics report their
// documented defaults {consensus 1.0, spread 1.0}.
func (c *Core) coherence(tensors []signal.Tensor) (consensus, spread float64) {
	if len(tensors) < 2 {
		return 1.0, 1.0
	}

	n := len(tensors)
	dirs := make([]float64, n)
	confs := make([]float64, n)
	rels := make([]float64, n)
	// Consensus weights each system's vote by conviction and track record.
	voteW := make([]float64, n)
	for i, t := range tensors {
		dirs[i] = t.Direction
		confs[i] = t.Confidence
		rels[i] = t.Reliability
		voteW[i] = t.Confidence*t.Reliability + 1e-9
	}

	variance := stat.PopVariance(dirs, voteW)
	if !safenum.Finite(variance) || variance < 0 {
		variance = 0
	}
	base := c.cfg.ConsensusBaseScale * clamp01(1-math.Sqrt(variance))

	countBonus := math.Min(c.cfg.CountBonusMax, c.cfg.CountBonusStep*float64(n-1))
	avgRel := stat.Mean(rels, nil)
	relBonus := c.cfg.ReliabilityBonusMax * clamp01((avgRel-c.cfg.ReliabilityBonusPivot)/(1-c.cfg.ReliabilityBonusPivot))

	consensus = clamp01(base + countBonus + relBonus)

	// Reliability-weighted dispersion of conviction. Direction agreement
	// with scattered confidence still reads as disagreement here.
	confStd := math.Sqrt(stat.PopVariance(confs, rels))
	if !safenum.Finite(confStd) {
		confStd = c.cfg.SpreadScale
	}
	spread = clamp01(confStd / c.cfg.SpreadScale)

	return consensus, spread
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

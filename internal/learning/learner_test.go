package learning

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ninjahangover/signalcartel-alien-sub001/internal/weights"
)

func newStorePair(t *testing.T) *weights.Store {
	t.Helper()
	store := weights.NewStore(nil)
	store.Ensure("alpha", 0.5)
	store.Ensure("beta", 0.5)
	return store
}

func outcomeUp(id string, pnl float64) Outcome {
	return Outcome{
		DecisionID:      id,
		Symbol:          "BTCUSD",
		ActualDirection: 1,
		ActualMagnitude: 0.02,
		ActualPnL:       decimal.NewFromFloat(pnl),
		ClosedAt:        time.Now(),
	}
}

func TestConsistentlyCorrectSystemGainsWeight(t *testing.T) {
	store := newStorePair(t)
	l := NewLearner(nil, store)

	contribs := []Contribution{
		{SystemID: "alpha", PredictedDirection: 1, PredictedMagnitude: 0.02, Confidence: 0.8},
		{SystemID: "beta", PredictedDirection: -1, PredictedMagnitude: 0.02, Confidence: 0.8},
	}

	prev, _ := store.Get("alpha")
	for i := 0; i < 5; i++ {
		rep := l.Apply(contribs, outcomeUp(fmt.Sprintf("d-%d", i), 1.0))
		require.Len(t, rep.Updated, 2)

		cur, ok := store.Get("alpha")
		require.True(t, ok)
		assert.Greater(t, cur.Weight, prev.Weight,
			"outcome %d must raise the correct system's weight", i)
		prev = cur

		assert.InDelta(t, 1.0, store.Sum(), 1e-9, "store must stay normalized")
	}

	alpha, _ := store.Get("alpha")
	beta, _ := store.Get("beta")
	assert.Greater(t, alpha.Weight, beta.Weight)
	assert.Greater(t, alpha.WinRate, beta.WinRate)
	assert.Greater(t, alpha.PerformanceScore, beta.PerformanceScore)
	assert.Equal(t, 5, alpha.RecentTradeCount)
}

func TestSustainedWinningRunLiftsWeightOverSeed(t *testing.T) {
	store := newStorePair(t)
	l := NewLearner(nil, store)

	initial, _ := store.Get("alpha")
	contribs := []Contribution{
		{SystemID: "alpha", PredictedDirection: 1, PredictedMagnitude: 0.02, Confidence: 0.8},
		{SystemID: "beta", PredictedDirection: -1, PredictedMagnitude: 0.02, Confidence: 0.8},
	}

	for i := 0; i < 20; i++ {
		o := outcomeUp(fmt.Sprintf("d-%d", i), 1.0)
		if i%10 == 9 {
			// Two losses in twenty keeps the run at a 90 percent hit rate.
			o.ActualDirection = -1
			o.ActualPnL = decimal.NewFromFloat(-1.0)
		}
		rep := l.Apply(contribs, o)
		require.Len(t, rep.Updated, 2)
	}

	final, _ := store.Get("alpha")
	assert.Greater(t, final.Weight, initial.Weight,
		"a 90 percent run must lift the weight above its seed")
	assert.Greater(t, final.WinRate, 0.6)
	assert.Equal(t, 20, final.RecentTradeCount)
	assert.Equal(t, 20, l.Outcomes())
	assert.InDelta(t, 1.0, store.Sum(), 1e-9)
}

func TestUnknownSystemSkippedWithoutCorruptingStore(t *testing.T) {
	store := newStorePair(t)
	l := NewLearner(nil, store)

	rep := l.Apply([]Contribution{
		{SystemID: "alpha", PredictedDirection: 1, PredictedMagnitude: 0.02},
		{SystemID: "ghost", PredictedDirection: 1, PredictedMagnitude: 0.02},
		{SystemID: "", PredictedDirection: 1},
	}, outcomeUp("d-1", 0.5))

	assert.Equal(t, []string{"alpha"}, rep.Updated)
	assert.Equal(t, "unknown system", rep.Skipped["ghost"])
	assert.Equal(t, "missing system id", rep.Skipped["(blank)"])
	assert.Equal(t, 2, store.Len(), "skips must not create systems")
	assert.InDelta(t, 1.0, store.Sum(), 1e-9)
}

func TestEmptyContributionsLearnNothing(t *testing.T) {
	store := newStorePair(t)
	l := NewLearner(nil, store)

	rep := l.Apply(nil, outcomeUp("d-1", 1.0))
	assert.Empty(t, rep.Updated)
	assert.Zero(t, l.Outcomes(), "empty outcomes must not enter the PnL window")

	beta, _ := store.Get("beta")
	assert.Equal(t, 0, beta.RecentTradeCount)
}

func TestAccuracyBlendsDirectionAndMagnitude(t *testing.T) {
	store := newStorePair(t)
	l := NewLearner(nil, store)

	// Perfect direction and magnitude.
	rep := l.Apply([]Contribution{
		{SystemID: "alpha", PredictedDirection: 1, PredictedMagnitude: 0.02},
	}, outcomeUp("d-1", 1.0))
	assert.InDelta(t, 1.0, rep.Accuracy["alpha"], 1e-9)

	// Right direction, magnitude off by 100 percent of actual.
	rep = l.Apply([]Contribution{
		{SystemID: "alpha", PredictedDirection: 1, PredictedMagnitude: 0.04},
	}, outcomeUp("d-2", 1.0))
	assert.InDelta(t, 0.7, rep.Accuracy["alpha"], 1e-9)

	// Opposed direction scores only the magnitude share.
	rep = l.Apply([]Contribution{
		{SystemID: "alpha", PredictedDirection: -1, PredictedMagnitude: 0.02},
	}, outcomeUp("d-3", -1.0))
	assert.InDelta(t, 0.3, rep.Accuracy["alpha"], 1e-9)
}

func TestFlatOutcomeScoresNeutral(t *testing.T) {
	store := newStorePair(t)
	l := NewLearner(nil, store)

	flat := outcomeUp("d-1", 0)
	flat.ActualDirection = 0.01
	flat.ActualMagnitude = 0

	rep := l.Apply([]Contribution{
		{SystemID: "alpha", PredictedDirection: 1, PredictedMagnitude: 0.02},
	}, flat)
	// Direction sat in the dead zone (0.35) and magnitude was fully off.
	assert.InDelta(t, 0.35, rep.Accuracy["alpha"], 1e-9)
}

func TestRecentSharpeFromPnLWindow(t *testing.T) {
	store := newStorePair(t)
	l := NewLearner(nil, store)
	contribs := []Contribution{{SystemID: "alpha", PredictedDirection: 1, PredictedMagnitude: 0.02}}

	assert.Zero(t, l.RecentSharpe(), "no outcomes yet")

	l.Apply(contribs, outcomeUp("d-1", 1.0))
	assert.Zero(t, l.RecentSharpe(), "one outcome has no variance")

	l.Apply(contribs, outcomeUp("d-2", 3.0))
	// PnL window [1, 3]: mean 2, population std 1.
	assert.InDelta(t, 2.0, l.RecentSharpe(), 1e-9)
	assert.Equal(t, 2, l.Outcomes())
}

func TestWinProbabilityTracksWeightedWinRate(t *testing.T) {
	store := weights.NewStore(nil)
	l := NewLearner(nil, store)
	assert.InDelta(t, 0.5, l.WinProbability(), 1e-9, "empty store defaults to coin flip")

	store.Ensure("alpha", 0.5)
	store.Ensure("beta", 0.5)
	contribs := []Contribution{
		{SystemID: "alpha", PredictedDirection: 1, PredictedMagnitude: 0.02},
		{SystemID: "beta", PredictedDirection: -1, PredictedMagnitude: 0.02},
	}
	for i := 0; i < 5; i++ {
		l.Apply(contribs, outcomeUp(fmt.Sprintf("d-%d", i), 1.0))
	}
	wp := l.WinProbability()
	assert.Greater(t, wp, 0.5, "winning system dominates the blend")
	assert.LessOrEqual(t, wp, 1.0)
}

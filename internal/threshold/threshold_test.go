package threshold

import (
	"testing"

	"github.com/ninjahangover/signalcartel-alien-sub001/internal/fusion"
	"github.com/ninjahangover/signalcartel-alien-sub001/internal/signal"
)

func fusionResult(conf, dir, mag float64, consensus, spread, bits float64, n int) *fusion.Result {
	return &fusion.Result{
		Fused:             signal.Tensor{Confidence: conf, Direction: dir, Magnitude: mag, Reliability: 0.8},
		ConsensusStrength: consensus,
		EigenvalueSpread:  spread,
		InformationBits:   bits,
		AvgConfidence:     conf,
		AvgReliability:    0.8,
		Contributing:      n,
	}
}

func TestEvaluateRequiresFusion(t *testing.T) {
	e := New(nil)
	if _, err := e.Evaluate(Inputs{}); err == nil {
		t.Fatal("expected error without fusion result")
	}
}

func TestThresholdStaysInsideBand(t *testing.T) {
	e := New(nil)
	cases := []Inputs{
		// Everything favorable pushes toward the lower clamp.
		{Fusion: fusionResult(0.9, 1, 0.08, 0.95, 0.1, 3, 8), RecentPerformance: 1, MarketRegime: 1, TrendStrength: 1, NotionalUSD: 60},
		// Everything hostile pushes toward the upper clamp.
		{Fusion: fusionResult(0.2, -0.2, 0.001, 0.2, 0.95, 0.5, 1), RecentPerformance: 0, MarketRegime: -1, TrendStrength: 0, NotionalUSD: 60},
	}
	for i, in := range cases {
		a, err := e.Evaluate(in)
		if err != nil {
			t.Fatalf("case %d: %v", i, err)
		}
		if a.Threshold < 0.08-1e-12 || a.Threshold > 0.30+1e-12 {
			t.Errorf("case %d: threshold %.4f escaped the safety band", i, a.Threshold)
		}
	}
}

func TestFavorableConditionsHitBandFloor(t *testing.T) {
	e := New(nil)
	a, err := e.Evaluate(Inputs{
		Fusion:            fusionResult(0.9, 1, 0.08, 0.95, 0.1, 3, 8),
		RecentPerformance: 1,
		MarketRegime:      1,
		TrendStrength:     1,
		NotionalUSD:       60,
	})
	if err != nil {
		t.Fatal(err)
	}
	if a.Threshold != 0.08 {
		t.Errorf("threshold = %.4f, want clamp to 0.08", a.Threshold)
	}
	if !a.ShouldTrade || a.Action != ActionBuy {
		t.Errorf("should trade BUY, got shouldTrade=%v action=%s", a.ShouldTrade, a.Action)
	}
}

func TestInformationGateBlocksThinSignals(t *testing.T) {
	e := New(nil)
	// One very confident system carries little combined information.
	a, err := e.Evaluate(Inputs{
		Fusion:            fusionResult(0.9, 1, 0.03, 1.0, 1.0, 0.14, 1),
		RecentPerformance: 0.5,
		TrendStrength:     0.6,
		NotionalUSD:       60,
	})
	if err != nil {
		t.Fatal(err)
	}
	if a.InformationOK {
		t.Error("information gate should have failed")
	}
	if a.ShouldTrade {
		t.Error("trade allowed despite failed information gate")
	}
	if a.Action != ActionHold {
		t.Errorf("action = %s, want HOLD", a.Action)
	}
	if a.Lean != ActionBuy {
		t.Errorf("lean = %s, want BUY reported for monitoring", a.Lean)
	}
}

func TestRoutineDisagreementDoesNotVeto(t *testing.T) {
	e := New(nil)
	// Mediocre but not extreme conditions: no advisory check may block.
	a, err := e.Evaluate(Inputs{
		Fusion:            fusionResult(0.6, 1, 0.05, 0.45, 0.5, 2.5, 5),
		RecentPerformance: 0.5,
		MarketRegime:      0,
		TrendStrength:     0.5,
		NotionalUSD:       60,
	})
	if err != nil {
		t.Fatal(err)
	}
	if a.HoldVeto {
		t.Fatalf("routine disagreement vetoed the trade (score %.2f): %v", a.HoldScore, a.VetoReasons)
	}
	if !a.ShouldTrade {
		t.Error("eligible trade was blocked")
	}
}

func TestExtremeConditionsVeto(t *testing.T) {
	e := New(nil)
	// Collapsed consensus, dead trend, and severe instability together
	// cross the veto bar even though the confidence gate passes.
	a, err := e.Evaluate(Inputs{
		Fusion:            fusionResult(0.5, 1, 0.06, 0.1, 0.9, 3, 6),
		RecentPerformance: 0.5,
		MarketRegime:      0,
		TrendStrength:     0.1,
		NotionalUSD:       60,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !a.Eligible {
		t.Fatalf("setup error: trade should pass the primary gates (threshold %.3f)", a.Threshold)
	}
	if !a.HoldVeto {
		t.Fatalf("extreme conditions did not veto (score %.2f)", a.HoldScore)
	}
	if a.ShouldTrade || a.Action != ActionHold {
		t.Errorf("veto must force HOLD, got shouldTrade=%v action=%s", a.ShouldTrade, a.Action)
	}
	if len(a.VetoReasons) < 3 {
		t.Errorf("veto reasons = %v, want each triggered check named", a.VetoReasons)
	}
}

func TestCostCheckUsesNotional(t *testing.T) {
	e := New(nil)
	// A tiny notional cannot clear the cost margin; the check triggers but
	// alone must not veto.
	a, err := e.Evaluate(Inputs{
		Fusion:            fusionResult(0.7, 1, 0.03, 0.8, 0.3, 2.5, 5),
		RecentPerformance: 0.6,
		TrendStrength:     0.7,
		NotionalUSD:       1,
	})
	if err != nil {
		t.Fatal(err)
	}
	var costTriggered bool
	for _, c := range a.Checks {
		if c.Name == "profit_below_cost_margin" && c.Triggered {
			costTriggered = true
		}
	}
	if !costTriggered {
		t.Error("cost check should trigger on a $1 notional")
	}
	if a.HoldVeto {
		t.Error("single advisory check must not veto on its own")
	}
}

func TestSellDirection(t *testing.T) {
	e := New(nil)
	a, err := e.Evaluate(Inputs{
		Fusion:            fusionResult(0.8, -1, 0.05, 0.9, 0.2, 2.5, 6),
		RecentPerformance: 0.6,
		MarketRegime:      0.2,
		TrendStrength:     0.7,
		NotionalUSD:       60,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !a.ShouldTrade || a.Action != ActionSell {
		t.Errorf("want SELL, got shouldTrade=%v action=%s", a.ShouldTrade, a.Action)
	}
}

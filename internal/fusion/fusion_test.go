package fusion

import (
	"math"
	"testing"

	"github.com/ninjahangover/signalcartel-alien-sub001/internal/signal"
)

func sig(id string, conf, dir, mag, rel float64) (signal.Output, signal.Tensor) {
	return signal.Output{SystemID: id, Confidence: conf, Direction: dir, Magnitude: mag, Reliability: rel},
		signal.Tensor{Confidence: conf, Direction: dir, Magnitude: mag, Reliability: rel}
}

func buildSet(rows ...[5]float64) ([]signal.Output, []signal.Tensor, map[string]float64) {
	var outs []signal.Output
	var tens []signal.Tensor
	weights := make(map[string]float64)
	for i, r := range rows {
		id := string(rune('a' + i))
		o, t := sig(id, r[0], r[1], r[2], r[3])
		outs = append(outs, o)
		tens = append(tens, t)
		weights[id] = r[4]
	}
	return outs, tens, weights
}

func TestFuseEmptyReturnsError(t *testing.T) {
	c := NewCore(nil, nil)
	if _, err := c.Fuse(nil, nil, nil); err == nil {
		t.Fatal("expected error for empty tensor set")
	}
}

func TestFuseWeightedCombination(t *testing.T) {
	c := NewCore(nil, nil)
	// Stored weights 0.3 and 0.1 renormalize to 0.75 / 0.25 over the
	// contributing pair.
	outs, tens, weights := buildSet(
		[5]float64{0.8, 1, 0.04, 0.9, 0.3},
		[5]float64{0.4, -1, 0.02, 0.5, 0.1},
	)
	res, err := c.Fuse(outs, tens, weights)
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}

	wantConf := 0.75*0.8 + 0.25*0.4
	if math.Abs(res.Fused.Confidence-wantConf) > 1e-12 {
		t.Errorf("fused confidence = %v, want %v", res.Fused.Confidence, wantConf)
	}
	wantDir := 0.75*1 + 0.25*-1
	if math.Abs(res.Fused.Direction-wantDir) > 1e-12 {
		t.Errorf("fused direction = %v, want %v", res.Fused.Direction, wantDir)
	}
	var wsum float64
	for _, w := range res.Weights {
		wsum += w
	}
	if math.Abs(wsum-1) > 1e-9 {
		t.Errorf("attribution weights sum %v, want 1", wsum)
	}
}

func TestFuseUniformFallbackOnDegenerateWeights(t *testing.T) {
	c := NewCore(nil, nil)
	outs, tens, _ := buildSet(
		[5]float64{0.6, 1, 0.02, 0.8, 0},
		[5]float64{0.8, 1, 0.02, 0.8, 0},
	)
	// All-zero stored weights must fuse uniformly, never divide by zero.
	res, err := c.Fuse(outs, tens, map[string]float64{})
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}
	if !res.UniformFallback {
		t.Fatal("expected uniform fallback")
	}
	want := (0.6 + 0.8) / 2
	if math.Abs(res.Fused.Confidence-want) > 1e-12 {
		t.Errorf("fused confidence = %v, want uniform mean %v", res.Fused.Confidence, want)
	}
}

func TestSingleStrongSystem(t *testing.T) {
	c := NewCore(nil, nil)
	outs, tens, weights := buildSet([5]float64{0.9, 1, 0.02, 0.9, 1})

	res, err := c.Fuse(outs, tens, weights)
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}
	if res.ConsensusStrength != 1.0 {
		t.Errorf("consensus = %v, want 1.0 for a single system", res.ConsensusStrength)
	}
	if res.EigenvalueSpread != 1.0 {
		t.Errorf("spread = %v, want documented 1.0 default below two systems", res.EigenvalueSpread)
	}
	if res.Fused.Direction != 1 {
		t.Errorf("fused direction = %v, want 1", res.Fused.Direction)
	}
}

func TestSystemCountRaisesUnanimousConsensus(t *testing.T) {
	c := NewCore(nil, nil)

	row := [5]float64{0.75, 1, 0.02, 0.8, 0.5}
	twoOuts, twoTens, twoW := buildSet(row, row)
	sixOuts, sixTens, sixW := buildSet(row, row, row, row, row, row)

	two, err := c.Fuse(twoOuts, twoTens, twoW)
	if err != nil {
		t.Fatalf("Fuse two: %v", err)
	}
	six, err := c.Fuse(sixOuts, sixTens, sixW)
	if err != nil {
		t.Fatalf("Fuse six: %v", err)
	}
	if six.ConsensusStrength <= two.ConsensusStrength {
		t.Fatalf("6-system unanimous consensus %.3f not above 2-system %.3f",
			six.ConsensusStrength, two.ConsensusStrength)
	}
	if six.ConsensusStrength-two.ConsensusStrength < 0.05 {
		t.Errorf("consensus separation %.3f too small to be visible",
			six.ConsensusStrength-two.ConsensusStrength)
	}
}

func TestDisagreementLowersConsensus(t *testing.T) {
	c := NewCore(nil, nil)

	agreeOuts, agreeTens, agreeW := buildSet(
		[5]float64{0.8, 1, 0.02, 0.8, 0.5},
		[5]float64{0.8, 1, 0.02, 0.8, 0.5},
	)
	splitOuts, splitTens, splitW := buildSet(
		[5]float64{0.8, 1, 0.02, 0.8, 0.5},
		[5]float64{0.8, -1, 0.02, 0.8, 0.5},
	)

	agree, _ := c.Fuse(agreeOuts, agreeTens, agreeW)
	split, _ := c.Fuse(splitOuts, splitTens, splitW)
	if split.ConsensusStrength >= agree.ConsensusStrength {
		t.Fatalf("split consensus %.3f should be below unanimous %.3f",
			split.ConsensusStrength, agree.ConsensusStrength)
	}
}

func TestInformationContent(t *testing.T) {
	c := NewCore(nil, nil)
	outs, tens, weights := buildSet(
		[5]float64{0.5, 1, 0.02, 0.8, 0.5},
		[5]float64{0.5, 1, 0.02, 0.8, 0.5},
	)
	res, err := c.Fuse(outs, tens, weights)
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}
	// Two systems at confidence 0.5 contribute 0.5 bits each.
	if math.Abs(res.InformationBits-1.0) > 1e-9 {
		t.Errorf("information = %v bits, want 1.0", res.InformationBits)
	}
}

func TestRaisingOneConfidenceNeverLowersFused(t *testing.T) {
	c := NewCore(nil, nil)

	for _, raised := range []float64{0.3, 0.5, 0.7, 0.9, 1.0} {
		baseOuts, baseTens, w := buildSet(
			[5]float64{0.3, 1, 0.02, 0.8, 0.6},
			[5]float64{0.6, -1, 0.03, 0.7, 0.4},
		)
		base, err := c.Fuse(baseOuts, baseTens, w)
		if err != nil {
			t.Fatalf("Fuse base: %v", err)
		}

		upOuts, upTens, _ := buildSet(
			[5]float64{raised, 1, 0.02, 0.8, 0.6},
			[5]float64{0.6, -1, 0.03, 0.7, 0.4},
		)
		up, err := c.Fuse(upOuts, upTens, w)
		if err != nil {
			t.Fatalf("Fuse raised: %v", err)
		}

		if up.Fused.Confidence < base.Fused.Confidence {
			t.Errorf("raising system a to %.2f dropped fused confidence %.4f -> %.4f",
				raised, base.Fused.Confidence, up.Fused.Confidence)
		}
	}
}

func TestFusedFieldsStayInRange(t *testing.T) {
	c := NewCore(nil, nil)
	outs, tens, weights := buildSet(
		[5]float64{1, 1, 1, 1, 0.9},
		[5]float64{1, 1, 1, 1, 0.1},
		[5]float64{0, -1, 0, 0, 0.0},
	)
	res, err := c.Fuse(outs, tens, weights)
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}
	f := res.Fused
	for name, v := range map[string]float64{
		"confidence":  f.Confidence,
		"reliability": f.Reliability,
		"magnitude":   f.Magnitude,
	} {
		if v < 0 || v > 1 || math.IsNaN(v) {
			t.Errorf("fused %s = %v out of [0,1]", name, v)
		}
	}
	if f.Direction < -1 || f.Direction > 1 || math.IsNaN(f.Direction) {
		t.Errorf("fused direction = %v out of [-1,1]", f.Direction)
	}
}

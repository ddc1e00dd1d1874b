package safenum

import (
	"math"
	"testing"
)

func TestSanitizePassesThroughInRangeValues(t *testing.T) {
	v := New(nil)

	cases := []struct {
		cat Category
		val float64
	}{
		{Confidence, 0.0},
		{Confidence, 0.73},
		{Confidence, 1.0},
		{Direction, -1.0},
		{Direction, 0.0},
		{Direction, 0.4},
		{Magnitude, 0.02},
		{Reliability, 0.9},
		{PositionSize, 0.25},
	}
	for _, tc := range cases {
		if got := v.Sanitize(tc.cat, "test", tc.val); got != tc.val {
			t.Errorf("Sanitize(%s, %v) = %v, want passthrough", tc.cat, tc.val, got)
		}
	}
}

func TestSanitizeReplacesNonFinite(t *testing.T) {
	v := New(nil)

	cases := []struct {
		cat  Category
		raw  float64
		want float64
	}{
		{Confidence, math.NaN(), 0.5},
		{Reliability, math.Inf(1), 0.5},
		{Direction, math.NaN(), 0},
		{Magnitude, math.Inf(-1), 0.001},
		{PositionSize, math.NaN(), 0.005},
	}
	for _, tc := range cases {
		got := v.Sanitize(tc.cat, "test", tc.raw)
		if got != tc.want {
			t.Errorf("Sanitize(%s, %v) = %v, want %v", tc.cat, tc.raw, got, tc.want)
		}
	}
}

func TestSanitizeReplacesOutOfRange(t *testing.T) {
	v := New(nil)

	// Strict form: out-of-range means an upstream computation misbehaved,
	// so the neutral default applies rather than a clamp.
	if got := v.Sanitize(Confidence, "test", 1.7); got != 0.5 {
		t.Errorf("Sanitize(confidence, 1.7) = %v, want 0.5", got)
	}
	if got := v.Sanitize(Direction, "test", -3); got != 0 {
		t.Errorf("Sanitize(direction, -3) = %v, want 0", got)
	}
}

func TestMagnitudeNeutralIsNonZero(t *testing.T) {
	v := New(nil)

	got := v.Sanitize(Magnitude, "test", math.NaN())
	if got <= 0 {
		t.Fatalf("magnitude neutral = %v, must stay above zero", got)
	}
}

func TestClampForcesIntoRange(t *testing.T) {
	v := New(nil)

	if got := v.Clamp(Confidence, "test", 1.2); got != 1.0 {
		t.Errorf("Clamp(confidence, 1.2) = %v, want 1.0", got)
	}
	if got := v.Clamp(Direction, "test", -2.5); got != -1.0 {
		t.Errorf("Clamp(direction, -2.5) = %v, want -1.0", got)
	}
	if got := v.Clamp(Magnitude, "test", 0.4); got != 0.4 {
		t.Errorf("Clamp(magnitude, 0.4) = %v, want passthrough", got)
	}
	if got := v.Clamp(Confidence, "test", math.NaN()); got != 0.5 {
		t.Errorf("Clamp(confidence, NaN) = %v, want neutral 0.5", got)
	}
}

func TestSanitizeIsIdempotent(t *testing.T) {
	v := New(nil)

	for _, cat := range []Category{Confidence, Reliability, Direction, Magnitude, PositionSize, Price, Generic} {
		for _, raw := range []float64{math.NaN(), math.Inf(1), -5, 0, 0.3, 2} {
			once := v.Sanitize(cat, "test", raw)
			twice := v.Sanitize(cat, "test", once)
			if once != twice {
				t.Errorf("Sanitize(%s) not idempotent: %v then %v", cat, once, twice)
			}
		}
	}
}

func TestReplaceHookFires(t *testing.T) {
	v := New(nil)
	var seen []string
	v.SetReplaceHook(func(category string) { seen = append(seen, category) })

	v.Sanitize(Confidence, "test", math.NaN())
	v.Sanitize(Confidence, "test", 0.5) // in range, no hook
	v.Clamp(Direction, "test", 4)

	if len(seen) != 2 {
		t.Fatalf("hook fired %d times, want 2 (%v)", len(seen), seen)
	}
	if seen[0] != "confidence" || seen[1] != "direction" {
		t.Errorf("hook categories = %v", seen)
	}
}

func TestFinite(t *testing.T) {
	if Finite(math.NaN()) || Finite(math.Inf(1)) || Finite(math.Inf(-1)) {
		t.Error("Finite accepted a non-finite value")
	}
	if !Finite(0) || !Finite(-1e9) {
		t.Error("Finite rejected a finite value")
	}
}

package easing_test

import (
	"math"
	"testing"

	"github.com/stagehand-live/stagehand/pkg/easing"
)

// epsilon for endpoint checks; expo/elastic are exact at 0 and 1 by
// construction but float math elsewhere deserves a little slack.
const eps = 1e-9

func TestEndpoints(t *testing.T) {
	t.Parallel()

	for _, name := range easing.Names() {
		fn := easing.ForName(name)
		if got := fn(0); math.Abs(got) > eps {
			t.Errorf("%s(0) = %g, want 0", name, got)
		}
		if got := fn(1); math.Abs(got-1) > eps {
			t.Errorf("%s(1) = %g, want 1", name, got)
		}
	}
}

func TestMonotoneCurvesAreMonotone(t *testing.T) {
	t.Parallel()

	// back/elastic/bounce overshoot or oscillate; the rest must be
	// non-decreasing over [0, 1].
	monotone := []string{
		"linear",
		"in_sine", "out_sine", "in_out_sine",
		"in_quad", "out_quad", "in_out_quad",
		"in_cubic", "out_cubic", "in_out_cubic",
		"in_quart", "out_quart", "in_out_quart",
		"in_quint", "out_quint", "in_out_quint",
		"in_expo", "out_expo", "in_out_expo",
		"in_circ", "out_circ", "in_out_circ",
	}
	for _, name := range monotone {
		fn := easing.ForName(name)
		prev := fn(0)
		for i := 1; i <= 100; i++ {
			v := fn(float64(i) / 100)
			if v < prev-eps {
				t.Errorf("%s not monotone at t=%g: %g < %g", name, float64(i)/100, v, prev)
				break
			}
			prev = v
		}
	}
}

func TestForName_UnknownFallsBackToLinear(t *testing.T) {
	t.Parallel()

	fn := easing.ForName("definitely_not_an_easing")
	for _, tt := range []float64{0, 0.25, 0.5, 0.75, 1} {
		if got := fn(tt); got != tt {
			t.Fatalf("fallback(%g) = %g, want identity", tt, got)
		}
	}
}

func TestForName_EmptyIsLinear(t *testing.T) {
	t.Parallel()

	if got := easing.ForName("")(0.3); got != 0.3 {
		t.Fatalf("ForName(\"\")(0.3) = %g, want 0.3", got)
	}
}

func TestInOutSine_Midpoint(t *testing.T) {
	t.Parallel()

	if got := easing.InOutSine(0.5); math.Abs(got-0.5) > eps {
		t.Fatalf("InOutSine(0.5) = %g, want 0.5", got)
	}
}

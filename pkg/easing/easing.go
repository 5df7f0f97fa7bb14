// Package easing provides the scalar easing functions used by the tween
// engine and a registry for resolving them by wire name.
//
// Every function maps a normalised progress value t ∈ [0, 1] to an eased
// progress value, with f(0) == 0 and f(1) == 1 (overshooting curves such as
// "back" and "elastic" may leave [0, 1] in between). The set is closed:
// linear plus in/out/in-out variants of sine, quad, cubic, quart, quint,
// expo, circ, back, elastic and bounce.
package easing

import "math"

// Func maps normalised progress t ∈ [0, 1] to eased progress.
type Func func(t float64) float64

// Linear is the identity easing.
func Linear(t float64) float64 { return t }

// ── sine ─────────────────────────────────────────────────────────────────────

func InSine(t float64) float64    { return 1 - math.Cos(t*math.Pi/2) }
func OutSine(t float64) float64   { return math.Sin(t * math.Pi / 2) }
func InOutSine(t float64) float64 { return -(math.Cos(math.Pi*t) - 1) / 2 }

// ── polynomial ───────────────────────────────────────────────────────────────

func InQuad(t float64) float64  { return t * t }
func OutQuad(t float64) float64 { return 1 - (1-t)*(1-t) }
func InOutQuad(t float64) float64 {
	if t < 0.5 {
		return 2 * t * t
	}
	return 1 - math.Pow(-2*t+2, 2)/2
}

func InCubic(t float64) float64  { return t * t * t }
func OutCubic(t float64) float64 { return 1 - math.Pow(1-t, 3) }
func InOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

func InQuart(t float64) float64  { return t * t * t * t }
func OutQuart(t float64) float64 { return 1 - math.Pow(1-t, 4) }
func InOutQuart(t float64) float64 {
	if t < 0.5 {
		return 8 * t * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 4)/2
}

func InQuint(t float64) float64  { return t * t * t * t * t }
func OutQuint(t float64) float64 { return 1 - math.Pow(1-t, 5) }
func InOutQuint(t float64) float64 {
	if t < 0.5 {
		return 16 * t * t * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 5)/2
}

// ── exponential ──────────────────────────────────────────────────────────────

func InExpo(t float64) float64 {
	if t == 0 {
		return 0
	}
	return math.Pow(2, 10*t-10)
}

func OutExpo(t float64) float64 {
	if t == 1 {
		return 1
	}
	return 1 - math.Pow(2, -10*t)
}

func InOutExpo(t float64) float64 {
	switch {
	case t == 0:
		return 0
	case t == 1:
		return 1
	case t < 0.5:
		return math.Pow(2, 20*t-10) / 2
	default:
		return (2 - math.Pow(2, -20*t+10)) / 2
	}
}

// ── circular ─────────────────────────────────────────────────────────────────

func InCirc(t float64) float64  { return 1 - math.Sqrt(1-t*t) }
func OutCirc(t float64) float64 { return math.Sqrt(1 - math.Pow(t-1, 2)) }
func InOutCirc(t float64) float64 {
	if t < 0.5 {
		return (1 - math.Sqrt(1-math.Pow(2*t, 2))) / 2
	}
	return (math.Sqrt(1-math.Pow(-2*t+2, 2)) + 1) / 2
}

// ── back ─────────────────────────────────────────────────────────────────────

const (
	backC1 = 1.70158
	backC2 = backC1 * 1.525
	backC3 = backC1 + 1
)

func InBack(t float64) float64 { return backC3*t*t*t - backC1*t*t }
func OutBack(t float64) float64 {
	return 1 + backC3*math.Pow(t-1, 3) + backC1*math.Pow(t-1, 2)
}
func InOutBack(t float64) float64 {
	if t < 0.5 {
		return (math.Pow(2*t, 2) * ((backC2+1)*2*t - backC2)) / 2
	}
	return (math.Pow(2*t-2, 2)*((backC2+1)*(2*t-2)+backC2) + 2) / 2
}

// ── elastic ──────────────────────────────────────────────────────────────────

const (
	elasticC4 = 2 * math.Pi / 3
	elasticC5 = 2 * math.Pi / 4.5
)

func InElastic(t float64) float64 {
	switch {
	case t == 0:
		return 0
	case t == 1:
		return 1
	default:
		return -math.Pow(2, 10*t-10) * math.Sin((t*10-10.75)*elasticC4)
	}
}

func OutElastic(t float64) float64 {
	switch {
	case t == 0:
		return 0
	case t == 1:
		return 1
	default:
		return math.Pow(2, -10*t)*math.Sin((t*10-0.75)*elasticC4) + 1
	}
}

func InOutElastic(t float64) float64 {
	switch {
	case t == 0:
		return 0
	case t == 1:
		return 1
	case t < 0.5:
		return -(math.Pow(2, 20*t-10) * math.Sin((20*t-11.125)*elasticC5)) / 2
	default:
		return math.Pow(2, -20*t+10)*math.Sin((20*t-11.125)*elasticC5)/2 + 1
	}
}

// ── bounce ───────────────────────────────────────────────────────────────────

func OutBounce(t float64) float64 {
	const n1, d1 = 7.5625, 2.75
	switch {
	case t < 1/d1:
		return n1 * t * t
	case t < 2/d1:
		t -= 1.5 / d1
		return n1*t*t + 0.75
	case t < 2.5/d1:
		t -= 2.25 / d1
		return n1*t*t + 0.9375
	default:
		t -= 2.625 / d1
		return n1*t*t + 0.984375
	}
}

func InBounce(t float64) float64 { return 1 - OutBounce(1-t) }
func InOutBounce(t float64) float64 {
	if t < 0.5 {
		return (1 - OutBounce(1-2*t)) / 2
	}
	return (1 + OutBounce(2*t-1)) / 2
}

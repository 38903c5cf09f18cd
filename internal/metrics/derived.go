package metrics

import "math"

// PctChange is (v2-v1)/v1*100, rounded to cents. A zero baseline yields nil
// (the "new spike" sentinel) unless the current value is also zero, in which
// case the change is 0. The result is never ±Inf or NaN.
func PctChange(v1, v2 float64) *float64 {
	if v1 == 0 {
		if v2 == 0 {
			z := 0.0
			return &z
		}
		return nil
	}
	p := round2((v2 - v1) / v1 * 100)
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return nil
	}
	return &p
}

// Share is part/total clamped to [0,1]; 0 when total is 0.
func Share(part, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return math.Min(1, math.Max(0, part/total))
}

func round2(f float64) float64 { return math.Round(f*100) / 100 }

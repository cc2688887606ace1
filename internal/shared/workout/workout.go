package workout

import "math"

const (
	// WheelCircumferenceM is the distance covered per wheel tick.
	WheelCircumferenceM = 1.1
	// MET is the metabolic equivalent used for stationary cycling.
	MET = 6.8
	// DefaultWeightKg is assumed when a user has no recorded weight.
	DefaultWeightKg = 60.0
)

type Metrics struct {
	Distance float64
	Calories float64
	AvgSpeed float64
}

// Compute derives workout metrics from raw tick and duration data.
// The speed formula divides the tick-derived distance by the raw
// millisecond duration and scales by 1000*3.6, matching the display
// firmware contract; its unit is km/h only if a tick really is 1.1 m.
// A zero (or negative, under clock skew) duration yields 0.0 speed and
// 0.0 calories. All values are rounded to one decimal place.
func Compute(tickCount int, durationMs int64, weightKg, calorieMultiplier float64) Metrics {
	if durationMs < 0 {
		durationMs = 0
	}
	if weightKg <= 0 {
		weightKg = DefaultWeightKg
	}

	distance := float64(tickCount) * WheelCircumferenceM
	hours := float64(durationMs) / (1000 * 60 * 60)
	calories := MET * weightKg * hours * calorieMultiplier

	speed := 0.0
	if durationMs > 0 {
		speed = distance / float64(durationMs) * 1000 * 3.6
	}

	return Metrics{
		Distance: round1(distance),
		Calories: round1(calories),
		AvgSpeed: round1(speed),
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

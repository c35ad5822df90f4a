// Package util provides common utility functions for price calculations.
package util

import "math"

// RoundToTick rounds x to the nearest multiple of tick, with ties rounding
// away from zero: RoundToTick(1.2345, 0.05) is 1.25 and
// RoundToTick(-1.2345, 0.05) is -1.25. Exchanges reject option prices that
// are not aligned to the contract's tick, so every derived limit and stop
// price goes through here before it is attached to an order.
func RoundToTick(x, tick float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	tick = math.Abs(tick)
	if tick == 0 {
		return x
	}
	return math.Round(x/tick) * tick
}

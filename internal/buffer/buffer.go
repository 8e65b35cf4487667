// Package buffer computes the grow/shrink watermarks the lifecycle
// controller's sizing loops target. It is pure arithmetic with no I/O, the
// one piece of the controller deliberately left on the standard library:
// there is no ecosystem concern (storage, transport, parsing) here for a
// third-party dependency to take over.
package buffer

import "math"

// Window is a UTC hour interval, inclusive, with wraparound allowed
// (e.g. {22, 4} spans 22:00 through 04:00).
type Window struct {
	Start int
	End   int
}

// in24 reports whether hour falls in the inclusive 24-hour interval
// [w.Start, w.End], wrapping around midnight when End < Start.
func (w Window) in24(hour int) bool {
	a, b, x := w.Start, w.End, hour
	return mod(x-a, 24) <= mod(b-a, 24)
}

func mod(n, m int) int {
	r := n % m
	if r < 0 {
		r += m
	}
	return r
}

// Watermarks returns the (low, high) VM counts the grow and shrink loops
// target, given the pool's limitSize, the current UTC hour, and optional
// ramp windows. Ramp-down takes precedence when both windows contain hour.
func Watermarks(limitSize int, hour int, rampDown, rampUp []Window, hasRampDown, hasRampUp bool) (low, high int) {
	base := float64(limitSize) * 0.05

	switch {
	case hasRampDown && inAny(rampDown, hour):
		base /= 2
	case hasRampUp && inAny(rampUp, hour):
		base *= 1.5
	}

	low = int(math.Ceil(base))
	high = int(math.Ceil(base * 1.5))
	return low, high
}

func inAny(windows []Window, hour int) bool {
	for _, w := range windows {
		if w.in24(hour) {
			return true
		}
	}
	return false
}

package attendance

import "math"

// DefaultFPSFallback is used when video source reports no usable frame rate
const DefaultFPSFallback = 25.0

// Timebase converts frame counters to video-relative (domain) time.
// The frame rate is chosen once on creation and never re-evaluated.
type Timebase struct {
	fps         float64
	substituted bool
}

// NewTimebase creates Timebase for the given frame rate.
// Rates which are NaN, infinite or not greater than 1 are replaced by fallback.
// Non-positive fallback is replaced by DefaultFPSFallback.
func NewTimebase(fps, fallback float64) Timebase {
	if fallback <= 0 || math.IsNaN(fallback) || math.IsInf(fallback, 0) {
		fallback = DefaultFPSFallback
	}
	if math.IsNaN(fps) || math.IsInf(fps, 0) || fps <= 1 {
		return Timebase{fps: fallback, substituted: true}
	}
	return Timebase{fps: fps}
}

// FPS returns frame rate in use
func (tb Timebase) FPS() float64 {
	return tb.fps
}

// Substituted reports whether fallback frame rate is in use
func (tb Timebase) Substituted() bool {
	return tb.substituted
}

// Time returns domain time of the frame with given 1-based counter
func (tb Timebase) Time(frame int) float64 {
	return float64(frame) / tb.fps
}

package attendance

import "sort"

// DefaultWindowSeconds is duration of a single aggregation window
const DefaultWindowSeconds = 600.0

// Aggregator accumulates distinct present identities into domain-time windows.
// A window starts at 0 and every flush starts the next one at the flush time.
type Aggregator struct {
	windowSeconds float64
	windowStart   float64
	present       map[int]struct{}
	finalized     bool
}

// NewAggregator creates Aggregator. Non-positive duration is replaced by DefaultWindowSeconds.
func NewAggregator(windowSeconds float64) *Aggregator {
	if !(windowSeconds > 0) {
		windowSeconds = DefaultWindowSeconds
	}
	return &Aggregator{
		windowSeconds: windowSeconds,
		present:       make(map[int]struct{}),
	}
}

// WindowStart returns domain time at which the in-progress window started
func (agg *Aggregator) WindowStart() float64 {
	return agg.windowStart
}

// Pending returns identities observed in the in-progress window, ascending
func (agg *Aggregator) Pending() []int {
	ids := make([]int, 0, len(agg.present))
	for id := range agg.present {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Observe adds identities present at domain time t.
// When t is at least windowSeconds past the window start the window is flushed
// (even if nobody was present) and a new one starts at t.
// After Finalize it does nothing.
func (agg *Aggregator) Observe(t float64, present []int) (FlushEvent, bool) {
	if agg.finalized {
		return FlushEvent{}, false
	}
	for _, id := range present {
		agg.present[id] = struct{}{}
	}
	if t-agg.windowStart < agg.windowSeconds {
		return FlushEvent{}, false
	}
	return agg.flush(t, false), true
}

// Finalize closes the stream at domain time t. It emits the trailing partial window
// when it holds any identity or any time elapsed since the last flush.
// Only the first call has effect.
func (agg *Aggregator) Finalize(t float64) (FlushEvent, bool) {
	if agg.finalized {
		return FlushEvent{}, false
	}
	agg.finalized = true
	if len(agg.present) == 0 && !(t > agg.windowStart) {
		return FlushEvent{}, false
	}
	return agg.flush(t, true), true
}

func (agg *Aggregator) flush(t float64, final bool) FlushEvent {
	ev := FlushEvent{
		Start: agg.windowStart,
		End:   t,
		IDs:   agg.Pending(),
		Final: final,
	}
	agg.windowStart = t
	agg.present = make(map[int]struct{})
	return ev
}

package mot

import (
	"time"
)

const (
	// DefaultIoUThreshold is minimum overlap to accept a match
	DefaultIoUThreshold = 0.3
	// DefaultMaxMissed is number of consecutive missed frames tolerated before eviction
	DefaultMaxMissed = 30
)

// IoUTracker is a greedy Multi-object tracker (MOT) with IoU matching.
//
// Tracks are kept in insertion order (oldest first). On every frame each live track,
// in that order, takes the unassigned detection with the highest IoU against its last known box.
// Ties are resolved in favour of the detection with the lowest index, so the same input
// always produces the same assignment.
type IoUTracker struct {
	// Max no match (max number of consecutive frames when object could not be found again)
	maxMissed int
	// IoU threshold for matching
	iouThreshold float64
	// Live tracks in insertion order
	tracks []Track
	// Identifier for the next created track
	nextID int
	// Source of LastUpdate values
	clock func() time.Time
}

// NewDefaultIoUTracker creates a default instance of IoUTracker.
// Default values: maxMissed=30, iouThreshold=0.3
func NewDefaultIoUTracker() *IoUTracker {
	return NewIoUTracker(DefaultMaxMissed, DefaultIoUThreshold)
}

// NewIoUTracker creates a new instance of IoUTracker with specified parameters.
func NewIoUTracker(maxMissed int, iouThreshold float64) *IoUTracker {
	return &IoUTracker{
		maxMissed:    maxMissed,
		iouThreshold: iouThreshold,
		tracks:       make([]Track, 0),
		nextID:       1,
		clock:        time.Now,
	}
}

// SetClock replaces the time source used for Track.LastUpdate
func (tracker *IoUTracker) SetClock(clock func() time.Time) {
	tracker.clock = clock
}

// Len returns number of live tracks
func (tracker *IoUTracker) Len() int {
	return len(tracker.tracks)
}

// Created returns number of tracks created so far (including evicted ones)
func (tracker *IoUTracker) Created() int {
	return tracker.nextID - 1
}

// Tracks returns a copy of live tracks in insertion order
func (tracker *IoUTracker) Tracks() []Track {
	out := make([]Track, len(tracker.tracks))
	copy(out, tracker.tracks)
	return out
}

// Update matches detections of a single frame to live tracks and returns snapshot of live tracks.
// Tracks that missed this frame but are still live are returned too; use Track.Present
// (or PresentIDs) to distinguish them.
func (tracker *IoUTracker) Update(detections []Rectangle) []Track {
	now := tracker.clock()
	assigned := make([]bool, len(detections))

	for i := range tracker.tracks {
		track := &tracker.tracks[i]
		bestIoU, bestIdx := 0.0, -1
		for j, detection := range detections {
			if assigned[j] {
				continue
			}
			// Strict comparison keeps the lowest index on ties
			if iou := IoU(track.Box, detection); iou > bestIoU {
				bestIoU, bestIdx = iou, j
			}
		}
		if bestIdx != -1 && bestIoU >= tracker.iouThreshold {
			track.Box = detections[bestIdx]
			track.Missed = 0
			track.LastUpdate = now
			assigned[bestIdx] = true
		} else {
			track.Missed++
		}
	}

	// Register unmatched detections as new objects
	for j, detection := range detections {
		if assigned[j] {
			continue
		}
		tracker.tracks = append(tracker.tracks, Track{
			ID:         tracker.nextID,
			Box:        detection,
			Missed:     0,
			LastUpdate: now,
		})
		tracker.nextID++
	}

	// Clean up existing data - remove objects not found for a long time
	live := tracker.tracks[:0]
	for _, track := range tracker.tracks {
		if track.Missed <= tracker.maxMissed {
			live = append(live, track)
		}
	}
	// Zero the tail of the backing array
	for i := len(live); i < len(tracker.tracks); i++ {
		tracker.tracks[i] = Track{}
	}
	tracker.tracks = live

	return tracker.Tracks()
}

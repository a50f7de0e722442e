package mot

import "time"

// Track is a persistent identity matched across frames.
type Track struct {
	// Identifier assigned on creation. Never changes and never reused by tracker
	ID int
	// Most recently matched bounding box (or the creation one)
	Box Rectangle
	// Number of consecutive frames without a match. Reset to zero on every match
	Missed int
	// Time of the last match. Informational only
	LastUpdate time.Time
}

// Present reports whether track has been matched (or created) on the latest frame
func (track Track) Present() bool {
	return track.Missed == 0
}

// PresentIDs returns identifiers of tracks which were matched on the latest frame.
// Order of input is preserved.
func PresentIDs(tracks []Track) []int {
	ids := make([]int, 0, len(tracks))
	for _, track := range tracks {
		if track.Present() {
			ids = append(ids, track.ID)
		}
	}
	return ids
}

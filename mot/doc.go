// Package mot implements greedy IoU-based multi-object tracking.
//
// IoUTracker assigns integer identities to per-frame detections by matching them
// against the last known box of every live track. Identities grow monotonically and
// are never reused: an object which disappears for longer than the miss budget
// gets a new identity when it shows up again.
package mot

// Package attendance turns per-frame detections into windowed presence records.
//
// Processor drives a single run: frames are read one by one, detected, tracked with
// mot.IoUTracker and the identities matched on each frame are accumulated by Aggregator.
// Windows are measured in video time (frame counter over frame rate, see Timebase), never
// in wall-clock time, so results do not depend on processing speed. Calendar labels are
// produced by Labeler on the sink side.
package attendance

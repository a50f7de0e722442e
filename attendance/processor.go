package attendance

import (
	"context"

	"github.com/LdDl/attendance-go/mot"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	// ErrSourceOpen is returned when video source can't be opened. Nothing is processed in that case.
	ErrSourceOpen = errors.New("Can't open video source")
)

// sourceOpenError matches ErrSourceOpen while keeping the underlying cause in the chain
type sourceOpenError struct {
	cause error
}

// NewSourceOpenError marks cause as a failure to open video source. Errors already matching ErrSourceOpen are returned as is.
func NewSourceOpenError(cause error) error {
	if cause == nil || errors.Is(cause, ErrSourceOpen) {
		return cause
	}
	return &sourceOpenError{cause: cause}
}

func (e *sourceOpenError) Error() string {
	return ErrSourceOpen.Error() + ": " + e.cause.Error()
}

func (e *sourceOpenError) Unwrap() error {
	return e.cause
}

func (e *sourceOpenError) Is(target error) bool {
	return target == ErrSourceOpen
}

// Detector produces unlabeled bounding boxes for a single frame
type Detector[F any] interface {
	Detect(frame F) ([]mot.Rectangle, error)
}

// DetectorFunc adapts plain function to Detector
type DetectorFunc[F any] func(frame F) ([]mot.Rectangle, error)

// Detect calls f(frame)
func (f DetectorFunc[F]) Detect(frame F) ([]mot.Rectangle, error) {
	return f(frame)
}

// FrameSource yields frames in order. Read returns false when the stream is over.
// A frame returned by Read is only valid until the next call.
type FrameSource[F any] interface {
	Read() (F, bool, error)
	// FPS is the frame rate reported by source. Zero or negative when unknown.
	FPS() float64
	Close() error
}

// Opener opens frame source for a single run
type Opener[F any] func() (FrameSource[F], error)

// FrameSink receives every processed frame along with live tracks (e.g. to draw overlays and encode video)
type FrameSink[F any] interface {
	WriteFrame(frame F, tracks []mot.Track) error
	Close() error
}

// EventSink persists flushed windows
type EventSink interface {
	WriteWindow(ev FlushEvent) error
	Close() error
}

// Options configures Processor
type Options struct {
	// Duration of each window in domain-time seconds
	WindowSeconds float64
	// Minimum IoU to accept a match
	IoUThreshold float64
	// Consecutive missed frames tolerated before eviction
	MaxMissed int
	// Frame rate used when source reports no usable one
	FPSFallback float64
	Logger      logrus.FieldLogger
}

// DefaultOptions returns default Options
func DefaultOptions() Options {
	return Options{
		WindowSeconds: DefaultWindowSeconds,
		IoUThreshold:  mot.DefaultIoUThreshold,
		MaxMissed:     mot.DefaultMaxMissed,
		FPSFallback:   DefaultFPSFallback,
		Logger:        logrus.StandardLogger(),
	}
}

// Summary describes finished run
type Summary struct {
	// Number of frames read from source
	TotalFrames int
	// Frame rate used for domain time
	FPS float64
	// Whether FPS is the fallback one
	FPSSubstituted bool
	// Domain time of the last processed frame
	Duration float64
	// Number of flushed windows (including terminal one)
	Windows int
	// Number of identities created by tracker
	Identities int
}

// Processor runs detection, tracking and windowed aggregation over a frame stream
type Processor[F any] struct {
	detector Detector[F]
	events   EventSink
	frames   FrameSink[F]
	opts     Options
	log      logrus.FieldLogger
}

// NewProcessor creates Processor. Event sink is required, frame sink is optional (see SetFrameSink).
func NewProcessor[F any](detector Detector[F], events EventSink, opts Options) *Processor[F] {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Processor[F]{
		detector: detector,
		events:   events,
		opts:     opts,
		log:      opts.Logger,
	}
}

// SetFrameSink sets optional sink for processed frames
func (p *Processor[F]) SetFrameSink(sink FrameSink[F]) {
	p.frames = sink
}

// Run processes the whole stream provided by open.
//
// Sinks (and the source, once opened) are closed on every exit path. If reading or detection
// fails midway, the in-progress window is still flushed before the error is returned.
func (p *Processor[F]) Run(ctx context.Context, open Opener[F]) (summary Summary, err error) {
	defer func() {
		if cerr := p.closeSinks(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	source, err := open()
	if err != nil {
		return summary, NewSourceOpenError(err)
	}
	defer func() {
		if cerr := source.Close(); cerr != nil {
			if err == nil {
				err = errors.Wrap(cerr, "Can't close video source")
			} else {
				p.log.WithError(cerr).Warn("can't close video source")
			}
		}
	}()

	timebase := NewTimebase(source.FPS(), p.opts.FPSFallback)
	if timebase.Substituted() {
		p.log.WithFields(logrus.Fields{
			"reported_fps": source.FPS(),
			"fps":          timebase.FPS(),
		}).Warn("unreliable frame rate, using fallback")
	}
	summary.FPS = timebase.FPS()
	summary.FPSSubstituted = timebase.Substituted()

	tracker := mot.NewIoUTracker(p.opts.MaxMissed, p.opts.IoUThreshold)
	aggregator := NewAggregator(p.opts.WindowSeconds)

	runErr := p.loop(ctx, source, timebase, tracker, aggregator, &summary)

	// Best-effort flush of the trailing window
	if ev, ok := aggregator.Finalize(summary.Duration); ok {
		if ferr := p.emit(ev); ferr != nil {
			if runErr == nil {
				runErr = ferr
			} else {
				p.log.WithError(ferr).Warn("can't flush final window")
			}
		} else {
			summary.Windows++
		}
	}
	summary.Identities = tracker.Created()

	p.log.WithFields(logrus.Fields{
		"frames":     summary.TotalFrames,
		"duration":   summary.Duration,
		"windows":    summary.Windows,
		"identities": summary.Identities,
	}).Info("run finished")

	return summary, runErr
}

func (p *Processor[F]) loop(ctx context.Context, source FrameSource[F], timebase Timebase, tracker *mot.IoUTracker, aggregator *Aggregator, summary *Summary) error {
	for {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "Processing interrupted")
		}
		frame, ok, err := source.Read()
		if err != nil {
			return errors.Wrapf(err, "Can't read frame %d", summary.TotalFrames+1)
		}
		if !ok {
			return nil
		}
		summary.TotalFrames++
		t := timebase.Time(summary.TotalFrames)

		detections, err := p.detector.Detect(frame)
		if err != nil {
			return errors.Wrapf(err, "Can't detect objects on frame %d", summary.TotalFrames)
		}
		// Domain time is only advanced for fully processed frames
		summary.Duration = t

		tracks := tracker.Update(detections)
		// Identities are recorded before the frame sink may fail on this frame
		if ev, flushed := aggregator.Observe(t, mot.PresentIDs(tracks)); flushed {
			if err := p.emit(ev); err != nil {
				return err
			}
			summary.Windows++
		}

		if p.frames != nil {
			if err := p.frames.WriteFrame(frame, tracks); err != nil {
				return errors.Wrapf(err, "Can't write frame %d", summary.TotalFrames)
			}
		}
	}
}

func (p *Processor[F]) emit(ev FlushEvent) error {
	p.log.WithFields(logrus.Fields{
		"window_start": ev.Start,
		"window_end":   ev.End,
		"identities":   len(ev.IDs),
		"final":        ev.Final,
	}).Info("attendance window flushed")
	if err := p.events.WriteWindow(ev); err != nil {
		return errors.Wrapf(err, "Can't write window [%.2f, %.2f]", ev.Start, ev.End)
	}
	return nil
}

func (p *Processor[F]) closeSinks() error {
	var first error
	if p.frames != nil {
		if err := p.frames.Close(); err != nil {
			first = errors.Wrap(err, "Can't close frame sink")
		}
	}
	if err := p.events.Close(); err != nil {
		err = errors.Wrap(err, "Can't close event sink")
		if first == nil {
			first = err
		} else {
			p.log.WithError(err).Warn("can't close event sink")
		}
	}
	return first
}

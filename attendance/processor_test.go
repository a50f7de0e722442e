package attendance

import (
	"context"
	"os"
	"testing"

	"github.com/LdDl/attendance-go/mot"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Frames are detections themselves, so detector is identity
type frame = []mot.Rectangle

var passthrough = DetectorFunc[frame](func(f frame) ([]mot.Rectangle, error) {
	return f, nil
})

type sliceSource struct {
	frames []frame
	fps    float64
	pos    int
	// Read fails when pos reaches failAt (1-based), zero disables
	failAt int
	closed bool
}

func (s *sliceSource) Read() (frame, bool, error) {
	if s.failAt > 0 && s.pos+1 == s.failAt {
		return nil, false, errors.New("broken stream")
	}
	if s.pos >= len(s.frames) {
		return nil, false, nil
	}
	f := s.frames[s.pos]
	s.pos++
	return f, true, nil
}

func (s *sliceSource) FPS() float64 { return s.fps }

func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

type memoryEvents struct {
	events []FlushEvent
	closed bool
	err    error
}

func (m *memoryEvents) WriteWindow(ev FlushEvent) error {
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, ev)
	return nil
}

func (m *memoryEvents) Close() error {
	m.closed = true
	return nil
}

type memoryFrames struct {
	present [][]int
	closed  bool
	// WriteFrame fails on this frame (1-based), zero disables
	failAt int
}

func (m *memoryFrames) WriteFrame(f frame, tracks []mot.Track) error {
	if m.failAt > 0 && len(m.present)+1 == m.failAt {
		return errors.New("encoder failed")
	}
	ids := make([]int, 0, len(tracks))
	for _, track := range tracks {
		ids = append(ids, track.ID)
	}
	m.present = append(m.present, ids)
	return nil
}

func (m *memoryFrames) Close() error {
	m.closed = true
	return nil
}

func testOptions() Options {
	logger, _ := test.NewNullLogger()
	opts := DefaultOptions()
	opts.Logger = logger
	return opts
}

func openSlice(src *sliceSource) Opener[frame] {
	return func() (FrameSource[frame], error) {
		return src, nil
	}
}

func TestProcessorThreeFrames(t *testing.T) {
	src := &sliceSource{
		fps: 25,
		frames: []frame{
			{mot.NewRect(0, 0, 10, 10)},
			{mot.NewRect(1, 0, 10, 10)},
			{mot.NewRect(40, 40, 10, 10)},
		},
	}
	events := &memoryEvents{}
	frames := &memoryFrames{}
	p := NewProcessor[frame](passthrough, events, testOptions())
	p.SetFrameSink(frames)

	summary, err := p.Run(context.Background(), openSlice(src))
	require.NoError(t, err)

	assert.Equal(t, [][]int{{1}, {1}, {1, 2}}, frames.present)
	require.Len(t, events.events, 1)
	ev := events.events[0]
	assert.Equal(t, 0.0, ev.Start)
	assert.InDelta(t, 0.12, ev.End, 1e-9)
	assert.Equal(t, []int{1, 2}, ev.IDs)
	assert.True(t, ev.Final)

	assert.Equal(t, 3, summary.TotalFrames)
	assert.Equal(t, 2, summary.Identities)
	assert.Equal(t, 1, summary.Windows)
	assert.Equal(t, 25.0, summary.FPS)
	assert.False(t, summary.FPSSubstituted)

	assert.True(t, src.closed)
	assert.True(t, events.closed)
	assert.True(t, frames.closed)
}

func TestProcessorOnlyMatchedTracksArePresent(t *testing.T) {
	opts := testOptions()
	opts.WindowSeconds = 1
	src := &sliceSource{fps: 2}
	// Window 1: object 1 seen once, then only missed
	src.frames = append(src.frames, frame{mot.NewRect(0, 0, 10, 10)}, frame{})
	// Window 2: object 1 still live but never matched
	src.frames = append(src.frames, frame{}, frame{})
	events := &memoryEvents{}

	_, err := NewProcessor[frame](passthrough, events, opts).Run(context.Background(), openSlice(src))
	require.NoError(t, err)

	require.Len(t, events.events, 2)
	assert.Equal(t, []int{1}, events.events[0].IDs)
	assert.Empty(t, events.events[1].IDs)
	assert.Equal(t, 1.0, events.events[1].Start)
	assert.Equal(t, 2.0, events.events[1].End)
}

func TestProcessorEmptyWindowsAreFlushed(t *testing.T) {
	opts := testOptions()
	opts.WindowSeconds = 1
	src := &sliceSource{fps: 25, frames: make([]frame, 50)}
	events := &memoryEvents{}

	summary, err := NewProcessor[frame](passthrough, events, opts).Run(context.Background(), openSlice(src))
	require.NoError(t, err)

	want := []FlushEvent{
		{Start: 0, End: 1, IDs: []int{}},
		{Start: 1, End: 2, IDs: []int{}},
	}
	if diff := cmp.Diff(want, events.events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 2, summary.Windows)
}

func TestProcessorFPSFallback(t *testing.T) {
	logger, hook := test.NewNullLogger()
	opts := DefaultOptions()
	opts.Logger = logger
	src := &sliceSource{fps: 0, frames: []frame{{mot.NewRect(0, 0, 10, 10)}}}
	events := &memoryEvents{}

	summary, err := NewProcessor[frame](passthrough, events, opts).Run(context.Background(), openSlice(src))
	require.NoError(t, err)
	assert.Equal(t, DefaultFPSFallback, summary.FPS)
	assert.True(t, summary.FPSSubstituted)
	require.Len(t, events.events, 1)
	assert.InDelta(t, 1.0/DefaultFPSFallback, events.events[0].End, 1e-12)

	var warned bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel {
			warned = true
		}
	}
	assert.True(t, warned, "fallback frame rate should be logged")
}

func TestProcessorOpenFailure(t *testing.T) {
	events := &memoryEvents{}
	frames := &memoryFrames{}
	p := NewProcessor[frame](passthrough, events, testOptions())
	p.SetFrameSink(frames)

	_, err := p.Run(context.Background(), func() (FrameSource[frame], error) {
		return nil, errors.New("no such file")
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSourceOpen))
	assert.Empty(t, events.events)
	assert.True(t, events.closed)
	assert.True(t, frames.closed)
}

func TestProcessorOpenFailureKeepsCause(t *testing.T) {
	events := &memoryEvents{}
	p := NewProcessor[frame](passthrough, events, testOptions())

	_, err := p.Run(context.Background(), func() (FrameSource[frame], error) {
		return nil, errors.Wrap(os.ErrNotExist, "lecture.mp4")
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSourceOpen))
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.Contains(t, err.Error(), "lecture.mp4")
}

func TestNewSourceOpenError(t *testing.T) {
	assert.Nil(t, NewSourceOpenError(nil))
	wrapped := errors.Wrap(ErrSourceOpen, "camera 0")
	assert.Equal(t, wrapped, NewSourceOpenError(wrapped))
	err := NewSourceOpenError(errors.New("device busy"))
	assert.True(t, errors.Is(err, ErrSourceOpen))
	assert.Equal(t, "Can't open video source: device busy", err.Error())
}

func TestProcessorFrameSinkFailureKeepsIdentities(t *testing.T) {
	src := &sliceSource{
		fps: 25,
		frames: []frame{
			{mot.NewRect(0, 0, 10, 10)},
			{mot.NewRect(0, 0, 10, 10), mot.NewRect(100, 100, 10, 10)},
			{mot.NewRect(0, 0, 10, 10)},
		},
	}
	events := &memoryEvents{}
	frames := &memoryFrames{failAt: 2}
	p := NewProcessor[frame](passthrough, events, testOptions())
	p.SetFrameSink(frames)

	summary, err := p.Run(context.Background(), openSlice(src))
	require.Error(t, err)
	assert.Equal(t, "encoder failed", errors.Cause(err).Error())

	require.Len(t, events.events, 1)
	assert.Equal(t, []int{1, 2}, events.events[0].IDs)
	assert.InDelta(t, 0.08, events.events[0].End, 1e-9)
	assert.True(t, events.events[0].Final)
	assert.Equal(t, 2, summary.TotalFrames)
	assert.True(t, src.closed)
	assert.True(t, frames.closed)
}

func TestProcessorReadFailureFlushesPartialWindow(t *testing.T) {
	src := &sliceSource{
		fps: 25,
		frames: []frame{
			{mot.NewRect(0, 0, 10, 10)},
			{mot.NewRect(0, 0, 10, 10), mot.NewRect(100, 100, 10, 10)},
			{mot.NewRect(0, 0, 10, 10)},
		},
		failAt: 3,
	}
	events := &memoryEvents{}

	summary, err := NewProcessor[frame](passthrough, events, testOptions()).Run(context.Background(), openSlice(src))
	require.Error(t, err)
	assert.Equal(t, "broken stream", errors.Cause(err).Error())

	require.Len(t, events.events, 1)
	assert.Equal(t, []int{1, 2}, events.events[0].IDs)
	assert.InDelta(t, 0.08, events.events[0].End, 1e-9)
	assert.True(t, events.events[0].Final)
	assert.Equal(t, 2, summary.TotalFrames)
	assert.True(t, src.closed)
	assert.True(t, events.closed)
}

func TestProcessorDetectorFailure(t *testing.T) {
	src := &sliceSource{fps: 25, frames: []frame{{mot.NewRect(0, 0, 10, 10)}, {}}}
	calls := 0
	detector := DetectorFunc[frame](func(f frame) ([]mot.Rectangle, error) {
		calls++
		if calls == 2 {
			return nil, errors.New("inference failed")
		}
		return f, nil
	})
	events := &memoryEvents{}

	_, err := NewProcessor[frame](detector, events, testOptions()).Run(context.Background(), openSlice(src))
	require.Error(t, err)
	assert.Equal(t, "inference failed", errors.Cause(err).Error())
	require.Len(t, events.events, 1)
	assert.Equal(t, []int{1}, events.events[0].IDs)
	assert.InDelta(t, 0.04, events.events[0].End, 1e-9)
	assert.True(t, src.closed)
}

func TestProcessorCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &sliceSource{fps: 25, frames: []frame{{mot.NewRect(0, 0, 10, 10)}}}
	events := &memoryEvents{}

	summary, err := NewProcessor[frame](passthrough, events, testOptions()).Run(ctx, openSlice(src))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, summary.TotalFrames)
	assert.Empty(t, events.events)
	assert.True(t, src.closed)
}

func TestProcessorSinkFailure(t *testing.T) {
	opts := testOptions()
	opts.WindowSeconds = 0.04
	src := &sliceSource{fps: 25, frames: []frame{{mot.NewRect(0, 0, 10, 10)}, {}}}
	events := &memoryEvents{err: errors.New("disk full")}

	_, err := NewProcessor[frame](passthrough, events, opts).Run(context.Background(), openSlice(src))
	require.Error(t, err)
	assert.Equal(t, "disk full", errors.Cause(err).Error())
	assert.True(t, src.closed)
	assert.True(t, events.closed)
}

func TestProcessorDeterministic(t *testing.T) {
	frames := []frame{
		{mot.NewRect(0, 0, 50, 50), mot.NewRect(200, 0, 50, 50)},
		{mot.NewRect(3, 0, 50, 50), mot.NewRect(205, 2, 50, 50)},
		{mot.NewRect(6, 0, 50, 50)},
		{},
		{mot.NewRect(400, 400, 50, 50), mot.NewRect(9, 0, 50, 50)},
		{mot.NewRect(208, 4, 50, 50)},
	}
	run := func() []FlushEvent {
		opts := testOptions()
		opts.WindowSeconds = 0.1
		opts.MaxMissed = 1
		events := &memoryEvents{}
		src := &sliceSource{fps: 25, frames: frames}
		_, err := NewProcessor[frame](passthrough, events, opts).Run(context.Background(), openSlice(src))
		require.NoError(t, err)
		return events.events
	}
	first := run()
	if diff := cmp.Diff(first, run()); diff != "" {
		t.Errorf("runs differ (-first +second):\n%s", diff)
	}
	require.NotEmpty(t, first)
}

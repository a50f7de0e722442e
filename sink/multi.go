package sink

import (
	"github.com/LdDl/attendance-go/attendance"
	"github.com/pkg/errors"
)

// Multi fans every window out to several sinks. A failing sink does not stop the others;
// the first error is returned.
type Multi []attendance.EventSink

func (m Multi) WriteWindow(ev attendance.FlushEvent) error {
	var first error
	for i, s := range m {
		if err := s.WriteWindow(ev); err != nil && first == nil {
			first = errors.Wrapf(err, "Sink %d", i)
		}
	}
	return first
}

func (m Multi) Close() error {
	var first error
	for i, s := range m {
		if err := s.Close(); err != nil && first == nil {
			first = errors.Wrapf(err, "Sink %d", i)
		}
	}
	return first
}

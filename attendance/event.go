package attendance

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

const (
	// DefaultLabelLayout is calendar format used for window labels
	DefaultLabelLayout = "2006-01-02 15:04:05"
	// DefaultNamePrefix is prepended to track identifiers to build identity names
	DefaultNamePrefix = "Student_"
	// StatusPresent is the only status written to attendance logs
	StatusPresent = "Present"
)

// FlushEvent summarizes one completed (or terminal partial) window.
// Start and End are domain-time offsets in seconds.
type FlushEvent struct {
	Start float64
	End   float64
	// Distinct identities observed in window, ascending
	IDs []int
	// Set for the event emitted on stream end
	Final bool
}

// Empty reports whether nobody was present in window
func (ev FlushEvent) Empty() bool {
	return len(ev.IDs) == 0
}

// Row is a single attendance log record
type Row struct {
	Window string
	Name   string
	Status string
}

// Header is the column set of attendance logs
var Header = []string{"Window", "Name", "Status"}

// Strings returns row as CSV-ready record
func (row Row) Strings() []string {
	return []string{row.Window, row.Name, row.Status}
}

// Labeler maps domain offsets onto calendar time: base + offset.
// A batch run anchors Base once at run start, so the log spans the duration of
// the video rather than the wall-clock duration of processing.
type Labeler struct {
	Base     time.Time
	Layout   string
	Location *time.Location
}

// NewLabeler returns Labeler with DefaultLabelLayout in local time zone
func NewLabeler(base time.Time) Labeler {
	return Labeler{
		Base:     base,
		Layout:   DefaultLabelLayout,
		Location: time.Local,
	}
}

// Time returns calendar time for the given domain offset
func (l Labeler) Time(offset float64) time.Time {
	ts := l.Base.Add(time.Duration(math.Round(offset * float64(time.Second))))
	if l.Location != nil {
		ts = ts.In(l.Location)
	}
	return ts
}

// Label formats calendar time for the given domain offset
func (l Labeler) Label(offset float64) string {
	layout := l.Layout
	if layout == "" {
		layout = DefaultLabelLayout
	}
	return l.Time(offset).Format(layout)
}

// Window formats "{start} - {end}" label of the event
func (l Labeler) Window(ev FlushEvent) string {
	return fmt.Sprintf("%s - %s", l.Label(ev.Start), l.Label(ev.End))
}

// IdentityName builds identity name from track identifier
func IdentityName(prefix string, id int) string {
	return prefix + strconv.Itoa(id)
}

// Rows converts event into attendance log rows, one per present identity.
// Empty event gives no rows.
func Rows(ev FlushEvent, labeler Labeler, namePrefix string) []Row {
	if ev.Empty() {
		return nil
	}
	window := labeler.Window(ev)
	rows := make([]Row, len(ev.IDs))
	for i, id := range ev.IDs {
		rows[i] = Row{
			Window: window,
			Name:   IdentityName(namePrefix, id),
			Status: StatusPresent,
		}
	}
	return rows
}

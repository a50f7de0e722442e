package video

import (
	"image"
	"path/filepath"
	"time"

	"github.com/LdDl/attendance-go/attendance"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Capture reads frames from a video file (or device) and resizes them to a fixed size.
// It implements attendance.FrameSource[gocv.Mat]. Returned frame is reused by the next Read.
type Capture struct {
	capture *gocv.VideoCapture
	raw     gocv.Mat
	frame   gocv.Mat
	size    image.Point
}

// OpenCapture opens video source. Zero width or height keeps the native frame size.
// Failure is reported as attendance.ErrSourceOpen.
func OpenCapture(source string, width, height int) (*Capture, error) {
	capture, err := gocv.OpenVideoCapture(source)
	if err != nil {
		return nil, attendance.NewSourceOpenError(errors.Wrap(err, source))
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, errors.Wrap(attendance.ErrSourceOpen, source)
	}
	return &Capture{
		capture: capture,
		raw:     gocv.NewMat(),
		frame:   gocv.NewMat(),
		size:    image.Pt(width, height),
	}, nil
}

// FPS returns frame rate reported by the container. May be 0 or garbage for some sources.
func (c *Capture) FPS() float64 {
	return c.capture.Get(gocv.VideoCaptureFPS)
}

// FrameCount returns number of frames reported by the container
func (c *Capture) FrameCount() int {
	return int(c.capture.Get(gocv.VideoCaptureFrameCount))
}

// Read reads next non-empty frame. Returns false on the end of stream.
func (c *Capture) Read() (gocv.Mat, bool, error) {
	for {
		if ok := c.capture.Read(&c.raw); !ok {
			// reached last video frame
			return c.frame, false, nil
		}
		if c.raw.Empty() {
			continue
		}
		break
	}
	if c.size.X <= 0 || c.size.Y <= 0 {
		c.raw.CopyTo(&c.frame)
		return c.frame, true, nil
	}
	gocv.Resize(c.raw, &c.frame, c.size, 0, 0, gocv.InterpolationLinear)
	return c.frame, true, nil
}

// Close releases capture and frame buffers
func (c *Capture) Close() error {
	c.raw.Close()
	c.frame.Close()
	return c.capture.Close()
}

// OutputPath returns per-run annotated video path: <dir>/output_lowres_<stamp>.mp4
func OutputPath(dir string, started time.Time) string {
	return filepath.Join(dir, "output_lowres_"+started.Format("20060102_150405")+".mp4")
}

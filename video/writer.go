package video

import (
	"image"
	"image/color"

	"github.com/LdDl/attendance-go/attendance"
	"github.com/LdDl/attendance-go/mot"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

var clrGreen = color.RGBA{R: 0, G: 255, B: 0, A: 0}

// OverlayWriter draws live tracks onto frames and encodes them into a video file.
// It implements attendance.FrameSink[gocv.Mat]. Frames are annotated in place.
type OverlayWriter struct {
	writer     *gocv.VideoWriter
	path       string
	namePrefix string
}

// NewOverlayWriter creates mp4v-encoded video file of the given size and frame rate
func NewOverlayWriter(path string, fps float64, width, height int, namePrefix string) (*OverlayWriter, error) {
	writer, err := gocv.VideoWriterFile(path, "mp4v", fps, width, height, true)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't create video writer %s", path)
	}
	if !writer.IsOpened() {
		writer.Close()
		return nil, errors.Errorf("Can't open video writer %s", path)
	}
	return &OverlayWriter{
		writer:     writer,
		path:       path,
		namePrefix: namePrefix,
	}, nil
}

// Path returns output file path
func (w *OverlayWriter) Path() string {
	return w.path
}

// WriteFrame annotates frame with boxes and identity names and appends it to the video
func (w *OverlayWriter) WriteFrame(frame gocv.Mat, tracks []mot.Track) error {
	Annotate(&frame, tracks, w.namePrefix)
	return errors.Wrap(w.writer.Write(frame), "Can't encode frame")
}

// Close finalizes video file
func (w *OverlayWriter) Close() error {
	return errors.Wrap(w.writer.Close(), "Can't close video writer")
}

// Annotate draws every live track with its identity name above the box
func Annotate(img *gocv.Mat, tracks []mot.Track, namePrefix string) {
	for _, track := range tracks {
		rect := track.Box.Image()
		gocv.Rectangle(img, rect, clrGreen, 2)
		gocv.PutText(img, attendance.IdentityName(namePrefix, track.ID),
			labelOrigin(rect), gocv.FontHersheySimplex, 0.6, clrGreen, 2)
	}
}

// labelOrigin places text 10px above the box, never above the top edge of the image
func labelOrigin(rect image.Rectangle) image.Point {
	y := rect.Min.Y - 10
	if y < 0 {
		y = 0
	}
	return image.Pt(rect.Min.X, y)
}

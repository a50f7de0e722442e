package video

import (
	"image"

	"github.com/LdDl/attendance-go/mot"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

const (
	ssdInputSize = 300
	// Number of values per SSD detection: [image_id, label, confidence, x1, y1, x2, y2]
	ssdStride = 7
)

// ssdMean is BGR mean subtracted by res10 SSD face model
var ssdMean = gocv.NewScalar(104.0, 177.0, 123.0, 0)

// DNNDetector is a Caffe SSD face detector (res10_300x300_ssd). It implements attendance.Detector[gocv.Mat].
type DNNDetector struct {
	net           gocv.Net
	confThreshold float32
}

// NewDNNDetector loads Caffe model. Detections with confidence not above confThreshold are dropped.
func NewDNNDetector(protoFile, modelFile string, confThreshold float64) (*DNNDetector, error) {
	net := gocv.ReadNetFromCaffe(protoFile, modelFile)
	if net.Empty() {
		return nil, errors.Errorf("Can't load Caffe model: %s (%s)", modelFile, protoFile)
	}
	return &DNNDetector{
		net:           net,
		confThreshold: float32(confThreshold),
	}, nil
}

// Detect runs the network on a frame and returns face boxes in frame coordinates
func (d *DNNDetector) Detect(frame gocv.Mat) ([]mot.Rectangle, error) {
	if frame.Empty() {
		return nil, nil
	}
	input := gocv.NewMat()
	defer input.Close()
	gocv.Resize(frame, &input, image.Pt(ssdInputSize, ssdInputSize), 0, 0, gocv.InterpolationLinear)

	blob := gocv.BlobFromImage(input, 1.0, image.Pt(ssdInputSize, ssdInputSize), ssdMean, false, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	prob := d.net.Forward("")
	defer prob.Close()
	if prob.Empty() {
		return nil, errors.New("Empty network output")
	}

	results := prob.Reshape(1, 1)
	defer results.Close()

	values := make([]float32, results.Total())
	for i := range values {
		values[i] = results.GetFloatAt(0, i)
	}
	return decodeSSD(values, d.confThreshold, frame.Cols(), frame.Rows()), nil
}

// Close releases the network
func (d *DNNDetector) Close() error {
	return d.net.Close()
}

// decodeSSD converts flat SSD output into boxes. Coordinates are normalized to [0, 1]
// and scaled by frame size; top-left corner is clamped to the frame origin.
func decodeSSD(values []float32, confThreshold float32, width, height int) []mot.Rectangle {
	boxes := make([]mot.Rectangle, 0)
	for i := 0; i+ssdStride <= len(values); i += ssdStride {
		confidence := values[i+2]
		if confidence <= confThreshold {
			continue
		}
		x1 := int(values[i+3] * float32(width))
		y1 := int(values[i+4] * float32(height))
		x2 := int(values[i+5] * float32(width))
		y2 := int(values[i+6] * float32(height))
		if x1 < 0 {
			x1 = 0
		}
		if y1 < 0 {
			y1 = 0
		}
		boxes = append(boxes, mot.NewRect(float64(x1), float64(y1), float64(x2-x1), float64(y2-y1)))
	}
	return boxes
}

// Package video adapts OpenCV (gocv) to the attendance pipeline: frame capture with
// resizing, Caffe SSD face detection and an overlay video writer.
//
// Building this package requires OpenCV 4 development files (cgo).
package video

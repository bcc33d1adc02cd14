// Package frame defines the immutable image type shared by the camera,
// solver, filter and sink packages.
package frame

import (
	"image"
	"time"
)

// MaxRows and MaxCols are the camera's fixed maximum resolution.
const (
	MaxRows = 960
	MaxCols = 1280
)

// Frame is an immutable capture. It wraps either a single-channel (raw
// Bayer) or three-channel (debayered BGR) image, never mutated after
// Capture returns it.
//
// A Frame is owned for the duration of one loop iteration; the engine
// additionally retains the most recent successful capture for preview
// readout until it is replaced or the service shuts down.
type Frame struct {
	Gray  *image.Gray  // set when Color is false
	BGR   *image.NRGBA // set when Color is true; channels stored in BGR order
	Color bool
	Taken time.Time
}

// Bounds returns the pixel rectangle of the frame regardless of channel count.
func (f *Frame) Bounds() image.Rectangle {
	if f.Color {
		return f.BGR.Bounds()
	}
	return f.Gray.Bounds()
}

// NewGray returns a single-channel frame of the given size, all pixels zero.
func NewGray(rows, cols int) *Frame {
	return &Frame{Gray: image.NewGray(image.Rect(0, 0, cols, rows))}
}

// NewBGR returns a three-channel frame of the given size, all pixels zero.
// Channel order in Pix is B, G, R, A to match the sensor's native order;
// callers treat it as image.NRGBA and swap channels on read where needed.
func NewBGR(rows, cols int) *Frame {
	return &Frame{BGR: image.NewNRGBA(image.Rect(0, 0, cols, rows)), Color: true}
}

// AsImage returns the frame as a standard library image.Image for encoding.
func (f *Frame) AsImage() image.Image {
	if f.Color {
		return f.BGR
	}
	return f.Gray
}

// Package filter implements the pre-archival brightness accept/reject
// check used by capture-only sessions (C4).
package filter

import (
	"image"
	"image/color"

	"gonum.org/v1/gonum/stat"

	"github.com/oresat/oresat-star-tracker-software/frame"
)

// Config holds the bright-pixel/dim-pixel population thresholds. Percentages
// are fixed to the 0-100 convention (spec §9 resolves the source's
// inconsistent unit convention this way).
type Config struct {
	LowerBound   uint8   // pixel value; 0 disables the bright-pixel check
	LowerPercent float64 // percent, 0-100
	UpperBound   uint8   // pixel value; 0 disables the dim-pixel check
	UpperPercent float64 // percent, 0-100
}

// Accept reports whether f passes the configured thresholds.
//
// If both bounds are zero, every frame is accepted. Otherwise the frame is
// converted to greyscale and the population fraction above LowerBound (as a
// percentage) must meet LowerPercent, and the population fraction below
// UpperBound must meet UpperPercent.
func Accept(cfg Config, f *frame.Frame) bool {
	if cfg.LowerBound == 0 && cfg.UpperBound == 0 {
		return true
	}

	gray := toGray(f)

	if cfg.LowerBound != 0 {
		if meanPercent(gray, func(v uint8) bool { return v > cfg.LowerBound }) < cfg.LowerPercent {
			return false
		}
	}

	if cfg.UpperBound != 0 {
		if meanPercent(gray, func(v uint8) bool { return v < cfg.UpperBound }) < cfg.UpperPercent {
			return false
		}
	}

	return true
}

func toGray(f *frame.Frame) *image.Gray {
	if !f.Color {
		return f.Gray
	}
	b := f.BGR.Bounds()
	gray := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			gray.Set(x, y, color.GrayModel.Convert(f.BGR.At(x, y)))
		}
	}
	return gray
}

// meanPercent computes the mean of a 0/1 indicator over every pixel,
// expressed as a percentage, matching the original filter's
// np.mean(indicator) * 100.
func meanPercent(gray *image.Gray, match func(uint8) bool) float64 {
	b := gray.Bounds()
	n := b.Dx() * b.Dy()
	if n == 0 {
		return 0
	}
	indicators := make([]float64, 0, n)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := gray.Pix[(y-b.Min.Y)*gray.Stride : (y-b.Min.Y)*gray.Stride+b.Dx()]
		for _, v := range row {
			if match(v) {
				indicators = append(indicators, 1)
			} else {
				indicators = append(indicators, 0)
			}
		}
	}
	return stat.Mean(indicators, nil) * 100
}

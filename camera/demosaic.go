package camera

import (
	"image"
	"time"

	"github.com/oresat/oresat-star-tracker-software/frame"
)

// demosaicBayerBG converts a single-channel BGGR-pattern Bayer frame to a
// three-channel BGR frame using nearest-neighbor sampling per 2x2 block.
// No demosaicing library appears anywhere in the example pack; this is a
// small, fixed optics transform and is implemented directly rather than
// pulled from a dependency.
func demosaicBayerBG(raw *frame.Frame, taken time.Time) *frame.Frame {
	b := raw.Gray.Bounds()
	out := frame.NewBGR(b.Dy(), b.Dx())
	out.Taken = taken
	px := raw.Gray.Pix
	stride := raw.Gray.Stride
	for y := b.Min.Y; y < b.Max.Y; y++ {
		evenRow := (y-b.Min.Y)%2 == 0
		for x := b.Min.X; x < b.Max.X; x++ {
			evenCol := (x-b.Min.X)%2 == 0
			blue := sampleAt(px, stride, b, x, y, evenCol, evenRow, 0, 0)
			green := sampleAt(px, stride, b, x, y, evenCol, evenRow, 1, 0)
			red := sampleAt(px, stride, b, x, y, evenCol, evenRow, 1, 1)
			i := out.BGR.PixOffset(x, y)
			out.BGR.Pix[i+0] = blue
			out.BGR.Pix[i+1] = green
			out.BGR.Pix[i+2] = red
			out.BGR.Pix[i+3] = 0xff
		}
	}
	return out
}

// sampleAt returns the raw sample for the Bayer cell nearest to (x,y) whose
// parity matches (wantEvenCol, wantEvenRow), clamped to the image bounds.
func sampleAt(px []uint8, stride int, b image.Rectangle, x, y int, evenCol, evenRow bool, wantEvenCol, wantEvenRow int) uint8 {
	sx, sy := x, y
	if (evenCol && wantEvenCol == 1) || (!evenCol && wantEvenCol == 0) {
		sx++
		if sx >= b.Max.X {
			sx = x - 1
		}
	}
	if (evenRow && wantEvenRow == 1) || (!evenRow && wantEvenRow == 0) {
		sy++
		if sy >= b.Max.Y {
			sy = y - 1
		}
	}
	if sx < b.Min.X {
		sx = x
	}
	if sy < b.Min.Y {
		sy = y
	}
	return px[sy*stride+sx]
}

// Package solver implements the image-to-attitude plate-solving facade
// (C2): resize to calibration size, subtract a median dark-frame, threshold
// and extract star centroids, match the brightest ones against a sky
// catalogue, and resolve right ascension, declination, and roll.
//
// The pipeline shape (resize -> median subtract -> threshold -> contour
// moments -> brightest-N -> constellation match -> orientation) follows
// oresat_star_tracker's solver.py. The matching/orientation math does not
// port that project's beast/OpenStarTracker C++ extension line for line
// (it isn't available to a Go module); it is a from-scratch geometric
// solve built on the same kdtree-indexed catalogue idea.
package solver

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"log"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	xdraw "golang.org/x/image/draw"
	"gonum.org/v1/gonum/stat"

	"github.com/oresat/oresat-star-tracker-software/attitude"
	"github.com/oresat/oresat-star-tracker-software/frame"
)

// Config tunes the solve pipeline. Field names and defaults follow
// solver.py's beast.cvar constants.
type Config struct {
	ImgX, ImgY        int     // calibration resolution the median image and catalogue were built against
	ThreshFactor      float64 // threshold = ThreshFactor * image variance
	RequiredStars     int     // minimum matched stars to accept a solution
	MaxFalseStars     int     // extra brightest candidates kept beyond RequiredStars
	MaxFOVDeg         float64 // full diagonal field of view, degrees
	PMatchThresh      float64 // kept for parity with beast's p_match gate; informational only here
	MatchToleranceDeg float64 // angular tolerance for a catalogue nearest-neighbor to count as a match
}

// DefaultConfig mirrors the reference configuration.txt values.
func DefaultConfig() Config {
	return Config{
		ImgX:              1280,
		ImgY:              960,
		ThreshFactor:      6,
		RequiredStars:     5,
		MaxFalseStars:     6,
		MaxFOVDeg:         12,
		PMatchThresh:      0.99,
		MatchToleranceDeg: 0.15,
	}
}

// Sentinel error classes. SolveFailure wraps a per-attempt correlation id;
// InitFailure indicates the facade never became usable.
var (
	ErrNoMatch           = errors.New("solver: no orientation match found")
	ErrInsufficientStars = errors.New("solver: too few star candidates in frame")
)

// SolveFailure is returned by Solve when a single attempt does not
// converge. The Guid lets a caller correlate a failure with diagnostic
// images a caller may have separately retained.
type SolveFailure struct {
	Guid string
	Err  error
}

func (e *SolveFailure) Error() string {
	return fmt.Sprintf("solver: solve %s failed: %v", e.Guid, e.Err)
}

func (e *SolveFailure) Unwrap() error { return e.Err }

// InitFailure is returned by Init when the facade cannot be constructed.
type InitFailure struct {
	Err error
}

func (e *InitFailure) Error() string { return fmt.Sprintf("solver: init failed: %v", e.Err) }
func (e *InitFailure) Unwrap() error { return e.Err }

// Facade is the C2 component: a loaded median image and star catalogue,
// ready to resolve captured frames into an Attitude.
type Facade struct {
	cfg    Config
	median *image.Gray
	cat    *Catalogue
	logger *log.Logger
}

// Init validates and wraps the median dark-frame and catalogue. It returns
// *InitFailure on any mismatch, matching solver.py's startup() contract of
// raising before any Solve is attempted.
func Init(cfg Config, median *image.Gray, cat *Catalogue, logger *log.Logger) (*Facade, error) {
	if median == nil {
		return nil, &InitFailure{Err: errors.New("median image is nil")}
	}
	mb := median.Bounds()
	if mb.Dx() != cfg.ImgX || mb.Dy() != cfg.ImgY {
		return nil, &InitFailure{Err: fmt.Errorf("median image is %dx%d, want %dx%d", mb.Dx(), mb.Dy(), cfg.ImgX, cfg.ImgY)}
	}
	if cat == nil || cat.Len() == 0 {
		return nil, &InitFailure{Err: errors.New("catalogue is empty")}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Facade{cfg: cfg, median: median, cat: cat, logger: logger}, nil
}

// Solve resolves a captured frame into an Attitude, or a *SolveFailure
// describing why no orientation could be determined.
func (f *Facade) Solve(fr *frame.Frame) (attitude.Attitude, error) {
	guid := uuid.New().String()
	f.logger.Printf("solver: solve %s: entry", guid)

	gray := toGray(fr)
	resized := resizeToCalibration(gray, f.cfg.ImgX, f.cfg.ImgY)
	subtracted := subtractMedian(resized, f.median)

	variance := stat.Variance(grayFloats(subtracted), nil)
	threshold := uint8(clampThreshold(f.cfg.ThreshFactor * variance))

	blobs := findBlobs(subtracted, threshold)
	if len(blobs) == 0 {
		return attitude.Attitude{}, &SolveFailure{Guid: guid, Err: ErrInsufficientStars}
	}

	sort.Slice(blobs, func(i, j int) bool { return blobs[i].Flux > blobs[j].Flux })
	keep := f.cfg.MaxFalseStars + f.cfg.RequiredStars
	if keep > len(blobs) {
		keep = len(blobs)
	}
	brightest := blobs[:keep]

	fovRad := f.cfg.MaxFOVDeg * math.Pi / 180
	var matches []matchedPair
	toleranceRad := f.cfg.MatchToleranceDeg * math.Pi / 180
	for _, bl := range brightest {
		vec := projectToUnitVector(bl.CX-float64(f.cfg.ImgX)/2, bl.CY-float64(f.cfg.ImgY)/2, f.cfg.ImgX, f.cfg.ImgY, fovRad)
		star, chord := f.cat.Nearest(vec)
		if chordToAngle(chord) > toleranceRad {
			continue
		}
		matches = append(matches, matchedPair{imgVec: vec, cat: star, flux: bl.Flux})
	}

	if len(matches) < f.cfg.RequiredStars {
		f.logger.Printf("solver: solve %s: only %d/%d stars matched", guid, len(matches), f.cfg.RequiredStars)
		return attitude.Attitude{}, &SolveFailure{Guid: guid, Err: ErrNoMatch}
	}

	var sum [3]float64
	var totalFlux float64
	for _, m := range matches {
		sum[0] += m.cat.Vec[0] * m.flux
		sum[1] += m.cat.Vec[1] * m.flux
		sum[2] += m.cat.Vec[2] * m.flux
		totalFlux += m.flux
	}
	boresight := normalize([3]float64{sum[0] / totalFlux, sum[1] / totalFlux, sum[2] / totalFlux})
	ra, dec := vecToRADec(boresight)

	roll := estimateRoll(matches, boresight)

	result := attitude.Attitude{
		RightAscension:    ra,
		Declination:       dec,
		Roll:              roll,
		TimeSinceMidnight: secondsSinceMidnight(fr.Taken),
	}
	f.logger.Printf("solver: solve %s: exit ra=%.4f dec=%.4f roll=%.4f", guid, ra, dec, roll)
	return result, nil
}

// matchedPair links a brightest-star image-plane vector to the catalogue
// star it was matched to.
type matchedPair struct {
	imgVec [3]float64
	cat    Star
	flux   float64
}

// estimateRoll compares the on-sky position angle of the highest-flux
// matched pair, as seen from the boresight, against its position angle in
// the image plane.
func estimateRoll(matches []matchedPair, boresight [3]float64) float64 {
	if len(matches) < 2 {
		return 0
	}
	a, b := matches[0], matches[1]

	skyAngle := positionAngle(boresight, a.cat.Vec, b.cat.Vec)
	imgAngle := math.Atan2(b.imgVec[1]-a.imgVec[1], b.imgVec[0]-a.imgVec[0])

	roll := skyAngle - imgAngle
	for roll > math.Pi {
		roll -= 2 * math.Pi
	}
	for roll < -math.Pi {
		roll += 2 * math.Pi
	}
	return roll * 180 / math.Pi
}

// positionAngle returns the angle, around axis, from the projection of a
// onto the plane perpendicular to axis to the projection of b.
func positionAngle(axis, a, b [3]float64) float64 {
	pa := rejectAlong(a, axis)
	pb := rejectAlong(b, axis)
	cross := crossProduct(pa, pb)
	sinTheta := dotProduct(cross, axis)
	cosTheta := dotProduct(pa, pb)
	return math.Atan2(sinTheta, cosTheta)
}

func rejectAlong(v, axis [3]float64) [3]float64 {
	d := dotProduct(v, axis)
	r := [3]float64{v[0] - d*axis[0], v[1] - d*axis[1], v[2] - d*axis[2]}
	return normalize(r)
}

func dotProduct(a, b [3]float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

func crossProduct(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func normalize(v [3]float64) [3]float64 {
	n := math.Sqrt(dotProduct(v, v))
	if n == 0 {
		return v
	}
	return [3]float64{v[0] / n, v[1] / n, v[2] / n}
}

// projectToUnitVector maps an image-plane offset from center, in pixels,
// to a unit line-of-sight vector under a simple pinhole model whose focal
// length is derived from the configured diagonal field of view.
func projectToUnitVector(dx, dy float64, imgX, imgY int, fovRad float64) [3]float64 {
	diag := math.Hypot(float64(imgX), float64(imgY))
	focal := (diag / 2) / math.Tan(fovRad/2)
	v := [3]float64{focal, -dx, -dy}
	return normalize(v)
}

func clampThreshold(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}

func secondsSinceMidnight(t time.Time) int64 {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return int64(t.Sub(midnight).Seconds())
}

// toGray converts a frame to grayscale. Color frames store channels in
// BGR order (frame.NewBGR), not the RGB order image.NRGBA assumes, so
// stdlib's generic Draw-based conversion cannot be used directly: it would
// apply the red luminance weight to the blue sample and vice versa. Each
// pixel is converted by hand instead, reading B/G/R in their true order.
func toGray(f *frame.Frame) *image.Gray {
	if !f.Color {
		return f.Gray
	}
	src := f.BGR
	b := src.Bounds()
	gray := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			i := src.PixOffset(x, y)
			blue, green, red := src.Pix[i+0], src.Pix[i+1], src.Pix[i+2]
			y8 := uint8((299*uint32(red) + 587*uint32(green) + 114*uint32(blue)) / 1000)
			gray.SetGray(x, y, color.Gray{Y: y8})
		}
	}
	return gray
}

func resizeToCalibration(src *image.Gray, w, h int) *image.Gray {
	if src.Bounds().Dx() == w && src.Bounds().Dy() == h {
		return src
	}
	dst := image.NewGray(image.Rect(0, 0, w, h))
	xdraw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return dst
}

// subtractMedian computes clip(img - median, 0, 255), matching solver.py's
// np.clip(orig - MEDIAN_IMAGE, 0, 255).
func subtractMedian(img, median *image.Gray) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := int(img.GrayAt(x, y).Y) - int(median.GrayAt(x, y).Y)
			if v < 0 {
				v = 0
			}
			out.SetGray(x, y, color.Gray{Y: uint8(v)})
		}
	}
	return out
}

func grayFloats(img *image.Gray) []float64 {
	b := img.Bounds()
	out := make([]float64, 0, b.Dx()*b.Dy())
	for _, v := range img.Pix {
		out = append(out, float64(v))
	}
	return out
}

package solver

import (
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// Star is one entry of the reference sky catalogue: a position plus the
// unit line-of-sight vector derived from it, cached so matching never
// recomputes trigonometry.
type Star struct {
	ID  int
	RA  float64 // degrees, J2000-epoch-propagated
	Dec float64 // degrees
	Vec [3]float64
	Mag float64 // apparent magnitude, brighter is lower; used to seed density filtering
}

// NewStar builds a Star from a catalogue position, pre-computing its unit
// vector.
func NewStar(id int, raDeg, decDeg, mag float64) Star {
	return Star{ID: id, RA: raDeg, Dec: decDeg, Mag: mag, Vec: raDecToVec(raDeg, decDeg)}
}

func raDecToVec(raDeg, decDeg float64) [3]float64 {
	ra := raDeg * math.Pi / 180
	dec := decDeg * math.Pi / 180
	return [3]float64{
		math.Cos(dec) * math.Cos(ra),
		math.Cos(dec) * math.Sin(ra),
		math.Sin(dec),
	}
}

func vecToRADec(v [3]float64) (raDeg, decDeg float64) {
	dec := math.Asin(clampUnit(v[2]))
	ra := math.Atan2(v[1], v[0])
	if ra < 0 {
		ra += 2 * math.Pi
	}
	return ra * 180 / math.Pi, dec * 180 / math.Pi
}

func clampUnit(x float64) float64 {
	if x > 1 {
		return 1
	}
	if x < -1 {
		return -1
	}
	return x
}

// starPoint adapts Star to kdtree.Comparable over its 3-vector, so nearest-
// star lookups run in O(log n) instead of a linear scan across the whole
// catalogue.
type starPoint Star

func (p starPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(starPoint)
	return p.Vec[d] - q.Vec[d]
}

func (p starPoint) Dims() int { return 3 }

func (p starPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(starPoint)
	dx := p.Vec[0] - q.Vec[0]
	dy := p.Vec[1] - q.Vec[1]
	dz := p.Vec[2] - q.Vec[2]
	return dx*dx + dy*dy + dz*dz
}

// Catalogue is a kdtree-indexed sky reference, matching stars.py's kdmask
// query surface but over the much smaller reference set this facade
// actually ships with.
type Catalogue struct {
	stars []Star
	tree  *kdtree.Tree
}

// NewCatalogue indexes stars for nearest-neighbor queries.
func NewCatalogue(stars []Star) *Catalogue {
	points := make(kdtree.Points, len(stars))
	for i, s := range stars {
		points[i] = starPoint(s)
	}
	tree := kdtree.New(points, false)
	return &Catalogue{stars: stars, tree: tree}
}

// Len reports how many stars the catalogue holds.
func (c *Catalogue) Len() int { return len(c.stars) }

// Nearest returns the catalogue star whose line-of-sight vector is closest
// to vec, and the chord distance (not angular distance) to it.
func (c *Catalogue) Nearest(vec [3]float64) (Star, float64) {
	if len(c.stars) == 0 {
		return Star{}, math.Inf(1)
	}
	comp, dist := c.tree.Nearest(starPoint(Star{Vec: vec}))
	return Star(comp.(starPoint)), math.Sqrt(dist)
}

// chordToAngle converts a 3-vector chord distance between two unit vectors
// into the angle, in radians, between them.
func chordToAngle(chord float64) float64 {
	// law of cosines for unit vectors: chord^2 = 2 - 2cos(theta)
	cosTheta := 1 - chord*chord/2
	return math.Acos(clampUnit(cosTheta))
}

package solver

import (
	"image"
	"image/color"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oresat/oresat-star-tracker-software/frame"
)

func blankMedian(w, h int) *image.Gray {
	return image.NewGray(image.Rect(0, 0, w, h))
}

// syntheticCatalogue places six catalogue stars at and around boresight
// (RA=10, Dec=20), spread well beyond kdtree float precision noise.
func syntheticCatalogue() *Catalogue {
	stars := []Star{
		NewStar(1, 10, 20, 1.0),
		NewStar(2, 10.5, 20, 1.2),
		NewStar(3, 10, 20.5, 1.1),
		NewStar(4, 9.5, 20, 1.3),
		NewStar(5, 10, 19.5, 1.4),
		NewStar(6, 10.3, 20.3, 1.5),
	}
	return NewCatalogue(stars)
}

func TestInitRejectsWrongMedianSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ImgX, cfg.ImgY = 100, 100
	_, err := Init(cfg, blankMedian(50, 50), syntheticCatalogue(), nil)
	require.Error(t, err)
	var initErr *InitFailure
	require.ErrorAs(t, err, &initErr)
}

func TestInitRejectsEmptyCatalogue(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ImgX, cfg.ImgY = 100, 100
	_, err := Init(cfg, blankMedian(100, 100), NewCatalogue(nil), nil)
	require.Error(t, err)
}

func TestSolveFailsOnBlankFrame(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ImgX, cfg.ImgY = 200, 150
	facade, err := Init(cfg, blankMedian(200, 150), syntheticCatalogue(), nil)
	require.NoError(t, err)

	blank := frame.NewGray(150, 200)
	_, err = facade.Solve(blank)
	require.Error(t, err)
	var solveErr *SolveFailure
	require.ErrorAs(t, err, &solveErr)
	assert.NotEmpty(t, solveErr.Guid)
}

func TestFindBlobsSingleBrightSpot(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 20, 20))
	for y := 8; y < 12; y++ {
		for x := 8; x < 12; x++ {
			img.SetGray(x, y, color.Gray{Y: 200})
		}
	}
	blobs := findBlobs(img, 100)
	require.Len(t, blobs, 1)
	assert.InDelta(t, 9.5, blobs[0].CX, 0.01)
	assert.InDelta(t, 9.5, blobs[0].CY, 0.01)
	assert.Equal(t, 16, blobs[0].Pixels)
}

func TestFindBlobsSeparatesDisjointRegions(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 20, 20))
	img.SetGray(2, 2, color.Gray{Y: 200})
	img.SetGray(17, 17, color.Gray{Y: 200})
	blobs := findBlobs(img, 100)
	assert.Len(t, blobs, 2)
}

func TestProjectToUnitVectorIsUnit(t *testing.T) {
	v := projectToUnitVector(50, -30, 1280, 960, 12*math.Pi/180)
	n := math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
	assert.InDelta(t, 1.0, n, 1e-9)
}

func TestRaDecVecRoundTrip(t *testing.T) {
	ra, dec := 123.4, -45.6
	v := raDecToVec(ra, dec)
	ra2, dec2 := vecToRADec(v)
	assert.InDelta(t, ra, ra2, 1e-6)
	assert.InDelta(t, dec, dec2, 1e-6)
}

func TestSecondsSinceMidnight(t *testing.T) {
	ts := time.Date(2026, 1, 1, 1, 2, 3, 0, time.UTC)
	got := secondsSinceMidnight(ts)
	assert.EqualValues(t, 3723, got)
}

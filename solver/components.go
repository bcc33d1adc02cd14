package solver

import "image"

// Blob is one connected region of above-threshold pixels: a flux centroid
// analogous to the center of mass/moments cv2.moments produces.
type Blob struct {
	CX, CY float64 // centroid, in pixel coordinates of the thresholded image
	Flux   float64 // grayscale value sampled at the centroid
	Pixels int
}

// findBlobs labels 4-connected regions of gray whose value exceeds
// threshold using a two-pass union-find labeler, then reduces each region
// to a centroid and a flux sample. No connected-component library is
// present anywhere in the example pack, so the labeler is hand-written;
// the reduction it feeds mirrors solver.py's cv2.moments/getRectSubPix use
// on contours.
func findBlobs(gray *image.Gray, threshold uint8) []Blob {
	b := gray.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil
	}

	labels := make([]int, w*h)
	uf := newUnionFind(w*h + 1)
	next := 1

	above := func(x, y int) bool {
		return gray.GrayAt(b.Min.X+x, b.Min.Y+y).Y > threshold
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !above(x, y) {
				continue
			}
			idx := y*w + x
			var neighbors []int
			if x > 0 && above(x-1, y) {
				neighbors = append(neighbors, labels[idx-1])
			}
			if y > 0 && above(x, y-1) {
				neighbors = append(neighbors, labels[idx-w])
			}
			if len(neighbors) == 0 {
				labels[idx] = next
				next++
				continue
			}
			min := neighbors[0]
			for _, n := range neighbors[1:] {
				if n < min {
					min = n
				}
			}
			labels[idx] = min
			for _, n := range neighbors {
				uf.union(min, n)
			}
		}
	}

	type accum struct {
		sumX, sumY, sumFlux float64
		n                   int
	}
	acc := make(map[int]*accum)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := y*w + x
			if labels[idx] == 0 {
				continue
			}
			root := uf.find(labels[idx])
			a, ok := acc[root]
			if !ok {
				a = &accum{}
				acc[root] = a
			}
			v := float64(gray.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			a.sumX += float64(x)
			a.sumY += float64(y)
			a.sumFlux += v
			a.n++
		}
	}

	blobs := make([]Blob, 0, len(acc))
	for _, a := range acc {
		if a.n == 0 {
			continue
		}
		cx := a.sumX / float64(a.n)
		cy := a.sumY / float64(a.n)
		blobs = append(blobs, Blob{
			CX:     cx,
			CY:     cy,
			Flux:   sampleGray(gray, b.Min.X+int(cx+0.5), b.Min.Y+int(cy+0.5)),
			Pixels: a.n,
		})
	}
	return blobs
}

func sampleGray(gray *image.Gray, x, y int) float64 {
	b := gray.Bounds()
	if x < b.Min.X {
		x = b.Min.X
	}
	if x >= b.Max.X {
		x = b.Max.X - 1
	}
	if y < b.Min.Y {
		y = b.Min.Y
	}
	if y >= b.Max.Y {
		y = b.Max.Y - 1
	}
	return float64(gray.GrayAt(x, y).Y)
}

// unionFind is a standard path-compressed, union-by-index structure.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return &unionFind{parent: p}
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if ra < rb {
		u.parent[rb] = ra
	} else {
		u.parent[ra] = rb
	}
}

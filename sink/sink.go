// Package sink encodes captured frames for archival and preview, persists
// archival frames to the host tmpfs, and hands them to the fread cache
// (C3).
package sink

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/image/tiff"
	"golang.org/x/sys/unix"

	"github.com/oresat/oresat-star-tracker-software/frame"
)

// Cache is the host fread cache collaborator. Add assumes ownership of the
// file at path when consume is true: the cache deletes it on eviction.
type Cache interface {
	Add(path string, consume bool) error
}

// Sink is the image encode/persist component (C3).
type Sink struct {
	dir       string
	cache     Cache
	minFreeKB uint64 // advisory disk-space floor before a write is attempted
	lastStamp int64  // timestamp used in the most recent Persist filename
}

// New returns a Sink that writes archival TIFFs under dir and registers
// them with cache.
func New(dir string, cache Cache) *Sink {
	return &Sink{dir: dir, cache: cache, minFreeKB: 1024}
}

// EncodeArchival compresses f as a TIFF (Deflate), suitable for long-term
// storage.
func (s *Sink) EncodeArchival(f *frame.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := tiff.Encode(&buf, f.AsImage(), &tiff.Options{Compression: tiff.Deflate, Predictor: true}); err != nil {
		return nil, fmt.Errorf("sink: tiff encode: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodePreview downsamples f by 2 in both dimensions, converts BGR to RGB,
// and encodes it as JPEG. If f is nil, it returns an empty byte string per
// spec §4.3's "no capture yet" preview semantics.
func (s *Sink) EncodePreview(f *frame.Frame) ([]byte, error) {
	if f == nil {
		return nil, nil
	}
	half := downsampleHalfRGB(f)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, half, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("sink: jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}

// downsampleHalfRGB box-averages 2x2 blocks and swaps BGR to RGB channel
// order. No third-party resize call in the example pack is cheaper than a
// one-line 2x box average, so this is hand-written rather than imported.
func downsampleHalfRGB(f *frame.Frame) *image.RGBA {
	src := f.Bounds()
	w, h := src.Dx()/2, src.Dy()/2
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b := sampleBlockRGB(f, src.Min.X+x*2, src.Min.Y+y*2)
			i := dst.PixOffset(x, y)
			dst.Pix[i+0] = r
			dst.Pix[i+1] = g
			dst.Pix[i+2] = b
			dst.Pix[i+3] = 0xff
		}
	}
	return dst
}

func sampleBlockRGB(f *frame.Frame, x0, y0 int) (r, g, b uint8) {
	var sr, sg, sb, n uint32
	for dy := 0; dy < 2; dy++ {
		for dx := 0; dx < 2; dx++ {
			if f.Color {
				i := f.BGR.PixOffset(x0+dx, y0+dy)
				sb += uint32(f.BGR.Pix[i+0])
				sg += uint32(f.BGR.Pix[i+1])
				sr += uint32(f.BGR.Pix[i+2])
			} else {
				v := f.Gray.GrayAt(x0+dx, y0+dy).Y
				sr += uint32(v)
				sg += uint32(v)
				sb += uint32(v)
			}
			n++
		}
	}
	return uint8(sr / n), uint8(sg / n), uint8(sb / n)
}

// Persist writes encoded archival data under a time-stamped, monotonically
// unique filename and registers it with the fread cache. The file is fully
// written and closed before cache.Add is invoked (invariant: no partial
// write is ever registered).
func (s *Sink) Persist(keyword string, encoded []byte) (string, error) {
	if err := checkFreeSpace(s.dir, s.minFreeKB); err != nil {
		// Advisory only: log-and-continue matches the original project's
		// permissive style toward non-fatal storage conditions.
		fmt.Fprintf(os.Stderr, "sink: disk space check failed: %v\n", err)
	}

	stamp := time.Now().Unix()
	if stamp <= s.lastStamp {
		stamp = s.lastStamp + 1
	}
	s.lastStamp = stamp
	name := fmt.Sprintf("%s_%d.tiff", keyword, stamp)
	path := filepath.Join(s.dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("sink: open %s: %w", path, err)
	}
	if _, err := f.Write(encoded); err != nil {
		f.Close()
		return "", fmt.Errorf("sink: write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("sink: close %s: %w", path, err)
	}

	if err := s.cache.Add(path, true); err != nil {
		return "", fmt.Errorf("sink: fread cache add %s: %w", path, err)
	}
	return path, nil
}

func checkFreeSpace(dir string, minFreeKB uint64) error {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return err
	}
	freeKB := (st.Bavail * uint64(st.Bsize)) / 1024
	if freeKB < minFreeKB {
		return fmt.Errorf("only %dKB free on %s", freeKB, dir)
	}
	return nil
}

// Package cameratest implements fakes for camera.Device, mirroring the
// teacher's leptontest package: a drop-in Capturer plus a manually
// triggerable scheduler so lockout timing never touches a wall clock.
package cameratest

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/oresat/oresat-star-tracker-software/camera"
	"github.com/oresat/oresat-star-tracker-software/frame"
)

// ManualScheduler captures the callback passed to AfterFunc instead of
// scheduling it, so a test can call Fire to simulate the deadline passing.
type ManualScheduler struct {
	mu  sync.Mutex
	cb  func()
	dur time.Duration // recorded for assertions
}

func (s *ManualScheduler) AfterFunc(d time.Duration, f func()) camera.Canceler {
	s.mu.Lock()
	s.cb = f
	s.dur = d
	s.mu.Unlock()
	stopped := new(int32)
	return fakeCanceler{stopped: stopped}
}

// ScheduledDuration returns the duration passed to the most recent AfterFunc call.
func (s *ManualScheduler) ScheduledDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dur
}

// Fire invokes the scheduled callback, if any, exactly as the real timer
// would once its deadline elapses.
func (s *ManualScheduler) Fire() {
	s.mu.Lock()
	cb := s.cb
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type fakeCanceler struct{ stopped *int32 }

func (c fakeCanceler) Stop() bool {
	return atomic.CompareAndSwapInt32(c.stopped, 0, 1)
}

// Camera is a fully in-memory Capturer for engine and bus-surface tests. It
// returns a fixed frame and can be told to fail or to report any Readiness.
type Camera struct {
	mu        sync.Mutex
	readiness camera.Readiness
	rows      int
	cols      int
	failNext  bool
	calls     int
}

// New returns a Camera already RUNNING at the given size.
func New(rows, cols int) *Camera {
	return &Camera{readiness: camera.Running, rows: rows, cols: cols}
}

// SetReadiness overrides the reported state, e.g. to simulate LOCKOUT.
func (c *Camera) SetReadiness(r camera.Readiness) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readiness = r
}

// FailNextCapture makes the next Capture call return an error, as if the
// hardware faulted mid-read.
func (c *Camera) FailNextCapture() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = true
}

// Calls returns the number of Capture invocations so far.
func (c *Camera) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *Camera) State() camera.Readiness {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readiness
}

func (c *Camera) Size() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rows, c.cols
}

func (c *Camera) Capture(color bool) (*frame.Frame, error) {
	c.mu.Lock()
	c.calls++
	if c.readiness != camera.Running {
		c.mu.Unlock()
		return nil, camera.ErrNotReady
	}
	if c.failNext {
		c.failNext = false
		c.mu.Unlock()
		return nil, camera.ErrDeviceNotFound
	}
	rows, cols := c.rows, c.cols
	c.mu.Unlock()
	if color {
		return frame.NewBGR(rows, cols), nil
	}
	return frame.NewGray(rows, cols), nil
}

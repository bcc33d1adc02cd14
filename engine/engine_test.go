package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oresat/oresat-star-tracker-software/attitude"
	"github.com/oresat/oresat-star-tracker-software/camera"
	"github.com/oresat/oresat-star-tracker-software/cameratest"
	"github.com/oresat/oresat-star-tracker-software/filter"
	"github.com/oresat/oresat-star-tracker-software/frame"
	"github.com/oresat/oresat-star-tracker-software/fsm"
)

type fakeSolver struct {
	attitude attitude.Attitude
	err      error
	calls    int
}

func (s *fakeSolver) Solve(f *frame.Frame) (attitude.Attitude, error) {
	s.calls++
	return s.attitude, s.err
}

type fakeSink struct {
	persisted int
}

func (s *fakeSink) EncodeArchival(f *frame.Frame) ([]byte, error) { return []byte("tiff"), nil }

func (s *fakeSink) Persist(keyword string, encoded []byte) (string, error) {
	s.persisted++
	return "/tmp/fake.tiff", nil
}

type fakeNotifier struct {
	ids []int
}

func (n *fakeNotifier) SendTPDO(id int) { n.ids = append(n.ids, id) }

func newTestEngine(t *testing.T, cam *cameratest.Camera, sv Solver, sk Sink, notifier Notifier) (*Engine, *fsm.Machine) {
	t.Helper()
	m := fsm.New(nil)
	e := New(DefaultConfig(), m, cam, sv, sk, notifier, nil, time.Now())
	e.now = time.Now
	e.sleep = func(time.Duration) {}
	return e, m
}

func TestBootLockoutEnforcement(t *testing.T) {
	cam := cameratest.New(10, 10)
	e, m := newTestEngine(t, cam, &fakeSolver{}, &fakeSink{}, nil)

	start := time.Now()
	e.startTime = start
	e.now = func() time.Time { return start.Add(10 * time.Second) }
	e.Tick()
	assert.Equal(t, fsm.Boot, m.Status())

	e.now = func() time.Time { return start.Add(71 * time.Second) }
	e.Tick()
	assert.Equal(t, fsm.Standby, m.Status())
}

func TestSingleShotStarTrack(t *testing.T) {
	cam := cameratest.New(10, 10)
	sv := &fakeSolver{attitude: attitude.Attitude{RightAscension: 10.5, Declination: 20.5, Roll: 30.5, TimeSinceMidnight: 12345}}
	notifier := &fakeNotifier{}
	e, m := newTestEngine(t, cam, sv, &fakeSink{}, notifier)
	require.NoError(t, m.RequestTransition(fsm.Standby, camera.Running, true))
	require.NoError(t, m.RequestTransition(fsm.StarTrack, camera.Running, false))

	e.SetSettings(Settings{DelayMs: 0})
	e.Tick()

	got := e.LastAttitude()
	assert.Equal(t, 10.5, got.RightAscension)
	assert.Equal(t, 20.5, got.Declination)
	assert.Equal(t, 30.5, got.Roll)
	assert.EqualValues(t, 12345, got.TimeSinceMidnight)
	assert.Equal(t, []int{2, 3}, notifier.ids)
	assert.Equal(t, fsm.Standby, m.Status())
}

func TestCaptureOnlyFilterPasses(t *testing.T) {
	cam := cameratest.New(10, 10)
	sk := &fakeSink{}
	e, m := newTestEngine(t, cam, &fakeSolver{}, sk, nil)
	require.NoError(t, m.RequestTransition(fsm.Standby, camera.Running, true))
	require.NoError(t, m.RequestTransition(fsm.CaptureOnly, camera.Running, false))

	e.SetSettings(Settings{
		CaptureDurationS: 5,
		ImageCount:       1,
		SaveCaptures:     true,
		Filter:           filter.Config{},
	})
	e.Tick()

	assert.Equal(t, 1, sk.persisted)
	assert.Equal(t, fsm.Standby, m.Status())
}

func TestCaptureOnlyFilterExhaustion(t *testing.T) {
	cam := cameratest.New(10, 10)
	sk := &fakeSink{}
	e, m := newTestEngine(t, cam, &fakeSolver{}, sk, nil)
	require.NoError(t, m.RequestTransition(fsm.Standby, camera.Running, true))
	require.NoError(t, m.RequestTransition(fsm.CaptureOnly, camera.Running, false))

	e.SetSettings(Settings{
		CaptureDurationS: 5,
		ImageCount:       1,
		SaveCaptures:     true,
		Filter:           filter.Config{LowerBound: 1, LowerPercent: 1},
	})
	e.Tick()

	assert.Equal(t, 0, sk.persisted)
	assert.Equal(t, DefaultConfig().MaxCaptureRetries, cam.Calls())
	assert.Equal(t, fsm.Standby, m.Status())
}

func TestCameraFaultEscalatesStarTrack(t *testing.T) {
	cam := cameratest.New(10, 10)
	cam.FailNextCapture()
	e, m := newTestEngine(t, cam, &fakeSolver{}, &fakeSink{}, nil)
	require.NoError(t, m.RequestTransition(fsm.Standby, camera.Running, true))
	require.NoError(t, m.RequestTransition(fsm.StarTrack, camera.Running, false))

	e.Tick()

	assert.Equal(t, fsm.Error, m.Status())
	err := m.RequestTransition(fsm.Standby, camera.Running, false)
	require.ErrorIs(t, err, fsm.ErrInvalidTransition)
}

func TestShutdownZeroesAttitudeAndPreview(t *testing.T) {
	cam := cameratest.New(10, 10)
	sv := &fakeSolver{attitude: attitude.Attitude{RightAscension: 10.5, Declination: 20.5, Roll: 30.5, TimeSinceMidnight: 12345}}
	e, m := newTestEngine(t, cam, sv, &fakeSink{}, nil)
	require.NoError(t, m.RequestTransition(fsm.Standby, camera.Running, true))
	require.NoError(t, m.RequestTransition(fsm.StarTrack, camera.Running, false))

	e.SetSettings(Settings{DelayMs: 0})
	e.Tick()
	require.NotZero(t, e.LastAttitude().TimeSinceMidnight)
	require.NotNil(t, e.Preview())

	e.Shutdown()

	assert.Equal(t, attitude.Attitude{}, e.LastAttitude())
	assert.Nil(t, e.Preview())
}

func TestSolverFaultDoesNotEscalate(t *testing.T) {
	cam := cameratest.New(10, 10)
	sv := &fakeSolver{err: errors.New("no match")}
	e, m := newTestEngine(t, cam, sv, &fakeSink{}, nil)
	require.NoError(t, m.RequestTransition(fsm.Standby, camera.Running, true))
	require.NoError(t, m.RequestTransition(fsm.StarTrack, camera.Running, false))

	e.SetSettings(Settings{DelayMs: 0})
	e.Tick()

	assert.Equal(t, fsm.Standby, m.Status())
}

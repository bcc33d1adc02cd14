package busif

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oresat/oresat-star-tracker-software/attitude"
	"github.com/oresat/oresat-star-tracker-software/camera"
	"github.com/oresat/oresat-star-tracker-software/cameratest"
	"github.com/oresat/oresat-star-tracker-software/engine"
	"github.com/oresat/oresat-star-tracker-software/frame"
	"github.com/oresat/oresat-star-tracker-software/fsm"
	"github.com/oresat/oresat-star-tracker-software/sink"
)

type nopSolver struct{}

func (nopSolver) Solve(f *frame.Frame) (attitude.Attitude, error) { return attitude.Attitude{}, nil }

type nopSink struct{}

func (nopSink) EncodeArchival(f *frame.Frame) ([]byte, error) { return nil, nil }

func (nopSink) Persist(keyword string, encoded []byte) (string, error) { return "", nil }

func newTestNode(t *testing.T) (*Node, *fsm.Machine, *cameratest.Camera) {
	t.Helper()
	m := fsm.New(nil)
	cam := cameratest.New(10, 10)
	require.NoError(t, m.RequestTransition(fsm.Standby, camera.Running, true))
	eng := engine.New(engine.DefaultConfig(), m, cam, nopSolver{}, nopSink{}, nil, nil, time.Now())
	n := New(nil, m, cam, eng, (*sink.Sink)(nil), nil)
	return n, m, cam
}

func TestReadState(t *testing.T) {
	n, _, _ := newTestNode(t)
	data, err := n.Read(IndexState, 0)
	require.NoError(t, err)
	require.Len(t, data, 1)
	assert.Equal(t, byte(fsm.Standby), data[0])
}

func TestWriteStateAppliesTransition(t *testing.T) {
	n, m, _ := newTestNode(t)
	err := n.Write(IndexState, 0, []byte{byte(fsm.StarTrack)})
	require.NoError(t, err)
	assert.Equal(t, fsm.StarTrack, m.Status())
}

func TestWriteStateRejectsInvalidTransition(t *testing.T) {
	n, m, _ := newTestNode(t)
	require.NoError(t, n.Write(IndexState, 0, []byte{byte(fsm.StarTrack)}))
	err := n.Write(IndexState, 0, []byte{byte(fsm.Boot)})
	require.Error(t, err)
	assert.Equal(t, fsm.StarTrack, m.Status())
}

func TestWriteDelaySetting(t *testing.T) {
	n, _, _ := newTestNode(t)
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, 500)
	require.NoError(t, n.Write(IndexModeSettings, SubStarTrackDelay, buf))

	got, err := n.Read(IndexModeSettings, SubStarTrackDelay)
	require.NoError(t, err)
	assert.EqualValues(t, 500, binary.LittleEndian.Uint64(got))
}

type fakeTPDOSender struct {
	ids []int
}

func (s *fakeTPDOSender) SendTPDO(id int) { s.ids = append(s.ids, id) }

func TestNodeSendTPDOForwardsToHostSender(t *testing.T) {
	host := &fakeTPDOSender{}
	m := fsm.New(nil)
	cam := cameratest.New(10, 10)
	require.NoError(t, m.RequestTransition(fsm.Standby, camera.Running, true))
	eng := engine.New(engine.DefaultConfig(), m, cam, nopSolver{}, nopSink{}, nil, nil, time.Now())
	n := New(nil, m, cam, eng, (*sink.Sink)(nil), host)
	eng.SetNotifier(n)

	var notifier engine.Notifier = n
	notifier.SendTPDO(2)
	notifier.SendTPDO(3)

	assert.Equal(t, []int{2, 3}, host.ids)
}

func TestReadUnregisteredIndexErrors(t *testing.T) {
	n, _, _ := newTestNode(t)
	_, err := n.Read(0x9999, 0)
	require.Error(t, err)
}

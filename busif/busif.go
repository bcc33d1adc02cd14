// Package busif bridges the execution engine to a fieldbus object
// dictionary (C7): a registry of legacy numeric index/sub-index pairs
// mapped to typed read/write callbacks. Entries are addressed by number
// only; there are no symbolic (human-readable) keys. The
// registration idiom generalizes the teacher's http.HandleFunc/mux.Router
// route tables to SDO read/write callbacks and TPDO sends.
package busif

import (
	"encoding/binary"
	"fmt"
	"log"
	"sync"

	"github.com/oresat/oresat-star-tracker-software/attitude"
	"github.com/oresat/oresat-star-tracker-software/camera"
	"github.com/oresat/oresat-star-tracker-software/engine"
	"github.com/oresat/oresat-star-tracker-software/filter"
	"github.com/oresat/oresat-star-tracker-software/fsm"
	"github.com/oresat/oresat-star-tracker-software/sink"
)

// Legacy numeric index/sub-index aliases, carried over from the reference
// object dictionary layout.
const (
	IndexState        = 0x6000
	IndexLastSolve    = 0x6001
	IndexModeSettings = 0x6002
	IndexImageFilter  = 0x6003
	IndexTestCamera   = 0x7000

	SubRightAscension = 0x1
	SubDeclination    = 0x2
	SubRoll           = 0x3
	SubTimestamp      = 0x4
	SubImage          = 0x5

	SubStarTrackDelay  = 0x1
	SubCaptureDuration = 0x2
	SubImageCount      = 0x3
	SubSaveCaptures    = 0x4

	SubLowerBound      = 0x1
	SubLowerPercentage = 0x2
	SubUpperBound      = 0x3
	SubUpperPercentage = 0x4

	SubTestCapture     = 0x1
	SubDiagnosticsTest = 0x2 // supplemented diagnostic SDO distinct from the retained preview
)

// ReadFunc answers an SDO upload for one sub-index.
type ReadFunc func() ([]byte, error)

// WriteFunc applies an SDO download for one sub-index.
type WriteFunc func(data []byte) error

type objectKey struct {
	index, subindex uint16
}

type entry struct {
	read  ReadFunc
	write WriteFunc
}

// Node is the object-dictionary registry plus the concrete handlers for
// the star tracker's own indices.
type Node struct {
	mu       sync.RWMutex
	handlers map[objectKey]entry

	logger   *log.Logger
	machine  *fsm.Machine
	cam      camera.Capturer
	eng      *engine.Engine
	sinker   *sink.Sink
	notifier TPDOSender
}

// TPDOSender pushes a periodic transmit PDO by its configured id.
type TPDOSender interface {
	SendTPDO(id int)
}

// New constructs a Node and registers every index the spec names.
func New(logger *log.Logger, machine *fsm.Machine, cam camera.Capturer, eng *engine.Engine, sinker *sink.Sink, notifier TPDOSender) *Node {
	if logger == nil {
		logger = log.Default()
	}
	n := &Node{
		handlers: make(map[objectKey]entry),
		logger:   logger,
		machine:  machine,
		cam:      cam,
		eng:      eng,
		sinker:   sinker,
		notifier: notifier,
	}
	n.registerDefaults()
	return n
}

// Expose registers (or replaces) the read and/or write handler for one
// index/sub-index pair. A nil reader or writer leaves that direction
// unsupported.
func (n *Node) Expose(index, subindex uint16, reader ReadFunc, writer WriteFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[objectKey{index, subindex}] = entry{read: reader, write: writer}
}

// Read performs an SDO upload.
func (n *Node) Read(index, subindex uint16) ([]byte, error) {
	n.mu.RLock()
	e, ok := n.handlers[objectKey{index, subindex}]
	n.mu.RUnlock()
	if !ok || e.read == nil {
		return nil, fmt.Errorf("busif: no reader for %#x:%#x", index, subindex)
	}
	return e.read()
}

// Write performs an SDO download.
func (n *Node) Write(index, subindex uint16, data []byte) error {
	n.mu.RLock()
	e, ok := n.handlers[objectKey{index, subindex}]
	n.mu.RUnlock()
	if !ok || e.write == nil {
		return fmt.Errorf("busif: no writer for %#x:%#x", index, subindex)
	}
	return e.write(data)
}

// Notify asks the runtime to emit a periodic telemetry record.
func (n *Node) Notify(tpdoID int) {
	if n.notifier != nil {
		n.notifier.SendTPDO(tpdoID)
	}
}

// SendTPDO forwards to the host TPDO sender, making Node satisfy
// engine.Notifier so the engine can publish telemetry directly through
// this node's object dictionary wiring.
func (n *Node) SendTPDO(id int) {
	n.Notify(id)
}

func (n *Node) registerDefaults() {
	n.Expose(IndexState, 0, n.readState, n.writeState)

	n.Expose(IndexLastSolve, SubRightAscension, n.readAttitudeField(func(a attitude.Attitude) float64 { return a.RightAscension }), nil)
	n.Expose(IndexLastSolve, SubDeclination, n.readAttitudeField(func(a attitude.Attitude) float64 { return a.Declination }), nil)
	n.Expose(IndexLastSolve, SubRoll, n.readAttitudeField(func(a attitude.Attitude) float64 { return a.Roll }), nil)
	n.Expose(IndexLastSolve, SubTimestamp, n.readTimestamp, nil)
	n.Expose(IndexLastSolve, SubImage, n.readPreviewJPEG, nil)

	n.Expose(IndexModeSettings, SubStarTrackDelay, n.readSetting(func(s engine.Settings) int64 { return s.DelayMs }), n.writeDelayMs)
	n.Expose(IndexModeSettings, SubCaptureDuration, n.readDurationSetting, n.writeCaptureDuration)
	n.Expose(IndexModeSettings, SubImageCount, n.readSetting(func(s engine.Settings) int64 { return s.ImageCount }), n.writeImageCount)
	n.Expose(IndexModeSettings, SubSaveCaptures, n.readSaveCaptures, n.writeSaveCaptures)

	n.Expose(IndexImageFilter, SubLowerBound, n.readFilterBound(func(c filter.Config) uint8 { return c.LowerBound }), n.writeFilterLowerBound)
	n.Expose(IndexImageFilter, SubLowerPercentage, n.readFilterPercent(func(c filter.Config) float64 { return c.LowerPercent }), n.writeFilterLowerPercent)
	n.Expose(IndexImageFilter, SubUpperBound, n.readFilterBound(func(c filter.Config) uint8 { return c.UpperBound }), n.writeFilterUpperBound)
	n.Expose(IndexImageFilter, SubUpperPercentage, n.readFilterPercent(func(c filter.Config) float64 { return c.UpperPercent }), n.writeFilterUpperPercent)

	n.Expose(IndexTestCamera, SubTestCapture, n.readTestCapture, nil)
	n.Expose(IndexTestCamera, SubDiagnosticsTest, n.readDiagnostics, nil)
}

func (n *Node) readState() ([]byte, error) {
	return []byte{byte(n.machine.Status())}, nil
}

func (n *Node) writeState(data []byte) error {
	if len(data) != 1 {
		return fmt.Errorf("busif: state write expects 1 byte, got %d", len(data))
	}
	target := fsm.Status(data[0])
	err := n.machine.RequestTransition(target, n.cam.State(), false)
	if err != nil {
		n.logger.Printf("busif: rejected state write %s -> %s: %v", n.machine.Status(), target, err)
	}
	return err
}

func (n *Node) readAttitudeField(get func(attitude.Attitude) float64) ReadFunc {
	return func() ([]byte, error) {
		v := int32(get(n.eng.LastAttitude()))
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(v))
		return buf, nil
	}
}

func (n *Node) readTimestamp() ([]byte, error) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(n.eng.LastAttitude().TimeSinceMidnight))
	return buf, nil
}

func (n *Node) readPreviewJPEG() ([]byte, error) {
	f := n.eng.Preview()
	if f == nil {
		return nil, nil
	}
	return n.sinker.EncodePreview(f)
}

func (n *Node) readSetting(get func(engine.Settings) int64) ReadFunc {
	return func() ([]byte, error) {
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(get(n.eng.Settings())))
		return buf, nil
	}
}

func (n *Node) readDurationSetting() ([]byte, error) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(n.eng.Settings().CaptureDurationS))
	return buf, nil
}

func (n *Node) readSaveCaptures() ([]byte, error) {
	if n.eng.Settings().SaveCaptures {
		return []byte{1}, nil
	}
	return []byte{0}, nil
}

func (n *Node) writeDelayMs(data []byte) error {
	v, err := decodeUint64(data)
	if err != nil {
		return err
	}
	s := n.eng.Settings()
	s.DelayMs = int64(v)
	n.eng.SetSettings(s)
	return nil
}

func (n *Node) writeCaptureDuration(data []byte) error {
	v, err := decodeUint64(data)
	if err != nil {
		return err
	}
	s := n.eng.Settings()
	s.CaptureDurationS = float64(v)
	n.eng.SetSettings(s)
	return nil
}

func (n *Node) writeImageCount(data []byte) error {
	v, err := decodeUint64(data)
	if err != nil {
		return err
	}
	s := n.eng.Settings()
	s.ImageCount = int64(v)
	n.eng.SetSettings(s)
	return nil
}

func (n *Node) writeSaveCaptures(data []byte) error {
	if len(data) != 1 {
		return fmt.Errorf("busif: save-captures write expects 1 byte, got %d", len(data))
	}
	s := n.eng.Settings()
	s.SaveCaptures = data[0] != 0
	n.eng.SetSettings(s)
	return nil
}

func (n *Node) readFilterBound(get func(filter.Config) uint8) ReadFunc {
	return func() ([]byte, error) { return []byte{get(n.eng.Settings().Filter)}, nil }
}

func (n *Node) readFilterPercent(get func(filter.Config) float64) ReadFunc {
	return func() ([]byte, error) {
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(get(n.eng.Settings().Filter)))
		return buf, nil
	}
}

func (n *Node) writeFilterLowerBound(data []byte) error { return n.writeFilterUint8(data, setLowerBound) }
func (n *Node) writeFilterUpperBound(data []byte) error { return n.writeFilterUint8(data, setUpperBound) }

func (n *Node) writeFilterLowerPercent(data []byte) error {
	return n.writeFilterFloat(data, setLowerPercent)
}

func (n *Node) writeFilterUpperPercent(data []byte) error {
	return n.writeFilterFloat(data, setUpperPercent)
}

func setLowerBound(c *filter.Config, v uint8)     { c.LowerBound = v }
func setUpperBound(c *filter.Config, v uint8)     { c.UpperBound = v }
func setLowerPercent(c *filter.Config, v float64) { c.LowerPercent = v }
func setUpperPercent(c *filter.Config, v float64) { c.UpperPercent = v }

func (n *Node) writeFilterUint8(data []byte, set func(*filter.Config, uint8)) error {
	if len(data) != 1 {
		return fmt.Errorf("busif: filter bound write expects 1 byte, got %d", len(data))
	}
	s := n.eng.Settings()
	set(&s.Filter, data[0])
	n.eng.SetSettings(s)
	return nil
}

func (n *Node) writeFilterFloat(data []byte, set func(*filter.Config, float64)) error {
	v, err := decodeUint64(data)
	if err != nil {
		return err
	}
	s := n.eng.Settings()
	set(&s.Filter, float64(v))
	n.eng.SetSettings(s)
	return nil
}

// readTestCapture is the on-demand diagnostic image read, distinct from
// the retained star-track preview: it triggers a fresh capture, encoded
// as JPEG, rather than returning a cached frame.
func (n *Node) readTestCapture() ([]byte, error) {
	f, err := n.cam.Capture(true)
	if err != nil {
		return nil, fmt.Errorf("busif: test-camera capture: %w", err)
	}
	return n.sinker.EncodePreview(f)
}

// readDiagnostics reports the camera's readiness as a single byte,
// supplementing the reference project's thin TEST_CAMERA surface with a
// direct health read that doesn't require a capture attempt.
func (n *Node) readDiagnostics() ([]byte, error) {
	return []byte{byte(n.cam.State())}, nil
}

func decodeUint64(data []byte) (uint64, error) {
	switch len(data) {
	case 8:
		return binary.LittleEndian.Uint64(data), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(data)), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(data)), nil
	case 1:
		return uint64(data[0]), nil
	default:
		return 0, fmt.Errorf("busif: unexpected integer width %d", len(data))
	}
}

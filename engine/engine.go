// Package engine hosts the periodic control loop (C6): it dispatches to
// per-status handlers, enforces the BOOT lockout deadline, and escalates a
// camera fault observed during a capture to ERROR. (The state machine also
// forces ERROR when a transition is requested while the camera reports ERROR.)
package engine

import (
	"log"
	"sync"
	"time"

	"github.com/maruel/interrupt"

	"github.com/oresat/oresat-star-tracker-software/attitude"
	"github.com/oresat/oresat-star-tracker-software/camera"
	"github.com/oresat/oresat-star-tracker-software/filter"
	"github.com/oresat/oresat-star-tracker-software/frame"
	"github.com/oresat/oresat-star-tracker-software/fsm"
)

// Notifier is the narrow slice of the bus surface the engine needs:
// periodic telemetry emission after a successful solve. Defined here
// rather than depending on busif directly, so busif can depend on engine
// without an import cycle.
type Notifier interface {
	SendTPDO(id int)
}

// Solver is the facade the engine hands star-track captures to. Satisfied
// by *solver.Facade; narrowed to an interface so tests can substitute a
// fake without constructing a real catalogue and median image.
type Solver interface {
	Solve(f *frame.Frame) (attitude.Attitude, error)
}

// Sink is the archival encode/persist collaborator for capture-only
// sessions. Satisfied by *sink.Sink.
type Sink interface {
	EncodeArchival(f *frame.Frame) ([]byte, error)
	Persist(keyword string, encoded []byte) (string, error)
}

// Config tunes the loop's fixed timing constants.
type Config struct {
	BootDeadline      time.Duration // wall-clock since process start before BOOT->STANDBY commits
	MaxCaptureRetries int           // per-slot retry budget in capture-only mode
	RetryDelay        time.Duration // sleep between capture-only retries
	CooperativeSleep  time.Duration // sleep when idle (neither BOOT deadline, STAR_TRACK nor CAPTURE_ONLY)
}

// DefaultConfig mirrors the reference service's fixed constants.
func DefaultConfig() Config {
	return Config{
		BootDeadline:      70 * time.Second,
		MaxCaptureRetries: 10,
		RetryDelay:        10 * time.Millisecond,
		CooperativeSleep:  100 * time.Millisecond,
	}
}

// Settings is the mutable capture/filter configuration the bus surface
// writes and the engine reads each tick.
type Settings struct {
	DelayMs          int64 // star-track inter-solve delay; 0 means single-shot
	CaptureDurationS float64
	ImageCount       int64 // 0 means unbounded within CaptureDurationS
	SaveCaptures     bool
	Filter           filter.Config
}

// Engine is the C6 component.
type Engine struct {
	cfg      Config
	machine  *fsm.Machine
	cam      camera.Capturer
	solver   Solver
	sink     Sink
	notifier Notifier
	logger   *log.Logger

	startTime time.Time
	now       func() time.Time
	sleep     func(time.Duration)

	mu           sync.Mutex
	settings     Settings
	lastAttitude attitude.Attitude
	preview      *frame.Frame
}

// New constructs an Engine. startTime is the process start used for the
// BOOT deadline; it is independent of the camera's own lockout timer
// (spec: the two 70s/90s windows are not the same clock).
func New(cfg Config, machine *fsm.Machine, cam camera.Capturer, sv Solver, sk Sink, notifier Notifier, logger *log.Logger, startTime time.Time) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		cfg:       cfg,
		machine:   machine,
		cam:       cam,
		solver:    sv,
		sink:      sk,
		notifier:  notifier,
		logger:    logger,
		startTime: startTime,
		now:       time.Now,
		sleep:     time.Sleep,
	}
}

// SetNotifier wires the telemetry-publish collaborator after construction,
// letting the bus surface be built from the engine it wraps (busif.Node
// holds a *Engine) without a construction-order cycle.
func (e *Engine) SetNotifier(n Notifier) {
	e.mu.Lock()
	e.notifier = n
	e.mu.Unlock()
}

// Notifier returns the current telemetry-publish collaborator, if any.
func (e *Engine) Notifier() Notifier {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.notifier
}

// Settings returns a copy of the current capture/filter configuration.
func (e *Engine) Settings() Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// SetSettings replaces the capture/filter configuration, as the bus
// surface does on an OD write.
func (e *Engine) SetSettings(s Settings) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settings = s
}

// LastAttitude returns the most recently solved orientation.
func (e *Engine) LastAttitude() attitude.Attitude {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastAttitude
}

// Preview returns the most recently retained frame, or nil if none has
// been captured yet.
func (e *Engine) Preview() *frame.Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.preview
}

func (e *Engine) setPreview(f *frame.Frame) {
	e.mu.Lock()
	e.preview = f
	e.mu.Unlock()
}

func (e *Engine) setAttitude(a attitude.Attitude) {
	e.mu.Lock()
	e.lastAttitude = a
	e.mu.Unlock()
}

// Shutdown zeroes the last solve and drops the retained preview, matching
// star_tracker_service.py's on_stop (right_ascension/declination/orientation/
// time_stamp reset to 0, image_domain cleared).
func (e *Engine) Shutdown() {
	e.mu.Lock()
	e.lastAttitude = attitude.Attitude{}
	e.preview = nil
	e.mu.Unlock()
}

// Run drives Tick in a cooperative loop until interrupt.IsSet(), following
// the teacher's "for !interrupt.IsSet()" shutdown idiom.
func (e *Engine) Run() {
	for !interrupt.IsSet() {
		e.Tick()
	}
}

// Tick executes exactly one loop iteration per the four-step control loop.
func (e *Engine) Tick() {
	switch e.machine.Status() {
	case fsm.Boot:
		if e.now().Sub(e.startTime) >= e.cfg.BootDeadline {
			if err := e.machine.RequestTransition(fsm.Standby, e.cam.State(), true); err != nil {
				e.logger.Printf("engine: boot deadline transition rejected: %v", err)
			}
		} else {
			e.sleep(e.cfg.CooperativeSleep)
		}
	case fsm.StarTrack:
		e.starTrack()
	case fsm.CaptureOnly:
		e.captureOnly()
	default:
		e.sleep(e.cfg.CooperativeSleep)
	}
}

// starTrack captures a single frame, hands it to the solver, and publishes
// the result. A camera fault escalates to ERROR; a solver fault is logged
// and the loop continues.
func (e *Engine) starTrack() {
	f, err := e.cam.Capture(true)
	if err != nil {
		e.logger.Printf("engine: star-track capture failed: %v", err)
		e.machine.ForceError()
		return
	}

	att, err := e.solver.Solve(f)
	if err != nil {
		e.logger.Printf("engine: star-track solve failed: %v", err)
	} else {
		e.setAttitude(att)
		e.setPreview(f)
		if notifier := e.Notifier(); notifier != nil {
			notifier.SendTPDO(2)
			notifier.SendTPDO(3)
		}
	}

	settings := e.Settings()
	if settings.DelayMs == 0 {
		if tErr := e.machine.RequestTransition(fsm.Standby, e.cam.State(), false); tErr != nil {
			e.logger.Printf("engine: star-track standby transition rejected: %v", tErr)
		}
		return
	}
	e.sleep(time.Duration(settings.DelayMs) * time.Millisecond)
}

// captureOnly runs a bounded capture session against duration and image
// count limits, retrying each image slot up to MaxCaptureRetries times
// against filter rejection. A capture error is not retried: it escalates
// to ERROR and ends the session at once.
func (e *Engine) captureOnly() {
	settings := e.Settings()
	duration := time.Duration(settings.CaptureDurationS * float64(time.Second))
	start := e.now()
	count := 0

	for e.now().Sub(start) < duration && (settings.ImageCount == 0 || int64(count) < settings.ImageCount) {
		slotOK := false
		for retry := 0; retry < e.cfg.MaxCaptureRetries; retry++ {
			f, err := e.cam.Capture(true)
			if err != nil {
				e.logger.Printf("engine: capture-only hard failure: %v", err)
				e.machine.ForceError()
				return
			}
			if !filter.Accept(settings.Filter, f) {
				e.sleep(e.cfg.RetryDelay)
				continue
			}

			count++
			e.setPreview(f)
			if settings.SaveCaptures {
				if encoded, encErr := e.sink.EncodeArchival(f); encErr != nil {
					e.logger.Printf("engine: capture-only encode failed: %v", encErr)
				} else if _, persistErr := e.sink.Persist("img", encoded); persistErr != nil {
					e.logger.Printf("engine: capture-only persist failed: %v", persistErr)
				}
			}
			slotOK = true
			break
		}

		if !slotOK {
			break
		}
		if settings.DelayMs > 0 {
			e.sleep(time.Duration(settings.DelayMs) * time.Millisecond)
		}
	}

	if count == 0 {
		e.logger.Printf("engine: capture-only session took no images; check duration, image count, and filter settings")
	}

	if err := e.machine.RequestTransition(fsm.Standby, e.cam.State(), false); err != nil {
		e.logger.Printf("engine: capture-only standby transition rejected: %v", err)
	}
}

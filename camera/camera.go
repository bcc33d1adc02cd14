// Package camera presents a uniform image-capture capability with an
// explicit readiness lifecycle, hiding whether the underlying hardware is
// the real AR013x/PRU sensor or a mock used for development and tests.
package camera

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sync/atomic"
	"time"

	"periph.io/x/periph/conn/gpio"

	"github.com/oresat/oresat-star-tracker-software/frame"
)

// Readiness is the camera's background lifecycle state.
type Readiness int32

const (
	// Lockout is the post-power-on settle period; captures are rejected.
	Lockout Readiness = iota
	// Running means the sensor has completed warm-up and capture() will succeed.
	Running
	// NotFound means the capture device node or sysfs attributes never appeared.
	NotFound
	// Error means the kernel module or GPIO bring-up failed outright.
	Error
)

func (r Readiness) String() string {
	switch r {
	case Lockout:
		return "LOCKOUT"
	case Running:
		return "RUNNING"
	case NotFound:
		return "NOT_FOUND"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Errors returned by Capture and unlock.
var (
	ErrNotReady          = errors.New("camera: not ready")
	ErrKernelModuleFault = errors.New("camera: kernel module bring-up failed")
	ErrDeviceNotFound    = errors.New("camera: capture device not found")
)

// LockoutDuration is the wall-clock settle time imposed by the sensor's
// thermal/optical warm-up, measured from the Device's construction (New)
// independently of the execution engine's BOOT deadline (spec §4.6's
// "independent deadlines").
const LockoutDuration = 90 * time.Second

// Canceler stops a scheduled callback. Satisfied by *time.Timer.
type Canceler interface {
	Stop() bool
}

// Scheduler schedules a one-shot callback. Swappable in tests so the
// 90-second lockout never actually sleeps.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Canceler
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Canceler {
	return time.AfterFunc(d, f)
}

// Config configures device paths and is only consulted in non-mock mode.
type Config struct {
	ModuleName      string // kernel module name, e.g. "prucam"
	ModuleInstall   string // path to the .ko to insert if modprobe can't find it
	DevicePath      string // e.g. "/dev/prucam"
	SysfsContextDir string // e.g. "/sys/class/pru/prucam/context_settings"
	SysfsAEEnable   string // e.g. "/sys/class/pru/prucam/auto_exposure_settings/ae_enable"
	ResetPin        gpio.PinOut
	MockRows        int
	MockCols        int
}

// DefaultConfig returns the production device paths used by the AR013x/PRU
// camera on the flight SBC.
func DefaultConfig() Config {
	return Config{
		ModuleName:      "prucam",
		ModuleInstall:   "/lib/firmware/prucam.ko",
		DevicePath:      "/dev/prucam",
		SysfsContextDir: "/sys/class/pru/prucam/context_settings",
		SysfsAEEnable:   "/sys/class/pru/prucam/auto_exposure_settings/ae_enable",
		MockRows:        frame.MaxRows,
		MockCols:        frame.MaxCols,
	}
}

// Capturer is the interface the execution engine depends on, satisfied by
// *Device and by cameratest fakes.
type Capturer interface {
	Capture(color bool) (*frame.Frame, error)
	State() Readiness
	Size() (int, int)
}

// Device is the camera abstraction (C1). It is safe to call State and
// Capture concurrently; the only mutator of readiness besides the
// constructor's background timer is a hardware fault observed by Capture.
type Device struct {
	mock       bool
	cfg        Config
	readiness  int32 // atomic Readiness
	rows, cols int
	logger     *log.Logger
	sched      Scheduler
	cancel     Canceler
}

// New constructs a Device in LOCKOUT and schedules unlock() to run
// LockoutDuration from now. Pass a nil Scheduler to use a real timer.
func New(mock bool, cfg Config, logger *log.Logger, sched Scheduler) *Device {
	if sched == nil {
		sched = realScheduler{}
	}
	if logger == nil {
		logger = log.Default()
	}
	d := &Device{
		mock:      mock,
		cfg:       cfg,
		readiness: int32(Lockout),
		rows:      cfg.MockRows,
		cols:      cfg.MockCols,
		logger:    logger,
		sched:     sched,
	}
	d.cancel = sched.AfterFunc(LockoutDuration, d.unlock)
	return d
}

// State returns the current camera readiness.
func (d *Device) State() Readiness {
	return Readiness(atomic.LoadInt32(&d.readiness))
}

// Size returns the frame dimensions as (rows, cols).
func (d *Device) Size() (int, int) {
	return d.rows, d.cols
}

// unlock performs the warm-up sequence. It is terminal for the process:
// on any failure the readiness stays NOT_FOUND or ERROR forever, mirroring
// the original camera.py's power_on() which never retries.
func (d *Device) unlock() {
	if d.mock {
		atomic.StoreInt32(&d.readiness, int32(Running))
		return
	}

	if err := d.probeModule(); err != nil {
		d.logger.Printf("camera: kernel module bring-up failed: %v", err)
		atomic.StoreInt32(&d.readiness, int32(Error))
		return
	}

	if d.cfg.ResetPin != nil {
		if err := d.cfg.ResetPin.Out(gpio.Low); err != nil {
			d.logger.Printf("camera: reset pin bring-up failed: %v", err)
			atomic.StoreInt32(&d.readiness, int32(Error))
			return
		}
		time.Sleep(10 * time.Millisecond)
		if err := d.cfg.ResetPin.Out(gpio.High); err != nil {
			d.logger.Printf("camera: reset pin bring-up failed: %v", err)
			atomic.StoreInt32(&d.readiness, int32(Error))
			return
		}
	}

	if _, err := os.Stat(d.cfg.DevicePath); err != nil {
		d.logger.Printf("camera: device node missing: %v", err)
		atomic.StoreInt32(&d.readiness, int32(NotFound))
		return
	}

	rows, cols, err := d.readSysfsSize()
	if err != nil {
		d.logger.Printf("camera: no sysfs attributes: %v", err)
		atomic.StoreInt32(&d.readiness, int32(NotFound))
		return
	}
	d.rows, d.cols = rows, cols

	if d.cfg.SysfsAEEnable != "" {
		if err := os.WriteFile(d.cfg.SysfsAEEnable, []byte("1"), 0o644); err != nil {
			d.logger.Printf("camera: no sysfs attribute for auto-exposure: %v", err)
			atomic.StoreInt32(&d.readiness, int32(NotFound))
			return
		}
	}

	atomic.StoreInt32(&d.readiness, int32(Running))
}

func (d *Device) probeModule() error {
	if _, err := os.Stat(d.cfg.SysfsContextDir); err == nil {
		return nil
	}
	cmd := exec.Command("modprobe", d.cfg.ModuleName)
	if out, err := cmd.CombinedOutput(); err != nil {
		insert := exec.Command("insmod", d.cfg.ModuleInstall)
		if out2, err2 := insert.CombinedOutput(); err2 != nil {
			return fmt.Errorf("modprobe failed (%s); insmod %s failed: %w (%s)", out, d.cfg.ModuleInstall, err2, out2)
		}
	}
	return nil
}

func (d *Device) readSysfsSize() (rows, cols int, err error) {
	y, err := readSysfsInt(d.cfg.SysfsContextDir + "/y_size")
	if err != nil {
		return 0, 0, err
	}
	x, err := readSysfsInt(d.cfg.SysfsContextDir + "/x_size")
	if err != nil {
		return 0, 0, err
	}
	return y, x, nil
}

func readSysfsInt(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var v int
	if _, err := fmt.Sscanf(string(data), "%d", &v); err != nil {
		return 0, err
	}
	return v, nil
}

// Capture takes a single-shot, blocking, non-cancellable frame read. It
// fails with ErrNotReady unless State() == Running.
func (d *Device) Capture(color bool) (*frame.Frame, error) {
	if d.State() != Running {
		return nil, ErrNotReady
	}
	now := time.Now()
	if d.mock {
		var f *frame.Frame
		if color {
			f = frame.NewBGR(d.rows, d.cols)
		} else {
			f = frame.NewGray(d.rows, d.cols)
		}
		f.Taken = now
		return f, nil
	}

	fd, err := os.OpenFile(d.cfg.DevicePath, os.O_RDONLY, 0)
	if err != nil {
		atomic.StoreInt32(&d.readiness, int32(Error))
		return nil, fmt.Errorf("%w: %v", ErrDeviceNotFound, err)
	}
	defer fd.Close()

	buf := make([]byte, d.rows*d.cols)
	if _, err := os.NewFile(fd.Fd(), d.cfg.DevicePath).Read(buf); err != nil {
		atomic.StoreInt32(&d.readiness, int32(Error))
		return nil, fmt.Errorf("camera: read failed: %w", err)
	}

	raw := frame.NewGray(d.rows, d.cols)
	copy(raw.Gray.Pix, buf)
	raw.Taken = now
	if !color {
		return raw, nil
	}
	return demosaicBayerBG(raw, now), nil
}

// Close stops the background lockout timer. Safe to call multiple times.
func (d *Device) Close() error {
	if d.cancel != nil {
		d.cancel.Stop()
	}
	return nil
}

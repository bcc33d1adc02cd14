// Package fsm implements the state machine (C5): the fixed service-status
// transition graph and the single lock that mediates every read and
// mutation of it.
package fsm

import (
	"errors"
	"sync"

	"github.com/oresat/oresat-star-tracker-software/camera"
	"github.com/oresat/oresat-star-tracker-software/internal/powergov"
)

// Status is the service's externally-visible lifecycle state.
type Status int

const (
	Off Status = iota
	Boot
	Standby
	LowPower
	StarTrack
	CaptureOnly
	Error
)

func (s Status) String() string {
	switch s {
	case Off:
		return "OFF"
	case Boot:
		return "BOOT"
	case Standby:
		return "STANDBY"
	case LowPower:
		return "LOW_POWER"
	case StarTrack:
		return "STAR_TRACK"
	case CaptureOnly:
		return "CAPTURE_ONLY"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ErrInvalidTransition is returned by RequestTransition when the command
// is rejected outright: the write leaves the current status untouched.
var ErrInvalidTransition = errors.New("fsm: invalid state transition")

// transitions is the fixed graph of statuses externally reachable from
// each status. BOOT has no externally-commandable exits: only the engine's
// wall-clock check may leave it (rule (b)).
var transitions = map[Status]map[Status]bool{
	Off:         {Boot: true},
	Boot:        {},
	Standby:     {LowPower: true, StarTrack: true, CaptureOnly: true},
	LowPower:    {Standby: true, StarTrack: true, CaptureOnly: true},
	StarTrack:   {Standby: true, LowPower: true, CaptureOnly: true, Error: true},
	CaptureOnly: {Standby: true, LowPower: true, StarTrack: true, Error: true},
	Error:       {Off: true},
}

// Machine is the single mutual-exclusion point for Service Status. It
// additionally drives the power-governor side effect on LOW_POWER entry
// and exit, matching star_tracker_service.py's on_state_write.
type Machine struct {
	mu     sync.Mutex
	status Status
	gov    powergov.Governor
}

// New constructs a Machine in BOOT, the mandated initial state.
func New(gov powergov.Governor) *Machine {
	if gov == nil {
		gov = &powergov.Noop{}
	}
	return &Machine{status: Boot, gov: gov}
}

// Status returns the current status.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// RequestTransition applies an externally- or engine-requested transition.
// readiness is the camera's current readiness at the time of the request,
// consulted per rule (d): LOCKOUT blocks any exit from BOOT, and ERROR
// forces the machine to ERROR regardless of target.
//
// internal allows the engine's own BOOT->STANDBY wall-clock transition,
// which is not reachable via an external command (rule (b)).
func (m *Machine) RequestTransition(target Status, readiness camera.Readiness, internal bool) error {
	m.mu.Lock()
	action, err := m.decideLocked(target, readiness, internal)
	m.mu.Unlock()

	runGovAction(m.gov, action)
	return err
}

// decideLocked evaluates rules (a)-(d) against the current status and
// mutates m.status accordingly. Must be called with mu held. It never
// performs I/O; the governor side effect it decides on is applied by the
// caller after the lock is released.
func (m *Machine) decideLocked(target Status, readiness camera.Readiness, internal bool) (govAction, error) {
	if readiness == camera.Error {
		action := m.govAction(Error)
		m.status = Error
		if target == Error {
			return action, nil
		}
		return action, ErrInvalidTransition
	}

	if target == m.status {
		return govNone, nil
	}

	if m.status == Boot {
		if internal && target == Standby && readiness != camera.Lockout {
			m.status = Standby
			return govNone, nil
		}
		return govNone, ErrInvalidTransition
	}

	if readiness == camera.Lockout && (target == StarTrack || target == CaptureOnly) {
		return govNone, ErrInvalidTransition
	}

	if m.status == Error {
		if target == Off {
			m.status = Off
			return govNone, nil
		}
		return govNone, ErrInvalidTransition
	}

	if !transitions[m.status][target] {
		return govNone, ErrInvalidTransition
	}

	action := m.govAction(target)
	m.status = target
	return action, nil
}

// ForceError escalates to ERROR unconditionally, as the engine does on a
// camera fault observed mid-loop rather than at transition-request time.
func (m *Machine) ForceError() {
	m.mu.Lock()
	action := m.govAction(Error)
	m.status = Error
	m.mu.Unlock()
	runGovAction(m.gov, action)
}

type govAction int

const (
	govNone govAction = iota
	govPowersave
	govPerformance
)

// govAction decides, under the lock, what side effect a transition to
// target requires of the CPU governor. The decision is cheap (two
// comparisons); the governor call itself happens after the lock is
// released so no I/O ever runs while mu is held.
func (m *Machine) govAction(target Status) govAction {
	if target == LowPower && m.status != LowPower {
		return govPowersave
	}
	if m.status == LowPower && target != LowPower {
		return govPerformance
	}
	return govNone
}

func runGovAction(gov powergov.Governor, action govAction) {
	switch action {
	case govPowersave:
		gov.SetPowersave()
	case govPerformance:
		gov.SetPerformance()
	}
}

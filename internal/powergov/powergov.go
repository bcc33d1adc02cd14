// Package powergov toggles the host CPU frequency governor on entry to and
// exit from LOW_POWER, grounded on olaf.common.cpufreq.set_cpufreq_gov: a
// plain write to the kernel's per-core scaling_governor sysfs attribute.
package powergov

import (
	"log"
	"os"
	"path/filepath"
)

// Governor toggles the CPU frequency scaling policy.
type Governor interface {
	SetPowersave()
	SetPerformance()
}

// Sysfs is the real implementation: it writes the named governor to every
// CPU core's scaling_governor attribute under /sys/devices/system/cpu.
type Sysfs struct {
	Logger *log.Logger
}

// NewSysfs returns a Sysfs governor logging through logger (or the
// standard logger if nil).
func NewSysfs(logger *log.Logger) *Sysfs {
	if logger == nil {
		logger = log.Default()
	}
	return &Sysfs{Logger: logger}
}

func (s *Sysfs) SetPowersave() { s.set("powersave") }

func (s *Sysfs) SetPerformance() { s.set("performance") }

func (s *Sysfs) set(governor string) {
	paths, err := filepath.Glob("/sys/devices/system/cpu/cpu[0-9]*/cpufreq/scaling_governor")
	if err != nil || len(paths) == 0 {
		s.Logger.Printf("powergov: no scaling_governor attributes found: %v", err)
		return
	}
	for _, p := range paths {
		if err := os.WriteFile(p, []byte(governor), 0o644); err != nil {
			s.Logger.Printf("powergov: failed to set %s on %s: %v", governor, p, err)
		}
	}
}

// Noop is used in mock-hardware mode and in tests: it records the last
// call without touching the host.
type Noop struct {
	Last string
}

func (n *Noop) SetPowersave() { n.Last = "powersave" }

func (n *Noop) SetPerformance() { n.Last = "performance" }

var _ Governor = (*Sysfs)(nil)
var _ Governor = (*Noop)(nil)

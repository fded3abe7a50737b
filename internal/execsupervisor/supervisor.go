// Package execsupervisor implements the execution supervisor: on every
// decision tick it compares the schedule's currently-active block against
// each inverter's last-commanded mode and, subject to debounce and safety
// gates, emits a mode-change command.
package execsupervisor

import (
	"log"
	"sync"
	"time"

	"github.com/devskill-org/energy-management-system/internal/model"
)

// CommandSubmitter is the fire-and-forget sink the supervisor dispatches
// commands to; inverterdriver.AsyncCommandWriter satisfies this.
type CommandSubmitter interface {
	Submit(inverterID string, cmd model.InverterCommand)
}

// Config bundles the supervisor's tunables.
type Config struct {
	// MinModeChangeInterval is the debounce window: how long after a mode
	// change the supervisor refuses another one for the same inverter.
	MinModeChangeInterval time.Duration
	// DebugMode, when set, logs the would-be command instead of submitting
	// it, but still optimistically updates CurrentMode so the scheduler can
	// be exercised end-to-end without touching hardware.
	DebugMode bool
	// MaxBatterySOC / MinBatterySOC gate ForceCharge / ForceDischarge
	// respectively against the SOC safety invariant.
	MaxBatterySOC float64
	MinBatterySOC float64
	// DefaultIdleMode is what a disallowed or kill-switched mode is
	// downgraded to. The zero value is SelfUse.
	DefaultIdleMode model.InverterOperationMode
}

// commandFailureWarnThreshold is how many consecutive command-send failures
// on one inverter escalate the log to a warning.
const commandFailureWarnThreshold = 3

// inverterEntry is the supervisor's per-inverter state: static topology plus
// the mutable CurrentMode and latest telemetry snapshot.
type inverterEntry struct {
	topology        model.InverterControlTopology
	currentMode     model.CurrentMode
	telemetry       *model.RawInverterState
	commandFailures int
}

// Supervisor holds per-inverter state and dispatches mode-change commands.
type Supervisor struct {
	mu        sync.Mutex
	inverters map[string]*inverterEntry
	submitter CommandSubmitter
	config    Config
	logger    *log.Logger
	userCtrl  model.UserControlState
}

// NewSupervisor builds a Supervisor with no registered inverters.
func NewSupervisor(submitter CommandSubmitter, config Config, logger *log.Logger) *Supervisor {
	return &Supervisor{
		inverters: make(map[string]*inverterEntry),
		submitter: submitter,
		config:    config,
		logger:    logger,
		userCtrl:  model.DefaultUserControlState(),
	}
}

// RegisterInverter adds (or replaces) an inverter with the given topology
// and an initial CurrentMode of SelfUse set at the zero time, so the first
// observed tick is never debounced.
func (s *Supervisor) RegisterInverter(id string, topology model.InverterControlTopology) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inverters[id] = &inverterEntry{topology: topology}
}

// UpdateTelemetry records the latest raw telemetry for an inverter, used by
// the freshness and SOC-safety gates.
func (s *Supervisor) UpdateTelemetry(id string, state model.RawInverterState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.inverters[id]
	if !ok {
		return
	}
	e.telemetry = &state
}

// UpdateConfig replaces the supervisor's tunables, applied when a config
// update is accepted at a tick boundary.
func (s *Supervisor) UpdateConfig(config Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = config
}

// SetUserControl replaces the user-control overlay consulted by the supervisor's
// safety gate.
func (s *Supervisor) SetUserControl(uc model.UserControlState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userCtrl = uc
}

// RecordCommandResult feeds each dispatched command's outcome back from the
// async command writer: a failure (or a dropped submission) increments the
// inverter's consecutive-failure count, a success resets it. Commands are
// never retried here and CurrentMode is not rolled back; the mismatch is
// reconciled once telemetry shows the inverter's actual mode.
func (s *Supervisor) RecordCommandResult(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.inverters[id]
	if !ok {
		return
	}
	if err == nil {
		e.commandFailures = 0
		return
	}
	e.commandFailures++
	if e.commandFailures >= commandFailureWarnThreshold {
		s.logf("[execsupervisor] %s: WARNING %d consecutive command failures, last: %v", id, e.commandFailures, err)
	} else {
		s.logf("[execsupervisor] %s: command failed (%d consecutive): %v", id, e.commandFailures, err)
	}
}

// CommandFailureCount returns the consecutive command-send failure count for
// id, zero if the inverter is unknown.
func (s *Supervisor) CommandFailureCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.inverters[id]
	if !ok {
		return 0
	}
	return e.commandFailures
}

// CurrentMode returns a snapshot of the mode last commanded on id.
func (s *Supervisor) CurrentMode(id string) (model.CurrentMode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.inverters[id]
	if !ok {
		return model.CurrentMode{}, false
	}
	return e.currentMode, true
}

// currentScheduledBlock mirrors get_current_scheduled_mode: the run covering
// now, or false.
func currentScheduledBlock(schedule *model.OperationSchedule, now time.Time) (model.ScheduledMode, bool) {
	return schedule.CurrentBlock(now)
}

// Tick runs one supervisor pass over every registered inverter against the
// given schedule at time now.
func (s *Supervisor) Tick(schedule *model.OperationSchedule, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	block, ok := currentScheduledBlock(schedule, now)
	if !ok {
		return
	}

	for id, entry := range s.inverters {
		if entry.topology.IsSlave() {
			continue // slaves are commanded indirectly by their master
		}
		if !entry.topology.ShouldReceiveCommands() {
			continue
		}
		if !block.TargetsInverter(id) {
			continue
		}
		s.processInverter(id, entry, block, now)
	}
}

func (s *Supervisor) logf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// processInverter runs the gate chain for one inverter and, if it passes,
// dispatches the command and optimistically updates CurrentMode.
func (s *Supervisor) processInverter(id string, entry *inverterEntry, block model.ScheduledMode, now time.Time) {
	targetMode := block.Mode

	if targetMode == entry.currentMode.Mode {
		return // no-op: already in the scheduled mode
	}

	// Debounce.
	if !now.IsZero() && !entry.currentMode.SetAt.IsZero() {
		elapsed := now.Sub(entry.currentMode.SetAt)
		if elapsed < s.config.MinModeChangeInterval {
			s.logf("[execsupervisor] %s: debounced, %s since last change (< %s)", id, elapsed, s.config.MinModeChangeInterval)
			return
		}
	}

	// Telemetry freshness.
	if entry.telemetry == nil {
		s.logf("[execsupervisor] %s: refusing mode change, no telemetry yet", id)
		return
	}

	// SOC safety.
	soc := entry.telemetry.BatterySOCPercent
	if targetMode == model.ForceCharge && soc >= s.config.MaxBatterySOC {
		s.logf("[execsupervisor] %s: skipping force-charge, SOC %.1f%% >= max %.1f%%", id, soc, s.config.MaxBatterySOC)
		return
	}
	if targetMode == model.ForceDischarge && soc <= s.config.MinBatterySOC {
		s.logf("[execsupervisor] %s: skipping force-discharge, SOC %.1f%% <= min %.1f%%", id, soc, s.config.MinBatterySOC)
		return
	}

	// User control.
	if !s.userCtrl.Enabled {
		targetMode = s.config.DefaultIdleMode
		if targetMode == entry.currentMode.Mode {
			return
		}
	} else if !s.userCtrl.IsModeAllowed(targetMode) {
		s.logf("[execsupervisor] %s: mode %s disallowed by user control, downgrading to %s", id, targetMode, s.config.DefaultIdleMode)
		targetMode = s.config.DefaultIdleMode
		if targetMode == entry.currentMode.Mode {
			return
		}
	}

	s.executeModeChange(id, entry, targetMode, block.Reason, now)
}

// executeModeChange dispatches the command (or simulates it in debug mode)
// and always optimistically updates CurrentMode, mirroring execute_mode_change.
func (s *Supervisor) executeModeChange(id string, entry *inverterEntry, mode model.InverterOperationMode, reason string, now time.Time) {
	cmd := model.SetModeCommand(mode)

	if s.config.DebugMode {
		s.logf("[execsupervisor] %s: DEBUG change mode %s -> %s: %s", id, entry.currentMode.Mode, mode, reason)
	} else {
		s.submitter.Submit(id, cmd)
		s.logf("[execsupervisor] %s: change mode %s -> %s: %s", id, entry.currentMode.Mode, mode, reason)
	}

	entry.currentMode = model.CurrentMode{Mode: mode, SetAt: now, Reason: reason}
}

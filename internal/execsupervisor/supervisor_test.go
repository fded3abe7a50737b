package execsupervisor

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devskill-org/energy-management-system/internal/model"
)

type fakeSubmitter struct {
	submitted []model.InverterCommand
}

func (f *fakeSubmitter) Submit(_ string, cmd model.InverterCommand) {
	f.submitted = append(f.submitted, cmd)
}

func scheduleWithMode(start time.Time, mode model.InverterOperationMode) *model.OperationSchedule {
	return &model.OperationSchedule{
		ScheduledBlocks: []model.ScheduledMode{
			{BlockStart: start, DurationMinutes: 15, Mode: mode},
		},
	}
}

func TestSupervisor_SOCSafetyBlocksForceCharge(t *testing.T) {
	now := time.Now().UTC()
	submitter := &fakeSubmitter{}
	sup := NewSupervisor(submitter, Config{MinModeChangeInterval: time.Minute, MaxBatterySOC: 95, MinBatterySOC: 10}, nil)
	sup.RegisterInverter("inv1", model.InverterControlTopology{Kind: model.TopologyIndependent})
	sup.UpdateTelemetry("inv1", model.RawInverterState{BatterySOCPercent: 100, LastUpdated: now})

	schedule := scheduleWithMode(now, model.ForceCharge)
	sup.Tick(schedule, now)

	require.Empty(t, submitter.submitted, "no command should be emitted when SOC is at ceiling")
	cur, ok := sup.CurrentMode("inv1")
	require.True(t, ok)
	require.Equal(t, model.SelfUse, cur.Mode, "CurrentMode must remain unchanged")
}

func TestSupervisor_Debounce(t *testing.T) {
	start := time.Now().UTC()
	submitter := &fakeSubmitter{}
	sup := NewSupervisor(submitter, Config{MinModeChangeInterval: 60 * time.Second, MaxBatterySOC: 95, MinBatterySOC: 10}, nil)
	sup.RegisterInverter("inv1", model.InverterControlTopology{Kind: model.TopologyIndependent})
	sup.UpdateTelemetry("inv1", model.RawInverterState{BatterySOCPercent: 50, LastUpdated: start})

	tick := func(at time.Time, mode model.InverterOperationMode) {
		sup.Tick(scheduleWithMode(at, mode), at)
	}

	tick(start, model.SelfUse)
	tick(start.Add(5*time.Second), model.ForceCharge)
	tick(start.Add(10*time.Second), model.SelfUse)
	tick(start.Add(15*time.Second), model.ForceCharge)
	tick(start.Add(20*time.Second), model.SelfUse)

	require.Len(t, submitter.submitted, 1, "only the first mode change within the 60s window should be emitted")
}

func TestSupervisor_EmptyScheduleDoesNothing(t *testing.T) {
	now := time.Now().UTC()
	submitter := &fakeSubmitter{}
	sup := NewSupervisor(submitter, Config{MinModeChangeInterval: time.Minute, MaxBatterySOC: 95, MinBatterySOC: 10}, nil)
	sup.RegisterInverter("inv1", model.InverterControlTopology{Kind: model.TopologyIndependent})
	sup.UpdateTelemetry("inv1", model.RawInverterState{BatterySOCPercent: 50, LastUpdated: now})

	sup.Tick(&model.OperationSchedule{}, now)

	require.Empty(t, submitter.submitted)
	cur, ok := sup.CurrentMode("inv1")
	require.True(t, ok)
	require.Equal(t, model.SelfUse, cur.Mode)
}

func TestSupervisor_NoTelemetryRefusesChange(t *testing.T) {
	now := time.Now().UTC()
	submitter := &fakeSubmitter{}
	sup := NewSupervisor(submitter, Config{MinModeChangeInterval: time.Minute, MaxBatterySOC: 95, MinBatterySOC: 10}, nil)
	sup.RegisterInverter("inv1", model.InverterControlTopology{Kind: model.TopologyIndependent})

	sup.Tick(scheduleWithMode(now, model.ForceCharge), now)

	require.Empty(t, submitter.submitted)
}

func TestSupervisor_SlaveNeverReceivesCommands(t *testing.T) {
	now := time.Now().UTC()
	submitter := &fakeSubmitter{}
	sup := NewSupervisor(submitter, Config{MinModeChangeInterval: time.Minute, MaxBatterySOC: 95, MinBatterySOC: 10}, nil)
	sup.RegisterInverter("slave1", model.InverterControlTopology{Kind: model.TopologySlave, MasterID: "master1"})
	sup.UpdateTelemetry("slave1", model.RawInverterState{BatterySOCPercent: 50, LastUpdated: now})

	sup.Tick(scheduleWithMode(now, model.ForceCharge), now)

	require.Empty(t, submitter.submitted)
}

func TestSupervisor_UserControlDisabledForcesIdle(t *testing.T) {
	now := time.Now().UTC()
	submitter := &fakeSubmitter{}
	sup := NewSupervisor(submitter, Config{MinModeChangeInterval: time.Minute, MaxBatterySOC: 95, MinBatterySOC: 10}, nil)
	sup.RegisterInverter("inv1", model.InverterControlTopology{Kind: model.TopologyIndependent})
	sup.UpdateTelemetry("inv1", model.RawInverterState{BatterySOCPercent: 50, LastUpdated: now})
	sup.SetUserControl(model.UserControlState{Enabled: false})

	sup.Tick(scheduleWithMode(now, model.ForceCharge), now)

	require.Empty(t, submitter.submitted, "user control disabled must suppress any non-self-use command")
}

func TestSupervisor_CommandFailureCountTracksConsecutiveFailures(t *testing.T) {
	now := time.Now().UTC()
	submitter := &fakeSubmitter{}
	sup := NewSupervisor(submitter, Config{MinModeChangeInterval: time.Minute, MaxBatterySOC: 95, MinBatterySOC: 10}, nil)
	sup.RegisterInverter("inv1", model.InverterControlTopology{Kind: model.TopologyIndependent})
	sup.UpdateTelemetry("inv1", model.RawInverterState{BatterySOCPercent: 50, LastUpdated: now})

	writeErr := errors.New("modbus write timeout")
	sup.RecordCommandResult("inv1", writeErr)
	sup.RecordCommandResult("inv1", writeErr)
	sup.RecordCommandResult("inv1", writeErr)
	require.Equal(t, 3, sup.CommandFailureCount("inv1"))

	sup.RecordCommandResult("inv1", nil)
	require.Zero(t, sup.CommandFailureCount("inv1"))

	sup.RecordCommandResult("unknown", writeErr)
	require.Zero(t, sup.CommandFailureCount("unknown"))
}

func TestSupervisor_TargetedRunSkipsOtherInverters(t *testing.T) {
	now := time.Now().UTC()
	submitter := &fakeSubmitter{}
	sup := NewSupervisor(submitter, Config{MinModeChangeInterval: time.Minute, MaxBatterySOC: 95, MinBatterySOC: 10}, nil)
	sup.RegisterInverter("inv1", model.InverterControlTopology{Kind: model.TopologyIndependent})
	sup.RegisterInverter("inv2", model.InverterControlTopology{Kind: model.TopologyIndependent})
	sup.UpdateTelemetry("inv1", model.RawInverterState{BatterySOCPercent: 50, LastUpdated: now})
	sup.UpdateTelemetry("inv2", model.RawInverterState{BatterySOCPercent: 50, LastUpdated: now})

	schedule := &model.OperationSchedule{
		ScheduledBlocks: []model.ScheduledMode{
			{BlockStart: now, DurationMinutes: 15, Mode: model.ForceCharge, TargetInverters: []string{"inv1"}},
		},
	}
	sup.Tick(schedule, now)

	require.Len(t, submitter.submitted, 1)
	cur1, _ := sup.CurrentMode("inv1")
	cur2, _ := sup.CurrentMode("inv2")
	require.Equal(t, model.ForceCharge, cur1.Mode)
	require.Equal(t, model.SelfUse, cur2.Mode)
}

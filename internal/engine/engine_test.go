package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devskill-org/energy-management-system/internal/config"
	"github.com/devskill-org/energy-management-system/internal/model"
)

func testPrices(now time.Time, n int) model.SpotPriceData {
	blocks := make([]model.TimeBlockPrice, n)
	for i := 0; i < n; i++ {
		blocks[i] = model.TimeBlockPrice{
			BlockStart:              now.Add(time.Duration(i*15) * time.Minute),
			DurationMinutes:         15,
			PriceCZKPerKWh:          2.0,
			EffectivePriceCZKPerKWh: 2.0,
		}
	}
	return model.SpotPriceData{Blocks: blocks, FetchedAt: now}
}

func TestEngine_RegenerateScheduleProducesCoveringSchedule(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.SelfUseEnabled = true
	cfg.WinterAdaptiveEnabled = false
	cfg.DayAheadPlanningEnabled = false
	cfg.MorningPreChargeEnabled = false

	e, err := New(cfg, nil)
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(15 * time.Minute)
	e.store.SetPrices(testPrices(now, 8))

	e.regenerateSchedule(now)

	schedule := e.Schedule()
	require.NotEmpty(t, schedule.ScheduledBlocks)
	first, ok := schedule.CurrentBlock(now)
	require.True(t, ok)
	require.Equal(t, model.SelfUse, first.Mode)
}

func TestEngine_InverterDescriptorsDriveSupervisorTopology(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Inverters = []config.InverterDescriptor{
		{ID: "m1", Topology: "master", SlaveIDs: []string{"s1"}},
		{ID: "s1", Topology: "slave", MasterID: "m1"},
	}
	require.NoError(t, cfg.Validate())

	e, err := New(cfg, nil)
	require.NoError(t, err)

	_, ok := e.supervisor.CurrentMode("m1")
	require.True(t, ok, "master must be registered with the supervisor")
	_, ok = e.supervisor.CurrentMode("s1")
	require.True(t, ok, "slave must be registered with the supervisor")
}

func TestEngine_ScheduleUsesConfiguredDefaultIdleMode(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DefaultIdleMode = model.BackUpMode
	cfg.SelfUseEnabled = false
	cfg.WinterAdaptiveEnabled = false
	cfg.DayAheadPlanningEnabled = false
	cfg.MorningPreChargeEnabled = false

	e, err := New(cfg, nil)
	require.NoError(t, err)

	// With no strategies registered the manager's fallback fires, and user
	// control being force-disabled downgrades every block to the configured
	// idle mode rather than hardcoded self-use.
	e.SetUserControl(model.UserControlState{Enabled: false})
	now := time.Now().UTC().Truncate(15 * time.Minute)
	e.store.SetPrices(testPrices(now, 4))
	e.regenerateSchedule(now)

	schedule := e.Schedule()
	require.NotEmpty(t, schedule.ScheduledBlocks)
	for _, run := range schedule.ScheduledBlocks {
		require.Equal(t, model.BackUpMode, run.Mode)
	}
}

func TestEngine_UserControlRoundTrip(t *testing.T) {
	cfg := config.DefaultConfig()
	e, err := New(cfg, nil)
	require.NoError(t, err)

	uc := model.UserControlState{Enabled: false}
	e.SetUserControl(uc)
	require.False(t, e.UserControl().Enabled)
}

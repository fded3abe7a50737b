package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devskill-org/energy-management-system/internal/config"
	"github.com/devskill-org/energy-management-system/internal/model"
	"github.com/devskill-org/energy-management-system/internal/plugin"
	"github.com/devskill-org/energy-management-system/internal/strategy"
)

func newTestManager(t *testing.T, cfg *config.Config) *plugin.Manager {
	t.Helper()
	manager := plugin.NewManager(nil)
	manager.Register(plugin.NewStrategyAdapter(strategy.NewSelfUseStrategy(), 10, cfg.StrategyControlConfig()))
	return manager
}

// allForceChargeSchedule builds an OperationSchedule that commands
// ForceCharge across every block, used to exercise the SOC-ceiling clamp in
// simulate() independently of which strategy would actually choose it.
func allForceChargeSchedule(blocks []ScenarioBlock) model.OperationSchedule {
	runs := make([]model.ScheduledMode, len(blocks))
	for i, b := range blocks {
		runs[i] = model.ScheduledMode{
			BlockStart:      b.BlockStart,
			DurationMinutes: 15,
			Mode:            model.ForceCharge,
			Reason:          "test",
		}
	}
	return model.OperationSchedule{ScheduledBlocks: runs}
}

func TestEngine_RunProducesCoveringLedgerAndEnergyBalance(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.SelfUseEnabled = true

	start := time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC)
	blocks := GenerateSyntheticDay(start, 3.0, 0.5, 2.0, 4.0)

	engine := New(newTestManager(t, cfg))
	result, err := engine.Run(Scenario{
		Name:              "synthetic-self-use-day",
		Config:            cfg,
		InitialSOCPercent: 50,
		Blocks:            blocks,
	})
	require.NoError(t, err)
	require.Len(t, result.Ledger, len(blocks))

	require.InDelta(t, result.ConsumptionKWh+0, sumConsumption(blocks), 1e-9)
	require.InDelta(t, result.SolarKWh, sumSolar(blocks), 1e-9)

	last := result.Ledger[len(result.Ledger)-1]
	require.InDelta(t, result.FinalSOCPercent, last.SOCEndPercent, 1e-9)
}

func TestEngine_ForceChargeRespectsSOCCeiling(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MaxBatterySOC = 60

	start := time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC)
	blocks := make([]ScenarioBlock, 8)
	for i := range blocks {
		blocks[i] = ScenarioBlock{
			BlockStart:     start.Add(time.Duration(i*15) * time.Minute),
			PriceCZKPerKWh: 2.0,
			SolarKWh:       0,
			ConsumptionKWh: 0.2,
		}
	}

	engine := New(newTestManager(t, cfg))
	scenario := Scenario{Config: cfg, InitialSOCPercent: 58, Blocks: blocks}
	schedule := allForceChargeSchedule(blocks)

	result := engine.simulate(scenario, schedule)
	for _, row := range result.Ledger {
		require.LessOrEqual(t, row.SOCEndPercent, cfg.MaxBatterySOC+1e-9)
	}
}

func TestLoadScenario_ParsesFixture(t *testing.T) {
	scenario, err := LoadScenario("testdata/forward_shift_charging.yaml")
	require.NoError(t, err)
	require.Equal(t, "forward-shift-charging", scenario.Name)
	require.NotEmpty(t, scenario.Blocks)
	require.True(t, scenario.Config.WinterAdaptiveEnabled)
}

func sumConsumption(blocks []ScenarioBlock) float64 {
	var sum float64
	for _, b := range blocks {
		sum += b.ConsumptionKWh
	}
	return sum
}

func sumSolar(blocks []ScenarioBlock) float64 {
	var sum float64
	for _, b := range blocks {
		sum += b.SolarKWh
	}
	return sum
}

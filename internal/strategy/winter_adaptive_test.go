package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devskill-org/energy-management-system/internal/model"
)

func testControlConfig() ControlConfig {
	return ControlConfig{
		BatteryCapacityKWh:                15.0,
		MaxBatteryChargeRateKW:            5.0,
		BatteryEfficiency:                 0.95,
		BatteryWearCostCZKPerKWh:          0.125,
		MinBatterySOC:                     10.0,
		MaxBatterySOC:                     100.0,
		HardwareMinBatterySOC:             5.0,
		EveningTargetSOC:                  90.0,
		EveningPeakStartHour:              17,
		ForceDischargeHours:               3.0,
		ChargeToleranceFraction:           0.15,
		NegativePriceHandlingEnabled:      true,
		GridExportPriceThresholdCZKPerKWh: 6.0,
		MinSOCForExport:                   20.0,
	}
}

func priceHorizon(start time.Time, prices []float64) []model.TimeBlockPrice {
	blocks := make([]model.TimeBlockPrice, len(prices))
	for i, p := range prices {
		blocks[i] = model.TimeBlockPrice{
			BlockStart:              start.Add(time.Duration(i*15) * time.Minute),
			DurationMinutes:         15,
			PriceCZKPerKWh:          p,
			EffectivePriceCZKPerKWh: p,
		}
	}
	return blocks
}

// bandedHorizon builds the forward-shift reference horizon: a 2.5 CZK early
// night, a 2.3 CZK band, a 2.0 CZK trough, and an expensive 4.0 CZK day.
func bandedHorizon(start time.Time) []model.TimeBlockPrice {
	prices := make([]float64, 256)
	for i := range prices {
		switch {
		case i < 48:
			prices[i] = 2.5
		case i < 80:
			prices[i] = 2.3
		case i < 112:
			prices[i] = 2.0
		default:
			prices[i] = 4.0
		}
	}
	return priceHorizon(start, prices)
}

func TestPlanForwardShiftCharging_SkipsExpensiveEarlyNight(t *testing.T) {
	start := time.Date(2026, 1, 15, 22, 0, 0, 0, time.UTC)
	blocks := bandedHorizon(start)

	// 4 hours of charging = 16 blocks, 15% tolerance over the 2.0 reference.
	plan := planForwardShiftCharging(blocks, 0, 16, 0.15)

	require.Len(t, plan.selected, 16)
	chargesAt := map[float64]int{}
	for idx := range plan.selected {
		chargesAt[blocks[idx].PriceCZKPerKWh]++
	}
	require.Zero(t, chargesAt[2.5], "early-night 2.5 CZK blocks must never be charge candidates")
	require.GreaterOrEqual(t, chargesAt[2.0], chargesAt[2.5])
	require.Less(t, plan.avgPrice, 2.4)
}

func TestPlanForwardShiftCharging_PrefersRunsOverSingletonCheapBlocks(t *testing.T) {
	start := time.Date(2026, 1, 15, 22, 0, 0, 0, time.UTC)
	// A lone 2.0 block surrounded by expensive neighbours, then a contiguous
	// 2.1 run: the run wins despite the singleton being cheaper.
	blocks := priceHorizon(start, []float64{3.0, 3.0, 2.0, 3.0, 3.0, 2.1, 2.1, 3.0})

	plan := planForwardShiftCharging(blocks, 0, 2, 0.15)

	require.Len(t, plan.selected, 2)
	require.True(t, plan.selected[5])
	require.True(t, plan.selected[6])
	require.False(t, plan.selected[2])
}

func TestPlanForwardShiftCharging_SingletonsFillTheGap(t *testing.T) {
	start := time.Date(2026, 1, 15, 22, 0, 0, 0, time.UTC)
	blocks := priceHorizon(start, []float64{3.0, 2.0, 3.0, 2.1, 2.1, 3.0})

	plan := planForwardShiftCharging(blocks, 0, 3, 0.15)

	require.Len(t, plan.selected, 3)
	require.True(t, plan.selected[3])
	require.True(t, plan.selected[4])
	require.True(t, plan.selected[1], "cheapest ungrouped eligible block fills the remainder")
}

func TestRequiredEnergy_EveningPeakTargetAndBlockCount(t *testing.T) {
	cfg := testControlConfig()

	energy, blocks := requiredEnergyKWh(cfg, 50.0, true)

	// 15 kWh * 40% / 0.95 efficiency, at 1.25 kWh per block.
	require.InDelta(t, 6.3158, energy, 1e-3)
	require.Equal(t, 6, blocks)
}

func TestRequiredEnergy_FullBatteryNeedsNothing(t *testing.T) {
	cfg := testControlConfig()
	energy, blocks := requiredEnergyKWh(cfg, 95.0, true)
	require.Zero(t, energy)
	require.Zero(t, blocks)
}

// evalContextAt builds a context with zero forecast consumption, so charge
// selection is driven purely by the tolerance band rather than deficit
// coverage; tests that exercise deficit coverage set consumption explicitly.
func evalContextAt(blocks []model.TimeBlockPrice, idx int, cfg ControlConfig, soc float64) EvaluationContext {
	return EvaluationContext{
		PriceBlock:        blocks[idx],
		ControlConfig:     cfg,
		CurrentBatterySOC: soc,
		AllPriceBlocks:    blocks,
	}
}

func TestEvaluate_ChargesInCheapTroughNotEarlyNight(t *testing.T) {
	s := NewWinterAdaptiveStrategy(true)
	cfg := testControlConfig()
	start := time.Date(2026, 1, 15, 22, 0, 0, 0, time.UTC)
	blocks := bandedHorizon(start)

	early := s.Evaluate(evalContextAt(blocks, 0, cfg, 40.0))
	require.Equal(t, model.SelfUse, early.Mode, "2.5 CZK early-night block must not charge")

	trough := s.Evaluate(evalContextAt(blocks, 80, cfg, 40.0))
	require.Equal(t, model.ForceCharge, trough.Mode, "2.0 CZK trough block is a charge candidate")
	require.Negative(t, trough.NetProfitCZK)
}

func TestEvaluate_NegativePriceForcesCharge(t *testing.T) {
	s := NewWinterAdaptiveStrategy(true)
	cfg := testControlConfig()
	start := time.Date(2026, 1, 15, 22, 0, 0, 0, time.UTC)
	blocks := priceHorizon(start, []float64{2.0, -0.5, 2.0, 2.0})

	eval := s.Evaluate(evalContextAt(blocks, 1, cfg, 60.0))
	require.Equal(t, model.ForceCharge, eval.Mode)
}

func TestEvaluate_NegativePriceSkippedWhenFullUnlessConfigured(t *testing.T) {
	s := NewWinterAdaptiveStrategy(true)
	cfg := testControlConfig()
	start := time.Date(2026, 1, 15, 22, 0, 0, 0, time.UTC)
	blocks := priceHorizon(start, []float64{2.0, -0.5, 2.0, 2.0})

	full := s.Evaluate(evalContextAt(blocks, 1, cfg, 100.0))
	require.NotEqual(t, model.ForceCharge, full.Mode)

	cfg.ChargeOnNegativeEvenIfFull = true
	forced := s.Evaluate(evalContextAt(blocks, 1, cfg, 100.0))
	require.Equal(t, model.ForceCharge, forced.Mode)
}

func TestEvaluate_PriceSpikeForcesDischargeAboveExportFloor(t *testing.T) {
	s := NewWinterAdaptiveStrategy(true)
	cfg := testControlConfig()
	start := time.Date(2026, 1, 15, 22, 0, 0, 0, time.UTC)
	blocks := priceHorizon(start, []float64{2.0, 2.0, 8.0, 2.0})

	high := s.Evaluate(evalContextAt(blocks, 2, cfg, 90.0))
	require.Equal(t, model.ForceDischarge, high.Mode)

	low := s.Evaluate(evalContextAt(blocks, 2, cfg, 8.0))
	require.NotEqual(t, model.ForceDischarge, low.Mode, "below the discharge floor no spike discharge")
}

func TestDischargeEligible_BackupFloorBlocksDischarge(t *testing.T) {
	cfg := testControlConfig()
	start := time.Date(2026, 1, 15, 22, 0, 0, 0, time.UTC)
	blocks := priceHorizon(start, []float64{2.0, 2.0, 5.0, 2.0})

	backupFloor := 80.0
	ctx := evalContextAt(blocks, 2, cfg, 70.0)
	ctx.BackupDischargeMinSOC = &backupFloor

	require.False(t, dischargeEligible(ctx, blocks, 2, cfg, 2.0))

	ctx.BackupDischargeMinSOC = nil
	require.True(t, dischargeEligible(ctx, blocks, 2, cfg, 2.0))
}

func TestDischargeEligible_SpreadMustClearWearAndEfficiencyLoss(t *testing.T) {
	cfg := testControlConfig()
	start := time.Date(2026, 1, 15, 22, 0, 0, 0, time.UTC)
	blocks := priceHorizon(start, []float64{2.0, 2.0, 2.2, 2.0})

	// 2.2 vs an average charge price of 2.0: the 0.2 spread does not clear
	// wear (0.125) + efficiency loss (0.05 * 2.0 = 0.1).
	ctx := evalContextAt(blocks, 2, cfg, 90.0)
	require.False(t, dischargeEligible(ctx, blocks, 2, cfg, 2.0))
}

func TestProjectSOC_DeficitCoverageAddsBlocksUntilFloorHolds(t *testing.T) {
	s := NewWinterAdaptiveStrategy(true)
	cfg := testControlConfig()
	cfg.BatteryCapacityKWh = 5.0
	start := time.Date(2026, 1, 15, 22, 0, 0, 0, time.UTC)

	// Heavy consumption with no solar: the tolerance band alone cannot hold
	// the floor, so deficit coverage must pull in extra blocks.
	prices := make([]float64, 48)
	for i := range prices {
		prices[i] = 3.0
	}
	prices[10] = 2.0
	blocks := priceHorizon(start, prices)

	ctx := evalContextAt(blocks, 0, cfg, 15.0)
	ctx.ConsumptionForecastKWh = 0.5
	eval := s.Evaluate(ctx)

	// The current 3.0 block is outside the tolerance band of the 2.0
	// reference, but the projected SOC breaches the floor immediately, so
	// deficit coverage pulls it in anyway.
	require.Equal(t, model.ForceCharge, eval.Mode)
}

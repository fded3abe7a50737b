package strategy

import (
	"fmt"
	"math"
	"sort"

	"github.com/devskill-org/energy-management-system/internal/model"
)

// WinterAdaptiveStrategy is the main economic brain: it targets net-deficit
// days (consumption > solar) by forward-shift charging at the absolutely
// cheapest upcoming blocks within a tolerance band, covering any projected
// SOC deficit with extra cheap blocks, and discharging when the spread over
// the average charge price clears wear and efficiency loss, or when the price
// reaches the grid-export spike threshold.
//
// Deficit coverage is folded directly into forward-shift charge selection
// rather than run as a separate pass.
type WinterAdaptiveStrategy struct {
	enabled bool
}

func NewWinterAdaptiveStrategy(enabled bool) *WinterAdaptiveStrategy {
	return &WinterAdaptiveStrategy{enabled: enabled}
}

func (s *WinterAdaptiveStrategy) Name() string    { return "Winter-Adaptive" }
func (s *WinterAdaptiveStrategy) IsEnabled() bool { return s.enabled }

// chargePlan is the result of planning forward-shift charging across the
// whole horizon: the set of block indices selected for ForceCharge, plus the
// average price paid across them (used by the discharge-eligibility test).
type chargePlan struct {
	selected map[int]bool
	avgPrice float64
}

// requiredEnergyKWh implements the required-energy estimate sub-procedure.
func requiredEnergyKWh(cfg ControlConfig, currentSOC float64, horizonCrossesEveningPeak bool) (energyKWh float64, blocksNeeded int) {
	targetSOC := cfg.EveningTargetSOC
	if targetSOC <= 0 {
		targetSOC = 90.0
	}
	if !horizonCrossesEveningPeak {
		reserve := 100.0 - cfg.MaxBatterySOC
		if reserve < 0 {
			reserve = 0
		}
		targetSOC = 100.0 - reserve
	}
	if cfg.MaxBatterySOC > 0 && targetSOC > cfg.MaxBatterySOC {
		targetSOC = cfg.MaxBatterySOC
	}

	efficiency := cfg.BatteryEfficiency
	if efficiency <= 0 {
		efficiency = 1
	}
	needed := cfg.BatteryCapacityKWh * (targetSOC - currentSOC) / 100.0
	if needed < 0 {
		needed = 0
	}
	energyKWh = needed / efficiency

	chargeRate := cfg.MaxBatteryChargeRateKW * 0.25
	if chargeRate <= 0 {
		return energyKWh, 0
	}
	blocksNeeded = int(math.Ceil(energyKWh / chargeRate))
	return energyKWh, blocksNeeded
}

// planForwardShiftCharging selects the charge blocks for the whole horizon
// starting at fromIdx, implementing the tolerance-band + preferred-run
// selection described in the forward-shift-charging sub-procedure.
func planForwardShiftCharging(allBlocks []model.TimeBlockPrice, fromIdx int, blocksNeeded int, toleranceFraction float64) chargePlan {
	plan := chargePlan{selected: map[int]bool{}}
	if blocksNeeded <= 0 || fromIdx >= len(allBlocks) {
		return plan
	}

	upcoming := allBlocks[fromIdx:]
	reference := math.Inf(1)
	for _, b := range upcoming {
		if b.PriceCZKPerKWh < reference {
			reference = b.PriceCZKPerKWh
		}
	}
	if math.IsInf(reference, 1) {
		return plan
	}
	if toleranceFraction <= 0 {
		toleranceFraction = 0.15
	}
	threshold := reference * (1 + toleranceFraction)

	type run struct {
		startIdx, endIdx int // absolute indices, endIdx exclusive
		avgPrice         float64
	}
	var runs []run
	var current *run
	for i, b := range upcoming {
		absIdx := fromIdx + i
		eligible := b.PriceCZKPerKWh <= threshold
		if eligible {
			if current == nil {
				current = &run{startIdx: absIdx, endIdx: absIdx + 1, avgPrice: b.PriceCZKPerKWh}
			} else {
				n := float64(current.endIdx - current.startIdx)
				current.avgPrice = (current.avgPrice*n + b.PriceCZKPerKWh) / (n + 1)
				current.endIdx = absIdx + 1
			}
		} else if current != nil {
			runs = append(runs, *current)
			current = nil
		}
	}
	if current != nil {
		runs = append(runs, *current)
	}

	// Prefer runs of length >= 2 over singleton blocks; within the same
	// preference class, lower average price wins.
	sort.SliceStable(runs, func(i, j int) bool {
		li, lj := runs[i].endIdx-runs[i].startIdx, runs[j].endIdx-runs[j].startIdx
		pi, pj := li >= 2, lj >= 2
		if pi != pj {
			return pi
		}
		return runs[i].avgPrice < runs[j].avgPrice
	})

	remaining := blocksNeeded
	var sumPrice float64
	var countSelected int
	selectBlock := func(idx int) {
		if plan.selected[idx] || remaining <= 0 {
			return
		}
		plan.selected[idx] = true
		sumPrice += allBlocks[idx].PriceCZKPerKWh
		countSelected++
		remaining--
	}

	for _, r := range runs {
		if remaining <= 0 {
			break
		}
		for idx := r.startIdx; idx < r.endIdx && remaining > 0; idx++ {
			selectBlock(idx)
		}
	}

	if remaining > 0 {
		// Fill the gap from the cheapest ungrouped eligible blocks (any
		// eligible block not already selected, cheapest first).
		type cand struct {
			idx   int
			price float64
		}
		var cands []cand
		for i, b := range upcoming {
			absIdx := fromIdx + i
			if plan.selected[absIdx] || b.PriceCZKPerKWh > threshold {
				continue
			}
			cands = append(cands, cand{idx: absIdx, price: b.PriceCZKPerKWh})
		}
		sort.Slice(cands, func(i, j int) bool { return cands[i].price < cands[j].price })
		for _, c := range cands {
			if remaining <= 0 {
				break
			}
			selectBlock(c.idx)
		}
	}

	if countSelected > 0 {
		plan.avgPrice = sumPrice / float64(countSelected)
	}
	return plan
}

// projectSOC walks the horizon forward from currentSOC, applying the given
// charge plan and any discharge decisions, and returns the minimum projected
// SOC reached plus the index (if any) where it first breaches floor.
func projectSOC(allBlocks []model.TimeBlockPrice, fromIdx int, currentSOC float64, cfg ControlConfig, plan chargePlan, consumptionPerBlockKWh, solarPerBlockKWh float64, backupMinSOC *float64) (minSOC float64, breachIdx int) {
	soc := currentSOC
	minSOC = soc
	breachIdx = -1
	chargeRate := cfg.MaxBatteryChargeRateKW * 0.25
	capacity := cfg.BatteryCapacityKWh
	if capacity <= 0 {
		return minSOC, breachIdx
	}
	floor := math.Max(cfg.MinBatterySOC, cfg.HardwareMinBatterySOC)
	if backupMinSOC != nil {
		floor = math.Max(floor, *backupMinSOC)
	}

	for i := fromIdx; i < len(allBlocks); i++ {
		if plan.selected[i] {
			soc += (chargeRate * cfg.BatteryEfficiency / capacity) * 100.0
		} else {
			net := consumptionPerBlockKWh - solarPerBlockKWh
			if net > 0 {
				soc -= (net / capacity) * 100.0
			}
		}
		if cfg.MaxBatterySOC > 0 && soc > cfg.MaxBatterySOC {
			soc = cfg.MaxBatterySOC
		}
		if soc < 0 {
			soc = 0
		}
		if soc < minSOC {
			minSOC = soc
		}
		if soc < floor && breachIdx == -1 {
			breachIdx = i
		}
	}
	return minSOC, breachIdx
}

func (s *WinterAdaptiveStrategy) Evaluate(ctx EvaluationContext) BlockEvaluation {
	eval := NewBlockEvaluation(ctx.PriceBlock.BlockStart, ctx.PriceBlock.DurationMinutes, model.SelfUse, s.Name())
	eval.Assumptions = Assumptions{
		SolarForecastKWh:         ctx.SolarForecastKWh,
		ConsumptionForecastKWh:   ctx.ConsumptionForecastKWh,
		CurrentBatterySOC:        ctx.CurrentBatterySOC,
		BatteryEfficiency:        ctx.ControlConfig.BatteryEfficiency,
		BatteryWearCostCZKPerKWh: ctx.ControlConfig.BatteryWearCostCZKPerKWh,
		GridImportPriceCZKPerKWh: ctx.PriceBlock.PriceCZKPerKWh,
		GridExportPriceCZKPerKWh: ctx.GridExportPriceCZKPerKWh,
	}

	if ctx.AllPriceBlocks == nil {
		eval.Reason = "No price data available for winter-adaptive planning"
		eval.Rule = "no_price_data"
		return eval
	}
	allBlocks := ctx.AllPriceBlocks

	currentIdx := -1
	for i, b := range allBlocks {
		if b.BlockStart.Equal(ctx.PriceBlock.BlockStart) {
			currentIdx = i
			break
		}
	}
	if currentIdx == -1 {
		eval.Reason = "Could not find current block in price data"
		eval.Rule = "block_not_in_horizon"
		return eval
	}

	cfg := ctx.ControlConfig
	horizonCrossesEvening := false
	eveningHour := cfg.EveningPeakStartHour
	if eveningHour == 0 {
		eveningHour = 17
	}
	for _, b := range allBlocks[currentIdx:] {
		if b.BlockStart.Hour() == eveningHour {
			horizonCrossesEvening = true
			break
		}
	}

	_, blocksNeeded := requiredEnergyKWh(cfg, ctx.CurrentBatterySOC, horizonCrossesEvening)
	plan := planForwardShiftCharging(allBlocks, currentIdx, blocksNeeded, cfg.ChargeToleranceFraction)

	// Deficit coverage: project SOC and add extra cheap-eligible blocks
	// until the safety floor holds, even beyond the tolerance band.
	safetyFloor := math.Max(cfg.MinBatterySOC, cfg.HardwareMinBatterySOC)
	if ctx.BackupDischargeMinSOC != nil {
		safetyFloor = math.Max(safetyFloor, *ctx.BackupDischargeMinSOC)
	}
	minSOC, breachIdx := projectSOC(allBlocks, currentIdx, ctx.CurrentBatterySOC, cfg, plan, ctx.ConsumptionForecastKWh, ctx.SolarForecastKWh, ctx.BackupDischargeMinSOC)
	for breachIdx != -1 && minSOC < safetyFloor {
		added := addCheapestRemainingBlock(allBlocks, currentIdx, plan)
		if !added {
			break
		}
		minSOC, breachIdx = projectSOC(allBlocks, currentIdx, ctx.CurrentBatterySOC, cfg, plan, ctx.ConsumptionForecastKWh, ctx.SolarForecastKWh, ctx.BackupDischargeMinSOC)
	}

	// Negative price override: always eligible to charge regardless of the
	// plan above.
	if cfg.NegativePriceHandlingEnabled && ctx.PriceBlock.PriceCZKPerKWh <= 0 {
		if cfg.ChargeOnNegativeEvenIfFull || ctx.CurrentBatterySOC < cfg.MaxBatterySOC {
			eval.Mode = model.ForceCharge
			eval.Reason = "Negative price: charging regardless of plan"
			eval.Rule = "negative_price_charge"
			return finalizeChargeEvaluation(eval, ctx, 1.0)
		}
	}

	if plan.selected[currentIdx] {
		eval.Mode = model.ForceCharge
		eval.Reason = fmt.Sprintf("Forward-shift charge: reference-band selection (avg charge price %.3f CZK)", plan.avgPrice)
		eval.Rule = "forward_shift_charge"
		return finalizeChargeEvaluation(eval, ctx, 1.0)
	}

	// Grid-export price spike override: discharge even from high SOC.
	if cfg.GridExportPriceThresholdCZKPerKWh > 0 && ctx.PriceBlock.PriceCZKPerKWh >= cfg.GridExportPriceThresholdCZKPerKWh {
		if ctx.CurrentBatterySOC >= cfg.MinSOCForExport {
			eval.Mode = model.ForceDischarge
			eval.Reason = "Price spike above export threshold: force-discharge"
			eval.Rule = "export_spike_discharge"
			return finalizeDischargeEvaluation(eval, ctx, plan.avgPrice)
		}
	}

	if dischargeEligible(ctx, allBlocks, currentIdx, cfg, plan.avgPrice) {
		eval.Mode = model.ForceDischarge
		eval.Reason = "Discharge: price clears wear + efficiency loss over average charge price"
		eval.Rule = "spread_discharge"
		return finalizeDischargeEvaluation(eval, ctx, plan.avgPrice)
	}

	eval.Mode = model.SelfUse
	eval.Reason = "No charge or discharge condition met: self-use"
	eval.Rule = "self_use"

	solar := ctx.SolarForecastKWh
	consumption := ctx.ConsumptionForecastKWh
	eval.EnergyFlows.SolarGenerationKWh = solar
	eval.EnergyFlows.HouseholdConsumptionKWh = consumption
	if solar >= consumption {
		eval.EnergyFlows.GridExportKWh = solar - consumption
		eval.RevenueCZK = GridExportRevenue(eval.EnergyFlows.GridExportKWh, ctx.GridExportPriceCZKPerKWh)
	} else {
		deficit := consumption - solar
		eval.EnergyFlows.GridImportKWh = deficit
		eval.CostCZK = GridImportCost(deficit, ctx.PriceBlock.PriceCZKPerKWh)
	}
	eval.CalculateNetProfit()
	return eval
}

func addCheapestRemainingBlock(allBlocks []model.TimeBlockPrice, fromIdx int, plan chargePlan) bool {
	bestIdx := -1
	bestPrice := math.Inf(1)
	for i := fromIdx; i < len(allBlocks); i++ {
		if plan.selected[i] {
			continue
		}
		if allBlocks[i].PriceCZKPerKWh < bestPrice {
			bestPrice = allBlocks[i].PriceCZKPerKWh
			bestIdx = i
		}
	}
	if bestIdx == -1 {
		return false
	}
	plan.selected[bestIdx] = true
	return true
}

// dischargeEligible implements the discharge-eligibility test: SOC
// projection at or above the floor, price spread over average charge price
// clearing wear + efficiency loss, and membership among the top-N most
// expensive upcoming blocks.
func dischargeEligible(ctx EvaluationContext, allBlocks []model.TimeBlockPrice, currentIdx int, cfg ControlConfig, avgChargePrice float64) bool {
	floor := math.Max(cfg.MinBatterySOC, math.Max(cfg.HardwareMinBatterySOC, 0))
	if ctx.BackupDischargeMinSOC != nil {
		floor = math.Max(floor, *ctx.BackupDischargeMinSOC)
	}
	if ctx.CurrentBatterySOC < floor {
		return false
	}

	efficiencyLossPriceEquivalent := (1 - cfg.BatteryEfficiency) * avgChargePrice
	spreadRequired := cfg.BatteryWearCostCZKPerKWh + efficiencyLossPriceEquivalent
	if avgChargePrice > 0 && ctx.PriceBlock.PriceCZKPerKWh-avgChargePrice <= spreadRequired {
		return false
	}

	n := int(cfg.ForceDischargeHours * 4)
	if n <= 0 {
		n = 4
	}
	type priced struct{ price float64 }
	prices := make([]priced, 0, len(allBlocks)-currentIdx)
	for _, b := range allBlocks[currentIdx:] {
		prices = append(prices, priced{price: b.PriceCZKPerKWh})
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i].price > prices[j].price })
	if n > len(prices) {
		n = len(prices)
	}
	if n == 0 {
		return false
	}
	thresholdPrice := prices[n-1].price
	return ctx.PriceBlock.PriceCZKPerKWh >= thresholdPrice
}

func finalizeChargeEvaluation(eval BlockEvaluation, ctx EvaluationContext, fraction float64) BlockEvaluation {
	cfg := ctx.ControlConfig
	maxChargeThisBlock := cfg.MaxBatteryChargeRateKW * 0.25 * fraction
	chargeKWh := maxChargeThisBlock

	eval.EnergyFlows.SolarGenerationKWh = ctx.SolarForecastKWh
	eval.EnergyFlows.HouseholdConsumptionKWh = ctx.ConsumptionForecastKWh
	eval.EnergyFlows.BatteryChargeKWh = chargeKWh * cfg.BatteryEfficiency
	eval.EnergyFlows.GridImportKWh = chargeKWh + ctx.ConsumptionForecastKWh - math.Max(0, ctx.SolarForecastKWh)

	importCost := GridImportCost(eval.EnergyFlows.GridImportKWh, ctx.PriceBlock.PriceCZKPerKWh)
	wearCost := BatteryDegradationCost(chargeKWh, cfg.BatteryWearCostCZKPerKWh)
	efficiencyLossCost := GridImportCost(EfficiencyLoss(chargeKWh, cfg.BatteryEfficiency), ctx.PriceBlock.PriceCZKPerKWh)
	eval.CostCZK = importCost + wearCost + efficiencyLossCost
	eval.RevenueCZK = 0
	eval.CalculateNetProfit()
	return eval
}

func finalizeDischargeEvaluation(eval BlockEvaluation, ctx EvaluationContext, avgChargePrice float64) BlockEvaluation {
	cfg := ctx.ControlConfig
	dischargeKWh := cfg.MaxBatteryChargeRateKW * 0.25

	eval.EnergyFlows.BatteryDischargeKWh = dischargeKWh
	eval.EnergyFlows.GridExportKWh = math.Max(0, dischargeKWh-ctx.ConsumptionForecastKWh)

	wearCost := BatteryDegradationCost(dischargeKWh, cfg.BatteryWearCostCZKPerKWh)
	efficiencyLossCost := GridImportCost(EfficiencyLoss(dischargeKWh, cfg.BatteryEfficiency), avgChargePrice)
	eval.CostCZK = wearCost + efficiencyLossCost
	eval.RevenueCZK = GridExportRevenue(dischargeKWh, ctx.PriceBlock.PriceCZKPerKWh)
	eval.CalculateNetProfit()
	return eval
}

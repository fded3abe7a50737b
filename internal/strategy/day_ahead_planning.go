package strategy

import (
	"fmt"
	"math"
	"sort"

	"github.com/devskill-org/energy-management-system/internal/model"
)

// DayAheadChargePlanningStrategy performs multi-period optimization across
// the whole price horizon: it picks the N absolutely cheapest blocks needed
// to reach target SOC, even if they are hours away, rather than settling
// for a "relatively cheap" nearby block. Disabled by default; the
// winter-adaptive strategy's tolerance-band variant is the default economic
// brain (see WinterAdaptiveStrategy).
type DayAheadChargePlanningStrategy struct {
	enabled bool
}

func NewDayAheadChargePlanningStrategy(enabled bool) *DayAheadChargePlanningStrategy {
	return &DayAheadChargePlanningStrategy{enabled: enabled}
}

func (s *DayAheadChargePlanningStrategy) Name() string    { return "Day-Ahead-Planning" }
func (s *DayAheadChargePlanningStrategy) IsEnabled() bool { return s.enabled }

type cheapBlock struct {
	idx   int
	price float64
}

func findCheapestChargingWindows(allBlocks []model.TimeBlockPrice, currentBlockStart model.TimeBlockPrice, numBlocksNeeded int) []cheapBlock {
	var upcoming []cheapBlock
	for i, b := range allBlocks {
		if b.BlockStart.Before(currentBlockStart.BlockStart) {
			continue
		}
		upcoming = append(upcoming, cheapBlock{idx: i, price: b.PriceCZKPerKWh})
	}
	sort.Slice(upcoming, func(i, j int) bool { return upcoming[i].price < upcoming[j].price })
	if numBlocksNeeded < len(upcoming) {
		upcoming = upcoming[:numBlocksNeeded]
	}
	return upcoming
}

func (s *DayAheadChargePlanningStrategy) shouldChargeNow(ctx EvaluationContext, allBlocks []model.TimeBlockPrice) (bool, string) {
	currentIdx := -1
	for i, b := range allBlocks {
		if b.BlockStart.Equal(ctx.PriceBlock.BlockStart) {
			currentIdx = i
			break
		}
	}
	if currentIdx == -1 {
		return false, "Could not find current block in price data"
	}

	currentPrice := ctx.PriceBlock.PriceCZKPerKWh
	targetSOC := 90.0
	energyNeeded := ctx.ControlConfig.BatteryCapacityKWh * (targetSOC - ctx.CurrentBatterySOC) / 100.0
	if energyNeeded <= 0 {
		return false, fmt.Sprintf("Battery already at %.1f%% (target: %.0f%%)", ctx.CurrentBatterySOC, targetSOC)
	}

	blocksNeeded := int(math.Ceil(energyNeeded / (ctx.ControlConfig.MaxBatteryChargeRateKW * 0.25)))
	cheapest := findCheapestChargingWindows(allBlocks, ctx.PriceBlock, blocksNeeded)

	isInCheapest := false
	for _, c := range cheapest {
		if c.idx == currentIdx {
			isInCheapest = true
			break
		}
	}

	if !isInCheapest {
		maxCheapPrice := 0.0
		for _, c := range cheapest {
			if c.price > maxCheapPrice {
				maxCheapPrice = c.price
			}
		}
		return false, fmt.Sprintf("Not in day-ahead cheapest blocks (current: %.3f CZK, max cheap: %.3f CZK, need %d blocks)",
			currentPrice, maxCheapPrice, blocksNeeded)
	}

	return true, fmt.Sprintf("In day-ahead cheapest blocks (%.3f CZK, %d of %d blocks planned)",
		currentPrice, len(cheapest), blocksNeeded)
}

func (s *DayAheadChargePlanningStrategy) Evaluate(ctx EvaluationContext) BlockEvaluation {
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
		eval.Reason = "No price data available for day-ahead planning"
		eval.Rule = "no_price_data"
		return eval
	}

	shouldCharge, reason := s.shouldChargeNow(ctx, ctx.AllPriceBlocks)
	if !shouldCharge {
		eval.Mode = model.SelfUse
		eval.Reason = reason
		eval.Rule = "self_use"

		solar := ctx.SolarForecastKWh
		consumption := ctx.ConsumptionForecastKWh
		eval.EnergyFlows.SolarGenerationKWh = solar
		eval.EnergyFlows.HouseholdConsumptionKWh = consumption

		if solar >= consumption {
			eval.EnergyFlows.GridImportKWh = 0
			eval.RevenueCZK = GridImportCost(consumption, ctx.PriceBlock.PriceCZKPerKWh)
			eval.CostCZK = 0
		} else {
			deficit := consumption - solar
			eval.EnergyFlows.GridImportKWh = deficit
			eval.CostCZK = GridImportCost(deficit, ctx.PriceBlock.PriceCZKPerKWh)
			eval.RevenueCZK = 0
		}
		eval.CalculateNetProfit()
		return eval
	}

	eval.Mode = model.ForceCharge
	targetSOC := 90.0
	maxChargeThisBlock := ctx.ControlConfig.MaxBatteryChargeRateKW * 0.25
	energyNeededToTarget := ctx.ControlConfig.BatteryCapacityKWh * (targetSOC - ctx.CurrentBatterySOC) / 100.0
	chargeKWh := math.Min(maxChargeThisBlock, energyNeededToTarget)

	eval.EnergyFlows.SolarGenerationKWh = ctx.SolarForecastKWh
	eval.EnergyFlows.HouseholdConsumptionKWh = ctx.ConsumptionForecastKWh
	eval.EnergyFlows.BatteryChargeKWh = chargeKWh * ctx.ControlConfig.BatteryEfficiency
	eval.EnergyFlows.GridImportKWh = chargeKWh + ctx.ConsumptionForecastKWh - math.Max(0, ctx.SolarForecastKWh)

	importCost := GridImportCost(eval.EnergyFlows.GridImportKWh, ctx.PriceBlock.PriceCZKPerKWh)
	wearCost := BatteryDegradationCost(chargeKWh, ctx.ControlConfig.BatteryWearCostCZKPerKWh)
	efficiencyLossCost := GridImportCost(EfficiencyLoss(chargeKWh, ctx.ControlConfig.BatteryEfficiency), ctx.PriceBlock.PriceCZKPerKWh)
	eval.CostCZK = importCost + wearCost + efficiencyLossCost

	var eveningSum float64
	var eveningCount int
	for _, b := range ctx.AllPriceBlocks {
		hour := b.BlockStart.Hour()
		if hour >= 17 && hour < 23 {
			eveningSum += b.PriceCZKPerKWh
			eveningCount++
		}
	}
	assumedEveningPrice := ctx.PriceBlock.PriceCZKPerKWh * 1.5
	if eveningCount > 0 && eveningSum > 0 {
		assumedEveningPrice = eveningSum / float64(eveningCount)
	}

	eval.RevenueCZK = GridImportCost(eval.EnergyFlows.BatteryChargeKWh, assumedEveningPrice)
	eval.CalculateNetProfit()
	eval.Reason = fmt.Sprintf("Charging %.2f kWh (%s)", chargeKWh, reason)
	eval.Rule = "day_ahead_cheapest"
	return eval
}

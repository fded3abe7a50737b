package strategy

import (
	"fmt"
	"math"
	"sort"

	"github.com/devskill-org/energy-management-system/internal/model"
)

// MorningPreChargeStrategy tops the battery off overnight ahead of the
// morning price peak (00:00-10:00), charging only from the night window's
// cheapest blocks when the spread over the morning peak is worth it.
type MorningPreChargeStrategy struct {
	enabled bool
}

func NewMorningPreChargeStrategy(enabled bool) *MorningPreChargeStrategy {
	return &MorningPreChargeStrategy{enabled: enabled}
}

func (s *MorningPreChargeStrategy) Name() string    { return "Morning-Pre-Charge" }
func (s *MorningPreChargeStrategy) IsEnabled() bool { return s.enabled }

func findMorningPeakPrice(allBlocks []model.TimeBlockPrice) (float64, bool) {
	found := false
	var max float64
	for _, b := range allBlocks {
		hour := b.BlockStart.Hour()
		if hour < 0 || hour >= 10 {
			continue
		}
		if !found || b.PriceCZKPerKWh > max {
			max = b.PriceCZKPerKWh
			found = true
		}
	}
	return max, found
}

type indexedBlock struct {
	idx   int
	start model.TimeBlockPrice
}

func findCheapestNightBlocks(allBlocks []model.TimeBlockPrice, currentBlockStart model.TimeBlockPrice) []indexedBlock {
	var night []indexedBlock
	for i, b := range allBlocks {
		hour := b.BlockStart.Hour()
		if hour >= 8 && hour < 22 {
			continue
		}
		if b.BlockStart.Before(currentBlockStart.BlockStart) {
			continue
		}
		night = append(night, indexedBlock{idx: i, start: b})
	}
	sort.Slice(night, func(i, j int) bool {
		return night[i].start.PriceCZKPerKWh < night[j].start.PriceCZKPerKWh
	})
	if len(night) > 4 {
		night = night[:4]
	}
	return night
}

func (s *MorningPreChargeStrategy) shouldChargeNow(ctx EvaluationContext, allBlocks []model.TimeBlockPrice) (bool, string, float64) {
	currentIdx := -1
	for i, b := range allBlocks {
		if b.BlockStart.Equal(ctx.PriceBlock.BlockStart) {
			currentIdx = i
			break
		}
	}
	if currentIdx == -1 {
		return false, "Could not find current block in price data", 0
	}

	currentHour := ctx.PriceBlock.BlockStart.Hour()
	if currentHour >= 8 && currentHour < 22 {
		return false, fmt.Sprintf("Not in night window (current hour: %d)", currentHour), 0
	}

	morningPeakPrice, ok := findMorningPeakPrice(allBlocks)
	if !ok {
		return false, "No morning peak price data available", 0
	}

	nightBlocks := findCheapestNightBlocks(allBlocks, ctx.PriceBlock)
	if len(nightBlocks) == 0 {
		return false, "No night blocks available", 0
	}

	minNightPrice := nightBlocks[0].start.PriceCZKPerKWh
	priceDiff := morningPeakPrice - minNightPrice
	if priceDiff <= 0.5 {
		return false, fmt.Sprintf("Price difference too small (morning peak: %.3f CZK, night min: %.3f CZK, diff: %.3f CZK)",
			morningPeakPrice, minNightPrice, priceDiff), 0
	}

	isInCheapest := false
	maxCheapPrice := 0.0
	for _, nb := range nightBlocks {
		if nb.idx == currentIdx {
			isInCheapest = true
		}
		if nb.start.PriceCZKPerKWh > maxCheapPrice {
			maxCheapPrice = nb.start.PriceCZKPerKWh
		}
	}
	if !isInCheapest {
		return false, fmt.Sprintf("Not in cheapest night blocks (current: %.3f CZK, max cheap: %.3f CZK, %d blocks)",
			ctx.PriceBlock.PriceCZKPerKWh, maxCheapPrice, len(nightBlocks)), 0
	}

	remaining := 0
	for _, nb := range nightBlocks {
		if !nb.start.BlockStart.Before(ctx.PriceBlock.BlockStart) {
			remaining++
		}
	}

	return true, fmt.Sprintf("Charging during cheap night block (%.3f CZK, %d of %d blocks, morning peak: %.3f CZK)",
		ctx.PriceBlock.PriceCZKPerKWh, remaining, len(nightBlocks), morningPeakPrice), morningPeakPrice
}

func (s *MorningPreChargeStrategy) Evaluate(ctx EvaluationContext) BlockEvaluation {
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
		eval.Reason = "No price data available for morning pre-charge planning"
		eval.Rule = "no_price_data"
		return eval
	}

	shouldCharge, reason, morningPeakPrice := s.shouldChargeNow(ctx, ctx.AllPriceBlocks)
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

	targetSOC := 50.0
	if ctx.CurrentBatterySOC < 50.0 {
		targetSOC = 60.0
	}

	maxChargeThisBlock := ctx.ControlConfig.MaxBatteryChargeRateKW * 0.25
	energyNeeded := ctx.ControlConfig.BatteryCapacityKWh * (targetSOC - ctx.CurrentBatterySOC) / 100.0
	chargeKWh := math.Max(0, math.Min(maxChargeThisBlock, energyNeeded))

	eval.EnergyFlows.SolarGenerationKWh = ctx.SolarForecastKWh
	eval.EnergyFlows.HouseholdConsumptionKWh = ctx.ConsumptionForecastKWh
	eval.EnergyFlows.BatteryChargeKWh = chargeKWh * ctx.ControlConfig.BatteryEfficiency
	eval.EnergyFlows.GridImportKWh = chargeKWh + ctx.ConsumptionForecastKWh - math.Max(0, ctx.SolarForecastKWh)

	importCost := GridImportCost(eval.EnergyFlows.GridImportKWh, ctx.PriceBlock.PriceCZKPerKWh)
	wearCost := BatteryDegradationCost(chargeKWh, ctx.ControlConfig.BatteryWearCostCZKPerKWh)
	efficiencyLossCost := GridImportCost(EfficiencyLoss(chargeKWh, ctx.ControlConfig.BatteryEfficiency), ctx.PriceBlock.PriceCZKPerKWh)

	eval.CostCZK = importCost + wearCost + efficiencyLossCost
	eval.RevenueCZK = GridImportCost(eval.EnergyFlows.BatteryChargeKWh, morningPeakPrice)
	eval.CalculateNetProfit()
	eval.Reason = fmt.Sprintf("Charging %.2f kWh - %s", chargeKWh, reason)
	eval.Rule = "morning_precharge"
	return eval
}

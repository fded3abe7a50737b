package strategy

import "github.com/devskill-org/energy-management-system/internal/model"

// SelfUseStrategy always recommends SelfUse. It is registered at the lowest
// priority as the safety net beneath every economic strategy, so the
// PluginManager's fallback sentinel is reached only when no enabled plugin
// returns a decision.
type SelfUseStrategy struct {
	enabled bool
}

func NewSelfUseStrategy() *SelfUseStrategy {
	return &SelfUseStrategy{enabled: true}
}

func (s *SelfUseStrategy) Name() string    { return "Self-Use" }
func (s *SelfUseStrategy) IsEnabled() bool { return s.enabled }

func (s *SelfUseStrategy) Evaluate(ctx EvaluationContext) BlockEvaluation {
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
	eval.Reason = "Self-use: serving load from solar then grid"
	eval.Rule = "self_use"
	return eval
}

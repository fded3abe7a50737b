package config

import "github.com/devskill-org/energy-management-system/internal/strategy"

// StrategyControlConfig projects the subset of Config the strategy package
// needs into a strategy.ControlConfig.
func (c *Config) StrategyControlConfig() strategy.ControlConfig {
	return strategy.ControlConfig{
		BatteryCapacityKWh:                 c.BatteryCapacityKWh,
		MaxBatteryChargeRateKW:             c.MaxBatteryChargeRateKW,
		BatteryEfficiency:                  c.BatteryEfficiency,
		BatteryWearCostCZKPerKWh:           c.BatteryWearCostCZKPerKWh,
		MinBatterySOC:                      c.MinBatterySOC,
		MaxBatterySOC:                      c.MaxBatterySOC,
		HardwareMinBatterySOC:              c.HardwareMinBatterySOC,
		EveningTargetSOC:                   c.EveningTargetSOC,
		EveningPeakStartHour:               c.EveningPeakStartHour,
		ForceDischargeHours:                c.ForceDischargeHours,
		ChargeToleranceFraction:            c.ChargeToleranceFraction,
		NegativePriceHandlingEnabled:       c.NegativePriceHandlingEnabled,
		ChargeOnNegativeEvenIfFull:         c.ChargeOnNegativeEvenIfFull,
		GridExportPriceThresholdCZKPerKWh:  c.GridExportPriceThresholdCZKPerKWh,
		MinSOCForExport:                    c.MinSOCForExport,
	}
}

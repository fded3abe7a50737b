// Package backtest replays a historical or synthetic day through the real
// decision pipeline (plugin manager + schedule generator) at 15-minute
// resolution, applying fixed battery physics to produce a per-block ledger,
// a daily cost total, and a daily energy balance.
package backtest

import (
	"fmt"
	"time"

	"github.com/devskill-org/energy-management-system/internal/config"
	"github.com/devskill-org/energy-management-system/internal/model"
	"github.com/devskill-org/energy-management-system/internal/plugin"
	"github.com/devskill-org/energy-management-system/internal/schedulegen"
)

// LedgerRow is one 15-minute block's simulated outcome.
type LedgerRow struct {
	BlockStart      time.Time                    `json:"block_start"`
	Mode            model.InverterOperationMode  `json:"mode"`
	SOCStartPercent float64                      `json:"soc_start_percent"`
	SOCEndPercent   float64                      `json:"soc_end_percent"`
	GridImportW     float64                      `json:"grid_import_w"`
	GridExportW     float64                      `json:"grid_export_w"`
	BatteryPowerW   float64                      `json:"battery_power_w"` // +charge / -discharge
	PVPowerW        float64                      `json:"pv_power_w"`
	LoadW           float64                      `json:"load_w"`
	CostCZK         float64                      `json:"cost_czk"`
	CumulativeCZK   float64                      `json:"cumulative_czk"`
}

// Result is the full outcome of one simulated day.
type Result struct {
	Ledger          []LedgerRow `json:"ledger"`
	TotalCostCZK    float64     `json:"total_cost_czk"`
	ConsumptionKWh  float64     `json:"consumption_kwh"`
	SolarKWh        float64     `json:"solar_kwh"`
	GridImportKWh   float64     `json:"grid_import_kwh"`
	GridExportKWh   float64     `json:"grid_export_kwh"`
	FinalSOCPercent float64     `json:"final_soc_percent"`
}

// Engine drives one simulated day through a plugin manager and schedule
// generator, then walks the resulting schedule block by block applying
// fixed charge/discharge physics.
type Engine struct {
	manager   *plugin.Manager
	generator *schedulegen.Generator
}

// New builds an Engine evaluating decisions through manager.
func New(manager *plugin.Manager) *Engine {
	return &Engine{manager: manager, generator: schedulegen.NewGenerator(manager)}
}

// Run simulates scenario start to finish and returns the per-block ledger.
func (e *Engine) Run(scenario Scenario) (*Result, error) {
	if len(scenario.Blocks) == 0 {
		return nil, fmt.Errorf("backtest: scenario has no blocks")
	}

	prices := model.SpotPriceData{Blocks: make([]model.TimeBlockPrice, len(scenario.Blocks)), FetchedAt: scenario.Blocks[0].BlockStart}
	for i, b := range scenario.Blocks {
		prices.Blocks[i] = model.TimeBlockPrice{
			BlockStart:              b.BlockStart,
			DurationMinutes:         15,
			PriceCZKPerKWh:          b.PriceCZKPerKWh,
			EffectivePriceCZKPerKWh: b.PriceCZKPerKWh,
		}
	}

	solarForecast := make([]float64, len(scenario.Blocks))
	consumptionForecast := make([]float64, len(scenario.Blocks))
	for i, b := range scenario.Blocks {
		solarForecast[i] = b.SolarKWh
		consumptionForecast[i] = b.ConsumptionKWh
	}

	schedule := e.generator.Generate(schedulegen.GenerateInput{
		Prices:                   prices,
		Config:                   scenario.Config,
		CurrentBatterySOCPercent: scenario.InitialSOCPercent,
		HardwareMinSOCPercent:    scenario.Config.HardwareMinBatterySOC,
		BackupDischargeMinSOC:    scenario.BackupDischargeMinSOC,
		SolarForecastKWh:         solarForecast,
		ConsumptionForecastKWh:   consumptionForecast,
		GridExportPriceCZKPerKWh: scenario.Config.GridExportPriceThresholdCZKPerKWh,
		UserControl:              model.DefaultUserControlState(),
		DefaultIdleMode:          scenario.Config.DefaultIdleMode,
		Now:                      scenario.Blocks[0].BlockStart,
	})

	return e.simulate(scenario, schedule), nil
}

// simulate walks scenario.Blocks applying the mode active at each block,
// with battery physics: charge/discharge at MaxBatteryChargeRateKW * 0.25
// (one 15-minute block's worth of energy), clamped to the SOC ceiling/floor,
// efficiency applied on the stored side.
func (e *Engine) simulate(scenario Scenario, schedule model.OperationSchedule) *Result {
	cfg := scenario.Config
	soc := scenario.InitialSOCPercent
	result := &Result{Ledger: make([]LedgerRow, 0, len(scenario.Blocks))}

	blockEnergyKWh := cfg.MaxBatteryChargeRateKW * 0.25
	socStepPercent := (blockEnergyKWh / cfg.BatteryCapacityKWh) * 100.0

	var cumulativeCZK float64

	for _, b := range scenario.Blocks {
		mode := cfg.DefaultIdleMode
		if block, ok := schedule.CurrentBlock(b.BlockStart); ok {
			mode = block.Mode
		}

		socStart := soc
		var batteryPowerKW, gridImportKWh, gridExportKWh float64

		netLoadKWh := b.ConsumptionKWh - b.SolarKWh // positive: deficit, negative: surplus

		switch mode {
		case model.ForceCharge:
			charge := blockEnergyKWh
			if soc+socStepPercent > cfg.MaxBatterySOC {
				charge = (cfg.MaxBatterySOC - soc) / 100.0 * cfg.BatteryCapacityKWh
			}
			if charge < 0 {
				charge = 0
			}
			soc += (charge / cfg.BatteryCapacityKWh) * 100.0
			batteryPowerKW = charge / 0.25
			gridImportKWh = netLoadKWh + charge/cfg.BatteryEfficiency
			if gridImportKWh < 0 {
				gridExportKWh = -gridImportKWh
				gridImportKWh = 0
			}

		case model.ForceDischarge:
			discharge := blockEnergyKWh
			if soc-socStepPercent < cfg.MinBatterySOC {
				discharge = (soc - cfg.MinBatterySOC) / 100.0 * cfg.BatteryCapacityKWh
			}
			if discharge < 0 {
				discharge = 0
			}
			soc -= (discharge / cfg.BatteryCapacityKWh) * 100.0
			batteryPowerKW = -discharge / 0.25
			deliveredKWh := discharge * cfg.BatteryEfficiency
			gridImportKWh = netLoadKWh - deliveredKWh
			if gridImportKWh < 0 {
				gridExportKWh = -gridImportKWh
				gridImportKWh = 0
			}

		default: // SelfUse, BackUpMode
			if netLoadKWh >= 0 {
				gridImportKWh = netLoadKWh
			} else {
				gridExportKWh = -netLoadKWh
			}
		}

		cost := gridImportKWh*b.PriceCZKPerKWh - gridExportKWh*cfg.GridExportPriceThresholdCZKPerKWh
		cumulativeCZK += cost

		result.Ledger = append(result.Ledger, LedgerRow{
			BlockStart:      b.BlockStart,
			Mode:            mode,
			SOCStartPercent: socStart,
			SOCEndPercent:   soc,
			GridImportW:     gridImportKWh * 4000,
			GridExportW:     gridExportKWh * 4000,
			BatteryPowerW:   batteryPowerKW * 1000,
			PVPowerW:        b.SolarKWh * 4000,
			LoadW:           b.ConsumptionKWh * 4000,
			CostCZK:         cost,
			CumulativeCZK:   cumulativeCZK,
		})

		result.ConsumptionKWh += b.ConsumptionKWh
		result.SolarKWh += b.SolarKWh
		result.GridImportKWh += gridImportKWh
		result.GridExportKWh += gridExportKWh
	}

	result.TotalCostCZK = cumulativeCZK
	result.FinalSOCPercent = soc
	return result
}

// Scenario is one simulated day's input.
type Scenario struct {
	Name                  string             `yaml:"name"`
	Config                *config.Config     `yaml:"-"`
	InitialSOCPercent     float64            `yaml:"initial_soc_percent"`
	BackupDischargeMinSOC *float64           `yaml:"backup_discharge_min_soc,omitempty"`
	Blocks                []ScenarioBlock    `yaml:"blocks"`
}

// ScenarioBlock is one 15-minute block of a scenario fixture.
type ScenarioBlock struct {
	BlockStart     time.Time `yaml:"block_start"`
	PriceCZKPerKWh float64   `yaml:"price_czk_per_kwh"`
	SolarKWh       float64   `yaml:"solar_kwh"`
	ConsumptionKWh float64   `yaml:"consumption_kwh"`
}

package backtest

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devskill-org/energy-management-system/internal/config"
)

// scenarioFile mirrors Scenario but with a yaml-friendly Config override
// block instead of a live *config.Config, since only a handful of fields
// are worth overriding per fixture.
type scenarioFile struct {
	Name                  string          `yaml:"name"`
	InitialSOCPercent     float64         `yaml:"initial_soc_percent"`
	BackupDischargeMinSOC *float64        `yaml:"backup_discharge_min_soc,omitempty"`
	ConfigOverrides       configOverrides `yaml:"config_overrides"`
	Blocks                []ScenarioBlock `yaml:"blocks"`
}

// configOverrides holds the subset of config.Config fields a scenario
// fixture may want to tune; zero-value fields fall back to
// config.DefaultConfig()'s values.
type configOverrides struct {
	BatteryCapacityKWh                 *float64 `yaml:"battery_capacity_kwh,omitempty"`
	MaxBatteryChargeRateKW             *float64 `yaml:"max_battery_charge_rate_kw,omitempty"`
	BatteryEfficiency                  *float64 `yaml:"battery_efficiency,omitempty"`
	MinBatterySOC                      *float64 `yaml:"min_battery_soc,omitempty"`
	MaxBatterySOC                      *float64 `yaml:"max_battery_soc,omitempty"`
	GridExportPriceThresholdCZKPerKWh  *float64 `yaml:"grid_export_price_threshold_czk_per_kwh,omitempty"`
	SelfUseEnabled                     *bool    `yaml:"self_use_enabled,omitempty"`
	WinterAdaptiveEnabled               *bool    `yaml:"winter_adaptive_enabled,omitempty"`
	DayAheadPlanningEnabled             *bool    `yaml:"day_ahead_planning_enabled,omitempty"`
	MorningPreChargeEnabled             *bool    `yaml:"morning_pre_charge_enabled,omitempty"`
}

func (o configOverrides) apply(cfg *config.Config) {
	if o.BatteryCapacityKWh != nil {
		cfg.BatteryCapacityKWh = *o.BatteryCapacityKWh
	}
	if o.MaxBatteryChargeRateKW != nil {
		cfg.MaxBatteryChargeRateKW = *o.MaxBatteryChargeRateKW
	}
	if o.BatteryEfficiency != nil {
		cfg.BatteryEfficiency = *o.BatteryEfficiency
	}
	if o.MinBatterySOC != nil {
		cfg.MinBatterySOC = *o.MinBatterySOC
	}
	if o.MaxBatterySOC != nil {
		cfg.MaxBatterySOC = *o.MaxBatterySOC
	}
	if o.GridExportPriceThresholdCZKPerKWh != nil {
		cfg.GridExportPriceThresholdCZKPerKWh = *o.GridExportPriceThresholdCZKPerKWh
	}
	if o.SelfUseEnabled != nil {
		cfg.SelfUseEnabled = *o.SelfUseEnabled
	}
	if o.WinterAdaptiveEnabled != nil {
		cfg.WinterAdaptiveEnabled = *o.WinterAdaptiveEnabled
	}
	if o.DayAheadPlanningEnabled != nil {
		cfg.DayAheadPlanningEnabled = *o.DayAheadPlanningEnabled
	}
	if o.MorningPreChargeEnabled != nil {
		cfg.MorningPreChargeEnabled = *o.MorningPreChargeEnabled
	}
}

// LoadScenario reads a YAML scenario fixture from path.
func LoadScenario(path string) (Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("backtest: reading scenario %s: %w", path, err)
	}

	var sf scenarioFile
	if err := yaml.Unmarshal(raw, &sf); err != nil {
		return Scenario{}, fmt.Errorf("backtest: parsing scenario %s: %w", path, err)
	}
	if len(sf.Blocks) == 0 {
		return Scenario{}, fmt.Errorf("backtest: scenario %s has no blocks", path)
	}

	cfg := config.DefaultConfig()
	sf.ConfigOverrides.apply(cfg)

	for i := range sf.Blocks {
		sf.Blocks[i].BlockStart = sf.Blocks[i].BlockStart.UTC()
	}

	return Scenario{
		Name:                  sf.Name,
		Config:                cfg,
		InitialSOCPercent:     sf.InitialSOCPercent,
		BackupDischargeMinSOC: sf.BackupDischargeMinSOC,
		Blocks:                sf.Blocks,
	}, nil
}

// GenerateSyntheticDay builds a 96-block (24h * 15min) scenario from a simple
// sinusoidal PV shape (06:00-20:00), a base load raised 1.6x in the 06-09 and
// 17-21 peak windows, and a two-tier price that is expensive in those same
// peak windows and cheap otherwise, for tests and documentation examples
// that don't need a recorded fixture.
func GenerateSyntheticDay(start time.Time, peakSolarKWh, baseLoadKWh, cheapPriceCZK, expensivePriceCZK float64) []ScenarioBlock {
	const blocksPerDay = 96
	blocks := make([]ScenarioBlock, blocksPerDay)
	for i := 0; i < blocksPerDay; i++ {
		t := start.Add(time.Duration(i*15) * time.Minute)
		hour := float64(t.Hour()) + float64(t.Minute())/60.0

		solar := 0.0
		if hour >= 6 && hour <= 20 {
			solar = peakSolarKWh * math.Sin((hour-6)/14*math.Pi)
		}

		load := baseLoadKWh
		if hour >= 6 && hour <= 9 || hour >= 17 && hour <= 21 {
			load *= 1.6
		}

		price := cheapPriceCZK
		if hour >= 6 && hour <= 9 || hour >= 17 && hour <= 21 {
			price = expensivePriceCZK
		}

		blocks[i] = ScenarioBlock{
			BlockStart:     t,
			PriceCZKPerKWh: price,
			SolarKWh:       solar,
			ConsumptionKWh: load,
		}
	}
	return blocks
}

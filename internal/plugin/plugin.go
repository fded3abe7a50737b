// Package plugin implements the strategy/plugin framework: the Plugin
// contract, the EvaluationRequest/BlockDecision wire types, and the
// PluginManager that fans evaluation out to registered plugins and merges
// their decisions.
package plugin

import (
	"time"

	"github.com/devskill-org/energy-management-system/internal/model"
)

// Battery bundles the battery facts a plugin needs to score a block.
type Battery struct {
	CurrentSOCPercent    float64 `json:"current_soc_percent"`
	HardwareMinSOCPercent float64 `json:"hardware_min_soc_percent"`
}

// Forecast bundles the per-block solar/consumption/export-price forecast.
type Forecast struct {
	SolarKWh                 float64 `json:"solar_kwh"`
	ConsumptionKWh            float64 `json:"consumption_kwh"`
	GridExportPriceCZKPerKWh  float64 `json:"grid_export_price_czk_per_kwh"`
}

// Historical bundles today's accumulated totals so far.
type Historical struct {
	GridImportTodayKWh   float64 `json:"grid_import_today_kwh"`
	ConsumptionTodayKWh  float64 `json:"consumption_today_kwh"`
}

// EvaluationRequest is the input every plugin (in-process or HTTP) receives.
type EvaluationRequest struct {
	Block                model.TimeBlockPrice   `json:"block"`
	AllBlocks            []model.TimeBlockPrice `json:"all_blocks"`
	Battery              Battery                `json:"battery"`
	Forecast             Forecast               `json:"forecast"`
	Historical           Historical             `json:"historical"`
	BackupDischargeMinSOC *float64              `json:"backup_discharge_min_soc,omitempty"`
}

// BlockDecision is what every plugin returns.
type BlockDecision struct {
	BlockStart      time.Time                    `json:"block_start"`
	DurationMinutes int                          `json:"duration_minutes"`
	Mode            model.InverterOperationMode  `json:"mode"`
	Reason          string                       `json:"reason"`
	Priority        uint8                        `json:"priority"`
	StrategyName    *string                      `json:"strategy_name,omitempty"`
	Confidence      *float64                     `json:"confidence,omitempty"`
	ExpectedProfitCZK *float64                   `json:"expected_profit_czk,omitempty"`
	DecisionUID     *string                      `json:"decision_uid,omitempty"`
}

// Plugin is the contract every strategy plugin satisfies, whether
// in-process or fronting a remote HTTP callback.
type Plugin interface {
	Name() string
	Priority() uint8
	IsEnabled() bool
	Evaluate(req EvaluationRequest) (BlockDecision, error)
}

// Package strategy implements the EconomicStrategy family: the in-process
// decision logic that scores a single 15-minute price block and recommends
// an operation mode with a full economic accounting of the recommendation.
package strategy

import (
	"time"

	"github.com/devskill-org/energy-management-system/internal/model"
)

// EnergyFlows records the energy accounting behind a block's evaluation.
type EnergyFlows struct {
	GridImportKWh          float64
	GridExportKWh          float64
	BatteryChargeKWh       float64
	BatteryDischargeKWh    float64
	SolarGenerationKWh     float64
	HouseholdConsumptionKWh float64
}

// Assumptions records the inputs a strategy used, for auditability.
type Assumptions struct {
	SolarForecastKWh            float64
	ConsumptionForecastKWh      float64
	CurrentBatterySOC           float64
	BatteryEfficiency           float64
	BatteryWearCostCZKPerKWh    float64
	GridImportPriceCZKPerKWh    float64
	GridExportPriceCZKPerKWh    float64
}

// DefaultAssumptions is the assumption set a freshly constructed evaluation
// carries before its fields are filled in.
func DefaultAssumptions() Assumptions {
	return Assumptions{
		ConsumptionForecastKWh:   0.25,
		CurrentBatterySOC:        50.0,
		BatteryEfficiency:        0.95,
		BatteryWearCostCZKPerKWh: 0.125,
		GridImportPriceCZKPerKWh: 0.50,
		GridExportPriceCZKPerKWh: 0.40,
	}
}

// BlockEvaluation is the complete economic evaluation of one time block
// produced by an EconomicStrategy.
type BlockEvaluation struct {
	BlockStart      time.Time
	DurationMinutes int
	Mode            model.InverterOperationMode
	RevenueCZK      float64
	CostCZK         float64
	NetProfitCZK    float64
	EnergyFlows     EnergyFlows
	Assumptions     Assumptions
	Reason          string
	// Rule is a short stable tag naming the policy that fired (e.g.
	// "forward_shift_charge", "negative_price_charge"); it is encoded into
	// the decision UID so traces distinguish which rule won a block.
	Rule         string
	StrategyName string
	DebugInfo    *model.BlockDebugInfo
}

// NewBlockEvaluation constructs a zeroed evaluation with defaults filled in.
func NewBlockEvaluation(blockStart time.Time, durationMinutes int, mode model.InverterOperationMode, strategyName string) BlockEvaluation {
	return BlockEvaluation{
		BlockStart:      blockStart,
		DurationMinutes: durationMinutes,
		Mode:            mode,
		Assumptions:     DefaultAssumptions(),
		StrategyName:    strategyName,
	}
}

// CalculateNetProfit sets NetProfitCZK = RevenueCZK - CostCZK.
func (e *BlockEvaluation) CalculateNetProfit() {
	e.NetProfitCZK = e.RevenueCZK - e.CostCZK
}

// EvaluationContext is the input an EconomicStrategy evaluates.
type EvaluationContext struct {
	PriceBlock                model.TimeBlockPrice
	ControlConfig              ControlConfig
	CurrentBatterySOC          float64
	SolarForecastKWh           float64
	ConsumptionForecastKWh     float64
	GridExportPriceCZKPerKWh   float64
	AllPriceBlocks             []model.TimeBlockPrice // nil if unavailable
	// BackupDischargeMinSOC is the home-automation-sourced floor below which
	// the battery must not be discharged, to stay available for outages. Nil
	// when no backup sensor is configured.
	BackupDischargeMinSOC      *float64
}

// ControlConfig bundles the battery/control tunables a strategy needs. It is
// a read-only projection of config.Config's control parameters.
type ControlConfig struct {
	BatteryCapacityKWh         float64
	MaxBatteryChargeRateKW     float64
	BatteryEfficiency          float64
	BatteryWearCostCZKPerKWh   float64
	MinBatterySOC              float64
	MaxBatterySOC              float64
	HardwareMinBatterySOC      float64
	EveningTargetSOC           float64
	EveningPeakStartHour       int
	ForceDischargeHours        float64
	ChargeToleranceFraction    float64
	NegativePriceHandlingEnabled bool
	ChargeOnNegativeEvenIfFull bool
	GridExportPriceThresholdCZKPerKWh float64
	MinSOCForExport            float64
}

// EconomicStrategy is the contract every in-process strategy implementation
// satisfies.
type EconomicStrategy interface {
	Name() string
	IsEnabled() bool
	Evaluate(ctx EvaluationContext) BlockEvaluation
}

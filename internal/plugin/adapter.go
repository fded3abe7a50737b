package plugin

import (
	"fmt"

	"github.com/devskill-org/energy-management-system/internal/strategy"
)

// StrategyAdapter wraps an internal strategy.EconomicStrategy into the
// Plugin contract: it expands an EvaluationRequest into the strategy's
// richer EvaluationContext (which additionally carries ControlConfig and the
// full horizon), calls the strategy, and maps the resulting BlockEvaluation
// back to a BlockDecision, overwriting priority with the adapter's own
// asserted value.
type StrategyAdapter struct {
	inner    strategy.EconomicStrategy
	priority uint8
	config   strategy.ControlConfig
}

// NewStrategyAdapter wraps inner with a fixed priority and the control
// configuration needed to evaluate it.
func NewStrategyAdapter(inner strategy.EconomicStrategy, priority uint8, config strategy.ControlConfig) *StrategyAdapter {
	return &StrategyAdapter{inner: inner, priority: priority, config: config}
}

func (a *StrategyAdapter) Name() string    { return a.inner.Name() }
func (a *StrategyAdapter) Priority() uint8 { return a.priority }
func (a *StrategyAdapter) IsEnabled() bool { return a.inner.IsEnabled() }

func (a *StrategyAdapter) Evaluate(req EvaluationRequest) (BlockDecision, error) {
	ctx := strategy.EvaluationContext{
		PriceBlock:               req.Block,
		ControlConfig:            a.config,
		CurrentBatterySOC:        req.Battery.CurrentSOCPercent,
		SolarForecastKWh:         req.Forecast.SolarKWh,
		ConsumptionForecastKWh:   req.Forecast.ConsumptionKWh,
		GridExportPriceCZKPerKWh: req.Forecast.GridExportPriceCZKPerKWh,
		AllPriceBlocks:           req.AllBlocks,
		BackupDischargeMinSOC:    req.BackupDischargeMinSOC,
	}

	eval := a.inner.Evaluate(ctx)

	confidence := 1.0
	profit := eval.NetProfitCZK
	strategyName := eval.StrategyName

	// The UID is deterministic: strategy, horizon index of the block, and
	// the rule that fired, so two evaluations of the same block are
	// distinguishable exactly when a different rule won.
	blockIdx := -1
	for i, b := range req.AllBlocks {
		if b.BlockStart.Equal(req.Block.BlockStart) {
			blockIdx = i
			break
		}
	}
	rule := eval.Rule
	if rule == "" {
		rule = eval.Mode.String()
	}
	uid := fmt.Sprintf("%s:%d:%s", a.Name(), blockIdx, rule)

	return BlockDecision{
		BlockStart:        eval.BlockStart,
		DurationMinutes:   eval.DurationMinutes,
		Mode:              eval.Mode,
		Reason:            eval.Reason,
		Priority:          a.priority,
		StrategyName:      &strategyName,
		Confidence:        &confidence,
		ExpectedProfitCZK: &profit,
		DecisionUID:       &uid,
	}, nil
}

package plugin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devskill-org/energy-management-system/internal/model"
	"github.com/devskill-org/energy-management-system/internal/strategy"
)

// ruleStrategy returns a fixed mode and rule tag, for exercising the
// adapter's decision mapping in isolation.
type ruleStrategy struct {
	rule string
	mode model.InverterOperationMode
}

func (s *ruleStrategy) Name() string    { return "rule-stub" }
func (s *ruleStrategy) IsEnabled() bool { return true }
func (s *ruleStrategy) Evaluate(ctx strategy.EvaluationContext) strategy.BlockEvaluation {
	eval := strategy.NewBlockEvaluation(ctx.PriceBlock.BlockStart, ctx.PriceBlock.DurationMinutes, s.mode, "rule-stub")
	eval.Rule = s.rule
	return eval
}

func horizonRequest(n, targetIdx int) EvaluationRequest {
	start := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	blocks := make([]model.TimeBlockPrice, n)
	for i := range blocks {
		blocks[i] = model.TimeBlockPrice{
			BlockStart:      start.Add(time.Duration(i*15) * time.Minute),
			DurationMinutes: 15,
			PriceCZKPerKWh:  2.0,
		}
	}
	return EvaluationRequest{Block: blocks[targetIdx], AllBlocks: blocks}
}

func TestStrategyAdapter_DecisionUIDEncodesBlockIndexAndRule(t *testing.T) {
	adapter := NewStrategyAdapter(&ruleStrategy{rule: "spread_discharge", mode: model.ForceDischarge}, 100, strategy.ControlConfig{})

	decision, err := adapter.Evaluate(horizonRequest(8, 5))
	require.NoError(t, err)
	require.NotNil(t, decision.DecisionUID)
	require.Equal(t, "rule-stub:5:spread_discharge", *decision.DecisionUID)
}

func TestStrategyAdapter_DifferentRulesYieldDifferentUIDs(t *testing.T) {
	req := horizonRequest(4, 1)

	charge := NewStrategyAdapter(&ruleStrategy{rule: "negative_price_charge", mode: model.ForceCharge}, 100, strategy.ControlConfig{})
	discharge := NewStrategyAdapter(&ruleStrategy{rule: "export_spike_discharge", mode: model.ForceDischarge}, 100, strategy.ControlConfig{})

	d1, err := charge.Evaluate(req)
	require.NoError(t, err)
	d2, err := discharge.Evaluate(req)
	require.NoError(t, err)
	require.NotEqual(t, *d1.DecisionUID, *d2.DecisionUID)
}

func TestStrategyAdapter_UIDIsDeterministicAcrossEvaluations(t *testing.T) {
	adapter := NewStrategyAdapter(&ruleStrategy{rule: "self_use", mode: model.SelfUse}, 10, strategy.ControlConfig{})
	req := horizonRequest(4, 2)

	d1, err := adapter.Evaluate(req)
	require.NoError(t, err)
	d2, err := adapter.Evaluate(req)
	require.NoError(t, err)
	require.Equal(t, *d1.DecisionUID, *d2.DecisionUID)
}

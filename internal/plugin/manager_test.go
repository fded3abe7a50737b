package plugin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devskill-org/energy-management-system/internal/model"
)

// stubPlugin is a fixed-behavior Plugin for exercising Manager in isolation
// from any real strategy implementation.
type stubPlugin struct {
	name     string
	priority uint8
	enabled  bool
	mode     model.InverterOperationMode
	err      error
}

func (s *stubPlugin) Name() string    { return s.name }
func (s *stubPlugin) Priority() uint8 { return s.priority }
func (s *stubPlugin) IsEnabled() bool { return s.enabled }
func (s *stubPlugin) Evaluate(req EvaluationRequest) (BlockDecision, error) {
	if s.err != nil {
		return BlockDecision{}, s.err
	}
	return BlockDecision{
		BlockStart:      req.Block.BlockStart,
		DurationMinutes: req.Block.DurationMinutes,
		Mode:            s.mode,
		Reason:          s.name,
		Priority:        s.priority,
	}, nil
}

func testRequest() EvaluationRequest {
	return EvaluationRequest{
		Block: model.TimeBlockPrice{
			BlockStart:      time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
			DurationMinutes: 15,
			PriceCZKPerKWh:  3.0,
		},
	}
}

func TestManager_MergeDecisions_HigherPriorityWinsWhenBothSucceed(t *testing.T) {
	m := NewManager(nil)
	m.Register(&stubPlugin{name: "high", priority: 80, enabled: true, mode: model.ForceCharge})
	m.Register(&stubPlugin{name: "low", priority: 50, enabled: true, mode: model.SelfUse})

	decision := m.Evaluate(testRequest())

	require.Equal(t, "high", decision.Reason)
	require.Equal(t, model.ForceCharge, decision.Mode)
}

func TestManager_MergeDecisions_FailsOverToLowerPriorityWhenHigherErrors(t *testing.T) {
	m := NewManager(nil)
	m.Register(&stubPlugin{name: "high", priority: 80, enabled: true, err: errEvalFailed})
	m.Register(&stubPlugin{name: "low", priority: 50, enabled: true, mode: model.SelfUse})

	for i := 0; i < 5; i++ {
		decision := m.Evaluate(testRequest())
		require.Equal(t, "low", decision.Reason, "block %d should fail over to the surviving plugin", i)
	}
}

func TestManager_MergeDecisions_FallbackSentinelWhenNoDecisions(t *testing.T) {
	m := NewManager(nil)
	m.Register(&stubPlugin{name: "broken", priority: 80, enabled: true, err: errEvalFailed})

	decision := m.Evaluate(testRequest())

	require.Equal(t, model.SelfUse, decision.Mode)
	require.NotNil(t, decision.DecisionUID)
	require.Equal(t, "fallback:no_plugins", *decision.DecisionUID)
}

func TestManager_MergeDecisions_TieBreaksOnConfidenceThenProfit(t *testing.T) {
	m := NewManager(nil)
	highConf := 0.9
	lowConf := 0.2
	highProfit := 10.0
	lowProfit := 1.0

	decisions := []BlockDecision{
		{Priority: 50, Confidence: &lowConf, ExpectedProfitCZK: &highProfit, Reason: "lowconf"},
		{Priority: 50, Confidence: &highConf, ExpectedProfitCZK: &lowProfit, Reason: "highconf"},
	}

	winner := m.MergeDecisions(decisions, testRequest())
	require.Equal(t, "highconf", winner.Reason)
}

// Merge is a total order: the winner is drawn from the input, and no
// permutation of the input produces a winner with a lower ranking triple.
func TestManager_MergeDecisions_PermutationInvariantWinner(t *testing.T) {
	m := NewManager(nil)
	conf := 0.5
	profit := 3.0

	decisions := []BlockDecision{
		{Priority: 50, Reason: "a"},
		{Priority: 80, Confidence: &conf, Reason: "b"},
		{Priority: 80, Confidence: &conf, ExpectedProfitCZK: &profit, Reason: "c"},
		{Priority: 80, Reason: "d"},
	}

	perms := [][]int{{0, 1, 2, 3}, {3, 2, 1, 0}, {2, 0, 3, 1}, {1, 3, 0, 2}}
	for _, p := range perms {
		shuffled := make([]BlockDecision, len(decisions))
		for i, idx := range p {
			shuffled[i] = decisions[idx]
		}
		winner := m.MergeDecisions(shuffled, testRequest())
		require.Equal(t, "c", winner.Reason, "permutation %v must elect the same maximal decision", p)
	}
}

func TestManager_SetEnabled_ExcludesDisabledRegistration(t *testing.T) {
	m := NewManager(nil)
	m.Register(&stubPlugin{name: "high", priority: 80, enabled: true, mode: model.ForceCharge})
	m.Register(&stubPlugin{name: "low", priority: 50, enabled: true, mode: model.SelfUse})

	require.True(t, m.SetEnabled("high", false))

	decision := m.Evaluate(testRequest())
	require.Equal(t, "low", decision.Reason)
}

var errEvalFailed = &evalError{"simulated evaluation failure"}

type evalError struct{ msg string }

func (e *evalError) Error() string { return e.msg }

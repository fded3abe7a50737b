package model

import "time"

// StrategyEvaluation records one strategy's contribution to a block, kept for
// debugging/auditability regardless of whether it won the merge.
type StrategyEvaluation struct {
	StrategyName      string  `json:"strategy_name"`
	Mode              InverterOperationMode `json:"mode"`
	Reason            string  `json:"reason"`
	Priority          uint8   `json:"priority"`
	Confidence        *float64 `json:"confidence,omitempty"`
	ExpectedProfitCZK *float64 `json:"expected_profit_czk,omitempty"`
	Won               bool    `json:"won"`
}

// BlockDebugInfo records which strategies were evaluated for a block and
// which one won the merge.
type BlockDebugInfo struct {
	StrategiesEvaluated []string              `json:"strategies_evaluated"`
	WinningStrategy     string                `json:"winning_strategy"`
	AllEvaluations      []StrategyEvaluation  `json:"all_evaluations,omitempty"`
}

// ScheduledMode is one contiguous run in an OperationSchedule.
type ScheduledMode struct {
	BlockStart      time.Time             `json:"block_start"`
	DurationMinutes int                   `json:"duration_minutes"`
	TargetInverters []string              `json:"target_inverters,omitempty"` // nil = all
	Mode            InverterOperationMode `json:"mode"`
	Reason          string                `json:"reason"`
	DebugInfo       *BlockDebugInfo       `json:"debug_info,omitempty"`
}

// End returns the exclusive end of the run.
func (s ScheduledMode) End() time.Time {
	return s.BlockStart.Add(time.Duration(s.DurationMinutes) * time.Minute)
}

// Covers reports whether t falls within [BlockStart, End).
func (s ScheduledMode) Covers(t time.Time) bool {
	return !t.Before(s.BlockStart) && t.Before(s.End())
}

// TargetsInverter reports whether this run addresses the given inverter: a
// nil TargetInverters list means "all inverters".
func (s ScheduledMode) TargetsInverter(inverterID string) bool {
	if s.TargetInverters == nil {
		return true
	}
	for _, id := range s.TargetInverters {
		if id == inverterID {
			return true
		}
	}
	return false
}

// OperationSchedule is the full, ordered set of scheduled runs covering the
// price horizon.
type OperationSchedule struct {
	ScheduledBlocks     []ScheduledMode `json:"scheduled_blocks"`
	GeneratedAt         time.Time       `json:"generated_at"`
	BasedOnPriceVersion time.Time       `json:"based_on_price_version"`
}

// CurrentBlock returns the scheduled run covering now, or false if none does
// (e.g. an empty schedule, or now falls outside the generated horizon).
func (s *OperationSchedule) CurrentBlock(now time.Time) (ScheduledMode, bool) {
	for _, b := range s.ScheduledBlocks {
		if b.Covers(now) {
			return b, true
		}
	}
	return ScheduledMode{}, false
}

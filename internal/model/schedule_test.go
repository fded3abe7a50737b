package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScheduledMode_CoversAndEnd(t *testing.T) {
	start := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	run := ScheduledMode{BlockStart: start, DurationMinutes: 15}

	require.Equal(t, start.Add(15*time.Minute), run.End())
	require.True(t, run.Covers(start))
	require.True(t, run.Covers(start.Add(14*time.Minute)))
	require.False(t, run.Covers(run.End()))
	require.False(t, run.Covers(start.Add(-time.Second)))
}

func TestScheduledMode_TargetsInverter(t *testing.T) {
	all := ScheduledMode{}
	require.True(t, all.TargetsInverter("anything"))

	targeted := ScheduledMode{TargetInverters: []string{"inv1", "inv2"}}
	require.True(t, targeted.TargetsInverter("inv2"))
	require.False(t, targeted.TargetsInverter("inv3"))
}

func TestOperationSchedule_CurrentBlock(t *testing.T) {
	start := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	schedule := OperationSchedule{
		ScheduledBlocks: []ScheduledMode{
			{BlockStart: start, DurationMinutes: 15, Mode: SelfUse},
			{BlockStart: start.Add(15 * time.Minute), DurationMinutes: 15, Mode: ForceCharge},
		},
	}

	block, ok := schedule.CurrentBlock(start.Add(20 * time.Minute))
	require.True(t, ok)
	require.Equal(t, ForceCharge, block.Mode)

	_, ok = schedule.CurrentBlock(start.Add(-time.Minute))
	require.False(t, ok)

	_, ok = schedule.CurrentBlock(start.Add(time.Hour))
	require.False(t, ok)
}

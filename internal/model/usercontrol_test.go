package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultUserControlState_IsPermissive(t *testing.T) {
	uc := DefaultUserControlState()
	require.True(t, uc.Enabled)
	require.True(t, uc.IsModeAllowed(ForceCharge))
	require.True(t, uc.IsModeAllowed(ForceDischarge))
	require.Empty(t, uc.FixedTimeSlots)
}

func TestIsModeAllowed_DisallowFlagsAreMonotone(t *testing.T) {
	uc := UserControlState{Enabled: true, DisallowCharge: true}
	require.False(t, uc.IsModeAllowed(ForceCharge))
	require.True(t, uc.IsModeAllowed(ForceDischarge))
	require.True(t, uc.IsModeAllowed(SelfUse))
}

func TestIsModeAllowed_MasterSwitchOffOnlyAllowsSelfUse(t *testing.T) {
	uc := UserControlState{Enabled: false}
	require.False(t, uc.IsModeAllowed(ForceCharge))
	require.False(t, uc.IsModeAllowed(ForceDischarge))
	require.True(t, uc.IsModeAllowed(SelfUse))
}

func TestPruneExpiredSlots_RemovesOnlyElapsedSlots(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	uc := UserControlState{
		FixedTimeSlots: []FixedTimeSlot{
			{ID: "past", From: now.Add(-2 * time.Hour), To: now.Add(-time.Hour)},
			{ID: "future", From: now, To: now.Add(time.Hour)},
		},
	}

	removed := uc.PruneExpiredSlots(now)

	require.Equal(t, 1, removed)
	require.Len(t, uc.FixedTimeSlots, 1)
	require.Equal(t, "future", uc.FixedTimeSlots[0].ID)
}

func TestValidate_RejectsInvertedAndOverlappingSlots(t *testing.T) {
	start := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	inverted := UserControlState{
		FixedTimeSlots: []FixedTimeSlot{
			{ID: "bad", From: start, To: start},
		},
	}
	require.Error(t, inverted.Validate())

	overlapping := UserControlState{
		FixedTimeSlots: []FixedTimeSlot{
			{ID: "a", From: start, To: start.Add(time.Hour)},
			{ID: "b", From: start.Add(30 * time.Minute), To: start.Add(2 * time.Hour)},
		},
	}
	require.Error(t, overlapping.Validate())

	adjacent := UserControlState{
		FixedTimeSlots: []FixedTimeSlot{
			{ID: "a", From: start, To: start.Add(time.Hour)},
			{ID: "b", From: start.Add(time.Hour), To: start.Add(2 * time.Hour)},
		},
	}
	require.NoError(t, adjacent.Validate())
}

func TestSlotAt_ReturnsCoveringSlot(t *testing.T) {
	start := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	uc := UserControlState{
		FixedTimeSlots: []FixedTimeSlot{
			{ID: "slot", From: start, To: start.Add(30 * time.Minute), Mode: ForceDischarge},
		},
	}

	slot, ok := uc.SlotAt(start.Add(10 * time.Minute))
	require.True(t, ok)
	require.Equal(t, "slot", slot.ID)

	_, ok = uc.SlotAt(start.Add(time.Hour))
	require.False(t, ok)
}

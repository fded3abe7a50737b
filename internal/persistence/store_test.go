package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devskill-org/energy-management-system/internal/model"
)

func TestOpen_EmptyConnStringDisablesPersistence(t *testing.T) {
	store, err := Open("")
	require.NoError(t, err)
	require.NotNil(t, store)
}

func TestNoOpStore_MethodsAreSafeNoOps(t *testing.T) {
	store, err := Open("")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.EnsureSchema(ctx))

	schedule := model.OperationSchedule{
		ScheduledBlocks: []model.ScheduledMode{
			{BlockStart: time.Now(), DurationMinutes: 15, Mode: model.SelfUse},
		},
		GeneratedAt: time.Now(),
	}
	require.NoError(t, store.SaveSchedule(ctx, schedule))
	require.NoError(t, store.Close())
}

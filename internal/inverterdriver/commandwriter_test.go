package inverterdriver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/devskill-org/energy-management-system/internal/model"
)

// failingDriver rejects every write with a fixed error.
type failingDriver struct {
	err error
}

func (d *failingDriver) ReadState(context.Context, string) (model.RawInverterState, error) {
	return model.RawInverterState{}, d.err
}

func (d *failingDriver) WriteCommand(context.Context, string, model.InverterCommand) error {
	return d.err
}

func TestAsyncCommandWriter_ReportsQueueFullDrop(t *testing.T) {
	w := NewAsyncCommandWriter(&failingDriver{}, 1, nil)

	var gotID string
	var gotErr error
	w.OnResult(func(inverterID string, err error) {
		gotID = inverterID
		gotErr = err
	})

	// Run is not draining, so the second submission overflows the depth-1
	// queue and is reported as dropped.
	w.Submit("inv1", model.SetModeCommand(model.ForceCharge))
	w.Submit("inv1", model.SetModeCommand(model.SelfUse))

	require.Equal(t, "inv1", gotID)
	require.ErrorIs(t, gotErr, ErrQueueFull)
	require.EqualValues(t, 1, w.Failures())
}

func TestAsyncCommandWriter_ReportsWriteFailure(t *testing.T) {
	writeErr := errors.New("register write rejected")
	w := NewAsyncCommandWriter(&failingDriver{err: writeErr}, 4, nil)

	var gotErr error
	w.OnResult(func(_ string, err error) { gotErr = err })

	w.apply(context.Background(), commandJob{inverterID: "inv1", cmd: model.SetModeCommand(model.ForceCharge)})

	require.ErrorIs(t, gotErr, writeErr)
	require.EqualValues(t, 1, w.Failures())
}

// Package inverterdriver defines the vendor-neutral inverter driver
// contract and its shipped implementations: a Sigenergy Modbus adapter, a
// Home Assistant entity bridge, and an MQTT transport.
package inverterdriver

import (
	"context"
	"fmt"

	"github.com/devskill-org/energy-management-system/internal/model"
)

// Driver is the in-process contract every vendor adapter satisfies: read
// the latest telemetry for one inverter, and write a mode-change command.
// WriteCommand is expected to be fast or itself non-blocking; the execution
// supervisor never waits on it beyond the async command writer's queue.
type Driver interface {
	ReadState(ctx context.Context, inverterID string) (model.RawInverterState, error)
	WriteCommand(ctx context.Context, inverterID string, cmd model.InverterCommand) error
}

// ErrUnknownInverter is returned by a driver when asked about an inverter ID
// it does not recognize.
type ErrUnknownInverter struct{ InverterID string }

func (e ErrUnknownInverter) Error() string {
	return fmt.Sprintf("inverterdriver: unknown inverter %q", e.InverterID)
}

// Registry dispatches by inverter ID to the Driver instance that owns it,
// so the ingest worker and execution supervisor can address inverters from
// multiple vendors/transports through a single object.
type Registry struct {
	drivers map[string]Driver
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]Driver)}
}

// Add registers driver as the owner of inverterID, replacing any prior
// registration for that ID.
func (r *Registry) Add(inverterID string, driver Driver) {
	r.drivers[inverterID] = driver
}

func (r *Registry) ReadState(ctx context.Context, inverterID string) (model.RawInverterState, error) {
	d, ok := r.drivers[inverterID]
	if !ok {
		return model.RawInverterState{}, ErrUnknownInverter{InverterID: inverterID}
	}
	return d.ReadState(ctx, inverterID)
}

func (r *Registry) WriteCommand(ctx context.Context, inverterID string, cmd model.InverterCommand) error {
	d, ok := r.drivers[inverterID]
	if !ok {
		return ErrUnknownInverter{InverterID: inverterID}
	}
	return d.WriteCommand(ctx, inverterID, cmd)
}

// InverterIDs returns the registered inverter IDs in no particular order.
func (r *Registry) InverterIDs() []string {
	ids := make([]string, 0, len(r.drivers))
	for id := range r.drivers {
		ids = append(ids, id)
	}
	return ids
}

package inverterdriver

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/devskill-org/energy-management-system/internal/homeautomation"
	"github.com/devskill-org/energy-management-system/internal/model"
)

// HomeAssistantDriver reads per-inverter telemetry from individual Home
// Assistant sensor entities and writes mode changes through the
// select.select_option service (POST .../select/select_option,
// GET /api/states/{id}, bearer token; any non-2xx status is treated as a
// transient failure).
type HomeAssistantDriver struct {
	client       *homeautomation.Client
	entityPrefix string // e.g. "sigenergy_plant"
	modeOptions  map[model.InverterOperationMode]string
}

// NewHomeAssistantDriver builds a driver addressing entities named
// "<domain>.<entityPrefix>_<suffix>" (e.g. "sensor.sigenergy_plant_battery_soc",
// "select.sigenergy_plant_mode"). modeOptions maps each InverterOperationMode
// to the select entity's option string; a nil map defaults to the mode's
// wire name (InverterOperationMode.String()), which matches the external
// plugin protocol's mode strings.
func NewHomeAssistantDriver(client *homeautomation.Client, entityPrefix string, modeOptions map[model.InverterOperationMode]string) *HomeAssistantDriver {
	return &HomeAssistantDriver{client: client, entityPrefix: entityPrefix, modeOptions: modeOptions}
}

func (d *HomeAssistantDriver) sensorEntity(suffix string) string {
	return fmt.Sprintf("sensor.%s_%s", d.entityPrefix, suffix)
}

func (d *HomeAssistantDriver) selectEntity() string {
	return fmt.Sprintf("select.%s_mode", d.entityPrefix)
}

// ReadState reads the per-inverter sensor entities and assembles a
// RawInverterState. A battery_soc sensor that cannot be read fails the whole
// read; any other sensor that is unavailable or non-numeric contributes a
// zero value, since one stale sensor should not blank out the rest of the
// telemetry.
func (d *HomeAssistantDriver) ReadState(ctx context.Context, inverterID string) (model.RawInverterState, error) {
	soc, socErr := d.readFloat(ctx, "battery_soc")
	if socErr != nil {
		return model.RawInverterState{}, fmt.Errorf("inverterdriver: home assistant read %s: %w", inverterID, socErr)
	}

	state := model.RawInverterState{
		InverterID:        inverterID,
		BatterySOCPercent: soc,
		Online:            true,
		LastUpdated:       time.Now().UTC(),
	}
	state.BatteryPowerW, _ = d.readFloat(ctx, "battery_power")
	state.GridPowerW, _ = d.readFloat(ctx, "grid_power")
	state.PVPowerW, _ = d.readFloat(ctx, "pv_power")
	state.TemperatureC, _ = d.readFloat(ctx, "temperature")
	state.EnergyTodayKWh, _ = d.readFloat(ctx, "energy_today")
	state.EnergyTotalKWh, _ = d.readFloat(ctx, "energy_total")
	return state, nil
}

func (d *HomeAssistantDriver) readFloat(ctx context.Context, suffix string) (float64, error) {
	state, err := d.client.GetState(ctx, d.sensorEntity(suffix))
	if err != nil {
		return 0, err
	}
	if state.Unavailable() {
		return 0, fmt.Errorf("inverterdriver: %s is unavailable", d.sensorEntity(suffix))
	}
	v, err := strconv.ParseFloat(state.State, 64)
	if err != nil {
		return 0, fmt.Errorf("inverterdriver: %s state %q is not numeric: %w", d.sensorEntity(suffix), state.State, err)
	}
	return v, nil
}

// WriteCommand sets the inverter's mode-select entity to the option
// corresponding to cmd.Mode.
func (d *HomeAssistantDriver) WriteCommand(ctx context.Context, inverterID string, cmd model.InverterCommand) error {
	if cmd.Kind != model.InverterCommandSetMode {
		return fmt.Errorf("inverterdriver: unsupported command kind %q", cmd.Kind)
	}

	option := cmd.Mode.String()
	if mapped, ok := d.modeOptions[cmd.Mode]; ok {
		option = mapped
	}
	return d.client.SetSelectOption(ctx, d.selectEntity(), option)
}

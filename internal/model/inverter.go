package model

import "time"

// InverterOperationMode is the closed set of modes the execution supervisor
// can command an inverter into.
type InverterOperationMode int

const (
	SelfUse InverterOperationMode = iota
	BackUpMode
	ForceCharge
	ForceDischarge
)

func (m InverterOperationMode) String() string {
	switch m {
	case SelfUse:
		return "self_use"
	case BackUpMode:
		return "back_up"
	case ForceCharge:
		return "force_charge"
	case ForceDischarge:
		return "force_discharge"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the mode using its wire name so the external plugin
// protocol and persisted state files use stable strings rather than ints.
func (m InverterOperationMode) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// UnmarshalJSON accepts any of the four wire names.
func (m *InverterOperationMode) UnmarshalJSON(data []byte) error {
	s := string(data)
	switch s {
	case `"self_use"`:
		*m = SelfUse
	case `"back_up"`:
		*m = BackUpMode
	case `"force_charge"`:
		*m = ForceCharge
	case `"force_discharge"`:
		*m = ForceDischarge
	default:
		*m = SelfUse
	}
	return nil
}

// InverterControlTopology describes how an inverter entity relates to
// physical control: independently addressable, a master controlling slaves,
// or a slave controlled indirectly through its master.
type InverterControlTopology struct {
	Kind     TopologyKind `json:"kind"`
	SlaveIDs []string     `json:"slave_ids,omitempty"`
	MasterID string       `json:"master_id,omitempty"`
}

type TopologyKind string

const (
	TopologyIndependent TopologyKind = "independent"
	TopologyMaster      TopologyKind = "master"
	TopologySlave       TopologyKind = "slave"
)

// ShouldReceiveCommands reports whether the execution supervisor should ever
// address this inverter directly.
func (t InverterControlTopology) ShouldReceiveCommands() bool {
	return t.Kind == TopologyIndependent || t.Kind == TopologyMaster
}

func (t InverterControlTopology) IsMaster() bool { return t.Kind == TopologyMaster }
func (t InverterControlTopology) IsSlave() bool  { return t.Kind == TopologySlave }

// RawInverterState is the latest telemetry snapshot for one inverter.
type RawInverterState struct {
	InverterID        string    `json:"inverter_id"`
	BatterySOCPercent float64   `json:"battery_soc_percent"`
	BatteryPowerW     float64   `json:"battery_power_w"` // +charge / -discharge
	GridPowerW        float64   `json:"grid_power_w"`    // +export / -import
	PVPowerW          float64   `json:"pv_power_w"`
	PVStringPowerW    []float64 `json:"pv_string_power_w,omitempty"`
	TemperatureC      float64   `json:"temperature_c"`
	EnergyTodayKWh    float64   `json:"energy_today_kwh"`
	EnergyTotalKWh    float64   `json:"energy_total_kwh"`
	OperatingMode     InverterOperationMode `json:"operating_mode"`
	Online            bool      `json:"online"`
	LastUpdated       time.Time `json:"last_updated"`
}

// CurrentMode is the mode last commanded on an inverter, set exclusively by
// the execution supervisor.
type CurrentMode struct {
	Mode   InverterOperationMode `json:"mode"`
	SetAt  time.Time             `json:"set_at"`
	Reason string                `json:"reason"`
}

// InverterCommand is the fire-and-forget instruction emitted to a driver.
type InverterCommand struct {
	Kind InverterCommandKind   `json:"kind"`
	Mode InverterOperationMode `json:"mode"`
}

type InverterCommandKind string

const InverterCommandSetMode InverterCommandKind = "set_mode"

func SetModeCommand(mode InverterOperationMode) InverterCommand {
	return InverterCommand{Kind: InverterCommandSetMode, Mode: mode}
}

package inverterdriver

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"

	"github.com/devskill-org/energy-management-system/internal/model"
)

// Sigenergy plant/inverter Modbus register addresses, per the vendor's
// Modbus protocol document section 5 (input registers are read-only
// telemetry, holding registers accept writes).
const (
	sigenPlantAddress           = 247
	sigenRegPlantRunningInfo    = 30000
	sigenRegPlantRunningInfoLen = 52
	sigenRegEMSEnable           = 40029
	sigenRegEMSMode             = 40031
)

// Remote EMS control modes (Sigenergy Modbus protocol section 5.2).
const (
	emsModeStandby              uint16 = 1
	emsModeMaxSelfConsumption    uint16 = 2
	emsModeCommandChargeGrid    uint16 = 3
	emsModeCommandChargePV      uint16 = 4
	emsModeCommandDischargePV   uint16 = 5
	emsModeCommandDischargeESS  uint16 = 6
)

func modeToEMSValue(mode model.InverterOperationMode) uint16 {
	switch mode {
	case model.SelfUse:
		return emsModeMaxSelfConsumption
	case model.BackUpMode:
		return emsModeStandby
	case model.ForceCharge:
		return emsModeCommandChargePV
	case model.ForceDischarge:
		return emsModeCommandDischargeESS
	default:
		return emsModeMaxSelfConsumption
	}
}

func emsValueToMode(v uint16) model.InverterOperationMode {
	switch v {
	case emsModeStandby:
		return model.BackUpMode
	case emsModeCommandChargeGrid, emsModeCommandChargePV:
		return model.ForceCharge
	case emsModeCommandDischargePV, emsModeCommandDischargeESS:
		return model.ForceDischarge
	default:
		return model.SelfUse
	}
}

// ModbusDriver speaks Sigenergy's plant-level Modbus TCP protocol. One
// ModbusDriver instance serves every plant-addressed inverter entity behind
// a single TCP connection/handler; slaveAddress is fixed at the plant
// broadcast address since this decision engine targets the plant as a
// whole, not individual strings.
type ModbusDriver struct {
	mu      sync.Mutex
	client  modbus.Client
	handler *modbus.TCPClientHandler
}

// NewModbusDriver dials a Sigenergy plant over Modbus TCP at address
// ("host:port").
func NewModbusDriver(address string) (*ModbusDriver, error) {
	handler := modbus.NewTCPClientHandler(address)
	handler.SlaveId = sigenPlantAddress
	handler.Timeout = 3 * time.Second
	if err := handler.Connect(); err != nil {
		return nil, fmt.Errorf("inverterdriver: connect to %s: %w", address, err)
	}
	return &ModbusDriver{
		client:  modbus.NewClient(handler),
		handler: handler,
	}, nil
}

// Close releases the underlying Modbus TCP connection.
func (d *ModbusDriver) Close() error {
	return d.handler.Close()
}

func bytesToU16(b []byte) uint16 { return binary.BigEndian.Uint16(b) }
func bytesToS32(b []byte) int32  { return int32(binary.BigEndian.Uint32(b)) }

// ReadState reads the plant running-information block and converts it into
// a RawInverterState. inverterID is accepted for interface symmetry but
// unused: a single ModbusDriver instance always reads the plant-level
// aggregate, since this system's Sigenergy deployments are single-plant.
func (d *ModbusDriver) ReadState(_ context.Context, inverterID string) (model.RawInverterState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	data, err := d.client.ReadInputRegisters(sigenRegPlantRunningInfo, sigenRegPlantRunningInfoLen)
	if err != nil {
		return model.RawInverterState{}, fmt.Errorf("inverterdriver: read plant running info: %w", err)
	}

	soc := float64(bytesToU16(data[28:30])) / 10.0
	plantActivePowerKW := float64(bytesToS32(data[62:66])) / 1000.0
	pvPowerKW := float64(bytesToS32(data[70:74])) / 1000.0
	essPowerKW := float64(bytesToS32(data[74:78])) / 1000.0 // >0 charging, <0 discharging

	ems, err := d.client.ReadHoldingRegisters(sigenRegEMSMode, 1)
	mode := model.SelfUse
	if err == nil && len(ems) >= 2 {
		mode = emsValueToMode(bytesToU16(ems))
	}

	return model.RawInverterState{
		InverterID:        inverterID,
		BatterySOCPercent: soc,
		BatteryPowerW:     essPowerKW * 1000.0,
		GridPowerW:        -plantActivePowerKW * 1000.0, // plant active power is net import; grid convention is +export
		PVPowerW:          pvPowerKW * 1000.0,
		OperatingMode:     mode,
		Online:            true,
		LastUpdated:       time.Now().UTC(),
	}, nil
}

// WriteCommand sets the plant's remote EMS control mode to the command's
// target operation mode. Remote EMS control is enabled unconditionally
// before every write since the gate itself is idempotent and cheap.
func (d *ModbusDriver) WriteCommand(_ context.Context, _ string, cmd model.InverterCommand) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cmd.Kind != model.InverterCommandSetMode {
		return fmt.Errorf("inverterdriver: unsupported command kind %q", cmd.Kind)
	}

	if _, err := d.client.WriteSingleRegister(sigenRegEMSEnable, 1); err != nil {
		return fmt.Errorf("inverterdriver: enable remote EMS: %w", err)
	}
	value := modeToEMSValue(cmd.Mode)
	if _, err := d.client.WriteSingleRegister(sigenRegEMSMode, value); err != nil {
		return fmt.Errorf("inverterdriver: set EMS mode %d: %w", value, err)
	}
	return nil
}

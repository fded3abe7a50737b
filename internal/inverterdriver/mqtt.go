package inverterdriver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/devskill-org/energy-management-system/internal/model"
)

// mqttTelemetryPayload is the wire shape published by an MQTT-bridged
// inverter telemetry source (e.g. a Home Assistant MQTT statestream).
type mqttTelemetryPayload struct {
	BatterySOCPercent float64 `json:"battery_soc_percent"`
	BatteryPowerW     float64 `json:"battery_power_w"`
	GridPowerW        float64 `json:"grid_power_w"`
	PVPowerW          float64 `json:"pv_power_w"`
	TemperatureC      float64 `json:"temperature_c"`
	EnergyTodayKWh    float64 `json:"energy_today_kwh"`
	EnergyTotalKWh    float64 `json:"energy_total_kwh"`
}

// MQTTDriver subscribes to a per-inverter telemetry topic and caches the
// latest decoded reading in memory; commands are published fire-and-forget
// to a per-inverter command topic. This is the transport of choice for
// inverters bridged through Home Assistant rather than addressed directly
// over Modbus.
type MQTTDriver struct {
	client       mqtt.Client
	topicPrefix  string // e.g. "ems/inverter"
	staleAfter   time.Duration

	mu     sync.Mutex
	latest map[string]model.RawInverterState
}

// NewMQTTDriver connects to brokerURL and subscribes to
// "<topicPrefix>/+/state" for telemetry. staleAfter bounds how long a cached
// reading is reported Online before ReadState starts returning it stale.
func NewMQTTDriver(brokerURL, topicPrefix string, staleAfter time.Duration) (*MQTTDriver, error) {
	if staleAfter <= 0 {
		staleAfter = 30 * time.Second
	}
	d := &MQTTDriver{
		topicPrefix: topicPrefix,
		staleAfter:  staleAfter,
		latest:      make(map[string]model.RawInverterState),
	}

	opts := mqtt.NewClientOptions().AddBroker(brokerURL).SetAutoReconnect(true)
	opts.SetDefaultPublishHandler(d.handleMessage)
	d.client = mqtt.NewClient(opts)

	token := d.client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("inverterdriver: mqtt connect to %s: %w", brokerURL, err)
	}

	subTopic := topicPrefix + "/+/state"
	if subToken := d.client.Subscribe(subTopic, 1, d.handleMessage); subToken.Wait() && subToken.Error() != nil {
		return nil, fmt.Errorf("inverterdriver: mqtt subscribe %s: %w", subTopic, subToken.Error())
	}

	return d, nil
}

func (d *MQTTDriver) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	inverterID := inverterIDFromTopic(msg.Topic(), d.topicPrefix)
	if inverterID == "" {
		return
	}

	var payload mqttTelemetryPayload
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.latest[inverterID] = model.RawInverterState{
		InverterID:        inverterID,
		BatterySOCPercent: payload.BatterySOCPercent,
		BatteryPowerW:     payload.BatteryPowerW,
		GridPowerW:        payload.GridPowerW,
		PVPowerW:          payload.PVPowerW,
		TemperatureC:      payload.TemperatureC,
		EnergyTodayKWh:    payload.EnergyTodayKWh,
		EnergyTotalKWh:    payload.EnergyTotalKWh,
		Online:            true,
		LastUpdated:       time.Now().UTC(),
	}
}

// inverterIDFromTopic extracts "<id>" from "<prefix>/<id>/state".
func inverterIDFromTopic(topic, prefix string) string {
	rest := topic
	if len(topic) <= len(prefix)+1 || topic[:len(prefix)] != prefix {
		return ""
	}
	rest = topic[len(prefix)+1:]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i]
		}
	}
	return ""
}

// ReadState returns the last cached telemetry reading for inverterID, with
// Online forced false if it has gone stale.
func (d *MQTTDriver) ReadState(_ context.Context, inverterID string) (model.RawInverterState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	state, ok := d.latest[inverterID]
	if !ok {
		return model.RawInverterState{}, ErrUnknownInverter{InverterID: inverterID}
	}
	if time.Since(state.LastUpdated) > d.staleAfter {
		state.Online = false
	}
	return state, nil
}

// WriteCommand publishes the mode-change command to the inverter's command
// topic; delivery is at-least-once (QoS 1) but not confirmed by the
// inverter itself.
func (d *MQTTDriver) WriteCommand(_ context.Context, inverterID string, cmd model.InverterCommand) error {
	if cmd.Kind != model.InverterCommandSetMode {
		return fmt.Errorf("inverterdriver: unsupported command kind %q", cmd.Kind)
	}
	payload, err := json.Marshal(map[string]string{"mode": cmd.Mode.String()})
	if err != nil {
		return err
	}
	topic := fmt.Sprintf("%s/%s/set_mode", d.topicPrefix, inverterID)
	token := d.client.Publish(topic, 1, false, payload)
	token.Wait()
	return token.Error()
}

// Close disconnects the MQTT client.
func (d *MQTTDriver) Close() {
	d.client.Disconnect(250)
}

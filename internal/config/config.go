// Package config defines the system configuration, its defaults, JSON
// load/save, and validation.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/devskill-org/energy-management-system/internal/model"
)

// InverterDescriptor declares one physical inverter: its ID, vendor/transport
// type, and control topology. An empty Type falls back to the global
// InverterControlMode.
type InverterDescriptor struct {
	ID       string   `json:"id"`
	Type     string   `json:"type,omitempty"`     // "modbus" | "mqtt" | "home_assistant"
	Topology string   `json:"topology,omitempty"` // "independent" (default) | "master" | "slave"
	SlaveIDs []string `json:"slave_ids,omitempty"`
	MasterID string   `json:"master_id,omitempty"`
}

// ControlTopology projects the descriptor's topology fields into the model
// type the execution supervisor dispatches on.
func (d InverterDescriptor) ControlTopology() model.InverterControlTopology {
	switch d.Topology {
	case "master":
		return model.InverterControlTopology{Kind: model.TopologyMaster, SlaveIDs: d.SlaveIDs}
	case "slave":
		return model.InverterControlTopology{Kind: model.TopologySlave, MasterID: d.MasterID}
	default:
		return model.InverterControlTopology{Kind: model.TopologyIndependent}
	}
}

// Metadata records who last wrote the config file and when; stamped by the
// web API on every accepted update.
type Metadata struct {
	LastModified time.Time `json:"last_modified"`
	ModifiedBy   string    `json:"modified_by"`
	Version      int       `json:"version"`
}

// Config holds every tunable of the decision engine: hardware limits,
// strategy thresholds, ingest intervals, and external endpoints.
type Config struct {
	// Battery/inverter hardware
	BatteryCapacityKWh      float64 `json:"battery_capacity_kwh"`
	MaxBatteryChargeRateKW  float64 `json:"max_battery_charge_rate_kw"`
	BatteryEfficiency       float64 `json:"battery_efficiency"`
	BatteryWearCostCZKPerKWh float64 `json:"battery_wear_cost_czk_per_kwh"`
	MinBatterySOC           float64 `json:"min_battery_soc"`          // percentage 0-100
	MaxBatterySOC           float64 `json:"max_battery_soc"`          // percentage 0-100
	HardwareMinBatterySOC   float64 `json:"hardware_min_battery_soc"` // percentage 0-100, inverter-enforced floor

	// Strategy thresholds (winter-adaptive economic strategy)
	EveningTargetSOC                  float64 `json:"evening_target_soc"`
	EveningPeakStartHour              int     `json:"evening_peak_start_hour"`
	ForceDischargeHours                float64 `json:"force_discharge_hours"`
	ChargeToleranceFraction            float64 `json:"charge_tolerance_fraction"`
	NegativePriceHandlingEnabled       bool    `json:"negative_price_handling_enabled"`
	ChargeOnNegativeEvenIfFull         bool    `json:"charge_on_negative_even_if_full"`
	GridExportPriceThresholdCZKPerKWh  float64 `json:"grid_export_price_threshold_czk_per_kwh"`
	MinSOCForExport                    float64 `json:"min_soc_for_export"`

	// Sibling strategy enablement
	SelfUseEnabled           bool `json:"self_use_enabled"`
	MorningPreChargeEnabled  bool `json:"morning_pre_charge_enabled"`
	DayAheadPlanningEnabled  bool `json:"day_ahead_planning_enabled"`
	WinterAdaptiveEnabled    bool `json:"winter_adaptive_enabled"`

	// Schedule generation
	MinConsecutiveForceBlocks int `json:"min_consecutive_force_blocks"`
	// DefaultIdleMode is what a block falls back to when nothing forces a
	// charge or discharge: the mode short force-runs are downgraded to and
	// the mode user control downgrades disallowed modes to. Must be
	// "self_use" or "back_up".
	DefaultIdleMode model.InverterOperationMode `json:"default_idle_mode"`

	// Execution supervisor
	MinModeChangeIntervalSecs uint64 `json:"min_mode_change_interval_secs"`
	DebugModeNoHardwareWrites bool   `json:"debug_mode_no_hardware_writes"`

	// Ingest intervals
	PriceIngestInterval    time.Duration `json:"price_ingest_interval"`
	InverterPollInterval   time.Duration `json:"inverter_poll_interval"`
	SolarForecastInterval  time.Duration `json:"solar_forecast_interval"`

	// Decision tick: how often the world re-checks the current schedule
	// against telemetry and (when the price horizon or user control changed)
	// regenerates it.
	DecisionTickInterval time.Duration `json:"decision_tick_interval"`

	// Home Assistant integration
	HomeAssistantBaseURL        string `json:"home_assistant_base_url"`
	HomeAssistantToken          string `json:"home_assistant_token"`
	HomeAssistantInverterPrefix string `json:"home_assistant_inverter_prefix"`

	// Backup-discharge minimum SOC sensor (home-automation-sourced floor
	// below which the battery must stay available for outages). Empty
	// entity ID disables the poller; the schedule generator then falls
	// back to the two hardware/configured floors alone.
	BackupDischargeMinSOCEntityID string        `json:"backup_discharge_min_soc_entity_id"`
	BackupSOCPollInterval         time.Duration `json:"backup_soc_poll_interval"`

	// Inverter transport: Modbus and MQTT are mutually exclusive with
	// home-automation-bridged control; InverterControlMode selects which.
	InverterModbusAddress string `json:"inverter_modbus_address"` // IP:PORT, empty disables Modbus transport
	InverterControlMode   string `json:"inverter_control_mode"`   // "modbus" | "mqtt" | "home_assistant"

	// Inverters declares the fleet: IDs, per-inverter transport type, and
	// master/slave topology. Empty means a single independent inverter on
	// the InverterControlMode transport.
	Inverters []InverterDescriptor `json:"inverters,omitempty"`

	// Day-ahead price source: "home_assistant" (default, reads a price
	// sensor's attribute table) or "entsoe" (the direct day-ahead XML feed).
	PriceSource               string        `json:"price_source"`
	HomeAssistantPriceEntityID string       `json:"home_assistant_price_entity_id"`
	PriceAPIURLFormat   string        `json:"price_api_url_format"`
	PriceAPISecurityToken string      `json:"price_api_security_token"`
	PriceAPITimeout     time.Duration `json:"price_api_timeout"`
	DistributionFeeCZKPerKWh float64  `json:"distribution_fee_czk_per_kwh"`

	// Site location (solar forecast fallback)
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Location  string  `json:"location"` // timezone location string, e.g. "Europe/Prague"

	// Solar forecast
	SolarPeakPowerKW          float64 `json:"solar_peak_power_kw"`
	WeatherForecastEnabled    bool    `json:"weather_forecast_enabled"`
	WeatherForecastUserAgent  string  `json:"weather_forecast_user_agent"`

	// Persistence
	PostgresConnString   string `json:"postgres_conn_string"`    // empty disables persistence
	UserControlStatePath string `json:"user_control_state_path"` // empty keeps user control in memory only
	UpgraderStatePath    string `json:"upgrader_state_path"`

	// Status server
	HealthCheckPort int `json:"health_check_port"` // 0 = disabled

	// MQTT (optional telemetry/command transport)
	MQTTBrokerURL string `json:"mqtt_broker_url"` // empty disables MQTT

	// Logging
	LogLevel string `json:"log_level"`

	Metadata Metadata `json:"metadata"`
}

// StampMetadata records an accepted update: bumps the version and sets the
// modifier and timestamp.
func (c *Config) StampMetadata(modifiedBy string) {
	c.Metadata.Version++
	c.Metadata.ModifiedBy = modifiedBy
	c.Metadata.LastModified = time.Now().UTC()
}

// DefaultConfig returns a configuration suitable for a typical residential
// installation; every field can be overridden by the config file or
// environment.
func DefaultConfig() *Config {
	return &Config{
		BatteryCapacityKWh:       15.0,
		MaxBatteryChargeRateKW:   5.0,
		BatteryEfficiency:        0.95,
		BatteryWearCostCZKPerKWh: 0.125,
		MinBatterySOC:            10.0,
		MaxBatterySOC:            100.0,
		HardwareMinBatterySOC:    5.0,

		EveningTargetSOC:                  90.0,
		EveningPeakStartHour:              17,
		ForceDischargeHours:               3.0,
		ChargeToleranceFraction:           0.15,
		NegativePriceHandlingEnabled:      true,
		ChargeOnNegativeEvenIfFull:        false,
		GridExportPriceThresholdCZKPerKWh: 3.0,
		MinSOCForExport:                   20.0,

		SelfUseEnabled:          true,
		MorningPreChargeEnabled: false,
		DayAheadPlanningEnabled: false,
		WinterAdaptiveEnabled:   true,

		MinConsecutiveForceBlocks: 2,
		DefaultIdleMode:           model.SelfUse,

		MinModeChangeIntervalSecs: 60,
		DebugModeNoHardwareWrites: false,

		PriceIngestInterval:   5 * time.Minute,
		InverterPollInterval:  5 * time.Second,
		SolarForecastInterval: 30 * time.Minute,
		DecisionTickInterval:  time.Second,

		HomeAssistantBaseURL:        "",
		HomeAssistantToken:          "",
		HomeAssistantInverterPrefix: "inverter",

		BackupDischargeMinSOCEntityID: "",
		BackupSOCPollInterval:         5 * time.Minute,

		InverterModbusAddress: "",
		InverterControlMode:   "modbus",

		PriceSource:                "home_assistant",
		HomeAssistantPriceEntityID: "sensor.ote_spot_electricity_price",
		PriceAPIURLFormat:        "https://web-api.tp.entsoe.eu/api?documentType=A44&out_Domain=10YCZ-CEPS-----N&in_Domain=10YCZ-CEPS-----N&periodStart=%s&periodEnd=%s&securityToken=%s",
		PriceAPISecurityToken:    "",
		PriceAPITimeout:          5 * time.Second,
		DistributionFeeCZKPerKWh: 1.5,

		Latitude:  50.0755, // Prague
		Longitude: 14.4378,
		Location:  "Europe/Prague",

		SolarPeakPowerKW:         8.0,
		WeatherForecastEnabled:   false,
		WeatherForecastUserAgent: "energy-management-system/1.0",

		PostgresConnString:   "",
		UserControlStatePath: "user_control.json",
		UpgraderStatePath:    "upgrader_state.json",

		HealthCheckPort: 8090,

		MQTTBrokerURL: "",

		LogLevel: "info",
	}
}

// LoadConfig loads configuration from a JSON file, starting from defaults
// and overlaying whatever fields are present in the file.
func LoadConfig(filename string) (*Config, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	return LoadConfigFromReader(file)
}

// LoadConfigFromReader loads configuration from an io.Reader.
func LoadConfigFromReader(reader io.Reader) (*Config, error) {
	cfg := DefaultConfig()

	decoder := json.NewDecoder(reader)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a JSON file.
func (c *Config) SaveConfig(filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	return c.SaveConfigToWriter(file)
}

// SaveConfigToWriter saves the configuration to an io.Writer.
func (c *Config) SaveConfigToWriter(writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config JSON: %w", err)
	}

	return nil
}

// Validate checks that the configuration values are internally consistent.
func (c *Config) Validate() error {
	if c.BatteryCapacityKWh <= 0 {
		return fmt.Errorf("battery_capacity_kwh must be greater than 0, got: %f", c.BatteryCapacityKWh)
	}

	if c.MaxBatteryChargeRateKW <= 0 {
		return fmt.Errorf("max_battery_charge_rate_kw must be greater than 0, got: %f", c.MaxBatteryChargeRateKW)
	}

	if c.BatteryEfficiency <= 0 || c.BatteryEfficiency > 1 {
		return fmt.Errorf("battery_efficiency must be in (0, 1], got: %f", c.BatteryEfficiency)
	}

	if c.MinBatterySOC < 0 || c.MinBatterySOC > 100 {
		return fmt.Errorf("min_battery_soc must be between 0 and 100, got: %f", c.MinBatterySOC)
	}

	if c.MaxBatterySOC < 0 || c.MaxBatterySOC > 100 {
		return fmt.Errorf("max_battery_soc must be between 0 and 100, got: %f", c.MaxBatterySOC)
	}

	if c.MinBatterySOC > c.MaxBatterySOC {
		return fmt.Errorf("min_battery_soc (%f) must not exceed max_battery_soc (%f)", c.MinBatterySOC, c.MaxBatterySOC)
	}

	if c.HardwareMinBatterySOC < 0 || c.HardwareMinBatterySOC > 100 {
		return fmt.Errorf("hardware_min_battery_soc must be between 0 and 100, got: %f", c.HardwareMinBatterySOC)
	}

	if c.EveningPeakStartHour < 0 || c.EveningPeakStartHour > 23 {
		return fmt.Errorf("evening_peak_start_hour must be between 0 and 23, got: %d", c.EveningPeakStartHour)
	}

	if c.ChargeToleranceFraction < 0 {
		return fmt.Errorf("charge_tolerance_fraction must be non-negative, got: %f", c.ChargeToleranceFraction)
	}

	if c.MinConsecutiveForceBlocks < 0 {
		return fmt.Errorf("min_consecutive_force_blocks must be non-negative, got: %d", c.MinConsecutiveForceBlocks)
	}

	if c.DefaultIdleMode != model.SelfUse && c.DefaultIdleMode != model.BackUpMode {
		return fmt.Errorf("default_idle_mode must be self_use or back_up, got: %s", c.DefaultIdleMode)
	}

	if err := c.validateInverters(); err != nil {
		return err
	}

	if c.PriceIngestInterval <= 0 {
		return fmt.Errorf("price_ingest_interval must be greater than 0, got: %s", c.PriceIngestInterval)
	}

	if c.InverterPollInterval <= 0 {
		return fmt.Errorf("inverter_poll_interval must be greater than 0, got: %s", c.InverterPollInterval)
	}

	if c.SolarForecastInterval <= 0 {
		return fmt.Errorf("solar_forecast_interval must be greater than 0, got: %s", c.SolarForecastInterval)
	}

	if c.DecisionTickInterval <= 0 {
		return fmt.Errorf("decision_tick_interval must be greater than 0, got: %s", c.DecisionTickInterval)
	}

	if c.PriceAPITimeout <= 0 {
		return fmt.Errorf("price_api_timeout must be greater than 0, got: %s", c.PriceAPITimeout)
	}

	if c.PriceAPIURLFormat == "" {
		return fmt.Errorf("price_api_url_format cannot be empty")
	}

	if c.HealthCheckPort < 0 || c.HealthCheckPort > 65535 {
		return fmt.Errorf("health_check_port must be between 0 and 65535, got: %d", c.HealthCheckPort)
	}

	if c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("latitude must be between -90 and 90, got: %f", c.Latitude)
	}

	if c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("longitude must be between -180 and 180, got: %f", c.Longitude)
	}

	if c.SolarPeakPowerKW <= 0 {
		return fmt.Errorf("solar_peak_power_kw must be greater than 0, got: %f", c.SolarPeakPowerKW)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level: %s, must be one of: debug, info, warn, error", c.LogLevel)
	}

	validPriceSources := map[string]bool{"home_assistant": true, "entsoe": true}
	if !validPriceSources[c.PriceSource] {
		return fmt.Errorf("invalid price_source: %s, must be one of: home_assistant, entsoe", c.PriceSource)
	}

	validControlModes := map[string]bool{"modbus": true, "mqtt": true, "home_assistant": true}
	if !validControlModes[c.InverterControlMode] {
		return fmt.Errorf("invalid inverter_control_mode: %s, must be one of: modbus, mqtt, home_assistant", c.InverterControlMode)
	}

	if c.BackupSOCPollInterval <= 0 {
		return fmt.Errorf("backup_soc_poll_interval must be greater than 0, got: %s", c.BackupSOCPollInterval)
	}

	return nil
}

// validateInverters checks the inverter descriptors: unique non-empty IDs,
// known transport types and topologies, and master/slave cross-references
// that resolve within the fleet.
func (c *Config) validateInverters() error {
	byID := make(map[string]InverterDescriptor, len(c.Inverters))
	for _, inv := range c.Inverters {
		if inv.ID == "" {
			return fmt.Errorf("inverter descriptor with empty id")
		}
		if _, dup := byID[inv.ID]; dup {
			return fmt.Errorf("duplicate inverter id: %s", inv.ID)
		}
		byID[inv.ID] = inv

		switch inv.Type {
		case "", "modbus", "mqtt", "home_assistant":
		default:
			return fmt.Errorf("inverter %s: invalid type: %s, must be one of: modbus, mqtt, home_assistant", inv.ID, inv.Type)
		}

		switch inv.Topology {
		case "", "independent":
			if len(inv.SlaveIDs) > 0 || inv.MasterID != "" {
				return fmt.Errorf("inverter %s: independent inverters carry no slave_ids/master_id", inv.ID)
			}
		case "master":
			if len(inv.SlaveIDs) == 0 {
				return fmt.Errorf("inverter %s: master topology requires slave_ids", inv.ID)
			}
		case "slave":
			if inv.MasterID == "" {
				return fmt.Errorf("inverter %s: slave topology requires master_id", inv.ID)
			}
		default:
			return fmt.Errorf("inverter %s: invalid topology: %s, must be one of: independent, master, slave", inv.ID, inv.Topology)
		}
	}

	for _, inv := range c.Inverters {
		for _, slaveID := range inv.SlaveIDs {
			slave, ok := byID[slaveID]
			if !ok {
				return fmt.Errorf("inverter %s: unknown slave id: %s", inv.ID, slaveID)
			}
			if slave.Topology != "slave" {
				return fmt.Errorf("inverter %s: slave id %s is not declared with slave topology", inv.ID, slaveID)
			}
		}
		if inv.MasterID != "" {
			master, ok := byID[inv.MasterID]
			if !ok {
				return fmt.Errorf("inverter %s: unknown master id: %s", inv.ID, inv.MasterID)
			}
			if master.Topology != "master" {
				return fmt.Errorf("inverter %s: master id %s is not declared with master topology", inv.ID, inv.MasterID)
			}
		}
	}
	return nil
}

// MarshalJSON implements custom JSON marshaling so duration fields render as
// human-readable strings rather than raw nanosecond counts.
func (c *Config) MarshalJSON() ([]byte, error) {
	type Alias Config
	return json.Marshal(&struct {
		*Alias
		PriceIngestInterval   string `json:"price_ingest_interval"`
		InverterPollInterval  string `json:"inverter_poll_interval"`
		SolarForecastInterval string `json:"solar_forecast_interval"`
		DecisionTickInterval  string `json:"decision_tick_interval"`
		PriceAPITimeout       string `json:"price_api_timeout"`
		BackupSOCPollInterval string `json:"backup_soc_poll_interval"`
	}{
		Alias:                 (*Alias)(c),
		PriceIngestInterval:   c.PriceIngestInterval.String(),
		InverterPollInterval:  c.InverterPollInterval.String(),
		SolarForecastInterval: c.SolarForecastInterval.String(),
		DecisionTickInterval:  c.DecisionTickInterval.String(),
		PriceAPITimeout:       c.PriceAPITimeout.String(),
		BackupSOCPollInterval: c.BackupSOCPollInterval.String(),
	})
}

// UnmarshalJSON implements custom JSON unmarshaling to parse duration fields
// from human-readable strings (e.g. "5m", "30s").
func (c *Config) UnmarshalJSON(data []byte) error {
	type Alias Config
	aux := &struct {
		*Alias
		PriceIngestInterval   string `json:"price_ingest_interval"`
		InverterPollInterval  string `json:"inverter_poll_interval"`
		SolarForecastInterval string `json:"solar_forecast_interval"`
		DecisionTickInterval  string `json:"decision_tick_interval"`
		PriceAPITimeout       string `json:"price_api_timeout"`
		BackupSOCPollInterval string `json:"backup_soc_poll_interval"`
	}{
		Alias: (*Alias)(c),
	}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	var err error
	if aux.PriceIngestInterval != "" {
		if c.PriceIngestInterval, err = time.ParseDuration(aux.PriceIngestInterval); err != nil {
			return fmt.Errorf("invalid price_ingest_interval: %w", err)
		}
	}
	if aux.InverterPollInterval != "" {
		if c.InverterPollInterval, err = time.ParseDuration(aux.InverterPollInterval); err != nil {
			return fmt.Errorf("invalid inverter_poll_interval: %w", err)
		}
	}
	if aux.SolarForecastInterval != "" {
		if c.SolarForecastInterval, err = time.ParseDuration(aux.SolarForecastInterval); err != nil {
			return fmt.Errorf("invalid solar_forecast_interval: %w", err)
		}
	}
	if aux.DecisionTickInterval != "" {
		if c.DecisionTickInterval, err = time.ParseDuration(aux.DecisionTickInterval); err != nil {
			return fmt.Errorf("invalid decision_tick_interval: %w", err)
		}
	}
	if aux.PriceAPITimeout != "" {
		if c.PriceAPITimeout, err = time.ParseDuration(aux.PriceAPITimeout); err != nil {
			return fmt.Errorf("invalid price_api_timeout: %w", err)
		}
	}
	if aux.BackupSOCPollInterval != "" {
		if c.BackupSOCPollInterval, err = time.ParseDuration(aux.BackupSOCPollInterval); err != nil {
			return fmt.Errorf("invalid backup_soc_poll_interval: %w", err)
		}
	}

	return nil
}

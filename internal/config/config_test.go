package config

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/devskill-org/energy-management-system/internal/model"
)

func TestDefaultConfig_Validates(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestValidate_RejectsNonPositiveSolarPeakPower(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SolarPeakPowerKW = 0
	require.Error(t, cfg.Validate())

	cfg.SolarPeakPowerKW = -1
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsNonPositiveDecisionTickInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DecisionTickInterval = 0
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsMinAboveMaxSOC(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinBatterySOC = 90
	cfg.MaxBatterySOC = 80
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsForceModeAsDefaultIdle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultIdleMode = model.ForceCharge
	require.Error(t, cfg.Validate())

	cfg.DefaultIdleMode = model.BackUpMode
	require.NoError(t, cfg.Validate())
}

func TestValidate_InverterDescriptors(t *testing.T) {
	valid := DefaultConfig()
	valid.Inverters = []InverterDescriptor{
		{ID: "m1", Topology: "master", SlaveIDs: []string{"s1"}},
		{ID: "s1", Topology: "slave", MasterID: "m1"},
		{ID: "i1"},
	}
	require.NoError(t, valid.Validate())

	dup := DefaultConfig()
	dup.Inverters = []InverterDescriptor{{ID: "a"}, {ID: "a"}}
	require.Error(t, dup.Validate())

	orphanSlave := DefaultConfig()
	orphanSlave.Inverters = []InverterDescriptor{{ID: "s1", Topology: "slave"}}
	require.Error(t, orphanSlave.Validate())

	danglingRef := DefaultConfig()
	danglingRef.Inverters = []InverterDescriptor{
		{ID: "m1", Topology: "master", SlaveIDs: []string{"ghost"}},
	}
	require.Error(t, danglingRef.Validate())

	badType := DefaultConfig()
	badType.Inverters = []InverterDescriptor{{ID: "x", Type: "wifi"}}
	require.Error(t, badType.Validate())
}

func TestInverterDescriptor_ControlTopology(t *testing.T) {
	master := InverterDescriptor{ID: "m1", Topology: "master", SlaveIDs: []string{"s1", "s2"}}
	topo := master.ControlTopology()
	require.Equal(t, model.TopologyMaster, topo.Kind)
	require.Equal(t, []string{"s1", "s2"}, topo.SlaveIDs)
	require.True(t, topo.ShouldReceiveCommands())

	slave := InverterDescriptor{ID: "s1", Topology: "slave", MasterID: "m1"}
	topo = slave.ControlTopology()
	require.Equal(t, model.TopologySlave, topo.Kind)
	require.Equal(t, "m1", topo.MasterID)
	require.False(t, topo.ShouldReceiveCommands())

	require.Equal(t, model.TopologyIndependent, InverterDescriptor{ID: "i1"}.ControlTopology().Kind)
}

func TestMarshalUnmarshalJSON_RoundTripsWeatherForecastFields(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WeatherForecastEnabled = true
	cfg.WeatherForecastUserAgent = "custom-agent/2.0"
	cfg.SolarPeakPowerKW = 9.6

	var buf bytes.Buffer
	require.NoError(t, cfg.SaveConfigToWriter(&buf))

	roundTripped, err := LoadConfigFromReader(&buf)
	require.NoError(t, err)

	require.True(t, roundTripped.WeatherForecastEnabled)
	require.Equal(t, "custom-agent/2.0", roundTripped.WeatherForecastUserAgent)
	require.Equal(t, 9.6, roundTripped.SolarPeakPowerKW)
	require.Equal(t, cfg.DecisionTickInterval, roundTripped.DecisionTickInterval)
}

func TestLoadConfigFromReader_OverlaysOntoDefaults(t *testing.T) {
	partial := bytes.NewBufferString(`{"solar_peak_power_kw": 12.5}`)

	cfg, err := LoadConfigFromReader(partial)
	require.NoError(t, err)

	require.Equal(t, 12.5, cfg.SolarPeakPowerKW)
	require.Equal(t, DefaultConfig().BatteryCapacityKWh, cfg.BatteryCapacityKWh)
}

func TestLoadConfigFromReader_RejectsInvalidConfig(t *testing.T) {
	partial := bytes.NewBufferString(`{"solar_peak_power_kw": -5}`)

	_, err := LoadConfigFromReader(partial)
	require.Error(t, err)
}

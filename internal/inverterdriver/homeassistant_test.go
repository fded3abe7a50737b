package inverterdriver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/devskill-org/energy-management-system/internal/homeautomation"
	"github.com/devskill-org/energy-management-system/internal/model"
)

func TestHomeAssistantDriver_ReadState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		var state string
		switch r.URL.Path {
		case "/api/states/sensor.plant_battery_soc":
			state = "62.5"
		case "/api/states/sensor.plant_battery_power":
			state = "1200"
		default:
			state = "0"
		}
		_, _ = w.Write([]byte(`{"entity_id":"x","state":"` + state + `","attributes":{}}`))
	}))
	defer server.Close()

	client := homeautomation.NewClient(server.URL, "secret")
	d := NewHomeAssistantDriver(client, "plant", nil)

	got, err := d.ReadState(context.Background(), "plant")
	require.NoError(t, err)
	require.Equal(t, 62.5, got.BatterySOCPercent)
	require.Equal(t, 1200.0, got.BatteryPowerW)
	require.True(t, got.Online)
}

func TestHomeAssistantDriver_WriteCommand(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(buf)
		gotBody = string(buf)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := homeautomation.NewClient(server.URL, "secret")
	d := NewHomeAssistantDriver(client, "plant", nil)

	err := d.WriteCommand(context.Background(), "plant", model.SetModeCommand(model.ForceCharge))
	require.NoError(t, err)
	require.Contains(t, gotBody, `"option":"force_charge"`)
}

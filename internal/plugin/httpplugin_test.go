package plugin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/devskill-org/energy-management-system/internal/model"
)

func TestHTTPPlugin_DisablesAfterThreeConsecutiveFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	p := NewHTTPPlugin(PluginManifest{Name: "remote", Priority: 80, CallbackURL: server.URL})

	for i := 1; i <= 2; i++ {
		_, err := p.Evaluate(testRequest())
		require.Error(t, err)
		require.True(t, p.IsEnabled(), "plugin should stay enabled before the third failure (attempt %d)", i)
	}

	_, err := p.Evaluate(testRequest())
	require.Error(t, err)
	require.False(t, p.IsEnabled(), "plugin should disable itself after the third consecutive failure")
}

func TestHTTPPlugin_SuccessResetsFailureCounter(t *testing.T) {
	var callCount int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&callCount, 1)
		if n != 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(httpPluginDecision{Mode: model.SelfUse, Reason: "ok"})
	}))
	defer server.Close()

	p := NewHTTPPlugin(PluginManifest{Name: "remote", Priority: 80, CallbackURL: server.URL})

	for i := 0; i < 2; i++ {
		_, err := p.Evaluate(testRequest())
		require.Error(t, err)
	}
	require.True(t, p.IsEnabled())

	_, err := p.Evaluate(testRequest())
	require.NoError(t, err)
	require.True(t, p.IsEnabled())

	for i := 0; i < 2; i++ {
		_, err := p.Evaluate(testRequest())
		require.Error(t, err)
		require.True(t, p.IsEnabled(), "counter should have reset after the prior success (failure %d)", i)
	}
}

func TestManager_HTTPPluginFailoverToLowerPriorityPlugin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	m := NewManager(nil)
	m.Register(NewHTTPPlugin(PluginManifest{Name: "remote", Priority: 80, CallbackURL: server.URL}))
	m.Register(&stubPlugin{name: "low", priority: 50, enabled: true, mode: model.SelfUse})

	for i := 0; i < 3; i++ {
		decision := m.Evaluate(testRequest())
		require.Equal(t, "low", decision.Reason)
	}

	for _, info := range m.ListPlugins() {
		if info.Name == "remote" {
			require.False(t, info.Enabled, "remote plugin should report disabled after three failures")
		}
	}
}

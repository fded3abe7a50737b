package engine

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/devskill-org/energy-management-system/internal/model"
	"github.com/devskill-org/energy-management-system/internal/plugin"
)

// pluginsHandler lists every plugin registration with its effective priority
// and enablement.
func (s *StatusServer) pluginsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	infos := s.engine.manager.ListPlugins()
	out := make([]map[string]any, 0, len(infos))
	for _, info := range infos {
		out = append(out, map[string]any{
			"name":     info.Name,
			"priority": info.Priority,
			"enabled":  info.Enabled,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// pluginRegisterHandler is the external-plugin registration handshake: a
// remote plugin process posts its manifest and is registered as an HTTPPlugin
// under the manager's writer lock.
func (s *StatusServer) pluginRegisterHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req plugin.PluginRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, plugin.PluginRegistrationResponse{
			Accepted: false,
			Reason:   "invalid JSON body: " + err.Error(),
		})
		return
	}

	if reason, ok := validateManifest(req.Manifest); !ok {
		writeJSON(w, http.StatusOK, plugin.PluginRegistrationResponse{Accepted: false, Reason: reason})
		return
	}

	s.engine.manager.Register(plugin.NewHTTPPlugin(req.Manifest))
	s.engine.logger.Printf("[engine] external plugin %q registered (callback %s, priority %d)",
		req.Manifest.Name, req.Manifest.CallbackURL, req.Manifest.Priority)
	writeJSON(w, http.StatusOK, plugin.PluginRegistrationResponse{Accepted: true})
}

func validateManifest(m plugin.PluginManifest) (string, bool) {
	if m.Name == "" {
		return "manifest name must not be empty", false
	}
	u, err := url.Parse(m.CallbackURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "callback_url must be an absolute http(s) URL", false
	}
	return "", true
}

// userControlHandler reads or replaces the user-control overlay. Updates are
// validated, persisted atomically, and routed through the user-control
// update channel so they land at a tick boundary.
func (s *StatusServer) userControlHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.engine.UserControl())
	case http.MethodPut, http.MethodPost:
		var uc model.UserControlState
		if err := json.NewDecoder(r.Body).Decode(&uc); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body: " + err.Error()})
			return
		}
		for i := range uc.FixedTimeSlots {
			if uc.FixedTimeSlots[i].ID == "" {
				uc.FixedTimeSlots[i].ID = uuid.New().String()
			}
			if uc.FixedTimeSlots[i].CreatedAt.IsZero() {
				uc.FixedTimeSlots[i].CreatedAt = time.Now().UTC()
			}
		}
		if err := s.engine.ApplyUserControl(uc); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, uc)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// configHandler reads or updates the running configuration. An update is
// decoded over a copy of the active config, validated, and rejected wholesale
// on any validation error, leaving the in-memory config unchanged.
func (s *StatusServer) configHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.engine.Config())
	case http.MethodPut, http.MethodPost:
		updated := *s.engine.Config()
		if err := json.NewDecoder(r.Body).Decode(&updated); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body: " + err.Error()})
			return
		}
		if err := updated.Validate(); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		updated.StampMetadata("web_api")
		if err := s.engine.ApplyConfig(&updated); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, &updated)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// StatusServer exposes health/readiness HTTP endpoints, the plugin and
// user-control web API, and a websocket feed of the current schedule and
// inverter telemetry.
type StatusServer struct {
	engine    *Engine
	server    *http.Server
	port      int
	startTime time.Time
	upgrader  websocket.Upgrader
	clients   sync.Map
	broadcast chan []byte
	done      chan struct{}
}

// NewStatusServer builds a StatusServer bound to port. A non-positive port
// disables the server entirely.
func NewStatusServer(e *Engine, port int) *StatusServer {
	if port <= 0 {
		return nil
	}

	mux := http.NewServeMux()
	s := &StatusServer{
		engine:    e,
		port:      port,
		startTime: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		broadcast: make(chan []byte, 256),
		done:      make(chan struct{}),
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}

	mux.HandleFunc("/api/health", s.healthHandler)
	mux.HandleFunc("/api/ready", s.readinessHandler)
	mux.HandleFunc("/api/ws", s.wsHandler)
	mux.HandleFunc("/api/plugins", s.pluginsHandler)
	mux.HandleFunc("/api/plugins/register", s.pluginRegisterHandler)
	mux.HandleFunc("/api/user-control", s.userControlHandler)
	mux.HandleFunc("/api/config", s.configHandler)

	return s
}

// Start launches the broadcast loop, the periodic status broadcaster, and
// the HTTP listener in background goroutines.
func (s *StatusServer) Start() error {
	if s == nil {
		return nil
	}
	go s.handleBroadcasts()
	go s.broadcastStatus()
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.engine.logger.Printf("[engine] status server error: %v", err)
		}
	}()
	return nil
}

// Stop closes every client connection and shuts the HTTP server down.
func (s *StatusServer) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	close(s.done)
	s.clients.Range(func(key, _ any) bool {
		if conn, ok := key.(*websocket.Conn); ok {
			conn.Close()
		}
		return true
	})
	return s.server.Shutdown(ctx)
}

func (s *StatusServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	schedule := s.engine.Schedule()
	resp := map[string]any{
		"status":           "healthy",
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
		"uptime":           time.Since(s.startTime).String(),
		"has_schedule":     len(schedule.ScheduledBlocks) > 0,
		"inverters_online": len(s.engine.store.InverterStates()),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

func (s *StatusServer) readinessHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ready := len(s.engine.Schedule().ScheduledBlocks) > 0
	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"ready": ready, "timestamp": time.Now().UTC().Format(time.RFC3339)})
}

func (s *StatusServer) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.engine.logger.Printf("[engine] websocket upgrade failed: %v", err)
		return
	}
	s.clients.Store(conn, true)
	s.sendStatusToClient(conn)

	defer func() {
		s.clients.Delete(conn)
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (s *StatusServer) handleBroadcasts() {
	for {
		select {
		case message := <-s.broadcast:
			s.clients.Range(func(key, _ any) bool {
				conn, ok := key.(*websocket.Conn)
				if !ok {
					return true
				}
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					conn.Close()
					s.clients.Delete(conn)
				}
				return true
			})
		case <-s.done:
			return
		}
	}
}

func (s *StatusServer) broadcastStatus() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			hasClients := false
			s.clients.Range(func(_, _ any) bool { hasClients = true; return false })
			if !hasClients {
				continue
			}
			message, err := json.Marshal(s.buildStatusData())
			if err != nil {
				continue
			}
			s.broadcast <- message
		case <-s.done:
			return
		}
	}
}

func (s *StatusServer) sendStatusToClient(conn *websocket.Conn) {
	_ = conn.WriteJSON(s.buildStatusData())
}

func (s *StatusServer) buildStatusData() map[string]any {
	schedule := s.engine.Schedule()
	states := s.engine.store.InverterStates()

	inverters := make(map[string]any, len(states))
	for id, st := range states {
		inverters[id] = map[string]any{
			"battery_soc_percent": st.BatterySOCPercent,
			"pv_power_w":          st.PVPowerW,
			"grid_power_w":        st.GridPowerW,
			"online":              st.Online,
		}
	}

	return map[string]any{
		"generated_at":    schedule.GeneratedAt,
		"block_count":     len(schedule.ScheduledBlocks),
		"inverters":       inverters,
		"battery_history": s.engine.store.BatteryHistory(),
		"pv_history":      s.engine.store.PVHistory(),
	}
}

package daemon

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/petal-labs/rootstock"
)

// Server exposes read-only runtime introspection endpoints.
type Server struct {
	rt *rootstock.Runtime
}

// NewServer wraps a runtime with the introspection API.
func NewServer(rt *rootstock.Runtime) *Server {
	return &Server{rt: rt}
}

// Handler returns an http.Handler exposing the introspection routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/tasks", s.handleTasks)
	mux.HandleFunc("GET /api/buses", s.handleBuses)
	mux.HandleFunc("GET /api/settings/keys", s.handleSettingsKeys)

	return mux
}

type healthResponse struct {
	Status     string `json:"status"`
	InstanceID string `json:"instance_id"`
	Primary    bool   `json:"primary"`
	Version    string `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:     "ok",
		InstanceID: s.rt.App.InstanceID,
		Primary:    s.rt.App.Primary,
		Version:    rootstock.Version,
	})
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.rt.Supervisor.Records())
}

func (s *Server) handleBuses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.rt.Hub.Stats())
}

// handleSettingsKeys lists stored keys only. Values stay private to the
// extensions that own them.
func (s *Server) handleSettingsKeys(w http.ResponseWriter, r *http.Request) {
	raw := s.rt.Settings.Raw()
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	writeJSON(w, http.StatusOK, keys)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/securebridge/securebridge/internal/config"
	"github.com/securebridge/securebridge/internal/orchestrator"
)

// handleHealth reports process liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports readiness to take traffic. The database must answer;
// the PBX is not probed because the manager session connects lazily.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// trunkStatusResponse is one endpoint merged with its environment-derived
// settings.
type trunkStatusResponse struct {
	orchestrator.Endpoint
	Settings map[string]string `json:"settings,omitempty"`
}

// handleTrunks lists the PJSIP endpoints the PBX reports.
func (s *Server) handleTrunks(w http.ResponseWriter, r *http.Request) {
	endpoints, err := s.orc.ListTrunks(r.Context())
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	if endpoints == nil {
		endpoints = []orchestrator.Endpoint{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"trunks": endpoints})
}

// handleTrunkStatus reports one endpoint by name, merged with the TRUNK_*
// settings family for that trunk.
func (s *Server) handleTrunkStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	endpoint, err := s.orc.TrunkStatus(r.Context(), name)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	// Credentials never leave the process.
	settings := config.TrunkDefaults(name)
	delete(settings, "secret")

	writeJSON(w, http.StatusOK, trunkStatusResponse{
		Endpoint: *endpoint,
		Settings: settings,
	})
}

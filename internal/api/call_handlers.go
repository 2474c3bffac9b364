package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleCallStatus returns the call snapshot. Pure read.
func (s *Server) handleCallStatus(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "id")

	call, err := s.store.Calls().GetByID(r.Context(), callID)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, snapshotCall(call))
}

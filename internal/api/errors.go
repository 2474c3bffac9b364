package api

import (
	"errors"
	"net/http"

	"github.com/securebridge/securebridge/internal/ami"
	"github.com/securebridge/securebridge/internal/database"
	"github.com/securebridge/securebridge/internal/orchestrator"
)

// statusForError maps domain errors onto HTTP status codes. Transport-level
// manager failures are 503 because a retry may succeed once the PBX is back;
// credential and rejection failures are 500 because a retry will not help.
func statusForError(err error) int {
	switch {
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrConflict):
		return http.StatusBadRequest
	}

	switch ami.KindOf(err) {
	case ami.KindDNS, ami.KindConnectionRefused, ami.KindTimeout,
		ami.KindTransport, ami.KindActionTimeout:
		return http.StatusServiceUnavailable
	case ami.KindConfigIncomplete, ami.KindAuthFailed,
		ami.KindActionRejected, ami.KindProtocol:
		return http.StatusInternalServerError
	}

	return http.StatusInternalServerError
}

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// errorEnvelope is the uniform error shape of the API:
// {"status":"error","message":"..."}.
type errorEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// writeJSON writes a JSON response with the given status code. Payloads are
// written as-is, not wrapped.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode json response", "error", err)
	}
}

// writeError writes the uniform JSON error shape with the given status code.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorEnvelope{Status: "error", Message: msg})
}

// maxBodyBytes caps request bodies; order requests are tiny.
const maxBodyBytes = 1 << 20

// readJSON decodes the request body into dst with strict settings: unknown
// fields are rejected and the body must hold exactly one JSON object. It
// returns an empty string on success or a client-safe error message.
func readJSON(r *http.Request, dst any) string {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError

		switch {
		case errors.Is(err, io.EOF):
			return "request body must not be empty"
		case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
			return "malformed json"
		case errors.As(err, &typeErr):
			if typeErr.Field != "" {
				return fmt.Sprintf("invalid type for field %q", typeErr.Field)
			}
			return "invalid type in request body"
		case strings.HasPrefix(err.Error(), "json: unknown field "):
			field := strings.TrimPrefix(err.Error(), "json: unknown field ")
			return fmt.Sprintf("unknown field %s", field)
		default:
			return "invalid request body"
		}
	}

	// A second decode must hit EOF, otherwise the body held trailing data.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return "request body must contain a single json object"
	}

	return ""
}

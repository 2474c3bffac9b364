package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/securebridge/securebridge/internal/database"
	"github.com/securebridge/securebridge/internal/database/models"
	"github.com/securebridge/securebridge/internal/orchestrator"
	"github.com/securebridge/securebridge/internal/state"
)

// createOrderRequest is the body of POST /api/order/create.
type createOrderRequest struct {
	From      string `json:"from"`
	To        string `json:"to"`
	UserToken string `json:"user_token"`
	CallerID  string `json:"caller_id"`
	Trunk     string `json:"trunk"`
}

// executeErrorEnvelope extends the uniform error shape with the order state
// and failure detail that execute callers need to decide on a retry.
type executeErrorEnvelope struct {
	Status       string `json:"status"`
	Message      string `json:"message"`
	State        string `json:"state,omitempty"`
	ErrorDetails string `json:"error_details,omitempty"`
}

// handleOrderCreate creates an order and returns it in PENDING.
func (s *Server) handleOrderCreate(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	ord, err := s.orc.CreateOrder(r.Context(), orchestrator.CreateOrderRequest{
		From:      req.From,
		To:        req.To,
		UserToken: req.UserToken,
		CallerID:  req.CallerID,
		Trunk:     req.Trunk,
	})
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, snapshotOrder(ord, nil))
}

// handleOrderExecute drives the PBX side of an order. Failures carry the
// order state reached and the failure detail alongside the uniform shape.
func (s *Server) handleOrderExecute(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	ord, call, err := s.orc.ExecuteOrder(r.Context(), orderID)
	if err != nil {
		status := statusForError(err)
		env := executeErrorEnvelope{
			Status:  "error",
			Message: err.Error(),
		}
		if ord != nil {
			env.State = string(ord.State())
		}
		if status >= http.StatusInternalServerError {
			env.ErrorDetails = err.Error()
		}
		writeJSON(w, status, env)
		return
	}

	writeJSON(w, http.StatusOK, snapshotOrder(ord, call))
}

// handleOrderStatus returns the order snapshot with its call nested when one
// is linked. Pure read, no PBX interaction.
func (s *Server) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	ord, err := s.store.Orders().GetByID(r.Context(), orderID)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	var call *state.Call
	if ord.CallID != "" {
		call, err = s.store.Calls().GetByID(r.Context(), ord.CallID)
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			writeError(w, statusForError(err), err.Error())
			return
		}
	}

	writeJSON(w, http.StatusOK, snapshotOrder(ord, call))
}

// handleOrderEvents returns the journal of an order and its call, oldest
// first. Unknown orders are 404 rather than an empty list.
func (s *Server) handleOrderEvents(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	if _, err := s.store.Orders().GetByID(r.Context(), orderID); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	events, err := s.store.Events().ListByOrderID(r.Context(), orderID)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	if events == nil {
		events = []models.Event{}
	}

	writeJSON(w, http.StatusOK, events)
}

package api

import (
	"time"

	"github.com/securebridge/securebridge/internal/state"
)

// orderSnapshot is the JSON shape of an order. Timestamps serialize as
// ISO-8601 strings via time.Time.
type orderSnapshot struct {
	OrderID      string                   `json:"order_id"`
	State        string                   `json:"state"`
	UserToken    string                   `json:"user_token,omitempty"`
	NumberA      string                   `json:"number_a"`
	NumberB      string                   `json:"number_b"`
	CallerID     string                   `json:"caller_id,omitempty"`
	TrunkName    string                   `json:"trunk_name,omitempty"`
	CallID       string                   `json:"call_id,omitempty"`
	Metadata     map[string]any           `json:"metadata,omitempty"`
	StateHistory []string                 `json:"state_history"`
	Timestamps   []state.TransitionRecord `json:"state_timestamps"`
	ErrorLog     []state.ErrorRecord      `json:"error_log"`
	CreatedAt    time.Time                `json:"created_at"`
	UpdatedAt    time.Time                `json:"updated_at"`
	CompletedAt  *time.Time               `json:"completed_at,omitempty"`
	FailedAt     *time.Time               `json:"failed_at,omitempty"`
	CancelledAt  *time.Time               `json:"cancelled_at,omitempty"`
	Call         *callSnapshot            `json:"call,omitempty"`
}

// callSnapshot is the JSON shape of a call.
type callSnapshot struct {
	CallID          string                   `json:"call_id"`
	OrderID         string                   `json:"order_id"`
	State           string                   `json:"state"`
	NumberA         string                   `json:"number_a"`
	NumberB         string                   `json:"number_b"`
	CallerID        string                   `json:"caller_id,omitempty"`
	TrunkName       string                   `json:"trunk_name,omitempty"`
	ChannelAID      string                   `json:"channel_a_id,omitempty"`
	ChannelBID      string                   `json:"channel_b_id,omitempty"`
	Metadata        map[string]any           `json:"metadata,omitempty"`
	StateHistory    []string                 `json:"state_history"`
	Timestamps      []state.TransitionRecord `json:"state_timestamps"`
	ErrorLog        []state.ErrorRecord      `json:"error_log"`
	DurationSeconds int64                    `json:"duration_seconds"`
	CreatedAt       time.Time                `json:"created_at"`
	UpdatedAt       time.Time                `json:"updated_at"`
	StartedAt       *time.Time               `json:"started_at,omitempty"`
	AnsweredAt      *time.Time               `json:"answered_at,omitempty"`
	BridgedAt       *time.Time               `json:"bridged_at,omitempty"`
	CompletedAt     *time.Time               `json:"completed_at,omitempty"`
	FailedAt        *time.Time               `json:"failed_at,omitempty"`
}

func snapshotOrder(o *state.Order, c *state.Call) *orderSnapshot {
	snap := &orderSnapshot{
		OrderID:      o.OrderID,
		State:        string(o.State()),
		UserToken:    o.UserToken,
		NumberA:      o.NumberA,
		NumberB:      o.NumberB,
		CallerID:     o.CallerID,
		TrunkName:    o.TrunkName,
		CallID:       o.CallID,
		Metadata:     o.Metadata,
		StateHistory: historyStrings(o.History()),
		Timestamps:   o.Timestamps(),
		ErrorLog:     errorLogOrEmpty(o.ErrorLog()),
		CreatedAt:    o.CreatedAt(),
		UpdatedAt:    o.UpdatedAt(),
		CompletedAt:  o.CompletedAt,
		FailedAt:     o.FailedAt,
		CancelledAt:  o.CancelledAt,
	}
	if c != nil {
		snap.Call = snapshotCall(c)
	}
	return snap
}

func snapshotCall(c *state.Call) *callSnapshot {
	return &callSnapshot{
		CallID:          c.CallID,
		OrderID:         c.OrderID,
		State:           string(c.State()),
		NumberA:         c.NumberA,
		NumberB:         c.NumberB,
		CallerID:        c.CallerID,
		TrunkName:       c.TrunkName,
		ChannelAID:      c.ChannelAID,
		ChannelBID:      c.ChannelBID,
		Metadata:        c.Metadata,
		StateHistory:    historyStrings(c.History()),
		Timestamps:      c.Timestamps(),
		ErrorLog:        errorLogOrEmpty(c.ErrorLog()),
		DurationSeconds: c.DurationSeconds,
		CreatedAt:       c.CreatedAt(),
		UpdatedAt:       c.UpdatedAt(),
		StartedAt:       c.StartedAt,
		AnsweredAt:      c.AnsweredAt,
		BridgedAt:       c.BridgedAt,
		CompletedAt:     c.CompletedAt,
		FailedAt:        c.FailedAt,
	}
}

func historyStrings[S ~string](history []S) []string {
	out := make([]string, len(history))
	for i, s := range history {
		out[i] = string(s)
	}
	return out
}

// errorLogOrEmpty keeps error_log a JSON array even when empty.
func errorLogOrEmpty(log []state.ErrorRecord) []state.ErrorRecord {
	if log == nil {
		return []state.ErrorRecord{}
	}
	return log
}

package models

import "time"

// Event is one row of the append-only journal. Every persisted state
// transition of an order or call produces exactly one event. Seq is
// monotonically increasing per (EntityType, EntityID); JournalSeq totally
// orders the journal across entities regardless of timestamp collisions.
type Event struct {
	EventID       string         `json:"event_id"`
	EventType     string         `json:"event_type"`
	EntityType    string         `json:"entity_type"` // "order" or "call"
	EntityID      string         `json:"entity_id"`
	OrderID       string         `json:"order_id"`
	CallID        string         `json:"call_id,omitempty"`
	State         string         `json:"state"`
	PreviousState string         `json:"previous_state,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	Seq           int64          `json:"seq"`
	JournalSeq    int64          `json:"-"`
	CreatedAt     time.Time      `json:"created_at"`
}

// AsteriskConfig holds the PBX manager credentials stored in the database.
// When a row named "default" exists it overrides the environment-derived
// connection settings. The secret is stored and replayed byte-identically.
type AsteriskConfig struct {
	Name      string    `json:"name"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Username  string    `json:"username"`
	Secret    string    `json:"-"`
	UpdatedAt time.Time `json:"updated_at"`
}

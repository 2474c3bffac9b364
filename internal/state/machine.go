package state

import "time"

// TransitionRecord captures one state change with its timestamp and context.
// The first record of a machine has an empty PreviousState.
type TransitionRecord struct {
	State         string         `json:"state"`
	PreviousState string         `json:"previous_state,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	Metadata      map[string]any `json:"metadata"`
	Error         string         `json:"error,omitempty"`
}

// ErrorRecord is one entry in a machine's error log.
type ErrorRecord struct {
	State     string         `json:"state"`
	Timestamp time.Time      `json:"timestamp"`
	Error     string         `json:"error"`
	Metadata  map[string]any `json:"metadata"`
}

// Machine is a finite-state machine over a string-typed state set. It keeps
// the full transition history, per-transition timestamps and an error log.
// Rejected transitions never mutate the machine.
type Machine[S ~string] struct {
	current    S
	allowed    map[S][]S
	terminal   map[S]bool
	history    []S
	timestamps []TransitionRecord
	errorLog   []ErrorRecord
}

// NewMachine creates a machine in the given initial state and records the
// initial state as the first history and timestamp entry.
func NewMachine[S ~string](initial S, allowed map[S][]S, terminal map[S]bool) *Machine[S] {
	return &Machine[S]{
		current:  initial,
		allowed:  allowed,
		terminal: terminal,
		history:  []S{initial},
		timestamps: []TransitionRecord{{
			State:     string(initial),
			Timestamp: time.Now().UTC(),
			Metadata:  map[string]any{},
		}},
	}
}

// Restore rebuilds a machine from persisted history. The last history element
// must equal current; callers are expected to hand back exactly what Snapshot
// style accessors returned.
func Restore[S ~string](current S, allowed map[S][]S, terminal map[S]bool, history []S, timestamps []TransitionRecord, errorLog []ErrorRecord) *Machine[S] {
	m := &Machine[S]{
		current:    current,
		allowed:    allowed,
		terminal:   terminal,
		history:    append([]S(nil), history...),
		timestamps: append([]TransitionRecord(nil), timestamps...),
		errorLog:   append([]ErrorRecord(nil), errorLog...),
	}
	if len(m.history) == 0 {
		m.history = []S{current}
	}
	return m
}

// Current returns the current state.
func (m *Machine[S]) Current() S { return m.current }

// IsFinal reports whether the machine is in a terminal state.
func (m *Machine[S]) IsFinal() bool { return m.terminal[m.current] }

// CanTransition reports whether a transition to target is currently allowed.
func (m *Machine[S]) CanTransition(target S) bool {
	if m.IsFinal() {
		return false
	}
	for _, s := range m.allowed[m.current] {
		if s == target {
			return true
		}
	}
	return false
}

// Transition moves the machine to target, recording timestamp, metadata and
// an optional error message. It returns false without side effect when the
// current state is terminal or target is not an allowed successor.
func (m *Machine[S]) Transition(target S, metadata map[string]any, errMsg string) bool {
	if !m.CanTransition(target) {
		return false
	}

	prev := m.current
	now := time.Now().UTC()
	if metadata == nil {
		metadata = map[string]any{}
	}

	m.current = target
	m.history = append(m.history, target)
	m.timestamps = append(m.timestamps, TransitionRecord{
		State:         string(target),
		PreviousState: string(prev),
		Timestamp:     now,
		Metadata:      metadata,
		Error:         errMsg,
	})

	if errMsg != "" {
		m.errorLog = append(m.errorLog, ErrorRecord{
			State:     string(target),
			Timestamp: now,
			Error:     errMsg,
			Metadata:  metadata,
		})
	}

	return true
}

// History returns a copy of the ordered state history.
func (m *Machine[S]) History() []S {
	return append([]S(nil), m.history...)
}

// Timestamps returns a copy of the per-transition records, oldest first.
func (m *Machine[S]) Timestamps() []TransitionRecord {
	return append([]TransitionRecord(nil), m.timestamps...)
}

// ErrorLog returns a copy of the error log, oldest first.
func (m *Machine[S]) ErrorLog() []ErrorRecord {
	return append([]ErrorRecord(nil), m.errorLog...)
}

// LastTransition returns the most recent transition record.
func (m *Machine[S]) LastTransition() TransitionRecord {
	return m.timestamps[len(m.timestamps)-1]
}

// CreatedAt returns the timestamp of the initial state record.
func (m *Machine[S]) CreatedAt() time.Time {
	return m.timestamps[0].Timestamp
}

// UpdatedAt returns the timestamp of the most recent transition.
func (m *Machine[S]) UpdatedAt() time.Time {
	return m.timestamps[len(m.timestamps)-1].Timestamp
}

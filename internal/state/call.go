package state

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CallState is the state of one physical call attempt (two legs + bridge).
type CallState string

const (
	CallPending      CallState = "pending"
	CallCallingA     CallState = "calling_a"
	CallRingingA     CallState = "ringing_a"
	CallConnectedA   CallState = "connected_a"
	CallCallingB     CallState = "calling_b"
	CallRingingB     CallState = "ringing_b"
	CallConnectedB   CallState = "connected_b"
	CallBridged      CallState = "bridged"
	CallCompleted    CallState = "completed"
	CallFailedA      CallState = "failed_a"
	CallFailedB      CallState = "failed_b"
	CallFailedSystem CallState = "failed_system"
	CallCancelled    CallState = "cancelled"
)

var callTransitions = map[CallState][]CallState{
	CallPending:      {CallCallingA, CallFailedSystem, CallCancelled},
	// CALLING_A admits BRIDGED directly: an accepted async Originate marks
	// the call bridged optimistically, the dialplan owns the actual legs.
	CallCallingA:     {CallRingingA, CallConnectedA, CallBridged, CallFailedA, CallFailedSystem, CallCancelled},
	CallRingingA:     {CallConnectedA, CallFailedA, CallFailedSystem, CallCancelled},
	CallConnectedA:   {CallCallingB, CallFailedSystem, CallCancelled},
	CallCallingB:     {CallRingingB, CallConnectedB, CallBridged, CallFailedB, CallFailedSystem, CallCancelled},
	CallRingingB:     {CallConnectedB, CallBridged, CallFailedB, CallFailedSystem, CallCancelled},
	CallConnectedB:   {CallBridged, CallFailedSystem, CallCancelled},
	CallBridged:      {CallCompleted, CallFailedSystem, CallCancelled},
	CallCompleted:    {},
	CallFailedA:      {},
	CallFailedB:      {},
	CallFailedSystem: {},
	CallCancelled:    {},
}

var callTerminal = map[CallState]bool{
	CallCompleted:    true,
	CallFailedA:      true,
	CallFailedB:      true,
	CallFailedSystem: true,
	CallCancelled:    true,
}

// Call is one physical call attempt owned by an order.
type Call struct {
	CallID    string
	OrderID   string
	NumberA   string
	NumberB   string
	CallerID  string
	TrunkName string

	ChannelAID string // Asterisk Uniqueid of the A leg, set at most once
	ChannelBID string // Asterisk Uniqueid of the B leg, set at most once

	Metadata map[string]any

	StartedAt       *time.Time
	AnsweredAt      *time.Time
	BridgedAt       *time.Time
	CompletedAt     *time.Time
	FailedAt        *time.Time
	DurationSeconds int64

	machine *Machine[CallState]
}

// NewCall creates a call in the PENDING state attached to the given order.
func NewCall(orderID, numberA, numberB, callerID, trunkName string) *Call {
	return &Call{
		CallID:    uuid.NewString(),
		OrderID:   orderID,
		NumberA:   numberA,
		NumberB:   numberB,
		CallerID:  callerID,
		TrunkName: trunkName,
		Metadata:  map[string]any{},
		machine:   NewMachine(CallPending, callTransitions, callTerminal),
	}
}

// RestoreCall rebuilds a call aggregate from persisted fields.
func RestoreCall(callID, orderID string, current CallState, history []CallState, timestamps []TransitionRecord, errorLog []ErrorRecord) *Call {
	return &Call{
		CallID:   callID,
		OrderID:  orderID,
		Metadata: map[string]any{},
		machine:  Restore(current, callTransitions, callTerminal, history, timestamps, errorLog),
	}
}

// State returns the current call state.
func (c *Call) State() CallState { return c.machine.Current() }

// IsFinal reports whether the call has reached a terminal state.
func (c *Call) IsFinal() bool { return c.machine.IsFinal() }

// CanTransition reports whether a transition to target is allowed.
func (c *Call) CanTransition(target CallState) bool { return c.machine.CanTransition(target) }

// Transition advances the call, stamping the lifecycle timestamps and
// deriving the duration on completion. Returns false without side effect
// when rejected.
func (c *Call) Transition(target CallState, metadata map[string]any, errMsg string) bool {
	if !c.machine.Transition(target, metadata, errMsg) {
		return false
	}
	now := c.machine.UpdatedAt()
	switch target {
	case CallCallingA:
		c.StartedAt = &now
	case CallConnectedA, CallConnectedB:
		if c.AnsweredAt == nil {
			c.AnsweredAt = &now
		}
	case CallBridged:
		c.BridgedAt = &now
	case CallCompleted:
		c.CompletedAt = &now
		c.DurationSeconds = c.deriveDuration(now)
	case CallFailedA, CallFailedB, CallFailedSystem:
		c.FailedAt = &now
	}
	for k, v := range metadata {
		c.Metadata[k] = v
	}
	return true
}

// deriveDuration computes the billable duration at completion, preferring
// the bridged interval, then answered, then started.
func (c *Call) deriveDuration(completed time.Time) int64 {
	switch {
	case c.BridgedAt != nil:
		return int64(completed.Sub(*c.BridgedAt).Seconds())
	case c.AnsweredAt != nil:
		return int64(completed.Sub(*c.AnsweredAt).Seconds())
	case c.StartedAt != nil:
		return int64(completed.Sub(*c.StartedAt).Seconds())
	default:
		return 0
	}
}

// SetChannelA records the A-leg channel id. It may be set only once and only
// after the call has left PENDING.
func (c *Call) SetChannelA(uniqueID string) error {
	if c.State() == CallPending {
		return fmt.Errorf("call %s: channel_a before calling_a", c.CallID)
	}
	if c.ChannelAID != "" && c.ChannelAID != uniqueID {
		return fmt.Errorf("call %s: channel_a already set to %s", c.CallID, c.ChannelAID)
	}
	c.ChannelAID = uniqueID
	return nil
}

// SetChannelB records the B-leg channel id, set at most once.
func (c *Call) SetChannelB(uniqueID string) error {
	if c.ChannelBID != "" && c.ChannelBID != uniqueID {
		return fmt.Errorf("call %s: channel_b already set to %s", c.CallID, c.ChannelBID)
	}
	c.ChannelBID = uniqueID
	return nil
}

// History returns the ordered state history.
func (c *Call) History() []CallState { return c.machine.History() }

// Timestamps returns the per-transition records.
func (c *Call) Timestamps() []TransitionRecord { return c.machine.Timestamps() }

// ErrorLog returns the error log.
func (c *Call) ErrorLog() []ErrorRecord { return c.machine.ErrorLog() }

// CreatedAt returns when the call was created.
func (c *Call) CreatedAt() time.Time { return c.machine.CreatedAt() }

// UpdatedAt returns when the call last changed state.
func (c *Call) UpdatedAt() time.Time { return c.machine.UpdatedAt() }

// LastTransition returns the most recent transition record.
func (c *Call) LastTransition() TransitionRecord { return c.machine.LastTransition() }

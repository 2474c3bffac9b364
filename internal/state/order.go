package state

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OrderState is the commercial state of a call order.
type OrderState string

const (
	OrderCreated    OrderState = "created"
	OrderPending    OrderState = "pending"
	OrderProcessing OrderState = "processing"
	OrderInitiated  OrderState = "initiated"
	OrderVerified   OrderState = "verified"
	OrderCompleted  OrderState = "completed"
	OrderFailed     OrderState = "failed"
	OrderCancelled  OrderState = "cancelled"
	OrderRefunded   OrderState = "refunded"
)

// orderTransitions is the exhaustive allowed-transition table. Any pair not
// listed here is rejected.
var orderTransitions = map[OrderState][]OrderState{
	OrderCreated:    {OrderPending, OrderFailed, OrderCancelled},
	OrderPending:    {OrderProcessing, OrderFailed, OrderCancelled},
	OrderProcessing: {OrderInitiated, OrderFailed, OrderCancelled},
	OrderInitiated:  {OrderVerified, OrderCompleted, OrderFailed, OrderCancelled},
	OrderVerified:   {OrderCompleted, OrderFailed, OrderCancelled},
	OrderCompleted:  {},
	OrderFailed:     {},
	OrderCancelled:  {},
	OrderRefunded:   {},
}

var orderTerminal = map[OrderState]bool{
	OrderCompleted: true,
	OrderFailed:    true,
	OrderCancelled: true,
	OrderRefunded:  true,
}

// Order is the commercial envelope of a masked-call request. It owns at most
// one Call, referenced by CallID once assigned.
type Order struct {
	OrderID   string
	UserToken string
	NumberA   string
	NumberB   string
	CallerID  string
	TrunkName string
	CallID    string // empty until a call is attached
	Metadata  map[string]any

	CompletedAt *time.Time
	FailedAt    *time.Time
	CancelledAt *time.Time

	machine *Machine[OrderState]
}

// NewOrder creates an order in the CREATED state with a fresh order id.
func NewOrder(userToken, numberA, numberB, callerID, trunkName string) *Order {
	return &Order{
		OrderID:   uuid.NewString(),
		UserToken: userToken,
		NumberA:   numberA,
		NumberB:   numberB,
		CallerID:  callerID,
		TrunkName: trunkName,
		Metadata:  map[string]any{},
		machine:   NewMachine(OrderCreated, orderTransitions, orderTerminal),
	}
}

// RestoreOrder rebuilds an order aggregate from persisted fields.
func RestoreOrder(orderID string, current OrderState, history []OrderState, timestamps []TransitionRecord, errorLog []ErrorRecord) *Order {
	return &Order{
		OrderID:  orderID,
		Metadata: map[string]any{},
		machine:  Restore(current, orderTransitions, orderTerminal, history, timestamps, errorLog),
	}
}

// State returns the current order state.
func (o *Order) State() OrderState { return o.machine.Current() }

// IsFinal reports whether the order has reached a terminal state.
func (o *Order) IsFinal() bool { return o.machine.IsFinal() }

// CanTransition reports whether a transition to target is allowed.
func (o *Order) CanTransition(target OrderState) bool { return o.machine.CanTransition(target) }

// Transition advances the order, stamping terminal timestamps on completion,
// failure or cancellation. Returns false without side effect when rejected.
func (o *Order) Transition(target OrderState, metadata map[string]any, errMsg string) bool {
	if !o.machine.Transition(target, metadata, errMsg) {
		return false
	}
	now := o.machine.UpdatedAt()
	switch target {
	case OrderCompleted:
		o.CompletedAt = &now
	case OrderFailed:
		o.FailedAt = &now
	case OrderCancelled:
		o.CancelledAt = &now
	}
	for k, v := range metadata {
		o.Metadata[k] = v
	}
	return true
}

// SetCallID attaches the owning call. It is idempotent for the same id and
// fails when a different call is already attached.
func (o *Order) SetCallID(callID string) error {
	if o.CallID != "" && o.CallID != callID {
		return fmt.Errorf("order %s already linked to call %s", o.OrderID, o.CallID)
	}
	o.CallID = callID
	return nil
}

// History returns the ordered state history.
func (o *Order) History() []OrderState { return o.machine.History() }

// Timestamps returns the per-transition records.
func (o *Order) Timestamps() []TransitionRecord { return o.machine.Timestamps() }

// ErrorLog returns the error log.
func (o *Order) ErrorLog() []ErrorRecord { return o.machine.ErrorLog() }

// CreatedAt returns when the order was created.
func (o *Order) CreatedAt() time.Time { return o.machine.CreatedAt() }

// UpdatedAt returns when the order last changed state.
func (o *Order) UpdatedAt() time.Time { return o.machine.UpdatedAt() }

// LastTransition returns the most recent transition record.
func (o *Order) LastTransition() TransitionRecord { return o.machine.LastTransition() }

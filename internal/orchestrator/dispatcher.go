package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/securebridge/securebridge/internal/ami"
	"github.com/securebridge/securebridge/internal/database"
	"github.com/securebridge/securebridge/internal/state"
)

// Hangup causes treated as a normal call end.
const (
	hangupCauseUnknown = "0"
	hangupCauseNormal  = "16"
)

// Dispatcher is the single consumer of the AMI event stream. It resolves each
// event to a call via the correlation index (ActionID first, then Uniqueid,
// then channel name), applies the event to the call machine and persists the
// transition with its journal event. Events for untracked channels are
// dropped.
type Dispatcher struct {
	store  *database.Store
	events <-chan ami.Packet

	mu         sync.Mutex
	byAction   map[string]string // ActionID -> call_id
	byUnique   map[string]string // Uniqueid -> call_id
	byChannel  map[string]string // exact channel name -> call_id
	prefixes   map[string]string // channel name prefix -> call_id, best effort
	collectors map[string]*endpointCollector
}

// NewDispatcher creates a Dispatcher over an event stream.
func NewDispatcher(store *database.Store, events <-chan ami.Packet) *Dispatcher {
	return &Dispatcher{
		store:      store,
		events:     events,
		byAction:   make(map[string]string),
		byUnique:   make(map[string]string),
		byChannel:  make(map[string]string),
		prefixes:   make(map[string]string),
		collectors: make(map[string]*endpointCollector),
	}
}

// Run drains the event stream until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case pkt := <-d.events:
			d.handle(ctx, pkt)
		}
	}
}

// TrackAction pins an in-flight ActionID to a call before the action is sent,
// so events referencing it are never dropped by the race with the response.
func (d *Dispatcher) TrackAction(actionID, callID string) {
	d.mu.Lock()
	d.byAction[actionID] = callID
	d.mu.Unlock()
}

// TrackChannelPrefix registers a best-effort channel-name prefix for a call.
func (d *Dispatcher) TrackChannelPrefix(prefix, callID string) {
	d.mu.Lock()
	d.prefixes[prefix] = callID
	d.mu.Unlock()
}

func (d *Dispatcher) trackUnique(uniqueID, callID string) {
	d.mu.Lock()
	d.byUnique[uniqueID] = callID
	d.mu.Unlock()
}

// forget removes every index entry pointing at a finished call.
func (d *Dispatcher) forget(callID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, v := range d.byAction {
		if v == callID {
			delete(d.byAction, k)
		}
	}
	for k, v := range d.byUnique {
		if v == callID {
			delete(d.byUnique, k)
		}
	}
	for k, v := range d.byChannel {
		if v == callID {
			delete(d.byChannel, k)
		}
	}
	for k, v := range d.prefixes {
		if v == callID {
			delete(d.prefixes, k)
		}
	}
}

// resolve maps an event to a call id using the key priority ActionID,
// Uniqueid, channel name.
func (d *Dispatcher) resolve(pkt ami.Packet) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if id := pkt.ActionID(); id != "" {
		if callID, ok := d.byAction[id]; ok {
			return callID
		}
	}
	if uid := pkt.Uniqueid(); uid != "" {
		if callID, ok := d.byUnique[uid]; ok {
			return callID
		}
	}
	if ch := pkt.Channel(); ch != "" {
		if callID, ok := d.byChannel[ch]; ok {
			return callID
		}
		for prefix, callID := range d.prefixes {
			if strings.HasPrefix(ch, prefix) {
				return callID
			}
		}
	}
	return ""
}

// learn records correlation keys carried by an event already resolved to a
// call, so later events can match on them directly.
func (d *Dispatcher) learn(pkt ami.Packet, callID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if uid := pkt.Uniqueid(); uid != "" {
		d.byUnique[uid] = callID
	}
	if ch := pkt.Channel(); ch != "" {
		d.byChannel[ch] = callID
	}
}

func (d *Dispatcher) handle(ctx context.Context, pkt ami.Packet) {
	name := pkt.Event()

	// Endpoint listings are consumed by a registered collector, not by the
	// call index.
	if name == "EndpointList" || name == "EndpointListComplete" {
		d.feedCollector(pkt)
		return
	}

	callID := d.resolve(pkt)
	if callID == "" {
		return
	}
	d.learn(pkt, callID)

	if followup := d.applyLocked(ctx, callID, pkt); followup != nil {
		followup(ctx)
	}
}

// applyLocked loads the call under its lock and applies the event. Any order
// follow-up is returned and runs after the call lock is released: the order
// lock is never taken while a call lock is held, so ExecuteOrder can nest
// them the other way around.
func (d *Dispatcher) applyLocked(ctx context.Context, callID string, pkt ami.Packet) func(context.Context) {
	unlock := d.store.Lock(callID)
	defer unlock()

	call, err := d.store.Calls().GetByID(ctx, callID)
	if err != nil {
		slog.Error("loading call for event", "call_id", callID, "event", pkt.Event(), "error", err)
		return nil
	}
	if call.IsFinal() {
		d.forget(callID)
		return nil
	}

	followup := d.apply(ctx, call, pkt)

	if call.IsFinal() {
		d.forget(callID)
	}
	return followup
}

// apply advances the call machine for one event per the recognised-event
// table. Transitions the table rejects are dropped silently; the machine is
// authoritative.
func (d *Dispatcher) apply(ctx context.Context, call *state.Call, pkt ami.Packet) func(context.Context) {
	switch pkt.Event() {
	case "Newchannel":
		d.recordChannel(ctx, call, pkt.Uniqueid())

	case "Newstate":
		switch pkt.Get("ChannelState") {
		case "4":
			d.legRinging(ctx, call, pkt.Uniqueid())
		case "5":
			d.legAnswered(ctx, call, pkt.Uniqueid())
		}

	case "Ringing":
		d.legRinging(ctx, call, pkt.Uniqueid())

	case "Answer":
		d.legAnswered(ctx, call, pkt.Uniqueid())

	case "BridgeEnter":
		d.transition(ctx, call, state.CallBridged, nil, "")

	case "Hangup":
		cause := pkt.Get("Cause")
		orderID := call.OrderID
		if cause == hangupCauseNormal || cause == hangupCauseUnknown || cause == "" {
			if d.transition(ctx, call, state.CallCompleted, map[string]any{"cause": cause}, "") {
				return func(ctx context.Context) { d.completeOrder(ctx, orderID) }
			}
			return nil
		}
		msg := pkt.Get("Cause-txt")
		if msg == "" {
			msg = "hangup cause " + cause
		}
		target := state.CallFailedA
		if pkt.Uniqueid() == call.ChannelBID && call.ChannelBID != "" {
			target = state.CallFailedB
		}
		if d.transition(ctx, call, target, map[string]any{"cause": cause}, msg) {
			return func(ctx context.Context) { d.failOrder(ctx, orderID, msg) }
		}

	case "OriginateResponse":
		if pkt.Success() {
			// The A leg is born here; pin its Uniqueid for later events.
			d.recordChannel(ctx, call, pkt.Uniqueid())
			return nil
		}
		msg := pkt.Get("Reason")
		if m := pkt.Message(); m != "" {
			msg = m
		}
		if msg == "" {
			msg = "originate failed"
		}
		if d.transition(ctx, call, state.CallFailedA, nil, msg) {
			orderID := call.OrderID
			return func(ctx context.Context) { d.failOrder(ctx, orderID, msg) }
		}

	case "NewCallerid", "BridgeLeave":
		// Informational only.

	default:
		slog.Debug("unhandled ami event", "event", pkt.Event(), "call_id", call.CallID)
	}
	return nil
}

// recordChannel assigns the Uniqueid to the A leg first, then the B leg.
func (d *Dispatcher) recordChannel(ctx context.Context, call *state.Call, uniqueID string) {
	if uniqueID == "" || call.State() == state.CallPending {
		return
	}
	switch {
	case call.ChannelAID == "":
		if err := call.SetChannelA(uniqueID); err != nil {
			return
		}
	case call.ChannelAID != uniqueID && call.ChannelBID == "":
		if err := call.SetChannelB(uniqueID); err != nil {
			return
		}
	default:
		return
	}
	d.trackUnique(uniqueID, call.CallID)
	if err := d.store.SaveCall(ctx, call); err != nil {
		slog.Error("persisting channel id", "call_id", call.CallID, "error", err)
	}
}

func (d *Dispatcher) legRinging(ctx context.Context, call *state.Call, uniqueID string) {
	target := state.CallRingingA
	if uniqueID != "" && uniqueID == call.ChannelBID {
		target = state.CallRingingB
	}
	d.transition(ctx, call, target, nil, "")
}

func (d *Dispatcher) legAnswered(ctx context.Context, call *state.Call, uniqueID string) {
	target := state.CallConnectedA
	if uniqueID != "" && uniqueID == call.ChannelBID {
		target = state.CallConnectedB
	}
	d.transition(ctx, call, target, nil, "")
}

// transition applies one machine transition and persists it with its event.
// Returns whether the machine accepted the transition.
func (d *Dispatcher) transition(ctx context.Context, call *state.Call, target state.CallState, metadata map[string]any, errMsg string) bool {
	if !call.Transition(target, metadata, errMsg) {
		slog.Debug("event transition rejected", "call_id", call.CallID,
			"from", call.State(), "to", target)
		return false
	}
	if err := d.store.SaveCallTransition(ctx, call, callEventType(target)); err != nil {
		slog.Error("persisting call transition", "call_id", call.CallID, "to", target, "error", err)
		return false
	}
	return true
}

// completeOrder couples a normal hangup to the order: VERIFIED orders advance
// to COMPLETED when their call completes.
func (d *Dispatcher) completeOrder(ctx context.Context, orderID string) {
	unlock := d.store.Lock(orderID)
	defer unlock()

	ord, err := d.store.Orders().GetByID(ctx, orderID)
	if err != nil {
		slog.Error("loading order for completion", "order_id", orderID, "error", err)
		return
	}
	if !ord.Transition(state.OrderCompleted, nil, "") {
		return
	}
	if err := d.store.SaveOrderTransition(ctx, ord, "order.completed"); err != nil {
		slog.Error("persisting order completion", "order_id", orderID, "error", err)
	}
}

// failOrder fails the order when its call fails asynchronously.
func (d *Dispatcher) failOrder(ctx context.Context, orderID, msg string) {
	unlock := d.store.Lock(orderID)
	defer unlock()

	ord, err := d.store.Orders().GetByID(ctx, orderID)
	if err != nil {
		slog.Error("loading order for failure", "order_id", orderID, "error", err)
		return
	}
	if !ord.Transition(state.OrderFailed, nil, msg) {
		return
	}
	if err := d.store.SaveOrderTransition(ctx, ord, "order.failed"); err != nil {
		slog.Error("persisting order failure", "order_id", orderID, "error", err)
	}
}

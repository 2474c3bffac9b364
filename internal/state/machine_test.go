package state

import (
	"testing"
)

func TestMachineRecordsHistory(t *testing.T) {
	o := NewOrder("tok", "100", "200", "100", "default")

	if got := o.State(); got != OrderCreated {
		t.Fatalf("initial state = %q, want %q", got, OrderCreated)
	}
	if !o.Transition(OrderPending, nil, "") {
		t.Fatal("created -> pending rejected")
	}
	if !o.Transition(OrderProcessing, map[string]any{"attempt": 1}, "") {
		t.Fatal("pending -> processing rejected")
	}

	hist := o.History()
	want := []OrderState{OrderCreated, OrderPending, OrderProcessing}
	if len(hist) != len(want) {
		t.Fatalf("history length = %d, want %d", len(hist), len(want))
	}
	for i := range want {
		if hist[i] != want[i] {
			t.Errorf("history[%d] = %q, want %q", i, hist[i], want[i])
		}
	}
	if last := hist[len(hist)-1]; last != o.State() {
		t.Errorf("last history entry %q != current state %q", last, o.State())
	}

	ts := o.Timestamps()
	if len(ts) != 3 {
		t.Fatalf("timestamps length = %d, want 3", len(ts))
	}
	if ts[0].PreviousState != "" {
		t.Errorf("initial record previous_state = %q, want empty", ts[0].PreviousState)
	}
	if ts[2].PreviousState != string(OrderPending) {
		t.Errorf("third record previous_state = %q, want %q", ts[2].PreviousState, OrderPending)
	}
	if ts[2].Metadata["attempt"] != 1 {
		t.Errorf("transition metadata not recorded: %v", ts[2].Metadata)
	}
	for i := 1; i < len(ts); i++ {
		if ts[i].Timestamp.Before(ts[i-1].Timestamp) {
			t.Errorf("timestamps not monotonic at %d", i)
		}
	}
}

func TestMachineErrorLog(t *testing.T) {
	o := NewOrder("tok", "100", "200", "100", "default")

	if !o.Transition(OrderFailed, nil, "Extension not found") {
		t.Fatal("created -> failed rejected")
	}

	log := o.ErrorLog()
	if len(log) != 1 {
		t.Fatalf("error log length = %d, want 1", len(log))
	}
	if log[0].Error != "Extension not found" {
		t.Errorf("error log message = %q", log[0].Error)
	}
	if log[0].State != string(OrderFailed) {
		t.Errorf("error log state = %q, want %q", log[0].State, OrderFailed)
	}
	if o.FailedAt == nil {
		t.Error("FailedAt not stamped")
	}
}

func TestOrderTransitionTable(t *testing.T) {
	all := []OrderState{
		OrderCreated, OrderPending, OrderProcessing, OrderInitiated,
		OrderVerified, OrderCompleted, OrderFailed, OrderCancelled, OrderRefunded,
	}

	allowed := map[OrderState]map[OrderState]bool{}
	for from, tos := range orderTransitions {
		allowed[from] = map[OrderState]bool{}
		for _, to := range tos {
			allowed[from][to] = true
		}
	}

	for _, from := range all {
		for _, to := range all {
			m := Restore(from, orderTransitions, orderTerminal, []OrderState{from}, nil, nil)
			got := m.Transition(to, nil, "")
			want := allowed[from][to] && !orderTerminal[from]
			if got != want {
				t.Errorf("transition %s -> %s = %v, want %v", from, to, got, want)
			}
			if !got && m.Current() != from {
				t.Errorf("rejected transition %s -> %s mutated state to %s", from, to, m.Current())
			}
		}
	}
}

func TestCallTransitionTable(t *testing.T) {
	all := []CallState{
		CallPending, CallCallingA, CallRingingA, CallConnectedA, CallCallingB,
		CallRingingB, CallConnectedB, CallBridged, CallCompleted,
		CallFailedA, CallFailedB, CallFailedSystem, CallCancelled,
	}

	allowed := map[CallState]map[CallState]bool{}
	for from, tos := range callTransitions {
		allowed[from] = map[CallState]bool{}
		for _, to := range tos {
			allowed[from][to] = true
		}
	}

	for _, from := range all {
		for _, to := range all {
			m := Restore(from, callTransitions, callTerminal, []CallState{from}, nil, nil)
			got := m.Transition(to, nil, "")
			want := allowed[from][to] && !callTerminal[from]
			if got != want {
				t.Errorf("transition %s -> %s = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTerminalStatesRejectAll(t *testing.T) {
	o := NewOrder("tok", "100", "200", "100", "default")
	o.Transition(OrderPending, nil, "")
	o.Transition(OrderCancelled, nil, "")

	if !o.IsFinal() {
		t.Fatal("cancelled order not final")
	}
	if o.Transition(OrderPending, nil, "") {
		t.Error("transition out of terminal state accepted")
	}
	if len(o.History()) != 3 {
		t.Errorf("history grew after rejected transition: %v", o.History())
	}
}

func TestSelfTransitionRejected(t *testing.T) {
	c := NewCall("order-1", "100", "200", "100", "default")
	if c.Transition(CallPending, nil, "") {
		t.Error("self transition accepted")
	}
}

func TestSetCallIDIdempotent(t *testing.T) {
	o := NewOrder("tok", "100", "200", "100", "default")

	if err := o.SetCallID("call-1"); err != nil {
		t.Fatalf("first SetCallID: %v", err)
	}
	if err := o.SetCallID("call-1"); err != nil {
		t.Errorf("repeated SetCallID with same id: %v", err)
	}
	if err := o.SetCallID("call-2"); err == nil {
		t.Error("SetCallID with different id succeeded, want error")
	}
	if o.CallID != "call-1" {
		t.Errorf("CallID = %q, want call-1", o.CallID)
	}
}

func TestSetChannelA(t *testing.T) {
	c := NewCall("order-1", "100", "200", "100", "default")

	if err := c.SetChannelA("uid-1"); err == nil {
		t.Error("SetChannelA in pending succeeded, want error")
	}

	c.Transition(CallCallingA, nil, "")
	if err := c.SetChannelA("uid-1"); err != nil {
		t.Fatalf("SetChannelA in calling_a: %v", err)
	}
	if err := c.SetChannelA("uid-1"); err != nil {
		t.Errorf("repeated SetChannelA with same id: %v", err)
	}
	if err := c.SetChannelA("uid-2"); err == nil {
		t.Error("SetChannelA with different id succeeded, want error")
	}
}

func TestCallLifecycleStamps(t *testing.T) {
	c := NewCall("order-1", "100", "200", "100", "default")

	c.Transition(CallCallingA, nil, "")
	if c.StartedAt == nil {
		t.Fatal("StartedAt not stamped")
	}
	c.Transition(CallConnectedA, nil, "")
	if c.AnsweredAt == nil {
		t.Fatal("AnsweredAt not stamped")
	}
	c.Transition(CallCallingB, nil, "")
	c.Transition(CallBridged, nil, "")
	if c.BridgedAt == nil {
		t.Fatal("BridgedAt not stamped")
	}
	c.Transition(CallCompleted, nil, "")
	if c.CompletedAt == nil {
		t.Fatal("CompletedAt not stamped")
	}
	if c.DurationSeconds < 0 {
		t.Errorf("DurationSeconds = %d, want >= 0", c.DurationSeconds)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	o := NewOrder("tok", "100", "200", "100", "default")
	o.Transition(OrderPending, nil, "")
	o.Transition(OrderProcessing, map[string]any{"k": "v"}, "")

	r := RestoreOrder(o.OrderID, o.State(), o.History(), o.Timestamps(), o.ErrorLog())

	if r.State() != o.State() {
		t.Errorf("restored state = %q, want %q", r.State(), o.State())
	}
	if len(r.History()) != len(o.History()) {
		t.Errorf("restored history length = %d, want %d", len(r.History()), len(o.History()))
	}
	if !r.CreatedAt().Equal(o.CreatedAt()) || !r.UpdatedAt().Equal(o.UpdatedAt()) {
		t.Error("restored timestamps differ")
	}

	// The restored machine enforces the same table.
	if r.Transition(OrderVerified, nil, "") {
		t.Error("restored machine accepted processing -> verified")
	}
	if !r.Transition(OrderInitiated, nil, "") {
		t.Error("restored machine rejected processing -> initiated")
	}
}

package orchestrator

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/securebridge/securebridge/internal/ami"
	"github.com/securebridge/securebridge/internal/config"
	"github.com/securebridge/securebridge/internal/database"
	"github.com/securebridge/securebridge/internal/database/models"
	"github.com/securebridge/securebridge/internal/state"
)

// pbx is a scriptable mock manager interface. Each accepted connection gets
// the banner and login handshake; every following action frame is handed to
// onAction together with the live connection so scenarios can push
// asynchronous events.
type pbx struct {
	t   *testing.T
	cfg ami.Config

	mu       sync.Mutex
	lastConn net.Conn
}

func startPBX(t *testing.T, accepts int, authOK bool, onAction func(conn net.Conn, frame []string)) *pbx {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	p := &pbx{t: t}

	go func() {
		for i := 0; i < accepts; i++ {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			p.mu.Lock()
			p.lastConn = conn
			p.mu.Unlock()

			go func(conn net.Conn) {
				conn.Write([]byte("Asterisk Call Manager/5.0.2\r\n")) //nolint:errcheck
				r := bufio.NewReader(conn)
				frame, err := readFrame(r)
				if err != nil {
					return
				}
				id := frameValue(frame, "ActionID")
				if !authOK {
					conn.Write([]byte("Response: Error\r\nActionID: " + id + "\r\nMessage: Authentication failed\r\n\r\n")) //nolint:errcheck
					conn.Close()
					return
				}
				conn.Write([]byte("Response: Success\r\nActionID: " + id + "\r\nMessage: Authentication accepted\r\n\r\n")) //nolint:errcheck
				for {
					frame, err := readFrame(r)
					if err != nil {
						return
					}
					onAction(conn, frame)
				}
			}(conn)
		}
	}()

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	p.cfg = ami.Config{
		Host:             host,
		Port:             port,
		Username:         "bridge",
		Secret:           "s3cret",
		DialTimeout:      2 * time.Second,
		ActionTimeout:    time.Second,
		HeartbeatTimeout: 5 * time.Second,
	}
	return p
}

func (p *pbx) push(frames string) {
	p.mu.Lock()
	conn := p.lastConn
	p.mu.Unlock()
	if conn == nil {
		p.t.Fatal("no live pbx connection to push events on")
	}
	if _, err := conn.Write([]byte(frames)); err != nil {
		p.t.Fatalf("pushing events: %v", err)
	}
}

func readFrame(r *bufio.Reader) ([]string, error) {
	var lines []string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			return lines, nil
		}
		lines = append(lines, line)
	}
}

func frameValue(lines []string, key string) string {
	for _, l := range lines {
		if v, ok := strings.CutPrefix(l, key+": "); ok {
			return v
		}
	}
	return ""
}

// acceptOriginate answers an Originate with Success and returns its ActionID
// through the given channel. Other actions get a generic success.
func acceptOriginate(ids chan<- string) func(conn net.Conn, frame []string) {
	return func(conn net.Conn, frame []string) {
		id := frameValue(frame, "ActionID")
		if frameValue(frame, "Action") == "Originate" {
			select {
			case ids <- id:
			default:
			}
			conn.Write([]byte("Response: Success\r\nActionID: " + id + "\r\nMessage: Originate successfully queued\r\n\r\n")) //nolint:errcheck
			return
		}
		conn.Write([]byte("Response: Success\r\nActionID: " + id + "\r\n\r\n")) //nolint:errcheck
	}
}

type rig struct {
	store  *database.Store
	client *ami.Client
	disp   *Dispatcher
	orc    *Orchestrator
}

func newRig(t *testing.T, cfg ami.Config) *rig {
	t.Helper()

	db, err := database.Open(&config.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := database.NewStore(db)
	client := ami.NewClient(cfg)
	t.Cleanup(func() { client.Close() })

	disp := NewDispatcher(store, client.Events())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go disp.Run(ctx)

	return &rig{
		store:  store,
		client: client,
		disp:   disp,
		orc:    New(store, client, disp, "default"),
	}
}

func eventTypes(t *testing.T, store *database.Store, orderID string) []string {
	t.Helper()
	events, err := store.Events().ListByOrderID(context.Background(), orderID)
	if err != nil {
		t.Fatalf("listing events: %v", err)
	}
	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev.EventType
	}
	return types
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHappyPath(t *testing.T) {
	p := startPBX(t, 1, true, acceptOriginate(make(chan string, 1)))
	r := newRig(t, p.cfg)
	ctx := context.Background()

	ord, err := r.orc.CreateOrder(ctx, CreateOrderRequest{
		From: "09140916320", To: "09221609805", UserToken: "t1",
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if ord.State() != state.OrderPending {
		t.Fatalf("created order state = %s, want pending", ord.State())
	}

	ord, call, err := r.orc.ExecuteOrder(ctx, ord.OrderID)
	if err != nil {
		t.Fatalf("ExecuteOrder: %v", err)
	}
	if ord.State() != state.OrderVerified {
		t.Errorf("order state = %s, want verified", ord.State())
	}
	if call.State() != state.CallBridged {
		t.Errorf("call state = %s, want bridged", call.State())
	}
	if ord.CallID != call.CallID {
		t.Errorf("order.call_id = %q, want %q", ord.CallID, call.CallID)
	}

	want := []string{"order.created", "order.processing", "order.initiated",
		"call.calling_a", "call.bridged", "order.verified"}
	got := eventTypes(t, r.store, ord.OrderID)
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("events[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestOriginateRejected(t *testing.T) {
	p := startPBX(t, 1, true, func(conn net.Conn, frame []string) {
		id := frameValue(frame, "ActionID")
		conn.Write([]byte("Response: Error\r\nActionID: " + id + "\r\nMessage: Extension not found\r\n\r\n")) //nolint:errcheck
	})
	r := newRig(t, p.cfg)
	ctx := context.Background()

	ord, err := r.orc.CreateOrder(ctx, CreateOrderRequest{From: "111", To: "222", UserToken: "t2"})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	ord, call, err := r.orc.ExecuteOrder(ctx, ord.OrderID)
	if !errors.Is(err, ami.ErrActionRejected) {
		t.Fatalf("err = %v, want ACTION_REJECTED", err)
	}
	if ord.State() != state.OrderFailed {
		t.Errorf("order state = %s, want failed", ord.State())
	}
	if call.State() != state.CallFailedA {
		t.Errorf("call state = %s, want failed_a", call.State())
	}
	if log := call.ErrorLog(); len(log) == 0 || !strings.Contains(log[0].Error, "Extension not found") {
		t.Errorf("call error log missing rejection message: %+v", log)
	}

	got := eventTypes(t, r.store, ord.OrderID)
	if len(got) < 2 || got[len(got)-2] != "call.failed" || got[len(got)-1] != "order.failed" {
		t.Errorf("events do not end with call.failed, order.failed: %v", got)
	}
}

func TestAuthFailure(t *testing.T) {
	p := startPBX(t, 1, false, nil)
	r := newRig(t, p.cfg)
	ctx := context.Background()

	ord, err := r.orc.CreateOrder(ctx, CreateOrderRequest{From: "111", To: "222"})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	ord, _, err = r.orc.ExecuteOrder(ctx, ord.OrderID)
	if !errors.Is(err, ami.ErrAuthFailed) {
		t.Fatalf("err = %v, want AUTH_FAILED", err)
	}
	if ord.State() != state.OrderFailed {
		t.Errorf("order state = %s, want failed", ord.State())
	}
	if ord.CallID != "" {
		t.Errorf("call created despite failed connect: %q", ord.CallID)
	}
	if _, err := r.store.Calls().GetByOrderID(ctx, ord.OrderID); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("call row exists despite failed connect: %v", err)
	}
}

func TestConfigIncomplete(t *testing.T) {
	// No secret configured; connect must fail before dialing.
	r := newRig(t, ami.Config{Host: "127.0.0.1", Port: 5038, Username: "u"})
	ctx := context.Background()

	ord, err := r.orc.CreateOrder(ctx, CreateOrderRequest{From: "111", To: "222"})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	ord, _, err = r.orc.ExecuteOrder(ctx, ord.OrderID)
	if !errors.Is(err, ami.ErrConfigIncomplete) {
		t.Fatalf("err = %v, want CONFIG_INCOMPLETE", err)
	}
	if ord.State() != state.OrderFailed {
		t.Errorf("order state = %s, want failed", ord.State())
	}
}

func TestActionTimeout(t *testing.T) {
	p := startPBX(t, 1, true, func(conn net.Conn, frame []string) {
		// Swallow the action, never answer.
	})
	p.cfg.ActionTimeout = 100 * time.Millisecond
	r := newRig(t, p.cfg)
	ctx := context.Background()

	ord, err := r.orc.CreateOrder(ctx, CreateOrderRequest{From: "111", To: "222"})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	ord, call, err := r.orc.ExecuteOrder(ctx, ord.OrderID)
	if !errors.Is(err, ami.ErrActionTimeout) {
		t.Fatalf("err = %v, want ACTION_TIMEOUT", err)
	}
	if call.State() != state.CallFailedSystem {
		t.Errorf("call state = %s, want failed_system", call.State())
	}
	if ord.State() != state.OrderFailed {
		t.Errorf("order state = %s, want failed", ord.State())
	}
}

func TestAsynchronousHangupCompletesOrder(t *testing.T) {
	ids := make(chan string, 1)
	p := startPBX(t, 1, true, acceptOriginate(ids))
	r := newRig(t, p.cfg)
	ctx := context.Background()

	ord, err := r.orc.CreateOrder(ctx, CreateOrderRequest{From: "111", To: "222", UserToken: "t4"})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	ord, call, err := r.orc.ExecuteOrder(ctx, ord.OrderID)
	if err != nil {
		t.Fatalf("ExecuteOrder: %v", err)
	}

	actionID := <-ids

	// The A leg is born and then hangs up normally.
	p.push("Event: OriginateResponse\r\nActionID: " + actionID + "\r\nResponse: Success\r\nUniqueid: 1700000000.42\r\n\r\n")
	p.push("Event: Hangup\r\nUniqueid: 1700000000.42\r\nCause: 16\r\nCause-txt: Normal Clearing\r\n\r\n")

	waitFor(t, "call completion", func() bool {
		c, err := r.store.Calls().GetByID(ctx, call.CallID)
		return err == nil && c.State() == state.CallCompleted
	})

	c, err := r.store.Calls().GetByID(ctx, call.CallID)
	if err != nil {
		t.Fatalf("loading call: %v", err)
	}
	if c.ChannelAID != "1700000000.42" {
		t.Errorf("channel a = %q", c.ChannelAID)
	}
	if c.CompletedAt == nil {
		t.Error("CompletedAt not stamped")
	}

	// Completing the call completes the verified order.
	waitFor(t, "order completion", func() bool {
		o, err := r.store.Orders().GetByID(ctx, ord.OrderID)
		return err == nil && o.State() == state.OrderCompleted
	})

	got := eventTypes(t, r.store, ord.OrderID)
	if len(got) < 2 || got[len(got)-2] != "call.completed" || got[len(got)-1] != "order.completed" {
		t.Errorf("events do not end with call.completed, order.completed: %v", got)
	}
}

func TestAsynchronousHangupFailure(t *testing.T) {
	ids := make(chan string, 1)
	p := startPBX(t, 1, true, acceptOriginate(ids))
	r := newRig(t, p.cfg)
	ctx := context.Background()

	ord, err := r.orc.CreateOrder(ctx, CreateOrderRequest{From: "111", To: "222"})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	ord, call, err := r.orc.ExecuteOrder(ctx, ord.OrderID)
	if err != nil {
		t.Fatalf("ExecuteOrder: %v", err)
	}

	actionID := <-ids
	p.push("Event: OriginateResponse\r\nActionID: " + actionID + "\r\nResponse: Success\r\nUniqueid: 1700000000.43\r\n\r\n")
	p.push("Event: Hangup\r\nUniqueid: 1700000000.43\r\nCause: 34\r\nCause-txt: Circuit congestion\r\n\r\n")

	// BRIDGED admits no leg failure; the congested hangup is dropped and the
	// call stays bridged. Give the dispatcher a moment, then verify.
	time.Sleep(100 * time.Millisecond)
	c, err := r.store.Calls().GetByID(ctx, call.CallID)
	if err != nil {
		t.Fatalf("loading call: %v", err)
	}
	if c.State() != state.CallBridged {
		t.Errorf("call state = %s, want bridged (failure not admitted from bridged)", c.State())
	}
	o, err := r.store.Orders().GetByID(ctx, ord.OrderID)
	if err != nil {
		t.Fatalf("loading order: %v", err)
	}
	if o.State() != state.OrderVerified {
		t.Errorf("order state = %s, want verified", o.State())
	}
}

func TestEventsBeforeOriginateResponse(t *testing.T) {
	p := startPBX(t, 1, true, func(conn net.Conn, frame []string) {
		id := frameValue(frame, "ActionID")
		if frameValue(frame, "Action") != "Originate" {
			conn.Write([]byte("Response: Success\r\nActionID: " + id + "\r\n\r\n")) //nolint:errcheck
			return
		}
		// The leg is born and dies before the PBX acknowledges the action.
		conn.Write([]byte("Event: OriginateResponse\r\nActionID: " + id + "\r\nResponse: Success\r\nUniqueid: 1700000000.77\r\n\r\n")) //nolint:errcheck
		conn.Write([]byte("Event: Hangup\r\nUniqueid: 1700000000.77\r\nCause: 34\r\nCause-txt: Circuit congestion\r\n\r\n"))           //nolint:errcheck
		time.Sleep(50 * time.Millisecond)
		conn.Write([]byte("Response: Success\r\nActionID: " + id + "\r\nMessage: Originate successfully queued\r\n\r\n")) //nolint:errcheck
	})
	r := newRig(t, p.cfg)
	ctx := context.Background()

	ord, err := r.orc.CreateOrder(ctx, CreateOrderRequest{From: "111", To: "222"})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	ord, call, err := r.orc.ExecuteOrder(ctx, ord.OrderID)
	if err != nil {
		t.Fatalf("ExecuteOrder: %v", err)
	}
	if ord.State() != state.OrderVerified || call.State() != state.CallBridged {
		t.Fatalf("states after execute: order=%s call=%s", ord.State(), call.State())
	}

	// The early events queue behind the execution and apply to the committed
	// call, so the channel id lands without a transition the execution would
	// then overwrite.
	waitFor(t, "channel id", func() bool {
		c, err := r.store.Calls().GetByID(ctx, call.CallID)
		return err == nil && c.ChannelAID == "1700000000.77"
	})

	c, err := r.store.Calls().GetByID(ctx, call.CallID)
	if err != nil {
		t.Fatalf("loading call: %v", err)
	}
	if c.State() != state.CallBridged {
		t.Errorf("call state = %s, want bridged", c.State())
	}
	wantHistory := []state.CallState{state.CallPending, state.CallCallingA, state.CallBridged}
	gotHistory := c.History()
	if len(gotHistory) != len(wantHistory) {
		t.Fatalf("history = %v, want %v", gotHistory, wantHistory)
	}
	for i := range wantHistory {
		if gotHistory[i] != wantHistory[i] {
			t.Errorf("history[%d] = %s, want %s", i, gotHistory[i], wantHistory[i])
		}
	}

	got := eventTypes(t, r.store, ord.OrderID)
	for _, typ := range got {
		if typ == "call.failed" || typ == "order.failed" {
			t.Fatalf("failure journaled out of order: %v", got)
		}
	}
	if got[len(got)-1] != "order.verified" {
		t.Errorf("events do not end with order.verified: %v", got)
	}
}

func TestExecuteUnknownOrder(t *testing.T) {
	p := startPBX(t, 1, true, acceptOriginate(make(chan string, 1)))
	r := newRig(t, p.cfg)

	_, _, err := r.orc.ExecuteOrder(context.Background(), "no-such-order")
	if !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestExecuteTwiceConflicts(t *testing.T) {
	p := startPBX(t, 1, true, acceptOriginate(make(chan string, 1)))
	r := newRig(t, p.cfg)
	ctx := context.Background()

	ord, err := r.orc.CreateOrder(ctx, CreateOrderRequest{From: "111", To: "222"})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if _, _, err := r.orc.ExecuteOrder(ctx, ord.OrderID); err != nil {
		t.Fatalf("first ExecuteOrder: %v", err)
	}

	before := len(eventTypes(t, r.store, ord.OrderID))
	if _, _, err := r.orc.ExecuteOrder(ctx, ord.OrderID); !errors.Is(err, ErrConflict) {
		t.Fatalf("second execute err = %v, want ErrConflict", err)
	}
	if after := len(eventTypes(t, r.store, ord.OrderID)); after != before {
		t.Errorf("conflicting execute wrote %d events", after-before)
	}
}

func TestInvalidTransitionGuard(t *testing.T) {
	p := startPBX(t, 1, true, acceptOriginate(make(chan string, 1)))
	r := newRig(t, p.cfg)
	ctx := context.Background()

	ord, err := r.orc.CreateOrder(ctx, CreateOrderRequest{From: "111", To: "222"})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	loaded, err := r.store.Orders().GetByID(ctx, ord.OrderID)
	if err != nil {
		t.Fatalf("loading order: %v", err)
	}
	if loaded.Transition(state.OrderCompleted, nil, "") {
		t.Error("pending -> completed accepted")
	}
	if got := eventTypes(t, r.store, ord.OrderID); len(got) != 1 {
		t.Errorf("rejected transition emitted events: %v", got)
	}
}

func TestReconnectAfterSocketLoss(t *testing.T) {
	p := startPBX(t, 2, true, func(conn net.Conn, frame []string) {
		id := frameValue(frame, "ActionID")
		switch frameValue(frame, "Action") {
		case "Die":
			conn.Close()
		case "Originate":
			conn.Write([]byte("Response: Success\r\nActionID: " + id + "\r\nMessage: Originate successfully queued\r\n\r\n")) //nolint:errcheck
		default:
			conn.Write([]byte("Response: Success\r\nActionID: " + id + "\r\n\r\n")) //nolint:errcheck
		}
	})
	r := newRig(t, p.cfg)
	ctx := context.Background()

	if err := r.client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	ord, err := r.orc.CreateOrder(ctx, CreateOrderRequest{From: "111", To: "222"})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	// Kill the session; the in-flight action fails at transport level.
	_, err = r.client.Send(ctx, ami.NewAction("Die"))
	if ami.KindOf(err) != ami.KindTransport && !errors.Is(err, ami.ErrActionTimeout) {
		t.Fatalf("in-flight err = %v, want transport failure", err)
	}
	waitFor(t, "disconnect", func() bool { return !r.client.Connected() })

	// Execution reconnects transparently and succeeds.
	ord, call, err := r.orc.ExecuteOrder(ctx, ord.OrderID)
	if err != nil {
		t.Fatalf("ExecuteOrder after reconnect: %v", err)
	}
	if ord.State() != state.OrderVerified || call.State() != state.CallBridged {
		t.Errorf("states after reconnect: order=%s call=%s", ord.State(), call.State())
	}
}

func TestListTrunks(t *testing.T) {
	p := startPBX(t, 1, true, func(conn net.Conn, frame []string) {
		id := frameValue(frame, "ActionID")
		if frameValue(frame, "Action") != "PJSIPShowEndpoints" {
			conn.Write([]byte("Response: Success\r\nActionID: " + id + "\r\n\r\n")) //nolint:errcheck
			return
		}
		conn.Write([]byte("Response: Success\r\nActionID: " + id + "\r\nEventList: start\r\n\r\n"))                                                           //nolint:errcheck
		conn.Write([]byte("Event: EndpointList\r\nActionID: " + id + "\r\nObjectType: endpoint\r\nObjectName: default\r\nDeviceState: Not in use\r\n\r\n"))   //nolint:errcheck
		conn.Write([]byte("Event: EndpointList\r\nActionID: " + id + "\r\nObjectType: endpoint\r\nObjectName: carrier2\r\nDeviceState: Unavailable\r\n\r\n")) //nolint:errcheck
		conn.Write([]byte("Event: EndpointListComplete\r\nActionID: " + id + "\r\nListItems: 2\r\n\r\n"))                                                     //nolint:errcheck
	})
	r := newRig(t, p.cfg)
	ctx := context.Background()

	trunks, err := r.orc.ListTrunks(ctx)
	if err != nil {
		t.Fatalf("ListTrunks: %v", err)
	}
	if len(trunks) != 2 || trunks[0].Name != "default" || trunks[1].Name != "carrier2" {
		t.Errorf("trunks = %+v", trunks)
	}

	ep, err := r.orc.TrunkStatus(ctx, "carrier2")
	if err != nil {
		t.Fatalf("TrunkStatus: %v", err)
	}
	if ep.DeviceState != "Unavailable" {
		t.Errorf("device state = %q", ep.DeviceState)
	}

	if _, err := r.orc.TrunkStatus(ctx, "nope"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("missing trunk err = %v, want ErrNotFound", err)
	}
}

func TestResolveManagerConfig(t *testing.T) {
	db, err := database.Open(&config.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	defer db.Close()
	store := database.NewStore(db)
	ctx := context.Background()

	cfg := &config.Config{
		AsteriskHost: "env-host", AsteriskPort: 5038,
		AsteriskUsername: "env-user", AsteriskSecret: "env-secret",
	}

	mc, err := ResolveManagerConfig(ctx, store, cfg)
	if err != nil {
		t.Fatalf("ResolveManagerConfig: %v", err)
	}
	if mc.Host != "env-host" || mc.Secret != "env-secret" {
		t.Errorf("env config not used: %+v", mc)
	}

	err = store.AsteriskConfig().Upsert(ctx, &models.AsteriskConfig{
		Name: "default", Host: "db-host", Port: 5039,
		Username: "db-user", Secret: "  db secret  ",
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	mc, err = ResolveManagerConfig(ctx, store, cfg)
	if err != nil {
		t.Fatalf("ResolveManagerConfig: %v", err)
	}
	if mc.Host != "db-host" || mc.Port != 5039 || mc.Username != "db-user" {
		t.Errorf("stored row did not override env: %+v", mc)
	}
	if mc.Secret != "  db secret  " {
		t.Errorf("secret = %q, whitespace not preserved", mc.Secret)
	}
}

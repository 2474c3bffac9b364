package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/securebridge/securebridge/internal/ami"
	"github.com/securebridge/securebridge/internal/config"
	"github.com/securebridge/securebridge/internal/database"
	"github.com/securebridge/securebridge/internal/state"
)

// DialplanContext is the PBX-side context invoked by Originate. The dialplan
// there dials leg A, then bridges it to leg B using the ARG1/ARG2 variables.
const DialplanContext = "securebridge-control"

const originateTimeoutMS = 30000

// Sentinel errors mapped to HTTP statuses by the API layer.
var (
	ErrValidation = errors.New("invalid order request")
	ErrConflict   = errors.New("order already final")
)

// CreateOrderRequest is the input of CreateOrder. From and To are required;
// CallerID defaults to From and Trunk to the configured default trunk.
type CreateOrderRequest struct {
	From      string
	To        string
	UserToken string
	CallerID  string
	Trunk     string
}

// Orchestrator drives orders end to end: it creates them, issues Originate
// through the manager client and advances both state machines on the
// synchronous response. Asynchronous advancement is owned by the Dispatcher.
type Orchestrator struct {
	store  *database.Store
	client *ami.Client
	disp   *Dispatcher
	trunk  string
}

// New creates an Orchestrator.
func New(store *database.Store, client *ami.Client, disp *Dispatcher, trunk string) *Orchestrator {
	return &Orchestrator{store: store, client: client, disp: disp, trunk: trunk}
}

// ResolveManagerConfig builds the AMI connection settings from the
// environment, overridden by the asterisk_config row named "default" when one
// exists. The stored secret is used byte-identically.
func ResolveManagerConfig(ctx context.Context, store *database.Store, cfg *config.Config) (ami.Config, error) {
	mc := ami.Config{
		Host:     cfg.AsteriskHost,
		Port:     cfg.AsteriskPort,
		Username: cfg.AsteriskUsername,
		Secret:   cfg.AsteriskSecret,
	}
	row, err := store.AsteriskConfig().Get(ctx, "default")
	if errors.Is(err, database.ErrNotFound) {
		return mc, nil
	}
	if err != nil {
		return mc, fmt.Errorf("loading stored manager credentials: %w", err)
	}
	mc.Host = row.Host
	mc.Port = row.Port
	mc.Username = row.Username
	mc.Secret = row.Secret
	slog.Info("using stored manager credentials", "host", mc.Host, "username", mc.Username)
	return mc, nil
}

// CreateOrder constructs an order, advances it to PENDING and persists it
// with its creation event.
func (orc *Orchestrator) CreateOrder(ctx context.Context, req CreateOrderRequest) (*state.Order, error) {
	if req.From == "" || req.To == "" {
		return nil, fmt.Errorf("%w: from and to are required", ErrValidation)
	}
	callerID := req.CallerID
	if callerID == "" {
		callerID = req.From
	}
	trunk := req.Trunk
	if trunk == "" {
		trunk = orc.trunk
	}

	ord := state.NewOrder(req.UserToken, req.From, req.To, callerID, trunk)
	ord.Transition(state.OrderPending, nil, "")

	unlock := orc.store.Lock(ord.OrderID)
	defer unlock()
	if err := orc.store.SaveOrderTransition(ctx, ord, "order.created"); err != nil {
		return nil, err
	}

	slog.Info("order created", "order_id", ord.OrderID, "from", req.From, "to", req.To)
	return ord, nil
}

// ExecuteOrder runs the PBX side of an order: PROCESSING, manager connect,
// call creation, Originate, then the optimistic BRIDGED/VERIFIED advance on
// an accepted response. Failures transition both machines and are returned
// for the API layer to map onto HTTP statuses.
func (orc *Orchestrator) ExecuteOrder(ctx context.Context, orderID string) (*state.Order, *state.Call, error) {
	unlock := orc.store.Lock(orderID)
	defer unlock()

	ord, err := orc.store.Orders().GetByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	if !ord.Transition(state.OrderProcessing, nil, "") {
		return ord, nil, fmt.Errorf("order %s in state %s: %w", orderID, ord.State(), ErrConflict)
	}
	if err := orc.store.SaveOrderTransition(ctx, ord, "order.processing"); err != nil {
		return ord, nil, err
	}

	if err := orc.client.Connect(ctx); err != nil {
		orc.failOrder(ctx, ord, err.Error(), ami.KindOf(err))
		return ord, nil, err
	}

	call := state.NewCall(ord.OrderID, ord.NumberA, ord.NumberB, ord.CallerID, ord.TrunkName)
	if err := ord.SetCallID(call.CallID); err != nil {
		return ord, nil, fmt.Errorf("%w: %v", ErrConflict, err)
	}

	// The Dispatcher serialises call writes under the same lock, so events
	// racing the Originate response queue up behind this execution instead of
	// interleaving with it. Lock order is always order before call.
	unlockCall := orc.store.Lock(call.CallID)
	defer unlockCall()

	if err := orc.store.SaveCall(ctx, call); err != nil {
		orc.failOrder(ctx, ord, err.Error(), "")
		return ord, nil, err
	}

	ord.Transition(state.OrderInitiated, map[string]any{"call_id": call.CallID}, "")
	if err := orc.store.SaveOrderTransition(ctx, ord, "order.initiated"); err != nil {
		return ord, call, err
	}
	call.Transition(state.CallCallingA, nil, "")
	if err := orc.store.SaveCallTransition(ctx, call, "call.calling_a"); err != nil {
		return ord, call, err
	}

	channel := "SIP/" + ord.TrunkName + "/" + ord.NumberA
	actionID := uuid.NewString()
	orc.disp.TrackAction(actionID, call.CallID)
	orc.disp.TrackChannelPrefix(channel, call.CallID)

	userToken := ord.UserToken
	if userToken == "" {
		userToken = ord.OrderID
	}

	resp, err := orc.client.Originate(ctx, ami.OriginateRequest{
		ActionID:  actionID,
		Channel:   channel,
		Context:   DialplanContext,
		Exten:     "s",
		Priority:  1,
		CallerID:  ord.CallerID,
		TimeoutMS: originateTimeoutMS,
		Async:     true,
		Variables: []ami.Variable{
			{Name: "ARG1", Value: ord.NumberA},
			{Name: "ARG2", Value: ord.NumberB},
			{Name: "USER_TOKEN", Value: userToken},
		},
	})
	if err != nil {
		orc.failCall(ctx, call, state.CallFailedSystem, err.Error())
		orc.failOrder(ctx, ord, err.Error(), ami.KindOf(err))
		return ord, call, err
	}
	if !resp.Success() {
		msg := resp.Message()
		if msg == "" {
			msg = "originate rejected"
		}
		orc.failCall(ctx, call, state.CallFailedA, msg)
		orc.failOrder(ctx, ord, msg, ami.KindActionRejected)
		return ord, call, &ami.Error{Kind: ami.KindActionRejected, Message: msg}
	}

	// The dialplan owns the actual legs from here; an accepted async
	// Originate marks the attempt bridged and the order verified. The AMI
	// event stream settles the real outcome.
	call.Transition(state.CallBridged, map[string]any{"response": resp.Message()}, "")
	if err := orc.store.SaveCallTransition(ctx, call, "call.bridged"); err != nil {
		return ord, call, err
	}
	ord.Transition(state.OrderVerified, nil, "")
	if err := orc.store.SaveOrderTransition(ctx, ord, "order.verified"); err != nil {
		return ord, call, err
	}

	slog.Info("order executed", "order_id", ord.OrderID, "call_id", call.CallID, "channel", channel)
	return ord, call, nil
}

// failOrder transitions the order to FAILED and journals it. The caller
// already holds the order lock.
func (orc *Orchestrator) failOrder(ctx context.Context, ord *state.Order, msg string, kind ami.Kind) {
	metadata := map[string]any{}
	if kind != "" {
		metadata["error_kind"] = string(kind)
	}
	if !ord.Transition(state.OrderFailed, metadata, msg) {
		return
	}
	if err := orc.store.SaveOrderTransition(ctx, ord, "order.failed"); err != nil {
		slog.Error("persisting order failure", "order_id", ord.OrderID, "error", err)
	}
}

// failCall transitions the call to the given failure state and journals it.
func (orc *Orchestrator) failCall(ctx context.Context, call *state.Call, target state.CallState, msg string) {
	if !call.Transition(target, nil, msg) {
		return
	}
	if err := orc.store.SaveCallTransition(ctx, call, callEventType(target)); err != nil {
		slog.Error("persisting call failure", "call_id", call.CallID, "error", err)
	}
}

// callEventType maps a call state onto its journal event type. The three
// failure states share one event type.
func callEventType(s state.CallState) string {
	switch s {
	case state.CallFailedA, state.CallFailedB, state.CallFailedSystem:
		return "call.failed"
	default:
		return "call." + string(s)
	}
}

package ami

import (
	"context"
	"fmt"
	"strconv"
)

// OriginateRequest describes an Originate action. The bridging itself is
// performed by the PBX dialplan in the configured context; a successful
// response only means the action was accepted.
type OriginateRequest struct {
	ActionID  string // optional, pre-set to correlate asynchronous events
	Channel   string
	Context   string
	Exten     string
	Priority  int
	CallerID  string
	TimeoutMS int
	Async     bool
	Variables []Variable
}

// Variable is one channel variable for Originate.
type Variable struct {
	Name  string
	Value string
}

// Originate sends the Originate action and returns the PBX response.
func (c *Client) Originate(ctx context.Context, req OriginateRequest) (Packet, error) {
	if req.Channel == "" {
		return nil, fmt.Errorf("ami: originate requires a channel")
	}

	a := NewAction("Originate")
	if req.ActionID != "" {
		a.Set("ActionID", req.ActionID)
	}
	a.Set("Channel", req.Channel).
		Set("Context", req.Context).
		Set("Exten", req.Exten).
		Set("Priority", strconv.Itoa(req.Priority)).
		Set("CallerID", req.CallerID).
		Set("Timeout", strconv.Itoa(req.TimeoutMS))
	if req.Async {
		a.Set("Async", "true")
	}
	for _, v := range req.Variables {
		a.Set("Variable", v.Name+"="+v.Value)
	}

	return c.Send(ctx, a)
}

// Ping sends a keepalive Ping action.
func (c *Client) Ping(ctx context.Context) error {
	pkt, err := c.Send(ctx, NewAction("Ping"))
	if err != nil {
		return err
	}
	if !pkt.Success() {
		return &Error{Kind: KindProtocol, Message: pkt.Message()}
	}
	return nil
}

// ShowEndpoints sends PJSIPShowEndpoints. The endpoint list itself arrives
// as EndpointList events correlated by the returned ActionID; the caller
// collects them from the event stream.
func (c *Client) ShowEndpoints(ctx context.Context) (Packet, error) {
	return c.Send(ctx, NewAction("PJSIPShowEndpoints"))
}

package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/securebridge/securebridge/internal/ami"
	"github.com/securebridge/securebridge/internal/database"
)

const endpointListTimeout = 5 * time.Second

// Endpoint is one PJSIP endpoint reported by the PBX. Trunks appear here
// under their configured name.
type Endpoint struct {
	Name        string `json:"name"`
	DeviceState string `json:"device_state"`
	Aor         string `json:"aor,omitempty"`
	Transport   string `json:"transport,omitempty"`
}

// endpointCollector gathers the EndpointList events of one
// PJSIPShowEndpoints action. The slice is safe to read once done is closed.
type endpointCollector struct {
	done      chan struct{}
	endpoints []Endpoint
}

func (d *Dispatcher) collectEndpoints(actionID string) *endpointCollector {
	col := &endpointCollector{done: make(chan struct{})}
	d.mu.Lock()
	d.collectors[actionID] = col
	d.mu.Unlock()
	return col
}

func (d *Dispatcher) dropCollector(actionID string) {
	d.mu.Lock()
	delete(d.collectors, actionID)
	d.mu.Unlock()
}

func (d *Dispatcher) feedCollector(pkt ami.Packet) {
	d.mu.Lock()
	col, ok := d.collectors[pkt.ActionID()]
	d.mu.Unlock()
	if !ok {
		return
	}

	switch pkt.Event() {
	case "EndpointList":
		col.endpoints = append(col.endpoints, Endpoint{
			Name:        pkt.Get("ObjectName"),
			DeviceState: pkt.Get("DeviceState"),
			Aor:         pkt.Get("Aor"),
			Transport:   pkt.Get("Transport"),
		})
	case "EndpointListComplete":
		d.dropCollector(pkt.ActionID())
		close(col.done)
	}
}

// ListTrunks asks the PBX for its PJSIP endpoints. The listing arrives as
// EndpointList events correlated by ActionID and is complete when the PBX
// sends EndpointListComplete.
func (orc *Orchestrator) ListTrunks(ctx context.Context) ([]Endpoint, error) {
	actionID := uuid.NewString()
	col := orc.disp.collectEndpoints(actionID)
	defer orc.disp.dropCollector(actionID)

	if _, err := orc.client.Send(ctx, ami.NewAction("PJSIPShowEndpoints").Set("ActionID", actionID)); err != nil {
		return nil, err
	}

	select {
	case <-col.done:
		return col.endpoints, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(endpointListTimeout):
		return nil, &ami.Error{Kind: ami.KindActionTimeout, Message: "endpoint listing incomplete"}
	}
}

// TrunkStatus reports one endpoint by name.
func (orc *Orchestrator) TrunkStatus(ctx context.Context, name string) (*Endpoint, error) {
	endpoints, err := orc.ListTrunks(ctx)
	if err != nil {
		return nil, err
	}
	for i := range endpoints {
		if endpoints[i].Name == name {
			return &endpoints[i], nil
		}
	}
	return nil, fmt.Errorf("trunk %s: %w", name, database.ErrNotFound)
}

// Ping verifies the manager session end to end.
func (orc *Orchestrator) Ping(ctx context.Context) error {
	return orc.client.Ping(ctx)
}

package ami

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

const (
	defaultDialTimeout      = 10 * time.Second
	defaultActionTimeout    = 5 * time.Second
	defaultHeartbeatTimeout = 30 * time.Second

	// eventBuffer bounds the event channel; the dispatcher is the single
	// consumer, and a full buffer drops the oldest-pressure events.
	eventBuffer = 256
)

// Config holds the AMI connection settings. Username and Secret are written
// to the wire byte-identically, whitespace included.
type Config struct {
	Host     string
	Port     int
	Username string
	Secret   string

	DialTimeout      time.Duration
	ActionTimeout    time.Duration
	HeartbeatTimeout time.Duration
}

// Address returns the host:port dial target.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type sendResult struct {
	pkt Packet
	err error
}

// Client owns a single TCP connection to the PBX manager interface. One
// reader goroutine drains the socket; writers serialise through the client
// mutex; responses are routed back to senders by ActionID.
type Client struct {
	cfg Config

	// connectMu serialises the dial-banner-login sequence so concurrent
	// callers cannot open a second session.
	connectMu sync.Mutex

	mu        sync.Mutex
	conn      net.Conn
	reader    *bufio.Reader
	connected bool
	closed    bool
	pending   map[string]chan sendResult

	events chan Packet
}

// NewClient creates a disconnected client.
func NewClient(cfg Config) *Client {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = defaultActionTimeout
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	return &Client{
		cfg:     cfg,
		pending: make(map[string]chan sendResult),
		events:  make(chan Packet, eventBuffer),
	}
}

// Connected reports whether the client has an authenticated session.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Events returns the asynchronous event stream. The channel is shared across
// reconnects and is never closed; it is intended for a single consumer.
func (c *Client) Events() <-chan Packet {
	return c.events
}

// Connect dials the PBX, discards the protocol banner, authenticates and
// starts the read loop. Incomplete credentials fail before any socket is
// opened. Connecting an already-connected client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if c.cfg.Host == "" || c.cfg.Port == 0 || c.cfg.Username == "" || c.cfg.Secret == "" {
		return &Error{Kind: KindConfigIncomplete, Message: "asterisk host, port, username and secret are required"}
	}

	dialer := &net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Address())
	if err != nil {
		return classifyDialError(err)
	}

	reader := bufio.NewReader(conn)

	// The first line from the server is the protocol banner; discard it.
	conn.SetReadDeadline(time.Now().Add(c.cfg.DialTimeout))
	banner, err := reader.ReadString('\n')
	if err != nil {
		conn.Close()
		return &Error{Kind: KindProtocol, Message: "reading banner", Err: err}
	}
	slog.Debug("ami banner received", "banner", banner)

	// Login with the credentials exactly as configured. The secret is not
	// trimmed or re-encoded anywhere between storage and the wire.
	login := NewAction("Login").
		Set("Username", c.cfg.Username).
		Set("Secret", c.cfg.Secret)
	conn.SetWriteDeadline(time.Now().Add(c.cfg.DialTimeout))
	if _, err := conn.Write(login.Bytes()); err != nil {
		conn.Close()
		return &Error{Kind: KindTransport, Message: "sending login", Err: err}
	}

	conn.SetReadDeadline(time.Now().Add(c.cfg.DialTimeout))
	reply, err := readPacket(reader)
	if err != nil {
		conn.Close()
		return &Error{Kind: KindProtocol, Message: "reading login response", Err: err}
	}
	if !reply.Success() {
		conn.Close()
		msg := reply.Message()
		if msg == "" {
			msg = "authentication failed"
		}
		return &Error{Kind: KindAuthFailed, Message: msg}
	}

	c.mu.Lock()
	c.conn = conn
	c.reader = reader
	c.connected = true
	c.mu.Unlock()

	slog.Info("ami connected", "addr", c.cfg.Address(), "username", c.cfg.Username)

	go c.readLoop(conn, reader)
	return nil
}

// classifyDialError maps dial failures onto the error taxonomy.
func classifyDialError(err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &Error{Kind: KindDNS, Err: err}
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return &Error{Kind: KindConnectionRefused, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindTransport, Err: err}
}

// readLoop is the single socket reader. Each packet is classified as event,
// response, or malformed. A read error tears the session down and fails all
// in-flight actions with a transport error.
func (c *Client) readLoop(conn net.Conn, reader *bufio.Reader) {
	for {
		conn.SetReadDeadline(time.Now().Add(c.cfg.HeartbeatTimeout))
		pkt, err := readPacket(reader)
		if err != nil {
			c.teardown(conn, err)
			return
		}
		if len(pkt) == 0 {
			continue
		}

		switch {
		// OriginateResponse events carry a Response header too, so the
		// Event check runs first.
		case pkt.IsEvent():
			select {
			case c.events <- pkt:
			default:
				slog.Warn("ami event buffer full, dropping event", "event", pkt.Event())
			}
		case pkt.IsResponse():
			c.deliver(pkt)
		default:
			slog.Warn("ami packet without Event or Response header, dropping", "fields", len(pkt))
		}
	}
}

// deliver routes a response packet to the registered waiter.
func (c *Client) deliver(pkt Packet) {
	id := pkt.ActionID()
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		slog.Warn("ami response with unknown action id, dropping", "action_id", id)
		return
	}
	ch <- sendResult{pkt: pkt}
}

// teardown closes the connection and fails every pending waiter.
func (c *Client) teardown(conn net.Conn, cause error) {
	conn.Close()

	c.mu.Lock()
	if c.conn == conn {
		c.connected = false
		c.conn = nil
		c.reader = nil
	}
	waiters := c.pending
	c.pending = make(map[string]chan sendResult)
	c.mu.Unlock()

	transportErr := &Error{Kind: KindTransport, Message: "connection lost", Err: cause}
	for _, ch := range waiters {
		ch <- sendResult{err: transportErr}
	}

	slog.Warn("ami connection lost", "error", cause)
}

// Send transmits the action and waits for the matching response up to the
// action timeout. A fresh ActionID is injected unless the caller set one to
// correlate asynchronous events with the action. A disconnected client
// attempts one reconnect before sending.
func (c *Client) Send(ctx context.Context, a *Action) (Packet, error) {
	if !c.Connected() {
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
	}

	actionID := a.Get("ActionID")
	if actionID == "" {
		actionID = uuid.NewString()
		a.Set("ActionID", actionID)
	}

	ch := make(chan sendResult, 1)

	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.pending[actionID] = ch
	conn := c.conn
	// The write runs under the mutex, so a wedged peer must not be able to
	// hold it past the deadline.
	conn.SetWriteDeadline(time.Now().Add(c.cfg.DialTimeout))
	_, err := conn.Write(a.Bytes())
	c.mu.Unlock()

	if err != nil {
		c.removeWaiter(actionID)
		c.teardown(conn, err)
		return nil, &Error{Kind: KindTransport, Message: "sending action", Err: err}
	}

	timer := time.NewTimer(c.cfg.ActionTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.pkt, res.err
	case <-ctx.Done():
		c.removeWaiter(actionID)
		return nil, fmt.Errorf("ami: waiting for %s response: %w", a.Name(), ctx.Err())
	case <-timer.C:
		c.removeWaiter(actionID)
		return nil, &Error{Kind: KindActionTimeout, Message: fmt.Sprintf("no response to %s within %s", a.Name(), c.cfg.ActionTimeout)}
	}
}

func (c *Client) removeWaiter(actionID string) {
	c.mu.Lock()
	delete(c.pending, actionID)
	c.mu.Unlock()
}

// Close sends a best-effort Logoff and closes the socket. The client does
// not reconnect after Close.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	connected := c.connected
	c.connected = false
	c.conn = nil
	c.reader = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	if connected {
		conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		conn.Write(NewAction("Logoff").Bytes()) //nolint:errcheck
	}
	return conn.Close()
}

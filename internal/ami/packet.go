package ami

import (
	"bufio"
	"strings"
)

// Packet is one parsed AMI frame: CRLF-delimited "Key: Value" lines
// terminated by a blank line. Key lookup is case-insensitive.
type Packet map[string]string

// readPacket reads one full frame from r. It returns an empty packet when
// the frame contained no parseable key-value lines.
func readPacket(r *bufio.Reader) (Packet, error) {
	p := Packet{}
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			return p, nil
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			// Continuation or garbage line, skip it.
			continue
		}
		p[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
}

// Get returns the value for key, matching case-insensitively.
func (p Packet) Get(key string) string {
	if v, ok := p[key]; ok {
		return v
	}
	for k, v := range p {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// IsResponse reports whether the packet is a command response.
func (p Packet) IsResponse() bool { return p.Get("Response") != "" }

// IsEvent reports whether the packet is an asynchronous event.
func (p Packet) IsEvent() bool { return p.Get("Event") != "" }

// Success reports whether a response packet carries Response: Success.
func (p Packet) Success() bool { return strings.EqualFold(p.Get("Response"), "Success") }

// Event returns the event name, empty for non-events.
func (p Packet) Event() string { return p.Get("Event") }

// ActionID returns the correlation id, empty when absent.
func (p Packet) ActionID() string { return p.Get("ActionID") }

// Message returns the human-readable message header.
func (p Packet) Message() string { return p.Get("Message") }

// Uniqueid returns the Asterisk channel unique id.
func (p Packet) Uniqueid() string { return p.Get("Uniqueid") }

// Channel returns the Asterisk channel name.
func (p Packet) Channel() string { return p.Get("Channel") }

// Action is an outbound AMI action. Field order is preserved and values are
// written to the wire byte-identically: no trimming or re-encoding. Secrets
// with leading or trailing whitespace must arrive at the PBX verbatim.
type Action struct {
	name   string
	fields []actionField
}

type actionField struct {
	key   string
	value string
}

// NewAction creates an action with the given name.
func NewAction(name string) *Action {
	return &Action{name: name}
}

// Set appends a field. Repeated keys are allowed (Variable lines).
func (a *Action) Set(key, value string) *Action {
	a.fields = append(a.fields, actionField{key: key, value: value})
	return a
}

// Name returns the action name.
func (a *Action) Name() string { return a.name }

// Get returns the first value set for key, empty when absent.
func (a *Action) Get(key string) string {
	for _, f := range a.fields {
		if f.key == key {
			return f.value
		}
	}
	return ""
}

// Bytes renders the wire form of the action.
func (a *Action) Bytes() []byte {
	var b strings.Builder
	b.WriteString("Action: ")
	b.WriteString(a.name)
	b.WriteString("\r\n")
	for _, f := range a.fields {
		b.WriteString(f.key)
		b.WriteString(": ")
		b.WriteString(f.value)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

package ami

import "fmt"

// Kind classifies AMI failures so callers can map them to order and call
// outcomes without string matching.
type Kind string

const (
	KindConfigIncomplete  Kind = "CONFIG_INCOMPLETE"
	KindDNS               Kind = "DNS"
	KindConnectionRefused Kind = "CONNECTION_REFUSED"
	KindTimeout           Kind = "TIMEOUT"
	KindAuthFailed        Kind = "AUTH_FAILED"
	KindProtocol          Kind = "PROTOCOL"
	KindTransport         Kind = "TRANSPORT"
	KindActionTimeout     Kind = "ACTION_TIMEOUT"
	KindActionRejected    Kind = "ACTION_REJECTED"
)

// Error is an AMI failure with a classification kind.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("ami: %s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("ami: %s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("ami: %s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("ami: %s", e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches errors by kind, so errors.Is(err, ErrAuthFailed) works for any
// *Error carrying KindAuthFailed.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinel values for errors.Is matching.
var (
	ErrConfigIncomplete = &Error{Kind: KindConfigIncomplete}
	ErrAuthFailed       = &Error{Kind: KindAuthFailed}
	ErrActionTimeout    = &Error{Kind: KindActionTimeout}
	ErrActionRejected   = &Error{Kind: KindActionRejected}
	ErrNotConnected     = &Error{Kind: KindTransport, Message: "not connected"}
)

// KindOf returns the classification of err, or empty for non-AMI errors.
func KindOf(err error) Kind {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return ""
	}
	return e.Kind
}

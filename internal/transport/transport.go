// Package transport is the broker client capability used by the session
// manager: a Factory opens Sessions, and each Session reports what happens
// to it as a stream of Events on a channel, in the order they occurred.
package transport

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"
)

var (
	ErrSessionClosed     = errors.New("session closed")
	ErrNotConnected      = errors.New("session is not connected")
	ErrTimeout           = errors.New("operation timed out")
	ErrRefused           = errors.New("connection refused by broker")
	ErrConnectionLost    = errors.New("connection lost")
	ErrSubscribeRejected = errors.New("subscription rejected by broker")
	ErrUnsupportedScheme = errors.New("unsupported url scheme")
	ErrInvalidURL        = errors.New("invalid broker url")
)

// Options configure one session.
type Options struct {
	URL      string
	VPNName  string
	UserName string
	Password string

	ConnectTimeout     time.Duration
	ConnectRetries     int
	ReconnectRetries   int
	ReconnectRetryWait time.Duration
}

// Message is one inbound delivery.
type Message struct {
	Topic string
	// MessageID is the application-supplied id, empty when the transport has none.
	MessageID  string
	Attachment any
	Retained   bool
	Duplicate  bool
}

// Attachment picks the attachment shape for a raw payload: nil when empty,
// text when the bytes are valid UTF-8 and the raw bytes otherwise. JPEG and
// PNG files start with bytes that are not valid UTF-8.
func Attachment(payload []byte) any {
	if len(payload) == 0 {
		return nil
	}
	if utf8.Valid(payload) {
		return string(payload)
	}
	return payload
}

// Event is a session notification. The set of variants is closed.
type Event interface {
	event()
}

// UpEvent reports that the session is established.
type UpEvent struct{}

// ConnectFailedEvent reports that the initial connect gave up.
type ConnectFailedEvent struct {
	Err error
}

// DisconnectedEvent reports the session ended without the caller closing it.
type DisconnectedEvent struct {
	Err error
}

// ReconnectingEvent reports that a lost connection is being re-established.
type ReconnectingEvent struct {
	Attempt int
	Err     error
}

// ReconnectedEvent reports a successful reconnect. Subscriptions made on the
// previous connection are gone.
type ReconnectedEvent struct{}

// MessageEvent carries one inbound message.
type MessageEvent struct {
	Message Message
}

func (UpEvent) event()            {}
func (ConnectFailedEvent) event() {}
func (DisconnectedEvent) event()  {}
func (ReconnectingEvent) event()  {}
func (ReconnectedEvent) event()   {}
func (MessageEvent) event()       {}

// Session is one logical connection to the broker. Subscribe, Unsubscribe
// and Publish block until acknowledged or ctx is done. Events is closed when
// the session has stopped for good.
type Session interface {
	Events() <-chan Event
	Subscribe(ctx context.Context, filter string) error
	Unsubscribe(ctx context.Context, filter string) error
	Publish(ctx context.Context, topic string, payload []byte) error
	Close(ctx context.Context) error
}

// Factory opens sessions. Open returns immediately; the outcome of the
// connect is reported as an UpEvent or ConnectFailedEvent.
type Factory interface {
	Open(opts Options) (Session, error)
}

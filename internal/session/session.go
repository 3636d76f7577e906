// Package session owns the broker session lifecycle: connect, subscribe,
// react to transport events and tear everything down on disconnect.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/topic"
	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/transport"
)

const DefaultConnectTimeout = 5 * time.Second

var ErrInvalidConfig = errors.New("invalid session config")

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config is a fully resolved session configuration.
type Config struct {
	URL       string `json:"url" yaml:"url"`
	VPNName   string `json:"vpn_name" yaml:"vpn_name"`
	UserName  string `json:"user_name" yaml:"user_name"`
	Password  string `json:"password" yaml:"password"`
	TopicName string `json:"topic_name" yaml:"topic_name"`

	ConnectTimeoutMs     int `json:"connect_timeout_ms" yaml:"connect_timeout_ms"`
	ConnectRetries       int `json:"connect_retries" yaml:"connect_retries"`
	ReconnectRetries     int `json:"reconnect_retries" yaml:"reconnect_retries"`
	ReconnectRetryWaitMs int `json:"reconnect_retry_wait_ms" yaml:"reconnect_retry_wait_ms"`
}

// Validate checks required fields and returns the topic filter to subscribe
// to, with a trailing '>' translated to '#'. The password may be empty.
func (c Config) Validate() (string, error) {
	var missing []string
	for _, field := range []struct{ name, value string }{
		{"url", c.URL},
		{"vpn_name", c.VPNName},
		{"user_name", c.UserName},
		{"topic_name", c.TopicName},
	} {
		if strings.TrimSpace(field.value) == "" {
			missing = append(missing, field.name)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: missing %s", ErrInvalidConfig, strings.Join(missing, ", "))
	}
	if c.ConnectTimeoutMs < 0 || c.ConnectRetries < 0 || c.ReconnectRetries < 0 || c.ReconnectRetryWaitMs < 0 {
		return "", fmt.Errorf("%w: tuning values must not be negative", ErrInvalidConfig)
	}
	filter, err := topic.ToFilter(c.TopicName)
	if err != nil {
		return "", fmt.Errorf("%w: topic %q: %w", ErrInvalidConfig, c.TopicName, err)
	}
	return filter, nil
}

// Timeout bounds the connect handshake and every subscribe and unsubscribe.
func (c Config) Timeout() time.Duration {
	if c.ConnectTimeoutMs == 0 {
		return DefaultConnectTimeout
	}
	return time.Duration(c.ConnectTimeoutMs) * time.Millisecond
}

// Options converts the config into transport options.
func (c Config) Options() transport.Options {
	return transport.Options{
		URL:                c.URL,
		VPNName:            c.VPNName,
		UserName:           c.UserName,
		Password:           c.Password,
		ConnectTimeout:     c.Timeout(),
		ConnectRetries:     c.ConnectRetries,
		ReconnectRetries:   c.ReconnectRetries,
		ReconnectRetryWait: time.Duration(c.ReconnectRetryWaitMs) * time.Millisecond,
	}
}

// ConnectionError is fatal to the current connect attempt.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// SubscriptionError is a warning; the session stays connected.
type SubscriptionError struct {
	Topic string
	Err   error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription to %s failed: %v", e.Topic, e.Err)
}

func (e *SubscriptionError) Unwrap() error {
	return e.Err
}

package transport

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/brokertest"
	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/packet"
	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/topic"
)

const eventTimeout = 3 * time.Second

func startBroker(t *testing.T, opts ...brokertest.Option) *brokertest.Broker {
	t.Helper()
	broker, err := brokertest.Start(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = broker.Close() })
	return broker
}

func testOptions(url string) Options {
	return Options{
		URL:                url,
		VPNName:            "default",
		UserName:           "default",
		Password:           "default",
		ConnectTimeout:     time.Second,
		ConnectRetries:     0,
		ReconnectRetries:   0,
		ReconnectRetryWait: 20 * time.Millisecond,
	}
}

func open(t *testing.T, opts Options) Session {
	t.Helper()
	session, err := NewMQTTFactory().Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		defer cancel()
		_ = session.Close(ctx)
	})
	return session
}

func nextEvent(t *testing.T, session Session) Event {
	t.Helper()
	select {
	case ev, ok := <-session.Events():
		require.True(t, ok, "events channel closed")
		return ev
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func openConnected(t *testing.T, opts Options) Session {
	t.Helper()
	session := open(t, opts)
	require.IsType(t, UpEvent{}, nextEvent(t, session))
	return session
}

func subscribe(t *testing.T, session Session, filter string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	require.NoError(t, session.Subscribe(ctx, filter))
}

func expectClosed(t *testing.T, session Session) {
	t.Helper()
	select {
	case ev, ok := <-session.Events():
		assert.False(t, ok, "unexpected event %#v", ev)
	case <-time.After(eventTimeout):
		t.Fatal("events channel not closed")
	}
}

func TestParseBrokerURL(t *testing.T) {
	tests := []struct {
		raw     string
		address string
		tls     bool
		err     error
	}{
		{"tcp://localhost:1883", "localhost:1883", false, nil},
		{"tcp://localhost", "localhost:1883", false, nil},
		{"mqtt://broker.local:1999", "broker.local:1999", false, nil},
		{"localhost:1884", "localhost:1884", false, nil},
		{"ssl://broker.solace.cloud", "broker.solace.cloud:8883", true, nil},
		{"mqtts://broker:9000", "broker:9000", true, nil},
		{"tcps://mr-broker.messaging.solace.cloud:8883", "mr-broker.messaging.solace.cloud:8883", true, nil},
		{"ws://localhost:8000", "", false, ErrUnsupportedScheme},
		{"", "", false, ErrInvalidURL},
		{"tcp://:1883", "", false, ErrInvalidURL},
	}
	for _, tt := range tests {
		address, useTLS, err := ParseBrokerURL(tt.raw)
		if tt.err != nil {
			assert.ErrorIs(t, err, tt.err, "url %q", tt.raw)
			continue
		}
		require.NoError(t, err, "url %q", tt.raw)
		assert.Equal(t, tt.address, address)
		assert.Equal(t, tt.tls, useTLS)
	}
}

func TestNewClientID(t *testing.T) {
	id := NewClientID("default")
	assert.Len(t, id, 23)
	assert.True(t, strings.HasPrefix(id, "default"))

	id = NewClientID("my-very-long_vpn name")
	assert.Len(t, id, 23)
	assert.True(t, strings.HasPrefix(id, "myveryl"))

	assert.Len(t, NewClientID(""), 23)
	assert.NotEqual(t, NewClientID("a"), NewClientID("a"))
}

func TestAttachment(t *testing.T) {
	assert.Nil(t, Attachment(nil))
	assert.Nil(t, Attachment([]byte{}))
	assert.Equal(t, "/9j/4AAQ", Attachment([]byte("/9j/4AAQ")))
	assert.Equal(t, []byte{0xFF, 0xD8, 0xFF}, Attachment([]byte{0xFF, 0xD8, 0xFF}))
}

func TestSessionReceivesMessages(t *testing.T) {
	broker := startBroker(t)
	session := openConnected(t, testOptions(broker.URL()))
	subscribe(t, session, "solace/images/#")
	require.Equal(t, 1, broker.Subscribers("solace/images/cat.jpg"))

	require.Equal(t, 1, broker.Publish("solace/images/cat.jpg", []byte("/9j/4AAQ")))
	ev := nextEvent(t, session)
	require.IsType(t, MessageEvent{}, ev)
	msg := ev.(MessageEvent).Message
	assert.Equal(t, "solace/images/cat.jpg", msg.Topic)
	assert.Equal(t, "/9j/4AAQ", msg.Attachment)
	assert.Empty(t, msg.MessageID)

	broker.Publish("solace/images/raw.png", []byte{0x89, 0x50, 0x4E, 0x47})
	ev = nextEvent(t, session)
	require.IsType(t, MessageEvent{}, ev)
	assert.Equal(t, []byte{0x89, 0x50, 0x4E, 0x47}, ev.(MessageEvent).Message.Attachment)

	assert.Zero(t, broker.Publish("solace/videos/clip.mp4", []byte("x")))
}

func TestSessionPublish(t *testing.T) {
	broker := startBroker(t)
	receiver := openConnected(t, testOptions(broker.URL()))
	subscribe(t, receiver, "solace/images/#")
	sender := openConnected(t, testOptions(broker.URL()))

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	require.NoError(t, sender.Publish(ctx, "solace/images/dog.png", []byte("iVBORw0K")))
	assert.ErrorIs(t, sender.Publish(ctx, "solace/images/#", []byte("x")), topic.ErrWildcardInName)

	ev := nextEvent(t, receiver)
	require.IsType(t, MessageEvent{}, ev)
	assert.Equal(t, "solace/images/dog.png", ev.(MessageEvent).Message.Topic)
	assert.Equal(t, "iVBORw0K", ev.(MessageEvent).Message.Attachment)
}

func TestSessionUnsubscribe(t *testing.T) {
	broker := startBroker(t)
	session := openConnected(t, testOptions(broker.URL()))
	subscribe(t, session, "solace/images/#")

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	require.NoError(t, session.Unsubscribe(ctx, "solace/images/#"))
	assert.Zero(t, broker.Subscribers("solace/images/cat.jpg"))
}

func TestSessionSubscribeRejected(t *testing.T) {
	broker := startBroker(t)
	broker.SetRejectSubscriptions(true)
	session := openConnected(t, testOptions(broker.URL()))

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	assert.ErrorIs(t, session.Subscribe(ctx, "solace/images/#"), ErrSubscribeRejected)
}

func TestSessionConnectRefused(t *testing.T) {
	broker := startBroker(t, brokertest.WithCredentials("default", "secret"))
	opts := testOptions(broker.URL())
	opts.ConnectRetries = 3
	session := open(t, opts)

	ev := nextEvent(t, session)
	require.IsType(t, ConnectFailedEvent{}, ev)
	assert.ErrorIs(t, ev.(ConnectFailedEvent).Err, ErrRefused)
	expectClosed(t, session)
	assert.Zero(t, broker.Connects())
}

func TestSessionConnectTimeout(t *testing.T) {
	broker := startBroker(t)
	broker.SetConnAckDelay(500 * time.Millisecond)
	opts := testOptions(broker.URL())
	opts.ConnectTimeout = 100 * time.Millisecond
	session := open(t, opts)

	ev := nextEvent(t, session)
	require.IsType(t, ConnectFailedEvent{}, ev)
	assert.ErrorIs(t, ev.(ConnectFailedEvent).Err, ErrTimeout)
	expectClosed(t, session)
}

func TestSessionServerUnavailable(t *testing.T) {
	broker := startBroker(t)
	broker.SetRefuseCode(packet.ServerUnavailable)
	session := open(t, testOptions(broker.URL()))

	ev := nextEvent(t, session)
	require.IsType(t, ConnectFailedEvent{}, ev)
	assert.ErrorIs(t, ev.(ConnectFailedEvent).Err, ErrRefused)
	assert.Contains(t, ev.(ConnectFailedEvent).Err.Error(), "server unavailable")
	expectClosed(t, session)
}

func TestSessionConnectRetries(t *testing.T) {
	broker, err := brokertest.Start()
	require.NoError(t, err)
	url := broker.URL()
	require.NoError(t, broker.Close())

	opts := testOptions(url)
	opts.ConnectRetries = 2
	session := open(t, opts)

	ev := nextEvent(t, session)
	require.IsType(t, ConnectFailedEvent{}, ev)
	assert.Error(t, ev.(ConnectFailedEvent).Err)
	expectClosed(t, session)
}

func TestSessionReconnects(t *testing.T) {
	broker := startBroker(t)
	opts := testOptions(broker.URL())
	opts.ReconnectRetries = 3
	session := openConnected(t, opts)
	subscribe(t, session, "solace/images/#")

	broker.DropClients()
	ev := nextEvent(t, session)
	require.IsType(t, ReconnectingEvent{}, ev)
	assert.Equal(t, 1, ev.(ReconnectingEvent).Attempt)
	require.IsType(t, ReconnectedEvent{}, nextEvent(t, session))
	assert.Equal(t, 2, broker.Connects())

	// 重连后的会话是干净的，订阅需要重新发起
	assert.Zero(t, broker.Subscribers("solace/images/cat.jpg"))
	subscribe(t, session, "solace/images/#")
	broker.Publish("solace/images/cat.jpg", []byte("/9j/"))
	require.IsType(t, MessageEvent{}, nextEvent(t, session))
}

func TestSessionDisconnectedWithoutReconnect(t *testing.T) {
	broker := startBroker(t)
	session := openConnected(t, testOptions(broker.URL()))

	broker.DropClients()
	ev := nextEvent(t, session)
	require.IsType(t, DisconnectedEvent{}, ev)
	assert.Error(t, ev.(DisconnectedEvent).Err)
	expectClosed(t, session)
}

func TestSessionClose(t *testing.T) {
	broker := startBroker(t)
	session := openConnected(t, testOptions(broker.URL()))
	subscribe(t, session, "solace/images/#")

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	require.NoError(t, session.Close(ctx))
	require.NoError(t, session.Close(ctx))
	expectClosed(t, session)

	assert.ErrorIs(t, session.Subscribe(ctx, "solace/images/#"), ErrSessionClosed)
	assert.ErrorIs(t, session.Publish(ctx, "solace/images/a.jpg", []byte("x")), ErrSessionClosed)
	assert.Eventually(t, func() bool { return broker.Clients() == 0 }, eventTimeout, 10*time.Millisecond)
}

func TestOpenRejectsBadURL(t *testing.T) {
	_, err := NewMQTTFactory().Open(testOptions("ws://localhost:8000"))
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
}

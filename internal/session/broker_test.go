package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/brokertest"
	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/transport"
)

func TestManagerAgainstBroker(t *testing.T) {
	broker, err := brokertest.Start(brokertest.WithCredentials("default", "default"))
	require.NoError(t, err)
	defer func() { _ = broker.Close() }()

	rec := &recorder{}
	m := NewManager(transport.NewMQTTFactory(), rec.handle)
	cfg := validConfig()
	cfg.URL = broker.URL()
	cfg.ConnectTimeoutMs = 1000

	require.Equal(t, Connecting, m.Connect(cfg))
	require.Eventually(t, func() bool { return m.Subscription() == "solace/images/#" }, waitFor, 10*time.Millisecond)
	assert.Equal(t, Connected, m.State())
	assert.Equal(t, 1, broker.Subscribers("solace/images/cat.jpg"))

	broker.Publish("solace/images/cat.jpg", []byte("/9j/4AAQ"))
	broker.Publish("solace/images/dog.png", []byte("iVBORw0K"))
	require.Eventually(t, func() bool { return len(rec.Messages()) == 2 }, waitFor, 10*time.Millisecond)
	assert.Equal(t, []string{"solace/images/cat.jpg", "solace/images/dog.png"}, rec.Messages())

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	m.Disconnect(ctx)
	assert.Equal(t, Disconnected, m.State())
	assert.Zero(t, broker.Subscribers("solace/images/cat.jpg"))
	assert.Eventually(t, func() bool { return broker.Clients() == 0 }, waitFor, 10*time.Millisecond)
}

func TestManagerBadCredentials(t *testing.T) {
	broker, err := brokertest.Start(brokertest.WithCredentials("default", "secret"))
	require.NoError(t, err)
	defer func() { _ = broker.Close() }()

	m := NewManager(transport.NewMQTTFactory(), nil)
	cfg := validConfig()
	cfg.URL = broker.URL()

	require.Equal(t, Connecting, m.Connect(cfg))
	require.Eventually(t, func() bool { return m.State() == Disconnected }, waitFor, 10*time.Millisecond)
	assert.ErrorIs(t, m.LastError(), transport.ErrRefused)
}

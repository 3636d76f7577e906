package session

import (
	"context"
	"sync"

	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/logger"
	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/transport"
)

// MessageHandler receives inbound messages one at a time, in delivery order.
type MessageHandler func(msg transport.Message)

// StateObserver is told about every transition. It runs with the manager
// locked and must not call back into it.
type StateObserver func(from, to State)

// Manager drives exactly one broker session at a time.
type Manager struct {
	factory  transport.Factory
	handler  MessageHandler
	observer StateObserver

	mu           sync.Mutex
	state        State
	lastErr      error
	cfg          Config
	filter       string
	subscription string
	session      transport.Session
	cancel       context.CancelFunc
	loopDone     chan struct{}

	// serializes Disconnect calls
	teardown sync.Mutex
	subWG    sync.WaitGroup
}

func NewManager(factory transport.Factory, handler MessageHandler) *Manager {
	return &Manager{factory: factory, handler: handler}
}

// OnStateChange installs the state observer; call it before Connect.
func (m *Manager) OnStateChange(observer StateObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = observer
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastError is the most recent ConnectionError or SubscriptionError.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Subscription is the acknowledged topic filter, empty when there is none.
func (m *Manager) Subscription() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscription
}

func (m *Manager) setState(to State) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	logger.DebugF("Session state %s -> %s", from, to)
	if m.observer != nil {
		m.observer(from, to)
	}
}

// fail records err and walks Failed -> Disconnected. Callers hold m.mu.
func (m *Manager) fail(err error) {
	m.lastErr = err
	logger.ErrorF("Fail to connect, details: %v", err)
	m.setState(Failed)
	m.setState(Disconnected)
}

// Connect opens a session and returns immediately. Calling it while
// Connecting or Connected returns the current state without side effects.
func (m *Manager) Connect(cfg Config) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Connecting || m.state == Connected {
		logger.DebugF("Connect ignored, session is %s", m.state)
		return m.state
	}

	filter, err := cfg.Validate()
	if err != nil {
		m.fail(&ConnectionError{URL: cfg.URL, Err: err})
		return m.state
	}
	sess, err := m.factory.Open(cfg.Options())
	if err != nil {
		m.fail(&ConnectionError{URL: cfg.URL, Err: err})
		return m.state
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cfg = cfg
	m.filter = filter
	m.subscription = ""
	m.lastErr = nil
	m.session = sess
	m.cancel = cancel
	m.loopDone = make(chan struct{})
	logger.InfoF("Connecting to %s as %s@%s", cfg.URL, cfg.UserName, cfg.VPNName)
	m.setState(Connecting)
	go m.loop(ctx, sess, m.loopDone)
	return m.state
}

// loop consumes the events of one session until it ends or is cancelled.
func (m *Manager) loop(ctx context.Context, sess transport.Session, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sess.Events():
			if !ok {
				m.ended(sess, transport.ErrSessionClosed)
				return
			}
			if !m.handle(ctx, sess, ev) {
				return
			}
		}
	}
}

func (m *Manager) handle(ctx context.Context, sess transport.Session, ev transport.Event) bool {
	switch e := ev.(type) {
	case transport.MessageEvent:
		if ctx.Err() == nil && m.handler != nil {
			m.handler(e.Message)
		}
	case transport.UpEvent:
		m.mu.Lock()
		if m.session != sess {
			m.mu.Unlock()
			return true
		}
		logger.InfoF("Connected to %s", m.cfg.URL)
		m.setState(Connected)
		m.mu.Unlock()
		m.subscribe(ctx, sess)
	case transport.ReconnectingEvent:
		logger.WarnF("Connection lost, reconnect attempt %d, details: %v", e.Attempt, e.Err)
	case transport.ReconnectedEvent:
		logger.InfoF("Reconnected, restoring subscription")
		m.mu.Lock()
		if m.session == sess {
			m.subscription = ""
		}
		m.mu.Unlock()
		m.subscribe(ctx, sess)
	case transport.ConnectFailedEvent:
		m.ended(sess, e.Err)
		return false
	case transport.DisconnectedEvent:
		m.ended(sess, e.Err)
		return false
	}
	return true
}

// ended handles a session the transport gave up on.
func (m *Manager) ended(sess transport.Session, cause error) {
	m.mu.Lock()
	if m.session != sess {
		m.mu.Unlock()
		return
	}
	err := &ConnectionError{URL: m.cfg.URL, Err: cause}
	if m.state == Connecting {
		m.fail(err)
	} else {
		m.lastErr = err
		logger.WarnF("Session disconnected, details: %v", cause)
		m.setState(Disconnected)
	}
	m.session = nil
	m.subscription = ""
	cancel := m.cancel
	timeout := m.cfg.Timeout()
	m.mu.Unlock()

	cancel()
	ctx, stop := context.WithTimeout(context.Background(), timeout)
	defer stop()
	if err := sess.Close(ctx); err != nil {
		logger.WarnF("Fail to close session, details: %v", err)
	}
}

// subscribe runs off the event loop so a pending SUBACK never waits on
// message delivery.
func (m *Manager) subscribe(ctx context.Context, sess transport.Session) {
	m.mu.Lock()
	filter := m.filter
	timeout := m.cfg.Timeout()
	m.mu.Unlock()

	m.subWG.Add(1)
	go func() {
		defer m.subWG.Done()
		subCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		err := sess.Subscribe(subCtx, filter)

		m.mu.Lock()
		defer m.mu.Unlock()
		if m.session != sess {
			return
		}
		if err != nil {
			m.lastErr = &SubscriptionError{Topic: filter, Err: err}
			logger.WarnF("Fail to subscribe to %s, details: %v", filter, err)
			return
		}
		m.subscription = filter
		logger.InfoF("Subscribed to %s", filter)
	}()
}

// Disconnect unsubscribes, closes the session and waits for the event loop
// to exit; no message is handled after it returns. It is a no-op when
// already Disconnected. It must not be called from the message handler.
func (m *Manager) Disconnect(ctx context.Context) {
	m.teardown.Lock()
	defer m.teardown.Unlock()

	m.mu.Lock()
	if m.state == Disconnected || m.session == nil {
		m.mu.Unlock()
		return
	}
	sess, cancel, done := m.session, m.cancel, m.loopDone
	subscription, timeout := m.subscription, m.cfg.Timeout()
	// detached: terminal events arriving from now on no longer change state
	m.session = nil
	m.subscription = ""
	m.mu.Unlock()

	if subscription != "" {
		unsubCtx, stop := context.WithTimeout(ctx, timeout)
		if err := sess.Unsubscribe(unsubCtx, subscription); err != nil {
			logger.WarnF("Fail to unsubscribe from %s, details: %v", subscription, err)
		}
		stop()
	}

	closeCtx, stop := context.WithTimeout(ctx, timeout)
	if err := sess.Close(closeCtx); err != nil {
		logger.WarnF("Fail to close session, details: %v", err)
	}
	stop()

	cancel()
	<-done
	m.subWG.Wait()

	m.mu.Lock()
	m.setState(Disconnected)
	m.mu.Unlock()
	logger.InfoF("Disconnected")
}

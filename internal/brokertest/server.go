// Package brokertest runs a minimal MQTT 3.1.1 broker on a loopback listener
// for tests. It supports CONNECT, SUBSCRIBE, UNSUBSCRIBE, QoS 0/1 PUBLISH,
// PINGREQ and DISCONNECT and routes messages through a topic.Tree.
package brokertest

import (
	"net"
	"sync"
	"time"

	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/logger"
	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/packet"
	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/topic"
)

const maxConnections = 64

type Broker struct {
	ln   net.Listener
	tree *topic.Tree

	username string
	password string

	mu              sync.Mutex
	conns           map[net.Conn]struct{}
	clients         map[string]*ConnectionHandler
	connects        int
	rejectSubscribe bool
	connAckDelay    time.Duration
	refuseCode      packet.ConnectRespType

	sem  chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

type Option func(*Broker)

// WithCredentials makes the broker refuse CONNECTs with other credentials.
func WithCredentials(username, password string) Option {
	return func(b *Broker) {
		b.username = username
		b.password = password
	}
}

// Start listens on an ephemeral loopback port and serves until Close.
func Start(opts ...Option) (*Broker, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	b := &Broker{
		ln:      ln,
		tree:    topic.NewTree(),
		conns:   make(map[net.Conn]struct{}),
		clients: make(map[string]*ConnectionHandler),
		sem:     make(chan struct{}, maxConnections),
	}
	for _, opt := range opts {
		opt(b)
	}
	logger.DebugF("Test broker listen on %s", ln.Addr().String())
	b.wg.Add(1)
	go b.serve()
	return b, nil
}

func (b *Broker) serve() {
	defer b.wg.Done()
	for {
		conn, err := b.ln.Accept()
		if err != nil {
			if !isNetClosedError(err) {
				logger.WarnF("Test broker accept error: %v", err)
			}
			return
		}
		b.sem <- struct{}{}
		b.mu.Lock()
		b.conns[conn] = struct{}{}
		b.mu.Unlock()
		b.wg.Add(1)
		go func(c net.Conn) {
			defer b.wg.Done()
			handler := &ConnectionHandler{broker: b, conn: c, connID: c.RemoteAddr().String()}
			handler.handleConnection()
			b.mu.Lock()
			delete(b.conns, c)
			b.mu.Unlock()
			<-b.sem
		}(conn)
	}
}

// URL returns the tcp:// URL clients should dial.
func (b *Broker) URL() string {
	return "tcp://" + b.ln.Addr().String()
}

func (b *Broker) Addr() string {
	return b.ln.Addr().String()
}

// Close stops accepting, drops every client and waits for handlers to exit.
func (b *Broker) Close() error {
	var err error
	b.once.Do(func() {
		err = b.ln.Close()
		b.DropClients()
		b.wg.Wait()
	})
	return err
}

// Publish routes a QoS 0 message to every matching subscriber and returns
// how many clients received it.
func (b *Broker) Publish(name string, payload []byte) int {
	raw, err := packet.NewPublishPacket(packet.NewPublishPayloads(name, payload))
	if err != nil {
		logger.WarnF("Test broker fail to build PUBLISH packet, details: %v", err)
		return 0
	}
	delivered := make(map[string]bool)
	for _, sub := range b.tree.Match(name) {
		if delivered[sub.ClientID] {
			continue
		}
		b.mu.Lock()
		client := b.clients[sub.ClientID]
		b.mu.Unlock()
		if client == nil {
			continue
		}
		if err := client.write(raw); err == nil {
			delivered[sub.ClientID] = true
		}
	}
	return len(delivered)
}

// DropClients closes every open connection without DISCONNECT, simulating
// a network failure.
func (b *Broker) DropClients() {
	b.mu.Lock()
	conns := make([]net.Conn, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

func (b *Broker) SetRejectSubscriptions(reject bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejectSubscribe = reject
}

// SetConnAckDelay delays every CONNACK; used to provoke connect timeouts.
func (b *Broker) SetConnAckDelay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connAckDelay = d
}

// SetRefuseCode makes the broker answer CONNECT with code; Accepted restores
// normal behaviour.
func (b *Broker) SetRefuseCode(code packet.ConnectRespType) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refuseCode = code
}

// Connects reports how many CONNECTs were accepted.
func (b *Broker) Connects() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connects
}

func (b *Broker) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Subscribers counts subscriptions matching name.
func (b *Broker) Subscribers(name string) int {
	return len(b.tree.Match(name))
}

// register binds c to its client id; sessions are always clean.
func (b *Broker) register(c *ConnectionHandler) {
	b.tree.DeleteClient(c.clientID)
	b.mu.Lock()
	old := b.clients[c.clientID]
	b.clients[c.clientID] = c
	b.connects++
	b.mu.Unlock()
	if old != nil {
		logger.DebugF("[broker %s] Take over session %s", c.connID, c.clientID)
		_ = old.conn.Close()
	}
}

func (b *Broker) unregister(c *ConnectionHandler) {
	b.mu.Lock()
	if b.clients[c.clientID] != c {
		b.mu.Unlock()
		return
	}
	delete(b.clients, c.clientID)
	b.mu.Unlock()
	b.tree.DeleteClient(c.clientID)
}

func (b *Broker) settings() (reject bool, delay time.Duration, refuse packet.ConnectRespType) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rejectSubscribe, b.connAckDelay, b.refuseCode
}

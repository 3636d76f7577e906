package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/logger"
	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/mqtt"
	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/packet"
	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/topic"
)

const (
	defaultConnectTimeout = 5 * time.Second
	defaultKeepAlive      = 30 * time.Second
	defaultPort           = "1883"
	defaultTLSPort        = "8883"

	maxClientIDLength = 23
	clientIDPrefixMax = 7
)

type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// MQTTFactory opens MQTT 3.1.1 sessions over TCP or TLS. It replaces a
// process-wide client singleton: build one and hand it to whoever needs
// sessions.
type MQTTFactory struct {
	dial      DialFunc
	tlsConfig *tls.Config
	keepAlive time.Duration
	clientID  func(vpnName string) string
}

type MQTTOption func(*MQTTFactory)

func WithDialer(dial DialFunc) MQTTOption {
	return func(f *MQTTFactory) {
		f.dial = dial
	}
}

func WithTLSConfig(cfg *tls.Config) MQTTOption {
	return func(f *MQTTFactory) {
		f.tlsConfig = cfg
	}
}

// WithKeepAlive sets the MQTT keep alive; 0 disables heartbeats.
func WithKeepAlive(d time.Duration) MQTTOption {
	return func(f *MQTTFactory) {
		f.keepAlive = d
	}
}

func WithClientID(fn func(vpnName string) string) MQTTOption {
	return func(f *MQTTFactory) {
		f.clientID = fn
	}
}

func NewMQTTFactory(opts ...MQTTOption) *MQTTFactory {
	dialer := &net.Dialer{}
	f := &MQTTFactory{
		dial:      dialer.DialContext,
		keepAlive: defaultKeepAlive,
		clientID:  NewClientID,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewClientID builds a client identifier of at most 23 alphanumeric
// characters, prefixed with the message VPN name.
func NewClientID(vpnName string) string {
	prefix := strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return r
		}
		return -1
	}, vpnName)
	if len(prefix) > clientIDPrefixMax {
		prefix = prefix[:clientIDPrefixMax]
	}
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + id[:maxClientIDLength-len(prefix)]
}

// ParseBrokerURL resolves tcp://, mqtt://, tls://, ssl://, tcps:// and mqtts:// URLs
// (or a bare host:port) to a dial address.
func ParseBrokerURL(raw string) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("%w: empty url", ErrInvalidURL)
	}
	if !strings.Contains(raw, "://") {
		raw = "tcp://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	useTLS := false
	port := defaultPort
	switch strings.ToLower(u.Scheme) {
	case "tcp", "mqtt":
	case "tls", "ssl", "tcps", "mqtts":
		useTLS = true
		port = defaultTLSPort
	default:
		return "", false, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}
	if u.Hostname() == "" {
		return "", false, fmt.Errorf("%w: missing host in %s", ErrInvalidURL, raw)
	}
	if u.Port() != "" {
		port = u.Port()
	}
	return net.JoinHostPort(u.Hostname(), port), useTLS, nil
}

func (f *MQTTFactory) Open(opts Options) (Session, error) {
	address, useTLS, err := ParseBrokerURL(opts.URL)
	if err != nil {
		return nil, err
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &mqttSession{
		factory:  f,
		opts:     opts,
		address:  address,
		useTLS:   useTLS,
		clientID: f.clientID(opts.VPNName),
		events:   make(chan Event, 16),
		ids:      packet.NewPacketIDManager(),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		pending:  make(map[uint16]chan *mqtt.Packet),
	}
	logger.DebugF("[%s] Opening session to %s", s.clientID, address)
	go s.run()
	return s, nil
}

func (f *MQTTFactory) connect(ctx context.Context, address string, useTLS bool) (net.Conn, error) {
	conn, err := f.dial(ctx, "tcp", address)
	if err != nil || !useTLS {
		return conn, err
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if f.tlsConfig != nil {
		cfg = f.tlsConfig.Clone()
	}
	if cfg.ServerName == "" {
		host, _, _ := net.SplitHostPort(address)
		cfg.ServerName = host
	}
	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}
	return tlsConn, nil
}

type mqttSession struct {
	factory  *MQTTFactory
	opts     Options
	address  string
	useTLS   bool
	clientID string

	events chan Event
	ids    *packet.PacketIDManager

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	conn    net.Conn
	pending map[uint16]chan *mqtt.Packet

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (s *mqttSession) Events() <-chan Event {
	return s.events
}

// emit delivers an event unless the session is being closed.
func (s *mqttSession) emit(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *mqttSession) sleep(d time.Duration) bool {
	if d <= 0 {
		return s.ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *mqttSession) run() {
	defer close(s.done)
	defer close(s.events)

	conn, err := s.connectWithRetries()
	if err != nil {
		if s.ctx.Err() == nil {
			logger.WarnF("[%s] Fail to connect to %s, details: %v", s.clientID, s.address, err)
			s.emit(ConnectFailedEvent{Err: err})
		}
		return
	}
	logger.InfoF("[%s] Connected to %s", s.clientID, s.address)
	s.attach(conn)
	if !s.emit(UpEvent{}) {
		s.detach(conn)
		return
	}

	for {
		err = s.serve(conn)
		if s.ctx.Err() != nil {
			return
		}
		logger.WarnF("[%s] Connection lost, details: %v", s.clientID, err)
		conn, err = s.reconnect(err)
		if err != nil {
			if s.ctx.Err() == nil {
				s.emit(DisconnectedEvent{Err: err})
			}
			return
		}
		logger.InfoF("[%s] Reconnected to %s", s.clientID, s.address)
		s.attach(conn)
		if !s.emit(ReconnectedEvent{}) {
			s.detach(conn)
			return
		}
	}
}

func (s *mqttSession) connectWithRetries() (net.Conn, error) {
	var lastErr error
	for attempt := 0; attempt <= s.opts.ConnectRetries; attempt++ {
		if attempt > 0 {
			logger.DebugF("[%s] Retrying connect, attempt %d", s.clientID, attempt)
			if !s.sleep(s.opts.ReconnectRetryWait) {
				return nil, ErrSessionClosed
			}
		}
		conn, err := s.handshake()
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if errors.Is(err, ErrRefused) || s.ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (s *mqttSession) reconnect(cause error) (net.Conn, error) {
	lastErr := cause
	for attempt := 1; attempt <= s.opts.ReconnectRetries; attempt++ {
		if !s.emit(ReconnectingEvent{Attempt: attempt, Err: lastErr}) || !s.sleep(s.opts.ReconnectRetryWait) {
			return nil, ErrSessionClosed
		}
		conn, err := s.handshake()
		if err == nil {
			return conn, nil
		}
		logger.WarnF("[%s] Reconnect attempt %d failed, details: %v", s.clientID, attempt, err)
		lastErr = err
	}
	return nil, lastErr
}

// handshake dials the broker and exchanges CONNECT/CONNACK within the
// connect timeout.
func (s *mqttSession) handshake() (net.Conn, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.ConnectTimeout)
	defer cancel()

	conn, err := s.factory.connect(ctx, s.address, s.useTLS)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", s.address, timeoutErr(ctx, err))
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	fail := func(format string, err error) (net.Conn, error) {
		_ = conn.Close()
		return nil, fmt.Errorf(format, timeoutErr(ctx, err))
	}

	raw, err := packet.NewConnectPacket(packet.NewConnectPayloads(
		s.clientID, s.opts.UserName, s.opts.Password, int(s.factory.keepAlive/time.Second), true,
	))
	if err != nil {
		return fail("build CONNECT: %w", err)
	}
	if _, err := mqtt.WritePacket(conn, raw); err != nil {
		return fail("send CONNECT: %w", err)
	}
	resp, err := mqtt.ReadPacket(conn)
	if err != nil {
		return fail("read CONNACK: %w", err)
	}
	_, code, err := packet.ParseConnAckPacket(resp)
	if err != nil {
		return fail("parse CONNACK: %w", err)
	}
	if code != packet.Accepted {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrRefused, code)
	}
	_ = conn.SetDeadline(time.Time{})
	return conn, nil
}

func timeoutErr(ctx context.Context, err error) error {
	var netErr net.Error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

// attach makes conn the current connection so requests can be issued
// before the read loop starts.
func (s *mqttSession) attach(conn net.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

// detach closes conn and fails every request still waiting on it.
func (s *mqttSession) detach(conn net.Conn) {
	_ = conn.Close()
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	pending := s.pending
	s.pending = make(map[uint16]chan *mqtt.Packet)
	s.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
}

// serve runs the attached connection until it fails or the session is
// closed.
func (s *mqttSession) serve(conn net.Conn) error {
	connCtx, stop := context.WithCancel(s.ctx)
	context.AfterFunc(connCtx, func() { _ = conn.Close() })
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.keepAliveLoop(connCtx, conn)
	}()

	err := s.readLoop(conn)

	stop()
	wg.Wait()
	s.detach(conn)
	return err
}

func (s *mqttSession) readLoop(conn net.Conn) error {
	for {
		if ka := s.factory.keepAlive; ka > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(ka + ka/2))
		}
		p, err := mqtt.ReadPacket(conn)
		if err != nil {
			return err
		}

		switch p.Header.Type {
		case mqtt.PUBLISH:
			pub, err := packet.ParsePublishPacket(p)
			if err != nil {
				return fmt.Errorf("malformed PUBLISH: %w", err)
			}
			if pub.PacketFlag.QoS == 1 {
				if err := s.writeTo(conn, packet.NewPubAckPacket(pub.PacketID)); err != nil {
					return err
				}
			}
			msg := Message{
				Topic:      pub.TopicName.String(),
				Attachment: Attachment(pub.Payload),
				Retained:   pub.PacketFlag.Retain,
				Duplicate:  pub.PacketFlag.RetryFlag,
			}
			if !s.emit(MessageEvent{Message: msg}) {
				return ErrSessionClosed
			}
		case mqtt.SUBACK, mqtt.UNSUBACK:
			s.resolve(p)
		case mqtt.PINGRESP:
			logger.DebugF("[%s] Receive PINGRESP", s.clientID)
		default:
			logger.WarnF("[%s] %s package has not been supported", s.clientID, p.Header.Type)
		}
	}
}

func (s *mqttSession) keepAliveLoop(ctx context.Context, conn net.Conn) {
	if s.factory.keepAlive <= 0 {
		return
	}
	ticker := time.NewTicker(s.factory.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.writeTo(conn, packet.NewPingReqPacket()); err != nil {
				logger.WarnF("[%s] Fail to send PINGREQ packet, details: %v", s.clientID, err)
				_ = conn.Close()
				return
			}
		}
	}
}

// resolve hands an acknowledgement to the request waiting on its packet id.
func (s *mqttSession) resolve(p *mqtt.Packet) {
	if p.Payload.ContextLen < 2 {
		logger.WarnF("[%s] %s packet without packet id", s.clientID, p.Header.Type)
		return
	}
	id := mqtt.ByteToUInt16(p.Payload.Context[:2])
	s.mu.Lock()
	ch, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()
	if !ok {
		logger.DebugF("[%s] Drop late %s for packet %d", s.clientID, p.Header.Type, id)
		return
	}
	ch <- p
}

func (s *mqttSession) writeTo(conn net.Conn, raw []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(s.opts.ConnectTimeout))
	_, err := mqtt.WritePacket(conn, raw)
	return err
}

func (s *mqttSession) currentConn() (net.Conn, error) {
	if s.ctx.Err() != nil {
		return nil, ErrSessionClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil, ErrNotConnected
	}
	return s.conn, nil
}

// request writes a packet and waits for the acknowledgement carrying id.
func (s *mqttSession) request(ctx context.Context, id uint16, raw []byte) (*mqtt.Packet, error) {
	ch := make(chan *mqtt.Packet, 1)
	s.mu.Lock()
	conn := s.conn
	if conn == nil || s.ctx.Err() != nil {
		s.mu.Unlock()
		if s.ctx.Err() != nil {
			return nil, ErrSessionClosed
		}
		return nil, ErrNotConnected
	}
	s.pending[id] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.pending[id] == ch {
			delete(s.pending, id)
		}
		s.mu.Unlock()
	}()

	if err := s.writeTo(conn, raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	select {
	case p, ok := <-ch:
		if !ok {
			return nil, ErrConnectionLost
		}
		return p, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	case <-s.ctx.Done():
		return nil, ErrSessionClosed
	}
}

func (s *mqttSession) Subscribe(ctx context.Context, filter string) error {
	if err := topic.ValidateFilter(filter); err != nil {
		return err
	}
	id := s.ids.NextID()
	defer s.ids.ReleaseID(id)

	raw, err := packet.NewSubscribePacket(&packet.SubscribePacketPayloads{
		PacketID:      id,
		Subscriptions: []packet.TopicFilter{{TopicName: filter, QoSLevel: 0}},
	})
	if err != nil {
		return err
	}
	resp, err := s.request(ctx, id, raw)
	if err != nil {
		return err
	}
	ack, err := packet.ParseSubAckPacket(resp)
	if err != nil {
		return err
	}
	if ack.Failed() {
		return fmt.Errorf("%w: %s", ErrSubscribeRejected, filter)
	}
	logger.DebugF("[%s] Subscribed to %s", s.clientID, filter)
	return nil
}

func (s *mqttSession) Unsubscribe(ctx context.Context, filter string) error {
	id := s.ids.NextID()
	defer s.ids.ReleaseID(id)

	raw, err := packet.NewUnSubscribePacket(&packet.UnSubscribePacketPayloads{
		PacketID:   id,
		TopicNames: []string{filter},
	})
	if err != nil {
		return err
	}
	resp, err := s.request(ctx, id, raw)
	if err != nil {
		return err
	}
	if _, err := packet.ParseUnSubAckPacket(resp); err != nil {
		return err
	}
	logger.DebugF("[%s] Unsubscribed from %s", s.clientID, filter)
	return nil
}

// Publish sends a QoS 0 message; it returns once the packet is written.
func (s *mqttSession) Publish(ctx context.Context, name string, payload []byte) error {
	if err := topic.ValidateName(name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	conn, err := s.currentConn()
	if err != nil {
		return err
	}
	raw, err := packet.NewPublishPacket(packet.NewPublishPayloads(name, payload))
	if err != nil {
		return err
	}
	if err := s.writeTo(conn, raw); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	return nil
}

// Close sends DISCONNECT when connected, stops the session and waits for its
// goroutines to exit. No events are delivered once Close has started.
func (s *mqttSession) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn != nil {
			if err := s.writeTo(conn, packet.NewDisconnectPacket()); err != nil {
				logger.DebugF("[%s] Fail to send DISCONNECT packet, details: %v", s.clientID, err)
			}
		}
		s.cancel()
	})
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}
}

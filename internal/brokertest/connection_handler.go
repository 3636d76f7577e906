package brokertest

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/logger"
	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/mqtt"
	pa "github.com/life-stream-dev/life-stream-go-image-viewer/internal/packet"
	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/topic"
)

type ConnectionHandler struct {
	broker    *Broker
	conn      net.Conn
	connID    string
	clientID  string
	keepAlive time.Duration
	writeMu   sync.Mutex
}

func (c *ConnectionHandler) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return send(c.conn, data, c.connID)
}

func (c *ConnectionHandler) handleFirstPacket() error {
	_ = c.conn.SetReadDeadline(time.Now().Add(time.Minute))
	packet, err := mqtt.ReadPacket(c.conn)
	if err != nil {
		logger.DebugF("[broker %s] Fail to read first packet, details: %v", c.connID, err)
		return err
	}

	if packet.Header.Type != mqtt.CONNECT {
		logger.WarnF("[broker %s] Invalid first packet type, expected %s packet, but got %s packet", c.connID, mqtt.CONNECT, packet.Header.Type)
		return errors.New("first packet is not CONNECT")
	}

	clientInfo, resp, err := pa.ParseConnectPacket(packet)
	if err != nil {
		logger.WarnF("[broker %s] Fail to parse CONNECT packet, details: %v", c.connID, err)
		if resp != nil {
			_ = c.write(resp)
		}
		return err
	}

	_, delay, refuse := c.broker.settings()
	if delay > 0 {
		time.Sleep(delay)
	}
	code := refuse
	if code == pa.Accepted && c.broker.username != "" &&
		(clientInfo.UsernamePayload.String() != c.broker.username || clientInfo.PasswordPayload.String() != c.broker.password) {
		code = pa.AuthenticationFailed
	}
	if code != pa.Accepted {
		logger.DebugF("[broker %s] Refuse CONNECT, %s", c.connID, code)
		_ = c.write(pa.NewConnectAckPacket(false, code))
		return errors.New(code.String())
	}

	c.clientID = clientInfo.ClientIdentifier.String()
	c.keepAlive = time.Duration(clientInfo.KeepAlive) * time.Second
	if c.keepAlive == 0 {
		_ = c.conn.SetReadDeadline(time.Time{})
	}
	// 先登记再应答，客户端收到 CONNACK 时会话已可见
	c.broker.register(c)
	return c.write(pa.NewConnectAckPacket(false, code))
}

func (c *ConnectionHandler) handleSubscribe(packet *mqtt.Packet) error {
	result, err := pa.ParseSubscribePacket(packet)
	if err != nil {
		return err
	}
	reject, _, _ := c.broker.settings()
	states := make([]pa.SubscribeState, 0, len(result.Subscriptions))
	for _, sub := range result.Subscriptions {
		if reject {
			states = append(states, pa.Failure)
			continue
		}
		err := c.broker.tree.Insert(topic.Subscription{ClientID: c.clientID, TopicName: sub.TopicName, QoSLevel: sub.QoSLevel})
		if err != nil {
			logger.DebugF("[broker %s] Reject subscription %s, details: %v", c.connID, sub.TopicName, err)
			states = append(states, pa.Failure)
			continue
		}
		// 只支持 QoS 0 投递
		states = append(states, pa.SuccessQos0)
	}
	return c.write(pa.NewSubAckPacket(result.PacketID, states...))
}

func (c *ConnectionHandler) handleUnSubscribe(packet *mqtt.Packet) error {
	result, err := pa.ParseUnSubscribePacket(packet)
	if err != nil {
		return err
	}
	for _, name := range result.TopicNames {
		c.broker.tree.Delete(topic.Subscription{ClientID: c.clientID, TopicName: name})
	}
	return c.write(pa.NewUnSubAckPacket(result.PacketID))
}

func (c *ConnectionHandler) handlePublish(packet *mqtt.Packet) error {
	result, err := pa.ParsePublishPacket(packet)
	if err != nil {
		return err
	}
	if result.PacketFlag.QoS == 1 {
		if err := c.write(pa.NewPubAckPacket(result.PacketID)); err != nil {
			return err
		}
	}
	c.broker.Publish(result.TopicName.String(), result.Payload)
	return nil
}

func (c *ConnectionHandler) handlePacket() {
	for {
		if c.keepAlive != 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.keepAlive + c.keepAlive/2))
		}

		packet, err := mqtt.ReadPacket(c.conn)
		if err != nil {
			handleReadError(c.connID, err)
			return
		}

		switch packet.Header.Type {
		case mqtt.CONNECT:
			logger.WarnF("[broker %s] Duplicate CONNECT package", c.connID)
			return
		case mqtt.PUBLISH:
			err = c.handlePublish(packet)
		case mqtt.SUBSCRIBE:
			err = c.handleSubscribe(packet)
		case mqtt.UNSUBSCRIBE:
			err = c.handleUnSubscribe(packet)
		case mqtt.PUBACK:
		case mqtt.PINGREQ:
			err = c.write(pa.NewPingRespPacket())
		case mqtt.DISCONNECT:
			logger.DebugF("[broker %s] Client disconnect", c.connID)
			return
		default:
			logger.WarnF("[broker %s] %s package has not been supported", c.connID, packet.Header.Type)
			return
		}
		if err != nil {
			logger.WarnF("[broker %s] Fail to handle %s packet, details: %v", c.connID, packet.Header.Type, err)
			return
		}
	}
}

func (c *ConnectionHandler) handleConnection() {
	defer func() {
		if c.clientID != "" {
			c.broker.unregister(c)
		}
		if err := c.conn.Close(); err != nil && !isNetClosedError(err) {
			logger.DebugF("[broker %s] Error occured while closing connection, details: %v", c.connID, err)
		}
	}()

	if err := c.handleFirstPacket(); err != nil {
		return
	}

	c.handlePacket()
}

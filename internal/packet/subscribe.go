package packet

import (
	"errors"
	"fmt"

	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/mqtt"
)

type SubscribeState byte

const (
	SuccessQos0 SubscribeState = iota
	SuccessQos1
	SuccessQos2
	Failure SubscribeState = 0x80
)

// TopicFilter 单条订阅
type TopicFilter struct {
	TopicName string
	QoSLevel  byte
}

type SubscribePacketPayloads struct {
	PacketID      uint16
	Subscriptions []TopicFilter
}

type SubAckPacketPayloads struct {
	PacketID    uint16
	ReturnCodes []SubscribeState
}

// Failed 任一订阅被服务器拒绝
func (s *SubAckPacketPayloads) Failed() bool {
	for _, code := range s.ReturnCodes {
		if code == Failure {
			return true
		}
	}
	return len(s.ReturnCodes) == 0
}

// NewSubscribePacket 编码SUBSCRIBE控制包
func NewSubscribePacket(payloads *SubscribePacketPayloads) ([]byte, error) {
	if payloads.PacketID == 0 {
		return nil, errors.New("subscribe packet id must not be 0")
	}
	if len(payloads.Subscriptions) == 0 {
		return nil, errors.New("subscribe packet requires at least one topic filter")
	}
	body := mqtt.UInt16ToByte(payloads.PacketID)
	var err error
	for _, sub := range payloads.Subscriptions {
		if body, err = appendString(body, sub.TopicName); err != nil {
			return nil, err
		}
		body = append(body, sub.QoSLevel&0x03)
	}
	return mqtt.NewPacket(mqtt.SUBSCRIBE, 0x02, body)
}

func NewSubAckPacket(packetId uint16, states ...SubscribeState) []byte {
	payload := mqtt.UInt16ToByte(packetId)
	for _, state := range states {
		payload = append(payload, byte(state))
	}
	packet, _ := mqtt.NewPacket(mqtt.SUBACK, 0x00, payload)
	return packet
}

// ParseSubAckPacket 解析SUBACK
func ParseSubAckPacket(packet *mqtt.Packet) (*SubAckPacketPayloads, error) {
	if err := expectType(packet, mqtt.SUBACK); err != nil {
		return nil, err
	}
	packetID, err := readPacketID(packet.Payload)
	if err != nil {
		return nil, err
	}
	result := &SubAckPacketPayloads{PacketID: packetID}
	for _, code := range packet.Payload.Remaining() {
		result.ReturnCodes = append(result.ReturnCodes, SubscribeState(code))
	}
	return result, nil
}

func ParseSubscribePacket(packet *mqtt.Packet) (*SubscribePacketPayloads, error) {
	if err := expectType(packet, mqtt.SUBSCRIBE); err != nil {
		return nil, err
	}
	packetID, err := readPacketID(packet.Payload)
	if err != nil {
		return nil, err
	}
	result := &SubscribePacketPayloads{
		PacketID:      packetID,
		Subscriptions: make([]TopicFilter, 0),
	}

	for packet.Payload.CheckRemainingLength() {
		topicFilter, err := readPacketPayload(packet.Payload)
		if err != nil {
			return result, fmt.Errorf("error occured when reading topic filter, details: %w", err)
		}
		qos, err := readPacketByte(packet.Payload)
		if err != nil {
			return result, fmt.Errorf("error occured when reading qos level, details: %w", err)
		}
		result.Subscriptions = append(result.Subscriptions, TopicFilter{
			TopicName: topicFilter.String(),
			QoSLevel:  qos & 0x03,
		})
	}

	if len(result.Subscriptions) == 0 {
		return result, errors.New("subscribe packet contains no topic filter")
	}
	return result, nil
}

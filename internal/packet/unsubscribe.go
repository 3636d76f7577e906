package packet

import (
	"errors"
	"fmt"

	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/mqtt"
)

type UnSubscribePacketPayloads struct {
	PacketID   uint16
	TopicNames []string
}

// NewUnSubscribePacket 编码UNSUBSCRIBE控制包
func NewUnSubscribePacket(payloads *UnSubscribePacketPayloads) ([]byte, error) {
	if payloads.PacketID == 0 {
		return nil, errors.New("unsubscribe packet id must not be 0")
	}
	if len(payloads.TopicNames) == 0 {
		return nil, errors.New("unsubscribe packet requires at least one topic filter")
	}
	body := mqtt.UInt16ToByte(payloads.PacketID)
	var err error
	for _, name := range payloads.TopicNames {
		if body, err = appendString(body, name); err != nil {
			return nil, err
		}
	}
	return mqtt.NewPacket(mqtt.UNSUBSCRIBE, 0x02, body)
}

// NewUnSubAckPacket 3.1.1 的 UNSUBACK 只有报文标识符
func NewUnSubAckPacket(packetId uint16) []byte {
	packet, _ := mqtt.NewPacket(mqtt.UNSUBACK, 0x00, mqtt.UInt16ToByte(packetId))
	return packet
}

// ParseUnSubAckPacket 解析UNSUBACK，返回报文标识符
func ParseUnSubAckPacket(packet *mqtt.Packet) (uint16, error) {
	if err := expectType(packet, mqtt.UNSUBACK); err != nil {
		return 0, err
	}
	return readPacketID(packet.Payload)
}

func ParseUnSubscribePacket(packet *mqtt.Packet) (*UnSubscribePacketPayloads, error) {
	if err := expectType(packet, mqtt.UNSUBSCRIBE); err != nil {
		return nil, err
	}
	packetID, err := readPacketID(packet.Payload)
	if err != nil {
		return nil, err
	}
	result := &UnSubscribePacketPayloads{
		PacketID:   packetID,
		TopicNames: make([]string, 0),
	}

	for packet.Payload.CheckRemainingLength() {
		topicFilter, err := readPacketPayload(packet.Payload)
		if err != nil {
			return result, fmt.Errorf("error occured when reading topic filter, details: %w", err)
		}
		result.TopicNames = append(result.TopicNames, topicFilter.String())
	}

	return result, nil
}

package packet

import (
	"errors"
	"fmt"

	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/mqtt"
)

type PublishPacketFlag struct {
	RetryFlag bool
	QoS       byte
	Retain    bool
}

func (f PublishPacketFlag) encode() byte {
	var b byte
	if f.RetryFlag {
		b |= 0x08
	}
	b |= (f.QoS & 0x03) << 1
	if f.Retain {
		b |= 0x01
	}
	return b
}

type PublishPacketPayloads struct {
	PacketFlag PublishPacketFlag
	TopicName  FieldPayload
	PacketID   uint16
	Payload    []byte
}

func NewPublishPayloads(topic string, payload []byte) *PublishPacketPayloads {
	return &PublishPacketPayloads{
		TopicName: NewFieldPayload([]byte(topic)),
		Payload:   payload,
	}
}

func NewPublishPacket(packetPayloads *PublishPacketPayloads) ([]byte, error) {
	if packetPayloads.PacketFlag.QoS > 2 {
		return nil, errors.New("the QoS Level must not set to 3")
	}
	if packetPayloads.PacketFlag.QoS > 0 && packetPayloads.PacketID == 0 {
		return nil, errors.New("publish packet with QoS > 0 requires a packet id")
	}
	payload, err := appendField(make([]byte, 0, 2+packetPayloads.TopicName.PayloadLength+len(packetPayloads.Payload)+2), packetPayloads.TopicName)
	if err != nil {
		return nil, err
	}
	if packetPayloads.PacketFlag.QoS > 0 {
		payload = append(payload, mqtt.UInt16ToByte(packetPayloads.PacketID)...)
	}
	payload = append(payload, packetPayloads.Payload...)
	return mqtt.NewPacket(mqtt.PUBLISH, packetPayloads.PacketFlag.encode(), payload)
}

// NewPubAckPacket QoS 1 的确认
func NewPubAckPacket(packetId uint16) []byte {
	packet, _ := mqtt.NewPacket(mqtt.PUBACK, 0x00, mqtt.UInt16ToByte(packetId))
	return packet
}

func ParsePublishPacket(packet *mqtt.Packet) (*PublishPacketPayloads, error) {
	if err := expectType(packet, mqtt.PUBLISH); err != nil {
		return nil, err
	}
	result := &PublishPacketPayloads{
		PacketFlag: PublishPacketFlag{
			RetryFlag: (packet.Header.Flags&0x08)>>3 == 1,
			QoS:       (packet.Header.Flags & 0x06) >> 1,
			Retain:    packet.Header.Flags&0x01 == 1,
		},
	}

	if result.PacketFlag.QoS == 0 && result.PacketFlag.RetryFlag {
		return result, fmt.Errorf("when QoS Level set to 0, retry flag must be set to 0 either")
	}

	if result.PacketFlag.QoS == 3 {
		return result, fmt.Errorf("the QoS Level must not set to 3")
	}

	payloadLength := packet.Header.RemainingLength

	topicName, err := readPacketPayload(packet.Payload)
	if err != nil {
		return result, fmt.Errorf("error occured when reading topic name, details: %w", err)
	}
	result.TopicName = topicName
	payloadLength -= 2 + topicName.PayloadLength

	if result.PacketFlag.QoS > 0 {
		packetId, err := readPacketID(packet.Payload)
		if err != nil {
			return result, err
		}
		result.PacketID = packetId
		payloadLength -= 2
	}

	payload, err := readPacketBytes(packet.Payload, payloadLength)
	if err != nil {
		return result, fmt.Errorf("error occured when reading payload, details: %w", err)
	}
	result.Payload = payload

	return result, nil
}

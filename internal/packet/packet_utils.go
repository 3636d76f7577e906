package packet

import (
	"errors"
	"fmt"

	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/mqtt"
)

var (
	ErrInvalidContextLength = errors.New("invalid packet context length")
	ErrFieldTooLong         = errors.New("field exceeds 65535 bytes")
)

// FieldPayload 带两字节长度前缀的字段
type FieldPayload struct {
	PayloadLength int
	Payload       []byte
}

func NewFieldPayload(value []byte) FieldPayload {
	return FieldPayload{PayloadLength: len(value), Payload: value}
}

func (f FieldPayload) String() string {
	return string(f.Payload)
}

func appendField(dst []byte, field FieldPayload) ([]byte, error) {
	if field.PayloadLength > 0xFFFF {
		return nil, ErrFieldTooLong
	}
	dst = append(dst, mqtt.UInt16ToByte(uint16(field.PayloadLength))...)
	return append(dst, field.Payload...), nil
}

func appendString(dst []byte, value string) ([]byte, error) {
	return appendField(dst, NewFieldPayload([]byte(value)))
}

func readPacketByte(payload *mqtt.Payload) (byte, error) {
	startByte := payload.CurrentPtr
	if startByte >= payload.ContextLen {
		return 0, ErrInvalidContextLength
	}
	payload.CurrentPtr++
	return payload.Context[startByte], nil
}

func readPacketBytes(payload *mqtt.Payload, length int) ([]byte, error) {
	if length < 0 {
		return nil, errors.New("invalid reading length, except >= 0")
	}
	if length == 0 {
		return []byte{}, nil
	}
	if length == 1 {
		b, err := readPacketByte(payload)
		return []byte{b}, err
	}
	startByte := payload.CurrentPtr
	end := startByte + length
	if startByte >= payload.ContextLen || end > payload.ContextLen {
		return nil, ErrInvalidContextLength
	}
	data := payload.Context[startByte:end]
	payload.CurrentPtr = end
	return data, nil
}

func readPacketPayload(payload *mqtt.Payload) (FieldPayload, error) {
	startByte := payload.CurrentPtr
	contextLen := payload.ContextLen
	if startByte+1 >= contextLen {
		return FieldPayload{}, errors.New("insufficient bytes for length")
	}
	length := int(mqtt.ByteToUInt16(payload.Context[startByte : startByte+2]))
	end := startByte + 2 + length
	if end > contextLen {
		return FieldPayload{}, fmt.Errorf("payload length %d exceeds buffer (len=%d)", length, contextLen)
	}
	payload.CurrentPtr += 2 + length
	return FieldPayload{
		PayloadLength: length,
		Payload:       payload.Context[startByte+2 : end],
	}, nil
}

func readPacketID(payload *mqtt.Payload) (uint16, error) {
	data, err := readPacketBytes(payload, 2)
	if err != nil {
		return 0, fmt.Errorf("error occured when reading packet ID, details: %w", err)
	}
	return mqtt.ByteToUInt16(data), nil
}

func expectType(packet *mqtt.Packet, packetType mqtt.PacketType) error {
	if packet == nil || packet.Header == nil || packet.Payload == nil {
		return errors.New("empty packet")
	}
	if packet.Header.Type != packetType {
		return fmt.Errorf("expected %s packet, but got %s packet", packetType, packet.Header.Type)
	}
	return nil
}

// NewPingReqPacket 心跳请求
func NewPingReqPacket() []byte {
	return []byte{0xC0, 0x00}
}

// NewPingRespPacket 心跳响应
func NewPingRespPacket() []byte {
	return []byte{0xD0, 0x00}
}

// NewDisconnectPacket 客户端主动断开
func NewDisconnectPacket() []byte {
	return []byte{0xE0, 0x00}
}

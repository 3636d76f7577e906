package mqtt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var ErrRemainingLengthTooLong = errors.New("the remaining length exceeds the 4 byte limit")

func UInt16ToByte(number uint16) []byte {
	result := make([]byte, 2)
	binary.BigEndian.PutUint16(result, number)
	return result
}

func ByteToUInt16(bytes []byte) uint16 {
	if len(bytes) == 0 {
		return 0
	}
	if len(bytes) == 1 {
		return uint16(bytes[0])
	}
	return uint16(bytes[0])<<8 | uint16(bytes[1])
}

func ReadByte(r io.Reader) (byte, error) {
	buf := make([]byte, 1)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// ReadPacket 从流中读取一个完整的控制报文
func ReadPacket(r io.Reader) (*Packet, error) {
	// 读取固定头
	typeAndFlags := make([]byte, 1)
	if _, err := io.ReadFull(r, typeAndFlags); err != nil {
		return nil, err
	}

	// 解析剩余长度
	remaining, err := DecodeRemainingLength(r)
	if err != nil {
		return nil, err
	}

	// 读取可变头+有效载荷
	payload := make([]byte, remaining)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}

	header := &FixedHeader{
		Type:            PacketType(typeAndFlags[0] >> 4),
		Flags:           typeAndFlags[0] & 0x0F,
		RemainingLength: remaining,
	}

	if !ValidateFlags(header.Type, header.Flags) {
		return nil, fmt.Errorf("flags %d of %s packet is not valid", header.Flags, header.Type.String())
	}

	return &Packet{
		Header: header,
		Payload: &Payload{
			Context:    payload,
			ContextLen: len(payload),
			CurrentPtr: 0,
		},
	}, nil
}

// WritePacket 写入完整报文，处理短写
func WritePacket(w io.Writer, data []byte) (int, error) {
	total := 0
	for total < len(data) {
		n, err := w.Write(data[total:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func DecodeRemainingLength(r io.Reader) (int, error) {
	multiplier := 1
	value := 0
	for i := 0; i < 4; i++ { // 最多读取4字节
		encodedByte, err := ReadByte(r)
		if err != nil {
			return 0, err
		}
		value += int(encodedByte&127) * multiplier
		multiplier *= 128
		if (encodedByte & 128) == 0 {
			return value, nil
		}
	}
	return 0, ErrRemainingLengthTooLong
}

// EncodeRemainingLength 编码剩余长度，0 编码为单字节 0x00
func EncodeRemainingLength(x int) []byte {
	var buf [4]byte
	i := 0
	for {
		buf[i] = byte(x % 128)
		if x /= 128; x > 0 {
			buf[i] |= 128
		}
		i++
		if x == 0 || i == 4 {
			break
		}
	}
	return buf[:i]
}

// NewPacket 按固定头+剩余长度+内容组装报文
func NewPacket(packetType PacketType, flags byte, body []byte) ([]byte, error) {
	if len(body) > MaxRemainingLength {
		return nil, ErrRemainingLengthTooLong
	}
	if !ValidateFlags(packetType, flags) {
		return nil, fmt.Errorf("flags %d of %s packet is not valid", flags, packetType.String())
	}
	packet := make([]byte, 0, 1+4+len(body))
	packet = append(packet, byte(packetType)<<4|flags)
	packet = append(packet, EncodeRemainingLength(len(body))...)
	packet = append(packet, body...)
	return packet, nil
}

func ValidateFlags(pt PacketType, flags byte) bool {
	allowed, ok := allowedFlags[pt]
	if !ok {
		return false
	}
	// 检查标志位是否在允许范围内
	return (flags & ^allowed) == 0
}

func (p *Payload) CheckRemainingLength() bool {
	return p.CurrentPtr < p.ContextLen
}

// Remaining 返回尚未读取的字节
func (p *Payload) Remaining() []byte {
	if p.CurrentPtr >= p.ContextLen {
		return nil
	}
	return p.Context[p.CurrentPtr:p.ContextLen]
}

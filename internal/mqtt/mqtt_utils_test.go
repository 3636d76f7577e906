package mqtt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestRemainingLength(t *testing.T) {
	tests := []struct {
		input  int
		expect []byte
	}{
		{0, []byte{0x00}},
		{64, []byte{0x40}},
		{127, []byte{0x7F}},
		{128, []byte{0x80, 0x01}},
		{321, []byte{0xC1, 0x02}},
		{268435455, []byte{0xFF, 0xFF, 0xFF, 0x7F}},
	}

	for _, tt := range tests {
		encoded := EncodeRemainingLength(tt.input)
		if !bytes.Equal(encoded, tt.expect) {
			t.Errorf("input=%d expect=%x got=%x", tt.input, tt.expect, encoded)
		}

		decoded, err := DecodeRemainingLength(bytes.NewReader(encoded))
		if err != nil {
			t.Fatalf("input=%d decode error: %v", tt.input, err)
		}
		if decoded != tt.input {
			t.Errorf("input=%d decoded=%d", tt.input, decoded)
		}
	}
}

func TestDecodeRemainingLengthTooLong(t *testing.T) {
	_, err := DecodeRemainingLength(bytes.NewReader([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x01}))
	if !errors.Is(err, ErrRemainingLengthTooLong) {
		t.Fatalf("expect ErrRemainingLengthTooLong, got %v", err)
	}
}

func TestByteToUInt16(t *testing.T) {
	tests := []struct {
		input  []byte
		expect uint16
	}{
		{[]byte{0x00, 0x00}, 0},
		{[]byte{0x01, 0x00}, 256},
		{[]byte{0xAF, 0x89}, 44937},
	}
	for _, tt := range tests {
		if number := ByteToUInt16(tt.input); number != tt.expect {
			t.Errorf("input=%x expect=%d got=%d", tt.input, tt.expect, number)
		}
		if number := binary.BigEndian.Uint16(UInt16ToByte(tt.expect)); number != tt.expect {
			t.Errorf("round trip of %d got %d", tt.expect, number)
		}
	}
}

func TestReadPacket(t *testing.T) {
	raw, err := NewPacket(SUBACK, 0x00, []byte{0x00, 0x01, 0x00})
	if err != nil {
		t.Fatalf("build packet: %v", err)
	}

	packet, err := ReadPacket(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("read packet: %v", err)
	}
	if packet.Header.Type != SUBACK {
		t.Errorf("expect SUBACK, got %s", packet.Header.Type)
	}
	if packet.Header.RemainingLength != 3 || packet.Payload.ContextLen != 3 {
		t.Errorf("unexpected length %d/%d", packet.Header.RemainingLength, packet.Payload.ContextLen)
	}
	if !bytes.Equal(packet.Payload.Remaining(), []byte{0x00, 0x01, 0x00}) {
		t.Errorf("unexpected payload %x", packet.Payload.Remaining())
	}
}

func TestReadPacketInvalidFlags(t *testing.T) {
	if _, err := ReadPacket(bytes.NewReader([]byte{0x81, 0x00})); err == nil {
		t.Fatal("expect error for SUBSCRIBE with flags 0001")
	}
}

func TestReadPacketTruncated(t *testing.T) {
	_, err := ReadPacket(bytes.NewReader([]byte{0x30, 0x05, 0x00}))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expect unexpected EOF, got %v", err)
	}
}

func TestWritePacket(t *testing.T) {
	var buf bytes.Buffer
	n, err := WritePacket(&buf, []byte{0xC0, 0x00})
	if err != nil || n != 2 {
		t.Fatalf("write packet: n=%d err=%v", n, err)
	}
	if !bytes.Equal(buf.Bytes(), []byte{0xC0, 0x00}) {
		t.Errorf("unexpected bytes %x", buf.Bytes())
	}
}

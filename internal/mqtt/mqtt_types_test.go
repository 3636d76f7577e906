package mqtt

import "testing"

func TestValidateFlags(t *testing.T) {
	tests := []struct {
		pt     PacketType
		flags  byte
		expect bool
	}{
		{CONNECT, 0x00, true},     // 合法
		{CONNECT, 0x01, false},    // 非法
		{PUBREL, 0x02, true},      // 合法
		{PUBREL, 0x03, false},     // 非法
		{PUBLISH, 0x0F, true},     // 允许所有标志位
		{SUBSCRIBE, 0x02, true},   // 合法
		{PacketType(0), 0, false}, // 保留类型
	}

	for _, tt := range tests {
		result := ValidateFlags(tt.pt, tt.flags)
		if result != tt.expect {
			t.Errorf("type=%X flags=%04b expect=%v got=%v",
				tt.pt, tt.flags, tt.expect, result)
		}
	}
}

func TestPacketTypeString(t *testing.T) {
	if SUBACK.String() != "SUBACK" {
		t.Errorf("expect SUBACK, got %s", SUBACK.String())
	}
	if PacketType(15).String() != "UNKNOWN" {
		t.Errorf("expect UNKNOWN, got %s", PacketType(15).String())
	}
}

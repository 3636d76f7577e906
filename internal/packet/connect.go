package packet

// 控制包类型 CONNECT / CONNACK 相关函数

import (
	"errors"
	"fmt"

	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/mqtt"
)

type ConnectRespType byte

const (
	Accepted ConnectRespType = iota
	UnacceptableProtocol
	IdentifierRejected
	ServerUnavailable
	AuthenticationFailed
	NotAuthorized
)

func (c ConnectRespType) String() string {
	switch c {
	case Accepted:
		return "connection accepted"
	case UnacceptableProtocol:
		return "unacceptable protocol version"
	case IdentifierRejected:
		return "identifier rejected"
	case ServerUnavailable:
		return "server unavailable"
	case AuthenticationFailed:
		return "bad user name or password"
	case NotAuthorized:
		return "not authorized"
	default:
		return fmt.Sprintf("unknown return code %d", byte(c))
	}
}

// ConnectPacketFlag CONNECT控制包连接标志位
type ConnectPacketFlag struct {
	UsernameFlag    bool
	PasswordFlag    bool
	RemainFlag      bool
	QoSLevel        byte
	WillMessageFlag bool
	CleanSession    bool
}

func (f ConnectPacketFlag) encode() byte {
	var b byte
	if f.UsernameFlag {
		b |= 0x80
	}
	if f.PasswordFlag {
		b |= 0x40
	}
	if f.RemainFlag {
		b |= 0x20
	}
	b |= (f.QoSLevel & 0x03) << 3
	if f.WillMessageFlag {
		b |= 0x04
	}
	if f.CleanSession {
		b |= 0x02
	}
	return b
}

type ConnectPacketPayloads struct {
	ConnectFlag        ConnectPacketFlag
	ClientIdentifier   FieldPayload
	UsernamePayload    FieldPayload
	PasswordPayload    FieldPayload
	WillMessageTopic   FieldPayload
	WillMessageContent FieldPayload
	KeepAlive          int
}

// NewConnectPayloads 由客户端参数构造CONNECT负载
func NewConnectPayloads(clientID, username, password string, keepAlive int, cleanSession bool) *ConnectPacketPayloads {
	return &ConnectPacketPayloads{
		ConnectFlag: ConnectPacketFlag{
			UsernameFlag: username != "",
			PasswordFlag: username != "" && password != "",
			CleanSession: cleanSession,
		},
		ClientIdentifier: NewFieldPayload([]byte(clientID)),
		UsernamePayload:  NewFieldPayload([]byte(username)),
		PasswordPayload:  NewFieldPayload([]byte(password)),
		KeepAlive:        keepAlive,
	}
}

// NewConnectPacket 编码CONNECT控制包
func NewConnectPacket(payloads *ConnectPacketPayloads) ([]byte, error) {
	if payloads.KeepAlive < 0 || payloads.KeepAlive > 0xFFFF {
		return nil, fmt.Errorf("keep alive %d out of range", payloads.KeepAlive)
	}
	if payloads.ConnectFlag.PasswordFlag && !payloads.ConnectFlag.UsernameFlag {
		return nil, errors.New("password flag requires username flag")
	}

	body, err := appendString(nil, mqtt.ProtocolName)
	if err != nil {
		return nil, err
	}
	body = append(body, mqtt.ProtocolLevel, payloads.ConnectFlag.encode())
	body = append(body, mqtt.UInt16ToByte(uint16(payloads.KeepAlive))...)

	fields := []FieldPayload{payloads.ClientIdentifier}
	if payloads.ConnectFlag.WillMessageFlag {
		fields = append(fields, payloads.WillMessageTopic, payloads.WillMessageContent)
	}
	if payloads.ConnectFlag.UsernameFlag {
		fields = append(fields, payloads.UsernamePayload)
	}
	if payloads.ConnectFlag.PasswordFlag {
		fields = append(fields, payloads.PasswordPayload)
	}
	for _, field := range fields {
		if body, err = appendField(body, field); err != nil {
			return nil, err
		}
	}

	return mqtt.NewPacket(mqtt.CONNECT, 0x00, body)
}

func NewConnectAckPacket(sessionStatus bool, returnCode ConnectRespType) []byte {
	if sessionStatus {
		return []byte{0x20, 0x02, 0x01, byte(returnCode)}
	}
	return []byte{0x20, 0x02, 0x00, byte(returnCode)}
}

// ParseConnAckPacket 解析CONNACK，返回会话存在标志与返回码
func ParseConnAckPacket(packet *mqtt.Packet) (bool, ConnectRespType, error) {
	if err := expectType(packet, mqtt.CONNACK); err != nil {
		return false, 0, err
	}
	data, err := readPacketBytes(packet.Payload, 2)
	if err != nil {
		return false, 0, fmt.Errorf("unable to read connack, details: %w", err)
	}
	return data[0]&0x01 == 1, ConnectRespType(data[1]), nil
}

// ParseConnectPacket 解析 CONNECT 控制包的可变头和负载
func ParseConnectPacket(packet *mqtt.Packet) (ConnectPacketPayloads, []byte, error) {
	result := ConnectPacketPayloads{}
	if err := expectType(packet, mqtt.CONNECT); err != nil {
		return result, nil, err
	}
	payload := packet.Payload

	protocolString, err := readPacketPayload(payload)
	if err != nil {
		return result, nil, errors.New("unable to check protocol string")
	}
	if string(protocolString.Payload) != mqtt.ProtocolName {
		return result, nil, fmt.Errorf("incorrect Protocol String: %s", string(protocolString.Payload))
	}

	// 协议版本
	protocolVersion, err := readPacketByte(payload)
	if err != nil {
		return result, nil, fmt.Errorf("unable to read protocol version, details: %w", err)
	}
	if protocolVersion != mqtt.ProtocolLevel {
		return result, NewConnectAckPacket(false, UnacceptableProtocol), errors.New("protocol version does not match")
	}

	// 连接标志位
	connectFlag, err := readPacketByte(payload)
	if err != nil {
		return result, nil, fmt.Errorf("unable to read connect flag, details: %w", err)
	}

	// 解析标志位
	result.ConnectFlag = ConnectPacketFlag{
		UsernameFlag:    (connectFlag&0x80)>>7 == 1,
		PasswordFlag:    (connectFlag&0x40)>>6 == 1,
		RemainFlag:      (connectFlag&0x20)>>5 == 1,
		QoSLevel:        (connectFlag & 0x18) >> 3, // 0x18 = 00011000
		WillMessageFlag: (connectFlag&0x04)>>2 == 1,
		CleanSession:    (connectFlag&0x02)>>1 == 1,
	}

	if !result.ConnectFlag.WillMessageFlag && (result.ConnectFlag.RemainFlag || result.ConnectFlag.QoSLevel != 0) {
		return result, nil, errors.New("when will message flag is not set, remain flag must not be set and QoSLevel must be 0")
	}

	// 保持连接时间
	data, err := readPacketBytes(payload, 2)
	if err != nil {
		return result, nil, errors.New("unable to read keep alive time")
	}
	result.KeepAlive = int(mqtt.ByteToUInt16(data))

	// 客户端标识符
	clientID, err := readPacketPayload(payload)
	if err != nil {
		return result, nil, fmt.Errorf("client ID: %w", err)
	}
	result.ClientIdentifier = clientID

	// 遗嘱消息
	if result.ConnectFlag.WillMessageFlag {
		willTopic, err := readPacketPayload(payload)
		if err != nil {
			return result, nil, fmt.Errorf("will topic: %w", err)
		}
		result.WillMessageTopic = willTopic

		willContent, err := readPacketPayload(payload)
		if err != nil {
			return result, nil, fmt.Errorf("will content: %w", err)
		}
		result.WillMessageContent = willContent
	}

	// 用户名
	if result.ConnectFlag.UsernameFlag {
		username, err := readPacketPayload(payload)
		if err != nil {
			return result, nil, fmt.Errorf("username: %w", err)
		}
		result.UsernamePayload = username
	}

	// 密码
	if result.ConnectFlag.PasswordFlag {
		password, err := readPacketPayload(payload)
		if err != nil {
			return result, nil, fmt.Errorf("password: %w", err)
		}
		result.PasswordPayload = password
	}

	return result, NewConnectAckPacket(false, Accepted), nil
}

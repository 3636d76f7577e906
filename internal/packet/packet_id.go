package packet

import "sync"

// PacketIDManager 分配SUBSCRIBE/UNSUBSCRIBE/PUBLISH(QoS>0)使用的报文标识符
type PacketIDManager struct {
	mu        sync.Mutex
	currentID uint16
	released  map[uint16]struct{}
}

func NewPacketIDManager() *PacketIDManager {
	return &PacketIDManager{
		currentID: 1, // 起始值为1
		released:  make(map[uint16]struct{}),
	}
}

// NextID 获取下一个可用ID
func (m *PacketIDManager) NextID() uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()

	// 优先使用已释放的ID
	for id := range m.released {
		delete(m.released, id)
		return id
	}

	// 分配新ID
	id := m.currentID
	m.currentID++
	if m.currentID == 0 { // 溢出处理
		m.currentID = 1
	}
	return id
}

// ReleaseID 释放ID（收到确认后调用）
func (m *PacketIDManager) ReleaseID(id uint16) {
	if id == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released[id] = struct{}{}
}

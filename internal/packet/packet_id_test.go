package packet

import "testing"

func TestPacketID(t *testing.T) {
	mgr := NewPacketIDManager()

	// 测试分配
	id1 := mgr.NextID()
	if id1 != 1 {
		t.Fatalf("Expected 1, got %d", id1)
	}

	// 测试释放与复用
	mgr.ReleaseID(id1)
	id2 := mgr.NextID()
	if id2 != 1 {
		t.Fatalf("Expected 1 after release, got %d", id2)
	}

	// 测试溢出
	mgr.currentID = 65535
	id3 := mgr.NextID()
	if id3 != 65535 {
		t.Fatalf("Expected 65535, got %d", id3)
	}
	id4 := mgr.NextID()
	if id4 != 1 {
		t.Fatalf("Expected 1 after overflow, got %d", id4)
	}

	// 0 不是合法的报文标识符
	mgr.ReleaseID(0)
	if id := mgr.NextID(); id == 0 {
		t.Fatal("packet id 0 must never be handed out")
	}
}

func TestPacketIDManagersAreIndependent(t *testing.T) {
	a := NewPacketIDManager()
	b := NewPacketIDManager()
	a.NextID()
	a.NextID()
	if id := b.NextID(); id != 1 {
		t.Fatalf("Expected fresh manager to start at 1, got %d", id)
	}
}

package presence

import (
	"sync/atomic"
	"testing"
)

type fakeSession struct {
	id     int64
	userID int64
	sent   atomic.Int64
	closed atomic.Bool
}

func (f *fakeSession) ID() int64          { return f.id }
func (f *fakeSession) UserID() int64      { return f.userID }
func (f *fakeSession) Send(_ []byte) bool { f.sent.Add(1); return true }
func (f *fakeSession) Close()             { f.closed.Store(true) }

func TestRegistry_BindAndOnline(t *testing.T) {
	r := NewRegistry()

	anon := &fakeSession{id: 1}
	r.Add(anon)

	if r.Count() != 1 {
		t.Errorf("Expected 1 connection, got %d", r.Count())
	}
	if len(r.OnlineUsers()) != 0 {
		t.Error("Expected no online users before bind")
	}

	// 同一用户两台设备
	phone := &fakeSession{id: 2, userID: 7}
	laptop := &fakeSession{id: 3, userID: 7}
	r.Add(phone)
	r.Add(laptop)
	r.Bind(phone)
	r.Bind(laptop)

	other := &fakeSession{id: 4, userID: 9}
	r.Add(other)
	r.Bind(other)

	online := r.OnlineUsers()
	if len(online) != 2 || online[0] != 7 || online[1] != 9 {
		t.Errorf("Expected online [7 9], got %v", online)
	}
	if got := len(r.SessionsOf(7)); got != 2 {
		t.Errorf("Expected 2 sessions for user 7, got %d", got)
	}

	// 只断开一台设备，用户仍在线
	r.Remove(phone)
	if !r.Online(7) {
		t.Error("Expected user 7 to stay online with one device left")
	}
	r.Remove(laptop)
	if r.Online(7) {
		t.Error("Expected user 7 offline after removing all devices")
	}
}

func TestRegistry_BindUnknownSession(t *testing.T) {
	r := NewRegistry()

	// 未 Add 的会话 Bind 是空操作
	ghost := &fakeSession{id: 1, userID: 5}
	r.Bind(ghost)
	if r.Online(5) {
		t.Error("Expected bind of unregistered session to be ignored")
	}
}

package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/EliteScore/chat-server/internal/apperr"
	"github.com/EliteScore/chat-server/internal/auth"
	"github.com/EliteScore/chat-server/internal/model"
	"github.com/EliteScore/chat-server/internal/presence"
	"github.com/EliteScore/chat-server/internal/snowflake"
	"github.com/EliteScore/chat-server/internal/social"
	"github.com/EliteScore/chat-server/internal/store"
)

const testSecret = "router-test-secret"

// stubSession 捕获出站帧的测试会话
type stubSession struct {
	id int64

	mu       sync.Mutex
	user     model.User
	platform string
	frames   []map[string]any
	closed   bool
}

func (s *stubSession) ID() int64 { return s.id }

func (s *stubSession) UserID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user.ID
}

func (s *stubSession) User() model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

func (s *stubSession) Authenticated() bool { return s.UserID() > 0 }

func (s *stubSession) BindUser(user model.User) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user.ID > 0 {
		return false
	}
	s.user = user
	return true
}

func (s *stubSession) Platform() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.platform
}

func (s *stubSession) SetPlatform(platform string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.platform = platform
}

func (s *stubSession) Send(data []byte) bool {
	var event map[string]any
	if err := json.Unmarshal(data, &event); err != nil {
		panic(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, event)
	return true
}

func (s *stubSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// lastEvent 最近一帧
func (s *stubSession) lastEvent(t *testing.T) map[string]any {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		t.Fatal("Expected at least one event")
	}
	return s.frames[len(s.frames)-1]
}

func (s *stubSession) eventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

type testEnv struct {
	router   *Router
	graph    *social.MemoryGraph
	registry *presence.Registry
	nextID   int64
}

func newTestEnv() *testEnv {
	graph := social.NewMemoryGraph()
	memory := store.NewMemory(snowflake.NewNode(1), 50)
	registry := presence.NewRegistry()

	r := New(Config{
		Authenticator: auth.New(testSecret, "elitescore", nil),
		Gate:          social.NewGate(graph),
		Directory:     graph,
		Conversations: memory,
		Groups:        memory,
		Registry:      registry,
		Logger:        slog.Default(),
	})
	return &testEnv{router: r, graph: graph, registry: registry}
}

// connect 建立并认证一个会话
func (e *testEnv) connect(t *testing.T, user model.User) *stubSession {
	t.Helper()

	e.graph.AddUser(user)
	e.nextID++
	sess := &stubSession{id: e.nextID}
	e.registry.Add(sess)

	token, err := auth.IssueToken(testSecret, "elitescore", user, "web", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	e.send(sess, fmt.Sprintf(`{"type":"authenticate","token":%q}`, token))

	event := sess.lastEvent(t)
	if event["type"] != "auth_success" {
		t.Fatalf("Expected auth_success, got %v", event)
	}
	return sess
}

func (e *testEnv) send(sess *stubSession, frame string) {
	e.router.Handle(context.Background(), sess, []byte(frame))
}

func wantEvent(t *testing.T, sess *stubSession, eventType string) map[string]any {
	t.Helper()
	event := sess.lastEvent(t)
	if event["type"] != eventType {
		t.Fatalf("Expected %s, got %v", eventType, event)
	}
	return event
}

func wantError(t *testing.T, sess *stubSession, code string) {
	t.Helper()
	event := sess.lastEvent(t)
	if event["type"] != "error" || event["code"] != code {
		t.Fatalf("Expected error %s, got %v", code, event)
	}
}

func TestRouter_AuthRequired(t *testing.T) {
	env := newTestEnv()
	sess := &stubSession{id: 99}
	env.registry.Add(sess)

	env.send(sess, `{"type":"get_online_users"}`)
	wantError(t, sess, apperr.CodeAuthRequired)
}

func TestRouter_AuthFailureKeepsConnection(t *testing.T) {
	env := newTestEnv()
	sess := &stubSession{id: 99}
	env.registry.Add(sess)

	env.send(sess, `{"type":"authenticate","token":"garbage"}`)

	event := sess.lastEvent(t)
	if event["type"] != "auth_error" {
		t.Fatalf("Expected auth_error, got %v", event)
	}
	if sess.closed {
		t.Error("Expected connection to stay open after auth failure")
	}

	// 换有效 token 重试成功
	token, err := auth.IssueToken(testSecret, "elitescore", model.User{ID: 7, Username: "user7"}, "web", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	env.send(sess, fmt.Sprintf(`{"type":"authenticate","token":%q}`, token))
	wantEvent(t, sess, "auth_success")
}

func TestRouter_DoubleAuthenticate(t *testing.T) {
	env := newTestEnv()
	sess := env.connect(t, model.User{ID: 1, Username: "user1"})

	token, _ := auth.IssueToken(testSecret, "elitescore", model.User{ID: 2, Username: "user2"}, "web", time.Hour)
	env.send(sess, fmt.Sprintf(`{"type":"authenticate","token":%q}`, token))
	wantError(t, sess, apperr.CodeValidation)
}

func TestRouter_PrivateMessageFlow(t *testing.T) {
	env := newTestEnv()
	alice := env.connect(t, model.User{ID: 1, Username: "user1"})
	bob := env.connect(t, model.User{ID: 2, Username: "user2"})
	env.graph.SetFollow(1, 2, true)

	env.send(alice, `{"type":"start_conversation","recipientId":2}`)
	started := wantEvent(t, alice, "conversation_started")
	conv := started["conversation"].(map[string]any)
	convID := int64(conv["id"].(float64))

	// 双方都收到事件
	wantEvent(t, bob, "conversation_started")

	env.send(alice, fmt.Sprintf(`{"type":"send_private_message","conversationId":%d,"content":"hi"}`, convID))
	delivered := wantEvent(t, bob, "private_message")
	msg := delivered["message"].(map[string]any)
	if msg["content"] != "hi" {
		t.Errorf("Expected content hi, got %v", msg["content"])
	}

	// 已读回执回到发送方
	msgID := int64(msg["id"].(float64))
	env.send(bob, fmt.Sprintf(`{"type":"mark_message_read","conversationId":%d,"messageId":%d}`, convID, msgID))
	read := wantEvent(t, alice, "message_read")
	if int64(read["readerId"].(float64)) != 2 {
		t.Errorf("Expected reader 2, got %v", read["readerId"])
	}
}

func TestRouter_StartConversation_Gate(t *testing.T) {
	env := newTestEnv()
	alice := env.connect(t, model.User{ID: 1, Username: "user1"})
	env.connect(t, model.User{ID: 2, Username: "user2"})

	env.send(alice, `{"type":"start_conversation","recipientId":2}`)
	wantError(t, alice, apperr.CodeNotFollowing)

	env.graph.SetFollow(1, 2, true)
	env.graph.SetBlock(2, 1, true)
	env.send(alice, `{"type":"start_conversation","recipientId":2}`)
	wantError(t, alice, apperr.CodeBlocked)

	// 不存在的用户
	env.send(alice, `{"type":"start_conversation","recipientId":404}`)
	wantError(t, alice, apperr.CodeNotFound)
}

// TestRouter_EndToEnd 覆盖完整场景：关注、建群、提及、关系门、角色变更
func TestRouter_EndToEnd(t *testing.T) {
	env := newTestEnv()
	user1 := env.connect(t, model.User{ID: 1, Username: "user1"})
	user2 := env.connect(t, model.User{ID: 2, Username: "user2"})
	user3 := env.connect(t, model.User{ID: 3, Username: "user3"})

	// user1 关注 2 和 3；user3 不关注 user1
	env.graph.SetFollow(1, 2, true)
	env.graph.SetFollow(1, 3, true)

	// 建群成功，三人都收到 group_created
	env.send(user1, `{"type":"create_group","name":"squad","members":[2,3]}`)
	created := wantEvent(t, user1, "group_created")
	groupID := int64(created["group"].(map[string]any)["id"].(float64))
	wantEvent(t, user2, "group_created")
	wantEvent(t, user3, "group_created")

	// 提及解析：user2 的 ID 加 everyone 哨兵
	env.send(user1, fmt.Sprintf(`{"type":"send_group_message","groupId":%d,"content":"@user2 hi @everyone"}`, groupID))
	sent := wantEvent(t, user2, "group_message_sent")
	mentions := sent["message"].(map[string]any)["mentions"].([]any)
	if len(mentions) != 2 || int64(mentions[0].(float64)) != 2 || int64(mentions[1].(float64)) != model.MentionEveryone {
		t.Errorf("Expected mentions [2, everyone], got %v", mentions)
	}

	// user3 未关注 user1，发起私聊被拒
	before := user1.eventCount()
	env.send(user3, `{"type":"start_conversation","recipientId":1}`)
	wantError(t, user3, apperr.CodeNotFollowing)
	if user1.eventCount() != before {
		t.Error("Expected rejection not to be broadcast")
	}

	// owner 提升 user2 为 admin
	env.send(user1, fmt.Sprintf(`{"type":"promote_member","groupId":%d,"userId":2}`, groupID))
	promoted := wantEvent(t, user2, "member_promoted")
	if promoted["member"].(map[string]any)["role"] != "admin" {
		t.Errorf("Expected admin role, got %v", promoted)
	}

	// admin 提升他人被拒，角色不变
	env.send(user2, fmt.Sprintf(`{"type":"promote_member","groupId":%d,"userId":3}`, groupID))
	wantError(t, user2, apperr.CodeInsufficientPerm)

	env.send(user3, fmt.Sprintf(`{"type":"get_group_members","groupId":%d}`, groupID))
	members := wantEvent(t, user3, "group_members")["members"].([]any)
	for _, m := range members {
		member := m.(map[string]any)
		if int64(member["userId"].(float64)) == 3 && member["role"] != "member" {
			t.Errorf("Expected user3 to stay member, got %v", member["role"])
		}
	}
}

func TestRouter_GroupLifecycleEvents(t *testing.T) {
	env := newTestEnv()
	owner := env.connect(t, model.User{ID: 1, Username: "user1"})
	member := env.connect(t, model.User{ID: 2, Username: "user2"})
	env.graph.SetFollow(1, 2, true)

	env.send(owner, `{"type":"create_group","name":"squad","members":[2]}`)
	groupID := int64(wantEvent(t, owner, "group_created")["group"].(map[string]any)["id"].(float64))

	// 软删除广播给全体成员
	env.send(owner, fmt.Sprintf(`{"type":"delete_group","groupId":%d}`, groupID))
	deleted := wantEvent(t, member, "group_deleted")
	if deleted["permanent"] != false {
		t.Errorf("Expected soft delete, got %v", deleted)
	}

	// 恢复
	env.send(owner, fmt.Sprintf(`{"type":"restore_group","groupId":%d}`, groupID))
	wantEvent(t, member, "group_restored")

	// 成员退群
	env.send(member, fmt.Sprintf(`{"type":"leave_group","groupId":%d}`, groupID))
	left := wantEvent(t, owner, "member_left")
	if int64(left["userId"].(float64)) != 2 {
		t.Errorf("Expected user 2 left, got %v", left)
	}

	// 退群后群对其不可见
	env.send(member, fmt.Sprintf(`{"type":"get_group_info","groupId":%d}`, groupID))
	wantError(t, member, apperr.CodeNotFound)
}

func TestRouter_OnlineUsers(t *testing.T) {
	env := newTestEnv()
	user1 := env.connect(t, model.User{ID: 1, Username: "user1"})
	env.connect(t, model.User{ID: 2, Username: "user2"})

	env.send(user1, `{"type":"get_online_users"}`)
	online := wantEvent(t, user1, "online_users")["userIds"].([]any)
	if len(online) != 2 {
		t.Errorf("Expected 2 online users, got %v", online)
	}
}

func TestRouter_Typing(t *testing.T) {
	env := newTestEnv()
	user1 := env.connect(t, model.User{ID: 1, Username: "user1"})
	user2 := env.connect(t, model.User{ID: 2, Username: "user2"})

	before := user1.eventCount()
	env.send(user1, `{"type":"typing","recipientId":2,"isTyping":true}`)
	typing := wantEvent(t, user2, "typing")
	if int64(typing["senderId"].(float64)) != 1 || typing["isTyping"] != true {
		t.Errorf("Unexpected typing event: %v", typing)
	}
	if user1.eventCount() != before {
		t.Error("Expected typing not to echo back to the sender")
	}
}

func TestRouter_GetConversations(t *testing.T) {
	env := newTestEnv()
	user1 := env.connect(t, model.User{ID: 1, Username: "user1"})
	env.connect(t, model.User{ID: 2, Username: "user2"})
	env.graph.SetFollow(1, 2, true)

	env.send(user1, `{"type":"get_conversations"}`)
	if convs := wantEvent(t, user1, "conversations")["conversations"]; convs != nil {
		t.Errorf("Expected no conversations yet, got %v", convs)
	}

	env.send(user1, `{"type":"start_conversation","recipientId":2}`)
	wantEvent(t, user1, "conversation_started")

	env.send(user1, `{"type":"get_conversations"}`)
	convs := wantEvent(t, user1, "conversations")["conversations"].([]any)
	if len(convs) != 1 {
		t.Fatalf("Expected 1 conversation, got %v", convs)
	}
}

func TestRouter_Heartbeat(t *testing.T) {
	env := newTestEnv()
	sess := env.connect(t, model.User{ID: 1, Username: "user1"})

	env.send(sess, `{"type":"heartbeat"}`)
	wantEvent(t, sess, "heartbeat_ack")
}

func TestRouter_MalformedFrame(t *testing.T) {
	env := newTestEnv()
	sess := env.connect(t, model.User{ID: 1, Username: "user1"})

	env.send(sess, `{"type":"send_private_message"}`)
	wantError(t, sess, apperr.CodeValidation)

	env.send(sess, `not json at all`)
	wantError(t, sess, apperr.CodeValidation)
}

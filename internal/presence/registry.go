// Package presence 在线状态登记：连接与已认证用户的双向索引。
// 同一用户允许多设备同时在线，广播按用户寻址、按会话投递
package presence

import (
	"sort"
	"sync"
)

// Session 登记表对会话的最小视图
type Session interface {
	ID() int64
	UserID() int64
	Send(data []byte) bool
	Close()
}

// Registry 在线登记表
type Registry struct {
	mu           sync.RWMutex
	sessions     map[int64]Session
	userSessions map[int64]map[int64]Session // userID -> sessionID -> Session
}

// NewRegistry 创建登记表
func NewRegistry() *Registry {
	return &Registry{
		sessions:     make(map[int64]Session),
		userSessions: make(map[int64]map[int64]Session),
	}
}

// Add 登记新连接（可能尚未认证）
func (r *Registry) Add(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID()] = s
}

// Bind 认证成功后将连接挂到用户名下
func (r *Registry) Bind(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.ID()]; !ok {
		return
	}
	userID := s.UserID()
	if userID <= 0 {
		return
	}
	if _, ok := r.userSessions[userID]; !ok {
		r.userSessions[userID] = make(map[int64]Session)
	}
	r.userSessions[userID][s.ID()] = s
}

// Remove 注销连接
func (r *Registry) Remove(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, s.ID())

	userID := s.UserID()
	if userID <= 0 {
		return
	}
	if userConns, ok := r.userSessions[userID]; ok {
		delete(userConns, s.ID())
		if len(userConns) == 0 {
			delete(r.userSessions, userID)
		}
	}
}

// SessionsOf 用户的全部在线会话
func (r *Registry) SessionsOf(userID int64) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userConns, ok := r.userSessions[userID]
	if !ok {
		return nil
	}
	sessions := make([]Session, 0, len(userConns))
	for _, s := range userConns {
		sessions = append(sessions, s)
	}
	return sessions
}

// Online 用户是否至少有一个在线会话
func (r *Registry) Online(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.userSessions[userID]) > 0
}

// OnlineUsers 当前在线用户 ID，升序
func (r *Registry) OnlineUsers() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]int64, 0, len(r.userSessions))
	for id := range r.userSessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Count 当前连接总数（含未认证）
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

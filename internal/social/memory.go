package social

import (
	"context"
	"fmt"
	"sync"

	"github.com/EliteScore/chat-server/internal/apperr"
	"github.com/EliteScore/chat-server/internal/model"
)

// MemoryGraph 内存社交图，测试与单机开发环境使用。
// 同时实现 Graph 与 Directory
type MemoryGraph struct {
	mu      sync.RWMutex
	users   map[int64]model.User
	follows map[[2]int64]bool // [follower, followee]
	blocks  map[[2]int64]bool // [blocker, blocked]
}

// NewMemoryGraph 创建内存社交图
func NewMemoryGraph() *MemoryGraph {
	return &MemoryGraph{
		users:   make(map[int64]model.User),
		follows: make(map[[2]int64]bool),
		blocks:  make(map[[2]int64]bool),
	}
}

// AddUser 注册用户
func (g *MemoryGraph) AddUser(user model.User) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.users[user.ID] = user
}

// SetFollow 设置关注边
func (g *MemoryGraph) SetFollow(follower, followee int64, on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if on {
		g.follows[[2]int64{follower, followee}] = true
	} else {
		delete(g.follows, [2]int64{follower, followee})
	}
}

// SetBlock 设置拉黑边
func (g *MemoryGraph) SetBlock(blocker, blocked int64, on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if on {
		g.blocks[[2]int64{blocker, blocked}] = true
	} else {
		delete(g.blocks, [2]int64{blocker, blocked})
	}
}

func (g *MemoryGraph) Follows(_ context.Context, a, b int64) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.follows[[2]int64{a, b}], nil
}

func (g *MemoryGraph) Blocked(_ context.Context, a, b int64) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.blocks[[2]int64{a, b}] || g.blocks[[2]int64{b, a}], nil
}

func (g *MemoryGraph) Lookup(_ context.Context, userID int64) (model.User, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	user, ok := g.users[userID]
	if !ok {
		return model.User{}, apperr.ErrNotFound.WithMessage(fmt.Sprintf("user %d not found", userID))
	}
	return user, nil
}

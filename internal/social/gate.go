package social

import (
	"context"

	"github.com/EliteScore/chat-server/internal/apperr"
	"github.com/EliteScore/chat-server/internal/model"
)

// Graph 外部社交图的只读视图
type Graph interface {
	// Follows a 是否关注 b
	Follows(ctx context.Context, a, b int64) (bool, error)
	// Blocked a 与 b 之间任一方向是否存在拉黑关系
	Blocked(ctx context.Context, a, b int64) (bool, error)
}

// Directory 用户目录，按 ID 解析用户摘要（用户记录由平台持有）
type Directory interface {
	Lookup(ctx context.Context, userID int64) (model.User, error)
}

// Gate 关系门：基于社交图回答私聊/建群准入问题。
// 只在会话发起与建群准入时检查一次，已有会话不随关注关系变化回收
type Gate struct {
	graph Graph
}

// NewGate 创建关系门
func NewGate(graph Graph) *Gate {
	return &Gate{graph: graph}
}

// CanInitiateDirectMessage 判断 from 能否向 to 发起私聊。
// 任一方向的拉黑无条件否决；否则要求 from 关注 to（单向关注即可）
func (g *Gate) CanInitiateDirectMessage(ctx context.Context, from, to int64) error {
	if from == to {
		return apperr.ErrValidation.WithMessage("cannot start a conversation with yourself")
	}

	blocked, err := g.graph.Blocked(ctx, from, to)
	if err != nil {
		return apperr.ErrInternal.Wrap(err)
	}
	if blocked {
		return apperr.ErrBlocked
	}

	follows, err := g.graph.Follows(ctx, from, to)
	if err != nil {
		return apperr.ErrInternal.Wrap(err)
	}
	if !follows {
		return apperr.ErrNotFollowing
	}
	return nil
}

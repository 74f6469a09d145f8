// Package store 私聊与群组的持久化层。
// 记录级授权（参与者、角色）在存储层内完成，违规操作返回带错误码的 AppError，
// 路由层只负责关系门检查、分发与广播
package store

import (
	"context"
	"time"

	"github.com/EliteScore/chat-server/internal/model"
)

// ConversationStore 私聊会话存储
type ConversationStore interface {
	// Start 发起或复用会话。参与者对规范化后幂等，
	// 第二个返回值标记本次调用是否新建了记录
	Start(ctx context.Context, initiatorID, recipientID int64) (*model.Conversation, bool, error)

	// Conversation 读取会话，非参与者返回 NOT_FOUND
	Conversation(ctx context.Context, conversationID, userID int64) (*model.Conversation, error)

	// Conversations 用户可见（未隐藏）的会话，按创建时间排序
	Conversations(ctx context.Context, userID int64) ([]*model.Conversation, error)

	// SendMessage 发送私聊消息，replyTo 为 0 表示非回复
	SendMessage(ctx context.Context, conversationID, senderID int64, content string, replyTo int64) (*model.Message, error)

	// EditMessage 编辑消息，仅原发送者可编辑
	EditMessage(ctx context.Context, conversationID, editorID, messageID int64, content string) (*model.Message, error)

	// DeleteMessage 删除消息（墓碑化），仅原发送者可删除
	DeleteMessage(ctx context.Context, conversationID, userID, messageID int64) (*model.Message, error)

	// DeleteConversation 两级删除：forEveryone 为 false 时仅对调用者隐藏，
	// 为 true 时双方都失去访问、记录整体移除
	DeleteConversation(ctx context.Context, conversationID, userID int64, forEveryone bool) (*model.Conversation, error)

	// Messages 按时间顺序返回会话消息（含墓碑）
	Messages(ctx context.Context, conversationID, userID int64) ([]*model.Message, error)

	// MarkRead 标记消息已读，仅非发送者一方可标记
	MarkRead(ctx context.Context, conversationID, readerID, messageID int64) (*model.Message, error)

	// AddReaction / RemoveReaction 按 (消息, 用户, emoji) 幂等，
	// 第二个返回值标记状态是否实际变化
	AddReaction(ctx context.Context, conversationID, userID, messageID int64, emoji string) (*model.Message, bool, error)
	RemoveReaction(ctx context.Context, conversationID, userID, messageID int64, emoji string) (*model.Message, bool, error)
}

// GroupStore 群组存储
type GroupStore interface {
	// CreateGroup 建群。members 不含创建者；创建者自动成为 owner。
	// 初始成员数 + 1 超过 maxMembers（默认 15）返回 TOO_MANY_MEMBERS
	CreateGroup(ctx context.Context, owner model.User, name, description string, maxMembers int, members []model.User) (*model.Group, []*model.GroupMember, error)

	// GroupInfo 读取群信息与成员列表，仅成员可读；
	// 软删除的群对成员仍可见（供恢复期查询），对外 NOT_FOUND
	GroupInfo(ctx context.Context, groupID, userID int64) (*model.Group, []*model.GroupMember, error)

	// Members 成员列表，仅成员可读
	Members(ctx context.Context, groupID, userID int64) ([]*model.GroupMember, error)

	// MemberIDs 成员 ID 列表，广播寻址用，不做调用者校验
	MemberIDs(ctx context.Context, groupID int64) ([]int64, error)

	// UserGroups 用户所在的活跃群组
	UserGroups(ctx context.Context, userID int64) ([]*model.Group, error)

	// AddMember admin/owner 可拉人；超员返回 GROUP_FULL
	AddMember(ctx context.Context, groupID, actorID int64, member model.User) (*model.GroupMember, error)

	// RemoveMember admin/owner 可移除普通成员；admin 不能移除 admin/owner，
	// owner 不能被移除
	RemoveMember(ctx context.Context, groupID, actorID, userID int64) error

	// PromoteMember / DemoteMember 仅 owner 可操作；
	// promote 限 member -> admin，demote 限 admin -> member
	PromoteMember(ctx context.Context, groupID, actorID, userID int64) (*model.GroupMember, error)
	DemoteMember(ctx context.Context, groupID, actorID, userID int64) (*model.GroupMember, error)

	// LeaveGroup owner 退群返回 OWNER_CANNOT_LEAVE
	LeaveGroup(ctx context.Context, groupID, userID int64) error

	// DeleteGroup 仅 owner。默认软删除（is_active=false，保留 30 天），
	// permanent 为 true 时连同消息一并物理清除
	DeleteGroup(ctx context.Context, groupID, actorID int64, permanent bool) error

	// RestoreGroup 仅 owner，且须在保留期内
	RestoreGroup(ctx context.Context, groupID, actorID int64) (*model.Group, error)

	// UpdateInfo admin/owner 可改名称/描述/人数上限；
	// 上限不能低于当前成员数
	UpdateInfo(ctx context.Context, groupID, actorID int64, name, description *string, maxMembers *int) (*model.Group, error)

	// SendMessage 发送群消息，内容中的 @username/@everyone 按当前成员表解析；
	// announcement 为 true 时要求 admin/owner
	SendMessage(ctx context.Context, groupID, senderID int64, content string, replyTo int64, announcement bool) (*model.Message, error)

	// EditMessage 仅原发送者可编辑
	EditMessage(ctx context.Context, groupID, editorID, messageID int64, content string) (*model.Message, error)

	// DeleteMessage 原发送者或 admin/owner 可删除；
	// forEveryone 为 true 时物理移除而非墓碑化
	DeleteMessage(ctx context.Context, groupID, actorID, messageID int64, forEveryone bool) (*model.Message, error)

	// Messages 按时间顺序返回群消息（含墓碑），仅成员可读
	Messages(ctx context.Context, groupID, userID int64) ([]*model.Message, error)

	// AddReaction / RemoveReaction 同私聊反应，幂等
	AddReaction(ctx context.Context, groupID, userID, messageID int64, emoji string) (*model.Message, bool, error)
	RemoveReaction(ctx context.Context, groupID, userID, messageID int64, emoji string) (*model.Message, bool, error)

	// PinMessage admin/owner 可置顶；单置顶策略，返回被替换的旧置顶消息 ID（无则为 0）
	PinMessage(ctx context.Context, groupID, actorID, messageID int64) (*model.Message, int64, error)

	// UnpinMessage admin/owner 可取消置顶，返回被取消的消息 ID（无置顶时为 0）
	UnpinMessage(ctx context.Context, groupID, actorID int64) (int64, error)

	// PinnedMessages 当前置顶消息（单置顶策略下最多一条），仅成员可读
	PinnedMessages(ctx context.Context, groupID, userID int64) ([]*model.Message, error)

	// PurgeExpired 物理清除软删除超过保留期的群组，返回清除数量。
	// 后台定期调用
	PurgeExpired(ctx context.Context, cutoff time.Time) (int, error)
}

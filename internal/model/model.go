package model

import "time"

// Role 群成员角色
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// CanModerate 是否具备管理权限（admin 或 owner）
func (r Role) CanModerate() bool {
	return r == RoleOwner || r == RoleAdmin
}

// MentionEveryone @everyone 提及的哨兵值
const MentionEveryone int64 = -1

// DefaultMaxMembers 群组默认人数上限
const DefaultMaxMembers = 15

// GroupRetention 软删除群组的保留期，超过后允许物理清除
const GroupRetention = 30 * 24 * time.Hour

// User 用户摘要（身份由外部社交/认证系统持有，这里只引用）
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Conversation 私聊会话，参与者对经过规范化（UserA < UserB），
// 保证重复发起会话时幂等复用同一条记录
type Conversation struct {
	ID        int64     `json:"id"`
	UserA     int64     `json:"userA"`
	UserB     int64     `json:"userB"`
	CreatedAt time.Time `json:"createdAt"`
}

// CanonicalPair 规范化参与者对，小 ID 在前
func CanonicalPair(a, b int64) (int64, int64) {
	if a > b {
		return b, a
	}
	return a, b
}

// Participants 返回会话双方
func (c *Conversation) Participants() [2]int64 {
	return [2]int64{c.UserA, c.UserB}
}

// HasParticipant 判断用户是否为会话参与者
func (c *Conversation) HasParticipant(userID int64) bool {
	return c.UserA == userID || c.UserB == userID
}

// Other 返回会话中另一方的用户 ID
func (c *Conversation) Other(userID int64) int64 {
	if c.UserA == userID {
		return c.UserB
	}
	return c.UserA
}

// Group 群组实体
type Group struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	OwnerID     int64      `json:"ownerId"`
	MaxMembers  int        `json:"maxMembers"`
	IsActive    bool       `json:"isActive"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// GroupMember 群成员
type GroupMember struct {
	GroupID  int64     `json:"groupId"`
	UserID   int64     `json:"userId"`
	Username string    `json:"username"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

// ReactionGroup 一条消息上同一 emoji 的聚合视图
type ReactionGroup struct {
	Emoji   string  `json:"emoji"`
	UserIDs []int64 `json:"userIds"`
}

// Message 消息实体，私聊与群聊共用。
// Deleted 为 true 时内容已被清空（墓碑），保留记录以维持排序
type Message struct {
	ID             int64           `json:"id"`
	ConversationID int64           `json:"conversationId,omitempty"`
	GroupID        int64           `json:"groupId,omitempty"`
	SenderID       int64           `json:"senderId"`
	Content        string          `json:"content"`
	ReplyTo        int64           `json:"replyTo,omitempty"`
	Mentions       []int64         `json:"mentions,omitempty"`
	Announcement   bool            `json:"announcement,omitempty"`
	Pinned         bool            `json:"pinned,omitempty"`
	Deleted        bool            `json:"deleted,omitempty"`
	Reactions      []ReactionGroup `json:"reactions,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	EditedAt       *time.Time      `json:"editedAt,omitempty"`
	ReadAt         *time.Time      `json:"readAt,omitempty"`
}

// Tombstone 清空消息内容，保留位置
func (m *Message) Tombstone() {
	m.Content = ""
	m.Deleted = true
	m.Mentions = nil
	m.Reactions = nil
	m.Pinned = false
}

// AddReaction 幂等添加反应，重复添加返回 false
func (m *Message) AddReaction(userID int64, emoji string) bool {
	for i := range m.Reactions {
		if m.Reactions[i].Emoji != emoji {
			continue
		}
		for _, id := range m.Reactions[i].UserIDs {
			if id == userID {
				return false
			}
		}
		m.Reactions[i].UserIDs = append(m.Reactions[i].UserIDs, userID)
		return true
	}
	m.Reactions = append(m.Reactions, ReactionGroup{Emoji: emoji, UserIDs: []int64{userID}})
	return true
}

// RemoveReaction 幂等移除反应，不存在时返回 false
func (m *Message) RemoveReaction(userID int64, emoji string) bool {
	for i := range m.Reactions {
		if m.Reactions[i].Emoji != emoji {
			continue
		}
		for j, id := range m.Reactions[i].UserIDs {
			if id == userID {
				m.Reactions[i].UserIDs = append(m.Reactions[i].UserIDs[:j], m.Reactions[i].UserIDs[j+1:]...)
				if len(m.Reactions[i].UserIDs) == 0 {
					m.Reactions = append(m.Reactions[:i], m.Reactions[i+1:]...)
				}
				return true
			}
		}
		return false
	}
	return false
}

// Clone 深拷贝消息，内存存储对外返回副本时使用
func (m *Message) Clone() *Message {
	cp := *m
	if m.Mentions != nil {
		cp.Mentions = append([]int64(nil), m.Mentions...)
	}
	if m.Reactions != nil {
		cp.Reactions = make([]ReactionGroup, len(m.Reactions))
		for i, rg := range m.Reactions {
			cp.Reactions[i] = ReactionGroup{Emoji: rg.Emoji, UserIDs: append([]int64(nil), rg.UserIDs...)}
		}
	}
	if m.EditedAt != nil {
		t := *m.EditedAt
		cp.EditedAt = &t
	}
	if m.ReadAt != nil {
		t := *m.ReadAt
		cp.ReadAt = &t
	}
	return &cp
}

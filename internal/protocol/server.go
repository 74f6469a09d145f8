package protocol

import (
	"encoding/json"

	"github.com/EliteScore/chat-server/internal/model"
)

// ============== 服务端 -> 客户端 事件类型 ==============

const (
	EventAuthSuccess = "auth_success"
	EventAuthError   = "auth_error"
	EventError       = "error"

	EventConversationStarted   = "conversation_started"
	EventPrivateMessage        = "private_message"
	EventPrivateMessageEdited  = "private_message_edited"
	EventPrivateMessageDeleted = "private_message_deleted"
	EventConversationDeleted   = "conversation_deleted"
	EventPrivateMessages       = "private_messages"
	EventConversations         = "conversations"
	EventMessageRead           = "message_read"
	EventReactionAdded         = "reaction_added"
	EventReactionRemoved       = "reaction_removed"

	EventGroupCreated         = "group_created"
	EventMemberAdded          = "member_added"
	EventMemberRemoved        = "member_removed"
	EventMemberPromoted       = "member_promoted"
	EventMemberDemoted        = "member_demoted"
	EventMemberLeft           = "member_left"
	EventGroupDeleted         = "group_deleted"
	EventGroupRestored        = "group_restored"
	EventGroupMessageSent     = "group_message_sent"
	EventGroupMessageEdited   = "group_message_edited"
	EventGroupMessageDeleted  = "group_message_deleted"
	EventGroupReactionAdded   = "group_reaction_added"
	EventGroupReactionRemoved = "group_reaction_removed"
	EventMessagePinned        = "message_pinned"
	EventMessageUnpinned      = "message_unpinned"
	EventPinnedMessages       = "pinned_messages"
	EventAnnouncementSent     = "announcement_sent"
	EventGroupUpdated         = "group_updated"
	EventGroupInfo            = "group_info"
	EventGroupMembers         = "group_members"
	EventGroupMessages        = "group_messages"

	EventOnlineUsers          = "online_users"
	EventUserGroups           = "user_groups"
	EventTyping               = "typing"
	EventHeartbeatAck         = "heartbeat_ack"
	EventCommunityProgression = "community_progression"
)

type AuthSuccessEvent struct {
	Type string     `json:"type"`
	User model.User `json:"user"`
}

type AuthErrorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type ConversationStartedEvent struct {
	Type         string             `json:"type"`
	Conversation model.Conversation `json:"conversation"`
}

type PrivateMessageEvent struct {
	Type    string        `json:"type"`
	Message model.Message `json:"message"`
}

type PrivateMessageEditedEvent struct {
	Type    string        `json:"type"`
	Message model.Message `json:"message"`
}

type PrivateMessageDeletedEvent struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversationId"`
	MessageID      int64  `json:"messageId"`
}

type ConversationDeletedEvent struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversationId"`
	ForEveryone    bool   `json:"forEveryone"`
}

type PrivateMessagesEvent struct {
	Type           string           `json:"type"`
	ConversationID int64            `json:"conversationId"`
	Messages       []*model.Message `json:"messages"`
}

type ConversationsEvent struct {
	Type          string                `json:"type"`
	Conversations []*model.Conversation `json:"conversations"`
}

type MessageReadEvent struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversationId"`
	MessageID      int64  `json:"messageId"`
	ReaderID       int64  `json:"readerId"`
}

type ReactionEvent struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversationId,omitempty"`
	GroupID        int64  `json:"groupId,omitempty"`
	MessageID      int64  `json:"messageId"`
	UserID         int64  `json:"userId"`
	Emoji          string `json:"emoji"`
}

type GroupCreatedEvent struct {
	Type    string               `json:"type"`
	Group   model.Group          `json:"group"`
	Members []*model.GroupMember `json:"members"`
}

type MemberEvent struct {
	Type    string             `json:"type"`
	GroupID int64              `json:"groupId"`
	Member  *model.GroupMember `json:"member,omitempty"`
	UserID  int64              `json:"userId"`
}

type GroupDeletedEvent struct {
	Type      string `json:"type"`
	GroupID   int64  `json:"groupId"`
	Permanent bool   `json:"permanent"`
}

type GroupRestoredEvent struct {
	Type  string      `json:"type"`
	Group model.Group `json:"group"`
}

type GroupMessageEvent struct {
	Type    string        `json:"type"`
	Message model.Message `json:"message"`
}

type GroupMessageDeletedEvent struct {
	Type              string `json:"type"`
	GroupID           int64  `json:"groupId"`
	MessageID         int64  `json:"messageId"`
	DeleteForEveryone bool   `json:"deleteForEveryone"`
}

type MessagePinnedEvent struct {
	Type    string        `json:"type"`
	GroupID int64         `json:"groupId"`
	Message model.Message `json:"message"`
}

type MessageUnpinnedEvent struct {
	Type      string `json:"type"`
	GroupID   int64  `json:"groupId"`
	MessageID int64  `json:"messageId"`
}

type PinnedMessagesEvent struct {
	Type     string           `json:"type"`
	GroupID  int64            `json:"groupId"`
	Messages []*model.Message `json:"messages"`
}

type GroupUpdatedEvent struct {
	Type  string      `json:"type"`
	Group model.Group `json:"group"`
}

type GroupInfoEvent struct {
	Type    string               `json:"type"`
	Group   model.Group          `json:"group"`
	Members []*model.GroupMember `json:"members"`
}

type GroupMembersEvent struct {
	Type    string               `json:"type"`
	GroupID int64                `json:"groupId"`
	Members []*model.GroupMember `json:"members"`
}

type GroupMessagesEvent struct {
	Type     string           `json:"type"`
	GroupID  int64            `json:"groupId"`
	Messages []*model.Message `json:"messages"`
}

type OnlineUsersEvent struct {
	Type    string  `json:"type"`
	UserIDs []int64 `json:"userIds"`
}

type UserGroupsEvent struct {
	Type   string         `json:"type"`
	Groups []*model.Group `json:"groups"`
}

type TypingEvent struct {
	Type     string `json:"type"`
	SenderID int64  `json:"senderId"`
	IsTyping bool   `json:"isTyping"`
}

type HeartbeatAckEvent struct {
	Type string `json:"type"`
}

type CommunityProgressionEvent struct {
	Type   string `json:"type"`
	UserID int64  `json:"userId"`
	Event  string `json:"event"`
	XP     int64  `json:"xp,omitempty"`
	Level  int    `json:"level,omitempty"`
}

// EncodeEvent 序列化服务端事件为一帧帧体
func EncodeEvent(event any) ([]byte, error) {
	return json.Marshal(event)
}

// NewErrorEvent 构造标准错误事件
func NewErrorEvent(code, message string) *ErrorEvent {
	return &ErrorEvent{Type: EventError, Code: code, Message: message}
}

// NewAuthErrorEvent 构造认证失败事件
func NewAuthErrorEvent(code, message string) *AuthErrorEvent {
	return &AuthErrorEvent{Type: EventAuthError, Code: code, Message: message}
}

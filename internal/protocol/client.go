package protocol

import (
	"bytes"
	"encoding/json"

	"github.com/EliteScore/chat-server/internal/apperr"
)

// ============== 客户端 -> 服务端 帧类型 ==============

const (
	TypeAuthenticate = "authenticate"

	TypeStartConversation    = "start_conversation"
	TypeSendPrivateMessage   = "send_private_message"
	TypeEditPrivateMessage   = "edit_private_message"
	TypeDeletePrivateMessage = "delete_private_message"
	TypeDeleteConversation   = "delete_conversation"
	TypeGetPrivateMessages   = "get_private_messages"
	TypeGetConversations     = "get_conversations"
	TypeMarkMessageRead      = "mark_message_read"
	TypeAddReaction          = "add_reaction"
	TypeRemoveReaction       = "remove_reaction"

	TypeCreateGroup         = "create_group"
	TypeAddGroupMember      = "add_group_member"
	TypeRemoveGroupMember   = "remove_group_member"
	TypePromoteMember       = "promote_member"
	TypeDemoteMember        = "demote_member"
	TypeLeaveGroup          = "leave_group"
	TypeDeleteGroup         = "delete_group"
	TypeRestoreGroup        = "restore_group"
	TypeSendGroupMessage    = "send_group_message"
	TypeEditGroupMessage    = "edit_group_message"
	TypeDeleteGroupMessage  = "delete_group_message"
	TypeAddGroupReaction    = "add_group_reaction"
	TypeRemoveGroupReaction = "remove_group_reaction"
	TypePinMessage          = "pin_message"
	TypeUnpinMessage        = "unpin_message"
	TypeGetPinnedMessages   = "get_pinned_messages"
	TypeSendAnnouncement    = "send_announcement"
	TypeUpdateGroupInfo     = "update_group_info"
	TypeGetGroupInfo        = "get_group_info"
	TypeGetGroupMembers     = "get_group_members"
	TypeGetGroupMessages    = "get_group_messages"

	TypeGetOnlineUsers = "get_online_users"
	TypeGetUserGroups  = "get_user_groups"
	TypeTyping         = "typing"
	TypeHeartbeat      = "heartbeat"
)

// ClientFrame 客户端帧。每个动词是一个固定字段集的带标签变体，
// 解码时拒绝未知字段与缺失字段，而不是在调用点信任帧结构
type ClientFrame interface {
	FrameType() string
	validate() error
}

type Authenticate struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type StartConversation struct {
	Type        string `json:"type"`
	RecipientID int64  `json:"recipientId"`
}

type SendPrivateMessage struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversationId"`
	Content        string `json:"content"`
	ReplyTo        int64  `json:"replyTo,omitempty"`
}

type EditPrivateMessage struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversationId"`
	MessageID      int64  `json:"messageId"`
	Content        string `json:"content"`
}

type DeletePrivateMessage struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversationId"`
	MessageID      int64  `json:"messageId"`
}

type DeleteConversation struct {
	Type              string `json:"type"`
	ConversationID    int64  `json:"conversationId"`
	DeleteForEveryone bool   `json:"deleteForEveryone,omitempty"`
}

type GetPrivateMessages struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversationId"`
}

type GetConversations struct {
	Type string `json:"type"`
}

type MarkMessageRead struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversationId"`
	MessageID      int64  `json:"messageId"`
}

type AddReaction struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversationId"`
	MessageID      int64  `json:"messageId"`
	Emoji          string `json:"emoji"`
}

type RemoveReaction struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversationId"`
	MessageID      int64  `json:"messageId"`
	Emoji          string `json:"emoji"`
}

type CreateGroup struct {
	Type        string  `json:"type"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	MaxMembers  int     `json:"maxMembers,omitempty"`
	Members     []int64 `json:"members"`
}

type AddGroupMember struct {
	Type    string `json:"type"`
	GroupID int64  `json:"groupId"`
	UserID  int64  `json:"userId"`
}

type RemoveGroupMember struct {
	Type    string `json:"type"`
	GroupID int64  `json:"groupId"`
	UserID  int64  `json:"userId"`
}

type PromoteMember struct {
	Type    string `json:"type"`
	GroupID int64  `json:"groupId"`
	UserID  int64  `json:"userId"`
}

type DemoteMember struct {
	Type    string `json:"type"`
	GroupID int64  `json:"groupId"`
	UserID  int64  `json:"userId"`
}

type LeaveGroup struct {
	Type    string `json:"type"`
	GroupID int64  `json:"groupId"`
}

type DeleteGroup struct {
	Type      string `json:"type"`
	GroupID   int64  `json:"groupId"`
	Permanent bool   `json:"permanent,omitempty"`
}

type RestoreGroup struct {
	Type    string `json:"type"`
	GroupID int64  `json:"groupId"`
}

type SendGroupMessage struct {
	Type    string `json:"type"`
	GroupID int64  `json:"groupId"`
	Content string `json:"content"`
	ReplyTo int64  `json:"replyTo,omitempty"`
}

type EditGroupMessage struct {
	Type      string `json:"type"`
	GroupID   int64  `json:"groupId"`
	MessageID int64  `json:"messageId"`
	Content   string `json:"content"`
}

type DeleteGroupMessage struct {
	Type              string `json:"type"`
	GroupID           int64  `json:"groupId"`
	MessageID         int64  `json:"messageId"`
	DeleteForEveryone bool   `json:"deleteForEveryone,omitempty"`
}

type AddGroupReaction struct {
	Type      string `json:"type"`
	GroupID   int64  `json:"groupId"`
	MessageID int64  `json:"messageId"`
	Emoji     string `json:"emoji"`
}

type RemoveGroupReaction struct {
	Type      string `json:"type"`
	GroupID   int64  `json:"groupId"`
	MessageID int64  `json:"messageId"`
	Emoji     string `json:"emoji"`
}

type PinMessage struct {
	Type      string `json:"type"`
	GroupID   int64  `json:"groupId"`
	MessageID int64  `json:"messageId"`
}

type UnpinMessage struct {
	Type    string `json:"type"`
	GroupID int64  `json:"groupId"`
}

type GetPinnedMessages struct {
	Type    string `json:"type"`
	GroupID int64  `json:"groupId"`
}

type SendAnnouncement struct {
	Type    string `json:"type"`
	GroupID int64  `json:"groupId"`
	Content string `json:"content"`
}

type UpdateGroupInfo struct {
	Type        string  `json:"type"`
	GroupID     int64   `json:"groupId"`
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	MaxMembers  *int    `json:"maxMembers,omitempty"`
}

type GetGroupInfo struct {
	Type    string `json:"type"`
	GroupID int64  `json:"groupId"`
}

type GetGroupMembers struct {
	Type    string `json:"type"`
	GroupID int64  `json:"groupId"`
}

type GetGroupMessages struct {
	Type    string `json:"type"`
	GroupID int64  `json:"groupId"`
}

type GetOnlineUsers struct {
	Type string `json:"type"`
}

type GetUserGroups struct {
	Type string `json:"type"`
}

type Typing struct {
	Type        string `json:"type"`
	RecipientID int64  `json:"recipientId"`
	IsTyping    bool   `json:"isTyping"`
}

type Heartbeat struct {
	Type string `json:"type"`
}

func (f *Authenticate) FrameType() string         { return TypeAuthenticate }
func (f *StartConversation) FrameType() string    { return TypeStartConversation }
func (f *SendPrivateMessage) FrameType() string   { return TypeSendPrivateMessage }
func (f *EditPrivateMessage) FrameType() string   { return TypeEditPrivateMessage }
func (f *DeletePrivateMessage) FrameType() string { return TypeDeletePrivateMessage }
func (f *DeleteConversation) FrameType() string   { return TypeDeleteConversation }
func (f *GetPrivateMessages) FrameType() string   { return TypeGetPrivateMessages }
func (f *GetConversations) FrameType() string     { return TypeGetConversations }
func (f *MarkMessageRead) FrameType() string      { return TypeMarkMessageRead }
func (f *AddReaction) FrameType() string          { return TypeAddReaction }
func (f *RemoveReaction) FrameType() string       { return TypeRemoveReaction }
func (f *CreateGroup) FrameType() string          { return TypeCreateGroup }
func (f *AddGroupMember) FrameType() string       { return TypeAddGroupMember }
func (f *RemoveGroupMember) FrameType() string    { return TypeRemoveGroupMember }
func (f *PromoteMember) FrameType() string        { return TypePromoteMember }
func (f *DemoteMember) FrameType() string         { return TypeDemoteMember }
func (f *LeaveGroup) FrameType() string           { return TypeLeaveGroup }
func (f *DeleteGroup) FrameType() string          { return TypeDeleteGroup }
func (f *RestoreGroup) FrameType() string         { return TypeRestoreGroup }
func (f *SendGroupMessage) FrameType() string     { return TypeSendGroupMessage }
func (f *EditGroupMessage) FrameType() string     { return TypeEditGroupMessage }
func (f *DeleteGroupMessage) FrameType() string   { return TypeDeleteGroupMessage }
func (f *AddGroupReaction) FrameType() string     { return TypeAddGroupReaction }
func (f *RemoveGroupReaction) FrameType() string  { return TypeRemoveGroupReaction }
func (f *PinMessage) FrameType() string           { return TypePinMessage }
func (f *UnpinMessage) FrameType() string         { return TypeUnpinMessage }
func (f *GetPinnedMessages) FrameType() string    { return TypeGetPinnedMessages }
func (f *SendAnnouncement) FrameType() string     { return TypeSendAnnouncement }
func (f *UpdateGroupInfo) FrameType() string      { return TypeUpdateGroupInfo }
func (f *GetGroupInfo) FrameType() string         { return TypeGetGroupInfo }
func (f *GetGroupMembers) FrameType() string      { return TypeGetGroupMembers }
func (f *GetGroupMessages) FrameType() string     { return TypeGetGroupMessages }
func (f *GetOnlineUsers) FrameType() string       { return TypeGetOnlineUsers }
func (f *GetUserGroups) FrameType() string        { return TypeGetUserGroups }
func (f *Typing) FrameType() string               { return TypeTyping }
func (f *Heartbeat) FrameType() string            { return TypeHeartbeat }

func (f *Authenticate) validate() error {
	return require(f.Token != "", "token is required")
}

func (f *StartConversation) validate() error {
	return require(f.RecipientID > 0, "recipientId is required")
}

func (f *SendPrivateMessage) validate() error {
	if err := require(f.ConversationID > 0, "conversationId is required"); err != nil {
		return err
	}
	return require(f.Content != "", "content is required")
}

func (f *EditPrivateMessage) validate() error {
	if err := require(f.ConversationID > 0 && f.MessageID > 0, "conversationId and messageId are required"); err != nil {
		return err
	}
	return require(f.Content != "", "content is required")
}

func (f *DeletePrivateMessage) validate() error {
	return require(f.ConversationID > 0 && f.MessageID > 0, "conversationId and messageId are required")
}

func (f *DeleteConversation) validate() error {
	return require(f.ConversationID > 0, "conversationId is required")
}

func (f *GetPrivateMessages) validate() error {
	return require(f.ConversationID > 0, "conversationId is required")
}

func (f *MarkMessageRead) validate() error {
	return require(f.ConversationID > 0 && f.MessageID > 0, "conversationId and messageId are required")
}

func (f *AddReaction) validate() error {
	if err := require(f.ConversationID > 0 && f.MessageID > 0, "conversationId and messageId are required"); err != nil {
		return err
	}
	return require(f.Emoji != "", "emoji is required")
}

func (f *RemoveReaction) validate() error {
	if err := require(f.ConversationID > 0 && f.MessageID > 0, "conversationId and messageId are required"); err != nil {
		return err
	}
	return require(f.Emoji != "", "emoji is required")
}

func (f *CreateGroup) validate() error {
	if err := require(f.Name != "", "name is required"); err != nil {
		return err
	}
	return require(f.MaxMembers >= 0, "maxMembers must not be negative")
}

func (f *AddGroupMember) validate() error {
	return require(f.GroupID > 0 && f.UserID > 0, "groupId and userId are required")
}

func (f *RemoveGroupMember) validate() error {
	return require(f.GroupID > 0 && f.UserID > 0, "groupId and userId are required")
}

func (f *PromoteMember) validate() error {
	return require(f.GroupID > 0 && f.UserID > 0, "groupId and userId are required")
}

func (f *DemoteMember) validate() error {
	return require(f.GroupID > 0 && f.UserID > 0, "groupId and userId are required")
}

func (f *LeaveGroup) validate() error {
	return require(f.GroupID > 0, "groupId is required")
}

func (f *DeleteGroup) validate() error {
	return require(f.GroupID > 0, "groupId is required")
}

func (f *RestoreGroup) validate() error {
	return require(f.GroupID > 0, "groupId is required")
}

func (f *SendGroupMessage) validate() error {
	if err := require(f.GroupID > 0, "groupId is required"); err != nil {
		return err
	}
	return require(f.Content != "", "content is required")
}

func (f *EditGroupMessage) validate() error {
	if err := require(f.GroupID > 0 && f.MessageID > 0, "groupId and messageId are required"); err != nil {
		return err
	}
	return require(f.Content != "", "content is required")
}

func (f *DeleteGroupMessage) validate() error {
	return require(f.GroupID > 0 && f.MessageID > 0, "groupId and messageId are required")
}

func (f *AddGroupReaction) validate() error {
	if err := require(f.GroupID > 0 && f.MessageID > 0, "groupId and messageId are required"); err != nil {
		return err
	}
	return require(f.Emoji != "", "emoji is required")
}

func (f *RemoveGroupReaction) validate() error {
	if err := require(f.GroupID > 0 && f.MessageID > 0, "groupId and messageId are required"); err != nil {
		return err
	}
	return require(f.Emoji != "", "emoji is required")
}

func (f *PinMessage) validate() error {
	return require(f.GroupID > 0 && f.MessageID > 0, "groupId and messageId are required")
}

func (f *UnpinMessage) validate() error {
	return require(f.GroupID > 0, "groupId is required")
}

func (f *GetPinnedMessages) validate() error {
	return require(f.GroupID > 0, "groupId is required")
}

func (f *SendAnnouncement) validate() error {
	if err := require(f.GroupID > 0, "groupId is required"); err != nil {
		return err
	}
	return require(f.Content != "", "content is required")
}

func (f *UpdateGroupInfo) validate() error {
	if err := require(f.GroupID > 0, "groupId is required"); err != nil {
		return err
	}
	if f.Name != nil && *f.Name == "" {
		return apperr.ErrValidation.WithMessage("name must not be empty")
	}
	if f.MaxMembers != nil && *f.MaxMembers <= 0 {
		return apperr.ErrValidation.WithMessage("maxMembers must be positive")
	}
	return nil
}

func (f *GetGroupInfo) validate() error {
	return require(f.GroupID > 0, "groupId is required")
}

func (f *GetGroupMembers) validate() error {
	return require(f.GroupID > 0, "groupId is required")
}

func (f *GetGroupMessages) validate() error {
	return require(f.GroupID > 0, "groupId is required")
}

func (f *GetConversations) validate() error { return nil }
func (f *GetOnlineUsers) validate() error   { return nil }
func (f *GetUserGroups) validate() error    { return nil }
func (f *Heartbeat) validate() error        { return nil }

func (f *Typing) validate() error {
	return require(f.RecipientID > 0, "recipientId is required")
}

func require(ok bool, message string) error {
	if !ok {
		return apperr.ErrValidation.WithMessage(message)
	}
	return nil
}

// DecodeClientFrame 解码一个客户端帧。
// 先读取 type 标签，再按对应变体严格解码（未知字段报错），最后做字段校验
func DecodeClientFrame(data []byte) (ClientFrame, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, apperr.ErrValidation.WithMessage("frame is not a JSON object").Wrap(err)
	}
	if envelope.Type == "" {
		return nil, apperr.ErrValidation.WithMessage("frame type is missing")
	}

	frame := newClientFrame(envelope.Type)
	if frame == nil {
		return nil, apperr.ErrValidation.WithMessage("unknown frame type: " + envelope.Type)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(frame); err != nil {
		return nil, apperr.ErrValidation.WithMessage("malformed " + envelope.Type + " frame").Wrap(err)
	}

	if err := frame.validate(); err != nil {
		return nil, err
	}
	return frame, nil
}

func newClientFrame(frameType string) ClientFrame {
	switch frameType {
	case TypeAuthenticate:
		return &Authenticate{}
	case TypeStartConversation:
		return &StartConversation{}
	case TypeSendPrivateMessage:
		return &SendPrivateMessage{}
	case TypeEditPrivateMessage:
		return &EditPrivateMessage{}
	case TypeDeletePrivateMessage:
		return &DeletePrivateMessage{}
	case TypeDeleteConversation:
		return &DeleteConversation{}
	case TypeGetPrivateMessages:
		return &GetPrivateMessages{}
	case TypeGetConversations:
		return &GetConversations{}
	case TypeMarkMessageRead:
		return &MarkMessageRead{}
	case TypeAddReaction:
		return &AddReaction{}
	case TypeRemoveReaction:
		return &RemoveReaction{}
	case TypeCreateGroup:
		return &CreateGroup{}
	case TypeAddGroupMember:
		return &AddGroupMember{}
	case TypeRemoveGroupMember:
		return &RemoveGroupMember{}
	case TypePromoteMember:
		return &PromoteMember{}
	case TypeDemoteMember:
		return &DemoteMember{}
	case TypeLeaveGroup:
		return &LeaveGroup{}
	case TypeDeleteGroup:
		return &DeleteGroup{}
	case TypeRestoreGroup:
		return &RestoreGroup{}
	case TypeSendGroupMessage:
		return &SendGroupMessage{}
	case TypeEditGroupMessage:
		return &EditGroupMessage{}
	case TypeDeleteGroupMessage:
		return &DeleteGroupMessage{}
	case TypeAddGroupReaction:
		return &AddGroupReaction{}
	case TypeRemoveGroupReaction:
		return &RemoveGroupReaction{}
	case TypePinMessage:
		return &PinMessage{}
	case TypeUnpinMessage:
		return &UnpinMessage{}
	case TypeGetPinnedMessages:
		return &GetPinnedMessages{}
	case TypeSendAnnouncement:
		return &SendAnnouncement{}
	case TypeUpdateGroupInfo:
		return &UpdateGroupInfo{}
	case TypeGetGroupInfo:
		return &GetGroupInfo{}
	case TypeGetGroupMembers:
		return &GetGroupMembers{}
	case TypeGetGroupMessages:
		return &GetGroupMessages{}
	case TypeGetOnlineUsers:
		return &GetOnlineUsers{}
	case TypeGetUserGroups:
		return &GetUserGroups{}
	case TypeTyping:
		return &Typing{}
	case TypeHeartbeat:
		return &Heartbeat{}
	}
	return nil
}

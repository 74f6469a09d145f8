// Package router 消息路由：把解码后的客户端帧映射到存储操作，
// 先做授权检查，成功后向受影响用户的全部在线会话广播结果事件，
// 失败时只向请求方回错误帧，绝不广播半成品状态
package router

import (
	"context"
	"log/slog"

	"github.com/EliteScore/chat-server/internal/apperr"
	"github.com/EliteScore/chat-server/internal/auth"
	"github.com/EliteScore/chat-server/internal/model"
	"github.com/EliteScore/chat-server/internal/presence"
	"github.com/EliteScore/chat-server/internal/protocol"
	"github.com/EliteScore/chat-server/internal/social"
	"github.com/EliteScore/chat-server/internal/store"
	"github.com/EliteScore/chat-server/internal/workerpool"
)

// Session 路由层对会话的视图
type Session interface {
	presence.Session
	User() model.User
	BindUser(model.User) bool
	Authenticated() bool
	Platform() string
	SetPlatform(platform string)
}

// Relay 跨节点广播通道，单机部署为 nil
type Relay interface {
	PublishBroadcast(userIDs []int64, event []byte) error
}

// Locator 在线位置登记，未启用 Redis 时为 nil
type Locator interface {
	RegisterUserLocation(ctx context.Context, userID int64, platform string, sessionID int64) error
	RefreshUserLocation(ctx context.Context, userID int64, platform string) error
	UnregisterUserLocation(ctx context.Context, userID int64, platform string) error
}

// Config 路由依赖
type Config struct {
	Authenticator *auth.Authenticator
	Gate          *social.Gate
	Directory     social.Directory
	Conversations store.ConversationStore
	Groups        store.GroupStore
	Registry      *presence.Registry
	Pool          *workerpool.Pool
	Relay         Relay
	Locator       Locator
	Logger        *slog.Logger
}

// Router 单一分发点
type Router struct {
	authn    *auth.Authenticator
	gate     *social.Gate
	users    social.Directory
	convs    store.ConversationStore
	groups   store.GroupStore
	registry *presence.Registry
	pool     *workerpool.Pool
	relay    Relay
	locator  Locator
	logger   *slog.Logger
}

// New 创建路由
func New(cfg Config) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		authn:    cfg.Authenticator,
		gate:     cfg.Gate,
		users:    cfg.Directory,
		convs:    cfg.Conversations,
		groups:   cfg.Groups,
		registry: cfg.Registry,
		pool:     cfg.Pool,
		relay:    cfg.Relay,
		locator:  cfg.Locator,
		logger:   logger,
	}
}

// Handle 处理一帧。每帧处理到完成或原子性失败，没有中途取消
func (r *Router) Handle(ctx context.Context, sess Session, data []byte) {
	frame, err := protocol.DecodeClientFrame(data)
	if err != nil {
		r.replyError(sess, err)
		return
	}

	if f, ok := frame.(*protocol.Authenticate); ok {
		r.handleAuthenticate(ctx, sess, f)
		return
	}
	if !sess.Authenticated() {
		r.replyError(sess, apperr.ErrAuthRequired)
		return
	}

	if err := r.dispatch(ctx, sess, frame); err != nil {
		r.replyError(sess, err)
	}
}

func (r *Router) dispatch(ctx context.Context, sess Session, frame protocol.ClientFrame) error {
	switch f := frame.(type) {
	case *protocol.StartConversation:
		return r.handleStartConversation(ctx, sess, f)
	case *protocol.SendPrivateMessage:
		return r.handleSendPrivateMessage(ctx, sess, f)
	case *protocol.EditPrivateMessage:
		return r.handleEditPrivateMessage(ctx, sess, f)
	case *protocol.DeletePrivateMessage:
		return r.handleDeletePrivateMessage(ctx, sess, f)
	case *protocol.DeleteConversation:
		return r.handleDeleteConversation(ctx, sess, f)
	case *protocol.GetPrivateMessages:
		return r.handleGetPrivateMessages(ctx, sess, f)
	case *protocol.GetConversations:
		return r.handleGetConversations(ctx, sess)
	case *protocol.MarkMessageRead:
		return r.handleMarkMessageRead(ctx, sess, f)
	case *protocol.AddReaction:
		return r.handleReaction(ctx, sess, f.ConversationID, f.MessageID, f.Emoji, true)
	case *protocol.RemoveReaction:
		return r.handleReaction(ctx, sess, f.ConversationID, f.MessageID, f.Emoji, false)
	case *protocol.CreateGroup:
		return r.handleCreateGroup(ctx, sess, f)
	case *protocol.AddGroupMember:
		return r.handleAddGroupMember(ctx, sess, f)
	case *protocol.RemoveGroupMember:
		return r.handleRemoveGroupMember(ctx, sess, f)
	case *protocol.PromoteMember:
		return r.handlePromoteMember(ctx, sess, f)
	case *protocol.DemoteMember:
		return r.handleDemoteMember(ctx, sess, f)
	case *protocol.LeaveGroup:
		return r.handleLeaveGroup(ctx, sess, f)
	case *protocol.DeleteGroup:
		return r.handleDeleteGroup(ctx, sess, f)
	case *protocol.RestoreGroup:
		return r.handleRestoreGroup(ctx, sess, f)
	case *protocol.SendGroupMessage:
		return r.handleSendGroupMessage(ctx, sess, f.GroupID, f.Content, f.ReplyTo, false)
	case *protocol.EditGroupMessage:
		return r.handleEditGroupMessage(ctx, sess, f)
	case *protocol.DeleteGroupMessage:
		return r.handleDeleteGroupMessage(ctx, sess, f)
	case *protocol.AddGroupReaction:
		return r.handleGroupReaction(ctx, sess, f.GroupID, f.MessageID, f.Emoji, true)
	case *protocol.RemoveGroupReaction:
		return r.handleGroupReaction(ctx, sess, f.GroupID, f.MessageID, f.Emoji, false)
	case *protocol.PinMessage:
		return r.handlePinMessage(ctx, sess, f)
	case *protocol.UnpinMessage:
		return r.handleUnpinMessage(ctx, sess, f)
	case *protocol.GetPinnedMessages:
		return r.handleGetPinnedMessages(ctx, sess, f)
	case *protocol.SendAnnouncement:
		return r.handleSendGroupMessage(ctx, sess, f.GroupID, f.Content, 0, true)
	case *protocol.UpdateGroupInfo:
		return r.handleUpdateGroupInfo(ctx, sess, f)
	case *protocol.GetGroupInfo:
		return r.handleGetGroupInfo(ctx, sess, f)
	case *protocol.GetGroupMembers:
		return r.handleGetGroupMembers(ctx, sess, f)
	case *protocol.GetGroupMessages:
		return r.handleGetGroupMessages(ctx, sess, f)
	case *protocol.GetOnlineUsers:
		return r.handleGetOnlineUsers(sess)
	case *protocol.GetUserGroups:
		return r.handleGetUserGroups(ctx, sess)
	case *protocol.Typing:
		return r.handleTyping(sess, f)
	case *protocol.Heartbeat:
		return r.handleHeartbeat(ctx, sess)
	}
	return apperr.ErrValidation.WithMessage("unhandled frame type: " + frame.FrameType())
}

// ============== 认证与连接生命周期 ==============

func (r *Router) handleAuthenticate(ctx context.Context, sess Session, f *protocol.Authenticate) {
	if sess.Authenticated() {
		r.replyError(sess, apperr.ErrValidation.WithMessage("session is already authenticated"))
		return
	}

	// 认证失败不关闭连接，客户端可换新 token 重试；
	// 一直未认证的连接由接入层的限时认证兜底关闭
	user, platform, err := r.authn.AuthenticateSession(ctx, f.Token)
	if err != nil {
		r.reply(sess, protocol.NewAuthErrorEvent(apperr.Code(err), apperr.Message(err)))
		return
	}

	if !sess.BindUser(user) {
		r.replyError(sess, apperr.ErrValidation.WithMessage("session is already authenticated"))
		return
	}
	sess.SetPlatform(platform)
	r.registry.Bind(sess)

	if r.locator != nil {
		if err := r.locator.RegisterUserLocation(ctx, user.ID, platform, sess.ID()); err != nil {
			r.logger.Warn("Failed to register user location", "user_id", user.ID, "error", err)
		}
	}

	r.logger.Info("Session authenticated", "session_id", sess.ID(), "user_id", user.ID)
	r.reply(sess, &protocol.AuthSuccessEvent{Type: protocol.EventAuthSuccess, User: user})
}

// Disconnect 会话断开时的清理
func (r *Router) Disconnect(ctx context.Context, sess Session) {
	r.registry.Remove(sess)
	if r.locator != nil && sess.Authenticated() {
		if err := r.locator.UnregisterUserLocation(ctx, sess.UserID(), sess.Platform()); err != nil {
			r.logger.Warn("Failed to unregister user location", "user_id", sess.UserID(), "error", err)
		}
	}
}

// ============== 在线与杂项 ==============

func (r *Router) handleGetOnlineUsers(sess Session) error {
	r.reply(sess, &protocol.OnlineUsersEvent{
		Type:    protocol.EventOnlineUsers,
		UserIDs: r.registry.OnlineUsers(),
	})
	return nil
}

func (r *Router) handleGetUserGroups(ctx context.Context, sess Session) error {
	groups, err := r.groups.UserGroups(ctx, sess.UserID())
	if err != nil {
		return err
	}
	r.reply(sess, &protocol.UserGroupsEvent{Type: protocol.EventUserGroups, Groups: groups})
	return nil
}

// handleHeartbeat 心跳续期。传输层有 QUIC keep-alive，
// 应用层心跳只负责刷新在线位置的 TTL
func (r *Router) handleHeartbeat(ctx context.Context, sess Session) error {
	if r.locator != nil {
		if err := r.locator.RefreshUserLocation(ctx, sess.UserID(), sess.Platform()); err != nil {
			r.logger.Warn("Failed to refresh user location", "user_id", sess.UserID(), "error", err)
		}
	}
	r.reply(sess, &protocol.HeartbeatAckEvent{Type: protocol.EventHeartbeatAck})
	return nil
}

func (r *Router) handleTyping(sess Session, f *protocol.Typing) error {
	r.broadcast([]int64{f.RecipientID}, &protocol.TypingEvent{
		Type:     protocol.EventTyping,
		SenderID: sess.UserID(),
		IsTyping: f.IsTyping,
	})
	return nil
}

// BroadcastCommunityProgression 外部 webhook 注入的社区进度事件
func (r *Router) BroadcastCommunityProgression(event *protocol.CommunityProgressionEvent) {
	event.Type = protocol.EventCommunityProgression
	r.broadcast([]int64{event.UserID}, event)
}

// ============== 投递 ==============

// reply 只发给请求方会话
func (r *Router) reply(sess Session, event any) {
	data, err := protocol.EncodeEvent(event)
	if err != nil {
		r.logger.Error("Failed to encode event", "error", err)
		return
	}
	sess.Send(data)
}

func (r *Router) replyError(sess Session, err error) {
	r.reply(sess, protocol.NewErrorEvent(apperr.Code(err), apperr.Message(err)))
}

// broadcast 向每个受影响用户的全部在线会话投递事件。
// 本地投递同步入队以保持会话内事件顺序；Send 不阻塞，
// 队列溢出的慢会话由会话层自行断开。跨节点转发经 worker 池异步发布
func (r *Router) broadcast(userIDs []int64, event any) {
	data, err := protocol.EncodeEvent(event)
	if err != nil {
		r.logger.Error("Failed to encode event", "error", err)
		return
	}

	r.deliverLocal(userIDs, data)

	if r.relay != nil {
		ids := append([]int64(nil), userIDs...)
		r.pool.Submit(func() {
			if err := r.relay.PublishBroadcast(ids, data); err != nil {
				r.logger.Error("Failed to relay broadcast", "error", err)
			}
		})
	}
}

func (r *Router) deliverLocal(userIDs []int64, data []byte) {
	for _, userID := range userIDs {
		for _, s := range r.registry.SessionsOf(userID) {
			s.Send(data)
		}
	}
}

// DeliverRemote 其他节点经 NATS 转发来的事件，只做本地投递
func (r *Router) DeliverRemote(userIDs []int64, event []byte) {
	r.deliverLocal(userIDs, event)
}

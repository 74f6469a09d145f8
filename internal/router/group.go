package router

import (
	"context"

	"github.com/EliteScore/chat-server/internal/model"
	"github.com/EliteScore/chat-server/internal/protocol"
)

// handleCreateGroup 建群。每个初始成员都要通过与私聊相同的准入检查：
// 创建者关注对方且双方无拉黑
func (r *Router) handleCreateGroup(ctx context.Context, sess Session, f *protocol.CreateGroup) error {
	members := make([]model.User, 0, len(f.Members))
	for _, memberID := range f.Members {
		if memberID == sess.UserID() {
			continue
		}
		user, err := r.users.Lookup(ctx, memberID)
		if err != nil {
			return err
		}
		if err := r.gate.CanInitiateDirectMessage(ctx, sess.UserID(), memberID); err != nil {
			return err
		}
		members = append(members, user)
	}

	group, roster, err := r.groups.CreateGroup(ctx, sess.User(), f.Name, f.Description, f.MaxMembers, members)
	if err != nil {
		return err
	}

	r.broadcast(memberIDs(roster), &protocol.GroupCreatedEvent{
		Type:    protocol.EventGroupCreated,
		Group:   *group,
		Members: roster,
	})
	return nil
}

func (r *Router) handleAddGroupMember(ctx context.Context, sess Session, f *protocol.AddGroupMember) error {
	user, err := r.users.Lookup(ctx, f.UserID)
	if err != nil {
		return err
	}
	added, err := r.groups.AddMember(ctx, f.GroupID, sess.UserID(), user)
	if err != nil {
		return err
	}

	ids, err := r.groups.MemberIDs(ctx, f.GroupID)
	if err != nil {
		return err
	}
	r.broadcast(ids, &protocol.MemberEvent{
		Type:    protocol.EventMemberAdded,
		GroupID: f.GroupID,
		Member:  added,
		UserID:  f.UserID,
	})
	return nil
}

func (r *Router) handleRemoveGroupMember(ctx context.Context, sess Session, f *protocol.RemoveGroupMember) error {
	// 被移除者也要收到事件，先取成员表
	ids, err := r.groups.MemberIDs(ctx, f.GroupID)
	if err != nil {
		return err
	}
	if err := r.groups.RemoveMember(ctx, f.GroupID, sess.UserID(), f.UserID); err != nil {
		return err
	}

	r.broadcast(ids, &protocol.MemberEvent{
		Type:    protocol.EventMemberRemoved,
		GroupID: f.GroupID,
		UserID:  f.UserID,
	})
	return nil
}

func (r *Router) handlePromoteMember(ctx context.Context, sess Session, f *protocol.PromoteMember) error {
	return r.changeRole(ctx, sess, f.GroupID, f.UserID, true)
}

func (r *Router) handleDemoteMember(ctx context.Context, sess Session, f *protocol.DemoteMember) error {
	return r.changeRole(ctx, sess, f.GroupID, f.UserID, false)
}

func (r *Router) changeRole(ctx context.Context, sess Session, groupID, userID int64, promote bool) error {
	var member *model.GroupMember
	var err error
	if promote {
		member, err = r.groups.PromoteMember(ctx, groupID, sess.UserID(), userID)
	} else {
		member, err = r.groups.DemoteMember(ctx, groupID, sess.UserID(), userID)
	}
	if err != nil {
		return err
	}

	ids, err := r.groups.MemberIDs(ctx, groupID)
	if err != nil {
		return err
	}
	eventType := protocol.EventMemberPromoted
	if !promote {
		eventType = protocol.EventMemberDemoted
	}
	r.broadcast(ids, &protocol.MemberEvent{
		Type:    eventType,
		GroupID: groupID,
		Member:  member,
		UserID:  userID,
	})
	return nil
}

func (r *Router) handleLeaveGroup(ctx context.Context, sess Session, f *protocol.LeaveGroup) error {
	ids, err := r.groups.MemberIDs(ctx, f.GroupID)
	if err != nil {
		return err
	}
	if err := r.groups.LeaveGroup(ctx, f.GroupID, sess.UserID()); err != nil {
		return err
	}

	r.broadcast(ids, &protocol.MemberEvent{
		Type:    protocol.EventMemberLeft,
		GroupID: f.GroupID,
		UserID:  sess.UserID(),
	})
	return nil
}

func (r *Router) handleDeleteGroup(ctx context.Context, sess Session, f *protocol.DeleteGroup) error {
	ids, err := r.groups.MemberIDs(ctx, f.GroupID)
	if err != nil {
		return err
	}
	if err := r.groups.DeleteGroup(ctx, f.GroupID, sess.UserID(), f.Permanent); err != nil {
		return err
	}

	r.broadcast(ids, &protocol.GroupDeletedEvent{
		Type:      protocol.EventGroupDeleted,
		GroupID:   f.GroupID,
		Permanent: f.Permanent,
	})
	return nil
}

func (r *Router) handleRestoreGroup(ctx context.Context, sess Session, f *protocol.RestoreGroup) error {
	group, err := r.groups.RestoreGroup(ctx, f.GroupID, sess.UserID())
	if err != nil {
		return err
	}

	ids, err := r.groups.MemberIDs(ctx, f.GroupID)
	if err != nil {
		return err
	}
	r.broadcast(ids, &protocol.GroupRestoredEvent{
		Type:  protocol.EventGroupRestored,
		Group: *group,
	})
	return nil
}

func (r *Router) handleSendGroupMessage(ctx context.Context, sess Session, groupID int64, content string, replyTo int64, announcement bool) error {
	msg, err := r.groups.SendMessage(ctx, groupID, sess.UserID(), content, replyTo, announcement)
	if err != nil {
		return err
	}

	ids, err := r.groups.MemberIDs(ctx, groupID)
	if err != nil {
		return err
	}
	eventType := protocol.EventGroupMessageSent
	if announcement {
		eventType = protocol.EventAnnouncementSent
	}
	r.broadcast(ids, &protocol.GroupMessageEvent{Type: eventType, Message: *msg})
	return nil
}

func (r *Router) handleEditGroupMessage(ctx context.Context, sess Session, f *protocol.EditGroupMessage) error {
	msg, err := r.groups.EditMessage(ctx, f.GroupID, sess.UserID(), f.MessageID, f.Content)
	if err != nil {
		return err
	}

	ids, err := r.groups.MemberIDs(ctx, f.GroupID)
	if err != nil {
		return err
	}
	r.broadcast(ids, &protocol.GroupMessageEvent{
		Type:    protocol.EventGroupMessageEdited,
		Message: *msg,
	})
	return nil
}

func (r *Router) handleDeleteGroupMessage(ctx context.Context, sess Session, f *protocol.DeleteGroupMessage) error {
	if _, err := r.groups.DeleteMessage(ctx, f.GroupID, sess.UserID(), f.MessageID, f.DeleteForEveryone); err != nil {
		return err
	}

	ids, err := r.groups.MemberIDs(ctx, f.GroupID)
	if err != nil {
		return err
	}
	r.broadcast(ids, &protocol.GroupMessageDeletedEvent{
		Type:              protocol.EventGroupMessageDeleted,
		GroupID:           f.GroupID,
		MessageID:         f.MessageID,
		DeleteForEveryone: f.DeleteForEveryone,
	})
	return nil
}

func (r *Router) handleGroupReaction(ctx context.Context, sess Session, groupID, messageID int64, emoji string, add bool) error {
	var changed bool
	var err error
	if add {
		_, changed, err = r.groups.AddReaction(ctx, groupID, sess.UserID(), messageID, emoji)
	} else {
		_, changed, err = r.groups.RemoveReaction(ctx, groupID, sess.UserID(), messageID, emoji)
	}
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	ids, err := r.groups.MemberIDs(ctx, groupID)
	if err != nil {
		return err
	}
	eventType := protocol.EventGroupReactionAdded
	if !add {
		eventType = protocol.EventGroupReactionRemoved
	}
	r.broadcast(ids, &protocol.ReactionEvent{
		Type:      eventType,
		GroupID:   groupID,
		MessageID: messageID,
		UserID:    sess.UserID(),
		Emoji:     emoji,
	})
	return nil
}

func (r *Router) handlePinMessage(ctx context.Context, sess Session, f *protocol.PinMessage) error {
	msg, _, err := r.groups.PinMessage(ctx, f.GroupID, sess.UserID(), f.MessageID)
	if err != nil {
		return err
	}

	ids, err := r.groups.MemberIDs(ctx, f.GroupID)
	if err != nil {
		return err
	}
	r.broadcast(ids, &protocol.MessagePinnedEvent{
		Type:    protocol.EventMessagePinned,
		GroupID: f.GroupID,
		Message: *msg,
	})
	return nil
}

func (r *Router) handleUnpinMessage(ctx context.Context, sess Session, f *protocol.UnpinMessage) error {
	messageID, err := r.groups.UnpinMessage(ctx, f.GroupID, sess.UserID())
	if err != nil {
		return err
	}
	// 本就没有置顶时无事发生
	if messageID == 0 {
		return nil
	}

	ids, err := r.groups.MemberIDs(ctx, f.GroupID)
	if err != nil {
		return err
	}
	r.broadcast(ids, &protocol.MessageUnpinnedEvent{
		Type:      protocol.EventMessageUnpinned,
		GroupID:   f.GroupID,
		MessageID: messageID,
	})
	return nil
}

func (r *Router) handleGetPinnedMessages(ctx context.Context, sess Session, f *protocol.GetPinnedMessages) error {
	messages, err := r.groups.PinnedMessages(ctx, f.GroupID, sess.UserID())
	if err != nil {
		return err
	}
	r.reply(sess, &protocol.PinnedMessagesEvent{
		Type:     protocol.EventPinnedMessages,
		GroupID:  f.GroupID,
		Messages: messages,
	})
	return nil
}

func (r *Router) handleUpdateGroupInfo(ctx context.Context, sess Session, f *protocol.UpdateGroupInfo) error {
	group, err := r.groups.UpdateInfo(ctx, f.GroupID, sess.UserID(), f.Name, f.Description, f.MaxMembers)
	if err != nil {
		return err
	}

	ids, err := r.groups.MemberIDs(ctx, f.GroupID)
	if err != nil {
		return err
	}
	r.broadcast(ids, &protocol.GroupUpdatedEvent{
		Type:  protocol.EventGroupUpdated,
		Group: *group,
	})
	return nil
}

func (r *Router) handleGetGroupInfo(ctx context.Context, sess Session, f *protocol.GetGroupInfo) error {
	group, members, err := r.groups.GroupInfo(ctx, f.GroupID, sess.UserID())
	if err != nil {
		return err
	}
	r.reply(sess, &protocol.GroupInfoEvent{
		Type:    protocol.EventGroupInfo,
		Group:   *group,
		Members: members,
	})
	return nil
}

func (r *Router) handleGetGroupMembers(ctx context.Context, sess Session, f *protocol.GetGroupMembers) error {
	members, err := r.groups.Members(ctx, f.GroupID, sess.UserID())
	if err != nil {
		return err
	}
	r.reply(sess, &protocol.GroupMembersEvent{
		Type:    protocol.EventGroupMembers,
		GroupID: f.GroupID,
		Members: members,
	})
	return nil
}

func (r *Router) handleGetGroupMessages(ctx context.Context, sess Session, f *protocol.GetGroupMessages) error {
	messages, err := r.groups.Messages(ctx, f.GroupID, sess.UserID())
	if err != nil {
		return err
	}
	r.reply(sess, &protocol.GroupMessagesEvent{
		Type:     protocol.EventGroupMessages,
		GroupID:  f.GroupID,
		Messages: messages,
	})
	return nil
}

func memberIDs(members []*model.GroupMember) []int64 {
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.UserID)
	}
	return ids
}

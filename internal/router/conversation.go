package router

import (
	"context"

	"github.com/EliteScore/chat-server/internal/model"
	"github.com/EliteScore/chat-server/internal/protocol"
)

func participants(conv *model.Conversation) []int64 {
	return []int64{conv.UserA, conv.UserB}
}

// handleStartConversation 发起私聊。关系门只在发起时检查一次，
// 已有会话不随关注关系变化回收
func (r *Router) handleStartConversation(ctx context.Context, sess Session, f *protocol.StartConversation) error {
	if _, err := r.users.Lookup(ctx, f.RecipientID); err != nil {
		return err
	}
	if err := r.gate.CanInitiateDirectMessage(ctx, sess.UserID(), f.RecipientID); err != nil {
		return err
	}

	conv, _, err := r.convs.Start(ctx, sess.UserID(), f.RecipientID)
	if err != nil {
		return err
	}

	r.broadcast(participants(conv), &protocol.ConversationStartedEvent{
		Type:         protocol.EventConversationStarted,
		Conversation: *conv,
	})
	return nil
}

func (r *Router) handleSendPrivateMessage(ctx context.Context, sess Session, f *protocol.SendPrivateMessage) error {
	conv, err := r.convs.Conversation(ctx, f.ConversationID, sess.UserID())
	if err != nil {
		return err
	}
	msg, err := r.convs.SendMessage(ctx, f.ConversationID, sess.UserID(), f.Content, f.ReplyTo)
	if err != nil {
		return err
	}

	r.broadcast(participants(conv), &protocol.PrivateMessageEvent{
		Type:    protocol.EventPrivateMessage,
		Message: *msg,
	})
	return nil
}

func (r *Router) handleEditPrivateMessage(ctx context.Context, sess Session, f *protocol.EditPrivateMessage) error {
	conv, err := r.convs.Conversation(ctx, f.ConversationID, sess.UserID())
	if err != nil {
		return err
	}
	msg, err := r.convs.EditMessage(ctx, f.ConversationID, sess.UserID(), f.MessageID, f.Content)
	if err != nil {
		return err
	}

	r.broadcast(participants(conv), &protocol.PrivateMessageEditedEvent{
		Type:    protocol.EventPrivateMessageEdited,
		Message: *msg,
	})
	return nil
}

func (r *Router) handleDeletePrivateMessage(ctx context.Context, sess Session, f *protocol.DeletePrivateMessage) error {
	conv, err := r.convs.Conversation(ctx, f.ConversationID, sess.UserID())
	if err != nil {
		return err
	}
	if _, err := r.convs.DeleteMessage(ctx, f.ConversationID, sess.UserID(), f.MessageID); err != nil {
		return err
	}

	r.broadcast(participants(conv), &protocol.PrivateMessageDeletedEvent{
		Type:           protocol.EventPrivateMessageDeleted,
		ConversationID: f.ConversationID,
		MessageID:      f.MessageID,
	})
	return nil
}

func (r *Router) handleDeleteConversation(ctx context.Context, sess Session, f *protocol.DeleteConversation) error {
	conv, err := r.convs.DeleteConversation(ctx, f.ConversationID, sess.UserID(), f.DeleteForEveryone)
	if err != nil {
		return err
	}

	event := &protocol.ConversationDeletedEvent{
		Type:           protocol.EventConversationDeleted,
		ConversationID: f.ConversationID,
		ForEveryone:    f.DeleteForEveryone,
	}
	if f.DeleteForEveryone {
		r.broadcast(participants(conv), event)
	} else {
		// 单方隐藏只通知调用者自己的会话
		r.broadcast([]int64{sess.UserID()}, event)
	}
	return nil
}

func (r *Router) handleGetConversations(ctx context.Context, sess Session) error {
	convs, err := r.convs.Conversations(ctx, sess.UserID())
	if err != nil {
		return err
	}
	r.reply(sess, &protocol.ConversationsEvent{
		Type:          protocol.EventConversations,
		Conversations: convs,
	})
	return nil
}

func (r *Router) handleGetPrivateMessages(ctx context.Context, sess Session, f *protocol.GetPrivateMessages) error {
	messages, err := r.convs.Messages(ctx, f.ConversationID, sess.UserID())
	if err != nil {
		return err
	}
	r.reply(sess, &protocol.PrivateMessagesEvent{
		Type:           protocol.EventPrivateMessages,
		ConversationID: f.ConversationID,
		Messages:       messages,
	})
	return nil
}

func (r *Router) handleMarkMessageRead(ctx context.Context, sess Session, f *protocol.MarkMessageRead) error {
	conv, err := r.convs.Conversation(ctx, f.ConversationID, sess.UserID())
	if err != nil {
		return err
	}
	if _, err := r.convs.MarkRead(ctx, f.ConversationID, sess.UserID(), f.MessageID); err != nil {
		return err
	}

	r.broadcast(participants(conv), &protocol.MessageReadEvent{
		Type:           protocol.EventMessageRead,
		ConversationID: f.ConversationID,
		MessageID:      f.MessageID,
		ReaderID:       sess.UserID(),
	})
	return nil
}

func (r *Router) handleReaction(ctx context.Context, sess Session, conversationID, messageID int64, emoji string, add bool) error {
	conv, err := r.convs.Conversation(ctx, conversationID, sess.UserID())
	if err != nil {
		return err
	}

	var changed bool
	if add {
		_, changed, err = r.convs.AddReaction(ctx, conversationID, sess.UserID(), messageID, emoji)
	} else {
		_, changed, err = r.convs.RemoveReaction(ctx, conversationID, sess.UserID(), messageID, emoji)
	}
	if err != nil {
		return err
	}
	// 幂等空操作不广播
	if !changed {
		return nil
	}

	eventType := protocol.EventReactionAdded
	if !add {
		eventType = protocol.EventReactionRemoved
	}
	r.broadcast(participants(conv), &protocol.ReactionEvent{
		Type:           eventType,
		ConversationID: conversationID,
		MessageID:      messageID,
		UserID:         sess.UserID(),
		Emoji:          emoji,
	})
	return nil
}

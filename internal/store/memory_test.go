package store

import (
	"context"
	"testing"
	"time"

	"github.com/EliteScore/chat-server/internal/apperr"
	"github.com/EliteScore/chat-server/internal/model"
	"github.com/EliteScore/chat-server/internal/snowflake"
)

var (
	user1 = model.User{ID: 1, Username: "user1"}
	user2 = model.User{ID: 2, Username: "user2"}
	user3 = model.User{ID: 3, Username: "user3"}
	user4 = model.User{ID: 4, Username: "user4"}
)

func newStore() *Memory {
	return NewMemory(snowflake.NewNode(1), 50)
}

func wantCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("Expected %s, got nil", code)
	}
	if apperr.Code(err) != code {
		t.Fatalf("Expected %s, got %v", code, err)
	}
}

// ============== 私聊会话 ==============

func TestStart_Idempotent(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	first, created, err := s.Start(ctx, 1, 2)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !created {
		t.Error("Expected first start to create the conversation")
	}

	// 反向发起复用同一条记录
	second, created, err := s.Start(ctx, 2, 1)
	if err != nil {
		t.Fatalf("Second start failed: %v", err)
	}
	if created {
		t.Error("Expected second start to reuse the conversation")
	}
	if first.ID != second.ID {
		t.Errorf("Expected same conversation, got %d and %d", first.ID, second.ID)
	}
	if first.UserA != 1 || first.UserB != 2 {
		t.Errorf("Expected canonical pair (1,2), got (%d,%d)", first.UserA, first.UserB)
	}
}

func TestConversation_NonParticipant(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	conv, _, _ := s.Start(ctx, 1, 2)

	_, err := s.Conversation(ctx, conv.ID, 3)
	wantCode(t, err, apperr.CodeNotFound)

	_, err = s.SendMessage(ctx, conv.ID, 3, "hi", 0)
	wantCode(t, err, apperr.CodeNotFound)
}

func TestPrivateMessage_Lifecycle(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	conv, _, _ := s.Start(ctx, 1, 2)

	msg, err := s.SendMessage(ctx, conv.ID, 1, "hello", 0)
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	// 仅发送者可编辑
	_, err = s.EditMessage(ctx, conv.ID, 2, msg.ID, "hacked")
	wantCode(t, err, apperr.CodeInsufficientPerm)

	edited, err := s.EditMessage(ctx, conv.ID, 1, msg.ID, "hello again")
	if err != nil {
		t.Fatalf("EditMessage failed: %v", err)
	}
	if edited.Content != "hello again" || edited.EditedAt == nil {
		t.Errorf("Expected edited content with timestamp, got %+v", edited)
	}

	// 删除后墓碑化，位置保留
	reply, _ := s.SendMessage(ctx, conv.ID, 2, "reply", msg.ID)
	deleted, err := s.DeleteMessage(ctx, conv.ID, 1, msg.ID)
	if err != nil {
		t.Fatalf("DeleteMessage failed: %v", err)
	}
	if !deleted.Deleted || deleted.Content != "" {
		t.Errorf("Expected tombstone, got %+v", deleted)
	}

	messages, _ := s.Messages(ctx, conv.ID, 2)
	if len(messages) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(messages))
	}
	if messages[0].ID != msg.ID || !messages[0].Deleted {
		t.Error("Expected tombstone to keep its position")
	}
	if messages[1].ID != reply.ID {
		t.Error("Expected reply after tombstone")
	}

	// 墓碑不可再编辑
	_, err = s.EditMessage(ctx, conv.ID, 1, msg.ID, "resurrect")
	wantCode(t, err, apperr.CodeNotFound)
}

func TestDeleteConversation_TwoTier(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	conv, _, _ := s.Start(ctx, 1, 2)
	s.SendMessage(ctx, conv.ID, 1, "hi", 0)

	// 单方删除只影响调用者
	if _, err := s.DeleteConversation(ctx, conv.ID, 1, false); err != nil {
		t.Fatalf("DeleteConversation failed: %v", err)
	}
	_, err := s.Conversation(ctx, conv.ID, 1)
	wantCode(t, err, apperr.CodeNotFound)
	if _, err := s.Conversation(ctx, conv.ID, 2); err != nil {
		t.Fatalf("Expected other participant to keep access: %v", err)
	}

	// 重新发起会话撤销隐藏并复用记录
	again, created, _ := s.Start(ctx, 1, 2)
	if created || again.ID != conv.ID {
		t.Error("Expected restart to reuse the hidden conversation")
	}
	if _, err := s.Conversation(ctx, conv.ID, 1); err != nil {
		t.Fatalf("Expected restart to unhide: %v", err)
	}

	// 双方删除后对所有人不可见
	if _, err := s.DeleteConversation(ctx, conv.ID, 2, true); err != nil {
		t.Fatalf("DeleteConversation forEveryone failed: %v", err)
	}
	_, err = s.Conversation(ctx, conv.ID, 2)
	wantCode(t, err, apperr.CodeNotFound)
	_, err = s.Conversation(ctx, conv.ID, 1)
	wantCode(t, err, apperr.CodeNotFound)
}

func TestMarkRead(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	conv, _, _ := s.Start(ctx, 1, 2)
	msg, _ := s.SendMessage(ctx, conv.ID, 1, "hi", 0)

	_, err := s.MarkRead(ctx, conv.ID, 1, msg.ID)
	wantCode(t, err, apperr.CodeValidation)

	read, err := s.MarkRead(ctx, conv.ID, 2, msg.ID)
	if err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	if read.ReadAt == nil {
		t.Fatal("Expected readAt to be set")
	}

	// 重复标记不改变首次已读时间
	first := *read.ReadAt
	again, _ := s.MarkRead(ctx, conv.ID, 2, msg.ID)
	if !again.ReadAt.Equal(first) {
		t.Error("Expected repeated markRead to keep the original timestamp")
	}
}

func TestPrivateReactions_Idempotent(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	conv, _, _ := s.Start(ctx, 1, 2)
	msg, _ := s.SendMessage(ctx, conv.ID, 1, "hi", 0)

	_, changed, err := s.AddReaction(ctx, conv.ID, 2, msg.ID, "👍")
	if err != nil || !changed {
		t.Fatalf("Expected reaction to be added, changed=%v err=%v", changed, err)
	}

	// 重复添加是空操作
	updated, changed, _ := s.AddReaction(ctx, conv.ID, 2, msg.ID, "👍")
	if changed {
		t.Error("Expected re-adding the same reaction to be a no-op")
	}
	if len(updated.Reactions) != 1 || len(updated.Reactions[0].UserIDs) != 1 {
		t.Errorf("Expected single reaction entry, got %+v", updated.Reactions)
	}

	// 移除不存在的反应也是空操作
	_, changed, _ = s.RemoveReaction(ctx, conv.ID, 1, msg.ID, "👍")
	if changed {
		t.Error("Expected removing an absent reaction to be a no-op")
	}

	updated, changed, _ = s.RemoveReaction(ctx, conv.ID, 2, msg.ID, "👍")
	if !changed || len(updated.Reactions) != 0 {
		t.Errorf("Expected reaction removed, changed=%v reactions=%+v", changed, updated.Reactions)
	}
}

func TestConversations_ExcludesHidden(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	c12, _, _ := s.Start(ctx, 1, 2)
	c13, _, _ := s.Start(ctx, 1, 3)

	// user1 单方隐藏与 user3 的会话
	if _, err := s.DeleteConversation(ctx, c13.ID, 1, false); err != nil {
		t.Fatalf("DeleteConversation failed: %v", err)
	}

	convs, err := s.Conversations(ctx, 1)
	if err != nil {
		t.Fatalf("Conversations failed: %v", err)
	}
	if len(convs) != 1 || convs[0].ID != c12.ID {
		t.Fatalf("Expected only conversation %d, got %+v", c12.ID, convs)
	}

	// 对方未隐藏，仍能看到
	convs, _ = s.Conversations(ctx, 3)
	if len(convs) != 1 || convs[0].ID != c13.ID {
		t.Fatalf("Expected user3 to still see conversation %d, got %+v", c13.ID, convs)
	}
}

// ============== 群组 ==============

func TestCreateGroup(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	group, members, err := s.CreateGroup(ctx, user1, "squad", "", 0, []model.User{user2, user3})
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	if group.MaxMembers != model.DefaultMaxMembers {
		t.Errorf("Expected default max %d, got %d", model.DefaultMaxMembers, group.MaxMembers)
	}
	if group.OwnerID != 1 || !group.IsActive {
		t.Errorf("Unexpected group state: %+v", group)
	}
	if len(members) != 3 {
		t.Fatalf("Expected 3 members, got %d", len(members))
	}
	if members[0].UserID != 1 || members[0].Role != model.RoleOwner {
		t.Errorf("Expected creator as owner, got %+v", members[0])
	}
	if members[1].Role != model.RoleMember || members[2].Role != model.RoleMember {
		t.Error("Expected initial members to join as member")
	}
}

func TestCreateGroup_TooManyMembers(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	members := make([]model.User, 50)
	for i := range members {
		members[i] = model.User{ID: int64(i + 10), Username: "u"}
	}

	_, _, err := s.CreateGroup(ctx, user1, "big", "", 0, members)
	wantCode(t, err, apperr.CodeTooManyMembers)

	// 申请的上限超过服务端限制
	_, _, err = s.CreateGroup(ctx, user1, "huge", "", 500, nil)
	wantCode(t, err, apperr.CodeValidation)
}

func TestAddMember_GroupFull(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	group, _, _ := s.CreateGroup(ctx, user1, "trio", "", 3, []model.User{user2, user3})

	_, err := s.AddMember(ctx, group.ID, 1, user4)
	wantCode(t, err, apperr.CodeGroupFull)

	// 拒绝后成员表不变
	members, _ := s.Members(ctx, group.ID, 1)
	if len(members) != 3 {
		t.Errorf("Expected roster unchanged at 3, got %d", len(members))
	}
}

func TestAddMember_Permissions(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	group, _, _ := s.CreateGroup(ctx, user1, "squad", "", 0, []model.User{user2})

	// 普通成员不能拉人
	_, err := s.AddMember(ctx, group.ID, 2, user3)
	wantCode(t, err, apperr.CodeInsufficientPerm)

	// 提升为 admin 后可以
	if _, err := s.PromoteMember(ctx, group.ID, 1, 2); err != nil {
		t.Fatalf("PromoteMember failed: %v", err)
	}
	if _, err := s.AddMember(ctx, group.ID, 2, user3); err != nil {
		t.Fatalf("Expected admin to add members: %v", err)
	}

	_, err = s.AddMember(ctx, group.ID, 1, user3)
	wantCode(t, err, apperr.CodeValidation)
}

func TestPromoteDemote_OwnerOnly(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	group, _, _ := s.CreateGroup(ctx, user1, "squad", "", 0, []model.User{user2, user3})

	promoted, err := s.PromoteMember(ctx, group.ID, 1, 2)
	if err != nil {
		t.Fatalf("PromoteMember failed: %v", err)
	}
	if promoted.Role != model.RoleAdmin {
		t.Errorf("Expected admin, got %s", promoted.Role)
	}

	// admin 不能提升他人
	_, err = s.PromoteMember(ctx, group.ID, 2, 3)
	wantCode(t, err, apperr.CodeInsufficientPerm)

	// 拒绝后角色不变
	members, _ := s.Members(ctx, group.ID, 1)
	for _, m := range members {
		if m.UserID == 3 && m.Role != model.RoleMember {
			t.Errorf("Expected user3 to stay member, got %s", m.Role)
		}
	}

	demoted, err := s.DemoteMember(ctx, group.ID, 1, 2)
	if err != nil {
		t.Fatalf("DemoteMember failed: %v", err)
	}
	if demoted.Role != model.RoleMember {
		t.Errorf("Expected member, got %s", demoted.Role)
	}

	// demote 仅作用于 admin
	_, err = s.DemoteMember(ctx, group.ID, 1, 3)
	wantCode(t, err, apperr.CodeValidation)
}

func TestRemoveMember_Permissions(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	group, _, _ := s.CreateGroup(ctx, user1, "squad", "", 0, []model.User{user2, user3, user4})
	s.PromoteMember(ctx, group.ID, 1, 2)
	s.PromoteMember(ctx, group.ID, 1, 3)

	// admin 不能移除 admin 或 owner
	err := s.RemoveMember(ctx, group.ID, 2, 3)
	wantCode(t, err, apperr.CodeInsufficientPerm)
	err = s.RemoveMember(ctx, group.ID, 2, 1)
	wantCode(t, err, apperr.CodeInsufficientPerm)

	// admin 可以移除普通成员，owner 可以移除 admin
	if err := s.RemoveMember(ctx, group.ID, 2, 4); err != nil {
		t.Fatalf("Expected admin to remove a member: %v", err)
	}
	if err := s.RemoveMember(ctx, group.ID, 1, 3); err != nil {
		t.Fatalf("Expected owner to remove an admin: %v", err)
	}
}

func TestLeaveGroup(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	group, _, _ := s.CreateGroup(ctx, user1, "squad", "", 0, []model.User{user2})

	err := s.LeaveGroup(ctx, group.ID, 1)
	wantCode(t, err, apperr.CodeOwnerCannotLeave)

	if err := s.LeaveGroup(ctx, group.ID, 2); err != nil {
		t.Fatalf("LeaveGroup failed: %v", err)
	}
	members, _ := s.Members(ctx, group.ID, 1)
	if len(members) != 1 {
		t.Errorf("Expected only the owner to remain, got %d members", len(members))
	}
}

func TestDeleteGroup_Lifecycle(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	group, _, _ := s.CreateGroup(ctx, user1, "squad", "", 0, []model.User{user2})
	s.SendMessage(ctx, group.ID, 1, "hi", 0, false)

	// 仅 owner 可删
	err := s.DeleteGroup(ctx, group.ID, 2, false)
	wantCode(t, err, apperr.CodeInsufficientPerm)

	if err := s.DeleteGroup(ctx, group.ID, 1, false); err != nil {
		t.Fatalf("Soft delete failed: %v", err)
	}

	// 软删除：记录仍可查，不可写
	info, _, err := s.GroupInfo(ctx, group.ID, 1)
	if err != nil {
		t.Fatalf("Expected soft-deleted group to stay queryable: %v", err)
	}
	if info.IsActive || info.DeletedAt == nil {
		t.Errorf("Expected inactive group with deletedAt, got %+v", info)
	}
	_, err = s.SendMessage(ctx, group.ID, 1, "hi again", 0, false)
	wantCode(t, err, apperr.CodeNotFound)

	// 保留期内 owner 可恢复
	_, err = s.RestoreGroup(ctx, group.ID, 2)
	wantCode(t, err, apperr.CodeInsufficientPerm)
	restored, err := s.RestoreGroup(ctx, group.ID, 1)
	if err != nil {
		t.Fatalf("RestoreGroup failed: %v", err)
	}
	if !restored.IsActive || restored.DeletedAt != nil {
		t.Errorf("Expected active group after restore, got %+v", restored)
	}
	if _, err := s.SendMessage(ctx, group.ID, 1, "back", 0, false); err != nil {
		t.Fatalf("Expected restored group to be writable: %v", err)
	}

	// 物理删除后不留痕迹
	if err := s.DeleteGroup(ctx, group.ID, 1, true); err != nil {
		t.Fatalf("Permanent delete failed: %v", err)
	}
	_, _, err = s.GroupInfo(ctx, group.ID, 1)
	wantCode(t, err, apperr.CodeNotFound)
}

func TestPurgeExpired(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	expired, _, _ := s.CreateGroup(ctx, user1, "old", "", 0, nil)
	fresh, _, _ := s.CreateGroup(ctx, user1, "new", "", 0, nil)
	s.DeleteGroup(ctx, expired.ID, 1, false)
	s.DeleteGroup(ctx, fresh.ID, 1, false)

	// 把第一个群的删除时间拨回保留期之外
	past := time.Now().Add(-model.GroupRetention - time.Hour)
	s.groups[expired.ID].group.DeletedAt = &past

	purged, err := s.PurgeExpired(ctx, time.Now().Add(-model.GroupRetention))
	if err != nil {
		t.Fatalf("PurgeExpired failed: %v", err)
	}
	if purged != 1 {
		t.Errorf("Expected 1 purged group, got %d", purged)
	}
	if _, _, err := s.GroupInfo(ctx, expired.ID, 1); apperr.Code(err) != apperr.CodeNotFound {
		t.Error("Expected expired group to be gone")
	}
	if _, _, err := s.GroupInfo(ctx, fresh.ID, 1); err != nil {
		t.Errorf("Expected fresh soft-deleted group to survive: %v", err)
	}

	// 仍在保留期内的群可以恢复
	if _, err = s.RestoreGroup(ctx, fresh.ID, 1); err != nil {
		t.Fatalf("Expected fresh group restorable: %v", err)
	}
}

func TestGroupMessage_Mentions(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	group, _, _ := s.CreateGroup(ctx, user1, "squad", "", 0, []model.User{user2, user3})

	msg, err := s.SendMessage(ctx, group.ID, 1, "@user2 hi @everyone", 0, false)
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if len(msg.Mentions) != 2 {
		t.Fatalf("Expected 2 mentions, got %v", msg.Mentions)
	}
	if msg.Mentions[0] != 2 || msg.Mentions[1] != model.MentionEveryone {
		t.Errorf("Expected [2, everyone], got %v", msg.Mentions)
	}

	// 非成员的 @ 保持为普通文本
	plain, _ := s.SendMessage(ctx, group.ID, 1, "ping @stranger", 0, false)
	if len(plain.Mentions) != 0 {
		t.Errorf("Expected no mentions, got %v", plain.Mentions)
	}
	if plain.Content != "ping @stranger" {
		t.Errorf("Expected content untouched, got %q", plain.Content)
	}
}

func TestGroupMessage_ModerationDelete(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	group, _, _ := s.CreateGroup(ctx, user1, "squad", "", 0, []model.User{user2, user3})
	msg, _ := s.SendMessage(ctx, group.ID, 2, "spam", 0, false)

	// 普通成员不能删别人的消息
	_, err := s.DeleteMessage(ctx, group.ID, 3, msg.ID, false)
	wantCode(t, err, apperr.CodeInsufficientPerm)

	// owner 可以
	deleted, err := s.DeleteMessage(ctx, group.ID, 1, msg.ID, false)
	if err != nil {
		t.Fatalf("Moderation delete failed: %v", err)
	}
	if !deleted.Deleted {
		t.Error("Expected tombstone")
	}

	// forEveryone 物理移除
	msg2, _ := s.SendMessage(ctx, group.ID, 2, "more spam", 0, false)
	if _, err := s.DeleteMessage(ctx, group.ID, 2, msg2.ID, true); err != nil {
		t.Fatalf("Delete forEveryone failed: %v", err)
	}
	messages, _ := s.Messages(ctx, group.ID, 1)
	for _, m := range messages {
		if m.ID == msg2.ID {
			t.Error("Expected message fully removed")
		}
	}
}

func TestPinMessage_ReplaceOnPin(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	group, _, _ := s.CreateGroup(ctx, user1, "squad", "", 0, []model.User{user2})
	first, _ := s.SendMessage(ctx, group.ID, 1, "first", 0, false)
	second, _ := s.SendMessage(ctx, group.ID, 1, "second", 0, false)

	// 普通成员不能置顶
	_, _, err := s.PinMessage(ctx, group.ID, 2, first.ID)
	wantCode(t, err, apperr.CodeInsufficientPerm)

	pinned, previous, err := s.PinMessage(ctx, group.ID, 1, first.ID)
	if err != nil {
		t.Fatalf("PinMessage failed: %v", err)
	}
	if previous != 0 || !pinned.Pinned {
		t.Errorf("Expected fresh pin, previous=%d", previous)
	}

	// 新置顶替换旧置顶
	_, previous, err = s.PinMessage(ctx, group.ID, 1, second.ID)
	if err != nil {
		t.Fatalf("Second pin failed: %v", err)
	}
	if previous != first.ID {
		t.Errorf("Expected previous pin %d, got %d", first.ID, previous)
	}

	list, _ := s.PinnedMessages(ctx, group.ID, 2)
	if len(list) != 1 || list[0].ID != second.ID {
		t.Errorf("Expected single pinned message %d, got %+v", second.ID, list)
	}

	unpinned, err := s.UnpinMessage(ctx, group.ID, 1)
	if err != nil {
		t.Fatalf("UnpinMessage failed: %v", err)
	}
	if unpinned != second.ID {
		t.Errorf("Expected unpinned %d, got %d", second.ID, unpinned)
	}
	if list, _ := s.PinnedMessages(ctx, group.ID, 1); len(list) != 0 {
		t.Errorf("Expected no pinned messages, got %+v", list)
	}
}

func TestAnnouncement_AdminOnly(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	group, _, _ := s.CreateGroup(ctx, user1, "squad", "", 0, []model.User{user2})

	_, err := s.SendMessage(ctx, group.ID, 2, "big news", 0, true)
	wantCode(t, err, apperr.CodeInsufficientPerm)

	msg, err := s.SendMessage(ctx, group.ID, 1, "big news", 0, true)
	if err != nil {
		t.Fatalf("Announcement failed: %v", err)
	}
	if !msg.Announcement {
		t.Error("Expected announcement flag")
	}
}

func TestUpdateGroupInfo(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	group, _, _ := s.CreateGroup(ctx, user1, "squad", "old", 0, []model.User{user2, user3})

	name := "renamed"
	_, err := s.UpdateInfo(ctx, group.ID, 2, &name, nil, nil)
	wantCode(t, err, apperr.CodeInsufficientPerm)

	smaller := 2
	_, err = s.UpdateInfo(ctx, group.ID, 1, nil, nil, &smaller)
	wantCode(t, err, apperr.CodeValidation)

	bigger := 20
	updated, err := s.UpdateInfo(ctx, group.ID, 1, &name, nil, &bigger)
	if err != nil {
		t.Fatalf("UpdateInfo failed: %v", err)
	}
	if updated.Name != "renamed" || updated.MaxMembers != 20 || updated.Description != "old" {
		t.Errorf("Unexpected group after update: %+v", updated)
	}
}

func TestUserGroups(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	active, _, _ := s.CreateGroup(ctx, user1, "active", "", 0, []model.User{user2})
	deleted, _, _ := s.CreateGroup(ctx, user1, "deleted", "", 0, nil)
	s.CreateGroup(ctx, user3, "other", "", 0, nil)
	s.DeleteGroup(ctx, deleted.ID, 1, false)

	groups, err := s.UserGroups(ctx, 1)
	if err != nil {
		t.Fatalf("UserGroups failed: %v", err)
	}
	if len(groups) != 1 || groups[0].ID != active.ID {
		t.Errorf("Expected only the active group, got %+v", groups)
	}
}

func TestParseMentions(t *testing.T) {
	roster := map[string]int64{"user1": 1, "user2": 2}

	tests := []struct {
		content string
		want    []int64
	}{
		{"no mentions here", nil},
		{"@user2 hi @everyone", []int64{2, model.MentionEveryone}},
		{"@user2 @user2 twice", []int64{2}},
		{"@unknown is not resolved", nil},
		{"mail me at a@user1.example", nil}, // 贪婪匹配出的 token 不在成员表中
	}

	for _, tt := range tests {
		got := ParseMentions(tt.content, roster)
		if len(got) != len(tt.want) {
			t.Errorf("%q: expected %v, got %v", tt.content, tt.want, got)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("%q: expected %v, got %v", tt.content, tt.want, got)
			}
		}
	}
}

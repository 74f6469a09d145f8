package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/EliteScore/chat-server/internal/apperr"
	"github.com/EliteScore/chat-server/internal/keylock"
	"github.com/EliteScore/chat-server/internal/model"
	"github.com/EliteScore/chat-server/internal/snowflake"
)

// Memory 内存存储，实现 ConversationStore 与 GroupStore。
// 单机部署与测试使用。索引表由 mu 保护；单条记录的字段访问
// 全部经过按记录 ID 的键锁串行化，互不相关的记录完全并发
type Memory struct {
	node        *snowflake.Node
	maxGroupCap int
	locks       *keylock.KeyLock

	mu            sync.RWMutex
	conversations map[int64]*memConversation
	pairIndex     map[[2]int64]int64
	groups        map[int64]*memGroup
}

type memConversation struct {
	conv     model.Conversation
	messages []*model.Message
	hidden   map[int64]bool
}

type memGroup struct {
	group    model.Group
	members  map[int64]*model.GroupMember
	order    []int64
	messages []*model.Message
	pinned   int64
}

var (
	_ ConversationStore = (*Memory)(nil)
	_ GroupStore        = (*Memory)(nil)
)

// NewMemory 创建内存存储。maxGroupCap 是建群时可申请的人数上限的上限
func NewMemory(node *snowflake.Node, maxGroupCap int) *Memory {
	return &Memory{
		node:          node,
		maxGroupCap:   maxGroupCap,
		locks:         keylock.New(),
		conversations: make(map[int64]*memConversation),
		pairIndex:     make(map[[2]int64]int64),
		groups:        make(map[int64]*memGroup),
	}
}

// ============== 私聊会话 ==============

func (s *Memory) Start(_ context.Context, initiatorID, recipientID int64) (*model.Conversation, bool, error) {
	pair := [2]int64{}
	pair[0], pair[1] = model.CanonicalPair(initiatorID, recipientID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.pairIndex[pair]; ok {
		rec := s.conversations[id]
		// 重新发起会话时撤销发起者此前的单方隐藏
		delete(rec.hidden, initiatorID)
		conv := rec.conv
		return &conv, false, nil
	}

	rec := &memConversation{
		conv: model.Conversation{
			ID:        s.node.Generate().Int64(),
			UserA:     pair[0],
			UserB:     pair[1],
			CreatedAt: time.Now(),
		},
		hidden: make(map[int64]bool),
	}
	s.conversations[rec.conv.ID] = rec
	s.pairIndex[pair] = rec.conv.ID

	conv := rec.conv
	return &conv, true, nil
}

// conversation 查找会话并校验访问权。对非参与者与已对该用户隐藏的会话
// 统一返回 NOT_FOUND，不泄露会话是否存在
func (s *Memory) conversation(conversationID, userID int64) (*memConversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.conversations[conversationID]
	if !ok || !rec.conv.HasParticipant(userID) || rec.hidden[userID] {
		return nil, apperr.ErrNotFound.WithMessage("conversation not found")
	}
	return rec, nil
}

func (s *Memory) Conversation(_ context.Context, conversationID, userID int64) (*model.Conversation, error) {
	unlock := s.locks.Lock(conversationID)
	defer unlock()

	rec, err := s.conversation(conversationID, userID)
	if err != nil {
		return nil, err
	}
	conv := rec.conv
	return &conv, nil
}

func (s *Memory) Conversations(_ context.Context, userID int64) ([]*model.Conversation, error) {
	s.mu.RLock()
	var convs []*model.Conversation
	for _, rec := range s.conversations {
		if rec.conv.HasParticipant(userID) && !rec.hidden[userID] {
			conv := rec.conv
			convs = append(convs, &conv)
		}
	}
	s.mu.RUnlock()

	sort.Slice(convs, func(i, j int) bool { return convs[i].ID < convs[j].ID })
	return convs, nil
}

func (s *Memory) SendMessage(_ context.Context, conversationID, senderID int64, content string, replyTo int64) (*model.Message, error) {
	unlock := s.locks.Lock(conversationID)
	defer unlock()

	rec, err := s.conversation(conversationID, senderID)
	if err != nil {
		return nil, err
	}
	if replyTo != 0 {
		if parent := findMessage(rec.messages, replyTo); parent == nil || parent.Deleted {
			return nil, apperr.ErrNotFound.WithMessage("replied-to message not found")
		}
	}

	msg := &model.Message{
		ID:             s.node.Generate().Int64(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		ReplyTo:        replyTo,
		CreatedAt:      time.Now(),
	}
	rec.messages = append(rec.messages, msg)
	return msg.Clone(), nil
}

func (s *Memory) EditMessage(_ context.Context, conversationID, editorID, messageID int64, content string) (*model.Message, error) {
	unlock := s.locks.Lock(conversationID)
	defer unlock()

	rec, err := s.conversation(conversationID, editorID)
	if err != nil {
		return nil, err
	}
	msg := findMessage(rec.messages, messageID)
	if msg == nil || msg.Deleted {
		return nil, apperr.ErrNotFound.WithMessage("message not found")
	}
	if msg.SenderID != editorID {
		return nil, apperr.ErrInsufficientPerm.WithMessage("only the sender can edit a message")
	}

	now := time.Now()
	msg.Content = content
	msg.EditedAt = &now
	return msg.Clone(), nil
}

func (s *Memory) DeleteMessage(_ context.Context, conversationID, userID, messageID int64) (*model.Message, error) {
	unlock := s.locks.Lock(conversationID)
	defer unlock()

	rec, err := s.conversation(conversationID, userID)
	if err != nil {
		return nil, err
	}
	msg := findMessage(rec.messages, messageID)
	if msg == nil || msg.Deleted {
		return nil, apperr.ErrNotFound.WithMessage("message not found")
	}
	if msg.SenderID != userID {
		return nil, apperr.ErrInsufficientPerm.WithMessage("only the sender can delete a message")
	}

	msg.Tombstone()
	return msg.Clone(), nil
}

func (s *Memory) DeleteConversation(_ context.Context, conversationID, userID int64, forEveryone bool) (*model.Conversation, error) {
	unlock := s.locks.Lock(conversationID)
	defer unlock()

	rec, err := s.conversation(conversationID, userID)
	if err != nil {
		return nil, err
	}
	conv := rec.conv

	s.mu.Lock()
	defer s.mu.Unlock()

	if !forEveryone {
		rec.hidden[userID] = true
		// 双方都已隐藏时记录不再可达，直接回收
		if !rec.hidden[conv.Other(userID)] {
			return &conv, nil
		}
	}
	delete(s.conversations, conversationID)
	delete(s.pairIndex, [2]int64{conv.UserA, conv.UserB})
	return &conv, nil
}

func (s *Memory) Messages(_ context.Context, conversationID, userID int64) ([]*model.Message, error) {
	unlock := s.locks.Lock(conversationID)
	defer unlock()

	rec, err := s.conversation(conversationID, userID)
	if err != nil {
		return nil, err
	}
	return cloneMessages(rec.messages), nil
}

func (s *Memory) MarkRead(_ context.Context, conversationID, readerID, messageID int64) (*model.Message, error) {
	unlock := s.locks.Lock(conversationID)
	defer unlock()

	rec, err := s.conversation(conversationID, readerID)
	if err != nil {
		return nil, err
	}
	msg := findMessage(rec.messages, messageID)
	if msg == nil {
		return nil, apperr.ErrNotFound.WithMessage("message not found")
	}
	if msg.SenderID == readerID {
		return nil, apperr.ErrValidation.WithMessage("cannot mark your own message as read")
	}

	if msg.ReadAt == nil {
		now := time.Now()
		msg.ReadAt = &now
	}
	return msg.Clone(), nil
}

func (s *Memory) AddReaction(_ context.Context, conversationID, userID, messageID int64, emoji string) (*model.Message, bool, error) {
	unlock := s.locks.Lock(conversationID)
	defer unlock()

	rec, err := s.conversation(conversationID, userID)
	if err != nil {
		return nil, false, err
	}
	return react(rec.messages, messageID, userID, emoji, true)
}

func (s *Memory) RemoveReaction(_ context.Context, conversationID, userID, messageID int64, emoji string) (*model.Message, bool, error) {
	unlock := s.locks.Lock(conversationID)
	defer unlock()

	rec, err := s.conversation(conversationID, userID)
	if err != nil {
		return nil, false, err
	}
	return react(rec.messages, messageID, userID, emoji, false)
}

// ============== 群组 ==============

func (s *Memory) CreateGroup(_ context.Context, owner model.User, name, description string, maxMembers int, members []model.User) (*model.Group, []*model.GroupMember, error) {
	if maxMembers == 0 {
		maxMembers = model.DefaultMaxMembers
	}
	if maxMembers > s.maxGroupCap {
		return nil, nil, apperr.ErrValidation.WithMessage("maxMembers exceeds the server limit")
	}

	// 去重初始成员并剔除创建者本人
	initial := make([]model.User, 0, len(members))
	seen := map[int64]bool{owner.ID: true}
	for _, m := range members {
		if !seen[m.ID] {
			seen[m.ID] = true
			initial = append(initial, m)
		}
	}
	if len(initial)+1 > maxMembers {
		return nil, nil, apperr.ErrTooManyMembers
	}

	now := time.Now()
	rec := &memGroup{
		group: model.Group{
			ID:          s.node.Generate().Int64(),
			Name:        name,
			Description: description,
			OwnerID:     owner.ID,
			MaxMembers:  maxMembers,
			IsActive:    true,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		members: make(map[int64]*model.GroupMember),
	}
	rec.addMember(owner, model.RoleOwner, now)
	for _, m := range initial {
		rec.addMember(m, model.RoleMember, now)
	}

	s.mu.Lock()
	s.groups[rec.group.ID] = rec
	s.mu.Unlock()

	group := rec.group
	return &group, rec.memberList(), nil
}

func (g *memGroup) addMember(user model.User, role model.Role, at time.Time) *model.GroupMember {
	member := &model.GroupMember{
		GroupID:  g.group.ID,
		UserID:   user.ID,
		Username: user.Username,
		Role:     role,
		JoinedAt: at,
	}
	g.members[user.ID] = member
	g.order = append(g.order, user.ID)
	return member
}

func (g *memGroup) removeMember(userID int64) {
	delete(g.members, userID)
	for i, id := range g.order {
		if id == userID {
			g.order = append(g.order[:i], g.order[i+1:]...)
			return
		}
	}
}

// memberList 按加入顺序返回成员副本
func (g *memGroup) memberList() []*model.GroupMember {
	list := make([]*model.GroupMember, 0, len(g.order))
	for _, id := range g.order {
		m := *g.members[id]
		list = append(list, &m)
	}
	return list
}

// roster 用户名到用户 ID 的映射，提及解析用
func (g *memGroup) roster() map[string]int64 {
	roster := make(map[string]int64, len(g.members))
	for _, m := range g.members {
		roster[m.Username] = m.UserID
	}
	return roster
}

func (s *Memory) lookupGroup(groupID int64) (*memGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.groups[groupID]
	if !ok {
		return nil, apperr.ErrNotFound.WithMessage("group not found")
	}
	return rec, nil
}

// member 查找群并校验调用者是成员。writable 为 true 时软删除的群拒绝操作；
// 读操作对成员放行，保留期内仍可查询
func (s *Memory) member(groupID, userID int64, writable bool) (*memGroup, *model.GroupMember, error) {
	rec, err := s.lookupGroup(groupID)
	if err != nil {
		return nil, nil, err
	}
	member, ok := rec.members[userID]
	if !ok {
		return nil, nil, apperr.ErrNotFound.WithMessage("group not found")
	}
	if writable && !rec.group.IsActive {
		return nil, nil, apperr.ErrNotFound.WithMessage("group has been deleted")
	}
	return rec, member, nil
}

func (s *Memory) GroupInfo(_ context.Context, groupID, userID int64) (*model.Group, []*model.GroupMember, error) {
	unlock := s.locks.Lock(groupID)
	defer unlock()

	rec, _, err := s.member(groupID, userID, false)
	if err != nil {
		return nil, nil, err
	}
	group := rec.group
	return &group, rec.memberList(), nil
}

func (s *Memory) Members(_ context.Context, groupID, userID int64) ([]*model.GroupMember, error) {
	unlock := s.locks.Lock(groupID)
	defer unlock()

	rec, _, err := s.member(groupID, userID, false)
	if err != nil {
		return nil, err
	}
	return rec.memberList(), nil
}

func (s *Memory) MemberIDs(_ context.Context, groupID int64) ([]int64, error) {
	unlock := s.locks.Lock(groupID)
	defer unlock()

	rec, err := s.lookupGroup(groupID)
	if err != nil {
		return nil, err
	}
	return append([]int64(nil), rec.order...), nil
}

func (s *Memory) UserGroups(_ context.Context, userID int64) ([]*model.Group, error) {
	s.mu.RLock()
	ids := make([]int64, 0, len(s.groups))
	for id := range s.groups {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	var groups []*model.Group
	for _, id := range ids {
		unlock := s.locks.Lock(id)
		if rec, err := s.lookupGroup(id); err == nil {
			if _, ok := rec.members[userID]; ok && rec.group.IsActive {
				group := rec.group
				groups = append(groups, &group)
			}
		}
		unlock()
	}
	return groups, nil
}

func (s *Memory) AddMember(_ context.Context, groupID, actorID int64, member model.User) (*model.GroupMember, error) {
	unlock := s.locks.Lock(groupID)
	defer unlock()

	rec, actor, err := s.member(groupID, actorID, true)
	if err != nil {
		return nil, err
	}
	if !actor.Role.CanModerate() {
		return nil, apperr.ErrInsufficientPerm.WithMessage("only admins can add members")
	}
	if _, ok := rec.members[member.ID]; ok {
		return nil, apperr.ErrValidation.WithMessage("user is already a member")
	}
	if len(rec.members)+1 > rec.group.MaxMembers {
		return nil, apperr.ErrGroupFull
	}

	added := *rec.addMember(member, model.RoleMember, time.Now())
	return &added, nil
}

func (s *Memory) RemoveMember(_ context.Context, groupID, actorID, userID int64) error {
	unlock := s.locks.Lock(groupID)
	defer unlock()

	rec, actor, err := s.member(groupID, actorID, true)
	if err != nil {
		return err
	}
	if !actor.Role.CanModerate() {
		return apperr.ErrInsufficientPerm.WithMessage("only admins can remove members")
	}
	target, ok := rec.members[userID]
	if !ok {
		return apperr.ErrNotFound.WithMessage("user is not a member of this group")
	}
	if target.Role == model.RoleOwner {
		return apperr.ErrInsufficientPerm.WithMessage("the owner cannot be removed")
	}
	// admin 之间不相互移除，只有 owner 可以移除 admin
	if target.Role == model.RoleAdmin && actor.Role != model.RoleOwner {
		return apperr.ErrInsufficientPerm.WithMessage("only the owner can remove an admin")
	}

	rec.removeMember(userID)
	return nil
}

func (s *Memory) PromoteMember(_ context.Context, groupID, actorID, userID int64) (*model.GroupMember, error) {
	return s.changeRole(groupID, actorID, userID, model.RoleMember, model.RoleAdmin)
}

func (s *Memory) DemoteMember(_ context.Context, groupID, actorID, userID int64) (*model.GroupMember, error) {
	return s.changeRole(groupID, actorID, userID, model.RoleAdmin, model.RoleMember)
}

func (s *Memory) changeRole(groupID, actorID, userID int64, from, to model.Role) (*model.GroupMember, error) {
	unlock := s.locks.Lock(groupID)
	defer unlock()

	rec, actor, err := s.member(groupID, actorID, true)
	if err != nil {
		return nil, err
	}
	if actor.Role != model.RoleOwner {
		return nil, apperr.ErrInsufficientPerm.WithMessage("only the owner can change member roles")
	}
	target, ok := rec.members[userID]
	if !ok {
		return nil, apperr.ErrNotFound.WithMessage("user is not a member of this group")
	}
	if target.Role != from {
		return nil, apperr.ErrValidation.WithMessage("member does not hold the required role")
	}

	target.Role = to
	changed := *target
	return &changed, nil
}

func (s *Memory) LeaveGroup(_ context.Context, groupID, userID int64) error {
	unlock := s.locks.Lock(groupID)
	defer unlock()

	rec, member, err := s.member(groupID, userID, true)
	if err != nil {
		return err
	}
	if member.Role == model.RoleOwner {
		return apperr.ErrOwnerCannotLeave
	}

	rec.removeMember(userID)
	return nil
}

func (s *Memory) DeleteGroup(_ context.Context, groupID, actorID int64, permanent bool) error {
	unlock := s.locks.Lock(groupID)
	defer unlock()

	rec, err := s.lookupGroup(groupID)
	if err != nil {
		return err
	}
	member, ok := rec.members[actorID]
	if !ok {
		return apperr.ErrNotFound.WithMessage("group not found")
	}
	if member.Role != model.RoleOwner {
		return apperr.ErrInsufficientPerm.WithMessage("only the owner can delete the group")
	}

	if permanent {
		s.mu.Lock()
		delete(s.groups, groupID)
		s.mu.Unlock()
		return nil
	}

	if rec.group.IsActive {
		now := time.Now()
		rec.group.IsActive = false
		rec.group.DeletedAt = &now
		rec.group.UpdatedAt = now
	}
	return nil
}

func (s *Memory) RestoreGroup(_ context.Context, groupID, actorID int64) (*model.Group, error) {
	unlock := s.locks.Lock(groupID)
	defer unlock()

	rec, member, err := s.member(groupID, actorID, false)
	if err != nil {
		return nil, err
	}
	if member.Role != model.RoleOwner {
		return nil, apperr.ErrInsufficientPerm.WithMessage("only the owner can restore the group")
	}
	if rec.group.IsActive {
		return nil, apperr.ErrValidation.WithMessage("group is not deleted")
	}
	if time.Since(*rec.group.DeletedAt) > model.GroupRetention {
		return nil, apperr.ErrNotFound.WithMessage("the retention window for this group has passed")
	}

	rec.group.IsActive = true
	rec.group.DeletedAt = nil
	rec.group.UpdatedAt = time.Now()

	group := rec.group
	return &group, nil
}

func (s *Memory) UpdateInfo(_ context.Context, groupID, actorID int64, name, description *string, maxMembers *int) (*model.Group, error) {
	unlock := s.locks.Lock(groupID)
	defer unlock()

	rec, actor, err := s.member(groupID, actorID, true)
	if err != nil {
		return nil, err
	}
	if !actor.Role.CanModerate() {
		return nil, apperr.ErrInsufficientPerm.WithMessage("only admins can update group settings")
	}
	if maxMembers != nil {
		if *maxMembers > s.maxGroupCap {
			return nil, apperr.ErrValidation.WithMessage("maxMembers exceeds the server limit")
		}
		if *maxMembers < len(rec.members) {
			return nil, apperr.ErrValidation.WithMessage("maxMembers is below the current member count")
		}
	}

	if name != nil {
		rec.group.Name = *name
	}
	if description != nil {
		rec.group.Description = *description
	}
	if maxMembers != nil {
		rec.group.MaxMembers = *maxMembers
	}
	rec.group.UpdatedAt = time.Now()

	group := rec.group
	return &group, nil
}

func (s *Memory) SendMessage(_ context.Context, groupID, senderID int64, content string, replyTo int64, announcement bool) (*model.Message, error) {
	unlock := s.locks.Lock(groupID)
	defer unlock()

	rec, sender, err := s.member(groupID, senderID, true)
	if err != nil {
		return nil, err
	}
	if announcement && !sender.Role.CanModerate() {
		return nil, apperr.ErrInsufficientPerm.WithMessage("only admins can send announcements")
	}
	if replyTo != 0 {
		if parent := findMessage(rec.messages, replyTo); parent == nil || parent.Deleted {
			return nil, apperr.ErrNotFound.WithMessage("replied-to message not found")
		}
	}

	msg := &model.Message{
		ID:           s.node.Generate().Int64(),
		GroupID:      groupID,
		SenderID:     senderID,
		Content:      content,
		ReplyTo:      replyTo,
		Mentions:     ParseMentions(content, rec.roster()),
		Announcement: announcement,
		CreatedAt:    time.Now(),
	}
	rec.messages = append(rec.messages, msg)
	return msg.Clone(), nil
}

func (s *Memory) EditMessage(_ context.Context, groupID, editorID, messageID int64, content string) (*model.Message, error) {
	unlock := s.locks.Lock(groupID)
	defer unlock()

	rec, _, err := s.member(groupID, editorID, true)
	if err != nil {
		return nil, err
	}
	msg := findMessage(rec.messages, messageID)
	if msg == nil || msg.Deleted {
		return nil, apperr.ErrNotFound.WithMessage("message not found")
	}
	if msg.SenderID != editorID {
		return nil, apperr.ErrInsufficientPerm.WithMessage("only the sender can edit a message")
	}

	now := time.Now()
	msg.Content = content
	msg.Mentions = ParseMentions(content, rec.roster())
	msg.EditedAt = &now
	return msg.Clone(), nil
}

func (s *Memory) DeleteMessage(_ context.Context, groupID, actorID, messageID int64, forEveryone bool) (*model.Message, error) {
	unlock := s.locks.Lock(groupID)
	defer unlock()

	rec, actor, err := s.member(groupID, actorID, true)
	if err != nil {
		return nil, err
	}
	msg := findMessage(rec.messages, messageID)
	if msg == nil || msg.Deleted {
		return nil, apperr.ErrNotFound.WithMessage("message not found")
	}
	if msg.SenderID != actorID && !actor.Role.CanModerate() {
		return nil, apperr.ErrInsufficientPerm.WithMessage("only the sender or an admin can delete a message")
	}

	if rec.pinned == messageID {
		rec.pinned = 0
	}
	if forEveryone {
		for i, m := range rec.messages {
			if m.ID == messageID {
				rec.messages = append(rec.messages[:i], rec.messages[i+1:]...)
				break
			}
		}
		removed := *msg
		removed.Tombstone()
		return &removed, nil
	}

	msg.Tombstone()
	return msg.Clone(), nil
}

func (s *Memory) Messages(_ context.Context, groupID, userID int64) ([]*model.Message, error) {
	unlock := s.locks.Lock(groupID)
	defer unlock()

	rec, _, err := s.member(groupID, userID, false)
	if err != nil {
		return nil, err
	}
	return cloneMessages(rec.messages), nil
}

func (s *Memory) AddReaction(_ context.Context, groupID, userID, messageID int64, emoji string) (*model.Message, bool, error) {
	unlock := s.locks.Lock(groupID)
	defer unlock()

	rec, _, err := s.member(groupID, userID, true)
	if err != nil {
		return nil, false, err
	}
	return react(rec.messages, messageID, userID, emoji, true)
}

func (s *Memory) RemoveReaction(_ context.Context, groupID, userID, messageID int64, emoji string) (*model.Message, bool, error) {
	unlock := s.locks.Lock(groupID)
	defer unlock()

	rec, _, err := s.member(groupID, userID, true)
	if err != nil {
		return nil, false, err
	}
	return react(rec.messages, messageID, userID, emoji, false)
}

func (s *Memory) PinMessage(_ context.Context, groupID, actorID, messageID int64) (*model.Message, int64, error) {
	unlock := s.locks.Lock(groupID)
	defer unlock()

	rec, actor, err := s.member(groupID, actorID, true)
	if err != nil {
		return nil, 0, err
	}
	if !actor.Role.CanModerate() {
		return nil, 0, apperr.ErrInsufficientPerm.WithMessage("only admins can pin messages")
	}
	msg := findMessage(rec.messages, messageID)
	if msg == nil || msg.Deleted {
		return nil, 0, apperr.ErrNotFound.WithMessage("message not found")
	}

	// 单置顶策略：新置顶替换旧置顶
	previous := rec.pinned
	if previous == messageID {
		previous = 0
	} else if previous != 0 {
		if old := findMessage(rec.messages, previous); old != nil {
			old.Pinned = false
		}
	}
	rec.pinned = messageID
	msg.Pinned = true
	return msg.Clone(), previous, nil
}

func (s *Memory) UnpinMessage(_ context.Context, groupID, actorID int64) (int64, error) {
	unlock := s.locks.Lock(groupID)
	defer unlock()

	rec, actor, err := s.member(groupID, actorID, true)
	if err != nil {
		return 0, err
	}
	if !actor.Role.CanModerate() {
		return 0, apperr.ErrInsufficientPerm.WithMessage("only admins can unpin messages")
	}

	unpinned := rec.pinned
	if unpinned != 0 {
		if msg := findMessage(rec.messages, unpinned); msg != nil {
			msg.Pinned = false
		}
		rec.pinned = 0
	}
	return unpinned, nil
}

func (s *Memory) PinnedMessages(_ context.Context, groupID, userID int64) ([]*model.Message, error) {
	unlock := s.locks.Lock(groupID)
	defer unlock()

	rec, _, err := s.member(groupID, userID, false)
	if err != nil {
		return nil, err
	}
	if rec.pinned == 0 {
		return nil, nil
	}
	msg := findMessage(rec.messages, rec.pinned)
	if msg == nil {
		return nil, nil
	}
	return []*model.Message{msg.Clone()}, nil
}

func (s *Memory) PurgeExpired(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.RLock()
	ids := make([]int64, 0, len(s.groups))
	for id := range s.groups {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	purged := 0
	for _, id := range ids {
		unlock := s.locks.Lock(id)
		if rec, err := s.lookupGroup(id); err == nil {
			if !rec.group.IsActive && rec.group.DeletedAt != nil && rec.group.DeletedAt.Before(cutoff) {
				s.mu.Lock()
				delete(s.groups, id)
				s.mu.Unlock()
				purged++
			}
		}
		unlock()
	}
	return purged, nil
}

// ============== 公共辅助 ==============

func findMessage(messages []*model.Message, id int64) *model.Message {
	for _, m := range messages {
		if m.ID == id {
			return m
		}
	}
	return nil
}

func cloneMessages(messages []*model.Message) []*model.Message {
	out := make([]*model.Message, len(messages))
	for i, m := range messages {
		out[i] = m.Clone()
	}
	return out
}

func react(messages []*model.Message, messageID, userID int64, emoji string, add bool) (*model.Message, bool, error) {
	msg := findMessage(messages, messageID)
	if msg == nil || msg.Deleted {
		return nil, false, apperr.ErrNotFound.WithMessage("message not found")
	}

	var changed bool
	if add {
		changed = msg.AddReaction(userID, emoji)
	} else {
		changed = msg.RemoveReaction(userID, emoji)
	}
	return msg.Clone(), changed, nil
}

package store

import (
	"context"
	_ "embed"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/EliteScore/chat-server/internal/apperr"
	"github.com/EliteScore/chat-server/internal/model"
	"github.com/EliteScore/chat-server/internal/snowflake"
)

//go:embed schema.sql
var schemaSQL string

// Postgres 基于 PostgreSQL 的存储实现。
// 记录级串行化依赖容器行上的 SELECT ... FOR UPDATE，
// 与内存实现的按记录键锁语义一致
type Postgres struct {
	db          *pgxpool.Pool
	node        *snowflake.Node
	maxGroupCap int
}

var (
	_ ConversationStore = (*Postgres)(nil)
	_ GroupStore        = (*Postgres)(nil)
)

// NewPostgres 创建 PostgreSQL 存储
func NewPostgres(db *pgxpool.Pool, node *snowflake.Node, maxGroupCap int) *Postgres {
	return &Postgres{db: db, node: node, maxGroupCap: maxGroupCap}
}

// EnsureSchema 建表，幂等
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schemaSQL)
	return err
}

// withTx 在事务中执行 fn，成功则提交
func (s *Postgres) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

// ============== 私聊会话 ==============

// lockConversation 锁定会话行并校验 userID 的访问权
func lockConversation(ctx context.Context, tx pgx.Tx, conversationID, userID int64) (*model.Conversation, error) {
	query := `
		SELECT id, user_a, user_b, hidden_for, created_at
		FROM conversations
		WHERE id = $1
		FOR UPDATE
	`

	var conv model.Conversation
	var hiddenFor []int64
	err := tx.QueryRow(ctx, query, conversationID).
		Scan(&conv.ID, &conv.UserA, &conv.UserB, &hiddenFor, &conv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrNotFound.WithMessage("conversation not found")
		}
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, apperr.ErrNotFound.WithMessage("conversation not found")
	}
	for _, id := range hiddenFor {
		if id == userID {
			return nil, apperr.ErrNotFound.WithMessage("conversation not found")
		}
	}
	return &conv, nil
}

func (s *Postgres) Start(ctx context.Context, initiatorID, recipientID int64) (*model.Conversation, bool, error) {
	userA, userB := model.CanonicalPair(initiatorID, recipientID)

	var conv *model.Conversation
	var created bool
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		insert := `
			INSERT INTO conversations (id, user_a, user_b, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_a, user_b) DO NOTHING
		`
		id := s.node.Generate().Int64()
		now := time.Now()
		tag, err := tx.Exec(ctx, insert, id, userA, userB, now)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 1 {
			conv = &model.Conversation{ID: id, UserA: userA, UserB: userB, CreatedAt: now}
			created = true
			return nil
		}

		// 已存在：复用记录并撤销发起者此前的单方隐藏
		reuse := `
			UPDATE conversations
			SET hidden_for = array_remove(hidden_for, $3)
			WHERE user_a = $1 AND user_b = $2
			RETURNING id, user_a, user_b, created_at
		`
		conv = &model.Conversation{}
		return tx.QueryRow(ctx, reuse, userA, userB, initiatorID).
			Scan(&conv.ID, &conv.UserA, &conv.UserB, &conv.CreatedAt)
	})
	if err != nil {
		return nil, false, err
	}
	return conv, created, nil
}

func (s *Postgres) Conversation(ctx context.Context, conversationID, userID int64) (*model.Conversation, error) {
	var conv *model.Conversation
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		conv, err = lockConversation(ctx, tx, conversationID, userID)
		return err
	})
	return conv, err
}

func (s *Postgres) Conversations(ctx context.Context, userID int64) ([]*model.Conversation, error) {
	query := `
		SELECT id, user_a, user_b, created_at
		FROM conversations
		WHERE (user_a = $1 OR user_b = $1) AND NOT hidden_for @> ARRAY[$1]::BIGINT[]
		ORDER BY id
	`
	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, apperr.ErrInternal.Wrap(err)
	}
	defer rows.Close()

	var convs []*model.Conversation
	for rows.Next() {
		conv := &model.Conversation{}
		if err := rows.Scan(&conv.ID, &conv.UserA, &conv.UserB, &conv.CreatedAt); err != nil {
			return nil, apperr.ErrInternal.Wrap(err)
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

func (s *Postgres) SendMessage(ctx context.Context, conversationID, senderID int64, content string, replyTo int64) (*model.Message, error) {
	var msg *model.Message
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := lockConversation(ctx, tx, conversationID, senderID); err != nil {
			return err
		}
		if err := checkReplyTarget(ctx, tx, "conversation_id", conversationID, replyTo); err != nil {
			return err
		}

		msg = &model.Message{
			ID:             s.node.Generate().Int64(),
			ConversationID: conversationID,
			SenderID:       senderID,
			Content:        content,
			ReplyTo:        replyTo,
			CreatedAt:      time.Now(),
		}
		return insertMessage(ctx, tx, msg)
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Postgres) EditMessage(ctx context.Context, conversationID, editorID, messageID int64, content string) (*model.Message, error) {
	var msg *model.Message
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := lockConversation(ctx, tx, conversationID, editorID); err != nil {
			return err
		}

		var err error
		msg, err = loadMessage(ctx, tx, "conversation_id", conversationID, messageID)
		if err != nil {
			return err
		}
		if msg.SenderID != editorID {
			return apperr.ErrInsufficientPerm.WithMessage("only the sender can edit a message")
		}

		now := time.Now()
		msg.Content = content
		msg.EditedAt = &now
		return updateMessage(ctx, tx, msg)
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Postgres) DeleteMessage(ctx context.Context, conversationID, userID, messageID int64) (*model.Message, error) {
	var msg *model.Message
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := lockConversation(ctx, tx, conversationID, userID); err != nil {
			return err
		}

		var err error
		msg, err = loadMessage(ctx, tx, "conversation_id", conversationID, messageID)
		if err != nil {
			return err
		}
		if msg.SenderID != userID {
			return apperr.ErrInsufficientPerm.WithMessage("only the sender can delete a message")
		}

		msg.Tombstone()
		return updateMessage(ctx, tx, msg)
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Postgres) DeleteConversation(ctx context.Context, conversationID, userID int64, forEveryone bool) (*model.Conversation, error) {
	var conv *model.Conversation
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		conv, err = lockConversation(ctx, tx, conversationID, userID)
		if err != nil {
			return err
		}

		if !forEveryone {
			// 单方隐藏；双方都隐藏后记录不再可达，直接清除
			hide := `
				UPDATE conversations
				SET hidden_for = array_append(array_remove(hidden_for, $2), $2)
				WHERE id = $1
				RETURNING cardinality(hidden_for)
			`
			var hiddenCount int
			if err := tx.QueryRow(ctx, hide, conversationID, userID).Scan(&hiddenCount); err != nil {
				return err
			}
			if hiddenCount < 2 {
				return nil
			}
		}
		_, err = tx.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, conversationID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *Postgres) Messages(ctx context.Context, conversationID, userID int64) ([]*model.Message, error) {
	var messages []*model.Message
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := lockConversation(ctx, tx, conversationID, userID); err != nil {
			return err
		}
		var err error
		messages, err = loadMessages(ctx, tx, "conversation_id", conversationID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *Postgres) MarkRead(ctx context.Context, conversationID, readerID, messageID int64) (*model.Message, error) {
	var msg *model.Message
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := lockConversation(ctx, tx, conversationID, readerID); err != nil {
			return err
		}

		var err error
		msg, err = loadAnyMessage(ctx, tx, "conversation_id", conversationID, messageID)
		if err != nil {
			return err
		}
		if msg.SenderID == readerID {
			return apperr.ErrValidation.WithMessage("cannot mark your own message as read")
		}
		if msg.ReadAt != nil {
			return nil
		}

		now := time.Now()
		msg.ReadAt = &now
		return updateMessage(ctx, tx, msg)
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Postgres) AddReaction(ctx context.Context, conversationID, userID, messageID int64, emoji string) (*model.Message, bool, error) {
	return s.reactInContainer(ctx, "conversation_id", conversationID, userID, messageID, emoji, true, func(ctx context.Context, tx pgx.Tx) error {
		_, err := lockConversation(ctx, tx, conversationID, userID)
		return err
	})
}

func (s *Postgres) RemoveReaction(ctx context.Context, conversationID, userID, messageID int64, emoji string) (*model.Message, bool, error) {
	return s.reactInContainer(ctx, "conversation_id", conversationID, userID, messageID, emoji, false, func(ctx context.Context, tx pgx.Tx) error {
		_, err := lockConversation(ctx, tx, conversationID, userID)
		return err
	})
}

func (s *Postgres) reactInContainer(ctx context.Context, column string, containerID, userID, messageID int64, emoji string, add bool, authorize func(context.Context, pgx.Tx) error) (*model.Message, bool, error) {
	var msg *model.Message
	var changed bool
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if err := authorize(ctx, tx); err != nil {
			return err
		}

		var err error
		msg, err = loadMessage(ctx, tx, column, containerID, messageID)
		if err != nil {
			return err
		}

		if add {
			changed = msg.AddReaction(userID, emoji)
		} else {
			changed = msg.RemoveReaction(userID, emoji)
		}
		if !changed {
			return nil
		}
		return updateMessage(ctx, tx, msg)
	})
	if err != nil {
		return nil, false, err
	}
	return msg, changed, nil
}

// ============== 群组 ==============

// lockGroup 锁定群行
func lockGroup(ctx context.Context, tx pgx.Tx, groupID int64) (*model.Group, int64, error) {
	query := `
		SELECT id, name, description, owner_id, max_members, is_active,
		       pinned_message_id, deleted_at, created_at, updated_at
		FROM groups
		WHERE id = $1
		FOR UPDATE
	`

	var group model.Group
	var pinned int64
	err := tx.QueryRow(ctx, query, groupID).Scan(
		&group.ID, &group.Name, &group.Description, &group.OwnerID,
		&group.MaxMembers, &group.IsActive, &pinned,
		&group.DeletedAt, &group.CreatedAt, &group.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, apperr.ErrNotFound.WithMessage("group not found")
		}
		return nil, 0, err
	}
	return &group, pinned, nil
}

// lockGroupMember 锁定群行并校验调用者是成员，返回其成员记录
func lockGroupMember(ctx context.Context, tx pgx.Tx, groupID, userID int64, writable bool) (*model.Group, *model.GroupMember, int64, error) {
	group, pinned, err := lockGroup(ctx, tx, groupID)
	if err != nil {
		return nil, nil, 0, err
	}

	member := &model.GroupMember{GroupID: groupID, UserID: userID}
	query := `SELECT username, role, joined_at FROM group_members WHERE group_id = $1 AND user_id = $2`
	err = tx.QueryRow(ctx, query, groupID, userID).Scan(&member.Username, &member.Role, &member.JoinedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, 0, apperr.ErrNotFound.WithMessage("group not found")
		}
		return nil, nil, 0, err
	}
	if writable && !group.IsActive {
		return nil, nil, 0, apperr.ErrNotFound.WithMessage("group has been deleted")
	}
	return group, member, pinned, nil
}

func loadGroupMembers(ctx context.Context, tx pgx.Tx, groupID int64) ([]*model.GroupMember, error) {
	query := `
		SELECT group_id, user_id, username, role, joined_at
		FROM group_members
		WHERE group_id = $1
		ORDER BY joined_at, user_id
	`
	rows, err := tx.Query(ctx, query, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []*model.GroupMember
	for rows.Next() {
		var m model.GroupMember
		if err := rows.Scan(&m.GroupID, &m.UserID, &m.Username, &m.Role, &m.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, &m)
	}
	return members, rows.Err()
}

func groupRoster(members []*model.GroupMember) map[string]int64 {
	roster := make(map[string]int64, len(members))
	for _, m := range members {
		roster[m.Username] = m.UserID
	}
	return roster
}

func insertGroupMember(ctx context.Context, tx pgx.Tx, m *model.GroupMember) error {
	query := `
		INSERT INTO group_members (group_id, user_id, username, role, joined_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := tx.Exec(ctx, query, m.GroupID, m.UserID, m.Username, m.Role, m.JoinedAt)
	return err
}

func (s *Postgres) CreateGroup(ctx context.Context, owner model.User, name, description string, maxMembers int, members []model.User) (*model.Group, []*model.GroupMember, error) {
	if maxMembers == 0 {
		maxMembers = model.DefaultMaxMembers
	}
	if maxMembers > s.maxGroupCap {
		return nil, nil, apperr.ErrValidation.WithMessage("maxMembers exceeds the server limit")
	}

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
	group := &model.Group{
		ID:          s.node.Generate().Int64(),
		Name:        name,
		Description: description,
		OwnerID:     owner.ID,
		MaxMembers:  maxMembers,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var roster []*model.GroupMember
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		insert := `
			INSERT INTO groups (id, name, description, owner_id, max_members, is_active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, TRUE, $6, $6)
		`
		if _, err := tx.Exec(ctx, insert, group.ID, name, description, owner.ID, maxMembers, now); err != nil {
			return err
		}

		add := func(user model.User, role model.Role) error {
			m := &model.GroupMember{
				GroupID: group.ID, UserID: user.ID, Username: user.Username,
				Role: role, JoinedAt: now,
			}
			roster = append(roster, m)
			return insertGroupMember(ctx, tx, m)
		}
		if err := add(owner, model.RoleOwner); err != nil {
			return err
		}
		for _, m := range initial {
			if err := add(m, model.RoleMember); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return group, roster, nil
}

func (s *Postgres) GroupInfo(ctx context.Context, groupID, userID int64) (*model.Group, []*model.GroupMember, error) {
	var group *model.Group
	var members []*model.GroupMember
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		group, _, _, err = lockGroupMember(ctx, tx, groupID, userID, false)
		if err != nil {
			return err
		}
		members, err = loadGroupMembers(ctx, tx, groupID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return group, members, nil
}

func (s *Postgres) Members(ctx context.Context, groupID, userID int64) ([]*model.GroupMember, error) {
	_, members, err := s.GroupInfo(ctx, groupID, userID)
	return members, err
}

func (s *Postgres) MemberIDs(ctx context.Context, groupID int64) ([]int64, error) {
	query := `SELECT user_id FROM group_members WHERE group_id = $1 ORDER BY joined_at, user_id`
	rows, err := s.db.Query(ctx, query, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, apperr.ErrNotFound.WithMessage("group not found")
	}
	return ids, rows.Err()
}

func (s *Postgres) UserGroups(ctx context.Context, userID int64) ([]*model.Group, error) {
	query := `
		SELECT g.id, g.name, g.description, g.owner_id, g.max_members, g.is_active,
		       g.deleted_at, g.created_at, g.updated_at
		FROM groups g
		JOIN group_members gm ON gm.group_id = g.id
		WHERE gm.user_id = $1 AND g.is_active
		ORDER BY g.created_at
	`
	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []*model.Group
	for rows.Next() {
		var g model.Group
		err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.OwnerID, &g.MaxMembers,
			&g.IsActive, &g.DeletedAt, &g.CreatedAt, &g.UpdatedAt)
		if err != nil {
			return nil, err
		}
		groups = append(groups, &g)
	}
	return groups, rows.Err()
}

func (s *Postgres) AddMember(ctx context.Context, groupID, actorID int64, member model.User) (*model.GroupMember, error) {
	var added *model.GroupMember
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		group, actor, _, err := lockGroupMember(ctx, tx, groupID, actorID, true)
		if err != nil {
			return err
		}
		if !actor.Role.CanModerate() {
			return apperr.ErrInsufficientPerm.WithMessage("only admins can add members")
		}

		var size int
		var exists bool
		check := `
			SELECT count(*),
			       bool_or(user_id = $2)
			FROM group_members WHERE group_id = $1
		`
		if err := tx.QueryRow(ctx, check, groupID, member.ID).Scan(&size, &exists); err != nil {
			return err
		}
		if exists {
			return apperr.ErrValidation.WithMessage("user is already a member")
		}
		if size+1 > group.MaxMembers {
			return apperr.ErrGroupFull
		}

		added = &model.GroupMember{
			GroupID: groupID, UserID: member.ID, Username: member.Username,
			Role: model.RoleMember, JoinedAt: time.Now(),
		}
		return insertGroupMember(ctx, tx, added)
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

func (s *Postgres) RemoveMember(ctx context.Context, groupID, actorID, userID int64) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		_, actor, _, err := lockGroupMember(ctx, tx, groupID, actorID, true)
		if err != nil {
			return err
		}
		if !actor.Role.CanModerate() {
			return apperr.ErrInsufficientPerm.WithMessage("only admins can remove members")
		}

		var targetRole model.Role
		query := `SELECT role FROM group_members WHERE group_id = $1 AND user_id = $2`
		if err := tx.QueryRow(ctx, query, groupID, userID).Scan(&targetRole); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperr.ErrNotFound.WithMessage("user is not a member of this group")
			}
			return err
		}
		if targetRole == model.RoleOwner {
			return apperr.ErrInsufficientPerm.WithMessage("the owner cannot be removed")
		}
		if targetRole == model.RoleAdmin && actor.Role != model.RoleOwner {
			return apperr.ErrInsufficientPerm.WithMessage("only the owner can remove an admin")
		}

		_, err = tx.Exec(ctx, `DELETE FROM group_members WHERE group_id = $1 AND user_id = $2`, groupID, userID)
		return err
	})
}

func (s *Postgres) PromoteMember(ctx context.Context, groupID, actorID, userID int64) (*model.GroupMember, error) {
	return s.changeRole(ctx, groupID, actorID, userID, model.RoleMember, model.RoleAdmin)
}

func (s *Postgres) DemoteMember(ctx context.Context, groupID, actorID, userID int64) (*model.GroupMember, error) {
	return s.changeRole(ctx, groupID, actorID, userID, model.RoleAdmin, model.RoleMember)
}

func (s *Postgres) changeRole(ctx context.Context, groupID, actorID, userID int64, from, to model.Role) (*model.GroupMember, error) {
	var changed *model.GroupMember
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		_, actor, _, err := lockGroupMember(ctx, tx, groupID, actorID, true)
		if err != nil {
			return err
		}
		if actor.Role != model.RoleOwner {
			return apperr.ErrInsufficientPerm.WithMessage("only the owner can change member roles")
		}

		target := &model.GroupMember{GroupID: groupID, UserID: userID}
		query := `SELECT username, role, joined_at FROM group_members WHERE group_id = $1 AND user_id = $2`
		if err := tx.QueryRow(ctx, query, groupID, userID).Scan(&target.Username, &target.Role, &target.JoinedAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperr.ErrNotFound.WithMessage("user is not a member of this group")
			}
			return err
		}
		if target.Role != from {
			return apperr.ErrValidation.WithMessage("member does not hold the required role")
		}

		target.Role = to
		changed = target
		_, err = tx.Exec(ctx, `UPDATE group_members SET role = $3 WHERE group_id = $1 AND user_id = $2`, groupID, userID, to)
		return err
	})
	if err != nil {
		return nil, err
	}
	return changed, nil
}

func (s *Postgres) LeaveGroup(ctx context.Context, groupID, userID int64) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		_, member, _, err := lockGroupMember(ctx, tx, groupID, userID, true)
		if err != nil {
			return err
		}
		if member.Role == model.RoleOwner {
			return apperr.ErrOwnerCannotLeave
		}

		_, err = tx.Exec(ctx, `DELETE FROM group_members WHERE group_id = $1 AND user_id = $2`, groupID, userID)
		return err
	})
}

func (s *Postgres) DeleteGroup(ctx context.Context, groupID, actorID int64, permanent bool) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		_, actor, _, err := lockGroupMember(ctx, tx, groupID, actorID, false)
		if err != nil {
			return err
		}
		if actor.Role != model.RoleOwner {
			return apperr.ErrInsufficientPerm.WithMessage("only the owner can delete the group")
		}

		if permanent {
			_, err = tx.Exec(ctx, `DELETE FROM groups WHERE id = $1`, groupID)
			return err
		}

		soft := `
			UPDATE groups
			SET is_active = FALSE, deleted_at = now(), updated_at = now()
			WHERE id = $1 AND is_active
		`
		_, err = tx.Exec(ctx, soft, groupID)
		return err
	})
}

func (s *Postgres) RestoreGroup(ctx context.Context, groupID, actorID int64) (*model.Group, error) {
	var restored *model.Group
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		group, actor, _, err := lockGroupMember(ctx, tx, groupID, actorID, false)
		if err != nil {
			return err
		}
		if actor.Role != model.RoleOwner {
			return apperr.ErrInsufficientPerm.WithMessage("only the owner can restore the group")
		}
		if group.IsActive {
			return apperr.ErrValidation.WithMessage("group is not deleted")
		}
		if time.Since(*group.DeletedAt) > model.GroupRetention {
			return apperr.ErrNotFound.WithMessage("the retention window for this group has passed")
		}

		now := time.Now()
		group.IsActive = true
		group.DeletedAt = nil
		group.UpdatedAt = now
		restored = group

		_, err = tx.Exec(ctx, `UPDATE groups SET is_active = TRUE, deleted_at = NULL, updated_at = $2 WHERE id = $1`, groupID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return restored, nil
}

func (s *Postgres) UpdateInfo(ctx context.Context, groupID, actorID int64, name, description *string, maxMembers *int) (*model.Group, error) {
	var updated *model.Group
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		group, actor, _, err := lockGroupMember(ctx, tx, groupID, actorID, true)
		if err != nil {
			return err
		}
		if !actor.Role.CanModerate() {
			return apperr.ErrInsufficientPerm.WithMessage("only admins can update group settings")
		}
		if maxMembers != nil {
			if *maxMembers > s.maxGroupCap {
				return apperr.ErrValidation.WithMessage("maxMembers exceeds the server limit")
			}
			var size int
			if err := tx.QueryRow(ctx, `SELECT count(*) FROM group_members WHERE group_id = $1`, groupID).Scan(&size); err != nil {
				return err
			}
			if *maxMembers < size {
				return apperr.ErrValidation.WithMessage("maxMembers is below the current member count")
			}
		}

		if name != nil {
			group.Name = *name
		}
		if description != nil {
			group.Description = *description
		}
		if maxMembers != nil {
			group.MaxMembers = *maxMembers
		}
		group.UpdatedAt = time.Now()
		updated = group

		query := `
			UPDATE groups
			SET name = $2, description = $3, max_members = $4, updated_at = $5
			WHERE id = $1
		`
		_, err = tx.Exec(ctx, query, groupID, group.Name, group.Description, group.MaxMembers, group.UpdatedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Postgres) SendMessage(ctx context.Context, groupID, senderID int64, content string, replyTo int64, announcement bool) (*model.Message, error) {
	var msg *model.Message
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		_, sender, _, err := lockGroupMember(ctx, tx, groupID, senderID, true)
		if err != nil {
			return err
		}
		if announcement && !sender.Role.CanModerate() {
			return apperr.ErrInsufficientPerm.WithMessage("only admins can send announcements")
		}
		if err := checkReplyTarget(ctx, tx, "group_id", groupID, replyTo); err != nil {
			return err
		}

		members, err := loadGroupMembers(ctx, tx, groupID)
		if err != nil {
			return err
		}

		msg = &model.Message{
			ID:           s.node.Generate().Int64(),
			GroupID:      groupID,
			SenderID:     senderID,
			Content:      content,
			ReplyTo:      replyTo,
			Mentions:     ParseMentions(content, groupRoster(members)),
			Announcement: announcement,
			CreatedAt:    time.Now(),
		}
		return insertMessage(ctx, tx, msg)
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Postgres) EditMessage(ctx context.Context, groupID, editorID, messageID int64, content string) (*model.Message, error) {
	var msg *model.Message
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if _, _, _, err := lockGroupMember(ctx, tx, groupID, editorID, true); err != nil {
			return err
		}

		var err error
		msg, err = loadMessage(ctx, tx, "group_id", groupID, messageID)
		if err != nil {
			return err
		}
		if msg.SenderID != editorID {
			return apperr.ErrInsufficientPerm.WithMessage("only the sender can edit a message")
		}

		members, err := loadGroupMembers(ctx, tx, groupID)
		if err != nil {
			return err
		}

		now := time.Now()
		msg.Content = content
		msg.Mentions = ParseMentions(content, groupRoster(members))
		msg.EditedAt = &now
		return updateMessage(ctx, tx, msg)
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Postgres) DeleteMessage(ctx context.Context, groupID, actorID, messageID int64, forEveryone bool) (*model.Message, error) {
	var msg *model.Message
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		_, actor, pinned, err := lockGroupMember(ctx, tx, groupID, actorID, true)
		if err != nil {
			return err
		}

		msg, err = loadMessage(ctx, tx, "group_id", groupID, messageID)
		if err != nil {
			return err
		}
		if msg.SenderID != actorID && !actor.Role.CanModerate() {
			return apperr.ErrInsufficientPerm.WithMessage("only the sender or an admin can delete a message")
		}

		if pinned == messageID {
			if _, err := tx.Exec(ctx, `UPDATE groups SET pinned_message_id = 0 WHERE id = $1`, groupID); err != nil {
				return err
			}
		}

		msg.Tombstone()
		if forEveryone {
			_, err = tx.Exec(ctx, `DELETE FROM messages WHERE id = $1`, messageID)
			return err
		}
		return updateMessage(ctx, tx, msg)
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Postgres) Messages(ctx context.Context, groupID, userID int64) ([]*model.Message, error) {
	var messages []*model.Message
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if _, _, _, err := lockGroupMember(ctx, tx, groupID, userID, false); err != nil {
			return err
		}
		var err error
		messages, err = loadMessages(ctx, tx, "group_id", groupID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *Postgres) AddReaction(ctx context.Context, groupID, userID, messageID int64, emoji string) (*model.Message, bool, error) {
	return s.reactInContainer(ctx, "group_id", groupID, userID, messageID, emoji, true, func(ctx context.Context, tx pgx.Tx) error {
		_, _, _, err := lockGroupMember(ctx, tx, groupID, userID, true)
		return err
	})
}

func (s *Postgres) RemoveReaction(ctx context.Context, groupID, userID, messageID int64, emoji string) (*model.Message, bool, error) {
	return s.reactInContainer(ctx, "group_id", groupID, userID, messageID, emoji, false, func(ctx context.Context, tx pgx.Tx) error {
		_, _, _, err := lockGroupMember(ctx, tx, groupID, userID, true)
		return err
	})
}

func (s *Postgres) PinMessage(ctx context.Context, groupID, actorID, messageID int64) (*model.Message, int64, error) {
	var msg *model.Message
	var previous int64
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		_, actor, pinned, err := lockGroupMember(ctx, tx, groupID, actorID, true)
		if err != nil {
			return err
		}
		if !actor.Role.CanModerate() {
			return apperr.ErrInsufficientPerm.WithMessage("only admins can pin messages")
		}

		msg, err = loadMessage(ctx, tx, "group_id", groupID, messageID)
		if err != nil {
			return err
		}

		previous = pinned
		if previous == messageID {
			previous = 0
		} else if previous != 0 {
			if _, err := tx.Exec(ctx, `UPDATE messages SET pinned = FALSE WHERE id = $1`, previous); err != nil {
				return err
			}
		}

		msg.Pinned = true
		if _, err := tx.Exec(ctx, `UPDATE messages SET pinned = TRUE WHERE id = $1`, messageID); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE groups SET pinned_message_id = $2 WHERE id = $1`, groupID, messageID)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return msg, previous, nil
}

func (s *Postgres) UnpinMessage(ctx context.Context, groupID, actorID int64) (int64, error) {
	var unpinned int64
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		_, actor, pinned, err := lockGroupMember(ctx, tx, groupID, actorID, true)
		if err != nil {
			return err
		}
		if !actor.Role.CanModerate() {
			return apperr.ErrInsufficientPerm.WithMessage("only admins can unpin messages")
		}

		unpinned = pinned
		if unpinned == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, `UPDATE messages SET pinned = FALSE WHERE id = $1`, unpinned); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE groups SET pinned_message_id = 0 WHERE id = $1`, groupID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return unpinned, nil
}

func (s *Postgres) PinnedMessages(ctx context.Context, groupID, userID int64) ([]*model.Message, error) {
	var messages []*model.Message
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		_, _, pinned, err := lockGroupMember(ctx, tx, groupID, userID, false)
		if err != nil {
			return err
		}
		if pinned == 0 {
			return nil
		}

		msg, err := loadAnyMessage(ctx, tx, "group_id", groupID, pinned)
		if err != nil {
			if apperr.Code(err) == apperr.CodeNotFound {
				return nil
			}
			return err
		}
		messages = []*model.Message{msg}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *Postgres) PurgeExpired(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM groups WHERE NOT is_active AND deleted_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ============== 消息行辅助 ==============

const messageColumns = `
	id, COALESCE(conversation_id, 0), COALESCE(group_id, 0), sender_id, content,
	reply_to, mentions, announcement, pinned, deleted, reactions,
	created_at, edited_at, read_at
`

func scanMessage(row pgx.Row) (*model.Message, error) {
	var m model.Message
	err := row.Scan(
		&m.ID, &m.ConversationID, &m.GroupID, &m.SenderID, &m.Content,
		&m.ReplyTo, &m.Mentions, &m.Announcement, &m.Pinned, &m.Deleted, &m.Reactions,
		&m.CreatedAt, &m.EditedAt, &m.ReadAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrNotFound.WithMessage("message not found")
		}
		return nil, err
	}
	return &m, nil
}

// loadAnyMessage 按容器与 ID 加载消息，含墓碑
func loadAnyMessage(ctx context.Context, tx pgx.Tx, column string, containerID, messageID int64) (*model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE ` + column + ` = $1 AND id = $2`
	return scanMessage(tx.QueryRow(ctx, query, containerID, messageID))
}

// loadMessage 同 loadAnyMessage，但墓碑视作不存在
func loadMessage(ctx context.Context, tx pgx.Tx, column string, containerID, messageID int64) (*model.Message, error) {
	msg, err := loadAnyMessage(ctx, tx, column, containerID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.Deleted {
		return nil, apperr.ErrNotFound.WithMessage("message not found")
	}
	return msg, nil
}

func loadMessages(ctx context.Context, tx pgx.Tx, column string, containerID int64) ([]*model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE ` + column + ` = $1 ORDER BY id`
	rows, err := tx.Query(ctx, query, containerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*model.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func checkReplyTarget(ctx context.Context, tx pgx.Tx, column string, containerID, replyTo int64) error {
	if replyTo == 0 {
		return nil
	}
	if _, err := loadMessage(ctx, tx, column, containerID, replyTo); err != nil {
		return apperr.ErrNotFound.WithMessage("replied-to message not found")
	}
	return nil
}

func insertMessage(ctx context.Context, tx pgx.Tx, m *model.Message) error {
	query := `
		INSERT INTO messages (id, conversation_id, group_id, sender_id, content, reply_to,
		                      mentions, announcement, pinned, deleted, reactions, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	mentions := m.Mentions
	if mentions == nil {
		mentions = []int64{}
	}
	reactions := m.Reactions
	if reactions == nil {
		reactions = []model.ReactionGroup{}
	}
	_, err := tx.Exec(ctx, query,
		m.ID, nullableID(m.ConversationID), nullableID(m.GroupID), m.SenderID, m.Content,
		m.ReplyTo, mentions, m.Announcement, m.Pinned, m.Deleted, reactions, m.CreatedAt,
	)
	return err
}

func updateMessage(ctx context.Context, tx pgx.Tx, m *model.Message) error {
	query := `
		UPDATE messages
		SET content = $2, mentions = $3, announcement = $4, pinned = $5, deleted = $6,
		    reactions = $7, edited_at = $8, read_at = $9
		WHERE id = $1
	`
	mentions := m.Mentions
	if mentions == nil {
		mentions = []int64{}
	}
	reactions := m.Reactions
	if reactions == nil {
		reactions = []model.ReactionGroup{}
	}
	_, err := tx.Exec(ctx, query,
		m.ID, m.Content, mentions, m.Announcement, m.Pinned, m.Deleted,
		reactions, m.EditedAt, m.ReadAt,
	)
	return err
}

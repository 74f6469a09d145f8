package social

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/EliteScore/chat-server/internal/apperr"
	"github.com/EliteScore/chat-server/internal/model"
)

// PostgresGraph 基于平台社交库的社交图视图。
// follows/blocks/users 表由平台其他服务维护，这里只读
type PostgresGraph struct {
	db *pgxpool.Pool
}

// NewPostgresGraph 创建社交图视图
func NewPostgresGraph(db *pgxpool.Pool) *PostgresGraph {
	return &PostgresGraph{db: db}
}

func (g *PostgresGraph) Follows(ctx context.Context, a, b int64) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM follows WHERE follower_id = $1 AND followee_id = $2)`

	var exists bool
	err := g.db.QueryRow(ctx, query, a, b).Scan(&exists)
	return exists, err
}

func (g *PostgresGraph) Blocked(ctx context.Context, a, b int64) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM blocks
			WHERE (blocker_id = $1 AND blocked_id = $2)
			   OR (blocker_id = $2 AND blocked_id = $1)
		)
	`

	var exists bool
	err := g.db.QueryRow(ctx, query, a, b).Scan(&exists)
	return exists, err
}

func (g *PostgresGraph) Lookup(ctx context.Context, userID int64) (model.User, error) {
	query := `SELECT id, username FROM users WHERE id = $1`

	var user model.User
	err := g.db.QueryRow(ctx, query, userID).Scan(&user.ID, &user.Username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, apperr.ErrNotFound.WithMessage(fmt.Sprintf("user %d not found", userID))
		}
		return model.User{}, err
	}
	return user, nil
}

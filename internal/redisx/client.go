// Package redisx 平台共享 Redis 的接入：在线位置登记与当前 token 校验。
package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/EliteScore/chat-server/internal/config"
)

const (
	userLocationKeyPrefix = "chat:user:location:"
	userTokenKeyPrefix    = "chat:user:token:"

	// 位置 TTL，会话存活期间定期续期
	locationTTL = 2 * time.Minute
)

// UserLocation 用户某平台连接的路由信息，跨节点投递时用于寻址
type UserLocation struct {
	UserID    int64     `json:"userId"`
	NodeID    string    `json:"nodeId"`
	SessionID int64     `json:"sessionId"`
	Platform  string    `json:"platform"`
	LoginTime time.Time `json:"loginTime"`
}

// Client Redis 客户端
type Client struct {
	client *redis.Client
	nodeID string
	logger *slog.Logger
}

// NewClient 创建 Redis 客户端
func NewClient(cfg config.RedisConfig, nodeID string) *Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	return &Client{
		client: client,
		nodeID: nodeID,
		logger: slog.Default(),
	}
}

func locationKey(userID int64, platform string) string {
	return fmt.Sprintf("%s%d:%s", userLocationKeyPrefix, userID, platform)
}

func tokenKey(userID int64, platform string) string {
	return fmt.Sprintf("%s%d:%s", userTokenKeyPrefix, userID, platform)
}

// RegisterUserLocation 登记用户位置。
// 一个 platform 只保留一个连接，新连接覆盖旧连接
func (c *Client) RegisterUserLocation(ctx context.Context, userID int64, platform string, sessionID int64) error {
	location := UserLocation{
		UserID:    userID,
		NodeID:    c.nodeID,
		SessionID: sessionID,
		Platform:  platform,
		LoginTime: time.Now(),
	}

	data, err := json.Marshal(location)
	if err != nil {
		return fmt.Errorf("failed to marshal location: %w", err)
	}

	err = c.client.Set(ctx, locationKey(userID, platform), data, locationTTL).Err()
	if err == nil {
		c.logger.Debug("Registered user location",
			"user_id", userID,
			"platform", platform,
			"session_id", sessionID,
			"node_id", c.nodeID)
	}
	return err
}

// RefreshUserLocation 续期位置 TTL
func (c *Client) RefreshUserLocation(ctx context.Context, userID int64, platform string) error {
	return c.client.Expire(ctx, locationKey(userID, platform), locationTTL).Err()
}

// UnregisterUserLocation 移除用户位置
func (c *Client) UnregisterUserLocation(ctx context.Context, userID int64, platform string) error {
	return c.client.Del(ctx, locationKey(userID, platform)).Err()
}

// GetUserLocation 查询用户某平台的位置，不在线返回 nil
func (c *Client) GetUserLocation(ctx context.Context, userID int64, platform string) (*UserLocation, error) {
	data, err := c.client.Get(ctx, locationKey(userID, platform)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var location UserLocation
	if err := json.Unmarshal([]byte(data), &location); err != nil {
		return nil, fmt.Errorf("failed to unmarshal location: %w", err)
	}
	return &location, nil
}

// IsTokenCurrent 检查 token 是否仍是该用户该平台的当前 token。
// 平台登录服务在每次登录时写入该键；键不存在时视为有效，
// 避免 Redis 数据丢失导致全员掉线
func (c *Client) IsTokenCurrent(ctx context.Context, userID int64, platform, token string) (bool, error) {
	current, err := c.client.Get(ctx, tokenKey(userID, platform)).Result()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return current == token, nil
}

// Ping 检查连接
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close 关闭连接
func (c *Client) Close() error {
	return c.client.Close()
}

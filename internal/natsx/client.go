// Package natsx 跨节点事件分发。多实例部署时，本节点产生的广播
// 经 NATS 转发给其他节点，由各节点投递给自己持有的会话
package natsx

import (
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/EliteScore/chat-server/internal/config"
)

// SubjectBroadcast 广播事件主题
const SubjectBroadcast = "chat.events.broadcast"

// Envelope 跨节点广播信封。OriginNode 用于过滤自己发出的事件，
// 避免本地已投递的事件被二次投递
type Envelope struct {
	OriginNode string          `json:"originNode"`
	UserIDs    []int64         `json:"userIds"`
	Event      json.RawMessage `json:"event"`
}

// Client NATS 客户端
type Client struct {
	conn   *nats.Conn
	nodeID string
	logger *slog.Logger
}

// NewClient 连接 NATS
func NewClient(cfg config.NATSConfig, nodeID string) (*Client, error) {
	logger := slog.Default()

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, nodeID: nodeID, logger: logger}, nil
}

// PublishBroadcast 发布一条面向 userIDs 的广播事件
func (c *Client) PublishBroadcast(userIDs []int64, event []byte) error {
	envelope := Envelope{
		OriginNode: c.nodeID,
		UserIDs:    userIDs,
		Event:      event,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return c.conn.Publish(SubjectBroadcast, data)
}

// SubscribeBroadcast 订阅其他节点的广播事件。
// 本节点发出的信封被直接丢弃
func (c *Client) SubscribeBroadcast(handler func(userIDs []int64, event []byte)) error {
	_, err := c.conn.Subscribe(SubjectBroadcast, func(msg *nats.Msg) {
		var envelope Envelope
		if err := json.Unmarshal(msg.Data, &envelope); err != nil {
			c.logger.Error("Malformed broadcast envelope", "error", err)
			return
		}
		if envelope.OriginNode == c.nodeID {
			return
		}
		handler(envelope.UserIDs, envelope.Event)
	})
	return err
}

// Close 关闭连接
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

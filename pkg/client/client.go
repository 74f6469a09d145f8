// Package client 自动重连的聊天客户端。
// 断线期间的出站帧进入本地队列，重连认证成功后按入队顺序补发；
// 连续重连失败达到上限时上报 reconnect_failed 并停止
package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/quic-go/webtransport-go"

	"github.com/EliteScore/chat-server/internal/protocol"
)

// State 客户端连接状态
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateAuthenticating
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Dialer 建立一条承载帧流的连接。测试用内存管道替换 WebTransport
type Dialer interface {
	Dial(ctx context.Context) (io.ReadWriteCloser, error)
}

// Options 客户端配置
type Options struct {
	Dialer Dialer
	Token  string

	// MaxAttempts 连续重连失败上限，0 取默认值 5
	MaxAttempts int
	// BackoffBase 首次重连等待，0 取默认值 1s；之后按次翻倍
	BackoffBase time.Duration
	// BackoffCap 重连等待上限，0 取默认值 30s
	BackoffCap time.Duration

	// OnEvent 每收到一个服务端事件回调一次，eventType 取自帧的 type 字段。
	// reconnect_failed 事件由客户端本地合成
	OnEvent func(eventType string, data []byte)
	// OnStateChange 状态迁移回调，可为 nil
	OnStateChange func(state State)

	Logger *slog.Logger
}

var ErrClientClosed = errors.New("client closed")

// Client 带重连与离线队列的连接封装
type Client struct {
	opts   Options
	logger *slog.Logger

	mu    sync.Mutex
	state State
	conn  io.ReadWriteCloser
	queue [][]byte

	// wmu 串行化对同一连接的直写，避免并发帧交错
	wmu sync.Mutex

	closeChan chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

// New 创建客户端，Connect 之前不建立连接
func New(opts Options) *Client {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		opts:      opts,
		logger:    logger,
		state:     StateIdle,
		closeChan: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Connect 启动连接循环并在后台维持连接
func (c *Client) Connect(ctx context.Context) {
	go c.run(ctx)
}

// Send 发送一帧。连接打开时直接写出，断线时入队等待补发
func (c *Client) Send(frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.state != StateOpen || c.conn == nil {
		c.queue = append(c.queue, data)
		c.mu.Unlock()
		return nil
	}
	conn := c.conn
	c.mu.Unlock()

	// 写出不持有状态锁，对端停读时不会卡住 State/Disconnect
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return protocol.WriteFrame(conn, data)
}

// Disconnect 主动断开，取消所有重连
func (c *Client) Disconnect() {
	c.closeOnce.Do(func() {
		close(c.closeChan)
		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.mu.Unlock()
	})
}

// Done 连接循环结束信号
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// State 当前状态
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// QueuedFrames 当前离线队列长度
func (c *Client) QueuedFrames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	defer c.setState(StateClosed)

	attempt := 0
	for {
		if c.closed() {
			return
		}

		c.setState(StateConnecting)
		conn, err := c.opts.Dialer.Dial(ctx)
		if err != nil {
			c.logger.Warn("Dial failed", "attempt", attempt+1, "error", err)
			attempt++
			if !c.waitBackoff(ctx, attempt) {
				return
			}
			continue
		}

		fatal, authed := c.serve(ctx, conn)
		if fatal || c.closed() {
			return
		}
		c.emit("disconnected", []byte(`{"type":"disconnected"}`))
		// 认证成功过的连接断开后从头开始退避
		if authed {
			attempt = 0
		}
		attempt++
		if !c.waitBackoff(ctx, attempt) {
			return
		}
	}
}

// serve 在一条连接上完成认证并转发事件，直到连接断开。
// 返回 fatal=true 表示不应再重连
func (c *Client) serve(ctx context.Context, conn io.ReadWriteCloser) (fatal, authed bool) {
	defer conn.Close()

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	c.setState(StateAuthenticating)
	auth, err := json.Marshal(map[string]string{"type": "authenticate", "token": c.opts.Token})
	if err != nil {
		return true, false
	}
	if err := protocol.WriteFrame(conn, auth); err != nil {
		c.logger.Warn("Failed to send authenticate frame", "error", err)
		return false, false
	}

	for {
		data, err := protocol.ReadFrame(conn)
		if err != nil {
			if !c.closed() {
				c.logger.Warn("Connection lost", "error", err)
			}
			return false, authed
		}

		eventType := peekType(data)
		switch eventType {
		case "auth_success":
			authed = true
			c.openAndFlush(conn)
		case "auth_error":
			// 凭证无效，重试也不会成功
			c.emit(eventType, data)
			return true, authed
		}
		c.emit(eventType, data)
	}
}

// openAndFlush 按入队顺序补发离线队列并切换到打开状态。
// 补发与状态切换在同一临界区内完成，期间到达的新帧排在队尾之后直写
func (c *Client) openAndFlush(conn io.ReadWriteCloser) {
	c.mu.Lock()
	for len(c.queue) > 0 {
		data := c.queue[0]
		if err := protocol.WriteFrame(conn, data); err != nil {
			c.logger.Warn("Failed to flush queued frame", "error", err)
			c.mu.Unlock()
			return
		}
		c.queue = c.queue[1:]
	}
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateOpen
	c.mu.Unlock()

	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(StateOpen)
	}
}

// waitBackoff 指数退避等待。达到重连上限或被关闭时返回 false
func (c *Client) waitBackoff(ctx context.Context, attempt int) bool {
	if attempt > c.opts.MaxAttempts {
		c.logger.Error("Reconnect attempts exhausted", "attempts", c.opts.MaxAttempts)
		c.emit("reconnect_failed", []byte(`{"type":"reconnect_failed"}`))
		return false
	}

	delay := c.backoff(attempt)
	c.logger.Info("Reconnecting", "attempt", attempt, "delay", delay)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-c.closeChan:
		return false
	case <-ctx.Done():
		c.Disconnect()
		return false
	}
}

// backoff 第 n 次重连前的等待：base*2^(n-1)，封顶 cap
func (c *Client) backoff(attempt int) time.Duration {
	delay := c.opts.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.opts.BackoffCap {
			return c.opts.BackoffCap
		}
	}
	if delay > c.opts.BackoffCap {
		return c.opts.BackoffCap
	}
	return delay
}

func (c *Client) setState(state State) {
	c.mu.Lock()
	if c.state == state || c.state == StateClosed && state != StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()

	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(state)
	}
}

func (c *Client) emit(eventType string, data []byte) {
	if c.opts.OnEvent != nil {
		c.opts.OnEvent(eventType, data)
	}
}

func (c *Client) closed() bool {
	select {
	case <-c.closeChan:
		return true
	default:
		return false
	}
}

func peekType(data []byte) string {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return ""
	}
	return head.Type
}

// ============== WebTransport 拨号 ==============

// WebTransportDialer 经 WebTransport 连接服务端并打开承载流
type WebTransportDialer struct {
	URL string
	TLS *tls.Config
}

func (d *WebTransportDialer) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	dialer := webtransport.Dialer{}
	if d.TLS != nil {
		dialer.TLSClientConfig = d.TLS
	}

	_, wtSession, err := dialer.Dial(ctx, d.URL, nil)
	if err != nil {
		return nil, err
	}
	stream, err := wtSession.OpenStreamSync(ctx)
	if err != nil {
		_ = wtSession.CloseWithError(0, "open stream failed")
		return nil, err
	}
	return &wtConn{session: wtSession, stream: stream}, nil
}

type wtConn struct {
	session *webtransport.Session
	stream  *webtransport.Stream
}

func (c *wtConn) Read(p []byte) (int, error)  { return c.stream.Read(p) }
func (c *wtConn) Write(p []byte) (int, error) { return c.stream.Write(p) }

func (c *wtConn) Close() error {
	_ = c.stream.Close()
	return c.session.CloseWithError(0, "client closed")
}

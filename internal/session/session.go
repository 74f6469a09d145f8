// Package session 单个客户端连接的发送侧封装。
package session

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/EliteScore/chat-server/internal/model"
	"github.com/EliteScore/chat-server/internal/protocol"
)

var ErrSessionClosed = errors.New("session closed")

var sessionIDCounter int64

// Session 一个已接入的客户端连接。出站帧经过有界缓冲异步写出，
// 缓冲写满说明接收端过慢或已死，直接断开该会话而不是拖慢发送方
type Session struct {
	id      int64
	writer  io.Writer
	closeFn func()
	logger  *slog.Logger

	mu       sync.RWMutex
	user     model.User
	platform string

	writeChan chan []byte
	closeChan chan struct{}
	closeOnce sync.Once

	createTime time.Time
}

// New 创建会话。writer 承载出站帧，closeFn 关闭底层传输
func New(writer io.Writer, closeFn func(), bufferSize int, logger *slog.Logger) *Session {
	id := atomic.AddInt64(&sessionIDCounter, 1)
	s := &Session{
		id:         id,
		writer:     writer,
		closeFn:    closeFn,
		logger:     logger.With("session_id", id),
		writeChan:  make(chan []byte, bufferSize),
		closeChan:  make(chan struct{}),
		createTime: time.Now(),
	}
	go s.writeLoop()
	return s
}

func (s *Session) ID() int64 {
	return s.id
}

// UserID 已认证用户 ID，未认证时为 0
func (s *Session) UserID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user.ID
}

func (s *Session) User() model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

func (s *Session) Authenticated() bool {
	return s.UserID() > 0
}

// BindUser 认证成功后绑定用户身份，只允许绑定一次
func (s *Session) BindUser(user model.User) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user.ID > 0 {
		return false
	}
	s.user = user
	return true
}

// Platform 认证 token 所属平台，断开时注销在线位置用
func (s *Session) Platform() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.platform
}

func (s *Session) SetPlatform(platform string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.platform = platform
}

// Send 入队一帧。缓冲已满或会话已关闭时返回 false；
// 缓冲满视作接收端失效，会话被就地断开
func (s *Session) Send(data []byte) bool {
	select {
	case <-s.closeChan:
		return false
	default:
	}

	select {
	case s.writeChan <- data:
		return true
	case <-s.closeChan:
		return false
	default:
		s.logger.Warn("Send buffer overflow, disconnecting session", "user_id", s.UserID())
		s.Close()
		return false
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case data := <-s.writeChan:
			if err := protocol.WriteFrame(s.writer, data); err != nil {
				s.logger.Error("Failed to write frame", "error", err)
				s.Close()
				return
			}
		case <-s.closeChan:
			return
		}
	}
}

// Close 关闭会话与底层传输，幂等
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closeChan)
		if s.closeFn != nil {
			s.closeFn()
		}
	})
}

// Done 会话关闭信号
func (s *Session) Done() <-chan struct{} {
	return s.closeChan
}

func (s *Session) CreateTime() time.Time {
	return s.createTime
}

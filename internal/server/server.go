// Package server WebTransport 接入层：每个客户端一条 QUIC 会话，
// 会话内的首个双向流承载全部帧交换
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"

	"github.com/EliteScore/chat-server/internal/config"
	"github.com/EliteScore/chat-server/internal/presence"
	"github.com/EliteScore/chat-server/internal/protocol"
	"github.com/EliteScore/chat-server/internal/router"
	"github.com/EliteScore/chat-server/internal/session"
)

type Server struct {
	cfg      *config.Config
	router   *router.Router
	registry *presence.Registry
	logger   *slog.Logger
	wtServer *webtransport.Server
	wg       sync.WaitGroup
}

func New(cfg *config.Config, r *router.Router, registry *presence.Registry, logger *slog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		router:   r,
		registry: registry,
		logger:   logger,
	}
}

func (s *Server) Start(ctx context.Context) error {
	tlsConfig, err := s.loadTLSConfig()
	if err != nil {
		return err
	}

	quicConfig := &quic.Config{
		MaxIdleTimeout:     s.cfg.QUIC.MaxIdleTimeout,
		KeepAlivePeriod:    s.cfg.QUIC.KeepAlivePeriod,
		MaxIncomingStreams: s.cfg.QUIC.MaxIncomingStreams,
		EnableDatagrams:    true, // WebTransport 需要启用数据报支持
	}

	s.wtServer = &webtransport.Server{
		H3: http3.Server{
			Addr:       s.cfg.Server.Addr,
			TLSConfig:  tlsConfig,
			QUICConfig: quicConfig,
		},
		CheckOrigin: func(r *http.Request) bool {
			// TODO: 生产环境应该检查 Origin
			return true
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/chat", func(w http.ResponseWriter, r *http.Request) {
		wtSession, err := s.wtServer.Upgrade(w, r)
		if err != nil {
			s.logger.Error("WebTransport upgrade failed", "error", err)
			return
		}
		s.wg.Add(1)
		go s.handleSession(ctx, wtSession)
	})
	s.wtServer.H3.Handler = mux

	s.logger.Info("WebTransport server starting", "addr", s.cfg.Server.Addr)
	return s.wtServer.ListenAndServe()
}

func (s *Server) handleSession(ctx context.Context, wtSession *webtransport.Session) {
	defer s.wg.Done()

	// 客户端只使用首个双向流进行所有通信
	stream, err := wtSession.AcceptStream(ctx)
	if err != nil {
		return
	}

	sess := session.New(stream, func() {
		_ = wtSession.CloseWithError(0, "session closed")
	}, s.cfg.Server.SessionSendBuffer, s.logger)
	s.registry.Add(sess)
	defer func() {
		s.router.Disconnect(ctx, sess)
		sess.Close()
	}()

	// 限时认证：到点仍未绑定用户的连接直接关闭
	authTimer := time.AfterFunc(s.cfg.Server.AuthTimeout, func() {
		if !sess.Authenticated() {
			s.logger.Warn("Session auth timeout, closing", "session_id", sess.ID())
			sess.Close()
		}
	})
	defer authTimer.Stop()

	s.logger.Info("Session connected", "session_id", sess.ID())

	// 帧按到达顺序同步处理，保证单会话内操作有序
	for {
		data, err := protocol.ReadFrame(stream)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug("Session read ended", "session_id", sess.ID(), "error", err)
			}
			return
		}
		s.router.Handle(ctx, sess, data)
	}
}

func (s *Server) loadTLSConfig() (*tls.Config, error) {
	if s.cfg.QUIC.CertFile != "" && s.cfg.QUIC.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(s.cfg.QUIC.CertFile, s.cfg.QUIC.KeyFile)
		if err != nil {
			return nil, err
		}
		s.logger.Info("Loaded TLS certificate",
			"cert_file", s.cfg.QUIC.CertFile,
			"key_file", s.cfg.QUIC.KeyFile)
		return tlsConfigFor(cert), nil
	}

	// 开发环境：生成自签名证书
	s.logger.Warn("No TLS certificate configured, using self-signed certificate")
	return devTLSConfig(s.cfg.QUIC.DevCertDir, s.logger)
}

func (s *Server) Shutdown() {
	if s.wtServer != nil {
		s.wtServer.Close()
	}
	s.wg.Wait()
}

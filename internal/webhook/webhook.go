// Package webhook HTTP 旁路接口：健康检查与平台其他服务推送的事件注入
package webhook

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/EliteScore/chat-server/internal/config"
	"github.com/EliteScore/chat-server/internal/presence"
	"github.com/EliteScore/chat-server/internal/protocol"
	"github.com/EliteScore/chat-server/internal/router"
)

// SetupRouter 设置 HTTP 路由
func SetupRouter(cfg *config.Config, r *router.Router, registry *presence.Registry, logger *slog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"sessions": registry.Count(),
		})
	})

	// 社区服务按约定推送到 /community/progression，不加前缀
	engine.POST("/community/progression", bearerAuth(cfg.Webhook.CommunitySyncToken, logger), func(c *gin.Context) {
		var event protocol.CommunityProgressionEvent
		if err := c.ShouldBindJSON(&event); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}
		if event.UserID <= 0 || event.Event == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "userId and event are required"})
			return
		}

		r.BroadcastCommunityProgression(&event)
		c.JSON(http.StatusOK, gin.H{"status": "delivered"})
	})

	return engine
}

// bearerAuth 共享密钥校验。未配置密钥时拒绝所有 webhook 调用
func bearerAuth(token string, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			logger.Warn("Webhook called but no sync token configured")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "webhook disabled"})
			return
		}

		got := extractToken(c.GetHeader("Authorization"))
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// extractToken 从 Authorization header 提取 token
func extractToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return parts[1]
}

package webhook

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/EliteScore/chat-server/internal/config"
	"github.com/EliteScore/chat-server/internal/presence"
	"github.com/EliteScore/chat-server/internal/router"
	"github.com/EliteScore/chat-server/internal/snowflake"
	"github.com/EliteScore/chat-server/internal/social"
	"github.com/EliteScore/chat-server/internal/store"
)

func newTestEngine(t *testing.T, syncToken string) http.Handler {
	t.Helper()

	cfg := config.Default()
	cfg.Webhook.CommunitySyncToken = syncToken

	graph := social.NewMemoryGraph()
	memory := store.NewMemory(snowflake.NewNode(1), cfg.Server.MaxGroupCap)
	registry := presence.NewRegistry()

	r := router.New(router.Config{
		Gate:          social.NewGate(graph),
		Directory:     graph,
		Conversations: memory,
		Groups:        memory,
		Registry:      registry,
		Logger:        slog.Default(),
	})
	return SetupRouter(cfg, r, registry, slog.Default())
}

func TestWebhook_Health(t *testing.T) {
	engine := newTestEngine(t, "")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
}

func TestWebhook_ProgressionAuth(t *testing.T) {
	engine := newTestEngine(t, "sync-secret")
	body := `{"userId":1,"event":"level_up","level":3}`

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"valid token", "Bearer sync-secret", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/community/progression", strings.NewReader(body))
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			engine.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Fatalf("Expected %d, got %d: %s", tc.want, w.Code, w.Body.String())
			}
		})
	}
}

// TestWebhook_ProgressionPath 推送端点必须挂在根路径 /community/progression 上，
// 社区服务按此约定调用，带前缀的旧路径不存在
func TestWebhook_ProgressionPath(t *testing.T) {
	engine := newTestEngine(t, "sync-secret")
	body := `{"userId":1,"event":"level_up","level":3}`

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/community/progression", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer sync-secret")
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 on /community/progression, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/webhook/community/progression", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer sync-secret")
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected 404 on prefixed path, got %d", w.Code)
	}
}

func TestWebhook_ProgressionValidation(t *testing.T) {
	engine := newTestEngine(t, "sync-secret")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/community/progression", strings.NewReader(`{"event":"level_up"}`))
	req.Header.Set("Authorization", "Bearer sync-secret")
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", w.Code)
	}
}

func TestWebhook_DisabledWithoutToken(t *testing.T) {
	engine := newTestEngine(t, "")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/community/progression", strings.NewReader(`{"userId":1,"event":"x"}`))
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503, got %d", w.Code)
	}
}

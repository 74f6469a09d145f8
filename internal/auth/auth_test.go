package auth

import (
	"context"
	"testing"
	"time"

	"github.com/EliteScore/chat-server/internal/apperr"
	"github.com/EliteScore/chat-server/internal/model"
)

const (
	testSecret = "test-secret-key"
	testIssuer = "elitescore"
)

func TestAuthenticate_Valid(t *testing.T) {
	token, err := IssueToken(testSecret, testIssuer, model.User{ID: 12345, Username: "alice"}, "web", time.Hour)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}

	a := New(testSecret, testIssuer, nil)
	user, err := a.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("Failed to authenticate: %v", err)
	}

	if user.ID != 12345 {
		t.Errorf("Expected user ID 12345, got %d", user.ID)
	}
	if user.Username != "alice" {
		t.Errorf("Expected username alice, got %s", user.Username)
	}
}

func TestAuthenticate_Missing(t *testing.T) {
	a := New(testSecret, testIssuer, nil)

	_, err := a.Authenticate(context.Background(), "")
	if !apperr.Is(err, apperr.ErrInvalidToken) {
		t.Errorf("Expected INVALID_TOKEN, got %v", err)
	}
}

func TestAuthenticate_Malformed(t *testing.T) {
	a := New(testSecret, testIssuer, nil)

	_, err := a.Authenticate(context.Background(), "not-a-jwt")
	if !apperr.Is(err, apperr.ErrInvalidToken) {
		t.Errorf("Expected INVALID_TOKEN, got %v", err)
	}
}

func TestAuthenticate_Expired(t *testing.T) {
	token, err := IssueToken(testSecret, testIssuer, model.User{ID: 1, Username: "alice"}, "web", -time.Minute)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}

	a := New(testSecret, testIssuer, nil)
	_, err = a.Authenticate(context.Background(), token)
	if !apperr.Is(err, apperr.ErrTokenExpired) {
		t.Errorf("Expected TOKEN_EXPIRED, got %v", err)
	}
}

func TestAuthenticate_WrongSecret(t *testing.T) {
	token, err := IssueToken("another-secret", testIssuer, model.User{ID: 1, Username: "alice"}, "web", time.Hour)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}

	a := New(testSecret, testIssuer, nil)
	_, err = a.Authenticate(context.Background(), token)
	if !apperr.Is(err, apperr.ErrInvalidToken) {
		t.Errorf("Expected INVALID_TOKEN, got %v", err)
	}
}

func TestAuthenticate_WrongIssuer(t *testing.T) {
	token, err := IssueToken(testSecret, "someone-else", model.User{ID: 1, Username: "alice"}, "web", time.Hour)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}

	a := New(testSecret, testIssuer, nil)
	_, err = a.Authenticate(context.Background(), token)
	if !apperr.Is(err, apperr.ErrInvalidToken) {
		t.Errorf("Expected INVALID_TOKEN, got %v", err)
	}
}

type stubChecker struct {
	current bool
}

func (s stubChecker) IsTokenCurrent(_ context.Context, _ int64, _ string, _ string) (bool, error) {
	return s.current, nil
}

func TestAuthenticate_ReplacedToken(t *testing.T) {
	token, err := IssueToken(testSecret, testIssuer, model.User{ID: 1, Username: "alice"}, "web", time.Hour)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}

	a := New(testSecret, testIssuer, stubChecker{current: false})
	_, err = a.Authenticate(context.Background(), token)
	if !apperr.Is(err, apperr.ErrInvalidToken) {
		t.Errorf("Expected INVALID_TOKEN for replaced token, got %v", err)
	}

	a = New(testSecret, testIssuer, stubChecker{current: true})
	if _, err := a.Authenticate(context.Background(), token); err != nil {
		t.Errorf("Expected success for current token, got %v", err)
	}
}

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/EliteScore/chat-server/internal/apperr"
	"github.com/EliteScore/chat-server/internal/model"
)

// TokenType Token 类型
type TokenType string

const (
	AccessToken  TokenType = "access"
	RefreshToken TokenType = "refresh"
)

// Claims JWT 声明，平台的其余服务使用同一套密钥与签发者
type Claims struct {
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	Platform  string    `json:"platform"`
	TokenType TokenType `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenChecker 校验 token 是否仍为该用户当前有效的 token。
// 被新登录替换下线的 token 不允许建立连接
type TokenChecker interface {
	IsTokenCurrent(ctx context.Context, userID int64, platform, token string) (bool, error)
}

// Authenticator 会话认证器
type Authenticator struct {
	secretKey []byte
	issuer    string
	checker   TokenChecker // 可选，nil 时跳过当前 token 校验
}

// New 创建认证器
func New(secretKey, issuer string, checker TokenChecker) *Authenticator {
	return &Authenticator{
		secretKey: []byte(secretKey),
		issuer:    issuer,
		checker:   checker,
	}
}

// Authenticate 验证 bearer token 并解析出用户身份。
// 失败时返回 apperr 认证错误，连接层据此回复 auth_error
func (a *Authenticator) Authenticate(ctx context.Context, tokenString string) (model.User, error) {
	user, _, err := a.AuthenticateSession(ctx, tokenString)
	return user, err
}

// AuthenticateSession 同 Authenticate，并返回 token 所属平台，
// 在线位置登记需要
func (a *Authenticator) AuthenticateSession(ctx context.Context, tokenString string) (model.User, string, error) {
	if tokenString == "" {
		return model.User{}, "", apperr.ErrInvalidToken.WithMessage("token is missing")
	}

	claims, err := a.parse(tokenString)
	if err != nil {
		return model.User{}, "", err
	}

	if a.checker != nil {
		current, err := a.checker.IsTokenCurrent(ctx, claims.UserID, claims.Platform, tokenString)
		if err != nil {
			return model.User{}, "", apperr.ErrInternal.Wrap(err)
		}
		if !current {
			return model.User{}, "", apperr.ErrInvalidToken.WithMessage("token has been replaced")
		}
	}

	return model.User{ID: claims.UserID, Username: claims.Username}, claims.Platform, nil
}

func (a *Authenticator) parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperr.ErrInvalidToken
		}
		return a.secretKey, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperr.ErrTokenExpired
		}
		return nil, apperr.ErrInvalidToken.Wrap(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, apperr.ErrInvalidToken
	}

	if claims.TokenType != AccessToken {
		return nil, apperr.ErrInvalidToken.WithMessage("not an access token")
	}
	if a.issuer != "" && claims.Issuer != a.issuer {
		return nil, apperr.ErrInvalidToken.WithMessage("unknown issuer")
	}
	if claims.UserID <= 0 {
		return nil, apperr.ErrInvalidToken.WithMessage("missing user id")
	}

	return claims, nil
}

// IssueToken 签发 access token，测试与本地工具使用
func IssueToken(secretKey, issuer string, user model.User, platform string, expire time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:    user.ID,
		Username:  user.Username,
		Platform:  platform,
		TokenType: AccessToken,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expire)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secretKey))
}

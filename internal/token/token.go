// Package token はアクセストークンとリフレッシュトークンの署名・検証を提供する。
// 2種類のトークンはそれぞれ別のシークレットと有効期間でHS256署名される。
// I/Oを持たない純粋な計算のみで、任意のゴルーチンから同時に呼び出せる。
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Kind はトークンの種別を表す。
type Kind string

const (
	// KindAccess は短命のアクセストークンを示す。
	KindAccess Kind = "access"
	// KindRefresh は長命のリフレッシュトークンを示す。
	KindRefresh Kind = "refresh"
)

var (
	// ErrInvalidToken は署名不一致または構造不正のトークンに対して返される。
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken は有効期限切れのトークンに対して返される。
	ErrExpiredToken = errors.New("token expired")
)

// Claims はトークンに埋め込むクレームを表す。
// アクセストークンはUserIDとSessionID、リフレッシュトークンはSessionIDのみを持つ。
type Claims struct {
	UserID    string `json:"userId,omitempty"`
	SessionID string `json:"sessionId"`
	jwt.RegisteredClaims
}

// Config はトークンサービスの設定。
type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// Service はトークンの署名・検証を行う。
type Service struct {
	config Config
}

// NewService はServiceを生成する。
// シークレット未設定は起動時の設定ミスであり、実行時に回復できないためエラーを返す。
func NewService(config Config) (*Service, error) {
	if len(config.AccessSecret) == 0 {
		return nil, errors.New("access token secret is not configured")
	}
	if len(config.RefreshSecret) == 0 {
		return nil, errors.New("refresh token secret is not configured")
	}
	return &Service{config: config}, nil
}

// TTL は指定種別のトークン有効期間を返す。Cookieの有効期間設定などに使用する。
func (s *Service) TTL(kind Kind) time.Duration {
	if kind == KindRefresh {
		return s.config.RefreshTTL
	}
	return s.config.AccessTTL
}

// Sign はクレームに種別ごとの有効期限を付与してHS256署名したトークン文字列を返す。
func (s *Service) Sign(kind Kind, claims Claims) (string, error) {
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(s.TTL(kind))),
		IssuedAt:  jwt.NewNumericDate(now),
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(s.secret(kind))
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", kind, err)
	}
	return signed, nil
}

// Verify はトークン文字列を検証し、クレームを返す。
// 署名不一致・構造不正はErrInvalidToken、期限切れはErrExpiredTokenを返す。
// ここでは暗号的・構造的な検証のみを行い、セッションの生存確認は呼び出し側の責務とする。
func (s *Service) Verify(kind Kind, tokenStr string) (*Claims, error) {
	claims := &Claims{}
	t, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret(kind), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !t.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// secret は指定種別の署名シークレットを返す。
func (s *Service) secret(kind Kind) []byte {
	if kind == KindRefresh {
		return s.config.RefreshSecret
	}
	return s.config.AccessSecret
}

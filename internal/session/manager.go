// Package session はログインセッションの作成・検索・失効とトークン発行を提供する。
// セッションの生存はレコードの存在のみで判定し、リフレッシュトークンの償還時に
// 必ず再確認されるため、レコード削除だけで個別デバイスのアクセスを取り消せる。
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/repository"
	"github.com/hitoshi/authgate/internal/token"
)

// TokenSigner はセッションに紐づくトークンの署名に必要なインターフェース。
// token.Serviceの部分集合として定義する。
type TokenSigner interface {
	Sign(kind token.Kind, claims token.Claims) (string, error)
}

// TokenPair はログイン成功時に発行されるトークンの組を表す。
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Manager はセッションのライフサイクルを管理する。
// セッションレコードの唯一の書き込み主体であり、リポジトリは指示された内容のみ永続化する。
type Manager struct {
	sessions repository.SessionRepository
	tokens   TokenSigner
}

// NewManager はManagerを生成する。
func NewManager(sessions repository.SessionRepository, tokens TokenSigner) *Manager {
	return &Manager{
		sessions: sessions,
		tokens:   tokens,
	}
}

// Create は新しいセッションを作成して永続化する。
// userAgentはクライアント識別用の自由記述文字列で、作成後は変更されない。
func (m *Manager) Create(ctx context.Context, userID, userAgent string) (*model.Session, error) {
	session := &model.Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		UserAgent: userAgent,
		CreatedAt: time.Now(),
	}

	if err := m.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("session created",
		slog.String("session_id", session.ID),
		slog.String("user_id", userID),
	)

	return session, nil
}

// Get は指定IDのセッションを取得する。見つからない場合はnilを返す。
// リフレッシュトークン償還時の生存確認に使用する。
func (m *Manager) Get(ctx context.Context, id string) (*model.Session, error) {
	session, err := m.sessions.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return session, nil
}

// Invalidate は指定IDのセッションを失効させる。
// 既に存在しないセッションの失効は失効済みとみなし、エラーにしない（冪等）。
func (m *Manager) Invalidate(ctx context.Context, id string) error {
	if err := m.sessions.DeleteByID(ctx, id); err != nil {
		return fmt.Errorf("failed to invalidate session: %w", err)
	}

	slog.Info("session invalidated", slog.String("session_id", id))
	return nil
}

// InvalidateAllForUser は指定ユーザーの全セッションを失効させる（全デバイスからログアウト）。
func (m *Manager) InvalidateAllForUser(ctx context.Context, userID string) error {
	if err := m.sessions.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("failed to invalidate user sessions: %w", err)
	}

	slog.Info("all sessions invalidated", slog.String("user_id", userID))
	return nil
}

// IssueTokenPair は新しいセッションを作成し、それに紐づく
// アクセストークン（userId+sessionId）とリフレッシュトークン（sessionIdのみ）を署名して返す。
// ログイン成功後にトークンを発行する唯一の経路。
func (m *Manager) IssueTokenPair(ctx context.Context, userID, userAgent string) (*model.Session, *TokenPair, error) {
	session, err := m.Create(ctx, userID, userAgent)
	if err != nil {
		return nil, nil, err
	}

	accessToken, err := m.tokens.Sign(token.KindAccess, token.Claims{
		UserID:    userID,
		SessionID: session.ID,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	refreshToken, err := m.tokens.Sign(token.KindRefresh, token.Claims{
		SessionID: session.ID,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	return session, &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

// Package auth はユーザー登録・パスワードログイン・トークン更新・ログアウトを提供する。
//
// パスワードはbcryptでハッシュ化して保存し、平文は保持しない。
// MFAが有効なアカウントのパスワードログインはトークンを発行せず、
// 第二要素の検証（mfaパッケージ）へ誘導する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/authgate/internal/mail"
	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/repository"
	"github.com/hitoshi/authgate/internal/session"
	"github.com/hitoshi/authgate/internal/token"
)

// SessionManager はログイン・ログアウトに必要なセッション操作のインターフェース。
// session.Managerの部分集合として定義する。
type SessionManager interface {
	IssueTokenPair(ctx context.Context, userID, userAgent string) (*model.Session, *session.TokenPair, error)
	Get(ctx context.Context, id string) (*model.Session, error)
	Invalidate(ctx context.Context, id string) error
	InvalidateAllForUser(ctx context.Context, userID string) error
}

// TokenVerifier はリフレッシュトークンの検証と新アクセストークンの署名に
// 必要なインターフェース。token.Serviceの部分集合として定義する。
type TokenVerifier interface {
	Sign(kind token.Kind, claims token.Claims) (string, error)
	Verify(kind token.Kind, tokenString string) (*token.Claims, error)
}

// MetricsRecorder はログイン結果とセッション失効の計測に必要なインターフェース。
type MetricsRecorder interface {
	RecordLogin(result string)
	RecordSessionRevoked()
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	users    repository.UserRepository
	sessions SessionManager
	tokens   TokenVerifier
	mailer   mail.Mailer
	metrics  MetricsRecorder
}

// NewService はServiceを生成する。
func NewService(users repository.UserRepository, sessions SessionManager, tokens TokenVerifier, mailer mail.Mailer, metrics MetricsRecorder) *Service {
	return &Service{
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		mailer:   mailer,
		metrics:  metrics,
	}
}

// LoginResult はパスワードログインの結果を表す。
// MFARequiredがtrueの場合、トークンは発行されず第二要素の検証が必要。
type LoginResult struct {
	User         *model.User
	Session      *model.Session
	AccessToken  string
	RefreshToken string
	MFARequired  bool
}

// RefreshResult はトークン更新の結果を表す。
type RefreshResult struct {
	User        *model.User
	SessionID   string
	AccessToken string
}

// Register は新規ユーザーを登録する。
// メールアドレスは正規化して保存し、重複時はEMAIL_TAKENを返す。
// 登録完了メールの送信失敗は登録自体を失敗させない。
func (s *Service) Register(ctx context.Context, email, name, password string) (*model.User, error) {
	email = normalizeEmail(email)

	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}
	if existing != nil {
		return nil, model.NewEmailTakenError()
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user registered", slog.String("user_id", user.ID))

	if err := s.mailer.SendWelcome(ctx, user.Email, user.Name); err != nil {
		slog.Warn("failed to send welcome mail",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	return user, nil
}

// Login はメールアドレスとパスワードで認証する。
// ユーザーの存在有無を漏らさないよう、未登録でもパスワード不一致でも
// 同じINVALID_CREDENTIALSを返す。
// MFAが有効なアカウントではトークンを発行せず、MFARequiredを返す。
func (s *Service) Login(ctx context.Context, email, password, userAgent string) (*LoginResult, error) {
	user, err := s.users.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		s.metrics.RecordLogin("failure")
		return nil, model.NewInvalidCredentialsError()
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.metrics.RecordLogin("failure")
		slog.Warn("password mismatch", slog.String("user_id", user.ID))
		return nil, model.NewInvalidCredentialsError()
	}

	if user.MFAEnabled {
		s.metrics.RecordLogin("mfa_required")
		slog.Info("login requires second factor", slog.String("user_id", user.ID))
		return &LoginResult{User: user, MFARequired: true}, nil
	}

	sess, pair, err := s.sessions.IssueTokenPair(ctx, user.ID, userAgent)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordLogin("success")
	slog.Info("login succeeded",
		slog.String("user_id", user.ID),
		slog.String("session_id", sess.ID),
	)

	return &LoginResult{
		User:         user,
		Session:      sess,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, nil
}

// Refresh はリフレッシュトークンを検証し、新しいアクセストークンを発行する。
// セッションレコードが存在しない場合は失効済みとしてSESSION_NOT_FOUNDを返す。
// リフレッシュトークン自体は再発行しない。
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	claims, err := s.tokens.Verify(token.KindRefresh, refreshToken)
	if err != nil {
		if errors.Is(err, token.ErrExpiredToken) {
			return nil, model.NewTokenExpiredError()
		}
		return nil, model.NewUnauthorizedError()
	}

	sess, err := s.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if sess == nil {
		return nil, model.NewSessionNotFoundError()
	}

	user, err := s.users.FindByID(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	accessToken, err := s.tokens.Sign(token.KindAccess, token.Claims{
		UserID:    user.ID,
		SessionID: sess.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	slog.Info("access token refreshed",
		slog.String("user_id", user.ID),
		slog.String("session_id", sess.ID),
	)

	return &RefreshResult{
		User:        user,
		SessionID:   sess.ID,
		AccessToken: accessToken,
	}, nil
}

// Logout は現在のセッションを失効させる。
// 既に失効済みでもエラーにしない（冪等）。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if err := s.sessions.Invalidate(ctx, sessionID); err != nil {
		return err
	}
	s.metrics.RecordSessionRevoked()
	return nil
}

// LogoutAll は対象ユーザーの全セッションを失効させる（全デバイスからログアウト）。
func (s *Service) LogoutAll(ctx context.Context, userID string) error {
	if err := s.sessions.InvalidateAllForUser(ctx, userID); err != nil {
		return err
	}
	s.metrics.RecordSessionRevoked()
	return nil
}

// normalizeEmail はメールアドレスを小文字・前後空白除去で正規化する。
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

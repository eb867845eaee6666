// Package mfa はTOTPによる多要素認証の登録・検証・失効とMFAログインを提供する。
//
// ユーザーごとの状態遷移は Disabled → PendingEnrollment → Enabled と
// Enabled → Disabled（失効）のみを許可する。
// TOTPはRFC 6238準拠の30秒ステップで、時計ずれ許容は前後±1ステップ
// （totp.Validateの既定動作）とする。
package mfa

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/pquerna/otp/totp"

	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/repository"
	"github.com/hitoshi/authgate/internal/session"
)

// SessionIssuer はMFAログイン成功時のセッション作成とトークン発行に必要なインターフェース。
// session.Managerの部分集合として定義する。
type SessionIssuer interface {
	IssueTokenPair(ctx context.Context, userID, userAgent string) (*model.Session, *session.TokenPair, error)
}

// MetricsRecorder はMFA検証結果の計測に必要なインターフェース。
type MetricsRecorder interface {
	RecordMFAVerify(context, result string)
}

// Service はMFAに関するビジネスロジックを提供する。
type Service struct {
	users    repository.UserRepository
	sessions SessionIssuer
	metrics  MetricsRecorder
	issuer   string
}

// NewService はServiceを生成する。
// issuerは認証アプリに表示されるサービス名（otpauth URIのissuer）。
func NewService(users repository.UserRepository, sessions SessionIssuer, metrics MetricsRecorder, issuer string) *Service {
	return &Service{
		users:    users,
		sessions: sessions,
		metrics:  metrics,
		issuer:   issuer,
	}
}

// SetupResult はMFA登録開始の結果を表す。
type SetupResult struct {
	Message        string
	Secret         string
	EnrollmentURI  string
	AlreadyEnabled bool
}

// VerifyResult はMFA設定検証・失効の結果を表す。
type VerifyResult struct {
	Message    string
	MFAEnabled bool
}

// LoginResult はMFAログイン成功の結果を表す。
type LoginResult struct {
	User         *model.User
	Session      *model.Session
	AccessToken  string
	RefreshToken string
}

// GenerateSetup はMFA登録用のシークレットと登録URIを発行する。
// 既に有効な場合は変更を行わず「有効済み」の結果を返す（冪等）。
// 未完了の登録が残っている場合は既存シークレットを再利用し、
// 新規の場合のみ暗号的に安全なシークレットを生成して保存する（PendingEnrollmentへ遷移）。
func (s *Service) GenerateSetup(ctx context.Context, user *model.User) (*SetupResult, error) {
	if user.MFAEnabled {
		return &SetupResult{
			Message:        "MFAは既に有効です。",
			AlreadyEnabled: true,
		}, nil
	}

	secret := user.MFASecret
	if secret == "" {
		key, err := totp.Generate(totp.GenerateOpts{
			Issuer:      s.issuer,
			AccountName: user.Name,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to generate totp secret: %w", err)
		}
		secret = key.Secret()

		if err := s.users.UpdateMFA(ctx, user.ID, false, secret); err != nil {
			return nil, fmt.Errorf("failed to save pending mfa secret: %w", err)
		}
		user.MFASecret = secret

		slog.Info("mfa enrollment started", slog.String("user_id", user.ID))
	}

	return &SetupResult{
		Message:       "QRコードをスキャンするか、セットアップキーを入力してください。",
		Secret:        secret,
		EnrollmentURI: enrollmentURI(s.issuer, user.Name, secret),
	}, nil
}

// VerifySetup は認証アプリが生成したコードを検証し、一致すればMFAを有効化する。
// 既に有効な場合は再検証せず成功扱いで返す（冪等）。
// コード不一致の場合は状態を変更せずINVALID_MFA_CODEを返す。
// 有効化はGenerateSetupが発行した保留中シークレットに対してのみ行える。
func (s *Service) VerifySetup(ctx context.Context, user *model.User, code, secretKey string) (*VerifyResult, error) {
	if user.MFAEnabled {
		return &VerifyResult{
			Message:    "MFAは既に有効です。",
			MFAEnabled: true,
		}, nil
	}

	// サーバーが発行していないシークレットでの有効化は認めない
	if user.MFASecret == "" || user.MFASecret != secretKey {
		s.metrics.RecordMFAVerify("setup", "failure")
		return nil, model.NewInvalidMfaCodeError()
	}

	if !totp.Validate(code, secretKey) {
		s.metrics.RecordMFAVerify("setup", "failure")
		return nil, model.NewInvalidMfaCodeError()
	}

	if err := s.users.UpdateMFA(ctx, user.ID, true, secretKey); err != nil {
		return nil, fmt.Errorf("failed to enable mfa: %w", err)
	}
	user.MFAEnabled = true

	s.metrics.RecordMFAVerify("setup", "success")
	slog.Info("mfa enabled", slog.String("user_id", user.ID))

	return &VerifyResult{
		Message:    "MFAの設定が完了しました。",
		MFAEnabled: true,
	}, nil
}

// Revoke はMFAを無効化し、シークレットを削除する（Disabledへ遷移）。
// 既に無効な場合は変更を行わず成功扱いで返す（冪等）。
// 有効フラグとシークレットは1回の更新で同時にクリアされる。
func (s *Service) Revoke(ctx context.Context, user *model.User) (*VerifyResult, error) {
	if !user.MFAEnabled {
		return &VerifyResult{
			Message:    "MFAは有効になっていません。",
			MFAEnabled: false,
		}, nil
	}

	if err := s.users.UpdateMFA(ctx, user.ID, false, ""); err != nil {
		return nil, fmt.Errorf("failed to revoke mfa: %w", err)
	}
	user.MFAEnabled = false
	user.MFASecret = ""

	slog.Info("mfa revoked", slog.String("user_id", user.ID))

	return &VerifyResult{
		Message:    "MFAを無効化しました。",
		MFAEnabled: false,
	}, nil
}

// VerifyForLogin はログイン時の第二要素としてTOTPコードを検証し、
// 成功時にセッションを作成してアクセス・リフレッシュトークンを発行する。
// 第一要素（パスワード）の確認はこの呼び出しの前に完了していることが前提で、
// ここでは第二要素のみを検査する。MFAが有効なアカウントに対して
// トークンを発行する唯一の経路。
func (s *Service) VerifyForLogin(ctx context.Context, code, email, userAgent string) (*LoginResult, error) {
	user, err := s.users.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	if !user.MFAEnabled && user.MFASecret == "" {
		return nil, model.NewMfaNotEnabledError()
	}

	if !totp.Validate(code, user.MFASecret) {
		s.metrics.RecordMFAVerify("login", "failure")
		slog.Warn("mfa login code mismatch", slog.String("user_id", user.ID))
		return nil, model.NewInvalidMfaCodeError()
	}

	sess, pair, err := s.sessions.IssueTokenPair(ctx, user.ID, userAgent)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordMFAVerify("login", "success")
	slog.Info("mfa login verified",
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

// normalizeEmail はメールアドレスを小文字・前後空白除去で正規化する。
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// enrollmentURI は認証アプリ登録用のotpauth URIを構築する。
// totp.Generateが生成するURLと同じ形式（issuer・account label・secret入り）で、
// 既存の保留中シークレットを再利用する場合にも同一のURIを導出できる。
func enrollmentURI(issuer, accountName, secret string) string {
	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", issuer)

	u := url.URL{
		Scheme:   "otpauth",
		Host:     "totp",
		Path:     "/" + issuer + ":" + accountName,
		RawQuery: v.Encode(),
	}
	return u.String()
}

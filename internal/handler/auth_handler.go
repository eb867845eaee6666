package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/mail"
	"strings"

	"github.com/hitoshi/authgate/internal/auth"
	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/model"
)

// passwordMinLength は登録時に要求するパスワードの最小長。
const passwordMinLength = 8

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, email, name, password string) (*model.User, error)
	Login(ctx context.Context, email, password, userAgent string) (*auth.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (*auth.RefreshResult, error)
	Logout(ctx context.Context, sessionID string) error
	LogoutAll(ctx context.Context, userID string) error
}

// AuthHandler は認証のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	cookies CookieConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, cookies CookieConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		cookies: cookies,
	}
}

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Message     string        `json:"message"`
	MFARequired bool          `json:"mfaRequired"`
	User        *userResponse `json:"user,omitempty"`
}

// Register は新規ユーザーを登録する。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("リクエストボディを解析できません"))
		return
	}

	if apiErr := validateRegisterRequest(req); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	user, err := h.service.Register(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := toUserResponse(user)
	writeJSONResponse(w, http.StatusCreated, map[string]any{
		"message": "登録が完了しました。",
		"user":    resp,
	})
}

// Login はメールアドレスとパスワードで認証し、トークンCookieを設定する。
// MFAが有効なアカウントではCookieを設定せず、mfaRequiredを返す。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("リクエストボディを解析できません"))
		return
	}

	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("メールアドレスとパスワードは必須です"))
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password, r.UserAgent())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if result.MFARequired {
		writeJSONResponse(w, http.StatusOK, loginResponse{
			Message:     "MFAコードを入力してください。",
			MFARequired: true,
		})
		return
	}

	setAuthCookies(w, h.cookies, result.AccessToken, result.RefreshToken)

	resp := toUserResponse(result.User)
	writeJSONResponse(w, http.StatusOK, loginResponse{
		Message: "ログインしました。",
		User:    &resp,
	})
}

// Refresh はリフレッシュトークンCookieから新しいアクセストークンを発行する。
// POST /auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(RefreshTokenCookieName)
	if err != nil || cookie.Value == "" {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	result, err := h.service.Refresh(r.Context(), cookie.Value)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	setAccessTokenCookie(w, h.cookies, result.AccessToken)

	resp := toUserResponse(result.User)
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"message": "アクセストークンを更新しました。",
		"user":    resp,
	})
}

// Logout は現在のセッションを失効させ、トークンCookieを削除する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	if err := h.service.Logout(r.Context(), principal.SessionID); err != nil {
		handleServiceError(w, err)
		return
	}

	clearAuthCookies(w, h.cookies)
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll は対象ユーザーの全セッションを失効させる。
// POST /auth/logout-all
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	if err := h.service.LogoutAll(r.Context(), principal.User.ID); err != nil {
		handleServiceError(w, err)
		return
	}

	clearAuthCookies(w, h.cookies)
	w.WriteHeader(http.StatusNoContent)
}

// Me は現在の認証済みユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"user": toUserResponse(principal.User),
	})
}

// validateRegisterRequest は登録リクエストの入力値を検証する。
func validateRegisterRequest(req registerRequest) *model.APIError {
	if strings.TrimSpace(req.Email) == "" {
		return model.NewValidationError("メールアドレスは必須です")
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(req.Email)); err != nil {
		return model.NewValidationError("メールアドレスの形式が正しくありません")
	}
	if strings.TrimSpace(req.Name) == "" {
		return model.NewValidationError("名前は必須です")
	}
	if len(req.Password) < passwordMinLength {
		return model.NewValidationError("パスワードは8文字以上にしてください")
	}
	return nil
}

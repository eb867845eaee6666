package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/hitoshi/authgate/internal/mfa"
	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/model"
)

// MFAServiceInterface はMFAハンドラーが必要とするサービスインターフェース。
type MFAServiceInterface interface {
	GenerateSetup(ctx context.Context, user *model.User) (*mfa.SetupResult, error)
	VerifySetup(ctx context.Context, user *model.User, code, secretKey string) (*mfa.VerifyResult, error)
	Revoke(ctx context.Context, user *model.User) (*mfa.VerifyResult, error)
	VerifyForLogin(ctx context.Context, code, email, userAgent string) (*mfa.LoginResult, error)
}

// MFAHandler は多要素認証のHTTPハンドラー。
type MFAHandler struct {
	service MFAServiceInterface
	cookies CookieConfig
}

// NewMFAHandler はMFAHandlerを生成する。
func NewMFAHandler(service MFAServiceInterface, cookies CookieConfig) *MFAHandler {
	return &MFAHandler{
		service: service,
		cookies: cookies,
	}
}

type verifySetupRequest struct {
	Code      string `json:"code"`
	SecretKey string `json:"secretKey"`
}

type verifyLoginRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// Setup はMFA登録用のシークレットと登録URIを発行する。
// GET /mfa/setup
func (h *MFAHandler) Setup(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	result, err := h.service.GenerateSetup(r.Context(), principal.User)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if result.AlreadyEnabled {
		writeJSONResponse(w, http.StatusOK, map[string]any{
			"message":    result.Message,
			"mfaEnabled": true,
		})
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"message":       result.Message,
		"secretKey":     result.Secret,
		"enrollmentUri": result.EnrollmentURI,
	})
}

// Verify は認証アプリのコードを検証してMFAを有効化する。
// POST /mfa/verify
func (h *MFAHandler) Verify(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req verifySetupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("リクエストボディを解析できません"))
		return
	}

	if apiErr := validateTOTPCode(req.Code); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}
	if strings.TrimSpace(req.SecretKey) == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("secretKeyは必須です"))
		return
	}

	result, err := h.service.VerifySetup(r.Context(), principal.User, req.Code, req.SecretKey)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"message":    result.Message,
		"mfaEnabled": result.MFAEnabled,
	})
}

// Revoke はMFAを無効化する。
// PUT /mfa/revoke
func (h *MFAHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	result, err := h.service.Revoke(r.Context(), principal.User)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"message":    result.Message,
		"mfaEnabled": result.MFAEnabled,
	})
}

// VerifyLogin はログインの第二要素としてコードを検証し、トークンCookieを設定する。
// POST /mfa/verify-login
func (h *MFAHandler) VerifyLogin(w http.ResponseWriter, r *http.Request) {
	var req verifyLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("リクエストボディを解析できません"))
		return
	}

	if strings.TrimSpace(req.Email) == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("メールアドレスは必須です"))
		return
	}
	if apiErr := validateTOTPCode(req.Code); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	result, err := h.service.VerifyForLogin(r.Context(), req.Code, req.Email, r.UserAgent())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	setAuthCookies(w, h.cookies, result.AccessToken, result.RefreshToken)

	resp := toUserResponse(result.User)
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"message": "ログインしました。",
		"user":    resp,
	})
}

// validateTOTPCode はTOTPコードの入力値を検証する。
// コードは1〜6文字を受け付け、正否の判定はサービス層で行う。
func validateTOTPCode(code string) *model.APIError {
	code = strings.TrimSpace(code)
	if code == "" {
		return model.NewValidationError("MFAコードは必須です")
	}
	if len(code) > 6 {
		return model.NewValidationError("MFAコードは6文字以内で入力してください")
	}
	return nil
}

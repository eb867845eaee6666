package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/authgate/internal/mfa"
	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/model"
)

// --- モック定義 ---

// mockMFAService はMFAServiceInterfaceのモック実装。
type mockMFAService struct {
	generateSetupFn  func(ctx context.Context, user *model.User) (*mfa.SetupResult, error)
	verifySetupFn    func(ctx context.Context, user *model.User, code, secretKey string) (*mfa.VerifyResult, error)
	revokeFn         func(ctx context.Context, user *model.User) (*mfa.VerifyResult, error)
	verifyForLoginFn func(ctx context.Context, code, email, userAgent string) (*mfa.LoginResult, error)
}

func (m *mockMFAService) GenerateSetup(ctx context.Context, user *model.User) (*mfa.SetupResult, error) {
	if m.generateSetupFn != nil {
		return m.generateSetupFn(ctx, user)
	}
	return &mfa.SetupResult{Secret: "GENERATEDSECRET23456", EnrollmentURI: "otpauth://totp/test"}, nil
}

func (m *mockMFAService) VerifySetup(ctx context.Context, user *model.User, code, secretKey string) (*mfa.VerifyResult, error) {
	if m.verifySetupFn != nil {
		return m.verifySetupFn(ctx, user, code, secretKey)
	}
	return &mfa.VerifyResult{MFAEnabled: true}, nil
}

func (m *mockMFAService) Revoke(ctx context.Context, user *model.User) (*mfa.VerifyResult, error) {
	if m.revokeFn != nil {
		return m.revokeFn(ctx, user)
	}
	return &mfa.VerifyResult{MFAEnabled: false}, nil
}

func (m *mockMFAService) VerifyForLogin(ctx context.Context, code, email, userAgent string) (*mfa.LoginResult, error) {
	if m.verifyForLoginFn != nil {
		return m.verifyForLoginFn(ctx, code, email, userAgent)
	}
	return nil, model.NewInvalidMfaCodeError()
}

// --- GET /mfa/setup テスト ---

func TestMFAHandler_Setup_ReturnsSecretAndURI(t *testing.T) {
	h := NewMFAHandler(&mockMFAService{}, testCookieConfig())

	req := httptest.NewRequest(http.MethodGet, "/mfa/setup", nil)
	req = withPrincipal(req, &model.User{ID: "user-1", Name: "taro"}, "session-1")
	w := httptest.NewRecorder()

	h.Setup(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	got := decodeBody(t, resp)
	if got["secretKey"] != "GENERATEDSECRET23456" {
		t.Errorf("secretKey = %v, want %q", got["secretKey"], "GENERATEDSECRET23456")
	}
	if got["enrollmentUri"] != "otpauth://totp/test" {
		t.Errorf("enrollmentUri = %v, want %q", got["enrollmentUri"], "otpauth://totp/test")
	}
}

func TestMFAHandler_Setup_AlreadyEnabled_OmitsSecret(t *testing.T) {
	svc := &mockMFAService{
		generateSetupFn: func(ctx context.Context, user *model.User) (*mfa.SetupResult, error) {
			return &mfa.SetupResult{Message: "MFAは既に有効です。", AlreadyEnabled: true}, nil
		},
	}
	h := NewMFAHandler(svc, testCookieConfig())

	req := httptest.NewRequest(http.MethodGet, "/mfa/setup", nil)
	req = withPrincipal(req, &model.User{ID: "user-1", MFAEnabled: true}, "session-1")
	w := httptest.NewRecorder()

	h.Setup(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	got := decodeBody(t, resp)
	if got["mfaEnabled"] != true {
		t.Errorf("mfaEnabled = %v, want true", got["mfaEnabled"])
	}
	if _, ok := got["secretKey"]; ok {
		t.Error("secretKey should not be returned for an enabled account")
	}
}

func TestMFAHandler_Setup_NoPrincipal_ReturnsUnauthorized(t *testing.T) {
	h := NewMFAHandler(&mockMFAService{}, testCookieConfig())

	req := httptest.NewRequest(http.MethodGet, "/mfa/setup", nil)
	w := httptest.NewRecorder()

	h.Setup(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

// --- POST /mfa/verify テスト ---

func TestMFAHandler_Verify_Success(t *testing.T) {
	svc := &mockMFAService{
		verifySetupFn: func(ctx context.Context, user *model.User, code, secretKey string) (*mfa.VerifyResult, error) {
			if code != "123456" {
				t.Errorf("code = %q, want %q", code, "123456")
			}
			if secretKey != "GENERATEDSECRET23456" {
				t.Errorf("secretKey = %q, want %q", secretKey, "GENERATEDSECRET23456")
			}
			return &mfa.VerifyResult{Message: "MFAの設定が完了しました。", MFAEnabled: true}, nil
		},
	}
	h := NewMFAHandler(svc, testCookieConfig())

	body := `{"code":"123456","secretKey":"GENERATEDSECRET23456"}`
	req := httptest.NewRequest(http.MethodPost, "/mfa/verify", strings.NewReader(body))
	req = withPrincipal(req, &model.User{ID: "user-1"}, "session-1")
	w := httptest.NewRecorder()

	h.Verify(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	got := decodeBody(t, resp)
	if got["mfaEnabled"] != true {
		t.Errorf("mfaEnabled = %v, want true", got["mfaEnabled"])
	}
}

func TestMFAHandler_Verify_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "コードなし", body: `{"secretKey":"GENERATEDSECRET23456"}`},
		{name: "コードが長すぎる", body: `{"code":"1234567","secretKey":"GENERATEDSECRET23456"}`},
		{name: "secretKeyなし", body: `{"code":"123456"}`},
		{name: "ボディ不正", body: `{not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verifyCalled := false
			svc := &mockMFAService{
				verifySetupFn: func(ctx context.Context, user *model.User, code, secretKey string) (*mfa.VerifyResult, error) {
					verifyCalled = true
					return nil, nil
				},
			}
			h := NewMFAHandler(svc, testCookieConfig())

			req := httptest.NewRequest(http.MethodPost, "/mfa/verify", strings.NewReader(tt.body))
			req = withPrincipal(req, &model.User{ID: "user-1"}, "session-1")
			w := httptest.NewRecorder()

			h.Verify(w, req)

			if w.Result().StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
			}
			if verifyCalled {
				t.Error("service should not be called on validation failure")
			}
		})
	}
}

func TestMFAHandler_Verify_InvalidCode_ReturnsBadRequest(t *testing.T) {
	svc := &mockMFAService{
		verifySetupFn: func(ctx context.Context, user *model.User, code, secretKey string) (*mfa.VerifyResult, error) {
			return nil, model.NewInvalidMfaCodeError()
		},
	}
	h := NewMFAHandler(svc, testCookieConfig())

	body := `{"code":"000000","secretKey":"GENERATEDSECRET23456"}`
	req := httptest.NewRequest(http.MethodPost, "/mfa/verify", strings.NewReader(body))
	req = withPrincipal(req, &model.User{ID: "user-1"}, "session-1")
	w := httptest.NewRecorder()

	h.Verify(w, req)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
	}
}

// --- PUT /mfa/revoke テスト ---

func TestMFAHandler_Revoke_Success(t *testing.T) {
	revokeCalled := false
	svc := &mockMFAService{
		revokeFn: func(ctx context.Context, user *model.User) (*mfa.VerifyResult, error) {
			revokeCalled = true
			return &mfa.VerifyResult{Message: "MFAを無効化しました。", MFAEnabled: false}, nil
		},
	}
	h := NewMFAHandler(svc, testCookieConfig())

	req := httptest.NewRequest(http.MethodPut, "/mfa/revoke", nil)
	req = withPrincipal(req, &model.User{ID: "user-1", MFAEnabled: true}, "session-1")
	w := httptest.NewRecorder()

	h.Revoke(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if !revokeCalled {
		t.Error("expected Revoke to be called")
	}

	got := decodeBody(t, resp)
	if got["mfaEnabled"] != false {
		t.Errorf("mfaEnabled = %v, want false", got["mfaEnabled"])
	}
}

// --- POST /mfa/verify-login テスト ---

func TestMFAHandler_VerifyLogin_Success_SetsCookies(t *testing.T) {
	svc := &mockMFAService{
		verifyForLoginFn: func(ctx context.Context, code, email, userAgent string) (*mfa.LoginResult, error) {
			return &mfa.LoginResult{
				User:         &model.User{ID: "user-1", Email: email, MFAEnabled: true},
				Session:      &model.Session{ID: "session-1", UserID: "user-1"},
				AccessToken:  "signed-access-token",
				RefreshToken: "signed-refresh-token",
			}, nil
		},
	}
	h := NewMFAHandler(svc, testCookieConfig())

	body := `{"email":"taro@example.com","code":"123456"}`
	req := httptest.NewRequest(http.MethodPost, "/mfa/verify-login", strings.NewReader(body))
	w := httptest.NewRecorder()

	h.VerifyLogin(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	if c := findCookie(t, resp, middleware.AccessTokenCookieName); c == nil || c.Value != "signed-access-token" {
		t.Error("access_token cookie was not set correctly")
	}
	if c := findCookie(t, resp, RefreshTokenCookieName); c == nil || c.Value != "signed-refresh-token" {
		t.Error("refresh_token cookie was not set correctly")
	}
}

func TestMFAHandler_VerifyLogin_InvalidCode_NoCookies(t *testing.T) {
	h := NewMFAHandler(&mockMFAService{}, testCookieConfig())

	body := `{"email":"taro@example.com","code":"000000"}`
	req := httptest.NewRequest(http.MethodPost, "/mfa/verify-login", strings.NewReader(body))
	w := httptest.NewRecorder()

	h.VerifyLogin(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	if len(resp.Cookies()) != 0 {
		t.Error("cookies were set despite code mismatch")
	}
}

func TestMFAHandler_VerifyLogin_NotEnrolled_ReturnsBadRequest(t *testing.T) {
	svc := &mockMFAService{
		verifyForLoginFn: func(ctx context.Context, code, email, userAgent string) (*mfa.LoginResult, error) {
			return nil, model.NewMfaNotEnabledError()
		},
	}
	h := NewMFAHandler(svc, testCookieConfig())

	body := `{"email":"taro@example.com","code":"123456"}`
	req := httptest.NewRequest(http.MethodPost, "/mfa/verify-login", strings.NewReader(body))
	w := httptest.NewRecorder()

	h.VerifyLogin(w, req)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestMFAHandler_VerifyLogin_MissingEmail_ReturnsBadRequest(t *testing.T) {
	h := NewMFAHandler(&mockMFAService{}, testCookieConfig())

	body := `{"code":"123456"}`
	req := httptest.NewRequest(http.MethodPost, "/mfa/verify-login", strings.NewReader(body))
	w := httptest.NewRecorder()

	h.VerifyLogin(w, req)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
	}
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/authgate/internal/model"
)

func testRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(1),
		GeneralBurst:    3,
		LoginRate:       rate.Limit(1),
		LoginBurst:      2,
		CleanupInterval: time.Hour,
	}
}

func requestWithPrincipal(userID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	principal := &Principal{
		User:      &model.User{ID: userID},
		SessionID: "session-1",
	}
	return req.WithContext(ContextWithPrincipal(req.Context(), principal))
}

// バースト内のリクエストが通り、超過分が429になることを検証
func TestRateLimiter_General_BurstThenLimit(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// バーストサイズ3まで許可
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestWithPrincipal("user-1"))
		if w.Result().StatusCode != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i+1, w.Result().StatusCode, http.StatusOK)
		}
	}

	// 4回目は拒否される
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestWithPrincipal("user-1"))
	if w.Result().StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusTooManyRequests)
	}
	if w.Result().Header.Get("Retry-After") == "" {
		t.Error("Retry-After header is missing")
	}
}

// ユーザーごとに独立したリミッターが使われることを検証
func TestRateLimiter_General_PerUser(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// user-1のバーストを使い切る
	for i := 0; i < 4; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), requestWithPrincipal("user-1"))
	}

	// user-2は影響を受けない
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestWithPrincipal("user-2"))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}

	if got := rl.GeneralLimiterCount(); got != 2 {
		t.Errorf("GeneralLimiterCount() = %d, want 2", got)
	}
}

// 未認証リクエストが401になることを検証
func TestRateLimiter_General_RequiresPrincipal(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/me", nil))

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

// ログイン系リミッターがクライアントIP単位で制限することを検証
func TestRateLimiter_Login_PerClientIP(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.LoginMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	newReq := func(remoteAddr string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = remoteAddr
		return req
	}

	// 同一IPからバーストサイズ2まで許可、3回目は拒否
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, newReq("10.0.0.1:51000"))
		if w.Result().StatusCode != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i+1, w.Result().StatusCode, http.StatusOK)
		}
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, newReq("10.0.0.1:51000"))
	if w.Result().StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusTooManyRequests)
	}

	// 別IPは影響を受けない
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, newReq("10.0.0.2:51000"))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("other IP status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

// X-Forwarded-Forの先頭IPがキーとして使われることを検証
func TestRateLimiter_Login_XForwardedFor(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.LoginMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// 同じ転送元IPはRemoteAddrが異なっても同一キーになる
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = "127.0.0.1:5100" + string(rune('0'+i))
		req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	if got := rl.LoginLimiterCount(); got != 1 {
		t.Errorf("LoginLimiterCount() = %d, want 1", got)
	}
}

// NewRateLimiterConfigが毎分リクエスト数をレートに変換することを検証
func TestNewRateLimiterConfig(t *testing.T) {
	config := NewRateLimiterConfig(120, 10)

	if config.GeneralRate != rate.Limit(2) {
		t.Errorf("GeneralRate = %v, want %v", config.GeneralRate, rate.Limit(2))
	}
	if config.GeneralBurst != 120 {
		t.Errorf("GeneralBurst = %d, want 120", config.GeneralBurst)
	}
	if config.LoginRate != rate.Limit(10.0/60.0) {
		t.Errorf("LoginRate = %v, want %v", config.LoginRate, rate.Limit(10.0/60.0))
	}
	if config.LoginBurst != 10 {
		t.Errorf("LoginBurst = %d, want 10", config.LoginBurst)
	}
}

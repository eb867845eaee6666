package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/middleware"
)

// HealthChecker はヘルスチェックに必要なインターフェース。sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	TokenVerifier     middleware.TokenVerifier
	UserFinder        middleware.UserFinder
	CORSAllowedOrigin string
	CookieSecure      bool
	CookieDomain      string
	RateLimiter       *middleware.RateLimiter
	MetricsRecorder   middleware.HTTPMetricsRecorder

	// サービス
	AuthService  AuthServiceInterface
	MFAService   MFAServiceInterface
	CookieConfig CookieConfig

	// 運用エンドポイント
	HealthChecker   HealthChecker
	MetricsGatherer prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Metrics → Logging → CSRF
//
// 未認証ルート（login, register, refresh, verify-login）にはIP単位のログイン
// レート制限を、認証必須ルートにはAuthGate → ユーザー単位のレート制限を適用する。
// /health と /metrics はCSRF・レート制限の対象外。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	if deps.MetricsRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.MetricsRecorder))
	}
	r.Use(middleware.NewLoggingMiddleware(slog.Default()))

	authHandler := NewAuthHandler(deps.AuthService, deps.CookieConfig)
	mfaHandler := NewMFAHandler(deps.MFAService, deps.CookieConfig)

	authGate := middleware.NewAuthGateMiddleware(deps.TokenVerifier, deps.UserFinder)
	csrfConfig := middleware.CSRFConfig{
		CookieSecure: deps.CookieSecure,
		CookieDomain: deps.CookieDomain,
	}
	csrf := middleware.NewCSRFMiddleware(csrfConfig)

	// --- 運用エンドポイント（CSRF・レート制限の対象外） ---

	r.Get("/health", newHealthHandler(deps.HealthChecker))
	if deps.MetricsGatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.MetricsGatherer))
	}
	r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(csrfConfig).ServeHTTP)

	// --- 認証不要のルート ---
	// IP単位のログインレート制限で認証情報・TOTPコードの総当たりを抑止する
	r.Group(func(r chi.Router) {
		r.Use(csrf)
		r.Use(deps.RateLimiter.LoginMiddleware())

		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/refresh", authHandler.Refresh)
		r.Post("/mfa/verify-login", mfaHandler.VerifyLogin)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: CSRF → AuthGate → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(csrf)
		r.Use(authGate)
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/auth", func(r chi.Router) {
			r.Get("/me", authHandler.Me)
			r.Post("/logout", authHandler.Logout)
			r.Post("/logout-all", authHandler.LogoutAll)
		})

		r.Route("/mfa", func(r chi.Router) {
			r.Get("/setup", mfaHandler.Setup)
			r.Post("/verify", mfaHandler.Verify)
			r.Put("/revoke", mfaHandler.Revoke)
		})
	})

	return r
}

// newHealthHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
func newHealthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			if err := checker.PingContext(r.Context()); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSONResponse(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

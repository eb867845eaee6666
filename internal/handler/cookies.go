package handler

import (
	"net/http"
	"time"

	"github.com/hitoshi/authgate/internal/middleware"
)

// RefreshTokenCookieName はリフレッシュトークンを保持するCookieの名前。
const RefreshTokenCookieName = "refresh_token"

// CookieConfig はトークンCookieの設定を保持する。
type CookieConfig struct {
	Secure     bool
	Domain     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// setAccessTokenCookie はアクセストークンのHttpOnly Cookieを設定する。
func setAccessTokenCookie(w http.ResponseWriter, config CookieConfig, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AccessTokenCookieName,
		Value:    token,
		Path:     "/",
		Domain:   config.Domain,
		MaxAge:   int(config.AccessTTL.Seconds()),
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// setRefreshTokenCookie はリフレッシュトークンのHttpOnly Cookieを設定する。
func setRefreshTokenCookie(w http.ResponseWriter, config CookieConfig, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshTokenCookieName,
		Value:    token,
		Path:     "/",
		Domain:   config.Domain,
		MaxAge:   int(config.RefreshTTL.Seconds()),
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// setAuthCookies はアクセス・リフレッシュ両方のトークンCookieを設定する。
func setAuthCookies(w http.ResponseWriter, config CookieConfig, accessToken, refreshToken string) {
	setAccessTokenCookie(w, config, accessToken)
	setRefreshTokenCookie(w, config, refreshToken)
}

// clearAuthCookies はトークンCookieを失効させる。
// 発行時と同じDomain/Path属性で上書きしないとブラウザは別Cookie扱いで削除しない。
func clearAuthCookies(w http.ResponseWriter, config CookieConfig) {
	for _, name := range []string{middleware.AccessTokenCookieName, RefreshTokenCookieName} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Domain:   config.Domain,
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   config.Secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

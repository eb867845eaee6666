package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/repository"
	"github.com/hitoshi/authgate/internal/token"
)

// AccessTokenCookieName はアクセストークンを保持するCookieの名前。
const AccessTokenCookieName = "access_token"

type contextKey string

const principalContextKey contextKey = "principal"

// Principal は認証済みリクエストの主体を表す。
// Userはリクエストごとにストアから再取得した最新の状態を保持する。
type Principal struct {
	User      *model.User
	SessionID string
}

// TokenVerifier はアクセストークンの検証に必要なインターフェース。
// token.Serviceの部分集合として定義する。
type TokenVerifier interface {
	Verify(kind token.Kind, tokenString string) (*token.Claims, error)
}

// UserFinder は認証済みユーザーの再取得に必要なインターフェース。
// repository.UserRepositoryの部分集合として定義する。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

var _ UserFinder = (repository.UserRepository)(nil)

// NewAuthGateMiddleware はアクセストークンを検証し、認証済み主体を
// リクエストコンテキストに設定するミドルウェアを返す。
// トークンはaccess_token CookieまたはAuthorization: Bearerヘッダーから読み取り、
// Cookieを優先する。期限切れはTOKEN_EXPIRED、それ以外の検証失敗はUNAUTHORIZEDを返す。
// クレームのuserIdはストアから再取得し、削除済みユーザーのトークンを拒否する。
func NewAuthGateMiddleware(tokens TokenVerifier, users UserFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := extractAccessToken(r)
			if tokenString == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			claims, err := tokens.Verify(token.KindAccess, tokenString)
			if err != nil {
				if errors.Is(err, token.ErrExpiredToken) {
					WriteErrorResponse(w, http.StatusUnauthorized, model.NewTokenExpiredError())
					return
				}
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			user, err := users.FindByID(r.Context(), claims.UserID)
			if err != nil {
				WriteInternalServerError(w)
				return
			}
			if user == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			principal := &Principal{
				User:      user,
				SessionID: claims.SessionID,
			}
			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
		})
	}
}

// ContextWithPrincipal は認証済み主体を設定したコンテキストを返す。
func ContextWithPrincipal(ctx context.Context, principal *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, principal)
}

// PrincipalFromContext はコンテキストから認証済み主体を取得する。
// 設定されていない場合はエラーを返す。
func PrincipalFromContext(ctx context.Context) (*Principal, error) {
	principal, ok := ctx.Value(principalContextKey).(*Principal)
	if !ok || principal == nil {
		return nil, errors.New("principal not found in context")
	}
	return principal, nil
}

// extractAccessToken はCookieまたはAuthorizationヘッダーからアクセストークンを読み取る。
func extractAccessToken(r *http.Request) string {
	if cookie, err := r.Cookie(AccessTokenCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	authz := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(authz, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return ""
}

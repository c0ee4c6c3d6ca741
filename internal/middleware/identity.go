// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/hitoshi/fleetdesk/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
var userIDContextKey = contextKey("user_id")

// identityContextKey はリクエストコンテキストに認証済みの利用者を格納するためのキー。
var identityContextKey = contextKey("identity")

// IdentityProvider はアクセストークンを検証し、現在のセッションの利用者を返す。
// session.Managerが実装する。
type IdentityProvider interface {
	Authorize(ctx context.Context, token string) (*model.Identity, error)
}

// BearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
// ヘッダーがない、または形式が異なる場合は空文字列を返す。
func BearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// NewRequireIdentityMiddleware は現在のセッションのアクセストークンを要求するミドルウェアを返す。
// 検証できた利用者とそのIDをリクエストコンテキストに注入する。
// トークンがない、無効、または別のセッションのものであれば401 Unauthorizedを返す。
func NewRequireIdentityMiddleware(provider IdentityProvider) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
				return
			}

			identity, err := provider.Authorize(r.Context(), token)
			if err != nil {
				if model.IsAuth(err) {
					err = model.NewUnauthenticatedError()
				}
				WriteError(w, err)
				return
			}
			if identity == nil || identity.ID == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
				return
			}

			ctx := context.WithValue(r.Context(), userIDContextKey, identity.ID)
			ctx = context.WithValue(ctx, identityContextKey, *identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// アイデンティティ要求ミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// IdentityFromContext はアイデンティティ要求ミドルウェアが検証した利用者を返す。
func IdentityFromContext(ctx context.Context) (*model.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(model.Identity)
	if !ok {
		return nil, false
	}
	return &identity, true
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

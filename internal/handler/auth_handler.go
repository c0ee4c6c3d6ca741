// Package handler はconsole APIのHTTPハンドラーを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/fleetdesk/internal/middleware"
	"github.com/hitoshi/fleetdesk/internal/model"
	"github.com/hitoshi/fleetdesk/internal/session"
)

// SessionService は認証ハンドラーが必要とするセッション操作。session.Managerが実装する。
type SessionService interface {
	SignInSession(ctx context.Context, email, password string) (*model.Session, error)
	SignUp(ctx context.Context, email, password, displayName string) error
	SignOut(ctx context.Context) error
	State() session.State
	Current() *model.Identity
	middleware.IdentityProvider
}

// AuthHandler はサインイン・サインアップ・サインアウトのHTTPハンドラー。
type AuthHandler struct {
	sessions SessionService
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(sessions SessionService) *AuthHandler {
	return &AuthHandler{sessions: sessions}
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signUpRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

// signInResponse はサインイン成功時のAPIレスポンス。
// 以降のリクエストはAccessTokenをAuthorization: Bearerで送る。
type signInResponse struct {
	AccessToken string            `json:"access_token"`
	TokenType   string            `json:"token_type"`
	ExpiresAt   time.Time         `json:"expires_at"`
	Identity    *identityResponse `json:"identity"`
}

// meResponse は現在のセッション状態のAPIレスポンス。
type meResponse struct {
	Authenticated bool              `json:"authenticated"`
	Loading       bool              `json:"loading"`
	Identity      *identityResponse `json:"identity"`
}

// SignIn はメールアドレスとパスワードでサインインし、アクセストークンを返す。
// 別の利用者がサインイン中の場合は、その利用者のトークンを提示しない限り409を返す。
// POST /auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if current := h.sessions.Current(); current != nil && !strings.EqualFold(current.Email, strings.TrimSpace(req.Email)) {
		if _, err := h.sessions.Authorize(r.Context(), middleware.BearerToken(r)); err != nil {
			slog.Warn("sign-in rejected while another identity is active")
			middleware.WriteError(w, model.NewSessionInUseError())
			return
		}
	}

	session, err := h.sessions.SignInSession(r.Context(), req.Email, req.Password)
	if err != nil {
		slog.Warn("sign-in failed", slog.String("error", err.Error()))
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, signInResponse{
		AccessToken: session.AccessToken,
		TokenType:   "Bearer",
		ExpiresAt:   session.ExpiresAt,
		Identity:    toIdentityResponse(&session.Identity),
	})
}

// SignUp はアカウントを作成する。メール確認が完了するまでサインインできない。
// POST /auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.sessions.SignUp(r.Context(), req.Email, req.Password, req.DisplayName); err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"message": "確認メールを送信しました。確認後にログインしてください。",
	})
}

// SignOut はサインアウトする。リモートの失敗に関わらずローカルのセッションは消去される。
// アイデンティティ要求ミドルウェアの内側でのみ呼ばれる。
// POST /auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.SignOut(r.Context()); err != nil {
		slog.Error("failed to sign out", slog.String("error", err.Error()))
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me はトークンで認証された利用者とセッションの読み込み状態を返す。
// アイデンティティ要求ミドルウェアの内側でのみ呼ばれる。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, model.NewUnauthenticatedError())
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		Authenticated: true,
		Loading:       h.sessions.State().Loading,
		Identity:      toIdentityResponse(identity),
	})
}

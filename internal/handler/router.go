package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/fleetdesk/internal/middleware"
)

// ConsoleStore はコレクションの一覧・更新・再読み込みを提供する。store.Storeが実装する。
type ConsoleStore interface {
	CollectionStore
	Refetch(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 認証。SessionsはAPIリクエストのトークン検証も担う
	Sessions SessionService

	// コレクション
	Store   ConsoleStore
	Notices NoticeSource
	Prober  LinkProber

	// 運用
	Metrics http.Handler
	Ping    func(ctx context.Context) error
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Logging → Recovery → SecurityHeaders → CORS → RateLimit(General)
//	  → RequireIdentity → RateLimit(Mutation)（/api/*のみ）
//
// /auth/signin・/auth/signupとヘルスチェック・メトリクスはアイデンティティを要求しない。
// /auth/signout・/auth/meと/api/*は現在のセッションのBearerトークンを要求する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.Sessions)
	consoleHandler := NewConsoleHandler(deps.Store, deps.Notices)
	collectionHandler := NewCollectionHandler(deps.Store, deps.Prober)

	// --- アイデンティティ不要のルート ---

	r.Get("/health", healthHandler(deps.Ping))
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	r.Route("/auth", func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
		}
		r.Post("/signin", authHandler.SignIn)
		r.Post("/signup", authHandler.SignUp)

		r.Group(func(r chi.Router) {
			r.Use(middleware.NewRequireIdentityMiddleware(deps.Sessions))
			r.Post("/signout", authHandler.SignOut)
			r.Get("/me", authHandler.Me)
		})
	})

	// --- アイデンティティが必要なルート ---
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewRequireIdentityMiddleware(deps.Sessions))
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
			r.Use(deps.RateLimiter.MutationMiddleware())
		}

		r.Get("/state", consoleHandler.State)
		r.Post("/refetch", consoleHandler.Refetch)
		r.Get("/summary", consoleHandler.Summary)
		r.Get("/notices", consoleHandler.Notices)

		r.Route("/numbers", func(r chi.Router) {
			r.Get("/", collectionHandler.ListNumbers)
			r.Post("/", collectionHandler.CreateNumber)
			r.Post("/import", collectionHandler.ImportNumbers)
			r.Patch("/{id}", collectionHandler.UpdateNumber)
			r.Delete("/{id}", collectionHandler.DeleteNumber)
		})

		r.Route("/projects", func(r chi.Router) {
			r.Get("/", collectionHandler.ListProjects)
			r.Post("/", collectionHandler.CreateProject)
			r.Patch("/{id}", collectionHandler.UpdateProject)
			r.Delete("/{id}", collectionHandler.DeleteProject)
		})

		r.Route("/responsibles", func(r chi.Router) {
			r.Get("/", collectionHandler.ListResponsibles)
			r.Post("/", collectionHandler.CreateResponsible)
			r.Patch("/{id}", collectionHandler.UpdateResponsible)
			r.Delete("/{id}", collectionHandler.DeleteResponsible)
		})

		r.Route("/group-links", func(r chi.Router) {
			r.Get("/", collectionHandler.ListGroupLinks)
			r.Post("/", collectionHandler.CreateGroupLink)
			r.Post("/import", collectionHandler.ImportGroupLinks)
			r.Patch("/{id}", collectionHandler.UpdateGroupLink)
			r.Delete("/{id}", collectionHandler.DeleteGroupLink)
			r.Post("/{id}/probe", collectionHandler.ProbeGroupLink)
		})
	})

	return r
}

// healthHandler はデータベース疎通を含むヘルスチェックのハンドラーを返す。
func healthHandler(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			if err := ping(r.Context()); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

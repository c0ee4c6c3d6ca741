package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/fleetdesk/internal/auth"
	"github.com/hitoshi/fleetdesk/internal/config"
	"github.com/hitoshi/fleetdesk/internal/database"
	"github.com/hitoshi/fleetdesk/internal/handler"
	"github.com/hitoshi/fleetdesk/internal/linkcheck"
	"github.com/hitoshi/fleetdesk/internal/logger"
	"github.com/hitoshi/fleetdesk/internal/metrics"
	"github.com/hitoshi/fleetdesk/internal/middleware"
	"github.com/hitoshi/fleetdesk/internal/notify"
	"github.com/hitoshi/fleetdesk/internal/realtime"
	"github.com/hitoshi/fleetdesk/internal/repository"
	"github.com/hitoshi/fleetdesk/internal/security"
	"github.com/hitoshi/fleetdesk/internal/session"
	"github.com/hitoshi/fleetdesk/internal/store"
	"github.com/hitoshi/fleetdesk/internal/worker/cleanup"
)

// recentNotices はコンソールAPIで返す直近の通知件数。
const recentNotices = 50

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	if cmd == CommandConfirm && len(args) < 2 {
		return errors.New("usage: fleetdesk confirm <email>")
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandConfirm:
		return runConfirm(ctx, cfg, args[1])
	default:
		return runServe(ctx, cfg)
	}
}

// runServe はコンソールAPIサーバーモードで起動する。
// 認証クライアント・セッションマネージャー・リアルタイムハブ・ストアを起動し、
// ctxがキャンセルされるとHTTPサーバーをグレースフルシャットダウンする。
func runServe(ctx context.Context, cfg *config.Config) error {
	log := slog.Default()

	// 1. DB接続
	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. メトリクス
	registry := metrics.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 3. 認証
	authService := auth.NewService(
		repository.NewPostgresUserRepo(db),
		repository.NewPostgresSessionRepo(db),
		auth.ServiceConfig{JWTSecret: cfg.JWTSecret, SessionTTL: cfg.SessionTTL()},
	)
	authClient := auth.NewClient(authService, newTokenStore(cfg), auth.ClientConfig{
		RefreshMargin: cfg.SessionRefreshMargin,
		CheckInterval: cfg.SessionCheckInterval,
	}, logger.Component(log, "auth"), collector)
	sessions := session.NewManager(authClient, logger.Component(log, "session"))
	defer sessions.Close()

	// 4. 変更通知
	source, err := realtime.NewPostgresSource(cfg.DatabaseURL, database.ChangeChannel,
		cfg.RealtimeMinReconnect, cfg.RealtimeMaxReconnect, logger.Component(log, "realtime"))
	if err != nil {
		return fmt.Errorf("failed to start realtime listener: %w", err)
	}
	hub := realtime.NewHub(source, logger.Component(log, "realtime"), realtime.WithObserver(collector))
	defer hub.Close()

	// 5. ストア
	notices := notify.NewRecorder(notify.NewLogNotifier(logger.Component(log, "notify")), recentNotices)
	guard := security.NewURLGuard()
	st := store.New(sessions, store.Repositories{
		Numbers:      repository.NewPostgresNumberRepo(db),
		Projects:     repository.NewPostgresProjectRepo(db),
		Responsibles: repository.NewPostgresResponsibleRepo(db),
		GroupLinks:   repository.NewPostgresGroupLinkRepo(db),
	}, hub, notices, logger.Component(log, "store"),
		store.WithObserver(collector),
		store.WithSanitizer(security.NewTextSanitizer()),
		store.WithURLGuard(guard),
	)

	// 6. リンク確認
	prober := linkcheck.NewProber(
		guard.NewSafeClient(cfg.LinkProbeTimeout), guard,
		linkcheck.Config{Interval: cfg.LinkProbeInterval, MaxSize: cfg.LinkProbeMaxSize},
		logger.Component(log, "linkcheck"), linkcheck.WithObserver(collector),
	)

	// 7. ルーター
	rateLimiter := middleware.NewRateLimiter(middleware.PerMinuteConfig(cfg.RateLimitGeneral, cfg.RateLimitMutation))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            log,
		Sessions:          sessions,
		Store:             st,
		Notices:           notices,
		Prober:            prober,
		Metrics:           metrics.Handler(registry),
		Ping:              db.PingContext,
	})

	server := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 8. バックグラウンド処理とHTTPサーバーの起動
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := hub.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("realtime hub stopped: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return st.Run(gctx)
	})
	g.Go(func() error {
		authClient.Run(gctx)
		return nil
	})
	g.Go(func() error {
		// 復元に失敗しても未認証として起動を続ける
		if err := sessions.Start(gctx); err != nil {
			slog.Warn("session restore failed", slog.String("error", err.Error()))
		}
		return nil
	})
	g.Go(func() error {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down API server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// newTokenStore はSESSION_FILEが設定されていればファイル、なければメモリにトークンを保持する。
func newTokenStore(cfg *config.Config) auth.TokenStore {
	if cfg.SessionFile != "" {
		return auth.NewFileTokenStore(cfg.SessionFile)
	}
	return auth.NewMemoryTokenStore()
}

// runWorker はワーカーモードで起動する。
// 認証データのクリーンアップジョブをctxがキャンセルされるまで定期実行する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	job := cleanup.NewCleanupJob(db, logger.Component(nil, "cleanup"))
	job.RetentionDays = cfg.UnconfirmedRetentionDays

	slog.Info("worker starting", slog.Duration("cleanup_interval", cfg.CleanupInterval))

	job.Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runConfirm はサインアップ済みユーザーのメールアドレスを確認済みにする。
func runConfirm(ctx context.Context, cfg *config.Config, email string) error {
	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	authService := auth.NewService(
		repository.NewPostgresUserRepo(db),
		repository.NewPostgresSessionRepo(db),
		auth.ServiceConfig{JWTSecret: cfg.JWTSecret, SessionTTL: cfg.SessionTTL()},
	)
	return authService.ConfirmEmail(ctx, email)
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}

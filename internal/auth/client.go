package auth

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/hitoshi/fleetdesk/internal/model"
)

// ChangeEvent は認証状態の変化の種類。
type ChangeEvent string

const (
	// EventInitialSession は保存済みセッションの復元結果（セッションなしを含む）。
	EventInitialSession ChangeEvent = "INITIAL_SESSION"
	// EventSignedIn はサインインによるセッション確立。
	EventSignedIn ChangeEvent = "SIGNED_IN"
	// EventTokenRefreshed はトークンの更新。利用者は変わらない。
	EventTokenRefreshed ChangeEvent = "TOKEN_REFRESHED"
	// EventSignedOut はサインアウト・失効・他所でのサインアウトによるセッション終了。
	EventSignedOut ChangeEvent = "SIGNED_OUT"
)

// ChangeFunc は認証状態の変化を受け取るコールバック。sessionはサインアウト時nil。
type ChangeFunc func(event ChangeEvent, session *model.Session)

// Backend は認証バックエンドの操作。Serviceが実装する。
type Backend interface {
	SignUp(ctx context.Context, email, password, displayName string) (*model.Identity, error)
	SignIn(ctx context.Context, email, password string) (*model.Session, error)
	Verify(ctx context.Context, token string) (*model.Session, error)
	Refresh(ctx context.Context, token string) (*model.Session, error)
	SignOut(ctx context.Context, token string) error
}

// EventRecorder は認証イベントを観測する。metrics.Collectorが実装する。
type EventRecorder interface {
	RecordAuthEvent(event string)
}

// ClientConfig は認証クライアントの設定。
type ClientConfig struct {
	RefreshMargin time.Duration // 期限のこの時間前にトークンを更新する
	CheckInterval time.Duration // セッションの有効性を確認する間隔
}

// Client はプロセス内の現在のセッションを保持し、状態変化を通知する。
type Client struct {
	backend  Backend
	store    TokenStore
	config   ClientConfig
	logger   *slog.Logger
	recorder EventRecorder
	now      func() time.Time

	mu          sync.Mutex
	current     *model.Session
	initialized bool
	listeners   map[int]ChangeFunc
	nextID      int
}

// NewClient はClientを生成する。recorderはnilでもよい。
func NewClient(backend Backend, store TokenStore, config ClientConfig, logger *slog.Logger, recorder EventRecorder) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		store = NewMemoryTokenStore()
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = 30 * time.Second
	}
	return &Client{
		backend:   backend,
		store:     store,
		config:    config,
		logger:    logger,
		recorder:  recorder,
		now:       time.Now,
		listeners: make(map[int]ChangeFunc),
	}
}

// OnAuthStateChange はコールバックを登録し、登録解除関数を返す。
// 解除関数は何度呼んでもよい。
func (c *Client) OnAuthStateChange(fn ChangeFunc) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// GetSession は現在のセッションを返す。
// 初回呼び出し時は保存済みトークンを検証して復元し、INITIAL_SESSIONを通知する。
func (c *Client) GetSession(ctx context.Context) (*model.Session, error) {
	c.mu.Lock()
	if c.initialized {
		s := copySession(c.current)
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()

	session, err := c.restore(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.initialized {
		// 復元中にサインインなどで状態が確定した場合はそちらを優先する
		s := copySession(c.current)
		c.mu.Unlock()
		return s, nil
	}
	c.initialized = true
	c.current = session
	c.mu.Unlock()

	c.emit(EventInitialSession, session)
	return copySession(session), nil
}

func (c *Client) restore(ctx context.Context) (*model.Session, error) {
	stored, err := c.store.Load()
	if err != nil {
		c.logger.Warn("failed to load stored session", slog.String("error", err.Error()))
		return nil, nil
	}
	if stored == nil {
		return nil, nil
	}

	session, err := c.backend.Verify(ctx, stored.AccessToken)
	if err != nil {
		if model.IsAuth(err) {
			c.clearStore()
			return nil, nil
		}
		return nil, fmt.Errorf("failed to verify stored session: %w", err)
	}
	return session, nil
}

// SignInWithPassword はサインインし、成功した場合はSIGNED_INを通知する。
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	session, err := c.backend.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.current = session
	c.initialized = true
	c.mu.Unlock()

	c.save(session)
	c.emit(EventSignedIn, session)
	return copySession(session), nil
}

// SignUp は利用者を登録する。確認が完了するまでセッションは確立しない。
func (c *Client) SignUp(ctx context.Context, email, password, displayName string) error {
	_, err := c.backend.SignUp(ctx, email, password, displayName)
	return err
}

// SignOut はリモートのセッションを破棄する。
// リモート呼び出しの成否にかかわらずローカルのセッションは破棄し、SIGNED_OUTを通知する。
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	session := c.current
	c.mu.Unlock()

	var remoteErr error
	if session != nil {
		remoteErr = c.backend.SignOut(ctx, session.AccessToken)
		if remoteErr != nil {
			c.logger.Warn("remote sign out failed, clearing local session anyway",
				slog.String("error", remoteErr.Error()),
			)
		}
	}

	c.signOutLocal()
	return remoteErr
}

// Authorize はリクエストが提示したトークンを検証し、現在のセッションのものであれば
// そのセッションを返す。トークンが無効、または別のセッションのものであれば
// UNAUTHENTICATEDを返す。更新前のトークンも期限内であれば同じセッションとして扱う。
func (c *Client) Authorize(ctx context.Context, token string) (*model.Session, error) {
	c.mu.Lock()
	current := copySession(c.current)
	c.mu.Unlock()
	if current == nil || token == "" {
		return nil, model.NewUnauthenticatedError()
	}

	verified, err := c.backend.Verify(ctx, token)
	if err != nil {
		if model.IsAuth(err) {
			return nil, model.NewUnauthenticatedError()
		}
		apiErr := model.NewRemoteError(nil)
		apiErr.Err = err
		return nil, apiErr
	}
	if verified.ID != current.ID || verified.Identity.ID != current.Identity.ID {
		c.logger.Warn("token for another session rejected", slog.String("session_id", verified.ID))
		return nil, model.NewUnauthenticatedError()
	}
	return current, nil
}

// Run はctxがキャンセルされるまで定期的にセッションを確認する。
// 期限が近づいたトークンは更新し、失効・他所でのサインアウトを検知した場合は
// ローカルでサインアウトする。
func (c *Client) Run(ctx context.Context) {
	ticker := time.NewTicker(c.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.check(ctx)
		}
	}
}

// check は1回分のセッション確認を行う。
func (c *Client) check(ctx context.Context) {
	c.mu.Lock()
	session := c.current
	c.mu.Unlock()
	if session == nil {
		return
	}

	now := c.now()
	if session.Expired(now) {
		c.logger.Info("session expired, signing out locally")
		c.signOutLocal()
		return
	}

	if now.Add(c.config.RefreshMargin).Before(session.ExpiresAt) {
		if _, err := c.backend.Verify(ctx, session.AccessToken); err != nil {
			if model.IsAuth(err) {
				c.logger.Info("session revoked remotely, signing out locally")
				c.signOutLocal()
				return
			}
			c.logger.Warn("session check failed", slog.String("error", err.Error()))
		}
		return
	}

	refreshed, err := c.backend.Refresh(ctx, session.AccessToken)
	if err != nil {
		if model.IsAuth(err) {
			c.logger.Info("session refresh rejected, signing out locally")
			c.signOutLocal()
			return
		}
		c.logger.Warn("session refresh failed, will retry", slog.String("error", err.Error()))
		return
	}

	c.mu.Lock()
	if c.current == nil || c.current.ID != session.ID {
		// 更新中にサインアウトまたは別セッションでのサインインが行われた
		c.mu.Unlock()
		return
	}
	c.current = refreshed
	c.mu.Unlock()

	c.save(refreshed)
	c.emit(EventTokenRefreshed, refreshed)
}

func (c *Client) signOutLocal() {
	c.mu.Lock()
	c.current = nil
	c.initialized = true
	c.mu.Unlock()

	c.clearStore()
	c.emit(EventSignedOut, nil)
}

func (c *Client) save(session *model.Session) {
	err := c.store.Save(StoredToken{AccessToken: session.AccessToken, ExpiresAt: session.ExpiresAt})
	if err != nil {
		c.logger.Warn("failed to persist session", slog.String("error", err.Error()))
	}
}

func (c *Client) clearStore() {
	if err := c.store.Clear(); err != nil {
		c.logger.Warn("failed to clear stored session", slog.String("error", err.Error()))
	}
}

// emit は登録済みコールバックを登録順に呼び出す。ロックは保持しない。
func (c *Client) emit(event ChangeEvent, session *model.Session) {
	c.mu.Lock()
	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	fns := make([]ChangeFunc, 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, c.listeners[id])
	}
	c.mu.Unlock()

	if c.recorder != nil {
		c.recorder.RecordAuthEvent(string(event))
	}
	for _, fn := range fns {
		fn(event, copySession(session))
	}
}

func copySession(s *model.Session) *model.Session {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

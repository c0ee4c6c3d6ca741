// Package session はプロセス全体で共有する認証状態（現在の利用者と読み込み中フラグ）を管理する。
// 状態を書き換えるのはsetStateのみで、サインイン・復元・失効・読み込み中フラグの切り替えの
// いずれの経路もここを通る。
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/hitoshi/fleetdesk/internal/auth"
	"github.com/hitoshi/fleetdesk/internal/model"
)

// State はセッションマネージャーの状態。
type State struct {
	Identity *model.Identity
	Loading  bool
}

// Authenticated は利用者が確定しているかどうかを返す。
func (s State) Authenticated() bool {
	return s.Identity != nil
}

// AuthClient はセッションマネージャーが利用する認証クライアントの操作。
// auth.Clientが実装する。
type AuthClient interface {
	OnAuthStateChange(fn auth.ChangeFunc) func()
	GetSession(ctx context.Context) (*model.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error)
	SignUp(ctx context.Context, email, password, displayName string) error
	SignOut(ctx context.Context) error
	Authorize(ctx context.Context, token string) (*model.Session, error)
}

// Manager は現在の利用者を保持する唯一の存在。
// アプリケーション起動時に1つだけ生成し、ストアなどに注入する。
type Manager struct {
	client AuthClient
	logger *slog.Logger

	mu         sync.Mutex
	state      State
	unregister func()
	watchers   map[int]chan State
	nextID     int
	closed     bool
}

// NewManager はManagerを生成する。Start前の状態は読み込み中。
func NewManager(client AuthClient, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		client:   client,
		logger:   logger,
		state:    State{Loading: true},
		watchers: make(map[int]chan State),
	}
}

// Start は認証状態の変化の購読を登録してから、現在のセッションを1回取得する。
// どちらの経路もsetStateで状態を確定させる。
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.unregister != nil || m.closed {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	unregister := m.client.OnAuthStateChange(m.onAuthChange)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		unregister()
		return nil
	}
	m.unregister = unregister
	m.mu.Unlock()

	session, err := m.client.GetSession(ctx)
	if err != nil {
		m.logger.Warn("failed to restore session", slog.String("error", err.Error()))
		m.setState(signedOut)
		return wrapAuthError(err)
	}
	m.setState(signedIn(identityOf(session)))
	return nil
}

func (m *Manager) onAuthChange(event auth.ChangeEvent, session *model.Session) {
	m.logger.Info("auth state changed", slog.String("event", string(event)))
	if event == auth.EventSignedOut {
		m.setState(signedOut)
		return
	}
	m.setState(signedIn(identityOf(session)))
}

// SignIn はサインインする。処理中はLoadingがtrueになる。
// 利用者の設定は認証状態の変化の通知経由で行う。
// 失敗した場合、サインイン前の利用者はそのまま維持される。
func (m *Manager) SignIn(ctx context.Context, email, password string) (*model.Identity, error) {
	if _, err := m.SignInSession(ctx, email, password); err != nil {
		return nil, err
	}
	return m.Current(), nil
}

// SignInSession はSignInと同じ手順でサインインし、確立したセッションを返す。
// 返されるアクセストークンはAuthorizeでリクエストの認証に使う。
func (m *Manager) SignInSession(ctx context.Context, email, password string) (*model.Session, error) {
	m.setState(loading(true))

	session, err := m.client.SignInWithPassword(ctx, email, password)
	// 通知が届いていない場合でも読み込み中のままにしない
	m.setState(loading(false))
	if err != nil {
		m.logger.Warn("sign in failed", slog.String("error", err.Error()))
		return nil, wrapAuthError(err)
	}
	return session, nil
}

// Authorize はリクエストのアクセストークンが現在のセッションのものかを確認し、
// 現在の利用者を返す。一致しない場合はUNAUTHENTICATEDを返す。
func (m *Manager) Authorize(ctx context.Context, token string) (*model.Identity, error) {
	session, err := m.client.Authorize(ctx, token)
	if err != nil {
		return nil, err
	}
	current := m.Current()
	if current == nil || current.ID != session.Identity.ID {
		return nil, model.NewUnauthenticatedError()
	}
	return current, nil
}

// SignUp は利用者を登録する。メールアドレスの確認が完了するまでセッションは確立しない。
func (m *Manager) SignUp(ctx context.Context, email, password, displayName string) error {
	if err := m.client.SignUp(ctx, email, password, displayName); err != nil {
		return wrapAuthError(err)
	}
	m.logger.Info("sign up accepted, email confirmation required")
	return nil
}

// SignOut はリモートのセッションを破棄し、リモート呼び出しの成否にかかわらず
// ローカルの利用者を消去する。
func (m *Manager) SignOut(ctx context.Context) error {
	err := m.client.SignOut(ctx)
	m.setState(signedOut)
	if err != nil {
		return wrapAuthError(err)
	}
	return nil
}

// Close は認証状態の変化の購読を解除し、Watchのチャネルを閉じる。何度呼んでもよい。
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	unregister := m.unregister
	m.unregister = nil
	watchers := m.watchers
	m.watchers = make(map[int]chan State)
	m.mu.Unlock()

	if unregister != nil {
		unregister()
	}
	for _, ch := range watchers {
		close(ch)
	}
}

// Current は現在の利用者を返す。未認証の場合はnil。
func (m *Manager) Current() *model.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyIdentity(m.state.Identity)
}

// State は現在の状態のコピーを返す。
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{Identity: copyIdentity(m.state.Identity), Loading: m.state.Loading}
}

// Watch は状態の変化を受け取るチャネルと購読解除関数を返す。
// チャネルには登録時点の状態がまず送られ、以降は最新の状態のみが保持される。
func (m *Manager) Watch() (<-chan State, func()) {
	ch := make(chan State, 1)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	m.nextID++
	id := m.nextID
	m.watchers[id] = ch
	ch <- State{Identity: copyIdentity(m.state.Identity), Loading: m.state.Loading}
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if w, ok := m.watchers[id]; ok {
				delete(m.watchers, id)
				close(w)
			}
		})
	}
}

// transition は現在の状態から次の状態を求める。
type transition func(State) State

func signedIn(identity *model.Identity) transition {
	return func(State) State {
		return State{Identity: copyIdentity(identity)}
	}
}

func signedOut(State) State {
	return State{}
}

// loading は利用者を変えずに読み込み中フラグだけを切り替える。
func loading(on bool) transition {
	return func(s State) State {
		s.Loading = on
		return s
	}
}

// setState は状態を書き換える唯一の関数。遷移はm.muの保持中に適用する。
// 状態が変わらない場合は通知しない。
func (m *Manager) setState(next transition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.state
	m.state = next(prev)
	if m.state.Loading == prev.Loading && sameIdentity(m.state.Identity, prev.Identity) {
		return
	}
	m.broadcastLocked()
}

// broadcastLocked は各チャネルの古い状態を捨てて最新の状態を送る。m.muを保持して呼ぶ。
func (m *Manager) broadcastLocked() {
	for _, ch := range m.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- State{Identity: copyIdentity(m.state.Identity), Loading: m.state.Loading}
	}
}

func identityOf(session *model.Session) *model.Identity {
	if session == nil {
		return nil
	}
	identity := session.Identity
	return &identity
}

func sameIdentity(a, b *model.Identity) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func copyIdentity(identity *model.Identity) *model.Identity {
	if identity == nil {
		return nil
	}
	cp := *identity
	return &cp
}

func wrapAuthError(err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return err
	}
	return model.NewAuthError(err)
}

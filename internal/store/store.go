// Package store は現在の利用者にスコープされた4つのコレクション
// （番号・プロジェクト・担当者・グループリンク）をリモートストアと同期して保持する。
//
// ローカルの状態を書き換えるのは全件再読み込みのみで、更新操作の戻り値を
// コレクションに反映することはない。変更通知を受けると4つすべてを再読み込みする。
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/fleetdesk/internal/model"
	"github.com/hitoshi/fleetdesk/internal/notify"
	"github.com/hitoshi/fleetdesk/internal/realtime"
	"github.com/hitoshi/fleetdesk/internal/repository"
	"github.com/hitoshi/fleetdesk/internal/security"
	"github.com/hitoshi/fleetdesk/internal/session"
)

// Snapshot はある時点の4つのコレクションのコピー。
// 各コレクションは作成日時の降順。
type Snapshot struct {
	OwnerID      string                   `json:"owner_id,omitempty"`
	Numbers      []model.PhoneNumber      `json:"numbers"`
	Projects     []model.Project          `json:"projects"`
	Responsibles []model.ResponsibleParty `json:"responsibles"`
	GroupLinks   []model.GroupLink        `json:"group_links"`
	Loading      bool                     `json:"loading"`
	LoadedAt     time.Time                `json:"loaded_at,omitzero"`
}

func (s Snapshot) clone() Snapshot {
	s.Numbers = append([]model.PhoneNumber{}, s.Numbers...)
	s.Projects = append([]model.Project{}, s.Projects...)
	s.Responsibles = append([]model.ResponsibleParty{}, s.Responsibles...)
	s.GroupLinks = append([]model.GroupLink{}, s.GroupLinks...)
	return s
}

// IdentitySource は現在の利用者とその変化を提供する。session.Managerが実装する。
type IdentitySource interface {
	Current() *model.Identity
	Watch() (<-chan session.State, func())
}

// Repositories はストアが読み書きする4つのコレクションのリポジトリ。
type Repositories struct {
	Numbers      repository.NumberRepository
	Projects     repository.ProjectRepository
	Responsibles repository.ResponsibleRepository
	GroupLinks   repository.GroupLinkRepository
}

// Observer は再読み込みと更新操作の結果を観測する。metrics.Collectorが実装する。
type Observer interface {
	RecordReload(result string, duration time.Duration)
	RecordMutation(table, op, result string)
}

type noopObserver struct{}

func (noopObserver) RecordReload(string, time.Duration)   {}
func (noopObserver) RecordMutation(string, string, string) {}

// Option はStoreの任意設定。
type Option func(*Store)

// WithObserver は観測先を設定する。
func WithObserver(o Observer) Option {
	return func(s *Store) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithSanitizer は自由記述テキストの無害化に使うSanitizerを設定する。
func WithSanitizer(t security.TextSanitizer) Option {
	return func(s *Store) { s.sanitizer = t }
}

// WithURLGuard はグループリンクのURL検証を設定する。
func WithURLGuard(g security.URLGuard) Option {
	return func(s *Store) { s.guard = g }
}

// Store は利用者ごとのコレクションを保持し、更新操作を提供する。
type Store struct {
	identity   IdentitySource
	repos      Repositories
	subscriber realtime.Subscriber
	notifier   notify.Notifier
	logger     *slog.Logger
	observer   Observer
	sanitizer  security.TextSanitizer
	guard      security.URLGuard

	changes     chan struct{} // 変更通知。容量1で連続した通知をまとめる
	resubscribe chan struct{}

	mu         sync.Mutex
	snap       Snapshot
	owner      string
	generation uint64 // 利用者が変わるたびに増える
	seq        uint64 // 再読み込みの開始順
	committed  uint64 // 反映済みの再読み込みのseq

	watchMu  sync.Mutex
	watchers map[int]chan Snapshot
	nextID   int
}

// New はStoreを生成する。Runを呼ぶまで利用者の変化には追従しない。
func New(identity IdentitySource, repos Repositories, subscriber realtime.Subscriber, notifier notify.Notifier, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	s := &Store{
		identity:    identity,
		repos:       repos,
		subscriber:  subscriber,
		notifier:    notifier,
		logger:      logger,
		observer:    noopObserver{},
		sanitizer:   security.NewTextSanitizer(),
		guard:       security.NewURLGuard(),
		changes:     make(chan struct{}, 1),
		resubscribe: make(chan struct{}, 1),
		watchers:    make(map[int]chan Snapshot),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run は利用者の変化と変更通知を処理する。ctxがキャンセルされるか
// 利用者の監視が終了するまでブロックし、終了時にすべての購読を解除する。
func (s *Store) Run(ctx context.Context) error {
	states, cancel := s.identity.Watch()
	defer cancel()

	var subs []realtime.Unsubscriber
	defer func() {
		s.closeSubscriptions(subs)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case st, ok := <-states:
			if !ok {
				return nil
			}
			owner := ""
			if st.Identity != nil {
				owner = st.Identity.ID
			}
			if owner == s.currentOwner() {
				continue
			}
			s.closeSubscriptions(subs)
			subs = nil
			if s.switchOwner(ctx, owner) == nil && owner != "" {
				subs = s.openSubscriptions(owner)
			}

		case <-s.changes:
			owner := s.currentOwner()
			if owner == "" {
				continue
			}
			if err := s.reload(ctx, owner); err == nil && subs == nil {
				subs = s.openSubscriptions(owner)
			}

		case <-s.resubscribe:
			if owner := s.currentOwner(); owner != "" && subs == nil {
				subs = s.openSubscriptions(owner)
			}
		}
	}
}

// switchOwner は利用者の切り替えを反映する。
// 利用者がいなくなった場合は4つのコレクションを空にする。
func (s *Store) switchOwner(ctx context.Context, owner string) error {
	s.mu.Lock()
	s.generation++
	s.owner = owner
	// 前の利用者のデータを新しい利用者に見せない
	s.snap = Snapshot{OwnerID: owner, Loading: owner != ""}
	s.broadcastLocked()
	s.mu.Unlock()

	if owner == "" {
		s.logger.Info("identity cleared, collections emptied")
		return nil
	}
	s.logger.Info("identity changed, loading collections", slog.String("owner_id", owner))
	return s.reload(ctx, owner)
}

// Refetch は変更通知を待たずに4つのコレクションを無条件に再読み込みする。
func (s *Store) Refetch(ctx context.Context) error {
	owner := s.currentOwner()
	if owner == "" {
		if identity := s.identity.Current(); identity == nil {
			return model.NewUnauthenticatedError()
		}
		// 利用者は確定しているがRunがまだ反映していない
		return model.NewRemoteError(errors.New("collections are not ready yet"))
	}
	if err := s.reload(ctx, owner); err != nil {
		return err
	}
	select {
	case s.resubscribe <- struct{}{}:
	default:
	}
	return nil
}

// reload は4つのコレクションを並行に読み込み、まとめて置き換える。
// 失敗した場合は直前のスナップショットを残す。
func (s *Store) reload(ctx context.Context, owner string) error {
	s.mu.Lock()
	if s.owner != owner {
		// 呼び出し元が利用者を読んだ後に切り替わった
		s.mu.Unlock()
		s.observer.RecordReload("stale", 0)
		s.logger.Info("discarding reload for previous owner", slog.String("owner_id", owner))
		return nil
	}
	gen := s.generation
	s.seq++
	seq := s.seq
	if !s.snap.Loading {
		s.snap.Loading = true
		s.broadcastLocked()
	}
	s.mu.Unlock()

	start := time.Now()
	next, err := s.load(ctx, owner)
	duration := time.Since(start)

	s.mu.Lock()
	if gen != s.generation || seq < s.committed {
		// 利用者が変わったか、後から始まった再読み込みが先に反映された
		s.mu.Unlock()
		s.observer.RecordReload("stale", duration)
		s.logger.Info("discarding stale reload", slog.String("owner_id", owner))
		return nil
	}
	if err != nil {
		s.snap.Loading = false
		s.broadcastLocked()
		s.mu.Unlock()
		s.observer.RecordReload("error", duration)
		s.logger.Error("failed to reload collections, keeping previous snapshot",
			slog.String("owner_id", owner),
			slog.String("error", err.Error()),
		)
		return err
	}
	s.committed = seq
	next.OwnerID = owner
	next.LoadedAt = time.Now()
	s.snap = next
	snap := s.snap.clone()
	s.broadcastLocked()
	s.mu.Unlock()

	s.observer.RecordReload("ok", duration)
	s.logger.Info("collections reloaded",
		slog.String("owner_id", owner),
		slog.Int("numbers", len(snap.Numbers)),
		slog.Int("projects", len(snap.Projects)),
		slog.Int("responsibles", len(snap.Responsibles)),
		slog.Int("group_links", len(snap.GroupLinks)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	return nil
}

func (s *Store) load(ctx context.Context, owner string) (Snapshot, error) {
	var next Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := s.repos.Numbers.ListByOwner(gctx, owner)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", model.TableNumbers, err)
		}
		next.Numbers = rows
		return nil
	})
	g.Go(func() error {
		rows, err := s.repos.Projects.ListByOwner(gctx, owner)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", model.TableProjects, err)
		}
		next.Projects = rows
		return nil
	})
	g.Go(func() error {
		rows, err := s.repos.Responsibles.ListByOwner(gctx, owner)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", model.TableResponsibles, err)
		}
		next.Responsibles = rows
		return nil
	})
	g.Go(func() error {
		rows, err := s.repos.GroupLinks.ListByOwner(gctx, owner)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", model.TableGroupLinks, err)
		}
		next.GroupLinks = rows
		return nil
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, model.NewRemoteError(err)
	}
	return next.clone(), nil
}

// openSubscriptions は4テーブルそれぞれに所有者で絞り込んだ購読を1つずつ開く。
// 途中で失敗した場合は開いた分を解除してnilを返す。
func (s *Store) openSubscriptions(owner string) []realtime.Unsubscriber {
	subs := make([]realtime.Unsubscriber, 0, len(model.Tables()))
	for _, table := range model.Tables() {
		sub, err := s.subscriber.Subscribe(table, owner, s.onChange)
		if err != nil {
			s.logger.Error("failed to subscribe to changes",
				slog.String("table", string(table)),
				slog.String("error", err.Error()),
			)
			s.closeSubscriptions(subs)
			return nil
		}
		subs = append(subs, sub)
	}
	return subs
}

// closeSubscriptions はすべての購読を解除する。1つが失敗しても残りは解除する。
func (s *Store) closeSubscriptions(subs []realtime.Unsubscriber) {
	if len(subs) == 0 {
		return
	}
	var errs []error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Warn("failed to release some subscriptions", slog.String("error", err.Error()))
	}
}

// onChange はHubの配送goroutineから呼ばれる。ブロックせずに再読み込みを要求する。
func (s *Store) onChange(ev realtime.Event) {
	s.logger.Debug("change notification received",
		slog.String("table", string(ev.Table)),
		slog.String("op", ev.Operation),
	)
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

func (s *Store) currentOwner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

// Snapshot は現在のスナップショットのコピーを返す。
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.clone()
}

// Loading は読み込み中かどうかを返す。
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Loading
}

// Updates はスナップショットの変化を受け取るチャネルと購読解除関数を返す。
// チャネルには最新のスナップショットのみが保持される。
func (s *Store) Updates() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	s.watchMu.Lock()
	s.nextID++
	id := s.nextID
	s.watchers[id] = ch
	s.watchMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.watchMu.Lock()
			defer s.watchMu.Unlock()
			delete(s.watchers, id)
			close(ch)
		})
	}
}

// broadcastLocked は各チャネルの古いスナップショットを捨てて最新を送る。
// s.muを保持して呼ぶため、配送順は状態の更新順と一致する。
func (s *Store) broadcastLocked() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for _, ch := range s.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- s.snap.clone()
	}
}

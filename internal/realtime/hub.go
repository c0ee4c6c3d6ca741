// Package realtime はテーブル単位・所有者単位の変更通知の購読を提供する。
//
// テーブルのトリガーがPostgreSQLのチャネルに {"table","op","owner_id","id"} を
// NOTIFYし、Hubがそれを購読者に配送する。
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/fleetdesk/internal/model"
)

// 変更操作の種別
const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
	// OpResync は通知が欠落した可能性があることを示す合成イベント。
	OpResync = "resync"
)

// ErrSubscriptionClosed は解除済みの購読を再度解除しようとした場合のエラー。
var ErrSubscriptionClosed = errors.New("subscription already closed")

// pingInterval は通知がない場合に接続を確認する間隔。
const pingInterval = 90 * time.Second

// Event は購読者に配送される変更イベント。
type Event struct {
	Operation string
	Table     model.Table
	OwnerID   string
	RecordID  string
}

// Handler は変更イベントを受け取るコールバック。
// Hubの配送goroutineから同期的に呼ばれるため、ブロックしてはならない。
type Handler func(Event)

// Unsubscriber は購読の解除を表す。
type Unsubscriber interface {
	Unsubscribe() error
}

// Subscriber は (table, owner) 単位の購読を提供する。
type Subscriber interface {
	Subscribe(table model.Table, ownerID string, fn Handler) (Unsubscriber, error)
}

// Observer は配送状況を観測する。metrics.Collectorが実装する。
type Observer interface {
	RecordChangeEvent(table, op string)
	SetActiveSubscriptions(n int)
}

type noopObserver struct{}

func (noopObserver) RecordChangeEvent(string, string) {}
func (noopObserver) SetActiveSubscriptions(int)       {}

// payload はトリガーが送るJSON。
type payload struct {
	Table   string `json:"table"`
	Op      string `json:"op"`
	OwnerID string `json:"owner_id"`
	ID      string `json:"id"`
}

// Hub は1つの通知元から受け取ったイベントを購読者へ配送する。
type Hub struct {
	source   Source
	logger   *slog.Logger
	observer Observer

	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
}

// Option はHubの設定を変更する。
type Option func(*Hub)

// WithObserver は配送状況の観測者を設定する。
func WithObserver(o Observer) Option {
	return func(h *Hub) {
		if o != nil {
			h.observer = o
		}
	}
}

// NewHub はHubを生成する。Runを呼ぶまで配送は開始しない。
func NewHub(source Source, logger *slog.Logger, opts ...Option) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		source:   source,
		logger:   logger,
		observer: noopObserver{},
		subs:     make(map[uint64]*Subscription),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe はテーブルと所有者を指定して変更イベントを購読する。
func (h *Hub) Subscribe(table model.Table, ownerID string, fn Handler) (Unsubscriber, error) {
	if ownerID == "" {
		return nil, errors.New("owner id is required")
	}
	if fn == nil {
		return nil, errors.New("handler is required")
	}

	h.mu.Lock()
	h.nextID++
	sub := &Subscription{id: h.nextID, hub: h, table: table, ownerID: ownerID, fn: fn}
	h.subs[sub.id] = sub
	n := len(h.subs)
	h.mu.Unlock()

	h.observer.SetActiveSubscriptions(n)
	h.logger.Debug("realtime subscription opened",
		slog.String("table", string(table)),
		slog.String("owner_id", ownerID),
	)
	return sub, nil
}

// Active は現在の購読数を返す。
func (h *Hub) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Run は通知元から通知を受け取り、ctxがキャンセルされるか通知元が閉じるまで配送する。
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	notifications := h.source.Notifications()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-notifications:
			if !ok {
				h.logger.Info("realtime source closed")
				return nil
			}
			if n == nil {
				h.resync()
				continue
			}
			h.dispatch(n.Extra)
		case <-ticker.C:
			go func() {
				if err := h.source.Ping(); err != nil {
					h.logger.Warn("realtime ping failed", slog.String("error", err.Error()))
				}
			}()
		}
	}
}

// Close は通知元を閉じる。
func (h *Hub) Close() error {
	return h.source.Close()
}

// dispatch はペイロードを解析し、一致する購読者に配送する。
// 解析できないペイロードはログに記録して破棄する。
func (h *Hub) dispatch(raw string) {
	var p payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil || p.Table == "" || p.OwnerID == "" {
		h.logger.Warn("dropping malformed change notification", slog.String("payload", raw))
		return
	}

	ev := Event{Operation: p.Op, Table: model.Table(p.Table), OwnerID: p.OwnerID, RecordID: p.ID}
	h.observer.RecordChangeEvent(p.Table, p.Op)

	for _, sub := range h.matching(func(s *Subscription) bool {
		return s.table == ev.Table && s.ownerID == ev.OwnerID
	}) {
		sub.fn(ev)
	}
}

// resync はすべての購読者に合成イベントを配送する。
func (h *Hub) resync() {
	h.logger.Info("realtime listener reconnected, sending resync to subscribers")
	for _, sub := range h.matching(func(*Subscription) bool { return true }) {
		h.observer.RecordChangeEvent(string(sub.table), OpResync)
		sub.fn(Event{Operation: OpResync, Table: sub.table, OwnerID: sub.ownerID})
	}
}

// matching はロックを保持せずにコールバックを呼べるよう、対象購読のコピーを返す。
func (h *Hub) matching(pred func(*Subscription) bool) []*Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []*Subscription
	for _, s := range h.subs {
		if pred(s) {
			out = append(out, s)
		}
	}
	return out
}

func (h *Hub) remove(id uint64) bool {
	h.mu.Lock()
	_, ok := h.subs[id]
	delete(h.subs, id)
	n := len(h.subs)
	h.mu.Unlock()

	if ok {
		h.observer.SetActiveSubscriptions(n)
	}
	return ok
}

// Subscription は1つの (table, owner) 購読。
type Subscription struct {
	id      uint64
	hub     *Hub
	table   model.Table
	ownerID string
	fn      Handler
}

// Unsubscribe は購読を解除する。2回目以降はErrSubscriptionClosedを返す。
func (s *Subscription) Unsubscribe() error {
	if !s.hub.remove(s.id) {
		return ErrSubscriptionClosed
	}
	s.hub.logger.Debug("realtime subscription closed",
		slog.String("table", string(s.table)),
		slog.String("owner_id", s.ownerID),
	)
	return nil
}

// compile-time interface check
var (
	_ Subscriber = (*Hub)(nil)
	_ Source     = (*PostgresSource)(nil)
)

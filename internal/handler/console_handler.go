package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/fleetdesk/internal/middleware"
	"github.com/hitoshi/fleetdesk/internal/notify"
	"github.com/hitoshi/fleetdesk/internal/store"
)

// SnapshotSource はコレクションの現在値と再読み込みを提供する。store.Storeが実装する。
type SnapshotSource interface {
	Snapshot() store.Snapshot
	Refetch(ctx context.Context) error
}

// NoticeSource は最近の通知を提供する。notify.Recorderが実装する。
type NoticeSource interface {
	Recent() []notify.Notice
}

// ConsoleHandler はコレクション全体の状態・集計・通知のHTTPハンドラー。
type ConsoleHandler struct {
	snapshots SnapshotSource
	notices   NoticeSource
}

// NewConsoleHandler はConsoleHandlerを生成する。
func NewConsoleHandler(snapshots SnapshotSource, notices NoticeSource) *ConsoleHandler {
	return &ConsoleHandler{snapshots: snapshots, notices: notices}
}

// State は4つのコレクションの現在値を返す。
// GET /api/state
func (h *ConsoleHandler) State(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toSnapshotResponse(h.snapshots.Snapshot()))
}

// Refetch は4つのコレクションを再読み込みし、結果を返す。
// POST /api/refetch
func (h *ConsoleHandler) Refetch(w http.ResponseWriter, r *http.Request) {
	if err := h.snapshots.Refetch(r.Context()); err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSnapshotResponse(h.snapshots.Snapshot()))
}

// Summary はダッシュボード用の集計を返す。
// GET /api/summary
func (h *ConsoleHandler) Summary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, store.Summarize(h.snapshots.Snapshot()))
}

// Notices は最近の通知を新しい順に返す。
// GET /api/notices
func (h *ConsoleHandler) Notices(w http.ResponseWriter, r *http.Request) {
	notices := h.notices.Recent()
	if notices == nil {
		notices = []notify.Notice{}
	}
	writeJSON(w, http.StatusOK, notices)
}

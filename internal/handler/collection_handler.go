package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/fleetdesk/internal/bulk"
	"github.com/hitoshi/fleetdesk/internal/linkcheck"
	"github.com/hitoshi/fleetdesk/internal/middleware"
	"github.com/hitoshi/fleetdesk/internal/model"
	"github.com/hitoshi/fleetdesk/internal/store"
)

// CollectionStore はコレクションハンドラーが必要とするストア操作。store.Storeが実装する。
type CollectionStore interface {
	Snapshot() store.Snapshot

	AddNumber(ctx context.Context, in model.NewPhoneNumber) (string, error)
	UpdateNumber(ctx context.Context, id string, patch model.PhoneNumberPatch) error
	DeleteNumber(ctx context.Context, id string) error
	ImportWarmingNumbers(ctx context.Context, text string) (*store.ImportResult, error)

	AddProject(ctx context.Context, in model.NewProject) (string, error)
	UpdateProject(ctx context.Context, id string, patch model.ProjectPatch) error
	DeleteProject(ctx context.Context, id string) error

	AddResponsible(ctx context.Context, in model.NewResponsible) (string, error)
	UpdateResponsible(ctx context.Context, id string, patch model.ResponsiblePatch) error
	DeleteResponsible(ctx context.Context, id string) error

	AddGroupLink(ctx context.Context, in model.NewGroupLink) (string, error)
	UpdateGroupLink(ctx context.Context, id string, patch model.GroupLinkPatch) error
	DeleteGroupLink(ctx context.Context, id string) error
	GroupLink(ctx context.Context, id string) (*model.GroupLink, error)
	ImportGroupLinks(ctx context.Context, text string) (*store.ImportResult, error)
}

// LinkProber はグループリンクの到達性を確認する。linkcheck.Proberが実装する。
type LinkProber interface {
	Probe(ctx context.Context, rawURL string) (*linkcheck.Result, error)
}

// CollectionHandler は4つのコレクションのHTTPハンドラー。
// 一覧はストアのスナップショットから返し、更新はストアの更新操作に委譲する。
type CollectionHandler struct {
	store  CollectionStore
	prober LinkProber
}

// NewCollectionHandler はCollectionHandlerを生成する。proberがnilの場合、リンク確認は無効。
func NewCollectionHandler(store CollectionStore, prober LinkProber) *CollectionHandler {
	return &CollectionHandler{store: store, prober: prober}
}

// importRequest は一括登録リクエストのボディ。1行1件のテキスト。
type importRequest struct {
	Text string `json:"text"`
}

// --- 電話番号 ---

// ListNumbers は番号一覧を返す。status・project_id・qで絞り込める。
// GET /api/numbers
func (h *CollectionHandler) ListNumbers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	numbers := store.FilterNumbers(h.store.Snapshot().Numbers, store.NumberFilter{
		Status:    model.NumberStatus(q.Get("status")),
		ProjectID: q.Get("project_id"),
		Search:    q.Get("q"),
	})
	writeJSON(w, http.StatusOK, toNumberResponses(numbers))
}

// CreateNumber は番号を追加する。
// POST /api/numbers
func (h *CollectionHandler) CreateNumber(w http.ResponseWriter, r *http.Request) {
	var in model.NewPhoneNumber
	if !decodeJSON(w, r, &in) {
		return
	}
	id, err := h.store.AddNumber(r.Context(), in)
	writeCreated(w, id, err)
}

// UpdateNumber は番号を部分更新する。
// PATCH /api/numbers/{id}
func (h *CollectionHandler) UpdateNumber(w http.ResponseWriter, r *http.Request) {
	var patch model.PhoneNumberPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	writeNoContent(w, h.store.UpdateNumber(r.Context(), chi.URLParam(r, "id"), patch))
}

// DeleteNumber は番号を削除する。
// DELETE /api/numbers/{id}
func (h *CollectionHandler) DeleteNumber(w http.ResponseWriter, r *http.Request) {
	writeNoContent(w, h.store.DeleteNumber(r.Context(), chi.URLParam(r, "id")))
}

// ImportNumbers は「番号 | 説明」形式のテキストからウォームアップ中の番号を一括登録する。
// POST /api/numbers/import
func (h *CollectionHandler) ImportNumbers(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.store.ImportWarmingNumbers(r.Context(), req.Text)
	writeImportResult(w, result, err)
}

// --- プロジェクト ---

// ListProjects はプロジェクト一覧を返す。qで名前・説明を検索できる。
// GET /api/projects
func (h *CollectionHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects := store.SearchProjects(h.store.Snapshot().Projects, r.URL.Query().Get("q"))
	writeJSON(w, http.StatusOK, toProjectResponses(projects))
}

// CreateProject はプロジェクトを追加する。
// POST /api/projects
func (h *CollectionHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var in model.NewProject
	if !decodeJSON(w, r, &in) {
		return
	}
	id, err := h.store.AddProject(r.Context(), in)
	writeCreated(w, id, err)
}

// UpdateProject はプロジェクトを部分更新する。
// PATCH /api/projects/{id}
func (h *CollectionHandler) UpdateProject(w http.ResponseWriter, r *http.Request) {
	var patch model.ProjectPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	writeNoContent(w, h.store.UpdateProject(r.Context(), chi.URLParam(r, "id"), patch))
}

// DeleteProject はプロジェクトを削除する。参照している番号の関連は解除される。
// DELETE /api/projects/{id}
func (h *CollectionHandler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	writeNoContent(w, h.store.DeleteProject(r.Context(), chi.URLParam(r, "id")))
}

// --- 担当者 ---

// ListResponsibles は担当者一覧を返す。qで名前・メールアドレスを検索できる。
// GET /api/responsibles
func (h *CollectionHandler) ListResponsibles(w http.ResponseWriter, r *http.Request) {
	responsibles := store.SearchResponsibles(h.store.Snapshot().Responsibles, r.URL.Query().Get("q"))
	writeJSON(w, http.StatusOK, toResponsibleResponses(responsibles))
}

// CreateResponsible は担当者を追加する。
// POST /api/responsibles
func (h *CollectionHandler) CreateResponsible(w http.ResponseWriter, r *http.Request) {
	var in model.NewResponsible
	if !decodeJSON(w, r, &in) {
		return
	}
	id, err := h.store.AddResponsible(r.Context(), in)
	writeCreated(w, id, err)
}

// UpdateResponsible は担当者を部分更新する。
// PATCH /api/responsibles/{id}
func (h *CollectionHandler) UpdateResponsible(w http.ResponseWriter, r *http.Request) {
	var patch model.ResponsiblePatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	writeNoContent(w, h.store.UpdateResponsible(r.Context(), chi.URLParam(r, "id"), patch))
}

// DeleteResponsible は担当者を削除する。
// DELETE /api/responsibles/{id}
func (h *CollectionHandler) DeleteResponsible(w http.ResponseWriter, r *http.Request) {
	writeNoContent(w, h.store.DeleteResponsible(r.Context(), chi.URLParam(r, "id")))
}

// --- グループリンク ---

// ListGroupLinks はグループリンク一覧を返す。
// GET /api/group-links
func (h *CollectionHandler) ListGroupLinks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toGroupLinkResponses(h.store.Snapshot().GroupLinks))
}

// CreateGroupLink はグループリンクを追加する。
// POST /api/group-links
func (h *CollectionHandler) CreateGroupLink(w http.ResponseWriter, r *http.Request) {
	var in model.NewGroupLink
	if !decodeJSON(w, r, &in) {
		return
	}
	id, err := h.store.AddGroupLink(r.Context(), in)
	writeCreated(w, id, err)
}

// UpdateGroupLink はグループリンクを部分更新する。
// PATCH /api/group-links/{id}
func (h *CollectionHandler) UpdateGroupLink(w http.ResponseWriter, r *http.Request) {
	var patch model.GroupLinkPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	writeNoContent(w, h.store.UpdateGroupLink(r.Context(), chi.URLParam(r, "id"), patch))
}

// DeleteGroupLink はグループリンクを削除する。
// DELETE /api/group-links/{id}
func (h *CollectionHandler) DeleteGroupLink(w http.ResponseWriter, r *http.Request) {
	writeNoContent(w, h.store.DeleteGroupLink(r.Context(), chi.URLParam(r, "id")))
}

// ImportGroupLinks は「グループ名 | URL」形式のテキストからグループリンクを一括登録する。
// POST /api/group-links/import
func (h *CollectionHandler) ImportGroupLinks(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.store.ImportGroupLinks(r.Context(), req.Text)
	writeImportResult(w, result, err)
}

// ProbeGroupLink は保存済みグループリンクにアクセスし、ステータスとページタイトルを返す。
// POST /api/group-links/{id}/probe
func (h *CollectionHandler) ProbeGroupLink(w http.ResponseWriter, r *http.Request) {
	if h.prober == nil {
		middleware.WriteErrorResponse(w, http.StatusNotImplemented, &model.APIError{
			Code:     "PROBE_DISABLED",
			Message:  "リンク確認は無効です。",
			Category: "system",
			Action:   "管理者に問い合わせてください。",
		})
		return
	}

	link, err := h.store.GroupLink(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	result, err := h.prober.Probe(r.Context(), link.URL)
	if err != nil {
		slog.Warn("group link probe failed",
			slog.String("group_link_id", link.ID),
			slog.String("error", err.Error()),
		)
		middleware.WriteError(w, model.NewRemoteError(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeCreated(w http.ResponseWriter, id string, err error) {
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createdResponse{ID: id})
}

func writeNoContent(w http.ResponseWriter, err error) {
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// importErrorResponse は全行が拒否された一括登録のレスポンス。拒否理由を行ごとに含む。
type importErrorResponse struct {
	middleware.ErrorResponseBody
	Rejected []bulk.LineError `json:"rejected"`
}

func writeImportResult(w http.ResponseWriter, result *store.ImportResult, err error) {
	var apiErr *model.APIError
	if err != nil && result != nil && errors.As(err, &apiErr) && apiErr.Category == model.CategoryValidation {
		writeJSON(w, middleware.StatusCodeFor(apiErr), importErrorResponse{
			ErrorResponseBody: middleware.ErrorResponseBody{
				Code:     apiErr.Code,
				Message:  apiErr.Message,
				Category: apiErr.Category,
				Action:   apiErr.Action,
			},
			Rejected: result.Rejected,
		})
		return
	}
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

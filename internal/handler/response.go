package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/hitoshi/fleetdesk/internal/middleware"
	"github.com/hitoshi/fleetdesk/internal/model"
	"github.com/hitoshi/fleetdesk/internal/store"
)

// maxRequestBody はJSONリクエストボディの上限（一括登録のテキストを含む）。
const maxRequestBody = 1 << 20

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON はリクエストボディをdstにデコードする。
// 失敗した場合は400レスポンスを書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		msg := "リクエストボディの解析に失敗しました。"
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			msg = "リクエストボディが大きすぎます。"
		} else if errors.Is(err, io.EOF) {
			msg = "リクエストボディが空です。"
		}
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  msg,
			Category: model.CategoryValidation,
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return false
	}
	return true
}

// createdResponse は作成系APIのレスポンス。
type createdResponse struct {
	ID string `json:"id"`
}

// identityResponse はサインイン中の利用者のAPIレスポンス。
type identityResponse struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func toIdentityResponse(i *model.Identity) *identityResponse {
	if i == nil {
		return nil
	}
	return &identityResponse{
		ID:          i.ID,
		Email:       i.Email,
		DisplayName: i.DisplayName,
		CreatedAt:   i.CreatedAt,
	}
}

// numberResponse は電話番号のAPIレスポンス。
type numberResponse struct {
	ID             string             `json:"id"`
	Number         string             `json:"number"`
	Status         model.NumberStatus `json:"status"`
	ProjectID      *string            `json:"project_id"`
	ResponsibleID  *string            `json:"responsible_id"`
	Device         *model.DeviceKind  `json:"device"`
	MessageCount   int                `json:"message_count"`
	LastActivityAt *time.Time         `json:"last_activity_at"`
	CreatedAt      time.Time          `json:"created_at"`
}

func toNumberResponses(numbers []model.PhoneNumber) []numberResponse {
	out := make([]numberResponse, len(numbers))
	for i, n := range numbers {
		out[i] = numberResponse{
			ID:             n.ID,
			Number:         n.Number,
			Status:         n.Status,
			ProjectID:      n.ProjectID,
			ResponsibleID:  n.ResponsibleID,
			Device:         n.Device,
			MessageCount:   n.MessageCount,
			LastActivityAt: n.LastActivityAt,
			CreatedAt:      n.CreatedAt,
		}
	}
	return out
}

// projectResponse はプロジェクトのAPIレスポンス。
type projectResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

func toProjectResponses(projects []model.Project) []projectResponse {
	out := make([]projectResponse, len(projects))
	for i, p := range projects {
		out[i] = projectResponse{ID: p.ID, Name: p.Name, Description: p.Description, CreatedAt: p.CreatedAt}
	}
	return out
}

// responsibleResponse は担当者のAPIレスポンス。
type responsibleResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     *string   `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

func toResponsibleResponses(responsibles []model.ResponsibleParty) []responsibleResponse {
	out := make([]responsibleResponse, len(responsibles))
	for i, r := range responsibles {
		out[i] = responsibleResponse{ID: r.ID, Name: r.Name, Email: r.Email, CreatedAt: r.CreatedAt}
	}
	return out
}

// groupLinkResponse はグループリンクのAPIレスポンス。
type groupLinkResponse struct {
	ID        string    `json:"id"`
	GroupName string    `json:"group_name"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

func toGroupLinkResponses(links []model.GroupLink) []groupLinkResponse {
	out := make([]groupLinkResponse, len(links))
	for i, l := range links {
		out[i] = groupLinkResponse{ID: l.ID, GroupName: l.GroupName, URL: l.URL, CreatedAt: l.CreatedAt}
	}
	return out
}

// snapshotResponse は4つのコレクションのAPIレスポンス。
type snapshotResponse struct {
	OwnerID      string                `json:"owner_id,omitempty"`
	Loading      bool                  `json:"loading"`
	LoadedAt     *time.Time            `json:"loaded_at,omitempty"`
	Numbers      []numberResponse      `json:"numbers"`
	Projects     []projectResponse     `json:"projects"`
	Responsibles []responsibleResponse `json:"responsibles"`
	GroupLinks   []groupLinkResponse   `json:"group_links"`
}

func toSnapshotResponse(snap store.Snapshot) snapshotResponse {
	resp := snapshotResponse{
		OwnerID:      snap.OwnerID,
		Loading:      snap.Loading,
		Numbers:      toNumberResponses(snap.Numbers),
		Projects:     toProjectResponses(snap.Projects),
		Responsibles: toResponsibleResponses(snap.Responsibles),
		GroupLinks:   toGroupLinkResponses(snap.GroupLinks),
	}
	if !snap.LoadedAt.IsZero() {
		loadedAt := snap.LoadedAt
		resp.LoadedAt = &loadedAt
	}
	return resp
}

package store

import (
	"strings"

	"github.com/hitoshi/fleetdesk/internal/model"
)

// NumberFilter は番号一覧の絞り込み条件。空のフィールドは条件に含めない。
type NumberFilter struct {
	Status    model.NumberStatus
	ProjectID string
	Search    string // 番号または端末種別の部分一致（大文字小文字を区別しない）
}

// FilterNumbers は条件に一致する番号を元の順序のまま返す。
func FilterNumbers(numbers []model.PhoneNumber, f NumberFilter) []model.PhoneNumber {
	search := strings.ToLower(strings.TrimSpace(f.Search))
	out := make([]model.PhoneNumber, 0, len(numbers))
	for _, n := range numbers {
		if f.Status != "" && n.Status != f.Status {
			continue
		}
		if f.ProjectID != "" && (n.ProjectID == nil || *n.ProjectID != f.ProjectID) {
			continue
		}
		if search != "" && !containsFold(n.Number, search) &&
			(n.Device == nil || !containsFold(string(*n.Device), search)) {
			continue
		}
		out = append(out, n)
	}
	return out
}

// SearchProjects は名前または説明に検索語を含むプロジェクトを返す。
func SearchProjects(projects []model.Project, query string) []model.Project {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]model.Project, 0, len(projects))
	for _, p := range projects {
		if q == "" || containsFold(p.Name, q) || (p.Description != nil && containsFold(*p.Description, q)) {
			out = append(out, p)
		}
	}
	return out
}

// SearchResponsibles は名前またはメールアドレスに検索語を含む担当者を返す。
func SearchResponsibles(responsibles []model.ResponsibleParty, query string) []model.ResponsibleParty {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]model.ResponsibleParty, 0, len(responsibles))
	for _, r := range responsibles {
		if q == "" || containsFold(r.Name, q) || (r.Email != nil && containsFold(*r.Email, q)) {
			out = append(out, r)
		}
	}
	return out
}

func containsFold(s, lowerQuery string) bool {
	return strings.Contains(strings.ToLower(s), lowerQuery)
}

// RecentLimit はサマリーに含める最近の番号の件数。
const RecentLimit = 5

// RecentNumber はサマリーに表示する最近の番号。
type RecentNumber struct {
	ID          string             `json:"id"`
	Number      string             `json:"number"`
	Status      model.NumberStatus `json:"status"`
	ProjectName string             `json:"project_name,omitempty"`
}

// Summary はダッシュボード用の集計。
type Summary struct {
	TotalNumbers      int                        `json:"total_numbers"`
	TotalProjects     int                        `json:"total_projects"`
	TotalResponsibles int                        `json:"total_responsibles"`
	TotalGroupLinks   int                        `json:"total_group_links"`
	ByStatus          map[model.NumberStatus]int `json:"by_status"`
	Recent            []RecentNumber             `json:"recent"`
}

// Summarize はスナップショットを集計する。ステータスごとの件数は未使用のステータスも0で含む。
// 最近の番号はスナップショットの順序（作成日時の降順）の先頭RecentLimit件。
func Summarize(snap Snapshot) Summary {
	sum := Summary{
		TotalNumbers:      len(snap.Numbers),
		TotalProjects:     len(snap.Projects),
		TotalResponsibles: len(snap.Responsibles),
		TotalGroupLinks:   len(snap.GroupLinks),
		ByStatus:          make(map[model.NumberStatus]int, len(model.NumberStatuses())),
		Recent:            []RecentNumber{},
	}
	for _, st := range model.NumberStatuses() {
		sum.ByStatus[st] = 0
	}

	projectNames := make(map[string]string, len(snap.Projects))
	for _, p := range snap.Projects {
		projectNames[p.ID] = p.Name
	}

	for i, n := range snap.Numbers {
		sum.ByStatus[n.Status]++
		if i < RecentLimit {
			r := RecentNumber{ID: n.ID, Number: n.Number, Status: n.Status}
			if n.ProjectID != nil {
				r.ProjectName = projectNames[*n.ProjectID]
			}
			sum.Recent = append(sum.Recent, r)
		}
	}
	return sum
}

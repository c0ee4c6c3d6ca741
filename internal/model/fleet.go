// Package model はドメインモデルを定義する。
package model

import "time"

// NumberStatus は電話番号の運用状態を表す。
// 値はリモートストアに保存される文字列そのもの。
type NumberStatus string

const (
	// NumberStatusActive は本番運用中の状態。
	NumberStatusActive NumberStatus = "ativo"
	// NumberStatusInactive は停止中の状態。
	NumberStatusInactive NumberStatus = "inativo"
	// NumberStatusSuspended はプラットフォーム側で停止された状態。
	NumberStatusSuspended NumberStatus = "suspenso"
	// NumberStatusAPI はAPI経由で運用している状態。
	NumberStatusAPI NumberStatus = "api"
	// NumberStatusWarming は本番投入前に利用実績を積んでいる（ウォームアップ中の）状態。
	NumberStatusWarming NumberStatus = "aquecendo"
)

// NumberStatuses は有効なステータスを表示順で返す。
func NumberStatuses() []NumberStatus {
	return []NumberStatus{
		NumberStatusActive,
		NumberStatusInactive,
		NumberStatusSuspended,
		NumberStatusAPI,
		NumberStatusWarming,
	}
}

// Valid はステータスが定義済みの値かどうかを返す。
func (s NumberStatus) Valid() bool {
	for _, v := range NumberStatuses() {
		if s == v {
			return true
		}
	}
	return false
}

// DeviceKind は番号が稼働している端末の種別を表す。
type DeviceKind string

const (
	// DeviceKindPhone は実機。
	DeviceKindPhone DeviceKind = "Celular"
	// DeviceKindEmulator はエミュレータ。
	DeviceKindEmulator DeviceKind = "Emulador"
)

// Valid は端末種別が定義済みの値かどうかを返す。
func (d DeviceKind) Valid() bool {
	return d == DeviceKindPhone || d == DeviceKindEmulator
}

// PhoneNumber は管理対象のメッセージングアカウントの電話番号を表す。
// MessageCountはサーバー側で管理され、クライアントからは設定しない。
type PhoneNumber struct {
	ID             string
	Number         string
	Status         NumberStatus
	ProjectID      *string
	ResponsibleID  *string
	Device         *DeviceKind
	MessageCount   int
	LastActivityAt *time.Time
	CreatedAt      time.Time
	OwnerID        string
}

// Project は番号を束ねるプロジェクト（キャンペーン）を表す。
type Project struct {
	ID          string
	Name        string
	Description *string
	CreatedAt   time.Time
	OwnerID     string
}

// ResponsibleParty は番号の担当者を表す。
type ResponsibleParty struct {
	ID        string
	Name      string
	Email     *string
	CreatedAt time.Time
	OwnerID   string
}

// GroupLink は保存済みのグループ招待リンクを表す。
type GroupLink struct {
	ID        string
	GroupName string
	URL       string
	CreatedAt time.Time
	OwnerID   string
}

// Table はリモートストア上のテーブル名を表す。
// 変更通知の購読キーとしても使用する。
type Table string

const (
	// TableNumbers は電話番号テーブル。
	TableNumbers Table = "numeros"
	// TableProjects はプロジェクトテーブル。
	TableProjects Table = "projetos"
	// TableResponsibles は担当者テーブル。
	TableResponsibles Table = "responsaveis"
	// TableGroupLinks はグループリンクテーブル。
	TableGroupLinks Table = "links_grupos"
)

// Tables は同期対象の4テーブルを返す。
func Tables() []Table {
	return []Table{TableNumbers, TableProjects, TableResponsibles, TableGroupLinks}
}

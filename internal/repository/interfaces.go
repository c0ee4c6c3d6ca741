// Package repository はデータ永続化のインターフェースを定義する。
// 4つのコレクションのリポジトリはすべて所有者IDでスコープされ、
// 他の所有者の行を読み書きすることはない。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/fleetdesk/internal/model"
)

// NumberRepository は電話番号（numeros）の永続化インターフェース。
type NumberRepository interface {
	// ListByOwner は所有者の番号を作成日時の降順で取得する。
	ListByOwner(ctx context.Context, ownerID string) ([]model.PhoneNumber, error)

	// Create は番号を作成し、サーバーが採番したIDを返す。
	// メッセージ数は常に0で書き込む。
	Create(ctx context.Context, ownerID string, in model.NewPhoneNumber) (string, error)

	// Update はパッチで指定されたフィールドのみを更新する。
	// 所有者の行が存在しない場合はNOT_FOUNDエラーを返す。
	Update(ctx context.Context, ownerID, id string, patch model.PhoneNumberPatch) error

	// Delete は所有者の行を削除する。存在しない場合はNOT_FOUNDエラーを返す。
	Delete(ctx context.Context, ownerID, id string) error
}

// ProjectRepository はプロジェクト（projetos）の永続化インターフェース。
type ProjectRepository interface {
	ListByOwner(ctx context.Context, ownerID string) ([]model.Project, error)
	Create(ctx context.Context, ownerID string, in model.NewProject) (string, error)
	Update(ctx context.Context, ownerID, id string, patch model.ProjectPatch) error
	// Delete はプロジェクトを削除する。参照している番号のprojeto_idはNULLになる。
	Delete(ctx context.Context, ownerID, id string) error
}

// ResponsibleRepository は担当者（responsaveis）の永続化インターフェース。
type ResponsibleRepository interface {
	ListByOwner(ctx context.Context, ownerID string) ([]model.ResponsibleParty, error)
	Create(ctx context.Context, ownerID string, in model.NewResponsible) (string, error)
	Update(ctx context.Context, ownerID, id string, patch model.ResponsiblePatch) error
	// Delete は担当者を削除する。参照している番号のresponsavel_idはNULLになる。
	Delete(ctx context.Context, ownerID, id string) error
}

// GroupLinkRepository はグループリンク（links_grupos）の永続化インターフェース。
type GroupLinkRepository interface {
	ListByOwner(ctx context.Context, ownerID string) ([]model.GroupLink, error)
	// FindByID は所有者のリンクを1件取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, ownerID, id string) (*model.GroupLink, error)
	Create(ctx context.Context, ownerID string, in model.NewGroupLink) (string, error)
	Update(ctx context.Context, ownerID, id string, patch model.GroupLinkPatch) error
	Delete(ctx context.Context, ownerID, id string) error
}

// UserRepository は認証ユーザー（auth_users）の永続化インターフェース。
type UserRepository interface {
	// Create はユーザーを作成する。メールアドレスが登録済みの場合はErrDuplicateEmailを返す。
	Create(ctx context.Context, user *model.AuthUser) error

	// FindByEmail はメールアドレスでユーザーを検索する（大文字小文字を区別しない）。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.AuthUser, error)

	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.AuthUser, error)

	// Confirm はメールアドレスの確認を完了する。
	// 未確認ユーザーが存在しない場合はfalseを返す。
	Confirm(ctx context.Context, email string, at time.Time) (bool, error)
}

// SessionRepository は認証セッション（auth_sessions）の永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.SessionRecord) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.SessionRecord, error)
	// Extend は有効なセッションの期限を延長する。対象がない場合はfalseを返す。
	Extend(ctx context.Context, id string, expiresAt time.Time) (bool, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

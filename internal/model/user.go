// Package model はドメインモデルを定義する。
package model

import "time"

// Identity は認証済みの利用者を表す。
// 利用者が作成したすべてのエンティティはIdentityのIDを所有者として持つ。
type Identity struct {
	ID          string
	Email       string
	DisplayName string // 任意
	CreatedAt   time.Time
}

// Session は利用者のログインセッションを表す。
// AccessTokenは署名済みトークンで、ExpiresAtを過ぎると無効になる。
type Session struct {
	ID          string
	Identity    Identity
	AccessToken string
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// Expired は指定時刻の時点でセッションが期限切れかどうかを返す。
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// AuthUser は認証バックエンドに保存される利用者レコードを表す。
// PasswordHashはbcryptハッシュ。ConfirmedAtがnilの間はログインできない。
type AuthUser struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	ConfirmedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Identity はAuthUserから公開用のIdentityを生成する。
func (u *AuthUser) Identity() Identity {
	return Identity{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		CreatedAt:   u.CreatedAt,
	}
}

// SessionRecord は認証バックエンドに保存されるセッション行を表す。
type SessionRecord struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, unauthenticated, remote, auth
	Action   string // ユーザー向け対処方法
	Err      error  // 元になったエラー（任意）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は元になったエラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// エラーカテゴリ
const (
	// CategoryValidation はリモート呼び出し前に検出された入力制約違反。
	CategoryValidation = "validation"
	// CategoryUnauthenticated はログインしていない状態での更新操作。
	CategoryUnauthenticated = "unauthenticated"
	// CategoryRemote はリモートストアが呼び出しを拒否または失敗したことを示す。
	CategoryRemote = "remote"
	// CategoryAuth はサインイン・サインアップ・サインアウト固有の失敗。
	CategoryAuth = "auth"
)

// 定義済みエラーコード
const (
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodeEmptyPatch         = "EMPTY_PATCH"
	ErrCodeUnauthenticated    = "UNAUTHENTICATED"
	ErrCodeRemote             = "REMOTE_ERROR"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeEmailNotConfirmed  = "EMAIL_NOT_CONFIRMED"
	ErrCodeEmailExists        = "EMAIL_EXISTS"
	ErrCodeSessionExpired     = "SESSION_EXPIRED"
	ErrCodeSessionInUse       = "SESSION_IN_USE"
	ErrCodeAuthFailed         = "AUTH_FAILED"
)

// NewValidationError は入力制約違反エラーを生成する。
// fieldsには違反したフィールドごとの説明を渡す。
func NewValidationError(fields ...string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  fmt.Sprintf("入力内容に誤りがあります: %s", strings.Join(fields, ", ")),
		Category: CategoryValidation,
		Action:   "入力内容を確認してから再度お試しください。",
	}
}

// NewEmptyPatchError は変更項目のない更新要求に対するエラーを生成する。
func NewEmptyPatchError() *APIError {
	return &APIError{
		Code:     ErrCodeEmptyPatch,
		Message:  "更新する項目が指定されていません。",
		Category: CategoryValidation,
		Action:   "変更する項目を1つ以上指定してください。",
	}
}

// NewUnauthenticatedError は未ログイン状態での操作に対するエラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "ログインが必要です。",
		Category: CategoryUnauthenticated,
		Action:   "ログインしてから再度お試しください。",
	}
}

// NewRemoteError はリモートストアの失敗をラップしたエラーを生成する。
// リモートが返したメッセージがあればそれを表示に使う。
func NewRemoteError(err error) *APIError {
	msg := "リモートストアとの通信に失敗しました。"
	if err != nil {
		msg = err.Error()
	}
	return &APIError{
		Code:     ErrCodeRemote,
		Message:  msg,
		Category: CategoryRemote,
		Action:   "しばらく待ってから再度お試しください。",
		Err:      err,
	}
}

// NewNotFoundError は所有者スコープ内で対象行が見つからない場合のエラーを生成する。
func NewNotFoundError(table Table, id string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("対象のレコードが見つかりません: %s/%s", table, id),
		Category: CategoryRemote,
		Action:   "一覧を再読み込みして対象を確認してください。",
	}
}

// NewInvalidCredentialsError はメールアドレスまたはパスワードの誤りを表すエラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: CategoryAuth,
		Action:   "入力内容を確認してください。",
	}
}

// NewEmailNotConfirmedError はメール確認前のログインに対するエラーを生成する。
func NewEmailNotConfirmedError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailNotConfirmed,
		Message:  "メールアドレスの確認が完了していません。",
		Category: CategoryAuth,
		Action:   "確認手続きを完了してからログインしてください。",
	}
}

// NewEmailExistsError は登録済みメールアドレスでのサインアップに対するエラーを生成する。
func NewEmailExistsError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailExists,
		Message:  "このメールアドレスは既に登録されています。",
		Category: CategoryAuth,
		Action:   "ログイン画面からログインしてください。",
	}
}

// NewSessionExpiredError は失効したセッションに対するエラーを生成する。
func NewSessionExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionExpired,
		Message:  "セッションの有効期限が切れました。",
		Category: CategoryAuth,
		Action:   "ログインし直してください。",
	}
}

// NewSessionInUseError は別の利用者がサインイン中のコンソールへのサインインに対するエラーを生成する。
func NewSessionInUseError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionInUse,
		Message:  "別の利用者がサインイン中です。",
		Category: CategoryAuth,
		Action:   "現在の利用者がサインアウトしてから再度お試しください。",
	}
}

// NewAuthError は分類できない認証系の失敗をラップしたエラーを生成する。
func NewAuthError(err error) *APIError {
	msg := "認証処理に失敗しました。"
	if err != nil {
		msg = err.Error()
	}
	return &APIError{
		Code:     ErrCodeAuthFailed,
		Message:  msg,
		Category: CategoryAuth,
		Action:   "しばらく待ってから再度お試しください。",
		Err:      err,
	}
}

// CategoryOf はエラーチェーン中のAPIErrorのカテゴリを返す。
// APIErrorを含まない場合は空文字列を返す。
func CategoryOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Category
	}
	return ""
}

// IsValidation は入力制約違反かどうかを返す。
func IsValidation(err error) bool { return CategoryOf(err) == CategoryValidation }

// IsUnauthenticated は未ログインによる失敗かどうかを返す。
func IsUnauthenticated(err error) bool { return CategoryOf(err) == CategoryUnauthenticated }

// IsRemote はリモートストア起因の失敗かどうかを返す。
func IsRemote(err error) bool { return CategoryOf(err) == CategoryRemote }

// IsAuth は認証操作の失敗かどうかを返す。
func IsAuth(err error) bool { return CategoryOf(err) == CategoryAuth }

// IsNotFound は対象行が見つからなかった失敗かどうかを返す。
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == ErrCodeNotFound
}

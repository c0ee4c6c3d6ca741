package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/fleetdesk/internal/model"
)

// ErrDuplicateEmail は登録済みのメールアドレスでユーザーを作成しようとした場合のエラー。
var ErrDuplicateEmail = errors.New("email already registered")

// PostgresUserRepo はPostgreSQLを使用した認証ユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.AuthUser) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO auth_users (id, email, display_name, password_hash, confirmed_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		user.ID, user.Email, user.DisplayName, user.PasswordHash, user.ConfirmedAt, user.CreatedAt, user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.AuthUser, error) {
	return r.findOne(ctx,
		`SELECT id, email, display_name, password_hash, confirmed_at, created_at, updated_at
		 FROM auth_users WHERE lower(email) = lower($1)`,
		email,
	)
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.AuthUser, error) {
	return r.findOne(ctx,
		`SELECT id, email, display_name, password_hash, confirmed_at, created_at, updated_at
		 FROM auth_users WHERE id = $1`,
		id,
	)
}

func (r *PostgresUserRepo) findOne(ctx context.Context, query string, arg string) (*model.AuthUser, error) {
	user := &model.AuthUser{}
	var confirmedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash,
		&confirmedAt, &user.CreatedAt, &user.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	user.ConfirmedAt = timePtr(confirmedAt)
	return user, nil
}

// Confirm はメールアドレスの確認を完了する。
func (r *PostgresUserRepo) Confirm(ctx context.Context, email string, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE auth_users SET confirmed_at = $2, updated_at = $2
		 WHERE lower(email) = lower($1) AND confirmed_at IS NULL`,
		email, at,
	)
	if err != nil {
		return false, fmt.Errorf("failed to confirm user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// isUniqueViolation は一意制約違反（SQLSTATE 23505）かどうかを返す。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)

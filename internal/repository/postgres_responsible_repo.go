package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/fleetdesk/internal/model"
)

// PostgresResponsibleRepo はPostgreSQLを使用した担当者リポジトリ。
type PostgresResponsibleRepo struct {
	db *sql.DB
}

// NewPostgresResponsibleRepo はPostgresResponsibleRepoを生成する。
func NewPostgresResponsibleRepo(db *sql.DB) *PostgresResponsibleRepo {
	return &PostgresResponsibleRepo{db: db}
}

// ListByOwner は所有者の担当者を作成日時の降順で取得する。
func (r *PostgresResponsibleRepo) ListByOwner(ctx context.Context, ownerID string) ([]model.ResponsibleParty, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, nome, email, created_at, user_id
		 FROM responsaveis
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list responsibles: %w", err)
	}
	defer rows.Close()

	responsibles := []model.ResponsibleParty{}
	for rows.Next() {
		var (
			rp    model.ResponsibleParty
			email sql.NullString
		)
		if err := rows.Scan(&rp.ID, &rp.Name, &email, &rp.CreatedAt, &rp.OwnerID); err != nil {
			return nil, fmt.Errorf("failed to scan responsible: %w", err)
		}
		rp.Email = stringPtr(email)
		responsibles = append(responsibles, rp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate responsibles: %w", err)
	}

	return responsibles, nil
}

// Create は担当者を作成し、採番されたIDを返す。
func (r *PostgresResponsibleRepo) Create(ctx context.Context, ownerID string, in model.NewResponsible) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO responsaveis (nome, email, user_id)
		 VALUES ($1, $2, $3)
		 RETURNING id`,
		in.Name, nullableText(&in.Email), ownerID,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to create responsible: %w", err)
	}
	return id, nil
}

// Update はパッチで指定されたフィールドのみを更新する。
func (r *PostgresResponsibleRepo) Update(ctx context.Context, ownerID, id string, patch model.ResponsiblePatch) error {
	set := &setClause{}
	if patch.Name != nil {
		set.add("nome", *patch.Name)
	}
	if patch.Email != nil {
		set.add("email", nullableText(patch.Email))
	}
	return updateScoped(ctx, r.db, model.TableResponsibles, ownerID, id, set)
}

// Delete は所有者の担当者を削除する。
func (r *PostgresResponsibleRepo) Delete(ctx context.Context, ownerID, id string) error {
	return deleteScoped(ctx, r.db, model.TableResponsibles, ownerID, id)
}

// compile-time interface check
var _ ResponsibleRepository = (*PostgresResponsibleRepo)(nil)

package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/fleetdesk/internal/model"
)

// PostgresProjectRepo はPostgreSQLを使用したプロジェクトリポジトリ。
type PostgresProjectRepo struct {
	db *sql.DB
}

// NewPostgresProjectRepo はPostgresProjectRepoを生成する。
func NewPostgresProjectRepo(db *sql.DB) *PostgresProjectRepo {
	return &PostgresProjectRepo{db: db}
}

// ListByOwner は所有者のプロジェクトを作成日時の降順で取得する。
func (r *PostgresProjectRepo) ListByOwner(ctx context.Context, ownerID string) ([]model.Project, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, nome, descricao, criado_em, user_id
		 FROM projetos
		 WHERE user_id = $1
		 ORDER BY criado_em DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	projects := []model.Project{}
	for rows.Next() {
		var (
			p    model.Project
			desc sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Name, &desc, &p.CreatedAt, &p.OwnerID); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		p.Description = stringPtr(desc)
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate projects: %w", err)
	}

	return projects, nil
}

// Create はプロジェクトを作成し、採番されたIDを返す。
func (r *PostgresProjectRepo) Create(ctx context.Context, ownerID string, in model.NewProject) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO projetos (nome, descricao, user_id)
		 VALUES ($1, $2, $3)
		 RETURNING id`,
		in.Name, nullableText(&in.Description), ownerID,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to create project: %w", err)
	}
	return id, nil
}

// Update はパッチで指定されたフィールドのみを更新する。
func (r *PostgresProjectRepo) Update(ctx context.Context, ownerID, id string, patch model.ProjectPatch) error {
	set := &setClause{}
	if patch.Name != nil {
		set.add("nome", *patch.Name)
	}
	if patch.Description != nil {
		set.add("descricao", nullableText(patch.Description))
	}
	return updateScoped(ctx, r.db, model.TableProjects, ownerID, id, set)
}

// Delete は所有者のプロジェクトを削除する。
func (r *PostgresProjectRepo) Delete(ctx context.Context, ownerID, id string) error {
	return deleteScoped(ctx, r.db, model.TableProjects, ownerID, id)
}

// compile-time interface check
var _ ProjectRepository = (*PostgresProjectRepo)(nil)

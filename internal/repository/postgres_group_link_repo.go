package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/fleetdesk/internal/model"
)

// PostgresGroupLinkRepo はPostgreSQLを使用したグループリンクリポジトリ。
type PostgresGroupLinkRepo struct {
	db *sql.DB
}

// NewPostgresGroupLinkRepo はPostgresGroupLinkRepoを生成する。
func NewPostgresGroupLinkRepo(db *sql.DB) *PostgresGroupLinkRepo {
	return &PostgresGroupLinkRepo{db: db}
}

// ListByOwner は所有者のリンクを作成日時の降順で取得する。
func (r *PostgresGroupLinkRepo) ListByOwner(ctx context.Context, ownerID string) ([]model.GroupLink, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, nome_grupo, url, created_at, user_id
		 FROM links_grupos
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list group links: %w", err)
	}
	defer rows.Close()

	links := []model.GroupLink{}
	for rows.Next() {
		var l model.GroupLink
		if err := rows.Scan(&l.ID, &l.GroupName, &l.URL, &l.CreatedAt, &l.OwnerID); err != nil {
			return nil, fmt.Errorf("failed to scan group link: %w", err)
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate group links: %w", err)
	}

	return links, nil
}

// FindByID は所有者のリンクを1件取得する。見つからない場合はnilを返す。
func (r *PostgresGroupLinkRepo) FindByID(ctx context.Context, ownerID, id string) (*model.GroupLink, error) {
	l := &model.GroupLink{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, nome_grupo, url, created_at, user_id
		 FROM links_grupos
		 WHERE id = $1 AND user_id = $2`,
		id, ownerID,
	).Scan(&l.ID, &l.GroupName, &l.URL, &l.CreatedAt, &l.OwnerID)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find group link: %w", err)
	}

	return l, nil
}

// Create はリンクを作成し、採番されたIDを返す。
func (r *PostgresGroupLinkRepo) Create(ctx context.Context, ownerID string, in model.NewGroupLink) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO links_grupos (nome_grupo, url, user_id)
		 VALUES ($1, $2, $3)
		 RETURNING id`,
		in.GroupName, in.URL, ownerID,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to create group link: %w", err)
	}
	return id, nil
}

// Update はパッチで指定されたフィールドのみを更新する。
func (r *PostgresGroupLinkRepo) Update(ctx context.Context, ownerID, id string, patch model.GroupLinkPatch) error {
	set := &setClause{}
	if patch.GroupName != nil {
		set.add("nome_grupo", *patch.GroupName)
	}
	if patch.URL != nil {
		set.add("url", *patch.URL)
	}
	return updateScoped(ctx, r.db, model.TableGroupLinks, ownerID, id, set)
}

// Delete は所有者のリンクを削除する。
func (r *PostgresGroupLinkRepo) Delete(ctx context.Context, ownerID, id string) error {
	return deleteScoped(ctx, r.db, model.TableGroupLinks, ownerID, id)
}

// compile-time interface check
var _ GroupLinkRepository = (*PostgresGroupLinkRepo)(nil)

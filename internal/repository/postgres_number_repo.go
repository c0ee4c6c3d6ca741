package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/fleetdesk/internal/model"
)

// PostgresNumberRepo はPostgreSQLを使用した電話番号リポジトリ。
type PostgresNumberRepo struct {
	db *sql.DB
}

// NewPostgresNumberRepo はPostgresNumberRepoを生成する。
func NewPostgresNumberRepo(db *sql.DB) *PostgresNumberRepo {
	return &PostgresNumberRepo{db: db}
}

// ListByOwner は所有者の番号を作成日時の降順で取得する。
func (r *PostgresNumberRepo) ListByOwner(ctx context.Context, ownerID string) ([]model.PhoneNumber, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, numero, status, projeto_id, responsavel_id, dispositivo,
		        mensagens, ultima_atividade, criado_em, user_id
		 FROM numeros
		 WHERE user_id = $1
		 ORDER BY criado_em DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list numbers: %w", err)
	}
	defer rows.Close()

	numbers := []model.PhoneNumber{}
	for rows.Next() {
		var (
			n                         model.PhoneNumber
			projectID, respID, device sql.NullString
			lastActivity              sql.NullTime
		)
		if err := rows.Scan(
			&n.ID, &n.Number, &n.Status, &projectID, &respID, &device,
			&n.MessageCount, &lastActivity, &n.CreatedAt, &n.OwnerID,
		); err != nil {
			return nil, fmt.Errorf("failed to scan number: %w", err)
		}
		n.ProjectID = stringPtr(projectID)
		n.ResponsibleID = stringPtr(respID)
		if device.Valid {
			d := model.DeviceKind(device.String)
			n.Device = &d
		}
		n.LastActivityAt = timePtr(lastActivity)
		numbers = append(numbers, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate numbers: %w", err)
	}

	return numbers, nil
}

// Create は番号を作成し、採番されたIDを返す。mensagensは常に0で書き込む。
func (r *PostgresNumberRepo) Create(ctx context.Context, ownerID string, in model.NewPhoneNumber) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO numeros (numero, status, projeto_id, responsavel_id, dispositivo, mensagens, user_id)
		 VALUES ($1, $2, $3, $4, $5, 0, $6)
		 RETURNING id`,
		in.Number, string(in.Status),
		nullableText(&in.ProjectID), nullableText(&in.ResponsibleID),
		nullableText((*string)(&in.Device)), ownerID,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to create number: %w", err)
	}
	return id, nil
}

// Update はパッチで指定されたフィールドのみを更新する。
func (r *PostgresNumberRepo) Update(ctx context.Context, ownerID, id string, patch model.PhoneNumberPatch) error {
	set := &setClause{}
	if patch.Number != nil {
		set.add("numero", *patch.Number)
	}
	if patch.Status != nil {
		set.add("status", string(*patch.Status))
	}
	if patch.ProjectID != nil {
		set.add("projeto_id", nullableText(patch.ProjectID))
	}
	if patch.ResponsibleID != nil {
		set.add("responsavel_id", nullableText(patch.ResponsibleID))
	}
	if patch.Device != nil {
		set.add("dispositivo", nullableText((*string)(patch.Device)))
	}
	return updateScoped(ctx, r.db, model.TableNumbers, ownerID, id, set)
}

// Delete は所有者の番号を削除する。
func (r *PostgresNumberRepo) Delete(ctx context.Context, ownerID, id string) error {
	return deleteScoped(ctx, r.db, model.TableNumbers, ownerID, id)
}

// compile-time interface check
var _ NumberRepository = (*PostgresNumberRepo)(nil)

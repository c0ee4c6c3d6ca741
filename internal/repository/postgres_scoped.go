package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/fleetdesk/internal/model"
)

// execer はExecContextを持つDB操作の抽象。*sql.DBと*sql.Txが満たす。
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// setClause は部分更新のSET句を組み立てる。
type setClause struct {
	assignments []string
	args        []any
}

// add は列と値を追加する。プレースホルダ番号は追加順に採番される。
func (s *setClause) add(column string, value any) {
	s.args = append(s.args, value)
	s.assignments = append(s.assignments, fmt.Sprintf("%s = $%d", column, len(s.args)))
}

// empty は更新する列がないかどうかを返す。
func (s *setClause) empty() bool {
	return len(s.assignments) == 0
}

// build は所有者フィルタ付きのUPDATE文と引数を返す。
func (s *setClause) build(table model.Table, ownerID, id string) (string, []any) {
	args := append(append([]any{}, s.args...), id, ownerID)
	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE id = $%d AND user_id = $%d",
		table, strings.Join(s.assignments, ", "), len(args)-1, len(args),
	)
	return query, args
}

// execScoped は所有者スコープの更新・削除を実行し、影響行数が0の場合はNOT_FOUNDを返す。
func execScoped(ctx context.Context, db execer, table model.Table, id, op, query string, args ...any) error {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s %s: %w", op, table, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return model.NewNotFoundError(table, id)
	}

	return nil
}

// deleteScoped は所有者フィルタ付きで1行削除する。
func deleteScoped(ctx context.Context, db execer, table model.Table, ownerID, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1 AND user_id = $2", table)
	return execScoped(ctx, db, table, id, "delete", query, id, ownerID)
}

// updateScoped はSET句を所有者フィルタ付きで実行する。
func updateScoped(ctx context.Context, db execer, table model.Table, ownerID, id string, set *setClause) error {
	if set.empty() {
		return model.NewEmptyPatchError()
	}
	query, args := set.build(table, ownerID, id)
	return execScoped(ctx, db, table, id, "update", query, args...)
}

// nullableText は空文字列をNULLとして扱う値に変換する。
func nullableText(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/fleetdesk/internal/bulk"
	"github.com/hitoshi/fleetdesk/internal/model"
)

// ImportResult は一括登録の結果。
type ImportResult struct {
	Created  []string         `json:"created"`
	Rejected []bulk.LineError `json:"rejected"`
}

// ImportGroupLinks は「グループ名 | URL」形式のテキストからグループリンクを一括作成する。
// 1行ごとに1回書き込み、通知は全体で1件にまとめる。完了後にRefetchする。
func (s *Store) ImportGroupLinks(ctx context.Context, text string) (*ImportResult, error) {
	lines, rejected := bulk.ParseGroupLinkLines(text)
	return s.importLines(ctx, model.TableGroupLinks, len(lines), rejected,
		"grupo(s) adicionado(s)", "Erro ao importar grupos",
		func(ctx context.Context, ownerID string, i int) (int, string, error) {
			in := lines[i].Link
			if err := s.prepareGroupLink(&in); err != nil {
				return lines[i].Line, "", err
			}
			id, err := s.repos.GroupLinks.Create(ctx, ownerID, in)
			return lines[i].Line, id, err
		},
	)
}

// ImportWarmingNumbers は「番号 | メモ」形式のテキストから
// ウォームアップ中（aquecendo）の番号を一括作成する。
func (s *Store) ImportWarmingNumbers(ctx context.Context, text string) (*ImportResult, error) {
	lines, rejected := bulk.ParseNumberLines(text)
	return s.importLines(ctx, model.TableNumbers, len(lines), rejected,
		"número(s) adicionado(s) para aquecimento", "Erro ao importar números",
		func(ctx context.Context, ownerID string, i int) (int, string, error) {
			in := model.NewPhoneNumber{Number: lines[i].Number, Status: model.NumberStatusWarming}
			in.Normalize()
			if err := model.ValidateInput(&in); err != nil {
				return lines[i].Line, "", err
			}
			id, err := s.repos.Numbers.Create(ctx, ownerID, in)
			return lines[i].Line, id, err
		},
	)
}

func (s *Store) importLines(
	ctx context.Context,
	table model.Table,
	n int,
	rejected []bulk.LineError,
	successSuffix, failure string,
	create func(ctx context.Context, ownerID string, i int) (line int, id string, err error),
) (*ImportResult, error) {
	m := mutation{table: table, op: "import", failure: failure}

	identity := s.identity.Current()
	if identity == nil {
		err := model.NewUnauthenticatedError()
		s.fail(m, err)
		return nil, err
	}
	if n == 0 {
		err := model.NewValidationError("text(no valid lines)")
		s.fail(m, err)
		return &ImportResult{Rejected: rejected}, err
	}

	result := &ImportResult{Rejected: rejected}
	for i := 0; i < n; i++ {
		line, id, err := create(ctx, identity.ID, i)
		if err != nil {
			result.Rejected = append(result.Rejected, bulk.LineError{Line: line, Reason: messageOf(err)})
			continue
		}
		result.Created = append(result.Created, id)
	}

	s.logger.Info("bulk import finished",
		slog.String("table", string(table)),
		slog.Int("created", len(result.Created)),
		slog.Int("rejected", len(result.Rejected)),
	)

	if len(result.Created) == 0 {
		s.observer.RecordMutation(string(table), m.op, model.CategoryValidation)
		s.notifier.Error(failure, fmt.Sprintf("%d linha(s) rejeitada(s)", len(result.Rejected)))
		return result, model.NewValidationError("text(all lines rejected)")
	}

	s.observer.RecordMutation(string(table), m.op, "ok")
	msg := ""
	if len(result.Rejected) > 0 {
		msg = fmt.Sprintf("%d linha(s) rejeitada(s)", len(result.Rejected))
	}
	s.notifier.Success(fmt.Sprintf("%d %s", len(result.Created), successSuffix), msg)

	if err := s.Refetch(ctx); err != nil {
		s.logger.Warn("refetch after import failed", slog.String("error", err.Error()))
	}
	return result, nil
}

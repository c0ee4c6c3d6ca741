package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/fleetdesk/internal/model"
)

const (
	opCreate = "create"
	opUpdate = "update"
	opDelete = "delete"
)

// mutation は1件の更新操作の種類と通知文言。
type mutation struct {
	table   model.Table
	op      string
	success string
	failure string
}

// mutate は更新操作の共通手順を実行する。
//  1. 利用者がいなければリモートを呼ばずにunauthenticatedを返す
//  2. 入力検証に失敗すればリモートを呼ばずにvalidationを返す
//  3. 所有者を指定してリモートへ1回だけ書き込む
//
// 成功・失敗のどちらでも通知はちょうど1件。ローカルのコレクションは変更しない。
func (s *Store) mutate(ctx context.Context, m mutation, validate func() error, write func(ctx context.Context, ownerID string) (string, error)) (string, error) {
	identity := s.identity.Current()
	if identity == nil {
		err := model.NewUnauthenticatedError()
		s.fail(m, err)
		return "", err
	}

	if validate != nil {
		if err := validate(); err != nil {
			s.fail(m, err)
			return "", err
		}
	}

	id, err := write(ctx, identity.ID)
	if err != nil {
		err = asRemoteError(err)
		s.logger.Error("remote write failed",
			slog.String("table", string(m.table)),
			slog.String("op", m.op),
			slog.String("error", err.Error()),
		)
		s.fail(m, err)
		return "", err
	}

	s.observer.RecordMutation(string(m.table), m.op, "ok")
	s.notifier.Success(m.success, "")
	return id, nil
}

func (s *Store) fail(m mutation, err error) {
	result := model.CategoryOf(err)
	if result == "" {
		result = model.CategoryRemote
	}
	s.observer.RecordMutation(string(m.table), m.op, result)
	s.notifier.Error(m.failure, messageOf(err))
}

func messageOf(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}

// asRemoteError はAPIError以外のエラーをリモートエラーとして包む。
func asRemoteError(err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return err
	}
	return model.NewRemoteError(err)
}

func requireID(id string) error {
	if id == "" {
		return model.NewValidationError("id(required)")
	}
	return nil
}

// validateLinkURL はURLの形式検証に加えて、内部ネットワークを指すURLを拒否する。
func (s *Store) validateLinkURL(raw string) error {
	if s.guard == nil {
		return nil
	}
	if err := s.guard.ValidateURL(raw); err != nil {
		apiErr := model.NewValidationError(fmt.Sprintf("url(%s)", err.Error()))
		apiErr.Err = err
		return apiErr
	}
	return nil
}

func (s *Store) sanitize(v string) string {
	if s.sanitizer == nil {
		return v
	}
	return s.sanitizer.Sanitize(v)
}

func (s *Store) sanitizePtr(v *string) *string {
	if v == nil {
		return nil
	}
	out := s.sanitize(*v)
	return &out
}

// --- 番号 ---

// AddNumber は番号を作成し、採番されたIDを返す。メッセージ数は常に0で作成される。
func (s *Store) AddNumber(ctx context.Context, in model.NewPhoneNumber) (string, error) {
	m := mutation{model.TableNumbers, opCreate, "Número adicionado com sucesso", "Erro ao adicionar número"}
	return s.mutate(ctx, m,
		func() error {
			in.Normalize()
			return model.ValidateInput(&in)
		},
		func(ctx context.Context, ownerID string) (string, error) {
			return s.repos.Numbers.Create(ctx, ownerID, in)
		},
	)
}

// UpdateNumber は番号の指定されたフィールドを更新する。
func (s *Store) UpdateNumber(ctx context.Context, id string, patch model.PhoneNumberPatch) error {
	m := mutation{model.TableNumbers, opUpdate, "Número atualizado com sucesso", "Erro ao atualizar número"}
	_, err := s.mutate(ctx, m,
		func() error {
			if err := requireID(id); err != nil {
				return err
			}
			return patch.Validate()
		},
		func(ctx context.Context, ownerID string) (string, error) {
			return id, s.repos.Numbers.Update(ctx, ownerID, id, patch)
		},
	)
	return err
}

// DeleteNumber は番号を削除する。
func (s *Store) DeleteNumber(ctx context.Context, id string) error {
	m := mutation{model.TableNumbers, opDelete, "Número excluído com sucesso", "Erro ao excluir número"}
	_, err := s.mutate(ctx, m,
		func() error { return requireID(id) },
		func(ctx context.Context, ownerID string) (string, error) {
			return id, s.repos.Numbers.Delete(ctx, ownerID, id)
		},
	)
	return err
}

// --- プロジェクト ---

// AddProject はプロジェクトを作成し、採番されたIDを返す。
func (s *Store) AddProject(ctx context.Context, in model.NewProject) (string, error) {
	m := mutation{model.TableProjects, opCreate, "Projeto adicionado com sucesso", "Erro ao adicionar projeto"}
	return s.mutate(ctx, m,
		func() error {
			in.Name = s.sanitize(in.Name)
			in.Description = s.sanitize(in.Description)
			in.Normalize()
			return model.ValidateInput(&in)
		},
		func(ctx context.Context, ownerID string) (string, error) {
			return s.repos.Projects.Create(ctx, ownerID, in)
		},
	)
}

// UpdateProject はプロジェクトの指定されたフィールドを更新する。
func (s *Store) UpdateProject(ctx context.Context, id string, patch model.ProjectPatch) error {
	m := mutation{model.TableProjects, opUpdate, "Projeto atualizado com sucesso", "Erro ao atualizar projeto"}
	_, err := s.mutate(ctx, m,
		func() error {
			if err := requireID(id); err != nil {
				return err
			}
			patch.Name = s.sanitizePtr(patch.Name)
			patch.Description = s.sanitizePtr(patch.Description)
			return patch.Validate()
		},
		func(ctx context.Context, ownerID string) (string, error) {
			return id, s.repos.Projects.Update(ctx, ownerID, id, patch)
		},
	)
	return err
}

// DeleteProject はプロジェクトを削除する。参照していた番号のプロジェクトは解除される。
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	m := mutation{model.TableProjects, opDelete, "Projeto excluído com sucesso", "Erro ao excluir projeto"}
	_, err := s.mutate(ctx, m,
		func() error { return requireID(id) },
		func(ctx context.Context, ownerID string) (string, error) {
			return id, s.repos.Projects.Delete(ctx, ownerID, id)
		},
	)
	return err
}

// --- 担当者 ---

// AddResponsible は担当者を作成し、採番されたIDを返す。
func (s *Store) AddResponsible(ctx context.Context, in model.NewResponsible) (string, error) {
	m := mutation{model.TableResponsibles, opCreate, "Responsável adicionado com sucesso", "Erro ao adicionar responsável"}
	return s.mutate(ctx, m,
		func() error {
			in.Name = s.sanitize(in.Name)
			in.Normalize()
			return model.ValidateInput(&in)
		},
		func(ctx context.Context, ownerID string) (string, error) {
			return s.repos.Responsibles.Create(ctx, ownerID, in)
		},
	)
}

// UpdateResponsible は担当者の指定されたフィールドを更新する。
func (s *Store) UpdateResponsible(ctx context.Context, id string, patch model.ResponsiblePatch) error {
	m := mutation{model.TableResponsibles, opUpdate, "Responsável atualizado com sucesso", "Erro ao atualizar responsável"}
	_, err := s.mutate(ctx, m,
		func() error {
			if err := requireID(id); err != nil {
				return err
			}
			patch.Name = s.sanitizePtr(patch.Name)
			return patch.Validate()
		},
		func(ctx context.Context, ownerID string) (string, error) {
			return id, s.repos.Responsibles.Update(ctx, ownerID, id, patch)
		},
	)
	return err
}

// DeleteResponsible は担当者を削除する。参照していた番号の担当者は解除される。
func (s *Store) DeleteResponsible(ctx context.Context, id string) error {
	m := mutation{model.TableResponsibles, opDelete, "Responsável excluído com sucesso", "Erro ao excluir responsável"}
	_, err := s.mutate(ctx, m,
		func() error { return requireID(id) },
		func(ctx context.Context, ownerID string) (string, error) {
			return id, s.repos.Responsibles.Delete(ctx, ownerID, id)
		},
	)
	return err
}

// --- グループリンク ---

// AddGroupLink はグループリンクを作成し、採番されたIDを返す。
func (s *Store) AddGroupLink(ctx context.Context, in model.NewGroupLink) (string, error) {
	m := mutation{model.TableGroupLinks, opCreate, "Link salvo com sucesso", "Erro ao salvar link"}
	return s.mutate(ctx, m,
		func() error { return s.prepareGroupLink(&in) },
		func(ctx context.Context, ownerID string) (string, error) {
			return s.repos.GroupLinks.Create(ctx, ownerID, in)
		},
	)
}

func (s *Store) prepareGroupLink(in *model.NewGroupLink) error {
	in.GroupName = s.sanitize(in.GroupName)
	in.Normalize()
	if err := model.ValidateInput(in); err != nil {
		return err
	}
	return s.validateLinkURL(in.URL)
}

// UpdateGroupLink はグループリンクの指定されたフィールドを更新する。
func (s *Store) UpdateGroupLink(ctx context.Context, id string, patch model.GroupLinkPatch) error {
	m := mutation{model.TableGroupLinks, opUpdate, "Link atualizado com sucesso", "Erro ao atualizar link"}
	_, err := s.mutate(ctx, m,
		func() error {
			if err := requireID(id); err != nil {
				return err
			}
			patch.GroupName = s.sanitizePtr(patch.GroupName)
			if err := patch.Validate(); err != nil {
				return err
			}
			if patch.URL != nil {
				return s.validateLinkURL(*patch.URL)
			}
			return nil
		},
		func(ctx context.Context, ownerID string) (string, error) {
			return id, s.repos.GroupLinks.Update(ctx, ownerID, id, patch)
		},
	)
	return err
}

// DeleteGroupLink はグループリンクを削除する。
func (s *Store) DeleteGroupLink(ctx context.Context, id string) error {
	m := mutation{model.TableGroupLinks, opDelete, "Link excluído com sucesso", "Erro ao excluir link"}
	_, err := s.mutate(ctx, m,
		func() error { return requireID(id) },
		func(ctx context.Context, ownerID string) (string, error) {
			return id, s.repos.GroupLinks.Delete(ctx, ownerID, id)
		},
	)
	return err
}

// GroupLink は現在の利用者のグループリンクを1件取得する。
func (s *Store) GroupLink(ctx context.Context, id string) (*model.GroupLink, error) {
	identity := s.identity.Current()
	if identity == nil {
		return nil, model.NewUnauthenticatedError()
	}
	link, err := s.repos.GroupLinks.FindByID(ctx, identity.ID, id)
	if err != nil {
		return nil, asRemoteError(err)
	}
	if link == nil {
		return nil, model.NewNotFoundError(model.TableGroupLinks, id)
	}
	return link, nil
}

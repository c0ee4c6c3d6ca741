package handler

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/fleetdesk/internal/linkcheck"
	"github.com/hitoshi/fleetdesk/internal/model"
	"github.com/hitoshi/fleetdesk/internal/notify"
	"github.com/hitoshi/fleetdesk/internal/session"
	"github.com/hitoshi/fleetdesk/internal/store"
)

// --- モック定義 ---

// mockSessionService はSessionServiceのモック実装。
// サインイン中の場合、tokenと一致するBearerトークンだけを受け付ける。
type mockSessionService struct {
	signInFn  func(ctx context.Context, email, password string) (*model.Session, error)
	signUpFn  func(ctx context.Context, email, password, displayName string) error
	signOutFn func(ctx context.Context) error
	state     session.State
	token     string
}

func (m *mockSessionService) SignInSession(ctx context.Context, email, password string) (*model.Session, error) {
	if m.signInFn != nil {
		return m.signInFn(ctx, email, password)
	}
	return nil, model.NewInvalidCredentialsError()
}

func (m *mockSessionService) SignUp(ctx context.Context, email, password, displayName string) error {
	if m.signUpFn != nil {
		return m.signUpFn(ctx, email, password, displayName)
	}
	return nil
}

func (m *mockSessionService) SignOut(ctx context.Context) error {
	if m.signOutFn != nil {
		return m.signOutFn(ctx)
	}
	return nil
}

func (m *mockSessionService) State() session.State { return m.state }

func (m *mockSessionService) Current() *model.Identity { return m.state.Identity }

func (m *mockSessionService) Authorize(ctx context.Context, token string) (*model.Identity, error) {
	if m.state.Identity == nil || token == "" || token != m.token {
		return nil, model.NewUnauthenticatedError()
	}
	return m.state.Identity, nil
}

// mockStore はConsoleStoreのモック実装。未設定の操作は成功を返す。
type mockStore struct {
	snapshot store.Snapshot

	refetchFn           func(ctx context.Context) error
	addNumberFn         func(ctx context.Context, in model.NewPhoneNumber) (string, error)
	updateNumberFn      func(ctx context.Context, id string, patch model.PhoneNumberPatch) error
	deleteNumberFn      func(ctx context.Context, id string) error
	importNumbersFn     func(ctx context.Context, text string) (*store.ImportResult, error)
	addProjectFn        func(ctx context.Context, in model.NewProject) (string, error)
	updateProjectFn     func(ctx context.Context, id string, patch model.ProjectPatch) error
	deleteProjectFn     func(ctx context.Context, id string) error
	addResponsibleFn    func(ctx context.Context, in model.NewResponsible) (string, error)
	updateResponsibleFn func(ctx context.Context, id string, patch model.ResponsiblePatch) error
	deleteResponsibleFn func(ctx context.Context, id string) error
	addGroupLinkFn      func(ctx context.Context, in model.NewGroupLink) (string, error)
	updateGroupLinkFn   func(ctx context.Context, id string, patch model.GroupLinkPatch) error
	deleteGroupLinkFn   func(ctx context.Context, id string) error
	groupLinkFn         func(ctx context.Context, id string) (*model.GroupLink, error)
	importGroupLinksFn  func(ctx context.Context, text string) (*store.ImportResult, error)
}

func (m *mockStore) Snapshot() store.Snapshot { return m.snapshot }

func (m *mockStore) Refetch(ctx context.Context) error {
	if m.refetchFn != nil {
		return m.refetchFn(ctx)
	}
	return nil
}

func (m *mockStore) AddNumber(ctx context.Context, in model.NewPhoneNumber) (string, error) {
	if m.addNumberFn != nil {
		return m.addNumberFn(ctx, in)
	}
	return "new-id", nil
}

func (m *mockStore) UpdateNumber(ctx context.Context, id string, patch model.PhoneNumberPatch) error {
	if m.updateNumberFn != nil {
		return m.updateNumberFn(ctx, id, patch)
	}
	return nil
}

func (m *mockStore) DeleteNumber(ctx context.Context, id string) error {
	if m.deleteNumberFn != nil {
		return m.deleteNumberFn(ctx, id)
	}
	return nil
}

func (m *mockStore) ImportWarmingNumbers(ctx context.Context, text string) (*store.ImportResult, error) {
	if m.importNumbersFn != nil {
		return m.importNumbersFn(ctx, text)
	}
	return &store.ImportResult{}, nil
}

func (m *mockStore) AddProject(ctx context.Context, in model.NewProject) (string, error) {
	if m.addProjectFn != nil {
		return m.addProjectFn(ctx, in)
	}
	return "new-id", nil
}

func (m *mockStore) UpdateProject(ctx context.Context, id string, patch model.ProjectPatch) error {
	if m.updateProjectFn != nil {
		return m.updateProjectFn(ctx, id, patch)
	}
	return nil
}

func (m *mockStore) DeleteProject(ctx context.Context, id string) error {
	if m.deleteProjectFn != nil {
		return m.deleteProjectFn(ctx, id)
	}
	return nil
}

func (m *mockStore) AddResponsible(ctx context.Context, in model.NewResponsible) (string, error) {
	if m.addResponsibleFn != nil {
		return m.addResponsibleFn(ctx, in)
	}
	return "new-id", nil
}

func (m *mockStore) UpdateResponsible(ctx context.Context, id string, patch model.ResponsiblePatch) error {
	if m.updateResponsibleFn != nil {
		return m.updateResponsibleFn(ctx, id, patch)
	}
	return nil
}

func (m *mockStore) DeleteResponsible(ctx context.Context, id string) error {
	if m.deleteResponsibleFn != nil {
		return m.deleteResponsibleFn(ctx, id)
	}
	return nil
}

func (m *mockStore) AddGroupLink(ctx context.Context, in model.NewGroupLink) (string, error) {
	if m.addGroupLinkFn != nil {
		return m.addGroupLinkFn(ctx, in)
	}
	return "new-id", nil
}

func (m *mockStore) UpdateGroupLink(ctx context.Context, id string, patch model.GroupLinkPatch) error {
	if m.updateGroupLinkFn != nil {
		return m.updateGroupLinkFn(ctx, id, patch)
	}
	return nil
}

func (m *mockStore) DeleteGroupLink(ctx context.Context, id string) error {
	if m.deleteGroupLinkFn != nil {
		return m.deleteGroupLinkFn(ctx, id)
	}
	return nil
}

func (m *mockStore) GroupLink(ctx context.Context, id string) (*model.GroupLink, error) {
	if m.groupLinkFn != nil {
		return m.groupLinkFn(ctx, id)
	}
	return nil, model.NewNotFoundError(model.TableGroupLinks, id)
}

func (m *mockStore) ImportGroupLinks(ctx context.Context, text string) (*store.ImportResult, error) {
	if m.importGroupLinksFn != nil {
		return m.importGroupLinksFn(ctx, text)
	}
	return &store.ImportResult{}, nil
}

// mockNoticeSource はNoticeSourceのモック実装。
type mockNoticeSource struct {
	notices []notify.Notice
}

func (m *mockNoticeSource) Recent() []notify.Notice { return m.notices }

// mockLinkProber はLinkProberのモック実装。
type mockLinkProber struct {
	probeFn func(ctx context.Context, rawURL string) (*linkcheck.Result, error)
}

func (m *mockLinkProber) Probe(ctx context.Context, rawURL string) (*linkcheck.Result, error) {
	if m.probeFn != nil {
		return m.probeFn(ctx, rawURL)
	}
	return &linkcheck.Result{URL: rawURL, StatusCode: 200, Reachable: true}, nil
}

// --- テストヘルパー ---

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

func strPtr(s string) *string { return &s }

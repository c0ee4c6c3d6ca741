package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/fleetdesk/internal/auth"
	"github.com/hitoshi/fleetdesk/internal/model"
	"github.com/hitoshi/fleetdesk/internal/session"
)

// fakeAuthBackend はメールアドレスごとに1つのセッションを発行するauth.Backend。
type fakeAuthBackend struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
}

func newFakeAuthBackend() *fakeAuthBackend {
	return &fakeAuthBackend{sessions: make(map[string]*model.Session)}
}

func (b *fakeAuthBackend) SignUp(ctx context.Context, email, password, displayName string) (*model.Identity, error) {
	return &model.Identity{ID: "id-" + email, Email: email}, nil
}

func (b *fakeAuthBackend) SignIn(ctx context.Context, email, password string) (*model.Session, error) {
	if password != "secret1" {
		return nil, model.NewInvalidCredentialsError()
	}
	s := &model.Session{
		ID:          "s-" + email,
		Identity:    model.Identity{ID: "id-" + email, Email: email},
		AccessToken: "tok-" + email,
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	b.mu.Lock()
	b.sessions[s.AccessToken] = s
	b.mu.Unlock()
	cp := *s
	return &cp, nil
}

func (b *fakeAuthBackend) Verify(ctx context.Context, token string) (*model.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[token]
	if !ok {
		return nil, model.NewSessionExpiredError()
	}
	cp := *s
	return &cp, nil
}

func (b *fakeAuthBackend) Refresh(ctx context.Context, token string) (*model.Session, error) {
	return b.Verify(ctx, token)
}

func (b *fakeAuthBackend) SignOut(ctx context.Context, token string) error {
	b.mu.Lock()
	delete(b.sessions, token)
	b.mu.Unlock()
	return nil
}

// TestRouter_SessionIsolation は実際のセッションマネージャーで、サインイン中の利用者の
// トークンを持たないクライアントがデータにもセッションにも触れられないことを検証する。
func TestRouter_SessionIsolation(t *testing.T) {
	client := auth.NewClient(newFakeAuthBackend(), auth.NewMemoryTokenStore(), auth.ClientConfig{}, nil, nil)
	manager := session.NewManager(client, nil)
	defer manager.Close()
	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deps, _, st := testDeps()
	deps.Sessions = manager
	var owners []string
	st.addProjectFn = func(context.Context, model.NewProject) (string, error) {
		owners = append(owners, manager.Current().Email)
		return "p1", nil
	}
	router := NewRouter(deps)

	w := serveWithToken(router, http.MethodPost, "/auth/signin", `{"email":"ana@example.com","password":"secret1"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("sign in status = %d, want %d", w.Code, http.StatusOK)
	}
	var signedIn signInResponse
	if err := json.NewDecoder(w.Body).Decode(&signedIn); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	token := signedIn.AccessToken

	anonymous := []struct{ method, path, body string }{
		{http.MethodGet, "/api/state", ""},
		{http.MethodPost, "/api/projects", `{"name":"Intruso"}`},
		{http.MethodPost, "/auth/signout", ""},
		{http.MethodGet, "/auth/me", ""},
	}
	for _, req := range anonymous {
		for _, tok := range []string{"", "tok-mallory@example.com"} {
			if w := serveWithToken(router, req.method, req.path, req.body, tok); w.Code != http.StatusUnauthorized {
				t.Errorf("%s %s with %q: status = %d, want %d", req.method, req.path, tok, w.Code, http.StatusUnauthorized)
			}
		}
	}
	if len(owners) != 0 {
		t.Errorf("writes without token = %v, want none", owners)
	}
	if id := manager.Current(); id == nil || id.Email != "ana@example.com" {
		t.Fatalf("Current() = %+v, want ana still signed in", id)
	}

	w = serveWithToken(router, http.MethodPost, "/auth/signin", `{"email":"mallory@example.com","password":"secret1"}`, "")
	if w.Code != http.StatusConflict {
		t.Errorf("takeover sign in status = %d, want %d", w.Code, http.StatusConflict)
	}

	if w := serveWithToken(router, http.MethodPost, "/api/projects", `{"name":"Campanha"}`, token); w.Code != http.StatusCreated {
		t.Errorf("create with token status = %d, want %d", w.Code, http.StatusCreated)
	}
	if w := serveWithToken(router, http.MethodPost, "/auth/signout", "", token); w.Code != http.StatusNoContent {
		t.Errorf("sign out with token status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if manager.Current() != nil {
		t.Error("Current() must be nil after sign out")
	}
	if w := serveWithToken(router, http.MethodGet, "/api/state", "", token); w.Code != http.StatusUnauthorized {
		t.Errorf("state after sign out status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

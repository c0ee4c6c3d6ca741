package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/fleetdesk/internal/model"
)

// newTestRouter はconsole APIと同じ順序でミドルウェアを組んだchi.Routerを返す。
func newTestRouter(provider IdentityProvider) http.Handler {
	r := chi.NewRouter()
	r.Use(NewRecoveryMiddleware(nil))
	r.Use(NewSecurityHeadersMiddleware())
	r.Use(NewCORSMiddleware("http://localhost:3000"))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Group(func(r chi.Router) {
		r.Use(NewRequireIdentityMiddleware(provider))

		r.Get("/api/state", func(w http.ResponseWriter, r *http.Request) {
			userID, _ := UserIDFromContext(r.Context())
			json.NewEncoder(w).Encode(map[string]string{"user_id": userID})
		})
		r.Post("/api/panic", func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		})
	})
	return r
}

// TestRouterIntegration_ChainWithChi はミドルウェアチェーンがchi.Routerで正しく動作することを検証する。
func TestRouterIntegration_ChainWithChi(t *testing.T) {
	router := newTestRouter(&mockIdentityProvider{tokens: map[string]*model.Identity{
		"tok-router": {ID: "user-router-test"},
	}})

	t.Run("health_without_identity", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
		}
		if w.Header().Get("X-Content-Type-Options") != "nosniff" {
			t.Error("security headers should be set")
		}
	})

	t.Run("state_without_identity", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/state", nil))

		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("state_with_foreign_token", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, withBearer(httptest.NewRequest(http.MethodGet, "/api/state", nil), "tok-other"))

		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("state_with_identity", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, withBearer(httptest.NewRequest(http.MethodGet, "/api/state", nil), "tok-router"))

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
		var body map[string]string
		json.NewDecoder(w.Body).Decode(&body)
		if body["user_id"] != "user-router-test" {
			t.Errorf("user_id = %q, want %q", body["user_id"], "user-router-test")
		}
	})

	t.Run("preflight", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/state", nil))

		if w.Code != http.StatusNoContent {
			t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
		}
	})

	t.Run("panic_recovered", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, withBearer(httptest.NewRequest(http.MethodPost, "/api/panic", nil), "tok-router"))

		if w.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
		}
		var body ErrorResponseBody
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode: %v", err)
		}
		if body.Code != "INTERNAL_ERROR" {
			t.Errorf("code = %q, want INTERNAL_ERROR", body.Code)
		}
	})
}

package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/fleetdesk/internal/model"
)

func parseErrorResponse(t *testing.T, w *httptest.ResponseRecorder) ErrorResponseBody {
	t.Helper()
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return body
}

// TestWriteErrorResponse_WritesAPIError はAPIErrorの全フィールドが指定ステータスで書き込まれることを検証する。
func TestWriteErrorResponse_WritesAPIError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		err    *model.APIError
	}{
		{"validation", http.StatusBadRequest, model.NewValidationError("number(min)")},
		{"unauthenticated", http.StatusUnauthorized, model.NewUnauthenticatedError()},
		{"email not confirmed", http.StatusForbidden, model.NewEmailNotConfirmedError()},
		{"not found", http.StatusNotFound, model.NewNotFoundError(model.TableGroupLinks, "g1")},
		{"email exists", http.StatusConflict, model.NewEmailExistsError()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteErrorResponse(w, tt.status, tt.err)

			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			body := parseErrorResponse(t, w)
			want := ErrorResponseBody{Code: tt.err.Code, Message: tt.err.Message, Category: tt.err.Category, Action: tt.err.Action}
			if body != want {
				t.Errorf("body = %+v, want %+v", body, want)
			}
		})
	}
}

// TestWriteErrorResponse_OnlyPublicFields はレスポンスに公開フィールド以外が含まれないことを検証する。
func TestWriteErrorResponse_OnlyPublicFields(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErrorResponse(w, http.StatusBadGateway, model.NewRemoteError(errors.New("relation does not exist")))

	var raw map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	for _, field := range []string{"code", "message", "category", "action"} {
		if _, ok := raw[field]; !ok {
			t.Errorf("missing required field: %s", field)
		}
	}
	if len(raw) != 4 {
		t.Errorf("fields = %v, want exactly code/message/category/action", raw)
	}
}

// TestWriteInternalServerError_ReturnsSystemError は内部エラーが統一フォーマットで返ることを検証する。
func TestWriteInternalServerError_ReturnsSystemError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteInternalServerError(w)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	body := parseErrorResponse(t, w)
	if body.Code != "INTERNAL_ERROR" || body.Category != "system" {
		t.Errorf("body = %+v, want INTERNAL_ERROR/system", body)
	}
	if body.Action == "" {
		t.Error("action should not be empty")
	}
}

// TestStatusCodeFor_MapsCategories はエラーカテゴリとコードからステータスが決まることを検証する。
func TestStatusCodeFor_MapsCategories(t *testing.T) {
	tests := []struct {
		name string
		err  *model.APIError
		want int
	}{
		{"validation", model.NewValidationError("name"), http.StatusBadRequest},
		{"empty patch", model.NewEmptyPatchError(), http.StatusBadRequest},
		{"unauthenticated", model.NewUnauthenticatedError(), http.StatusUnauthorized},
		{"not found", model.NewNotFoundError(model.TableNumbers, "n1"), http.StatusNotFound},
		{"remote", model.NewRemoteError(errors.New("connection refused")), http.StatusBadGateway},
		{"invalid credentials", model.NewInvalidCredentialsError(), http.StatusUnauthorized},
		{"session expired", model.NewSessionExpiredError(), http.StatusUnauthorized},
		{"email not confirmed", model.NewEmailNotConfirmedError(), http.StatusForbidden},
		{"email exists", model.NewEmailExistsError(), http.StatusConflict},
		{"session in use", model.NewSessionInUseError(), http.StatusConflict},
		{"auth failed", model.NewAuthError(nil), http.StatusBadGateway},
		{"unknown category", &model.APIError{Code: "X", Category: "other"}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusCodeFor(tt.err); got != tt.want {
				t.Errorf("StatusCodeFor() = %d, want %d", got, tt.want)
			}
		})
	}
}

// TestWriteError_UnwrapsAPIError はラップされたAPIErrorが取り出されることを検証する。
func TestWriteError_UnwrapsAPIError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteError(w, fmt.Errorf("add number: %w", model.NewValidationError("number(min)")))

	resp := w.Result()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != model.ErrCodeValidationFailed {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeValidationFailed)
	}
}

// TestWriteError_PlainErrorIsInternal はAPIErrorでないエラーが500になることを検証する。
func TestWriteError_PlainErrorIsInternal(t *testing.T) {
	w := httptest.NewRecorder()

	WriteError(w, errors.New("boom"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

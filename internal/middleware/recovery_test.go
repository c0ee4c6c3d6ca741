package middleware

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// TestRecoveryMiddleware_LogsWithRequestID はpanicが500に変換され、リクエストID付きで記録されることを検証する。
func TestRecoveryMiddleware_LogsWithRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := newJSONLogger(&buf, slog.LevelInfo)
	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(errors.New("boom"))
	})
	handler := NewLoggingMiddleware(slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil)))(NewRecoveryMiddleware(logger)(panicking))

	req := httptest.NewRequest(http.MethodDelete, "/api/numbers/1", nil)
	req.Header.Set("X-Request-ID", "req-panic")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	resp := parseErrorResponse(t, w)
	if resp.Code != "INTERNAL_ERROR" {
		t.Errorf("code = %q, want INTERNAL_ERROR", resp.Code)
	}

	entry := decodeLogEntry(t, &buf)
	if entry["request_id"] != "req-panic" {
		t.Errorf("request_id = %v, want req-panic", entry["request_id"])
	}
	if stack, _ := entry["stack"].(string); !strings.Contains(stack, "goroutine") {
		t.Errorf("stack trace missing in log entry")
	}
}

// TestRecoveryMiddleware_RepanicsOnAbortHandler はhttp.ErrAbortHandlerを握りつぶさないことを検証する。
func TestRecoveryMiddleware_RepanicsOnAbortHandler(t *testing.T) {
	handler := NewRecoveryMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Errorf("recover() = %v, want http.ErrAbortHandler", rec)
		}
	}()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/state", nil))
	t.Fatal("expected panic to propagate")
}

package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Mindburn-Labs/helm-gateway/pkg/api"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) api.ErrorBody {
	t.Helper()
	var body api.ErrorBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return body
}

func TestWriteError_ContentType(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteError(w, http.StatusBadRequest, "Missing context")

	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type 'application/json', got %q", ct)
	}
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
	if body := decodeError(t, w); body.Error != "Missing context" {
		t.Errorf("expected error 'Missing context', got %q", body.Error)
	}
}

func TestWriteTooManyRequests_RetryAfterHeader(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteTooManyRequests(w, 30)

	if ra := w.Header().Get("Retry-After"); ra != "30" {
		t.Errorf("expected Retry-After '30', got %q", ra)
	}
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", w.Code)
	}
}

func TestWriteMethodNotAllowed_SetsAllow(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteMethodNotAllowed(w, http.MethodPost)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", w.Code)
	}
	if allow := w.Header().Get("Allow"); allow != "POST" {
		t.Errorf("expected Allow 'POST', got %q", allow)
	}
}

func TestWriteForbidden_DefaultMessage(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteForbidden(w, "")

	if body := decodeError(t, w); body.Error != "Forbidden" {
		t.Errorf("expected default message, got %q", body.Error)
	}
}

func TestWriteBadRequestAndNotFound(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteBadRequest(w, "Invalid JSON")
	if w.Code != http.StatusBadRequest || decodeError(t, w).Error != "Invalid JSON" {
		t.Errorf("unexpected 400 response: %d", w.Code)
	}

	w = httptest.NewRecorder()
	api.WriteNotFound(w, "Not found")
	if w.Code != http.StatusNotFound || decodeError(t, w).Error != "Not found" {
		t.Errorf("unexpected 404 response: %d", w.Code)
	}
}

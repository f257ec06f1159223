package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/magicxor/faster-whisper-server/internal/registry"
)

func newHubBackedServer(t *testing.T) *Server {
	t.Helper()

	hub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if search := r.URL.Query().Get("search"); search != "" && search != "Systran/faster-whisper-small" {
			w.Write([]byte("[]"))
			return
		}
		w.Write([]byte(`[{"id": "Systran/faster-whisper-small", "createdAt": "2023-11-23T09:53:30.000Z"}]`))
	}))
	t.Cleanup(hub.Close)

	s := newTestServer(t, &cannedModel{}, nil)
	s.registry = registry.NewClient(hub.URL, 5*time.Second, testLogger())
	return s
}

func TestModelsListing(t *testing.T) {
	s := newHubBackedServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	s.handleModels(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var models []modelObject
	if err := json.Unmarshal(rec.Body.Bytes(), &models); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if len(models) != 1 {
		t.Fatalf("expected 1 model, got %d", len(models))
	}
	if models[0].Object != "model" {
		t.Errorf("expected object type model, got %q", models[0].Object)
	}
	if models[0].OwnedBy != "Systran" {
		t.Errorf("expected owner Systran, got %q", models[0].OwnedBy)
	}
	if models[0].Created == 0 {
		t.Error("expected a non-zero creation timestamp")
	}
}

func TestModelDetail(t *testing.T) {
	s := newHubBackedServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/models/Systran/faster-whisper-small", nil)
	rec := httptest.NewRecorder()
	s.handleModelDetail(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var model modelObject
	if err := json.Unmarshal(rec.Body.Bytes(), &model); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if model.ID != "Systran/faster-whisper-small" {
		t.Errorf("unexpected model id %q", model.ID)
	}
}

func TestModelDetailNotFound(t *testing.T) {
	s := newHubBackedServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/models/unknown/model", nil)
	rec := httptest.NewRecorder()
	s.handleModelDetail(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestModelDetailMissingName(t *testing.T) {
	s := newHubBackedServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/models/", nil)
	rec := httptest.NewRecorder()
	s.handleModelDetail(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

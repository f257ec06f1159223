package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const hubListing = `[
	{"id": "Systran/faster-whisper-small", "createdAt": "2023-11-23T09:53:30.000Z"},
	{"id": "Systran/faster-whisper-medium.en", "createdAt": "2023-11-23T09:58:04.000Z"},
	{"id": "no-timestamp/model"}
]`

func newHubServer(t *testing.T) (*httptest.Server, *Client) {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/models" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("filter"); got != "ctranslate2" {
			t.Errorf("expected filter=ctranslate2, got %q", got)
		}

		search := r.URL.Query().Get("search")
		w.Header().Set("Content-Type", "application/json")

		switch {
		case search == "":
			w.Write([]byte(hubListing))
		case strings.Contains(search, "faster-whisper"):
			w.Write([]byte(hubListing))
		default:
			w.Write([]byte("[]"))
		}
	}))
	t.Cleanup(server.Close)

	return server, NewClient(server.URL, 5*time.Second, testLogger())
}

func TestListModels(t *testing.T) {
	_, client := newHubServer(t)

	models, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels failed: %v", err)
	}

	// The entry without a creation timestamp is dropped
	if len(models) != 2 {
		t.Fatalf("expected 2 models, got %d", len(models))
	}
	if models[0].ID != "Systran/faster-whisper-small" {
		t.Errorf("unexpected first model %q", models[0].ID)
	}
	if models[0].Owner() != "Systran" {
		t.Errorf("expected owner Systran, got %q", models[0].Owner())
	}
}

func TestGetModelExactMatch(t *testing.T) {
	_, client := newHubServer(t)

	model, err := client.GetModel(context.Background(), "Systran/faster-whisper-small")
	if err != nil {
		t.Fatalf("GetModel failed: %v", err)
	}
	if model.ID != "Systran/faster-whisper-small" {
		t.Errorf("unexpected model %q", model.ID)
	}
	if model.CreatedAt.IsZero() {
		t.Error("expected a creation timestamp")
	}
}

func TestGetModelNotFound(t *testing.T) {
	_, client := newHubServer(t)

	_, err := client.GetModel(context.Background(), "nonexistent/model")
	if !errors.Is(err, ErrModelNotFound) {
		t.Errorf("expected ErrModelNotFound, got %v", err)
	}
}

func TestGetModelNearMatches(t *testing.T) {
	_, client := newHubServer(t)

	// The search returns candidates but none matches exactly; the error
	// should name them.
	_, err := client.GetModel(context.Background(), "faster-whisper")
	if !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("expected ErrModelNotFound, got %v", err)
	}
	if !strings.Contains(err.Error(), "Systran/faster-whisper-small") {
		t.Errorf("expected error to list possible matches, got %q", err.Error())
	}
}

func TestHubServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, testLogger())

	if _, err := client.ListModels(context.Background()); err == nil {
		t.Error("expected error for hub server failure, got nil")
	}
}

func TestModelOwnerWithoutNamespace(t *testing.T) {
	m := Model{ID: "standalone"}
	if got := m.Owner(); got != "standalone" {
		t.Errorf("expected owner standalone, got %q", got)
	}
}

package prowlarr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"tomarr/internal/services"
)

func TestSearchBuildsQueryAndParsesReleases(t *testing.T) {
	var gotQuery, gotKey string
	var gotIndexers, gotCategories []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("query")
		gotKey = r.Header.Get("X-Api-Key")
		gotIndexers = r.URL.Query()["indexerIds"]
		gotCategories = r.URL.Query()["categories"]
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"title": "Naruto T02 FRENCH", "downloadUrl": "https://idx/dl/1", "size": 120000, "seeders": 12, "indexer": "ygg"},
			{"title": "Naruto T02 Pack", "magnetUrl": "magnet:?xt=urn:btih:abc", "size": 220000, "seeders": 3, "indexer": "nyaa"},
			{"title": "linkless row", "size": 1},
		})
	}))
	defer server.Close()

	client, err := New(server.URL, "secret", 2,
		WithIndexers([]int{4, 7}), WithCategories([]int{7030}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	results, err := client.Search(context.Background(), "Naruto", 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if gotQuery != "Naruto T02" {
		t.Fatalf("query = %q", gotQuery)
	}
	if gotKey != "secret" {
		t.Fatalf("api key header = %q", gotKey)
	}
	if len(gotIndexers) != 2 || len(gotCategories) != 1 {
		t.Fatalf("filters = %v / %v", gotIndexers, gotCategories)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2 (linkless dropped)", len(results))
	}
	if results[0].Link != "https://idx/dl/1" || results[0].Seeders != 12 {
		t.Fatalf("first result = %+v", results[0])
	}
	if results[1].Link != "magnet:?xt=urn:btih:abc" {
		t.Fatalf("magnet fallback = %+v", results[1])
	}
}

func TestSearchAuthFailureIsConfigurationError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client, err := New(server.URL, "bad-key", 2)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Search(context.Background(), "Naruto", 2)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestSearchServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client, err := New(server.URL, "key", 2)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Search(context.Background(), "Naruto", 2)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestNewRequiresCredentials(t *testing.T) {
	if _, err := New("", "key", 1); err == nil {
		t.Fatal("expected error for missing base url")
	}
	if _, err := New("http://localhost:9696", "", 1); err == nil {
		t.Fatal("expected error for missing api key")
	}
}

package metasite

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"tomarr/internal/services"
)

const searchPage = `<!DOCTYPE html>
<html><body>
<div class="results">
  <h3><a href="/serie/naruto">Naruto</a></h3>
  <h3><a href="/serie/naruto-gaiden">Naruto Gaiden</a></h3>
  <a href="/serie/naruto">Naruto (duplicate)</a>
  <a href="/news/12345">unrelated news link</a>
</div>
</body></html>`

const detailPage = `<!DOCTYPE html>
<html><body>
<h1>Naruto</h1>
<dl class="infos">
  <dt>Nb volumes VO :</dt><dd>72 (Terminé)</dd>
  <dt>Statut :</dt><dd>Terminé</dd>
  <dt>Éditeur :</dt><dd>Kana</dd>
  <dt>Auteur :</dt><dd>KISHIMOTO Masashi</dd>
  <dt>Année de parution :</dt><dd>1999 - 2014</dd>
</dl>
</body></html>`

func newSite(t *testing.T) (*httptest.Server, *Client) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "" {
			http.Error(w, "missing query", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(searchPage))
	})
	mux.HandleFunc("/serie/naruto", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(detailPage))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client, err := New(server.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return server, client
}

func TestSearchCollectsSeriesLinks(t *testing.T) {
	server, client := newSite(t)

	candidates, err := client.Search(context.Background(), "naruto")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("candidates = %v, want 2 unique series links", candidates)
	}
	if candidates[0] != server.URL+"/serie/naruto" {
		t.Fatalf("first candidate = %q", candidates[0])
	}
}

func TestLookupScrapesDetailPage(t *testing.T) {
	server, client := newSite(t)

	info, err := client.Lookup(context.Background(), "naruto")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if info.Title != "Naruto" {
		t.Fatalf("title = %q", info.Title)
	}
	if info.Total == nil || *info.Total != 72 {
		t.Fatalf("total = %v, want 72", info.Total)
	}
	if info.Status != "Terminé" || info.Editor != "Kana" {
		t.Fatalf("status/editor = %q / %q", info.Status, info.Editor)
	}
	if info.Author != "KISHIMOTO Masashi" {
		t.Fatalf("author = %q", info.Author)
	}
	if info.YearStart == nil || *info.YearStart != 1999 || info.YearEnd == nil || *info.YearEnd != 2014 {
		t.Fatalf("years = %v - %v", info.YearStart, info.YearEnd)
	}
	if info.URL != server.URL+"/serie/naruto" {
		t.Fatalf("url = %q", info.URL)
	}
}

func TestLookupNoCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><p>Aucun résultat</p></body></html>`))
	}))
	defer server.Close()

	client, err := New(server.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Lookup(context.Background(), "unknown series")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestFetchRejectsNonSeriesPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><p>maintenance</p></body></html>`))
	}))
	defer server.Close()

	client, err := New(server.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Fetch(context.Background(), server.URL+"/serie/whatever")
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

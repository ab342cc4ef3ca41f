package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tomarr/internal/catalog"
	"tomarr/internal/config"
	"tomarr/internal/importer"
	"tomarr/internal/logging"
	"tomarr/internal/orchestrator"
	"tomarr/internal/scanner"
	"tomarr/internal/secrets"
	"tomarr/internal/sources"
	"tomarr/internal/testsupport"
)

type fakeSource struct {
	results []sources.Result
}

func (f *fakeSource) Name() string  { return sources.NameEbdz }
func (f *fakeSource) Priority() int { return 1 }
func (f *fakeSource) Search(context.Context, string, int) ([]sources.Result, error) {
	return f.results, nil
}

type fixture struct {
	store  *catalog.Store
	server *Server
	cfg    *config.Config
	keeper *secrets.Keeper
}

func newFixture(t *testing.T, token string, results []sources.Result) *fixture {
	t.Helper()
	dataDir := t.TempDir()
	store, err := catalog.Open(filepath.Join(dataDir, "manga_library.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	keeper, err := secrets.LoadKeeper(filepath.Join(dataDir, ".encryption_key"))
	if err != nil {
		t.Fatalf("load keeper: %v", err)
	}
	cfg := config.Default()
	cfg.Monitor.Sources = []string{sources.NameEbdz}

	logger := logging.NewNop()
	search := orchestrator.New(orchestrator.Options{
		Store:   store,
		Sources: []sources.Source{&fakeSource{results: results}},
		Logger:  logger,
	})
	srv := New(Options{
		Bind:       "127.0.0.1:0",
		Token:      token,
		Config:     &cfg,
		ConfigPath: filepath.Join(dataDir, "config.toml"),
		Keeper:     keeper,
		Store:      store,
		Scanner:    scanner.New(store, logger),
		Importer:   importer.New(store, logger),
		Search:     search,
		Logger:     logger,
	})
	return &fixture{store: store, server: srv, cfg: &cfg, keeper: keeper}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return rec, payload
}

func TestLibraryEndpoints(t *testing.T) {
	f := newFixture(t, "", nil)
	root := t.TempDir()

	rec, payload := f.do(t, http.MethodPost, "/libraries", "",
		map[string]any{"name": "Manga", "path": root})
	if rec.Code != http.StatusCreated || payload["success"] != true {
		t.Fatalf("create: code=%d payload=%v", rec.Code, payload)
	}

	rec, _ = f.do(t, http.MethodPost, "/libraries", "",
		map[string]any{"name": "Manga", "path": root})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate name: code=%d", rec.Code)
	}

	rec, payload = f.do(t, http.MethodGet, "/libraries", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: code=%d", rec.Code)
	}
	libraries := payload["libraries"].([]any)
	if len(libraries) != 1 {
		t.Fatalf("libraries = %v", libraries)
	}
	id := int64(libraries[0].(map[string]any)["id"].(float64))

	rec, _ = f.do(t, http.MethodDelete, fmt.Sprintf("/libraries/%d", id), "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: code=%d", rec.Code)
	}
	rec, payload = f.do(t, http.MethodDelete, fmt.Sprintf("/libraries/%d", id), "", nil)
	if rec.Code != http.StatusNotFound || payload["success"] != false {
		t.Fatalf("delete missing: code=%d payload=%v", rec.Code, payload)
	}
}

func TestScanAndSeriesEndpoints(t *testing.T) {
	f := newFixture(t, "", nil)
	root := t.TempDir()
	testsupport.WriteCBZ(t, filepath.Join(root, "Naruto", "Naruto T01.cbz"), 3)
	testsupport.WriteCBZ(t, filepath.Join(root, "Naruto", "Naruto T03.cbz"), 4)

	_, payload := f.do(t, http.MethodPost, "/libraries", "",
		map[string]any{"name": "Manga", "path": root})
	id := int64(payload["library"].(map[string]any)["id"].(float64))

	rec, payload := f.do(t, http.MethodGet, fmt.Sprintf("/scan/%d", id), "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("scan: code=%d payload=%v", rec.Code, payload)
	}
	if payload["series"].(float64) != 1 || payload["volumes"].(float64) != 2 {
		t.Fatalf("scan payload = %v", payload)
	}

	rec, payload = f.do(t, http.MethodGet, fmt.Sprintf("/library/%d/series", id), "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("library series: code=%d", rec.Code)
	}
	series := payload["series"].([]any)[0].(map[string]any)
	if series["title"] != "Naruto" || series["total_volumes"].(float64) != 2 {
		t.Fatalf("series = %v", series)
	}
	missing := series["missing_set"].([]any)
	if len(missing) != 1 || missing[0].(float64) != 2 {
		t.Fatalf("missing_set = %v", missing)
	}

	seriesID := int64(series["id"].(float64))
	rec, payload = f.do(t, http.MethodGet, fmt.Sprintf("/series/%d", seriesID), "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("series detail: code=%d", rec.Code)
	}
	if volumes := payload["volumes"].([]any); len(volumes) != 2 {
		t.Fatalf("volumes = %v", volumes)
	}

	rec, _ = f.do(t, http.MethodGet, "/series/9999", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown series: code=%d", rec.Code)
	}
}

func TestImportEndpoints(t *testing.T) {
	f := newFixture(t, "", nil)
	root := t.TempDir()
	staging := t.TempDir()
	testsupport.WriteCBZ(t, filepath.Join(staging, "incoming", "Naruto T02.cbz"), 5)

	_, payload := f.do(t, http.MethodPost, "/libraries", "",
		map[string]any{"name": "Manga", "path": root})
	id := int64(payload["library"].(map[string]any)["id"].(float64))

	rec, payload := f.do(t, http.MethodPost, "/import/scan", "",
		map[string]any{"path": staging})
	if rec.Code != http.StatusOK {
		t.Fatalf("import scan: code=%d payload=%v", rec.Code, payload)
	}
	files := payload["files"].([]any)
	if len(files) != 1 {
		t.Fatalf("files = %v", files)
	}
	staged := files[0].(map[string]any)
	if staged["title"] != "Naruto" || staged["volume"].(float64) != 2 {
		t.Fatalf("staged = %v", staged)
	}

	rec, payload = f.do(t, http.MethodPost, "/import/execute", "", map[string]any{
		"import_path": staging,
		"files": []map[string]any{{
			"filepath": staged["filepath"],
			"destination": map[string]any{
				"library_id":   id,
				"series_title": "Naruto",
			},
		}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("import execute: code=%d payload=%v", rec.Code, payload)
	}
	if payload["imported"].(float64) != 1 || payload["failed"].(float64) != 0 {
		t.Fatalf("import payload = %v", payload)
	}
	cleaned := payload["cleaned_directories"].([]any)
	if len(cleaned) != 1 {
		t.Fatalf("cleaned_directories = %v", cleaned)
	}
	if _, err := os.Stat(filepath.Join(root, "Naruto", "Naruto T02.cbz")); err != nil {
		t.Fatalf("imported file missing: %v", err)
	}
}

func TestSearchEndpoint(t *testing.T) {
	f := newFixture(t, "", []sources.Result{
		{Title: "Naruto T02", Link: "ed2k://naruto-two", Source: sources.NameEbdz},
	})

	rec, payload := f.do(t, http.MethodGet, "/search?query=Naruto&volume=2&category=ed2k", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("search: code=%d payload=%v", rec.Code, payload)
	}
	results := payload["results"].([]any)
	if len(results) != 1 {
		t.Fatalf("results = %v", results)
	}
	if results[0].(map[string]any)["link"] != "ed2k://naruto-two" {
		t.Fatalf("result = %v", results[0])
	}

	rec, _ = f.do(t, http.MethodGet, "/search?volume=2", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing query: code=%d", rec.Code)
	}
	rec, _ = f.do(t, http.MethodGet, "/search?query=Naruto&category=usenet", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown category: code=%d", rec.Code)
	}
}

func TestBearerTokenRequired(t *testing.T) {
	f := newFixture(t, "sekrit", nil)

	rec, payload := f.do(t, http.MethodGet, "/libraries", "", nil)
	if rec.Code != http.StatusUnauthorized || payload["success"] != false {
		t.Fatalf("no token: code=%d payload=%v", rec.Code, payload)
	}
	rec, _ = f.do(t, http.MethodGet, "/libraries", "wrong", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: code=%d", rec.Code)
	}
	rec, _ = f.do(t, http.MethodGet, "/libraries", "sekrit", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("good token: code=%d", rec.Code)
	}
}

func TestMonitorConfigMasksSecrets(t *testing.T) {
	f := newFixture(t, "", nil)
	sealed, err := f.keeper.Seal("hunter2")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	f.cfg.QBittorrent.Password = sealed

	rec, payload := f.do(t, http.MethodGet, "/config/monitor", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get config: code=%d", rec.Code)
	}
	cfg := payload["config"].(map[string]any)
	qbt := cfg["qbittorrent"].(map[string]any)
	if qbt["password"] != secrets.Mask {
		t.Fatalf("password = %q, want masked", qbt["password"])
	}

	// Posting the mask back keeps the stored secret; a fresh value reseals.
	update := map[string]any{
		"sources":               []string{sources.NameEbdz},
		"auto_submit":           true,
		"local_first_threshold": 25,
		"cache_ttl_minutes":     30,
		"ebdz":                  map[string]any{"enabled": true, "path": ""},
		"prowlarr":              map[string]any{"enabled": false, "url": "", "api_key": ""},
		"emule": map[string]any{
			"enabled": true, "host": "127.0.0.1", "port": 4712, "password": "newpass",
		},
		"qbittorrent": map[string]any{
			"enabled": true, "url": "http://localhost:8080",
			"username": "admin", "password": secrets.Mask,
		},
	}
	rec, payload = f.do(t, http.MethodPost, "/config/monitor", "", update)
	if rec.Code != http.StatusOK {
		t.Fatalf("post config: code=%d payload=%v", rec.Code, payload)
	}
	if f.cfg.QBittorrent.Password != sealed {
		t.Fatal("masked password was overwritten")
	}
	if !secrets.IsSealed(f.cfg.Emule.Password) {
		t.Fatalf("emule password not sealed: %q", f.cfg.Emule.Password)
	}
	unsealed, err := f.keeper.Unseal(f.cfg.Emule.Password)
	if err != nil || unsealed != "newpass" {
		t.Fatalf("unseal = %q, %v", unsealed, err)
	}
	if !f.cfg.Monitor.AutoSubmit || f.cfg.Monitor.LocalFirstThreshold != 25 {
		t.Fatalf("monitor settings not applied: %+v", f.cfg.Monitor)
	}

	// The updated config was persisted to disk.
	raw, err := os.ReadFile(f.server.configPath)
	if err != nil {
		t.Fatalf("read persisted config: %v", err)
	}
	if !strings.Contains(string(raw), "local_first_threshold = 25") {
		t.Fatalf("persisted config missing update:\n%s", raw)
	}
}

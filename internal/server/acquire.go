package server

import (
	"database/sql"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"tomarr/internal/catalog"
	"tomarr/internal/importer"
	"tomarr/internal/logging"
	"tomarr/internal/secrets"
	"tomarr/internal/services"
	"tomarr/internal/sources"
)

type stagedFilePayload struct {
	Filepath   string `json:"filepath"`
	Filename   string `json:"filename"`
	Size       int64  `json:"size"`
	Title      string `json:"title"`
	Volume     *int   `json:"volume,omitempty"`
	PartNumber *int   `json:"part_number,omitempty"`
	Format     string `json:"format"`
}

func (s *Server) handleImportScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w)
		return
	}
	var req struct {
		Path string `json:"path"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.failErr(w, err)
		return
	}
	staged, err := s.importer.ScanStaging(req.Path)
	if err != nil {
		s.failErr(w, err)
		return
	}
	payload := make([]stagedFilePayload, 0, len(staged))
	for _, file := range staged {
		payload = append(payload, stagedFilePayload{
			Filepath:   file.Path,
			Filename:   file.Filename,
			Size:       file.Size,
			Title:      file.Meta.Title,
			Volume:     file.Meta.Volume,
			PartNumber: file.Meta.PartNumber,
			Format:     file.Meta.Format,
		})
	}
	s.respond(w, http.StatusOK, map[string]any{"files": payload})
}

func (s *Server) handleImportExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w)
		return
	}
	var req struct {
		ImportPath string `json:"import_path"`
		Files      []struct {
			Filepath    string `json:"filepath"`
			Destination struct {
				LibraryID   int64  `json:"library_id"`
				SeriesTitle string `json:"series_title"`
			} `json:"destination"`
		} `json:"files"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.failErr(w, err)
		return
	}
	if len(req.Files) == 0 {
		s.failErr(w, services.Wrap(services.ErrValidation, "api", "import",
			"no files selected", nil))
		return
	}

	requests := make([]importer.Request, 0, len(req.Files))
	for _, file := range req.Files {
		library, err := s.store.GetLibrary(r.Context(), file.Destination.LibraryID)
		if err != nil {
			s.failErr(w, err)
			return
		}
		requests = append(requests, importer.Request{
			SourcePath: file.Filepath,
			Destination: importer.Destination{
				LibraryID:   library.ID,
				LibraryPath: library.RootPath,
				SeriesTitle: file.Destination.SeriesTitle,
			},
		})
	}

	result, err := s.importer.Import(r.Context(), req.ImportPath, requests)
	if err != nil {
		s.failErr(w, err)
		return
	}
	cleaned := result.CleanedDirs
	if cleaned == nil {
		cleaned = []string{}
	}
	s.respond(w, http.StatusOK, map[string]any{
		"operation_id":        result.OpID,
		"imported":            result.Imported,
		"replaced":            result.Replaced,
		"skipped":             result.Skipped,
		"failed":              result.Failed,
		"cleaned_directories": cleaned,
	})
}

func (s *Server) handleImportCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w)
		return
	}
	var req struct {
		Path string `json:"path"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.failErr(w, err)
		return
	}
	cleaned, err := s.importer.Cleanup(req.Path)
	if err != nil {
		s.failErr(w, err)
		return
	}
	if cleaned == nil {
		cleaned = []string{}
	}
	s.respond(w, http.StatusOK, map[string]any{"cleaned_directories": cleaned})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w)
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		s.failErr(w, services.Wrap(services.ErrValidation, "api", "search",
			"query is required", nil))
		return
	}
	volume := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("volume")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.failErr(w, services.Wrap(services.ErrValidation, "api", "search",
				"invalid volume", err))
			return
		}
		volume = parsed
	}
	names, err := searchCategory(r.URL.Query().Get("category"))
	if err != nil {
		s.failErr(w, err)
		return
	}

	results, err := s.search.Search(r.Context(), query, volume, names)
	if err != nil {
		s.failErr(w, err)
		return
	}
	if results == nil {
		results = []sources.Result{}
	}
	payload := make([]map[string]any, 0, len(results))
	for _, result := range results {
		payload = append(payload, map[string]any{
			"title":    result.Title,
			"link":     result.Link,
			"filename": result.Filename,
			"size":     result.Size,
			"seeders":  result.Seeders,
			"indexer":  result.Indexer,
			"source":   result.Source,
			"score":    result.Score,
		})
	}
	s.respond(w, http.StatusOK, map[string]any{"results": payload})
}

// searchCategory maps the category parameter to source names. Empty means
// every registered source.
func searchCategory(category string) ([]string, error) {
	switch strings.ToLower(strings.TrimSpace(category)) {
	case "", "all":
		return nil, nil
	case "ed2k", "local":
		return []string{sources.NameEbdz}, nil
	case "torrent":
		return []string{sources.NameProwlarr}, nil
	default:
		return nil, services.Wrap(services.ErrValidation, "api", "search",
			"unknown category "+strconv.Quote(category), nil)
	}
}

func (s *Server) handleEmuleAdd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w)
		return
	}
	if s.emule == nil {
		s.fail(w, http.StatusServiceUnavailable, errors.New("emule client not configured"))
		return
	}
	var req struct {
		Link string `json:"link"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.failErr(w, err)
		return
	}
	err := s.emule.Submit(r.Context(), req.Link)
	s.journalDownload(r, s.emule.Name(), req.Link, err)
	if err != nil {
		if errors.Is(err, services.ErrExternalTool) {
			s.fail(w, http.StatusServiceUnavailable, err)
			return
		}
		s.failErr(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"submitted": req.Link})
}

func (s *Server) handleTorrentAdd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w)
		return
	}
	if s.torrent == nil {
		s.fail(w, http.StatusServiceUnavailable, errors.New("torrent client not configured"))
		return
	}
	var req struct {
		TorrentURL string   `json:"torrent_url"`
		Category   string   `json:"category"`
		Tags       []string `json:"tags"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.failErr(w, err)
		return
	}
	err := s.torrent.Submit(r.Context(), req.TorrentURL, req.Category, strings.Join(req.Tags, ","))
	s.journalDownload(r, s.torrent.Name(), req.TorrentURL, err)
	if err != nil {
		s.failErr(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"submitted": req.TorrentURL})
}

func (s *Server) journalDownload(r *http.Request, client, link string, submitErr error) {
	event := &catalog.DownloadEvent{
		Title:   link,
		Client:  client,
		Success: submitErr == nil,
	}
	if submitErr != nil {
		event.Message = submitErr.Error()
	}
	err := s.store.WithTx(r.Context(), func(tx *sql.Tx) error {
		return s.store.RecordDownloadEvent(r.Context(), tx, event)
	})
	if err != nil {
		s.logger.Warn("download event not recorded", logging.Error(err))
	}
}

// monitorConfig is the JSON projection of the acquisition settings. Secret
// fields travel masked; the mask value means "keep the stored secret".
type monitorConfig struct {
	Sources             []string `json:"sources"`
	AutoSubmit          bool     `json:"auto_submit"`
	LocalFirstThreshold int      `json:"local_first_threshold"`
	CacheTTLMinutes     int      `json:"cache_ttl_minutes"`

	Ebdz struct {
		Enabled bool   `json:"enabled"`
		Path    string `json:"path"`
	} `json:"ebdz"`
	Prowlarr struct {
		Enabled bool   `json:"enabled"`
		URL     string `json:"url"`
		APIKey  string `json:"api_key"`
	} `json:"prowlarr"`
	Emule struct {
		Enabled  bool   `json:"enabled"`
		Host     string `json:"host"`
		Port     int    `json:"port"`
		Password string `json:"password"`
	} `json:"emule"`
	QBittorrent struct {
		Enabled  bool   `json:"enabled"`
		URL      string `json:"url"`
		Username string `json:"username"`
		Password string `json:"password"`
	} `json:"qbittorrent"`
}

func (s *Server) handleMonitorConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.getMonitorConfig(w)
	case http.MethodPost:
		s.updateMonitorConfig(w, r)
	default:
		s.methodNotAllowed(w)
	}
}

func (s *Server) getMonitorConfig(w http.ResponseWriter) {
	if s.cfg == nil {
		s.fail(w, http.StatusServiceUnavailable, errors.New("configuration not loaded"))
		return
	}
	var payload monitorConfig
	payload.Sources = s.cfg.Monitor.Sources
	payload.AutoSubmit = s.cfg.Monitor.AutoSubmit
	payload.LocalFirstThreshold = s.cfg.Monitor.LocalFirstThreshold
	payload.CacheTTLMinutes = s.cfg.Monitor.CacheTTLMinutes
	payload.Ebdz.Enabled = s.cfg.Ebdz.Enabled
	payload.Ebdz.Path = s.cfg.Ebdz.Path
	payload.Prowlarr.Enabled = s.cfg.Prowlarr.Enabled
	payload.Prowlarr.URL = s.cfg.Prowlarr.URL
	payload.Prowlarr.APIKey = secrets.MaskValue(s.cfg.Prowlarr.APIKey)
	payload.Emule.Enabled = s.cfg.Emule.Enabled
	payload.Emule.Host = s.cfg.Emule.Host
	payload.Emule.Port = s.cfg.Emule.Port
	payload.Emule.Password = secrets.MaskValue(s.cfg.Emule.Password)
	payload.QBittorrent.Enabled = s.cfg.QBittorrent.Enabled
	payload.QBittorrent.URL = s.cfg.QBittorrent.URL
	payload.QBittorrent.Username = s.cfg.QBittorrent.Username
	payload.QBittorrent.Password = secrets.MaskValue(s.cfg.QBittorrent.Password)
	s.respond(w, http.StatusOK, map[string]any{"config": payload})
}

func (s *Server) updateMonitorConfig(w http.ResponseWriter, r *http.Request) {
	if s.cfg == nil || s.configPath == "" {
		s.fail(w, http.StatusServiceUnavailable, errors.New("configuration not loaded"))
		return
	}
	var req monitorConfig
	if err := decodeBody(r, &req); err != nil {
		s.failErr(w, err)
		return
	}

	s.cfg.Monitor.Sources = req.Sources
	s.cfg.Monitor.AutoSubmit = req.AutoSubmit
	s.cfg.Monitor.LocalFirstThreshold = req.LocalFirstThreshold
	s.cfg.Monitor.CacheTTLMinutes = req.CacheTTLMinutes
	s.cfg.Ebdz.Enabled = req.Ebdz.Enabled
	s.cfg.Ebdz.Path = req.Ebdz.Path
	s.cfg.Prowlarr.Enabled = req.Prowlarr.Enabled
	s.cfg.Prowlarr.URL = req.Prowlarr.URL
	s.cfg.Emule.Enabled = req.Emule.Enabled
	s.cfg.Emule.Host = req.Emule.Host
	s.cfg.Emule.Port = req.Emule.Port
	s.cfg.QBittorrent.Enabled = req.QBittorrent.Enabled
	s.cfg.QBittorrent.URL = req.QBittorrent.URL
	s.cfg.QBittorrent.Username = req.QBittorrent.Username

	updates := []struct {
		incoming string
		target   *string
	}{
		{req.Prowlarr.APIKey, &s.cfg.Prowlarr.APIKey},
		{req.Emule.Password, &s.cfg.Emule.Password},
		{req.QBittorrent.Password, &s.cfg.QBittorrent.Password},
	}
	for _, update := range updates {
		if update.incoming == secrets.Mask {
			continue
		}
		if update.incoming == "" {
			*update.target = ""
			continue
		}
		if s.keeper == nil {
			s.fail(w, http.StatusServiceUnavailable, errors.New("secret keeper unavailable"))
			return
		}
		sealed, err := s.keeper.Seal(update.incoming)
		if err != nil {
			s.failErr(w, err)
			return
		}
		*update.target = sealed
	}

	if err := s.persistConfig(); err != nil {
		s.failErr(w, err)
		return
	}
	s.logger.Info("monitor configuration updated")
	s.getMonitorConfig(w)
}

func (s *Server) persistConfig() error {
	encoded, err := toml.Marshal(s.cfg)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "api", "persist config",
			"encode configuration", err)
	}
	if err := os.WriteFile(s.configPath, encoded, 0o644); err != nil {
		return services.Wrap(services.ErrConfiguration, "api", "persist config",
			"write configuration", err)
	}
	return nil
}

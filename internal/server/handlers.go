package server

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tomarr/internal/catalog"
	"tomarr/internal/logging"
	"tomarr/internal/services"
)

func (s *Server) handleLibraries(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listLibraries(w, r)
	case http.MethodPost:
		s.createLibrary(w, r)
	default:
		s.methodNotAllowed(w)
	}
}

type libraryPayload struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	Path          string     `json:"path"`
	Description   string     `json:"description,omitempty"`
	SeriesCount   int        `json:"series_count"`
	LastScannedAt *time.Time `json:"last_scanned_at,omitempty"`
}

func (s *Server) listLibraries(w http.ResponseWriter, r *http.Request) {
	libraries, err := s.store.ListLibraries(r.Context())
	if err != nil {
		s.failErr(w, err)
		return
	}
	payload := make([]libraryPayload, 0, len(libraries))
	for _, library := range libraries {
		count, err := s.store.CountLibrarySeries(r.Context(), library.ID)
		if err != nil {
			s.failErr(w, err)
			return
		}
		payload = append(payload, libraryPayload{
			ID:            library.ID,
			Name:          library.Name,
			Path:          library.RootPath,
			Description:   library.Description,
			SeriesCount:   count,
			LastScannedAt: library.LastScannedAt,
		})
	}
	s.respond(w, http.StatusOK, map[string]any{"libraries": payload})
}

func (s *Server) createLibrary(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Path        string `json:"path"`
		Description string `json:"description"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.failErr(w, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Path) == "" {
		s.failErr(w, services.Wrap(services.ErrValidation, "api", "create library",
			"name and path are required", nil))
		return
	}

	var library *catalog.Library
	err := s.store.WithTx(r.Context(), func(tx *sql.Tx) error {
		var err error
		library, err = s.store.CreateLibrary(r.Context(), tx, req.Name, req.Path, req.Description)
		return err
	})
	if err != nil {
		if errors.Is(err, catalog.ErrIntegrity) {
			s.fail(w, http.StatusConflict, err)
			return
		}
		s.failErr(w, err)
		return
	}
	s.logger.Info("library created",
		logging.String(logging.FieldLibrary, library.Name),
		logging.Int64("library_id", library.ID))
	s.respond(w, http.StatusCreated, map[string]any{"library": libraryPayload{
		ID:          library.ID,
		Name:        library.Name,
		Path:        library.RootPath,
		Description: library.Description,
	}})
}

func (s *Server) handleLibraryItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		s.methodNotAllowed(w)
		return
	}
	id, ok := trailingID(w, s, r.URL.Path, "/libraries/")
	if !ok {
		return
	}
	err := s.store.WithTx(r.Context(), func(tx *sql.Tx) error {
		return s.store.DeleteLibrary(r.Context(), tx, id)
	})
	if err != nil {
		s.failErr(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"deleted": id})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w)
		return
	}
	id, ok := trailingID(w, s, r.URL.Path, "/scan/")
	if !ok {
		return
	}
	result, err := s.scanner.Scan(r.Context(), id)
	if err != nil {
		s.failErr(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"library_id": result.LibraryID,
		"series":     result.Series,
		"volumes":    result.Volumes,
		"skipped":    result.Skipped,
	})
}

type seriesPayload struct {
	ID            int64      `json:"id"`
	LibraryID     int64      `json:"library_id"`
	Title         string     `json:"title"`
	Path          string     `json:"path"`
	TotalVolumes  int        `json:"total_volumes"`
	MissingSet    []int      `json:"missing_set"`
	HasParts      bool       `json:"has_parts"`
	LastScannedAt *time.Time `json:"last_scanned_at,omitempty"`

	CanonicalTotal  *int   `json:"canonical_total,omitempty"`
	CanonicalStatus string `json:"canonical_status,omitempty"`
	Editor          string `json:"editor,omitempty"`
	Author          string `json:"author,omitempty"`
}

func seriesToPayload(series *catalog.Series) seriesPayload {
	missing := series.MissingSet
	if missing == nil {
		missing = []int{}
	}
	return seriesPayload{
		ID:              series.ID,
		LibraryID:       series.LibraryID,
		Title:           series.Title,
		Path:            series.Path,
		TotalVolumes:    series.TotalVolumes,
		MissingSet:      missing,
		HasParts:        series.HasParts,
		LastScannedAt:   series.LastScannedAt,
		CanonicalTotal:  series.Canonical.Total,
		CanonicalStatus: series.Canonical.Status,
		Editor:          series.Canonical.Editor,
		Author:          series.Canonical.Author,
	}
}

func (s *Server) handleLibrarySeries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/library/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != "series" {
		s.fail(w, http.StatusNotFound, errors.New("not found"))
		return
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		s.failErr(w, services.Wrap(services.ErrValidation, "api", "library series",
			"invalid library id", err))
		return
	}
	if _, err := s.store.GetLibrary(r.Context(), id); err != nil {
		s.failErr(w, err)
		return
	}
	list, err := s.store.ListSeries(r.Context(), id)
	if err != nil {
		s.failErr(w, err)
		return
	}
	payload := make([]seriesPayload, 0, len(list))
	for _, series := range list {
		payload = append(payload, seriesToPayload(series))
	}
	s.respond(w, http.StatusOK, map[string]any{"series": payload})
}

type volumePayload struct {
	ID           int64  `json:"id"`
	Filename     string `json:"filename"`
	Filepath     string `json:"filepath"`
	VolumeNumber *int   `json:"volume_number,omitempty"`
	PartNumber   *int   `json:"part_number,omitempty"`
	FileSize     int64  `json:"file_size"`
	PageCount    int    `json:"page_count"`
	Format       string `json:"format"`
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w)
		return
	}
	id, ok := trailingID(w, s, r.URL.Path, "/series/")
	if !ok {
		return
	}
	series, err := s.store.GetSeries(r.Context(), id)
	if err != nil {
		s.failErr(w, err)
		return
	}
	volumes, err := s.store.ListVolumes(r.Context(), id)
	if err != nil {
		s.failErr(w, err)
		return
	}
	payload := make([]volumePayload, 0, len(volumes))
	for _, volume := range volumes {
		payload = append(payload, volumePayload{
			ID:           volume.ID,
			Filename:     volume.Filename,
			Filepath:     volume.Filepath,
			VolumeNumber: volume.VolumeNumber,
			PartNumber:   volume.PartNumber,
			FileSize:     volume.FileSize,
			PageCount:    volume.PageCount,
			Format:       volume.Format,
		})
	}
	s.respond(w, http.StatusOK, map[string]any{
		"series":  seriesToPayload(series),
		"volumes": payload,
	})
}

// trailingID parses the numeric path segment after prefix, writing the
// error response itself on failure.
func trailingID(w http.ResponseWriter, s *Server, path, prefix string) (int64, bool) {
	raw := strings.TrimPrefix(path, prefix)
	if raw == "" || strings.Contains(raw, "/") {
		s.fail(w, http.StatusNotFound, errors.New("not found"))
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.failErr(w, services.Wrap(services.ErrValidation, "api", "parse id",
			"invalid numeric id", err))
		return 0, false
	}
	return id, true
}

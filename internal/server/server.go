// Package server exposes the HTTP JSON surface. Success payloads carry
// success=true, failures are {success: false, error} with a status code
// mapped from the error kind.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"tomarr/internal/catalog"
	"tomarr/internal/clients"
	"tomarr/internal/config"
	"tomarr/internal/importer"
	"tomarr/internal/logging"
	"tomarr/internal/orchestrator"
	"tomarr/internal/scanner"
	"tomarr/internal/secrets"
	"tomarr/internal/services"
)

// Options wires a Server.
type Options struct {
	Bind       string
	Token      string
	Config     *config.Config
	ConfigPath string
	Keeper     *secrets.Keeper
	Store      *catalog.Store
	Scanner    *scanner.Scanner
	Importer   *importer.Importer
	Search     *orchestrator.Orchestrator
	Emule      clients.ED2KClient
	Torrent    clients.TorrentClient
	Logger     *slog.Logger
}

// Server serves the JSON API.
type Server struct {
	bind       string
	token      string
	cfg        *config.Config
	configPath string
	keeper     *secrets.Keeper
	store      *catalog.Store
	scanner    *scanner.Scanner
	importer   *importer.Importer
	search     *orchestrator.Orchestrator
	emule      clients.ED2KClient
	torrent    clients.TorrentClient
	logger     *slog.Logger

	listener net.Listener
	server   *http.Server
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		bind:       opts.Bind,
		token:      strings.TrimSpace(opts.Token),
		cfg:        opts.Config,
		configPath: opts.ConfigPath,
		keeper:     opts.Keeper,
		store:      opts.Store,
		scanner:    opts.Scanner,
		importer:   opts.Importer,
		search:     opts.Search,
		emule:      opts.Emule,
		torrent:    opts.Torrent,
		logger:     logging.WithComponent(logger, "api-server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/libraries", s.auth(s.handleLibraries))
	mux.HandleFunc("/libraries/", s.auth(s.handleLibraryItem))
	mux.HandleFunc("/scan/", s.auth(s.handleScan))
	mux.HandleFunc("/library/", s.auth(s.handleLibrarySeries))
	mux.HandleFunc("/series/", s.auth(s.handleSeries))
	mux.HandleFunc("/import/scan", s.auth(s.handleImportScan))
	mux.HandleFunc("/import/execute", s.auth(s.handleImportExecute))
	mux.HandleFunc("/import/cleanup", s.auth(s.handleImportCleanup))
	mux.HandleFunc("/search", s.auth(s.handleSearch))
	mux.HandleFunc("/emule/add", s.auth(s.handleEmuleAdd))
	mux.HandleFunc("/qbittorrent/add", s.auth(s.handleTorrentAdd))
	mux.HandleFunc("/config/monitor", s.auth(s.handleMonitorConfig))

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler exposes the routed mux, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start listens on the configured bind address and serves until the context
// is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Addr reports the bound address, empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down, waiting briefly for in-flight requests.
func (s *Server) Stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// auth validates the bearer token when one is configured.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	if s.token == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") || strings.TrimPrefix(header, "Bearer ") != s.token {
			s.fail(w, http.StatusUnauthorized, errors.New("unauthorized"))
			return
		}
		next(w, r)
	}
}

// respond writes a success envelope. Payload keys are merged next to the
// success flag.
func (s *Server) respond(w http.ResponseWriter, status int, payload map[string]any) {
	body := map[string]any{"success": true}
	for key, value := range payload {
		body[key] = value
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("encode response failed", logging.Error(err))
	}
}

func (s *Server) fail(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   err.Error(),
	})
}

// failErr maps the error kind to a status code.
func (s *Server) failErr(w http.ResponseWriter, err error) {
	s.fail(w, statusFor(err), err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrNotFound), errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, catalog.ErrBusy):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) methodNotAllowed(w http.ResponseWriter) {
	s.fail(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func decodeBody(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return services.Wrap(services.ErrValidation, "api", "decode", "invalid request body", err)
	}
	return nil
}

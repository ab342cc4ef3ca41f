// Package clients routes acquisition links to the right download client and
// journals every submission.
package clients

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"

	"tomarr/internal/catalog"
	"tomarr/internal/logging"
	"tomarr/internal/services"
)

// ED2KClient submits ed2k:// URIs.
type ED2KClient interface {
	Name() string
	Submit(ctx context.Context, link string) error
}

// TorrentClient submits torrent URLs and magnets.
type TorrentClient interface {
	Name() string
	Submit(ctx context.Context, link, category, tags string) error
}

// Submitter picks a client per link and records the outcome.
type Submitter struct {
	store   *catalog.Store
	ed2k    ED2KClient
	torrent TorrentClient
	logger  *slog.Logger
}

func NewSubmitter(store *catalog.Store, ed2k ED2KClient, torrent TorrentClient, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Submitter{
		store:   store,
		ed2k:    ed2k,
		torrent: torrent,
		logger:  logging.WithComponent(logger, "downloads"),
	}
}

// SubmitAuto dispatches by scheme: ed2k:// goes to the ED2K client,
// everything else to the torrent client. One DownloadEvent row is written
// per attempt, success or not.
func (s *Submitter) SubmitAuto(ctx context.Context, link, title string, volume *int) error {
	var (
		clientName string
		submitErr  error
	)
	switch {
	case strings.HasPrefix(strings.ToLower(link), "ed2k://"):
		if s.ed2k == nil {
			submitErr = services.Wrap(services.ErrConfiguration, "downloads", "submit",
				"No ED2K client configured", nil)
			clientName = "emule"
		} else {
			clientName = s.ed2k.Name()
			submitErr = s.ed2k.Submit(ctx, link)
		}
	default:
		if s.torrent == nil {
			submitErr = services.Wrap(services.ErrConfiguration, "downloads", "submit",
				"No torrent client configured", nil)
			clientName = "qbittorrent"
		} else {
			clientName = s.torrent.Name()
			submitErr = s.torrent.Submit(ctx, link, "", "")
		}
	}

	event := &catalog.DownloadEvent{
		Title:        title,
		VolumeNumber: volume,
		Client:       clientName,
		Success:      submitErr == nil,
	}
	if submitErr != nil {
		event.Message = submitErr.Error()
	}
	if err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		return s.store.RecordDownloadEvent(ctx, tx, event)
	}); err != nil {
		s.logger.Warn("download event lost",
			logging.String("client", clientName), logging.Error(err))
	}

	if submitErr != nil {
		s.logger.Warn("submission failed",
			logging.String("client", clientName),
			logging.String(logging.FieldSeries, title),
			logging.Error(submitErr))
		return submitErr
	}
	s.logger.Info("link submitted",
		logging.String("client", clientName),
		logging.String(logging.FieldSeries, title))
	return nil
}

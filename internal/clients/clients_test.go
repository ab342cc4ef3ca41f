package clients

import (
	"context"
	"errors"
	"testing"

	"tomarr/internal/logging"
	"tomarr/internal/testsupport"
)

type fakeED2K struct {
	links []string
	err   error
}

func (f *fakeED2K) Name() string { return "emule" }
func (f *fakeED2K) Submit(_ context.Context, link string) error {
	f.links = append(f.links, link)
	return f.err
}

type fakeTorrent struct {
	links []string
	err   error
}

func (f *fakeTorrent) Name() string { return "qbittorrent" }
func (f *fakeTorrent) Submit(_ context.Context, link, _, _ string) error {
	f.links = append(f.links, link)
	return f.err
}

func TestSubmitAutoDispatchesByScheme(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	ed2k := &fakeED2K{}
	torrent := &fakeTorrent{}
	submitter := NewSubmitter(store, ed2k, torrent, logging.NewNop())

	vol := 2
	if err := submitter.SubmitAuto(context.Background(), "ED2K://|file|x|1|aa|/", "Naruto", &vol); err != nil {
		t.Fatalf("ed2k submit: %v", err)
	}
	if err := submitter.SubmitAuto(context.Background(), "magnet:?xt=urn:btih:abc", "Naruto", &vol); err != nil {
		t.Fatalf("torrent submit: %v", err)
	}

	if len(ed2k.links) != 1 || len(torrent.links) != 1 {
		t.Fatalf("dispatch = ed2k %v / torrent %v", ed2k.links, torrent.links)
	}

	events, err := store.ListDownloadEvents(context.Background(), 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	for _, event := range events {
		if !event.Success {
			t.Fatalf("event marked failed: %+v", event)
		}
	}
}

func TestSubmitAutoRecordsFailureEvent(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	torrent := &fakeTorrent{err: errors.New("connection refused")}
	submitter := NewSubmitter(store, &fakeED2K{}, torrent, logging.NewNop())

	err := submitter.SubmitAuto(context.Background(), "https://idx/dl/1", "Naruto", nil)
	if err == nil {
		t.Fatal("expected submission error")
	}

	events, listErr := store.ListDownloadEvents(context.Background(), 10)
	if listErr != nil {
		t.Fatalf("list events: %v", listErr)
	}
	if len(events) != 1 || events[0].Success {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Message == "" {
		t.Fatal("failure event should carry the cause")
	}
	if events[0].Client != "qbittorrent" {
		t.Fatalf("client = %q", events[0].Client)
	}
}

func TestSubmitAutoWithoutClient(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	submitter := NewSubmitter(store, nil, nil, logging.NewNop())

	if err := submitter.SubmitAuto(context.Background(), "ed2k://|file|x|1|aa|/", "Naruto", nil); err == nil {
		t.Fatal("expected error without configured client")
	}
	events, err := store.ListDownloadEvents(context.Background(), 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 || events[0].Success {
		t.Fatalf("missing-client attempt not journaled: %+v", events)
	}
}

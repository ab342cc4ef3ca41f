package catalog

import "time"

// Library is a root directory registered by the user.
type Library struct {
	ID            int64
	Name          string
	RootPath      string
	Description   string
	CreatedAt     time.Time
	LastScannedAt *time.Time
}

// Canonical holds externally sourced facts about a series.
type Canonical struct {
	Total             *int
	Status            string
	Editor            string
	Author            string
	YearStart         *int
	YearEnd           *int
	SourceURL         string
	MetadataUpdatedAt *time.Time
}

// Series is a named collection of volumes within one library.
type Series struct {
	ID            int64
	LibraryID     int64
	Title         string
	Path          string
	TotalVolumes  int
	MaxVolume     int
	MissingSet    []int
	HasParts      bool
	LastScannedAt *time.Time
	Canonical     Canonical
}

// Volume is one archive file.
type Volume struct {
	ID           int64
	SeriesID     int64
	Filename     string
	Filepath     string
	VolumeNumber *int
	PartNumber   *int
	PartName     *string
	Author       string
	Year         *int
	Resolution   string
	FileSize     int64
	PageCount    int
	Format       string
}

// Monitor is the per-series acquisition policy.
type Monitor struct {
	ID            int64
	SeriesID      int64
	Enabled       bool
	Sources       []string
	AutoSubmit    bool
	LastCheckedAt *time.Time
}

// Import operation lifecycle states.
const (
	OpStatusStarted   = "started"
	OpStatusCompleted = "completed"
	OpStatusFailed    = "failed"
	OpStatusUndone    = "undone"
)

// Import file outcomes.
const (
	ActionImported         = "imported"
	ActionReplaced         = "replaced"
	ActionSkippedDuplicate = "skipped_duplicate"
)

// ImportOperation is one user-initiated import batch.
type ImportOperation struct {
	OpID        string
	Type        string
	StagingRoot string
	Status      string
	Imported    int
	Replaced    int
	Skipped     int
	Failed      int
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// ImportFile records the outcome for one file of an import operation.
type ImportFile struct {
	ID              int64
	OpID            string
	Filename        string
	SourcePath      string
	DestinationPath string
	SeriesID        *int64
	SeriesTitle     string
	Action          string
	Status          string
	Message         string
}

// DownloadEvent is the audit row for one download-client submission.
type DownloadEvent struct {
	ID           int64
	Title        string
	VolumeNumber *int
	Client       string
	Success      bool
	Message      string
	CreatedAt    time.Time
}

// ObservedSeries is one series as seen on disk during a scan.
type ObservedSeries struct {
	Path    string
	Volumes []Volume
}

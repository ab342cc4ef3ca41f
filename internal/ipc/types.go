package ipc

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse is the daemon runtime snapshot.
type StatusResponse struct {
	Running       bool     `json:"running"`
	PID           int      `json:"pid"`
	DatabasePath  string   `json:"database_path"`
	LockPath      string   `json:"lock_path"`
	APIAddress    string   `json:"api_address"`
	ScheduledJobs []string `json:"scheduled_jobs"`
	Libraries     int      `json:"libraries"`
}

// ScanRequest runs a library scan. LibraryID 0 scans every library.
type ScanRequest struct {
	LibraryID int64 `json:"library_id"`
}

// ScanResponse reports scan counts. Libraries is the number of library
// roots swept.
type ScanResponse struct {
	Libraries int `json:"libraries"`
	Series    int `json:"series"`
	Volumes   int `json:"volumes"`
}

// CheckRequest triggers an acquisition pass.
type CheckRequest struct{}

// CheckResponse summarizes an acquisition pass.
type CheckResponse struct {
	Monitors  int `json:"monitors"`
	Tuples    int `json:"tuples"`
	Results   int `json:"results"`
	Submitted int `json:"submitted"`
	Failures  int `json:"failures"`
}

// ReloadScheduleRequest re-applies the schedule configuration.
type ReloadScheduleRequest struct{}

// ReloadScheduleResponse lists the jobs active after the reload.
type ReloadScheduleResponse struct {
	Jobs []string `json:"jobs"`
}

// StopRequest stops the daemon services.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

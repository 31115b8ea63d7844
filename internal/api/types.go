package api

// DaemonStatus is the payload of GET /api/status.
type DaemonStatus struct {
	Running      bool            `json:"running"`
	PID          int             `json:"pid"`
	DatabasePath string          `json:"database_path"`
	LockFilePath string          `json:"lock_file_path"`
	RecordCount  int             `json:"record_count"`
	StatusCounts map[string]int  `json:"status_counts,omitempty"`
	Preflight    []PreflightLine `json:"preflight,omitempty"`
}

// PreflightLine is one readiness check result for status output.
type PreflightLine struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// DownloadItem is one projected download in list and progress responses.
type DownloadItem struct {
	Key             string `json:"key"`
	Title           string `json:"title,omitempty"`
	Type            string `json:"type,omitempty"`
	Status          string `json:"status"`
	Percent         int    `json:"percent"`
	DownloadedBytes int64  `json:"downloaded_bytes,omitempty"`
	TotalBytes      int64  `json:"total_bytes,omitempty"`
	Label           string `json:"label,omitempty"`
	Completed       int    `json:"completed,omitempty"`
	Total           int    `json:"total,omitempty"`
	ErrorMessage    string `json:"error_message,omitempty"`
}

// DownloadListResponse is the payload of GET /api/downloads.
type DownloadListResponse struct {
	Items []DownloadItem `json:"items"`
}

// QueueRequest is the payload of POST /api/downloads.
type QueueRequest struct {
	Key string `json:"key"`
	// Missing selects the queue-missing-episodes path for container keys.
	Missing bool `json:"missing,omitempty"`
}

// QueueResponse reports how many leaves a queue request touched.
type QueueResponse struct {
	Count int `json:"count"`
}

// ErrorResponse is the body of every non-2xx API reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

package transfer

import (
	"strings"
	"time"

	"spool/internal/identity"
	"spool/internal/media"
)

// Status represents the lifecycle of a download record. StatusPartial is never
// persisted for a leaf; it only appears in synthesized container aggregates.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusPaused      Status = "paused"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
	StatusPartial     Status = "partial"
)

var allStatuses = []Status{
	StatusQueued,
	StatusDownloading,
	StatusPaused,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
	StatusPartial,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	_, ok := statusSet[normalized]
	return normalized, ok
}

// Valid reports whether the status is one of the known lifecycle values.
func (s Status) Valid() bool {
	_, ok := statusSet[s]
	return ok
}

// Active reports whether the status describes a transfer that is still
// progressing toward completion.
func (s Status) Active() bool {
	return s == StatusQueued || s == StatusDownloading
}

// Record is a leaf download persisted in SQLite. The engine owns every
// mutation; the orchestrator holds a read-only projection folded from events.
type Record struct {
	Key              identity.GlobalKey
	TransferID       string
	Status           Status
	ProgressPercent  int
	DownloadedBytes  int64
	TotalBytes       int64
	CurrentFileLabel string
	ThumbPath        string
	SourceURL        string
	TargetPath       string
	ParentKey        *identity.GlobalKey
	GrandparentKey   *identity.GlobalKey
	MetadataJSON     string
	ErrorMessage     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Metadata rebuilds the item snapshot embedded in the record, if present.
func (r Record) Metadata() (media.Item, bool) {
	return media.FromJSON(r.MetadataJSON)
}

// Job describes a leaf transfer to admit.
type Job struct {
	Item       media.Item
	SourceURL  string
	TargetPath string
	ThumbPath  string
}

// DeletionProgress reports the outcome of removing a download and its file.
type DeletionProgress struct {
	Key     identity.GlobalKey
	Removed bool
	Error   string
}

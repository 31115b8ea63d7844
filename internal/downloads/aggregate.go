package downloads

import (
	"fmt"

	"spool/internal/identity"
	"spool/internal/transfer"
)

// Progress is the answer to "how far along is this item?". For containers it
// is a synthesized view: byte counters stay zero and Label carries the
// human-readable "completed/total" pair. It is never persisted.
type Progress struct {
	Key             identity.GlobalKey
	Status          transfer.Status
	Percent         int
	DownloadedBytes int64
	TotalBytes      int64
	Label           string
	Completed       int
	Total           int
}

func leafProgress(record transfer.Record) Progress {
	return Progress{
		Key:             record.Key,
		Status:          record.Status,
		Percent:         record.ProgressPercent,
		DownloadedBytes: record.DownloadedBytes,
		TotalBytes:      record.TotalBytes,
		Label:           record.CurrentFileLabel,
	}
}

// aggregateFor synthesizes container progress from the projected child
// records. The total comes from the first usable source in a fixed preference
// order: catalog leaf count, persisted episode count, observed children.
func (o *Orchestrator) aggregateFor(key identity.GlobalKey) (Progress, bool) {
	o.mu.RLock()
	var children []transfer.Record
	for _, record := range o.records {
		if (record.ParentKey != nil && *record.ParentKey == key) ||
			(record.GrandparentKey != nil && *record.GrandparentKey == key) {
			children = append(children, record)
		}
	}
	meta, hasMeta := o.metadata[key]
	o.mu.RUnlock()

	total := 0
	switch {
	case hasMeta && meta.LeafCount > 0:
		total = meta.LeafCount
	default:
		if o.counts != nil {
			if stored, ok := o.counts.Get(key); ok && stored > 0 {
				total = stored
			}
		}
		if total == 0 {
			total = len(children)
		}
	}

	// A known positive total with no observed children is ambiguous ("not
	// started" vs "not yet discovered"), so the contract refuses to guess.
	if total <= 0 || len(children) == 0 {
		return Progress{}, false
	}

	var completed, downloading, queued, failed int
	for _, child := range children {
		switch child.Status {
		case transfer.StatusCompleted:
			completed++
		case transfer.StatusDownloading:
			downloading++
		case transfer.StatusQueued:
			queued++
		case transfer.StatusFailed:
			failed++
		}
	}

	var status transfer.Status
	switch {
	case completed == total:
		status = transfer.StatusCompleted
	case completed > 0 && downloading == 0 && queued == 0 && completed < total:
		status = transfer.StatusPartial
	case downloading > 0:
		status = transfer.StatusDownloading
	case queued > 0:
		status = transfer.StatusQueued
	case failed > 0:
		status = transfer.StatusFailed
	default:
		return Progress{}, false
	}

	return Progress{
		Key:       key,
		Status:    status,
		Percent:   roundHalfUpPercent(completed, total),
		Label:     fmt.Sprintf("%d/%d", completed, total),
		Completed: completed,
		Total:     total,
	}, true
}

// roundHalfUpPercent computes round(completed*100/total) with exact half
// values rounding up.
func roundHalfUpPercent(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return (200*completed + total) / (2 * total)
}

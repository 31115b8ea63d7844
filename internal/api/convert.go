package api

import (
	"spool/internal/downloads"
	"spool/internal/transfer"
)

// FromRecord converts a projected transfer record into its API shape.
func FromRecord(record transfer.Record) DownloadItem {
	item := DownloadItem{
		Key:             record.Key.String(),
		Title:           record.CurrentFileLabel,
		Status:          string(record.Status),
		Percent:         record.ProgressPercent,
		DownloadedBytes: record.DownloadedBytes,
		TotalBytes:      record.TotalBytes,
		ErrorMessage:    record.ErrorMessage,
	}
	if meta, ok := record.Metadata(); ok {
		item.Title = meta.Title
		item.Type = string(meta.Type)
	}
	return item
}

// FromProgress converts a progress answer (leaf or aggregate) into its API shape.
func FromProgress(progress downloads.Progress) DownloadItem {
	return DownloadItem{
		Key:             progress.Key.String(),
		Status:          string(progress.Status),
		Percent:         progress.Percent,
		DownloadedBytes: progress.DownloadedBytes,
		TotalBytes:      progress.TotalBytes,
		Label:           progress.Label,
		Completed:       progress.Completed,
		Total:           progress.Total,
	}
}

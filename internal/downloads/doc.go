// Package downloads is the queue orchestrator: it expands container requests
// (shows, seasons) into leaf transfers, folds the transfer engine's event
// streams into a read-only projection, and synthesizes aggregate progress for
// containers with strict total-resolution and status-precedence rules.
package downloads

// Package daemon coordinates the long-running Spool process.
//
// It wires configuration, the transfer engine, the download orchestrator, and
// the control API into a single lifecycle with flock-based locking to prevent
// multiple instances against the same state directory. Keep orchestration
// logic here: download semantics live in internal/downloads and the daemon
// focuses on startup, shutdown, and the HTTP control surface.
package daemon

// Package logging wires log/slog with the console and JSON handlers used by
// the daemon, plus shared attribute helpers and field-name constants so the
// whole tree logs with a consistent vocabulary.
package logging

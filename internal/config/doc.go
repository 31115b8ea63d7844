// Package config loads, normalizes, and validates the TOML configuration that
// drives the daemon: directories, media server credentials, transfer limits,
// network gating, and logging.
package config

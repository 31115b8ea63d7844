// Package main hosts the Spool CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into HTTP
// calls against the daemon's control API, plus configuration scaffolding
// and the foreground `run` mode. It centralizes configuration resolution
// and key parsing so subcommands can focus on user experience instead of
// wiring.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main

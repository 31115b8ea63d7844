// Package api defines the JSON shapes exchanged between the daemon's control
// API and the spool CLI. Keeping them in one package prevents the two sides
// from drifting apart.
package api

// Package catalog fetches item metadata and container listings from a
// Plex-compatible media server.
package catalog

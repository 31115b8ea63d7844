// Package netpolicy reports whether the network is currently constrained so
// the orchestrator can refuse to start new downloads on metered links.
package netpolicy

import (
	"os"
	"strings"
)

// Policy answers whether new transfers should be held back right now.
type Policy interface {
	Constrained() bool
}

// Static is a fixed policy, useful for tests and for deployments that never
// ride a metered connection.
type Static bool

// Constrained reports the fixed value.
func (s Static) Constrained() bool { return bool(s) }

// MarkerFile treats the existence of a file as the metered signal. Network
// managers (or an operator) touch the marker when the link is constrained and
// remove it when it is not.
type MarkerFile struct {
	path string
}

// NewMarkerFile creates a marker-file policy. An empty path means never
// constrained.
func NewMarkerFile(path string) *MarkerFile {
	return &MarkerFile{path: strings.TrimSpace(path)}
}

// Constrained reports whether the marker file currently exists.
func (m *MarkerFile) Constrained() bool {
	if m == nil || m.path == "" {
		return false
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

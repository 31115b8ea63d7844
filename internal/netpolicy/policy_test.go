package netpolicy_test

import (
	"os"
	"path/filepath"
	"testing"

	"spool/internal/netpolicy"
)

func TestStaticPolicy(t *testing.T) {
	if netpolicy.Static(false).Constrained() {
		t.Fatal("Static(false) should not be constrained")
	}
	if !netpolicy.Static(true).Constrained() {
		t.Fatal("Static(true) should be constrained")
	}
}

func TestMarkerFileFollowsFileLifecycle(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "metered")
	policy := netpolicy.NewMarkerFile(marker)

	if policy.Constrained() {
		t.Fatal("missing marker should mean unconstrained")
	}
	if err := os.WriteFile(marker, nil, 0o644); err != nil {
		t.Fatalf("touch marker: %v", err)
	}
	if !policy.Constrained() {
		t.Fatal("present marker should mean constrained")
	}
	if err := os.Remove(marker); err != nil {
		t.Fatalf("remove marker: %v", err)
	}
	if policy.Constrained() {
		t.Fatal("removed marker should mean unconstrained again")
	}
}

func TestMarkerFileIgnoresDirectories(t *testing.T) {
	dir := t.TempDir()
	if netpolicy.NewMarkerFile(dir).Constrained() {
		t.Fatal("directory at marker path should not count")
	}
}

func TestMarkerFileEmptyPathNeverConstrained(t *testing.T) {
	if netpolicy.NewMarkerFile("  ").Constrained() {
		t.Fatal("empty path should never be constrained")
	}
}

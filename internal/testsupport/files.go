package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// WriteFile creates path holding size bytes of filler so transfer tests can
// stand in media-sized fixtures without shipping real payloads. A size <= 0
// still writes one byte so the file registers as non-empty.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("create directory for %s: %v", path, err)
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	const chunkSize = 64 * 1024
	pattern := []byte("spool-fixture ")
	chunk := bytes.Repeat(pattern, chunkSize/len(pattern)+1)[:chunkSize]

	for remaining := size; remaining > 0; {
		n := int64(len(chunk))
		if remaining < n {
			n = remaining
		}
		if _, err := f.Write(chunk[:n]); err != nil {
			t.Fatalf("fill %s: %v", path, err)
		}
		remaining -= n
	}
}

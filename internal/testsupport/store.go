package testsupport

import (
	"testing"

	"spool/internal/config"
	"spool/internal/transfer"
)

// MustOpenStore opens a transfer.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *transfer.Store {
	t.Helper()

	store, err := transfer.OpenStore(cfg.DatabasePath())
	if err != nil {
		t.Fatalf("transfer.OpenStore: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

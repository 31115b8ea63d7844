package counts_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"spool/internal/counts"
	"spool/internal/identity"
)

func mustKey(t *testing.T, server, rating string) identity.GlobalKey {
	t.Helper()
	key, err := identity.MakeKey(server, rating)
	if err != nil {
		t.Fatalf("MakeKey: %v", err)
	}
	return key
}

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "episode_counts.json")
	store := counts.NewStore(path, nil)
	key := mustKey(t, "srv1", "100")

	if _, found := store.Get(key); found {
		t.Fatal("expected empty store")
	}
	if err := store.Set(key, 10); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if total, found := store.Get(key); !found || total != 10 {
		t.Fatalf("Get = %d, %v", total, found)
	}

	// Reload from disk.
	reloaded := counts.NewStore(path, nil)
	if total, found := reloaded.Get(key); !found || total != 10 {
		t.Fatalf("reloaded Get = %d, %v", total, found)
	}
}

func TestStorePersistsNamespacedKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "episode_counts.json")
	store := counts.NewStore(path, nil)
	if err := store.Set(mustKey(t, "srv1", "100"), 24); err != nil {
		t.Fatalf("Set: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read store file: %v", err)
	}
	var raw map[string]int
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("parse store file: %v", err)
	}
	if raw["episode_count_srv1:100"] != 24 {
		t.Fatalf("unexpected persisted entries: %v", raw)
	}
}

func TestStoreRemoveIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "episode_counts.json")
	store := counts.NewStore(path, nil)
	key := mustKey(t, "srv1", "100")

	if err := store.Set(key, 5); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Remove(key); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, found := store.Get(key); found {
		t.Fatal("expected entry removed")
	}
	if err := store.Remove(key); err != nil {
		t.Fatalf("second Remove should be a no-op: %v", err)
	}
}

func TestStoreRejectsNonPositiveTotals(t *testing.T) {
	store := counts.NewStore(filepath.Join(t.TempDir(), "counts.json"), nil)
	key := mustKey(t, "srv1", "100")
	if err := store.Set(key, 0); err == nil {
		t.Fatal("expected error for zero total")
	}
	if err := store.Set(key, -3); err == nil {
		t.Fatal("expected error for negative total")
	}
}

func TestStoreWithoutPathIsNoop(t *testing.T) {
	store := counts.NewStore("", nil)
	key := mustKey(t, "srv1", "100")
	if err := store.Set(key, 8); err != nil {
		t.Fatalf("Set on pathless store: %v", err)
	}
	if _, found := store.Get(key); found {
		t.Fatal("pathless store should never report entries")
	}
	if store.Len() != 0 {
		t.Fatalf("Len = %d", store.Len())
	}
}

func TestStoreSkipsCorruptEntriesOnLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "episode_counts.json")
	body := `{"episode_count_srv1:100": 12, "episode_count_": 4, "unrelated": 9, "episode_count_srv1:200": -1}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	store := counts.NewStore(path, nil)
	if store.Len() != 1 {
		t.Fatalf("Len = %d, want 1", store.Len())
	}
	if total, found := store.Get(mustKey(t, "srv1", "100")); !found || total != 12 {
		t.Fatalf("Get = %d, %v", total, found)
	}
}

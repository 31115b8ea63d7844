package counts

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"spool/internal/identity"
	"spool/internal/logging"
)

// keyPrefix namespaces persisted entries so the file stays recognizable when
// inspected by hand and other state never collides with episode totals.
const keyPrefix = "episode_count_"

// Store persists authoritative episode totals for container items, keyed by
// the item's global key. Totals survive restarts so aggregate progress can be
// computed before any child metadata has been re-fetched.
type Store struct {
	path    string
	logger  *slog.Logger
	mu      sync.RWMutex
	entries map[identity.GlobalKey]int
}

// NewStore creates a count store backed by the given file. If path is empty
// the store is non-functional and all operations become no-ops. The file is
// created lazily on first Set call.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "counts")

	s := &Store{
		path:    path,
		logger:  logger,
		entries: make(map[identity.GlobalKey]int),
	}

	if path == "" {
		return s
	}

	if err := s.load(); err != nil {
		logger.Warn("failed to load episode count store",
			logging.String(logging.FieldEventType, "counts_load_failed"),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "store will start empty"),
			logging.String(logging.FieldImpact, "aggregate totals fall back to observed children until counts are re-fetched"))
	}

	return s
}

// Get returns the stored total for the given key if present and positive.
func (s *Store) Get(key identity.GlobalKey) (int, bool) {
	if !key.Valid() || s.path == "" {
		return 0, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	total, found := s.entries[key]
	return total, found
}

// Set records the total for the given key and persists to disk. Non-positive
// totals are rejected; a container with no usable count simply has no entry.
func (s *Store) Set(key identity.GlobalKey, total int) error {
	if !key.Valid() {
		return errors.New("global key cannot be empty")
	}
	if total <= 0 {
		return fmt.Errorf("total for %q must be positive, got %d", key, total)
	}
	if s.path == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = total

	if err := s.save(); err != nil {
		return fmt.Errorf("persist counts: %w", err)
	}

	s.logger.Debug("stored episode count",
		logging.String(logging.FieldItemKey, key.String()),
		logging.Int("total", total))

	return nil
}

// Remove deletes the entry for the given key and persists the change. Removing
// an absent key is not an error.
func (s *Store) Remove(key identity.GlobalKey) error {
	if !key.Valid() {
		return errors.New("global key cannot be empty")
	}
	if s.path == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; !exists {
		return nil
	}

	delete(s.entries, key)

	if err := s.save(); err != nil {
		return fmt.Errorf("persist counts: %w", err)
	}

	s.logger.Debug("removed episode count", logging.String(logging.FieldItemKey, key.String()))
	return nil
}

// Len returns the number of stored totals.
func (s *Store) Len() int {
	if s.path == "" {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries)
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read counts file: %w", err)
	}

	if len(data) == 0 {
		return nil
	}

	var raw map[string]int
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse counts file: %w", err)
	}

	s.entries = make(map[identity.GlobalKey]int, len(raw))
	for name, total := range raw {
		keyText, ok := strings.CutPrefix(name, keyPrefix)
		if !ok || total <= 0 {
			continue
		}
		key := identity.GlobalKey(keyText)
		if key.Valid() {
			s.entries[key] = total
		}
	}

	s.logger.Debug("loaded episode count store",
		logging.Int("entry_count", len(s.entries)),
		logging.String("path", s.path))

	return nil
}

// save writes the store to disk atomically.
func (s *Store) save() error {
	raw := make(map[string]int, len(s.entries))
	for key, total := range s.entries {
		raw[keyPrefix+key.String()] = total
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal counts: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create counts directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write counts file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace counts file: %w", err)
	}
	return nil
}

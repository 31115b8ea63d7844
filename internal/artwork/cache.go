// Package artwork caches item thumbnails on disk so status UIs keep their
// posters when the media server is unreachable. Everything here is
// best-effort: a failed fetch never fails the download that triggered it.
package artwork

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"spool/internal/catalog"
	"spool/internal/identity"
	"spool/internal/logging"
	"spool/internal/media"
)

// HTTPDoer abstracts http.Client.Do for testing.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Cache stores one thumbnail file per item under the cache directory.
type Cache struct {
	dir      string
	resolver catalog.ResourceResolver
	httpc    HTTPDoer
	logger   *slog.Logger
}

// NewCache creates an artwork cache rooted at dir. An empty dir disables the
// cache entirely.
func NewCache(dir string, resolver catalog.ResourceResolver, httpc HTTPDoer, logger *slog.Logger) *Cache {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Cache{
		dir:      dir,
		resolver: resolver,
		httpc:    httpc,
		logger:   logging.NewComponentLogger(logger, "artwork"),
	}
}

// Path returns the on-disk location for an item's thumbnail and whether it is
// already cached.
func (c *Cache) Path(key identity.GlobalKey) (string, bool) {
	if c == nil || c.dir == "" || !key.Valid() {
		return "", false
	}
	path := filepath.Join(c.dir, fileName(key))
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Size() == 0 {
		return path, false
	}
	return path, true
}

// Ensure fetches the item's thumbnail into the cache if it is not already
// present. Failures are logged at debug and swallowed.
func (c *Cache) Ensure(ctx context.Context, item media.Item) {
	if c == nil || c.dir == "" || c.resolver == nil {
		return
	}
	if strings.TrimSpace(item.Thumb) == "" {
		return
	}
	path, cached := c.Path(item.Key)
	if cached || path == "" {
		return
	}

	url := c.resolver.ResourceURL(item.Thumb)
	if url == "" {
		return
	}

	if err := c.fetch(ctx, url, path); err != nil {
		c.logger.Debug("thumbnail fetch failed",
			logging.String(logging.FieldItemKey, item.Key.String()),
			logging.Error(err))
	}
}

func (c *Cache) fetch(ctx context.Context, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &statusError{code: resp.StatusCode}
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(file, resp.Body); err != nil {
		file.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Remove deletes the cached thumbnail for an item, if any.
func (c *Cache) Remove(key identity.GlobalKey) {
	if c == nil || c.dir == "" || !key.Valid() {
		return
	}
	_ = os.Remove(filepath.Join(c.dir, fileName(key)))
}

func fileName(key identity.GlobalKey) string {
	return strings.ReplaceAll(key.String(), identity.Separator, "_") + ".jpg"
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return http.StatusText(e.code)
}

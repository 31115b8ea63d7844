package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"spool/internal/logging"
	"spool/internal/services"
)

// ProgressFunc receives byte-level progress while a transfer runs. total is 0
// when the server did not report a length.
type ProgressFunc func(downloaded, total int64, label string)

// Fetcher moves one source URL to one target path.
type Fetcher interface {
	Fetch(ctx context.Context, sourceURL, targetPath string, progress ProgressFunc) error
}

// HTTPDoer abstracts http.Client.Do for testing.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// HTTPFetcher downloads over HTTP with byte-range resume. Partial data is
// written to "<target>.part" and renamed into place on completion so the
// target path never holds a truncated file.
type HTTPFetcher struct {
	httpc   HTTPDoer
	logger  *slog.Logger
	sampler *logging.ProgressSampler
}

// NewHTTPFetcher constructs a fetcher. bucketPercent controls progress log
// granularity.
func NewHTTPFetcher(httpc HTTPDoer, logger *slog.Logger, bucketPercent float64) *HTTPFetcher {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &HTTPFetcher{
		httpc:   httpc,
		logger:  logging.NewComponentLogger(logger, "fetcher"),
		sampler: logging.NewProgressSampler(bucketPercent),
	}
}

// Fetch streams sourceURL into targetPath, resuming from an existing partial
// file when the server honors range requests.
func (f *HTTPFetcher) Fetch(ctx context.Context, sourceURL, targetPath string, progress ProgressFunc) error {
	if sourceURL == "" {
		return services.Wrap(services.ErrValidation, "fetcher", "fetch", "source url is empty", nil)
	}
	if targetPath == "" {
		return services.Wrap(services.ErrValidation, "fetcher", "fetch", "target path is empty", nil)
	}

	partPath := targetPath + ".part"
	offset := partSize(partPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return services.Wrap(services.ErrValidation, "fetcher", "fetch", "build request", err)
	}
	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	}

	resp, err := f.httpc.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "fetcher", "fetch", "request failed", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// Server ignored the range request; restart from scratch.
		offset = 0
	case http.StatusPartialContent:
	case http.StatusNotFound:
		return services.Wrap(services.ErrNotFound, "fetcher", "fetch", fmt.Sprintf("source returned %d", resp.StatusCode), nil)
	default:
		if resp.StatusCode >= 400 {
			return services.Wrap(services.ErrTransient, "fetcher", "fetch", fmt.Sprintf("source returned %d", resp.StatusCode), nil)
		}
	}

	total := offset
	if resp.ContentLength > 0 {
		total = offset + resp.ContentLength
	}

	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "fetcher", "fetch", "create download directory", err)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if offset == 0 {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	file, err := os.OpenFile(partPath, flags, 0o644)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "fetcher", "fetch", "open partial file", err)
	}

	label := filepath.Base(targetPath)
	downloaded := offset
	if err := f.copyWithProgress(ctx, file, resp.Body, &downloaded, total, label, progress); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return services.Wrap(services.ErrTransient, "fetcher", "fetch", "close partial file", err)
	}

	if err := os.Rename(partPath, targetPath); err != nil {
		return services.Wrap(services.ErrTransient, "fetcher", "fetch", "finalize download", err)
	}

	f.sampler.Reset()
	f.logger.Info("download finished",
		logging.String("target", targetPath),
		logging.Int64("bytes", downloaded))
	return nil
}

func (f *HTTPFetcher) copyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, downloaded *int64, total int64, label string, progress ProgressFunc) error {
	buf := make([]byte, 128*1024)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return services.Wrap(services.ErrTransient, "fetcher", "fetch", "write partial file", writeErr)
			}
			*downloaded += int64(n)
			f.report(*downloaded, total, label, progress)
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return services.Wrap(services.ErrTransient, "fetcher", "fetch", "read source", readErr)
		}
	}
}

func (f *HTTPFetcher) report(downloaded, total int64, label string, progress ProgressFunc) {
	if progress != nil {
		progress(downloaded, total, label)
	}
	percent := float64(-1)
	if total > 0 {
		percent = float64(downloaded) * 100 / float64(total)
	}
	if f.sampler.ShouldLog(percent, label) {
		f.logger.Info("download progress",
			logging.String("file", label),
			logging.Float64(logging.FieldProgressPercent, percent),
			logging.Int64("downloaded_bytes", downloaded),
			logging.Int64("total_bytes", total))
	}
}

func partSize(partPath string) int64 {
	info, err := os.Stat(partPath)
	if err != nil || info.IsDir() {
		return 0
	}
	return info.Size()
}

// Package daemonctl is the CLI side of the daemon's control API: a thin HTTP
// client over the JSON shapes in internal/api.
package daemonctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"spool/internal/api"
	"spool/internal/identity"
)

// ErrDaemonNotRunning indicates the control API is unreachable.
var ErrDaemonNotRunning = errors.New("spool daemon is not running")

// Client talks to a running spool daemon.
type Client struct {
	baseURL string
	httpc   *http.Client
}

// New constructs a client for the daemon bound at addr (host:port).
func New(addr string) *Client {
	return &Client{
		baseURL: "http://" + strings.TrimSpace(addr),
		httpc:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Status fetches daemon runtime information.
func (c *Client) Status(ctx context.Context) (*api.DaemonStatus, error) {
	var status api.DaemonStatus
	if err := c.get(ctx, "/api/status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// List fetches every projected download.
func (c *Client) List(ctx context.Context) ([]api.DownloadItem, error) {
	var resp api.DownloadListResponse
	if err := c.get(ctx, "/api/downloads", &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// Progress fetches leaf or aggregate progress for a key. The second return is
// false when the daemon has no data for it.
func (c *Client) Progress(ctx context.Context, key identity.GlobalKey) (api.DownloadItem, bool, error) {
	var item api.DownloadItem
	err := c.get(ctx, "/api/downloads/"+url.PathEscape(key.String()), &item)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return api.DownloadItem{}, false, nil
		}
		return api.DownloadItem{}, false, err
	}
	return item, true, nil
}

// Queue asks the daemon to download an item, expanding containers.
func (c *Client) Queue(ctx context.Context, key identity.GlobalKey) (int, error) {
	return c.queue(ctx, key, false)
}

// QueueMissing asks the daemon to queue a container's missing episodes.
func (c *Client) QueueMissing(ctx context.Context, key identity.GlobalKey) (int, error) {
	return c.queue(ctx, key, true)
}

func (c *Client) queue(ctx context.Context, key identity.GlobalKey, missing bool) (int, error) {
	payload, err := json.Marshal(api.QueueRequest{Key: key.String(), Missing: missing})
	if err != nil {
		return 0, err
	}
	var resp api.QueueResponse
	if err := c.do(ctx, http.MethodPost, "/api/downloads", payload, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// Pause suspends a download.
func (c *Client) Pause(ctx context.Context, key identity.GlobalKey) error {
	return c.action(ctx, key, "pause")
}

// Resume restarts a paused download.
func (c *Client) Resume(ctx context.Context, key identity.GlobalKey) error {
	return c.action(ctx, key, "resume")
}

// Retry reschedules a failed download.
func (c *Client) Retry(ctx context.Context, key identity.GlobalKey) error {
	return c.action(ctx, key, "retry")
}

// Cancel drops a download, keeping nothing.
func (c *Client) Cancel(ctx context.Context, key identity.GlobalKey) error {
	return c.action(ctx, key, "cancel")
}

// Delete removes a download and its files; containers cascade to children.
func (c *Client) Delete(ctx context.Context, key identity.GlobalKey) error {
	return c.do(ctx, http.MethodDelete, "/api/downloads/"+url.PathEscape(key.String()), nil, nil)
}

func (c *Client) action(ctx context.Context, key identity.GlobalKey, verb string) error {
	path := "/api/downloads/" + url.PathEscape(key.String()) + "/" + verb
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// APIError carries a non-2xx response from the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("daemon returned status %d", e.StatusCode)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		if isConnectionRefused(err) {
			return ErrDaemonNotRunning
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr api.ErrorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&apiErr)
		return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Error}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func isConnectionRefused(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

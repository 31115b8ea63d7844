package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime"
	"strings"

	"spool/internal/identity"
	"spool/internal/media"
	"spool/internal/services"
)

const (
	productName    = "Spool"
	productVersion = "dev"
)

// HTTPDoer abstracts http.Client.Do for testing.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client talks to a Plex-compatible media server's library API.
type Client struct {
	baseURL  string
	token    string
	serverID string
	clientID string
	httpc    HTTPDoer
}

// NewClient constructs a catalog client. serverID must match the machine
// identifier that prefixes the daemon's global keys.
func NewClient(baseURL, token, serverID, clientID string, httpc HTTPDoer) *Client {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		serverID: serverID,
		clientID: clientID,
		httpc:    httpc,
	}
}

type mediaContainerResponse struct {
	MediaContainer struct {
		Metadata []metadataEntry `json:"Metadata"`
	} `json:"MediaContainer"`
}

type metadataEntry struct {
	RatingKey            string `json:"ratingKey"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	LeafCount            int    `json:"leafCount"`
	Thumb                string `json:"thumb"`
	ParentRatingKey      string `json:"parentRatingKey"`
	GrandparentRatingKey string `json:"grandparentRatingKey"`
	Media                []struct {
		Part []struct {
			Key string `json:"key"`
		} `json:"Part"`
	} `json:"Media"`
}

// Item fetches fresh metadata for a single item.
func (c *Client) Item(ctx context.Context, key identity.GlobalKey) (media.Item, error) {
	ratingKey, err := c.ratingKeyFor(key)
	if err != nil {
		return media.Item{}, err
	}

	var resp mediaContainerResponse
	path := "/library/metadata/" + url.PathEscape(ratingKey)
	if err := c.doJSONRequest(ctx, path, "item", &resp); err != nil {
		return media.Item{}, err
	}
	if len(resp.MediaContainer.Metadata) == 0 {
		return media.Item{}, services.Wrap(services.ErrNotFound, "catalog", "item", fmt.Sprintf("server returned no metadata for %s", key), nil)
	}

	item, err := c.toItem(resp.MediaContainer.Metadata[0])
	if err != nil {
		return media.Item{}, err
	}
	return item, nil
}

// Children lists the direct children of a container.
func (c *Client) Children(ctx context.Context, key identity.GlobalKey) ([]media.Item, error) {
	ratingKey, err := c.ratingKeyFor(key)
	if err != nil {
		return nil, err
	}

	var resp mediaContainerResponse
	path := "/library/metadata/" + url.PathEscape(ratingKey) + "/children"
	if err := c.doJSONRequest(ctx, path, "children", &resp); err != nil {
		return nil, err
	}

	items := make([]media.Item, 0, len(resp.MediaContainer.Metadata))
	for _, entry := range resp.MediaContainer.Metadata {
		item, err := c.toItem(entry)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// ResourceURL turns a server-relative path into an absolute authenticated URL.
func (c *Client) ResourceURL(path string) string {
	if strings.TrimSpace(path) == "" {
		return ""
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return c.baseURL + path + separator + "X-Plex-Token=" + url.QueryEscape(c.token)
}

func (c *Client) ratingKeyFor(key identity.GlobalKey) (string, error) {
	serverID, ratingKey, ok := key.Split()
	if !ok {
		return "", services.Wrap(services.ErrValidation, "catalog", "", fmt.Sprintf("malformed key %q", key), nil)
	}
	if serverID != c.serverID {
		return "", services.Wrap(services.ErrValidation, "catalog", "", fmt.Sprintf("key %q belongs to server %q, client serves %q", key, serverID, c.serverID), nil)
	}
	return ratingKey, nil
}

func (c *Client) toItem(entry metadataEntry) (media.Item, error) {
	key, err := identity.MakeKey(c.serverID, entry.RatingKey)
	if err != nil {
		return media.Item{}, services.Wrap(services.ErrValidation, "catalog", "", "metadata entry has no rating key", err)
	}

	itemType, ok := media.ParseType(entry.Type)
	if !ok {
		return media.Item{}, services.Wrap(services.ErrValidation, "catalog", "", fmt.Sprintf("item %s has unsupported type %q", key, entry.Type), nil)
	}

	var item media.Item
	switch itemType {
	case media.TypeMovie:
		item = media.NewMovie(key, entry.Title, entry.partPath())
	case media.TypeEpisode:
		season, err := c.optionalKey(entry.ParentRatingKey)
		if err != nil {
			return media.Item{}, err
		}
		show, err := c.optionalKey(entry.GrandparentRatingKey)
		if err != nil {
			return media.Item{}, err
		}
		item = media.NewEpisode(key, entry.Title, entry.partPath(), season, show)
	case media.TypeSeason:
		show, err := c.optionalKey(entry.ParentRatingKey)
		if err != nil {
			return media.Item{}, err
		}
		item = media.NewSeason(key, entry.Title, show, entry.LeafCount)
	case media.TypeShow:
		item = media.NewShow(key, entry.Title, entry.LeafCount)
	}
	item.Thumb = entry.Thumb

	if err := item.Validate(); err != nil {
		return media.Item{}, services.Wrap(services.ErrValidation, "catalog", "", "server metadata is inconsistent", err)
	}
	return item, nil
}

func (c *Client) optionalKey(ratingKey string) (*identity.GlobalKey, error) {
	if strings.TrimSpace(ratingKey) == "" {
		return nil, nil
	}
	key, err := identity.MakeKey(c.serverID, ratingKey)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "catalog", "", "metadata entry has malformed parent reference", err)
	}
	return &key, nil
}

func (e metadataEntry) partPath() string {
	for _, m := range e.Media {
		for _, part := range m.Part {
			if strings.TrimSpace(part.Key) != "" {
				return part.Key
			}
		}
	}
	return ""
}

func (c *Client) doJSONRequest(ctx context.Context, path, operation string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return services.Wrap(services.ErrValidation, "catalog", operation, "build request", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Plex-Token", c.token)
	req.Header.Set("X-Plex-Client-Identifier", c.clientID)
	req.Header.Set("X-Plex-Product", productName)
	req.Header.Set("X-Plex-Version", productVersion)
	req.Header.Set("X-Plex-Platform", runtime.GOOS)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "catalog", operation, "server request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return services.Wrap(services.ErrNotFound, "catalog", operation, fmt.Sprintf("server returned 404 for %s", path), nil)
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return services.Wrap(services.ErrTransient, "catalog", operation, fmt.Sprintf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return services.Wrap(services.ErrTransient, "catalog", operation, "decode response", err)
	}
	return nil
}

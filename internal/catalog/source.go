package catalog

import (
	"context"

	"spool/internal/identity"
	"spool/internal/media"
)

// MetadataSource supplies item metadata and container listings from the media
// server. The orchestrator depends on this interface so tests can substitute
// in-memory fixtures.
type MetadataSource interface {
	// Item fetches fresh metadata for a single item.
	Item(ctx context.Context, key identity.GlobalKey) (media.Item, error)
	// Children lists the direct children of a container: seasons of a show,
	// episodes of a season.
	Children(ctx context.Context, key identity.GlobalKey) ([]media.Item, error)
}

// ResourceResolver turns server-relative paths (media parts, artwork thumbs)
// into absolute authenticated URLs.
type ResourceResolver interface {
	ResourceURL(path string) string
}

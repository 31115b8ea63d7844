package media

import (
	"encoding/json"
	"fmt"
	"strings"

	"spool/internal/identity"
)

// Type classifies a catalog item.
type Type string

const (
	TypeMovie   Type = "movie"
	TypeEpisode Type = "episode"
	TypeSeason  Type = "season"
	TypeShow    Type = "show"
)

var typeSet = map[Type]struct{}{
	TypeMovie:   {},
	TypeEpisode: {},
	TypeSeason:  {},
	TypeShow:    {},
}

// ParseType converts a string into a known Type.
func ParseType(value string) (Type, bool) {
	normalized := Type(strings.ToLower(strings.TrimSpace(value)))
	_, ok := typeSet[normalized]
	return normalized, ok
}

// Item is the metadata projection of a catalog item. The Type tag determines
// which optional fields are meaningful: Parent/Grandparent are set only for
// episodes (season and show) and seasons (show); LeafCount only for containers;
// SourcePath only for leaves.
type Item struct {
	Key         identity.GlobalKey  `json:"key"`
	Type        Type                `json:"type"`
	Title       string              `json:"title"`
	Parent      *identity.GlobalKey `json:"parent,omitempty"`
	Grandparent *identity.GlobalKey `json:"grandparent,omitempty"`
	LeafCount   int                 `json:"leaf_count,omitempty"`
	Thumb       string              `json:"thumb,omitempty"`
	SourcePath  string              `json:"source_path,omitempty"`
}

// NewMovie constructs a movie item.
func NewMovie(key identity.GlobalKey, title, sourcePath string) Item {
	return Item{Key: key, Type: TypeMovie, Title: NormalizeTitle(title), SourcePath: sourcePath}
}

// NewEpisode constructs an episode item with its season and show references.
func NewEpisode(key identity.GlobalKey, title, sourcePath string, season, show *identity.GlobalKey) Item {
	return Item{
		Key:         key,
		Type:        TypeEpisode,
		Title:       NormalizeTitle(title),
		SourcePath:  sourcePath,
		Parent:      season,
		Grandparent: show,
	}
}

// NewSeason constructs a season item. leafCount of 0 means unknown.
func NewSeason(key identity.GlobalKey, title string, show *identity.GlobalKey, leafCount int) Item {
	return Item{Key: key, Type: TypeSeason, Title: NormalizeTitle(title), Parent: show, LeafCount: leafCount}
}

// NewShow constructs a show item. leafCount of 0 means unknown.
func NewShow(key identity.GlobalKey, title string, leafCount int) Item {
	return Item{Key: key, Type: TypeShow, Title: NormalizeTitle(title), LeafCount: leafCount}
}

// IsLeaf reports whether the item is directly downloadable.
func (i Item) IsLeaf() bool {
	return i.Type == TypeMovie || i.Type == TypeEpisode
}

// IsContainer reports whether the item's progress is synthesized from children.
func (i Item) IsContainer() bool {
	return i.Type == TypeSeason || i.Type == TypeShow
}

// Validate enforces per-type field rules.
func (i Item) Validate() error {
	if !i.Key.Valid() {
		return fmt.Errorf("media item: invalid key %q", i.Key)
	}
	if _, ok := typeSet[i.Type]; !ok {
		return fmt.Errorf("media item %s: unknown type %q", i.Key, i.Type)
	}
	switch i.Type {
	case TypeMovie, TypeShow:
		if i.Parent != nil || i.Grandparent != nil {
			return fmt.Errorf("media item %s: %s must not reference a parent", i.Key, i.Type)
		}
	case TypeSeason:
		if i.Grandparent != nil {
			return fmt.Errorf("media item %s: season must not reference a grandparent", i.Key)
		}
	case TypeEpisode:
	}
	if i.IsLeaf() && i.LeafCount != 0 {
		return fmt.Errorf("media item %s: leaf count is container-only", i.Key)
	}
	if i.LeafCount < 0 {
		return fmt.Errorf("media item %s: negative leaf count", i.Key)
	}
	return nil
}

// ToJSON serializes the item for embedding in a transfer record.
func (i Item) ToJSON() string {
	data, err := json.Marshal(i)
	if err != nil {
		return ""
	}
	return string(data)
}

// FromJSON rebuilds an item from a stored snapshot. Returns false when the
// payload is empty or does not parse into a valid item.
func FromJSON(data string) (Item, bool) {
	if strings.TrimSpace(data) == "" {
		return Item{}, false
	}
	var item Item
	if err := json.Unmarshal([]byte(data), &item); err != nil {
		return Item{}, false
	}
	if item.Validate() != nil {
		return Item{}, false
	}
	return item, true
}

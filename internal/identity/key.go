package identity

import (
	"fmt"
	"strings"
)

// Separator joins the server identifier and rating key inside a GlobalKey.
const Separator = ":"

// GlobalKey identifies a media item across every connected server as
// "{serverID}:{ratingKey}". The server identifier must never contain the
// separator; the rating key may (only the first separator splits).
type GlobalKey string

// MakeKey builds a GlobalKey from its parts, validating the server identifier.
func MakeKey(serverID, ratingKey string) (GlobalKey, error) {
	serverID = strings.TrimSpace(serverID)
	ratingKey = strings.TrimSpace(ratingKey)
	if serverID == "" {
		return "", fmt.Errorf("global key: server id is empty")
	}
	if ratingKey == "" {
		return "", fmt.Errorf("global key: rating key is empty")
	}
	if strings.Contains(serverID, Separator) {
		return "", fmt.Errorf("global key: server id %q contains separator", serverID)
	}
	return GlobalKey(serverID + Separator + ratingKey), nil
}

// Split returns the server identifier and rating key halves.
func (k GlobalKey) Split() (serverID, ratingKey string, ok bool) {
	idx := strings.Index(string(k), Separator)
	if idx <= 0 || idx == len(k)-1 {
		return "", "", false
	}
	return string(k[:idx]), string(k[idx+1:]), true
}

// ServerID returns the server half of the key, or "" when malformed.
func (k GlobalKey) ServerID() string {
	serverID, _, _ := k.Split()
	return serverID
}

// RatingKey returns the item half of the key, or "" when malformed.
func (k GlobalKey) RatingKey() string {
	_, ratingKey, _ := k.Split()
	return ratingKey
}

// Valid reports whether the key parses into two non-empty halves.
func (k GlobalKey) Valid() bool {
	_, _, ok := k.Split()
	return ok
}

func (k GlobalKey) String() string { return string(k) }

package document

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/pingcap/errors"
)

// Item is one version of a resource as stored. Several versions of the same ID coexist as separate rows keyed by
// (ID, VersionID).
type Item struct {
	ID             string          `json:"id"`
	VersionID      string          `json:"vid"`
	ResourceType   string          `json:"resourceType"`
	DocumentStatus Status          `json:"documentStatus"`
	Resource       json.RawMessage `json:"resource,omitempty"`
	LastUpdated    time.Time       `json:"lastUpdated"`
}

// Key identifies a single version row.
type Key struct {
	ID        string
	VersionID string
}

func (it Item) Key() Key {
	return Key{ID: it.ID, VersionID: it.VersionID}
}

func (k Key) String() string {
	return fmt.Sprintf("%s@%s", k.ID, k.VersionID)
}

// Ref is the resourceType/id form used in user facing messages.
func Ref(resourceType, id string) string {
	return resourceType + "/" + id
}

// ToBytes serializes the item for storage.
func (it *Item) ToBytes() ([]byte, error) {
	buf, err := json.Marshal(it)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return buf, nil
}

// ParseItem deserializes a stored item. It returns (nil, nil) for an empty value.
func ParseItem(value []byte) (*Item, error) {
	if len(value) == 0 {
		return nil, nil
	}
	item := new(Item)
	if err := json.Unmarshal(value, item); err != nil {
		return nil, errors.Annotate(err, "document/item/ParseItem")
	}
	return item, nil
}

// ParseVersion converts a version id into its integer form. Version ids start at "1".
func ParseVersion(versionID string) (uint64, error) {
	v, err := strconv.ParseUint(versionID, 10, 64)
	if err != nil || v == 0 {
		return 0, errors.Errorf("invalid version id %q", versionID)
	}
	return v, nil
}

// NextVersion returns the version id following versionID.
func NextVersion(versionID string) (string, error) {
	v, err := ParseVersion(versionID)
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(v+1, 10), nil
}

// FormatTime renders a timestamp the way response envelopes carry it (ISO8601, millisecond precision, UTC).
func FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

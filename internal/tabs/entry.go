package tabs

import (
	"encoding/json"
	"fmt"

	"github.com/artpar/cookielens/internal/cookies"
)

// Entry is the persisted state of one browser tab.
type Entry struct {
	Cookies      map[string]cookies.Record `json:"cookies"`
	URL          string                    `json:"url"`
	FocusedAt    *int64                    `json:"focusedAt,omitempty"`
	DevToolsOpen bool                      `json:"devToolsOpenState"`
	PopupOpen    bool                      `json:"popupOpenState"`
}

// NewEntry returns an empty entry for a tab showing url.
func NewEntry(url string) Entry {
	return Entry{
		Cookies: make(map[string]cookies.Record),
		URL:     url,
	}
}

// Clone returns a copy whose cookie map can be modified independently.
func (e Entry) Clone() Entry {
	out := e
	out.Cookies = make(map[string]cookies.Record, len(e.Cookies))
	for k, v := range e.Cookies {
		out.Cookies[k] = v
	}
	if e.FocusedAt != nil {
		at := *e.FocusedAt
		out.FocusedAt = &at
	}
	return out
}

// Encode serializes an entry for storage.
func Encode(e Entry) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tab entry: %w", err)
	}
	return data, nil
}

// Decode deserializes a stored entry.
func Decode(data []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, fmt.Errorf("failed to decode tab entry: %w", err)
	}
	return e, nil
}

// ItemSize is the number of bytes an item occupies against the quota.
func ItemSize(key string, value []byte) int64 {
	if len(value) == 0 {
		return 0
	}
	return int64(len(key) + len(value))
}

package broadcast

import "strconv"

// Message types understood by open panels.
const (
	TypeNewCookieData = "NEW_COOKIE_DATA"
	TypeBadge         = "BADGE"
)

// Message is one notification for the panels watching a tab. Payload is
// always a string: JSON-encoded cookie data, or a decimal badge count.
type Message struct {
	Type    string `json:"type"`
	TabID   string `json:"tabId"`
	Payload string `json:"payload"`
}

// NewCookieData wraps a tab's encoded cookie map.
func NewCookieData(tabID string, payload []byte) Message {
	return Message{Type: TypeNewCookieData, TabID: tabID, Payload: string(payload)}
}

// Badge carries the cookie count shown on the toolbar badge.
func Badge(tabID string, count int) Message {
	return Message{Type: TypeBadge, TabID: tabID, Payload: strconv.Itoa(count)}
}

// Package cdp defines the subset of Chrome DevTools Protocol events consumed by
// the cookie pipeline, plus the tab lifecycle pseudo-events emitted by capture
// sources. Field names follow the protocol's JSON wire format.
package cdp

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Protocol event methods.
const (
	MethodRequestWillBeSent          = "Network.requestWillBeSent"
	MethodRequestWillBeSentExtraInfo = "Network.requestWillBeSentExtraInfo"
	MethodResponseReceived           = "Network.responseReceived"
	MethodResponseReceivedExtraInfo  = "Network.responseReceivedExtraInfo"
	MethodFrameAttached              = "Page.frameAttached"
	MethodFrameNavigated             = "Page.frameNavigated"
	MethodIssueAdded                 = "Audits.issueAdded"
)

// Pseudo-events for state the protocol does not carry per page.
const (
	MethodTabCreated    = "Tab.created"
	MethodTabActivated  = "Tab.activated"
	MethodTabRemoved    = "Tab.removed"
	MethodTabPanelState = "Tab.panelState"
	MethodTabMainFrame  = "Tab.mainFrame"
	MethodScriptCookies = "Cookie.script"
)

// Event is a single protocol or pseudo event attributed to a tab.
type Event struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	TabID  string          `json:"tabId,omitempty"`
}

// NewEvent marshals params into an Event.
func NewEvent(tabID, method string, params any) (Event, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s params: %w", method, err)
	}
	return Event{Method: method, Params: raw, TabID: tabID}, nil
}

// Decode unmarshals the event params into v.
func (e Event) Decode(v any) error {
	if len(e.Params) == 0 {
		return fmt.Errorf("%s: empty params", e.Method)
	}
	if err := json.Unmarshal(e.Params, v); err != nil {
		return fmt.Errorf("%s: %w", e.Method, err)
	}
	return nil
}

// Headers is a protocol header map. Values are usually strings but are kept
// loose because some producers emit arrays for repeated headers.
type Headers map[string]any

// Get returns the header value for name, matched case-insensitively.
// Multi-valued headers are joined with newlines, the protocol's own convention
// for Set-Cookie.
func (h Headers) Get(name string) string {
	for k, v := range h {
		if !strings.EqualFold(k, name) {
			continue
		}
		switch val := v.(type) {
		case string:
			return val
		case []any:
			parts := make([]string, 0, len(val))
			for _, p := range val {
				if s, ok := p.(string); ok {
					parts = append(parts, s)
				}
			}
			return strings.Join(parts, "\n")
		}
	}
	return ""
}

// Cookie is the protocol's Network.Cookie object.
type Cookie struct {
	Name         string          `json:"name"`
	Value        string          `json:"value"`
	Domain       string          `json:"domain"`
	Path         string          `json:"path"`
	Expires      float64         `json:"expires"`
	Size         int             `json:"size,omitempty"`
	HTTPOnly     bool            `json:"httpOnly"`
	Secure       bool            `json:"secure"`
	Session      bool            `json:"session"`
	SameSite     string          `json:"sameSite,omitempty"`
	Priority     string          `json:"priority,omitempty"`
	PartitionKey json.RawMessage `json:"partitionKey,omitempty"`
}

// PartitionSite returns the partition key's top-level site. Older protocol
// versions send a plain string, newer ones an object.
func (c Cookie) PartitionSite() string {
	if len(c.PartitionKey) == 0 || string(c.PartitionKey) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(c.PartitionKey, &s); err == nil {
		return s
	}
	var obj struct {
		TopLevelSite string `json:"topLevelSite"`
	}
	if err := json.Unmarshal(c.PartitionKey, &obj); err == nil {
		return obj.TopLevelSite
	}
	return ""
}

// Request is the subset of Network.Request used here.
type Request struct {
	URL    string `json:"url"`
	Method string `json:"method,omitempty"`
}

// Response is the subset of Network.Response used here.
type Response struct {
	URL     string  `json:"url"`
	Status  int     `json:"status,omitempty"`
	Headers Headers `json:"headers,omitempty"`
}

// RequestWillBeSent is Network.requestWillBeSent.
type RequestWillBeSent struct {
	RequestID        string    `json:"requestId"`
	FrameID          string    `json:"frameId,omitempty"`
	DocumentURL      string    `json:"documentURL,omitempty"`
	Request          Request   `json:"request"`
	Type             string    `json:"type,omitempty"`
	RedirectResponse *Response `json:"redirectResponse,omitempty"`
}

// ResourceTypeDocument is the resource type of page and iframe documents.
const ResourceTypeDocument = "Document"

// StartsNavigation reports whether the request is the first hop of a document
// load.
func (e RequestWillBeSent) StartsNavigation() bool {
	return e.Type == ResourceTypeDocument && e.RedirectResponse == nil
}

// ResponseReceived is Network.responseReceived.
type ResponseReceived struct {
	RequestID string   `json:"requestId"`
	FrameID   string   `json:"frameId,omitempty"`
	Type      string   `json:"type,omitempty"`
	Response  Response `json:"response"`
}

// AssociatedCookie is a cookie attached to an outgoing request.
type AssociatedCookie struct {
	Cookie          Cookie   `json:"cookie"`
	BlockedReasons  []string `json:"blockedReasons"`
	ExemptionReason string   `json:"exemptionReason,omitempty"`
}

// RequestWillBeSentExtraInfo is Network.requestWillBeSentExtraInfo.
type RequestWillBeSentExtraInfo struct {
	RequestID         string             `json:"requestId"`
	AssociatedCookies []AssociatedCookie `json:"associatedCookies"`
	Headers           Headers            `json:"headers,omitempty"`
}

// BlockedSetCookie is a Set-Cookie line the browser refused to store.
type BlockedSetCookie struct {
	BlockedReasons []string `json:"blockedReasons"`
	CookieLine     string   `json:"cookieLine"`
	Cookie         *Cookie  `json:"cookie,omitempty"`
}

// ExemptedSetCookie is a Set-Cookie line stored only because of an exemption.
type ExemptedSetCookie struct {
	ExemptionReason string `json:"exemptionReason"`
	CookieLine      string `json:"cookieLine"`
	Cookie          Cookie `json:"cookie"`
}

// ResponseReceivedExtraInfo is Network.responseReceivedExtraInfo.
type ResponseReceivedExtraInfo struct {
	RequestID          string              `json:"requestId"`
	BlockedCookies     []BlockedSetCookie  `json:"blockedCookies"`
	ExemptedCookies    []ExemptedSetCookie `json:"exemptedCookies,omitempty"`
	Headers            Headers             `json:"headers,omitempty"`
	HeadersText        string              `json:"headersText,omitempty"`
	StatusCode         int                 `json:"statusCode,omitempty"`
	CookiePartitionKey json.RawMessage     `json:"cookiePartitionKey,omitempty"`
}

// SetCookieLines returns the raw Set-Cookie lines carried by the event.
func (e ResponseReceivedExtraInfo) SetCookieLines() []string {
	v := e.Headers.Get("Set-Cookie")
	if v == "" {
		return nil
	}
	var lines []string
	for _, l := range strings.Split(v, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// FrameAttached is Page.frameAttached.
type FrameAttached struct {
	FrameID       string `json:"frameId"`
	ParentFrameID string `json:"parentFrameId,omitempty"`
}

// Frame is the subset of Page.Frame used here.
type Frame struct {
	ID       string `json:"id"`
	ParentID string `json:"parentId,omitempty"`
	URL      string `json:"url"`
}

// FrameNavigated is Page.frameNavigated.
type FrameNavigated struct {
	Frame Frame  `json:"frame"`
	Type  string `json:"type,omitempty"`
}

// IsTopLevel reports whether the navigation replaced the page itself.
func (e FrameNavigated) IsTopLevel() bool {
	return e.Frame.ParentID == ""
}

// AffectedCookie identifies a cookie referenced by an audit issue.
type AffectedCookie struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Domain string `json:"domain"`
}

// AffectedRequest identifies a request referenced by an audit issue.
type AffectedRequest struct {
	RequestID string `json:"requestId"`
	URL       string `json:"url,omitempty"`
}

// CookieIssueDetails is Audits.CookieIssueDetails.
type CookieIssueDetails struct {
	Cookie                 *AffectedCookie  `json:"cookie,omitempty"`
	RawCookieLine          string           `json:"rawCookieLine,omitempty"`
	CookieWarningReasons   []string         `json:"cookieWarningReasons"`
	CookieExclusionReasons []string         `json:"cookieExclusionReasons"`
	Operation              string           `json:"operation,omitempty"`
	SiteForCookies         string           `json:"siteForCookies,omitempty"`
	CookieURL              string           `json:"cookieUrl,omitempty"`
	Request                *AffectedRequest `json:"request,omitempty"`
}

// IssueAdded is Audits.issueAdded.
type IssueAdded struct {
	Issue struct {
		Code    string `json:"code"`
		Details struct {
			CookieIssueDetails *CookieIssueDetails `json:"cookieIssueDetails,omitempty"`
		} `json:"details"`
	} `json:"issue"`
}

// Cookie issue codes carried by Audits.issueAdded.
const (
	IssueCodeCookie = "CookieIssue"
)

// TabCreated is emitted when a tab (page target) appears.
type TabCreated struct {
	URL string `json:"url,omitempty"`
}

// TabActivated is emitted when a tab becomes the focused tab.
type TabActivated struct {
	At int64 `json:"at"`
}

// TabPanelState is emitted when the devtools panel or popup opens or closes.
type TabPanelState struct {
	DevToolsOpen bool `json:"devToolsOpenState"`
	PopupOpen    bool `json:"popupOpenState"`
}

// TabMainFrame carries the tab's top-level target id once navigation settles.
type TabMainFrame struct {
	TargetID string `json:"targetId"`
}

// ScriptCookie is one item returned by the page's cookieStore.getAll().
type ScriptCookie struct {
	Name        string   `json:"name"`
	Value       string   `json:"value"`
	Domain      *string  `json:"domain"`
	Path        string   `json:"path"`
	Expires     *float64 `json:"expires"`
	Secure      bool     `json:"secure"`
	SameSite    string   `json:"sameSite"`
	Partitioned bool     `json:"partitioned"`
}

// ScriptCookies is a cookieStore snapshot taken in a frame of the tab.
type ScriptCookies struct {
	URL     string         `json:"url"`
	FrameID string         `json:"frameId,omitempty"`
	Cookies []ScriptCookie `json:"cookies"`
}

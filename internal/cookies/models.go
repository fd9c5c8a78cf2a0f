package cookies

import (
	"sort"
	"strings"
)

// SameSite is the normalized SameSite attribute.
type SameSite string

const (
	SameSiteStrict SameSite = "Strict"
	SameSiteLax    SameSite = "Lax"
	SameSiteNone   SameSite = "None"
)

// ParseSameSite normalizes a SameSite value case-insensitively. Absent or
// unrecognized values yield Lax, the browser default.
func ParseSameSite(s string) SameSite {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict":
		return SameSiteStrict
	case "none":
		return SameSiteNone
	default:
		return SameSiteLax
	}
}

// Priority is the Chrome cookie priority attribute.
type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
)

// ParsePriority normalizes a priority value, defaulting to Medium.
func ParsePriority(s string) Priority {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	default:
		return PriorityMedium
	}
}

// HeaderType identifies the source that observed a cookie.
type HeaderType string

const (
	HeaderResponse   HeaderType = "response"
	HeaderRequest    HeaderType = "request"
	HeaderJavascript HeaderType = "javascript"
)

// SessionExpiry is the Expires value of cookies without an expiry.
const SessionExpiry = "Session"

// PartitionedMarker is stored as the partition key when a Set-Cookie line is
// Partitioned but the top-level site is not known.
const PartitionedMarker = "Partitioned"

// BlockedReason is a protocol reason a cookie was not stored or not sent.
type BlockedReason string

// WarningReason is a protocol cookie warning reason.
type WarningReason string

// ExemptionReason is a protocol reason a cookie was allowed despite a block.
type ExemptionReason string

// ParsedCookie is one cookie attribute set as observed on the wire or via script.
type ParsedCookie struct {
	Name         string   `json:"name"`
	Domain       string   `json:"domain"`
	Path         string   `json:"path"`
	Value        string   `json:"value"`
	SameSite     SameSite `json:"sameSite"`
	Expires      string   `json:"expires"`
	HTTPOnly     bool     `json:"httpOnly"`
	Secure       bool     `json:"secure"`
	Priority     Priority `json:"priority,omitempty"`
	PartitionKey string   `json:"partitionKey,omitempty"`
}

// Trackable reports whether the cookie has the identity fields required for
// tracking.
func (c ParsedCookie) Trackable() bool {
	return c.Name != "" && c.Domain != "" && c.Path != ""
}

// IsSession reports whether the cookie has no expiry.
func (c ParsedCookie) IsSession() bool {
	return c.Expires == "" || c.Expires == SessionExpiry
}

// withDefaults fills absent attributes with their documented defaults.
func (c ParsedCookie) withDefaults() ParsedCookie {
	if c.Path == "" {
		c.Path = "/"
	}
	if c.SameSite == "" {
		c.SameSite = SameSiteLax
	}
	if c.Expires == "" {
		c.Expires = SessionExpiry
	}
	if c.Priority == "" {
		c.Priority = PriorityMedium
	}
	return c
}

// Observation is one source's view of a cookie at a point in time.
type Observation struct {
	ParsedCookie    ParsedCookie    `json:"parsedCookie"`
	HeaderType      HeaderType      `json:"headerType"`
	URL             string          `json:"url"`
	FrameID         string          `json:"frameId,omitempty"`
	IsBlocked       bool            `json:"isBlocked"`
	BlockedReasons  []BlockedReason `json:"blockedReasons,omitempty"`
	WarningReasons  []WarningReason `json:"warningReasons,omitempty"`
	ExemptionReason ExemptionReason `json:"exemptionReason,omitempty"`
	IsFirstParty    *bool           `json:"isFirstParty,omitempty"`
	FrameIDList     []int           `json:"frameIdList,omitempty"`
}

// Key returns the observation's identity key.
func (o Observation) Key() string {
	return Key(o.ParsedCookie)
}

// Record is the reconciled, de-duplicated view of a cookie within a tab.
type Record struct {
	ParsedCookie    ParsedCookie    `json:"parsedCookie"`
	HeaderType      HeaderType      `json:"headerType"`
	URL             string          `json:"url"`
	FrameID         string          `json:"frameId,omitempty"`
	IsBlocked       bool            `json:"isBlocked"`
	BlockedReasons  []BlockedReason `json:"blockedReasons,omitempty"`
	WarningReasons  []WarningReason `json:"warningReasons,omitempty"`
	ExemptionReason ExemptionReason `json:"exemptionReason,omitempty"`
	IsFirstParty    *bool           `json:"isFirstParty,omitempty"`
	FrameIDList     []int           `json:"frameIdList,omitempty"`
}

// Key returns the record's identity key.
func (r Record) Key() string {
	return Key(r.ParsedCookie)
}

// union returns the sorted set union of a and b, or nil when both are empty.
func union[T ~string](a, b []T) []T {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[T]struct{}, len(a)+len(b))
	out := make([]T, 0, len(a)+len(b))
	for _, s := range [][]T{a, b} {
		for _, v := range s {
			if v == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func unionInts(a, b []int) []int {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[int]struct{}, len(a)+len(b))
	out := make([]int, 0, len(a)+len(b))
	for _, s := range [][]int{a, b} {
		for _, v := range s {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out
}

// BlockedReasonsOf converts protocol strings into a reason set.
func BlockedReasonsOf(reasons []string) []BlockedReason {
	out := make([]BlockedReason, 0, len(reasons))
	for _, r := range reasons {
		out = append(out, BlockedReason(r))
	}
	return union(out, nil)
}

// WarningReasonsOf converts protocol strings into a reason set.
func WarningReasonsOf(reasons []string) []WarningReason {
	out := make([]WarningReason, 0, len(reasons))
	for _, r := range reasons {
		out = append(out, WarningReason(r))
	}
	return union(out, nil)
}

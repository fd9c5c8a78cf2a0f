// Package report summarizes stored tab state for people and tools.
package report

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/artpar/cookielens/internal/cookies"
	"github.com/artpar/cookielens/internal/tabs"
)

// Party values for CookieRow.Party.
const (
	PartyFirst   = "first"
	PartyThird   = "third"
	PartyUnknown = "unknown"
)

// CookieRow is one reconciled cookie flattened for display.
type CookieRow struct {
	Key       string   `json:"key" yaml:"key"`
	Name      string   `json:"name" yaml:"name"`
	Domain    string   `json:"domain" yaml:"domain"`
	Path      string   `json:"path" yaml:"path"`
	Source    string   `json:"source" yaml:"source"`
	Party     string   `json:"party" yaml:"party"`
	Status    string   `json:"status" yaml:"status"`
	SameSite  string   `json:"sameSite" yaml:"same_site"`
	Expires   string   `json:"expires" yaml:"expires"`
	HTTPOnly  bool     `json:"httpOnly" yaml:"http_only"`
	Secure    bool     `json:"secure" yaml:"secure"`
	Partition string   `json:"partitionKey,omitempty" yaml:"partition_key,omitempty"`
	Reasons   []string `json:"reasons,omitempty" yaml:"reasons,omitempty"`
	Warnings  []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Exemption string   `json:"exemption,omitempty" yaml:"exemption,omitempty"`
	Frames    []int    `json:"frames,omitempty" yaml:"frames,omitempty"`
	URL       string   `json:"url" yaml:"url"`
}

// TabSummary aggregates one tab's cookies.
type TabSummary struct {
	TabID     string     `json:"tabId" yaml:"tab_id"`
	URL       string     `json:"url" yaml:"url"`
	FocusedAt *time.Time `json:"focusedAt,omitempty" yaml:"focused_at,omitempty"`

	Total      int `json:"total" yaml:"total"`
	FirstParty int `json:"firstParty" yaml:"first_party"`
	ThirdParty int `json:"thirdParty" yaml:"third_party"`
	Unknown    int `json:"unknownParty" yaml:"unknown_party"`
	Allowed    int `json:"allowed" yaml:"allowed"`
	Blocked    int `json:"blocked" yaml:"blocked"`
	Exempted   int `json:"exempted" yaml:"exempted"`
	Badge      int `json:"badge" yaml:"badge"`

	BySource       map[string]int `json:"bySource" yaml:"by_source"`
	BlockedReasons map[string]int `json:"blockedReasons,omitempty" yaml:"blocked_reasons,omitempty"`

	Cookies []CookieRow `json:"cookies" yaml:"cookies"`
}

// Summarize builds the summary of one tab entry. Rows are sorted by key.
func Summarize(tabID string, e tabs.Entry) TabSummary {
	s := TabSummary{
		TabID:    tabID,
		URL:      e.URL,
		Total:    len(e.Cookies),
		Badge:    cookies.CountBadge(e.Cookies),
		BySource: make(map[string]int),
		Cookies:  make([]CookieRow, 0, len(e.Cookies)),
	}
	if e.FocusedAt != nil {
		at := time.UnixMilli(*e.FocusedAt).UTC()
		s.FocusedAt = &at
	}

	for key, r := range e.Cookies {
		row := toRow(key, r, e.URL)
		s.BySource[row.Source]++

		switch row.Party {
		case PartyFirst:
			s.FirstParty++
		case PartyThird:
			s.ThirdParty++
		default:
			s.Unknown++
		}

		switch cookies.StatusOf(r) {
		case cookies.StatusBlocked:
			s.Blocked++
			for _, reason := range r.BlockedReasons {
				if s.BlockedReasons == nil {
					s.BlockedReasons = make(map[string]int)
				}
				s.BlockedReasons[string(reason)]++
			}
		case cookies.StatusExempted:
			s.Exempted++
		default:
			s.Allowed++
		}

		s.Cookies = append(s.Cookies, row)
	}

	sort.Slice(s.Cookies, func(i, j int) bool {
		return s.Cookies[i].Key < s.Cookies[j].Key
	})
	return s
}

// SummarizeAll summarizes every entry, sorted by tab id.
func SummarizeAll(entries map[string]tabs.Entry) []TabSummary {
	out := make([]TabSummary, 0, len(entries))
	for id, e := range entries {
		out = append(out, Summarize(id, e))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TabID < out[j].TabID
	})
	return out
}

func toRow(key string, r cookies.Record, pageURL string) CookieRow {
	pc := r.ParsedCookie
	row := CookieRow{
		Key:       key,
		Name:      pc.Name,
		Domain:    pc.Domain,
		Path:      pc.Path,
		Source:    string(r.HeaderType),
		Party:     PartyUnknown,
		Status:    string(cookies.StatusOf(r)),
		SameSite:  string(pc.SameSite),
		Expires:   pc.Expires,
		HTTPOnly:  pc.HTTPOnly,
		Secure:    pc.Secure,
		Partition: pc.PartitionKey,
		Exemption: string(r.ExemptionReason),
		Frames:    r.FrameIDList,
		URL:       r.URL,
	}

	fp := r.IsFirstParty
	if fp == nil {
		fp = cookies.FirstParty(pc.Domain, pageURL)
	}
	if fp != nil {
		row.Party = PartyThird
		if *fp {
			row.Party = PartyFirst
		}
	}

	for _, reason := range r.BlockedReasons {
		row.Reasons = append(row.Reasons, string(reason))
	}
	for _, w := range r.WarningReasons {
		row.Warnings = append(row.Warnings, string(w))
	}
	return row
}

// Report is a saved analysis of one or more capture sources.
type Report struct {
	ID        string       `json:"id" yaml:"id"`
	CreatedAt time.Time    `json:"createdAt" yaml:"created_at"`
	Sources   []string     `json:"sources" yaml:"sources"`
	Usage     *tabs.Usage  `json:"usage,omitempty" yaml:"usage,omitempty"`
	Tabs      []TabSummary `json:"tabs" yaml:"tabs"`
}

// New builds a report over entries.
func New(sources []string, entries map[string]tabs.Entry) *Report {
	return &Report{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UTC(),
		Sources:   sources,
		Tabs:      SummarizeAll(entries),
	}
}

// Totals adds up the per-tab counts.
func (r *Report) Totals() TabSummary {
	t := TabSummary{TabID: "total", BySource: make(map[string]int)}
	for _, s := range r.Tabs {
		t.Total += s.Total
		t.FirstParty += s.FirstParty
		t.ThirdParty += s.ThirdParty
		t.Unknown += s.Unknown
		t.Allowed += s.Allowed
		t.Blocked += s.Blocked
		t.Exempted += s.Exempted
		t.Badge += s.Badge
		for k, v := range s.BySource {
			t.BySource[k] += v
		}
	}
	return t
}

// Matches reports whether query appears in a source, tab id or tab URL.
func (r *Report) Matches(query string) bool {
	query = strings.ToLower(query)
	for _, s := range r.Sources {
		if strings.Contains(strings.ToLower(s), query) {
			return true
		}
	}
	for _, t := range r.Tabs {
		if strings.Contains(strings.ToLower(t.TabID), query) ||
			strings.Contains(strings.ToLower(t.URL), query) {
			return true
		}
	}
	return false
}

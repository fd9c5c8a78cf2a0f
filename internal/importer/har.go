package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/artpar/cookielens/internal/cdp"
)

// defaultHARTab names the tab for entries that reference no page.
const defaultHARTab = "har"

// HARImporter imports HTTP Archive (HAR) format files. Each HAR page becomes
// a tab; request and response cookies become extra-info events, since HAR
// records no blocked or exemption reasons.
type HARImporter struct{}

// NewHARImporter creates a new HAR importer.
func NewHARImporter() *HARImporter {
	return &HARImporter{}
}

func (h *HARImporter) Name() string {
	return "HTTP Archive (HAR)"
}

func (h *HARImporter) Format() Format {
	return FormatHAR
}

func (h *HARImporter) FileExtensions() []string {
	return []string{".har"}
}

func (h *HARImporter) DetectFormat(content []byte) bool {
	var check struct {
		Log struct {
			Version string `json:"version"`
			Creator struct {
				Name string `json:"name"`
			} `json:"creator"`
		} `json:"log"`
	}

	if err := json.Unmarshal(content, &check); err != nil {
		return false
	}

	// HAR files have a log object with version and creator
	return check.Log.Version != "" || check.Log.Creator.Name != ""
}

func (h *HARImporter) Import(ctx context.Context, content []byte) (*Result, error) {
	var har harFile
	if err := json.Unmarshal(content, &har); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseError, err)
	}

	res := &Result{SourceVersion: har.Log.Version}
	b := &harBuilder{res: res, seen: make(map[string]bool)}

	pages := make(map[string]harPage, len(har.Log.Pages))
	for _, p := range har.Log.Pages {
		pages[p.ID] = p
	}

	for i, entry := range har.Log.Entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.Request.URL == "" {
			res.Warnings = append(res.Warnings, fmt.Sprintf("entry %d: missing request url", i))
			continue
		}

		tab := entry.Pageref
		if tab == "" {
			tab = defaultHARTab
		}
		if !b.seen[tab] {
			b.openTab(tab, pages[tab], har.Log.Entries[i:])
		}
		b.entry(tab, fmt.Sprintf("har-%d", i), entry)
	}

	if b.err != nil {
		return nil, b.err
	}
	return res, nil
}

// harBuilder accumulates events; the first marshal failure is kept in err.
type harBuilder struct {
	res  *Result
	seen map[string]bool
	err  error
}

func (b *harBuilder) add(tab, method string, params any) {
	if b.err != nil {
		return
	}
	ev, err := cdp.NewEvent(tab, method, params)
	if err != nil {
		b.err = err
		return
	}
	b.res.Events = append(b.res.Events, ev)
}

// openTab emits the tab's creation with the page's document URL and, when the
// page has a start time, a focus event at that time.
func (b *harBuilder) openTab(tab string, page harPage, rest []harEntry) {
	b.seen[tab] = true
	b.res.Tabs = append(b.res.Tabs, tab)

	url := ""
	for _, e := range rest {
		ref := e.Pageref
		if ref == "" {
			ref = defaultHARTab
		}
		if ref != tab {
			continue
		}
		if url == "" {
			url = e.Request.URL
		}
		if strings.EqualFold(e.ResourceType, "document") {
			url = e.Request.URL
			break
		}
	}
	b.add(tab, cdp.MethodTabCreated, cdp.TabCreated{URL: url})

	if started, err := time.Parse(time.RFC3339, page.StartedDateTime); err == nil {
		b.add(tab, cdp.MethodTabActivated, cdp.TabActivated{At: started.UnixMilli()})
	}
}

func (b *harBuilder) entry(tab, requestID string, e harEntry) {
	b.add(tab, cdp.MethodRequestWillBeSent, cdp.RequestWillBeSent{
		RequestID: requestID,
		Request:   cdp.Request{URL: e.Request.URL, Method: e.Request.Method},
	})

	if sent := requestCookies(e.Request); len(sent) > 0 {
		b.add(tab, cdp.MethodRequestWillBeSentExtraInfo, cdp.RequestWillBeSentExtraInfo{
			RequestID:         requestID,
			AssociatedCookies: sent,
		})
	}

	if e.Response.Status == 0 && len(e.Response.Headers) == 0 {
		return
	}
	b.add(tab, cdp.MethodResponseReceived, cdp.ResponseReceived{
		RequestID: requestID,
		Response:  cdp.Response{URL: e.Request.URL, Status: e.Response.Status},
	})

	if lines := setCookieLines(e.Response); len(lines) > 0 {
		b.add(tab, cdp.MethodResponseReceivedExtraInfo, cdp.ResponseReceivedExtraInfo{
			RequestID:  requestID,
			StatusCode: e.Response.Status,
			Headers:    cdp.Headers{"set-cookie": strings.Join(lines, "\n")},
		})
	}
}

// requestCookies prefers the parsed cookie list and falls back to the Cookie
// header.
func requestCookies(req harRequest) []cdp.AssociatedCookie {
	var out []cdp.AssociatedCookie
	if len(req.Cookies) > 0 {
		for _, c := range req.Cookies {
			out = append(out, cdp.AssociatedCookie{Cookie: toCDPCookie(c), BlockedReasons: []string{}})
		}
		return out
	}

	for _, h := range req.Headers {
		if !strings.EqualFold(h.Name, "cookie") {
			continue
		}
		for _, pair := range strings.Split(h.Value, ";") {
			name, value, _ := strings.Cut(strings.TrimSpace(pair), "=")
			if name == "" {
				continue
			}
			out = append(out, cdp.AssociatedCookie{
				Cookie:         cdp.Cookie{Name: name, Value: value, Expires: -1, Session: true},
				BlockedReasons: []string{},
			})
		}
	}
	return out
}

// setCookieLines prefers raw Set-Cookie headers and rebuilds lines from the
// parsed cookie list when the archive omitted them.
func setCookieLines(resp harResponse) []string {
	var lines []string
	for _, h := range resp.Headers {
		if strings.EqualFold(h.Name, "set-cookie") {
			lines = append(lines, strings.Split(h.Value, "\n")...)
		}
	}
	if len(lines) > 0 {
		return lines
	}

	for _, c := range resp.Cookies {
		if c.Name == "" {
			continue
		}
		parts := []string{c.Name + "=" + c.Value}
		if c.Domain != "" {
			parts = append(parts, "Domain="+c.Domain)
		}
		if c.Path != "" {
			parts = append(parts, "Path="+c.Path)
		}
		if t, err := time.Parse(time.RFC3339, c.Expires); err == nil {
			parts = append(parts, "Expires="+t.UTC().Format(http.TimeFormat))
		}
		if c.HTTPOnly {
			parts = append(parts, "HttpOnly")
		}
		if c.Secure {
			parts = append(parts, "Secure")
		}
		lines = append(lines, strings.Join(parts, "; "))
	}
	return lines
}

func toCDPCookie(c harCookie) cdp.Cookie {
	out := cdp.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		HTTPOnly: c.HTTPOnly,
		Secure:   c.Secure,
		Expires:  -1,
		Session:  true,
	}
	if t, err := time.Parse(time.RFC3339, c.Expires); err == nil {
		out.Expires = float64(t.Unix())
		out.Session = false
	}
	return out
}

// HAR format structures (HTTP Archive 1.2)

type harFile struct {
	Log harLog `json:"log"`
}

type harLog struct {
	Version string     `json:"version"`
	Creator harCreator `json:"creator"`
	Pages   []harPage  `json:"pages,omitempty"`
	Entries []harEntry `json:"entries"`
}

type harCreator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type harPage struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	StartedDateTime string `json:"startedDateTime"`
}

type harEntry struct {
	StartedDateTime string      `json:"startedDateTime"`
	Request         harRequest  `json:"request"`
	Response        harResponse `json:"response"`
	Pageref         string      `json:"pageref,omitempty"`
	ResourceType    string      `json:"_resourceType,omitempty"`
}

type harRequest struct {
	Method  string         `json:"method"`
	URL     string         `json:"url"`
	Headers []harNameValue `json:"headers"`
	Cookies []harCookie    `json:"cookies"`
}

type harResponse struct {
	Status      int            `json:"status"`
	Headers     []harNameValue `json:"headers"`
	Cookies     []harCookie    `json:"cookies"`
	RedirectURL string         `json:"redirectURL"`
}

type harNameValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type harCookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Path     string `json:"path,omitempty"`
	Domain   string `json:"domain,omitempty"`
	Expires  string `json:"expires,omitempty"`
	HTTPOnly bool   `json:"httpOnly,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
}

// Verify HARImporter implements Importer interface
var _ Importer = (*HARImporter)(nil)

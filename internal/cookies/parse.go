package cookies

import (
	"errors"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/artpar/cookielens/internal/cdp"
)

var errNoCookieName = errors.New("set-cookie line has no name")

// ParseSetCookie parses a single Set-Cookie line into a ParsedCookie with
// defaulted attributes. The second return is false when the line does not
// yield a usable cookie name; callers drop such lines.
func ParseSetCookie(line string, now time.Time) (ParsedCookie, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return ParsedCookie{}, false
	}

	hc, err := http.ParseSetCookie(line)
	if err != nil {
		hc, err = parseLenient(line)
	}
	if err != nil || hc.Name == "" {
		return ParsedCookie{}, false
	}

	c := ParsedCookie{
		Name:     hc.Name,
		Value:    hc.Value,
		Domain:   strings.ToLower(hc.Domain),
		Path:     hc.Path,
		HTTPOnly: hc.HttpOnly,
		Secure:   hc.Secure,
		Expires:  SessionExpiry,
		Priority: PriorityMedium,
	}

	switch hc.SameSite {
	case http.SameSiteStrictMode:
		c.SameSite = SameSiteStrict
	case http.SameSiteNoneMode:
		c.SameSite = SameSiteNone
	default:
		c.SameSite = SameSiteLax
	}

	// Max-Age wins over Expires
	switch {
	case hc.MaxAge > 0:
		c.Expires = formatExpiry(now.Add(time.Duration(hc.MaxAge) * time.Second))
	case hc.MaxAge < 0:
		c.Expires = formatExpiry(time.Unix(0, 0))
	case !hc.Expires.IsZero():
		c.Expires = formatExpiry(hc.Expires)
	}

	for _, attr := range hc.Unparsed {
		k, v, _ := strings.Cut(attr, "=")
		if strings.EqualFold(strings.TrimSpace(k), "priority") {
			c.Priority = ParsePriority(v)
		}
	}

	if hc.Partitioned {
		c.PartitionKey = PartitionedMarker
	}

	return c.withDefaults(), true
}

// parseLenient accepts lines whose name or value falls outside the strict
// RFC 6265 grammar (quotes, backslashes, non-ASCII bytes), as browsers do.
// The attributes are still parsed by net/http behind a placeholder pair.
func parseLenient(line string) (*http.Cookie, error) {
	pair, attrs, _ := strings.Cut(line, ";")
	name, value, found := strings.Cut(pair, "=")
	name = strings.TrimSpace(name)
	if !found || name == "" {
		return nil, errNoCookieName
	}

	hc, err := http.ParseSetCookie("x=x;" + attrs)
	if err != nil {
		return nil, err
	}
	hc.Name = name
	hc.Value = unquote(strings.TrimSpace(value))
	hc.Raw = line
	return hc, nil
}

func unquote(v string) string {
	if len(v) > 1 && v[0] == '"' && v[len(v)-1] == '"' {
		return v[1 : len(v)-1]
	}
	return v
}

// FromCDPCookie converts a protocol cookie object into a ParsedCookie.
func FromCDPCookie(c cdp.Cookie) ParsedCookie {
	pc := ParsedCookie{
		Name:         c.Name,
		Value:        c.Value,
		Domain:       strings.ToLower(c.Domain),
		Path:         c.Path,
		SameSite:     ParseSameSite(c.SameSite),
		HTTPOnly:     c.HTTPOnly,
		Secure:       c.Secure,
		Priority:     ParsePriority(c.Priority),
		PartitionKey: c.PartitionSite(),
		Expires:      SessionExpiry,
	}
	if !c.Session && c.Expires > 0 {
		pc.Expires = formatExpiry(epochSeconds(c.Expires))
	}
	return pc.withDefaults()
}

// FromScriptCookie converts a cookieStore item into a ParsedCookie. Script
// cookies never carry HttpOnly.
func FromScriptCookie(c cdp.ScriptCookie) ParsedCookie {
	pc := ParsedCookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Path,
		SameSite: ParseSameSite(c.SameSite),
		Secure:   c.Secure,
		Expires:  SessionExpiry,
		Priority: PriorityMedium,
	}
	if c.Domain != nil {
		pc.Domain = strings.ToLower(*c.Domain)
	}
	if c.Expires != nil && *c.Expires > 0 {
		pc.Expires = formatExpiry(time.UnixMilli(int64(*c.Expires)))
	}
	if c.Partitioned {
		pc.PartitionKey = PartitionedMarker
	}
	return pc.withDefaults()
}

func formatExpiry(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func epochSeconds(f float64) time.Time {
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9))
}

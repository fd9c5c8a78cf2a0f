package cookies

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Key returns the identity key name:domain:path. The cookie must already be
// canonical; no case folding is applied.
func Key(c ParsedCookie) string {
	return c.Name + ":" + c.Domain + ":" + c.Path
}

// DeriveKey canonicalizes the cookie's domain against rawURL and returns its
// identity key.
func DeriveKey(c ParsedCookie, rawURL string) string {
	c.Domain = NormalizeDomain(c.Domain, rawURL)
	return Key(c)
}

// NormalizeDomain returns the dot-prefixed canonical domain. An empty domain
// is replaced by the registrable domain (eTLD+1) of rawURL's host; hosts that
// have none, such as IP literals or bare public suffixes, are used as-is.
// Returns "" when no domain can be determined.
func NormalizeDomain(domain, rawURL string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" || domain == "." {
		domain = RegistrableDomain(hostOf(rawURL))
	}
	domain = strings.TrimRight(domain, ".")
	if domain == "" {
		return ""
	}
	if !strings.HasPrefix(domain, ".") {
		domain = "." + domain
	}
	return domain
}

// RegistrableDomain returns the eTLD+1 of host, or host itself when it has no
// registrable domain.
func RegistrableDomain(host string) string {
	host = strings.TrimPrefix(strings.ToLower(host), ".")
	if host == "" {
		return ""
	}
	if net.ParseIP(host) != nil {
		return host
	}
	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return etld1
}

// Canonicalize normalizes the cookie's domain against rawURL and reports
// whether it has the name, domain and path needed to track it.
func Canonicalize(c ParsedCookie, rawURL string) (ParsedCookie, bool) {
	c.Domain = NormalizeDomain(c.Domain, rawURL)
	c = c.withDefaults()
	return c, c.Trackable()
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

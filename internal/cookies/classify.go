package cookies

import "strings"

// Status is the reporting classification of a reconciled cookie.
type Status string

const (
	StatusAllowed  Status = "allowed"
	StatusBlocked  Status = "blocked"
	StatusExempted Status = "exempted"
)

// FirstParty reports whether a cookie domain belongs to the same registrable
// domain as pageURL. It returns nil when the page has no usable host.
func FirstParty(cookieDomain, pageURL string) *bool {
	page := RegistrableDomain(hostOf(pageURL))
	if page == "" {
		return nil
	}
	v := RegistrableDomain(strings.TrimPrefix(cookieDomain, ".")) == page
	return &v
}

// StatusOf classifies a record. A blocked cookie stays blocked even if an
// exemption was reported for another sighting.
func StatusOf(r Record) Status {
	switch {
	case r.IsBlocked:
		return StatusBlocked
	case r.ExemptionReason != "":
		return StatusExempted
	default:
		return StatusAllowed
	}
}

// IsThirdParty reports whether the record is known to be third-party, falling
// back to pageURL when the record carries no classification.
func IsThirdParty(r Record, pageURL string) bool {
	fp := r.IsFirstParty
	if fp == nil {
		fp = FirstParty(r.ParsedCookie.Domain, pageURL)
	}
	return fp != nil && !*fp
}

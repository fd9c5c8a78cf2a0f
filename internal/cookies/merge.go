package cookies

// Merge reconciles an incoming observation into the existing record for the
// same key and returns the new record. Neither input is modified.
//
// Reason sets and frame lists are unioned, so their result does not depend on
// arrival order. HeaderType is sticky once it is javascript and URL keeps the
// first value seen; both depend on order.
func Merge(existing *Record, incoming Observation) Record {
	if existing == nil {
		return newRecord(incoming)
	}

	blocked := union(existing.BlockedReasons, incoming.BlockedReasons)
	warnings := union(existing.WarningReasons, incoming.WarningReasons)

	headerType := incoming.HeaderType
	if existing.HeaderType == HeaderJavascript || headerType == "" {
		headerType = existing.HeaderType
	}

	url := existing.URL
	if url == "" {
		url = incoming.URL
	}

	r := Record{
		ParsedCookie:    mergeParsed(existing.ParsedCookie, incoming.ParsedCookie),
		HeaderType:      headerType,
		URL:             url,
		FrameID:         firstNonEmpty(incoming.FrameID, existing.FrameID),
		IsBlocked:       len(blocked) > 0,
		BlockedReasons:  blocked,
		WarningReasons:  warnings,
		ExemptionReason: firstNonEmpty(incoming.ExemptionReason, existing.ExemptionReason),
		IsFirstParty:    existing.IsFirstParty,
		FrameIDList:     unionInts(existing.FrameIDList, incoming.FrameIDList),
	}
	if incoming.IsFirstParty != nil {
		v := *incoming.IsFirstParty
		r.IsFirstParty = &v
	}
	return r
}

// MergeAll folds observations into records keyed by cookie key, returning a
// new map. The input map is not modified.
func MergeAll(records map[string]Record, observations []Observation) map[string]Record {
	out := make(map[string]Record, len(records)+len(observations))
	for k, v := range records {
		out[k] = v
	}
	for _, o := range observations {
		key := o.Key()
		var existing *Record
		if r, ok := out[key]; ok {
			existing = &r
		}
		out[key] = Merge(existing, o)
	}
	return out
}

// CountBadge returns the number of distinct cookies seen in at least one frame.
func CountBadge(records map[string]Record) int {
	n := 0
	for _, r := range records {
		if len(r.FrameIDList) > 0 {
			n++
		}
	}
	return n
}

func newRecord(o Observation) Record {
	blocked := union(o.BlockedReasons, nil)
	r := Record{
		ParsedCookie:    o.ParsedCookie.withDefaults(),
		HeaderType:      o.HeaderType,
		URL:             o.URL,
		FrameID:         o.FrameID,
		IsBlocked:       len(blocked) > 0,
		BlockedReasons:  blocked,
		WarningReasons:  union(o.WarningReasons, nil),
		ExemptionReason: o.ExemptionReason,
		FrameIDList:     unionInts(o.FrameIDList, nil),
	}
	if o.IsFirstParty != nil {
		v := *o.IsFirstParty
		r.IsFirstParty = &v
	}
	return r
}

func mergeParsed(existing, incoming ParsedCookie) ParsedCookie {
	out := existing
	out.Value = firstNonEmpty(incoming.Value, existing.Value)
	out.SameSite = firstNonEmpty(incoming.SameSite, existing.SameSite)
	out.Expires = firstNonEmpty(incoming.Expires, existing.Expires)
	out.Priority = firstNonEmpty(incoming.Priority, existing.Priority)
	out.PartitionKey = firstNonEmpty(incoming.PartitionKey, existing.PartitionKey)
	out.HTTPOnly = incoming.HTTPOnly
	out.Secure = incoming.Secure
	return out.withDefaults()
}

func firstNonEmpty[T ~string](a, b T) T {
	if a != "" {
		return a
	}
	return b
}

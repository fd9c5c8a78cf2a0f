package browser

import (
	"encoding/json"
	"fmt"

	"github.com/go-rod/rod/lib/proto"

	"github.com/artpar/cookielens/internal/cdp"
)

// toEvent re-encodes a protocol event as a tab-attributed cdp.Event. The
// proto structs marshal to the protocol's wire format, which the cdp payload
// types decode.
func toEvent(tabID string, e proto.Event) (cdp.Event, error) {
	return cdp.NewEvent(tabID, e.ProtoEvent(), e)
}

// scriptCookiesJS reads the page's cookieStore. Insecure contexts have no
// cookieStore and report an empty list.
const scriptCookiesJS = `async () => {
	const out = { url: location.href, focused: document.hasFocus(), cookies: [] };
	try {
		if (window.cookieStore) {
			out.cookies = await window.cookieStore.getAll();
		}
	} catch (e) {}
	return JSON.stringify(out);
}`

// scriptSnapshot is the result of scriptCookiesJS.
type scriptSnapshot struct {
	URL     string             `json:"url"`
	Focused bool               `json:"focused"`
	Cookies []cdp.ScriptCookie `json:"cookies"`
}

func parseScriptSnapshot(raw string) (scriptSnapshot, error) {
	var s scriptSnapshot
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return scriptSnapshot{}, fmt.Errorf("failed to decode cookieStore snapshot: %w", err)
	}
	return s, nil
}

// fingerprint identifies the cookie content of a snapshot so unchanged polls
// are not re-emitted.
func (s scriptSnapshot) fingerprint() string {
	data, _ := json.Marshal(struct {
		URL     string             `json:"url"`
		Cookies []cdp.ScriptCookie `json:"cookies"`
	}{s.URL, s.Cookies})
	return string(data)
}

func (s scriptSnapshot) event(tabID, frameID string) (cdp.Event, error) {
	return cdp.NewEvent(tabID, cdp.MethodScriptCookies, cdp.ScriptCookies{
		URL:     s.URL,
		FrameID: frameID,
		Cookies: s.Cookies,
	})
}

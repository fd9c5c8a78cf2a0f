package cookies

import (
	"testing"
	"time"

	"github.com/artpar/cookielens/internal/cdp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestParseSetCookie(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		c, ok := ParseSetCookie("sid=abc", testNow)
		require.True(t, ok)
		assert.Equal(t, "sid", c.Name)
		assert.Equal(t, "abc", c.Value)
		assert.Equal(t, "", c.Domain)
		assert.Equal(t, "/", c.Path)
		assert.Equal(t, SameSiteLax, c.SameSite)
		assert.Equal(t, SessionExpiry, c.Expires)
		assert.Equal(t, PriorityMedium, c.Priority)
		assert.False(t, c.HTTPOnly)
		assert.False(t, c.Secure)
		assert.Empty(t, c.PartitionKey)
	})

	t.Run("reads all attributes", func(t *testing.T) {
		c, ok := ParseSetCookie("id=1; Domain=Example.com; Path=/app; SameSite=strict; Secure; HttpOnly; Priority=High", testNow)
		require.True(t, ok)
		assert.Contains(t, c.Domain, "example.com")
		assert.Equal(t, "/app", c.Path)
		assert.Equal(t, SameSiteStrict, c.SameSite)
		assert.True(t, c.Secure)
		assert.True(t, c.HTTPOnly)
		assert.Equal(t, PriorityHigh, c.Priority)
	})

	t.Run("invalid samesite falls back to lax", func(t *testing.T) {
		c, ok := ParseSetCookie("a=1; SameSite=bogus", testNow)
		require.True(t, ok)
		assert.Equal(t, SameSiteLax, c.SameSite)
	})

	t.Run("samesite none", func(t *testing.T) {
		c, ok := ParseSetCookie("a=1; SameSite=None; Secure", testNow)
		require.True(t, ok)
		assert.Equal(t, SameSiteNone, c.SameSite)
	})

	t.Run("expires attribute", func(t *testing.T) {
		c, ok := ParseSetCookie("a=1; Expires=Wed, 21 Oct 2015 07:28:00 GMT", testNow)
		require.True(t, ok)
		assert.Equal(t, "2015-10-21T07:28:00Z", c.Expires)
	})

	t.Run("max-age wins over expires", func(t *testing.T) {
		c, ok := ParseSetCookie("a=1; Expires=Wed, 21 Oct 2015 07:28:00 GMT; Max-Age=3600", testNow)
		require.True(t, ok)
		assert.Equal(t, "2026-01-01T01:00:00Z", c.Expires)
	})

	t.Run("partitioned sets partition key", func(t *testing.T) {
		c, ok := ParseSetCookie("a=1; Secure; Partitioned", testNow)
		require.True(t, ok)
		assert.Equal(t, PartitionedMarker, c.PartitionKey)
	})

	t.Run("keeps values outside the strict grammar", func(t *testing.T) {
		tests := []struct {
			line  string
			name  string
			value string
		}{
			{`prefs={"theme":"dark"}; Path=/`, "prefs", `{"theme":"dark"}`},
			{"name=café; Path=/", "name", "café"},
			{`tok=a\b; Path=/`, "tok", `a\b`},
			{`q="a b"`, "q", "a b"},
		}
		for _, tt := range tests {
			c, ok := ParseSetCookie(tt.line, testNow)
			require.True(t, ok, "line %q", tt.line)
			assert.Equal(t, tt.name, c.Name)
			assert.Equal(t, tt.value, c.Value)
			assert.Equal(t, "/", c.Path)
		}
	})

	t.Run("lenient lines keep their attributes", func(t *testing.T) {
		c, ok := ParseSetCookie(`prefs={"a":1}; Domain=a.com; Path=/app; Secure; HttpOnly; SameSite=None; Max-Age=60; Priority=Low; Partitioned`, testNow)
		require.True(t, ok)
		assert.Equal(t, `{"a":1}`, c.Value)
		assert.Contains(t, c.Domain, "a.com")
		assert.Equal(t, "/app", c.Path)
		assert.True(t, c.Secure)
		assert.True(t, c.HTTPOnly)
		assert.Equal(t, SameSiteNone, c.SameSite)
		assert.Equal(t, "2026-01-01T00:01:00Z", c.Expires)
		assert.Equal(t, PriorityLow, c.Priority)
		assert.Equal(t, PartitionedMarker, c.PartitionKey)
	})

	t.Run("drops malformed lines", func(t *testing.T) {
		for _, line := range []string{"", "   ", "=abc", "novalue", "; Path=/"} {
			_, ok := ParseSetCookie(line, testNow)
			assert.False(t, ok, "line %q", line)
		}
	})
}

func TestFromCDPCookie(t *testing.T) {
	t.Run("session cookie", func(t *testing.T) {
		c := FromCDPCookie(cdp.Cookie{
			Name: "a", Value: "1", Domain: ".A.com", Path: "/",
			Expires: -1, Session: true, SameSite: "None", Secure: true,
		})
		assert.Equal(t, ".a.com", c.Domain)
		assert.Equal(t, SessionExpiry, c.Expires)
		assert.Equal(t, SameSiteNone, c.SameSite)
		assert.Equal(t, PriorityMedium, c.Priority)
	})

	t.Run("persistent cookie with partition key", func(t *testing.T) {
		c := FromCDPCookie(cdp.Cookie{
			Name: "a", Domain: "a.com", Path: "/x",
			Expires:      1445412480,
			Priority:     "Low",
			PartitionKey: []byte(`{"topLevelSite":"https://top.com"}`),
		})
		assert.Equal(t, "2015-10-21T07:28:00Z", c.Expires)
		assert.Equal(t, PriorityLow, c.Priority)
		assert.Equal(t, SameSiteLax, c.SameSite)
		assert.Equal(t, "https://top.com", c.PartitionKey)
	})
}

func TestFromScriptCookie(t *testing.T) {
	domain := "Example.com"
	expires := float64(1445412480000)
	c := FromScriptCookie(cdp.ScriptCookie{
		Name: "js", Value: "v", Domain: &domain, Path: "/",
		Expires: &expires, SameSite: "strict", Partitioned: true,
	})
	assert.Equal(t, "example.com", c.Domain)
	assert.Equal(t, "2015-10-21T07:28:00Z", c.Expires)
	assert.Equal(t, SameSiteStrict, c.SameSite)
	assert.Equal(t, PartitionedMarker, c.PartitionKey)
	assert.False(t, c.HTTPOnly)

	hostOnly := FromScriptCookie(cdp.ScriptCookie{Name: "h", Value: "v"})
	assert.Empty(t, hostOnly.Domain)
	assert.Equal(t, "/", hostOnly.Path)
	assert.Equal(t, SessionExpiry, hostOnly.Expires)
}

package tabs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/cookielens/internal/cookies"
)

func TestEntry_RoundTrip(t *testing.T) {
	focusedAt := int64(1700000000000)
	first := true

	tests := []struct {
		name  string
		entry Entry
	}{
		{"empty", NewEntry("")},
		{"nil cookies", Entry{URL: "https://a.com/"}},
		{
			name: "full",
			entry: Entry{
				URL:          "https://a.com/",
				FocusedAt:    &focusedAt,
				DevToolsOpen: true,
				Cookies: map[string]cookies.Record{
					"sid:.a.com:/": {
						ParsedCookie: cookies.ParsedCookie{
							Name: "sid", Domain: ".a.com", Path: "/", Value: "abc",
							SameSite: cookies.SameSiteNone, Expires: cookies.SessionExpiry,
							Secure: true, Priority: cookies.PriorityHigh, PartitionKey: "https://a.com",
						},
						HeaderType:      cookies.HeaderJavascript,
						URL:             "https://a.com/",
						IsBlocked:       true,
						BlockedReasons:  []cookies.BlockedReason{"SameSiteLax", "ThirdPartyPhaseout"},
						WarningReasons:  []cookies.WarningReason{"WarnThirdPartyPhaseout"},
						ExemptionReason: "UserSetting",
						IsFirstParty:    &first,
						FrameIDList:     []int{0, 3},
					},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.entry)
			require.NoError(t, err)

			got, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, tt.entry, got)
		})
	}
}

func TestEntry_JSONKeys(t *testing.T) {
	at := int64(5)
	e := NewEntry("https://a.com/")
	e.FocusedAt = &at

	data, err := Encode(e)
	require.NoError(t, err)
	assert.JSONEq(t, `{"cookies":{},"url":"https://a.com/","focusedAt":5,"devToolsOpenState":false,"popupOpenState":false}`, string(data))
}

func TestEntry_Clone(t *testing.T) {
	at := int64(1)
	e := NewEntry("u")
	e.FocusedAt = &at
	e.Cookies["k"] = cookies.Record{URL: "x"}

	c := e.Clone()
	c.Cookies["other"] = cookies.Record{}
	*c.FocusedAt = 2

	assert.Len(t, e.Cookies, 1)
	assert.Equal(t, int64(1), *e.FocusedAt)
}

func TestItemSize(t *testing.T) {
	assert.Equal(t, int64(0), ItemSize("1", nil))
	assert.Equal(t, int64(4), ItemSize("12", []byte("ab")))
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode([]byte("nope"))
	assert.Error(t, err)
}

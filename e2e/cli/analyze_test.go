package cli_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/cookielens/e2e/harness"
	"github.com/artpar/cookielens/internal/report"
)

const shopHAR = `{
	"log": {
		"version": "1.2",
		"creator": {"name": "WebInspector", "version": "537.36"},
		"pages": [
			{"id": "page_1", "title": "https://shop.example.com/", "startedDateTime": "2024-03-01T10:00:00.000Z"},
			{"id": "page_2", "title": "https://news.example.org/", "startedDateTime": "2024-03-01T10:05:00.000Z"}
		],
		"entries": [
			{
				"pageref": "page_1",
				"_resourceType": "document",
				"request": {"method": "GET", "url": "https://shop.example.com/", "headers": [], "cookies": []},
				"response": {
					"status": 200,
					"headers": [{"name": "Set-Cookie", "value": "session=abc; Path=/; HttpOnly; Secure; SameSite=Strict"}],
					"cookies": []
				}
			},
			{
				"pageref": "page_1",
				"_resourceType": "script",
				"request": {
					"method": "GET",
					"url": "https://tracker.example.net/t.js",
					"headers": [],
					"cookies": [{"name": "uid", "value": "42", "domain": ".tracker.example.net", "path": "/"}]
				},
				"response": {"status": 200, "headers": [], "cookies": []}
			},
			{
				"pageref": "page_2",
				"_resourceType": "document",
				"request": {"method": "GET", "url": "https://news.example.org/", "headers": [], "cookies": []},
				"response": {
					"status": 200,
					"headers": [{"name": "Set-Cookie", "value": "consent=yes; Path=/; Max-Age=31536000"}],
					"cookies": []
				}
			}
		]
	}
}`

func TestCLI_AnalyzeJourney(t *testing.T) {
	h := harness.New(t, harness.Config{})
	path := h.WriteFile("shop.har", shopHAR)

	t.Run("analyze reports every page as a tab", func(t *testing.T) {
		result, err := h.CLI().AnalyzeJSON(path)
		require.NoError(t, err, result.Stderr)

		var r report.Report
		require.NoError(t, json.Unmarshal([]byte(result.Stdout), &r))
		require.Len(t, r.Tabs, 2)

		shop, news := r.Tabs[0], r.Tabs[1]
		assert.Equal(t, "page_1", shop.TabID)
		assert.Equal(t, "https://shop.example.com/", shop.URL)
		assert.Equal(t, 1, shop.FirstParty)
		assert.Equal(t, 1, shop.ThirdParty)
		assert.Equal(t, "page_2", news.TabID)
		assert.Equal(t, 1, news.Total)

		totals := r.Totals()
		assert.Equal(t, 3, totals.Total)
	})

	t.Run("tabs persist between runs", func(t *testing.T) {
		result, err := h.CLI().Run("tabs", "list")
		require.NoError(t, err)

		assert := harness.NewAssertions(t)
		assert.OutputContains(result.Stdout, "page_1", "page_2", "https://news.example.org/")
		assert.TabCount(result.Stdout, 2)
		assert.NoError(result.Stdout)
	})

	t.Run("show lists a tab's cookies", func(t *testing.T) {
		result, err := h.CLI().Run("tabs", "show", "page_1")
		require.NoError(t, err)

		assert := harness.NewAssertions(t)
		assert.OutputContains(result.Stdout, "session", "uid", "tracker.example.net")
		assert.OutputNotContains(result.Stdout, "consent")
	})

	t.Run("saved reports can be read back", func(t *testing.T) {
		result, err := h.CLI().Run("analyze", "--save", "-o", "json", path)
		require.NoError(t, err)

		var saved report.Report
		require.NoError(t, json.Unmarshal([]byte(result.Stdout), &saved))

		result, err = h.CLI().Run("reports", "show", saved.ID, "-o", "json")
		require.NoError(t, err)

		var loaded report.Report
		require.NoError(t, json.Unmarshal([]byte(result.Stdout), &loaded))
		assert.Equal(t, saved.ID, loaded.ID)
		assert.Equal(t, saved.Totals().Total, loaded.Totals().Total)
	})

	t.Run("removed tabs are gone", func(t *testing.T) {
		_, err := h.CLI().Run("tabs", "rm", "page_2")
		require.NoError(t, err)

		result, err := h.CLI().Run("tabs", "list")
		require.NoError(t, err)
		harness.NewAssertions(t).OutputNotContains(result.Stdout, "page_2")
	})
}

func TestCLI_AnalyzeRecordedLog(t *testing.T) {
	h := harness.New(t, harness.Config{})
	path := h.WriteFile("session.jsonl",
		`{"method":"Tab.created","params":{"url":"https://a.com/"},"tabId":"7"}
{"method":"Network.requestWillBeSent","params":{"requestId":"R1","request":{"url":"https://a.com/"},"type":"Document"},"tabId":"7"}
{"method":"Network.responseReceivedExtraInfo","params":{"requestId":"R1","headers":{"set-cookie":"sid=abc; Path=/"}},"tabId":"7"}
{"method":"Network.requestWillBeSent","params":{"requestId":"R2","request":{"url":"https://b.com/"},"type":"Document"},"tabId":"7"}
{"method":"Network.responseReceivedExtraInfo","params":{"requestId":"R2","headers":{"set-cookie":"other=1; Path=/"}},"tabId":"7"}
`)

	result, err := h.CLI().Run("analyze", "--ephemeral", "-o", "json", path)
	require.NoError(t, err, result.Stderr)

	var r report.Report
	require.NoError(t, json.Unmarshal([]byte(result.Stdout), &r))
	require.Len(t, r.Tabs, 1)
	require.Len(t, r.Tabs[0].Cookies, 1, "a top-level navigation clears the tab")
	assert.Equal(t, "other", r.Tabs[0].Cookies[0].Name)
	assert.Equal(t, "https://b.com/", r.Tabs[0].URL)
}

package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/cookielens/internal/importer"
	"github.com/artpar/cookielens/internal/storage/sqlite"
	"github.com/artpar/cookielens/internal/tabs"
)

const sampleLog = `{"method":"Tab.created","params":{"url":"https://a.com/"},"tabId":"1"}
{"method":"Network.requestWillBeSent","params":{"requestId":"R1","request":{"url":"https://a.com/"},"type":"Document"},"tabId":"1"}
{"method":"Network.responseReceivedExtraInfo","params":{"requestId":"R1","headers":{"set-cookie":"sid=abc; Path=/\ntheme=dark; Path=/"}},"tabId":"1"}
{"method":"Page.lifecycleEvent","params":{},"tabId":"1"}
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNewRunner(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		r := NewRunner([]string{"a.jsonl"})
		assert.Equal(t, importer.FormatAuto, r.format)
		assert.NotNil(t, r.registry)
		assert.NotNil(t, r.logger)
		assert.Positive(t, r.quota)
	})

	t.Run("applies options", func(t *testing.T) {
		called := false
		r := NewRunner(nil,
			WithFormat(importer.FormatHAR),
			WithQuota(100),
			WithRegistry(nil),
			WithLogger(nil),
			WithProgressCallback(func(int, int, *RunResult) { called = true }))

		assert.Equal(t, importer.FormatHAR, r.format)
		assert.Equal(t, int64(100), r.quota)
		assert.NotNil(t, r.registry, "nil registry keeps the default")
		assert.NotNil(t, r.logger, "nil logger keeps the default")
		require.NotNil(t, r.onProgress)
		r.onProgress(1, 1, &RunResult{})
		assert.True(t, called)
	})
}

func TestRunner_Run(t *testing.T) {
	t.Run("fails without sources", func(t *testing.T) {
		_, err := NewRunner(nil).Run(context.Background())
		assert.ErrorIs(t, err, ErrNoSources)
	})

	t.Run("replays a single log", func(t *testing.T) {
		path := writeFile(t, t.TempDir(), "capture.jsonl", sampleLog)

		var progress []int
		summary, err := NewRunner([]string{path},
			WithProgressCallback(func(current, total int, _ *RunResult) {
				progress = append(progress, current)
				assert.Equal(t, 1, total)
			})).Run(context.Background())
		require.NoError(t, err)

		assert.True(t, summary.IsSuccess())
		assert.Equal(t, 1, summary.Imported)
		assert.Equal(t, []int{1}, progress)
		require.Len(t, summary.Results, 1)

		res := summary.Results[0]
		assert.True(t, res.IsSuccess())
		assert.Equal(t, importer.FormatCDPLog, res.Format)
		assert.Equal(t, 4, res.Events)
		assert.Equal(t, 3, res.Handled)
		assert.Equal(t, 1, res.Unhandled)
		assert.Equal(t, []string{"1"}, res.Tabs)

		require.NotNil(t, summary.Report)
		require.Len(t, summary.Report.Tabs, 1)
		tab := summary.Report.Tabs[0]
		assert.Equal(t, "1", tab.TabID)
		assert.Equal(t, "https://a.com/", tab.URL)
		assert.Equal(t, 2, tab.Total)
		require.NotNil(t, summary.Report.Usage)
		assert.Equal(t, 1, summary.Report.Usage.Tabs)
	})

	t.Run("prefixes tabs when replaying several files", func(t *testing.T) {
		dir := t.TempDir()
		a := writeFile(t, dir, "a.jsonl", sampleLog)
		b := writeFile(t, dir, "b.jsonl", sampleLog)

		summary, err := NewRunner([]string{a, b}).Run(context.Background())
		require.NoError(t, err)
		require.Len(t, summary.Report.Tabs, 2)
		assert.Equal(t, "a.jsonl/1", summary.Report.Tabs[0].TabID)
		assert.Equal(t, "b.jsonl/1", summary.Report.Tabs[1].TabID)
		assert.Equal(t, []string{a, b}, summary.Report.Sources)
	})

	t.Run("records files that fail to import", func(t *testing.T) {
		dir := t.TempDir()
		good := writeFile(t, dir, "good.jsonl", sampleLog)
		bad := writeFile(t, dir, "bad.txt", "plain text")

		summary, err := NewRunner([]string{bad, good, filepath.Join(dir, "missing.har")}).Run(context.Background())
		require.NoError(t, err)

		assert.False(t, summary.IsSuccess())
		assert.Equal(t, 1, summary.Imported)
		assert.Equal(t, 2, summary.Failed)
		assert.ErrorIs(t, summary.Results[0].Error, importer.ErrUnsupportedFormat)
		assert.True(t, summary.Results[1].IsSuccess())
		assert.Error(t, summary.Results[2].Error)
	})

	t.Run("replays into a caller store", func(t *testing.T) {
		backend, err := sqlite.NewInMemory(0)
		require.NoError(t, err)
		store := tabs.NewStore(backend)
		defer store.Close()
		require.NoError(t, store.Create(context.Background(), "earlier", "https://old.example/"))

		path := writeFile(t, t.TempDir(), "capture.jsonl", sampleLog)
		summary, err := NewRunner([]string{path}, WithStore(store)).Run(context.Background())
		require.NoError(t, err)

		e, err := store.Get(context.Background(), "1")
		require.NoError(t, err)
		assert.Len(t, e.Cookies, 2)

		require.Len(t, summary.Report.Tabs, 1, "report covers only the replayed tabs")
		assert.Equal(t, "1", summary.Report.Tabs[0].TabID)
		assert.Equal(t, 2, summary.Report.Usage.Tabs)
	})

	t.Run("stops when cancelled", func(t *testing.T) {
		path := writeFile(t, t.TempDir(), "capture.jsonl", sampleLog)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := NewRunner([]string{path}).Run(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

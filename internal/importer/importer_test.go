package importer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/cookielens/internal/cdp"
)

// mockImporter is a test importer
type mockImporter struct {
	name       string
	format     Format
	extensions []string
	detectFn   func([]byte) bool
	importFn   func(context.Context, []byte) (*Result, error)
}

func (m *mockImporter) Name() string             { return m.name }
func (m *mockImporter) Format() Format           { return m.format }
func (m *mockImporter) FileExtensions() []string { return m.extensions }
func (m *mockImporter) DetectFormat(content []byte) bool {
	if m.detectFn != nil {
		return m.detectFn(content)
	}
	return false
}
func (m *mockImporter) Import(ctx context.Context, content []byte) (*Result, error) {
	if m.importFn != nil {
		return m.importFn(ctx, content)
	}
	return &Result{}, nil
}

func TestRegistry_Get(t *testing.T) {
	registry := NewRegistry()

	t.Run("returns registered importer", func(t *testing.T) {
		imp := &mockImporter{format: FormatHAR}
		registry.Register(imp)

		got, ok := registry.Get(FormatHAR)
		assert.True(t, ok)
		assert.Equal(t, imp, got)
	})

	t.Run("returns false for unregistered format", func(t *testing.T) {
		_, ok := registry.Get(FormatCDPLog)
		assert.False(t, ok)
	})
}

func TestRegistry_Import(t *testing.T) {
	registry := NewRegistry()
	ctx := context.Background()

	registry.Register(&mockImporter{
		format: FormatHAR,
		importFn: func(ctx context.Context, content []byte) (*Result, error) {
			return &Result{Tabs: []string{"page_1"}}, nil
		},
	})

	t.Run("imports with specified format", func(t *testing.T) {
		res, err := registry.Import(ctx, FormatHAR, []byte(`{}`))
		require.NoError(t, err)
		assert.Equal(t, FormatHAR, res.SourceFormat)
		assert.Equal(t, []string{"page_1"}, res.Tabs)
	})

	t.Run("returns error for unregistered format", func(t *testing.T) {
		_, err := registry.Import(ctx, FormatCDPLog, []byte(`{}`))
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})
}

func TestRegistry_DetectAndImport(t *testing.T) {
	ctx := context.Background()

	t.Run("tries importers in registration order", func(t *testing.T) {
		registry := NewRegistry()
		registry.Register(&mockImporter{format: FormatHAR, detectFn: func([]byte) bool { return true }})
		registry.Register(&mockImporter{format: FormatCDPLog, detectFn: func([]byte) bool { return true }})

		res, err := registry.DetectAndImport(ctx, []byte(`x`))
		require.NoError(t, err)
		assert.Equal(t, FormatHAR, res.SourceFormat)
		assert.Equal(t, []Format{FormatHAR, FormatCDPLog}, registry.ListFormats())
	})

	t.Run("unknown content", func(t *testing.T) {
		_, err := NewDefaultRegistry().Import(ctx, FormatAuto, []byte(`hello world`))
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})

	t.Run("default registry tells formats apart", func(t *testing.T) {
		registry := NewDefaultRegistry()

		res, err := registry.Import(ctx, FormatAuto, []byte(`{"log":{"version":"1.2","entries":[]}}`))
		require.NoError(t, err)
		assert.Equal(t, FormatHAR, res.SourceFormat)

		res, err = registry.Import(ctx, FormatAuto, []byte(`{"method":"Tab.created","params":{},"tabId":"7"}`+"\n"))
		require.NoError(t, err)
		assert.Equal(t, FormatCDPLog, res.SourceFormat)
	})
}

func TestRegistry_ImportFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"method":"Tab.created","params":{"url":"https://a.com/"}}`+"\n"), 0o644))

	res, err := NewDefaultRegistry().ImportFile(context.Background(), FormatAuto, path)
	require.NoError(t, err)
	assert.Equal(t, FormatCDPLog, res.SourceFormat)
	require.Len(t, res.Events, 1)
	assert.Equal(t, DefaultLogTab, res.Events[0].TabID)

	_, err = NewDefaultRegistry().ImportFile(context.Background(), FormatAuto, filepath.Join(dir, "missing.har"))
	assert.Error(t, err)
}

func TestResult_PrefixTabs(t *testing.T) {
	res := &Result{
		Events: []cdp.Event{{Method: cdp.MethodTabCreated, TabID: "1"}},
		Tabs:   []string{"1"},
	}
	res.PrefixTabs("")
	assert.Equal(t, "1", res.Events[0].TabID)

	res.PrefixTabs("site.har")
	assert.Equal(t, "site.har/1", res.Events[0].TabID)
	assert.Equal(t, []string{"site.har/1"}, res.Tabs)
}

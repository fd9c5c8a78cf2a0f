package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/cookielens/internal/cookies"
	"github.com/artpar/cookielens/internal/report"
	"github.com/artpar/cookielens/internal/tabs"
)

func newTestStore(t *testing.T) *ReportStore {
	t.Helper()
	store, err := NewReportStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func newReport(source string) *report.Report {
	e := tabs.NewEntry("https://a.com/")
	e.Cookies["sid:.a.com:/"] = cookies.Record{
		ParsedCookie: cookies.ParsedCookie{Name: "sid", Domain: ".a.com", Path: "/"},
		HeaderType:   cookies.HeaderResponse,
		IsBlocked:    true,
	}
	return report.New([]string{source}, map[string]tabs.Entry{"1": e})
}

func TestNewReportStore(t *testing.T) {
	t.Run("creates reports directory if not exists", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "reports")

		_, err := NewReportStore(dir)
		require.NoError(t, err)

		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})
}

func TestReportStore_SaveAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	r := newReport("shop.har")
	require.NoError(t, store.Save(ctx, r))

	_, err := os.Stat(store.reportPath(r.ID))
	require.NoError(t, err)

	got, err := store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, []string{"shop.har"}, got.Sources)
	require.Len(t, got.Tabs, 1)
	assert.Equal(t, "sid", got.Tabs[0].Cookies[0].Name)
	assert.True(t, r.CreatedAt.Equal(got.CreatedAt))

	t.Run("returns error for non-existent report", func(t *testing.T) {
		_, err := store.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrReportNotFound)
	})

	t.Run("rejects reports without id", func(t *testing.T) {
		assert.Error(t, store.Save(ctx, &report.Report{}))
	})
}

func TestReportStore_List(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	older := newReport("old.har")
	older.CreatedAt = time.Now().Add(-time.Hour).UTC()
	newer := newReport("new.jsonl")
	require.NoError(t, store.Save(ctx, older))
	require.NoError(t, store.Save(ctx, newer))

	// invalid files are skipped
	require.NoError(t, os.WriteFile(filepath.Join(store.basePath, "junk.yaml"), []byte("::: not yaml"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(store.basePath, "notes.txt"), []byte("x"), 0644))

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
	assert.Equal(t, 1, list[0].Tabs)
	assert.Equal(t, 1, list[0].Cookies)
	assert.Equal(t, 1, list[0].Blocked)
}

func TestReportStore_Search(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, newReport("shop.har")))
	require.NoError(t, store.Save(ctx, newReport("news.jsonl")))

	results, err := store.Search(ctx, "shop")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []string{"shop.har"}, results[0].Sources)

	results, err = store.Search(ctx, "a.com")
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestReportStore_Delete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	r := newReport("shop.har")
	require.NoError(t, store.Save(ctx, r))
	require.NoError(t, store.Delete(ctx, r.ID))

	_, err := store.Get(ctx, r.ID)
	assert.ErrorIs(t, err, ErrReportNotFound)
	assert.ErrorIs(t, store.Delete(ctx, r.ID), ErrReportNotFound)
}

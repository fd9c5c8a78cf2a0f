package browser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/artpar/cookielens/internal/app"
	"github.com/artpar/cookielens/internal/cdp"
	"github.com/artpar/cookielens/internal/config"
	"github.com/artpar/cookielens/internal/importer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestToEvent(t *testing.T) {
	ev, err := toEvent("T1", &proto.NetworkRequestWillBeSent{
		RequestID: "R1",
		FrameID:   "F1",
		Type:      proto.NetworkResourceTypeDocument,
		Request:   &proto.NetworkRequest{URL: "https://a.com/", Method: "GET"},
	})
	require.NoError(t, err)
	assert.Equal(t, cdp.MethodRequestWillBeSent, ev.Method)
	assert.Equal(t, "T1", ev.TabID)

	var p cdp.RequestWillBeSent
	require.NoError(t, ev.Decode(&p))
	assert.Equal(t, "R1", p.RequestID)
	assert.Equal(t, "F1", p.FrameID)
	assert.Equal(t, "https://a.com/", p.Request.URL)
	assert.True(t, p.StartsNavigation())

	t.Run("extra info carries headers and blocked cookies", func(t *testing.T) {
		ev, err := toEvent("T1", &proto.NetworkResponseReceivedExtraInfo{
			RequestID: "R1",
			BlockedCookies: []*proto.NetworkBlockedSetCookieWithReason{{
				BlockedReasons: []proto.NetworkSetCookieBlockedReason{proto.NetworkSetCookieBlockedReasonSameSiteLax},
				CookieLine:     "a=1",
			}},
		})
		require.NoError(t, err)
		assert.Equal(t, cdp.MethodResponseReceivedExtraInfo, ev.Method)

		var p cdp.ResponseReceivedExtraInfo
		require.NoError(t, ev.Decode(&p))
		require.Len(t, p.BlockedCookies, 1)
		assert.Equal(t, []string{"SameSiteLax"}, p.BlockedCookies[0].BlockedReasons)
	})
}

func TestScriptSnapshot(t *testing.T) {
	raw := `{"url":"https://a.com/","focused":true,"cookies":[{"name":"sid","value":"1","domain":null,"path":"/","expires":null,"secure":true,"sameSite":"lax","partitioned":false}]}`
	snap, err := parseScriptSnapshot(raw)
	require.NoError(t, err)
	assert.True(t, snap.Focused)
	require.Len(t, snap.Cookies, 1)
	assert.Nil(t, snap.Cookies[0].Domain)

	ev, err := snap.event("T1", "F1")
	require.NoError(t, err)
	assert.Equal(t, cdp.MethodScriptCookies, ev.Method)
	var p cdp.ScriptCookies
	require.NoError(t, ev.Decode(&p))
	assert.Equal(t, "F1", p.FrameID)
	assert.Equal(t, "sid", p.Cookies[0].Name)

	t.Run("focus does not change the fingerprint", func(t *testing.T) {
		other := snap
		other.Focused = false
		assert.Equal(t, snap.fingerprint(), other.fingerprint())

		tb := &tab{}
		assert.True(t, tb.scriptChanged(snap.fingerprint()))
		assert.False(t, tb.scriptChanged(other.fingerprint()))
	})

	_, err = parseScriptSnapshot("undefined")
	assert.Error(t, err)
}

func TestClassifyNavigation(t *testing.T) {
	timedOut, err := classifyNavigation(nil)
	assert.False(t, timedOut)
	assert.NoError(t, err)

	timedOut, err = classifyNavigation(fmt.Errorf("navigate: %w", context.DeadlineExceeded))
	assert.True(t, timedOut)
	assert.NoError(t, err)

	_, err = classifyNavigation(&rod.NavigationError{Reason: "net::ERR_NAME_NOT_RESOLVED"})
	assert.ErrorIs(t, err, ErrPageNotFound)

	other := &rod.NavigationError{Reason: "net::ERR_ABORTED"}
	_, err = classifyNavigation(other)
	assert.Equal(t, other, err)
}

func TestMainFrameOf(t *testing.T) {
	infos := []*proto.TargetTargetInfo{
		{TargetID: "W1", Type: proto.TargetTargetInfoType("service_worker")},
		{TargetID: "T1", Type: proto.TargetTargetInfoTypePage},
	}

	assert.Equal(t, "T1", mainFrameOf(infos, "T1", "F9"))
	assert.Equal(t, "F9", mainFrameOf(infos, "T2", "F9"), "unlisted targets fall back to the page frame")
	assert.Equal(t, "T2", mainFrameOf(nil, "T2", ""))
}

func TestCrawl(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	var inFlight, peak int32

	visit := func(ctx context.Context, url string) (VisitResult, error) {
		n := atomic.AddInt32(&inFlight, 1)
		defer atomic.AddInt32(&inFlight, -1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)

		switch url {
		case "https://gone.example/":
			return VisitResult{}, fmt.Errorf("%w: 404", ErrPageNotFound)
		case "https://broken.example/":
			return VisitResult{}, errors.New("renderer crashed")
		}
		return VisitResult{TabID: "tab-" + url, Status: 200}, nil
	}

	urls := []string{"https://a.example/", "https://gone.example/", "https://b.example/", "https://broken.example/", "https://c.example/"}
	results, err := crawl(context.Background(), urls, 2, visit, zap.New(core))
	require.NoError(t, err)
	require.Len(t, results, len(urls))

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.Equal(t, 200, results[0].Status)
	assert.True(t, results[1].Skipped)
	assert.Equal(t, "https://gone.example/", results[1].URL)
	assert.False(t, results[3].Skipped)
	assert.Contains(t, results[3].Error, "renderer crashed")
	assert.Equal(t, "tab-https://c.example/", results[4].TabID)

	assert.Equal(t, 1, logs.FilterMessage("Skipping missing page").Len())
	assert.Equal(t, 1, logs.FilterMessage("Visit failed").Len())
}

func TestCrawl_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	visit := func(ctx context.Context, url string) (VisitResult, error) {
		cancel()
		<-ctx.Done()
		return VisitResult{}, ctx.Err()
	}

	_, err := crawl(ctx, []string{"https://a.example/", "https://b.example/"}, 1, visit, zap.NewNop())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRecorder(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	var forwarded []string
	next := SinkFunc(func(_ context.Context, ev cdp.Event) error {
		mu.Lock()
		forwarded = append(forwarded, ev.Method)
		mu.Unlock()
		return nil
	})

	rec := NewRecorder(&buf, next)
	ev, err := cdp.NewEvent("T1", cdp.MethodTabCreated, cdp.TabCreated{URL: "https://a.com/"})
	require.NoError(t, err)
	require.NoError(t, rec.Dispatch(context.Background(), ev))
	assert.Equal(t, []string{cdp.MethodTabCreated}, forwarded)

	t.Run("recorded log is importable", func(t *testing.T) {
		res, err := importer.NewDefaultRegistry().Import(context.Background(), importer.FormatAuto, buf.Bytes())
		require.NoError(t, err)
		assert.Equal(t, importer.FormatCDPLog, res.SourceFormat)
		require.Len(t, res.Events, 1)
		assert.Equal(t, "T1", res.Events[0].TabID)
	})

	t.Run("nil next only records", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, NewRecorder(&out, nil).Dispatch(context.Background(), ev))
		assert.NotEmpty(t, out.String())
	})
}

func TestCapture_NotStarted(t *testing.T) {
	c := New(config.Default().Browser, SinkFunc(func(context.Context, cdp.Event) error { return nil }))

	assert.ErrorIs(t, c.Watch(context.Background()), ErrNotStarted)
	_, err := c.Visit(context.Background(), "https://a.com/")
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.Empty(t, c.Tabs())
	assert.NoError(t, c.Close())
}

func TestCapture_Dispatch(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	calls := 0
	sink := SinkFunc(func(_ context.Context, ev cdp.Event) error {
		calls++
		switch ev.Method {
		case "Unknown.event":
			return fmt.Errorf("%s: %w", ev.Method, app.ErrNoHandler)
		case cdp.MethodTabRemoved:
			return errors.New("store closed")
		}
		return nil
	})
	c := New(config.Default().Browser, sink, WithLogger(zap.New(core)))
	ctx := context.Background()

	c.emit(ctx, "T1", "Unknown.event", struct{}{})
	c.emit(ctx, "T1", cdp.MethodTabCreated, cdp.TabCreated{})
	c.emit(ctx, "T1", cdp.MethodTabRemoved, struct{}{})

	assert.Equal(t, 3, calls)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "Dropped event", logs.All()[0].Message)

	assert.True(t, c.activate("T1"))
	assert.False(t, c.activate("T1"))
	assert.True(t, c.activate("T2"))
}

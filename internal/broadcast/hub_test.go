package broadcast

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/artpar/cookielens/internal/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestHub(t *testing.T, opts ...Option) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(opts...)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, tab string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if tab != "" {
		url += "?tab=" + tab
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	var msg Message
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Clients() == n }, 5*time.Second, 10*time.Millisecond)
}

func TestMessages(t *testing.T) {
	assert.Equal(t, Message{Type: "BADGE", TabID: "3", Payload: "12"}, Badge("3", 12))
	assert.Equal(t, Message{Type: "NEW_COOKIE_DATA", TabID: "3", Payload: `{"a":1}`}, NewCookieData("3", []byte(`{"a":1}`)))
}

func TestHub_DeliversPerTab(t *testing.T) {
	m := metrics.New()
	hub, srv := newTestHub(t, WithMetrics(m))
	ctx := context.Background()

	tab1 := dial(t, srv, "1")
	tab2 := dial(t, srv, "2")
	all := dial(t, srv, "")
	waitForClients(t, hub, 3)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.WSConnections))

	require.NoError(t, hub.Publish(ctx, Badge("1", 4)))
	require.NoError(t, hub.Publish(ctx, NewCookieData("2", []byte(`{}`))))
	require.NoError(t, hub.Publish(ctx, Badge("1", 5)))

	assert.Equal(t, Badge("1", 4), read(t, tab1))
	// the tab 2 message was skipped
	assert.Equal(t, Badge("1", 5), read(t, tab1))

	assert.Equal(t, NewCookieData("2", []byte(`{}`)), read(t, tab2))

	assert.Equal(t, Badge("1", 4), read(t, all))
	assert.Equal(t, NewCookieData("2", []byte(`{}`)), read(t, all))
	assert.Equal(t, Badge("1", 5), read(t, all))

	assert.Equal(t, 4.0, testutil.ToFloat64(m.WSMessages.WithLabelValues(TypeBadge)))
}

func TestHub_SnapshotOnConnect(t *testing.T) {
	_, srv := newTestHub(t, WithSnapshot(func(_ context.Context, tabID string) ([]Message, error) {
		if tabID == "9" {
			return []Message{NewCookieData("9", []byte(`{"k":{}}`)), Badge("9", 1)}, nil
		}
		return nil, errors.New("unknown tab")
	}))

	conn := dial(t, srv, "9")
	assert.Equal(t, TypeNewCookieData, read(t, conn).Type)
	assert.Equal(t, Badge("9", 1), read(t, conn))
}

func TestHub_SnapshotPrecedesLiveMessages(t *testing.T) {
	building := make(chan struct{})
	release := make(chan struct{})
	hub, srv := newTestHub(t, WithSnapshot(func(_ context.Context, tabID string) ([]Message, error) {
		close(building)
		<-release
		return []Message{NewCookieData(tabID, []byte(`{"old":{}}`))}, nil
	}))

	conn := dial(t, srv, "9")
	<-building

	published := make(chan error, 1)
	go func() {
		published <- hub.Publish(context.Background(), NewCookieData("9", []byte(`{"new":{}}`)))
	}()
	// give the publish a chance to race the snapshot
	time.Sleep(50 * time.Millisecond)
	close(release)

	require.NoError(t, <-published)
	assert.Equal(t, NewCookieData("9", []byte(`{"old":{}}`)), read(t, conn))
	assert.Equal(t, NewCookieData("9", []byte(`{"new":{}}`)), read(t, conn))
}

func TestHub_ClientDisconnect(t *testing.T) {
	hub, srv := newTestHub(t)

	conn := dial(t, srv, "1")
	waitForClients(t, hub, 1)

	require.NoError(t, conn.Close())
	waitForClients(t, hub, 0)
	assert.NoError(t, hub.Publish(context.Background(), Badge("1", 1)))
}

func TestHub_Close(t *testing.T) {
	hub, srv := newTestHub(t)

	conn := dial(t, srv, "1")
	waitForClients(t, hub, 1)

	require.NoError(t, hub.Close())
	assert.Equal(t, 0, hub.Clients())
	assert.ErrorIs(t, hub.Publish(context.Background(), Badge("1", 1)), ErrHubClosed)

	// the server closes the connection
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	require.NoError(t, hub.Close())
}

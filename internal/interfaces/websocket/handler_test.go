package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ngoclaw/chatsync/internal/infrastructure/docstore"
	"github.com/ngoclaw/chatsync/internal/infrastructure/eventbus"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

// racingJournal commits a live change while the journal is being read,
// the way a write landing between replay and subscription would.
type racingJournal struct {
	hub    *Hub
	events []eventbus.Event
	live   docstore.Change
}

func (j *racingJournal) ReadSince(ctx context.Context, since time.Time) ([]eventbus.Event, error) {
	j.hub.Publish(j.live)
	// 给 hub 时间分发
	time.Sleep(50 * time.Millisecond)
	return j.events, nil
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := NewHub(testLogger())
	go hub.Run(ctx)
	return hub
}

func dial(t *testing.T, h *Handler, prefix string, since time.Time) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	u.Scheme = "ws"
	u.RawQuery = url.Values{
		"prefix": {prefix},
		"since":  {strconv.FormatInt(since.UnixMilli(), 10)},
	}.Encode()
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readPaths(t *testing.T, conn *websocket.Conn, n int) []string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var paths []string
	for len(paths) < n {
		var ch docstore.Change
		require.NoError(t, conn.ReadJSON(&ch))
		paths = append(paths, ch.Path)
	}
	return paths
}

// === Replay ===

func TestServeWS_ChangeDuringReplayIsDelivered(t *testing.T) {
	hub := startHub(t)
	journal := &racingJournal{
		hub: hub,
		events: []eventbus.Event{
			eventbus.NewEvent(eventbus.EventTypeDocumentSet, eventbus.DocumentChangePayload{Path: "users/u1/conversations/old"}),
		},
		live: docstore.Change{Path: "users/u1/conversations/new", At: time.Now()},
	}
	conn := dial(t, NewHandler(hub, journal, testLogger()), "users/u1", time.Now().Add(-time.Minute))

	assert.Equal(t, []string{"users/u1/conversations/old", "users/u1/conversations/new"}, readPaths(t, conn, 2))
}

func TestServeWS_ReplayFiltersPrefix(t *testing.T) {
	hub := startHub(t)
	journal := &racingJournal{
		hub: hub,
		events: []eventbus.Event{
			eventbus.NewEvent(eventbus.EventTypeDocumentSet, eventbus.DocumentChangePayload{Path: "users/u2/conversations/x"}),
			eventbus.NewEvent(eventbus.EventTypeSyncState, nil),
			eventbus.NewEvent(eventbus.EventTypeDocumentDeleted, eventbus.DocumentChangePayload{Path: "users/u1/conversations/gone", Deleted: true}),
		},
		live: docstore.Change{Path: "users/u2/conversations/y", At: time.Now()},
	}
	conn := dial(t, NewHandler(hub, journal, testLogger()), "users/u1", time.Now().Add(-time.Minute))

	assert.Equal(t, []string{"users/u1/conversations/gone"}, readPaths(t, conn, 1))
	assert.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestServeWS_RejectsBadSince(t *testing.T) {
	hub := startHub(t)
	srv := httptest.NewServer(http.HandlerFunc(NewHandler(hub, nil, testLogger()).ServeWS))
	defer srv.Close()

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "?since=yesterday"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 0, hub.ClientCount())
}

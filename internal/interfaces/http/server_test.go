package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
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

	"github.com/ngoclaw/chatsync/internal/domain/entity"
	"github.com/ngoclaw/chatsync/internal/domain/valueobject"
	"github.com/ngoclaw/chatsync/internal/infrastructure/auth"
	"github.com/ngoclaw/chatsync/internal/infrastructure/blobstore"
	"github.com/ngoclaw/chatsync/internal/infrastructure/docstore"
	"github.com/ngoclaw/chatsync/internal/infrastructure/eventbus"
	"github.com/ngoclaw/chatsync/internal/infrastructure/remote"
	apperrors "github.com/ngoclaw/chatsync/pkg/errors"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

// pngBytes is the smallest payload mimetype recognises as image/png.
var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)

type testServer struct {
	url    string
	issuer *auth.TokenIssuer
	inner  *docstore.MemoryStore
	bus    *eventbus.PersistentBus
}

func newTestServer(t *testing.T, withAuth bool) *testServer {
	t.Helper()
	logger := testLogger()

	bus, err := eventbus.NewPersistentBus(eventbus.PersistentBusConfig{WALDir: t.TempDir()}, logger)
	require.NoError(t, err)
	t.Cleanup(bus.Close)

	inner := docstore.NewMemoryStore()
	inner.SetMaxBatchSize(3)

	var issuer *auth.TokenIssuer
	if withAuth {
		issuer, err = auth.NewTokenIssuer("server-secret", time.Minute)
		require.NoError(t, err)
	}
	blobs, err := blobstore.NewLocalStore(blobstore.Config{Dir: t.TempDir(), SigningKey: "blob-key"}, logger)
	require.NoError(t, err)

	s := NewServer(Config{Mode: "production"}, Deps{
		Store:   docstore.NewObservedStore(inner, bus, logger),
		Issuer:  issuer,
		Blobs:   blobs,
		Journal: bus,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	s.StartWatchFeed(ctx)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testServer{url: srv.URL, issuer: issuer, inner: inner, bus: bus}
}

// client returns an HTTPStore authenticated as uid ("" for no token).
func (ts *testServer) client(t *testing.T, uid string) *docstore.HTTPStore {
	t.Helper()
	var tokens docstore.TokenSource
	if uid != "" && ts.issuer != nil {
		tokens = docstore.TokenFunc(func(context.Context) (string, error) { return ts.issuer.Issue(uid) })
	}
	c, err := docstore.NewHTTPStore(docstore.HTTPConfig{BaseURL: ts.url, MaxBatchSize: 10}, tokens, testLogger())
	require.NoError(t, err)
	return c
}

// === Documents ===

func TestServer_DocumentRoundTrip(t *testing.T) {
	ts := newTestServer(t, true)
	c := ts.client(t, "u1")
	ctx := context.Background()

	odd := "a b?#%x"
	path := docstore.Join("users", "u1", "conversations", odd)
	require.NoError(t, c.Set(ctx, path, map[string]any{"title": "hello", "updatedAt": 2}))
	require.NoError(t, c.Set(ctx, "users/u1/conversations/c2", map[string]any{"title": "second", "updatedAt": 1}))

	doc, err := c.Get(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, odd, doc.ID())
	assert.Equal(t, "hello", doc.Data["title"])

	docs, err := c.Query(ctx, docstore.Query{
		Collection: "users/u1/conversations",
		OrderBy:    "updatedAt",
		Direction:  docstore.Desc,
	})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, odd, docs[0].ID())

	n, err := c.Count(ctx, docstore.CountQuery{Collection: "users/u1/conversations"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	cols, err := c.ListCollections(ctx, "users/u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"conversations"}, cols)

	require.NoError(t, c.Delete(ctx, path))
	_, err = c.Get(ctx, path)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestServer_Batch(t *testing.T) {
	ts := newTestServer(t, true)
	c := ts.client(t, "u1")
	ctx := context.Background()

	b := c.Batch()
	b.Set("users/u1/conversations/c1", map[string]any{"n": 1})
	b.Set("users/u1/conversations/c2", map[string]any{"n": 2})
	require.NoError(t, b.Commit(ctx))
	assert.Equal(t, 2, ts.inner.Len())

	// the client allows 10, the server only 3
	big := c.Batch()
	for i := 0; i < 4; i++ {
		big.Set("users/u1/conversations/x"+strconv.Itoa(i), map[string]any{})
	}
	err := big.Commit(ctx)
	assert.Equal(t, apperrors.CodeBatchTooLarge, apperrors.CodeOf(err))
	assert.Equal(t, 2, ts.inner.Len(), "rejected batch writes nothing")

	limits, err := c.Limits(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, limits.MaxBatchSize)
}

// === Auth ===

func TestServer_EnforcesNamespaces(t *testing.T) {
	ts := newTestServer(t, true)
	ctx := context.Background()
	require.NoError(t, ts.inner.Set(ctx, "users/u2/conversations/c1", map[string]any{"secret": true}))

	alice := ts.client(t, "u1")
	tests := []struct {
		name string
		call func() error
		code apperrors.ErrorCode
	}{
		{"foreign get", func() error { _, err := alice.Get(ctx, "users/u2/conversations/c1"); return err }, apperrors.CodeForbidden},
		{"foreign set", func() error { return alice.Set(ctx, "users/u2/conversations/c9", map[string]any{}) }, apperrors.CodeForbidden},
		{"foreign query", func() error {
			_, err := alice.Query(ctx, docstore.Query{Collection: "users/u2/conversations"})
			return err
		}, apperrors.CodeForbidden},
		{"all users", func() error { _, err := alice.Query(ctx, docstore.Query{Collection: "users"}); return err }, apperrors.CodeForbidden},
		{"group count without prefix", func() error {
			_, err := alice.Count(ctx, docstore.CountQuery{Group: "messages"})
			return err
		}, apperrors.CodeForbidden},
		{"mixed batch", func() error {
			b := alice.Batch()
			b.Set("users/u1/conversations/c1", map[string]any{})
			b.Delete("users/u2/conversations/c1")
			return b.Commit(ctx)
		}, apperrors.CodeForbidden},
		{"no token", func() error { _, err := ts.client(t, "").Get(ctx, "users/u1/conversations/c1"); return err }, apperrors.CodeUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, apperrors.CodeOf(tt.call()))
		})
	}

	_, err := ts.inner.Get(ctx, "users/u2/conversations/c1")
	assert.NoError(t, err, "foreign document untouched")
	_, err = ts.inner.Get(ctx, "users/u1/conversations/c1")
	assert.True(t, apperrors.IsNotFound(err), "mixed batch is all or nothing")
}

func TestServer_ExpiredToken(t *testing.T) {
	ts := newTestServer(t, true)
	stale, err := auth.NewTokenIssuer("server-secret", time.Minute)
	require.NoError(t, err)
	stale.SetClock(func() time.Time { return time.Now().Add(-time.Hour) })

	c, err := docstore.NewHTTPStore(docstore.HTTPConfig{BaseURL: ts.url},
		docstore.TokenFunc(func(context.Context) (string, error) { return stale.Issue("u1") }), testLogger())
	require.NoError(t, err)
	_, err = c.Get(context.Background(), "users/u1/conversations/c1")
	assert.Equal(t, apperrors.CodeUnauthorized, apperrors.CodeOf(err))
}

func TestServer_OpenServer(t *testing.T) {
	ts := newTestServer(t, false)
	c := ts.client(t, "")
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "users/anyone/conversations/c1", map[string]any{}))
	cols, err := c.ListCollections(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"users"}, cols)
}

// === Remote adapter over HTTP ===

func TestServer_RemoteAdapterOverHTTP(t *testing.T) {
	ts := newTestServer(t, true)
	adapter := remote.NewAdapter(ts.client(t, "u1"), remote.Options{}, testLogger())
	ctx := context.Background()
	t0 := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	conv := &entity.Conversation{
		ID:        "c1",
		Title:     "over the wire",
		CreatedAt: t0,
		UpdatedAt: t0.Add(3 * time.Minute),
		Source:    entity.SourceServer,
	}
	for i, role := range []entity.Role{entity.RoleUser, entity.RoleAssistant, entity.RoleUser} {
		conv.Messages = append(conv.Messages, &entity.Message{
			ID:        "m" + strconv.Itoa(i),
			Role:      role,
			Content:   valueobject.NewTextContent("hi " + strconv.Itoa(i)),
			Timestamp: t0.Add(time.Duration(i) * time.Minute),
		})
	}
	require.NoError(t, adapter.SaveConversation(ctx, "u1", conv))

	got, err := adapter.LoadConversation(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "over the wire", got.Title)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "m0", got.Messages[0].ID)

	page, err := adapter.LoadMessagesPaginated(ctx, "u1", "c1", 2, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.True(t, page.HasMore)

	_, err = adapter.LoadConversation(ctx, "u2", "c1")
	assert.True(t, apperrors.IsUnauthorized(err))
}

// === Watch ===

func TestServer_WatchStreamsOwnChanges(t *testing.T) {
	ts := newTestServer(t, true)
	alice := ts.client(t, "u1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan docstore.Change, 8)
	watchDone := make(chan error, 1)
	go func() {
		watchDone <- alice.Watch(ctx, "users/u1", func(c docstore.Change) { changes <- c })
	}()
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, ts.client(t, "u2").Set(ctx, "users/u2/conversations/x", map[string]any{}))
	require.NoError(t, alice.Set(ctx, "users/u1/conversations/c1", map[string]any{"n": 1}))

	select {
	case c := <-changes:
		assert.Equal(t, "users/u1/conversations/c1", c.Path)
		assert.Equal(t, float64(1), c.Data["n"])
	case <-time.After(2 * time.Second):
		t.Fatal("no change received")
	}

	cancel()
	select {
	case err := <-watchDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not return after cancel")
	}
}

func TestServer_WatchRejectsForeignPrefix(t *testing.T) {
	ts := newTestServer(t, true)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := ts.client(t, "u1").Watch(ctx, "users/u2", func(docstore.Change) {})
	assert.True(t, apperrors.IsUnavailable(err), "handshake refused")
}

func TestServer_WatchReplaysJournal(t *testing.T) {
	ts := newTestServer(t, false)
	ctx := context.Background()
	c := ts.client(t, "")

	before := time.Now().Add(-time.Second)
	require.NoError(t, c.Set(ctx, "users/u1/conversations/c1", map[string]any{"n": 1}))
	require.NoError(t, c.Set(ctx, "users/u2/conversations/c1", map[string]any{"n": 2}))

	u, err := url.Parse(ts.url)
	require.NoError(t, err)
	u.Scheme = "ws"
	u.Path = docstore.WatchRoute
	u.RawQuery = url.Values{
		"prefix": {"users/u1"},
		"since":  {strconv.FormatInt(before.UnixMilli(), 10)},
	}.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ch docstore.Change
	require.NoError(t, conn.ReadJSON(&ch))
	assert.Equal(t, "users/u1/conversations/c1", ch.Path)
	assert.Equal(t, float64(1), ch.Data["n"])
}

// === Blobs ===

func TestServer_Blobs(t *testing.T) {
	ts := newTestServer(t, true)
	token, err := ts.issuer.Issue("u1")
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, ts.url+docstore.APIPrefix+"/blobs?filename=cat.png", bytes.NewReader(pngBytes))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var ref entity.BlobRef
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ref))
	assert.True(t, strings.HasPrefix(ref.StoragePath, "u1/"))
	assert.Equal(t, "image/png", ref.MimeType)

	get, err := http.Get(ts.url + ref.URL)
	require.NoError(t, err)
	body, _ := io.ReadAll(get.Body)
	get.Body.Close()
	assert.Equal(t, http.StatusOK, get.StatusCode)
	assert.Equal(t, pngBytes, body)

	tampered := strings.Replace(ref.URL, "sig=", "sig=00", 1)
	get, err = http.Get(ts.url + tampered)
	require.NoError(t, err)
	get.Body.Close()
	assert.Equal(t, http.StatusForbidden, get.StatusCode)
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t, true)
	resp, err := http.Get(ts.url + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// === Metrics ===

func TestServer_Metrics(t *testing.T) {
	ts := newTestServer(t, false)
	c := ts.client(t, "")
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "users/u1/conversations/c1", map[string]any{"title": "x"}))
	_, err := c.Get(ctx, "users/u1/conversations/c1")
	require.NoError(t, err)
	_, err = c.Get(ctx, "users/u1/conversations/missing")
	require.True(t, apperrors.IsNotFound(err))

	resp, err := http.Get(ts.url + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	text := string(body)
	assert.Contains(t, text, "chatsync_requests_total 3")
	assert.Contains(t, text, "chatsync_requests_failed_total 1")
	assert.Contains(t, text, `chatsync_document_ops_total{op="read"} 2`)
	assert.Contains(t, text, `chatsync_document_ops_total{op="write"} 1`)
}

func TestServer_DebugEndpoints(t *testing.T) {
	ts := newTestServer(t, false)

	resp, err := http.Get(ts.url + docstore.APIPrefix + "/debug/watchers")
	require.NoError(t, err)
	var watchers struct {
		Enabled bool `json:"enabled"`
		Count   int  `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&watchers))
	resp.Body.Close()
	assert.True(t, watchers.Enabled)
	assert.Zero(t, watchers.Count)

	resp, err = http.Get(ts.url + docstore.APIPrefix + "/debug/dashboard")
	require.NoError(t, err)
	var dash map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&dash))
	resp.Body.Close()
	assert.Contains(t, dash, "stats")
	assert.Contains(t, dash, "history")
}

func TestServer_DebugRequiresToken(t *testing.T) {
	ts := newTestServer(t, true)
	resp, err := http.Get(ts.url + docstore.APIPrefix + "/debug/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

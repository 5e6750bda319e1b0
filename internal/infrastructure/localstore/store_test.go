package localstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ngoclaw/chatsync/internal/domain/entity"
	"github.com/ngoclaw/chatsync/internal/infrastructure/persistence"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T) (*Store, *MemorySubstrate, *fakeClock) {
	t.Helper()
	sub := NewMemorySubstrate()
	clock := &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	return NewStore(sub, Options{TTL: 30 * time.Second, Now: clock.Now}, testLogger()), sub, clock
}

// === Cache TTL ===

func TestStore_GetWithinTTLReadsOnce(t *testing.T) {
	store, sub, clock := newTestStore(t)
	require.NoError(t, sub.Write(KeyProviders, []byte(`[{"id":"openai","label":"OpenAI"}]`)))

	first, ok := Get(store, KeyProviders, ProvidersCodec)
	require.True(t, ok)
	require.Len(t, first, 1)

	clock.Advance(10 * time.Second)
	_, ok = Get(store, KeyProviders, ProvidersCodec)
	require.True(t, ok)
	assert.Equal(t, 1, sub.Reads(), "second read inside the TTL must come from memory")

	clock.Advance(25 * time.Second)
	_, ok = Get(store, KeyProviders, ProvidersCodec)
	require.True(t, ok)
	assert.Equal(t, 2, sub.Reads(), "read after the TTL must hit storage again")
}

func TestStore_SetRefreshesCache(t *testing.T) {
	store, sub, _ := newTestStore(t)

	require.True(t, store.Set(KeySelectedModels, []string{"gpt-4o"}))
	ids, ok := Get(store, KeySelectedModels, StringsCodec)
	require.True(t, ok)
	assert.Equal(t, []string{"gpt-4o"}, ids)
	assert.Equal(t, 0, sub.Reads())
}

func TestStore_ClearEvictsWithoutTouchingStorage(t *testing.T) {
	store, sub, _ := newTestStore(t)
	require.True(t, store.Set(KeySelectedModels, []string{"a"}))

	store.Clear(KeySelectedModels)
	ids, ok := Get(store, KeySelectedModels, StringsCodec)
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, ids)
	assert.Equal(t, 1, sub.Reads())

	store.Clear()
	_, _ = Get(store, KeySelectedModels, StringsCodec)
	assert.Equal(t, 2, sub.Reads())
}

// === Failure semantics ===

func TestStore_CorruptValueIsAbsent(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{{{`},
		{"wrong shape", `{"id":"x"}`},
		{"invalid provider", `[{"id":"","label":"no id"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, sub, _ := newTestStore(t)
			require.NoError(t, sub.Write(KeyProviders, []byte(tt.raw)))

			ps, ok := Get(store, KeyProviders, ProvidersCodec)
			assert.False(t, ok)
			assert.Nil(t, ps)
		})
	}
}

func TestStore_MissingKey(t *testing.T) {
	store, _, _ := newTestStore(t)
	_, ok := Get(store, "nope", StringsCodec)
	assert.False(t, ok)
}

type failingSubstrate struct{ *MemorySubstrate }

func (failingSubstrate) Write(string, []byte) error { return os.ErrPermission }

func TestStore_SetFailureReturnsFalse(t *testing.T) {
	store := NewStore(failingSubstrate{NewMemorySubstrate()}, Options{}, testLogger())

	var events int
	store.Changes().Subscribe(func(ChangeEvent) { events++ })

	assert.False(t, store.Set(KeyProviders, []entity.Provider{{ID: "p"}}))
	assert.False(t, store.Set("bad", func() {}), "unserializable values fail without panicking")
	assert.Equal(t, 0, events)

	_, ok := Get(store, KeyProviders, ProvidersCodec)
	assert.False(t, ok)
}

// === Change notification ===

func TestStore_ChangeEvents(t *testing.T) {
	store, _, _ := newTestStore(t)

	var got []ChangeEvent
	store.Changes().Subscribe(func(ev ChangeEvent) { got = append(got, ev) })

	require.True(t, store.Set(KeySelectedModels, []string{"m1"}))
	require.True(t, store.Remove(KeySelectedModels))

	require.Len(t, got, 2)
	assert.Equal(t, KeySelectedModels, got[0].Key)
	assert.JSONEq(t, `["m1"]`, string(got[0].Value))
	assert.False(t, got[0].External)
	assert.True(t, got[1].Removed)
}

// === Keys ===

func TestModelsKey(t *testing.T) {
	assert.Equal(t, "models_system", ModelsKey(entity.BucketSystem))
	assert.Equal(t, "models_custom_p1", ModelsKey(entity.CustomBucket("p1")))

	b, ok := BucketFromKey("models_custom_p1")
	assert.True(t, ok)
	assert.Equal(t, "custom_p1", b)

	_, ok = BucketFromKey("models_")
	assert.False(t, ok)

	assert.True(t, IsWatchedKey("models_openai"))
	assert.True(t, IsWatchedKey(KeyProviders))
	assert.False(t, IsWatchedKey(KeyConversations))
}

// === File substrate ===

func TestFileSubstrate_RoundTrip(t *testing.T) {
	sub, err := NewFileSubstrate(t.TempDir(), testLogger())
	require.NoError(t, err)

	require.NoError(t, sub.Write("models_custom_a/b", []byte(`[]`)))
	require.NoError(t, sub.Write(KeyProviders, []byte(`[]`)))

	data, ok, err := sub.Read("models_custom_a/b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `[]`, string(data))

	keys, err := sub.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{KeyProviders, "models_custom_a/b"}, keys)

	require.NoError(t, sub.Remove(KeyProviders))
	require.NoError(t, sub.Remove(KeyProviders))
	_, ok, err = sub.Read(KeyProviders)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_WatchExternal(t *testing.T) {
	dir := t.TempDir()
	sub, err := NewFileSubstrate(dir, testLogger())
	require.NoError(t, err)
	store := NewStore(sub, Options{}, testLogger())
	require.True(t, store.CanWatch())

	// warm the cache so the external write must evict it
	require.True(t, store.Set(KeyProviders, []entity.Provider{{ID: "old"}}))

	events := make(chan ChangeEvent, 8)
	store.Changes().Subscribe(func(ev ChangeEvent) {
		if ev.External {
			events <- ev
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = store.WatchExternal(ctx) }()
	time.Sleep(100 * time.Millisecond)

	// our own write is not reported as external
	require.True(t, store.Set(KeySelectedModels, []string{"mine"}))

	// another process replaces the providers file
	other, err := NewFileSubstrate(dir, nil)
	require.NoError(t, err)
	require.NoError(t, other.Write(KeyProviders, []byte(`[{"id":"new"}]`)))

	select {
	case ev := <-events:
		assert.Equal(t, KeyProviders, ev.Key)
		assert.JSONEq(t, `[{"id":"new"}]`, string(ev.Value))
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for external change")
	}

	ps, ok := Get(store, KeyProviders, ProvidersCodec)
	require.True(t, ok)
	require.Len(t, ps, 1)
	assert.Equal(t, "new", ps[0].ID)
}

// === Gorm substrate ===

func TestGormSubstrate(t *testing.T) {
	db, err := persistence.NewDBConnection(persistence.DBConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "local.db"),
	}, testLogger())
	require.NoError(t, err)
	defer persistence.Close(db)

	sub := NewGormSubstrate(db)
	require.NoError(t, sub.Write("k", []byte("v1")))
	require.NoError(t, sub.Write("k", []byte("v2")))

	data, ok, err := sub.Read("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", string(data))

	keys, err := sub.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"k"}, keys)

	require.NoError(t, sub.Remove("k"))
	_, ok, err = sub.Read("k")
	require.NoError(t, err)
	assert.False(t, ok)
}

package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ngoclaw/chatsync/internal/application/usecase"
	"github.com/ngoclaw/chatsync/internal/domain/entity"
	"github.com/ngoclaw/chatsync/internal/domain/valueobject"
	"github.com/ngoclaw/chatsync/internal/infrastructure/config"
	"github.com/ngoclaw/chatsync/internal/infrastructure/docstore"
	apperrors "github.com/ngoclaw/chatsync/pkg/errors"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

func memoryConfig() *config.Config {
	return &config.Config{
		Local:  config.LocalConfig{Driver: "memory"},
		Remote: config.RemoteConfig{Driver: "memory", BatchLimit: 50},
		Auth:   config.AuthConfig{TokenSecret: "test-secret", TokenTTL: time.Minute},
		Sync:   config.SyncConfig{PageSize: 20, MessagePageSize: 50},
	}
}

func newTestApp(t *testing.T, cfg *config.Config, opts Options) *App {
	t.Helper()
	if opts.Now == nil {
		opts.Now = func() time.Time { return t0 }
	}
	app, err := NewApp(context.Background(), cfg, testLogger(), opts)
	require.NoError(t, err)
	t.Cleanup(app.Close)
	return app
}

func userMessage(text string) *entity.Message {
	return &entity.Message{Role: entity.RoleUser, Content: valueobject.NewTextContent(text)}
}

// === Assembly ===

func TestNewApp_Offline(t *testing.T) {
	app := newTestApp(t, memoryConfig(), Options{Offline: true})
	ctx := context.Background()

	assert.Nil(t, app.Remote())
	assert.Nil(t, app.DocumentStore())
	assert.True(t, app.CurrentUser().IsAnonymous())

	conv, err := app.Conversations().AppendMessage(ctx, usecase.AppendRequest{Message: userMessage("offline note")})
	require.NoError(t, err)
	loaded, err := app.Conversations().LoadConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "offline note", loaded.Title)

	err = app.WatchRemote(ctx, func(docstore.Change) {})
	assert.True(t, apperrors.IsUnauthorized(err))
}

func TestNewApp_UnsupportedDrivers(t *testing.T) {
	cfg := memoryConfig()
	cfg.Local.Driver = "tape"
	_, err := NewApp(context.Background(), cfg, testLogger(), Options{})
	assert.Error(t, err)

	cfg = memoryConfig()
	cfg.Remote.Driver = "carrier-pigeon"
	_, err = NewApp(context.Background(), cfg, testLogger(), Options{})
	assert.Error(t, err)
}

// === Session lifecycle ===

func TestApp_LoginMigratesAnonymousConversations(t *testing.T) {
	app := newTestApp(t, memoryConfig(), Options{})
	ctx := context.Background()

	conv, err := app.Conversations().AppendMessage(ctx, usecase.AppendRequest{Message: userMessage("before login")})
	require.NoError(t, err)

	var started, completed bool
	user, err := app.Login(ctx, "u1", "Ada", &usecase.SyncEvents{
		OnSyncStart:    func() { started = true },
		OnSyncComplete: func(*entity.ConfigSnapshot) { completed = true },
	})
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID())
	assert.True(t, started)
	assert.True(t, completed)

	stored, err := app.Remote().LoadConversation(ctx, "u1", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "before login", stored.Title)

	// signed in: reads go to the remote store
	loaded, err := app.Conversations().LoadConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.Messages, 1)

	require.NoError(t, app.Logout(ctx))
	assert.True(t, app.CurrentUser().IsAnonymous())
	local, err := app.Conversations().LoadConversations(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, local)
}

func TestApp_LoginWithoutRemote(t *testing.T) {
	app := newTestApp(t, memoryConfig(), Options{Offline: true})
	user, err := app.Login(context.Background(), "u1", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "u1", user.Username())
}

func TestApp_WatchRemoteWithoutFeed(t *testing.T) {
	app := newTestApp(t, memoryConfig(), Options{})
	_, err := app.Login(context.Background(), "u1", "", nil)
	require.NoError(t, err)

	err = app.WatchRemote(context.Background(), func(docstore.Change) {})
	assert.True(t, apperrors.IsUnavailable(err))
}

// === Document server ===

func TestNewDocServer_RejectsHTTPDriver(t *testing.T) {
	cfg := memoryConfig()
	cfg.Remote.Driver = "http"
	cfg.Remote.BaseURL = "http://localhost:1"
	_, err := NewDocServer(context.Background(), cfg, testLogger())
	assert.True(t, apperrors.IsInvalidInput(err))
}

func TestNewDocServer_Memory(t *testing.T) {
	cfg := memoryConfig()
	cfg.Server = config.ServerConfig{Host: "127.0.0.1", Port: 0, Mode: "production", EventWALDir: t.TempDir()}

	s, err := NewDocServer(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	defer s.Close()

	_, ok := s.store.(docstore.Watcher)
	assert.True(t, ok, "served store publishes changes")
}

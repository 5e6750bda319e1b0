package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ngoclaw/chatsync/internal/application/usecase"
	"github.com/ngoclaw/chatsync/internal/domain/repository"
	"github.com/ngoclaw/chatsync/internal/domain/valueobject"
	"github.com/ngoclaw/chatsync/internal/infrastructure/auth"
	"github.com/ngoclaw/chatsync/internal/infrastructure/blobstore"
	"github.com/ngoclaw/chatsync/internal/infrastructure/config"
	"github.com/ngoclaw/chatsync/internal/infrastructure/docstore"
	"github.com/ngoclaw/chatsync/internal/infrastructure/localstore"
	"github.com/ngoclaw/chatsync/internal/infrastructure/persistence"
	"github.com/ngoclaw/chatsync/internal/infrastructure/remote"
	apperrors "github.com/ngoclaw/chatsync/pkg/errors"
	"github.com/ngoclaw/chatsync/pkg/safego"
)

// App 应用程序（依赖注入容器）
type App struct {
	config *config.Config
	logger *zap.Logger

	// 本地存储
	localDB     *gorm.DB
	local       *localstore.Store
	localConvs  *localstore.LocalBackend
	localConfig *localstore.LocalConfigStore

	// 远端存储
	docs   docstore.DocumentStore
	remote *remote.Adapter

	// 会话与附件
	issuer  *auth.TokenIssuer
	session *auth.SessionManager
	blobs   *blobstore.LocalStore

	// 应用服务
	notifier      *usecase.Notifier
	conversations *usecase.ConversationStore
	sync          *usecase.SyncOrchestrator

	detachBridge func()
}

// Options 可选的启动参数
type Options struct {
	// Offline skips the remote store; everything runs against local data.
	Offline bool
	// Now replaces the clock of every component (tests).
	Now func() time.Time
}

// NewApp 创建应用程序
func NewApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	app := &App{
		config: cfg,
		logger: logger,
	}

	if err := app.initLocal(); err != nil {
		return nil, fmt.Errorf("failed to init local store: %w", err)
	}
	if err := app.initAuth(opts.Now); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to init auth: %w", err)
	}
	if !opts.Offline {
		if err := app.initRemote(ctx, opts.Now); err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to init remote store: %w", err)
		}
	}
	if err := app.initBlobs(opts.Now); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to init blob store: %w", err)
	}
	app.initApplicationServices(opts.Now)
	return app, nil
}

// initLocal 初始化本地缓存存储
func (app *App) initLocal() error {
	cfg := app.config.Local
	app.logger.Debug("Initializing local store", zap.String("driver", cfg.Driver), zap.String("path", cfg.Path))

	var substrate localstore.Substrate
	switch cfg.Driver {
	case "memory":
		substrate = localstore.NewMemorySubstrate()
	case "file":
		fs, err := localstore.NewFileSubstrate(cfg.Path, app.logger)
		if err != nil {
			return err
		}
		substrate = fs
	case "sqlite":
		db, err := persistence.NewDBConnection(persistence.DBConfig{Driver: "sqlite", DSN: cfg.Path}, app.logger)
		if err != nil {
			return err
		}
		app.localDB = db
		substrate = localstore.NewGormSubstrate(db)
	default:
		return fmt.Errorf("unsupported local driver %q", cfg.Driver)
	}

	app.local = localstore.NewStore(substrate, localstore.Options{TTL: cfg.CacheTTL}, app.logger)
	app.localConvs = localstore.NewLocalBackend(app.local, app.logger)
	app.localConfig = localstore.NewLocalConfigStore(app.local, app.logger)
	return nil
}

// initAuth 初始化会话管理
func (app *App) initAuth(now func() time.Time) error {
	cfg := app.config.Auth
	if cfg.TokenSecret != "" {
		issuer, err := auth.NewTokenIssuer(cfg.TokenSecret, cfg.TokenTTL)
		if err != nil {
			return err
		}
		issuer.SetClock(now)
		app.issuer = issuer
	}
	app.session = auth.NewSessionManager(app.local, app.issuer, auth.Options{
		UserID:    cfg.UserID,
		Anonymous: cfg.Anonymous,
		Now:       now,
	}, app.logger)
	return nil
}

// initRemote 初始化远端文档存储
func (app *App) initRemote(ctx context.Context, now func() time.Time) error {
	cfg := app.config.Remote
	docs, err := OpenDocumentStore(ctx, cfg, app.session, app.logger)
	if err != nil {
		return err
	}
	app.docs = docs

	var sealer *remote.Sealer
	if cfg.EncryptionKey != "" {
		if sealer, err = remote.NewSealer(cfg.EncryptionKey); err != nil {
			return err
		}
	}
	app.remote = remote.NewAdapter(docs, remote.Options{
		BatchLimit: cfg.BatchLimit,
		Sealer:     sealer,
		Now:        now,
	}, app.logger)
	app.logger.Info("Remote store ready",
		zap.String("driver", cfg.Driver),
		zap.Int("max_batch", docs.MaxBatchSize()),
		zap.Bool("sealed_credentials", sealer != nil),
	)
	return nil
}

// OpenDocumentStore opens the document store named by cfg.Driver. Closing
// the store releases its connection. tokens authenticates the http driver
// and may be nil.
func OpenDocumentStore(ctx context.Context, cfg config.RemoteConfig, tokens docstore.TokenSource, logger *zap.Logger) (docstore.DocumentStore, error) {
	switch cfg.Driver {
	case "memory":
		store := docstore.NewMemoryStore()
		store.SetMaxBatchSize(cfg.BatchLimit)
		return store, nil

	case "sqlite", "postgres":
		db, err := persistence.NewDBConnection(persistence.DBConfig{Driver: cfg.Driver, DSN: cfg.DSN}, logger)
		if err != nil {
			return nil, err
		}
		return docstore.NewGormStore(db, cfg.BatchLimit, logger), nil

	case "mongo":
		connectCtx := ctx
		if cfg.Timeout > 0 {
			var cancel context.CancelFunc
			connectCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
			defer cancel()
		}
		store, err := docstore.NewMongoStore(connectCtx, docstore.MongoConfig{
			URI:             cfg.DSN,
			Database:        cfg.Database,
			MaxBatchSize:    cfg.BatchLimit,
			UseTransactions: cfg.UseTransactions,
		}, logger)
		if err != nil {
			return nil, err
		}
		return store, nil

	case "http":
		store, err := docstore.NewHTTPStore(docstore.HTTPConfig{
			BaseURL:      cfg.BaseURL,
			Timeout:      cfg.Timeout,
			MaxBatchSize: cfg.BatchLimit,
		}, tokens, logger)
		if err != nil {
			return nil, err
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported remote driver %q", cfg.Driver)
	}
}

// initBlobs 初始化附件存储，未配置签名密钥时跳过
func (app *App) initBlobs(now func() time.Time) error {
	cfg := app.config.Blob
	if cfg.SigningKey == "" {
		app.logger.Debug("Blob store disabled (no signing key)")
		return nil
	}
	blobs, err := blobstore.NewLocalStore(blobstore.Config{
		Dir:        cfg.Dir,
		BaseURL:    cfg.BaseURL,
		SigningKey: cfg.SigningKey,
		URLTTL:     cfg.URLTTL,
	}, app.logger)
	if err != nil {
		return err
	}
	blobs.SetClock(now)
	app.blobs = blobs
	return nil
}

// initApplicationServices 初始化应用服务
func (app *App) initApplicationServices(now func() time.Time) {
	app.notifier = usecase.NewNotifier(app.logger)
	app.detachBridge = app.notifier.Bridge(app.local)

	deps := usecase.SyncDeps{
		LocalConfig:        app.localConfig,
		LocalConversations: app.localConvs,
		Notifier:           app.notifier,
		Now:                now,
	}
	// 接口变量不能持有 nil 指针，离线时保持为 nil
	var remoteConvs repository.ConversationBackend
	if app.remote != nil {
		deps.RemoteConfig = app.remote
		deps.RemoteConversation = app.remote
		remoteConvs = app.remote
	}
	app.sync = usecase.NewSyncOrchestrator(deps, app.logger)

	opts := []usecase.ConversationStoreOption{usecase.WithClock(now)}
	if app.blobs != nil {
		opts = append(opts, usecase.WithBlobStore(app.blobs))
	}
	app.conversations = usecase.NewConversationStore(app.localConvs, remoteConvs, app.session, app.notifier, app.logger, opts...)
}

// === Accessors ===

func (app *App) Config() *config.Config { return app.config }
func (app *App) Logger() *zap.Logger { return app.logger }
func (app *App) Notifier() *usecase.Notifier { return app.notifier }
func (app *App) Conversations() *usecase.ConversationStore { return app.conversations }
func (app *App) Sync() *usecase.SyncOrchestrator { return app.sync }
func (app *App) Session() *auth.SessionManager { return app.session }
func (app *App) LocalConfig() *localstore.LocalConfigStore { return app.localConfig }
func (app *App) Blobs() *blobstore.LocalStore { return app.blobs }
func (app *App) Issuer() *auth.TokenIssuer { return app.issuer }
func (app *App) DocumentStore() docstore.DocumentStore { return app.docs }

// Remote returns the remote adapter, or nil when running offline.
func (app *App) Remote() *remote.Adapter { return app.remote }

// CurrentUser 返回当前用户，未登录时为匿名用户
func (app *App) CurrentUser() valueobject.User {
	user, _ := app.session.CurrentUser()
	return user
}

// === Session lifecycle ===

// Login persists the session and runs the login sync, including the
// migration of conversations created while anonymous.
func (app *App) Login(ctx context.Context, userID, username string, events *usecase.SyncEvents) (valueobject.User, error) {
	user, err := app.session.Login(ctx, userID, username)
	if err != nil {
		return user, err
	}
	if app.remote == nil {
		app.logger.Warn("Signed in without a remote store; nothing to sync")
		return user, nil
	}
	if _, err := app.sync.HandleUserLogin(ctx, user, events); err != nil {
		return user, err
	}
	return user, nil
}

// Logout 退出登录
func (app *App) Logout(ctx context.Context) error {
	return app.session.Logout(ctx)
}

// === Watching ===

// WatchLocal republishes writes made by other processes sharing the local
// store. Returns immediately when watching is disabled or unsupported.
func (app *App) WatchLocal(ctx context.Context) {
	if !app.config.Local.Watch || !app.local.CanWatch() {
		return
	}
	safego.Go(app.logger, "localstore-watch", func() {
		if err := app.local.WatchExternal(ctx); err != nil && !errors.Is(err, context.Canceled) {
			app.logger.Warn("Local watch stopped", zap.Error(err))
		}
	})
}

// WatchRemote streams changes to the signed-in user's documents. It blocks
// until ctx is done. Stores without a change feed return an unavailable
// error.
func (app *App) WatchRemote(ctx context.Context, fn func(docstore.Change)) error {
	user, ok := app.session.CurrentUser()
	if !ok {
		return errNotSignedIn
	}
	watcher, ok := app.docs.(docstore.Watcher)
	if !ok {
		return errNoChangeFeed
	}
	prefix := docstore.Join("users", user.ID())
	return watcher.Watch(ctx, prefix, func(ch docstore.Change) {
		app.notifier.Conversations.Publish(usecase.ConversationsChanged{
			Kind:     usecase.ConversationsReloaded,
			UserID:   user.ID(),
			External: true,
		})
		fn(ch)
	})
}

var (
	errNotSignedIn  = apperrors.NewUnauthorizedError("sign in to watch remote changes")
	errNoChangeFeed = apperrors.NewUnavailableError("remote store has no change feed", nil)
)

// Close 释放所有资源
func (app *App) Close() {
	if app.detachBridge != nil {
		app.detachBridge()
	}
	if app.docs != nil {
		if err := app.docs.Close(); err != nil {
			app.logger.Warn("Closing remote store", zap.Error(err))
		}
	}
	if app.localDB != nil {
		if err := persistence.Close(app.localDB); err != nil {
			app.logger.Warn("Closing local database", zap.Error(err))
		}
	}
	if app.local != nil {
		if err := app.local.Close(); err != nil {
			app.logger.Warn("Closing local store", zap.Error(err))
		}
	}
}

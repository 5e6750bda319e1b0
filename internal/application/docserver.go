package application

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ngoclaw/chatsync/internal/infrastructure/auth"
	"github.com/ngoclaw/chatsync/internal/infrastructure/blobstore"
	"github.com/ngoclaw/chatsync/internal/infrastructure/config"
	"github.com/ngoclaw/chatsync/internal/infrastructure/docstore"
	"github.com/ngoclaw/chatsync/internal/infrastructure/eventbus"
	httpServer "github.com/ngoclaw/chatsync/internal/interfaces/http"
	"github.com/ngoclaw/chatsync/internal/interfaces/websocket"
	apperrors "github.com/ngoclaw/chatsync/pkg/errors"
)

// DocServer 文档服务（REST + 变更推送 + 附件）
type DocServer struct {
	store  docstore.DocumentStore
	bus    eventbus.Bus
	http   *httpServer.Server
	logger *zap.Logger
}

// NewDocServer opens the document store named by cfg.Remote and wraps it
// for serving. Changes are journaled under server.event_wal_dir when set.
func NewDocServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*DocServer, error) {
	if cfg.Remote.Driver == "http" {
		return nil, apperrors.NewInvalidInputError("the document server needs a database driver, not http")
	}
	s := &DocServer{logger: logger}

	inner, err := OpenDocumentStore(ctx, cfg.Remote, nil, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open document store: %w", err)
	}

	// 变更日志
	var journal websocket.Journal
	if dir := cfg.Server.EventWALDir; dir != "" {
		pbus, err := eventbus.NewPersistentBus(eventbus.PersistentBusConfig{WALDir: dir}, logger)
		if err != nil {
			_ = inner.Close()
			return nil, fmt.Errorf("failed to open change journal: %w", err)
		}
		s.bus = pbus
		journal = pbus
	} else {
		s.bus = eventbus.NewInMemoryBus(logger, 0)
	}
	s.store = docstore.NewObservedStore(inner, s.bus, logger)

	var issuer *auth.TokenIssuer
	if cfg.Auth.TokenSecret != "" {
		if issuer, err = auth.NewTokenIssuer(cfg.Auth.TokenSecret, cfg.Auth.TokenTTL); err != nil {
			s.Close()
			return nil, err
		}
	} else {
		logger.Warn("No auth.token_secret: serving an open, single-tenant API")
	}

	var blobs *blobstore.LocalStore
	if cfg.Blob.SigningKey != "" {
		if blobs, err = blobstore.NewLocalStore(blobstore.Config{
			Dir:        cfg.Blob.Dir,
			BaseURL:    cfg.Blob.BaseURL,
			SigningKey: cfg.Blob.SigningKey,
			URLTTL:     cfg.Blob.URLTTL,
		}, logger); err != nil {
			s.Close()
			return nil, err
		}
	}

	s.http = httpServer.NewServer(httpServer.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
		Mode: cfg.Server.Mode,
	}, httpServer.Deps{
		Store:   s.store,
		Issuer:  issuer,
		Blobs:   blobs,
		Journal: journal,
	}, logger)

	logger.Info("Document server ready",
		zap.String("driver", cfg.Remote.Driver),
		zap.String("addr", cfg.Server.Addr()),
		zap.Bool("auth", issuer != nil),
		zap.Bool("blobs", blobs != nil),
		zap.Bool("journal", journal != nil),
	)
	return s, nil
}

// Start 启动服务
func (s *DocServer) Start(ctx context.Context) error {
	return s.http.Start(ctx)
}

// Stop shuts the HTTP server down and releases the store.
func (s *DocServer) Stop(ctx context.Context) error {
	err := s.http.Stop(ctx)
	s.Close()
	return err
}

// Close 释放存储与事件总线
func (s *DocServer) Close() {
	if s.bus != nil {
		s.bus.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("Closing document store", zap.Error(err))
		}
	}
}

package http

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ngoclaw/chatsync/internal/infrastructure/auth"
	"github.com/ngoclaw/chatsync/internal/infrastructure/blobstore"
	"github.com/ngoclaw/chatsync/internal/infrastructure/docstore"
	"github.com/ngoclaw/chatsync/internal/infrastructure/monitoring"
	"github.com/ngoclaw/chatsync/internal/interfaces/http/handlers"
	"github.com/ngoclaw/chatsync/internal/interfaces/websocket"
	apperrors "github.com/ngoclaw/chatsync/pkg/errors"
	"github.com/ngoclaw/chatsync/pkg/safego"
)

// Server HTTP服务器
type Server struct {
	server *http.Server
	router *gin.Engine
	hub     *websocket.Hub
	store   docstore.DocumentStore
	monitor *monitoring.Monitor
	logger  *zap.Logger
}

// Config HTTP服务器配置
type Config struct {
	Host string
	Port int
	Mode string // local, production
}

// Deps 服务依赖
type Deps struct {
	// Store is served as is. Wrap it in a docstore.ObservedStore to enable
	// the watch feed.
	Store docstore.DocumentStore
	// Issuer verifies bearer tokens; nil serves an open, single-tenant API.
	Issuer *auth.TokenIssuer
	// Blobs serves signed blob URLs when set.
	Blobs *blobstore.LocalStore
	// Journal lets watchers catch up with ?since=.
	Journal websocket.Journal
	// Monitor counts requests and serves /metrics; nil creates one.
	Monitor *monitoring.Monitor
}

// NewServer 创建HTTP服务器
func NewServer(cfg Config, deps Deps, logger *zap.Logger) *Server {
	// 设置Gin模式
	if cfg.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 创建路由
	monitor := deps.Monitor
	if monitor == nil {
		monitor = monitoring.NewMonitor(logger)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger))
	router.Use(ginMetrics(monitor))

	s := &Server{
		router:  router,
		store:   deps.Store,
		monitor: monitor,
		logger:  logger,
	}
	if _, ok := deps.Store.(docstore.Watcher); ok {
		s.hub = websocket.NewHub(logger)
	}

	// 注册路由
	s.setupRoutes(deps)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 启动服务器
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", zap.String("address", s.server.Addr))

	s.StartWatchFeed(ctx)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// StartWatchFeed runs the websocket hub and feeds it from the store until
// ctx is done. Start calls it; tests serving Handler() call it directly.
func (s *Server) StartWatchFeed(ctx context.Context) {
	if s.hub == nil {
		return
	}
	watcher := s.store.(docstore.Watcher)
	safego.Go(s.logger, "watch-hub", func() { s.hub.Run(ctx) })
	safego.Go(s.logger, "watch-source", func() {
		err := watcher.Watch(ctx, "", func(ch docstore.Change) {
			s.monitor.IncChangeSent()
			s.hub.Publish(ch)
		})
		if err != nil {
			s.logger.Error("Change source stopped", zap.Error(err))
		}
	})
	safego.Go(s.logger, "metrics-collector", func() {
		s.monitor.StartCollector(ctx, time.Minute, func() {
			s.monitor.SetWatchClients(s.hub.ClientCount())
		})
	})
}

// Monitor returns the request counters.
func (s *Server) Monitor() *monitoring.Monitor {
	return s.monitor
}

// Stop 停止服务器
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// setupRoutes 设置路由
func (s *Server) setupRoutes(deps Deps) {
	// 健康检查
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})

	s.router.GET("/metrics", gin.WrapH(s.monitor.PrometheusHandler()))

	docs := handlers.NewDocumentHandler(deps.Store, s.logger)

	// API版本1
	v1 := s.router.Group(docstore.APIPrefix)
	v1.Use(bearerAuth(deps.Issuer, s.logger))
	{
		v1.GET("/limits", docs.Limits)

		v1.GET("/docs/*path", docs.GetDocument)
		v1.PUT("/docs/*path", docs.SetDocument)
		v1.DELETE("/docs/*path", docs.DeleteDocument)
		v1.POST("/query", docs.Query)
		v1.POST("/count", docs.Count)
		v1.POST("/batch", docs.Batch)
		v1.GET("/collections/*path", docs.ListCollections)

		var watchers handlers.WatchStats
		if s.hub != nil {
			ws := websocket.NewHandler(s.hub, deps.Journal, s.logger)
			v1.GET("/watch", gin.WrapF(ws.ServeWS))
			watchers = s.hub
		}

		// 调试
		debug := handlers.NewDebugHandler(s.monitor, watchers, s.logger)
		v1.GET("/debug/metrics", debug.GetMetrics)
		v1.GET("/debug/dashboard", debug.GetDashboard)
		v1.GET("/debug/watchers", debug.GetWatchers)
		v1.GET("/debug/runtime", debug.GetRuntime)
	}

	if deps.Blobs != nil {
		blobs := handlers.NewBlobHandler(deps.Blobs, s.logger)
		s.router.GET(blobstore.BlobRoute+"*path", blobs.ServeBlob)
		v1.POST("/blobs", blobs.Upload)
	}
}

// bearerAuth 校验 Bearer 令牌并把用户 id 放入请求上下文
func bearerAuth(issuer *auth.TokenIssuer, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if issuer == nil {
			c.Next()
			return
		}
		token, ok := auth.BearerToken(c.GetHeader("Authorization"))
		if !ok {
			handlers.WriteError(c, logger, apperrors.NewUnauthorizedError("missing bearer token"))
			return
		}
		uid, err := issuer.Verify(token)
		if err != nil {
			handlers.WriteError(c, logger, err)
			return
		}
		c.Request = c.Request.WithContext(auth.WithUserID(c.Request.Context(), uid))
		c.Next()
	}
}

// ginMetrics 请求计数中间件
func ginMetrics(monitor *monitoring.Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		monitor.RecordRequest(c.Writer.Status(), time.Since(start))
		if op, ok := routeOp(c.Request.Method, c.FullPath()); ok {
			monitor.IncOp(op)
		}
	}
}

// routeOp 将路由映射为文档操作类别
func routeOp(method, route string) (monitoring.Op, bool) {
	switch {
	case route == docstore.APIPrefix+"/docs/*path":
		switch method {
		case http.MethodGet:
			return monitoring.OpRead, true
		case http.MethodPut:
			return monitoring.OpWrite, true
		case http.MethodDelete:
			return monitoring.OpDelete, true
		}
	case route == docstore.APIPrefix+"/query", route == docstore.APIPrefix+"/count",
		route == docstore.APIPrefix+"/collections/*path":
		return monitoring.OpQuery, true
	case route == docstore.APIPrefix+"/batch":
		return monitoring.OpBatch, true
	case route == docstore.APIPrefix+"/blobs", strings.HasPrefix(route, blobstore.BlobRoute):
		return monitoring.OpBlob, true
	}
	return 0, false
}

// ginLogger Gin日志中间件
func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", statusCode),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}

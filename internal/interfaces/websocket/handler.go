// Package websocket streams document changes to watching clients.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ngoclaw/chatsync/internal/infrastructure/auth"
	"github.com/ngoclaw/chatsync/internal/infrastructure/docstore"
	"github.com/ngoclaw/chatsync/internal/infrastructure/eventbus"
	apperrors "github.com/ngoclaw/chatsync/pkg/errors"
	"github.com/ngoclaw/chatsync/pkg/safego"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Bearer tokens, not cookies, authenticate the feed.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Journal replays recent changes to a reconnecting client.
type Journal interface {
	ReadSince(ctx context.Context, since time.Time) ([]eventbus.Event, error)
}

// Client 一个订阅连接
type Client struct {
	ID     string
	UserID string
	Prefix string
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	logger *zap.Logger
}

// Hub WebSocket 连接中心，按路径前缀分发变更
type Hub struct {
	clients    map[string]*Client
	broadcast  chan docstore.Change
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	logger     *zap.Logger
	mu         sync.RWMutex
}

// NewHub 创建连接中心
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		broadcast:  make(chan docstore.Change, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger.With(zap.String("component", "watch_hub")),
	}
}

// Run 运行连接中心，ctx 结束时断开所有客户端
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		h.mu.Lock()
		for id, client := range h.clients {
			close(client.send)
			delete(h.clients, id)
		}
		h.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			h.logger.Info("Watcher connected",
				zap.String("client_id", client.ID),
				zap.String("user_id", client.UserID),
				zap.String("prefix", client.Prefix),
			)
		case client := <-h.unregister:
			h.drop(client)
			h.logger.Info("Watcher disconnected", zap.String("client_id", client.ID))
		case change := <-h.broadcast:
			h.dispatch(change)
		}
	}
}

// Publish queues a change for every client watching a matching prefix.
// It never blocks once the hub has stopped.
func (h *Hub) Publish(change docstore.Change) {
	select {
	case h.broadcast <- change:
	case <-h.done:
	}
}

func (h *Hub) dispatch(change docstore.Change) {
	data, err := json.Marshal(change)
	if err != nil {
		h.logger.Warn("Unencodable change", zap.String("path", change.Path), zap.Error(err))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, client := range h.clients {
		if !docstore.HasPathPrefix(change.Path, client.Prefix) {
			continue
		}
		select {
		case client.send <- data:
		default:
			// slow consumer; it reconnects with ?since= to catch up
			h.logger.Warn("Dropping slow watcher", zap.String("client_id", id))
			close(client.send)
			delete(h.clients, id)
		}
	}
}

func (h *Hub) drop(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		close(client.send)
	}
}

// ClientCount 获取客户端数量
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Handler WebSocket 处理器
type Handler struct {
	hub     *Hub
	journal Journal
	logger  *zap.Logger
}

// NewHandler 创建 WebSocket 处理器，journal 可为 nil（不支持断线补发）
func NewHandler(hub *Hub, journal Journal, logger *zap.Logger) *Handler {
	return &Handler{
		hub:     hub,
		journal: journal,
		logger:  logger,
	}
}

// ServeWS 处理 /api/v1/watch?prefix=&since= 连接。
// since is a unix millisecond timestamp; changes journaled after it are
// replayed before live changes.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	prefix := strings.Trim(r.URL.Query().Get("prefix"), "/")
	if err := auth.CheckPathAccess(r.Context(), prefix); err != nil {
		writeError(w, err)
		return
	}
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, apperrors.NewInvalidInputError("since must be unix milliseconds"))
			return
		}
		since = time.UnixMilli(ms)
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	userID, _ := auth.UserIDFrom(r.Context())
	client := &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		Prefix: prefix,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		hub:    h.hub,
		logger: h.logger,
	}

	// 先注册再补发: live changes queue in client.send while the journal
	// is replayed, so nothing committed in between is lost. A change may
	// arrive twice; watchers apply changes idempotently.
	select {
	case h.hub.register <- client:
	case <-h.hub.done:
		conn.Close()
		return
	}

	if !since.IsZero() && h.journal != nil {
		if err := h.replay(r.Context(), client, since); err != nil {
			h.logger.Warn("Journal replay failed", zap.String("client_id", client.ID), zap.Error(err))
			h.hub.leave(client)
			conn.Close()
			return
		}
	}

	// 启动读写协程
	safego.Go(h.logger, "watch-write", client.writePump)
	safego.Go(h.logger, "watch-read", client.readPump)
}

// replay writes journaled changes directly. The pumps are not running yet,
// so this goroutine is the only writer on the connection.
func (h *Handler) replay(ctx context.Context, c *Client, since time.Time) error {
	events, err := h.journal.ReadSince(ctx, since)
	if err != nil {
		return err
	}
	sent := 0
	for _, ev := range events {
		if ev.Type() != eventbus.EventTypeDocumentSet && ev.Type() != eventbus.EventTypeDocumentDeleted {
			continue
		}
		var p eventbus.DocumentChangePayload
		if err := eventbus.DecodePayload(ev, &p); err != nil || !docstore.HasPathPrefix(p.Path, c.Prefix) {
			continue
		}
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(docstore.Change{Path: p.Path, Data: p.Data, Deleted: p.Deleted, At: ev.Timestamp()}); err != nil {
			return err
		}
		sent++
	}
	h.logger.Debug("Replayed journal", zap.String("client_id", c.ID), zap.Int("changes", sent))
	return nil
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// readPump only watches for closure; the feed is one-way.
func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error", zap.String("client_id", c.ID), zap.Error(err))
			}
			return
		}
	}
}

// writePump 写入消息
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(docstore.StatusFor(code))
	json.NewEncoder(w).Encode(docstore.ErrorResponse{Error: err.Error(), Code: string(code)})
}

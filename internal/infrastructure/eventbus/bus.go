package eventbus

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/chatsync/pkg/safego"
)

// Event 事件接口
type Event interface {
	Type() string
	Timestamp() time.Time
	Payload() any
}

// BaseEvent 基础事件实现
type BaseEvent struct {
	EventType      string
	EventTimestamp time.Time
	EventPayload   any
}

// Type 返回事件类型
func (e *BaseEvent) Type() string {
	return e.EventType
}

// Timestamp 返回事件时间戳
func (e *BaseEvent) Timestamp() time.Time {
	return e.EventTimestamp
}

// Payload 返回事件载荷
func (e *BaseEvent) Payload() any {
	return e.EventPayload
}

// NewEvent 创建新事件
func NewEvent(eventType string, payload any) *BaseEvent {
	return &BaseEvent{
		EventType:      eventType,
		EventTimestamp: time.Now(),
		EventPayload:   payload,
	}
}

// Handler 事件处理函数
type Handler func(ctx context.Context, event Event)

// Bus 事件总线接口
type Bus interface {
	// Publish 发布事件
	Publish(ctx context.Context, event Event)
	// Subscribe 订阅事件，返回取消订阅函数
	Subscribe(eventType string, handler Handler) (unsubscribe func())
	// Close 关闭事件总线
	Close()
}

// WildcardType subscribes a handler to every event type.
const WildcardType = "*"

type subscription struct {
	id      uint64
	handler Handler
}

// InMemoryBus 内存事件总线
//
// Publish is non-blocking; a single dispatch goroutine delivers events in
// publish order. Handlers for one event run sequentially.
type InMemoryBus struct {
	mu        sync.RWMutex
	handlers  map[string][]subscription
	nextID    uint64
	eventChan chan eventWrapper
	closed    bool
	logger    *zap.Logger
	wg        sync.WaitGroup
}

type eventWrapper struct {
	ctx   context.Context
	event Event
}

// NewInMemoryBus 创建内存事件总线
func NewInMemoryBus(logger *zap.Logger, bufferSize int) *InMemoryBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferSize <= 0 {
		bufferSize = 256
	}
	bus := &InMemoryBus{
		handlers:  make(map[string][]subscription),
		eventChan: make(chan eventWrapper, bufferSize),
		logger:    logger,
	}

	// 启动事件分发协程
	bus.wg.Add(1)
	go bus.dispatch()

	return bus
}

// Publish 发布事件
func (b *InMemoryBus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	// 非阻塞发送
	select {
	case b.eventChan <- eventWrapper{ctx: ctx, event: event}:
		b.logger.Debug("Event published",
			zap.String("type", event.Type()),
		)
	default:
		b.logger.Warn("Event buffer full, dropping event",
			zap.String("type", event.Type()),
		)
	}
}

// Subscribe 订阅事件
func (b *InMemoryBus) Subscribe(eventType string, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[eventType] = append(b.handlers[eventType], subscription{id: id, handler: handler})

	b.logger.Debug("Handler subscribed",
		zap.String("event_type", eventType),
	)

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(eventType, id) })
	}
}

func (b *InMemoryBus) unsubscribe(eventType string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[eventType]
	for i, s := range subs {
		if s.id == id {
			b.handlers[eventType] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.handlers[eventType]) == 0 {
		delete(b.handlers, eventType)
	}
}

// Close 关闭事件总线，等待已入队事件分发完毕
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.eventChan)
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Info("Event bus closed")
}

// dispatch 事件分发循环
func (b *InMemoryBus) dispatch() {
	defer b.wg.Done()

	for wrapper := range b.eventChan {
		b.dispatchEvent(wrapper.ctx, wrapper.event)
	}
}

// dispatchEvent 分发单个事件
func (b *InMemoryBus) dispatchEvent(ctx context.Context, event Event) {
	b.mu.RLock()
	subs := make([]subscription, 0)
	subs = append(subs, b.handlers[event.Type()]...)
	subs = append(subs, b.handlers[WildcardType]...)
	b.mu.RUnlock()

	for _, s := range subs {
		h := s.handler
		safego.Call(b.logger, "eventbus:"+event.Type(), func() {
			h(ctx, event)
		})
	}
}

// Document change event types
const (
	EventTypeDocumentSet     = "document.set"
	EventTypeDocumentDeleted = "document.deleted"
	EventTypeSyncState       = "sync.state"
)

// DocumentChangePayload 文档变更事件载荷
type DocumentChangePayload struct {
	Path    string         `json:"path"`
	Data    map[string]any `json:"data,omitempty"`
	UserID  string         `json:"user_id,omitempty"`
	Deleted bool           `json:"deleted,omitempty"`
}

// SyncStatePayload 同步状态变化事件载荷
type SyncStatePayload struct {
	UserID    string `json:"user_id"`
	FromState string `json:"from_state"`
	ToState   string `json:"to_state"`
	Error     string `json:"error,omitempty"`
}

package eventbus

import (
	"sync"

	"go.uber.org/zap"

	"github.com/ngoclaw/chatsync/pkg/safego"
)

// Topic is a synchronous, typed observer list. Publish calls every
// subscriber on the caller's goroutine, in subscription order, before it
// returns; a panicking subscriber is logged and skipped.
type Topic[T any] struct {
	name   string
	mu     sync.RWMutex
	subs   []topicSub[T]
	nextID uint64
	logger *zap.Logger
}

type topicSub[T any] struct {
	id uint64
	fn func(T)
}

// NewTopic 创建类型化主题
func NewTopic[T any](name string, logger *zap.Logger) *Topic[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Topic[T]{name: name, logger: logger}
}

// Subscribe registers fn and returns a function that removes it.
func (t *Topic[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.subs = append(t.subs, topicSub[T]{id: id, fn: fn})
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			for i, s := range t.subs {
				if s.id == id {
					t.subs = append(t.subs[:i:i], t.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish delivers v to every current subscriber.
func (t *Topic[T]) Publish(v T) {
	t.mu.RLock()
	subs := make([]topicSub[T], len(t.subs))
	copy(subs, t.subs)
	t.mu.RUnlock()

	for _, s := range subs {
		fn := s.fn
		safego.Call(t.logger, "topic:"+t.name, func() { fn(v) })
	}
}

// Len 返回订阅者数量
func (t *Topic[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// Name 返回主题名
func (t *Topic[T]) Name() string {
	return t.name
}

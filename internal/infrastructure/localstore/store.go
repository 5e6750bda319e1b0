package localstore

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/chatsync/internal/infrastructure/eventbus"
)

// DefaultCacheTTL is how long a decoded value is served from memory.
const DefaultCacheTTL = 30 * time.Second

// ChangeEvent is published after every successful write or removal.
// External is set when the change came from another process.
type ChangeEvent struct {
	Key      string          `json:"key"`
	Value    json.RawMessage `json:"value,omitempty"`
	Removed  bool            `json:"removed,omitempty"`
	External bool            `json:"external,omitempty"`
}

// Options 本地存储选项
type Options struct {
	TTL          time.Duration
	MaxCacheSize int
	Now          func() time.Time
}

// Store 本地缓存存储
//
// Store never returns storage errors to callers: reads report absence,
// writes report false, and the cause is logged.
type Store struct {
	substrate Substrate
	cache     *TTLCache
	changes   *eventbus.Topic[ChangeEvent]
	logger    *zap.Logger
}

// NewStore 创建本地存储
func NewStore(substrate Substrate, opts Options, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "localstore"))
	return &Store{
		substrate: substrate,
		cache:     NewTTLCache(opts.TTL, opts.MaxCacheSize, opts.Now),
		changes:   eventbus.NewTopic[ChangeEvent]("localstore", logger),
		logger:    logger,
	}
}

// Get returns the value at key, decoded through codec.
// A fresh cache entry is returned without touching the substrate.
func Get[T any](s *Store, key string, codec Codec[T]) (T, bool) {
	var zero T
	if cached, ok := s.cache.Get(key); ok {
		if v, ok := cached.(T); ok {
			return v, true
		}
	}

	data, ok, err := s.substrate.Read(key)
	if err != nil {
		s.logger.Warn("Local read failed", zap.String("key", key), zap.Error(err))
		return zero, false
	}
	if !ok {
		return zero, false
	}

	v, err := codec.Decode(data)
	if err != nil {
		s.logger.Warn("Discarding corrupt local value", zap.String("key", key), zap.Error(err))
		return zero, false
	}
	s.cache.Put(key, v)
	return v, true
}

// Set serializes value, writes it, refreshes the cache and notifies
// subscribers.
func (s *Store) Set(key string, value any) bool {
	data, err := json.Marshal(value)
	if err != nil {
		s.logger.Error("Local value not serializable", zap.String("key", key), zap.Error(err))
		return false
	}
	if err := s.substrate.Write(key, data); err != nil {
		s.logger.Error("Local write failed", zap.String("key", key), zap.Error(err))
		s.cache.Evict(key)
		return false
	}
	s.cache.Put(key, value)
	s.changes.Publish(ChangeEvent{Key: key, Value: data})
	return true
}

// Remove deletes key from the substrate and the cache.
func (s *Store) Remove(key string) bool {
	s.cache.Evict(key)
	if err := s.substrate.Remove(key); err != nil {
		s.logger.Error("Local remove failed", zap.String("key", key), zap.Error(err))
		return false
	}
	s.changes.Publish(ChangeEvent{Key: key, Removed: true})
	return true
}

// Clear evicts the given cache entries, or the whole cache when no key is
// given. Persistent storage is not touched.
func (s *Store) Clear(keys ...string) {
	if len(keys) == 0 {
		s.cache.Clear()
		return
	}
	for _, k := range keys {
		s.cache.Evict(k)
	}
}

// Keys lists stored keys with the given prefix.
func (s *Store) Keys(prefix string) []string {
	keys, err := keysWithPrefix(s.substrate, prefix)
	if err != nil {
		s.logger.Warn("Local key listing failed", zap.String("prefix", prefix), zap.Error(err))
		return []string{}
	}
	return keys
}

// Changes 返回变更通知主题
func (s *Store) Changes() *eventbus.Topic[ChangeEvent] {
	return s.changes
}

// CanWatch reports whether the substrate can observe other processes.
func (s *Store) CanWatch() bool {
	_, ok := s.substrate.(Watchable)
	return ok
}

// WatchExternal 监听其它进程对底层存储的写入
//
// Every external change evicts its cache entry; changes to watched keys
// are republished as ChangeEvent with External set. Blocks until ctx is
// done. Substrates that cannot watch return nil immediately.
func (s *Store) WatchExternal(ctx context.Context) error {
	w, ok := s.substrate.(Watchable)
	if !ok {
		return nil
	}
	return w.Watch(ctx, func(ch ExternalChange) {
		s.cache.Evict(ch.Key)
		if !IsWatchedKey(ch.Key) {
			return
		}
		ev := ChangeEvent{Key: ch.Key, Removed: ch.Removed, External: true}
		if !ch.Removed {
			data, ok, err := s.substrate.Read(ch.Key)
			if err != nil || !ok {
				return
			}
			ev.Value = data
		}
		s.logger.Debug("External change", zap.String("key", ch.Key), zap.Bool("removed", ch.Removed))
		s.changes.Publish(ev)
	})
}

// Close releases the substrate.
func (s *Store) Close() error {
	if c, ok := s.substrate.(Closer); ok {
		return c.Close()
	}
	return nil
}

package localstore

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Substrate 持久化底层存储接口
type Substrate interface {
	// Read returns ok=false when the key is absent.
	Read(key string) (data []byte, ok bool, err error)
	Write(key string, data []byte) error
	Remove(key string) error
	Keys() ([]string, error)
}

// ExternalChange is a write to the substrate made by another process.
type ExternalChange struct {
	Key     string
	Removed bool
}

// Watchable is implemented by substrates that can report writes made
// outside this process. Watch blocks until ctx is done.
type Watchable interface {
	Watch(ctx context.Context, fn func(ExternalChange)) error
}

// Closer is implemented by substrates holding OS resources.
type Closer interface {
	Close() error
}

// MemorySubstrate 内存实现，用于测试与临时会话
type MemorySubstrate struct {
	mu   sync.RWMutex
	data map[string][]byte

	// Reads counts Read calls; tests use it to observe cache behaviour.
	reads int
}

// NewMemorySubstrate 创建内存存储
func NewMemorySubstrate() *MemorySubstrate {
	return &MemorySubstrate{data: make(map[string][]byte)}
}

func (m *MemorySubstrate) Read(key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (m *MemorySubstrate) Write(key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]byte, len(data))
	copy(v, data)
	m.data[key] = v
	return nil
}

func (m *MemorySubstrate) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemorySubstrate) Keys() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Reads returns the number of Read calls so far.
func (m *MemorySubstrate) Reads() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reads
}

// keysWithPrefix filters a substrate's keys.
func keysWithPrefix(s Substrate, prefix string) ([]string, error) {
	all, err := s.Keys()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(all))
	for _, k := range all {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

package localstore

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const fileExt = ".json"

// FileSubstrate 每个键一个 JSON 文件
//
// Writes go to a hidden temp file and are renamed into place, so readers in
// other processes never see a half-written value. The watcher ignores
// hidden files and changes whose content matches this process's last write.
type FileSubstrate struct {
	dir    string
	logger *zap.Logger

	mu      sync.Mutex
	written map[string][32]byte // key -> hash of our last write
	removed map[string]bool     // keys removed by this process
}

// NewFileSubstrate 创建文件存储，目录不存在时自动创建
func NewFileSubstrate(dir string, logger *zap.Logger) (*FileSubstrate, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create local store dir: %w", err)
	}
	return &FileSubstrate{
		dir:     dir,
		logger:  logger.With(zap.String("component", "file-substrate")),
		written: make(map[string][32]byte),
		removed: make(map[string]bool),
	}, nil
}

// Dir returns the storage directory.
func (f *FileSubstrate) Dir() string {
	return f.dir
}

func (f *FileSubstrate) path(key string) string {
	return filepath.Join(f.dir, url.PathEscape(key)+fileExt)
}

func keyFromFile(name string) (string, bool) {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") || !strings.HasSuffix(base, fileExt) {
		return "", false
	}
	key, err := url.PathUnescape(strings.TrimSuffix(base, fileExt))
	if err != nil {
		return "", false
	}
	return key, true
}

func (f *FileSubstrate) Read(key string) ([]byte, bool, error) {
	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (f *FileSubstrate) Write(key string, data []byte) error {
	tmp, err := os.CreateTemp(f.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", key, err)
	}

	f.mu.Lock()
	f.written[key] = sha256.Sum256(data)
	delete(f.removed, key)
	f.mu.Unlock()

	if err := os.Rename(tmpName, f.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (f *FileSubstrate) Remove(key string) error {
	f.mu.Lock()
	delete(f.written, key)
	f.removed[key] = true
	f.mu.Unlock()

	if err := os.Remove(f.path(key)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (f *FileSubstrate) Keys() ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if key, ok := keyFromFile(e.Name()); ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Watch 监听目录变更，把其它进程的写入转成 ExternalChange
func (f *FileSubstrate) Watch(ctx context.Context, fn func(ExternalChange)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(f.dir); err != nil {
		return fmt.Errorf("failed to watch local store dir: %w", err)
	}

	f.logger.Info("Local store watching started", zap.String("dir", f.dir))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if change, ok := f.translate(event); ok {
				fn(change)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Warn("Watcher error", zap.Error(err))
		}
	}
}

// translate 处理单个文件事件
func (f *FileSubstrate) translate(event fsnotify.Event) (ExternalChange, bool) {
	key, ok := keyFromFile(event.Name)
	if !ok {
		return ExternalChange{}, false
	}

	switch {
	case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
		data, err := os.ReadFile(event.Name)
		if err != nil {
			return ExternalChange{}, false
		}
		sum := sha256.Sum256(data)
		f.mu.Lock()
		own := f.written[key] == sum
		f.mu.Unlock()
		if own {
			return ExternalChange{}, false
		}
		return ExternalChange{Key: key}, true

	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		if _, err := os.Stat(event.Name); err == nil {
			return ExternalChange{}, false
		}
		f.mu.Lock()
		own := f.removed[key]
		delete(f.removed, key)
		f.mu.Unlock()
		if own {
			return ExternalChange{}, false
		}
		return ExternalChange{Key: key, Removed: true}, true
	}
	return ExternalChange{}, false
}

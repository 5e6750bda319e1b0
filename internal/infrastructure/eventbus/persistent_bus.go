package eventbus

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PersistentBus wraps InMemoryBus with a write-ahead journal.
//
// Events are serialized as JSON lines before dispatch. Replay re-emits the
// journal to handlers; ReadSince lets a reconnecting change-feed client
// catch up on what it missed. The journal rotates to a single .old file
// once it exceeds MaxWALSize.
type PersistentBus struct {
	inner   *InMemoryBus
	walFile *os.File
	writer  *bufio.Writer
	walPath string
	mu      sync.Mutex // protects file writes
	logger  *zap.Logger

	maxWALSize int64
	written    int64
}

// walEntry is the JSON-serializable form of an event on disk.
type walEntry struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"ts"`
	Payload   json.RawMessage `json:"payload"`
}

// PersistentBusConfig configures the persistent event bus.
type PersistentBusConfig struct {
	WALDir     string // Directory for WAL files (required)
	BufferSize int    // Channel buffer size for InMemoryBus (default: 256)
	MaxWALSize int64  // Max WAL file size before rotation (default: 10MB)
}

// NewPersistentBus creates a persistent event bus backed by a WAL file.
func NewPersistentBus(cfg PersistentBusConfig, logger *zap.Logger) (*PersistentBus, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WALDir == "" {
		return nil, fmt.Errorf("WALDir is required")
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.MaxWALSize <= 0 {
		cfg.MaxWALSize = 10 * 1024 * 1024 // 10MB
	}

	if err := os.MkdirAll(cfg.WALDir, 0755); err != nil {
		return nil, fmt.Errorf("create WAL dir: %w", err)
	}

	walPath := filepath.Join(cfg.WALDir, "changes.wal")
	f, err := os.OpenFile(walPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open WAL file: %w", err)
	}

	stat, _ := f.Stat()
	var currentSize int64
	if stat != nil {
		currentSize = stat.Size()
	}

	return &PersistentBus{
		inner:      NewInMemoryBus(logger, cfg.BufferSize),
		walFile:    f,
		writer:     bufio.NewWriterSize(f, 64*1024),
		walPath:    walPath,
		logger:     logger.With(zap.String("component", "change-journal")),
		maxWALSize: cfg.MaxWALSize,
		written:    currentSize,
	}, nil
}

// Publish journals the event, then delegates to InMemoryBus for dispatch.
func (b *PersistentBus) Publish(ctx context.Context, event Event) {
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		b.logger.Error("Failed to marshal event payload",
			zap.String("type", event.Type()),
			zap.Error(err),
		)
	} else {
		data, _ := json.Marshal(walEntry{
			Type:      event.Type(),
			Timestamp: event.Timestamp(),
			Payload:   payload,
		})

		b.mu.Lock()
		n, writeErr := b.writer.Write(append(data, '\n'))
		if writeErr != nil {
			b.logger.Error("WAL write failed",
				zap.String("type", event.Type()),
				zap.Error(writeErr),
			)
		}
		b.written += int64(n)
		_ = b.writer.Flush()

		if b.maxWALSize > 0 && b.written >= b.maxWALSize {
			b.rotateLocked()
		}
		b.mu.Unlock()
	}

	b.inner.Publish(ctx, event)
}

// Subscribe delegates to InMemoryBus.
func (b *PersistentBus) Subscribe(eventType string, handler Handler) func() {
	return b.inner.Subscribe(eventType, handler)
}

// Close flushes the WAL and shuts down the bus.
func (b *PersistentBus) Close() {
	b.mu.Lock()
	_ = b.writer.Flush()
	_ = b.walFile.Sync()
	_ = b.walFile.Close()
	b.mu.Unlock()

	b.inner.Close()
	b.logger.Info("Change journal closed")
}

// scan walks journal entries in order, rotated file first.
func (b *PersistentBus) scan(ctx context.Context, fn func(walEntry)) error {
	b.mu.Lock()
	_ = b.writer.Flush()
	b.mu.Unlock()

	for _, path := range []string{b.walPath + ".old", b.walPath} {
		if err := b.scanFile(ctx, path, fn); err != nil {
			return err
		}
	}
	return nil
}

func (b *PersistentBus) scanFile(ctx context.Context, path string, fn func(walEntry)) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open WAL: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry walEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			b.logger.Warn("Skipping corrupt WAL entry", zap.Error(err))
			continue
		}
		fn(entry)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("WAL scan error: %w", err)
	}
	return nil
}

// Replay re-emits journaled events to registered handlers.
// Returns the number of events replayed.
func (b *PersistentBus) Replay(ctx context.Context) (int, error) {
	count := 0
	err := b.scan(ctx, func(e walEntry) {
		b.inner.Publish(ctx, &BaseEvent{
			EventType:      e.Type,
			EventTimestamp: e.Timestamp,
			EventPayload:   e.Payload,
		})
		count++
	})
	if err != nil {
		return count, err
	}

	b.logger.Info("WAL replay complete",
		zap.Int("events_replayed", count),
	)
	return count, nil
}

// ReadSince returns journaled events strictly newer than since, oldest
// first. Payloads are returned as json.RawMessage; use DecodePayload.
func (b *PersistentBus) ReadSince(ctx context.Context, since time.Time) ([]Event, error) {
	var events []Event
	err := b.scan(ctx, func(e walEntry) {
		if !e.Timestamp.After(since) {
			return
		}
		events = append(events, &BaseEvent{
			EventType:      e.Type,
			EventTimestamp: e.Timestamp,
			EventPayload:   e.Payload,
		})
	})
	return events, err
}

// Truncate clears the journal.
func (b *PersistentBus) Truncate() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	_ = b.writer.Flush()
	_ = b.walFile.Close()
	_ = os.Remove(b.walPath + ".old")

	f, err := os.Create(b.walPath)
	if err != nil {
		return fmt.Errorf("truncate WAL: %w", err)
	}

	b.walFile = f
	b.writer = bufio.NewWriterSize(f, 64*1024)
	b.written = 0

	b.logger.Info("WAL truncated")
	return nil
}

// rotateLocked rotates the WAL file (must be called with b.mu held).
func (b *PersistentBus) rotateLocked() {
	_ = b.writer.Flush()
	_ = b.walFile.Close()

	oldPath := b.walPath + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(b.walPath, oldPath)

	f, err := os.OpenFile(b.walPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		b.logger.Error("WAL rotation failed", zap.Error(err))
		return
	}

	b.walFile = f
	b.writer = bufio.NewWriterSize(f, 64*1024)
	b.written = 0

	b.logger.Info("WAL rotated", zap.String("old_path", oldPath))
}

// WALSize returns the current WAL file size in bytes.
func (b *PersistentBus) WALSize() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.written
}

// DecodePayload converts an event payload into out. Live events carry the
// original Go value, replayed ones carry json.RawMessage; both work.
func DecodePayload(event Event, out any) error {
	switch p := event.Payload().(type) {
	case json.RawMessage:
		return json.Unmarshal(p, out)
	case []byte:
		return json.Unmarshal(p, out)
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, out)
	}
}

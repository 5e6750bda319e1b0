package docstore

import (
	"context"

	"go.uber.org/zap"

	"github.com/ngoclaw/chatsync/internal/infrastructure/eventbus"
)

// ObservedStore publishes every committed write to an event bus and
// serves Watch from it. Wrap the store the document server exposes so
// clients can follow changes.
type ObservedStore struct {
	DocumentStore
	bus    eventbus.Bus
	logger *zap.Logger
}

// NewObservedStore wraps inner.
func NewObservedStore(inner DocumentStore, bus eventbus.Bus, logger *zap.Logger) *ObservedStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ObservedStore{DocumentStore: inner, bus: bus, logger: logger}
}

func (s *ObservedStore) Set(ctx context.Context, path string, data map[string]any) error {
	b := s.Batch()
	b.Set(path, data)
	return b.Commit(ctx)
}

func (s *ObservedStore) Delete(ctx context.Context, path string) error {
	b := s.Batch()
	b.Delete(path)
	return b.Commit(ctx)
}

func (s *ObservedStore) Batch() WriteBatch {
	return &observedBatch{inner: s.DocumentStore.Batch(), store: s}
}

// Watch 订阅前缀下的文档变更，阻塞直到 ctx 结束
func (s *ObservedStore) Watch(ctx context.Context, prefix string, fn func(Change)) error {
	handler := func(_ context.Context, ev eventbus.Event) {
		var p eventbus.DocumentChangePayload
		if err := eventbus.DecodePayload(ev, &p); err != nil {
			s.logger.Warn("Undecodable document event", zap.String("type", ev.Type()), zap.Error(err))
			return
		}
		if !HasPathPrefix(p.Path, prefix) {
			return
		}
		fn(Change{Path: p.Path, Data: p.Data, Deleted: p.Deleted, At: ev.Timestamp()})
	}
	unsubSet := s.bus.Subscribe(eventbus.EventTypeDocumentSet, handler)
	unsubDel := s.bus.Subscribe(eventbus.EventTypeDocumentDeleted, handler)
	defer unsubSet()
	defer unsubDel()

	<-ctx.Done()
	return nil
}

func (s *ObservedStore) publish(ctx context.Context, ops []BatchOp) {
	for _, op := range ops {
		p := eventbus.DocumentChangePayload{Path: op.Path, Deleted: op.Delete}
		if uid := ownerOf(op.Path); uid != "" {
			p.UserID = uid
		}
		eventType := eventbus.EventTypeDocumentDeleted
		if !op.Delete {
			eventType = eventbus.EventTypeDocumentSet
			p.Data = op.Data
		}
		s.bus.Publish(ctx, eventbus.NewEvent(eventType, p))
	}
}

// ownerOf returns the user id of a per-user path: the second segment.
func ownerOf(path string) string {
	segs := Segments(path)
	if len(segs) < 2 {
		return ""
	}
	return segs[1]
}

type observedBatch struct {
	inner WriteBatch
	store *ObservedStore
	ops   []BatchOp
}

func (b *observedBatch) Set(path string, data map[string]any) {
	b.inner.Set(path, data)
	b.ops = append(b.ops, BatchOp{Path: path, Data: data})
}

func (b *observedBatch) Delete(path string) {
	b.inner.Delete(path)
	b.ops = append(b.ops, BatchOp{Path: path, Delete: true})
}

func (b *observedBatch) Len() int { return b.inner.Len() }

func (b *observedBatch) Commit(ctx context.Context) error {
	if err := b.inner.Commit(ctx); err != nil {
		return err
	}
	ops, err := prepareOps(b.ops, len(b.ops))
	if err != nil {
		// the inner store accepted the batch, so this cannot fail on paths
		ops = b.ops
	}
	b.ops = nil
	b.store.publish(context.WithoutCancel(ctx), ops)
	return nil
}

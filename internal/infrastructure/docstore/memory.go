package docstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	apperrors "github.com/ngoclaw/chatsync/pkg/errors"
)

// MemoryStore 内存文档存储，用于测试和离线演示
type MemoryStore struct {
	mu       sync.RWMutex
	docs     map[string]map[string]any
	maxBatch int
	closed   bool
}

// NewMemoryStore 创建内存文档存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:     make(map[string]map[string]any),
		maxBatch: DefaultMaxBatchSize,
	}
}

// SetMaxBatchSize overrides the batch limit.
func (s *MemoryStore) SetMaxBatchSize(n int) {
	if n > 0 {
		s.maxBatch = n
	}
}

func (s *MemoryStore) MaxBatchSize() int { return s.maxBatch }

func (s *MemoryStore) checkOpen() error {
	if s.closed {
		return apperrors.NewUnavailableError("document store closed", nil)
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, path string) (*Document, error) {
	if err := ValidateDocPath(path); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	data, ok := s.docs[path]
	if !ok {
		return nil, apperrors.NewNotFoundError("document not found: " + path)
	}
	return &Document{Path: path, Data: cloneData(data)}, nil
}

func (s *MemoryStore) Set(ctx context.Context, path string, data map[string]any) error {
	b := s.Batch()
	b.Set(path, data)
	return b.Commit(ctx)
}

func (s *MemoryStore) Delete(ctx context.Context, path string) error {
	b := s.Batch()
	b.Delete(path)
	return b.Commit(ctx)
}

func (s *MemoryStore) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var docs []Document
	for path, data := range s.docs {
		if CollectionOf(path) != q.Collection || !MatchFilters(data, q.Filters) {
			continue
		}
		if q.OrderBy != "" {
			if _, ok := data[q.OrderBy]; !ok {
				continue
			}
		}
		docs = append(docs, Document{Path: path, Data: cloneData(data)})
	}
	err := s.checkOpen()
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return ApplyQuery(docs, q), nil
}

// ApplyQuery sorts docs by the query ordering and applies the cursor and
// limit. Docs must already be filtered.
func ApplyQuery(docs []Document, q Query) []Document {
	desc := q.Direction == Desc
	less := func(a, b Document) bool {
		c := 0
		if q.OrderBy != "" {
			c = CompareValues(a.Data[q.OrderBy], b.Data[q.OrderBy])
		}
		if c == 0 {
			c = strings.Compare(a.ID(), b.ID())
		}
		if desc {
			return c > 0
		}
		return c < 0
	}
	sort.Slice(docs, func(i, j int) bool { return less(docs[i], docs[j]) })

	if q.StartAfter != nil {
		anchor := Document{Path: Join(q.Collection, q.StartAfter.ID), Data: map[string]any{}}
		if q.OrderBy != "" {
			anchor.Data[q.OrderBy] = q.StartAfter.Value
		}
		i := sort.Search(len(docs), func(i int) bool { return less(anchor, docs[i]) })
		docs = docs[i:]
	}
	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	return docs
}

func (s *MemoryStore) Count(ctx context.Context, q CountQuery) (int64, error) {
	if err := validateCount(q); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	var n int64
	for path, data := range s.docs {
		if q.Collection != "" {
			if CollectionOf(path) != q.Collection {
				continue
			}
		} else if GroupOf(path) != q.Group || !HasPathPrefix(path, q.Prefix) {
			continue
		}
		if MatchFilters(data, q.Filters) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ListCollections(ctx context.Context, docPath string) ([]string, error) {
	if docPath != "" {
		if err := ValidateDocPath(docPath); err != nil {
			return nil, err
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for path := range s.docs {
		coll := CollectionOf(path)
		if ParentDoc(coll) == docPath {
			seen[DocID(coll)] = true
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) Batch() WriteBatch {
	return &memoryBatch{store: s}
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Len 文档总数
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

type memoryBatch struct {
	store *MemoryStore
	ops   []BatchOp
}

func (b *memoryBatch) Set(path string, data map[string]any) {
	b.ops = append(b.ops, BatchOp{Path: path, Data: data})
}

func (b *memoryBatch) Delete(path string) {
	b.ops = append(b.ops, BatchOp{Path: path, Delete: true})
}

func (b *memoryBatch) Len() int { return len(b.ops) }

func (b *memoryBatch) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ops, err := prepareOps(b.ops, b.store.maxBatch)
	if err != nil {
		return err
	}
	s := b.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	for _, op := range ops {
		if op.Delete {
			delete(s.docs, op.Path)
		} else {
			s.docs[op.Path] = op.Data
		}
	}
	b.ops = nil
	return nil
}

// cloneData deep-copies normalised document data.
func cloneData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneData(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

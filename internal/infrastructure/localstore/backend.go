package localstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ngoclaw/chatsync/internal/domain/entity"
	"github.com/ngoclaw/chatsync/internal/domain/repository"
	"github.com/ngoclaw/chatsync/internal/domain/service"
	"github.com/ngoclaw/chatsync/internal/domain/valueobject"
	apperrors "github.com/ngoclaw/chatsync/pkg/errors"
)

// LocalBackend 本地会话仓储，全部会话保存在 conversations 一个键下
//
// Pagination is simulated over the full list with index cursors. The
// userID argument is ignored: local data belongs to whoever uses the
// machine.
type LocalBackend struct {
	store  *Store
	mu     sync.Mutex // serialises read-modify-write of the list
	logger *zap.Logger
}

var _ repository.ConversationBackend = (*LocalBackend)(nil)

// NewLocalBackend 创建本地会话仓储
func NewLocalBackend(store *Store, logger *zap.Logger) *LocalBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalBackend{store: store, logger: logger.With(zap.String("component", "local-backend"))}
}

// all returns the stored list. The slice is a copy; elements are shared
// with the cache and must be cloned before mutation.
func (b *LocalBackend) all() []*entity.Conversation {
	convs, ok := Get(b.store, KeyConversations, ConversationsCodec)
	if !ok {
		return []*entity.Conversation{}
	}
	out := make([]*entity.Conversation, len(convs))
	copy(out, convs)
	return out
}

func (b *LocalBackend) find(id string) (*entity.Conversation, bool) {
	for _, c := range b.all() {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

// SaveConversation 保存会话：元数据覆盖，消息按 id 合并
func (b *LocalBackend) SaveConversation(ctx context.Context, _ string, conv *entity.Conversation) error {
	if conv == nil {
		return apperrors.NewInvalidInputError("conversation is nil")
	}
	if err := conv.Validate(); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidInput, "invalid conversation", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.all()
	incoming := conv.Clone()
	replaced := false
	for i, c := range list {
		if c.ID != conv.ID {
			continue
		}
		incoming.Messages = service.MergeByID(c.Messages, incoming.Messages)
		list[i] = incoming
		replaced = true
		break
	}
	if !replaced {
		incoming.Messages = service.DedupeByID(incoming.Messages)
		list = append(list, incoming)
	}
	service.SortMessages(incoming.Messages)
	service.SortConversations(list)

	if !b.store.Set(KeyConversations, list) {
		return apperrors.NewInternalError(fmt.Sprintf("failed to save conversation %s locally", conv.ID))
	}
	return nil
}

// LoadConversation 加载单个会话
func (b *LocalBackend) LoadConversation(ctx context.Context, _ string, conversationID string) (*entity.Conversation, error) {
	c, ok := b.find(conversationID)
	if !ok {
		return nil, apperrors.NewNotFoundError("conversation not found: " + conversationID)
	}
	out := c.Clone()
	service.SortMessages(out.Messages)
	return out, nil
}

// LoadConversations 加载全部会话
func (b *LocalBackend) LoadConversations(ctx context.Context, _ string, includeMessages bool) ([]*entity.Conversation, error) {
	list := b.all()
	service.SortConversations(list)
	out := make([]*entity.Conversation, 0, len(list))
	for _, c := range list {
		if includeMessages {
			cp := c.Clone()
			service.SortMessages(cp.Messages)
			out = append(out, cp)
		} else {
			out = append(out, c.Metadata())
		}
	}
	return out, nil
}

// LoadConversationsPaginated 按下标分页
func (b *LocalBackend) LoadConversationsPaginated(ctx context.Context, _ string, pageSize int, cursor valueobject.PageCursor) (valueobject.Page[*entity.Conversation], error) {
	metas, _ := b.LoadConversations(ctx, "", false)
	page, err := valueobject.PageSlice(metas, pageSize, cursor)
	if err != nil {
		return valueobject.EmptyPage[*entity.Conversation](), apperrors.Wrap(apperrors.CodeInvalidInput, "bad page request", err)
	}
	return page, nil
}

// LoadMessagesPaginated 按下标分页，时间正序
func (b *LocalBackend) LoadMessagesPaginated(ctx context.Context, _ string, conversationID string, pageSize int, cursor valueobject.PageCursor) (valueobject.Page[*entity.Message], error) {
	c, ok := b.find(conversationID)
	if !ok {
		return valueobject.EmptyPage[*entity.Message](), apperrors.NewNotFoundError("conversation not found: " + conversationID)
	}
	msgs := c.Clone().Messages
	service.SortMessages(msgs)
	page, err := valueobject.PageSlice(msgs, pageSize, cursor)
	if err != nil {
		return valueobject.EmptyPage[*entity.Message](), apperrors.Wrap(apperrors.CodeInvalidInput, "bad page request", err)
	}
	return page, nil
}

// DeleteConversation 删除会话
// LoadRecentMessages pages from the newest message backwards.
func (b *LocalBackend) LoadRecentMessages(ctx context.Context, _ string, conversationID string, pageSize int, cursor valueobject.PageCursor) (valueobject.Page[*entity.Message], error) {
	c, ok := b.find(conversationID)
	if !ok {
		return valueobject.EmptyPage[*entity.Message](), apperrors.NewNotFoundError("conversation not found: " + conversationID)
	}
	msgs := c.Clone().Messages
	service.SortMessages(msgs)
	page, err := valueobject.PageTail(msgs, pageSize, cursor)
	if err != nil {
		return valueobject.EmptyPage[*entity.Message](), apperrors.Wrap(apperrors.CodeInvalidInput, "bad page request", err)
	}
	return page, nil
}

func (b *LocalBackend) DeleteConversation(ctx context.Context, _ string, conversationID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.all()
	out := list[:0]
	found := false
	for _, c := range list {
		if c.ID == conversationID {
			found = true
			continue
		}
		out = append(out, c)
	}
	if !found {
		return nil
	}
	if !b.store.Set(KeyConversations, out) {
		return apperrors.NewInternalError("failed to delete conversation " + conversationID + " locally")
	}
	return nil
}

// ClearConversations removes the whole local conversation list.
func (b *LocalBackend) ClearConversations(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.store.Remove(KeyConversations) {
		return apperrors.NewInternalError("failed to clear local conversations")
	}
	return nil
}

// LocalConfigStore 本地配置仓储
type LocalConfigStore struct {
	store  *Store
	mu     sync.Mutex
	logger *zap.Logger
}

var _ repository.ConfigRepository = (*LocalConfigStore)(nil)

// NewLocalConfigStore 创建本地配置仓储
func NewLocalConfigStore(store *Store, logger *zap.Logger) *LocalConfigStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalConfigStore{store: store, logger: logger.With(zap.String("component", "local-config"))}
}

func (s *LocalConfigStore) LoadProviders(ctx context.Context, _ string) ([]entity.Provider, error) {
	ps, ok := Get(s.store, KeyProviders, ProvidersCodec)
	if !ok {
		return []entity.Provider{}, nil
	}
	return append([]entity.Provider(nil), ps...), nil
}

// SaveProviders upserts by id; the incoming copy wins.
func (s *LocalConfigStore) SaveProviders(ctx context.Context, _ string, providers []entity.Provider) error {
	for _, p := range providers {
		if err := p.Validate(); err != nil {
			return apperrors.Wrap(apperrors.CodeInvalidInput, "invalid provider", err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, _ := s.LoadProviders(ctx, "")
	return s.set(KeyProviders, service.MergeByID(existing, providers))
}

func (s *LocalConfigStore) RemoveProvider(ctx context.Context, _ string, providerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, _ := s.LoadProviders(ctx, "")
	out := make([]entity.Provider, 0, len(existing))
	for _, p := range existing {
		if p.ID != providerID {
			out = append(out, p)
		}
	}
	if len(out) == len(existing) {
		return nil
	}
	return s.set(KeyProviders, out)
}

func (s *LocalConfigStore) LoadModels(ctx context.Context, _ string, bucket string) ([]entity.Model, error) {
	ms, ok := Get(s.store, ModelsKey(bucket), ModelsCodec)
	if !ok {
		return []entity.Model{}, nil
	}
	return append([]entity.Model(nil), ms...), nil
}

// SaveModels upserts by id; duplicate ids in models keep the first.
func (s *LocalConfigStore) SaveModels(ctx context.Context, _ string, bucket string, models []entity.Model) error {
	if bucket == "" {
		return apperrors.Wrap(apperrors.CodeInvalidInput, "empty bucket", entity.ErrInvalidModelBucket)
	}
	for _, m := range models {
		if err := m.Validate(); err != nil {
			return apperrors.Wrap(apperrors.CodeInvalidInput, "invalid model", err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, _ := s.LoadModels(ctx, "", bucket)
	return s.set(ModelsKey(bucket), service.MergeByID(existing, models))
}

func (s *LocalConfigStore) RemoveModel(ctx context.Context, _ string, bucket, modelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, _ := s.LoadModels(ctx, "", bucket)
	out := make([]entity.Model, 0, len(existing))
	for _, m := range existing {
		if m.ID != modelID {
			out = append(out, m)
		}
	}
	if len(out) == len(existing) {
		return nil
	}
	return s.set(ModelsKey(bucket), out)
}

func (s *LocalConfigStore) ListModelBuckets(ctx context.Context, _ string) ([]string, error) {
	keys := s.store.Keys(modelsKeyPrefix)
	buckets := make([]string, 0, len(keys))
	for _, k := range keys {
		if b, ok := BucketFromKey(k); ok {
			buckets = append(buckets, b)
		}
	}
	sort.Strings(buckets)
	return buckets, nil
}

func (s *LocalConfigStore) LoadSelectedModels(ctx context.Context, _ string) ([]string, error) {
	ids, ok := Get(s.store, KeySelectedModels, StringsCodec)
	if !ok {
		return []string{}, nil
	}
	return append([]string(nil), ids...), nil
}

// SaveSelectedModels replaces the selection; deselecting must stick.
func (s *LocalConfigStore) SaveSelectedModels(ctx context.Context, _ string, modelIDs []string) error {
	return s.set(KeySelectedModels, service.UnionStrings(modelIDs, nil))
}

// LoadSnapshot 读取完整配置快照
func (s *LocalConfigStore) LoadSnapshot(ctx context.Context, userID string) (*entity.ConfigSnapshot, bool, error) {
	snap := entity.NewConfigSnapshot()
	snap.Providers, _ = s.LoadProviders(ctx, userID)
	buckets, _ := s.ListModelBuckets(ctx, userID)
	for _, b := range buckets {
		ms, _ := s.LoadModels(ctx, userID, b)
		snap.SetBucket(b, ms)
	}
	snap.SelectedModels, _ = s.LoadSelectedModels(ctx, userID)
	if meta, ok := Get(s.store, KeySyncMetadata, SyncMetadataCodec); ok {
		snap.LastUpdated = meta.LastSync
	}
	return snap, !snap.IsEmpty(), nil
}

// SaveSnapshot 写入完整配置快照
func (s *LocalConfigStore) SaveSnapshot(ctx context.Context, userID string, snap *entity.ConfigSnapshot) error {
	snap = service.NormalizeSnapshot(snap)
	if err := s.SaveProviders(ctx, userID, snap.Providers); err != nil {
		return err
	}
	for bucket, ms := range snap.Buckets() {
		if err := s.SaveModels(ctx, userID, bucket, ms); err != nil {
			return err
		}
	}
	return s.SaveSelectedModels(ctx, userID, snap.SelectedModels)
}

// SaveSyncMetadata records the last completed sync.
func (s *LocalConfigStore) SaveSyncMetadata(meta SyncMetadata) bool {
	return s.store.Set(KeySyncMetadata, meta)
}

// LoadSyncMetadata returns the last completed sync, if any.
func (s *LocalConfigStore) LoadSyncMetadata() (SyncMetadata, bool) {
	return Get(s.store, KeySyncMetadata, SyncMetadataCodec)
}

func (s *LocalConfigStore) set(key string, value any) error {
	if !s.store.Set(key, value) {
		return apperrors.NewInternalError("failed to write local key " + key)
	}
	return nil
}

// Package remote maps conversations, messages, providers and models onto a
// per-user document hierarchy in a docstore.DocumentStore.
//
// Read methods log failures and return an empty, non-nil result together
// with the error so callers can fall back to the local cache. Write methods
// return the error.
package remote

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/chatsync/internal/domain/entity"
	"github.com/ngoclaw/chatsync/internal/domain/repository"
	"github.com/ngoclaw/chatsync/internal/domain/service"
	"github.com/ngoclaw/chatsync/internal/domain/valueobject"
	"github.com/ngoclaw/chatsync/internal/infrastructure/docstore"
	apperrors "github.com/ngoclaw/chatsync/pkg/errors"
)

var (
	_ repository.ConversationBackend = (*Adapter)(nil)
	_ repository.ConfigRepository    = (*Adapter)(nil)
)

// Options 远端适配器选项
type Options struct {
	// BatchLimit caps writes per batch; the store's own limit applies if lower.
	BatchLimit int
	Sealer     *Sealer
	Now        func() time.Time
}

// Adapter 远端文档库适配器
type Adapter struct {
	store      docstore.DocumentStore
	batchLimit int
	sealer     *Sealer
	now        func() time.Time
	logger     *zap.Logger
}

// NewAdapter 创建远端适配器
func NewAdapter(store docstore.DocumentStore, opts Options, logger *zap.Logger) *Adapter {
	limit := store.MaxBatchSize()
	if opts.BatchLimit > 0 && opts.BatchLimit < limit {
		limit = opts.BatchLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		store:      store,
		batchLimit: limit,
		sealer:     opts.Sealer,
		now:        opts.Now,
		logger:     logger.With(zap.String("component", "remote")),
	}
}

// Store returns the underlying document store.
func (a *Adapter) Store() docstore.DocumentStore {
	return a.store
}

func requireUser(userID string) error {
	if userID == "" {
		return apperrors.NewUnauthorizedError("remote backend requires a signed-in user")
	}
	return nil
}

// writer accumulates writes and commits them in batches of at most the
// batch limit. Writes that fit one batch commit atomically.
type writer struct {
	a       *Adapter
	batch   docstore.WriteBatch
	batches int
}

func (a *Adapter) newWriter() *writer {
	return &writer{a: a, batch: a.store.Batch()}
}

func (w *writer) flushIfFull(ctx context.Context) error {
	if w.batch.Len() < w.a.batchLimit {
		return nil
	}
	return w.flush(ctx)
}

func (w *writer) set(ctx context.Context, path string, data map[string]any) error {
	if err := w.flushIfFull(ctx); err != nil {
		return err
	}
	w.batch.Set(path, data)
	return nil
}

func (w *writer) delete(ctx context.Context, path string) error {
	if err := w.flushIfFull(ctx); err != nil {
		return err
	}
	w.batch.Delete(path)
	return nil
}

func (w *writer) flush(ctx context.Context) error {
	if w.batch.Len() == 0 {
		return nil
	}
	if err := w.batch.Commit(ctx); err != nil {
		return err
	}
	w.batches++
	w.batch = w.a.store.Batch()
	return nil
}

// === Conversations ===

// SaveConversation upserts the metadata document and every message. Stored
// messages missing from conv are kept.
func (a *Adapter) SaveConversation(ctx context.Context, userID string, conv *entity.Conversation) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	if conv == nil {
		return apperrors.NewInvalidInputError("nil conversation")
	}
	if err := conv.Validate(); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidInput, "invalid conversation", err)
	}

	meta, err := encodeConversation(conv)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidInput, "encode conversation", err)
	}
	w := a.newWriter()
	if err := w.set(ctx, conversationPath(userID, conv.ID), meta); err != nil {
		return a.writeFailed("save conversation", err, conv.ID)
	}
	for _, m := range conv.Messages {
		if m.Source == "" {
			m = m.Clone()
			m.Source = conv.Source
		}
		data, err := encodeMessage(m)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeInvalidInput, "encode message "+m.ID, err)
		}
		if err := w.set(ctx, docstore.Join(messagesPath(userID, conv.ID), m.ID), data); err != nil {
			return a.writeFailed("save messages", err, conv.ID)
		}
	}
	if err := w.flush(ctx); err != nil {
		return a.writeFailed("save conversation", err, conv.ID)
	}
	if w.batches > 1 {
		a.logger.Info("Conversation saved in several batches",
			zap.String("conversation_id", conv.ID),
			zap.Int("messages", len(conv.Messages)),
			zap.Int("batches", w.batches),
		)
	}
	return nil
}

// LoadConversation 加载会话及全部消息
func (a *Adapter) LoadConversation(ctx context.Context, userID, conversationID string) (*entity.Conversation, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	doc, err := a.store.Get(ctx, conversationPath(userID, conversationID))
	if err != nil {
		if !apperrors.IsNotFound(err) {
			a.readFailed("load conversation", err, conversationID)
		}
		return nil, err
	}
	conv, err := decodeConversation(*doc)
	if err != nil {
		a.readFailed("decode conversation", err, conversationID)
		return nil, apperrors.Wrap(apperrors.CodeCorruptData, "corrupt conversation "+conversationID, err)
	}
	msgs, err := a.loadMessages(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	conv.Messages = msgs
	return conv, nil
}

func (a *Adapter) loadMessages(ctx context.Context, userID, conversationID string) ([]*entity.Message, error) {
	docs, err := a.store.Query(ctx, docstore.Query{
		Collection: messagesPath(userID, conversationID),
		OrderBy:    fieldTimestamp,
		Direction:  docstore.Asc,
	})
	if err != nil {
		a.readFailed("load messages", err, conversationID)
		return []*entity.Message{}, err
	}
	msgs := a.decodeMessages(docs)
	service.SortMessages(msgs)
	return msgs, nil
}

func (a *Adapter) decodeMessages(docs []docstore.Document) []*entity.Message {
	msgs := make([]*entity.Message, 0, len(docs))
	for _, d := range docs {
		m, err := decodeMessage(d)
		if err != nil {
			a.logger.Warn("Skipping corrupt message", zap.String("path", d.Path), zap.Error(err))
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs
}

// LoadConversations lists conversations by updatedAt descending. Messages
// are fetched only when includeMessages is set.
func (a *Adapter) LoadConversations(ctx context.Context, userID string, includeMessages bool) ([]*entity.Conversation, error) {
	if err := requireUser(userID); err != nil {
		return []*entity.Conversation{}, err
	}
	docs, err := a.store.Query(ctx, docstore.Query{
		Collection: conversationsPath(userID),
		OrderBy:    fieldUpdatedAt,
		Direction:  docstore.Desc,
	})
	if err != nil {
		a.readFailed("load conversations", err, "")
		return []*entity.Conversation{}, err
	}
	convs := a.decodeConversations(docs)
	if !includeMessages {
		return convs, nil
	}
	for _, c := range convs {
		msgs, err := a.loadMessages(ctx, userID, c.ID)
		if err != nil {
			return []*entity.Conversation{}, err
		}
		c.Messages = msgs
	}
	return convs, nil
}

func (a *Adapter) decodeConversations(docs []docstore.Document) []*entity.Conversation {
	convs := make([]*entity.Conversation, 0, len(docs))
	for _, d := range docs {
		c, err := decodeConversation(d)
		if err != nil {
			a.logger.Warn("Skipping corrupt conversation", zap.String("path", d.Path), zap.Error(err))
			continue
		}
		convs = append(convs, c)
	}
	return convs
}

func startAfter(cursor valueobject.PageCursor) (*docstore.Cursor, error) {
	v, id, ok, err := cursor.After()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "bad page cursor", err)
	}
	if !ok {
		return nil, nil
	}
	return &docstore.Cursor{Value: v, ID: id}, nil
}

func checkPageSize(pageSize int) error {
	if pageSize <= 0 {
		return apperrors.NewInvalidInputError("page size must be positive")
	}
	return nil
}

// cursorOf builds the next-page cursor from the last raw document.
func cursorOf(doc docstore.Document, field string) valueobject.PageCursor {
	v, _ := docstore.NormalizeValue(doc.Data[field]).(float64)
	return valueobject.ValueCursor(int64(v), doc.ID())
}

// LoadConversationsPaginated pages by updatedAt descending. hasMore is true
// iff the page came back full.
func (a *Adapter) LoadConversationsPaginated(ctx context.Context, userID string, pageSize int, cursor valueobject.PageCursor) (valueobject.Page[*entity.Conversation], error) {
	empty := valueobject.EmptyPage[*entity.Conversation]()
	if err := requireUser(userID); err != nil {
		return empty, err
	}
	if err := checkPageSize(pageSize); err != nil {
		return empty, err
	}
	after, err := startAfter(cursor)
	if err != nil {
		return empty, err
	}
	docs, err := a.store.Query(ctx, docstore.Query{
		Collection: conversationsPath(userID),
		OrderBy:    fieldUpdatedAt,
		Direction:  docstore.Desc,
		Limit:      pageSize,
		StartAfter: after,
	})
	if err != nil {
		a.readFailed("load conversations page", err, "")
		return empty, err
	}
	page := valueobject.Page[*entity.Conversation]{
		Items:   a.decodeConversations(docs),
		HasMore: len(docs) == pageSize,
	}
	if page.HasMore {
		page.Cursor = cursorOf(docs[len(docs)-1], fieldUpdatedAt)
	}
	return page, nil
}

// LoadMessagesPaginated pages forward from the oldest message.
func (a *Adapter) LoadMessagesPaginated(ctx context.Context, userID, conversationID string, pageSize int, cursor valueobject.PageCursor) (valueobject.Page[*entity.Message], error) {
	return a.pageMessages(ctx, userID, conversationID, pageSize, cursor, docstore.Asc)
}

// LoadRecentMessages fetches the newest messages first to bound the read to
// the tail of a long conversation, then reverses the page. The cursor
// resumes before the oldest message seen.
func (a *Adapter) LoadRecentMessages(ctx context.Context, userID, conversationID string, pageSize int, cursor valueobject.PageCursor) (valueobject.Page[*entity.Message], error) {
	return a.pageMessages(ctx, userID, conversationID, pageSize, cursor, docstore.Desc)
}

func (a *Adapter) pageMessages(ctx context.Context, userID, conversationID string, pageSize int, cursor valueobject.PageCursor, dir docstore.Direction) (valueobject.Page[*entity.Message], error) {
	empty := valueobject.EmptyPage[*entity.Message]()
	if err := requireUser(userID); err != nil {
		return empty, err
	}
	if err := checkPageSize(pageSize); err != nil {
		return empty, err
	}
	after, err := startAfter(cursor)
	if err != nil {
		return empty, err
	}
	docs, err := a.store.Query(ctx, docstore.Query{
		Collection: messagesPath(userID, conversationID),
		OrderBy:    fieldOrderKey,
		Direction:  dir,
		Limit:      pageSize,
		StartAfter: after,
	})
	if err != nil {
		a.readFailed("load messages page", err, conversationID)
		return empty, err
	}
	page := valueobject.Page[*entity.Message]{
		Items:   a.decodeMessages(docs),
		HasMore: len(docs) == pageSize,
	}
	if page.HasMore {
		page.Cursor = cursorOf(docs[len(docs)-1], fieldOrderKey)
	}
	service.SortMessages(page.Items)
	return page, nil
}

// DeleteConversation removes every message and then the metadata document.
// A conversation that fits one batch is deleted atomically.
func (a *Adapter) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	docs, err := a.store.Query(ctx, docstore.Query{Collection: messagesPath(userID, conversationID)})
	if err != nil {
		return a.writeFailed("list messages for delete", err, conversationID)
	}
	w := a.newWriter()
	for _, d := range docs {
		if err := w.delete(ctx, d.Path); err != nil {
			return a.writeFailed("delete messages", err, conversationID)
		}
	}
	if err := w.delete(ctx, conversationPath(userID, conversationID)); err != nil {
		return a.writeFailed("delete conversation", err, conversationID)
	}
	if err := w.flush(ctx); err != nil {
		return a.writeFailed("delete conversation", err, conversationID)
	}
	return nil
}

func (a *Adapter) readFailed(op string, err error, id string) {
	a.logger.Warn("Remote read failed",
		zap.String("op", op),
		zap.String("id", id),
		zap.Error(err),
	)
}

func (a *Adapter) writeFailed(op string, err error, id string) error {
	a.logger.Error("Remote write failed",
		zap.String("op", op),
		zap.String("id", id),
		zap.Error(err),
	)
	return err
}

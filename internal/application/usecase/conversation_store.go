package usecase

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/chatsync/internal/application/export"
	"github.com/ngoclaw/chatsync/internal/domain/entity"
	"github.com/ngoclaw/chatsync/internal/domain/repository"
	"github.com/ngoclaw/chatsync/internal/domain/service"
	"github.com/ngoclaw/chatsync/internal/domain/valueobject"
	apperrors "github.com/ngoclaw/chatsync/pkg/errors"
)

// ConversationStore is the single entry point for conversation and message
// CRUD. Signed-in users are served by the remote backend, anonymous users by
// the local one. Remote read failures fall back to the local copy; write
// failures are returned.
type ConversationStore struct {
	local    repository.ConversationBackend
	remote   repository.ConversationBackend
	session  repository.SessionProvider
	blobs    repository.BlobStore
	notifier *Notifier
	now      func() time.Time
	logger   *zap.Logger
}

// ConversationStoreOption 可选依赖
type ConversationStoreOption func(*ConversationStore)

// WithBlobStore enables attachment URL refresh.
func WithBlobStore(b repository.BlobStore) ConversationStoreOption {
	return func(s *ConversationStore) { s.blobs = b }
}

// WithClock replaces the time source used for new conversations and messages.
func WithClock(now func() time.Time) ConversationStoreOption {
	return func(s *ConversationStore) { s.now = now }
}

// NewConversationStore 创建会话存储门面，remote 可为 nil（纯本地模式）
func NewConversationStore(
	local repository.ConversationBackend,
	remote repository.ConversationBackend,
	session repository.SessionProvider,
	notifier *Notifier,
	logger *zap.Logger,
	opts ...ConversationStoreOption,
) *ConversationStore {
	if notifier == nil {
		notifier = NewNotifier(logger)
	}
	s := &ConversationStore{
		local:    local,
		remote:   remote,
		session:  session,
		notifier: notifier,
		now:      time.Now,
		logger:   logger.With(zap.String("component", "conversation_store")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// route picks the backend for the current session.
func (s *ConversationStore) route() (backend repository.ConversationBackend, userID string, remote bool) {
	if s.remote != nil && s.session != nil {
		if user, ok := s.session.CurrentUser(); ok && !user.IsAnonymous() {
			return s.remote, user.ID(), true
		}
	}
	return s.local, "", false
}

// fallback reports whether a remote read error should be retried locally.
func (s *ConversationStore) fallback(op string, err error) bool {
	if err == nil || apperrors.IsNotFound(err) || apperrors.IsInvalidInput(err) {
		return false
	}
	s.logger.Warn("Remote read failed, using local cache", zap.String("op", op), zap.Error(err))
	return true
}

// SaveConversation 保存会话（元数据 + 消息）
func (s *ConversationStore) SaveConversation(ctx context.Context, conv *entity.Conversation) error {
	backend, uid, _ := s.route()
	if err := backend.SaveConversation(ctx, uid, conv); err != nil {
		return err
	}
	s.notifier.Conversations.Publish(ConversationsChanged{Kind: ConversationSaved, ConversationID: conv.ID, UserID: uid})
	return nil
}

// LoadConversation 加载单个会话，消息按规范顺序排列
func (s *ConversationStore) LoadConversation(ctx context.Context, conversationID string) (*entity.Conversation, error) {
	backend, uid, remote := s.route()
	conv, err := backend.LoadConversation(ctx, uid, conversationID)
	if remote && s.fallback("load conversation", err) {
		conv, err = s.local.LoadConversation(ctx, "", conversationID)
	}
	if err != nil {
		return nil, err
	}
	service.SortMessages(conv.Messages)
	return conv, nil
}

// LoadConversations lists conversations newest first.
func (s *ConversationStore) LoadConversations(ctx context.Context, includeMessages bool) ([]*entity.Conversation, error) {
	backend, uid, remote := s.route()
	convs, err := backend.LoadConversations(ctx, uid, includeMessages)
	if remote && s.fallback("load conversations", err) {
		convs, err = s.local.LoadConversations(ctx, "", includeMessages)
	}
	if err != nil {
		return []*entity.Conversation{}, err
	}
	for _, c := range convs {
		service.SortMessages(c.Messages)
	}
	return convs, nil
}

// DeleteConversation 删除会话及其消息
func (s *ConversationStore) DeleteConversation(ctx context.Context, conversationID string) error {
	backend, uid, _ := s.route()
	if err := backend.DeleteConversation(ctx, uid, conversationID); err != nil {
		return err
	}
	s.notifier.Conversations.Publish(ConversationsChanged{Kind: ConversationDeleted, ConversationID: conversationID, UserID: uid})
	return nil
}

// LoadConversationsPaginated pages conversation metadata newest first. The
// cursor is only meaningful to the backend that issued it, so a failed
// remote read falls back locally only for the first page.
func (s *ConversationStore) LoadConversationsPaginated(ctx context.Context, pageSize int, cursor valueobject.PageCursor) (valueobject.Page[*entity.Conversation], error) {
	backend, uid, remote := s.route()
	page, err := backend.LoadConversationsPaginated(ctx, uid, pageSize, cursor)
	if remote && cursor.IsZero() && s.fallback("load conversations page", err) {
		page, err = s.local.LoadConversationsPaginated(ctx, "", pageSize, cursor)
	}
	return page, err
}

// LoadMessagesPaginated pages messages oldest first.
func (s *ConversationStore) LoadMessagesPaginated(ctx context.Context, conversationID string, pageSize int, cursor valueobject.PageCursor) (valueobject.Page[*entity.Message], error) {
	backend, uid, remote := s.route()
	page, err := backend.LoadMessagesPaginated(ctx, uid, conversationID, pageSize, cursor)
	if remote && cursor.IsZero() && s.fallback("load messages page", err) {
		page, err = s.local.LoadMessagesPaginated(ctx, "", conversationID, pageSize, cursor)
	}
	service.SortMessages(page.Items)
	return page, err
}

// LoadRecentMessages pages backwards from the newest message; each page is
// still returned oldest first.
func (s *ConversationStore) LoadRecentMessages(ctx context.Context, conversationID string, pageSize int, cursor valueobject.PageCursor) (valueobject.Page[*entity.Message], error) {
	backend, uid, remote := s.route()
	page, err := backend.LoadRecentMessages(ctx, uid, conversationID, pageSize, cursor)
	if remote && cursor.IsZero() && s.fallback("load recent messages", err) {
		page, err = s.local.LoadRecentMessages(ctx, "", conversationID, pageSize, cursor)
	}
	service.SortMessages(page.Items)
	return page, err
}

// AppendRequest describes one message to add. An empty ConversationID
// starts a new conversation, which requires a user message.
type AppendRequest struct {
	ConversationID string
	ModelID        string
	Source         entity.Source
	Message        *entity.Message
}

// AppendMessage adds a message and bumps updatedAt. A new conversation is
// titled from its first user message.
func (s *ConversationStore) AppendMessage(ctx context.Context, req AppendRequest) (*entity.Conversation, error) {
	msg := req.Message
	if msg == nil {
		return nil, apperrors.NewInvalidInputError("message is required")
	}
	if msg.ID == "" {
		msg.ID = entity.NewMessageID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	// 内联的 <think> 段落移入 Reasoning
	if msg.Role == entity.RoleAssistant && msg.Reasoning == "" && !msg.Content.IsMultipart() {
		if answer, reasoning, complete := service.SplitReasoning(msg.Content.Text()); reasoning != "" {
			msg.Content = valueobject.NewTextContent(answer)
			msg.Reasoning = reasoning
			msg.ReasoningComplete = complete
		}
	}
	if err := msg.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "invalid message", err)
	}

	var conv *entity.Conversation
	if req.ConversationID == "" {
		if msg.Role != entity.RoleUser {
			return nil, apperrors.NewInvalidInputError("a conversation starts with a user message")
		}
		source := req.Source
		if source == "" {
			source = entity.SourceServer
		}
		created, err := entity.NewConversation(service.DeriveTitle(msg.Content.Text(), 0), req.ModelID, source, msg.Timestamp)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "new conversation", err)
		}
		conv = created
	} else {
		loaded, err := s.LoadConversation(ctx, req.ConversationID)
		if err != nil {
			return nil, err
		}
		conv = loaded
		if req.ModelID != "" {
			conv.ModelID = req.ModelID
		}
		if msg.Role == entity.RoleUser && (conv.Title == "" || conv.Title == service.FallbackTitle) {
			conv.Title = service.DeriveTitle(msg.Content.Text(), 0)
		}
	}

	conv.Append(msg)

	// only the new message needs writing; stored messages are kept by the upsert
	delta := conv.Metadata()
	delta.Messages = []*entity.Message{msg}
	if err := s.SaveConversation(ctx, delta); err != nil {
		return nil, err
	}
	service.SortMessages(conv.Messages)
	return conv, nil
}

// SearchConversations loads every conversation with its messages and ranks
// the matches for query.
func (s *ConversationStore) SearchConversations(ctx context.Context, query string) ([]service.SearchHit, error) {
	convs, err := s.LoadConversations(ctx, true)
	if err != nil {
		return nil, err
	}
	return service.SearchConversations(convs, query), nil
}

// Export writes the given conversations, or all of them when ids is empty,
// in format (json, yaml or md).
func (s *ConversationStore) Export(ctx context.Context, w io.Writer, format string, ids ...string) error {
	exporter, err := export.NewExporter(format)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidInput, "export", err)
	}
	var convs []*entity.Conversation
	if len(ids) == 0 {
		if convs, err = s.LoadConversations(ctx, true); err != nil {
			return err
		}
	} else {
		for _, id := range ids {
			c, err := s.LoadConversation(ctx, id)
			if err != nil {
				return err
			}
			convs = append(convs, c)
		}
	}
	if err := s.RefreshAttachmentURLs(ctx, convs...); err != nil {
		s.logger.Warn("Attachment URLs not refreshed", zap.Error(err))
	}
	return exporter.Export(convs, w)
}

// RefreshAttachmentURLs replaces expired signed URLs with fresh ones. The
// stored conversations are not modified.
func (s *ConversationStore) RefreshAttachmentURLs(ctx context.Context, convs ...*entity.Conversation) error {
	if s.blobs == nil {
		return nil
	}
	var firstErr error
	for _, c := range convs {
		for _, m := range c.Messages {
			for i := range m.Attachments {
				a := &m.Attachments[i]
				if !a.NeedsSigning() {
					continue
				}
				url, err := s.blobs.ResolveURL(ctx, a.StoragePath)
				if err != nil {
					if firstErr == nil {
						firstErr = err
					}
					continue
				}
				a.URL = url
			}
		}
	}
	return firstErr
}

package repository

import (
	"context"

	"github.com/ngoclaw/chatsync/internal/domain/entity"
	"github.com/ngoclaw/chatsync/internal/domain/valueobject"
)

// ConversationBackend 会话仓储接口，本地缓存与远端文档库各有一个实现
//
// SaveConversation is an upsert: metadata is replaced, messages are
// upserted by id, and stored messages absent from conv are kept.
// userID is ignored by the local backend.
type ConversationBackend interface {
	// SaveConversation 保存会话元数据与消息
	SaveConversation(ctx context.Context, userID string, conv *entity.Conversation) error

	// LoadConversation 加载单个会话（含消息），不存在时返回 NOT_FOUND
	LoadConversation(ctx context.Context, userID, conversationID string) (*entity.Conversation, error)

	// LoadConversations 按 updatedAt 倒序加载全部会话
	LoadConversations(ctx context.Context, userID string, includeMessages bool) ([]*entity.Conversation, error)

	// LoadConversationsPaginated 分页加载会话元数据
	LoadConversationsPaginated(ctx context.Context, userID string, pageSize int, cursor valueobject.PageCursor) (valueobject.Page[*entity.Conversation], error)

	// LoadMessagesPaginated 分页加载消息，每页按时间正序返回
	LoadMessagesPaginated(ctx context.Context, userID, conversationID string, pageSize int, cursor valueobject.PageCursor) (valueobject.Page[*entity.Message], error)

	// LoadRecentMessages pages backwards from the newest message. Each page
	// is returned oldest-first; the cursor resumes before its oldest message.
	LoadRecentMessages(ctx context.Context, userID, conversationID string, pageSize int, cursor valueobject.PageCursor) (valueobject.Page[*entity.Message], error)

	// DeleteConversation 删除会话及其全部消息
	DeleteConversation(ctx context.Context, userID, conversationID string) error
}

package remote

import (
	"context"

	"github.com/ngoclaw/chatsync/internal/domain/entity"
	"github.com/ngoclaw/chatsync/internal/infrastructure/docstore"
)

// ConversationCounts 按来源统计的会话数
type ConversationCounts struct {
	Total  int64 `json:"total"`
	Server int64 `json:"server"`
	BYOK   int64 `json:"byok"`
}

// ChatStats is the usage summary for one user. Every figure comes from a
// count-only query; no documents are read.
type ChatStats struct {
	Conversations     ConversationCounts `json:"conversations"`
	Messages          int64              `json:"messages"`
	UserMessages      int64              `json:"userMessages"`
	ServerUserPrompts int64              `json:"serverUserPrompts"`
	BYOKUserPrompts   int64              `json:"byokUserPrompts"`
}

// GetConversationCounts counts conversations per source tag.
func (a *Adapter) GetConversationCounts(ctx context.Context, userID string) (ConversationCounts, error) {
	var out ConversationCounts
	if err := requireUser(userID); err != nil {
		return out, err
	}
	coll := conversationsPath(userID)
	var err error
	if out.Server, err = a.count(ctx, docstore.CountQuery{Collection: coll, Filters: sourceFilter(entity.SourceServer)}); err != nil {
		return ConversationCounts{}, err
	}
	if out.BYOK, err = a.count(ctx, docstore.CountQuery{Collection: coll, Filters: sourceFilter(entity.SourceBYOK)}); err != nil {
		return ConversationCounts{}, err
	}
	out.Total = out.Server + out.BYOK
	return out, nil
}

// GetUserChatStats counts conversations and, through a collection-group
// query over every messages collection of the user, messages by role and source.
func (a *Adapter) GetUserChatStats(ctx context.Context, userID string) (ChatStats, error) {
	var out ChatStats
	convs, err := a.GetConversationCounts(ctx, userID)
	if err != nil {
		return out, err
	}
	out.Conversations = convs

	prefix := docstore.Join(usersCollection, userID)
	group := func(filters ...docstore.Filter) (int64, error) {
		return a.count(ctx, docstore.CountQuery{Group: messagesColl, Prefix: prefix, Filters: filters})
	}
	userRole := docstore.Filter{Field: fieldRole, Value: string(entity.RoleUser)}

	if out.Messages, err = group(); err != nil {
		return ChatStats{}, err
	}
	if out.UserMessages, err = group(userRole); err != nil {
		return ChatStats{}, err
	}
	if out.ServerUserPrompts, err = group(append(sourceFilter(entity.SourceServer), userRole)...); err != nil {
		return ChatStats{}, err
	}
	if out.BYOKUserPrompts, err = group(append(sourceFilter(entity.SourceBYOK), userRole)...); err != nil {
		return ChatStats{}, err
	}
	return out, nil
}

func sourceFilter(s entity.Source) []docstore.Filter {
	return []docstore.Filter{{Field: fieldSource, Value: string(s)}}
}

func (a *Adapter) count(ctx context.Context, q docstore.CountQuery) (int64, error) {
	n, err := a.store.Count(ctx, q)
	if err != nil {
		a.readFailed("count", err, q.Collection+q.Group)
		return 0, err
	}
	return n, nil
}

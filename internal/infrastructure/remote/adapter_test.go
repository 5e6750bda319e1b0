package remote

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ngoclaw/chatsync/internal/domain/entity"
	"github.com/ngoclaw/chatsync/internal/domain/valueobject"
	"github.com/ngoclaw/chatsync/internal/infrastructure/docstore"
	apperrors "github.com/ngoclaw/chatsync/pkg/errors"
)

const uid = "u1"

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

func newAdapter(t *testing.T, opts Options) (*Adapter, *docstore.MemoryStore) {
	t.Helper()
	store := docstore.NewMemoryStore()
	return NewAdapter(store, opts, testLogger()), store
}

func msg(id string, role entity.Role, at time.Time) *entity.Message {
	return &entity.Message{
		ID:        id,
		Role:      role,
		Content:   valueobject.NewTextContent("text " + id),
		Timestamp: at,
	}
}

func conv(id string, source entity.Source, updated time.Time, msgs ...*entity.Message) *entity.Conversation {
	return &entity.Conversation{
		ID:        id,
		Title:     "conv " + id,
		CreatedAt: t0,
		UpdatedAt: updated,
		Source:    source,
		Messages:  msgs,
	}
}

func ids(msgs []*entity.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func fiveMessages() []*entity.Message {
	out := make([]*entity.Message, 5)
	for i := range out {
		role := entity.RoleUser
		if i%2 == 1 {
			role = entity.RoleAssistant
		}
		out[i] = msg(fmt.Sprintf("m%d", i), role, t0.Add(time.Duration(i)*time.Minute))
	}
	return out
}

// === Conversations ===

func TestAdapter_ConversationRoundTrip(t *testing.T) {
	a, _ := newAdapter(t, Options{})
	ctx := context.Background()

	msgs := fiveMessages()
	c := conv("c1", entity.SourceBYOK, t0.Add(4*time.Minute), msgs[3], msgs[0], msgs[4], msgs[1], msgs[2])
	require.NoError(t, a.SaveConversation(ctx, uid, c))

	got, err := a.LoadConversation(ctx, uid, "c1")
	require.NoError(t, err)
	assert.Equal(t, "conv c1", got.Title)
	assert.Equal(t, entity.SourceBYOK, got.Source)
	assert.True(t, got.UpdatedAt.Equal(t0.Add(4*time.Minute)))
	assert.Equal(t, []string{"m0", "m1", "m2", "m3", "m4"}, ids(got.Messages))
	for _, m := range got.Messages {
		assert.Equal(t, entity.SourceBYOK, m.Source, "message inherits conversation source")
	}

	_, err = a.LoadConversation(ctx, uid, "missing")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestAdapter_SaveKeepsStoredMessages(t *testing.T) {
	a, _ := newAdapter(t, Options{})
	ctx := context.Background()
	msgs := fiveMessages()

	require.NoError(t, a.SaveConversation(ctx, uid, conv("c1", entity.SourceServer, t0, msgs[0], msgs[1])))
	require.NoError(t, a.SaveConversation(ctx, uid, conv("c1", entity.SourceServer, t0, msgs[2])))

	got, err := a.LoadConversation(ctx, uid, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"m0", "m1", "m2"}, ids(got.Messages))
}

func TestAdapter_LoadConversationsOrder(t *testing.T) {
	a, _ := newAdapter(t, Options{})
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		c := conv(fmt.Sprintf("c%d", i), entity.SourceServer, t0.Add(time.Duration(i)*time.Hour),
			msg(fmt.Sprintf("m%d", i), entity.RoleUser, t0))
		require.NoError(t, a.SaveConversation(ctx, uid, c))
	}

	convs, err := a.LoadConversations(ctx, uid, false)
	require.NoError(t, err)
	require.Len(t, convs, 3)
	assert.Equal(t, "c3", convs[0].ID)
	assert.Equal(t, "c1", convs[2].ID)
	assert.Nil(t, convs[0].Messages)

	convs, err = a.LoadConversations(ctx, uid, true)
	require.NoError(t, err)
	assert.Len(t, convs[0].Messages, 1)
}

func TestAdapter_ConversationsPaginated(t *testing.T) {
	a, _ := newAdapter(t, Options{})
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		require.NoError(t, a.SaveConversation(ctx, uid, conv(fmt.Sprintf("c%d", i), entity.SourceServer, t0.Add(time.Duration(i)*time.Hour))))
	}

	page, err := a.LoadConversationsPaginated(ctx, uid, 2, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "c3", page.Items[0].ID)
	assert.Equal(t, "c2", page.Items[1].ID)
	assert.True(t, page.HasMore)

	page, err = a.LoadConversationsPaginated(ctx, uid, 2, page.Cursor)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "c1", page.Items[0].ID)
	assert.False(t, page.HasMore)

	_, err = a.LoadConversationsPaginated(ctx, uid, 0, "")
	assert.True(t, apperrors.IsInvalidInput(err))
}

// === Message paging ===

func TestAdapter_MessagesPaginatedForward(t *testing.T) {
	a, _ := newAdapter(t, Options{})
	ctx := context.Background()
	require.NoError(t, a.SaveConversation(ctx, uid, conv("c1", entity.SourceServer, t0.Add(4*time.Minute), fiveMessages()...)))

	var pages [][]string
	cursor := valueobject.PageCursor("")
	for {
		page, err := a.LoadMessagesPaginated(ctx, uid, "c1", 2, cursor)
		require.NoError(t, err)
		pages = append(pages, ids(page.Items))
		if !page.HasMore {
			break
		}
		cursor = page.Cursor
	}
	assert.Equal(t, [][]string{{"m0", "m1"}, {"m2", "m3"}, {"m4"}}, pages)
}

func TestAdapter_RecentMessagesFromTail(t *testing.T) {
	a, _ := newAdapter(t, Options{})
	ctx := context.Background()
	require.NoError(t, a.SaveConversation(ctx, uid, conv("c1", entity.SourceServer, t0.Add(4*time.Minute), fiveMessages()...)))

	var pages [][]string
	cursor := valueobject.PageCursor("")
	for {
		page, err := a.LoadRecentMessages(ctx, uid, "c1", 2, cursor)
		require.NoError(t, err)
		pages = append(pages, ids(page.Items))
		if !page.HasMore {
			break
		}
		cursor = page.Cursor
	}
	assert.Equal(t, [][]string{{"m3", "m4"}, {"m1", "m2"}, {"m0"}}, pages)
}

func sameInstantPair() []*entity.Message {
	return []*entity.Message{
		msg("a-reply", entity.RoleAssistant, t0),
		msg("b-question", entity.RoleUser, t0),
	}
}

func TestAdapter_MessagesPaginatedSameInstantRoleOrder(t *testing.T) {
	a, _ := newAdapter(t, Options{})
	ctx := context.Background()
	require.NoError(t, a.SaveConversation(ctx, uid, conv("c1", entity.SourceServer, t0, sameInstantPair()...)))

	var got []string
	cursor := valueobject.PageCursor("")
	for {
		page, err := a.LoadMessagesPaginated(ctx, uid, "c1", 1, cursor)
		require.NoError(t, err)
		got = append(got, ids(page.Items)...)
		if !page.HasMore {
			break
		}
		cursor = page.Cursor
	}
	assert.Equal(t, []string{"b-question", "a-reply"}, got)
}

func TestAdapter_RecentMessagesSameInstantRoleOrder(t *testing.T) {
	a, _ := newAdapter(t, Options{})
	ctx := context.Background()
	require.NoError(t, a.SaveConversation(ctx, uid, conv("c1", entity.SourceServer, t0, sameInstantPair()...)))

	var pages [][]string
	cursor := valueobject.PageCursor("")
	for {
		page, err := a.LoadRecentMessages(ctx, uid, "c1", 1, cursor)
		require.NoError(t, err)
		pages = append(pages, ids(page.Items))
		if !page.HasMore {
			break
		}
		cursor = page.Cursor
	}
	// 最新的在前: the answer is the tail, its question comes one page earlier
	require.Len(t, pages, 2)
	assert.Equal(t, []string{"a-reply"}, pages[0])
	assert.Equal(t, []string{"b-question"}, pages[1])
}

func TestAdapter_MessageDocCarriesOrderKey(t *testing.T) {
	a, store := newAdapter(t, Options{})
	ctx := context.Background()
	require.NoError(t, a.SaveConversation(ctx, uid, conv("c1", entity.SourceServer, t0, sameInstantPair()...)))

	docs, err := store.Query(ctx, docstore.Query{Collection: messagesPath(uid, "c1"), OrderBy: fieldOrderKey})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "b-question", docs[0].ID())
	assert.Equal(t, float64(t0.UnixMilli()*roleSlots+1), docstore.NormalizeValue(docs[0].Data[fieldOrderKey]))
	assert.Equal(t, float64(t0.UnixMilli()*roleSlots+2), docstore.NormalizeValue(docs[1].Data[fieldOrderKey]))
}

func TestAdapter_BadCursor(t *testing.T) {
	a, _ := newAdapter(t, Options{})
	_, err := a.LoadMessagesPaginated(context.Background(), uid, "c1", 2, valueobject.IndexCursor(3))
	assert.True(t, apperrors.IsInvalidInput(err))
}

// === Batching ===

func TestAdapter_ChunksLargeConversations(t *testing.T) {
	store := docstore.NewMemoryStore()
	store.SetMaxBatchSize(2)
	a := NewAdapter(store, Options{BatchLimit: 10}, testLogger())
	ctx := context.Background()

	var msgs []*entity.Message
	for i := 0; i < 7; i++ {
		msgs = append(msgs, msg(fmt.Sprintf("m%02d", i), entity.RoleUser, t0.Add(time.Duration(i)*time.Second)))
	}
	require.NoError(t, a.SaveConversation(ctx, uid, conv("c1", entity.SourceServer, t0.Add(time.Minute), msgs...)))
	assert.Equal(t, 8, store.Len())

	got, err := a.LoadConversation(ctx, uid, "c1")
	require.NoError(t, err)
	assert.Len(t, got.Messages, 7)

	require.NoError(t, a.DeleteConversation(ctx, uid, "c1"))
	assert.Equal(t, 0, store.Len())
}

func TestAdapter_DeleteCascade(t *testing.T) {
	a, store := newAdapter(t, Options{})
	ctx := context.Background()
	require.NoError(t, a.SaveConversation(ctx, uid, conv("c1", entity.SourceServer, t0.Add(4*time.Minute), fiveMessages()...)))
	require.NoError(t, a.SaveConversation(ctx, uid, conv("c2", entity.SourceServer, t0, msg("x", entity.RoleUser, t0))))

	require.NoError(t, a.DeleteConversation(ctx, uid, "c1"))

	_, err := a.LoadConversation(ctx, uid, "c1")
	assert.True(t, apperrors.IsNotFound(err))
	assert.Equal(t, 2, store.Len(), "only c2 and its message remain")
}

// === Failure handling ===

func TestAdapter_ReadFailureReturnsEmpty(t *testing.T) {
	a, store := newAdapter(t, Options{})
	require.NoError(t, store.Close())
	ctx := context.Background()

	convs, err := a.LoadConversations(ctx, uid, false)
	assert.Error(t, err)
	assert.NotNil(t, convs)
	assert.Empty(t, convs)

	providers, err := a.LoadProviders(ctx, uid)
	assert.Error(t, err)
	assert.NotNil(t, providers)

	page, err := a.LoadMessagesPaginated(ctx, uid, "c1", 5, "")
	assert.Error(t, err)
	assert.NotNil(t, page.Items)
}

func TestAdapter_RequiresUser(t *testing.T) {
	a, _ := newAdapter(t, Options{})
	ctx := context.Background()

	err := a.SaveConversation(ctx, "", conv("c1", entity.SourceServer, t0))
	assert.True(t, apperrors.IsUnauthorized(err))

	convs, err := a.LoadConversations(ctx, "", false)
	assert.True(t, apperrors.IsUnauthorized(err))
	assert.NotNil(t, convs)
}

func TestAdapter_RejectsInvalidConversation(t *testing.T) {
	a, _ := newAdapter(t, Options{})
	bad := conv("c1", entity.Source("other"), t0)
	err := a.SaveConversation(context.Background(), uid, bad)
	assert.True(t, apperrors.IsInvalidInput(err))
}

// === Stats ===

func TestAdapter_CountsAndStats(t *testing.T) {
	a, _ := newAdapter(t, Options{})
	ctx := context.Background()

	require.NoError(t, a.SaveConversation(ctx, uid, conv("s1", entity.SourceServer, t0,
		msg("a", entity.RoleUser, t0),
		msg("b", entity.RoleAssistant, t0.Add(time.Second)),
		msg("c", entity.RoleUser, t0.Add(2*time.Second)),
	)))
	require.NoError(t, a.SaveConversation(ctx, uid, conv("s2", entity.SourceServer, t0)))
	require.NoError(t, a.SaveConversation(ctx, uid, conv("b1", entity.SourceBYOK, t0,
		msg("d", entity.RoleUser, t0),
	)))
	// another user's data is never counted
	require.NoError(t, a.SaveConversation(ctx, "u10", conv("o1", entity.SourceServer, t0,
		msg("e", entity.RoleUser, t0),
	)))

	counts, err := a.GetConversationCounts(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, ConversationCounts{Total: 3, Server: 2, BYOK: 1}, counts)

	stats, err := a.GetUserChatStats(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Messages)
	assert.Equal(t, int64(3), stats.UserMessages)
	assert.Equal(t, int64(2), stats.ServerUserPrompts)
	assert.Equal(t, int64(1), stats.BYOKUserPrompts)
}

// === Providers and models ===

func testKey() string {
	return base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))
}

func TestAdapter_ProviderKeysSealed(t *testing.T) {
	sealer, err := NewSealer(testKey())
	require.NoError(t, err)
	a, store := newAdapter(t, Options{Sealer: sealer})
	ctx := context.Background()

	p := entity.Provider{ID: "openai", Label: "OpenAI", APIKey: "sk-secret", BaseURL: "https://api.openai.com/v1"}
	require.NoError(t, a.SaveProviders(ctx, uid, []entity.Provider{p, {ID: "openai", Label: "dupe"}}))

	raw, err := store.Get(ctx, "providers/u1/data/openai")
	require.NoError(t, err)
	stored, _ := raw.Data["apiKey"].(string)
	assert.True(t, IsSealed(stored))
	assert.NotContains(t, stored, "sk-secret")

	got, err := a.LoadProviders(ctx, uid)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, p, got[0])

	// without the key the sealed provider cannot be read and is skipped
	plain := NewAdapter(store, Options{}, testLogger())
	got, err = plain.LoadProviders(ctx, uid)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, a.RemoveProvider(ctx, uid, "openai"))
	got, err = a.LoadProviders(ctx, uid)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSealer(t *testing.T) {
	var none *Sealer
	v, err := none.Seal("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", v)

	s, err := NewSealer(testKey())
	require.NoError(t, err)
	sealed, err := s.Seal("value")
	require.NoError(t, err)
	again, err := s.Seal(sealed)
	require.NoError(t, err)
	assert.Equal(t, sealed, again, "sealing is idempotent")

	opened, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "value", opened)

	_, err = none.Open(sealed)
	assert.Error(t, err)

	_, err = NewSealer("not base64!")
	assert.Error(t, err)
}

func TestModelKeyEncoding(t *testing.T) {
	for _, id := range []string{"gpt-4o", "openai/gpt-4.1", "meta-llama/llama-3.1-70b:free", "a%b"} {
		key := EncodeModelKey(id)
		assert.NotContains(t, key, "/")
		assert.NotContains(t, key, ".")
		back, err := DecodeModelKey(key)
		require.NoError(t, err)
		assert.Equal(t, id, back)
	}
}

func TestAdapter_Models(t *testing.T) {
	a, store := newAdapter(t, Options{})
	ctx := context.Background()

	models := []entity.Model{
		{ID: "openai/gpt-4.1", Name: "GPT-4.1", Category: entity.CategoryServer},
		{ID: "anthropic/claude-3.5", Name: "Claude", Category: entity.CategoryServer},
	}
	require.NoError(t, a.SaveModels(ctx, uid, "openrouter", models))
	require.NoError(t, a.SaveModels(ctx, uid, entity.CustomBucket("local"), []entity.Model{{ID: "llama3", Category: entity.CategoryCustom}}))

	_, err := store.Get(ctx, "models/u1/openrouter/openai%2Fgpt-4%2E1")
	require.NoError(t, err)

	got, err := a.LoadModels(ctx, uid, "openrouter")
	require.NoError(t, err)
	assert.ElementsMatch(t, models, got)

	buckets, err := a.ListModelBuckets(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, []string{"custom_local", "openrouter"}, buckets)

	require.NoError(t, a.RemoveModel(ctx, uid, "openrouter", "openai/gpt-4.1"))
	got, err = a.LoadModels(ctx, uid, "openrouter")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "anthropic/claude-3.5", got[0].ID)

	assert.True(t, apperrors.IsInvalidInput(a.SaveModels(ctx, uid, "", models)))
}

func TestAdapter_SelectedModels(t *testing.T) {
	a, _ := newAdapter(t, Options{})
	ctx := context.Background()

	got, err := a.LoadSelectedModels(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, []string{}, got)

	require.NoError(t, a.SaveSelectedModels(ctx, uid, []string{"a", "b", "a", ""}))
	got, err = a.LoadSelectedModels(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)

	require.NoError(t, a.SaveSelectedModels(ctx, uid, []string{"c"}))
	got, err = a.LoadSelectedModels(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, got)
}

// === Snapshot ===

func TestAdapter_Snapshot(t *testing.T) {
	now := t0.Add(time.Hour)
	a, _ := newAdapter(t, Options{Now: func() time.Time { return now }})
	ctx := context.Background()

	snap, exists, err := a.LoadSnapshot(ctx, uid)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.True(t, snap.IsEmpty())

	in := entity.NewConfigSnapshot()
	in.Providers = []entity.Provider{{ID: "p1", Label: "P1"}}
	in.SystemModels = []entity.Model{{ID: "sys-1", Category: entity.CategoryServer}}
	in.CustomModels["p1"] = []entity.Model{{ID: "mine", Category: entity.CategoryCustom, ProviderID: "p1"}}
	in.SelectedModels = []string{"sys-1", "mine"}
	require.NoError(t, a.SaveSnapshot(ctx, uid, in))

	snap, exists, err = a.LoadSnapshot(ctx, uid)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, in.Providers, snap.Providers)
	assert.Equal(t, in.SystemModels, snap.SystemModels)
	assert.Equal(t, in.CustomModels["p1"], snap.CustomModels["p1"])
	assert.Equal(t, []string{"sys-1", "mine"}, snap.SelectedModels)
	assert.True(t, snap.LastUpdated.Equal(now))
}

func TestAdapter_SnapshotWithoutMarker(t *testing.T) {
	a, _ := newAdapter(t, Options{})
	ctx := context.Background()
	require.NoError(t, a.SaveSelectedModels(ctx, uid, []string{"m"}))

	_, exists, err := a.LoadSnapshot(ctx, uid)
	require.NoError(t, err)
	assert.True(t, exists, "configuration present without a sync marker still counts")
}

package usecase_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngoclaw/chatsync/internal/application/usecase"
	"github.com/ngoclaw/chatsync/internal/domain/entity"
	"github.com/ngoclaw/chatsync/internal/domain/repository"
	"github.com/ngoclaw/chatsync/internal/domain/service"
	"github.com/ngoclaw/chatsync/internal/domain/valueobject"
	"github.com/ngoclaw/chatsync/internal/infrastructure/localstore"
	apperrors "github.com/ngoclaw/chatsync/pkg/errors"
)

var alice = valueobject.NewRegisteredUser("u1", "alice")

// MockUnavailableConfig fails every remote configuration call.
type MockUnavailableConfig struct {
	repository.ConfigRepository
}

func (MockUnavailableConfig) LoadSnapshot(ctx context.Context, userID string) (*entity.ConfigSnapshot, bool, error) {
	return entity.NewConfigSnapshot(), false, unavailable()
}

func (MockUnavailableConfig) LoadProviders(ctx context.Context, userID string) ([]entity.Provider, error) {
	return []entity.Provider{}, unavailable()
}

func (MockUnavailableConfig) LoadSelectedModels(ctx context.Context, userID string) ([]string, error) {
	return []string{}, unavailable()
}

// MockFlakyBackend delegates to a real backend but refuses to save one conversation.
type MockFlakyBackend struct {
	repository.ConversationBackend
	failID string
}

func (m MockFlakyBackend) SaveConversation(ctx context.Context, userID string, conv *entity.Conversation) error {
	if conv.ID == m.failID {
		return apperrors.NewUnavailableError("write rejected", nil)
	}
	return m.ConversationBackend.SaveConversation(ctx, userID, conv)
}

type syncFixture struct {
	*fixture
	config *localstore.LocalConfigStore
}

func newSyncFixture(t *testing.T) *syncFixture {
	f := newFixture(t)
	return &syncFixture{fixture: f, config: localstore.NewLocalConfigStore(f.store, testLogger())}
}

func (f *syncFixture) orchestrator(remoteConfig repository.ConfigRepository, remoteConvs repository.ConversationBackend) *usecase.SyncOrchestrator {
	return usecase.NewSyncOrchestrator(usecase.SyncDeps{
		LocalConfig:        f.config,
		RemoteConfig:       remoteConfig,
		LocalConversations: f.local,
		RemoteConversation: remoteConvs,
		Notifier:           f.notifier,
		Now:                func() time.Time { return t0 },
	}, testLogger())
}

func providerIDs(ps []entity.Provider) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}

func recordStates(n *usecase.Notifier) *[]service.SyncState {
	states := &[]service.SyncState{}
	n.Sync.Subscribe(func(ev usecase.SyncEvent) {
		if ev.Kind == usecase.SyncTransition {
			*states = append(*states, ev.To)
		}
	})
	return states
}

// === Login ===

func TestSync_UploadsLocalWhenRemoteIsEmpty(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)
	require.NoError(t, f.config.SaveProviders(ctx, "", []entity.Provider{{ID: "p1", APIKey: "k1"}}))
	require.NoError(t, f.config.SaveModels(ctx, "", entity.CustomBucket("p1"), []entity.Model{{ID: "m1"}}))

	o := f.orchestrator(f.remote, f.remote)
	states := recordStates(f.notifier)

	var started, completed bool
	snap, err := o.HandleUserLogin(ctx, alice, &usecase.SyncEvents{
		OnSyncStart:    func() { started = true },
		OnSyncComplete: func(*entity.ConfigSnapshot) { completed = true },
	})
	require.NoError(t, err)
	assert.True(t, started)
	assert.True(t, completed)
	assert.Equal(t, []string{"p1"}, providerIDs(snap.Providers))

	assert.Equal(t, []service.SyncState{
		service.SyncLoadingLocal,
		service.SyncLoadingRemote,
		service.SyncUploadingLocal,
		service.SyncMigratingConversations,
		service.SyncIdle,
	}, *states)

	remoteSnap, exists, err := f.remote.LoadSnapshot(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, []string{"p1"}, providerIDs(remoteSnap.Providers))
	assert.Len(t, remoteSnap.CustomModels["p1"], 1)

	meta, ok := f.config.LoadSyncMetadata()
	require.True(t, ok)
	assert.Equal(t, "u1", meta.UserID)
	assert.Equal(t, t0, meta.LastSync.UTC())
}

func TestSync_MergesBothSides(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)
	require.NoError(t, f.config.SaveProviders(ctx, "", []entity.Provider{
		{ID: "p1", Label: "local only"},
		{ID: "p2", Label: "local label"},
	}))
	require.NoError(t, f.config.SaveSelectedModels(ctx, "", []string{"a", "b"}))
	require.NoError(t, f.remote.SaveSnapshot(ctx, "u1", &entity.ConfigSnapshot{
		Providers:      []entity.Provider{{ID: "p2", Label: "remote label"}, {ID: "p3"}},
		SystemModels:   []entity.Model{{ID: "sys"}},
		SelectedModels: []string{"b", "c"},
	}))

	o := f.orchestrator(f.remote, f.remote)
	states := recordStates(f.notifier)

	merged, err := o.SyncWithCloud(ctx, alice, nil)
	require.NoError(t, err)
	assert.Equal(t, []service.SyncState{
		service.SyncLoadingLocal,
		service.SyncLoadingRemote,
		service.SyncMerging,
		service.SyncSavingBoth,
		service.SyncIdle,
	}, *states)

	assert.ElementsMatch(t, []string{"p1", "p2", "p3"}, providerIDs(merged.Providers))
	assert.ElementsMatch(t, []string{"a", "b", "c"}, merged.SelectedModels)

	// both sides now hold the union, remote copy winning on p2
	for name, repo := range map[string]repository.ConfigRepository{"local": f.config, "remote": f.remote} {
		providers, err := repo.LoadProviders(ctx, "u1")
		require.NoError(t, err, name)
		assert.ElementsMatch(t, []string{"p1", "p2", "p3"}, providerIDs(providers), name)
		for _, p := range providers {
			if p.ID == "p2" {
				assert.Equal(t, "remote label", p.Label, name)
			}
		}
		models, err := repo.LoadModels(ctx, "u1", entity.BucketSystem)
		require.NoError(t, err, name)
		assert.Len(t, models, 1, name)
	}
	assert.Equal(t, service.SyncIdle, o.State().State)
}

func TestSync_MigratesConversations(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)
	require.NoError(t, f.local.SaveConversation(ctx, "", testConversation("c1", t0.Add(time.Minute),
		textMessage("m1", entity.RoleUser, "local", t0),
		textMessage("m2", entity.RoleAssistant, "local reply", t0.Add(time.Minute)),
	)))
	require.NoError(t, f.local.SaveConversation(ctx, "", testConversation("c2", t0)))
	require.NoError(t, f.remote.SaveConversation(ctx, "u1", testConversation("c1", t0.Add(2*time.Minute),
		textMessage("m3", entity.RoleUser, "remote", t0.Add(2*time.Minute)),
	)))

	var reloaded bool
	f.notifier.Conversations.Subscribe(func(ev usecase.ConversationsChanged) {
		reloaded = reloaded || ev.Kind == usecase.ConversationsReloaded
	})

	o := f.orchestrator(f.remote, f.remote)
	_, err := o.HandleUserLogin(ctx, alice, nil)
	require.NoError(t, err)
	assert.True(t, reloaded)

	c1, err := f.remote.LoadConversation(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3"}, messageIDs(c1.Messages))
	_, err = f.remote.LoadConversation(ctx, "u1", "c2")
	assert.NoError(t, err)

	left, err := f.local.LoadConversations(ctx, "", false)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestSync_PartialMigrationKeepsLocalData(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)
	require.NoError(t, f.local.SaveConversation(ctx, "", testConversation("c1", t0.Add(time.Minute))))
	require.NoError(t, f.local.SaveConversation(ctx, "", testConversation("c2", t0)))

	var syncErr error
	o := f.orchestrator(f.remote, MockFlakyBackend{ConversationBackend: f.remote, failID: "c2"})
	_, err := o.HandleUserLogin(ctx, alice, &usecase.SyncEvents{OnSyncError: func(err error) { syncErr = err }})
	require.Error(t, err)
	assert.Equal(t, err, syncErr)
	assert.Contains(t, err.Error(), "migrated 1 of 2")

	left, err := f.local.LoadConversations(ctx, "", false)
	require.NoError(t, err)
	assert.Len(t, left, 2)

	snap := o.State()
	assert.Equal(t, service.SyncIdle, snap.State)
	assert.Equal(t, 1, snap.Failures)
}

func TestSync_ManualSyncRetriesFailedMigration(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)
	require.NoError(t, f.local.SaveConversation(ctx, "", testConversation("c1", t0.Add(time.Minute))))
	require.NoError(t, f.local.SaveConversation(ctx, "", testConversation("c2", t0)))

	_, err := f.orchestrator(f.remote, MockFlakyBackend{ConversationBackend: f.remote, failID: "c2"}).HandleUserLogin(ctx, alice, nil)
	require.Error(t, err)

	// 后端恢复后手动同步补完迁移
	o := f.orchestrator(f.remote, f.remote)
	states := recordStates(f.notifier)
	_, err = o.SyncWithCloud(ctx, alice, nil)
	require.NoError(t, err)
	assert.Contains(t, *states, service.SyncMigratingConversations)

	for _, id := range []string{"c1", "c2"} {
		_, err := f.remote.LoadConversation(ctx, "u1", id)
		assert.NoError(t, err, id)
	}
	left, err := f.local.LoadConversations(ctx, "", false)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestSync_RemoteFailureReturnsToIdle(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)
	require.NoError(t, f.config.SaveProviders(ctx, "", []entity.Provider{{ID: "p1"}}))

	var failed []usecase.SyncEvent
	f.notifier.Sync.Subscribe(func(ev usecase.SyncEvent) {
		if ev.Kind == usecase.SyncFailed {
			failed = append(failed, ev)
		}
	})

	o := f.orchestrator(MockUnavailableConfig{}, f.remote)
	_, err := o.HandleUserLogin(ctx, alice, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsUnavailable(err))

	require.Len(t, failed, 1)
	assert.Equal(t, err, failed[0].Err)
	assert.Equal(t, service.SyncIdle, o.State().State)
	assert.NotEmpty(t, o.State().LastError)

	// local configuration is untouched and a later run can start
	providers, err := f.config.LoadProviders(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, providerIDs(providers))
	_, err = o.SyncWithCloud(ctx, alice, nil)
	assert.True(t, apperrors.IsUnavailable(err))
}

func TestSync_RequiresSignedInUser(t *testing.T) {
	f := newSyncFixture(t)

	_, err := f.orchestrator(f.remote, f.remote).HandleUserLogin(context.Background(), valueobject.AnonymousUser(), nil)
	assert.True(t, apperrors.IsUnauthorized(err))

	_, err = f.orchestrator(nil, nil).HandleUserLogin(context.Background(), alice, nil)
	assert.True(t, apperrors.IsUnauthorized(err))
}

// === Per-entity access ===

func TestSync_AnonymousSelectionStaysInMemory(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)
	o := f.orchestrator(f.remote, f.remote)
	anon := valueobject.AnonymousUser()

	require.NoError(t, o.SaveSelectedModels(ctx, anon, []string{"a", "a", "b"}))
	ids, err := o.LoadSelectedModels(ctx, anon)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	persisted, err := f.config.LoadSelectedModels(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, persisted)

	// signing in carries the session selection over
	merged, err := o.HandleUserLogin(ctx, alice, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, merged.SelectedModels)
	remoteIDs, err := f.remote.LoadSelectedModels(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, remoteIDs)

	ids, err = o.LoadSelectedModels(ctx, anon)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSync_ProvidersWriteThroughAndFallBack(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)
	o := f.orchestrator(f.remote, f.remote)

	require.NoError(t, o.SaveProviders(ctx, alice, []entity.Provider{{ID: "p1"}, {ID: "p2"}}))
	require.NoError(t, o.RemoveProvider(ctx, alice, "p2"))

	for name, repo := range map[string]repository.ConfigRepository{"local": f.config, "remote": f.remote} {
		providers, err := repo.LoadProviders(ctx, "u1")
		require.NoError(t, err, name)
		assert.Equal(t, []string{"p1"}, providerIDs(providers), name)
	}

	require.NoError(t, o.SaveCustomModels(ctx, alice, "p1", []entity.Model{{ID: "m1", ProviderID: "p1"}}))
	models, err := o.LoadCustomModels(ctx, alice, "p1")
	require.NoError(t, err)
	assert.Len(t, models, 1)
	buckets, err := o.ListModelBuckets(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, []string{entity.CustomBucket("p1")}, buckets)

	down := f.orchestrator(MockUnavailableConfig{}, nil)
	providers, err := down.LoadProviders(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, providerIDs(providers))

	snap, err := down.LoadAllData(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, providerIDs(snap.Providers))
}

func TestSync_SaveAllDataAnonymous(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)
	o := f.orchestrator(f.remote, f.remote)
	anon := valueobject.AnonymousUser()

	require.NoError(t, o.SaveAllData(ctx, anon, &entity.ConfigSnapshot{
		Providers:      []entity.Provider{{ID: "p1"}, {ID: "p1", Label: "dup"}},
		SystemModels:   []entity.Model{{ID: "sys"}},
		SelectedModels: []string{"sys"},
	}))

	snap, err := o.LoadAllData(ctx, anon)
	require.NoError(t, err)
	require.Len(t, snap.Providers, 1)
	assert.Empty(t, snap.Providers[0].Label)
	assert.Len(t, snap.SystemModels, 1)
	assert.Equal(t, []string{"sys"}, snap.SelectedModels)

	_, exists, err := f.remote.LoadSnapshot(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, exists)
}

package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/chatsync/internal/domain/entity"
	"github.com/ngoclaw/chatsync/internal/domain/repository"
	"github.com/ngoclaw/chatsync/internal/domain/service"
	"github.com/ngoclaw/chatsync/internal/domain/valueobject"
	"github.com/ngoclaw/chatsync/internal/infrastructure/localstore"
	apperrors "github.com/ngoclaw/chatsync/pkg/errors"
)

// LocalConfig is the local configuration repository, which also records
// when the last sync completed.
type LocalConfig interface {
	repository.ConfigRepository
	SaveSyncMetadata(meta localstore.SyncMetadata) bool
}

// LocalConversations is the local conversation backend, which can drop
// its whole list once it has been migrated.
type LocalConversations interface {
	repository.ConversationBackend
	ClearConversations(ctx context.Context) error
}

// SyncEvents 同步生命周期回调，均可为 nil
type SyncEvents struct {
	OnSyncStart    func()
	OnSyncComplete func(snap *entity.ConfigSnapshot)
	OnSyncError    func(err error)
}

func (e *SyncEvents) start() {
	if e != nil && e.OnSyncStart != nil {
		e.OnSyncStart()
	}
}

func (e *SyncEvents) complete(snap *entity.ConfigSnapshot) {
	if e != nil && e.OnSyncComplete != nil {
		e.OnSyncComplete(snap)
	}
}

func (e *SyncEvents) fail(err error) {
	if e != nil && e.OnSyncError != nil {
		e.OnSyncError(err)
	}
}

// SyncDeps 同步编排器依赖
type SyncDeps struct {
	LocalConfig        LocalConfig
	RemoteConfig       repository.ConfigRepository // nil in local-only mode
	LocalConversations LocalConversations
	RemoteConversation repository.ConversationBackend // nil in local-only mode
	Notifier           *Notifier
	Now                func() time.Time
}

// SyncOrchestrator runs the login-time reconciliation of local and remote
// configuration, migrates anonymous conversations, and serves the
// load-all/save-all surface with remote-first reads.
type SyncOrchestrator struct {
	local       LocalConfig
	remote      repository.ConfigRepository
	localConvs  LocalConversations
	remoteConvs repository.ConversationBackend
	notifier    *Notifier
	state       *service.SyncStateMachine
	now         func() time.Time
	logger      *zap.Logger

	// selections made without an account live only for this process
	selMu           sync.RWMutex
	sessionSelected []string
}

// NewSyncOrchestrator 创建同步编排器
func NewSyncOrchestrator(deps SyncDeps, logger *zap.Logger) *SyncOrchestrator {
	if deps.Notifier == nil {
		deps.Notifier = NewNotifier(logger)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	logger = logger.With(zap.String("component", "sync"))
	o := &SyncOrchestrator{
		local:           deps.LocalConfig,
		remote:          deps.RemoteConfig,
		localConvs:      deps.LocalConversations,
		remoteConvs:     deps.RemoteConversation,
		notifier:        deps.Notifier,
		state:           service.NewSyncStateMachine(logger),
		now:             deps.Now,
		logger:          logger,
		sessionSelected: []string{},
	}
	o.notifier.bindSyncState(o.state)
	return o
}

// Notifier 返回通知中心
func (o *SyncOrchestrator) Notifier() *Notifier {
	return o.notifier
}

// State 返回当前同步状态
func (o *SyncOrchestrator) State() service.SyncStateSnapshot {
	return o.state.Snapshot()
}

func (o *SyncOrchestrator) signedIn(user valueobject.User) bool {
	return o.remote != nil && !user.IsAnonymous() && user.ID() != ""
}

// HandleUserLogin reconciles configuration for user and migrates the
// conversations kept locally while anonymous.
func (o *SyncOrchestrator) HandleUserLogin(ctx context.Context, user valueobject.User, events *SyncEvents) (*entity.ConfigSnapshot, error) {
	return o.run(ctx, user, events, true)
}

// SyncWithCloud runs the same reconciliation on demand. It migrates only
// conversations a failed login migration left behind on this device.
func (o *SyncOrchestrator) SyncWithCloud(ctx context.Context, user valueobject.User, events *SyncEvents) (*entity.ConfigSnapshot, error) {
	return o.run(ctx, user, events, false)
}

func (o *SyncOrchestrator) run(ctx context.Context, user valueobject.User, events *SyncEvents, migrate bool) (*entity.ConfigSnapshot, error) {
	if !o.signedIn(user) {
		return nil, apperrors.NewUnauthorizedError("sync requires a signed-in user and a remote backend")
	}
	uid := user.ID()
	if err := o.state.Begin(uid); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeServiceUnavail, "sync", err)
	}
	events.start()
	o.notifier.Sync.Publish(SyncEvent{Kind: SyncStarted, Snapshot: o.state.Snapshot()})

	fail := func(step string, err error) (*entity.ConfigSnapshot, error) {
		err = fmt.Errorf("%s: %w", step, err)
		o.logger.Error("Sync failed", zap.String("user_id", uid), zap.Error(err))
		o.state.Fail(err)
		events.fail(err)
		o.notifier.Sync.Publish(SyncEvent{Kind: SyncFailed, Snapshot: o.state.Snapshot(), Err: err})
		return nil, err
	}

	// LOADING_LOCAL
	localSnap, _, err := o.local.LoadSnapshot(ctx, "")
	if err != nil {
		return fail("load local snapshot", err)
	}
	localSnap.SelectedModels = service.UnionStrings(localSnap.SelectedModels, o.sessionSelection())

	if err := o.state.Transition(service.SyncLoadingRemote); err != nil {
		return fail("transition", err)
	}
	remoteSnap, exists, err := o.remote.LoadSnapshot(ctx, uid)
	if err != nil {
		return fail("load remote snapshot", err)
	}

	var merged *entity.ConfigSnapshot
	if !exists {
		if err := o.state.Transition(service.SyncUploadingLocal); err != nil {
			return fail("transition", err)
		}
		merged = service.NormalizeSnapshot(localSnap)
		merged.LastUpdated = o.now()
		if err := o.remote.SaveSnapshot(ctx, uid, merged); err != nil {
			return fail("upload local snapshot", err)
		}
		// the local copy may only have held the session selection
		if err := o.local.SaveSelectedModels(ctx, "", merged.SelectedModels); err != nil {
			return fail("save local selection", err)
		}
	} else {
		if err := o.state.Transition(service.SyncMerging); err != nil {
			return fail("transition", err)
		}
		merged = service.MergeSnapshots(localSnap, remoteSnap, o.now())

		if err := o.state.Transition(service.SyncSavingBoth); err != nil {
			return fail("transition", err)
		}
		// local first: a remote failure leaves the merged copy on this device
		if err := o.local.SaveSnapshot(ctx, "", merged); err != nil {
			return fail("save local snapshot", err)
		}
		if err := o.remote.SaveSnapshot(ctx, uid, merged); err != nil {
			return fail("save remote snapshot", err)
		}
	}

	migrated := 0
	if !migrate {
		migrate = o.migrationPending(ctx)
	}
	if migrate && o.localConvs != nil && o.remoteConvs != nil {
		if err := o.state.Transition(service.SyncMigratingConversations); err != nil {
			return fail("transition", err)
		}
		if migrated, err = o.migrateConversations(ctx, uid); err != nil {
			return fail("migrate conversations", err)
		}
	}

	o.local.SaveSyncMetadata(localstore.SyncMetadata{
		UserID:    uid,
		LastSync:  merged.LastUpdated,
		Providers: len(merged.Providers),
		Models:    merged.ModelCount(),
	})
	if err := o.state.Finish(); err != nil {
		return fail("finish", err)
	}
	o.setSessionSelection(nil)

	o.logger.Info("Sync complete",
		zap.String("user_id", uid),
		zap.Bool("remote_existed", exists),
		zap.Int("providers", len(merged.Providers)),
		zap.Int("models", merged.ModelCount()),
		zap.Int("conversations_migrated", migrated),
	)
	events.complete(merged)
	o.announce(merged, migrated > 0)
	o.notifier.Sync.Publish(SyncEvent{Kind: SyncCompleted, Snapshot: o.state.Snapshot()})
	return merged, nil
}

// migrationPending reports whether anonymous conversations are still kept
// locally, which after login only happens when a migration failed.
func (o *SyncOrchestrator) migrationPending(ctx context.Context) bool {
	if o.localConvs == nil || o.remoteConvs == nil {
		return false
	}
	locals, err := o.localConvs.LoadConversations(ctx, "", false)
	if err != nil {
		o.logger.Warn("Could not check for unmigrated conversations", zap.Error(err))
		return false
	}
	return len(locals) > 0
}

// migrateConversations unions every local conversation into the remote
// copy. The local list is cleared only when all of them succeeded.
func (o *SyncOrchestrator) migrateConversations(ctx context.Context, uid string) (int, error) {
	locals, err := o.localConvs.LoadConversations(ctx, "", true)
	if err != nil {
		return 0, err
	}
	if len(locals) == 0 {
		return 0, nil
	}
	for i, c := range locals {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		existing, err := o.remoteConvs.LoadConversation(ctx, uid, c.ID)
		if apperrors.IsNotFound(err) {
			existing, err = nil, nil
		}
		if err != nil {
			return i, fmt.Errorf("migrated %d of %d, load %s: %w", i, len(locals), c.ID, err)
		}
		merged := service.MergeConversations(c, existing)
		if err := o.remoteConvs.SaveConversation(ctx, uid, merged); err != nil {
			return i, fmt.Errorf("migrated %d of %d, save %s: %w", i, len(locals), c.ID, err)
		}
	}
	if err := o.localConvs.ClearConversations(ctx); err != nil {
		return len(locals), err
	}
	return len(locals), nil
}

func (o *SyncOrchestrator) announce(snap *entity.ConfigSnapshot, conversations bool) {
	o.notifier.Providers.Publish(ProvidersChanged{Providers: snap.Providers})
	for bucket, models := range snap.Buckets() {
		o.notifier.Models.Publish(ModelsChanged{Bucket: bucket, Models: models})
	}
	o.notifier.Models.Publish(ModelsChanged{Selected: snap.SelectedModels})
	if conversations {
		o.notifier.Conversations.Publish(ConversationsChanged{Kind: ConversationsReloaded})
	}
}

// === Load / save all ===

// LoadAllData returns the configuration for user. Signed-in reads prefer
// the remote backend and fall back to the local snapshot on failure.
func (o *SyncOrchestrator) LoadAllData(ctx context.Context, user valueobject.User) (*entity.ConfigSnapshot, error) {
	if o.signedIn(user) {
		snap, exists, err := o.remote.LoadSnapshot(ctx, user.ID())
		if err == nil && exists {
			return snap, nil
		}
		if err != nil {
			o.logger.Warn("Remote snapshot unavailable, using local", zap.Error(err))
		}
	}
	snap, _, err := o.local.LoadSnapshot(ctx, "")
	if err != nil {
		return entity.NewConfigSnapshot(), err
	}
	if !o.signedIn(user) {
		snap.SelectedModels = o.sessionSelection()
	}
	return snap, nil
}

// SaveAllData writes snap locally and, for a signed-in user, remotely.
// An anonymous user's model selection is kept in memory only.
func (o *SyncOrchestrator) SaveAllData(ctx context.Context, user valueobject.User, snap *entity.ConfigSnapshot) error {
	snap = service.NormalizeSnapshot(snap)
	if !o.signedIn(user) {
		if err := o.local.SaveProviders(ctx, "", snap.Providers); err != nil {
			return err
		}
		for bucket, models := range snap.Buckets() {
			if err := o.local.SaveModels(ctx, "", bucket, models); err != nil {
				return err
			}
		}
		o.setSessionSelection(snap.SelectedModels)
		return nil
	}
	if snap.LastUpdated.IsZero() {
		snap.LastUpdated = o.now()
	}
	if err := o.local.SaveSnapshot(ctx, "", snap); err != nil {
		return err
	}
	return o.remote.SaveSnapshot(ctx, user.ID(), snap)
}

// === Providers ===

// LoadProviders 加载 provider，远端失败时回退本地
func (o *SyncOrchestrator) LoadProviders(ctx context.Context, user valueobject.User) ([]entity.Provider, error) {
	if o.signedIn(user) {
		providers, err := o.remote.LoadProviders(ctx, user.ID())
		if err == nil {
			return providers, nil
		}
		o.logger.Warn("Remote providers unavailable, using local", zap.Error(err))
	}
	return o.local.LoadProviders(ctx, "")
}

// SaveProviders writes through the local mirror and then the remote store.
func (o *SyncOrchestrator) SaveProviders(ctx context.Context, user valueobject.User, providers []entity.Provider) error {
	if err := o.local.SaveProviders(ctx, "", providers); err != nil {
		return err
	}
	if o.signedIn(user) {
		return o.remote.SaveProviders(ctx, user.ID(), providers)
	}
	return nil
}

// RemoveProvider deletes a provider from both backends.
func (o *SyncOrchestrator) RemoveProvider(ctx context.Context, user valueobject.User, providerID string) error {
	if err := o.local.RemoveProvider(ctx, "", providerID); err != nil {
		return err
	}
	if o.signedIn(user) {
		return o.remote.RemoveProvider(ctx, user.ID(), providerID)
	}
	return nil
}

// === Models ===

// LoadModels loads one bucket: "system" or a provider id.
func (o *SyncOrchestrator) LoadModels(ctx context.Context, user valueobject.User, bucket string) ([]entity.Model, error) {
	if o.signedIn(user) {
		models, err := o.remote.LoadModels(ctx, user.ID(), bucket)
		if err == nil {
			return models, nil
		}
		o.logger.Warn("Remote models unavailable, using local", zap.String("bucket", bucket), zap.Error(err))
	}
	return o.local.LoadModels(ctx, "", bucket)
}

// SaveModels 保存一个 bucket 的模型
func (o *SyncOrchestrator) SaveModels(ctx context.Context, user valueobject.User, bucket string, models []entity.Model) error {
	if err := o.local.SaveModels(ctx, "", bucket, models); err != nil {
		return err
	}
	if o.signedIn(user) {
		return o.remote.SaveModels(ctx, user.ID(), bucket, models)
	}
	return nil
}

// LoadCustomModels loads the custom models of a provider.
func (o *SyncOrchestrator) LoadCustomModels(ctx context.Context, user valueobject.User, providerID string) ([]entity.Model, error) {
	return o.LoadModels(ctx, user, entity.CustomBucket(providerID))
}

// SaveCustomModels saves the custom models of a provider.
func (o *SyncOrchestrator) SaveCustomModels(ctx context.Context, user valueobject.User, providerID string, models []entity.Model) error {
	return o.SaveModels(ctx, user, entity.CustomBucket(providerID), models)
}

// ListModelBuckets 列出已有的模型 bucket
func (o *SyncOrchestrator) ListModelBuckets(ctx context.Context, user valueobject.User) ([]string, error) {
	if o.signedIn(user) {
		buckets, err := o.remote.ListModelBuckets(ctx, user.ID())
		if err == nil {
			return buckets, nil
		}
		o.logger.Warn("Remote model buckets unavailable, using local", zap.Error(err))
	}
	return o.local.ListModelBuckets(ctx, "")
}

// === Selected models ===

// LoadSelectedModels returns the enabled model ids. Anonymous selections
// come from process memory.
func (o *SyncOrchestrator) LoadSelectedModels(ctx context.Context, user valueobject.User) ([]string, error) {
	if !o.signedIn(user) {
		return o.sessionSelection(), nil
	}
	ids, err := o.remote.LoadSelectedModels(ctx, user.ID())
	if err == nil {
		return ids, nil
	}
	o.logger.Warn("Remote selection unavailable, using local", zap.Error(err))
	return o.local.LoadSelectedModels(ctx, "")
}

// SaveSelectedModels persists the selection for a signed-in user and keeps
// it in memory otherwise.
func (o *SyncOrchestrator) SaveSelectedModels(ctx context.Context, user valueobject.User, ids []string) error {
	if !o.signedIn(user) {
		o.setSessionSelection(ids)
		o.notifier.Models.Publish(ModelsChanged{Selected: o.sessionSelection()})
		return nil
	}
	if err := o.local.SaveSelectedModels(ctx, "", ids); err != nil {
		return err
	}
	return o.remote.SaveSelectedModels(ctx, user.ID(), ids)
}

func (o *SyncOrchestrator) sessionSelection() []string {
	o.selMu.RLock()
	defer o.selMu.RUnlock()
	return append([]string{}, o.sessionSelected...)
}

func (o *SyncOrchestrator) setSessionSelection(ids []string) {
	o.selMu.Lock()
	defer o.selMu.Unlock()
	o.sessionSelected = service.UnionStrings(ids, nil)
}

package usecase

import (
	"go.uber.org/zap"

	"github.com/ngoclaw/chatsync/internal/domain/entity"
	"github.com/ngoclaw/chatsync/internal/domain/service"
	"github.com/ngoclaw/chatsync/internal/infrastructure/eventbus"
	"github.com/ngoclaw/chatsync/internal/infrastructure/localstore"
)

// ProvidersChanged carries the full provider list after a change.
type ProvidersChanged struct {
	Providers []entity.Provider
	// External is set when another process wrote the change.
	External bool
}

// ModelsChanged reports a model bucket or the selected-model list. Bucket
// is empty for selection changes.
type ModelsChanged struct {
	Bucket   string
	Models   []entity.Model
	Selected []string
	External bool
}

// ConversationChangeKind 会话变更类型
type ConversationChangeKind string

const (
	ConversationSaved   ConversationChangeKind = "saved"
	ConversationDeleted ConversationChangeKind = "deleted"
	// ConversationsReloaded means the whole list changed (migration, external write).
	ConversationsReloaded ConversationChangeKind = "reloaded"
)

// ConversationsChanged 会话变更事件
type ConversationsChanged struct {
	Kind           ConversationChangeKind
	ConversationID string
	UserID         string
	External       bool
}

// SyncEventKind 同步生命周期事件类型
type SyncEventKind string

const (
	SyncStarted    SyncEventKind = "start"
	SyncTransition SyncEventKind = "state"
	SyncCompleted  SyncEventKind = "complete"
	SyncFailed     SyncEventKind = "error"
)

// SyncEvent is published on every sync lifecycle step.
type SyncEvent struct {
	Kind     SyncEventKind
	From     service.SyncState
	To       service.SyncState
	Snapshot service.SyncStateSnapshot
	Err      error
}

// Notifier owns one typed topic per change category. Collaborators get the
// notifier injected and subscribe to what they render.
type Notifier struct {
	Providers     *eventbus.Topic[ProvidersChanged]
	Models        *eventbus.Topic[ModelsChanged]
	Conversations *eventbus.Topic[ConversationsChanged]
	Sync          *eventbus.Topic[SyncEvent]

	logger *zap.Logger
}

// NewNotifier 创建通知中心
func NewNotifier(logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "notifier"))
	return &Notifier{
		Providers:     eventbus.NewTopic[ProvidersChanged]("providers", logger),
		Models:        eventbus.NewTopic[ModelsChanged]("models", logger),
		Conversations: eventbus.NewTopic[ConversationsChanged]("conversations", logger),
		Sync:          eventbus.NewTopic[SyncEvent]("sync", logger),
		logger:        logger,
	}
}

// Bridge translates the local store's raw change events, including those
// re-broadcast from other processes, into typed events. The returned
// function detaches the bridge.
func (n *Notifier) Bridge(store *localstore.Store) (detach func()) {
	return store.Changes().Subscribe(n.translate)
}

func (n *Notifier) translate(ev localstore.ChangeEvent) {
	switch {
	case ev.Key == localstore.KeyProviders:
		providers := []entity.Provider{}
		if !ev.Removed {
			decoded, err := localstore.ProvidersCodec.Decode(ev.Value)
			if err != nil {
				n.dropped(ev, err)
				return
			}
			providers = decoded
		}
		n.Providers.Publish(ProvidersChanged{Providers: providers, External: ev.External})

	case ev.Key == localstore.KeySelectedModels:
		selected := []string{}
		if !ev.Removed {
			decoded, err := localstore.StringsCodec.Decode(ev.Value)
			if err != nil {
				n.dropped(ev, err)
				return
			}
			selected = decoded
		}
		n.Models.Publish(ModelsChanged{Selected: selected, External: ev.External})

	case ev.Key == localstore.KeyConversations:
		// in-process saves are announced by the conversation store itself
		if !ev.External {
			return
		}
		n.Conversations.Publish(ConversationsChanged{Kind: ConversationsReloaded, External: ev.External})

	default:
		bucket, ok := localstore.BucketFromKey(ev.Key)
		if !ok {
			return
		}
		models := []entity.Model{}
		if !ev.Removed {
			decoded, err := localstore.ModelsCodec.Decode(ev.Value)
			if err != nil {
				n.dropped(ev, err)
				return
			}
			models = decoded
		}
		n.Models.Publish(ModelsChanged{Bucket: bucket, Models: models, External: ev.External})
	}
}

func (n *Notifier) dropped(ev localstore.ChangeEvent, err error) {
	n.logger.Warn("Dropping undecodable change event",
		zap.String("key", ev.Key),
		zap.Bool("external", ev.External),
		zap.Error(err),
	)
}

// bindSyncState republishes state machine transitions on the Sync topic.
func (n *Notifier) bindSyncState(sm *service.SyncStateMachine) {
	sm.OnTransition(func(from, to service.SyncState, snap service.SyncStateSnapshot) {
		n.Sync.Publish(SyncEvent{Kind: SyncTransition, From: from, To: to, Snapshot: snap})
	})
}

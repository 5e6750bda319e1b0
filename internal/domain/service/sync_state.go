package service

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SyncState represents the discrete states of one login/sync run.
type SyncState string

const (
	SyncIdle                   SyncState = "IDLE"
	SyncLoadingLocal           SyncState = "LOADING_LOCAL"
	SyncLoadingRemote          SyncState = "LOADING_REMOTE"
	SyncUploadingLocal         SyncState = "UPLOADING_LOCAL" // remote had no snapshot
	SyncMerging                SyncState = "MERGING"
	SyncSavingBoth             SyncState = "SAVING_BOTH"
	SyncMigratingConversations SyncState = "MIGRATING_CONVERSATIONS"
)

// validSyncTransitions defines the allowed state transitions.
// Every non-idle state may also fall back to IDLE on failure.
var validSyncTransitions = map[SyncState]map[SyncState]bool{
	SyncIdle: {
		SyncLoadingLocal: true,
	},
	SyncLoadingLocal: {
		SyncLoadingRemote: true,
		SyncIdle:          true,
	},
	SyncLoadingRemote: {
		SyncUploadingLocal: true,
		SyncMerging:        true,
		SyncIdle:           true,
	},
	SyncUploadingLocal: {
		SyncMigratingConversations: true,
		SyncIdle:                   true,
	},
	SyncMerging: {
		SyncSavingBoth: true,
		SyncIdle:       true,
	},
	SyncSavingBoth: {
		SyncMigratingConversations: true,
		SyncIdle:                   true,
	},
	SyncMigratingConversations: {
		SyncIdle: true,
	},
}

// SyncStateSnapshot captures the run state at a point in time.
type SyncStateSnapshot struct {
	State     SyncState     `json:"state"`
	UserID    string        `json:"user_id,omitempty"`
	Runs      int           `json:"runs"`
	Failures  int           `json:"failures"`
	LastError string        `json:"last_error,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
}

// SyncStateMachine manages state transitions for sync runs.
// Thread-safe; a second run cannot start while one is in flight because
// IDLE -> LOADING_LOCAL is the only way in.
type SyncStateMachine struct {
	mu        sync.RWMutex
	state     SyncState
	userID    string
	runs      int
	failures  int
	lastError string
	startTime time.Time
	now       func() time.Time
	logger    *zap.Logger

	listeners []func(from, to SyncState, snap SyncStateSnapshot)
}

// NewSyncStateMachine creates a state machine starting in IDLE.
func NewSyncStateMachine(logger *zap.Logger) *SyncStateMachine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncStateMachine{
		state:  SyncIdle,
		now:    time.Now,
		logger: logger,
	}
}

// State returns the current state.
func (sm *SyncStateMachine) State() SyncState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state
}

// Snapshot returns a copy of the current run state.
func (sm *SyncStateMachine) Snapshot() SyncStateSnapshot {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.snapshotLocked()
}

func (sm *SyncStateMachine) snapshotLocked() SyncStateSnapshot {
	var elapsed time.Duration
	if !sm.startTime.IsZero() {
		elapsed = sm.now().Sub(sm.startTime)
	}
	return SyncStateSnapshot{
		State:     sm.state,
		UserID:    sm.userID,
		Runs:      sm.runs,
		Failures:  sm.failures,
		LastError: sm.lastError,
		Elapsed:   elapsed,
	}
}

// Begin starts a run for userID. Fails if a run is already in flight.
func (sm *SyncStateMachine) Begin(userID string) error {
	sm.mu.Lock()
	if sm.state != SyncIdle {
		state := sm.state
		sm.mu.Unlock()
		return fmt.Errorf("sync already in progress (state %s)", state)
	}
	sm.userID = userID
	sm.runs++
	sm.startTime = sm.now()
	sm.lastError = ""
	sm.state = SyncLoadingLocal
	snap := sm.snapshotLocked()
	listeners := make([]func(from, to SyncState, snap SyncStateSnapshot), len(sm.listeners))
	copy(listeners, sm.listeners)
	sm.mu.Unlock()

	sm.logger.Debug("Sync run started",
		zap.String("user_id", userID),
		zap.Int("run", snap.Runs),
	)
	for _, fn := range listeners {
		fn(SyncIdle, SyncLoadingLocal, snap)
	}
	return nil
}

// Transition attempts to move to a new state.
// Returns error if the transition is not allowed.
func (sm *SyncStateMachine) Transition(to SyncState) error {
	sm.mu.Lock()
	from := sm.state

	allowed, ok := validSyncTransitions[from]
	if !ok || !allowed[to] {
		sm.mu.Unlock()
		err := fmt.Errorf("invalid sync transition: %s -> %s", from, to)
		sm.logger.Error("Sync state machine violation", zap.Error(err))
		return err
	}

	sm.state = to
	snap := sm.snapshotLocked()
	listeners := make([]func(from, to SyncState, snap SyncStateSnapshot), len(sm.listeners))
	copy(listeners, sm.listeners)
	sm.mu.Unlock()

	sm.logger.Debug("Sync state transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("user_id", snap.UserID),
	)

	// Notify listeners outside lock
	for _, fn := range listeners {
		fn(from, to, snap)
	}

	return nil
}

// Fail records err and returns to IDLE from whatever state the run reached.
func (sm *SyncStateMachine) Fail(err error) {
	sm.mu.Lock()
	sm.failures++
	if err != nil {
		sm.lastError = err.Error()
	}
	idle := sm.state == SyncIdle
	sm.mu.Unlock()

	if !idle {
		_ = sm.Transition(SyncIdle)
	}
}

// Finish returns to IDLE after a successful run.
func (sm *SyncStateMachine) Finish() error {
	return sm.Transition(SyncIdle)
}

// OnTransition registers a listener called on every state change.
func (sm *SyncStateMachine) OnTransition(fn func(from, to SyncState, snap SyncStateSnapshot)) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.listeners = append(sm.listeners, fn)
}

// IsRunning reports whether a run is in flight.
func (sm *SyncStateMachine) IsRunning() bool {
	return sm.State() != SyncIdle
}

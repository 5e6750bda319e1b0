package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/chatsync/internal/domain/repository"
	"github.com/ngoclaw/chatsync/internal/domain/valueobject"
	"github.com/ngoclaw/chatsync/internal/infrastructure/localstore"
	apperrors "github.com/ngoclaw/chatsync/pkg/errors"
)

var _ repository.SessionProvider = (*SessionManager)(nil)

// Session is the persisted sign-in record.
type Session struct {
	UserID     string    `json:"userId"`
	Username   string    `json:"username,omitempty"`
	SignedInAt time.Time `json:"signedInAt"`
}

// SessionCodec 校验持久化的会话记录
var SessionCodec = localstore.JSON(func(s Session) error {
	if s.UserID == "" {
		return errors.New("session without user id")
	}
	return nil
})

// Options 会话配置
type Options struct {
	// UserID signs this user in whenever no session is persisted.
	UserID string
	// Anonymous forces anonymous mode regardless of any stored session.
	Anonymous bool
	Now       func() time.Time
}

// SessionManager resolves the current user from configuration and the
// locally persisted auth_session record, and mints bearer tokens for it.
type SessionManager struct {
	mu     sync.RWMutex
	store  *localstore.Store
	issuer *TokenIssuer
	opts   Options
	logger *zap.Logger
}

// NewSessionManager 创建会话管理器，issuer 可为 nil（不签发令牌）
func NewSessionManager(store *localstore.Store, issuer *TokenIssuer, opts Options, logger *zap.Logger) *SessionManager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &SessionManager{
		store:  store,
		issuer: issuer,
		opts:   opts,
		logger: logger.With(zap.String("component", "auth")),
	}
}

// CurrentUser implements repository.SessionProvider.
func (m *SessionManager) CurrentUser() (valueobject.User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.opts.Anonymous {
		return valueobject.AnonymousUser(), false
	}
	if s, ok := localstore.Get(m.store, localstore.KeyAuthSession, SessionCodec); ok {
		return valueobject.NewRegisteredUser(s.UserID, s.Username), true
	}
	if m.opts.UserID != "" {
		return valueobject.NewRegisteredUser(m.opts.UserID, m.opts.UserID), true
	}
	return valueobject.AnonymousUser(), false
}

// Login persists a session for userID and returns the signed-in user.
func (m *SessionManager) Login(ctx context.Context, userID, username string) (valueobject.User, error) {
	if userID == "" {
		return valueobject.AnonymousUser(), apperrors.NewInvalidInputError("user id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.opts.Anonymous {
		return valueobject.AnonymousUser(), apperrors.NewForbiddenError("anonymous mode is configured")
	}
	if username == "" {
		username = userID
	}
	s := Session{UserID: userID, Username: username, SignedInAt: m.opts.Now().UTC()}
	if !m.store.Set(localstore.KeyAuthSession, s) {
		return valueobject.AnonymousUser(), apperrors.NewInternalError("failed to persist session")
	}
	m.logger.Info("Signed in", zap.String("user_id", userID))
	return valueobject.NewRegisteredUser(userID, username), nil
}

// Logout removes the persisted session. A user configured through
// auth.user_id stays signed in.
func (m *SessionManager) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.store.Remove(localstore.KeyAuthSession) {
		return apperrors.NewInternalError("failed to remove session")
	}
	m.logger.Info("Signed out")
	return nil
}

// Token implements repository.SessionProvider and docstore.TokenSource.
// Without a token secret it returns an empty token, which an open
// document server accepts.
func (m *SessionManager) Token(ctx context.Context) (string, error) {
	user, ok := m.CurrentUser()
	if !ok {
		return "", apperrors.NewUnauthorizedError("not signed in")
	}
	if m.issuer == nil {
		return "", nil
	}
	return m.issuer.Issue(user.ID())
}

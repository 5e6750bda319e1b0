package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ngoclaw/chatsync/internal/infrastructure/localstore"
	apperrors "github.com/ngoclaw/chatsync/pkg/errors"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

func newIssuer(t *testing.T, now *time.Time) *TokenIssuer {
	t.Helper()
	i, err := NewTokenIssuer("secret", time.Minute)
	require.NoError(t, err)
	i.SetClock(func() time.Time { return *now })
	return i
}

func newLocalStore() *localstore.Store {
	return localstore.NewStore(localstore.NewMemorySubstrate(), localstore.Options{}, testLogger())
}

// === Tokens ===

func TestTokenIssuer_RoundTrip(t *testing.T) {
	now := t0
	i := newIssuer(t, &now)

	tok, err := i.Issue("user.with.dots")
	require.NoError(t, err)
	uid, err := i.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "user.with.dots", uid)

	now = now.Add(2 * time.Minute)
	_, err = i.Verify(tok)
	assert.True(t, apperrors.IsUnauthorized(err), "expired token")
}

func TestTokenIssuer_Rejects(t *testing.T) {
	now := t0
	i := newIssuer(t, &now)
	tok, err := i.Issue("u1")
	require.NoError(t, err)

	other, err := NewTokenIssuer("other-secret", time.Minute)
	require.NoError(t, err)
	other.SetClock(func() time.Time { return now })
	forged, err := other.Issue("u1")
	require.NoError(t, err)

	parts := strings.Split(tok, ".")
	tampered := strings.Join([]string{parts[0], "dTI", parts[2], parts[3]}, ".")

	for name, bad := range map[string]string{
		"empty":       "",
		"garbage":     "not-a-token",
		"wrong key":   forged,
		"tampered":    tampered,
		"bad version": "v0" + strings.TrimPrefix(tok, "v1"),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := i.Verify(bad)
			assert.True(t, apperrors.IsUnauthorized(err))
		})
	}

	_, err = i.Issue("")
	assert.Error(t, err)
	_, err = NewTokenIssuer("", time.Minute)
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc ", "abc", true},
		{"Basic abc", "", false},
		{"Bearer ", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := BearerToken(tt.header)
		assert.Equal(t, tt.ok, ok, tt.header)
		assert.Equal(t, tt.want, got, tt.header)
	}
}

// === Sessions ===

func TestSessionManager_LoginLogout(t *testing.T) {
	now := t0
	store := newLocalStore()
	m := NewSessionManager(store, newIssuer(t, &now), Options{Now: func() time.Time { return now }}, testLogger())
	ctx := context.Background()

	user, ok := m.CurrentUser()
	assert.False(t, ok)
	assert.True(t, user.IsAnonymous())
	_, err := m.Token(ctx)
	assert.True(t, apperrors.IsUnauthorized(err))

	user, err = m.Login(ctx, "u1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID())

	// a second manager over the same storage sees the persisted session
	again := NewSessionManager(store, nil, Options{}, testLogger())
	user, ok = again.CurrentUser()
	require.True(t, ok)
	assert.Equal(t, "alice", user.Username())

	tok, err := m.Token(ctx)
	require.NoError(t, err)
	uid, err := m.issuer.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", uid)

	tok, err = again.Token(ctx)
	require.NoError(t, err)
	assert.Empty(t, tok, "no issuer means an open server")

	require.NoError(t, m.Logout(ctx))
	_, ok = m.CurrentUser()
	assert.False(t, ok)
}

func TestSessionManager_ConfiguredUser(t *testing.T) {
	m := NewSessionManager(newLocalStore(), nil, Options{UserID: "cfg-user"}, testLogger())
	user, ok := m.CurrentUser()
	require.True(t, ok)
	assert.Equal(t, "cfg-user", user.ID())

	require.NoError(t, m.Logout(context.Background()))
	_, ok = m.CurrentUser()
	assert.True(t, ok)
}

func TestSessionManager_AnonymousMode(t *testing.T) {
	store := newLocalStore()
	require.True(t, store.Set(localstore.KeyAuthSession, Session{UserID: "u1"}))

	m := NewSessionManager(store, nil, Options{Anonymous: true, UserID: "cfg"}, testLogger())
	_, ok := m.CurrentUser()
	assert.False(t, ok)

	_, err := m.Login(context.Background(), "u2", "")
	assert.Error(t, err)
}

func TestSessionManager_IgnoresCorruptSession(t *testing.T) {
	store := newLocalStore()
	require.True(t, store.Set(localstore.KeyAuthSession, map[string]string{"username": "x"}))
	store.Clear()

	m := NewSessionManager(store, nil, Options{}, testLogger())
	_, ok := m.CurrentUser()
	assert.False(t, ok)
}

// === Namespace access ===

func TestCheckPathAccess(t *testing.T) {
	owned := WithUserID(context.Background(), "u1")
	tests := []struct {
		name    string
		ctx     context.Context
		path    string
		allowed bool
	}{
		{"own document", owned, "users/u1/conversations/c1", true},
		{"own user doc", owned, "users/u1", true},
		{"other user", owned, "users/u2/conversations/c1", false},
		{"top level collection", owned, "users", false},
		{"foreign root", owned, "admin/u1", false},
		{"prefix lookalike", owned, "users/u10/conversations", false},
		{"open server", context.Background(), "users/u2/conversations", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckPathAccess(tt.ctx, tt.path)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.True(t, apperrors.IsUnauthorized(err), "forbidden counts as unauthorized")
				assert.Equal(t, apperrors.CodeForbidden, apperrors.CodeOf(err))
			}
		})
	}

	_, ok := UserIDFrom(WithUserID(context.Background(), ""))
	assert.False(t, ok)
}

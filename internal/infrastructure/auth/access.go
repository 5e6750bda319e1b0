package auth

import (
	"context"

	"github.com/ngoclaw/chatsync/internal/infrastructure/docstore"
	apperrors "github.com/ngoclaw/chatsync/pkg/errors"
)

type userIDKey struct{}

// WithUserID attaches an authenticated user id to ctx.
func WithUserID(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, userIDKey{}, uid)
}

// UserIDFrom returns the user id attached by WithUserID.
func UserIDFrom(ctx context.Context) (string, bool) {
	uid, ok := ctx.Value(userIDKey{}).(string)
	return uid, ok && uid != ""
}

// CheckPathAccess allows an authenticated caller only inside its own
// namespace users/{uid}. A ctx without an identity belongs to an open
// server and is allowed everywhere.
func CheckPathAccess(ctx context.Context, path string) error {
	uid, ok := UserIDFrom(ctx)
	if !ok {
		return nil
	}
	segs := docstore.Segments(path)
	if len(segs) < 2 || segs[0] != "users" || segs[1] != uid {
		return apperrors.NewForbiddenError("path outside your namespace: " + path)
	}
	return nil
}

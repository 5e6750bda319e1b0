package repository

import (
	"context"
	"io"

	"github.com/ngoclaw/chatsync/internal/domain/entity"
	"github.com/ngoclaw/chatsync/internal/domain/valueobject"
)

// SessionProvider 认证会话协作方
type SessionProvider interface {
	// CurrentUser returns the signed-in user; ok is false for anonymous use.
	CurrentUser() (user valueobject.User, ok bool)

	// Token returns a short-lived bearer token for HTTP callers.
	Token(ctx context.Context) (string, error)
}

// BlobStore 图片/文件存储协作方
type BlobStore interface {
	// Upload stores r under ownerID and returns its reference.
	Upload(ctx context.Context, r io.Reader, ownerID, filename string) (*entity.BlobRef, error)

	// UploadDataURI decodes a data: URI and stores the payload.
	UploadDataURI(ctx context.Context, dataURI, ownerID, filename string) (*entity.BlobRef, error)

	// ResolveURL returns a fresh URL for a stored blob.
	ResolveURL(ctx context.Context, storagePath string) (string, error)
}

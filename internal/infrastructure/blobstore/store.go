// Package blobstore keeps uploaded images in a local directory and hands out
// expiring HMAC-signed URLs for them.
package blobstore

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ngoclaw/chatsync/internal/domain/entity"
	"github.com/ngoclaw/chatsync/internal/domain/repository"
	apperrors "github.com/ngoclaw/chatsync/pkg/errors"
)

var _ repository.BlobStore = (*LocalStore)(nil)

const (
	// MaxUploadSize 单个文件上限
	MaxUploadSize = 20 << 20

	// BlobRoute is the URL prefix signed URLs are served under.
	BlobRoute = "/blobs/"

	defaultURLTTL = time.Hour
)

// Config 本地 blob 存储配置
type Config struct {
	Dir        string
	BaseURL    string
	SigningKey string
	URLTTL     time.Duration
}

// LocalStore 本地目录 blob 存储
type LocalStore struct {
	dir     string
	baseURL string
	key     []byte
	ttl     time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// NewLocalStore 创建本地 blob 存储，目录不存在时自动创建
func NewLocalStore(cfg Config, logger *zap.Logger) (*LocalStore, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("blob dir is required")
	}
	if cfg.SigningKey == "" {
		return nil, fmt.Errorf("blob signing key is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	if cfg.URLTTL <= 0 {
		cfg.URLTTL = defaultURLTTL
	}
	return &LocalStore{
		dir:     cfg.Dir,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		key:     []byte(cfg.SigningKey),
		ttl:     cfg.URLTTL,
		now:     time.Now,
		logger:  logger.With(zap.String("component", "blobstore")),
	}, nil
}

// SetClock replaces the time source.
func (s *LocalStore) SetClock(now func() time.Time) {
	s.now = now
}

// Upload sniffs the content type, stores r under ownerID and returns a
// reference with a freshly signed URL.
func (s *LocalStore) Upload(ctx context.Context, r io.Reader, ownerID, filename string) (*entity.BlobRef, error) {
	if ownerID == "" || strings.ContainsAny(ownerID, `/\`) || ownerID == "." || ownerID == ".." {
		return nil, apperrors.NewInvalidInputError("invalid blob owner")
	}
	data, err := io.ReadAll(io.LimitReader(r, MaxUploadSize+1))
	if err != nil {
		return nil, apperrors.NewInternalErrorWithCause("read upload", err)
	}
	if len(data) > MaxUploadSize {
		return nil, apperrors.NewInvalidInputError(fmt.Sprintf("upload exceeds %d bytes", MaxUploadSize))
	}
	if len(data) == 0 {
		return nil, apperrors.NewInvalidInputError("empty upload")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mt := mimetype.Detect(data)
	name := uuid.NewString() + extensionFor(filename, mt)
	storagePath := path.Join(ownerID, name)

	full := filepath.Join(s.dir, filepath.FromSlash(storagePath))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, apperrors.NewInternalErrorWithCause("create owner dir", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return nil, apperrors.NewInternalErrorWithCause("write blob", err)
	}

	s.logger.Debug("Blob stored",
		zap.String("storage_path", storagePath),
		zap.String("mime", mt.String()),
		zap.Int("size", len(data)),
	)
	return &entity.BlobRef{
		URL:         s.SignedURL(storagePath),
		StoragePath: storagePath,
		Size:        int64(len(data)),
		MimeType:    baseMIME(mt.String()),
	}, nil
}

// UploadDataURI decodes a base64 data: URI and stores its payload.
func (s *LocalStore) UploadDataURI(ctx context.Context, dataURI, ownerID, filename string) (*entity.BlobRef, error) {
	payload, err := DecodeDataURI(dataURI)
	if err != nil {
		return nil, err
	}
	return s.Upload(ctx, bytes.NewReader(payload), ownerID, filename)
}

// ResolveURL signs a fresh URL for a stored blob.
func (s *LocalStore) ResolveURL(ctx context.Context, storagePath string) (string, error) {
	full, err := s.localPath(storagePath)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(full); err != nil {
		if os.IsNotExist(err) {
			return "", apperrors.NewNotFoundError("blob not found: " + storagePath)
		}
		return "", apperrors.NewInternalErrorWithCause("stat blob", err)
	}
	return s.SignedURL(storagePath), nil
}

// SignedURL builds {base}/blobs/{path}?expires=..&sig=..
func (s *LocalStore) SignedURL(storagePath string) string {
	expires := s.now().Add(s.ttl).Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("sig", s.sign(storagePath, expires))
	return s.baseURL + BlobRoute + storagePath + "?" + q.Encode()
}

// Verify checks a signature produced by SignedURL.
func (s *LocalStore) Verify(storagePath, expires, sig string) error {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return apperrors.NewForbiddenError("malformed expiry")
	}
	if s.now().Unix() > exp {
		return apperrors.NewForbiddenError("signed url expired")
	}
	if !hmac.Equal([]byte(sig), []byte(s.sign(storagePath, exp))) {
		return apperrors.NewForbiddenError("bad signature")
	}
	return nil
}

// Open returns the stored bytes and their sniffed content type.
func (s *LocalStore) Open(storagePath string) ([]byte, string, error) {
	full, err := s.localPath(storagePath)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", apperrors.NewNotFoundError("blob not found: " + storagePath)
		}
		return nil, "", apperrors.NewInternalErrorWithCause("read blob", err)
	}
	return data, mimetype.Detect(data).String(), nil
}

func (s *LocalStore) sign(storagePath string, expires int64) string {
	mac := hmac.New(sha256.New, s.key)
	fmt.Fprintf(mac, "%s\n%d", storagePath, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

// localPath 防止路径穿越
func (s *LocalStore) localPath(storagePath string) (string, error) {
	clean := path.Clean("/" + storagePath)
	if clean == "/" || clean != "/"+storagePath {
		return "", apperrors.NewInvalidInputError("invalid storage path")
	}
	return filepath.Join(s.dir, filepath.FromSlash(clean[1:])), nil
}

// DecodeDataURI parses data:[<mime>][;base64],<payload>. Only base64
// payloads are accepted.
func DecodeDataURI(dataURI string) ([]byte, error) {
	rest, ok := strings.CutPrefix(dataURI, "data:")
	if !ok {
		return nil, apperrors.NewInvalidInputError("not a data URI")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, apperrors.NewInvalidInputError("data URI has no payload")
	}
	if !strings.HasSuffix(meta, ";base64") {
		return nil, apperrors.NewInvalidInputError("data URI must be base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "decode data URI", err)
	}
	return data, nil
}

func extensionFor(filename string, mt *mimetype.MIME) string {
	if ext := mt.Extension(); ext != "" {
		return ext
	}
	if ext := filepath.Ext(filename); ext != "" && !strings.ContainsAny(ext, `/\`) {
		return strings.ToLower(ext)
	}
	return ".bin"
}

func baseMIME(m string) string {
	if i := strings.IndexByte(m, ';'); i >= 0 {
		return strings.TrimSpace(m[:i])
	}
	return m
}

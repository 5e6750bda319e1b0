package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ngoclaw/chatsync/internal/infrastructure/auth"
	"github.com/ngoclaw/chatsync/internal/infrastructure/blobstore"
	apperrors "github.com/ngoclaw/chatsync/pkg/errors"
)

// BlobHandler serves blobs behind signed URLs. No bearer token is needed:
// the signature is the credential.
type BlobHandler struct {
	blobs  *blobstore.LocalStore
	logger *zap.Logger
}

func NewBlobHandler(blobs *blobstore.LocalStore, logger *zap.Logger) *BlobHandler {
	return &BlobHandler{
		blobs:  blobs,
		logger: logger,
	}
}

// ServeBlob GET /blobs/*path?expires=&sig=
func (h *BlobHandler) ServeBlob(c *gin.Context) {
	storagePath := strings.TrimPrefix(c.Param("path"), "/")
	if err := h.blobs.Verify(storagePath, c.Query("expires"), c.Query("sig")); err != nil {
		WriteError(c, h.logger, err)
		return
	}
	data, contentType, err := h.blobs.Open(storagePath)
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}
	c.Header("Cache-Control", "private, max-age=300")
	c.Data(http.StatusOK, contentType, data)
}

// Upload POST /api/v1/blobs?filename= with the raw bytes as body. The
// owner is the authenticated user; an open server takes it from ?owner=.
func (h *BlobHandler) Upload(c *gin.Context) {
	owner, ok := auth.UserIDFrom(c.Request.Context())
	if !ok {
		owner = c.Query("owner")
	}
	if owner == "" {
		WriteError(c, h.logger, apperrors.NewInvalidInputError("blob owner is required"))
		return
	}
	ref, err := h.blobs.Upload(c.Request.Context(), c.Request.Body, owner, c.Query("filename"))
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, ref)
}

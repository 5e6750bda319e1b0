package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ngoclaw/chatsync/internal/infrastructure/auth"
	"github.com/ngoclaw/chatsync/internal/infrastructure/docstore"
	apperrors "github.com/ngoclaw/chatsync/pkg/errors"
)

// DocumentHandler exposes a DocumentStore over the /api/v1 JSON API.
type DocumentHandler struct {
	store  docstore.DocumentStore
	logger *zap.Logger
}

func NewDocumentHandler(store docstore.DocumentStore, logger *zap.Logger) *DocumentHandler {
	return &DocumentHandler{
		store:  store,
		logger: logger,
	}
}

// GetDocument GET /docs/*path
func (h *DocumentHandler) GetDocument(c *gin.Context) {
	path, ok := h.pathParam(c)
	if !ok {
		return
	}
	doc, err := h.store.Get(c.Request.Context(), path)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// SetDocument PUT /docs/*path
func (h *DocumentHandler) SetDocument(c *gin.Context) {
	path, ok := h.pathParam(c)
	if !ok {
		return
	}
	var req docstore.SetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperrors.Wrap(apperrors.CodeInvalidInput, "invalid request body", err))
		return
	}
	if req.Data == nil {
		req.Data = map[string]any{}
	}
	if err := h.store.Set(c.Request.Context(), path, req.Data); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteDocument DELETE /docs/*path
func (h *DocumentHandler) DeleteDocument(c *gin.Context) {
	path, ok := h.pathParam(c)
	if !ok {
		return
	}
	if err := h.store.Delete(c.Request.Context(), path); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Query POST /query
func (h *DocumentHandler) Query(c *gin.Context) {
	var q docstore.Query
	if err := c.ShouldBindJSON(&q); err != nil {
		h.fail(c, apperrors.Wrap(apperrors.CodeInvalidInput, "invalid query", err))
		return
	}
	if err := auth.CheckPathAccess(c.Request.Context(), q.Collection); err != nil {
		h.fail(c, err)
		return
	}
	docs, err := h.store.Query(c.Request.Context(), q)
	if err != nil {
		h.fail(c, err)
		return
	}
	if docs == nil {
		docs = []docstore.Document{}
	}
	c.JSON(http.StatusOK, docstore.QueryResponse{Documents: docs})
}

// Count POST /count
func (h *DocumentHandler) Count(c *gin.Context) {
	var q docstore.CountQuery
	if err := c.ShouldBindJSON(&q); err != nil {
		h.fail(c, apperrors.Wrap(apperrors.CodeInvalidInput, "invalid count query", err))
		return
	}
	scope := q.Collection
	if scope == "" {
		scope = q.Prefix
	}
	if err := auth.CheckPathAccess(c.Request.Context(), scope); err != nil {
		h.fail(c, err)
		return
	}
	n, err := h.store.Count(c.Request.Context(), q)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, docstore.CountResponse{Count: n})
}

// ListCollections GET /collections/*path
func (h *DocumentHandler) ListCollections(c *gin.Context) {
	path, err := routePath(c, docstore.CollectionsRoute)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := auth.CheckPathAccess(c.Request.Context(), path); err != nil {
		h.fail(c, err)
		return
	}
	ids, err := h.store.ListCollections(c.Request.Context(), path)
	if err != nil {
		h.fail(c, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, docstore.CollectionsResponse{Collections: ids})
}

// Batch POST /batch
func (h *DocumentHandler) Batch(c *gin.Context) {
	var req docstore.BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperrors.Wrap(apperrors.CodeInvalidInput, "invalid batch", err))
		return
	}
	if len(req.Ops) > h.store.MaxBatchSize() {
		h.fail(c, apperrors.Wrap(apperrors.CodeBatchTooLarge, "batch exceeds server limit", nil))
		return
	}
	for _, op := range req.Ops {
		if err := auth.CheckPathAccess(c.Request.Context(), op.Path); err != nil {
			h.fail(c, err)
			return
		}
	}
	if err := docstore.ApplyBatch(c.Request.Context(), h.store, req.Ops); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Limits GET /limits
func (h *DocumentHandler) Limits(c *gin.Context) {
	c.JSON(http.StatusOK, docstore.LimitsResponse{MaxBatchSize: h.store.MaxBatchSize()})
}

// pathParam decodes and authorizes the document path of a /docs request.
func (h *DocumentHandler) pathParam(c *gin.Context) (string, bool) {
	path, err := routePath(c, docstore.DocsRoute)
	if err == nil {
		err = docstore.ValidateDocPath(path)
	}
	if err == nil {
		err = auth.CheckPathAccess(c.Request.Context(), path)
	}
	if err != nil {
		h.fail(c, err)
		return "", false
	}
	return path, true
}

func (h *DocumentHandler) fail(c *gin.Context, err error) {
	WriteError(c, h.logger, err)
}

// routePath returns the document path following route in the request URL.
// It works on the escaped form and decodes segment by segment: the router
// sees an already unescaped path, where an escaped "/" is indistinguishable
// from a separator.
func routePath(c *gin.Context, route string) (string, error) {
	raw := strings.TrimPrefix(c.Request.URL.EscapedPath(), route)
	raw = strings.Trim(raw, "/")
	if raw == "" {
		return "", nil
	}
	segs := strings.Split(raw, "/")
	for i, s := range segs {
		dec, err := url.PathUnescape(s)
		if err != nil {
			return "", apperrors.NewInvalidInputError("bad path escape: " + s)
		}
		if dec == "" || strings.Contains(dec, "/") {
			return "", apperrors.NewInvalidInputError("invalid path segment: " + s)
		}
		segs[i] = dec
	}
	return strings.Join(segs, "/"), nil
}

// WriteError renders err as an ErrorResponse with the status for its code.
// Internal causes are logged, not sent.
func WriteError(c *gin.Context, logger *zap.Logger, err error) {
	code := apperrors.CodeOf(err)
	if code == "" {
		code = apperrors.CodeInternal
	}
	status := docstore.StatusFor(code)
	msg := http.StatusText(status)
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && status < http.StatusInternalServerError {
		msg = appErr.Message
	}
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
	}
	c.AbortWithStatusJSON(status, docstore.ErrorResponse{Error: msg, Code: string(code)})
}

package docstore

import (
	"context"
	"net/http"

	apperrors "github.com/ngoclaw/chatsync/pkg/errors"
)

// Document server API paths.
const (
	APIPrefix        = "/api/v1"
	DocsRoute        = APIPrefix + "/docs"
	QueryRoute       = APIPrefix + "/query"
	CountRoute       = APIPrefix + "/count"
	CollectionsRoute = APIPrefix + "/collections"
	BatchRoute       = APIPrefix + "/batch"
	WatchRoute       = APIPrefix + "/watch"
	LimitsRoute      = APIPrefix + "/limits"
)

// SetRequest PUT /docs 请求体
type SetRequest struct {
	Data map[string]any `json:"data"`
}

// QueryResponse POST /query 响应
type QueryResponse struct {
	Documents []Document `json:"documents"`
}

// CountResponse POST /count 响应
type CountResponse struct {
	Count int64 `json:"count"`
}

// CollectionsResponse GET /collections 响应
type CollectionsResponse struct {
	Collections []string `json:"collections"`
}

// BatchRequest POST /batch 请求体
type BatchRequest struct {
	Ops []BatchOp `json:"ops"`
}

// LimitsResponse GET /limits 响应
type LimitsResponse struct {
	MaxBatchSize int `json:"max_batch_size"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// StatusFor maps an error code to its HTTP status.
func StatusFor(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.CodeInvalidInput:
		return http.StatusBadRequest
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeAlreadyExists:
		return http.StatusConflict
	case apperrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case apperrors.CodeForbidden:
		return http.StatusForbidden
	case apperrors.CodeBatchTooLarge:
		return http.StatusRequestEntityTooLarge
	case apperrors.CodeServiceUnavail:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ApplyBatch commits ops against any store in one batch.
func ApplyBatch(ctx context.Context, s DocumentStore, ops []BatchOp) error {
	b := s.Batch()
	for _, op := range ops {
		if op.Delete {
			b.Delete(op.Path)
		} else {
			b.Set(op.Path, op.Data)
		}
	}
	return b.Commit(ctx)
}

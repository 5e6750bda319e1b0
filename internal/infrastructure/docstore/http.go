package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	apperrors "github.com/ngoclaw/chatsync/pkg/errors"
)

// TokenSource supplies the bearer token for document server requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// HTTPConfig 文档服务客户端配置
type HTTPConfig struct {
	BaseURL      string
	Timeout      time.Duration
	MaxBatchSize int
}

// HTTPStore talks to a document server over its JSON API.
type HTTPStore struct {
	base     *url.URL
	client   *http.Client
	tokens   TokenSource
	maxBatch int
	logger   *zap.Logger
}

// NewHTTPStore creates a client. tokens may be nil for an open server.
func NewHTTPStore(cfg HTTPConfig, tokens TokenSource, logger *zap.Logger) (*HTTPStore, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil || base.Host == "" {
		return nil, apperrors.NewInvalidInputError("invalid document server url: " + cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPStore{
		base:     base,
		client:   &http.Client{Timeout: cfg.Timeout},
		tokens:   tokens,
		maxBatch: cfg.MaxBatchSize,
		logger:   logger,
	}, nil
}

func (s *HTTPStore) MaxBatchSize() int { return s.maxBatch }

func (s *HTTPStore) Get(ctx context.Context, path string) (*Document, error) {
	if err := ValidateDocPath(path); err != nil {
		return nil, err
	}
	var doc Document
	if err := s.do(ctx, http.MethodGet, DocsRoute+"/"+escapePath(path), nil, &doc); err != nil {
		return nil, err
	}
	if doc.Data == nil {
		doc.Data = map[string]any{}
	}
	return &doc, nil
}

func (s *HTTPStore) Set(ctx context.Context, path string, data map[string]any) error {
	if err := ValidateDocPath(path); err != nil {
		return err
	}
	return s.do(ctx, http.MethodPut, DocsRoute+"/"+escapePath(path), SetRequest{Data: data}, nil)
}

func (s *HTTPStore) Delete(ctx context.Context, path string) error {
	if err := ValidateDocPath(path); err != nil {
		return err
	}
	return s.do(ctx, http.MethodDelete, DocsRoute+"/"+escapePath(path), nil, nil)
}

func (s *HTTPStore) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	var resp QueryResponse
	if err := s.do(ctx, http.MethodPost, QueryRoute, q, &resp); err != nil {
		return nil, err
	}
	return resp.Documents, nil
}

func (s *HTTPStore) Count(ctx context.Context, q CountQuery) (int64, error) {
	if err := validateCount(q); err != nil {
		return 0, err
	}
	var resp CountResponse
	if err := s.do(ctx, http.MethodPost, CountRoute, q, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (s *HTTPStore) ListCollections(ctx context.Context, docPath string) ([]string, error) {
	var resp CollectionsResponse
	if err := s.do(ctx, http.MethodGet, CollectionsRoute+"/"+escapePath(docPath), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Collections, nil
}

func (s *HTTPStore) Batch() WriteBatch {
	return &httpBatch{store: s}
}

func (s *HTTPStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// Limits fetches the server's batch limit.
func (s *HTTPStore) Limits(ctx context.Context) (LimitsResponse, error) {
	var resp LimitsResponse
	err := s.do(ctx, http.MethodGet, LimitsRoute, nil, &resp)
	return resp, err
}

// Watch 通过 WebSocket 订阅变更，阻塞直到 ctx 结束或连接断开
func (s *HTTPStore) Watch(ctx context.Context, prefix string, fn func(Change)) error {
	u := *s.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += WatchRoute
	u.RawQuery = url.Values{"prefix": {prefix}}.Encode()

	header := http.Header{}
	if err := s.authorize(ctx, header); err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return apperrors.NewUnavailableError("dial change feed", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	for {
		var ch Change
		if err := conn.ReadJSON(&ch); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return apperrors.NewUnavailableError("read change feed", err)
		}
		fn(ch)
	}
}

func (s *HTTPStore) authorize(ctx context.Context, h http.Header) error {
	if s.tokens == nil {
		return nil
	}
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return err
	}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return nil
}

func (s *HTTPStore) do(ctx context.Context, method, route string, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeInvalidInput, "encode request", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.base.String()+route, rd)
	if err != nil {
		return apperrors.NewInternalErrorWithCause("build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := s.authorize(ctx, req.Header); err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return apperrors.NewUnavailableError(fmt.Sprintf("%s %s", method, route), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e ErrorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&e)
		code := apperrors.ErrorCode(e.Code)
		if code == "" {
			code = codeForStatus(resp.StatusCode)
		}
		if e.Error == "" {
			e.Error = resp.Status
		}
		return apperrors.Wrap(code, e.Error, nil)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.NewUnavailableError("decode response", err)
	}
	return nil
}

func codeForStatus(status int) apperrors.ErrorCode {
	switch status {
	case http.StatusBadRequest:
		return apperrors.CodeInvalidInput
	case http.StatusNotFound:
		return apperrors.CodeNotFound
	case http.StatusUnauthorized:
		return apperrors.CodeUnauthorized
	case http.StatusForbidden:
		return apperrors.CodeForbidden
	case http.StatusRequestEntityTooLarge:
		return apperrors.CodeBatchTooLarge
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return apperrors.CodeServiceUnavail
	default:
		return apperrors.CodeInternal
	}
}

// escapePath escapes each segment so ids containing reserved characters
// survive the round trip.
func escapePath(path string) string {
	segs := Segments(path)
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

type httpBatch struct {
	store *HTTPStore
	ops   []BatchOp
}

func (b *httpBatch) Set(path string, data map[string]any) {
	b.ops = append(b.ops, BatchOp{Path: path, Data: data})
}

func (b *httpBatch) Delete(path string) {
	b.ops = append(b.ops, BatchOp{Path: path, Delete: true})
}

func (b *httpBatch) Len() int { return len(b.ops) }

func (b *httpBatch) Commit(ctx context.Context) error {
	ops, err := prepareOps(b.ops, b.store.maxBatch)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}
	if err := b.store.do(ctx, http.MethodPost, BatchRoute, BatchRequest{Ops: ops}, nil); err != nil {
		return err
	}
	b.ops = nil
	return nil
}

package valueobject

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// CursorKind identifies which backend produced a cursor.
type CursorKind string

const (
	CursorKindIndex CursorKind = "index"
	CursorKindValue CursorKind = "value"
)

// PageCursor is an opaque pagination token.
// Local pagination encodes an offset, remote pagination encodes the
// order-by value and document id of the last item on the previous page.
type PageCursor string

type cursorPayload struct {
	Kind  CursorKind `json:"k"`
	Index int        `json:"i,omitempty"`
	Value int64      `json:"v,omitempty"`
	ID    string     `json:"id,omitempty"`
}

// IndexCursor 创建基于下标的游标
func IndexCursor(index int) PageCursor {
	return encodeCursor(cursorPayload{Kind: CursorKindIndex, Index: index})
}

// ValueCursor 创建基于排序值与文档 ID 的游标
func ValueCursor(value int64, id string) PageCursor {
	return encodeCursor(cursorPayload{Kind: CursorKindValue, Value: value, ID: id})
}

func encodeCursor(p cursorPayload) PageCursor {
	data, _ := json.Marshal(p)
	return PageCursor(base64.RawURLEncoding.EncodeToString(data))
}

// IsZero reports whether this is the first-page cursor.
func (c PageCursor) IsZero() bool {
	return c == ""
}

func (c PageCursor) decode() (cursorPayload, error) {
	var p cursorPayload
	raw, err := base64.RawURLEncoding.DecodeString(string(c))
	if err != nil {
		return p, fmt.Errorf("malformed cursor: %w", err)
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("malformed cursor: %w", err)
	}
	return p, nil
}

// Kind 返回游标类型，零值游标返回空串
func (c PageCursor) Kind() (CursorKind, error) {
	if c.IsZero() {
		return "", nil
	}
	p, err := c.decode()
	if err != nil {
		return "", err
	}
	return p.Kind, nil
}

// Index returns the start offset. The zero cursor starts at 0.
func (c PageCursor) Index() (int, error) {
	if c.IsZero() {
		return 0, nil
	}
	p, err := c.decode()
	if err != nil {
		return 0, err
	}
	if p.Kind != CursorKindIndex || p.Index < 0 {
		return 0, fmt.Errorf("cursor is not an index cursor")
	}
	return p.Index, nil
}

// After returns the order-by value and id to resume after.
// ok is false for the zero cursor.
func (c PageCursor) After() (value int64, id string, ok bool, err error) {
	if c.IsZero() {
		return 0, "", false, nil
	}
	p, err := c.decode()
	if err != nil {
		return 0, "", false, err
	}
	if p.Kind != CursorKindValue {
		return 0, "", false, fmt.Errorf("cursor is not a value cursor")
	}
	return p.Value, p.ID, true, nil
}

// Page 分页结果
type Page[T any] struct {
	Items   []T        `json:"items"`
	HasMore bool       `json:"hasMore"`
	Cursor  PageCursor `json:"cursor,omitempty"`
}

// EmptyPage returns a page with a non-nil empty item slice.
func EmptyPage[T any]() Page[T] {
	return Page[T]{Items: []T{}}
}

// PageSlice paginates an in-memory list by offset.
// hasMore is true iff items remain after the returned window.
func PageSlice[T any](all []T, pageSize int, cursor PageCursor) (Page[T], error) {
	start, err := cursor.Index()
	if err != nil {
		return EmptyPage[T](), err
	}
	if pageSize <= 0 {
		return EmptyPage[T](), fmt.Errorf("page size must be positive")
	}
	if start >= len(all) {
		return EmptyPage[T](), nil
	}

	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	items := make([]T, end-start)
	copy(items, all[start:end])

	page := Page[T]{Items: items, HasMore: end < len(all)}
	if page.HasMore {
		page.Cursor = IndexCursor(end)
	}
	return page, nil
}

// PageTail paginates an in-memory list from its end. The cursor counts the
// items already returned; each page keeps the list's order.
func PageTail[T any](all []T, pageSize int, cursor PageCursor) (Page[T], error) {
	taken, err := cursor.Index()
	if err != nil {
		return EmptyPage[T](), err
	}
	if pageSize <= 0 {
		return EmptyPage[T](), fmt.Errorf("page size must be positive")
	}
	end := len(all) - taken
	if end <= 0 {
		return EmptyPage[T](), nil
	}
	start := end - pageSize
	if start < 0 {
		start = 0
	}
	items := make([]T, end-start)
	copy(items, all[start:end])

	page := Page[T]{Items: items, HasMore: start > 0}
	if page.HasMore {
		page.Cursor = IndexCursor(taken + len(items))
	}
	return page, nil
}

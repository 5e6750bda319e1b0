package docstore

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	apperrors "github.com/ngoclaw/chatsync/pkg/errors"
)

var fieldPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidateField checks a filter or order-by field name. Field names are
// interpolated into JSON paths by the SQL backend.
func ValidateField(field string) error {
	if !fieldPattern.MatchString(field) {
		return apperrors.NewInvalidInputError("invalid field name: " + field)
	}
	return nil
}

// Normalize round-trips data through JSON so every backend stores and
// compares the same shapes: objects, arrays, strings, float64, bool, nil.
func Normalize(data map[string]any) (map[string]any, error) {
	if data == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "document is not JSON-serializable", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "document is not a JSON object", err)
	}
	return out, nil
}

// NormalizeValue converts a filter or cursor value to its JSON shape.
func NormalizeValue(v any) any {
	switch x := v.(type) {
	case nil, string, bool, float64:
		return x
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case float32:
		return float64(x)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

// CompareValues orders two JSON scalars: nil < bool < number < string.
// Values of other kinds compare by their JSON text.
func CompareValues(a, b any) int {
	a, b = NormalizeValue(a), NormalizeValue(b)
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch x := a.(type) {
	case nil:
		return 0
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	case float64:
		y := b.(float64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		default:
			return 0
		}
	case string:
		return strings.Compare(x, b.(string))
	}
	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	return strings.Compare(string(ja), string(jb))
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	case string:
		return 3
	default:
		return 4
	}
}

// MatchFilters reports whether data satisfies every equality filter.
func MatchFilters(data map[string]any, filters []Filter) bool {
	for _, f := range filters {
		v, ok := data[f.Field]
		if !ok || CompareValues(v, f.Value) != 0 {
			return false
		}
	}
	return true
}

func validateQuery(q Query) error {
	if err := ValidateCollectionPath(q.Collection); err != nil {
		return err
	}
	for _, f := range q.Filters {
		if err := ValidateField(f.Field); err != nil {
			return err
		}
	}
	if q.OrderBy != "" {
		if err := ValidateField(q.OrderBy); err != nil {
			return err
		}
	}
	switch q.Direction {
	case "", Asc, Desc:
	default:
		return apperrors.NewInvalidInputError(fmt.Sprintf("invalid direction %q", q.Direction))
	}
	if q.Limit < 0 {
		return apperrors.NewInvalidInputError("negative limit")
	}
	if q.StartAfter != nil && q.StartAfter.ID == "" {
		return apperrors.NewInvalidInputError("cursor without document id")
	}
	return nil
}

func validateCount(q CountQuery) error {
	switch {
	case q.Collection != "" && q.Group != "":
		return apperrors.NewInvalidInputError("count query takes a collection or a group, not both")
	case q.Collection != "":
		if err := ValidateCollectionPath(q.Collection); err != nil {
			return err
		}
	case q.Group != "":
		if strings.Contains(q.Group, "/") {
			return apperrors.NewInvalidInputError("group must be a collection id")
		}
	default:
		return apperrors.NewInvalidInputError("count query needs a collection or a group")
	}
	for _, f := range q.Filters {
		if err := ValidateField(f.Field); err != nil {
			return err
		}
	}
	return nil
}

// BatchOp is one pending write. It is also the wire form of a batch
// entry in the document server API.
type BatchOp struct {
	Path   string         `json:"path"`
	Data   map[string]any `json:"data,omitempty"`
	Delete bool           `json:"delete,omitempty"`
}

// prepareOps validates and normalises a batch before commit.
func prepareOps(ops []BatchOp, max int) ([]BatchOp, error) {
	if len(ops) > max {
		return nil, apperrors.Wrap(apperrors.CodeBatchTooLarge,
			fmt.Sprintf("batch holds %d writes, limit is %d", len(ops), max), nil)
	}
	out := make([]BatchOp, len(ops))
	for i, op := range ops {
		if err := ValidateDocPath(op.Path); err != nil {
			return nil, err
		}
		out[i] = op
		if !op.Delete {
			data, err := Normalize(op.Data)
			if err != nil {
				return nil, err
			}
			out[i].Data = data
		}
	}
	return out, nil
}

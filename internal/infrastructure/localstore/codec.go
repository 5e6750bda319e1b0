package localstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ngoclaw/chatsync/internal/domain/entity"
)

// Codec decodes a stored value. Decoding is the validation step: a value
// that decodes is well-formed.
type Codec[T any] interface {
	Decode(data []byte) (T, error)
}

// CodecFunc adapts a function to Codec.
type CodecFunc[T any] func(data []byte) (T, error)

// Decode implements Codec.
func (f CodecFunc[T]) Decode(data []byte) (T, error) {
	return f(data)
}

// Validator is implemented by entities that check their own invariants.
type Validator interface {
	Validate() error
}

// JSON returns a codec that unmarshals into T and then runs validate.
func JSON[T any](validate func(T) error) Codec[T] {
	return CodecFunc[T](func(data []byte) (T, error) {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return v, err
		}
		if validate != nil {
			if err := validate(v); err != nil {
				var zero T
				return zero, err
			}
		}
		return v, nil
	})
}

// JSONList decodes a JSON array whose elements validate themselves.
func JSONList[E Validator]() Codec[[]E] {
	return JSON(func(items []E) error {
		for i, it := range items {
			if err := it.Validate(); err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
		}
		return nil
	})
}

var (
	// ProvidersCodec decodes custom_api_providers.
	ProvidersCodec = JSONList[entity.Provider]()

	// ModelsCodec decodes a models_* bucket.
	ModelsCodec = JSONList[entity.Model]()

	// StringsCodec decodes a list of ids such as selected_server_models.
	StringsCodec = JSON(func(ids []string) error {
		for i, id := range ids {
			if id == "" {
				return fmt.Errorf("item %d: empty id", i)
			}
		}
		return nil
	})

	// ConversationsCodec decodes the full conversation list.
	ConversationsCodec = CodecFunc[[]*entity.Conversation](decodeConversations)

	// SyncMetadataCodec decodes sync_metadata.
	SyncMetadataCodec = JSON[SyncMetadata](nil)
)

func decodeConversations(data []byte) ([]*entity.Conversation, error) {
	var convs []*entity.Conversation
	if err := json.Unmarshal(data, &convs); err != nil {
		return nil, err
	}
	for i, c := range convs {
		if c == nil {
			return nil, fmt.Errorf("conversation %d: null entry", i)
		}
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("conversation %s: %w", c.ID, err)
		}
	}
	return convs, nil
}

// SyncMetadata records the last completed sync.
type SyncMetadata struct {
	UserID    string    `json:"userId"`
	LastSync  time.Time `json:"lastSync"`
	Providers int       `json:"providers"`
	Models    int       `json:"models"`
}

package remote

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ngoclaw/chatsync/internal/domain/entity"
	"github.com/ngoclaw/chatsync/internal/domain/service"
	"github.com/ngoclaw/chatsync/internal/infrastructure/docstore"
)

// Document layout, one namespace per user:
//
//	users/{uid}/conversations/{cid}
//	users/{uid}/conversations/{cid}/messages/{mid}
//	users/{uid}/settings/{selected_models|sync}
//	providers/{uid}/data/{pid}
//	models/{uid}/{bucket}/{encoded model id}
const (
	usersCollection     = "users"
	conversationsColl   = "conversations"
	messagesColl        = "messages"
	settingsColl        = "settings"
	providersCollection = "providers"
	providersDataColl   = "data"
	modelsCollection    = "models"

	selectedModelsDoc = "selected_models"
	syncDoc           = "sync"

	fieldUpdatedAt = "updatedAt"
	fieldTimestamp = "timestamp"
	fieldOrderKey  = "orderKey"
	fieldSource    = "source"
	fieldRole      = "role"
	fieldModelID   = "modelId"
)

func conversationsPath(uid string) string {
	return docstore.Join(usersCollection, uid, conversationsColl)
}

func conversationPath(uid, cid string) string {
	return docstore.Join(conversationsPath(uid), cid)
}

func messagesPath(uid, cid string) string {
	return docstore.Join(conversationPath(uid, cid), messagesColl)
}

func settingsPath(uid, doc string) string {
	return docstore.Join(usersCollection, uid, settingsColl, doc)
}

func providersPath(uid string) string {
	return docstore.Join(providersCollection, uid, providersDataColl)
}

func modelsRoot(uid string) string {
	return docstore.Join(modelsCollection, uid)
}

func modelsPath(uid, bucket string) string {
	return docstore.Join(modelsRoot(uid), bucket)
}

// EncodeModelKey turns a model id into a legal document id. Model ids may
// contain "/" and "."; both are percent-encoded.
func EncodeModelKey(id string) string {
	return strings.ReplaceAll(url.PathEscape(id), ".", "%2E")
}

// DecodeModelKey reverses EncodeModelKey.
func DecodeModelKey(key string) (string, error) {
	return url.PathUnescape(key)
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// toData converts a wire struct into document data.
func toData(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// fromData decodes document data into a wire struct.
func fromData(data map[string]any, out any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// === Conversations ===

// conversationDoc stores timestamps as epoch milliseconds so they order
// and compare as numbers in every backend.
type conversationDoc struct {
	entity.Conversation
	CreatedAt int64 `json:"createdAt"`
	UpdatedAt int64 `json:"updatedAt"`
}

func encodeConversation(c *entity.Conversation) (map[string]any, error) {
	meta := c.Metadata()
	return toData(conversationDoc{
		Conversation: *meta,
		CreatedAt:    millis(c.CreatedAt),
		UpdatedAt:    millis(c.UpdatedAt),
	})
}

func decodeConversation(doc docstore.Document) (*entity.Conversation, error) {
	var d conversationDoc
	if err := fromData(doc.Data, &d); err != nil {
		return nil, fmt.Errorf("conversation %s: %w", doc.Path, err)
	}
	c := d.Conversation
	c.ID = doc.ID()
	c.CreatedAt = fromMillis(d.CreatedAt)
	c.UpdatedAt = fromMillis(d.UpdatedAt)
	c.Messages = nil
	if c.Source == "" {
		c.Source = entity.SourceServer
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("conversation %s: %w", doc.Path, err)
	}
	return &c, nil
}

// === Messages ===

// messageDoc carries orderKey so paging resumes on (timestamp, role, id)
// through a single-field cursor: a user turn and its same-millisecond answer
// never split across pages in the wrong order.
type messageDoc struct {
	entity.Message
	Timestamp int64 `json:"timestamp"`
	OrderKey  int64 `json:"orderKey"`
}

// roleSlots must exceed every RoleRank. millis*roleSlots stays below 2^53
// so the key survives stores that hold numbers as float64.
const roleSlots = 4

func messageOrderKey(m *entity.Message) int64 {
	return millis(m.Timestamp)*roleSlots + int64(service.RoleRank(m.Role))
}

func encodeMessage(m *entity.Message) (map[string]any, error) {
	return toData(messageDoc{Message: *m, Timestamp: millis(m.Timestamp), OrderKey: messageOrderKey(m)})
}

func decodeMessage(doc docstore.Document) (*entity.Message, error) {
	var d messageDoc
	if err := fromData(doc.Data, &d); err != nil {
		return nil, fmt.Errorf("message %s: %w", doc.Path, err)
	}
	m := d.Message
	m.ID = doc.ID()
	m.Timestamp = fromMillis(d.Timestamp)
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("message %s: %w", doc.Path, err)
	}
	return &m, nil
}

// === Providers and models ===

func (a *Adapter) encodeProvider(p entity.Provider) (map[string]any, error) {
	sealed, err := a.sealer.Seal(p.APIKey)
	if err != nil {
		return nil, fmt.Errorf("seal credential for %s: %w", p.ID, err)
	}
	p.APIKey = sealed
	return toData(p)
}

func (a *Adapter) decodeProvider(doc docstore.Document) (entity.Provider, error) {
	var p entity.Provider
	if err := fromData(doc.Data, &p); err != nil {
		return p, fmt.Errorf("provider %s: %w", doc.Path, err)
	}
	if p.ID == "" {
		p.ID = doc.ID()
	}
	key, err := a.sealer.Open(p.APIKey)
	if err != nil {
		return p, fmt.Errorf("provider %s: %w", doc.Path, err)
	}
	p.APIKey = key
	return p, p.Validate()
}

type modelDoc struct {
	entity.Model
	ModelID string `json:"modelId"`
}

func encodeModel(m entity.Model) (map[string]any, error) {
	return toData(modelDoc{Model: m, ModelID: m.ID})
}

// decodeModel prefers the stored original id over decoding the key.
func decodeModel(doc docstore.Document) (entity.Model, error) {
	var d modelDoc
	if err := fromData(doc.Data, &d); err != nil {
		return d.Model, fmt.Errorf("model %s: %w", doc.Path, err)
	}
	m := d.Model
	switch {
	case d.ModelID != "":
		m.ID = d.ModelID
	case m.ID == "":
		id, err := DecodeModelKey(doc.ID())
		if err != nil {
			return m, fmt.Errorf("model %s: %w", doc.Path, err)
		}
		m.ID = id
	}
	return m, m.Validate()
}

// === Settings ===

type selectedModelsDocBody struct {
	IDs       []string `json:"ids"`
	UpdatedAt int64    `json:"updatedAt"`
}

type syncDocBody struct {
	LastUpdated int64 `json:"lastUpdated"`
	Providers   int   `json:"providers"`
	Models      int   `json:"models"`
}

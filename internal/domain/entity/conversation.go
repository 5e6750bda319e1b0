package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Source 会话来源：平台托管模型或用户自带密钥
type Source string

const (
	SourceServer Source = "server"
	SourceBYOK   Source = "byok"
)

// Valid 判断来源标记是否合法
func (s Source) Valid() bool {
	return s == SourceServer || s == SourceBYOK
}

// Conversation 会话实体
//
// Messages are loaded lazily; a metadata-only conversation has a nil slice.
type Conversation struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
	ModelID   string          `json:"modelId,omitempty"`
	Source    Source          `json:"source"`
	Messages  []*Message      `json:"messages,omitempty"`
	Context   json.RawMessage `json:"context,omitempty"`
}

// NewConversation 创建新会话（工厂方法）
func NewConversation(title, modelID string, source Source, now time.Time) (*Conversation, error) {
	if !source.Valid() {
		return nil, ErrInvalidSource
	}
	return &Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		ModelID:   modelID,
		Source:    source,
	}, nil
}

// Identity 用于按 ID 去重
func (c *Conversation) Identity() string {
	return c.ID
}

// Validate 校验会话与其消息
func (c *Conversation) Validate() error {
	if c.ID == "" {
		return ErrInvalidConversationID
	}
	if !c.Source.Valid() {
		return ErrInvalidSource
	}
	if c.UpdatedAt.Before(c.CreatedAt) {
		return ErrInvalidTimestamps
	}
	for _, m := range c.Messages {
		if m == nil {
			return ErrInvalidMessageID
		}
		if err := m.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Append 追加消息并推进 updatedAt
func (c *Conversation) Append(msg *Message) {
	if msg.Source == "" {
		msg.Source = c.Source
	}
	c.Messages = append(c.Messages, msg)
	c.Touch(msg.Timestamp)
}

// Touch moves UpdatedAt forward to t. It never moves it backwards or below CreatedAt.
func (c *Conversation) Touch(t time.Time) {
	if t.After(c.UpdatedAt) {
		c.UpdatedAt = t
	}
	if c.UpdatedAt.Before(c.CreatedAt) {
		c.UpdatedAt = c.CreatedAt
	}
}

// Metadata returns a copy without messages.
func (c *Conversation) Metadata() *Conversation {
	cp := *c
	cp.Messages = nil
	if c.Context != nil {
		cp.Context = append(json.RawMessage(nil), c.Context...)
	}
	return &cp
}

// Clone 深拷贝会话及其消息
func (c *Conversation) Clone() *Conversation {
	cp := c.Metadata()
	if c.Messages != nil {
		cp.Messages = make([]*Message, len(c.Messages))
		for i, m := range c.Messages {
			cp.Messages[i] = m.Clone()
		}
	}
	return cp
}

package entity

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ngoclaw/chatsync/internal/domain/valueobject"
)

// Role 消息角色
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid 判断角色是否合法
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// ImageGenerationParams 图片生成请求参数
type ImageGenerationParams struct {
	Prompt  string `json:"prompt,omitempty"`
	Size    string `json:"size,omitempty"`
	Quality string `json:"quality,omitempty"`
	Style   string `json:"style,omitempty"`
	N       int    `json:"n,omitempty"`
}

// Message is one turn in a conversation. Owned by its conversation.
type Message struct {
	ID                string                     `json:"id"`
	Role              Role                       `json:"role"`
	Content           valueobject.MessageContent `json:"content"`
	Timestamp         time.Time                  `json:"timestamp"`
	Source            Source                     `json:"source,omitempty"`
	Model             string                     `json:"model,omitempty"`
	ModelName         string                     `json:"modelName,omitempty"`
	Reasoning         string                     `json:"reasoning,omitempty"`
	ReasoningComplete bool                       `json:"reasoningComplete,omitempty"`
	Attachments       []Attachment               `json:"attachments,omitempty"`
	ImageParams       *ImageGenerationParams     `json:"imageParams,omitempty"`
	Job               *ImageGenerationJob        `json:"job,omitempty"`
	Error             bool                       `json:"error,omitempty"`
}

// NewMessageID 生成时间有序的消息 ID (UUIDv7)
func NewMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// NewMessage 创建新消息（工厂方法）
func NewMessage(role Role, content valueobject.MessageContent, source Source, timestamp time.Time) (*Message, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMessageRole, role)
	}
	if timestamp.IsZero() {
		return nil, ErrMissingTimestamp
	}
	return &Message{
		ID:        NewMessageID(),
		Role:      role,
		Content:   content,
		Timestamp: timestamp,
		Source:    source,
	}, nil
}

// Identity 用于按 ID 去重
func (m *Message) Identity() string {
	return m.ID
}

// Validate 校验消息结构
func (m *Message) Validate() error {
	if m.ID == "" {
		return ErrInvalidMessageID
	}
	if !m.Role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMessageRole, m.Role)
	}
	if m.Timestamp.IsZero() {
		return fmt.Errorf("message %s: %w", m.ID, ErrMissingTimestamp)
	}
	if m.Source != "" && !m.Source.Valid() {
		return fmt.Errorf("message %s: %w", m.ID, ErrInvalidSource)
	}
	if err := m.Content.Validate(); err != nil {
		return fmt.Errorf("message %s: %w", m.ID, err)
	}
	for i := range m.Attachments {
		if err := m.Attachments[i].Validate(); err != nil {
			return fmt.Errorf("message %s: %w", m.ID, err)
		}
	}
	if m.Job != nil {
		if err := m.Job.Validate(); err != nil {
			return fmt.Errorf("message %s: %w", m.ID, err)
		}
	}
	return nil
}

// Clone returns a copy that shares no slices with m.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	cp := *m
	if m.Attachments != nil {
		cp.Attachments = make([]Attachment, len(m.Attachments))
		copy(cp.Attachments, m.Attachments)
	}
	if m.ImageParams != nil {
		params := *m.ImageParams
		cp.ImageParams = &params
	}
	if m.Job != nil {
		cp.Job = m.Job.Clone()
	}
	return &cp
}

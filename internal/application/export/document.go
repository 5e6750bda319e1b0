package export

import (
	"time"

	"github.com/ngoclaw/chatsync/internal/domain/entity"
)

// Document is the structured export shape shared by JSON and YAML.
type Document struct {
	ExportedAt    time.Time            `json:"exportedAt" yaml:"exportedAt"`
	Conversations []ConversationRecord `json:"conversations" yaml:"conversations"`
}

// ConversationRecord 导出的会话
type ConversationRecord struct {
	ID        string          `json:"id" yaml:"id"`
	Title     string          `json:"title" yaml:"title"`
	Model     string          `json:"model,omitempty" yaml:"model,omitempty"`
	Source    string          `json:"source" yaml:"source"`
	CreatedAt time.Time       `json:"createdAt" yaml:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt" yaml:"updatedAt"`
	Messages  []MessageRecord `json:"messages" yaml:"messages"`
}

// MessageRecord flattens multi-part content into text plus image URLs.
type MessageRecord struct {
	ID          string             `json:"id" yaml:"id"`
	Role        string             `json:"role" yaml:"role"`
	Timestamp   time.Time          `json:"timestamp" yaml:"timestamp"`
	Model       string             `json:"model,omitempty" yaml:"model,omitempty"`
	Content     string             `json:"content" yaml:"content"`
	Images      []string           `json:"images,omitempty" yaml:"images,omitempty"`
	Reasoning   string             `json:"reasoning,omitempty" yaml:"reasoning,omitempty"`
	Attachments []AttachmentRecord `json:"attachments,omitempty" yaml:"attachments,omitempty"`
	Error       bool               `json:"error,omitempty" yaml:"error,omitempty"`
}

// AttachmentRecord 导出的附件引用
type AttachmentRecord struct {
	Filename    string `json:"filename,omitempty" yaml:"filename,omitempty"`
	URL         string `json:"url,omitempty" yaml:"url,omitempty"`
	StoragePath string `json:"storagePath,omitempty" yaml:"storagePath,omitempty"`
	MimeType    string `json:"mimeType,omitempty" yaml:"mimeType,omitempty"`
}

// NewDocument builds the export document.
func NewDocument(convs []*entity.Conversation, now time.Time) Document {
	doc := Document{ExportedAt: now.UTC(), Conversations: make([]ConversationRecord, 0, len(convs))}
	for _, c := range convs {
		doc.Conversations = append(doc.Conversations, conversationRecord(c))
	}
	return doc
}

func conversationRecord(c *entity.Conversation) ConversationRecord {
	rec := ConversationRecord{
		ID:        c.ID,
		Title:     c.Title,
		Model:     c.ModelID,
		Source:    string(c.Source),
		CreatedAt: c.CreatedAt.UTC(),
		UpdatedAt: c.UpdatedAt.UTC(),
		Messages:  make([]MessageRecord, 0, len(c.Messages)),
	}
	for _, m := range c.Messages {
		rec.Messages = append(rec.Messages, messageRecord(m))
	}
	return rec
}

func messageRecord(m *entity.Message) MessageRecord {
	rec := MessageRecord{
		ID:        m.ID,
		Role:      string(m.Role),
		Timestamp: m.Timestamp.UTC(),
		Model:     m.Model,
		Content:   m.Content.Text(),
		Images:    m.Content.ImageURLs(),
		Reasoning: m.Reasoning,
		Error:     m.Error,
	}
	for _, a := range m.Attachments {
		rec.Attachments = append(rec.Attachments, AttachmentRecord{
			Filename:    a.Filename,
			URL:         a.URL,
			StoragePath: a.StoragePath,
			MimeType:    a.MimeType,
		})
	}
	return rec
}

package valueobject

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// PartType 多模态内容片段类型
type PartType string

const (
	PartTypeText     PartType = "text"
	PartTypeImageURL PartType = "image_url"
)

// ImageURL 图片引用（只保存地址，不内联二进制）
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// ContentPart 多模态内容片段
type ContentPart struct {
	Type     PartType  `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// TextPart 创建文本片段
func TextPart(text string) ContentPart {
	return ContentPart{Type: PartTypeText, Text: text}
}

// ImagePart 创建图片引用片段
func ImagePart(url string) ContentPart {
	return ContentPart{Type: PartTypeImageURL, ImageURL: &ImageURL{URL: url}}
}

// MessageContent 消息内容值对象（不可变）
//
// Either a plain string or an ordered list of typed parts. On the wire it
// is encoded as a JSON string or a JSON array respectively.
type MessageContent struct {
	text  string
	parts []ContentPart
}

// NewTextContent 创建纯文本内容
func NewTextContent(text string) MessageContent {
	return MessageContent{text: text}
}

// NewPartsContent 创建多模态内容
func NewPartsContent(parts ...ContentPart) MessageContent {
	cp := make([]ContentPart, len(parts))
	copy(cp, parts)
	return MessageContent{parts: cp}
}

// IsMultipart 是否为多片段内容
func (mc MessageContent) IsMultipart() bool {
	return mc.parts != nil
}

// Parts 返回片段列表（副本）
func (mc MessageContent) Parts() []ContentPart {
	if mc.parts == nil {
		return nil
	}
	cp := make([]ContentPart, len(mc.parts))
	copy(cp, mc.parts)
	return cp
}

// Text 返回文本内容，多片段时拼接所有文本片段
func (mc MessageContent) Text() string {
	if mc.parts == nil {
		return mc.text
	}
	texts := make([]string, 0, len(mc.parts))
	for _, p := range mc.parts {
		if p.Type == PartTypeText && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// ImageURLs 返回所有图片引用地址
func (mc MessageContent) ImageURLs() []string {
	var urls []string
	for _, p := range mc.parts {
		if p.Type == PartTypeImageURL && p.ImageURL != nil {
			urls = append(urls, p.ImageURL.URL)
		}
	}
	return urls
}

// IsEmpty 判断内容是否为空
func (mc MessageContent) IsEmpty() bool {
	if mc.parts == nil {
		return mc.text == ""
	}
	return len(mc.parts) == 0
}

// Validate 校验片段结构
func (mc MessageContent) Validate() error {
	for i, p := range mc.parts {
		switch p.Type {
		case PartTypeText:
		case PartTypeImageURL:
			if p.ImageURL == nil || p.ImageURL.URL == "" {
				return fmt.Errorf("content part %d: image_url without url", i)
			}
		default:
			return fmt.Errorf("content part %d: unknown type %q", i, p.Type)
		}
	}
	return nil
}

// Equals 值对象相等性比较
func (mc MessageContent) Equals(other MessageContent) bool {
	if mc.IsMultipart() != other.IsMultipart() {
		return false
	}
	if !mc.IsMultipart() {
		return mc.text == other.text
	}
	if len(mc.parts) != len(other.parts) {
		return false
	}
	for i := range mc.parts {
		a, b := mc.parts[i], other.parts[i]
		if a.Type != b.Type || a.Text != b.Text {
			return false
		}
		if (a.ImageURL == nil) != (b.ImageURL == nil) {
			return false
		}
		if a.ImageURL != nil && *a.ImageURL != *b.ImageURL {
			return false
		}
	}
	return true
}

// MarshalJSON encodes plain content as a string and multipart content as an array.
func (mc MessageContent) MarshalJSON() ([]byte, error) {
	if mc.parts != nil {
		return json.Marshal(mc.parts)
	}
	return json.Marshal(mc.text)
}

// UnmarshalJSON accepts a string, an array of parts, or null.
func (mc *MessageContent) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*mc = MessageContent{}
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*mc = MessageContent{text: s}
		return nil
	case '[':
		var parts []ContentPart
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		if parts == nil {
			parts = []ContentPart{}
		}
		content := MessageContent{parts: parts}
		if err := content.Validate(); err != nil {
			return err
		}
		*mc = content
		return nil
	default:
		return errors.New("message content must be a string or an array of parts")
	}
}

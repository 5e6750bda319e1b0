package entity

import "fmt"

// AttachmentType 附件类型
type AttachmentType string

const (
	AttachmentTypeImage AttachmentType = "image"
)

// AttachmentPurpose distinguishes an image supplied for editing from a
// vision-input reference.
type AttachmentPurpose string

const (
	PurposeVision  AttachmentPurpose = "vision"
	PurposeEditing AttachmentPurpose = "editing"
)

// Attachment is an immutable reference to an uploaded or generated image.
// Binary data never lives here, only the reference returned by blob storage.
type Attachment struct {
	ID          string            `json:"id"`
	Type        AttachmentType    `json:"type"`
	URL         string            `json:"url"`
	StoragePath string            `json:"storagePath,omitempty"`
	Filename    string            `json:"filename,omitempty"`
	Size        int64             `json:"size,omitempty"`
	MimeType    string            `json:"mimeType,omitempty"`
	Direct      bool              `json:"isDirectUrl,omitempty"`
	Purpose     AttachmentPurpose `json:"purpose,omitempty"`
}

// BlobRef is what blob storage returns for an upload.
type BlobRef struct {
	URL         string `json:"url"`
	StoragePath string `json:"storagePath"`
	Size        int64  `json:"size"`
	MimeType    string `json:"mimeType"`
}

// NewImageAttachment builds an attachment from an uploaded blob.
func NewImageAttachment(id, filename string, ref BlobRef, purpose AttachmentPurpose) Attachment {
	return Attachment{
		ID:          id,
		Type:        AttachmentTypeImage,
		URL:         ref.URL,
		StoragePath: ref.StoragePath,
		Filename:    filename,
		Size:        ref.Size,
		MimeType:    ref.MimeType,
		Purpose:     purpose,
	}
}

// NeedsSigning reports whether URL must be re-resolved from StoragePath
// before use (signed URLs expire).
func (a Attachment) NeedsSigning() bool {
	return !a.Direct && a.StoragePath != ""
}

// IsForEditing 是否作为编辑输入
func (a Attachment) IsForEditing() bool {
	return a.Purpose == PurposeEditing
}

// Validate 校验附件
func (a Attachment) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidAttachment)
	}
	if a.Type != AttachmentTypeImage {
		return fmt.Errorf("%w: unsupported type %q", ErrInvalidAttachment, a.Type)
	}
	if a.URL == "" && a.StoragePath == "" {
		return fmt.Errorf("%w: %s has neither url nor storage path", ErrInvalidAttachment, a.ID)
	}
	switch a.Purpose {
	case "", PurposeVision, PurposeEditing:
	default:
		return fmt.Errorf("%w: unknown purpose %q", ErrInvalidAttachment, a.Purpose)
	}
	return nil
}

package entity

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ngoclaw/chatsync/internal/domain/valueobject"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// === Conversation ===

func TestConversation_AppendBumpsUpdatedAt(t *testing.T) {
	conv, err := NewConversation("hi", "gpt-x", SourceServer, t0)
	if err != nil {
		t.Fatal(err)
	}

	msg, _ := NewMessage(RoleUser, valueobject.NewTextContent("hello"), "", t0.Add(time.Minute))
	conv.Append(msg)

	if !conv.UpdatedAt.Equal(t0.Add(time.Minute)) {
		t.Errorf("UpdatedAt: got %v", conv.UpdatedAt)
	}
	if msg.Source != SourceServer {
		t.Errorf("message should inherit source, got %q", msg.Source)
	}

	// An older message never moves UpdatedAt backwards.
	old, _ := NewMessage(RoleAssistant, valueobject.NewTextContent("late"), SourceServer, t0.Add(-time.Hour))
	conv.Append(old)
	if !conv.UpdatedAt.Equal(t0.Add(time.Minute)) {
		t.Errorf("UpdatedAt moved backwards: %v", conv.UpdatedAt)
	}
	if err := conv.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestConversation_Validate(t *testing.T) {
	tests := []struct {
		name string
		conv Conversation
		want error
	}{
		{"missing id", Conversation{Source: SourceServer}, ErrInvalidConversationID},
		{"bad source", Conversation{ID: "c", Source: "x"}, ErrInvalidSource},
		{"updated before created", Conversation{ID: "c", Source: SourceBYOK, CreatedAt: t0, UpdatedAt: t0.Add(-time.Second)}, ErrInvalidTimestamps},
		{"bad message", Conversation{ID: "c", Source: SourceBYOK, CreatedAt: t0, UpdatedAt: t0, Messages: []*Message{{ID: "m", Role: "bot", Timestamp: t0}}}, ErrInvalidMessageRole},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.conv.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestConversation_CloneIsDeep(t *testing.T) {
	conv := &Conversation{ID: "c", Source: SourceServer, CreatedAt: t0, UpdatedAt: t0}
	conv.Messages = []*Message{{ID: "m1", Role: RoleUser, Timestamp: t0, Attachments: []Attachment{{ID: "a", Type: AttachmentTypeImage, URL: "u"}}}}

	cp := conv.Clone()
	cp.Messages[0].Attachments[0].URL = "changed"
	cp.Messages = append(cp.Messages, &Message{ID: "m2"})

	if conv.Messages[0].Attachments[0].URL != "u" || len(conv.Messages) != 1 {
		t.Error("clone shares state with the original")
	}
	if conv.Metadata().Messages != nil {
		t.Error("metadata copy must drop messages")
	}
}

// === Message ===

func TestNewMessage_TimeOrderedIDs(t *testing.T) {
	a, _ := NewMessage(RoleUser, valueobject.NewTextContent("a"), SourceServer, t0)
	b, _ := NewMessage(RoleUser, valueobject.NewTextContent("b"), SourceServer, t0)
	if a.ID == b.ID {
		t.Fatal("ids must be unique")
	}
	if a.ID > b.ID {
		t.Errorf("v7 ids should increase: %s then %s", a.ID, b.ID)
	}

	if _, err := NewMessage("robot", valueobject.NewTextContent("x"), SourceServer, t0); !errors.Is(err, ErrInvalidMessageRole) {
		t.Errorf("expected role error, got %v", err)
	}
}

func TestMessage_JSONRoundTrip(t *testing.T) {
	msg := &Message{
		ID:        "m1",
		Role:      RoleAssistant,
		Content:   valueobject.NewPartsContent(valueobject.TextPart("here"), valueobject.ImagePart("https://x/y.png")),
		Timestamp: t0,
		Source:    SourceBYOK,
		Job:       &ImageGenerationJob{ID: "j1", Status: JobRunning, Model: "img-1"},
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}

	var back Message
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if !back.Content.Equals(msg.Content) || back.Job.Status != JobRunning || !back.Timestamp.Equal(t0) {
		t.Errorf("round trip lost data: %s", data)
	}
	if err := back.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

// === ImageGenerationJob ===

func TestImageJob_ForwardOnly(t *testing.T) {
	job := &ImageGenerationJob{ID: "j", Status: JobCreated}

	for _, s := range []JobStatus{JobWaiting, JobWaiting, JobRunning} {
		if err := job.Advance(s); err != nil {
			t.Fatalf("advance to %s: %v", s, err)
		}
	}
	if err := job.Advance(JobWaiting); !errors.Is(err, ErrJobStatusRegression) {
		t.Errorf("expected regression error, got %v", err)
	}
	if err := job.Complete([]string{"https://img/1"}); err != nil {
		t.Fatal(err)
	}
	if err := job.Advance(JobFailed); !errors.Is(err, ErrJobTerminal) {
		t.Errorf("terminal job moved: %v", err)
	}
	if err := job.Advance("DONE"); !errors.Is(err, ErrInvalidJobStatus) {
		t.Errorf("expected invalid status, got %v", err)
	}
}

func TestImageJob_Fail(t *testing.T) {
	job := &ImageGenerationJob{ID: "j", Status: JobWaiting}
	if err := job.Fail("quota", "daily limit"); err != nil {
		t.Fatal(err)
	}
	if job.Status != JobFailed || job.Info.ErrorCode != "quota" {
		t.Errorf("unexpected job state: %+v", job)
	}
}

// === Attachment ===

func TestAttachment_NeedsSigning(t *testing.T) {
	ref := BlobRef{URL: "https://signed", StoragePath: "u1/a.png", Size: 10, MimeType: "image/png"}
	att := NewImageAttachment("a1", "a.png", ref, PurposeVision)
	if !att.NeedsSigning() {
		t.Error("stored attachment without direct url needs signing")
	}
	att.Direct = true
	if att.NeedsSigning() {
		t.Error("direct url needs no signing")
	}
	if err := (Attachment{ID: "x", Type: "video", URL: "u"}).Validate(); !errors.Is(err, ErrInvalidAttachment) {
		t.Errorf("expected invalid attachment, got %v", err)
	}
}

// === Model / snapshot ===

func TestModel_Capabilities(t *testing.T) {
	m := Model{ID: "m", SupportedParameters: []string{"include_reasoning", "tool_choice", "vision"}}
	if !m.SupportsReasoning() || !m.SupportsTools() || !m.SupportsVision() {
		t.Errorf("capabilities not detected: %v", m.Capabilities())
	}
	if m.SupportsImageGeneration() || m.SupportsImageEditing() {
		t.Error("unexpected image capabilities")
	}
}

func TestSnapshot_Buckets(t *testing.T) {
	s := NewConfigSnapshot()
	s.SetBucket(BucketSystem, []Model{{ID: "sys"}})
	s.SetBucket("openai", []Model{{ID: "gpt"}})
	s.SetBucket(CustomBucket("openai"), []Model{{ID: "ft"}})

	names := s.BucketNames()
	want := []string{"custom_openai", "openai", "system"}
	if len(names) != len(want) {
		t.Fatalf("BucketNames: %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("BucketNames[%d]: got %s want %s", i, names[i], want[i])
		}
	}
	if s.CustomModels["openai"][0].ID != "ft" || s.ModelCount() != 3 {
		t.Errorf("unexpected snapshot: %+v", s)
	}
	if s.IsEmpty() || !NewConfigSnapshot().IsEmpty() {
		t.Error("IsEmpty mismatch")
	}
}

func TestProvider_MaskedKey(t *testing.T) {
	p := Provider{ID: "p", APIKey: "sk-1234567890"}
	if got := p.MaskedKey(); got != "********7890" {
		t.Errorf("MaskedKey: %q", got)
	}
}

package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ngoclaw/chatsync/internal/domain/entity"
)

// MarkdownExporter exports conversations as a readable transcript
type MarkdownExporter struct{}

// Export writes one section per conversation
func (e *MarkdownExporter) Export(convs []*entity.Conversation, w io.Writer) error {
	for i, c := range convs {
		if i > 0 {
			if _, err := fmt.Fprint(w, "\n---\n\n"); err != nil {
				return err
			}
		}
		if err := writeConversation(w, c); err != nil {
			return err
		}
	}
	return nil
}

func writeConversation(w io.Writer, c *entity.Conversation) error {
	title := c.Title
	if strings.TrimSpace(title) == "" {
		title = "Conversation " + c.ID
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	if c.ModelID != "" {
		fmt.Fprintf(&b, "**Model:** %s  \n", c.ModelID)
	}
	fmt.Fprintf(&b, "**Source:** %s  \n", c.Source)
	fmt.Fprintf(&b, "**Created:** %s  \n", c.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "**Messages:** %d\n\n", len(c.Messages))

	for _, m := range c.Messages {
		fmt.Fprintf(&b, "## %s (%s)\n\n", roleHeading(m.Role), m.Timestamp.UTC().Format(time.RFC3339))
		if m.Reasoning != "" {
			for _, line := range strings.Split(m.Reasoning, "\n") {
				fmt.Fprintf(&b, "> %s\n", line)
			}
			b.WriteString("\n")
		}
		if text := m.Content.Text(); text != "" {
			b.WriteString(text)
			b.WriteString("\n\n")
		}
		for _, url := range m.Content.ImageURLs() {
			fmt.Fprintf(&b, "![image](%s)\n\n", url)
		}
		for _, a := range m.Attachments {
			name := a.Filename
			if name == "" {
				name = a.ID
			}
			fmt.Fprintf(&b, "- attachment: %s (%s)\n", name, a.MimeType)
		}
		if len(m.Attachments) > 0 {
			b.WriteString("\n")
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func roleHeading(r entity.Role) string {
	switch r {
	case entity.RoleUser:
		return "User"
	case entity.RoleAssistant:
		return "Assistant"
	case entity.RoleSystem:
		return "System"
	}
	return string(r)
}

// Extension returns the file extension for this format
func (e *MarkdownExporter) Extension() string {
	return "md"
}

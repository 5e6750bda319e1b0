// Package export writes conversations out as JSON, YAML or Markdown.
package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ngoclaw/chatsync/internal/domain/entity"
)

// Exporter writes a set of conversations in one format.
type Exporter interface {
	Export(convs []*entity.Conversation, w io.Writer) error
	Extension() string
}

// Formats lists the accepted format names.
var Formats = []string{"json", "yaml", "md"}

// NewExporter returns the exporter for format.
func NewExporter(format string) (Exporter, error) {
	switch strings.ToLower(format) {
	case "json":
		return &JSONExporter{now: time.Now}, nil
	case "yaml", "yml":
		return &YAMLExporter{now: time.Now}, nil
	case "md", "markdown":
		return &MarkdownExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s (supported: %s)", format, strings.Join(Formats, ", "))
	}
}

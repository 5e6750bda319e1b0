package export

import (
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ngoclaw/chatsync/internal/domain/entity"
)

// YAMLExporter exports conversations in YAML format
type YAMLExporter struct {
	now func() time.Time
}

// Export writes a Document
func (e *YAMLExporter) Export(convs []*entity.Conversation, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer func() { _ = enc.Close() }()

	return enc.Encode(NewDocument(convs, clock(e.now)))
}

// Extension returns the file extension for this format
func (e *YAMLExporter) Extension() string {
	return "yaml"
}

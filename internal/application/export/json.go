package export

import (
	"encoding/json"
	"io"
	"time"

	"github.com/ngoclaw/chatsync/internal/domain/entity"
)

// JSONExporter exports conversations as pretty-printed JSON
type JSONExporter struct {
	now func() time.Time
}

// Export writes a Document
func (e *JSONExporter) Export(convs []*entity.Conversation, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(NewDocument(convs, clock(e.now)))
}

// Extension returns the file extension for this format
func (e *JSONExporter) Extension() string {
	return "json"
}

func clock(now func() time.Time) time.Time {
	if now == nil {
		return time.Now()
	}
	return now()
}

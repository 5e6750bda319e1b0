package docstore

import (
	"fmt"
	"strings"

	apperrors "github.com/ngoclaw/chatsync/pkg/errors"
)

// Segments splits a path into its segments.
func Segments(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// Join 拼接路径
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

func checkSegments(segs []string) error {
	for _, s := range segs {
		if s == "" || s == "." || s == ".." {
			return fmt.Errorf("empty or relative segment")
		}
	}
	return nil
}

// ValidateDocPath checks that path names a document.
func ValidateDocPath(path string) error {
	segs := Segments(path)
	if len(segs) < 2 || len(segs)%2 != 0 || checkSegments(segs) != nil || strings.Trim(path, "/") != path {
		return apperrors.NewInvalidInputError("invalid document path: " + path)
	}
	return nil
}

// ValidateCollectionPath checks that path names a collection.
func ValidateCollectionPath(path string) error {
	segs := Segments(path)
	if len(segs) < 1 || len(segs)%2 != 1 || checkSegments(segs) != nil || strings.Trim(path, "/") != path {
		return apperrors.NewInvalidInputError("invalid collection path: " + path)
	}
	return nil
}

// DocID returns the document id, the last segment.
func DocID(docPath string) string {
	if i := strings.LastIndexByte(docPath, '/'); i >= 0 {
		return docPath[i+1:]
	}
	return docPath
}

// CollectionOf returns the collection holding a document.
func CollectionOf(docPath string) string {
	if i := strings.LastIndexByte(docPath, '/'); i >= 0 {
		return docPath[:i]
	}
	return ""
}

// GroupOf returns the collection id of a document: for
// users/u/conversations/c/messages/m it is "messages".
func GroupOf(docPath string) string {
	return DocID(CollectionOf(docPath))
}

// ParentDoc returns the document a collection is nested under, "" for a
// top-level collection.
func ParentDoc(collectionPath string) string {
	return CollectionOf(collectionPath)
}

// HasPathPrefix reports whether path equals prefix or lies below it.
func HasPathPrefix(path, prefix string) bool {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

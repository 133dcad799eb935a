package contentstore

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Store is the key-addressed content store backing question directories.
// Paths are forward-slash relative to the store's base; both backends
// guarantee byte-exact binary round-trips. Read of a missing object returns
// (nil, nil). DeleteTree of an absent path is a no-op.
type Store interface {
	CreatePath(ctx context.Context, identifier string) (string, error)
	Save(ctx context.Context, path, filename string, content any) error
	Read(ctx context.Context, path, filename string) ([]byte, error)
	Exists(ctx context.Context, path, filename string) (bool, error)
	List(ctx context.Context, path string) ([]string, error)
	Delete(ctx context.Context, path, filename string) error
	DeleteTree(ctx context.Context, path string) error
	// ListDirs enumerates the directories directly under the base.
	ListDirs(ctx context.Context) ([]string, error)
	BasePath() string
	Backend() string
}

const (
	BackendLocal = "local"
	BackendCloud = "cloud"
)

// StorageError carries the backend's diagnostic for a failed operation.
type StorageError struct {
	Backend string
	Op      string
	Path    string
	Cause   error
}

func (e *StorageError) Error() string {
	if e == nil {
		return "content store operation failed"
	}
	return fmt.Sprintf("content store %s failed (backend=%s path=%q): %v", e.Op, e.Backend, e.Path, e.Cause)
}

func (e *StorageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

var (
	safeSegmentRe = regexp.MustCompile(`^[A-Za-z0-9._-]{1,100}$`)

	allowedExtensions = map[string]bool{
		".html": true,
		".js":   true,
		".py":   true,
		".json": true,
		".png":  true,
		".jpg":  true,
		".jpeg": true,
		".pdf":  true,
		".csv":  true,
		".txt":  true,
	}
)

// SafeName coerces an arbitrary identifier into the store's safe alphabet.
// The mapping is deterministic; distinct inputs may collide, so callers that
// need uniqueness append an id fragment.
func SafeName(identifier string) string {
	s := strings.TrimSpace(identifier)
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('_')
		}
	}
	out := b.String()
	out = strings.Trim(out, ".")
	if out == "" {
		out = "untitled"
	}
	if len(out) > 100 {
		out = out[:100]
	}
	return out
}

func validateSegment(seg string) error {
	if seg == "." || seg == ".." {
		return fmt.Errorf("path traversal rejected: %q", seg)
	}
	if !safeSegmentRe.MatchString(seg) {
		return fmt.Errorf("unsafe path segment: %q", seg)
	}
	return nil
}

// validatePath checks a forward-slash relative directory path.
func validatePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("empty path")
	}
	if strings.HasPrefix(path, "/") || strings.Contains(path, "\\") {
		return fmt.Errorf("path must be relative with forward slashes: %q", path)
	}
	for _, seg := range strings.Split(path, "/") {
		if err := validateSegment(seg); err != nil {
			return err
		}
	}
	return nil
}

func validateFilename(name string) error {
	if err := validateSegment(name); err != nil {
		return err
	}
	dot := strings.LastIndex(name, ".")
	if dot <= 0 {
		return fmt.Errorf("filename requires an extension: %q", name)
	}
	ext := strings.ToLower(name[dot:])
	if !allowedExtensions[ext] {
		return fmt.Errorf("extension not allowed: %q", ext)
	}
	return nil
}

// coerceContent normalizes text, bytes, and JSON-serializable values to
// bytes. JSON uses the canonical compact encoding.
func coerceContent(content any) ([]byte, error) {
	switch v := content.(type) {
	case nil:
		return nil, fmt.Errorf("nil content")
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case json.RawMessage:
		return v, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("content is not JSON-serializable: %w", err)
		}
		return b, nil
	}
}

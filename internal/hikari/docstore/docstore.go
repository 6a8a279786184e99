// Package docstore provides the path-addressable JSON document store that
// backs Hikari's memory tiers, the governor budget, and the Matrix sync
// tokens.
//
// A path is a slash-separated string such as "memory/@alice:example.com/longTerm".
// Documents are JSON objects. Reading a path that was never written is not an
// error: Get reports found == false and leaves dst untouched.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidPath is returned when a path is empty or malformed.
var ErrInvalidPath = errors.New("docstore: invalid path")

// Store is the document store contract. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get decodes the document at path into dst. found is false when the
	// path holds no document.
	Get(ctx context.Context, path string, dst any) (found bool, err error)

	// Set replaces the document at path with the JSON encoding of v.
	Set(ctx context.Context, path string, v any) error

	// Update merges fields into the top level of the document at path,
	// creating the document when it does not exist. Keys not named in
	// fields are preserved.
	Update(ctx context.Context, path string, fields map[string]any) error

	// Remove deletes the document at path. Removing a missing path is a no-op.
	Remove(ctx context.Context, path string) error

	// List returns the paths of all documents under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Close releases the backend's resources.
	Close() error
}

// Join builds a path from segments, escaping any "/" inside a segment so
// that identifiers cannot introduce extra path levels.
func Join(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return strings.Join(escaped, "/")
}

func validatePath(path string) error {
	if path == "" || strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") || strings.Contains(path, "//") {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return nil
}

// mergeFields applies fields over the top-level keys of the JSON object in
// existing. An empty existing document is treated as {}.
func mergeFields(existing []byte, fields map[string]any) ([]byte, error) {
	doc := map[string]json.RawMessage{}
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &doc); err != nil {
			return nil, fmt.Errorf("docstore: decode existing document: %w", err)
		}
	}
	for k, v := range fields {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("docstore: encode field %q: %w", k, err)
		}
		doc[k] = raw
	}
	return json.Marshal(doc)
}

func encode(path string, v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("docstore: encode %q: %w", path, err)
	}
	return b, nil
}

func decode(path string, b []byte, dst any) error {
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("docstore: decode %q: %w", path, err)
	}
	return nil
}

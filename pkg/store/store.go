// Package store implements the hosted realtime database primitives the
// application is built on: read a path, write a path, create a path only if
// absent, patch fields, and list the children of a path.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidPath = errors.New("invalid store path")

// DB is a hierarchical JSON document store addressed by slash paths such as
// "projects/p1/comments/c1". Listing a path returns its direct children only.
type DB interface {
	// Get decodes the document at path into out. It reports false when absent.
	Get(ctx context.Context, path string, out any) (bool, error)
	// Set overwrites the document at path.
	Set(ctx context.Context, path string, value any) error
	// Create writes value only when path is absent and reports whether it wrote.
	Create(ctx context.Context, path string, value any) (bool, error)
	// Update merges fields into the existing object at path. It reports false
	// when the document does not exist, in which case nothing is written.
	Update(ctx context.Context, path string, fields map[string]any) (bool, error)
	// Transform applies fn to the existing object at path and writes the
	// result atomically, retrying when the document changes underneath. fn
	// may run more than once. It reports false when the document does not
	// exist; an error from fn aborts without writing.
	Transform(ctx context.Context, path string, fn func(doc map[string]any) error) (bool, error)
	Delete(ctx context.Context, path string) error
	// Keys lists the direct child keys of path ordered by key, including
	// intermediate levels that hold no document of their own.
	Keys(ctx context.Context, path string) ([]string, error)
	// Children lists direct child documents of path ordered by key.
	Children(ctx context.Context, path string) ([]Child, error)
	// Push stores value under a new time-ordered key below parent.
	Push(ctx context.Context, parent string, value any) (string, error)
}

// Child is one listed document.
type Child struct {
	Key   string
	Value json.RawMessage
}

// Join builds a store path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// CleanPath trims surrounding slashes and rejects empty or dot segments.
func CleanPath(path string) (string, error) {
	path = strings.Trim(strings.TrimSpace(path), "/")
	if path == "" {
		return "", ErrInvalidPath
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "" || seg == "." || seg == ".." || strings.ContainsAny(seg, " \t\r\n") {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return path, nil
}

func splitParent(path string) (parent, key string) {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "", path
	}
	return path[:idx], path[idx+1:]
}

// GetAs is Get with a typed result.
func GetAs[T any](ctx context.Context, db DB, path string) (T, bool, error) {
	var out T
	ok, err := db.Get(ctx, path, &out)
	return out, ok, err
}

// ListAs decodes every child of path as T. Children that fail to decode are
// reported as an error naming their key.
func ListAs[T any](ctx context.Context, db DB, path string) ([]T, error) {
	children, err := db.Children(ctx, path)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(children))
	for _, child := range children {
		var v T
		if err := json.Unmarshal(child.Value, &v); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", path, child.Key, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Package resource reads project resources such as persona overlays and
// serves them through the resource cache.
package resource

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ErrNotFound is returned when a resource does not exist.
var ErrNotFound = errors.New("resource not found")

// Resource kinds known to the assembler.
const (
	KindPersona = "persona"
	KindProject = "project"
)

// Storage reads raw resources.
type Storage interface {
	ReadResource(ctx context.Context, kind, name string) ([]byte, error)
}

// FileStorage reads resources from <Root>/<kind>/<name>.md.
type FileStorage struct {
	Root string
}

// NewFileStorage creates a FileStorage rooted at root.
func NewFileStorage(root string) *FileStorage {
	return &FileStorage{Root: root}
}

// ReadResource returns the resource content or ErrNotFound.
func (s *FileStorage) ReadResource(ctx context.Context, kind, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.path(kind, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrNotFound, "%s/%s", kind, name)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read resource %s/%s", kind, name)
	}
	return data, nil
}

func (s *FileStorage) path(kind, name string) (string, error) {
	for _, part := range []string{kind, name} {
		if part == "" || part == "." || part == ".." || strings.ContainsAny(part, `/\`) {
			return "", errors.Errorf("invalid resource path segment %q", part)
		}
	}
	if !strings.HasSuffix(name, ".md") {
		name += ".md"
	}
	return filepath.Join(s.Root, kind, name), nil
}

var _ Storage = (*FileStorage)(nil)

package infrastructure

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ScreenshotStorage persists screenshot blobs on the local filesystem.
// Filenames are expected to be pre-sanitized by the caller; a final
// basename check guards against traversal anyway.
type ScreenshotStorage struct {
	root string
}

func NewScreenshotStorage(root string) (*ScreenshotStorage, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create screenshot directory: %w", err)
	}
	return &ScreenshotStorage{root: root}, nil
}

// Save writes the blob and returns its path relative to the storage
// root.
func (s *ScreenshotStorage) Save(filename string, data []byte) (string, error) {
	name := filepath.Base(filename)
	if name == "." || name == string(filepath.Separator) || strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid screenshot filename %q", filename)
	}

	path := filepath.Join(s.root, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write screenshot: %w", err)
	}
	return filepath.Join("screenshots", name), nil
}

// Remove deletes a stored blob. A missing file is not an error.
func (s *ScreenshotStorage) Remove(filename string) error {
	name := filepath.Base(filename)
	err := os.Remove(filepath.Join(s.root, name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

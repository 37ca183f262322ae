package blob

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FSStore keeps blobs on the local filesystem under a base directory.
// Object paths use forward slashes regardless of platform.
type FSStore struct {
	base string
}

func NewFSStore(base string) (*FSStore, error) {
	const op = "blob.NewFSStore"

	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &FSStore{base: base}, nil
}

func (s *FSStore) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(s.local(path))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *FSStore) Read(_ context.Context, path string) ([]byte, error) {
	const op = "blob.FSStore.Read"

	data, err := os.ReadFile(s.local(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return data, nil
}

// Write stores data at path. If the path is taken by identical bytes the
// write is a no-op; if it is taken by different bytes the name is suffixed
// until free, and the effective path is returned.
func (s *FSStore) Write(_ context.Context, path string, data []byte, _ string) (string, error) {
	const op = "blob.FSStore.Write"

	effective := path
	for i := 1; ; i++ {
		local := s.local(effective)
		existing, err := os.ReadFile(local)
		if os.IsNotExist(err) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		if bytes.Equal(existing, data) {
			return effective, nil
		}
		effective = suffixed(path, i)
	}

	local := s.local(effective)
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if err := os.WriteFile(local, data, 0o644); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return effective, nil
}

func (s *FSStore) Delete(_ context.Context, path string) (bool, error) {
	const op = "blob.FSStore.Delete"

	err := os.Remove(s.local(path))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("%s: %w", op, err)
}

func (s *FSStore) local(path string) string {
	return filepath.Join(s.base, filepath.FromSlash(path))
}

func suffixed(path string, i int) string {
	ext := ""
	stem := path
	if idx := strings.LastIndex(path, "."); idx > strings.LastIndex(path, "/") {
		stem, ext = path[:idx], path[idx:]
	}
	return fmt.Sprintf("%s_%d%s", stem, i, ext)
}

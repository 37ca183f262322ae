// Package blob abstracts durable byte storage keyed by path.
package blob

import "context"

// Store is the byte-storage collaborator the pipeline writes normalized
// images to. Implementations must tolerate concurrent readers and writers.
type Store interface {
	// Exists reports whether path holds bytes.
	Exists(ctx context.Context, path string) (bool, error)

	// Read returns the bytes stored at path.
	Read(ctx context.Context, path string) ([]byte, error)

	// Write stores data at path and returns the effective path actually
	// written, which may differ from the requested one when the store
	// renames on conflict. Callers must persist the effective path.
	Write(ctx context.Context, path string, data []byte, contentType string) (string, error)

	// Delete removes the bytes at path, reporting whether anything was
	// removed.
	Delete(ctx context.Context, path string) (bool, error)
}

package blob

import (
	"context"
	"testing"
)

func TestFSStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}

	const path = "images/products/abc123.png"

	exists, err := store.Exists(ctx, path)
	if err != nil || exists {
		t.Fatalf("Exists before write = (%v, %v), want (false, nil)", exists, err)
	}

	effective, err := store.Write(ctx, path, []byte("payload"), "image/png")
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if effective != path {
		t.Fatalf("Write effective path = %q, want %q", effective, path)
	}

	exists, err = store.Exists(ctx, path)
	if err != nil || !exists {
		t.Fatalf("Exists after write = (%v, %v), want (true, nil)", exists, err)
	}

	data, err := store.Read(ctx, path)
	if err != nil || string(data) != "payload" {
		t.Fatalf("Read = (%q, %v)", data, err)
	}

	removed, err := store.Delete(ctx, path)
	if err != nil || !removed {
		t.Fatalf("Delete = (%v, %v), want (true, nil)", removed, err)
	}
	removed, err = store.Delete(ctx, path)
	if err != nil || removed {
		t.Fatalf("second Delete = (%v, %v), want (false, nil)", removed, err)
	}
}

func TestFSStoreWriteConflicts(t *testing.T) {
	ctx := context.Background()
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}

	const path = "images/logo/fp.jpg"

	// Identical content at the same path is a no-op, same effective path.
	if _, err := store.Write(ctx, path, []byte("same"), ""); err != nil {
		t.Fatalf("first Write: %v", err)
	}
	effective, err := store.Write(ctx, path, []byte("same"), "")
	if err != nil || effective != path {
		t.Fatalf("idempotent Write = (%q, %v), want (%q, nil)", effective, err, path)
	}

	// Different content at a taken path gets renamed, not overwritten.
	effective, err = store.Write(ctx, path, []byte("different"), "")
	if err != nil {
		t.Fatalf("conflicting Write: %v", err)
	}
	if effective != "images/logo/fp_1.jpg" {
		t.Fatalf("conflicting Write effective path = %q", effective)
	}

	original, err := store.Read(ctx, path)
	if err != nil || string(original) != "same" {
		t.Fatalf("original blob corrupted: (%q, %v)", original, err)
	}
	renamed, err := store.Read(ctx, effective)
	if err != nil || string(renamed) != "different" {
		t.Fatalf("renamed blob = (%q, %v)", renamed, err)
	}
}

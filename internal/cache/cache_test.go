package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestCache(backend Backend) *Cache {
	return New(backend, "test", time.Minute, zerolog.Nop())
}

func TestKeyDeterminism(t *testing.T) {
	c := newTestCache(NewMemoryBackend())

	a := c.Key(map[string]any{"width": 400, "height": nil, "format": "jpeg", "quality": 85}, "fp")
	b := c.Key(map[string]any{"quality": 85, "format": "jpeg", "height": nil, "width": 400}, "fp")
	if a != b {
		t.Errorf("same params in different order produced different keys: %s vs %s", a, b)
	}

	other := c.Key(map[string]any{"width": 401, "height": nil, "format": "jpeg", "quality": 85}, "fp")
	if a == other {
		t.Error("different params produced identical keys")
	}

	if len(a) != len("fp")+1+truncatedKeyLen {
		t.Errorf("key %q has unexpected length %d", a, len(a))
	}
}

func TestGetSetRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(NewMemoryBackend())

	if _, ok := c.Get(ctx, "absent"); ok {
		t.Fatal("Get on empty cache reported a hit")
	}

	c.Set(ctx, "k", []byte("payload"))
	got, ok := c.Get(ctx, "k")
	if !ok || string(got) != "payload" {
		t.Fatalf("Get after Set = (%q, %v), want payload hit", got, ok)
	}

	c.Delete(ctx, "k")
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("Get after Delete reported a hit")
	}
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(NewMemoryBackend())

	c.SetTTL(ctx, "short", []byte("v"), time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get(ctx, "short"); ok {
		t.Fatal("expired entry still readable")
	}
}

func TestNamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	images := New(backend, "images", time.Minute, zerolog.Nop())
	lists := New(backend, "lists", time.Minute, zerolog.Nop())

	images.Set(ctx, "k", []byte("a"))
	lists.Set(ctx, "k", []byte("b"))

	got, _ := images.Get(ctx, "k")
	if string(got) != "a" {
		t.Fatalf("images namespace returned %q", got)
	}

	images.DeletePattern(ctx, "*")
	if _, ok := images.Get(ctx, "k"); ok {
		t.Fatal("pattern delete left key in its own namespace")
	}
	if _, ok := lists.Get(ctx, "k"); !ok {
		t.Fatal("pattern delete crossed namespaces")
	}
}

func TestDeletePatternPrefixSweep(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(NewMemoryBackend())

	c.Set(ctx, "user1_aaa", []byte("1"))
	c.Set(ctx, "user1_bbb", []byte("2"))
	c.Set(ctx, "user2_ccc", []byte("3"))

	c.DeletePattern(ctx, "user1_*")

	if _, ok := c.Get(ctx, "user1_aaa"); ok {
		t.Error("user1_aaa survived pattern delete")
	}
	if _, ok := c.Get(ctx, "user1_bbb"); ok {
		t.Error("user1_bbb survived pattern delete")
	}
	if _, ok := c.Get(ctx, "user2_ccc"); !ok {
		t.Error("user2_ccc was swept by an unrelated pattern")
	}
}

// failingBackend simulates an unreachable cache service.
type failingBackend struct{}

var errBackendDown = errors.New("backend down")

func (failingBackend) Get(context.Context, string) ([]byte, error) { return nil, errBackendDown }
func (failingBackend) Set(context.Context, string, []byte, time.Duration) error {
	return errBackendDown
}
func (failingBackend) Del(context.Context, string) error        { return errBackendDown }
func (failingBackend) DelPattern(context.Context, string) error { return errBackendDown }
func (failingBackend) Clear(context.Context) error              { return errBackendDown }

func TestBackendFailuresDegradeToMiss(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(failingBackend{})

	// None of these may panic or surface an error to the caller.
	c.Set(ctx, "k", []byte("v"))
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("failing backend reported a hit")
	}
	c.Delete(ctx, "k")
	c.DeletePattern(ctx, "*")
}

// noPatternBackend supports plain operations but not pattern matching.
type noPatternBackend struct {
	*MemoryBackend
	cleared bool
}

func (b *noPatternBackend) DelPattern(context.Context, string) error { return ErrPatternUnsupported }
func (b *noPatternBackend) Clear(ctx context.Context) error {
	b.cleared = true
	return b.MemoryBackend.Clear(ctx)
}

func TestDeletePatternFallsBackToClear(t *testing.T) {
	ctx := context.Background()
	backend := &noPatternBackend{MemoryBackend: NewMemoryBackend()}
	c := newTestCache(backend)

	c.Set(ctx, "k", []byte("v"))
	c.DeletePattern(ctx, "user1_*")

	if !backend.cleared {
		t.Fatal("pattern-unsupported backend was not cleared")
	}
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("entry survived the coarse clear fallback")
	}
}

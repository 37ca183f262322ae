package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Muizzyranking/shopifyte-api/internal/blob"
	"github.com/Muizzyranking/shopifyte-api/internal/cache"
	"github.com/Muizzyranking/shopifyte-api/internal/events"
	"github.com/Muizzyranking/shopifyte-api/internal/models"
)

// memRepo is an in-memory Repository enforcing fingerprint uniqueness the
// way the Postgres unique index does.
type memRepo struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*models.ImageRecord
	byFP map[string]uuid.UUID
}

func newMemRepo() *memRepo {
	return &memRepo{
		byID: make(map[uuid.UUID]*models.ImageRecord),
		byFP: make(map[string]uuid.UUID),
	}
}

func (r *memRepo) InsertOrGet(_ context.Context, rec *models.ImageRecord) (*models.ImageRecord, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byFP[rec.ContentFingerprint]; ok {
		return copyRecord(r.byID[id]), false, nil
	}
	stored := copyRecord(rec)
	stored.CreatedAt = time.Now()
	stored.UpdatedAt = stored.CreatedAt
	r.byID[stored.ID] = stored
	r.byFP[stored.ContentFingerprint] = stored.ID
	return copyRecord(stored), true, nil
}

func (r *memRepo) FindByFingerprint(_ context.Context, fp string) (*models.ImageRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byFP[fp]; ok {
		return copyRecord(r.byID[id]), nil
	}
	return nil, nil
}

func (r *memRepo) FindByID(_ context.Context, id uuid.UUID) (*models.ImageRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.byID[id]; ok {
		return copyRecord(rec), nil
	}
	return nil, fmt.Errorf("memRepo: %s: %w", id, models.ErrNotFound)
}

func (r *memRepo) ListByOwner(_ context.Context, ownerID uuid.UUID) ([]models.ImageRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ImageRecord
	for _, rec := range r.byID {
		if rec.UploadedBy == ownerID {
			out = append(out, *copyRecord(rec))
		}
	}
	return out, nil
}

func (r *memRepo) UpdateMetadata(_ context.Context, id uuid.UUID, upd models.MetadataUpdate) (*models.ImageRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("memRepo: %s: %w", id, models.ErrNotFound)
	}
	if upd.AltText != nil {
		rec.AltText = *upd.AltText
	}
	if upd.Title != nil {
		rec.Title = *upd.Title
	}
	if upd.Description != nil {
		rec.Description = *upd.Description
	}
	rec.UpdatedAt = time.Now()
	return copyRecord(rec), nil
}

func (r *memRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("memRepo: %s: %w", id, models.ErrNotFound)
	}
	delete(r.byFP, rec.ContentFingerprint)
	delete(r.byID, id)
	return nil
}

func (r *memRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

func copyRecord(rec *models.ImageRecord) *models.ImageRecord {
	dup := *rec
	return &dup
}

// countingStore counts blob reads so tests can observe cache hits.
type countingStore struct {
	blob.Store
	reads atomic.Int32
}

func (c *countingStore) Read(ctx context.Context, path string) ([]byte, error) {
	c.reads.Add(1)
	return c.Store.Read(ctx, path)
}

type testEnv struct {
	pipeline *Pipeline
	repo     *memRepo
	blobs    *countingStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fs, err := blob.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	backend := cache.NewMemoryBackend()
	log := zerolog.Nop()
	caches := Caches{
		Transforms: cache.New(backend, "transforms", time.Hour, log),
		Metadata:   cache.New(backend, "images", 10*time.Minute, log),
		Lists:      cache.New(backend, "lists", 5*time.Minute, log),
	}
	repo := newMemRepo()
	blobs := &countingStore{Store: fs}
	p := New(repo, blobs, caches, events.NopPublisher{}, Config{}, log)
	return &testEnv{pipeline: p, repo: repo, blobs: blobs}
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encoding fixture: %v", err)
	}
	return buf.Bytes()
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding fixture: %v", err)
	}
	return buf.Bytes()
}

func TestUploadDedupIdempotence(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	data := pngBytes(t, 30, 20)
	owner := uuid.New()

	first, err := env.pipeline.Upload(ctx, models.UploadParams{OwnerID: owner, Data: data})
	if err != nil {
		t.Fatalf("first Upload: %v", err)
	}

	for i := 0; i < 3; i++ {
		again, err := env.pipeline.Upload(ctx, models.UploadParams{
			OwnerID:  uuid.New(), // a different uploader still dedups
			Data:     data,
			Category: models.CategoryBanner,
		})
		if err != nil {
			t.Fatalf("repeat Upload: %v", err)
		}
		if again.ID != first.ID {
			t.Errorf("repeat upload returned id %s, want %s", again.ID, first.ID)
		}
		if again.ContentFingerprint != first.ContentFingerprint {
			t.Errorf("fingerprint changed across uploads")
		}
	}

	if n := env.repo.count(); n != 1 {
		t.Errorf("repository holds %d records, want 1", n)
	}
}

func TestUploadRaceSafety(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	data := jpegBytes(t, 64, 48)

	const callers = 8
	results := make([]*models.ImageRecord, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = env.pipeline.Upload(ctx, models.UploadParams{Data: data})
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if results[i].ID != results[0].ID {
			t.Errorf("caller %d got id %s, caller 0 got %s", i, results[i].ID, results[0].ID)
		}
	}
	if n := env.repo.count(); n != 1 {
		t.Errorf("repository holds %d records after race, want 1", n)
	}
}

func TestUploadRejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		params  models.UploadParams
		wantErr error
	}{
		{
			name:    "oversized payload",
			params:  models.UploadParams{Data: []byte("x"), SizeHint: 11 << 20},
			wantErr: models.ErrPayloadTooLarge,
		},
		{
			name:    "garbage bytes",
			params:  models.UploadParams{Data: []byte("not an image at all")},
			wantErr: models.ErrInvalidImage,
		},
		{
			name:    "empty upload",
			params:  models.UploadParams{Data: nil},
			wantErr: models.ErrInvalidImage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.pipeline.Upload(ctx, tt.params)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Upload() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestUploadNormalizesAndPersists(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec, err := env.pipeline.Upload(ctx, models.UploadParams{
		Data:     jpegBytes(t, 120, 80),
		Category: models.CategoryProducts,
		AltText:  "product shot",
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if rec.Format != models.FormatJPEG || rec.MimeType != "image/jpeg" {
		t.Errorf("format/mime = %s/%s", rec.Format, rec.MimeType)
	}
	if rec.Width != 120 || rec.Height != 80 {
		t.Errorf("dimensions = %dx%d, want 120x80", rec.Width, rec.Height)
	}
	wantFilename := rec.ContentFingerprint + ".jpg"
	if rec.StoredFilename != wantFilename {
		t.Errorf("filename = %s, want %s", rec.StoredFilename, wantFilename)
	}
	if rec.StoragePath != "images/products/"+wantFilename {
		t.Errorf("storage path = %s", rec.StoragePath)
	}

	stored, err := env.blobs.Read(ctx, rec.StoragePath)
	if err != nil {
		t.Fatalf("reading stored blob: %v", err)
	}
	if int64(len(stored)) != rec.ByteSize {
		t.Errorf("stored %d bytes, record says %d", len(stored), rec.ByteSize)
	}
	// Stored bytes are the normalized payload, still a decodable jpeg.
	cfg, name, err := image.DecodeConfig(bytes.NewReader(stored))
	if err != nil || name != "jpeg" || cfg.Width != 120 {
		t.Errorf("stored blob = (%s %dx%d, %v), want jpeg 120x80", name, cfg.Width, cfg.Height, err)
	}
}

func TestServeOriginalUsesCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec, err := env.pipeline.Upload(ctx, models.UploadParams{Data: pngBytes(t, 40, 40)})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	first, err := env.pipeline.Serve(ctx, rec.ID, nil)
	if err != nil {
		t.Fatalf("first Serve: %v", err)
	}
	if first.MimeType != "image/png" || first.Fingerprint != rec.ContentFingerprint {
		t.Errorf("ServeResult = mime %s fp %s", first.MimeType, first.Fingerprint)
	}
	if first.TransformKey != "" {
		t.Errorf("original serve produced transform key %q", first.TransformKey)
	}

	reads := env.blobs.reads.Load()
	second, err := env.pipeline.Serve(ctx, rec.ID, nil)
	if err != nil {
		t.Fatalf("second Serve: %v", err)
	}
	if env.blobs.reads.Load() != reads {
		t.Error("second Serve read the blob store instead of the cache")
	}
	if !bytes.Equal(first.Data, second.Data) {
		t.Error("cached serve returned different bytes")
	}
}

func TestServeTransformDeterminism(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec, err := env.pipeline.Upload(ctx, models.UploadParams{Data: jpegBytes(t, 200, 100)})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	params := &models.TransformParams{Width: 50}
	first, err := env.pipeline.Serve(ctx, rec.ID, params)
	if err != nil {
		t.Fatalf("first Serve: %v", err)
	}
	if first.TransformKey == "" {
		t.Fatal("transformed serve carried no transform key")
	}

	reads := env.blobs.reads.Load()
	second, err := env.pipeline.Serve(ctx, rec.ID, params)
	if err != nil {
		t.Fatalf("second Serve: %v", err)
	}
	if env.blobs.reads.Load() != reads {
		t.Error("second transformed Serve missed the transform cache")
	}
	if second.TransformKey != first.TransformKey {
		t.Errorf("transform keys differ: %q vs %q", first.TransformKey, second.TransformKey)
	}
	if !bytes.Equal(first.Data, second.Data) {
		t.Error("cached transform returned different bytes")
	}

	// Explicit quality 85 is the same tuple as the default.
	third, err := env.pipeline.Serve(ctx, rec.ID, &models.TransformParams{Width: 50, Quality: 85})
	if err != nil {
		t.Fatalf("third Serve: %v", err)
	}
	if third.TransformKey != first.TransformKey {
		t.Errorf("default-quality key %q != explicit-quality key %q", first.TransformKey, third.TransformKey)
	}
}

func TestServeScenario(t *testing.T) {
	// Upload a 2000x1000 jpeg, serve at width 400: resized to 400x200 and
	// cached; the second call returns byte-identical output.
	env := newTestEnv(t)
	ctx := context.Background()

	rec, err := env.pipeline.Upload(ctx, models.UploadParams{
		Data:     jpegBytes(t, 2000, 1000),
		Category: models.CategoryProducts,
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if rec.Format != models.FormatJPEG || rec.Width != 2000 || rec.Height != 1000 {
		t.Fatalf("record = %s %dx%d", rec.Format, rec.Width, rec.Height)
	}

	result, err := env.pipeline.Serve(ctx, rec.ID, &models.TransformParams{Width: 400})
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(result.Data))
	if err != nil {
		t.Fatalf("decoding transform output: %v", err)
	}
	if cfg.Width != 400 || cfg.Height != 200 {
		t.Errorf("transform output = %dx%d, want 400x200", cfg.Width, cfg.Height)
	}

	again, err := env.pipeline.Serve(ctx, rec.ID, &models.TransformParams{Width: 400})
	if err != nil {
		t.Fatalf("second Serve: %v", err)
	}
	if len(again.Data) != len(result.Data) {
		t.Errorf("second serve returned %d bytes, first %d", len(again.Data), len(result.Data))
	}
}

func TestServeMissingBlob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec, err := env.pipeline.Upload(ctx, models.UploadParams{Data: pngBytes(t, 10, 10)})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if _, err := env.blobs.Delete(ctx, rec.StoragePath); err != nil {
		t.Fatalf("deleting blob: %v", err)
	}

	_, err = env.pipeline.Serve(ctx, rec.ID, nil)
	if !errors.Is(err, models.ErrMissingBlob) {
		t.Fatalf("Serve with missing blob error = %v, want ErrMissingBlob", err)
	}
}

func TestServeNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.pipeline.Serve(context.Background(), uuid.New(), nil)
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("Serve error = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := uuid.New()

	rec, err := env.pipeline.Upload(ctx, models.UploadParams{OwnerID: owner, Data: pngBytes(t, 10, 10)})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if err := env.pipeline.Delete(ctx, rec.ID, uuid.New()); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("Delete by stranger error = %v, want ErrForbidden", err)
	}

	if err := env.pipeline.Delete(ctx, rec.ID, owner); err != nil {
		t.Fatalf("Delete by owner: %v", err)
	}

	if _, err := env.pipeline.GetMetadata(ctx, rec.ID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("record still resolvable after delete: %v", err)
	}
	exists, err := env.blobs.Exists(ctx, rec.StoragePath)
	if err != nil || exists {
		t.Errorf("blob still present after delete: (%v, %v)", exists, err)
	}
}

func TestUpdateMetadata(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec, err := env.pipeline.Upload(ctx, models.UploadParams{Data: pngBytes(t, 10, 10), Title: "before"})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	alt := "new alt"
	updated, err := env.pipeline.UpdateMetadata(ctx, rec.ID, models.MetadataUpdate{AltText: &alt})
	if err != nil {
		t.Fatalf("UpdateMetadata: %v", err)
	}
	if updated.AltText != "new alt" {
		t.Errorf("alt text = %q", updated.AltText)
	}
	if updated.Title != "before" {
		t.Errorf("unset field was clobbered: title = %q", updated.Title)
	}
	if updated.ContentFingerprint != rec.ContentFingerprint {
		t.Error("immutable field changed")
	}
}

func TestListByOwner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := uuid.New()

	if _, err := env.pipeline.Upload(ctx, models.UploadParams{OwnerID: owner, Data: pngBytes(t, 10, 10)}); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if _, err := env.pipeline.Upload(ctx, models.UploadParams{OwnerID: owner, Data: jpegBytes(t, 10, 10)}); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if _, err := env.pipeline.Upload(ctx, models.UploadParams{OwnerID: uuid.New(), Data: jpegBytes(t, 11, 11)}); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	records, err := env.pipeline.ListByOwner(ctx, owner)
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("ListByOwner returned %d records, want 2", len(records))
	}

	// Cached result stays consistent until invalidated by a new upload.
	cached, err := env.pipeline.ListByOwner(ctx, owner)
	if err != nil || len(cached) != 2 {
		t.Fatalf("cached ListByOwner = (%d, %v)", len(cached), err)
	}

	if _, err := env.pipeline.Upload(ctx, models.UploadParams{OwnerID: owner, Data: pngBytes(t, 12, 12)}); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	records, err = env.pipeline.ListByOwner(ctx, owner)
	if err != nil || len(records) != 3 {
		t.Fatalf("ListByOwner after new upload = (%d, %v), want 3", len(records), err)
	}
}

func TestCacheEnvelope(t *testing.T) {
	payload := []byte{0xff, 0x00, 0x7f}
	mime, data, err := decodeEnvelope(encodeEnvelope("image/jpeg", payload))
	if err != nil {
		t.Fatalf("decodeEnvelope: %v", err)
	}
	if mime != "image/jpeg" || string(data) != string(payload) {
		t.Errorf("round trip = (%q, %v)", mime, data)
	}

	for _, bad := range [][]byte{nil, {5, 'a', 'b'}, encodeEnvelope("nomime", payload)} {
		if _, _, err := decodeEnvelope(bad); err == nil {
			t.Errorf("decodeEnvelope(%v) accepted malformed input", bad)
		}
	}
}

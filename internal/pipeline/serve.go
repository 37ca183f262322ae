package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Muizzyranking/shopifyte-api/internal/codec"
	"github.com/Muizzyranking/shopifyte-api/internal/events"
	"github.com/Muizzyranking/shopifyte-api/internal/models"
)

// ServeResult carries the rendered bytes plus the values the HTTP adapter
// needs to derive cache headers deterministically across instances.
type ServeResult struct {
	Data     []byte
	MimeType string

	// Fingerprint of the original upload bytes.
	Fingerprint string
	// TransformKey is the cache key of the applied transform, empty when
	// the original payload was served.
	TransformKey string
}

// Serve resolves a record and returns its bytes, transformed on demand.
// It never mutates the record or the blob store.
func (p *Pipeline) Serve(ctx context.Context, id uuid.UUID, params *models.TransformParams) (*ServeResult, error) {
	const op = "pipeline.Serve"

	rec, err := p.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	exists, err := p.blobs.Exists(ctx, rec.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !exists {
		return nil, fmt.Errorf("%s: %s: %w", op, rec.StoragePath, models.ErrMissingBlob)
	}

	var result *ServeResult
	if params == nil || params.IsZero() {
		result, err = p.serveOriginal(ctx, rec)
	} else {
		result, err = p.serveTransformed(ctx, rec, *params)
	}
	if err != nil {
		return nil, err
	}

	if err := p.events.Publish(ctx, events.Event{
		Type:        events.TypeViewed,
		ImageID:     rec.ID,
		OwnerID:     rec.UploadedBy,
		Fingerprint: rec.ContentFingerprint,
	}); err != nil {
		p.log.Debug().Err(err).Msg("publishing view event")
	}
	return result, nil
}

func (p *Pipeline) serveOriginal(ctx context.Context, rec *models.ImageRecord) (*ServeResult, error) {
	const op = "pipeline.serveOriginal"

	key := rec.ContentFingerprint
	if cached, ok := p.caches.Metadata.Get(ctx, key); ok {
		if mime, data, err := decodeEnvelope(cached); err == nil {
			return &ServeResult{Data: data, MimeType: mime, Fingerprint: rec.ContentFingerprint}, nil
		}
	}

	data, err := p.blobs.Read(ctx, rec.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	p.caches.Metadata.SetTTL(ctx, key, encodeEnvelope(rec.MimeType, data), p.cfg.MetadataTTL)
	return &ServeResult{Data: data, MimeType: rec.MimeType, Fingerprint: rec.ContentFingerprint}, nil
}

func (p *Pipeline) serveTransformed(ctx context.Context, rec *models.ImageRecord, params models.TransformParams) (*ServeResult, error) {
	const op = "pipeline.serveTransformed"

	targetFormat := params.Format
	if targetFormat == "" {
		targetFormat = rec.Format
	}
	if models.MimeTypeFor(targetFormat) == "application/octet-stream" {
		return nil, fmt.Errorf("%s: %q: %w", op, targetFormat, models.ErrUnsupportedFormat)
	}
	quality := params.Quality
	if quality == 0 {
		quality = p.cfg.DefaultQuality
	}

	key := p.transformKey(rec.ContentFingerprint, params, targetFormat, quality)
	mime := models.MimeTypeFor(targetFormat)

	if cached, ok := p.caches.Transforms.Get(ctx, key); ok {
		if cachedMime, data, err := decodeEnvelope(cached); err == nil {
			return &ServeResult{
				Data:         data,
				MimeType:     cachedMime,
				Fingerprint:  rec.ContentFingerprint,
				TransformKey: key,
			}, nil
		}
	}

	raw, err := p.blobs.Read(ctx, rec.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	img, _, err := codec.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if params.Width > 0 || params.Height > 0 {
		// An unspecified bound falls back to the record's own dimension so
		// a single-axis request never stretches the other axis.
		maxW := params.Width
		if maxW == 0 {
			maxW = rec.Width
		}
		maxH := params.Height
		if maxH == 0 {
			maxH = rec.Height
		}
		img = codec.Resize(img, maxW, maxH)
	}

	data, err := codec.Encode(img, targetFormat, quality)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	p.caches.Transforms.SetTTL(ctx, key, encodeEnvelope(mime, data), p.cfg.TransformTTL)
	return &ServeResult{
		Data:         data,
		MimeType:     mime,
		Fingerprint:  rec.ContentFingerprint,
		TransformKey: key,
	}, nil
}

// transformKey derives the deterministic cache key for one transform tuple.
// Unset width/height are kept as nulls so "resize to 400 wide" and "resize
// to 400x0" are the same request, and the key survives process restarts.
func (p *Pipeline) transformKey(fp string, params models.TransformParams, targetFormat models.ImageFormat, quality int) string {
	keyParams := map[string]any{
		"fingerprint": fp,
		"format":      string(targetFormat),
		"width":       nullableInt(params.Width),
		"height":      nullableInt(params.Height),
		"quality":     quality,
	}
	return p.caches.Transforms.Key(keyParams, transformNamespace(fp))
}

// transformNamespace is the per-image prefix used for bulk invalidation of
// an image's transform entries.
func transformNamespace(fp string) string {
	if len(fp) > 16 {
		fp = fp[:16]
	}
	return fp
}

func nullableInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

// Cached payloads carry their mime type in a small length-prefixed frame so
// one cache value round-trips both.
func encodeEnvelope(mime string, data []byte) []byte {
	buf := make([]byte, 0, 1+len(mime)+len(data))
	buf = append(buf, byte(len(mime)))
	buf = append(buf, mime...)
	return append(buf, data...)
}

func decodeEnvelope(buf []byte) (string, []byte, error) {
	if len(buf) == 0 {
		return "", nil, fmt.Errorf("empty cache envelope")
	}
	n := int(buf[0])
	if len(buf) < 1+n {
		return "", nil, fmt.Errorf("truncated cache envelope")
	}
	mime := string(buf[1 : 1+n])
	data := buf[1+n:]
	if !strings.Contains(mime, "/") {
		return "", nil, fmt.Errorf("malformed cache envelope")
	}
	return mime, data, nil
}

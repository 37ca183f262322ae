package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Muizzyranking/shopifyte-api/internal/codec"
	"github.com/Muizzyranking/shopifyte-api/internal/events"
	"github.com/Muizzyranking/shopifyte-api/internal/hash"
	"github.com/Muizzyranking/shopifyte-api/internal/models"
)

// Upload ingests bytes: fingerprint, dedup check, normalize, persist.
// Uploading the same bytes twice returns the first record untouched, no
// matter who uploads or with what parameters. A lost insert race resolves
// the same way.
func (p *Pipeline) Upload(ctx context.Context, params models.UploadParams) (*models.ImageRecord, error) {
	const op = "pipeline.Upload"

	size := params.SizeHint
	if size == 0 {
		size = int64(len(params.Data))
	}
	if size > p.cfg.MaxUploadBytes {
		return nil, fmt.Errorf("%s: %d bytes exceeds limit of %d: %w",
			op, size, p.cfg.MaxUploadBytes, models.ErrPayloadTooLarge)
	}

	fp := hash.Fingerprint(params.Data)
	if existing, err := p.repo.FindByFingerprint(ctx, fp); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	} else if existing != nil {
		return existing, nil
	}

	info, err := codec.Probe(params.Data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	img, _, err := codec.Decode(params.Data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// Normalization keeps the detected source format; only quality and
	// encoder settings are standardized.
	normalized, err := codec.Encode(img, info.Format, p.cfg.DefaultQuality)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	category := params.Category
	if category == "" {
		category = models.CategoryUncategorized
	}
	filename := fp + "." + models.ExtensionFor(info.Format)
	requestedPath := fmt.Sprintf("images/%s/%s", category, filename)

	effectivePath, err := p.blobs.Write(ctx, requestedPath, normalized, models.MimeTypeFor(info.Format))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rec := &models.ImageRecord{
		ID:                 uuid.New(),
		Category:           category,
		StoredFilename:     filename,
		StoragePath:        effectivePath,
		ByteSize:           int64(len(normalized)),
		Width:              info.Width,
		Height:             info.Height,
		Format:             info.Format,
		MimeType:           models.MimeTypeFor(info.Format),
		ContentFingerprint: fp,
		AltText:            params.AltText,
		Title:              params.Title,
		Description:        params.Description,
		UploadedBy:         params.OwnerID,
	}

	rec, inserted, err := p.repo.InsertOrGet(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !inserted {
		// A concurrent identical upload won. Its blob path is content-
		// addressed like ours, so nothing of ours needs cleaning up.
		return rec, nil
	}

	p.invalidateOwnerLists(ctx, rec.UploadedBy)
	if err := p.events.Publish(ctx, events.Event{
		Type:        events.TypeUploaded,
		ImageID:     rec.ID,
		OwnerID:     rec.UploadedBy,
		Fingerprint: rec.ContentFingerprint,
	}); err != nil {
		p.log.Warn().Err(err).Msg("publishing upload event")
	}

	p.log.Info().
		Stringer("image_id", rec.ID).
		Str("fingerprint", fp).
		Str("format", string(rec.Format)).
		Int64("bytes", rec.ByteSize).
		Msg("image ingested")
	return rec, nil
}

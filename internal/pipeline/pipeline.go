// Package pipeline orchestrates image ingestion and on-demand
// transformation: content-addressed dedup on upload, cache-or-compute on
// serve, metadata edits and ownership-checked deletion.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Muizzyranking/shopifyte-api/internal/blob"
	"github.com/Muizzyranking/shopifyte-api/internal/cache"
	"github.com/Muizzyranking/shopifyte-api/internal/events"
	"github.com/Muizzyranking/shopifyte-api/internal/models"
)

// Repository is the metadata store collaborator. InsertOrGet must enforce
// fingerprint uniqueness atomically; everything else in the upload path
// depends on it.
type Repository interface {
	InsertOrGet(ctx context.Context, rec *models.ImageRecord) (*models.ImageRecord, bool, error)
	FindByFingerprint(ctx context.Context, fp string) (*models.ImageRecord, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.ImageRecord, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.ImageRecord, error)
	UpdateMetadata(ctx context.Context, id uuid.UUID, upd models.MetadataUpdate) (*models.ImageRecord, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Config bounds the pipeline's resource use.
type Config struct {
	MaxUploadBytes int64
	DefaultQuality int
	TransformTTL   time.Duration
	MetadataTTL    time.Duration
	ListTTL        time.Duration
}

// Caches bundles the three cache roles the pipeline uses. Each is its own
// namespace with its own TTL: list pages churn fastest, byte payloads for
// originals sit in the middle, transform outputs churn slowest.
type Caches struct {
	Transforms *cache.Cache
	Metadata   *cache.Cache
	Lists      *cache.Cache
}

type Pipeline struct {
	repo   Repository
	blobs  blob.Store
	caches Caches
	events events.Publisher
	cfg    Config
	log    zerolog.Logger
}

func New(repo Repository, blobs blob.Store, caches Caches, publisher events.Publisher, cfg Config, log zerolog.Logger) *Pipeline {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	if cfg.DefaultQuality <= 0 || cfg.DefaultQuality > 100 {
		cfg.DefaultQuality = 85
	}
	if cfg.TransformTTL <= 0 {
		cfg.TransformTTL = time.Hour
	}
	if cfg.MetadataTTL <= 0 {
		cfg.MetadataTTL = 10 * time.Minute
	}
	if cfg.ListTTL <= 0 {
		cfg.ListTTL = 5 * time.Minute
	}
	return &Pipeline{
		repo:   repo,
		blobs:  blobs,
		caches: caches,
		events: publisher,
		cfg:    cfg,
		log:    log.With().Str("component", "pipeline").Logger(),
	}
}

// GetMetadata resolves a record by id.
func (p *Pipeline) GetMetadata(ctx context.Context, id uuid.UUID) (*models.ImageRecord, error) {
	return p.repo.FindByID(ctx, id)
}

// UpdateMetadata edits the mutable fields (alt text, title, description)
// and invalidates the owner's cached listings.
func (p *Pipeline) UpdateMetadata(ctx context.Context, id uuid.UUID, upd models.MetadataUpdate) (*models.ImageRecord, error) {
	rec, err := p.repo.UpdateMetadata(ctx, id, upd)
	if err != nil {
		return nil, err
	}
	p.invalidateOwnerLists(ctx, rec.UploadedBy)
	return rec, nil
}

// Delete removes the record and its blob. The blob goes first, best-effort:
// a dangling row is recoverable, a dangling blob is not referenced by
// anything and would leak.
func (p *Pipeline) Delete(ctx context.Context, id, requestingOwnerID uuid.UUID) error {
	const op = "pipeline.Delete"

	rec, err := p.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if rec.UploadedBy == uuid.Nil || rec.UploadedBy != requestingOwnerID {
		return fmt.Errorf("%s: %s: %w", op, id, models.ErrForbidden)
	}

	if _, err := p.blobs.Delete(ctx, rec.StoragePath); err != nil {
		p.log.Warn().Err(err).Str("path", rec.StoragePath).Msg("blob delete failed, removing metadata anyway")
	}
	if err := p.repo.Delete(ctx, id); err != nil {
		return err
	}

	p.caches.Metadata.Delete(ctx, rec.ContentFingerprint)
	p.caches.Transforms.DeletePattern(ctx, transformNamespace(rec.ContentFingerprint)+"*")
	p.invalidateOwnerLists(ctx, rec.UploadedBy)

	if err := p.events.Publish(ctx, events.Event{
		Type:        events.TypeDeleted,
		ImageID:     rec.ID,
		OwnerID:     rec.UploadedBy,
		Fingerprint: rec.ContentFingerprint,
	}); err != nil {
		p.log.Warn().Err(err).Msg("publishing delete event")
	}
	return nil
}

// ListByOwner returns the owner's images, newest first, through the
// short-TTL list cache.
func (p *Pipeline) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.ImageRecord, error) {
	key := p.caches.Lists.Key(map[string]any{"owner": ownerID.String()}, ownerID.String())
	if data, ok := p.caches.Lists.Get(ctx, key); ok {
		var records []models.ImageRecord
		if err := json.Unmarshal(data, &records); err == nil {
			return records, nil
		}
	}

	records, err := p.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(records); err == nil {
		p.caches.Lists.SetTTL(ctx, key, data, p.cfg.ListTTL)
	}
	return records, nil
}

func (p *Pipeline) invalidateOwnerLists(ctx context.Context, ownerID uuid.UUID) {
	if ownerID == uuid.Nil {
		return
	}
	p.caches.Lists.DeletePattern(ctx, ownerID.String()+"*")
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Muizzyranking/shopifyte-api/internal/blob"
	"github.com/Muizzyranking/shopifyte-api/internal/cache"
	"github.com/Muizzyranking/shopifyte-api/internal/events"
	"github.com/Muizzyranking/shopifyte-api/internal/models"
	"github.com/Muizzyranking/shopifyte-api/internal/pipeline"
	"github.com/Muizzyranking/shopifyte-api/internal/server"
	"github.com/Muizzyranking/shopifyte-api/internal/storage"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := models.LoadConfig("config.yaml")
	if err != nil {
		log.Fatal().Err(err).Msg("loading config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.NewStorage(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("initializing storage")
	}
	defer db.Close()

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("initializing blob store")
	}

	backend := newCacheBackend(ctx, cfg, log)
	caches := pipeline.Caches{
		Transforms: cache.New(backend, "transforms", time.Duration(cfg.TransformTTLSec)*time.Second, log),
		Metadata:   cache.New(backend, "images", time.Duration(cfg.MetadataTTLSec)*time.Second, log),
		Lists:      cache.New(backend, "lists", time.Duration(cfg.ListTTLSec)*time.Second, log),
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.KafkaBroker != "" {
		kp := events.NewKafkaPublisher(cfg.KafkaBroker, cfg.KafkaTopic)
		defer kp.Close()
		publisher = kp

		// View counting consumes the same topic in the background.
		go events.RunViewCounter(ctx, cfg.KafkaBroker, cfg.KafkaTopic, "image-view-counter", db, log)
	}

	p := pipeline.New(db, blobs, caches, publisher, pipeline.Config{
		MaxUploadBytes: cfg.MaxUploadBytes,
		DefaultQuality: cfg.DefaultQuality,
		TransformTTL:   time.Duration(cfg.TransformTTLSec) * time.Second,
		MetadataTTL:    time.Duration(cfg.MetadataTTLSec) * time.Second,
		ListTTL:        time.Duration(cfg.ListTTLSec) * time.Second,
	}, log)

	srv := server.NewServer(cfg, p, log)

	go func() {
		log.Info().Str("addr", cfg.ServerAddr).Msg("server starting")
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down")
	cancel()
	srv.Stop()
}

func newBlobStore(ctx context.Context, cfg *models.Config) (blob.Store, error) {
	if cfg.BlobBackend == "minio" {
		return blob.NewMinioStore(ctx, blob.MinioOptions{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
	}
	return blob.NewFSStore(cfg.StoragePath)
}

func newCacheBackend(ctx context.Context, cfg *models.Config, log zerolog.Logger) cache.Backend {
	if cfg.RedisAddr == "" {
		log.Warn().Msg("redis not configured, using in-process cache")
		return cache.NewMemoryBackend()
	}
	backend := cache.NewRedisBackend(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := backend.Ping(ctx); err != nil {
		// The cache layer degrades failed calls to misses, so a dead
		// redis at startup is survivable; it just means no caching.
		log.Warn().Err(err).Msg("redis unreachable at startup")
	}
	return backend
}

// Package events publishes image lifecycle events to Kafka and hosts the
// view counter that consumes them. View counting lives here, outside the
// pipeline, so that serving never mutates metadata in the request path.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type Type string

const (
	TypeUploaded Type = "image.uploaded"
	TypeViewed   Type = "image.viewed"
	TypeDeleted  Type = "image.deleted"
)

type Event struct {
	Type        Type      `json:"type"`
	ImageID     uuid.UUID `json:"image_id"`
	OwnerID     uuid.UUID `json:"owner_id,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	At          time.Time `json:"at"`
}

// Publisher emits lifecycle events. Publishing is best-effort for callers;
// the pipeline logs failures and moves on.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// KafkaPublisher writes events to a single topic keyed by image id, so all
// events for one image land on one partition in order.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(broker, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(broker),
			Topic:    topic,
			Balancer: &kafka.Hash{},
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	const op = "events.KafkaPublisher.Publish"

	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.ImageID.String()),
		Value: value,
	}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher discards events. Used in tests and when Kafka is not
// configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// ViewCounter is the metadata mutation the consumer needs.
type ViewCounter interface {
	IncrementViewCount(ctx context.Context, id uuid.UUID) error
}

// RunViewCounter consumes image.viewed events and bumps view counts until
// ctx is cancelled. Other event types are acknowledged and skipped.
func RunViewCounter(ctx context.Context, broker, topic, groupID string, counter ViewCounter, log zerolog.Logger) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: []string{broker},
		Topic:   topic,
		GroupID: groupID,
	})
	defer reader.Close()

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error().Err(err).Msg("reading event")
			continue
		}

		var ev Event
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			log.Warn().Err(err).Msg("malformed event, skipping")
			continue
		}
		if ev.Type != TypeViewed {
			continue
		}
		if err := counter.IncrementViewCount(ctx, ev.ImageID); err != nil {
			log.Error().Err(err).Stringer("image_id", ev.ImageID).Msg("incrementing view count")
		}
	}
}

// Package stream publishes committed ledger events to NATS JetStream for
// downstream consumers. Publishing is best-effort: the event log in Postgres
// is the source of truth, so a failed or dropped publish is never fatal.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"LendLedger/internal/event"
	"LendLedger/internal/observability"
)

// Publisher drains the publish channel and sends each event to JetStream.
// Subjects follow the pattern {prefix}.{event_type}, e.g.
// lend.events.Deposited.
type Publisher struct {
	js      jetstream.JetStream
	input   <-chan event.Row
	prefix  string
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewPublisher(js jetstream.JetStream, input <-chan event.Row, prefix string, metrics *observability.Metrics, log zerolog.Logger) *Publisher {
	return &Publisher{
		js:      js,
		input:   input,
		prefix:  prefix,
		metrics: metrics,
		log:     log.With().Str("component", "publisher").Logger(),
	}
}

// Run publishes until ctx is cancelled or the input channel closes.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case row, ok := <-p.input:
			if !ok {
				return nil
			}
			if err := p.publish(ctx, row); err != nil {
				if p.metrics != nil {
					p.metrics.PublishErrors.Inc()
				}
				p.log.Warn().Err(err).Int64("sequence", row.Sequence).
					Str("type", row.Type).Msg("publish failed")
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, row event.Row) error {
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := fmt.Sprintf("%s.%s", p.prefix, row.Type)
	_, err = p.js.Publish(ctx, subject, data)
	return err
}

// EnsureStream creates or updates the outbound events stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream, name, prefix string) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      name,
		Subjects:  []string{prefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream %s: %w", name, err)
	}
	return nil
}

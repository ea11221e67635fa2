package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"ChainCore/internal/event"
)

// OutboundPublisher publishes applied-block envelopes to NATS for
// downstream consumers. Publishing happens after the engine commits, so
// every envelope describes durable state.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan event.Envelope
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan event.Envelope) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case env, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, env); err != nil {
				log.Printf("WARN: outbound publish failed height=%d kind=%s: %v",
					env.Height, env.Kind, err)
				// Non-fatal: consumers can read the block log directly.
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, env event.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	_, err = op.js.Publish(ctx, env.Subject(), data)
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name: "CHAIN_EVENTS",
		Subjects: []string{
			"chain.blocks", "chain.fills", "chain.bids",
			"chain.maintenance", "chain.operations",
		},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Println("INFO: ensured outbound stream CHAIN_EVENTS")
	return nil
}

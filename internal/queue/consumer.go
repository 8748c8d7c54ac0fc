package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/gatepass/internal/models"
)

// EventHandler processes one biometric event. A returned error naks the
// message for redelivery.
type EventHandler func(ctx context.Context, ev models.BiometricEvent) error

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc, js: js}, nil
}

// ConsumeBiometric delivers new events from the BIOMETRIC stream to handler
// until ctx is cancelled.
func (c *Consumer) ConsumeBiometric(ctx context.Context, consumerName string, handler EventHandler) error {
	stream, err := c.js.Stream(ctx, BiometricStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", BiometricStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       10 * time.Second,
		MaxDeliver:    3,
		FilterSubject: BiometricSubjectBase + ".>",
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			batch, err := cons.Fetch(10, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				handleMessage(ctx, msg, handler)
			}
		}
	}()

	slog.Info("biometric consumer started", "consumer", consumerName)
	return nil
}

func handleMessage(ctx context.Context, msg jetstream.Msg, handler EventHandler) {
	ev, err := DecodeBiometric(msg.Data())
	if err != nil {
		// Malformed payloads are never going to succeed.
		slog.Error("decode biometric event", "error", err, "subject", msg.Subject())
		_ = msg.Term()
		return
	}

	if err := handler(ctx, ev); err != nil {
		slog.Error("process biometric event", "error", err, "type", ev.Type)
		_ = msg.Nak()
		return
	}
	_ = msg.Ack()
}

// DecodeBiometric parses an event payload.
func DecodeBiometric(data []byte) (models.BiometricEvent, error) {
	var ev models.BiometricEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("unmarshal event: %w", err)
	}
	if ev.Type == "" {
		return ev, fmt.Errorf("event without type")
	}
	return ev, nil
}

func (c *Consumer) Close() {
	c.nc.Close()
}

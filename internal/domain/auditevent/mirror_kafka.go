package auditevent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Publisher receives committed audit events for downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, e *AuditEvent) error
}

// kafkaMessageWriter abstracts kafka.Writer for testability.
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaMirror publishes audit events to a topic keyed by entity reference,
// so every event for one order lands on the same partition in order.
type KafkaMirror struct {
	writer kafkaMessageWriter
	closer func() error
}

func NewKafkaMirror(brokers []string, topic string) *KafkaMirror {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: 5 * time.Second,
	}
	return &KafkaMirror{writer: w, closer: w.Close}
}

// NewKafkaMirrorWith injects a message writer, used by tests.
func NewKafkaMirrorWith(w kafkaMessageWriter) *KafkaMirror {
	return &KafkaMirror{writer: w}
}

func (k *KafkaMirror) Publish(ctx context.Context, e *AuditEvent) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.EntityRef),
		Value: b,
		Time:  e.Timestamp,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(e.Action)},
		},
	})
}

func (k *KafkaMirror) Close() error {
	if k.closer == nil {
		return nil
	}
	return k.closer()
}

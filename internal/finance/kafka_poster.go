package finance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"restopos/backend/internal/domain"
)

// messageWriter is the subset of *kafka.Writer the poster uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPoster publishes entries to a topic consumed by the financial ledger.
// A write acknowledged by all in-sync replicas counts as posted. Messages are
// keyed by reference so one reference always lands on one partition.
type KafkaPoster struct {
	writer messageWriter
	topic  string
}

func NewKafkaPoster(brokers []string, topic string) *KafkaPoster {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    1,
	}
	return &KafkaPoster{writer: writer, topic: topic}
}

func (p *KafkaPoster) PostEntry(ctx context.Context, entry domain.FinancialEntry) error {
	value, err := json.Marshal(payloadFor(entry))
	if err != nil {
		return err
	}

	headers := headerCarrier{
		{Key: "idempotency-key", Value: []byte(entry.ID)},
		{Key: "entry-type", Value: []byte(entry.EntryType)},
	}
	otel.GetTextMapPropagator().Inject(ctx, &headers)

	msg := kafka.Message{
		Key:     []byte(string(entry.ReferenceType) + ":" + entry.ReferenceID),
		Value:   value,
		Headers: []kafka.Header(headers),
		Time:    time.Now().UTC(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish entry %s to %s: %w", entry.ID, p.topic, err)
	}
	return nil
}

func (p *KafkaPoster) Close() error {
	return p.writer.Close()
}

// headerCarrier adapts kafka headers to the otel propagation carrier.
type headerCarrier []kafka.Header

func (c *headerCarrier) Get(key string) string {
	for _, h := range *c {
		if strings.EqualFold(h.Key, key) {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Set(key, value string) {
	for i, h := range *c {
		if strings.EqualFold(h.Key, key) {
			(*c)[i].Value = []byte(value)
			return
		}
	}
	*c = append(*c, kafka.Header{Key: key, Value: []byte(value)})
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(*c))
	for _, h := range *c {
		keys = append(keys, h.Key)
	}
	return keys
}

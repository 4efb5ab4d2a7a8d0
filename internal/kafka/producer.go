package kafka

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

// TopicPrefix namespaces every relayed lifecycle event topic.
const TopicPrefix = "humanos.events."

// EventTopic returns the topic lifecycle events of eventType are relayed to.
func EventTopic(eventType string) string { return TopicPrefix + eventType }

// Producer publishes messages to a Kafka topic.
type Producer interface {
	// Publish writes value under key. attrs are added as message headers
	// next to the injected trace context.
	Publish(ctx context.Context, topic, key string, value []byte, attrs map[string]string) error
	Close() error
}

// HeaderCarrier lets the OTel propagator read and write message headers.
// Keys are unique; Set replaces.
type HeaderCarrier []kafka.Header

func (c HeaderCarrier) Get(key string) string {
	if i := c.index(key); i >= 0 {
		return string(c[i].Value)
	}
	return ""
}

func (c *HeaderCarrier) Set(key, value string) {
	if i := c.index(key); i >= 0 {
		(*c)[i].Value = []byte(value)
		return
	}
	*c = append(*c, kafka.Header{Key: key, Value: []byte(value)})
}

func (c HeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for _, h := range c {
		keys = append(keys, h.Key)
	}
	return keys
}

func (c HeaderCarrier) index(key string) int {
	return slices.IndexFunc(c, func(h kafka.Header) bool { return h.Key == key })
}

// eventHeaders builds the headers of one relayed event: attrs in key order,
// then the trace context of ctx.
func eventHeaders(ctx context.Context, attrs map[string]string) []kafka.Header {
	headers := make(HeaderCarrier, 0, len(attrs)+2)
	for _, k := range slices.Sorted(maps.Keys(attrs)) {
		headers.Set(k, attrs[k])
	}
	otel.GetTextMapPropagator().Inject(ctx, &headers)
	return headers
}

type producer struct {
	writer *kafka.Writer
}

// NewProducer creates a Kafka producer connected to the given brokers.
func NewProducer(brokers []string) Producer {
	w := &kafka.Writer{
		Addr: kafka.TCP(brokers...),
		// Keyed by entity id so one task's events stay on one partition.
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            3,
		WriteTimeout:           10 * time.Second,
		ReadTimeout:            10 * time.Second,
		AllowAutoTopicCreation: true,
	}
	return &producer{writer: w}
}

func (p *producer) Publish(ctx context.Context, topic, key string, value []byte, attrs map[string]string) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   value,
		Headers: eventHeaders(ctx, attrs),
		Time:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("kafka publish to %s: %w", topic, err)
	}
	return nil
}

func (p *producer) Close() error {
	return p.writer.Close()
}

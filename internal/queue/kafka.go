package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// Publisher sends keyed JSON events to one topic
type Publisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer wraps a Kafka producer
type Producer struct {
	writer messageWriter
	topic  string
}

// NewProducer creates a new Kafka producer
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{}, // same key, same partition
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
			Async:        false,
		},
		topic: topic,
	}
}

// Topic returns the topic the producer writes to
func (p *Producer) Topic() string {
	return p.topic
}

// Publish sends a message to Kafka
func (p *Producer) Publish(ctx context.Context, key string, value []byte) error {
	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  time.Now().UTC(),
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to %s: %w", p.topic, err)
	}

	return nil
}

// PublishJSON encodes v and sends it under key
func (p *Producer) PublishJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return p.Publish(ctx, key, data)
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// NopPublisher drops every event. It stands in when Kafka is not configured.
type NopPublisher struct{}

func (NopPublisher) PublishJSON(context.Context, string, any) error { return nil }
func (NopPublisher) Close() error                                  { return nil }

// NewPublisher returns a Producer for topic, or a NopPublisher when no
// broker is configured
func NewPublisher(brokers []string, topic string) Publisher {
	if len(brokers) == 0 || topic == "" {
		return NopPublisher{}
	}
	return NewProducer(brokers, topic)
}

// CreateTopic creates a Kafka topic with the specified number of partitions.
// An existing topic is not an error.
func CreateTopic(ctx context.Context, brokers []string, topic string, numPartitions, replicationFactor int, logger *slog.Logger) error {
	if len(brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}
	dialer := &kafka.Dialer{Timeout: 10 * time.Second}

	conn, err := dialer.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("failed to dial broker: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to get controller: %w", err)
	}

	controllerAddr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	controllerConn, err := dialer.DialContext(ctx, "tcp", controllerAddr)
	if err != nil {
		return fmt.Errorf("failed to dial controller: %w", err)
	}
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     numPartitions,
		ReplicationFactor: replicationFactor,
	})
	if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("failed to create topic %s: %w", topic, err)
	}

	if logger != nil {
		logger.Info("kafka topic ready", "topic", topic, "partitions", numPartitions)
	}
	return nil
}

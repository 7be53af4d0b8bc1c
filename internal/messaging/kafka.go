// Package messaging provides Kafka-based communication between the relayer and
// the bridge. Requests and results travel as JSON, verified proof bundles as
// protobuf.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"google.golang.org/protobuf/proto"

	"github.com/bardlex/gospv/pkg/circuit"
	"github.com/bardlex/gospv/pkg/errors"
	"github.com/bardlex/gospv/pkg/log"
	"github.com/bardlex/gospv/pkg/retry"
)

// KafkaClient wraps kafka-go with protobuf support and connection pooling
type KafkaClient struct {
	brokers        []string
	logger         *log.Logger
	writers        map[string]*kafka.Writer
	readers        map[string]*kafka.Reader
	writersMu      sync.RWMutex
	readersMu      sync.RWMutex
	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
}

// NewKafkaClient creates a new Kafka client
func NewKafkaClient(brokers []string, logger *log.Logger) *KafkaClient {
	logger = logger.WithComponent("kafka")

	// Configure circuit breaker for Kafka operations
	cbConfig := &circuit.Config{
		Name:            "kafka",
		MaxFailures:     5,
		SuccessRequired: 3,
		Timeout:         15 * time.Second,
		ResetTimeout:    60 * time.Second,
		OnStateChange: func(name string, from, to circuit.State) {
			logger.Warn("circuit breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	}

	return &KafkaClient{
		brokers:        brokers,
		logger:         logger,
		writers:        make(map[string]*kafka.Writer),
		readers:        make(map[string]*kafka.Reader),
		circuitBreaker: circuit.New(cbConfig),
		retryConfig:    retry.NetworkConfig(),
	}
}

// GetProducer gets or creates a Kafka producer for a topic (with connection pooling)
func (k *KafkaClient) GetProducer(topic string) *kafka.Writer {
	k.writersMu.RLock()
	if writer, exists := k.writers[topic]; exists {
		k.writersMu.RUnlock()
		return writer
	}
	k.writersMu.RUnlock()

	k.writersMu.Lock()
	defer k.writersMu.Unlock()

	// Double-check after acquiring write lock
	if writer, exists := k.writers[topic]; exists {
		return writer
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(k.brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // one partition per key keeps a request's results ordered
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Compression:  kafka.Snappy,
	}

	k.writers[topic] = writer
	k.logger.Info("created Kafka producer", "topic", topic)
	return writer
}

// GetConsumer gets or creates a Kafka consumer for a topic and group
func (k *KafkaClient) GetConsumer(topic, groupID string) *kafka.Reader {
	key := fmt.Sprintf("%s-%s", topic, groupID)

	k.readersMu.RLock()
	if reader, exists := k.readers[key]; exists {
		k.readersMu.RUnlock()
		return reader
	}
	k.readersMu.RUnlock()

	k.readersMu.Lock()
	defer k.readersMu.Unlock()

	// Double-check after acquiring write lock
	if reader, exists := k.readers[key]; exists {
		return reader
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: k.brokers,
		Topic:   topic,
		GroupID: groupID,
		// Requests published while the relayer was down still need answers.
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
		MaxWait:     1 * time.Second,
	})

	k.readers[key] = reader
	k.logger.Info("created Kafka consumer", "topic", topic, "group_id", groupID)
	return reader
}

// PublishProto publishes a protobuf message to Kafka
func (k *KafkaClient) PublishProto(ctx context.Context, topic, key string, msg proto.Message) error {
	data, err := proto.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "protobuf_marshal",
			"failed to marshal protobuf message").
			WithContext("topic", topic).
			WithContext("key", key)
	}

	return k.publish(ctx, "publish_proto", topic, key, data)
}

// PublishJSON publishes v as a JSON message to Kafka
func (k *KafkaClient) PublishJSON(ctx context.Context, topic, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "json_marshal",
			"failed to marshal JSON message").
			WithContext("topic", topic).
			WithContext("key", key)
	}

	return k.publish(ctx, "publish_json", topic, key, data)
}

func (k *KafkaClient) publish(ctx context.Context, op, topic, key string, data []byte) error {
	return k.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, k.retryConfig, func() error {
			writer := k.GetProducer(topic)
			kafkaMsg := kafka.Message{
				Key:   []byte(key),
				Value: data,
				Time:  time.Now(),
			}

			if err := writer.WriteMessages(ctx, kafkaMsg); err != nil {
				return errors.Wrap(err, errors.ErrorTypeKafka, op,
					"failed to publish message to Kafka").
					WithContext("topic", topic).
					WithContext("key", key).
					WithContext("message_size", len(data))
			}

			k.logger.Debug("published message", "topic", topic, "key", key, "size", len(data))
			return nil
		})
	})
}

// ReadMessage reads the next raw message from reader. Payload decoding is left
// to the caller so a malformed message is never retried by re-reading.
func (k *KafkaClient) ReadMessage(ctx context.Context, reader *kafka.Reader) (kafka.Message, error) {
	return circuit.ExecuteWithResult(ctx, k.circuitBreaker, func() (kafka.Message, error) {
		return retry.DoWithResult(ctx, k.retryConfig, func() (kafka.Message, error) {
			msg, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return kafka.Message{}, ctx.Err()
				}
				return kafka.Message{}, errors.Wrap(err, errors.ErrorTypeKafka, "read_message",
					"failed to read message from Kafka")
			}

			k.logger.Debug("consumed message", "topic", msg.Topic, "key", string(msg.Key), "size", len(msg.Value))
			return msg, nil
		})
	})
}

// ConsumeProto consumes and unmarshals protobuf messages from Kafka
func (k *KafkaClient) ConsumeProto(ctx context.Context, reader *kafka.Reader, msg proto.Message) (string, error) {
	kafkaMsg, err := k.ReadMessage(ctx, reader)
	if err != nil {
		return "", err
	}

	if err := proto.Unmarshal(kafkaMsg.Value, msg); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeValidation, "protobuf_unmarshal",
			"failed to unmarshal protobuf message").
			WithContext("topic", kafkaMsg.Topic).
			WithContext("message_size", len(kafkaMsg.Value))
	}

	return string(kafkaMsg.Key), nil
}

// DecodeJSON unmarshals a consumed message into a new T.
func DecodeJSON[T any](msg kafka.Message) (*T, error) {
	v := new(T)
	if err := json.Unmarshal(msg.Value, v); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "json_unmarshal",
			"failed to unmarshal JSON message").
			WithContext("topic", msg.Topic).
			WithContext("offset", msg.Offset).
			WithContext("message_size", len(msg.Value))
	}
	return v, nil
}

// StartJSONConsumer consumes JSON messages of type T from topic until ctx is
// done. Malformed messages and handler errors are logged and skipped.
func StartJSONConsumer[T any](ctx context.Context, k *KafkaClient, topic, groupID string, handle func(ctx context.Context, key string, msg *T) error) error {
	reader := k.GetConsumer(topic, groupID)

	k.logger.Info("starting consumer", "topic", topic, "group_id", groupID)

	for {
		select {
		case <-ctx.Done():
			k.logger.Info("consumer stopping", "topic", topic)
			return ctx.Err()
		default:
		}

		raw, err := k.ReadMessage(ctx, reader)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			k.logger.Error("failed to consume message", "topic", topic, "error", err)
			continue
		}

		key := string(raw.Key)
		msg, err := DecodeJSON[T](raw)
		if err != nil {
			k.logger.Warn("dropping malformed message", "topic", topic, "key", key, "error", err)
			continue
		}

		if err := handle(ctx, key, msg); err != nil {
			k.logger.Error("failed to handle message", "topic", topic, "key", key, "error", err)
		}
	}
}

// Close closes all producers and consumers
func (k *KafkaClient) Close() error {
	k.writersMu.Lock()
	defer k.writersMu.Unlock()

	k.readersMu.Lock()
	defer k.readersMu.Unlock()

	var lastErr error

	// Close all writers
	for topic, writer := range k.writers {
		if err := writer.Close(); err != nil {
			k.logger.Error("failed to close producer", "topic", topic, "error", err)
			lastErr = err
		}
	}

	// Close all readers
	for key, reader := range k.readers {
		if err := reader.Close(); err != nil {
			k.logger.Error("failed to close consumer", "key", key, "error", err)
			lastErr = err
		}
	}

	k.writers = make(map[string]*kafka.Writer)
	k.readers = make(map[string]*kafka.Reader)
	return lastErr
}

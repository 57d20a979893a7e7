// Package messaging provides Kafka-based communication between lifpow
// services: job distribution, solution results and genesis reports.
package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bardlex/lifpow/pkg/circuit"
	"github.com/bardlex/lifpow/pkg/errors"
	"github.com/bardlex/lifpow/pkg/log"
	"github.com/bardlex/lifpow/pkg/retry"
)

// KafkaClient wraps kafka-go with protobuf support and connection pooling
type KafkaClient struct {
	brokers   []string
	logger    *log.Logger
	writers   map[string]*kafka.Writer
	readers   map[string]*kafka.Reader
	writersMu sync.RWMutex
	readersMu sync.RWMutex
	breaker   *circuit.Breaker
	retrier   *retry.Retrier
}

// NewKafkaClient creates a new Kafka client
func NewKafkaClient(brokers []string, logger *log.Logger) *KafkaClient {
	logger = logger.WithComponent("kafka")
	breaker := circuit.New(circuit.Config{
		Name:            "kafka",
		MaxFailures:     5,
		SuccessRequired: 3,
		Cooldown:        15 * time.Second,
		FailureWindow:   60 * time.Second,
	}, logger)

	return &KafkaClient{
		brokers: brokers,
		logger:  logger,
		writers: make(map[string]*kafka.Writer),
		readers: make(map[string]*kafka.Reader),
		breaker: breaker,
		retrier: retry.New(retry.BrokerPolicy, logger),
	}
}

// Breaker exposes the client's circuit breaker for metrics.
func (k *KafkaClient) Breaker() *circuit.Breaker {
	return k.breaker
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
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
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
		Brokers:     k.brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.LastOffset,
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

	return k.breaker.Execute(ctx, func() error {
		return k.retrier.Do(ctx, "publish_message", func() error {
			writer := k.GetProducer(topic)
			kafkaMsg := kafka.Message{
				Key:   []byte(key),
				Value: data,
				Time:  time.Now(),
			}

			if err := writer.WriteMessages(ctx, kafkaMsg); err != nil {
				return errors.Wrap(err, errors.ErrorTypeKafka, "publish_message",
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

// PublishJSON publishes a JSON message to Kafka
func (k *KafkaClient) PublishJSON(ctx context.Context, topic, key string, data []byte) error {
	return k.breaker.Execute(ctx, func() error {
		return k.retrier.Do(ctx, "publish_json", func() error {
			writer := k.GetProducer(topic)
			kafkaMsg := kafka.Message{
				Key:   []byte(key),
				Value: data,
				Time:  time.Now(),
			}

			if err := writer.WriteMessages(ctx, kafkaMsg); err != nil {
				return errors.Wrap(err, errors.ErrorTypeKafka, "publish_json",
					"failed to publish JSON message to Kafka").
					WithContext("topic", topic).
					WithContext("key", key).
					WithContext("message_size", len(data))
			}

			k.logger.Debug("published JSON message", "topic", topic, "key", key, "size", len(data))
			return nil
		})
	})
}

// ConsumeProto consumes and unmarshals protobuf messages from Kafka
func (k *KafkaClient) ConsumeProto(ctx context.Context, reader *kafka.Reader, msg proto.Message) (string, error) {
	return circuit.Call(ctx, k.breaker, func() (string, error) {
		return retry.Value(ctx, k.retrier, "consume_message", func() (string, error) {
			kafkaMsg, err := reader.ReadMessage(ctx)
			if err != nil {
				return "", errors.Wrap(err, errors.ErrorTypeKafka, "read_message",
					"failed to read message from Kafka")
			}

			if err := proto.Unmarshal(kafkaMsg.Value, msg); err != nil {
				return "", errors.Wrap(err, errors.ErrorTypeValidation, "protobuf_unmarshal",
					"failed to unmarshal protobuf message").
					WithContext("topic", kafkaMsg.Topic).
					WithContext("message_size", len(kafkaMsg.Value))
			}

			key := string(kafkaMsg.Key)
			k.logger.Debug("consumed message", "topic", kafkaMsg.Topic, "key", key, "size", len(kafkaMsg.Value))
			return key, nil
		})
	})
}

// MessageHandler defines the interface for handling Kafka messages
type MessageHandler interface {
	HandleMessage(ctx context.Context, key string, msg proto.Message) error
}

// StartConsumer starts a consumer loop for a topic
func (k *KafkaClient) StartConsumer(ctx context.Context, topic, groupID string, msgFactory func() proto.Message, handler MessageHandler) error {
	reader := k.GetConsumer(topic, groupID)
	defer func() {
		if err := reader.Close(); err != nil {
			k.logger.Error("failed to close Kafka reader", "error", err)
		}
	}()

	k.logger.Info("starting consumer", "topic", topic, "group_id", groupID)

	for {
		select {
		case <-ctx.Done():
			k.logger.Info("consumer stopping", "topic", topic)
			return ctx.Err()
		default:
		}

		msg := msgFactory()
		key, err := k.ConsumeProto(ctx, reader, msg)
		if err != nil {
			k.logger.Error("failed to consume message", "topic", topic, "error", err)
			continue
		}

		if err := handler.HandleMessage(ctx, key, msg); err != nil {
			k.logger.Error("failed to handle message", "topic", topic, "key", key, "error", err)
		}
	}
}

// ConsumeJSON reads the next message and returns its key and raw value.
func (k *KafkaClient) ConsumeJSON(ctx context.Context, reader *kafka.Reader) (string, []byte, error) {
	kafkaMsg, err := reader.ReadMessage(ctx)
	if err != nil {
		return "", nil, errors.Wrap(err, errors.ErrorTypeKafka, "read_message",
			"failed to read message from Kafka")
	}
	k.logger.Debug("consumed JSON message", "topic", kafkaMsg.Topic, "key", string(kafkaMsg.Key), "size", len(kafkaMsg.Value))
	return string(kafkaMsg.Key), kafkaMsg.Value, nil
}

// JSONHandlerFunc handles one raw JSON message.
type JSONHandlerFunc func(ctx context.Context, key string, value []byte) error

// StartJSONConsumer is StartConsumer for JSON payloads.
func (k *KafkaClient) StartJSONConsumer(ctx context.Context, topic, groupID string, handler JSONHandlerFunc) error {
	reader := k.GetConsumer(topic, groupID)

	k.logger.Info("starting JSON consumer", "topic", topic, "group_id", groupID)

	for {
		key, value, err := k.ConsumeJSON(ctx, reader)
		if err != nil {
			if ctx.Err() != nil {
				k.logger.Info("consumer stopping", "topic", topic)
				return ctx.Err()
			}
			k.logger.Error("failed to consume message", "topic", topic, "error", err)
			// Avoid spinning while the broker is unreachable.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(k.retrier.Policy().BaseDelay):
			}
			continue
		}

		if err := handler(ctx, key, value); err != nil {
			k.logger.Error("failed to handle message", "topic", topic, "key", key, "error", err)
		}
	}
}

// PublishJob publishes a job keyed by network, so one network's jobs stay
// ordered on a single partition.
func (k *KafkaClient) PublishJob(ctx context.Context, job *JobMessage) error {
	data, err := EncodeJob(job)
	if err != nil {
		return err
	}
	return k.PublishJSON(ctx, TopicJobs, job.Network, data)
}

// PublishResult publishes a solution result keyed by network.
func (k *KafkaClient) PublishResult(ctx context.Context, result *ResultMessage) error {
	msg, err := result.ToProto()
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "result_message", "failed to encode result").
			WithContext("job_id", result.JobID)
	}
	return k.PublishProto(ctx, TopicSolutions, result.Network, msg)
}

// PublishVerification publishes a genesis verification report keyed by
// network.
func (k *KafkaClient) PublishVerification(ctx context.Context, v *VerificationMessage) error {
	msg, err := v.ToProto()
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "verification_message", "failed to encode verification").
			WithContext("network", v.Network)
	}
	return k.PublishProto(ctx, TopicVerifications, v.Network, msg)
}

// ResultHandler adapts a typed callback to MessageHandler for consumers of
// TopicSolutions.
type ResultHandler func(ctx context.Context, result *ResultMessage) error

// HandleMessage decodes msg and calls h.
func (h ResultHandler) HandleMessage(ctx context.Context, _ string, msg proto.Message) error {
	s, ok := msg.(*structpb.Struct)
	if !ok {
		return errors.New(errors.ErrorTypeContract, "result_message", "unexpected message type").
			WithContext("type", fmt.Sprintf("%T", msg))
	}
	result, err := ResultFromProto(s)
	if err != nil {
		return err
	}
	return h(ctx, result)
}

// NewResultMessage allocates the message type published on TopicSolutions.
func NewResultMessage() proto.Message {
	return &structpb.Struct{}
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

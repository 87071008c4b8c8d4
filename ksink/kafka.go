package ksink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/birdayz/trench/kfn"
	"github.com/birdayz/trench/kserde"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// DefaultBatchSize is the number of buffered records that triggers a flush.
const DefaultBatchSize = 1000

// KafkaSink produces feature rows as JSON records keyed by feature id.
// Write only buffers; records are produced on Flush or when the buffer
// reaches the batch size.
type KafkaSink struct {
	client    *kgo.Client
	ownClient bool
	topic     string
	batchSize int
	log       *slog.Logger

	serializeKey   kserde.Serializer[string]
	serializeValue kserde.Serializer[kfn.FeatureRow]

	mu     sync.Mutex
	buffer []*kgo.Record
	closed bool
}

type KafkaOption func(*KafkaSink)

// WithBatchSize sets the buffer size that triggers a flush
var WithBatchSize = func(n int) KafkaOption {
	return func(s *KafkaSink) {
		s.batchSize = n
	}
}

// WithLogger sets the sink logger
var WithLogger = func(log *slog.Logger) KafkaOption {
	return func(s *KafkaSink) {
		s.log = log
	}
}

// WithOwnedClient makes Close also close the Kafka client
var WithOwnedClient = func() KafkaOption {
	return func(s *KafkaSink) {
		s.ownClient = true
	}
}

func NewKafkaSink(client *kgo.Client, topic string, opts ...KafkaOption) *KafkaSink {
	s := &KafkaSink{
		client:         client,
		topic:          topic,
		batchSize:      DefaultBatchSize,
		log:            slog.New(slog.DiscardHandler),
		serializeKey:   kserde.KeySerializer,
		serializeValue: kserde.JSONSerializer[kfn.FeatureRow](),
		buffer:         make([]*kgo.Record, 0, DefaultBatchSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureTopic creates the sink topic unless it already exists.
func (s *KafkaSink) EnsureTopic(ctx context.Context, partitions int32, replicationFactor int16) error {
	adm := kadm.NewClient(s.client)
	resp, err := adm.CreateTopics(ctx, partitions, replicationFactor, nil, s.topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", s.topic, err)
	}
	for _, t := range resp {
		if t.Err != nil && !errors.Is(t.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", t.Topic, t.Err)
		}
	}
	return nil
}

func (s *KafkaSink) Write(ctx context.Context, rows []kfn.FeatureRow) error {
	records := make([]*kgo.Record, 0, len(rows))
	for _, row := range rows {
		key, err := s.serializeKey(row.FeatureID)
		if err != nil {
			return err
		}
		value, err := s.serializeValue(row)
		if err != nil {
			return fmt.Errorf("serialize row of %s: %w", row.FeatureID, err)
		}
		records = append(records, &kgo.Record{
			Topic:     s.topic,
			Key:       key,
			Value:     value,
			Timestamp: row.Timestamp,
		})
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.buffer = append(s.buffer, records...)
	full := len(s.buffer) >= s.batchSize
	s.mu.Unlock()

	if full {
		return s.Flush(ctx)
	}
	return nil
}

// Flush produces all buffered records and waits for their acknowledgement.
func (s *KafkaSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	if len(s.buffer) == 0 {
		s.mu.Unlock()
		return nil
	}
	toFlush := s.buffer
	s.buffer = make([]*kgo.Record, 0, cap(toFlush))
	s.mu.Unlock()

	var wg sync.WaitGroup
	var errMu sync.Mutex
	var firstErr error

	for _, record := range toFlush {
		wg.Add(1)
		s.client.Produce(ctx, record, func(r *kgo.Record, err error) {
			defer wg.Done()
			if err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("produce feature row to %s: %w", r.Topic, err)
				}
				errMu.Unlock()
			}
		})
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	s.log.Debug("Flushed feature rows", "topic", s.topic, "records", len(toFlush))
	return nil
}

// BufferSize returns the current number of buffered records
func (s *KafkaSink) BufferSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// Close flushes remaining records and stops accepting writes.
func (s *KafkaSink) Close() error {
	err := s.Flush(context.Background())

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	if s.ownClient {
		s.client.Close()
	}
	return err
}

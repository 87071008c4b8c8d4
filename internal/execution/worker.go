package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/birdayz/trench/kfn"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"
)

type RoutineState string

const (
	StateRunning        RoutineState = "RUNNING"
	StateCloseRequested RoutineState = "CLOSE_REQUESTED"
	StateClosed         RoutineState = "CLOSED"
)

// Defaults for WorkerConfig.
const (
	DefaultShutdownTimeout      = 30 * time.Second
	DefaultPollTimeout          = 5 * time.Second
	DefaultRecordProcessTimeout = 30 * time.Second
	DefaultCommitInterval       = 5 * time.Second
	DefaultMaxPollRecords       = 500
)

// EventDecoder turns a consumed record into an event.
type EventDecoder func(record *kgo.Record) (kfn.Event, error)

// WorkerConfig holds configuration for a Worker
type WorkerConfig struct {
	Brokers []string
	Group   string
	Topics  []string

	// Decoder defaults to JSON events. Records without an event type take
	// the topic name; records without an id get topic/partition/offset.
	Decoder EventDecoder

	PollTimeout          time.Duration
	RecordProcessTimeout time.Duration
	MaxPollRecords       int
	CommitInterval       time.Duration
	ErrorHandler         ErrorHandler
	DLQTopic             string
	ShutdownTimeout      time.Duration
}

func (c *WorkerConfig) setDefaults() {
	if c.Decoder == nil {
		c.Decoder = func(r *kgo.Record) (kfn.Event, error) {
			return kfn.EventJSON.Deserializer(r.Value)
		}
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	if c.RecordProcessTimeout <= 0 {
		c.RecordProcessTimeout = DefaultRecordProcessTimeout
	}
	if c.MaxPollRecords <= 0 {
		c.MaxPollRecords = DefaultMaxPollRecords
	}
	if c.CommitInterval <= 0 {
		c.CommitInterval = DefaultCommitInterval
	}
	if c.ErrorHandler == nil {
		c.ErrorHandler = DefaultErrorHandler()
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
}

// Worker consumes events from Kafka and processes them with an Engine.
// Offsets are committed after the rows of every processed event have been
// flushed to the sink (at-least-once).
type Worker struct {
	client *kgo.Client
	engine *Engine
	log    *slog.Logger
	cfg    WorkerConfig

	state RoutineState

	closeRequested chan struct{}

	cancelPollMtx sync.Mutex
	cancelPoll    func()

	closed    sync.WaitGroup
	closeOnce sync.Once

	pending              []*kgo.Record
	lastSuccessfulCommit time.Time

	err error
}

// NewWorker creates a consumer group member for cfg.Topics.
func NewWorker(log *slog.Logger, engine *Engine, cfg WorkerConfig, opts ...kgo.Opt) (*Worker, error) {
	if engine == nil {
		return nil, fmt.Errorf("%w: nil engine", ErrInvalidEngineInput)
	}
	if len(cfg.Topics) == 0 {
		return nil, fmt.Errorf("%w: no topics to consume", ErrInvalidEngineInput)
	}
	cfg.setDefaults()

	consumerOpts := append([]kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.DisableAutoCommit(),
	}, opts...)
	client, err := kgo.NewClient(consumerOpts...)
	if err != nil {
		return nil, err
	}

	w := &Worker{
		client:               client,
		engine:               engine,
		log:                  log.With("group", cfg.Group),
		cfg:                  cfg,
		state:                StateRunning,
		closeRequested:       make(chan struct{}, 1),
		lastSuccessfulCommit: time.Now(),
	}
	w.closed.Add(1)
	return w, nil
}

func (w *Worker) changeState(newState RoutineState) {
	w.log.Info("Change state", "from", w.state, "to", newState)
	w.state = newState
}

// Run processes events until Close is called or a record fails with
// RecoveryFail.
func (w *Worker) Run() error {
	for {
		switch w.state {
		case StateRunning:
			w.handleRunning()
		case StateCloseRequested:
			w.handleCloseRequested()
		case StateClosed:
			w.closed.Done()
			return w.err
		}
	}
}

// ErrShutdownTimeout is returned when graceful shutdown exceeds the timeout
var ErrShutdownTimeout = errors.New("worker shutdown timed out")

func (w *Worker) Close() error {
	w.closeOnce.Do(func() {
		w.cancelPollMtx.Lock()
		select {
		case w.closeRequested <- struct{}{}:
		default:
		}
		if w.cancelPoll != nil {
			w.cancelPoll()
		}
		w.cancelPollMtx.Unlock()
	})

	done := make(chan struct{})
	go func() {
		w.closed.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(w.cfg.ShutdownTimeout):
		w.log.Error("Shutdown timeout exceeded", "timeout", w.cfg.ShutdownTimeout)
		return ErrShutdownTimeout
	}
}

func (w *Worker) handleRunning() {
	w.cancelPollMtx.Lock()
	select {
	case <-w.closeRequested:
		w.changeState(StateCloseRequested)
		w.cancelPollMtx.Unlock()
		return
	default:
	}
	pollCtx, cancel := context.WithTimeout(context.Background(), w.cfg.PollTimeout)
	defer cancel()
	w.cancelPoll = cancel
	w.cancelPollMtx.Unlock()

	f := w.client.PollRecords(pollCtx, w.cfg.MaxPollRecords)
	if f.IsClientClosed() {
		w.changeState(StateCloseRequested)
		return
	}
	if errors.Is(f.Err(), context.Canceled) {
		return
	}

	for _, fetchError := range f.Errors() {
		if errors.Is(fetchError.Err, context.DeadlineExceeded) || errors.Is(fetchError.Err, context.Canceled) {
			continue
		}
		w.log.Error("fetch error", "error", fetchError.Err, "topic", fetchError.Topic, "partition", fetchError.Partition)
		w.err = fmt.Errorf("fetch error on topic %s, partition %d: %w", fetchError.Topic, fetchError.Partition, fetchError.Err)
		w.changeState(StateCloseRequested)
		return
	}

	// Partitions run in parallel; records of one partition in order.
	var g errgroup.Group
	f.EachPartition(func(fetch kgo.FetchTopicPartition) {
		if len(fetch.Records) == 0 {
			return
		}
		g.Go(func() error {
			for _, record := range fetch.Records {
				if err := w.processRecord(record); err != nil {
					return err
				}
			}
			w.log.Debug("Processed", "topic", fetch.Topic, "partition", fetch.Partition, "len", len(fetch.Records))
			return nil
		})
	})
	if err := g.Wait(); err != nil {
		w.err = err
		w.changeState(StateCloseRequested)
		return
	}
	w.pending = append(w.pending, f.Records()...)

	if time.Since(w.lastSuccessfulCommit) >= w.cfg.CommitInterval {
		if err := w.commit(); err != nil {
			w.log.Error("failed to commit", "error", err)
			w.err = err
			w.changeState(StateCloseRequested)
		}
	}
}

// processRecord returns an error only when the worker must stop.
func (w *Worker) processRecord(record *kgo.Record) error {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.RecordProcessTimeout)
	defer cancel()

	err := w.process(ctx, record)
	if err == nil {
		return nil
	}

	switch w.cfg.ErrorHandler(ctx, err, record) {
	case RecoverySkip:
		w.log.Warn("Skipping failed record", "error", err,
			"topic", record.Topic, "partition", record.Partition, "offset", record.Offset)
		return nil
	case RecoveryDLQ:
		if w.cfg.DLQTopic == "" {
			return fmt.Errorf("DLQ recovery requested but no DLQ topic configured: %w", err)
		}
		if sendErr := w.sendToDLQ(ctx, record, err); sendErr != nil {
			return fmt.Errorf("failed to send to DLQ: %w", sendErr)
		}
		w.log.Warn("Sent failed record to DLQ", "dlq_topic", w.cfg.DLQTopic,
			"topic", record.Topic, "partition", record.Partition, "offset", record.Offset, "error", err)
		return nil
	default:
		w.log.Error("Failed to process record, closing worker", "error", err,
			"topic", record.Topic, "partition", record.Partition, "offset", record.Offset)
		return err
	}
}

func (w *Worker) process(ctx context.Context, record *kgo.Record) error {
	event, err := w.cfg.Decoder(record)
	if err != nil {
		return (&ProcessingError{Cause: err, Stage: StageDecode}).withRecord(record)
	}
	if event.Type == "" {
		event.Type = record.Topic
	}
	if event.ID == "" {
		event.ID = record.Topic + "/" + strconv.Itoa(int(record.Partition)) + "/" + strconv.FormatInt(record.Offset, 10)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = record.Timestamp
	}

	if _, err := w.engine.Process(ctx, event, ProcessOptions{}); err != nil {
		var pe *ProcessingError
		if errors.As(err, &pe) {
			pe.withRecord(record)
		}
		return err
	}
	return nil
}

// commit flushes the sink, then commits the offsets of processed records.
func (w *Worker) commit() error {
	if len(w.pending) == 0 {
		w.lastSuccessfulCommit = time.Now()
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if w.engine.sink != nil {
		if err := w.engine.sink.Flush(ctx); err != nil {
			return fmt.Errorf("flush sink: %w", err)
		}
	}
	if err := w.client.CommitRecords(ctx, w.pending...); err != nil {
		return fmt.Errorf("commit offsets: %w", err)
	}
	w.log.Debug("Committed", "records", len(w.pending))
	w.pending = w.pending[:0]
	w.lastSuccessfulCommit = time.Now()
	return nil
}

func (w *Worker) handleCloseRequested() {
	// Only a clean stop commits; after a failure the records are redelivered.
	if w.err == nil {
		if err := w.commit(); err != nil {
			w.log.Error("Failed to commit on close", "error", err)
			w.err = err
		}
	}
	w.client.Close()
	w.changeState(StateClosed)
}

// sendToDLQ sends a failed record to the dead letter queue topic
func (w *Worker) sendToDLQ(ctx context.Context, record *kgo.Record, originalErr error) error {
	dlqRecord := &kgo.Record{
		Topic: w.cfg.DLQTopic,
		Key:   record.Key,
		Value: record.Value,
		Headers: append(record.Headers,
			kgo.RecordHeader{Key: "trench.original.topic", Value: []byte(record.Topic)},
			kgo.RecordHeader{Key: "trench.original.partition", Value: []byte(strconv.Itoa(int(record.Partition)))},
			kgo.RecordHeader{Key: "trench.original.offset", Value: []byte(strconv.FormatInt(record.Offset, 10))},
			kgo.RecordHeader{Key: "trench.error", Value: []byte(originalErr.Error())},
		),
	}
	return w.client.ProduceSync(ctx, dlqRecord).FirstErr()
}

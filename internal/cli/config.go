package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/birdayz/trench"
	"github.com/birdayz/trench/internal/execution"
	"github.com/birdayz/trench/kdag"
	"github.com/birdayz/trench/kdag/s3source"
	"github.com/birdayz/trench/kfn"
	"github.com/birdayz/trench/kproto"
	"github.com/birdayz/trench/ksink"
	"github.com/birdayz/trench/kstate"
	"github.com/birdayz/trench/kstate/badger"
	"github.com/birdayz/trench/kstate/pebble"
	"github.com/go-playground/validator/v10"
	"github.com/twmb/franz-go/pkg/kgo"
	"gopkg.in/yaml.v3"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config is the file read by `trench run`.
type Config struct {
	Graph   GraphConfig   `yaml:"graph"`
	Store   StoreConfig   `yaml:"store"`
	Sink    SinkConfig    `yaml:"sink"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	Engine  EngineConfig  `yaml:"engine"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// GraphConfig locates the node snapshot, either a local file or an object.
type GraphConfig struct {
	File  string           `yaml:"file" validate:"required_without=S3"`
	S3    *s3source.Config `yaml:"s3" validate:"omitempty"`
	Prune bool             `yaml:"prune"`
}

type StoreConfig struct {
	Type string `yaml:"type" validate:"oneof=memory badger pebble"`
	Path string `yaml:"path" validate:"required_unless=Type memory"`
	Sync bool   `yaml:"sync"`
}

type SinkConfig struct {
	Type              string `yaml:"type" validate:"oneof=none sqlite kafka"`
	Path              string `yaml:"path" validate:"required_if=Type sqlite"`
	Topic             string `yaml:"topic" validate:"required_if=Type kafka"`
	CreateTopic       bool   `yaml:"createTopic"`
	Partitions        int32  `yaml:"partitions" validate:"gte=0"`
	ReplicationFactor int16  `yaml:"replicationFactor" validate:"gte=0"`
	BatchSize         int    `yaml:"batchSize" validate:"gte=0"`
}

type KafkaConfig struct {
	Brokers        []string      `yaml:"brokers" validate:"min=1,dive,hostname_port"`
	Group          string        `yaml:"group" validate:"required"`
	Topics         []string      `yaml:"topics" validate:"min=1,dive,required"`
	Encoding       string        `yaml:"encoding" validate:"oneof=json protobuf"`
	Workers        int           `yaml:"workers" validate:"gte=0"`
	CommitInterval time.Duration `yaml:"commitInterval" validate:"gte=0"`
	OnError        string        `yaml:"onError" validate:"oneof=fail skip dlq"`
	DLQTopic       string        `yaml:"dlqTopic" validate:"required_if=OnError dlq"`
}

type EngineConfig struct {
	MaxConcurrentEvents int `yaml:"maxConcurrentEvents" validate:"gte=0"`
	PureConcurrency     int `yaml:"pureConcurrency" validate:"gte=0"`
	StatefulConcurrency int `yaml:"statefulConcurrency" validate:"gte=0"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr" validate:"omitempty,hostname_port"`
}

func defaultConfig() Config {
	return Config{
		Store: StoreConfig{Type: "memory"},
		Sink:  SinkConfig{Type: "none", Partitions: 1, ReplicationFactor: 1},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Group:   "trench",
			Workers:  1,
			Encoding: "json",
			OnError:  "fail",
		},
	}
}

// LoadConfig reads and validates a YAML config file. Relative paths are
// resolved against the file's directory.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	for _, p := range []*string{&cfg.Graph.File, &cfg.Store.Path, &cfg.Sink.Path} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}

	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// loadGraph reads the configured snapshot.
func (c GraphConfig) loadGraph(ctx context.Context, log *slog.Logger) ([]kdag.NodeDef, error) {
	var src kdag.Source
	if c.S3 != nil {
		s3src, err := s3source.New(*c.S3)
		if err != nil {
			return nil, err
		}
		src = s3src
	} else {
		src = kdag.NewFileSource(c.File, log)
	}
	return src.Load(ctx)
}

// openStore opens the configured counting store. Closing the store closes
// its backend.
func (c StoreConfig) openStore(log *slog.Logger) (*kstate.Store, error) {
	switch c.Type {
	case "", "memory":
		return kstate.NewMemoryStore(), nil
	case "badger":
		cfg := badger.DefaultConfig(c.Path)
		cfg.SyncWrites = c.Sync
		cfg.Logger = log.WithGroup("badger")
		backend, err := badger.Open(cfg)
		if err != nil {
			return nil, err
		}
		return kstate.NewStore(backend), nil
	case "pebble":
		backend, err := pebble.Open(c.Path, pebble.WithSync(c.Sync))
		if err != nil {
			return nil, err
		}
		return kstate.NewStore(backend), nil
	}
	return nil, fmt.Errorf("unknown store type %q", c.Type)
}

// openSink returns nil for the none type.
func (c SinkConfig) openSink(ctx context.Context, brokers []string, log *slog.Logger) (ksink.Sink, error) {
	switch c.Type {
	case "", "none":
		return nil, nil
	case "sqlite":
		return ksink.OpenSQLite(c.Path)
	case "kafka":
		client, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
		if err != nil {
			return nil, err
		}
		opts := []ksink.KafkaOption{ksink.WithOwnedClient(), ksink.WithLogger(log.WithGroup("sink"))}
		if c.BatchSize > 0 {
			opts = append(opts, ksink.WithBatchSize(c.BatchSize))
		}
		s := ksink.NewKafkaSink(client, c.Topic, opts...)
		if c.CreateTopic {
			if err := s.EnsureTopic(ctx, c.Partitions, c.ReplicationFactor); err != nil {
				_ = s.Close()
				return nil, err
			}
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown sink type %q", c.Type)
}

func (c KafkaConfig) errorHandler() execution.ErrorHandler {
	recovery := trench.RecoveryFail
	switch c.OnError {
	case "skip":
		recovery = trench.RecoverySkip
	case "dlq":
		recovery = trench.RecoveryDLQ
	}
	return func(_ context.Context, err error, _ *kgo.Record) trench.ErrorRecovery {
		// Context errors are never the record's fault.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return trench.RecoveryFail
		}
		return recovery
	}
}

// decoder returns nil for JSON, which is the worker default.
func (c KafkaConfig) decoder() execution.EventDecoder {
	if c.Encoding != "protobuf" {
		return nil
	}
	return func(r *kgo.Record) (kfn.Event, error) {
		return kproto.Event.Deserializer(r.Value)
	}
}

func (c EngineConfig) options() []trench.Option {
	var opts []trench.Option
	if c.MaxConcurrentEvents > 0 {
		opts = append(opts, trench.WithMaxConcurrentEvents(c.MaxConcurrentEvents))
	}
	if c.PureConcurrency > 0 {
		opts = append(opts, trench.WithPureConcurrency(c.PureConcurrency))
	}
	if c.StatefulConcurrency > 0 {
		opts = append(opts, trench.WithStatefulConcurrency(c.StatefulConcurrency))
	}
	return opts
}

// Package kafka implements the Kafka reporter plugin.
// It publishes each event as one message keyed by board and event number.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"firestige.xyz/lappd/internal/log"
	"firestige.xyz/lappd/pkg/models"
	"firestige.xyz/lappd/pkg/plugin"
)

// Name is the registry name of the Kafka reporter.
const Name = "kafka"

const (
	defaultBatchSize    = 100
	defaultBatchTimeout = 100 * time.Millisecond
	defaultCompression  = "snappy"
	defaultMaxAttempts  = 3
	defaultEncoding     = "json"
)

// messageWriter is the part of *kafka.Writer the reporter uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaReporter sends events to Kafka.
type KafkaReporter struct {
	writer  messageWriter
	encoder models.Encoder
	config  Config

	// Statistics
	reportedCount atomic.Uint64
	errorCount    atomic.Uint64
}

// Config represents Kafka reporter configuration.
type Config struct {
	Brokers      []string      `mapstructure:"brokers"`       // required
	Topic        string        `mapstructure:"topic"`         // required
	BatchSize    int           `mapstructure:"batch_size"`    // optional, default 100
	BatchTimeout time.Duration `mapstructure:"batch_timeout"` // optional, default 100ms
	Compression  string        `mapstructure:"compression"`   // optional: none|gzip|snappy|lz4|zstd, default snappy
	MaxAttempts  int           `mapstructure:"max_attempts"`  // optional, default 3
	Encoding     string        `mapstructure:"encoding"`      // optional: json|msgpack|protobuf, default json
	Async        bool          `mapstructure:"async"`         // optional, errors are only logged
}

// NewKafkaReporter creates a new Kafka reporter.
func NewKafkaReporter() plugin.Reporter {
	return &KafkaReporter{}
}

// Name returns the plugin name.
func (r *KafkaReporter) Name() string { return Name }

// Init initializes the reporter with configuration.
func (r *KafkaReporter) Init(config map[string]any) error {
	if config == nil {
		return fmt.Errorf("kafka reporter requires configuration")
	}

	cfg := Config{
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
		Compression:  defaultCompression,
		MaxAttempts:  defaultMaxAttempts,
		Encoding:     defaultEncoding,
	}
	if err := plugin.DecodeConfig(config, &cfg); err != nil {
		return err
	}
	if len(cfg.Brokers) == 0 {
		return fmt.Errorf("brokers is required")
	}
	if cfg.Topic == "" {
		return fmt.Errorf("topic is required")
	}

	encoder, err := models.NewEncoder(cfg.Encoding)
	if err != nil {
		return err
	}

	writerConfig := kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{}, // one board's events stay on one partition
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		MaxAttempts:  cfg.MaxAttempts,
		Async:        cfg.Async,
	}

	switch cfg.Compression {
	case "none", "":
		writerConfig.CompressionCodec = nil
	case "gzip":
		writerConfig.CompressionCodec = compress.Gzip.Codec()
	case "snappy":
		writerConfig.CompressionCodec = compress.Snappy.Codec()
	case "lz4":
		writerConfig.CompressionCodec = compress.Lz4.Codec()
	case "zstd":
		writerConfig.CompressionCodec = compress.Zstd.Codec()
	default:
		return fmt.Errorf("invalid compression type: %s", cfg.Compression)
	}

	if cfg.Async {
		writerConfig.ErrorLogger = kafka.LoggerFunc(log.GetLogger().WithField("reporter", Name).Errorf)
	}

	r.config = cfg
	r.encoder = encoder
	r.writer = kafka.NewWriter(writerConfig)
	return nil
}

// Start starts the reporter.
func (r *KafkaReporter) Start(ctx context.Context) error {
	log.GetLogger().WithFields(map[string]interface{}{
		"brokers":       r.config.Brokers,
		"topic":         r.config.Topic,
		"batch_size":    r.config.BatchSize,
		"batch_timeout": r.config.BatchTimeout,
		"compression":   r.config.Compression,
		"encoding":      r.config.Encoding,
	}).Info("kafka reporter started")
	return nil
}

// Stop closes the writer, which flushes pending messages.
func (r *KafkaReporter) Stop(ctx context.Context) error {
	logger := log.GetLogger().WithField("reporter", Name)
	if r.writer != nil {
		if err := r.writer.Close(); err != nil {
			logger.WithError(err).Error("error closing kafka writer")
			return err
		}
	}

	logger.WithFields(map[string]interface{}{
		"total_reported": r.reportedCount.Load(),
		"total_errors":   r.errorCount.Load(),
	}).Info("kafka reporter stopped")
	return nil
}

// Report sends an event to Kafka.
func (r *KafkaReporter) Report(ctx context.Context, rec *models.EventRecord) error {
	if rec == nil {
		return fmt.Errorf("nil event")
	}
	if r.writer == nil {
		return errors.New("kafka reporter not initialised")
	}

	value, err := r.encoder.Encode(rec)
	if err != nil {
		r.errorCount.Add(1)
		return fmt.Errorf("encode event failed: %w", err)
	}

	msg := kafka.Message{
		Key:   rec.Key(),
		Value: value,
		Time:  time.Unix(0, rec.CreatedNs),
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte(r.encoder.ContentType())},
			{Key: "board", Value: []byte(rec.Board)},
		},
	}

	if err := r.writer.WriteMessages(ctx, msg); err != nil {
		r.errorCount.Add(1)
		return fmt.Errorf("kafka write failed: %w", err)
	}

	r.reportedCount.Add(1)
	return nil
}

// Flush is a no-op: synchronous writes return once the batch is
// acknowledged, and Stop drains asynchronous ones.
func (r *KafkaReporter) Flush(ctx context.Context) error {
	return nil
}

package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Producer publishes lifecycle events to Kafka/RedPanda. Durable events go
// through PublishEvent; the high-frequency price stream uses ProduceAsync.
type Producer interface {
	// PublishEvent routes a typed event to its canonical topic, keyed by
	// token mint so per-token ordering holds, and waits for broker
	// acknowledgement. The event must marshal to JSON.
	PublishEvent(ctx context.Context, typ EventType, tokenMint string, event any) error
	// ProduceAsync sends a raw record without waiting for acknowledgement.
	// Delivery errors are logged, never returned.
	ProduceAsync(ctx context.Context, topic string, key, value []byte) error
	// Flush waits for buffered records to be delivered. Returns 0 on success.
	Flush(timeout time.Duration) int
	// Close flushes pending records and shuts down the producer.
	Close()
}

// ProducerOption configures a KafkaProducer.
type ProducerOption func(*producerConfig)

type producerConfig struct {
	instanceID         string
	schemaVersion      string
	maxBufferedRecords int
	linger             time.Duration
	batchMaxBytes      int32
}

// WithInstanceID sets the producer identity used as ClientID and stamped
// into the producer header of every record.
func WithInstanceID(id string) ProducerOption {
	return func(c *producerConfig) { c.instanceID = id }
}

// WithSchemaVersion sets the schema version included in record headers.
func WithSchemaVersion(v string) ProducerOption {
	return func(c *producerConfig) { c.schemaVersion = v }
}

// WithMaxBufferedRecords sets the maximum number of records buffered before blocking.
func WithMaxBufferedRecords(n int) ProducerOption {
	return func(c *producerConfig) { c.maxBufferedRecords = n }
}

// WithLinger sets the time to wait for batching before sending.
func WithLinger(d time.Duration) ProducerOption {
	return func(c *producerConfig) { c.linger = d }
}

// WithBatchMaxBytes sets the maximum batch size in bytes.
func WithBatchMaxBytes(n int32) ProducerOption {
	return func(c *producerConfig) { c.batchMaxBytes = n }
}

// KafkaProducer publishes through franz-go with Snappy compression and
// all-ISR acknowledgements on the durable path.
type KafkaProducer struct {
	client   *kgo.Client
	identity []kgo.RecordHeader
	mu       sync.RWMutex
	closed   bool
}

// NewProducer creates a Kafka producer.
func NewProducer(brokers []string, opts ...ProducerOption) (*KafkaProducer, error) {
	cfg := &producerConfig{
		instanceID:         "gradient-core",
		schemaVersion:      "1.0.0",
		maxBufferedRecords: 10000,
		linger:             5 * time.Millisecond,
		batchMaxBytes:      1024 * 1024, // 1MB
	}
	for _, opt := range opts {
		opt(cfg)
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(cfg.instanceID),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(cfg.linger),
		kgo.MaxBufferedRecords(cfg.maxBufferedRecords),
		kgo.ProducerBatchMaxBytes(cfg.batchMaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	p := &KafkaProducer{
		client: client,
		identity: []kgo.RecordHeader{
			{Key: "producer", Value: []byte(cfg.instanceID)},
			{Key: "schema_version", Value: []byte(cfg.schemaVersion)},
		},
	}

	log.Info().
		Strs("brokers", brokers).
		Str("instance_id", cfg.instanceID).
		Msg("kafka producer created (franz-go)")

	return p, nil
}

// PublishEvent marshals the event, routes it to Topics.ForType, keys it by
// mint and waits for the broker to acknowledge the write.
func (p *KafkaProducer) PublishEvent(ctx context.Context, typ EventType, tokenMint string, event any) error {
	if err := p.open(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}

	record := &kgo.Record{
		Topic:     Topics.ForType(typ),
		Key:       []byte(tokenMint),
		Value:     data,
		Headers:   append([]kgo.RecordHeader{{Key: "event_type", Value: []byte(typ)}}, p.identity...),
		Timestamp: time.Now(),
	}

	results := p.client.ProduceSync(ctx, record)
	if err := results.FirstErr(); err != nil {
		log.Error().Err(err).
			Str("event_type", string(typ)).
			Str("mint", tokenMint).
			Msg("failed to publish event")
		return fmt.Errorf("publish %s: %w", typ, err)
	}

	r := results[0].Record
	log.Debug().
		Str("topic", r.Topic).
		Str("event_type", string(typ)).
		Int32("partition", r.Partition).
		Int64("offset", r.Offset).
		Msg("event published")

	return nil
}

// ProduceAsync sends a raw record fire-and-forget. The price stream's path:
// a tick that fails to deliver is superseded by the next one anyway.
func (p *KafkaProducer) ProduceAsync(ctx context.Context, topic string, key, value []byte) error {
	if err := p.open(); err != nil {
		return err
	}

	record := &kgo.Record{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Headers: p.identity,
	}

	p.client.Produce(ctx, record, func(r *kgo.Record, err error) {
		if err != nil {
			log.Error().Err(err).
				Str("topic", topic).
				Msg("async produce failed")
		}
	})

	return nil
}

func (p *KafkaProducer) open() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("producer is closed")
	}
	return nil
}

// Flush waits for all buffered records to be delivered. Returns 0 on success, 1 on error.
func (p *KafkaProducer) Flush(timeout time.Duration) int {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := p.client.Flush(ctx); err != nil {
		log.Error().Err(err).Msg("flush failed")
		return 1
	}
	return 0
}

// Close flushes pending records and shuts down the producer.
func (p *KafkaProducer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.client.Close()
	log.Info().Msg("kafka producer closed")
}

// --- Stub producer for development/testing ---

// StubProducer implements Producer by buffering records in memory.
// Used when Kafka is unavailable or in unit tests.
type StubProducer struct {
	Records []StubRecord
	mu      sync.Mutex
}

// StubRecord is a record captured by StubProducer. Type is empty for raw
// async produces.
type StubRecord struct {
	Type  EventType
	Topic string
	Key   string
	Value []byte
}

// NewStubProducer creates a new in-memory stub producer.
func NewStubProducer() *StubProducer {
	return &StubProducer{Records: make([]StubRecord, 0, 1024)}
}

func (p *StubProducer) PublishEvent(_ context.Context, typ EventType, tokenMint string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.Records = append(p.Records, StubRecord{Type: typ, Topic: Topics.ForType(typ), Key: tokenMint, Value: data})
	p.mu.Unlock()
	return nil
}

func (p *StubProducer) ProduceAsync(_ context.Context, topic string, key, value []byte) error {
	p.mu.Lock()
	p.Records = append(p.Records, StubRecord{Topic: topic, Key: string(key), Value: value})
	p.mu.Unlock()
	log.Debug().Str("topic", topic).Int("bytes", len(value)).Msg("stub: produce")
	return nil
}

// OfType returns captured records published as typ.
func (p *StubProducer) OfType(typ EventType) []StubRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []StubRecord
	for _, r := range p.Records {
		if r.Type == typ {
			out = append(out, r)
		}
	}
	return out
}

func (p *StubProducer) Flush(_ time.Duration) int { return 0 }

func (p *StubProducer) Close() {
	log.Info().Msg("stub: producer closed")
}

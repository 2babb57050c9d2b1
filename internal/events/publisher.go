// Package events publishes dictation activity to Kafka.
//
// Final recogniser segments and saved dictations are encoded as JSON and
// written to two topics. When publishing is disabled (or no brokers are
// configured) the publisher runs in log-only mode: events are logged at debug
// level and counted, but nothing leaves the process.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/MrWong99/blink/internal/observe"
)

// Writer is the subset of [kafka.Writer] used by [Publisher].
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config holds the Kafka publisher configuration.
type Config struct {
	Enabled         bool
	Brokers         []string
	TopicSegments   string
	TopicDictations string

	// Principal is attached to every message as a header so consumers can
	// tell which deployment produced it.
	Principal string
}

// SegmentEvent is published for every final recogniser segment.
type SegmentEvent struct {
	SessionID  string    `json:"sessionId"`
	UserID     string    `json:"userId"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// DictationEvent is published whenever a dictation is saved.
type DictationEvent struct {
	DictationID string    `json:"dictationId"`
	UserID      string    `json:"userId"`
	Text        string    `json:"text"`
	DurationSec int       `json:"durationSec"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Publisher writes events to the segment and dictation topics.
// All methods are safe for concurrent use.
type Publisher struct {
	segments   Writer
	dictations Writer
	cfg        Config
	enabled    bool
	metrics    *observe.Metrics
}

// New creates a Publisher for cfg. Both topics share one transport with a
// generous dial timeout. A nil metrics falls back to [observe.DefaultMetrics].
func New(cfg Config, m *observe.Metrics) *Publisher {
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		slog.Info("kafka disabled, events are log-only")
		return NewWithWriters(cfg, nil, nil, m)
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{Dial: dialer.DialFunc}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	slog.Info("kafka publisher initialised",
		"brokers", cfg.Brokers,
		"topic_segments", cfg.TopicSegments,
		"topic_dictations", cfg.TopicDictations,
		"principal", cfg.Principal,
	)
	return NewWithWriters(cfg, newWriter(cfg.TopicSegments), newWriter(cfg.TopicDictations), m)
}

// NewWithWriters creates a Publisher around pre-built writers. Passing nil
// writers yields a log-only publisher.
func NewWithWriters(cfg Config, segments, dictations Writer, m *observe.Metrics) *Publisher {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Publisher{
		segments:   segments,
		dictations: dictations,
		cfg:        cfg,
		enabled:    segments != nil && dictations != nil,
		metrics:    m,
	}
}

// Enabled reports whether events are written to Kafka.
func (p *Publisher) Enabled() bool { return p.enabled }

// PublishSegment publishes a final segment keyed by session ID, so all
// segments of one session land on the same partition in order.
func (p *Publisher) PublishSegment(ctx context.Context, ev SegmentEvent) error {
	return p.publish(ctx, p.segments, p.cfg.TopicSegments, "segment", ev.SessionID, ev)
}

// PublishDictation publishes a saved dictation keyed by user ID.
func (p *Publisher) PublishDictation(ctx context.Context, ev DictationEvent) error {
	return p.publish(ctx, p.dictations, p.cfg.TopicDictations, "dictation", ev.UserID, ev)
}

func (p *Publisher) publish(ctx context.Context, w Writer, topic, eventType, key string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: marshal %s event: %w", eventType, err)
	}

	slog.Debug("publishing event",
		"topic", topic,
		"event_type", eventType,
		"key", key,
		"payload", string(payload),
	)

	if !p.enabled {
		p.metrics.RecordEventPublish(ctx, topic, nil)
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.cfg.Principal)},
		},
	}
	if err := w.WriteMessages(ctx, msg); err != nil {
		p.metrics.RecordEventPublish(ctx, topic, err)
		slog.Error("kafka write failed", "topic", topic, "key", key, "err", err)
		return fmt.Errorf("events: write %s: %w", topic, err)
	}
	p.metrics.RecordEventPublish(ctx, topic, nil)
	return nil
}

// Close flushes and closes both writers.
func (p *Publisher) Close() error {
	var errs []error
	for _, w := range []Writer{p.segments, p.dictations} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Package events publishes call lifecycle and transcript events.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"crm-call-service/internal/observability/metrics"
)

const (
	EventStateChanged       = "call.state.changed"
	EventTranscriptAppended = "call.transcript.appended"
)

// Publisher publishes call events to separate Kafka topics for state changes
// and transcript entries. Writers are asynchronous so publishing never blocks
// the session loop.
type Publisher struct {
	writerState      *kafka.Writer
	writerTranscript *kafka.Writer
	principal        string
	topicState       string
	topicTranscript  string
	enabled          bool
	metrics          *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers         []string
	TopicState      string
	TopicTranscript string
	Principal       string
	Enabled         bool
}

// New creates a new Kafka event publisher.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			enabled: false,
			metrics: m,
		}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:       cfg.Principal,
			topicState:      cfg.TopicState,
			topicTranscript: cfg.TopicTranscript,
			enabled:         false,
			metrics:         m,
		}
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	p := &Publisher{
		principal:       cfg.Principal,
		topicState:      cfg.TopicState,
		topicTranscript: cfg.TopicTranscript,
		enabled:         true,
		metrics:         m,
	}
	p.writerState = p.newWriter(cfg.Brokers, cfg.TopicState, EventStateChanged, transport)
	p.writerTranscript = p.newWriter(cfg.Brokers, cfg.TopicTranscript, EventTranscriptAppended, transport)

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicState", cfg.TopicState).
		Str("topicTranscript", cfg.TopicTranscript).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return p
}

func (p *Publisher) newWriter(brokers []string, topic, eventType string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Transport:    transport,
		Completion: func(messages []kafka.Message, err error) {
			for range messages {
				p.metrics.RecordKafkaPublish(topic, eventType, err)
			}
			if err != nil {
				log.Error().Err(err).Str("topic", topic).Int("messages", len(messages)).Msg("Failed to write to Kafka")
			}
		},
	}
}

// PublishState publishes a call state change keyed by session id.
func (p *Publisher) PublishState(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.writerState, p.topicState, EventStateChanged, key, event)
}

// PublishTranscript publishes an appended transcript entry keyed by session id.
func (p *Publisher) PublishTranscript(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.writerTranscript, p.topicTranscript, EventTranscriptAppended, key, event)
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil)
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	// Async writer: delivery errors surface through Completion.
	return writer.WriteMessages(ctx, msg)
}

// Close flushes and closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerState != nil {
		if e := p.writerState.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing state writer")
			err = e
		}
	}
	if p.writerTranscript != nil {
		if e := p.writerTranscript.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing transcript writer")
			err = e
		}
	}
	return err
}

// Package events publishes monitor lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/cronnarc/cronguard/internal/metrics"
	"github.com/cronnarc/cronguard/internal/model"
)

type Publisher interface {
	Publish(ctx context.Context, ev model.Event) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events keyed by monitor id so one monitor's events
// stay ordered within a partition.
type KafkaPublisher struct {
	w     messageWriter
	topic string
	log   *zap.Logger
}

func NewKafkaPublisher(brokers []string, topic string, log *zap.Logger) *KafkaPublisher {
	return newKafkaPublisher(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}, topic, log)
}

func newKafkaPublisher(w messageWriter, topic string, log *zap.Logger) *KafkaPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &KafkaPublisher{
		w:     w,
		topic: topic,
		log:   log.With(zap.String("component", "kafka.producer"), zap.String("topic", topic)),
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev model.Event) error {
	msg, err := encode(ev)
	if err != nil {
		p.log.Error("event marshal failed", zap.Error(err))
		metrics.EventsPublished.WithLabelValues(string(ev.Type), "error").Inc()
		return err
	}

	if err := p.w.WriteMessages(ctx, msg); err != nil {
		p.log.Error("kafka write failed", zap.Error(err), zap.String("monitor_id", ev.MonitorID))
		metrics.EventsPublished.WithLabelValues(string(ev.Type), "error").Inc()
		return err
	}
	metrics.EventsPublished.WithLabelValues(string(ev.Type), "ok").Inc()
	p.log.Debug("event published",
		zap.String("type", string(ev.Type)),
		zap.String("monitor_id", ev.MonitorID),
		zap.Int("value_len", len(msg.Value)),
	)
	return nil
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }

func encode(ev model.Event) (kafka.Message, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(ev.MonitorID),
		Value: value,
		Time:  ev.At,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(ev.Type)},
		},
	}, nil
}

// NopPublisher drops events. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, model.Event) error { return nil }
func (NopPublisher) Close() error                               { return nil }

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events keyed by student, so one student's events stay ordered.
type KafkaPublisher struct {
	writer   messageWriter
	log      *zap.Logger
	attempts int
	backoff  time.Duration
}

func NewKafkaPublisher(brokers []string, topic string, log *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 5 * time.Second,
		},
		log:      log,
		attempts: 3,
		backoff:  200 * time.Millisecond,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte("student-" + evt.StudentID),
		Value: payload,
	}

	var lastErr error
	for attempt := 0; attempt < p.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.backoff << (attempt - 1)):
			}
		}
		if lastErr = p.writer.WriteMessages(ctx, msg); lastErr == nil {
			return nil
		}
		p.log.Warn("kafka publish attempt failed",
			zap.Int("attempt", attempt+1),
			zap.String("event", evt.Name),
			zap.String("payment_id", evt.PaymentID),
			zap.Error(lastErr),
		)
	}
	return fmt.Errorf("publish %s: %w", evt.Name, lastErr)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

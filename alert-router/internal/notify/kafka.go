package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ILLUVRSE/alert-routing/alert-router/internal/models"
)

type KafkaConfig struct {
	Brokers []string
	Topic   string

	// MaxAttempts defaults to 3.
	MaxAttempts int
	// WriteTimeout is the per-attempt timeout. Defaults to 5s.
	WriteTimeout time.Duration
	// Backoff is the first retry delay, doubled per attempt up to 2s. Defaults to 100ms.
	Backoff time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes routing events keyed by alert ID, so every event for one
// alert lands on the same partition in order.
type KafkaNotifier struct {
	writer       messageWriter
	maxAttempts  int
	writeTimeout time.Duration
	backoff      time.Duration
}

func NewKafkaNotifier(cfg KafkaConfig) (*KafkaNotifier, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic required")
	}
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		Async:        false,
	})
	return newKafkaNotifier(w, cfg), nil
}

func newKafkaNotifier(w messageWriter, cfg KafkaConfig) *KafkaNotifier {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 100 * time.Millisecond
	}
	return &KafkaNotifier{
		writer:       w,
		maxAttempts:  cfg.MaxAttempts,
		writeTimeout: cfg.WriteTimeout,
		backoff:      cfg.Backoff,
	}
}

func (k *KafkaNotifier) AlertAssigned(ctx context.Context, a models.Assignment) error {
	return k.publish(ctx, a.AlertID, assignedEvent(a))
}

func (k *KafkaNotifier) RuleTriggered(ctx context.Context, n models.RuleNotification) error {
	return k.publish(ctx, n.AlertID, ruleEvent(n))
}

func (k *KafkaNotifier) publish(ctx context.Context, key string, ev Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	var lastErr error
	backoff := k.backoff
	for attempt := 1; attempt <= k.maxAttempts; attempt++ {
		msg := kafka.Message{
			Key:   []byte(key),
			Value: value,
			Time:  time.Now().UTC(),
		}
		attemptCtx, cancel := context.WithTimeout(ctx, k.writeTimeout)
		err := k.writer.WriteMessages(attemptCtx, msg)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == k.maxAttempts || ctx.Err() != nil {
			break
		}
		time.Sleep(backoff)
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}
	return fmt.Errorf("publish %s failed after %d attempts: %w", ev.Type, k.maxAttempts, lastErr)
}

func (k *KafkaNotifier) Close() error {
	if k == nil || k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ILLUVRSE/alert-routing/alert-router/internal/models"
	"github.com/ILLUVRSE/alert-routing/alert-router/internal/store"
)

var ErrInvalidAlert = errors.New("invalid scored alert")

// errNotRecorded marks a message whose alert never reached the store. Its offset must
// not be committed.
var errNotRecorded = errors.New("alert not recorded")

// ScoredAlert is the upstream wire format.
type ScoredAlert struct {
	AlertID    string                 `json:"alertId"`
	UserID     string                 `json:"userId"`
	AlertType  string                 `json:"alertType"`
	Confidence float64                `json:"confidence"`
	Priority   string                 `json:"priority,omitempty"`
	Territory  *string                `json:"territory,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Reader is the subset of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type AlertRouter interface {
	RouteAlert(ctx context.Context, rc models.RoutingContext) (models.Assignment, error)
}

type Store interface {
	SaveAlert(ctx context.Context, in store.AlertInput) (models.Alert, error)
	GetCurrentAssignment(ctx context.Context, alertID string) (models.Assignment, error)
}

type ReaderConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

func NewKafkaReader(cfg ReaderConfig) (*kafka.Reader, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker required")
	}
	if cfg.Topic == "" || cfg.GroupID == "" {
		return nil, fmt.Errorf("kafka: topic and group id required")
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	}), nil
}

type Config struct {
	// RetryDelay is the pause after a failed fetch or alert write. Defaults to 1s.
	RetryDelay time.Duration
	Logger     *log.Logger
}

// Consumer feeds scored alerts into the router one message at a time. A message is
// committed once its alert is stored, even if routing it failed, so a single bad alert
// never blocks its partition; the reaper routes such alerts later. Writes to the store
// are retried until they succeed or the context ends.
type Consumer struct {
	reader     Reader
	store      Store
	router     AlertRouter
	retryDelay time.Duration
	logger     *log.Logger
}

func NewConsumer(reader Reader, s Store, router AlertRouter, cfg Config) *Consumer {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[ingest] ", log.LstdFlags)
	}
	return &Consumer{reader: reader, store: s, router: router, retryDelay: cfg.RetryDelay, logger: cfg.Logger}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Printf("fetch message: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.retryDelay):
			}
			continue
		}
		if !c.handleWithRetry(ctx, msg) {
			return
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Printf("commit offset %d: %v", msg.Offset, err)
		}
	}
}

// handleWithRetry reports false when ctx ended before the alert could be stored.
func (c *Consumer) handleWithRetry(ctx context.Context, msg kafka.Message) bool {
	for {
		err := c.Handle(ctx, msg)
		if err == nil {
			return true
		}
		c.logger.Printf("partition=%d offset=%d: %v", msg.Partition, msg.Offset, err)
		if !errors.Is(err, errNotRecorded) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.retryDelay):
		}
	}
}

// Handle records and routes a single message. Redelivered alerts that already have an
// assignment, or are no longer active, are not routed again.
func (c *Consumer) Handle(ctx context.Context, msg kafka.Message) error {
	in, err := Decode(msg.Value)
	if err != nil {
		return err
	}
	alert, err := c.store.SaveAlert(ctx, in)
	if err != nil {
		return fmt.Errorf("save alert %s: %w: %w", in.ID, errNotRecorded, err)
	}
	if !alert.Status.Active() {
		return nil
	}
	_, err = c.store.GetCurrentAssignment(ctx, alert.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("check assignment for %s: %w", alert.ID, err)
	}
	a, err := c.router.RouteAlert(ctx, alert.Context())
	if err != nil {
		return fmt.Errorf("route alert %s: %w", alert.ID, err)
	}
	c.logger.Printf("alert %s routed to %s (%s)", a.AlertID, a.AgentID, a.Strategy)
	return nil
}

// Decode parses and validates a scored alert. Confidence is clamped to [0,1] and a
// missing or unknown priority is derived from it.
func Decode(value []byte) (store.AlertInput, error) {
	var sa ScoredAlert
	if err := json.Unmarshal(value, &sa); err != nil {
		return store.AlertInput{}, fmt.Errorf("%w: %v", ErrInvalidAlert, err)
	}
	var missing []string
	if strings.TrimSpace(sa.AlertID) == "" {
		missing = append(missing, "alertId")
	}
	if strings.TrimSpace(sa.UserID) == "" {
		missing = append(missing, "userId")
	}
	if strings.TrimSpace(sa.AlertType) == "" {
		missing = append(missing, "alertType")
	}
	if len(missing) > 0 {
		return store.AlertInput{}, fmt.Errorf("%w: missing %s", ErrInvalidAlert, strings.Join(missing, ", "))
	}
	confidence := sa.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	priority := models.Priority(strings.ToUpper(sa.Priority))
	if !priority.Valid() {
		priority = models.PriorityFromConfidence(confidence)
	}
	territory := sa.Territory
	if territory != nil && strings.TrimSpace(*territory) == "" {
		territory = nil
	}
	return store.AlertInput{
		ID:         sa.AlertID,
		UserID:     sa.UserID,
		AlertType:  sa.AlertType,
		Confidence: confidence,
		Priority:   priority,
		Territory:  territory,
		Metadata:   sa.Metadata,
		Status:     models.AlertStatusPending,
	}, nil
}

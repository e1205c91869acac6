package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ILLUVRSE/alert-routing/alert-router/internal/models"
)

const (
	EventAlertAssigned = "alert.assigned"
	EventRuleTriggered = "rule.triggered"
)

// Notifier delivers routing outcomes downstream. Delivery is best effort: callers log
// errors and never roll back an assignment because of them.
type Notifier interface {
	AlertAssigned(ctx context.Context, a models.Assignment) error
	RuleTriggered(ctx context.Context, n models.RuleNotification) error
}

// Event is the wire envelope shared by the Kafka and webhook notifiers.
type Event struct {
	Type         string                   `json:"type"`
	Assignment   *models.Assignment       `json:"assignment,omitempty"`
	Notification *models.RuleNotification `json:"notification,omitempty"`
	Ts           time.Time                `json:"ts"`
}

func assignedEvent(a models.Assignment) Event {
	return Event{Type: EventAlertAssigned, Assignment: &a, Ts: time.Now().UTC()}
}

func ruleEvent(n models.RuleNotification) Event {
	return Event{Type: EventRuleTriggered, Notification: &n, Ts: time.Now().UTC()}
}

// Multi fans out to every notifier and joins their errors.
type Multi struct {
	notifiers []Notifier
}

func NewMulti(notifiers ...Notifier) *Multi {
	var live []Notifier
	for _, n := range notifiers {
		if n != nil {
			live = append(live, n)
		}
	}
	return &Multi{notifiers: live}
}

func (m *Multi) AlertAssigned(ctx context.Context, a models.Assignment) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.AlertAssigned(ctx, a); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", n, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) RuleTriggered(ctx context.Context, rn models.RuleNotification) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.RuleTriggered(ctx, rn); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", n, err))
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes routing outcomes to a logger.
type LogNotifier struct {
	logger *log.Logger
}

func NewLogNotifier(logger *log.Logger) *LogNotifier {
	if logger == nil {
		logger = log.New(os.Stdout, "[notify] ", log.LstdFlags)
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) AlertAssigned(ctx context.Context, a models.Assignment) error {
	l.logger.Printf("alert %s assigned to %s via %s", a.AlertID, a.AgentID, a.Strategy)
	return nil
}

func (l *LogNotifier) RuleTriggered(ctx context.Context, n models.RuleNotification) error {
	l.logger.Printf("rule %s fired for alert %s channel=%q message=%q", n.RuleID, n.AlertID, n.Channel, n.Message)
	return nil
}

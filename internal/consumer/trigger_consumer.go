package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"kmc-indicators/common/mqtt"
	"kmc-indicators/internal/aggregator"
)

// defaultTriggerDays is the range recomputed when a trigger names no dates.
const defaultTriggerDays = 28

// Subscriber is the part of the MQTT client the consumer uses.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// Runner computes a report run.
type Runner interface {
	ComputeAsOf(ctx context.Context, scope []string, dr aggregator.DateRange, asOf time.Time) (*aggregator.Run, error)
}

// Notifier announces a finished run.
type Notifier interface {
	NotifyRun(ctx context.Context, run *aggregator.Run) error
}

// Trigger is a recompute request.
type Trigger struct {
	Hospitals []string `json:"hospitals"`
	From      string   `json:"from,omitempty"`
	To        string   `json:"to,omitempty"`
	// AsOf pins the run's as-of time; RFC 3339 or YYYY-MM-DD.
	AsOf string `json:"as_of,omitempty"`
}

// TriggerConsumer recomputes reports on MQTT triggers and announces each run.
type TriggerConsumer struct {
	subscriber Subscriber
	runner     Runner
	notifier   Notifier
	topic      string
	qos        byte
	clock      func() time.Time
	logger     *zap.Logger

	ctx context.Context
}

func NewTriggerConsumer(subscriber Subscriber, runner Runner, notifier Notifier, topic string, qos byte, logger *zap.Logger) *TriggerConsumer {
	return &TriggerConsumer{
		subscriber: subscriber,
		runner:     runner,
		notifier:   notifier,
		topic:      topic,
		qos:        qos,
		clock:      time.Now,
		logger:     logger,
		ctx:        context.Background(),
	}
}

// Start subscribes to the trigger topic. Runs use ctx until Stop.
func (c *TriggerConsumer) Start(ctx context.Context) error {
	c.ctx = ctx
	if err := c.subscriber.Subscribe(c.topic, c.qos, c.HandleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to trigger topic: %w", err)
	}
	c.logger.Info("Trigger consumer started", zap.String("topic", c.topic))
	return nil
}

// Stop unsubscribes from the trigger topic.
func (c *TriggerConsumer) Stop() error {
	return c.subscriber.Unsubscribe(c.topic)
}

// HandleMessage runs one trigger to completion.
func (c *TriggerConsumer) HandleMessage(topic string, payload []byte) error {
	var trig Trigger
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &trig); err != nil {
			return fmt.Errorf("invalid trigger payload: %w", err)
		}
	}
	dr, err := c.dateRange(trig)
	if err != nil {
		return err
	}
	asOf, err := aggregator.ParseAsOf(trig.AsOf)
	if err != nil {
		return err
	}

	c.logger.Info("Recompute triggered",
		zap.String("topic", topic),
		zap.Strings("hospitals", trig.Hospitals),
		zap.Time("from", dr.From),
		zap.Time("to", dr.To),
		zap.String("as_of", trig.AsOf),
	)
	run, err := c.runner.ComputeAsOf(c.ctx, trig.Hospitals, dr, asOf)
	if err != nil {
		return fmt.Errorf("triggered run failed: %w", err)
	}
	if err := c.notifier.NotifyRun(c.ctx, run); err != nil {
		return fmt.Errorf("failed to announce run %s: %w", run.ID, err)
	}
	return nil
}

func (c *TriggerConsumer) dateRange(trig Trigger) (aggregator.DateRange, error) {
	if trig.From != "" || trig.To != "" {
		return aggregator.ParseDateRange(trig.From, trig.To)
	}
	today := c.clock().UTC()
	from := today.AddDate(0, 0, -(defaultTriggerDays - 1))
	return aggregator.ParseDateRange(from.Format("2006-01-02"), today.Format("2006-01-02"))
}

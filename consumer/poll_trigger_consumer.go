package consumer

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	awspkg "settlement-service/pkg/aws"
	"settlement-service/services"

	"go.uber.org/zap"
)

type PollRunner interface {
	PollOnce(ctx context.Context, window time.Duration) (*services.PollReport, error)
}

type ConversionReplayer interface {
	ReplayPending(ctx context.Context, olderThan time.Duration) (*services.ConversionReplayReport, error)
}

// PollTriggerConsumer turns scheduler messages on SQS into poll runs. Each message is one run.
type PollTriggerConsumer struct {
	poller      PollRunner
	conversions ConversionReplayer
	logger      *zap.Logger
}

func NewPollTriggerConsumer(poller PollRunner, logger *zap.Logger) *PollTriggerConsumer {
	return &PollTriggerConsumer{poller: poller, logger: logger}
}

// WithConversionReplay makes every run also replay conversion events stuck in pending.
func (c *PollTriggerConsumer) WithConversionReplay(r ConversionReplayer) *PollTriggerConsumer {
	c.conversions = r
	return c
}

// snsEnvelope unwraps the SNS -> SQS message wrapper
type snsEnvelope struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

type pollTrigger struct {
	Window string `json:"window"`
}

// Start blocks until ctx is cancelled.
func (c *PollTriggerConsumer) Start(ctx context.Context, queue *awspkg.SQSConsumer) error {
	return queue.StartPolling(ctx, c.Handle)
}

// Handle runs one poll. Unparseable messages are dropped; a failed run is returned so SQS redelivers it.
func (c *PollTriggerConsumer) Handle(ctx context.Context, body string) error {
	payload := strings.TrimSpace(body)

	var envelope snsEnvelope
	if err := json.Unmarshal([]byte(payload), &envelope); err == nil && envelope.Type == "Notification" {
		payload = strings.TrimSpace(envelope.Message)
	}

	var trigger pollTrigger
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &trigger); err != nil {
			c.logger.Error("failed to unmarshal poll trigger", zap.Error(err))
			return nil
		}
	}

	var window time.Duration
	if trigger.Window != "" {
		d, err := time.ParseDuration(trigger.Window)
		if err != nil || d <= 0 {
			c.logger.Error("invalid poll window in trigger", zap.String("window", trigger.Window))
			return nil
		}
		window = d
	}

	report, err := c.poller.PollOnce(ctx, window)
	if err != nil {
		c.logger.Error("poll run failed", zap.Error(err))
		return err
	}
	c.logger.Info("poll run completed",
		zap.Duration("window", report.Window),
		zap.Int("checked", report.Checked),
		zap.Int("transitioned", report.Transitioned),
		zap.Int("still_pending", report.StillPending),
		zap.Int("failed", report.Failed),
	)

	if c.conversions != nil {
		if _, err := c.conversions.ReplayPending(ctx, 0); err != nil {
			c.logger.Error("conversion replay failed", zap.Error(err))
			return err
		}
	}
	return nil
}

package services

import (
	"context"
	"fmt"
	"time"

	"settlement-service/models"
	awspkg "settlement-service/pkg/aws"
	"settlement-service/providers"
	"settlement-service/repository"

	"go.uber.org/zap"
)

const DefaultPollWindow = 48 * time.Hour

type PollReport struct {
	Window       time.Duration `json:"window"`
	Checked      int           `json:"checked"`
	Transitioned int           `json:"transitioned"`
	StillPending int           `json:"still_pending"`
	Failed       int           `json:"failed"`
}

// Poller is the scheduled entry point for providers without reliable push notifications.
// The schedule lives outside; each trigger calls PollOnce.
type Poller struct {
	pollers    []providers.StatusPoller
	orders     repository.OrderRepository
	reconciler SignalReconciler
	window     time.Duration
	batchSize  int
	metrics    MetricsRecorder
	logger     *zap.Logger
	now        func() time.Time
}

func NewPoller(orders repository.OrderRepository, reconciler SignalReconciler, window time.Duration, logger *zap.Logger, pollers ...providers.StatusPoller) *Poller {
	if window <= 0 {
		window = DefaultPollWindow
	}
	return &Poller{
		pollers:    pollers,
		orders:     orders,
		reconciler: reconciler,
		window:     window,
		batchSize:  500,
		logger:     logger,
		now:        time.Now,
	}
}

func (p *Poller) WithMetrics(m MetricsRecorder) *Poller {
	p.metrics = m
	return p
}

// PollOnce checks every order still pending that was created within window. Older pending orders
// are left alone, not failed. A zero window uses the configured default.
func (p *Poller) PollOnce(ctx context.Context, window time.Duration) (*PollReport, error) {
	if window <= 0 {
		window = p.window
	}
	report := &PollReport{Window: window}
	since := p.now().Add(-window)

	for _, poller := range p.pollers {
		orders, err := p.orders.ListPending(ctx, poller.Name(), since, p.batchSize)
		if err != nil {
			return report, fmt.Errorf("list pending %s orders: %w", poller.Name(), err)
		}

		for i := range orders {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			p.pollOrder(ctx, poller, &orders[i], report)
		}
	}

	p.logger.Info("Poll pass finished",
		zap.Duration("window", window),
		zap.Int("checked", report.Checked),
		zap.Int("transitioned", report.Transitioned),
		zap.Int("still_pending", report.StillPending),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

func (p *Poller) pollOrder(ctx context.Context, poller providers.StatusPoller, order *models.Order, report *PollReport) {
	report.Checked++
	recordCount(ctx, p.metrics, p.logger, awspkg.MetricPollOrdersProcessed, map[string]string{"Provider": poller.Name()})

	sig, err := poller.PollStatus(ctx, order)
	if err != nil {
		report.Failed++
		p.logger.Warn("Status poll failed", zap.String("order_id", order.OrderID), zap.String("provider", poller.Name()), zap.Error(err))
		return
	}
	if sig.Outcome == models.OutcomePending {
		report.StillPending++
		return
	}

	res, err := p.reconciler.Reconcile(ctx, sig)
	if err != nil {
		report.Failed++
		p.logger.Warn("Reconcile from poll failed", zap.String("order_id", order.OrderID), zap.Error(err))
		return
	}
	if res.Transitioned {
		report.Transitioned++
	}
}

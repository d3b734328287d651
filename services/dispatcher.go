package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"settlement-service/models"
	awspkg "settlement-service/pkg/aws"

	"go.uber.org/zap"
)

// Consumer is one independent downstream effect of a completed order.
type Consumer interface {
	Name() string
	Consume(ctx context.Context, order *models.Order) error
}

type ConsumerResult struct {
	Consumer string        `json:"consumer"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

type DispatchReport struct {
	OrderID string           `json:"order_id"`
	Results []ConsumerResult `json:"results"`
}

// Failed lists the consumers that returned an error or panicked.
func (r *DispatchReport) Failed() []string {
	var failed []string
	for _, res := range r.Results {
		if res.Error != "" {
			failed = append(failed, res.Consumer)
		}
	}
	return failed
}

// Dispatcher runs every consumer concurrently for a completed order. Consumers do not see each
// other's failures and nothing here retries; each consumer owns its delivery policy.
type Dispatcher struct {
	consumers []Consumer
	timeout   time.Duration
	metrics   MetricsRecorder
	logger    *zap.Logger
}

func NewDispatcher(logger *zap.Logger, timeout time.Duration, consumers ...Consumer) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{consumers: consumers, timeout: timeout, logger: logger}
}

func (d *Dispatcher) WithMetrics(m MetricsRecorder) *Dispatcher {
	d.metrics = m
	return d
}

// Dispatch blocks until every consumer returned or hit its timeout. The report is informational.
func (d *Dispatcher) Dispatch(ctx context.Context, order *models.Order) *DispatchReport {
	report := &DispatchReport{OrderID: order.OrderID, Results: make([]ConsumerResult, len(d.consumers))}

	var wg sync.WaitGroup
	for i, c := range d.consumers {
		wg.Add(1)
		snapshot := *order
		go func(i int, c Consumer, o *models.Order) {
			defer wg.Done()
			report.Results[i] = d.run(ctx, c, o)
		}(i, c, &snapshot)
	}
	wg.Wait()

	if failed := report.Failed(); len(failed) > 0 {
		d.logger.Warn("Fan-out completed with failures",
			zap.String("order_id", order.OrderID),
			zap.Strings("failed_consumers", failed),
		)
		for _, name := range failed {
			recordCount(ctx, d.metrics, d.logger, awspkg.MetricFanoutFailures, map[string]string{"Consumer": name})
		}
	} else {
		d.logger.Info("Fan-out completed", zap.String("order_id", order.OrderID), zap.Int("consumers", len(d.consumers)))
	}
	return report
}

func (d *Dispatcher) run(ctx context.Context, c Consumer, order *models.Order) (res ConsumerResult) {
	res.Consumer = c.Name()
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	defer func() {
		res.Duration = time.Since(start)
		if r := recover(); r != nil {
			res.Error = fmt.Sprintf("panic: %v", r)
			d.logger.Error("Consumer panicked", zap.String("consumer", res.Consumer), zap.String("order_id", order.OrderID), zap.Any("panic", r))
		}
	}()

	if err := c.Consume(ctx, order); err != nil {
		res.Error = err.Error()
		d.logger.Warn("Consumer failed",
			zap.String("consumer", res.Consumer),
			zap.String("order_id", order.OrderID),
			zap.Error(err),
		)
	}
	return res
}

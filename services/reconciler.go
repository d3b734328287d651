package services

import (
	"context"
	"errors"
	"fmt"

	"settlement-service/models"
	awspkg "settlement-service/pkg/aws"

	"go.uber.org/zap"
)

var (
	ErrMalformedSignal = errors.New("malformed payment signal")
	// ErrRetryable wraps persistence failures. Nothing has been fanned out when it is returned.
	ErrRetryable = errors.New("retryable settlement failure")
)

type ReconcileResult struct {
	OrderID      string             `json:"order_id"`
	Status       models.OrderStatus `json:"status"`
	Transitioned bool               `json:"transitioned"`
	Synthesized  bool               `json:"synthesized"`
	Dispatch     *DispatchReport    `json:"dispatch,omitempty"`
}

// SignalReconciler is what callback handlers and the poll loop depend on.
type SignalReconciler interface {
	Reconcile(ctx context.Context, sig *models.PaymentSignal) (*ReconcileResult, error)
}

// FanOut is implemented by Dispatcher.
type FanOut interface {
	Dispatch(ctx context.Context, order *models.Order) *DispatchReport
}

type Reconciler struct {
	ledger     *Ledger
	dispatcher FanOut
	metrics    MetricsRecorder
	logger     *zap.Logger
}

func NewReconciler(ledger *Ledger, dispatcher FanOut, logger *zap.Logger) *Reconciler {
	return &Reconciler{ledger: ledger, dispatcher: dispatcher, logger: logger}
}

func (r *Reconciler) WithMetrics(m MetricsRecorder) *Reconciler {
	r.metrics = m
	return r
}

// Reconcile applies sig to its order at most once. The order's own status is the idempotency key:
// fan-out runs only for the caller whose conditional write moved the order to completed.
func (r *Reconciler) Reconcile(ctx context.Context, sig *models.PaymentSignal) (*ReconcileResult, error) {
	if sig == nil || sig.Provider == "" || !sig.HasOrderKey() || !sig.Outcome.Valid() {
		return nil, ErrMalformedSignal
	}

	order, synthesized, err := r.ledger.FindOrder(ctx, sig)
	if errors.Is(err, ErrOrderNotFound) {
		r.logger.Warn("No order for payment signal",
			zap.String("provider", sig.Provider),
			zap.String("external_ref", sig.ExternalRef),
			zap.String("order_ref", sig.OrderRef),
			zap.String("outcome", string(sig.Outcome)),
		)
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetryable, err)
	}

	result := &ReconcileResult{OrderID: order.OrderID, Status: order.Status}

	if synthesized {
		result.Transitioned = true
		result.Synthesized = true
		recordCount(ctx, r.metrics, r.logger, awspkg.MetricOrdersRecovered, map[string]string{"Provider": sig.Provider})
		r.afterTransition(ctx, order, result)
		return result, nil
	}

	if sig.Outcome == models.OutcomePending {
		r.logger.Debug("Pending signal acknowledged", zap.String("order_id", order.OrderID), zap.String("provider", sig.Provider))
		return result, nil
	}

	if order.Status.IsTerminal() {
		r.logger.Info("Signal after terminal state discarded",
			zap.String("order_id", order.OrderID),
			zap.String("status", string(order.Status)),
			zap.String("outcome", string(sig.Outcome)),
		)
		recordCount(ctx, r.metrics, r.logger, awspkg.MetricDuplicateSignals, map[string]string{"Provider": sig.Provider})
		return result, nil
	}

	if sig.Amount > 0 && sig.Amount != order.Amount {
		r.logger.Warn("Signal amount differs from order amount",
			zap.String("order_id", order.OrderID),
			zap.Int64("order_amount", order.Amount),
			zap.Int64("signal_amount", sig.Amount),
		)
	}

	changed, err := r.ledger.Transition(ctx, order, sig.Outcome, sig.ExternalRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetryable, err)
	}
	if !changed {
		// Lost the compare-and-set to a concurrent delivery; report what is stored now.
		if current, err := r.ledger.Get(ctx, order.OrderID); err == nil {
			result.Status = current.Status
		}
		r.logger.Info("Concurrent signal already settled order", zap.String("order_id", order.OrderID))
		recordCount(ctx, r.metrics, r.logger, awspkg.MetricDuplicateSignals, map[string]string{"Provider": sig.Provider})
		return result, nil
	}

	result.Transitioned = true
	result.Status = order.Status
	r.afterTransition(ctx, order, result)
	return result, nil
}

func (r *Reconciler) afterTransition(ctx context.Context, order *models.Order, result *ReconcileResult) {
	r.logger.Info("Order settled",
		zap.String("order_id", order.OrderID),
		zap.String("status", string(order.Status)),
		zap.Int64("seller_commission", order.SellerCommission),
	)

	if order.Status != models.OrderStatusCompleted {
		recordCount(ctx, r.metrics, r.logger, awspkg.MetricOrdersFailed, map[string]string{"Provider": order.Provider})
		return
	}
	recordCount(ctx, r.metrics, r.logger, awspkg.MetricOrdersCompleted, map[string]string{"Provider": order.Provider})

	// The ledger write is committed; fan-out must outlive a disconnected caller.
	result.Dispatch = r.dispatcher.Dispatch(context.WithoutCancel(ctx), order)
}

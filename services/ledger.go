package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"settlement-service/models"
	"settlement-service/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrOrderExists   = errors.New("order already exists")
)

// Ledger owns the order state machine: pending -> completed | failed, never reversed.
type Ledger struct {
	orders  repository.OrderRepository
	feeRate float64
	logger  *zap.Logger
	now     func() time.Time
}

func NewLedger(orders repository.OrderRepository, platformFeeRate float64, logger *zap.Logger) *Ledger {
	return &Ledger{orders: orders, feeRate: platformFeeRate, logger: logger, now: time.Now}
}

// SellerCommission is the seller's share of amount after the platform fee, in minor units.
func SellerCommission(amount int64, platformRate float64) int64 {
	return int64(math.Round(float64(amount) * (1 - platformRate)))
}

type OpenOrderRequest struct {
	OrderID       string `json:"order_id"`
	ProductID     string `json:"product_id" binding:"required"`
	SellerID      string `json:"seller_id"`
	CustomerEmail string `json:"customer_email" binding:"required,email"`
	CustomerName  string `json:"customer_name"`
	CustomerPhone string `json:"customer_phone"`
	Amount        int64  `json:"amount" binding:"required,gt=0"`
	Currency      string `json:"currency" binding:"required,len=3"`
	PaymentMethod string `json:"payment_method"`
	Provider      string `json:"provider" binding:"required"`
	ProviderRef   string `json:"provider_ref"`
}

// OpenOrder records a pending order at checkout initiation.
func (l *Ledger) OpenOrder(ctx context.Context, req OpenOrderRequest) (*models.Order, error) {
	order := &models.Order{
		OrderID:       req.OrderID,
		ProductID:     req.ProductID,
		SellerID:      req.SellerID,
		CustomerEmail: strings.ToLower(strings.TrimSpace(req.CustomerEmail)),
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		Amount:        req.Amount,
		Currency:      strings.ToUpper(req.Currency),
		PaymentMethod: req.PaymentMethod,
		Provider:      strings.ToLower(req.Provider),
		Status:        models.OrderStatusPending,
	}
	if order.OrderID == "" {
		order.OrderID = uuid.NewString()
	}
	if req.ProviderRef != "" {
		ref := req.ProviderRef
		order.ProviderRef = &ref
	}

	inserted, err := l.orders.CreateIfAbsent(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	if !inserted {
		return nil, ErrOrderExists
	}
	return order, nil
}

// Get returns the stored order by merchant order id.
func (l *Ledger) Get(ctx context.Context, orderID string) (*models.Order, error) {
	o, err := l.orders.FindByOrderID(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	return o, err
}

// FindOrder resolves sig to an order by provider reference first, then merchant order id.
// When neither matches and sig carries a synthesizable recovery context with a terminal outcome,
// the order is created directly in that terminal state. synthesized is true only for the caller
// whose insert won.
func (l *Ledger) FindOrder(ctx context.Context, sig *models.PaymentSignal) (order *models.Order, synthesized bool, err error) {
	order, err = l.lookup(ctx, sig)
	if err == nil {
		return order, false, nil
	}
	if !errors.Is(err, ErrOrderNotFound) {
		return nil, false, err
	}

	target, terminal := sig.Outcome.TargetStatus()
	if !terminal || !sig.Recovery.Synthesizable() {
		return nil, false, ErrOrderNotFound
	}

	order = l.synthesize(sig, target)
	inserted, err := l.orders.CreateIfAbsent(ctx, order)
	if err != nil {
		return nil, false, fmt.Errorf("synthesize order: %w", err)
	}
	if !inserted {
		// A concurrent signal synthesized or opened the same order first.
		order, err = l.lookup(ctx, sig)
		if err != nil {
			return nil, false, err
		}
		return order, false, nil
	}

	l.logger.Info("Synthesized order from recovery context",
		zap.String("order_id", order.OrderID),
		zap.String("provider", sig.Provider),
		zap.String("status", string(order.Status)),
	)
	return order, true, nil
}

func (l *Ledger) lookup(ctx context.Context, sig *models.PaymentSignal) (*models.Order, error) {
	if sig.ExternalRef != "" {
		o, err := l.orders.FindByProviderRef(ctx, sig.ExternalRef)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("find by provider ref: %w", err)
		}
	}
	if sig.OrderRef != "" {
		o, err := l.orders.FindByOrderID(ctx, sig.OrderRef)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("find by order id: %w", err)
		}
	}
	return nil, ErrOrderNotFound
}

func (l *Ledger) synthesize(sig *models.PaymentSignal, status models.OrderStatus) *models.Order {
	rc := sig.Recovery
	now := l.now()

	orderID := sig.OrderRef
	if orderID == "" {
		orderID = sig.Provider + "_" + sig.ExternalRef
	}
	currency := rc.Currency
	if currency == "" {
		currency = sig.Currency
	}

	order := &models.Order{
		OrderID:       orderID,
		ProductID:     rc.ProductID,
		SellerID:      rc.SellerID,
		CustomerEmail: strings.ToLower(strings.TrimSpace(rc.CustomerEmail)),
		CustomerName:  rc.CustomerName,
		CustomerPhone: rc.CustomerPhone,
		Amount:        rc.Price,
		Currency:      strings.ToUpper(currency),
		PaymentMethod: sig.PaymentMethod,
		Provider:      sig.Provider,
		Status:        status,
		Recovered:     true,
	}
	if sig.ExternalRef != "" {
		ref := sig.ExternalRef
		order.ProviderRef = &ref
	}
	if status == models.OrderStatusCompleted {
		order.SellerCommission = SellerCommission(order.Amount, l.feeRate)
		order.CompletedAt = &now
	} else {
		order.FailedAt = &now
	}
	return order
}

// Transition moves a pending order to the status implied by outcome. It is a no-op for terminal
// orders and pending outcomes. The write is conditional on the stored status still being the one
// observed, so of any number of concurrent callers exactly one gets true. providerRef is assigned
// in the same write when the order has none yet.
func (l *Ledger) Transition(ctx context.Context, order *models.Order, outcome models.Outcome, providerRef string) (bool, error) {
	target, ok := outcome.TargetStatus()
	if !ok || order.Status.IsTerminal() {
		return false, nil
	}

	now := l.now()
	updates := map[string]interface{}{"status": target}
	var commission int64
	if target == models.OrderStatusCompleted {
		commission = SellerCommission(order.Amount, l.feeRate)
		updates["seller_commission"] = commission
		updates["completed_at"] = now
	} else {
		updates["failed_at"] = now
	}
	assignRef := providerRef != "" && order.ProviderRef == nil
	if assignRef {
		updates["provider_ref"] = providerRef
	}

	changed, err := l.orders.CompareAndSetStatus(ctx, order.ID, order.Status, updates)
	if assignRef && errors.Is(err, repository.ErrDuplicate) {
		// Another order already owns the reference. Settle this one without it.
		l.logger.Warn("Provider reference held by another order, not assigning",
			zap.String("order_id", order.OrderID),
			zap.String("provider_ref", providerRef),
		)
		delete(updates, "provider_ref")
		assignRef = false
		changed, err = l.orders.CompareAndSetStatus(ctx, order.ID, order.Status, updates)
	}
	if err != nil {
		return false, fmt.Errorf("transition order %s: %w", order.OrderID, err)
	}
	if !changed {
		return false, nil
	}

	order.Status = target
	if target == models.OrderStatusCompleted {
		order.SellerCommission = commission
		order.CompletedAt = &now
	} else {
		order.FailedAt = &now
	}
	if assignRef {
		ref := providerRef
		order.ProviderRef = &ref
	}
	return true, nil
}

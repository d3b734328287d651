package models

// Outcome is the provider-independent result carried by a PaymentSignal.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePending Outcome = "pending"
)

func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeFailure, OutcomePending:
		return true
	}
	return false
}

// TargetStatus maps an outcome to the order status it implies. Pending has no target.
func (o Outcome) TargetStatus() (OrderStatus, bool) {
	switch o {
	case OutcomeSuccess:
		return OrderStatusCompleted, true
	case OutcomeFailure:
		return OrderStatusFailed, true
	}
	return "", false
}

// PaymentSignal is the canonical form every provider adapter produces.
type PaymentSignal struct {
	Provider      string
	ExternalRef   string // gateway-assigned transaction reference
	OrderRef      string // merchant order id, when the provider echoes it
	Outcome       Outcome
	Amount        int64
	Currency      string
	PaymentMethod string
	Recovery      *RecoveryContext
	RawPayload    []byte
}

// HasOrderKey reports whether the signal can be matched to an order at all.
func (s *PaymentSignal) HasOrderKey() bool {
	return s.ExternalRef != "" || s.OrderRef != ""
}

// RecoveryContext is the order data embedded in a signal, enough to synthesize a missing order.
type RecoveryContext struct {
	ProductID     string
	SellerID      string
	Price         int64
	Currency      string
	CustomerEmail string
	CustomerName  string
	CustomerPhone string
}

// Synthesizable reports whether an order can be created from the context alone.
func (r *RecoveryContext) Synthesizable() bool {
	return r != nil && r.ProductID != "" && r.Price > 0 && r.CustomerEmail != ""
}

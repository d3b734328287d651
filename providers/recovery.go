package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"settlement-service/models"

	"github.com/go-playground/validator/v10"
)

const RecoveryProviderName = "recovery"

// RecoveryAdapter accepts operator-submitted confirmations found outside the normal callback path,
// e.g. a provider dashboard export. Signals always carry enough context to synthesize the order.
type RecoveryAdapter struct {
	validate *validator.Validate
}

func NewRecoveryAdapter() *RecoveryAdapter {
	return &RecoveryAdapter{validate: validator.New()}
}

type recoveryCustomer struct {
	Email string `json:"email" validate:"required,email"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type recoveryPayload struct {
	Provider      string           `json:"provider" validate:"required"`
	TransactionID string           `json:"transaction_id" validate:"required_without=OrderID"`
	OrderID       string           `json:"order_id" validate:"required_without=TransactionID"`
	Status        string           `json:"status" validate:"required,oneof=success failure"`
	Amount        int64            `json:"amount" validate:"gt=0"`
	Currency      string           `json:"currency" validate:"required,len=3"`
	PaymentMethod string           `json:"payment_method"`
	ProductID     string           `json:"product_id" validate:"required"`
	SellerID      string           `json:"seller_id"`
	Customer      recoveryCustomer `json:"customer"`
}

func (a *RecoveryAdapter) Name() string { return RecoveryProviderName }

func (a *RecoveryAdapter) ParseCallback(_ context.Context, body []byte, _ http.Header) (*models.PaymentSignal, error) {
	var p recoveryPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, malformed("decode recovery: %v", err)
	}
	if err := a.validate.Struct(p); err != nil {
		return nil, malformed("recovery: %v", err)
	}

	outcome := models.OutcomeFailure
	if p.Status == "success" {
		outcome = models.OutcomeSuccess
	}
	return &models.PaymentSignal{
		Provider:      strings.ToLower(p.Provider),
		ExternalRef:   p.TransactionID,
		OrderRef:      p.OrderID,
		Outcome:       outcome,
		Amount:        p.Amount,
		Currency:      strings.ToUpper(p.Currency),
		PaymentMethod: p.PaymentMethod,
		Recovery: &models.RecoveryContext{
			ProductID:     p.ProductID,
			SellerID:      p.SellerID,
			Price:         p.Amount,
			Currency:      strings.ToUpper(p.Currency),
			CustomerEmail: strings.ToLower(strings.TrimSpace(p.Customer.Email)),
			CustomerName:  p.Customer.Name,
			CustomerPhone: p.Customer.Phone,
		},
		RawPayload: body,
	}, nil
}

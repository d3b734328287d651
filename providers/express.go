package providers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"settlement-service/models"

	"github.com/go-playground/validator/v10"
)

const ExpressProviderName = "express"

// ExpressConfig configures the express-confirmation wallet adapter.
type ExpressConfig struct {
	// CallbackToken, when set, must match the X-Callback-Token header.
	CallbackToken string
}

// ExpressAdapter handles push confirmations from the mobile-wallet express flow.
type ExpressAdapter struct {
	callbackToken string
	validate      *validator.Validate
}

func NewExpressAdapter(cfg ExpressConfig) *ExpressAdapter {
	return &ExpressAdapter{
		callbackToken: cfg.CallbackToken,
		validate:      validator.New(),
	}
}

var (
	expressSuccess = newStatusSet("paid", "approved", "completed", "succeeded", "success")
	expressFailure = newStatusSet("failed", "declined", "rejected", "refused", "cancelled", "canceled", "expired")
)

type expressCallback struct {
	ID                    string          `json:"id" validate:"required_without=MerchantTransactionID"`
	MerchantTransactionID string          `json:"merchantTransactionId" validate:"required_without=ID"`
	IsSuccessful          *bool           `json:"isSuccessful"`
	Status                string          `json:"status" validate:"required"`
	Amount                int64           `json:"amount" validate:"gte=0"`
	Currency              string          `json:"currency"`
	PaymentMethod         string          `json:"paymentMethod"`
	Metadata              expressMetadata `json:"metadata"`
}

type expressMetadata struct {
	ProductID     string `json:"productId"`
	SellerID      string `json:"sellerId"`
	CustomerEmail string `json:"customerEmail"`
	CustomerName  string `json:"customerName"`
	CustomerPhone string `json:"customerPhone"`
}

func (a *ExpressAdapter) Name() string { return ExpressProviderName }

func (a *ExpressAdapter) ParseCallback(_ context.Context, body []byte, header http.Header) (*models.PaymentSignal, error) {
	if a.callbackToken != "" {
		got := header.Get("X-Callback-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(a.callbackToken)) != 1 {
			return nil, ErrUnauthorizedCallback
		}
	}

	var cb expressCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, malformed("decode express callback: %v", err)
	}
	if err := a.validate.Struct(cb); err != nil {
		return nil, malformed("express callback: %v", err)
	}

	sig := &models.PaymentSignal{
		Provider:      ExpressProviderName,
		ExternalRef:   cb.ID,
		OrderRef:      cb.MerchantTransactionID,
		Outcome:       resolveOutcome(cb.IsSuccessful, cb.Status, expressSuccess, expressFailure),
		Amount:        cb.Amount,
		Currency:      cb.Currency,
		PaymentMethod: cb.PaymentMethod,
		RawPayload:    body,
	}
	if cb.Metadata.ProductID != "" {
		sig.Recovery = &models.RecoveryContext{
			ProductID:     cb.Metadata.ProductID,
			SellerID:      cb.Metadata.SellerID,
			Price:         cb.Amount,
			Currency:      cb.Currency,
			CustomerEmail: cb.Metadata.CustomerEmail,
			CustomerName:  cb.Metadata.CustomerName,
			CustomerPhone: cb.Metadata.CustomerPhone,
		}
	}
	return sig, nil
}

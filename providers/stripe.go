package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"settlement-service/models"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/webhook"
)

const StripeProviderName = "stripe"

type StripeConfig struct {
	WebhookSecret string
	// Tolerance bounds the accepted signature age. Zero uses webhook.DefaultTolerance.
	Tolerance time.Duration
}

// StripeAdapter verifies Stripe webhook signatures and maps checkout and payment intent events.
type StripeAdapter struct {
	webhookSecret string
	tolerance     time.Duration
}

func NewStripeAdapter(cfg StripeConfig) *StripeAdapter {
	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &StripeAdapter{webhookSecret: cfg.WebhookSecret, tolerance: tolerance}
}

func (a *StripeAdapter) Name() string { return StripeProviderName }

func (a *StripeAdapter) ParseCallback(_ context.Context, body []byte, header http.Header) (*models.PaymentSignal, error) {
	event, err := webhook.ConstructEventWithOptions(body, header.Get("Stripe-Signature"), a.webhookSecret,
		webhook.ConstructEventOptions{
			Tolerance:                a.tolerance,
			IgnoreAPIVersionMismatch: true,
		})
	if err != nil {
		if isSignatureError(err) {
			return nil, errors.Join(ErrUnauthorizedCallback, err)
		}
		return nil, malformed("stripe event: %v", err)
	}

	switch event.Type {
	case "checkout.session.completed":
		return a.checkoutSignal(event, body, func(sess *stripe.CheckoutSession) models.Outcome {
			if sess.Status == stripe.CheckoutSessionStatusComplete && sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
				return models.OutcomeSuccess
			}
			return models.OutcomePending
		})
	case "checkout.session.async_payment_succeeded":
		return a.checkoutSignal(event, body, func(*stripe.CheckoutSession) models.Outcome { return models.OutcomeSuccess })
	case "checkout.session.async_payment_failed", "checkout.session.expired":
		return a.checkoutSignal(event, body, func(*stripe.CheckoutSession) models.Outcome { return models.OutcomeFailure })
	case "payment_intent.succeeded":
		return a.intentSignal(event, body, func(pi *stripe.PaymentIntent) models.Outcome {
			if pi.Status == stripe.PaymentIntentStatusSucceeded {
				return models.OutcomeSuccess
			}
			return models.OutcomePending
		})
	case "payment_intent.payment_failed":
		return a.intentSignal(event, body, func(*stripe.PaymentIntent) models.Outcome { return models.OutcomeFailure })
	default:
		return nil, ErrIgnoredEvent
	}
}

func (a *StripeAdapter) checkoutSignal(event stripe.Event, body []byte, outcome func(*stripe.CheckoutSession) models.Outcome) (*models.PaymentSignal, error) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, malformed("checkout session: %v", err)
	}
	if sess.ID == "" {
		return nil, malformed("checkout session without id")
	}

	orderRef := sess.Metadata["order_id"]
	if orderRef == "" {
		orderRef = sess.ClientReferenceID
	}

	sig := &models.PaymentSignal{
		Provider:    StripeProviderName,
		ExternalRef: sess.ID,
		OrderRef:    orderRef,
		Outcome:     outcome(&sess),
		Amount:      sess.AmountTotal,
		Currency:    string(sess.Currency),
		RawPayload:  body,
	}
	if len(sess.PaymentMethodTypes) > 0 {
		sig.PaymentMethod = sess.PaymentMethodTypes[0]
	}
	if productID := sess.Metadata["product_id"]; productID != "" {
		rc := &models.RecoveryContext{
			ProductID: productID,
			SellerID:  sess.Metadata["seller_id"],
			Price:     sess.AmountTotal,
			Currency:  string(sess.Currency),
		}
		if sess.CustomerDetails != nil {
			rc.CustomerEmail = sess.CustomerDetails.Email
			rc.CustomerName = sess.CustomerDetails.Name
			rc.CustomerPhone = sess.CustomerDetails.Phone
		}
		sig.Recovery = rc
	}
	return sig, nil
}

func (a *StripeAdapter) intentSignal(event stripe.Event, body []byte, outcome func(*stripe.PaymentIntent) models.Outcome) (*models.PaymentSignal, error) {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, malformed("payment intent: %v", err)
	}
	if pi.ID == "" {
		return nil, malformed("payment intent without id")
	}

	sig := &models.PaymentSignal{
		Provider:    StripeProviderName,
		ExternalRef: pi.ID,
		OrderRef:    pi.Metadata["order_id"],
		Outcome:     outcome(&pi),
		Amount:      pi.Amount,
		Currency:    string(pi.Currency),
		RawPayload:  body,
	}
	if len(pi.PaymentMethodTypes) > 0 {
		sig.PaymentMethod = pi.PaymentMethodTypes[0]
	}
	if productID := pi.Metadata["product_id"]; productID != "" {
		sig.Recovery = &models.RecoveryContext{
			ProductID:     productID,
			SellerID:      pi.Metadata["seller_id"],
			Price:         pi.Amount,
			Currency:      string(pi.Currency),
			CustomerEmail: pi.ReceiptEmail,
		}
	}
	return sig, nil
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrTooOld)
}

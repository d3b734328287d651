package providers_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"settlement-service/models"
	"settlement-service/providers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v80/webhook"
)

const testWebhookSecret = "whsec_test"

func signedStripe(t *testing.T, payload string) ([]byte, http.Header) {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return signed.Payload, http.Header{"Stripe-Signature": {signed.Header}}
}

func TestStripe_CheckoutCompletedPaid(t *testing.T) {
	adapter := providers.NewStripeAdapter(providers.StripeConfig{WebhookSecret: testWebhookSecret})
	body, header := signedStripe(t, `{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{
		"id":"cs_1","object":"checkout.session","status":"complete","payment_status":"paid","amount_total":4900,"currency":"usd",
		"client_reference_id":"ord-ref","metadata":{"order_id":"ord-1","product_id":"prod-1","seller_id":"seller-1"},
		"customer_details":{"email":"buyer@example.com","name":"Buyer"}}}}`)

	sig, err := adapter.ParseCallback(context.Background(), body, header)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSuccess, sig.Outcome)
	assert.Equal(t, "cs_1", sig.ExternalRef)
	assert.Equal(t, "ord-1", sig.OrderRef)
	require.NotNil(t, sig.Recovery)
	assert.Equal(t, "buyer@example.com", sig.Recovery.CustomerEmail)
	assert.True(t, sig.Recovery.Synthesizable())
}

func TestStripe_CheckoutCompletedUnpaidStaysPending(t *testing.T) {
	adapter := providers.NewStripeAdapter(providers.StripeConfig{WebhookSecret: testWebhookSecret})
	body, header := signedStripe(t, `{"id":"evt_2","object":"event","type":"checkout.session.completed","data":{"object":{
		"id":"cs_2","object":"checkout.session","status":"complete","payment_status":"unpaid","client_reference_id":"ord-2"}}}`)

	sig, err := adapter.ParseCallback(context.Background(), body, header)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomePending, sig.Outcome)
	assert.Equal(t, "ord-2", sig.OrderRef)
}

func TestStripe_PaymentFailed(t *testing.T) {
	adapter := providers.NewStripeAdapter(providers.StripeConfig{WebhookSecret: testWebhookSecret})
	body, header := signedStripe(t, `{"id":"evt_3","object":"event","type":"payment_intent.payment_failed","data":{"object":{
		"id":"pi_3","object":"payment_intent","status":"requires_payment_method","amount":100,"currency":"usd","metadata":{"order_id":"ord-3"}}}}`)

	sig, err := adapter.ParseCallback(context.Background(), body, header)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeFailure, sig.Outcome)
	assert.Equal(t, "pi_3", sig.ExternalRef)
}

func TestStripe_IgnoresUnrelatedEvents(t *testing.T) {
	adapter := providers.NewStripeAdapter(providers.StripeConfig{WebhookSecret: testWebhookSecret})
	body, header := signedStripe(t, `{"id":"evt_4","object":"event","type":"customer.created","data":{"object":{"id":"cus_1"}}}`)

	_, err := adapter.ParseCallback(context.Background(), body, header)
	assert.ErrorIs(t, err, providers.ErrIgnoredEvent)
}

func TestStripe_BadSignature(t *testing.T) {
	adapter := providers.NewStripeAdapter(providers.StripeConfig{WebhookSecret: "whsec_other"})
	body, header := signedStripe(t, `{"id":"evt_5","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_5"}}}`)

	_, err := adapter.ParseCallback(context.Background(), body, header)
	assert.ErrorIs(t, err, providers.ErrUnauthorizedCallback)
}

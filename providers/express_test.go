package providers_test

import (
	"context"
	"net/http"
	"testing"

	"settlement-service/models"
	"settlement-service/providers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpress_OutcomeRequiresFlagAndStatusToAgree(t *testing.T) {
	adapter := providers.NewExpressAdapter(providers.ExpressConfig{})

	cases := []struct {
		name string
		body string
		want models.Outcome
	}{
		{"both agree on success", `{"id":"tx-1","isSuccessful":true,"status":"PAID","amount":4900}`, models.OutcomeSuccess},
		{"flag true but status failed", `{"id":"tx-1","isSuccessful":true,"status":"failed"}`, models.OutcomePending},
		{"status paid but flag false", `{"id":"tx-1","isSuccessful":false,"status":"paid"}`, models.OutcomePending},
		{"status paid but flag missing", `{"id":"tx-1","status":"paid"}`, models.OutcomePending},
		{"explicit failure", `{"id":"tx-1","isSuccessful":false,"status":"declined"}`, models.OutcomeFailure},
		{"failure without flag", `{"id":"tx-1","status":"expired"}`, models.OutcomeFailure},
		{"unknown status", `{"id":"tx-1","isSuccessful":true,"status":"processing"}`, models.OutcomePending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sig, err := adapter.ParseCallback(context.Background(), []byte(tc.body), http.Header{})
			require.NoError(t, err)
			assert.Equal(t, tc.want, sig.Outcome)
		})
	}
}

func TestExpress_ResolvesEitherReference(t *testing.T) {
	adapter := providers.NewExpressAdapter(providers.ExpressConfig{})

	sig, err := adapter.ParseCallback(context.Background(),
		[]byte(`{"merchantTransactionId":"ord-1","isSuccessful":true,"status":"paid","amount":100}`), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, "ord-1", sig.OrderRef)
	assert.Empty(t, sig.ExternalRef)
	assert.True(t, sig.HasOrderKey())
}

func TestExpress_RecoveryContextFromMetadata(t *testing.T) {
	adapter := providers.NewExpressAdapter(providers.ExpressConfig{})

	body := `{"id":"tx-9","isSuccessful":true,"status":"paid","amount":4900,"currency":"BRL",
		"metadata":{"productId":"prod-1","sellerId":"seller-1","customerEmail":"buyer@example.com"}}`
	sig, err := adapter.ParseCallback(context.Background(), []byte(body), http.Header{})
	require.NoError(t, err)
	require.NotNil(t, sig.Recovery)
	assert.True(t, sig.Recovery.Synthesizable())
	assert.Equal(t, int64(4900), sig.Recovery.Price)
}

func TestExpress_RejectsMalformed(t *testing.T) {
	adapter := providers.NewExpressAdapter(providers.ExpressConfig{})

	_, err := adapter.ParseCallback(context.Background(), []byte(`{not json`), http.Header{})
	assert.ErrorIs(t, err, providers.ErrMalformedPayload)

	_, err = adapter.ParseCallback(context.Background(), []byte(`{"status":"paid"}`), http.Header{})
	assert.ErrorIs(t, err, providers.ErrMalformedPayload)
}

func TestExpress_CallbackToken(t *testing.T) {
	adapter := providers.NewExpressAdapter(providers.ExpressConfig{CallbackToken: "s3cret"})
	body := []byte(`{"id":"tx-1","isSuccessful":true,"status":"paid"}`)

	_, err := adapter.ParseCallback(context.Background(), body, http.Header{"X-Callback-Token": {"wrong"}})
	assert.ErrorIs(t, err, providers.ErrUnauthorizedCallback)

	_, err = adapter.ParseCallback(context.Background(), body, http.Header{"X-Callback-Token": {"s3cret"}})
	assert.NoError(t, err)
}

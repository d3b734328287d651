package services_test

import (
	"context"
	"testing"

	"settlement-service/models"
	"settlement-service/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func strPtr(s string) *string { return &s }

func TestSellerCommission_Rounds(t *testing.T) {
	assert.Equal(t, int64(4410), services.SellerCommission(4900, 0.10))
	assert.Equal(t, int64(900), services.SellerCommission(999, 0.099))
	assert.Equal(t, int64(1000), services.SellerCommission(1000, 0))
}

func TestLedger_FindOrderByProviderRefThenOrderID(t *testing.T) {
	repo := newFakeOrderRepo(
		&models.Order{OrderID: "ord-1", ProviderRef: strPtr("tx-1"), Status: models.OrderStatusPending},
		&models.Order{OrderID: "ord-2", Status: models.OrderStatusPending},
	)
	ledger := services.NewLedger(repo, 0.1, zap.NewNop())

	o, synthesized, err := ledger.FindOrder(context.Background(), &models.PaymentSignal{ExternalRef: "tx-1", OrderRef: "ord-2"})
	require.NoError(t, err)
	assert.False(t, synthesized)
	assert.Equal(t, "ord-1", o.OrderID, "provider reference wins over merchant reference")

	o, _, err = ledger.FindOrder(context.Background(), &models.PaymentSignal{ExternalRef: "tx-unknown", OrderRef: "ord-2"})
	require.NoError(t, err)
	assert.Equal(t, "ord-2", o.OrderID)
}

func TestLedger_FindOrderDoesNotSynthesizeWithoutContext(t *testing.T) {
	ledger := services.NewLedger(newFakeOrderRepo(), 0.1, zap.NewNop())

	_, _, err := ledger.FindOrder(context.Background(), &models.PaymentSignal{
		Provider: "express", ExternalRef: "tx-9", Outcome: models.OutcomeSuccess,
		Recovery: &models.RecoveryContext{ProductID: "prod-1", Price: 0, CustomerEmail: "a@example.com"},
	})
	assert.ErrorIs(t, err, services.ErrOrderNotFound)

	_, _, err = ledger.FindOrder(context.Background(), &models.PaymentSignal{
		Provider: "express", ExternalRef: "tx-9", Outcome: models.OutcomePending,
		Recovery: &models.RecoveryContext{ProductID: "prod-1", Price: 100, CustomerEmail: "a@example.com"},
	})
	assert.ErrorIs(t, err, services.ErrOrderNotFound, "pending outcomes never synthesize")
}

func TestLedger_TransitionIsCompareAndSet(t *testing.T) {
	repo := newFakeOrderRepo(&models.Order{OrderID: "ord-1", Amount: 4900, Status: models.OrderStatusPending})
	ledger := services.NewLedger(repo, 0.1, zap.NewNop())

	stale := repo.get("ord-1")
	fresh := repo.get("ord-1")

	changed, err := ledger.Transition(context.Background(), fresh, models.OutcomeSuccess, "tx-1")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, int64(4410), fresh.SellerCommission)

	// A caller still holding the pending snapshot loses.
	changed, err = ledger.Transition(context.Background(), stale, models.OutcomeFailure, "")
	require.NoError(t, err)
	assert.False(t, changed)

	stored := repo.get("ord-1")
	assert.Equal(t, models.OrderStatusCompleted, stored.Status)
	require.NotNil(t, stored.ProviderRef)
	assert.Equal(t, "tx-1", *stored.ProviderRef)
	assert.NotNil(t, stored.CompletedAt)
	assert.Nil(t, stored.FailedAt)
}

func TestLedger_TransitionSkipsProviderRefOwnedElsewhere(t *testing.T) {
	repo := newFakeOrderRepo(
		&models.Order{OrderID: "ord-1", ProviderRef: strPtr("tx-1"), Status: models.OrderStatusCompleted},
		&models.Order{OrderID: "ord-2", Amount: 4900, Status: models.OrderStatusPending},
	)
	ledger := services.NewLedger(repo, 0.1, zap.NewNop())

	changed, err := ledger.Transition(context.Background(), repo.get("ord-2"), models.OutcomeSuccess, "tx-1")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 2, repo.casCalls)

	stored := repo.get("ord-2")
	assert.Equal(t, models.OrderStatusCompleted, stored.Status)
	assert.Nil(t, stored.ProviderRef)
	assert.Equal(t, "tx-1", *repo.get("ord-1").ProviderRef)
}

func TestLedger_TransitionNoOps(t *testing.T) {
	repo := newFakeOrderRepo(&models.Order{OrderID: "ord-1", Status: models.OrderStatusFailed})
	ledger := services.NewLedger(repo, 0.1, zap.NewNop())

	changed, err := ledger.Transition(context.Background(), repo.get("ord-1"), models.OutcomeSuccess, "")
	require.NoError(t, err)
	assert.False(t, changed)

	pending := newFakeOrderRepo(&models.Order{OrderID: "ord-2", Status: models.OrderStatusPending})
	changed, err = services.NewLedger(pending, 0.1, zap.NewNop()).Transition(context.Background(), pending.get("ord-2"), models.OutcomePending, "")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 0, repo.casCalls)
	assert.Equal(t, 0, pending.casCalls)
}

func TestLedger_OpenOrderRejectsDuplicate(t *testing.T) {
	ledger := services.NewLedger(newFakeOrderRepo(), 0.1, zap.NewNop())
	req := services.OpenOrderRequest{
		OrderID: "ord-1", ProductID: "prod-1", CustomerEmail: "A@Example.com",
		Amount: 4900, Currency: "brl", Provider: "Express", ProviderRef: "tx-1",
	}

	o, err := ledger.OpenOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, o.Status)
	assert.Equal(t, "a@example.com", o.CustomerEmail)
	assert.Equal(t, "BRL", o.Currency)
	assert.Equal(t, "express", o.Provider)

	_, err = ledger.OpenOrder(context.Background(), req)
	assert.ErrorIs(t, err, services.ErrOrderExists)
}

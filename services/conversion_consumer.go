package services

import (
	"context"
	"errors"
	"strings"

	"settlement-service/models"
)

// ConversionConsumer reports a completed order as a Purchase conversion.
type ConversionConsumer struct {
	conversions *ConversionService
}

func NewConversionConsumer(conversions *ConversionService) *ConversionConsumer {
	return &ConversionConsumer{conversions: conversions}
}

func (c *ConversionConsumer) Name() string { return "conversion" }

// PurchaseEventID is shared with client-side pixels so both reports dedupe to one event.
func PurchaseEventID(orderID string) string {
	return "purchase_" + orderID
}

func (c *ConversionConsumer) Consume(ctx context.Context, order *models.Order) error {
	first, last := splitName(order.CustomerName)
	_, err := c.conversions.Submit(ctx, ConversionRequest{
		EventID:   PurchaseEventID(order.OrderID),
		SellerID:  order.SellerID,
		ProductID: order.ProductID,
		EventName: "Purchase",
		Value:     order.Amount,
		Currency:  order.Currency,
		OrderID:   order.OrderID,
		Customer: ConversionCustomer{
			Email:      order.CustomerEmail,
			Phone:      order.CustomerPhone,
			FirstName:  first,
			LastName:   last,
			ExternalID: order.CustomerEmail,
		},
	})
	if errors.Is(err, ErrNoDestinations) {
		return nil
	}
	return err
}

func splitName(full string) (string, string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], parts[len(parts)-1]
	}
}

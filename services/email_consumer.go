package services

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"strconv"

	"settlement-service/models"
	"settlement-service/repository"
	"settlement-service/sender"

	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

type emailKind struct {
	kind    string
	subject string
	tmpl    string
}

var (
	buyerConfirmation = emailKind{models.NotificationBuyerConfirmation, "Your purchase is confirmed", "templates/buyer_confirmation.html"}
	sellerSale        = emailKind{models.NotificationSellerSale, "You made a sale", "templates/seller_sale.html"}
)

type emailData struct {
	OrderID       string
	ProductName   string
	CustomerName  string
	CustomerEmail string
	Amount        string
	Commission    string
	Currency      string
	ExpiresAt     string
}

// EmailConsumer sends the buyer confirmation and the seller notification. A kind already logged as
// sent for the order is skipped; that is a convention, not strict dedup.
type EmailConsumer struct {
	sender        sender.EmailSender
	notifications repository.NotificationRepository
	products      repository.ProductRepository
	templates     map[string]*template.Template
	logger        *zap.Logger
}

func NewEmailConsumer(s sender.EmailSender, notifications repository.NotificationRepository, products repository.ProductRepository, logger *zap.Logger) (*EmailConsumer, error) {
	tmpls := make(map[string]*template.Template)
	for _, k := range []emailKind{buyerConfirmation, sellerSale} {
		t, err := template.ParseFS(templateFS, k.tmpl)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template for %s: %w", k.kind, err)
		}
		tmpls[k.kind] = t
	}
	return &EmailConsumer{sender: s, notifications: notifications, products: products, templates: tmpls, logger: logger}, nil
}

func (c *EmailConsumer) Name() string { return "email" }

func (c *EmailConsumer) Consume(ctx context.Context, order *models.Order) error {
	product, err := c.products.FindByID(ctx, order.ProductID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("load product: %w", err)
	}

	data := emailData{
		OrderID:       order.OrderID,
		ProductName:   order.ProductID,
		CustomerName:  order.CustomerName,
		CustomerEmail: order.CustomerEmail,
		Amount:        formatMinor(order.Amount),
		Commission:    formatMinor(order.SellerCommission),
		Currency:      order.Currency,
	}
	sellerEmail := ""
	if product != nil {
		data.ProductName = product.Name
		sellerEmail = product.SellerEmail
		if product.AccessDays > 0 && order.CompletedAt != nil {
			data.ExpiresAt = order.CompletedAt.AddDate(0, 0, product.AccessDays).Format("2006-01-02")
		}
	}

	var errs []error
	if err := c.send(ctx, order, buyerConfirmation, order.CustomerEmail, data); err != nil {
		errs = append(errs, err)
	}
	if sellerEmail != "" {
		if err := c.send(ctx, order, sellerSale, sellerEmail, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *EmailConsumer) send(ctx context.Context, order *models.Order, k emailKind, to string, data emailData) error {
	sent, err := c.notifications.HasSent(ctx, order.OrderID, models.ChannelEmail, k.kind)
	if err != nil {
		c.logger.Warn("Notification log lookup failed", zap.String("order_id", order.OrderID), zap.Error(err))
	}
	if sent {
		c.logger.Info("Email already sent, skipping", zap.String("order_id", order.OrderID), zap.String("kind", k.kind))
		return nil
	}

	var body bytes.Buffer
	if err := c.templates[k.kind].Execute(&body, data); err != nil {
		return fmt.Errorf("template render failed: %w", err)
	}

	log := &models.NotificationLog{
		OrderID:   order.OrderID,
		Channel:   models.ChannelEmail,
		Kind:      k.kind,
		Recipient: to,
		Status:    models.NotificationStatusSent,
	}
	_, sendErr := c.sender.SendEmail(ctx, to, k.subject, body.String())
	if sendErr != nil {
		log.Status = models.NotificationStatusFailed
		log.Error = sendErr.Error()
	}
	if err := c.notifications.SaveLog(ctx, log); err != nil {
		c.logger.Warn("Failed to save notification log", zap.String("order_id", order.OrderID), zap.Error(err))
	}
	if sendErr != nil {
		return fmt.Errorf("send %s: %w", k.kind, sendErr)
	}
	return nil
}

func formatMinor(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	cents := v % 100
	pad := ""
	if cents < 10 {
		pad = "0"
	}
	return sign + strconv.FormatInt(v/100, 10) + "." + pad + strconv.FormatInt(cents, 10)
}

package controllers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"settlement-service/middleware"
	"settlement-service/models"
	"settlement-service/pkg/apperrors"
	"settlement-service/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type OrderLedger interface {
	OpenOrder(ctx context.Context, req services.OpenOrderRequest) (*models.Order, error)
	Get(ctx context.Context, orderID string) (*models.Order, error)
}

type PollRunner interface {
	PollOnce(ctx context.Context, window time.Duration) (*services.PollReport, error)
}

type DeliveryReplayer interface {
	Deliveries(ctx context.Context, orderID string) ([]models.WebhookDelivery, error)
	Replay(ctx context.Context, deliveryID uuid.UUID) (*models.WebhookDelivery, error)
}

// OperatorController serves the authenticated /internal endpoints.
type OperatorController struct {
	ledger     OrderLedger
	poller     PollRunner
	deliveries DeliveryReplayer
	logger     *zap.Logger
}

func NewOperatorController(ledger OrderLedger, poller PollRunner, deliveries DeliveryReplayer, logger *zap.Logger) *OperatorController {
	return &OperatorController{ledger: ledger, poller: poller, deliveries: deliveries, logger: logger}
}

type pollRequest struct {
	Window string `json:"window"`
}

// Poll runs one poll pass. The window comes from the JSON body or ?window=, e.g. "48h".
func (oc *OperatorController) Poll(c *gin.Context) {
	var req pollRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			apperrors.Respond(c, apperrors.BadRequest("Invalid request body", err))
			return
		}
	}
	if req.Window == "" {
		req.Window = c.Query("window")
	}

	var window time.Duration
	if req.Window != "" {
		d, err := time.ParseDuration(req.Window)
		if err != nil || d <= 0 {
			apperrors.Respond(c, apperrors.BadRequest("Invalid window", err))
			return
		}
		window = d
	}

	report, err := oc.poller.PollOnce(c.Request.Context(), window)
	if err != nil {
		oc.logger.Error("Poll run failed", zap.String("operator", middleware.GetOperator(c)), zap.Error(err))
		apperrors.Respond(c, apperrors.Unavailable("Poll failed", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"window":        report.Window.String(),
		"checked":       report.Checked,
		"transitioned":  report.Transitioned,
		"still_pending": report.StillPending,
		"failed":        report.Failed,
	})
}

// OpenOrder records a pending order at checkout.
func (oc *OperatorController) OpenOrder(c *gin.Context) {
	var req services.OpenOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.Respond(c, apperrors.BadRequest(err.Error(), err))
		return
	}

	order, err := oc.ledger.OpenOrder(c.Request.Context(), req)
	if errors.Is(err, services.ErrOrderExists) {
		apperrors.Respond(c, apperrors.Conflict("Order already exists", err))
		return
	}
	if err != nil {
		oc.logger.Error("Failed to open order", zap.Error(err))
		apperrors.Respond(c, apperrors.Unavailable("Failed to save order", err))
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (oc *OperatorController) GetOrder(c *gin.Context) {
	order, err := oc.ledger.Get(c.Request.Context(), c.Param("order_id"))
	if errors.Is(err, services.ErrOrderNotFound) {
		apperrors.Respond(c, apperrors.NotFound("Order not found", err))
		return
	}
	if err != nil {
		apperrors.Respond(c, apperrors.Internal("Internal server error", err))
		return
	}
	c.JSON(http.StatusOK, order)
}

func (oc *OperatorController) ListDeliveries(c *gin.Context) {
	orderID := c.Query("order_id")
	if orderID == "" {
		apperrors.Respond(c, apperrors.BadRequest("order_id is required", nil))
		return
	}
	deliveries, err := oc.deliveries.Deliveries(c.Request.Context(), orderID)
	if err != nil {
		apperrors.Respond(c, apperrors.Internal("Internal server error", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": deliveries, "total": len(deliveries)})
}

// ReplayDelivery re-sends one recorded webhook delivery.
func (oc *OperatorController) ReplayDelivery(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		apperrors.Respond(c, apperrors.BadRequest("Invalid delivery id", err))
		return
	}

	delivery, err := oc.deliveries.Replay(c.Request.Context(), id)
	if errors.Is(err, services.ErrDeliveryNotFound) {
		apperrors.Respond(c, apperrors.NotFound("Delivery not found", err))
		return
	}
	if err != nil {
		oc.logger.Error("Webhook replay failed", zap.String("delivery_id", id.String()), zap.Error(err))
		apperrors.Respond(c, apperrors.Internal("Internal server error", err))
		return
	}
	oc.logger.Info("Webhook delivery replayed",
		zap.String("delivery_id", id.String()),
		zap.String("operator", middleware.GetOperator(c)),
		zap.String("status", string(delivery.Status)),
	)
	c.JSON(http.StatusOK, delivery)
}

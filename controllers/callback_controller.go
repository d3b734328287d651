package controllers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"settlement-service/pkg/apperrors"
	awspkg "settlement-service/pkg/aws"
	"settlement-service/providers"
	"settlement-service/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxCallbackBody = 1 << 20

// CallbackController receives provider push notifications. A 200 is only written after the
// ledger write committed, so providers keep re-delivering anything that failed.
type CallbackController struct {
	registry   *providers.Registry
	recovery   providers.CallbackAdapter
	reconciler services.SignalReconciler
	archive    awspkg.ObjectPutter
	logger     *zap.Logger
}

func NewCallbackController(registry *providers.Registry, recovery providers.CallbackAdapter, reconciler services.SignalReconciler, archive awspkg.ObjectPutter, logger *zap.Logger) *CallbackController {
	return &CallbackController{registry: registry, recovery: recovery, reconciler: reconciler, archive: archive, logger: logger}
}

// HandleCallback serves POST /callbacks/:provider.
func (cc *CallbackController) HandleCallback(c *gin.Context) {
	adapter, ok := cc.registry.Get(c.Param("provider"))
	if !ok {
		apperrors.Respond(c, apperrors.NotFound("Unknown provider", nil))
		return
	}
	cc.handle(c, adapter)
}

// StripeWebhook keeps the historical /stripe/webhook path working.
func (cc *CallbackController) StripeWebhook(c *gin.Context) {
	adapter, ok := cc.registry.Get(providers.StripeProviderName)
	if !ok {
		apperrors.Respond(c, apperrors.NotFound("Unknown provider", nil))
		return
	}
	cc.handle(c, adapter)
}

// SubmitRecovery serves POST /internal/recoveries: an operator-supplied confirmation that may
// create the order when it was never opened.
func (cc *CallbackController) SubmitRecovery(c *gin.Context) {
	cc.handle(c, cc.recovery)
}

func (cc *CallbackController) handle(c *gin.Context, adapter providers.CallbackAdapter) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		apperrors.Respond(c, apperrors.BadRequest("Unable to read body", err))
		return
	}
	cc.archiveBody(c.Request.Context(), adapter.Name(), body)

	sig, err := adapter.ParseCallback(c.Request.Context(), body, c.Request.Header)
	switch {
	case err == nil:
	case errors.Is(err, providers.ErrIgnoredEvent):
		cc.logger.Info("Provider event ignored", zap.String("provider", adapter.Name()), zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	case errors.Is(err, providers.ErrUnauthorizedCallback):
		cc.logger.Warn("Callback authentication failed", zap.String("provider", adapter.Name()), zap.Error(err))
		apperrors.Respond(c, apperrors.Unauthorized("Invalid signature", err))
		return
	default:
		cc.logger.Warn("Malformed provider callback", zap.String("provider", adapter.Name()), zap.Error(err))
		apperrors.Respond(c, apperrors.BadRequest("Malformed payload", err))
		return
	}

	result, err := cc.reconciler.Reconcile(c.Request.Context(), sig)
	if err != nil {
		apperrors.Respond(c, reconcileError(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       "received",
		"order_id":     result.OrderID,
		"order_status": result.Status,
		"transitioned": result.Transitioned,
		"synthesized":  result.Synthesized,
	})
}

func reconcileError(err error) error {
	switch {
	case errors.Is(err, services.ErrMalformedSignal):
		return apperrors.BadRequest("Malformed payment signal", err)
	case errors.Is(err, services.ErrOrderNotFound):
		return apperrors.NotFound("Order not found", err)
	case errors.Is(err, services.ErrRetryable):
		return apperrors.Unavailable("Settlement temporarily unavailable", err)
	default:
		return apperrors.Internal("Internal server error", err)
	}
}

// archiveBody stores the raw callback for audit. Failures are logged and never change the response.
func (cc *CallbackController) archiveBody(ctx context.Context, provider string, body []byte) {
	if cc.archive == nil || len(body) == 0 {
		return
	}
	now := time.Now().UTC()
	key := fmt.Sprintf("callbacks/%s/%s/%s.json", provider, now.Format("2006/01/02"), uuid.NewString())

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if err := cc.archive.PutObject(ctx, key, body, "application/json"); err != nil {
		cc.logger.Warn("Failed to archive callback", zap.String("provider", provider), zap.String("key", key), zap.Error(err))
	}
}

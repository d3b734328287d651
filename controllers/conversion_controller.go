package controllers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"settlement-service/models"
	"settlement-service/pkg/apperrors"
	"settlement-service/repository"
	"settlement-service/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ConversionSubmitter interface {
	Submit(ctx context.Context, req services.ConversionRequest) (*services.ConversionResult, error)
	Find(ctx context.Context, eventID string) (*models.ConversionEvent, error)
	Replay(ctx context.Context, eventID string) (*services.ConversionResult, error)
	ReplayPending(ctx context.Context, olderThan time.Duration) (*services.ConversionReplayReport, error)
}

type ConversionController struct {
	conversions ConversionSubmitter
	logger      *zap.Logger
}

func NewConversionController(conversions ConversionSubmitter, logger *zap.Logger) *ConversionController {
	return &ConversionController{conversions: conversions, logger: logger}
}

// Submit serves POST /conversions. A repeated event_id answers 200 with the recorded status.
func (cc *ConversionController) Submit(c *gin.Context) {
	var req services.ConversionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.Respond(c, apperrors.BadRequest(err.Error(), err))
		return
	}

	result, err := cc.conversions.Submit(c.Request.Context(), req)
	switch {
	case err == nil:
	case errors.Is(err, services.ErrMissingEventID):
		apperrors.Respond(c, apperrors.BadRequest("event_id is required", err))
		return
	case errors.Is(err, services.ErrNoDestinations):
		apperrors.Respond(c, apperrors.New(http.StatusUnprocessableEntity, "No active destinations for seller", err))
		return
	default:
		cc.logger.Error("Conversion submit failed", zap.String("event_id", req.EventID), zap.Error(err))
		apperrors.Respond(c, apperrors.Unavailable("Conversion log unavailable", err))
		return
	}

	c.JSON(http.StatusOK, result)
}

// Get serves GET /internal/conversions/:event_id with the full attempt history.
func (cc *ConversionController) Get(c *gin.Context) {
	event, err := cc.conversions.Find(c.Request.Context(), c.Param("event_id"))
	if errors.Is(err, repository.ErrNotFound) {
		apperrors.Respond(c, apperrors.NotFound("Conversion event not found", err))
		return
	}
	if err != nil {
		apperrors.Respond(c, apperrors.Internal("Internal server error", err))
		return
	}
	c.JSON(http.StatusOK, event)
}

// Replay serves POST /internal/conversions/:event_id/replay for an event stuck in pending.
func (cc *ConversionController) Replay(c *gin.Context) {
	eventID := c.Param("event_id")
	result, err := cc.conversions.Replay(c.Request.Context(), eventID)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrNotFound):
		apperrors.Respond(c, apperrors.NotFound("Conversion event not found", err))
		return
	case errors.Is(err, services.ErrConversionNotPending):
		apperrors.Respond(c, apperrors.Conflict("Conversion event already completed", err))
		return
	case errors.Is(err, services.ErrConversionInFlight):
		apperrors.Respond(c, apperrors.Conflict("Conversion event delivery still in flight", err))
		return
	default:
		cc.logger.Error("Conversion replay failed", zap.String("event_id", eventID), zap.Error(err))
		apperrors.Respond(c, apperrors.Unavailable("Conversion log unavailable", err))
		return
	}

	c.JSON(http.StatusOK, result)
}

// ReplayPending serves POST /internal/conversions/replay?older_than=30m.
func (cc *ConversionController) ReplayPending(c *gin.Context) {
	var olderThan time.Duration
	if raw := c.Query("older_than"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			apperrors.Respond(c, apperrors.BadRequest("older_than must be a positive duration", err))
			return
		}
		olderThan = d
	}

	report, err := cc.conversions.ReplayPending(c.Request.Context(), olderThan)
	if err != nil {
		cc.logger.Error("Conversion bulk replay failed", zap.Error(err))
		apperrors.Respond(c, apperrors.Unavailable("Conversion log unavailable", err))
		return
	}
	c.JSON(http.StatusOK, report)
}

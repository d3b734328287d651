package routes

import (
	"net/http"

	"settlement-service/controllers"
	"settlement-service/middleware"

	"github.com/gin-gonic/gin"
)

type Options struct {
	OperatorSecret       []byte
	ConversionOrigins    []string
	ConversionRatePerMin int
}

func RegisterRoutes(r *gin.Engine, callbacks *controllers.CallbackController, conversions *controllers.ConversionController, operator *controllers.OperatorController, opts Options) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK", "service": "settlement-service"})
	})

	// Provider callbacks authenticate by signature or shared token, not JWT.
	r.POST("/callbacks/:provider", callbacks.HandleCallback)
	r.POST("/stripe/webhook", callbacks.StripeWebhook)

	intake := r.Group("/conversions", middleware.ConversionCORS(opts.ConversionOrigins), middleware.RateLimitMiddleware(opts.ConversionRatePerMin, 0))
	{
		intake.POST("", conversions.Submit)
		intake.OPTIONS("", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	}

	internal := r.Group("/internal", middleware.OperatorAuth(opts.OperatorSecret))
	{
		internal.POST("/poll", operator.Poll)
		internal.POST("/orders", operator.OpenOrder)
		internal.GET("/orders/:order_id", operator.GetOrder)
		internal.POST("/recoveries", callbacks.SubmitRecovery)
		internal.GET("/conversions/:event_id", conversions.Get)
		internal.POST("/conversions/replay", conversions.ReplayPending)
		internal.POST("/conversions/:event_id/replay", conversions.Replay)
		internal.GET("/webhooks/deliveries", operator.ListDeliveries)
		internal.POST("/webhooks/deliveries/:id/replay", operator.ReplayDelivery)
	}
}

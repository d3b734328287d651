package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"settlement-service/config"
	"settlement-service/consumer"
	"settlement-service/controllers"
	"settlement-service/database"
	"settlement-service/logger"
	"settlement-service/middleware"
	"settlement-service/pkg/apperrors"
	awspkg "settlement-service/pkg/aws"
	"settlement-service/providers"
	"settlement-service/repository"
	"settlement-service/routes"
	"settlement-service/sender"
	"settlement-service/services"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const serviceName = "settlement-service"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic("config load failed: " + err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// AWS is optional locally; every AWS-backed feature degrades to off without it.
	awsCfg, awsErr := awspkg.LoadAWSConfig(ctx)

	var cloudWatch io.Writer
	if awsErr == nil && cfg.CloudWatchLogGroup != "" {
		if w, err := awspkg.NewCloudWatchLogsClient(ctx, awsCfg, cfg.CloudWatchLogGroup, serviceName); err == nil {
			cloudWatch = w
		}
	}
	log, err := logger.New(cfg.Env, cloudWatch)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Sync()
	if awsErr != nil {
		log.Warn("AWS config unavailable, AWS-backed features disabled (non-fatal)", zap.Error(awsErr))
	}

	db, err := database.ConnectPostgres(ctx, cfg.PostgresDSN(), log)
	if err != nil {
		log.Fatal("DB connection failed", zap.Error(err))
	}

	var metrics *awspkg.MetricsClient
	if awsErr == nil {
		metrics = awspkg.NewMetricsClient(awsCfg, cfg.CloudWatchNamespace, cfg.CloudWatchEnabled)
	}

	// Repositories
	orderRepo := repository.NewGormOrderRepository(db)
	accessRepo := repository.NewGormAccessRepository(db)
	productRepo := repository.NewGormProductRepository(db)
	notificationRepo := repository.NewGormNotificationRepository(db)
	webhookRepo := repository.NewGormWebhookRepository(db)
	conversionRepo := repository.NewGormConversionRepository(db)

	// Providers
	var tokens providers.TokenCache = providers.NewMemoryTokenCache()
	if cfg.RedisURL != "" {
		redisClient, err := database.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Warn("Redis unavailable, provider tokens cached in memory", zap.Error(err))
		} else {
			defer redisClient.Close()
			tokens = providers.NewRedisTokenCache(redisClient)
		}
	}
	registry := providers.NewRegistry(
		providers.NewExpressAdapter(providers.ExpressConfig{CallbackToken: cfg.ExpressCallbackToken}),
		providers.NewStripeAdapter(providers.StripeConfig{WebhookSecret: cfg.StripeWebhookSecret}),
	)
	var pollers []providers.StatusPoller
	if cfg.ReferenceBaseURL != "" {
		pollers = append(pollers, providers.NewReferenceAdapter(providers.ReferenceConfig{
			BaseURL:      cfg.ReferenceBaseURL,
			ClientID:     cfg.ReferenceClientID,
			ClientSecret: cfg.ReferenceClientSecret,
			Timeout:      cfg.HTTPTimeout,
		}, tokens, log))
	}

	// Fan-out consumers
	conversionSvc := services.NewConversionService(conversionRepo, sender.NewConversionSender(cfg.HTTPTimeout), services.ConversionConfig{
		MaxAttempts:     cfg.ConversionMaxAttempts,
		RetryBase:       cfg.ConversionRetryBase,
		DeliveryTimeout: cfg.ConversionDeliveryTimeout,
		StaleAfter:      cfg.ConversionReplayAfter,
	}, log).WithMetrics(metrics)
	webhookConsumer := services.NewWebhookConsumer(webhookRepo, sender.NewWebhookSender(cfg.HTTPTimeout), log)

	consumers := []services.Consumer{
		services.NewAccessGrantConsumer(accessRepo, productRepo),
		webhookConsumer,
		services.NewConversionConsumer(conversionSvc),
	}
	if cfg.SMTPHost != "" {
		smtpSender, err := sender.NewSMTPSender(sender.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
		if err != nil {
			log.Fatal("Failed to init SMTP sender", zap.Error(err))
		}
		emailConsumer, err := services.NewEmailConsumer(smtpSender, notificationRepo, productRepo, log)
		if err != nil {
			log.Fatal("Failed to init email consumer", zap.Error(err))
		}
		consumers = append(consumers, emailConsumer)
	} else {
		log.Warn("SMTP_HOST not set, email notifications disabled")
	}
	if awsErr == nil {
		push := sender.NewSNSPushSender(awspkg.NewSNSClient(awsCfg))
		consumers = append(consumers, services.NewPushConsumer(push, notificationRepo, productRepo, log))
	}

	// Core
	ledger := services.NewLedger(orderRepo, cfg.PlatformFeeRate, log)
	dispatcher := services.NewDispatcher(log, cfg.DispatchTimeout, consumers...).WithMetrics(metrics)
	reconciler := services.NewReconciler(ledger, dispatcher, log).WithMetrics(metrics)
	poller := services.NewPoller(orderRepo, reconciler, cfg.PollWindow, log, pollers...).WithMetrics(metrics)

	// Controllers
	var archive awspkg.ObjectPutter
	if awsErr == nil && cfg.CallbackArchiveBucket != "" {
		archive = awspkg.NewS3Bucket(awsCfg, cfg.CallbackArchiveBucket)
	}
	callbackController := controllers.NewCallbackController(registry, providers.NewRecoveryAdapter(), reconciler, archive, log)
	conversionController := controllers.NewConversionController(conversionSvc, log)
	operatorController := controllers.NewOperatorController(ledger, poller, webhookConsumer, log)

	// Router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.MetricsMiddleware(metrics, serviceName))
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(apperrors.ErrorMiddleware())

	routes.RegisterRoutes(r, callbackController, conversionController, operatorController, routes.Options{
		OperatorSecret:       []byte(cfg.JWTSecret),
		ConversionOrigins:    cfg.ConversionOrigins,
		ConversionRatePerMin: cfg.ConversionRatePerMin,
	})

	// SQS poll trigger
	if awsErr == nil && cfg.PollQueueURL != "" {
		go startPollConsumer(ctx, awsCfg, cfg.PollQueueURL, poller, conversionSvc, log)
	} else {
		log.Info("POLL_QUEUE_URL not set, polling and conversion replay only via /internal endpoints")
	}

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		log.Info("Settlement service started", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Initiating graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", zap.Error(err))
	}
	if err := database.Close(db); err != nil {
		log.Error("Database close error", zap.Error(err))
	}
	log.Info("Settlement service stopped gracefully")
}

func startPollConsumer(ctx context.Context, awsCfg sdkaws.Config, queueURL string, poller *services.Poller, conversions *services.ConversionService, log *zap.Logger) {
	queue := awspkg.NewSQSConsumer(awsCfg, queueURL, log)
	trigger := consumer.NewPollTriggerConsumer(poller, log).WithConversionReplay(conversions)
	if err := trigger.Start(ctx, queue); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Poll trigger consumer stopped", zap.Error(err))
	}
}

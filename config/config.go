package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	awspkg "settlement-service/pkg/aws"

	"github.com/joho/godotenv"
)

type Config struct {
	Env  string
	Port string

	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresHost     string
	PostgresPort     string
	PostgresSSLMode  string
	PostgresTimeZone string
	RedisURL         string // empty keeps provider tokens in memory

	JWTSecret       string
	PlatformFeeRate float64

	ExpressCallbackToken  string
	StripeWebhookSecret   string
	ReferenceBaseURL      string // empty disables the reference provider
	ReferenceClientID     string
	ReferenceClientSecret string

	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	PollQueueURL string // SQS queue the scheduler drops poll triggers into
	PollWindow   time.Duration

	CallbackArchiveBucket string
	CloudWatchEnabled     bool
	CloudWatchNamespace   string
	CloudWatchLogGroup    string

	ConversionOrigins     []string
	ConversionRatePerMin  int
	ConversionMaxAttempts int
	ConversionRetryBase   time.Duration

	// ConversionDeliveryTimeout bounds one delivery run; ConversionReplayAfter is when a pending event counts as stuck.
	ConversionDeliveryTimeout time.Duration
	ConversionReplayAfter     time.Duration

	DispatchTimeout time.Duration
	HTTPTimeout     time.Duration
}

// secretOverrides maps Secrets Manager names to the fields they replace.
var secretOverrides = []struct {
	name  string
	field func(*Config) *string
}{
	{"settlement/POSTGRES_PASSWORD", func(c *Config) *string { return &c.PostgresPassword }},
	{"settlement/JWT_SECRET", func(c *Config) *string { return &c.JWTSecret }},
	{"settlement/STRIPE_WEBHOOK_SECRET", func(c *Config) *string { return &c.StripeWebhookSecret }},
	{"settlement/EXPRESS_CALLBACK_TOKEN", func(c *Config) *string { return &c.ExpressCallbackToken }},
	{"settlement/REFERENCE_CLIENT_SECRET", func(c *Config) *string { return &c.ReferenceClientSecret }},
	{"settlement/SMTP_PASSWORD", func(c *Config) *string { return &c.SMTPPassword }},
}

// LoadConfig reads .env (when present) and the environment. With AWS_USE_SECRETS=true, secrets
// found in Secrets Manager replace their env counterparts; lookup failures fall back to env.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}

	if os.Getenv("AWS_USE_SECRETS") == "true" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if awsCfg, err := awspkg.LoadAWSConfig(ctx); err == nil {
			ApplySecrets(ctx, cfg, awspkg.NewSecretsClient(awsCfg))
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a Config from the process environment without validating it.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Env:                   getEnv("APP_ENV", "development"),
		Port:                  getEnv("PORT", "8090"),
		PostgresUser:          os.Getenv("POSTGRES_USER"),
		PostgresPassword:      os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:            os.Getenv("POSTGRES_DB"),
		PostgresHost:          getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:          getEnv("POSTGRES_PORT", "5432"),
		PostgresSSLMode:       getEnv("POSTGRES_SSLMODE", "disable"),
		PostgresTimeZone:      getEnv("POSTGRES_TIMEZONE", "UTC"),
		RedisURL:              os.Getenv("REDIS_URL"),
		JWTSecret:             strings.TrimSpace(os.Getenv("JWT_SECRET")),
		ExpressCallbackToken:  os.Getenv("EXPRESS_CALLBACK_TOKEN"),
		StripeWebhookSecret:   os.Getenv("STRIPE_WEBHOOK_SECRET"),
		ReferenceBaseURL:      os.Getenv("REFERENCE_BASE_URL"),
		ReferenceClientID:     os.Getenv("REFERENCE_CLIENT_ID"),
		ReferenceClientSecret: os.Getenv("REFERENCE_CLIENT_SECRET"),
		SMTPHost:              os.Getenv("SMTP_HOST"),
		SMTPPort:              getEnv("SMTP_PORT", "587"),
		SMTPUsername:          os.Getenv("SMTP_USERNAME"),
		SMTPPassword:          os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:              os.Getenv("SMTP_FROM"),
		PollQueueURL:          os.Getenv("POLL_QUEUE_URL"),
		CallbackArchiveBucket: os.Getenv("CALLBACK_ARCHIVE_BUCKET"),
		CloudWatchEnabled:     os.Getenv("CLOUDWATCH_ENABLED") == "true",
		CloudWatchNamespace:   getEnv("CLOUDWATCH_NAMESPACE", "Settlement"),
		CloudWatchLogGroup:    os.Getenv("CLOUDWATCH_LOG_GROUP"),
		ConversionOrigins:     splitList(os.Getenv("CONVERSION_ALLOWED_ORIGINS")),
	}

	var err error
	if cfg.PlatformFeeRate, err = getFloat("PLATFORM_FEE_RATE", 0.1); err != nil {
		return nil, err
	}
	if cfg.PlatformFeeRate < 0 || cfg.PlatformFeeRate >= 1 {
		return nil, fmt.Errorf("PLATFORM_FEE_RATE must be in [0, 1), got %v", cfg.PlatformFeeRate)
	}
	if cfg.ConversionRatePerMin, err = getInt("CONVERSION_RATE_PER_MINUTE", 120); err != nil {
		return nil, err
	}
	if cfg.ConversionMaxAttempts, err = getInt("CONVERSION_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.PollWindow, err = getDuration("POLL_WINDOW", 48*time.Hour); err != nil {
		return nil, err
	}
	if cfg.ConversionRetryBase, err = getDuration("CONVERSION_RETRY_BASE", time.Second); err != nil {
		return nil, err
	}
	if cfg.ConversionDeliveryTimeout, err = getDuration("CONVERSION_DELIVERY_TIMEOUT", 2*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ConversionReplayAfter, err = getDuration("CONVERSION_REPLAY_AFTER", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.DispatchTimeout, err = getDuration("DISPATCH_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.HTTPTimeout, err = getDuration("OUTBOUND_HTTP_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplySecrets replaces fields with values found in sm. Missing secrets keep the env value.
func ApplySecrets(ctx context.Context, cfg *Config, sm awspkg.SecretGetter) {
	for _, o := range secretOverrides {
		if v, err := sm.GetSecret(ctx, o.name); err == nil && v != "" {
			*o.field(cfg) = v
		}
	}
}

func (c *Config) Validate() error {
	var missing []string
	if c.PostgresUser == "" {
		missing = append(missing, "POSTGRES_USER")
	}
	if c.PostgresPassword == "" {
		missing = append(missing, "POSTGRES_PASSWORD")
	}
	if c.PostgresDB == "" {
		missing = append(missing, "POSTGRES_DB")
	}
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		c.PostgresHost, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresPort, c.PostgresSSLMode, c.PostgresTimeZone,
	)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "/")); s != "" {
			out = append(out, s)
		}
	}
	return out
}

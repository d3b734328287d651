package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"settlement-service/models"
	"settlement-service/pkg/retry"

	"go.uber.org/zap"
)

const ReferenceProviderName = "reference"

// ReferenceConfig configures the pay-at-counter reference provider. It has no push notifications.
type ReferenceConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	// TokenTTL caps how long an access token is cached, regardless of what the provider grants.
	TokenTTL time.Duration
	Timeout  time.Duration
}

// ReferenceAdapter polls charge status with an OAuth2 client-credentials token.
type ReferenceAdapter struct {
	cfg        ReferenceConfig
	httpClient *http.Client
	tokens     TokenCache
	policy     retry.Policy
	logger     *zap.Logger
}

func NewReferenceAdapter(cfg ReferenceConfig, tokens TokenCache, logger *zap.Logger) *ReferenceAdapter {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 5 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &ReferenceAdapter{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		tokens:     tokens,
		policy: retry.Policy{
			MaxAttempts: 3,
			BaseDelay:   500 * time.Millisecond,
			Retryable:   isRetryableProviderError,
		},
		logger: logger,
	}
}

// WithRetryPolicy replaces the transient-failure policy.
func (a *ReferenceAdapter) WithRetryPolicy(p retry.Policy) *ReferenceAdapter {
	if p.Retryable == nil {
		p.Retryable = isRetryableProviderError
	}
	a.policy = p
	return a
}

var (
	referenceSuccess = newStatusSet("paid", "approved", "completed")
	referenceFailure = newStatusSet("canceled", "cancelled", "expired", "declined", "failed")
)

type referenceCharge struct {
	ID            string `json:"id"`
	ReferenceID   string `json:"reference_id"`
	Paid          *bool  `json:"paid"`
	Status        string `json:"status"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	PaymentMethod string `json:"payment_method"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (a *ReferenceAdapter) Name() string { return ReferenceProviderName }

func (a *ReferenceAdapter) tokenKey() string {
	return ReferenceProviderName + ":" + a.cfg.ClientID
}

// RefreshToken fetches a new access token and caches it.
func (a *ReferenceAdapter) RefreshToken(ctx context.Context) (string, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.SetBasicAuth(a.cfg.ClientID, a.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var tok tokenResponse
	if err := a.do(req, &tok); err != nil {
		return "", fmt.Errorf("reference token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("reference token: empty access token")
	}

	ttl := a.cfg.TokenTTL
	if granted := time.Duration(tok.ExpiresIn)*time.Second - 30*time.Second; tok.ExpiresIn > 0 && granted < ttl {
		ttl = granted
	}
	if ttl > 0 {
		if err := a.tokens.Set(ctx, a.tokenKey(), tok.AccessToken, ttl); err != nil {
			a.logger.Warn("Failed to cache provider token", zap.String("provider", ReferenceProviderName), zap.Error(err))
		}
	}
	return tok.AccessToken, nil
}

func (a *ReferenceAdapter) token(ctx context.Context) (string, error) {
	tok, ok, err := a.tokens.Get(ctx, a.tokenKey())
	if err != nil {
		a.logger.Warn("Token cache read failed", zap.String("provider", ReferenceProviderName), zap.Error(err))
	}
	if ok {
		return tok, nil
	}
	return a.RefreshToken(ctx)
}

// PollStatus asks the provider for the charge behind order's provider reference.
func (a *ReferenceAdapter) PollStatus(ctx context.Context, order *models.Order) (*models.PaymentSignal, error) {
	if order.ProviderRef == nil || *order.ProviderRef == "" {
		return nil, fmt.Errorf("%w: order %s has no provider reference", ErrNotPollable, order.OrderID)
	}
	ref := *order.ProviderRef

	var charge referenceCharge
	var body []byte
	attempts, err := retry.Do(ctx, a.policy, func(ctx context.Context, _ int) error {
		var err error
		body, err = a.fetchCharge(ctx, ref, &charge)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("poll %s after %d attempts: %w", ref, attempts, err)
	}

	orderRef := charge.ReferenceID
	if orderRef == "" {
		orderRef = order.OrderID
	}
	return &models.PaymentSignal{
		Provider:      ReferenceProviderName,
		ExternalRef:   ref,
		OrderRef:      orderRef,
		Outcome:       resolveOutcome(charge.Paid, charge.Status, referenceSuccess, referenceFailure),
		Amount:        charge.Amount,
		Currency:      charge.Currency,
		PaymentMethod: charge.PaymentMethod,
		RawPayload:    body,
	}, nil
}

// fetchCharge retries once with a fresh token when the cached one is rejected.
func (a *ReferenceAdapter) fetchCharge(ctx context.Context, ref string, out *referenceCharge) ([]byte, error) {
	for refreshed := false; ; refreshed = true {
		tok, err := a.token(ctx)
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+"/charges/"+url.PathEscape(ref), nil)
		if err != nil {
			return nil, retry.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+tok)
		req.Header.Set("Accept", "application/json")

		body, err := a.doRaw(req)
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusUnauthorized && !refreshed {
			if delErr := a.tokens.Delete(ctx, a.tokenKey()); delErr != nil {
				a.logger.Warn("Failed to invalidate provider token", zap.Error(delErr))
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(body, out); err != nil {
			return nil, retry.Permanent(malformed("reference charge: %v", err))
		}
		return body, nil
	}
}

func (a *ReferenceAdapter) do(req *http.Request, out interface{}) error {
	body, err := a.doRaw(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return retry.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (a *ReferenceAdapter) doRaw(req *http.Request) ([]byte, error) {
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Provider: ReferenceProviderName, Code: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// isRetryableProviderError treats transport errors and 5xx/429 as transient.
func isRetryableProviderError(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return !errors.Is(err, ErrMalformedPayload) && !errors.Is(err, ErrNotPollable)
}

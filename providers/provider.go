package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"settlement-service/models"
)

var (
	// ErrMalformedPayload means the payload cannot be understood; nothing may be mutated.
	ErrMalformedPayload = errors.New("malformed provider payload")
	// ErrIgnoredEvent is a well-formed notification that carries no payment outcome.
	ErrIgnoredEvent = errors.New("provider event ignored")
	// ErrUnauthorizedCallback means the signature or shared token did not verify.
	ErrUnauthorizedCallback = errors.New("callback authentication failed")
	// ErrNotPollable is returned for orders the provider cannot be asked about.
	ErrNotPollable = errors.New("order cannot be polled")
)

// CallbackAdapter turns a provider's push notification into a canonical signal.
type CallbackAdapter interface {
	Name() string
	ParseCallback(ctx context.Context, body []byte, header http.Header) (*models.PaymentSignal, error)
}

// StatusPoller is implemented by providers with no reliable push notification.
type StatusPoller interface {
	Name() string
	PollStatus(ctx context.Context, order *models.Order) (*models.PaymentSignal, error)
}

// Registry resolves callback adapters by provider name.
type Registry struct {
	adapters map[string]CallbackAdapter
}

func NewRegistry(adapters ...CallbackAdapter) *Registry {
	r := &Registry{adapters: make(map[string]CallbackAdapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

func (r *Registry) Get(name string) (CallbackAdapter, bool) {
	a, ok := r.adapters[strings.ToLower(name)]
	return a, ok
}

// StatusError is a non-2xx answer from a provider API.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.Code, e.Body)
}

// Retryable reports whether the provider may answer differently later.
func (e *StatusError) Retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

type statusSet map[string]bool

func newStatusSet(values ...string) statusSet {
	s := make(statusSet, len(values))
	for _, v := range values {
		s[v] = true
	}
	return s
}

// resolveOutcome applies the two-field rule: a provider reporting both a boolean flag and a status
// string is trusted for success only when both agree. Disagreement or unknown status stays pending.
func resolveOutcome(flag *bool, status string, success, failure statusSet) models.Outcome {
	s := strings.ToLower(strings.TrimSpace(status))
	flagTrue := flag != nil && *flag
	switch {
	case flagTrue && success[s]:
		return models.OutcomeSuccess
	case !flagTrue && failure[s]:
		return models.OutcomeFailure
	default:
		return models.OutcomePending
	}
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedPayload, fmt.Sprintf(format, args...))
}

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"settlement-service/models"
	awspkg "settlement-service/pkg/aws"
	"settlement-service/pkg/retry"
	"settlement-service/repository"
	"settlement-service/sender"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrMissingEventID       = errors.New("event_id is required")
	ErrNoDestinations       = errors.New("no active conversion destinations")
	ErrConversionNotPending = errors.New("conversion event is not pending")
	ErrConversionInFlight   = errors.New("conversion event delivery still in flight")
)

const (
	maxStoredResponse = 1024
	replayBatchSize   = 100
	completeTimeout   = 5 * time.Second
)

// ConversionPoster is implemented by sender.ConversionSender.
type ConversionPoster interface {
	Send(ctx context.Context, dest models.ConversionDestination, payload []byte) (sender.HTTPResult, error)
}

type ConversionRequest struct {
	EventID   string             `json:"event_id"`
	SellerID  string             `json:"seller_id" binding:"required"`
	ProductID string             `json:"product_id" binding:"required"`
	EventName string             `json:"event_name"`
	Value     int64              `json:"value"` // minor units
	Currency  string             `json:"currency"`
	OrderID   string             `json:"order_id"`
	EventTime int64              `json:"event_time"`
	SourceURL string             `json:"event_source_url"`
	Customer  ConversionCustomer `json:"customer"`
}

type ConversionCustomer struct {
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	ExternalID string `json:"external_id"`
	ClientIP   string `json:"client_ip"`
	UserAgent  string `json:"user_agent"`
	Fbp        string `json:"fbp"`
	Fbc        string `json:"fbc"`
}

type DestinationResult struct {
	DestinationID uuid.UUID `json:"destination_id"`
	Attempts      int       `json:"attempts"`
	Success       bool      `json:"success"`
	StatusCode    int       `json:"status_code,omitempty"`
	Error         string    `json:"error,omitempty"`
}

type ConversionResult struct {
	EventID      string                  `json:"event_id"`
	Status       models.ConversionStatus `json:"status"`
	Duplicate    bool                    `json:"duplicate"`
	Destinations []DestinationResult     `json:"destinations"`
}

type ConversionReplayReport struct {
	Checked  int `json:"checked"`
	Replayed int `json:"replayed"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

type ConversionConfig struct {
	MaxAttempts int
	RetryBase   time.Duration
	// DeliveryTimeout bounds one delivery run. Runs do not inherit the caller's cancellation.
	DeliveryTimeout time.Duration
	// StaleAfter is how long an event may sit in pending before replay takes it over.
	// It is raised to twice DeliveryTimeout when set lower.
	StaleAfter time.Duration
	// Sleep overrides the backoff wait; tests use it to avoid real delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// ConversionService delivers each conversion event to every active destination, at most one
// delivery sequence per event id.
type ConversionService struct {
	repo            repository.ConversionRepository
	poster          ConversionPoster
	policy          retry.Policy
	deliveryTimeout time.Duration
	staleAfter      time.Duration
	metrics         MetricsRecorder
	logger          *zap.Logger
	now             func() time.Time
}

func NewConversionService(repo repository.ConversionRepository, poster ConversionPoster, cfg ConversionConfig, logger *zap.Logger) *ConversionService {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 2 * time.Minute
	}
	if cfg.StaleAfter < 2*cfg.DeliveryTimeout {
		cfg.StaleAfter = 2 * cfg.DeliveryTimeout
	}
	return &ConversionService{
		repo:   repo,
		poster: poster,
		policy: retry.Policy{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.RetryBase,
			Sleep:       cfg.Sleep,
		},
		deliveryTimeout: cfg.DeliveryTimeout,
		staleAfter:      cfg.StaleAfter,
		logger:          logger,
		now:             time.Now,
	}
}

func (s *ConversionService) WithMetrics(m MetricsRecorder) *ConversionService {
	s.metrics = m
	return s
}

// Submit records and delivers req. A known event id short-circuits to its recorded status.
func (s *ConversionService) Submit(ctx context.Context, req ConversionRequest) (*ConversionResult, error) {
	req.EventID = strings.TrimSpace(req.EventID)
	if req.EventID == "" {
		return nil, ErrMissingEventID
	}
	if req.EventName == "" {
		req.EventName = "Purchase"
	}

	if existing, err := s.repo.FindByEventID(ctx, req.EventID); err == nil {
		return resultFromEvent(existing, true), nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("lookup event: %w", err)
	}

	dests, err := s.repo.ListDestinations(ctx, req.SellerID, req.ProductID)
	if err != nil {
		return nil, fmt.Errorf("list destinations: %w", err)
	}
	if len(dests) == 0 {
		return nil, ErrNoDestinations
	}

	event, err := json.Marshal(buildServerEvent(req, s.now()))
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}

	ev := &models.ConversionEvent{
		EventID:   req.EventID,
		SellerID:  req.SellerID,
		ProductID: req.ProductID,
		EventName: req.EventName,
		OrderID:   req.OrderID,
		Value:     req.Value,
		Currency:  strings.ToUpper(req.Currency),
		Payload:   string(event),
	}
	created, err := s.repo.CreatePending(ctx, ev)
	if err != nil {
		return nil, fmt.Errorf("record event: %w", err)
	}
	if !created {
		existing, err := s.repo.FindByEventID(ctx, req.EventID)
		if err != nil {
			return nil, fmt.Errorf("lookup event: %w", err)
		}
		return resultFromEvent(existing, true), nil
	}

	return s.run(ctx, ev, dests, nil, nil), nil
}

// Replay re-delivers a pending event that has been stuck for longer than StaleAfter.
// Destinations that already accepted the event are not contacted again.
func (s *ConversionService) Replay(ctx context.Context, eventID string) (*ConversionResult, error) {
	ev, err := s.repo.FindByEventID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if ev.Status != models.ConversionPending {
		return nil, ErrConversionNotPending
	}

	now := s.now()
	claimed, err := s.repo.ClaimPending(ctx, eventID, now.Add(-s.staleAfter), now)
	if err != nil {
		return nil, fmt.Errorf("claim event: %w", err)
	}
	if !claimed {
		return nil, ErrConversionInFlight
	}
	return s.redeliver(ctx, ev)
}

// ReplayPending replays every event pending for longer than olderThan (never less than StaleAfter).
func (s *ConversionService) ReplayPending(ctx context.Context, olderThan time.Duration) (*ConversionReplayReport, error) {
	if olderThan < s.staleAfter {
		olderThan = s.staleAfter
	}
	cutoff := s.now().Add(-olderThan)

	events, err := s.repo.ListStalePending(ctx, cutoff, replayBatchSize)
	if err != nil {
		return nil, fmt.Errorf("list stale conversions: %w", err)
	}

	report := &ConversionReplayReport{}
	for i := range events {
		ev := &events[i]
		report.Checked++

		claimed, err := s.repo.ClaimPending(ctx, ev.EventID, cutoff, s.now())
		if err != nil {
			report.Failed++
			s.logger.Error("Failed to claim stale conversion", zap.String("event_id", ev.EventID), zap.Error(err))
			continue
		}
		if !claimed {
			report.Skipped++
			continue
		}
		if _, err := s.redeliver(ctx, ev); err != nil {
			report.Failed++
			s.logger.Error("Conversion replay failed", zap.String("event_id", ev.EventID), zap.Error(err))
			continue
		}
		report.Replayed++
	}

	if report.Checked > 0 {
		s.logger.Info("Stale conversions replayed",
			zap.Int("checked", report.Checked),
			zap.Int("replayed", report.Replayed),
			zap.Int("skipped", report.Skipped),
			zap.Int("failed", report.Failed),
		)
	}
	return report, nil
}

// redeliver sends ev to every active destination without a successful attempt. Attempt numbers
// continue from the recorded history.
func (s *ConversionService) redeliver(ctx context.Context, ev *models.ConversionEvent) (*ConversionResult, error) {
	dests, err := s.repo.ListDestinations(ctx, ev.SellerID, ev.ProductID)
	if err != nil {
		return nil, fmt.Errorf("list destinations: %w", err)
	}

	history := resultFromEvent(ev, false).Destinations
	offsets := make(map[uuid.UUID]int, len(history))
	delivered := make(map[uuid.UUID]bool, len(history))
	var kept []DestinationResult
	for _, r := range history {
		offsets[r.DestinationID] = r.Attempts
		if r.Success {
			delivered[r.DestinationID] = true
			kept = append(kept, r)
		}
	}

	active := make(map[uuid.UUID]bool, len(dests))
	var targets []models.ConversionDestination
	for _, d := range dests {
		active[d.ID] = true
		if !delivered[d.ID] {
			targets = append(targets, d)
		}
	}
	// Failed destinations that were deactivated since still count against the final status.
	for _, r := range history {
		if !r.Success && !active[r.DestinationID] {
			kept = append(kept, r)
		}
	}

	return s.run(ctx, ev, targets, kept, offsets), nil
}

// run delivers ev to targets in parallel and records the final status. It runs detached from ctx
// so a caller that goes away cannot leave the event pending.
func (s *ConversionService) run(ctx context.Context, ev *models.ConversionEvent, targets []models.ConversionDestination, kept []DestinationResult, offsets map[uuid.UUID]int) *ConversionResult {
	detached := context.WithoutCancel(ctx)
	runCtx, cancel := context.WithTimeout(detached, s.deliveryTimeout)
	defer cancel()

	payload := []byte(ev.Payload)
	results := make([]DestinationResult, len(targets))
	var wg sync.WaitGroup
	for i := range targets {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.deliver(runCtx, ev.EventID, targets[i], payload, offsets[targets[i].ID])
		}(i)
	}
	wg.Wait()
	results = append(kept, results...)

	status := finalStatus(results)
	completeCtx, cancelComplete := context.WithTimeout(detached, completeTimeout)
	defer cancelComplete()
	if err := s.repo.Complete(completeCtx, ev.EventID, status, s.now()); err != nil {
		// ReplayPending picks it up once it is stale.
		s.logger.Error("Failed to complete conversion event", zap.String("event_id", ev.EventID), zap.Error(err))
	}

	s.logger.Info("Conversion event processed",
		zap.String("event_id", ev.EventID),
		zap.String("status", string(status)),
		zap.Int("destinations", len(results)),
	)
	recordCount(detached, s.metrics, s.logger, conversionMetric(status), map[string]string{"EventName": ev.EventName})

	return &ConversionResult{EventID: ev.EventID, Status: status, Destinations: results}
}

// Find returns the recorded event with its attempt history.
func (s *ConversionService) Find(ctx context.Context, eventID string) (*models.ConversionEvent, error) {
	return s.repo.FindByEventID(ctx, eventID)
}

func (s *ConversionService) deliver(ctx context.Context, eventID string, dest models.ConversionDestination, event []byte, offset int) DestinationResult {
	result := DestinationResult{DestinationID: dest.ID}

	payload, err := envelopeFor(event, dest.TestEventCode)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	attempts, err := retry.Do(ctx, s.policy, func(ctx context.Context, attempt int) error {
		res, sendErr := s.poster.Send(ctx, dest, payload)
		rec := &models.ConversionAttempt{
			EventID:       eventID,
			DestinationID: dest.ID,
			Attempt:       offset + attempt,
			StatusCode:    res.StatusCode,
			Response:      truncate(res.Body, maxStoredResponse),
		}
		result.StatusCode = res.StatusCode

		var attemptErr error
		switch {
		case sendErr != nil:
			attemptErr = sendErr
		case res.StatusCode >= 200 && res.StatusCode < 300:
			rec.Success = true
		case res.StatusCode >= 400 && res.StatusCode < 500:
			attemptErr = retry.Permanent(fmt.Errorf("destination rejected event (status %d)", res.StatusCode))
		default:
			attemptErr = fmt.Errorf("destination unavailable (status %d)", res.StatusCode)
		}
		if attemptErr != nil {
			rec.Error = attemptErr.Error()
		}
		if err := s.repo.AddAttempt(ctx, rec); err != nil {
			s.logger.Warn("Failed to record conversion attempt",
				zap.String("event_id", eventID),
				zap.String("destination_id", dest.ID.String()),
				zap.Error(err),
			)
		}
		return attemptErr
	})

	result.Attempts = offset + attempts
	result.Success = err == nil
	if err != nil {
		result.Error = err.Error()
		s.logger.Warn("Conversion destination failed",
			zap.String("event_id", eventID),
			zap.String("destination_id", dest.ID.String()),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
	}
	return result
}

func finalStatus(results []DestinationResult) models.ConversionStatus {
	ok := 0
	for _, r := range results {
		if r.Success {
			ok++
		}
	}
	switch {
	case len(results) == 0 || ok == 0:
		return models.ConversionFailed
	case ok == len(results):
		return models.ConversionSent
	default:
		return models.ConversionPartial
	}
}

func conversionMetric(status models.ConversionStatus) string {
	switch status {
	case models.ConversionSent:
		return awspkg.MetricConversionsSent
	case models.ConversionPartial:
		return awspkg.MetricConversionsPartial
	default:
		return awspkg.MetricConversionsFailed
	}
}

// resultFromEvent rebuilds per-destination outcomes from the persisted attempt history.
func resultFromEvent(ev *models.ConversionEvent, duplicate bool) *ConversionResult {
	byDest := make(map[uuid.UUID]*DestinationResult)
	var order []uuid.UUID
	for _, a := range ev.Attempts {
		r, ok := byDest[a.DestinationID]
		if !ok {
			r = &DestinationResult{DestinationID: a.DestinationID}
			byDest[a.DestinationID] = r
			order = append(order, a.DestinationID)
		}
		if a.Attempt > r.Attempts {
			r.Attempts = a.Attempt
		}
		r.StatusCode = a.StatusCode
		r.Success = r.Success || a.Success
		r.Error = a.Error
	}

	out := &ConversionResult{EventID: ev.EventID, Status: ev.Status, Duplicate: duplicate}
	for _, id := range order {
		out.Destinations = append(out.Destinations, *byDest[id])
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

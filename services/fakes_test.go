package services_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"settlement-service/models"
	"settlement-service/repository"
	"settlement-service/sender"

	"github.com/google/uuid"
)

// ---- orders ----

type fakeOrderRepo struct {
	mu       sync.Mutex
	orders   map[string]*models.Order
	casCalls int
	findErr  error
	casErr   error
}

func newFakeOrderRepo(orders ...*models.Order) *fakeOrderRepo {
	r := &fakeOrderRepo{orders: make(map[string]*models.Order)}
	for _, o := range orders {
		if o.ID == uuid.Nil {
			o.ID = uuid.New()
		}
		if o.CreatedAt.IsZero() {
			o.CreatedAt = time.Now()
		}
		cp := *o
		r.orders[o.OrderID] = &cp
	}
	return r
}

func (r *fakeOrderRepo) get(orderID string) *models.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return nil
	}
	cp := *o
	return &cp
}

func (r *fakeOrderRepo) FindByProviderRef(_ context.Context, ref string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	for _, o := range r.orders {
		if o.ProviderRef != nil && *o.ProviderRef == ref {
			cp := *o
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeOrderRepo) FindByOrderID(_ context.Context, orderID string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	o, ok := r.orders[orderID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *fakeOrderRepo) Create(ctx context.Context, order *models.Order) error {
	ok, err := r.CreateIfAbsent(ctx, order)
	if err == nil && !ok {
		return errors.New("duplicate key")
	}
	return err
}

func (r *fakeOrderRepo) CreateIfAbsent(_ context.Context, order *models.Order) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.orders[order.OrderID]; exists {
		return false, nil
	}
	if order.ProviderRef != nil {
		for _, o := range r.orders {
			if o.ProviderRef != nil && *o.ProviderRef == *order.ProviderRef {
				return false, nil
			}
		}
	}
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	order.CreatedAt = time.Now()
	cp := *order
	r.orders[order.OrderID] = &cp
	return true, nil
}

func (r *fakeOrderRepo) CompareAndSetStatus(_ context.Context, id uuid.UUID, from models.OrderStatus, updates map[string]interface{}) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.casCalls++
	if r.casErr != nil {
		return false, r.casErr
	}
	if v, ok := updates["provider_ref"]; ok {
		for _, o := range r.orders {
			if o.ID != id && o.ProviderRef != nil && *o.ProviderRef == v.(string) {
				return false, repository.ErrDuplicate
			}
		}
	}
	for _, o := range r.orders {
		if o.ID != id {
			continue
		}
		if o.Status != from {
			return false, nil
		}
		if v, ok := updates["status"]; ok {
			o.Status = v.(models.OrderStatus)
		}
		if v, ok := updates["seller_commission"]; ok {
			o.SellerCommission = v.(int64)
		}
		if v, ok := updates["provider_ref"]; ok {
			ref := v.(string)
			o.ProviderRef = &ref
		}
		if v, ok := updates["completed_at"]; ok {
			t := v.(time.Time)
			o.CompletedAt = &t
		}
		if v, ok := updates["failed_at"]; ok {
			t := v.(time.Time)
			o.FailedAt = &t
		}
		return true, nil
	}
	return false, nil
}

func (r *fakeOrderRepo) ListPending(_ context.Context, provider string, since time.Time, limit int) ([]models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Order
	for _, o := range r.orders {
		if o.Provider == provider && o.Status == models.OrderStatusPending && !o.CreatedAt.Before(since) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- access ----

type fakeAccessRepo struct {
	mu      sync.Mutex
	rows    map[string]models.CustomerAccess
	upserts int
}

func newFakeAccessRepo() *fakeAccessRepo {
	return &fakeAccessRepo{rows: make(map[string]models.CustomerAccess)}
}

func (r *fakeAccessRepo) Upsert(_ context.Context, a *models.CustomerAccess) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts++
	key := a.CustomerEmail + "|" + a.ProductID
	if existing, ok := r.rows[key]; ok {
		existing.OrderID = a.OrderID
		existing.IsActive = a.IsActive
		existing.ExpiresAt = a.ExpiresAt
		r.rows[key] = existing
		return nil
	}
	r.rows[key] = *a
	return nil
}

func (r *fakeAccessRepo) FindActive(_ context.Context, email, productID string) (*models.CustomerAccess, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[email+"|"+productID]
	if !ok || !a.IsActive {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

func (r *fakeAccessRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

// ---- products ----

type fakeProductRepo struct {
	products map[string]*models.Product
}

func newFakeProductRepo(products ...*models.Product) *fakeProductRepo {
	r := &fakeProductRepo{products: make(map[string]*models.Product)}
	for _, p := range products {
		r.products[p.ID] = p
	}
	return r
}

func (r *fakeProductRepo) FindByID(_ context.Context, id string) (*models.Product, error) {
	p, ok := r.products[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// ---- notifications ----

type fakeNotificationRepo struct {
	mu   sync.Mutex
	logs []models.NotificationLog
}

func (r *fakeNotificationRepo) SaveLog(_ context.Context, log *models.NotificationLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, *log)
	return nil
}

func (r *fakeNotificationRepo) HasSent(_ context.Context, orderID, channel, kind string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.logs {
		if l.OrderID == orderID && l.Channel == channel && l.Kind == kind && l.Status == models.NotificationStatusSent {
			return true, nil
		}
	}
	return false, nil
}

// ---- webhooks ----

type fakeWebhookRepo struct {
	mu         sync.Mutex
	subs       []models.WebhookSubscription
	deliveries map[uuid.UUID]*models.WebhookDelivery
}

func newFakeWebhookRepo(subs ...models.WebhookSubscription) *fakeWebhookRepo {
	return &fakeWebhookRepo{subs: subs, deliveries: make(map[uuid.UUID]*models.WebhookDelivery)}
}

func (r *fakeWebhookRepo) ListActiveSubscriptions(_ context.Context, sellerID string) ([]models.WebhookSubscription, error) {
	var out []models.WebhookSubscription
	for _, s := range r.subs {
		if s.SellerID == sellerID && s.Active {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *fakeWebhookRepo) FindSubscription(_ context.Context, id uuid.UUID) (*models.WebhookSubscription, error) {
	for _, s := range r.subs {
		if s.ID == id {
			cp := s
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeWebhookRepo) ReserveDelivery(_ context.Context, d *models.WebhookDelivery) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.deliveries {
		if existing.SubscriptionID == d.SubscriptionID && existing.OrderID == d.OrderID && existing.Event == d.Event {
			return false, nil
		}
	}
	d.ID = uuid.New()
	cp := *d
	r.deliveries[d.ID] = &cp
	return true, nil
}

func (r *fakeWebhookRepo) RecordDeliveryResult(_ context.Context, id uuid.UUID, res repository.DeliveryResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deliveries[id]
	if !ok {
		return repository.ErrNotFound
	}
	d.Status = res.Status
	d.StatusCode = res.StatusCode
	d.Error = res.Error
	d.DeliveredAt = res.DeliveredAt
	return nil
}

func (r *fakeWebhookRepo) IncrementReplay(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deliveries[id]
	if !ok {
		return repository.ErrNotFound
	}
	d.ReplayCount++
	return nil
}

func (r *fakeWebhookRepo) FindDelivery(_ context.Context, id uuid.UUID) (*models.WebhookDelivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deliveries[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *fakeWebhookRepo) ListDeliveries(_ context.Context, orderID string) ([]models.WebhookDelivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.WebhookDelivery
	for _, d := range r.deliveries {
		if d.OrderID == orderID {
			out = append(out, *d)
		}
	}
	return out, nil
}

// ---- conversions ----

type fakeConversionRepo struct {
	mu           sync.Mutex
	events       map[string]*models.ConversionEvent
	attempts     []models.ConversionAttempt
	destinations []models.ConversionDestination
}

func newFakeConversionRepo(dests ...models.ConversionDestination) *fakeConversionRepo {
	return &fakeConversionRepo{events: make(map[string]*models.ConversionEvent), destinations: dests}
}

func (r *fakeConversionRepo) FindByEventID(_ context.Context, eventID string) (*models.ConversionEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[eventID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *ev
	cp.Attempts = nil
	for _, a := range r.attempts {
		if a.EventID == eventID {
			cp.Attempts = append(cp.Attempts, a)
		}
	}
	return &cp, nil
}

func (r *fakeConversionRepo) CreatePending(_ context.Context, ev *models.ConversionEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[ev.EventID]; ok {
		return false, nil
	}
	ev.Status = models.ConversionPending
	if ev.UpdatedAt.IsZero() {
		ev.UpdatedAt = time.Now()
	}
	cp := *ev
	r.events[ev.EventID] = &cp
	return true, nil
}

// AddAttempt and Complete fail on a done context the way a database driver does.
func (r *fakeConversionRepo) AddAttempt(ctx context.Context, a *models.ConversionAttempt) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a.ID = uuid.New()
	r.attempts = append(r.attempts, *a)
	return nil
}

func (r *fakeConversionRepo) Complete(ctx context.Context, eventID string, status models.ConversionStatus, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[eventID]
	if !ok || ev.Status != models.ConversionPending {
		return nil
	}
	ev.Status = status
	ev.CompletedAt = &at
	return nil
}

func (r *fakeConversionRepo) ListStalePending(_ context.Context, cutoff time.Time, limit int) ([]models.ConversionEvent, error) {
	r.mu.Lock()
	var ids []string
	for id, ev := range r.events {
		if ev.Status == models.ConversionPending && ev.UpdatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()
	sort.Strings(ids)

	var out []models.ConversionEvent
	for _, id := range ids {
		if len(out) == limit {
			break
		}
		ev, _ := r.FindByEventID(context.Background(), id)
		out = append(out, *ev)
	}
	return out, nil
}

func (r *fakeConversionRepo) ClaimPending(_ context.Context, eventID string, cutoff, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[eventID]
	if !ok || ev.Status != models.ConversionPending || !ev.UpdatedAt.Before(cutoff) {
		return false, nil
	}
	ev.UpdatedAt = now
	return true, nil
}

// stale backdates a recorded event so replay treats it as stuck.
func (r *fakeConversionRepo) stale(eventID string, age time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[eventID].UpdatedAt = time.Now().Add(-age)
}

func (r *fakeConversionRepo) status(eventID string) models.ConversionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[eventID].Status
}

func (r *fakeConversionRepo) ListDestinations(_ context.Context, sellerID, productID string) ([]models.ConversionDestination, error) {
	var out []models.ConversionDestination
	for _, d := range r.destinations {
		if d.SellerID == sellerID && d.Active && (d.ProductID == productID || d.ProductID == "") {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *fakeConversionRepo) attemptsFor(dest uuid.UUID) []models.ConversionAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ConversionAttempt
	for _, a := range r.attempts {
		if a.DestinationID == dest {
			out = append(out, a)
		}
	}
	return out
}

// ---- senders ----

type fakeEmailSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (s *fakeEmailSender) SendEmail(_ context.Context, to, subject, body string) (sender.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return sender.SendResult{}, s.err
	}
	s.sent = append(s.sent, to+"|"+subject+"|"+body)
	return sender.SendResult{MessageID: "m", SentAt: time.Now()}, nil
}

type fakeWebhookPoster struct {
	mu     sync.Mutex
	posts  int
	status int
	err    error
}

func (p *fakeWebhookPoster) Post(_ context.Context, _, _, _ string, _ []byte) (sender.HTTPResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.posts++
	status := p.status
	if status == 0 {
		status = 200
	}
	return sender.HTTPResult{StatusCode: status}, p.err
}

func (p *fakeWebhookPoster) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.posts
}

// scriptedPoster answers per destination from a queue of status codes; the last code repeats.
type scriptedPoster struct {
	mu       sync.Mutex
	scripts  map[uuid.UUID][]int
	calls    map[uuid.UUID]int
	payloads [][]byte
	// onSend runs before each answer, outside the lock.
	onSend func()
}

func newScriptedPoster(scripts map[uuid.UUID][]int) *scriptedPoster {
	return &scriptedPoster{scripts: scripts, calls: make(map[uuid.UUID]int)}
}

func (p *scriptedPoster) Send(_ context.Context, dest models.ConversionDestination, payload []byte) (sender.HTTPResult, error) {
	if p.onSend != nil {
		p.onSend()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payloads = append(p.payloads, payload)
	script := p.scripts[dest.ID]
	n := p.calls[dest.ID]
	p.calls[dest.ID]++
	code := 200
	if len(script) > 0 {
		if n < len(script) {
			code = script[n]
		} else {
			code = script[len(script)-1]
		}
	}
	return sender.HTTPResult{StatusCode: code, Body: `{"ok":true}`}, nil
}

func (p *scriptedPoster) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		n += c
	}
	return n
}

func noSleep(context.Context, time.Duration) error { return nil }

type fakePushSender struct {
	mu     sync.Mutex
	topics []string
}

func (s *fakePushSender) SendPush(_ context.Context, topic string, _ sender.PushMessage) (sender.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics = append(s.topics, topic)
	return sender.SendResult{MessageID: "p", SentAt: time.Now()}, nil
}

func (p *scriptedPoster) callsFor(dest uuid.UUID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[dest]
}

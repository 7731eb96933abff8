package tests

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"dispatch/internal/domain"
	"dispatch/internal/events"
	"dispatch/internal/payment"
	"dispatch/internal/redis"
	"dispatch/internal/repository"
)

// ──────────────────────────────────────────────
// CLOCK
// ──────────────────────────────────────────────

// Clock is a settable time source shared by the services under test.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock starting at t.
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ──────────────────────────────────────────────
// MEMORY STORE
// ──────────────────────────────────────────────

// memData is everything the in-memory store persists. Values, not pointers,
// so a snapshot is a plain map copy.
type memData struct {
	requests      map[string]domain.Request
	drivers       map[string]domain.Driver
	credits       map[string]domain.CreditBalance
	consumptions  []domain.CreditConsumption
	offers        map[string]domain.Offer
	sessions      map[string]domain.BiddingSession
	escrows       map[string]domain.Escrow
	wallets       map[string]domain.Wallet
	walletTxns    []domain.WalletTransaction
	notifications []domain.Notification
}

func (d *memData) clone() memData {
	return memData{
		requests:      maps.Clone(d.requests),
		drivers:       maps.Clone(d.drivers),
		credits:       maps.Clone(d.credits),
		consumptions:  slices.Clone(d.consumptions),
		offers:        maps.Clone(d.offers),
		sessions:      maps.Clone(d.sessions),
		escrows:       maps.Clone(d.escrows),
		wallets:       maps.Clone(d.wallets),
		walletTxns:    slices.Clone(d.walletTxns),
		notifications: slices.Clone(d.notifications),
	}
}

// MemoryStore is an in-memory repository.Store. A unit of work runs with
// exclusive access and restores the prior state when it fails.
type MemoryStore struct {
	gate sync.RWMutex // held exclusively for the duration of WithTx
	mu   sync.Mutex   // guards data
	data memData

	// Counters for verification
	TxCount       int32
	RollbackCount int32

	// Error injection
	WalletCreditError      error
	RecordConsumptionError error
	NotificationError      error
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: memData{
			requests: make(map[string]domain.Request),
			drivers:  make(map[string]domain.Driver),
			credits:  make(map[string]domain.CreditBalance),
			offers:   make(map[string]domain.Offer),
			sessions: make(map[string]domain.BiddingSession),
			escrows:  make(map[string]domain.Escrow),
			wallets:  make(map[string]domain.Wallet),
		},
	}
}

// memView is a Store over the shared data. Inside a transaction the view
// already owns the gate and must not take it again.
type memView struct {
	s  *MemoryStore
	tx bool
}

func (v memView) lock() func() {
	if !v.tx {
		v.s.gate.RLock()
	}
	v.s.mu.Lock()
	return func() {
		v.s.mu.Unlock()
		if !v.tx {
			v.s.gate.RUnlock()
		}
	}
}

func (s *MemoryStore) view() memView { return memView{s: s} }

func (s *MemoryStore) Requests() repository.RequestRepository { return memRequests{s.view()} }
func (s *MemoryStore) Drivers() repository.DriverRepository { return memDrivers{s.view()} }
func (s *MemoryStore) Credits() repository.CreditRepository { return memCredits{s.view()} }
func (s *MemoryStore) Offers() repository.OfferRepository { return memOffers{s.view()} }
func (s *MemoryStore) Bidding() repository.BiddingRepository { return memBidding{s.view()} }
func (s *MemoryStore) Escrows() repository.EscrowRepository { return memEscrows{s.view()} }
func (s *MemoryStore) Wallets() repository.WalletRepository { return memWallets{s.view()} }
func (s *MemoryStore) Notifications() repository.NotificationRepository { return memNotifications{s.view()} }

// WithTx runs fn with exclusive access and rolls back on error.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx repository.Store) error) error {
	s.gate.Lock()
	defer s.gate.Unlock()
	atomic.AddInt32(&s.TxCount, 1)

	s.mu.Lock()
	snapshot := s.data.clone()
	s.mu.Unlock()

	if err := fn(txStore{memView{s: s, tx: true}}); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		atomic.AddInt32(&s.RollbackCount, 1)
		return err
	}
	return nil
}

// txStore is the Store handed to a unit of work.
type txStore struct{ v memView }

func (t txStore) Requests() repository.RequestRepository { return memRequests{t.v} }
func (t txStore) Drivers() repository.DriverRepository { return memDrivers{t.v} }
func (t txStore) Credits() repository.CreditRepository { return memCredits{t.v} }
func (t txStore) Offers() repository.OfferRepository { return memOffers{t.v} }
func (t txStore) Bidding() repository.BiddingRepository { return memBidding{t.v} }
func (t txStore) Escrows() repository.EscrowRepository { return memEscrows{t.v} }
func (t txStore) Wallets() repository.WalletRepository { return memWallets{t.v} }
func (t txStore) Notifications() repository.NotificationRepository { return memNotifications{t.v} }

func (t txStore) WithTx(ctx context.Context, fn func(tx repository.Store) error) error {
	return fn(t)
}

// ── seeding and assertion helpers ──

// AddRequest seeds a request.
func (s *MemoryStore) AddRequest(req domain.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.requests[req.ID] = req
}

// AddDriver seeds a driver profile with a credit balance.
func (s *MemoryStore) AddDriver(d domain.Driver, ridesRemaining int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.drivers[d.ID] = d
	s.data.credits[d.ID] = domain.CreditBalance{DriverID: d.ID, RidesRemaining: ridesRemaining}
}

// AddSession seeds a bidding session.
func (s *MemoryStore) AddSession(session domain.BiddingSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.sessions[session.RequestID] = session
}

// AddEscrow seeds an escrow.
func (s *MemoryStore) AddEscrow(e domain.Escrow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.escrows[e.RequestID] = e
}

// Request returns the stored request.
func (s *MemoryStore) Request(id string) domain.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.requests[id]
}

// CreditBalance returns the stored balance of a driver.
func (s *MemoryStore) CreditBalance(driverID string) domain.CreditBalance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.credits[driverID]
}

// Consumptions returns the credit audit trail.
func (s *MemoryStore) Consumptions() []domain.CreditConsumption {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.data.consumptions)
}

// Offer returns the stored offer.
func (s *MemoryStore) Offer(id string) domain.Offer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.offers[id]
}

// OfferCount returns how many offers were stored.
func (s *MemoryStore) OfferCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data.offers)
}

// Session returns the stored bidding session.
func (s *MemoryStore) Session(requestID string) domain.BiddingSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.sessions[requestID]
}

// Escrow returns the stored escrow.
func (s *MemoryStore) Escrow(requestID string) domain.Escrow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.escrows[requestID]
}

// Wallet returns the owner's wallet in currency and whether it exists.
func (s *MemoryStore) Wallet(ownerID, currency string) (domain.Wallet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.data.wallets[walletKey(ownerID, currency)]
	return w, ok
}

func walletKey(ownerID, currency string) string {
	return ownerID + "-" + currency
}

// WalletTransactions returns the wallet ledger.
func (s *MemoryStore) WalletTransactions() []domain.WalletTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.data.walletTxns)
}

// NotificationsFor returns the notifications sent to a recipient.
func (s *MemoryStore) NotificationsFor(recipientID string) []domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Notification
	for _, n := range s.data.notifications {
		if n.RecipientID == recipientID {
			out = append(out, n)
		}
	}
	return out
}

// ── requests ──

type memRequests struct{ v memView }

func (r memRequests) Create(ctx context.Context, req *domain.Request) error {
	defer r.v.lock()()
	if _, ok := r.v.s.data.requests[req.ID]; ok {
		return repository.ErrDuplicate
	}
	r.v.s.data.requests[req.ID] = *req
	return nil
}

func (r memRequests) GetByID(ctx context.Context, id string) (*domain.Request, error) {
	defer r.v.lock()()
	req, ok := r.v.s.data.requests[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &req, nil
}

func (r memRequests) Assign(ctx context.Context, id, driverID string, agreedPrice int64, at time.Time) (bool, error) {
	defer r.v.lock()()
	req, ok := r.v.s.data.requests[id]
	if !ok || req.Status != domain.RequestStatusPending {
		return false, nil
	}
	req.Status = domain.RequestStatusDriverAssigned
	req.DriverID = driverID
	req.AgreedPrice = agreedPrice
	req.AssignedAt = at
	r.v.s.data.requests[id] = req
	return true, nil
}

func (r memRequests) Transition(ctx context.Context, id string, from, to domain.RequestStatus, at time.Time) (bool, error) {
	defer r.v.lock()()
	return r.transition(id, "", from, to, at), nil
}

func (r memRequests) TransitionForDriver(ctx context.Context, id, driverID string, from, to domain.RequestStatus, at time.Time) (bool, error) {
	defer r.v.lock()()
	return r.transition(id, driverID, from, to, at), nil
}

func (r memRequests) transition(id, driverID string, from, to domain.RequestStatus, at time.Time) bool {
	req, ok := r.v.s.data.requests[id]
	if !ok || req.Status != from || (driverID != "" && req.DriverID != driverID) {
		return false
	}
	req.Status = to
	switch to {
	case domain.RequestStatusDriverArrived:
		req.ArrivedAt = at
	case domain.RequestStatusDelivered, domain.RequestStatusCompleted:
		req.CompletedAt = at
	case domain.RequestStatusCancelled:
		req.CancelledAt = at
	}
	r.v.s.data.requests[id] = req
	return true
}

func (r memRequests) Reopen(ctx context.Context, id string, from domain.RequestStatus) (bool, error) {
	defer r.v.lock()()
	req, ok := r.v.s.data.requests[id]
	if !ok || req.Status != from {
		return false, nil
	}
	req.Status = domain.RequestStatusPending
	req.DriverID = ""
	req.AssignedAt = time.Time{}
	r.v.s.data.requests[id] = req
	return true, nil
}

func (r memRequests) Cancel(ctx context.Context, id string, from []domain.RequestStatus, reason string, at time.Time) (bool, error) {
	defer r.v.lock()()
	req, ok := r.v.s.data.requests[id]
	if !ok || !slices.Contains(from, req.Status) {
		return false, nil
	}
	req.Status = domain.RequestStatusCancelled
	req.CancelReason = reason
	req.CancelledAt = at
	r.v.s.data.requests[id] = req
	return true, nil
}

func (r memRequests) CountOpenNear(ctx context.Context, point domain.Point, radiusKm float64) (int, error) {
	defer r.v.lock()()
	n := 0
	for _, req := range r.v.s.data.requests {
		if req.Status == domain.RequestStatusPending && domain.HaversineKm(point, req.Pickup) <= radiusKm {
			n++
		}
	}
	return n, nil
}

// ── drivers and credits ──

type memDrivers struct{ v memView }

func (r memDrivers) Create(ctx context.Context, d *domain.Driver) error {
	defer r.v.lock()()
	for _, existing := range r.v.s.data.drivers {
		if existing.Phone != "" && existing.Phone == d.Phone {
			return repository.ErrDuplicate
		}
	}
	r.v.s.data.drivers[d.ID] = *d
	return nil
}

func (r memDrivers) GetByID(ctx context.Context, id string) (*domain.Driver, error) {
	defer r.v.lock()()
	d, ok := r.v.s.data.drivers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &d, nil
}

func (r memDrivers) GetByIDs(ctx context.Context, ids []string) (map[string]*domain.Driver, error) {
	defer r.v.lock()()
	out := make(map[string]*domain.Driver, len(ids))
	for _, id := range ids {
		if d, ok := r.v.s.data.drivers[id]; ok {
			out[id] = &d
		}
	}
	return out, nil
}

type memCredits struct{ v memView }

func (r memCredits) Create(ctx context.Context, b *domain.CreditBalance) error {
	defer r.v.lock()()
	if _, ok := r.v.s.data.credits[b.DriverID]; ok {
		return repository.ErrDuplicate
	}
	r.v.s.data.credits[b.DriverID] = *b
	return nil
}

func (r memCredits) GetByDriverID(ctx context.Context, driverID string) (*domain.CreditBalance, error) {
	defer r.v.lock()()
	b, ok := r.v.s.data.credits[driverID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &b, nil
}

func (r memCredits) GetByDriverIDs(ctx context.Context, driverIDs []string) (map[string]*domain.CreditBalance, error) {
	defer r.v.lock()()
	out := make(map[string]*domain.CreditBalance, len(driverIDs))
	for _, id := range driverIDs {
		if b, ok := r.v.s.data.credits[id]; ok {
			out[id] = &b
		}
	}
	return out, nil
}

func (r memCredits) Consume(ctx context.Context, driverID string) (int, int, bool, error) {
	defer r.v.lock()()
	b, ok := r.v.s.data.credits[driverID]
	if !ok || b.RidesRemaining <= 0 {
		return 0, 0, false, nil
	}
	before := b.RidesRemaining
	b.RidesRemaining--
	b.RidesUsed++
	r.v.s.data.credits[driverID] = b
	return before, b.RidesRemaining, true, nil
}

func (r memCredits) RecordConsumption(ctx context.Context, c *domain.CreditConsumption) error {
	defer r.v.lock()()
	if r.v.s.RecordConsumptionError != nil {
		return r.v.s.RecordConsumptionError
	}
	r.v.s.data.consumptions = append(r.v.s.data.consumptions, *c)
	return nil
}

// ── offers and bidding ──

type memOffers struct{ v memView }

func (r memOffers) Create(ctx context.Context, o *domain.Offer) error {
	defer r.v.lock()()
	for _, existing := range r.v.s.data.offers {
		if existing.RequestID == o.RequestID && existing.DriverID == o.DriverID && existing.Status == domain.OfferStatusPending {
			return repository.ErrDuplicate
		}
	}
	r.v.s.data.offers[o.ID] = *o
	return nil
}

func (r memOffers) GetByID(ctx context.Context, id string) (*domain.Offer, error) {
	defer r.v.lock()()
	o, ok := r.v.s.data.offers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &o, nil
}

func (r memOffers) ListPending(ctx context.Context, requestID string, now time.Time) ([]*domain.Offer, error) {
	defer r.v.lock()()
	var out []*domain.Offer
	for _, o := range r.v.s.data.offers {
		if o.RequestID == requestID && o.Status == domain.OfferStatusPending && !o.IsExpired(now) {
			o := o
			out = append(out, &o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Price != out[j].Price {
			return out[i].Price < out[j].Price
		}
		if out[i].ETAMinutes != out[j].ETAMinutes {
			return out[i].ETAMinutes < out[j].ETAMinutes
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r memOffers) Resolve(ctx context.Context, id string, from, to domain.OfferStatus, at time.Time) (bool, error) {
	defer r.v.lock()()
	o, ok := r.v.s.data.offers[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	o.RespondedAt = at
	r.v.s.data.offers[id] = o
	return true, nil
}

func (r memOffers) RejectOthers(ctx context.Context, requestID, keepID string, at time.Time) (int64, error) {
	defer r.v.lock()()
	var n int64
	for id, o := range r.v.s.data.offers {
		if o.RequestID == requestID && id != keepID && o.Status == domain.OfferStatusPending {
			o.Status = domain.OfferStatusRejected
			o.RespondedAt = at
			r.v.s.data.offers[id] = o
			n++
		}
	}
	return n, nil
}

func (r memOffers) ExpireBefore(ctx context.Context, now time.Time) (int64, error) {
	defer r.v.lock()()
	var n int64
	for id, o := range r.v.s.data.offers {
		if o.Status == domain.OfferStatusPending && o.IsExpired(now) {
			o.Status = domain.OfferStatusExpired
			r.v.s.data.offers[id] = o
			n++
		}
	}
	return n, nil
}

type memBidding struct{ v memView }

func (r memBidding) Create(ctx context.Context, s *domain.BiddingSession) error {
	defer r.v.lock()()
	if _, ok := r.v.s.data.sessions[s.RequestID]; ok {
		return repository.ErrDuplicate
	}
	r.v.s.data.sessions[s.RequestID] = *s
	return nil
}

func (r memBidding) GetByRequestID(ctx context.Context, requestID string) (*domain.BiddingSession, error) {
	defer r.v.lock()()
	s, ok := r.v.s.data.sessions[requestID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &s, nil
}

func (r memBidding) Reprice(ctx context.Context, requestID string, round int, price int64, windowEndsAt time.Time) (bool, error) {
	defer r.v.lock()()
	s, ok := r.v.s.data.sessions[requestID]
	if !ok || s.Round != round {
		return false, nil
	}
	if s.Status != domain.BiddingStatusOpen && s.Status != domain.BiddingStatusExpired {
		return false, nil
	}
	s.ProposedPrice = price
	s.Round++
	s.Status = domain.BiddingStatusOpen
	s.WindowEndsAt = windowEndsAt
	r.v.s.data.sessions[requestID] = s
	return true, nil
}

func (r memBidding) SetStatus(ctx context.Context, requestID string, from, to domain.BiddingStatus) (bool, error) {
	defer r.v.lock()()
	s, ok := r.v.s.data.sessions[requestID]
	if !ok || s.Status != from {
		return false, nil
	}
	s.Status = to
	r.v.s.data.sessions[requestID] = s
	return true, nil
}

func (r memBidding) ExpireBefore(ctx context.Context, now time.Time) (int64, error) {
	defer r.v.lock()()
	var n int64
	for id, s := range r.v.s.data.sessions {
		if s.Status == domain.BiddingStatusOpen && !now.Before(s.WindowEndsAt) {
			s.Status = domain.BiddingStatusExpired
			r.v.s.data.sessions[id] = s
			n++
		}
	}
	return n, nil
}

// ── escrow, wallets, notifications ──

type memEscrows struct{ v memView }

func (r memEscrows) Create(ctx context.Context, e *domain.Escrow) error {
	defer r.v.lock()()
	if _, ok := r.v.s.data.escrows[e.RequestID]; ok {
		return repository.ErrDuplicate
	}
	r.v.s.data.escrows[e.RequestID] = *e
	return nil
}

func (r memEscrows) GetByRequestID(ctx context.Context, requestID string) (*domain.Escrow, error) {
	defer r.v.lock()()
	e, ok := r.v.s.data.escrows[requestID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &e, nil
}

func (r memEscrows) MarkReleased(ctx context.Context, requestID string, at time.Time) (bool, error) {
	defer r.v.lock()()
	e, ok := r.v.s.data.escrows[requestID]
	if !ok || e.Status == domain.EscrowStatusReleased {
		return false, nil
	}
	e.Status = domain.EscrowStatusReleased
	e.ReleasedAt = at
	r.v.s.data.escrows[requestID] = e
	return true, nil
}

type memWallets struct{ v memView }

func (r memWallets) GetOrCreate(ctx context.Context, ownerID, currency string) (*domain.Wallet, error) {
	defer r.v.lock()()
	key := walletKey(ownerID, currency)
	w, ok := r.v.s.data.wallets[key]
	if !ok {
		w = domain.Wallet{ID: "wallet-" + key, OwnerID: ownerID, Currency: currency}
		r.v.s.data.wallets[key] = w
	}
	return &w, nil
}

func (r memWallets) Credit(ctx context.Context, walletID string, amount int64) (int64, int64, error) {
	defer r.v.lock()()
	if r.v.s.WalletCreditError != nil {
		return 0, 0, r.v.s.WalletCreditError
	}
	for key, w := range r.v.s.data.wallets {
		if w.ID == walletID {
			before := w.Balance
			w.Balance += amount
			r.v.s.data.wallets[key] = w
			return before, w.Balance, nil
		}
	}
	return 0, 0, repository.ErrNotFound
}

func (r memWallets) RecordTransaction(ctx context.Context, txn *domain.WalletTransaction) error {
	defer r.v.lock()()
	r.v.s.data.walletTxns = append(r.v.s.data.walletTxns, *txn)
	return nil
}

type memNotifications struct{ v memView }

func (r memNotifications) Create(ctx context.Context, n *domain.Notification) error {
	defer r.v.lock()()
	if r.v.s.NotificationError != nil {
		return r.v.s.NotificationError
	}
	r.v.s.data.notifications = append(r.v.s.data.notifications, *n)
	return nil
}

// ──────────────────────────────────────────────
// MOCK LOCATION STORE
// ──────────────────────────────────────────────

// MockLocationStore is a mock implementation of LocationStoreInterface.
type MockLocationStore struct {
	mu        sync.RWMutex
	locations map[string]domain.DriverLocation

	// Counters for verification
	FindCallCount            int32
	SetAvailabilityCallCount int32

	// Error injection
	FindError            error
	SetAvailabilityError error
}

// NewMockLocationStore creates a new mock location store.
func NewMockLocationStore() *MockLocationStore {
	return &MockLocationStore{locations: make(map[string]domain.DriverLocation)}
}

// SetLocation seeds a driver location.
func (m *MockLocationStore) SetLocation(loc domain.DriverLocation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations[loc.DriverID] = loc
}

// Location returns a driver's location for assertions.
func (m *MockLocationStore) Location(driverID string) (domain.DriverLocation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	loc, ok := m.locations[driverID]
	return loc, ok
}

func (m *MockLocationStore) UpdateLocation(ctx context.Context, loc domain.DriverLocation) error {
	m.SetLocation(loc)
	return nil
}

func (m *MockLocationStore) FindNearbyDrivers(ctx context.Context, center domain.Point, radiusKm float64) ([]domain.DriverLocation, error) {
	atomic.AddInt32(&m.FindCallCount, 1)
	if m.FindError != nil {
		return nil, m.FindError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.DriverLocation
	for _, loc := range m.locations {
		if domain.HaversineKm(center, loc.Position) <= radiusKm {
			out = append(out, loc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return domain.HaversineKm(center, out[i].Position) < domain.HaversineKm(center, out[j].Position)
	})
	return out, nil
}

func (m *MockLocationStore) GetLocation(ctx context.Context, driverID string) (*domain.DriverLocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	loc, ok := m.locations[driverID]
	if !ok {
		return nil, nil
	}
	return &loc, nil
}

func (m *MockLocationStore) SetAvailability(ctx context.Context, driverID string, available bool) error {
	atomic.AddInt32(&m.SetAvailabilityCallCount, 1)
	if m.SetAvailabilityError != nil {
		return m.SetAvailabilityError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if loc, ok := m.locations[driverID]; ok {
		loc.Available = available
		m.locations[driverID] = loc
	}
	return nil
}

func (m *MockLocationStore) RemoveLocation(ctx context.Context, driverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locations, driverID)
	return nil
}

// ──────────────────────────────────────────────
// MOCK LOCK STORE
// ──────────────────────────────────────────────

// MockLockStore is a mock implementation of LockStoreInterface.
type MockLockStore struct {
	mu     sync.Mutex
	owners map[string]string

	// Counters for verification
	AcquireCallCount int32
	ReleaseCallCount int32
}

// NewMockLockStore creates a new mock lock store.
func NewMockLockStore() *MockLockStore {
	return &MockLockStore{owners: make(map[string]string)}
}

// Hold marks a driver as locked by someone else.
func (m *MockLockStore) Hold(driverID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners[driverID] = "someone-else"
}

// Owner returns the current holder of a driver's lock.
func (m *MockLockStore) Owner(driverID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owners[driverID]
}

func (m *MockLockStore) AcquireDriverLock(ctx context.Context, driverID, owner string, ttl time.Duration) (bool, error) {
	atomic.AddInt32(&m.AcquireCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.owners[driverID]; held {
		return false, nil
	}
	m.owners[driverID] = owner
	return true, nil
}

func (m *MockLockStore) ReleaseDriverLock(ctx context.Context, driverID, owner string) error {
	atomic.AddInt32(&m.ReleaseCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owners[driverID] == owner {
		delete(m.owners, driverID)
	}
	return nil
}

// ──────────────────────────────────────────────
// MOCK PROFILE CACHE
// ──────────────────────────────────────────────

// MockProfileCache is a mock implementation of ProfileCache.
type MockProfileCache struct {
	mu       sync.Mutex
	profiles map[string]redis.CachedProfile

	// Counters for verification
	GetCallCount int32
	SetCallCount int32
}

// NewMockProfileCache creates a new mock profile cache.
func NewMockProfileCache() *MockProfileCache {
	return &MockProfileCache{profiles: make(map[string]redis.CachedProfile)}
}

// Cached reports whether a profile is in the cache.
func (m *MockProfileCache) Cached(driverID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.profiles[driverID]
	return ok
}

func (m *MockProfileCache) GetProfilesBatch(ctx context.Context, driverIDs []string) (map[string]*redis.CachedProfile, []string, error) {
	atomic.AddInt32(&m.GetCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	hits := make(map[string]*redis.CachedProfile)
	var missing []string
	for _, id := range driverIDs {
		if p, ok := m.profiles[id]; ok {
			hits[id] = &p
		} else {
			missing = append(missing, id)
		}
	}
	return hits, missing, nil
}

func (m *MockProfileCache) SetProfilesBatch(ctx context.Context, drivers []*domain.Driver) error {
	atomic.AddInt32(&m.SetCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range drivers {
		m.profiles[d.ID] = redis.CachedProfile{
			ID:            d.ID,
			RatingAverage: d.RatingAverage,
			TotalRides:    d.TotalRides,
			Verified:      d.Verified,
		}
	}
	return nil
}

func (m *MockProfileCache) InvalidateProfile(ctx context.Context, driverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.profiles, driverID)
	return nil
}

// ──────────────────────────────────────────────
// MOCK PUBLISHER AND GATEWAY
// ──────────────────────────────────────────────

// MockPublisher records published events.
type MockPublisher struct {
	mu     sync.Mutex
	events []events.Event

	// Error injection
	PublishError error
}

// NewMockPublisher creates a new mock publisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(ctx context.Context, e events.Event) error {
	if m.PublishError != nil {
		return m.PublishError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *MockPublisher) Close() error { return nil }

// Count returns how many events of type t were published.
func (m *MockPublisher) Count(t events.Type) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

// MockGateway is a mock implementation of payment.Gateway.
type MockGateway struct {
	// Counters for verification
	AuthorizeCallCount int32
	CaptureCallCount   int32

	// Error injection
	AuthorizeError error
	CaptureError   error
}

func (m *MockGateway) Authorize(ctx context.Context, requestID string, amount int64, currency string) (string, error) {
	atomic.AddInt32(&m.AuthorizeCallCount, 1)
	if m.AuthorizeError != nil {
		return "", m.AuthorizeError
	}
	return "pi_" + requestID, nil
}

func (m *MockGateway) Capture(ctx context.Context, ref string) error {
	atomic.AddInt32(&m.CaptureCallCount, 1)
	return m.CaptureError
}

// Ensure mocks implement interfaces.
var (
	_ repository.Store             = (*MemoryStore)(nil)
	_ redis.LocationStoreInterface = (*MockLocationStore)(nil)
	_ redis.LockStoreInterface     = (*MockLockStore)(nil)
	_ redis.ProfileCache           = (*MockProfileCache)(nil)
	_ events.Publisher             = (*MockPublisher)(nil)
	_ payment.Gateway              = (*MockGateway)(nil)
)

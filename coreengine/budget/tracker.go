// Package budget tracks what each venture has spent and serves its budget
// position to the decision filter.
//
// The Tracker is the in-process ledger. The Cache is an explicit read-through
// cache in front of any Source; it only saves reads within one process and
// is never relied on for correctness.
package budget

import (
	"context"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/ventureflow/commbus"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/filter"
)

// nearLimitPercent is the usage at which the filter starts to warn.
const nearLimitPercent = 80.0

// Logger is the key/value logger used by this package.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Source reports the budget position of a venture.
type Source interface {
	BudgetStatus(ctx context.Context, ventureID string) (filter.BudgetStatus, error)
}

// Invalidator drops cached state of a venture.
type Invalidator interface {
	Invalidate(ventureID string)
}

// Account is the spend ledger of one venture.
type Account struct {
	VentureID     string    `json:"ventureId"`
	LimitUSD      float64   `json:"limitUsd"`
	SpentUSD      float64   `json:"spentUsd"`
	Records       int       `json:"records"`
	OpenedAt      time.Time `json:"openedAt"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt"`
}

// Status derives the filter's view of the account. A non-positive limit
// means unlimited.
func (a Account) Status() filter.BudgetStatus {
	if a.LimitUSD <= 0 {
		return filter.BudgetStatus{}
	}
	return filter.BudgetStatus{
		OverBudget:   a.SpentUSD > a.LimitUSD,
		UsagePercent: a.SpentUSD / a.LimitUSD * 100,
	}
}

// NearLimit reports whether the account has reached the warning threshold.
func (a Account) NearLimit() bool {
	return a.Status().UsagePercent >= nearLimitPercent
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithPublisher publishes UsageRecorded events on p.
func WithPublisher(p commbus.Publisher) Option {
	return func(t *Tracker) { t.publisher = p }
}

// WithInvalidator invalidates inv whenever usage is recorded.
func WithInvalidator(inv Invalidator) Option {
	return func(t *Tracker) { t.invalidators = append(t.invalidators, inv) }
}

// WithClock overrides the tracker clock.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// Tracker records venture spend. It is safe for concurrent use.
//
// Usage:
//
//	tracker := budget.NewTracker(500, logger, budget.WithPublisher(bus))
//	cache := budget.NewCache(tracker, time.Minute)
//	tracker.AddInvalidator(cache)
//
//	tracker.RecordUsage(ctx, ventureID, 1.25)
//	status, _ := cache.Status(ctx, ventureID)
type Tracker struct {
	defaultLimit float64
	logger       Logger
	publisher    commbus.Publisher
	invalidators []Invalidator
	now          func() time.Time

	accounts   map[string]*Account
	totalSpent float64

	mu sync.RWMutex
}

// NewTracker creates a Tracker. Ventures without an explicit allocation get
// defaultLimitUSD.
func NewTracker(defaultLimitUSD float64, logger Logger, opts ...Option) *Tracker {
	t := &Tracker{
		defaultLimit: defaultLimitUSD,
		logger:       logger,
		now:          time.Now,
		accounts:     make(map[string]*Account),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// AddInvalidator registers inv after construction, for caches built on top
// of this tracker.
func (t *Tracker) AddInvalidator(inv Invalidator) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.invalidators = append(t.invalidators, inv)
}

// Allocate sets the limit of a venture. It returns false when the venture
// already has an account; use SetLimit to change it.
func (t *Tracker) Allocate(ventureID string, limitUSD float64) bool {
	t.mu.Lock()
	if _, exists := t.accounts[ventureID]; exists {
		t.mu.Unlock()
		t.warn("budget_duplicate_allocation", "venture_id", ventureID)
		return false
	}
	t.accounts[ventureID] = t.open(ventureID, limitUSD)
	invs := t.invalidatorsLocked()
	t.mu.Unlock()

	t.invalidate(invs, ventureID)
	t.debug("budget_allocated", "venture_id", ventureID, "limit_usd", limitUSD)
	return true
}

// SetLimit changes the limit of a venture, opening its account if needed.
func (t *Tracker) SetLimit(ventureID string, limitUSD float64) {
	t.mu.Lock()
	acct := t.account(ventureID)
	acct.LimitUSD = limitUSD
	acct.LastUpdatedAt = t.now().UTC()
	invs := t.invalidatorsLocked()
	t.mu.Unlock()

	t.invalidate(invs, ventureID)
}

// Release forgets a venture. It returns false when the venture is unknown.
func (t *Tracker) Release(ventureID string) bool {
	t.mu.Lock()
	if _, exists := t.accounts[ventureID]; !exists {
		t.mu.Unlock()
		return false
	}
	delete(t.accounts, ventureID)
	invs := t.invalidatorsLocked()
	t.mu.Unlock()

	t.invalidate(invs, ventureID)
	t.debug("budget_released", "venture_id", ventureID)
	return true
}

// RecordUsage adds costUSD to a venture's spend, invalidates cached status
// and publishes UsageRecorded. Non-positive costs are ignored.
func (t *Tracker) RecordUsage(ctx context.Context, ventureID string, costUSD float64) Account {
	t.mu.Lock()
	acct := t.account(ventureID)
	if costUSD > 0 {
		acct.SpentUSD += costUSD
		acct.Records++
		acct.LastUpdatedAt = t.now().UTC()
		t.totalSpent += costUSD
	}
	snapshot := *acct
	invs := t.invalidatorsLocked()
	t.mu.Unlock()

	if costUSD <= 0 {
		return snapshot
	}

	t.invalidate(invs, ventureID)

	if snapshot.Status().OverBudget {
		t.warn("budget_exceeded",
			"venture_id", ventureID,
			"spent_usd", snapshot.SpentUSD,
			"limit_usd", snapshot.LimitUSD,
		)
	}

	if t.publisher != nil {
		err := t.publisher.Publish(ctx, &commbus.UsageRecorded{
			VentureID: ventureID,
			CostUSD:   costUSD,
			SpentUSD:  snapshot.SpentUSD,
			Timestamp: snapshot.LastUpdatedAt,
		})
		if err != nil {
			t.warn("budget_usage_publish_failed", "venture_id", ventureID, "error", err.Error())
		}
	}
	return snapshot
}

// Account returns a copy of a venture's ledger.
func (t *Tracker) Account(ventureID string) (Account, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	acct, ok := t.accounts[ventureID]
	if !ok {
		return Account{}, false
	}
	return *acct, true
}

// BudgetStatus implements Source. Unknown ventures report the default limit
// with no spend.
func (t *Tracker) BudgetStatus(_ context.Context, ventureID string) (filter.BudgetStatus, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if acct, ok := t.accounts[ventureID]; ok {
		return acct.Status(), nil
	}
	return Account{LimitUSD: t.defaultLimit}.Status(), nil
}

// TotalSpent returns the spend recorded across all ventures.
func (t *Tracker) TotalSpent() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totalSpent
}

// account returns the venture's account, opening it on first use. Callers
// hold t.mu.
func (t *Tracker) account(ventureID string) *Account {
	acct, ok := t.accounts[ventureID]
	if !ok {
		acct = t.open(ventureID, t.defaultLimit)
		t.accounts[ventureID] = acct
	}
	return acct
}

func (t *Tracker) open(ventureID string, limitUSD float64) *Account {
	now := t.now().UTC()
	return &Account{VentureID: ventureID, LimitUSD: limitUSD, OpenedAt: now, LastUpdatedAt: now}
}

func (t *Tracker) invalidatorsLocked() []Invalidator {
	out := make([]Invalidator, len(t.invalidators))
	copy(out, t.invalidators)
	return out
}

func (t *Tracker) invalidate(invs []Invalidator, ventureID string) {
	for _, inv := range invs {
		inv.Invalidate(ventureID)
	}
}

func (t *Tracker) debug(msg string, kv ...any) {
	if t.logger != nil {
		t.logger.Debug(msg, kv...)
	}
}

func (t *Tracker) warn(msg string, kv ...any) {
	if t.logger != nil {
		t.logger.Warn(msg, kv...)
	}
}

// Ensure Tracker implements Source.
var _ Source = (*Tracker)(nil)

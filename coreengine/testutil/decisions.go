package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/ventureflow/coreengine/kernel"
)

// =============================================================================
// DECISION STORE
// =============================================================================

// DecisionStore is an in-memory kernel.DecisionStore and
// kernel.DecisionSweeper with the same expiry rules as the database store.
type DecisionStore struct {
	logger kernel.Logger
	ttl    time.Duration
	now    func() time.Time

	byID      map[string]*kernel.Decision
	byVenture map[string][]*kernel.Decision

	mu sync.Mutex
}

// NewDecisionStore creates a store. A zero ttl means pending decisions never
// expire. logger may be nil.
func NewDecisionStore(logger kernel.Logger, ttl time.Duration) *DecisionStore {
	return &DecisionStore{
		logger:    logger,
		ttl:       ttl,
		now:       time.Now,
		byID:      make(map[string]*kernel.Decision),
		byVenture: make(map[string][]*kernel.Decision),
	}
}

// WithClock overrides the store clock.
func (s *DecisionStore) WithClock(now func() time.Time) *DecisionStore {
	s.now = now
	return s
}

func (s *DecisionStore) CreateOrReusePending(_ context.Context, d kernel.Decision) (*kernel.Decision, bool, error) {
	if d.VentureID == "" {
		return nil, false, fmt.Errorf("decision venture id is required")
	}
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.byVenture[d.VentureID] {
		if existing.StageNumber == d.StageNumber && existing.IsPending() && !existing.IsExpired(now) {
			s.log("debug", "decision_reused", "decision_id", existing.ID, "venture_id", d.VentureID)
			return cloneDecision(existing), true, nil
		}
	}

	created := d
	if created.ID == "" {
		created.ID = kernel.NewDecisionID()
	}
	created.Status = kernel.DecisionPending
	created.CreatedAt = now
	created.ResolvedAt = nil
	created.ExpiresAt = nil
	if s.ttl > 0 {
		expires := now.Add(s.ttl)
		created.ExpiresAt = &expires
	}

	s.byID[created.ID] = &created
	s.byVenture[created.VentureID] = append(s.byVenture[created.VentureID], &created)
	s.log("info", "decision_created", "decision_id", created.ID, "venture_id", created.VentureID, "stage", created.StageNumber)
	return cloneDecision(&created), false, nil
}

// GetDecision reports a pending decision past its deadline as expired.
func (s *DecisionStore) GetDecision(_ context.Context, decisionID string) (*kernel.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.byID[decisionID]
	if !ok {
		return nil, kernel.ErrDecisionNotFound
	}
	out := cloneDecision(d)
	if out.IsPending() && out.IsExpired(s.now()) {
		out.Status = kernel.DecisionExpired
	}
	return out, nil
}

func (s *DecisionStore) ResolveDecision(_ context.Context, decisionID string, status kernel.DecisionStatus, resolvedBy, notes string) (*kernel.Decision, error) {
	if !status.IsResolved() {
		return nil, fmt.Errorf("cannot resolve decision to %s", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.byID[decisionID]
	if !ok {
		s.log("warn", "decision_not_found", "decision_id", decisionID)
		return nil, kernel.ErrDecisionNotFound
	}
	now := s.now().UTC()
	if !d.IsPending() || d.IsExpired(now) {
		s.log("warn", "decision_not_pending", "decision_id", decisionID, "status", string(d.Status))
		return nil, kernel.ErrDecisionNotPending
	}

	d.Status = status
	d.ResolvedBy = resolvedBy
	d.Notes = notes
	d.ResolvedAt = &now
	s.log("info", "decision_resolved", "decision_id", decisionID, "status", string(status))
	return cloneDecision(d), nil
}

// SweepDecisions marks overdue pending decisions expired and drops expired
// decisions whose deadline is more than retention ago. Answered decisions
// are kept.
func (s *DecisionStore) SweepDecisions(_ context.Context, retention time.Duration) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-retention)
	expired, purged := 0, 0
	for id, d := range s.byID {
		if d.IsPending() && d.IsExpired(now) {
			d.Status = kernel.DecisionExpired
			expired++
		}
		if d.Status == kernel.DecisionExpired && d.ExpiresAt != nil && !d.ExpiresAt.After(cutoff) {
			s.drop(id, d.VentureID)
			purged++
		}
	}
	return expired, purged, nil
}

// PendingForVenture returns the venture's open decisions, oldest first.
func (s *DecisionStore) PendingForVenture(ventureID string) []*kernel.Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var out []*kernel.Decision
	for _, d := range s.byVenture[ventureID] {
		if d.IsPending() && !d.IsExpired(now) {
			out = append(out, cloneDecision(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Len returns the number of stored decisions.
func (s *DecisionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

func (s *DecisionStore) drop(id, ventureID string) {
	delete(s.byID, id)
	kept := s.byVenture[ventureID][:0]
	for _, d := range s.byVenture[ventureID] {
		if d.ID != id {
			kept = append(kept, d)
		}
	}
	if len(kept) == 0 {
		delete(s.byVenture, ventureID)
		return
	}
	s.byVenture[ventureID] = kept
}

func (s *DecisionStore) log(level, msg string, kv ...any) {
	if s.logger == nil {
		return
	}
	switch level {
	case "debug":
		s.logger.Debug(msg, kv...)
	case "warn":
		s.logger.Warn(msg, kv...)
	default:
		s.logger.Info(msg, kv...)
	}
}

func cloneDecision(d *kernel.Decision) *kernel.Decision {
	c := *d
	if d.BriefData != nil {
		c.BriefData = make(map[string]any, len(d.BriefData))
		for k, v := range d.BriefData {
			c.BriefData[k] = v
		}
	}
	return &c
}

var (
	_ kernel.DecisionStore   = (*DecisionStore)(nil)
	_ kernel.DecisionSweeper = (*DecisionStore)(nil)
)

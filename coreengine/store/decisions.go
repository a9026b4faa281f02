package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/jeeves-cluster-organization/ventureflow/coreengine/gaterecovery"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/kernel"
)

const decisionColumns = `id, venture_id, stage_number, status, summary, brief_data,
	resolved_by, notes, created_at, resolved_at, expires_at`

const (
	sqlExpireStaleDecisions = `
		UPDATE chairman_decisions SET status = 'expired'
		WHERE venture_id = $1 AND stage_number = $2 AND status = 'pending'
		  AND expires_at IS NOT NULL AND expires_at <= $3`

	sqlFindPendingDecision = `
		SELECT ` + decisionColumns + `
		FROM chairman_decisions
		WHERE venture_id = $1 AND stage_number = $2 AND status = 'pending'
		ORDER BY created_at DESC
		LIMIT 1`

	sqlInsertDecision = `
		INSERT INTO chairman_decisions
			(id, venture_id, stage_number, status, summary, brief_data, created_at, expires_at)
		VALUES ($1, $2, $3, 'pending', $4, $5, $6, $7)
		RETURNING ` + decisionColumns

	sqlGetDecision = `
		SELECT ` + decisionColumns + `
		FROM chairman_decisions
		WHERE id = $1`

	sqlResolveDecision = `
		UPDATE chairman_decisions
		SET status = $2, resolved_by = $3, notes = $4, resolved_at = $5
		WHERE id = $1 AND status = 'pending' AND (expires_at IS NULL OR expires_at > $5)
		RETURNING ` + decisionColumns

	sqlExpireOverdueDecisions = `
		UPDATE chairman_decisions SET status = 'expired'
		WHERE status = 'pending' AND expires_at IS NOT NULL AND expires_at <= $1`

	sqlPurgeExpiredDecisions = `
		DELETE FROM chairman_decisions
		WHERE status = 'expired' AND expires_at IS NOT NULL AND expires_at <= $1`

	sqlInsertEscalation = `
		INSERT INTO gate_escalations
			(id, venture_id, boundary, from_stage, to_stage, severity, reasons, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
)

// =============================================================================
// Chairman Decisions
// =============================================================================

func scanDecision(row pgx.Row) (*kernel.Decision, error) {
	var (
		d          kernel.Decision
		status     string
		brief      []byte
		resolvedBy *string
		notes      *string
	)
	err := row.Scan(&d.ID, &d.VentureID, &d.StageNumber, &status, &d.Summary, &brief,
		&resolvedBy, &notes, &d.CreatedAt, &d.ResolvedAt, &d.ExpiresAt)
	if err != nil {
		return nil, err
	}
	d.Status = kernel.DecisionStatus(status)
	if len(brief) > 0 {
		if err := json.Unmarshal(brief, &d.BriefData); err != nil {
			return nil, fmt.Errorf("failed to decode brief data: %w", err)
		}
	}
	if resolvedBy != nil {
		d.ResolvedBy = *resolvedBy
	}
	if notes != nil {
		d.Notes = *notes
	}
	return &d, nil
}

// CreateOrReusePending implements kernel.DecisionStore. Pending decisions
// past their deadline are marked expired before the lookup.
func (s *Store) CreateOrReusePending(ctx context.Context, d kernel.Decision) (*kernel.Decision, bool, error) {
	if d.VentureID == "" {
		return nil, false, fmt.Errorf("decision venture id is required")
	}
	brief, err := json.Marshal(d.BriefData)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal brief data: %w", err)
	}
	now := s.now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	if _, err := tx.Exec(ctx, sqlExpireStaleDecisions, d.VentureID, d.StageNumber, now); err != nil {
		return nil, false, fmt.Errorf("failed to expire stale decisions: %w", err)
	}

	existing, err := scanDecision(tx.QueryRow(ctx, sqlFindPendingDecision, d.VentureID, d.StageNumber))
	switch {
	case err == nil:
		if err := tx.Commit(ctx); err != nil {
			return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
		}
		s.log.Debug("Pending decision reused", zap.String("decision_id", existing.ID), zap.String("venture_id", d.VentureID))
		return existing, true, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, false, fmt.Errorf("failed to find pending decision: %w", err)
	}

	id := d.ID
	if id == "" {
		id = kernel.NewDecisionID()
	}
	var expiresAt *time.Time
	if s.decisionTTL > 0 {
		t := now.Add(s.decisionTTL)
		expiresAt = &t
	}

	created, err := scanDecision(tx.QueryRow(ctx, sqlInsertDecision,
		id, d.VentureID, d.StageNumber, d.Summary, brief, now, expiresAt))
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert decision: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.log.Info("Chairman decision created",
		zap.String("decision_id", created.ID),
		zap.String("venture_id", created.VentureID),
		zap.Int("stage", created.StageNumber),
	)
	return created, false, nil
}

// GetDecision implements kernel.DecisionStore. A pending decision past its
// deadline is reported as expired.
func (s *Store) GetDecision(ctx context.Context, decisionID string) (*kernel.Decision, error) {
	d, err := scanDecision(s.pool.QueryRow(ctx, sqlGetDecision, decisionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, kernel.ErrDecisionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get decision: %w", err)
	}
	if d.IsPending() && d.IsExpired(s.now()) {
		d.Status = kernel.DecisionExpired
	}
	return d, nil
}

// ResolveDecision implements kernel.DecisionStore.
func (s *Store) ResolveDecision(ctx context.Context, decisionID string, status kernel.DecisionStatus, resolvedBy, notes string) (*kernel.Decision, error) {
	if !status.IsResolved() {
		return nil, fmt.Errorf("cannot resolve decision to %s", status)
	}
	now := s.now().UTC()

	d, err := scanDecision(s.pool.QueryRow(ctx, sqlResolveDecision, decisionID, string(status), resolvedBy, notes, now))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := s.GetDecision(ctx, decisionID); getErr != nil {
			return nil, getErr
		}
		return nil, kernel.ErrDecisionNotPending
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve decision: %w", err)
	}

	s.log.Info("Chairman decision resolved",
		zap.String("decision_id", decisionID),
		zap.String("status", string(status)),
		zap.String("resolved_by", resolvedBy),
	)
	return d, nil
}

// SweepDecisions implements kernel.DecisionSweeper. Overdue pending
// decisions are marked expired; expired ones past retention are deleted.
// Answered decisions are never deleted.
func (s *Store) SweepDecisions(ctx context.Context, retention time.Duration) (int, int, error) {
	now := s.now().UTC()

	expired, err := s.pool.Exec(ctx, sqlExpireOverdueDecisions, now)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to expire decisions: %w", err)
	}
	purged, err := s.pool.Exec(ctx, sqlPurgeExpiredDecisions, now.Add(-retention))
	if err != nil {
		return int(expired.RowsAffected()), 0, fmt.Errorf("failed to purge expired decisions: %w", err)
	}

	if n := expired.RowsAffected() + purged.RowsAffected(); n > 0 {
		s.log.Info("Chairman decisions swept",
			zap.Int64("expired", expired.RowsAffected()),
			zap.Int64("purged", purged.RowsAffected()),
		)
	}
	return int(expired.RowsAffected()), int(purged.RowsAffected()), nil
}

// =============================================================================
// Gate Escalations
// =============================================================================

// CreateEscalation implements gaterecovery.Store.
func (s *Store) CreateEscalation(ctx context.Context, e gaterecovery.Escalation) error {
	reasons, err := json.Marshal(e.Reasons)
	if err != nil {
		return fmt.Errorf("failed to marshal escalation reasons: %w", err)
	}
	_, err = s.pool.Exec(ctx, sqlInsertEscalation,
		e.ID, e.VentureID, e.Boundary, e.FromStage, e.ToStage, string(e.Severity), reasons, e.Attempts, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert escalation: %w", err)
	}
	s.log.Info("Gate escalation recorded",
		zap.String("escalation_id", e.ID),
		zap.String("venture_id", e.VentureID),
		zap.String("boundary", e.Boundary),
	)
	return nil
}

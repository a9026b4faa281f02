package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/jeeves-cluster-organization/ventureflow/coreengine/kernel"
)

const (
	sqlLoadVenture = `
		SELECT id, name, status, current_lifecycle_stage, archetype, created_at
		FROM ventures
		WHERE id = $1`

	sqlAdvanceStage = `
		UPDATE ventures SET current_lifecycle_stage = $2
		WHERE id = $1 AND status <> 'killed'`

	sqlMergeMetadata = `
		UPDATE ventures SET metadata = COALESCE(metadata, '{}'::jsonb) || $2::jsonb
		WHERE id = $1`

	sqlMarkKilled = `
		UPDATE ventures SET killed_at_gate = $2, killed_at = now(), status = 'killed'
		WHERE id = $1`
)

// LoadVenture implements kernel.VentureLoader.
func (s *Store) LoadVenture(ctx context.Context, ventureID string) (*kernel.Venture, error) {
	var (
		v         kernel.Venture
		stage     *int
		archetype *string
	)
	err := s.pool.QueryRow(ctx, sqlLoadVenture, ventureID).
		Scan(&v.ID, &v.Name, &v.Status, &stage, &archetype, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("venture %s: %w", ventureID, kernel.ErrVentureNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load venture: %w", err)
	}
	v.CurrentStage = stage
	if archetype != nil {
		v.Archetype = *archetype
	}
	return &v, nil
}

// AdvanceStage implements kernel.StagePointer.
func (s *Store) AdvanceStage(ctx context.Context, ventureID string, stage int) error {
	tag, err := s.pool.Exec(ctx, sqlAdvanceStage, ventureID, stage)
	if err != nil {
		return fmt.Errorf("failed to advance stage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		v, err := s.LoadVenture(ctx, ventureID)
		if err != nil {
			return err
		}
		if v.IsKilled() {
			return fmt.Errorf("venture %s: %w", ventureID, kernel.ErrVentureKilled)
		}
		return fmt.Errorf("venture %s: stage pointer not updated", ventureID)
	}
	s.log.Debug("Stage pointer advanced", zap.String("venture_id", ventureID), zap.Int("stage", stage))
	return nil
}

// MergeVentureMetadata implements gaterecovery.Store. Keys in patch replace
// existing top-level keys.
func (s *Store) MergeVentureMetadata(ctx context.Context, ventureID string, patch map[string]any) error {
	raw, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata patch: %w", err)
	}
	tag, err := s.pool.Exec(ctx, sqlMergeMetadata, ventureID, raw)
	if err != nil {
		return fmt.Errorf("failed to merge venture metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("venture %s: %w", ventureID, ErrNotFound)
	}
	return nil
}

// MarkKilledAtGate implements gaterecovery.Store.
func (s *Store) MarkKilledAtGate(ctx context.Context, ventureID, gate string) error {
	tag, err := s.pool.Exec(ctx, sqlMarkKilled, ventureID, gate)
	if err != nil {
		return fmt.Errorf("failed to mark venture killed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("venture %s: %w", ventureID, ErrNotFound)
	}
	s.log.Warn("Venture killed at gate", zap.String("venture_id", ventureID), zap.String("gate", gate))
	return nil
}

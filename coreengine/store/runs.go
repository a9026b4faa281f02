package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/jeeves-cluster-organization/ventureflow/coreengine/filter"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/kernel"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/templates"
)

const (
	sqlFindStageRun = `
		SELECT result FROM stage_runs
		WHERE venture_id = $1 AND idempotency_key = $2`

	sqlSaveStageRun = `
		INSERT INTO stage_runs (venture_id, idempotency_key, lifecycle_stage, status, result)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (venture_id, idempotency_key) DO NOTHING`

	sqlStageTemplate = `
		SELECT template_data FROM venture_stage_templates
		WHERE lifecycle_stage = $1 AND is_active
		ORDER BY created_at DESC
		LIMIT 1`

	sqlResolvePreferences = `
		SELECT preference_key, preference_value, venture_id IS NOT NULL
		FROM chairman_preferences
		WHERE chairman_id = $1
		  AND (venture_id = $2 OR venture_id IS NULL)
		  AND preference_key = ANY($3)
		ORDER BY venture_id NULLS FIRST`
)

// Preference scopes reported in filter.PreferenceValue.Scope.
const (
	ScopeVenture = "venture"
	ScopeGlobal  = "global"
)

// FindStageRun implements kernel.IdempotencyStore.
func (s *Store) FindStageRun(ctx context.Context, ventureID, idempotencyKey string) (*kernel.StageResult, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, sqlFindStageRun, ventureID, idempotencyKey).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find stage run: %w", err)
	}

	var res kernel.StageResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("failed to decode stage run: %w", err)
	}
	return &res, nil
}

// SaveStageRun implements kernel.IdempotencyStore. The first result stored
// under a key is kept.
func (s *Store) SaveStageRun(ctx context.Context, idempotencyKey string, result *kernel.StageResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal stage run: %w", err)
	}
	tag, err := s.pool.Exec(ctx, sqlSaveStageRun, result.VentureID, idempotencyKey, result.StageID, string(result.Status), raw)
	if err != nil {
		return fmt.Errorf("failed to save stage run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		s.log.Debug("Stage run already recorded",
			zap.String("venture_id", result.VentureID),
			zap.String("idempotency_key", idempotencyKey),
		)
	}
	return nil
}

// StageTemplate implements templates.DefinitionSource. It returns nil when
// the stage has no active template.
func (s *Store) StageTemplate(ctx context.Context, stage int) (*templates.Definition, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, sqlStageTemplate, stage).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load stage template: %w", err)
	}

	var def templates.Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("failed to decode stage %d template: %w", stage, err)
	}
	return &def, nil
}

// ResolvePreferences implements kernel.PreferenceResolver. A venture-scoped
// value overrides the chairman's global value for the same key.
func (s *Store) ResolvePreferences(ctx context.Context, chairmanID, ventureID string, keys []string) (filter.Preferences, error) {
	rows, err := s.pool.Query(ctx, sqlResolvePreferences, chairmanID, ventureID, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to query preferences: %w", err)
	}
	defer rows.Close()

	prefs := make(filter.Preferences, len(keys))
	for rows.Next() {
		var (
			key           string
			raw           []byte
			ventureScoped bool
		)
		if err := rows.Scan(&key, &raw, &ventureScoped); err != nil {
			return nil, fmt.Errorf("failed to scan preference row: %w", err)
		}
		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			s.log.Warn("Skipping undecodable preference", zap.String("key", key), zap.Error(err))
			continue
		}
		scope := ScopeGlobal
		if ventureScoped {
			scope = ScopeVenture
		}
		prefs[key] = filter.PreferenceValue{Value: value, Scope: scope}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating preference rows: %w", err)
	}
	return prefs, nil
}

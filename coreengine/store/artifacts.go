package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/jeeves-cluster-organization/ventureflow/coreengine/kernel"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/realitygate"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/stagegate"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/typeutil"
)

// DefaultArtifactSource is recorded for artifacts that name no source.
const DefaultArtifactSource = "eva-orchestrator"

const (
	sqlDemoteArtifacts = `
		UPDATE venture_artifacts SET is_current = false
		WHERE venture_id = $1 AND lifecycle_stage = $2 AND artifact_type = $3 AND is_current`

	sqlInsertArtifact = `
		INSERT INTO venture_artifacts
			(venture_id, lifecycle_stage, artifact_type, artifact_data, quality_score, url,
			 is_current, source, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, true, $7, $8)
		RETURNING id`

	sqlInsertClassifiedArtifact = `
		INSERT INTO venture_artifacts
			(venture_id, lifecycle_stage, artifact_type, artifact_data, quality_score, url,
			 is_current, source, idempotency_key, epistemic_classification, epistemic_evidence)
		VALUES ($1, $2, $3, $4, $5, $6, true, $7, $8, $9, $10)
		RETURNING id`

	sqlCurrentArtifacts = `
		SELECT DISTINCT ON (artifact_type) artifact_type, quality_score, COALESCE(url, ''), created_at
		FROM venture_artifacts
		WHERE venture_id = $1 AND artifact_type = ANY($2) AND is_current
		ORDER BY artifact_type, created_at DESC`

	sqlCurrentStageArtifact = `
		SELECT artifact_data, created_at
		FROM venture_artifacts
		WHERE venture_id = $1 AND lifecycle_stage = $2 AND artifact_type = $3 AND is_current
		ORDER BY created_at DESC
		LIMIT 1`

	sqlStagePayloads = `
		SELECT artifact_data
		FROM venture_artifacts
		WHERE venture_id = $1 AND lifecycle_stage = $2 AND is_current
		ORDER BY created_at ASC`
)

// artifactRow is one venture_artifacts insert.
type artifactRow struct {
	ventureID      string
	stage          int
	artifactType   string
	data           []byte
	qualityScore   *float64
	url            *string
	source         string
	idempotencyKey *string
	classification string
	evidence       []byte
}

func (r artifactRow) args() []any {
	return []any{r.ventureID, r.stage, r.artifactType, r.data, r.qualityScore, r.url, r.source, r.idempotencyKey}
}

func newArtifactRow(ventureID string, stage int, a kernel.Artifact, key string) (artifactRow, error) {
	data, err := json.Marshal(a.Payload)
	if err != nil {
		return artifactRow{}, fmt.Errorf("failed to marshal %s payload: %w", a.ArtifactType, err)
	}
	row := artifactRow{
		ventureID:    ventureID,
		stage:        stage,
		artifactType: a.ArtifactType,
		data:         data,
		source:       a.Source,
	}
	if row.source == "" {
		row.source = DefaultArtifactSource
	}
	if key != "" {
		row.idempotencyKey = &key
	}
	if q, ok := typeutil.Float64(a.Payload["qualityScore"]); ok {
		row.qualityScore = &q
	}
	if u, ok := typeutil.NonEmptyString(a.Payload["url"]); ok {
		row.url = &u
	}

	if class, classifications, ok := dominantBucket(a.Payload); ok {
		evidence, err := json.Marshal(classifications)
		if err == nil {
			row.classification = class
			row.evidence = evidence
		}
	}
	return row, nil
}

// dominantBucket returns the epistemic bucket with the highest count in
// fourBuckets.summary. Ties keep the fact, assumption, simulation, unknown
// order. ok is false when the payload carries no classifications.
func dominantBucket(payload map[string]any) (string, []any, bool) {
	fb, ok := typeutil.LookupMap(payload, "fourBuckets")
	if !ok {
		return "", nil, false
	}
	classifications, ok := typeutil.Slice(fb["classifications"])
	if !ok || len(classifications) == 0 {
		return "", nil, false
	}
	summary := typeutil.MapDefault(fb["summary"], nil)

	buckets := []struct{ name, key string }{
		{"fact", "facts"},
		{"assumption", "assumptions"},
		{"simulation", "simulations"},
		{"unknown", "unknowns"},
	}
	best, bestCount := buckets[0].name, typeutil.Float64Default(summary[buckets[0].key], 0)
	for _, b := range buckets[1:] {
		if n := typeutil.Float64Default(summary[b.key], 0); n > bestCount {
			best, bestCount = b.name, n
		}
	}
	return best, classifications, true
}

// PersistArtifacts implements kernel.ArtifactPersister. Each artifact
// replaces the current artifact of its type at the stage. An insert whose
// epistemic columns are rejected is retried without them.
func (s *Store) PersistArtifacts(ctx context.Context, ventureID string, stage int, artifacts []kernel.Artifact, idempotencyKey string) ([]string, error) {
	if len(artifacts) == 0 {
		return []string{}, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	ids := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		row, err := newArtifactRow(ventureID, stage, a, idempotencyKey)
		if err != nil {
			return nil, err
		}
		if _, err := tx.Exec(ctx, sqlDemoteArtifacts, ventureID, stage, a.ArtifactType); err != nil {
			return nil, fmt.Errorf("failed to demote current %s: %w", a.ArtifactType, err)
		}
		id, err := s.insertArtifact(ctx, tx, row)
		if err != nil {
			return nil, fmt.Errorf("failed to persist artifact: %w", err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Artifacts persisted",
		zap.String("venture_id", ventureID),
		zap.Int("stage", stage),
		zap.Int("count", len(ids)),
	)
	return ids, nil
}

func (s *Store) insertArtifact(ctx context.Context, tx pgx.Tx, row artifactRow) (string, error) {
	var id string
	if row.classification != "" {
		// The savepoint keeps the outer transaction usable if the
		// epistemic columns are rejected.
		sp, err := tx.Begin(ctx)
		if err != nil {
			return "", err
		}
		args := append(row.args(), row.classification, row.evidence)
		err = sp.QueryRow(ctx, sqlInsertClassifiedArtifact, args...).Scan(&id)
		if err == nil {
			if err := sp.Commit(ctx); err != nil {
				return "", err
			}
			return id, nil
		}
		s.log.Warn("Epistemic columns rejected, retrying without them",
			zap.String("artifact_type", row.artifactType),
			zap.Error(err),
		)
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			return "", rbErr
		}
	}

	if err := tx.QueryRow(ctx, sqlInsertArtifact, row.args()...).Scan(&id); err != nil {
		return "", err
	}
	return id, nil
}

// CurrentArtifacts implements realitygate.ArtifactReader. It returns the
// newest current artifact of each requested type.
func (s *Store) CurrentArtifacts(ctx context.Context, ventureID string, artifactTypes []string) ([]realitygate.Artifact, error) {
	rows, err := s.pool.Query(ctx, sqlCurrentArtifacts, ventureID, artifactTypes)
	if err != nil {
		return nil, fmt.Errorf("failed to query current artifacts: %w", err)
	}
	defer rows.Close()

	var out []realitygate.Artifact
	for rows.Next() {
		var a realitygate.Artifact
		if err := rows.Scan(&a.ArtifactType, &a.QualityScore, &a.URL, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan artifact row: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating artifact rows: %w", err)
	}
	return out, nil
}

// CurrentStageArtifact implements stagegate.ArtifactSource.
func (s *Store) CurrentStageArtifact(ctx context.Context, ventureID string, stage int, artifactType string) (*stagegate.StoredArtifact, error) {
	var (
		raw       []byte
		createdAt time.Time
	)
	err := s.pool.QueryRow(ctx, sqlCurrentStageArtifact, ventureID, stage, artifactType).Scan(&raw, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s artifact: %w", artifactType, err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode %s artifact: %w", artifactType, err)
	}
	return &stagegate.StoredArtifact{Payload: payload, CreatedAt: createdAt}, nil
}

// StagePayload implements contracts.PayloadLoader. The current artifacts of
// the stage are merged oldest first, so newer keys win. A stage without
// artifacts yields nil.
func (s *Store) StagePayload(ctx context.Context, ventureID string, stage int) (map[string]any, error) {
	rows, err := s.pool.Query(ctx, sqlStagePayloads, ventureID, stage)
	if err != nil {
		return nil, fmt.Errorf("failed to query stage %d payloads: %w", stage, err)
	}
	defer rows.Close()

	var merged map[string]any
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan payload row: %w", err)
		}
		var payload map[string]any
		if err := json.Unmarshal(raw, &payload); err != nil {
			s.log.Warn("Skipping undecodable artifact payload", zap.String("venture_id", ventureID), zap.Int("stage", stage), zap.Error(err))
			continue
		}
		if merged == nil {
			merged = make(map[string]any, len(payload))
		}
		for k, v := range payload {
			merged[k] = v
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payload rows: %w", err)
	}
	return merged, nil
}

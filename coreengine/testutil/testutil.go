// Package testutil provides in-memory fakes of the stage collaborators.
//
// Every fake is safe for concurrent use, records its calls for assertion and
// is configured through With* builders.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/ventureflow/commbus"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/contracts"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/filter"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/kernel"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/realitygate"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/stagegate"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/templates"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/typeutil"
)

// =============================================================================
// MOCK VENTURE STORE
// =============================================================================

// MockVentureStore implements kernel.VentureLoader and kernel.StagePointer.
type MockVentureStore struct {
	Ventures   map[string]*kernel.Venture
	LoadError  error
	AdvanceErr error

	// Advances records every AdvanceStage call in order.
	Advances []StageAdvance

	mu sync.Mutex
}

// StageAdvance records one AdvanceStage call.
type StageAdvance struct {
	VentureID string
	Stage     int
}

// NewMockVentureStore creates an empty store.
func NewMockVentureStore() *MockVentureStore {
	return &MockVentureStore{Ventures: make(map[string]*kernel.Venture)}
}

// WithVenture adds a venture at stage. A zero stage leaves the pointer unset.
func (m *MockVentureStore) WithVenture(id, name string, stage int) *MockVentureStore {
	v := &kernel.Venture{ID: id, Name: name, Status: "active", CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	if stage > 0 {
		s := stage
		v.CurrentStage = &s
	}
	m.Ventures[id] = v
	return m
}

// WithStatus sets the status of a venture added with WithVenture.
func (m *MockVentureStore) WithStatus(id, status string) *MockVentureStore {
	if v, ok := m.Ventures[id]; ok {
		v.Status = status
	}
	return m
}

// WithLoadError makes LoadVenture fail.
func (m *MockVentureStore) WithLoadError(err error) *MockVentureStore {
	m.LoadError = err
	return m
}

// WithAdvanceError makes AdvanceStage fail.
func (m *MockVentureStore) WithAdvanceError(err error) *MockVentureStore {
	m.AdvanceErr = err
	return m
}

// LoadVenture implements kernel.VentureLoader.
func (m *MockVentureStore) LoadVenture(_ context.Context, ventureID string) (*kernel.Venture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.LoadError != nil {
		return nil, m.LoadError
	}
	v, ok := m.Ventures[ventureID]
	if !ok {
		return nil, kernel.ErrVentureNotFound
	}
	c := *v
	return &c, nil
}

// AdvanceStage implements kernel.StagePointer.
func (m *MockVentureStore) AdvanceStage(_ context.Context, ventureID string, stage int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Advances = append(m.Advances, StageAdvance{VentureID: ventureID, Stage: stage})
	if m.AdvanceErr != nil {
		return m.AdvanceErr
	}
	v, ok := m.Ventures[ventureID]
	if !ok {
		return nil
	}
	if v.IsKilled() {
		return kernel.ErrVentureKilled
	}
	s := stage
	v.CurrentStage = &s
	return nil
}

// GetAdvances returns a copy of the recorded advances.
func (m *MockVentureStore) GetAdvances() []StageAdvance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StageAdvance(nil), m.Advances...)
}

// CurrentStage returns the venture's stage pointer, or 0.
func (m *MockVentureStore) CurrentStage(ventureID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.Ventures[ventureID]; ok && v.CurrentStage != nil {
		return *v.CurrentStage
	}
	return 0
}

// =============================================================================
// MOCK ARTIFACT STORE
// =============================================================================

// MockArtifactStore implements kernel.ArtifactPersister and
// realitygate.ArtifactReader over the same in-memory rows, so artifacts
// persisted by a run are visible to the gate.
type MockArtifactStore struct {
	PersistError error
	ReadError    error

	// Batches records every PersistArtifacts call.
	Batches []PersistCall

	current map[string][]realitygate.Artifact
	nextID  int
	now     func() time.Time

	mu sync.Mutex
}

// PersistCall records one PersistArtifacts call.
type PersistCall struct {
	VentureID      string
	Stage          int
	Artifacts      []kernel.Artifact
	IdempotencyKey string
}

// NewMockArtifactStore creates an empty store.
func NewMockArtifactStore() *MockArtifactStore {
	return &MockArtifactStore{
		current: make(map[string][]realitygate.Artifact),
		now:     func() time.Time { return time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC) },
	}
}

// WithPersistError makes PersistArtifacts fail.
func (m *MockArtifactStore) WithPersistError(err error) *MockArtifactStore {
	m.PersistError = err
	return m
}

// WithReadError makes CurrentArtifacts fail.
func (m *MockArtifactStore) WithReadError(err error) *MockArtifactStore {
	m.ReadError = err
	return m
}

// Seed adds current artifacts for a venture.
func (m *MockArtifactStore) Seed(ventureID string, artifacts ...realitygate.Artifact) *MockArtifactStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current[ventureID] = append(m.current[ventureID], artifacts...)
	return m
}

// PersistArtifacts implements kernel.ArtifactPersister. Ids are "art-1",
// "art-2" and so on. A payload's qualityScore and url become the gate view.
func (m *MockArtifactStore) PersistArtifacts(_ context.Context, ventureID string, stage int, artifacts []kernel.Artifact, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Batches = append(m.Batches, PersistCall{
		VentureID:      ventureID,
		Stage:          stage,
		Artifacts:      append([]kernel.Artifact(nil), artifacts...),
		IdempotencyKey: key,
	})
	if m.PersistError != nil {
		return nil, m.PersistError
	}

	ids := make([]string, len(artifacts))
	for i, a := range artifacts {
		m.nextID++
		ids[i] = fmt.Sprintf("art-%d", m.nextID)

		view := realitygate.Artifact{
			ArtifactType: a.ArtifactType,
			URL:          typeutil.StringDefault(a.Payload["url"], ""),
			CreatedAt:    m.now().Add(time.Duration(m.nextID) * time.Second),
		}
		if q, ok := typeutil.Float64(a.Payload["qualityScore"]); ok {
			view.QualityScore = &q
		}
		m.current[ventureID] = append(m.current[ventureID], view)
	}
	return ids, nil
}

// CurrentArtifacts implements realitygate.ArtifactReader.
func (m *MockArtifactStore) CurrentArtifacts(_ context.Context, ventureID string, types []string) ([]realitygate.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ReadError != nil {
		return nil, m.ReadError
	}
	wanted := make(map[string]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}
	var out []realitygate.Artifact
	for _, a := range m.current[ventureID] {
		if wanted[a.ArtifactType] {
			out = append(out, a)
		}
	}
	return out, nil
}

// GetBatches returns a copy of the recorded persist calls.
func (m *MockArtifactStore) GetBatches() []PersistCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PersistCall(nil), m.Batches...)
}

// PersistedTypes returns the artifact types of every persisted artifact in order.
func (m *MockArtifactStore) PersistedTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, b := range m.Batches {
		for _, a := range b.Artifacts {
			out = append(out, a.ArtifactType)
		}
	}
	return out
}

// =============================================================================
// MOCK RUN STORE
// =============================================================================

// MockRunStore implements kernel.IdempotencyStore.
type MockRunStore struct {
	FindError error
	SaveError error

	runs  map[string]*kernel.StageResult
	saves int

	mu sync.Mutex
}

// NewMockRunStore creates an empty store.
func NewMockRunStore() *MockRunStore {
	return &MockRunStore{runs: make(map[string]*kernel.StageResult)}
}

// FindStageRun implements kernel.IdempotencyStore.
func (m *MockRunStore) FindStageRun(_ context.Context, ventureID, key string) (*kernel.StageResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FindError != nil {
		return nil, m.FindError
	}
	return m.runs[ventureID+"/"+key], nil
}

// SaveStageRun implements kernel.IdempotencyStore.
func (m *MockRunStore) SaveStageRun(_ context.Context, key string, result *kernel.StageResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.SaveError != nil {
		return m.SaveError
	}
	m.runs[result.VentureID+"/"+key] = result
	return nil
}

// SaveCount returns how many SaveStageRun calls were made.
func (m *MockRunStore) SaveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// =============================================================================
// MOCK PREFERENCES
// =============================================================================

// MockPreferenceResolver implements kernel.PreferenceResolver and
// stagegate.PreferenceResolver.
type MockPreferenceResolver struct {
	Preferences filter.Preferences
	Error       error
	Calls       int

	mu sync.Mutex
}

// NewMockPreferenceResolver creates a resolver answering prefs.
func NewMockPreferenceResolver(prefs filter.Preferences) *MockPreferenceResolver {
	return &MockPreferenceResolver{Preferences: prefs}
}

// ResolvePreferences implements the resolver interfaces.
func (m *MockPreferenceResolver) ResolvePreferences(_ context.Context, _, _ string, _ []string) (filter.Preferences, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.Error != nil {
		return nil, m.Error
	}
	return m.Preferences, nil
}

// Pref builds a venture-scoped preference value.
func Pref(value any) filter.PreferenceValue {
	return filter.PreferenceValue{Value: value, Scope: "venture"}
}

// =============================================================================
// MOCK GATES
// =============================================================================

// MockStageGate implements kernel.StageGate with canned results.
type MockStageGate struct {
	// Default is returned for transitions without an entry in ByToStage.
	Default   stagegate.Result
	ByToStage map[int]stagegate.Result
	Calls     []GateCall

	mu sync.Mutex
}

// GateCall records one Validate call.
type GateCall struct {
	VentureID string
	FromStage int
	ToStage   int
	Options   stagegate.Options
}

// NewMockStageGate creates a gate that passes every transition.
func NewMockStageGate() *MockStageGate {
	return &MockStageGate{Default: stagegate.Result{Passed: true}, ByToStage: make(map[int]stagegate.Result)}
}

// WithResult sets the result for transitions into toStage.
func (m *MockStageGate) WithResult(toStage int, res stagegate.Result) *MockStageGate {
	m.ByToStage[toStage] = res
	return m
}

// Validate implements kernel.StageGate.
func (m *MockStageGate) Validate(_ context.Context, ventureID string, from, to int, opts stagegate.Options) stagegate.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, GateCall{VentureID: ventureID, FromStage: from, ToStage: to, Options: opts})
	if res, ok := m.ByToStage[to]; ok {
		return res
	}
	return m.Default
}

// MockReviewer implements stagegate.Reviewer.
type MockReviewer struct {
	Canned *stagegate.Review
	Error  error
	Calls  []stagegate.ReviewRequest

	mu sync.Mutex
}

// NewMockReviewer creates a reviewer that falls back to the deterministic
// review when no canned review is set.
func NewMockReviewer() *MockReviewer {
	return &MockReviewer{}
}

// Review implements stagegate.Reviewer.
func (m *MockReviewer) Review(ctx context.Context, req stagegate.ReviewRequest) (*stagegate.Review, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	canned, err := m.Canned, m.Error
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if canned != nil {
		c := *canned
		return &c, nil
	}
	return stagegate.FallbackReviewer{}.Review(ctx, req)
}

// CallCount returns the number of reviews requested.
func (m *MockReviewer) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// MockContractChecker implements kernel.ContractChecker.
type MockContractChecker struct {
	Report contracts.Report
	Calls  int

	mu sync.Mutex
}

// Check implements kernel.ContractChecker.
func (m *MockContractChecker) Check(_ context.Context, _ string, stage int) contracts.Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	r := m.Report
	r.Stage = stage
	return r
}

// =============================================================================
// MOCK TELEMETRY
// =============================================================================

// MockTelemetry implements kernel.Telemetry by recording every event.
type MockTelemetry struct {
	events []commbus.Message
	mu     sync.Mutex
}

// NewMockTelemetry creates an empty recorder.
func NewMockTelemetry() *MockTelemetry {
	return &MockTelemetry{}
}

// Emit implements kernel.Telemetry.
func (m *MockTelemetry) Emit(msg commbus.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, msg)
}

// Events returns the recorded events in order.
func (m *MockTelemetry) Events() []commbus.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]commbus.Message(nil), m.events...)
}

// Types returns the message type of every recorded event in order.
func (m *MockTelemetry) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = commbus.GetMessageType(e)
	}
	return out
}

// =============================================================================
// MOCK LOGGER
// =============================================================================

// MockLogger captures log calls.
type MockLogger struct {
	entries []LogEntry
	mu      sync.Mutex
}

// LogEntry is one captured log call.
type LogEntry struct {
	Level   string
	Message string
	Fields  map[string]any
}

// NewMockLogger creates an empty logger.
func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

func (m *MockLogger) Debug(msg string, keysAndValues ...any) { m.log("debug", msg, keysAndValues...) }
func (m *MockLogger) Info(msg string, keysAndValues ...any)  { m.log("info", msg, keysAndValues...) }
func (m *MockLogger) Warn(msg string, keysAndValues ...any)  { m.log("warn", msg, keysAndValues...) }
func (m *MockLogger) Error(msg string, keysAndValues ...any) { m.log("error", msg, keysAndValues...) }

func (m *MockLogger) log(level, msg string, keysAndValues ...any) {
	fields := make(map[string]any, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if k, ok := keysAndValues[i].(string); ok {
			fields[k] = keysAndValues[i+1]
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, LogEntry{Level: level, Message: msg, Fields: fields})
}

// GetLogs returns the captured entries in order.
func (m *MockLogger) GetLogs() []LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LogEntry(nil), m.entries...)
}

// HasLog reports whether a message was logged at level.
func (m *MockLogger) HasLog(level, message string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.Level == level && e.Message == message {
			return true
		}
	}
	return false
}

// Clear drops captured entries.
func (m *MockLogger) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
}

// =============================================================================
// TEMPLATE HELPERS
// =============================================================================

// StaticStep returns a step emitting payload as artifactType.
func StaticStep(id, artifactType string, payload map[string]any) templates.Step {
	return templates.Step{
		ID:           id,
		ArtifactType: artifactType,
		Execute: func(context.Context, templates.StepInput) (templates.StepOutput, error) {
			p := make(map[string]any, len(payload))
			for k, v := range payload {
				p[k] = v
			}
			return templates.StepOutput{ArtifactType: artifactType, Payload: p}, nil
		},
	}
}

// FailingStep returns a step that fails with err.
func FailingStep(id string, err error) templates.Step {
	return templates.Step{
		ID: id,
		Execute: func(context.Context, templates.StepInput) (templates.StepOutput, error) {
			return templates.StepOutput{}, err
		},
	}
}

// CountingStep wraps step and counts its executions into calls.
func CountingStep(step templates.Step, calls *int, mu *sync.Mutex) templates.Step {
	inner := step.Execute
	step.Execute = func(ctx context.Context, in templates.StepInput) (templates.StepOutput, error) {
		mu.Lock()
		*calls++
		mu.Unlock()
		if inner == nil {
			return templates.StepOutput{Payload: map[string]any{}}, nil
		}
		return inner(ctx, in)
	}
	return step
}

// NewRegistry returns a registry holding one template per stage. It panics
// on an invalid template.
func NewRegistry(tmpls ...*templates.Template) *templates.Registry {
	r := templates.NewRegistry(nil)
	for _, t := range tmpls {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
	return r
}

// Ensure the fakes implement their interfaces.
var (
	_ kernel.VentureLoader         = (*MockVentureStore)(nil)
	_ kernel.StagePointer          = (*MockVentureStore)(nil)
	_ kernel.ArtifactPersister     = (*MockArtifactStore)(nil)
	_ realitygate.ArtifactReader   = (*MockArtifactStore)(nil)
	_ kernel.IdempotencyStore      = (*MockRunStore)(nil)
	_ kernel.PreferenceResolver    = (*MockPreferenceResolver)(nil)
	_ stagegate.PreferenceResolver = (*MockPreferenceResolver)(nil)
	_ kernel.StageGate             = (*MockStageGate)(nil)
	_ stagegate.Reviewer           = (*MockReviewer)(nil)
	_ kernel.ContractChecker       = (*MockContractChecker)(nil)
	_ kernel.Telemetry             = (*MockTelemetry)(nil)
	_ kernel.Logger                = (*MockLogger)(nil)
)

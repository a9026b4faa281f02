// Package contracts defines the cross-stage data contracts between venture
// stages and validates producer output against them.
//
// A contract states which fields a consuming stage reads from a producing
// stage's output and what shape they must have. The orchestrator checks the
// contracts of a stage before running its template.
package contracts

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/jeeves-cluster-organization/ventureflow/coreengine/typeutil"
)

// =============================================================================
// ENUMS
// =============================================================================

// FieldType is the JSON shape a contract field must have.
type FieldType string

const (
	FieldTypeString FieldType = "string"
	FieldTypeNumber FieldType = "number"
	FieldTypeObject FieldType = "object"
	FieldTypeArray  FieldType = "array"
)

// FieldTypeFromString parses a field type string.
func FieldTypeFromString(value string) (FieldType, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "string":
		return FieldTypeString, nil
	case "number":
		return FieldTypeNumber, nil
	case "object":
		return FieldTypeObject, nil
	case "array":
		return FieldTypeArray, nil
	default:
		return "", fmt.Errorf("invalid field type '%s'. Must be one of: string, number, object, array", value)
	}
}

// matches reports whether value has the field type's JSON shape.
func (t FieldType) matches(value any) bool {
	switch t {
	case FieldTypeString:
		_, ok := typeutil.String(value)
		return ok
	case FieldTypeNumber:
		_, ok := typeutil.Float64(value)
		return ok
	case FieldTypeObject:
		return typeutil.IsObject(value)
	case FieldTypeArray:
		return typeutil.IsArray(value)
	default:
		return false
	}
}

// =============================================================================
// CONTRACT DEFINITIONS
// =============================================================================

// FieldSpec constrains one field of a producer's output.
// Fields are required unless Optional is set.
type FieldSpec struct {
	Type      FieldType `json:"type"`
	MinLength int       `json:"minLength,omitempty"`
	MinItems  int       `json:"minItems,omitempty"`
	Optional  bool      `json:"optional,omitempty"`
}

// Fields maps field names to their specs.
type Fields map[string]FieldSpec

// Contract binds a consuming stage to the output of a producing stage.
type Contract struct {
	Consumer int    `json:"consumer"`
	Producer int    `json:"producer"`
	Fields   Fields `json:"fields"`
}

// Source names the producing stage in validation messages.
func (c Contract) Source() string {
	return fmt.Sprintf("stage-%02d", c.Producer)
}

// Result is the outcome of validating one payload against a contract.
type Result struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks data against fields. A nil payload is always invalid.
// Errors are reported in field-name order and are prefixed with source.
func Validate(data map[string]any, fields Fields, source string) Result {
	if data == nil {
		return Result{Valid: false, Errors: []string{fmt.Sprintf("%s: no upstream data", source)}}
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	errs := []string{}
	for _, name := range names {
		if msg := checkField(data, name, fields[name]); msg != "" {
			errs = append(errs, fmt.Sprintf("%s: %s", source, msg))
		}
	}

	return Result{Valid: len(errs) == 0, Errors: errs}
}

func checkField(data map[string]any, name string, spec FieldSpec) string {
	value, present := data[name]
	if !present || value == nil {
		if spec.Optional {
			return ""
		}
		return fmt.Sprintf("field '%s' is required", name)
	}

	if !spec.Type.matches(value) {
		return fmt.Sprintf("field '%s' must be %s, got %T", name, spec.Type, value)
	}

	if spec.MinLength > 0 {
		s, _ := typeutil.String(value)
		if utf8.RuneCountInString(s) < spec.MinLength {
			return fmt.Sprintf("field '%s' must be at least %d characters", name, spec.MinLength)
		}
	}

	if spec.MinItems > 0 {
		items, _ := typeutil.Slice(value)
		if len(items) < spec.MinItems {
			return fmt.Sprintf("field '%s' must have at least %d items", name, spec.MinItems)
		}
	}

	return ""
}

// =============================================================================
// PRECHECK
// =============================================================================

// PayloadLoader reads the merged current output of a stage for a venture.
// A stage that produced nothing returns a nil map and no error.
type PayloadLoader interface {
	StagePayload(ctx context.Context, ventureID string, stage int) (map[string]any, error)
}

// Violation is a contract that a producer's stored output does not satisfy.
type Violation struct {
	Contract Contract `json:"contract"`
	Errors   []string `json:"errors"`
}

// Report is the outcome of checking every contract a stage consumes.
type Report struct {
	Stage      int         `json:"stage"`
	Checked    int         `json:"checked"`
	Violations []Violation `json:"violations,omitempty"`
	// LoadErrors holds producers whose output could not be read; their
	// contracts are skipped.
	LoadErrors map[int]error `json:"-"`
}

// OK reports whether every checked contract was satisfied.
func (r Report) OK() bool {
	return len(r.Violations) == 0
}

// Messages flattens every violation into one list.
func (r Report) Messages() []string {
	var out []string
	for _, v := range r.Violations {
		out = append(out, v.Errors...)
	}
	return out
}

// Checker validates a stage's inputs against a contract table.
type Checker struct {
	table  []Contract
	loader PayloadLoader
}

// NewChecker creates a checker over table. A nil table uses Default.
func NewChecker(loader PayloadLoader, table []Contract) *Checker {
	if table == nil {
		table = Default
	}
	return &Checker{table: table, loader: loader}
}

// For returns the contracts consumed by stage, in table order.
func (c *Checker) For(stage int) []Contract {
	return ForStage(c.table, stage)
}

// Check loads each producer's output once and validates it against every
// contract stage consumes.
func (c *Checker) Check(ctx context.Context, ventureID string, stage int) Report {
	report := Report{Stage: stage}
	payloads := map[int]map[string]any{}

	for _, contract := range c.For(stage) {
		if _, failed := report.LoadErrors[contract.Producer]; failed {
			continue
		}
		payload, loaded := payloads[contract.Producer]
		if !loaded {
			var err error
			payload, err = c.loader.StagePayload(ctx, ventureID, contract.Producer)
			if err != nil {
				if report.LoadErrors == nil {
					report.LoadErrors = map[int]error{}
				}
				report.LoadErrors[contract.Producer] = err
				continue
			}
			payloads[contract.Producer] = payload
		}

		report.Checked++
		if res := Validate(payload, contract.Fields, contract.Source()); !res.Valid {
			report.Violations = append(report.Violations, Violation{Contract: contract, Errors: res.Errors})
		}
	}
	return report
}

// ForStage returns the contracts in table consumed by stage.
func ForStage(table []Contract, stage int) []Contract {
	var out []Contract
	for _, c := range table {
		if c.Consumer == stage {
			out = append(out, c)
		}
	}
	return out
}

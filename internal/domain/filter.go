package domain

// ValidatorSchemaVersion is the current validator_log document version.
const ValidatorSchemaVersion = 1

// MaxMinuteOffset is the highest minute-offset-from-entry a rule may target.
const MaxMinuteOffset = 14

// FieldType distinguishes numeric rules from boolean ones. A boolean rule is
// represented as a numeric rule with from_value == to_value in {0, 1}.
type FieldType string

// Field types.
const (
	FieldNumeric FieldType = "numeric"
	FieldBoolean FieldType = "boolean"
)

// FilterProject is a named, independently evaluated set of AND-combined
// entry rules. A signal passes if any active project passes.
type FilterProject struct {
	ProjectID   string
	Name        string
	Description string
	Rules       []FilterRule // ordered
}

// ActiveRules returns the project's rules with IsActive set.
func (p *FilterProject) ActiveRules() []FilterRule {
	var active []FilterRule
	for _, r := range p.Rules {
		if r.IsActive {
			active = append(active, r)
		}
	}
	return active
}

// FilterRule is one range/boolean rule inside a project. A numeric value is
// in range iff from_value <= actual <= to_value, with either bound open
// (nil). IncludeNull controls whether a missing value passes; ExcludeMode
// inverts the pass condition, turning the rule into a blocklist.
type FilterRule struct {
	RuleID       string
	ProjectID    string
	Section      string
	MinuteOffset int // 0..MaxMinuteOffset, minutes before entry
	FieldName    string
	FieldType    FieldType
	FromValue    *float64 // nil = open lower bound
	ToValue      *float64 // nil = open upper bound
	IncludeNull  bool
	ExcludeMode  bool
	IsActive     bool
}

// FeatureKey addresses one value in a candidate's feature vector.
type FeatureKey struct {
	Section      string
	MinuteOffset int
	FieldName    string
}

// FeatureVector is the bucketed numeric/boolean snapshot a candidate signal
// is evaluated against. Missing keys are nulls.
type FeatureVector map[FeatureKey]float64

// Get returns the value for a key, or ok=false when the value is null.
func (v FeatureVector) Get(section string, minuteOffset int, field string) (float64, bool) {
	val, ok := v[FeatureKey{Section: section, MinuteOffset: minuteOffset, FieldName: field}]
	return val, ok
}

// ProjectOutcome classifies one project's evaluation.
type ProjectOutcome string

// Project outcomes. A project with zero active rules is no_data, never pass.
const (
	ProjectPass   ProjectOutcome = "pass"
	ProjectFail   ProjectOutcome = "fail"
	ProjectNoData ProjectOutcome = "no_data"
)

// RuleResult records one rule's evaluation for the audit trail: the actual
// value seen against the expected range, kept verbatim because filters are
// mutable and must not retroactively change historical provenance.
type RuleResult struct {
	RuleID       string    `json:"rule_id"`
	Section      string    `json:"section"`
	MinuteOffset int       `json:"minute_offset"`
	FieldName    string    `json:"field_name"`
	FieldType    FieldType `json:"field_type"`
	Actual       *float64  `json:"actual,omitempty"` // nil = value was missing
	FromValue    *float64  `json:"from_value,omitempty"`
	ToValue      *float64  `json:"to_value,omitempty"`
	ExcludeMode  bool      `json:"exclude_mode"`
	Passed       bool      `json:"passed"`
}

// ProjectResult is the per-project breakdown inside a validator log.
type ProjectResult struct {
	ProjectID   string         `json:"project_id"`
	ProjectName string         `json:"project_name"`
	Outcome     ProjectOutcome `json:"outcome"`
	RulesPassed int            `json:"rules_passed"`
	RulesFailed int            `json:"rules_failed"`
	Rules       []RuleResult   `json:"rules"`
}

// AllPassed reports whether every active rule in the project passed.
func (p ProjectResult) AllPassed() bool {
	return p.Outcome == ProjectPass
}

// ValidatorLog is the point-in-time snapshot of a filter evaluation stored
// on the position at entry.
type ValidatorLog struct {
	SchemaVersion int             `json:"schema_version"`
	EvaluatedAt   int64           `json:"evaluated_at"`
	Passed        bool            `json:"passed"`
	Projects      []ProjectResult `json:"projects"`
}

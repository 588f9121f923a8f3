// Package filters evaluates candidate feature vectors against filter
// projects. A project passes iff all of its active rules pass (AND); the
// signal passes iff at least one project passes (OR across projects):
// projects are independent hypotheses, any one satisfied admits the entry.
package filters

import (
	"copytrade-engine/internal/domain"
)

// Engine is a pure, side-effect-free evaluator. It may be invoked
// concurrently for many candidates as long as each call receives an
// atomically captured project snapshot.
type Engine struct{}

// NewEngine creates a filter engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Evaluate runs the two-level reduction over the project snapshot and
// returns the full breakdown. The returned log is the point-in-time record
// stored on the position; it is never re-evaluated retroactively.
func (e *Engine) Evaluate(vector domain.FeatureVector, projects []domain.FilterProject, evaluatedAtMs int64) *domain.ValidatorLog {
	log := &domain.ValidatorLog{
		SchemaVersion: domain.ValidatorSchemaVersion,
		EvaluatedAt:   evaluatedAtMs,
	}

	for i := range projects {
		result := evaluateProject(vector, &projects[i])
		log.Projects = append(log.Projects, result)
		if result.Outcome == domain.ProjectPass {
			log.Passed = true
		}
	}

	return log
}

// evaluateProject applies all active rules of one project (AND).
// A project with zero active rules is no_data, never pass.
func evaluateProject(vector domain.FeatureVector, project *domain.FilterProject) domain.ProjectResult {
	result := domain.ProjectResult{
		ProjectID:   project.ProjectID,
		ProjectName: project.Name,
	}

	active := project.ActiveRules()
	if len(active) == 0 {
		result.Outcome = domain.ProjectNoData
		return result
	}

	allPassed := true
	for _, rule := range active {
		rr := evaluateRule(vector, rule)
		result.Rules = append(result.Rules, rr)
		if rr.Passed {
			result.RulesPassed++
		} else {
			result.RulesFailed++
			allPassed = false
		}
	}

	if allPassed {
		result.Outcome = domain.ProjectPass
	} else {
		result.Outcome = domain.ProjectFail
	}
	return result
}

// evaluateRule checks a single rule against the vector. A numeric value is
// in range iff from_value <= actual <= to_value with either bound open.
// ExcludeMode inverts the range check for present values; missing values
// are governed by IncludeNull alone.
func evaluateRule(vector domain.FeatureVector, rule domain.FilterRule) domain.RuleResult {
	rr := domain.RuleResult{
		RuleID:       rule.RuleID,
		Section:      rule.Section,
		MinuteOffset: rule.MinuteOffset,
		FieldName:    rule.FieldName,
		FieldType:    rule.FieldType,
		FromValue:    rule.FromValue,
		ToValue:      rule.ToValue,
		ExcludeMode:  rule.ExcludeMode,
	}

	actual, ok := vector.Get(rule.Section, rule.MinuteOffset, rule.FieldName)
	if !ok {
		rr.Passed = rule.IncludeNull
		return rr
	}
	rr.Actual = &actual

	inRange := true
	if rule.FromValue != nil && actual < *rule.FromValue {
		inRange = false
	}
	if rule.ToValue != nil && actual > *rule.ToValue {
		inRange = false
	}

	if rule.ExcludeMode {
		rr.Passed = !inRange
	} else {
		rr.Passed = inRange
	}
	return rr
}

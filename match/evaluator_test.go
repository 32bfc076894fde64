package match

import (
	"context"
	"regexp"
	"testing"
	"time"

	"argus/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loginEvent() *core.Event {
	return &core.Event{
		EventID:   "e1",
		EventType: "4625",
		Source:    "security",
		Severity:  "high",
		Timestamp: time.Now().UTC(),
		UserName:  "svc_backup",
		IPAddress: "10.0.0.5",
		Metadata: map[string]interface{}{
			"attempts": float64(7),
			"process": map[string]interface{}{
				"name": "lsass.exe",
			},
		},
	}
}

func evalRule(t *testing.T, rule core.Rule, event *core.Event) *core.EvaluationResult {
	t.Helper()
	result, err := NewEvaluator().Evaluate(context.Background(), &rule, event)
	require.NoError(t, err)
	return result
}

func TestEvaluatorEquals(t *testing.T) {
	rule := core.Rule{
		ID: "r1",
		Conditions: []core.Condition{
			{Field: "event_type", Operator: "equals", Value: "4625"},
		},
	}
	result := evalRule(t, rule, loginEvent())
	assert.True(t, result.Matched)
	assert.Equal(t, []string{"event_type"}, result.MatchedConditions)
	assert.InDelta(t, 1.0, result.Confidence, 0.001)

	rule.Conditions[0].Value = "4624"
	assert.False(t, evalRule(t, rule, loginEvent()).Matched)
}

func TestEvaluatorAndOrChaining(t *testing.T) {
	// (event_type == 4625) AND (source == security)
	and := core.Rule{
		ID: "and",
		Conditions: []core.Condition{
			{Field: "event_type", Operator: "equals", Value: "4625", Logic: "AND"},
			{Field: "source", Operator: "equals", Value: "security"},
		},
	}
	assert.True(t, evalRule(t, and, loginEvent()).Matched)

	and.Conditions[1].Value = "webapp"
	assert.False(t, evalRule(t, and, loginEvent()).Matched)

	// (event_type == 9999) OR (source == security)
	or := core.Rule{
		ID: "or",
		Conditions: []core.Condition{
			{Field: "event_type", Operator: "equals", Value: "9999", Logic: "OR"},
			{Field: "source", Operator: "equals", Value: "security"},
		},
	}
	assert.True(t, evalRule(t, or, loginEvent()).Matched)
}

func TestEvaluatorStringOperators(t *testing.T) {
	event := loginEvent()

	cases := []struct {
		operator string
		field    string
		value    string
		matched  bool
	}{
		{"contains", "user_name", "backup", true},
		{"contains", "user_name", "nothing", false},
		{"starts_with", "user_name", "svc_", true},
		{"starts_with", "user_name", "adm", false},
		{"ends_with", "ip_address", ".5", true},
		{"ends_with", "ip_address", ".9", false},
		{"not_equals", "source", "webapp", true},
		{"not_equals", "source", "security", false},
	}

	for _, tc := range cases {
		rule := core.Rule{
			ID:         "r",
			Conditions: []core.Condition{{Field: tc.field, Operator: tc.operator, Value: tc.value}},
		}
		assert.Equal(t, tc.matched, evalRule(t, rule, event).Matched,
			"%s %s %q", tc.field, tc.operator, tc.value)
	}
}

func TestEvaluatorRegexUsesPrecompiledPattern(t *testing.T) {
	rule := core.Rule{
		ID: "rx",
		Conditions: []core.Condition{
			{
				Field:    "metadata.process.name",
				Operator: "regex",
				Value:    "(?i)lsass",
				Regex:    regexp.MustCompile("(?i)lsass"),
			},
		},
	}
	assert.True(t, evalRule(t, rule, loginEvent()).Matched)

	// Without a compiled pattern the condition never matches
	rule.Conditions[0].Regex = nil
	assert.False(t, evalRule(t, rule, loginEvent()).Matched)
}

func TestEvaluatorNumericComparison(t *testing.T) {
	rule := core.Rule{
		ID: "num",
		Conditions: []core.Condition{
			{Field: "attempts", Operator: "greater_than", Value: float64(5)},
		},
	}
	assert.True(t, evalRule(t, rule, loginEvent()).Matched)

	rule.Conditions[0].Operator = "less_than"
	assert.False(t, evalRule(t, rule, loginEvent()).Matched)

	rule.Conditions[0].Operator = "greater_than_or_equal"
	rule.Conditions[0].Value = "7"
	assert.True(t, evalRule(t, rule, loginEvent()).Matched, "numeric strings compare as numbers")
}

func TestEvaluatorDotNotation(t *testing.T) {
	rule := core.Rule{
		ID: "dot",
		Conditions: []core.Condition{
			{Field: "metadata.process.name", Operator: "equals", Value: "lsass.exe"},
		},
	}
	assert.True(t, evalRule(t, rule, loginEvent()).Matched)

	rule.Conditions[0].Field = "metadata.process.missing"
	assert.False(t, evalRule(t, rule, loginEvent()).Matched)

	rule.Conditions[0].Field = "process.name"
	assert.True(t, evalRule(t, rule, loginEvent()).Matched,
		"metadata keys are merged into the top-level namespace")
}

func TestEvaluatorMissingFieldAndEmptyRule(t *testing.T) {
	rule := core.Rule{
		ID: "missing",
		Conditions: []core.Condition{
			{Field: "no_such_field", Operator: "equals", Value: "x"},
		},
	}
	assert.False(t, evalRule(t, rule, loginEvent()).Matched)

	empty := core.Rule{ID: "empty"}
	result := evalRule(t, empty, loginEvent())
	assert.False(t, result.Matched)
}

package detect

import (
	"testing"

	"argus/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ruleIDs(rules []*core.Rule) []string {
	ids := make([]string, len(rules))
	for i, r := range rules {
		ids[i] = r.ID
	}
	return ids
}

func TestRuleIndexCandidateUnion(t *testing.T) {
	rules := []core.Rule{
		equalsRule("r1", 9, "high", "event_type", "4625"),
		equalsRule("r2", 5, "medium", "source", "security"),
		{
			ID: "r3", Name: "r3", Type: "signature", Priority: 3, Severity: "low", Enabled: true,
			Conditions: []core.Condition{
				{Field: "user_name", Operator: "contains", Value: "admin"},
			},
		},
	}
	idx := BuildRuleIndex(rules)

	assert.Equal(t, 3, idx.RuleCount())

	// Event keyed by both event_id and source buckets plus the wildcard
	event := testEvent("4625", "security")
	candidates := idx.Candidates(event)
	assert.ElementsMatch(t, []string{"r1", "r2", "r3"}, ruleIDs(candidates))

	// Unrelated event still picks up the wildcard rule
	candidates = idx.Candidates(testEvent("9999", "app"))
	assert.Equal(t, []string{"r3"}, ruleIDs(candidates))
}

func TestRuleIndexNoDuplicates(t *testing.T) {
	// One rule registered under two keys must appear once per event
	rule := core.Rule{
		ID: "multi", Name: "multi", Type: "signature", Priority: 5, Severity: "high", Enabled: true,
		Conditions: []core.Condition{
			{Field: "event_type", Operator: "equals", Value: "4625", Logic: "AND"},
			{Field: "source", Operator: "equals", Value: "security"},
		},
	}
	idx := BuildRuleIndex([]core.Rule{rule})

	candidates := idx.Candidates(testEvent("4625", "security"))
	require.Len(t, candidates, 1)
	assert.Equal(t, "multi", candidates[0].ID)
}

func TestRuleIndexSkipsDisabledRules(t *testing.T) {
	disabled := equalsRule("off", 9, "high", "event_type", "4625")
	disabled.Enabled = false

	idx := BuildRuleIndex([]core.Rule{disabled})
	assert.Equal(t, 0, idx.RuleCount())
	assert.Empty(t, idx.Candidates(testEvent("4625", "security")))
}

func TestRuleIndexBucketOrdering(t *testing.T) {
	rules := []core.Rule{
		equalsRule("low", 2, "low", "event_type", "4625"),
		equalsRule("critical", 8, "critical", "event_type", "4625"),
		equalsRule("high-sev", 8, "high", "event_type", "4625"),
	}
	idx := BuildRuleIndex(rules)

	candidates := idx.Candidates(testEvent("4625", "app"))
	require.Len(t, candidates, 3)
	// Priority descending, severity breaking the tie
	assert.Equal(t, []string{"critical", "high-sev", "low"}, ruleIDs(candidates))
}

func TestRuleIndexSeverityKeyNormalization(t *testing.T) {
	rule := equalsRule("sev", 5, "high", "severity", "HIGH")
	idx := BuildRuleIndex([]core.Rule{rule})

	event := testEvent("x", "y")
	event.Severity = "High"
	candidates := idx.Candidates(event)
	require.Len(t, candidates, 1)

	// Events without a severity fall back to the default key
	assert.Empty(t, idx.Candidates(testEvent("x", "y")))

	infoRule := equalsRule("info", 5, "low", "severity", "info")
	idx = BuildRuleIndex([]core.Rule{infoRule})
	candidates = idx.Candidates(testEvent("x", "y"))
	require.Len(t, candidates, 1)
	assert.Equal(t, "info", candidates[0].ID)
}

func TestRuleIndexMembership(t *testing.T) {
	rule := equalsRule("r1", 5, "high", "event_type", "4625")
	idx := BuildRuleIndex([]core.Rule{rule})

	assert.True(t, idx.Membership().Contains("event_id:4625", "r1"))
	assert.False(t, idx.Membership().Contains("event_id:4625", "r2"))
	assert.False(t, idx.Membership().Contains("event_id:4624", "r1"))
}

func TestIndexHolderSwap(t *testing.T) {
	holder := newIndexHolder()
	assert.Equal(t, 0, holder.get().RuleCount())

	idx := BuildRuleIndex([]core.Rule{equalsRule("r1", 5, "high", "event_type", "4625")})
	holder.swap(idx)
	assert.Equal(t, 1, holder.get().RuleCount())
	assert.Same(t, idx, holder.get())
}

func TestEventIndexKeys(t *testing.T) {
	event := testEvent("4625", "security")
	event.Severity = "HIGH"

	keys := eventIndexKeys(event)
	assert.Equal(t, []string{
		"event_id:4625",
		"source:security",
		"severity:high",
		"*",
	}, keys)
}

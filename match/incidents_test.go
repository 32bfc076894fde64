package match

import (
	"context"
	"testing"

	"argus/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryIncidentDeduplication(t *testing.T) {
	m := NewMemoryIncidentManager(zap.NewNop().Sugar())
	ctx := context.Background()

	rule := &core.Rule{ID: "r1", Severity: "high", TimeWindowMinutes: 10}
	event := &core.Event{EventID: "e1", EventType: "4625", Source: "security"}
	result := &core.EvaluationResult{RuleID: "r1", Matched: true}

	found, err := m.FindOpenIncident(ctx, "r1", event, 10)
	require.NoError(t, err)
	assert.Nil(t, found)

	created, err := m.CreateIncident(ctx, rule, event, result)
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, "open", created.Status)
	assert.Equal(t, "r1", created.RuleID)

	// Within the window the open incident is found and updated
	found, err = m.FindOpenIncident(ctx, "r1", event, 10)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created.ID, found.ID)

	updated, err := m.UpdateIncident(ctx, found.ID, event, result)
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.False(t, updated.UpdatedAt.Before(created.UpdatedAt))

	assert.Equal(t, 1, m.Count(), "repeat matches reuse the open incident")
}

func TestMemoryIncidentSeparateRules(t *testing.T) {
	m := NewMemoryIncidentManager(zap.NewNop().Sugar())
	ctx := context.Background()

	event := &core.Event{EventID: "e1"}
	result := &core.EvaluationResult{Matched: true}

	_, err := m.CreateIncident(ctx, &core.Rule{ID: "r1", Severity: "high"}, event, result)
	require.NoError(t, err)
	_, err = m.CreateIncident(ctx, &core.Rule{ID: "r2", Severity: "low"}, event, result)
	require.NoError(t, err)

	assert.Equal(t, 2, m.Count())

	found, err := m.FindOpenIncident(ctx, "r2", event, 0)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "r2", found.RuleID)
}

func TestMemoryIncidentUpdateUnknownID(t *testing.T) {
	m := NewMemoryIncidentManager(zap.NewNop().Sugar())
	incident, err := m.UpdateIncident(context.Background(), "nope", &core.Event{}, nil)
	require.NoError(t, err)
	assert.Nil(t, incident)
}

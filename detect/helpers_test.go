package detect

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"argus/config"
	"argus/core"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testLogger(t *testing.T) *zap.SugaredLogger {
	t.Helper()
	return zap.NewNop().Sugar()
}

// testConfig returns defaults suitable for fast tests.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	viper.Reset()
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

// testConfigLoad loads without resetting viper, so tests can pre-set keys.
func testConfigLoad() (*config.Config, error) {
	return config.Load()
}

// waitForCondition polls a condition function with timeout
func waitForCondition(t *testing.T, condition func() bool, timeout time.Duration, description string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if condition() {
			return
		}

		<-ticker.C
		if time.Now().After(deadline) {
			t.Fatalf("Timeout waiting for condition: %s (timeout: %v)", description, timeout)
		}
	}
}

func testEvent(eventType, source string) *core.Event {
	e := core.NewEvent()
	e.EventType = eventType
	e.Source = source
	return e
}

func equalsRule(id string, priority int, severity, field, value string) core.Rule {
	return core.Rule{
		ID:       id,
		Name:     id,
		Type:     "signature",
		Priority: priority,
		Severity: severity,
		Enabled:  true,
		Conditions: []core.Condition{
			{Field: field, Operator: "equals", Value: value},
		},
	}
}

// countingEvaluator matches everything (or nothing), counts calls, and
// tracks the peak number of concurrent evaluations.
type countingEvaluator struct {
	calls    atomic.Int64
	inFlight atomic.Int64
	peak     atomic.Int64
	matched  bool
	err      error
	delay    time.Duration
}

func (e *countingEvaluator) Evaluate(ctx context.Context, rule *core.Rule, event *core.Event) (*core.EvaluationResult, error) {
	e.calls.Add(1)
	cur := e.inFlight.Add(1)
	defer e.inFlight.Add(-1)
	for {
		peak := e.peak.Load()
		if cur <= peak || e.peak.CompareAndSwap(peak, cur) {
			break
		}
	}
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	if e.err != nil {
		return nil, e.err
	}
	return &core.EvaluationResult{
		RuleID:  rule.ID,
		Matched: e.matched,
	}, nil
}

// staticStore serves a fixed rule slice, optionally failing.
type staticStore struct {
	mu    sync.Mutex
	rules []core.Rule
	err   error
}

func (s *staticStore) LoadEnabledRules(ctx context.Context) ([]core.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]core.Rule, len(s.rules))
	copy(out, s.rules)
	return out, nil
}

func (s *staticStore) set(rules []core.Rule, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = rules
	s.err = err
}

// countingIncidents records created/updated incidents.
type countingIncidents struct {
	mu      sync.Mutex
	open    map[string]*core.Incident
	created int
	updated int
}

func newCountingIncidents() *countingIncidents {
	return &countingIncidents{open: make(map[string]*core.Incident)}
}

func (m *countingIncidents) FindOpenIncident(ctx context.Context, ruleID string, event *core.Event, windowMinutes int) (*core.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open[ruleID], nil
}

func (m *countingIncidents) CreateIncident(ctx context.Context, rule *core.Rule, event *core.Event, result *core.EvaluationResult) (*core.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created++
	incident := &core.Incident{
		ID:     "incident-" + rule.ID,
		RuleID: rule.ID,
		Status: "open",
	}
	m.open[rule.ID] = incident
	return incident, nil
}

func (m *countingIncidents) UpdateIncident(ctx context.Context, incidentID string, event *core.Event, result *core.EvaluationResult) (*core.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updated++
	for _, incident := range m.open {
		if incident.ID == incidentID {
			return incident, nil
		}
	}
	return nil, nil
}

func (m *countingIncidents) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.created, m.updated
}

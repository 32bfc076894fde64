package match

import (
	"context"
	"sync"
	"time"

	"argus/core"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MemoryIncidentManager is the reference IncidentManager: incidents held
// in memory, deduplicated per rule within the rule's time window. It is
// intended for standalone runs and tests; production deployments plug in
// a persistent implementation.
type MemoryIncidentManager struct {
	mu         sync.Mutex
	incidents  map[string]*core.Incident // keyed by incident ID
	openByRule map[string]string         // ruleID -> open incident ID
	logger     *zap.SugaredLogger
}

func NewMemoryIncidentManager(logger *zap.SugaredLogger) *MemoryIncidentManager {
	return &MemoryIncidentManager{
		incidents:  make(map[string]*core.Incident),
		openByRule: make(map[string]string),
		logger:     logger,
	}
}

// FindOpenIncident returns the open incident for ruleID updated within
// the window, or nil.
func (m *MemoryIncidentManager) FindOpenIncident(ctx context.Context, ruleID string, event *core.Event, windowMinutes int) (*core.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.openByRule[ruleID]
	if !ok {
		return nil, nil
	}
	incident := m.incidents[id]
	if incident == nil || incident.Status != "open" {
		delete(m.openByRule, ruleID)
		return nil, nil
	}

	if windowMinutes > 0 {
		window := time.Duration(windowMinutes) * time.Minute
		if time.Since(incident.UpdatedAt) > window {
			// Window lapsed: close the stale incident
			incident.Status = "closed"
			delete(m.openByRule, ruleID)
			return nil, nil
		}
	}

	out := *incident
	return &out, nil
}

// CreateIncident opens a new incident for the match.
func (m *MemoryIncidentManager) CreateIncident(ctx context.Context, rule *core.Rule, event *core.Event, result *core.EvaluationResult) (*core.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	incident := &core.Incident{
		ID:        uuid.New().String(),
		RuleID:    rule.ID,
		Severity:  rule.Severity,
		Status:    "open",
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.incidents[incident.ID] = incident
	m.openByRule[rule.ID] = incident.ID

	m.logger.Infow("Incident created",
		"incident_id", incident.ID,
		"rule_id", rule.ID,
		"severity", rule.Severity,
		"event_id", event.EventID)

	out := *incident
	return &out, nil
}

// UpdateIncident refreshes the incident's activity timestamp.
func (m *MemoryIncidentManager) UpdateIncident(ctx context.Context, incidentID string, event *core.Event, result *core.EvaluationResult) (*core.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	incident, ok := m.incidents[incidentID]
	if !ok {
		return nil, nil
	}
	incident.UpdatedAt = time.Now().UTC()

	out := *incident
	return &out, nil
}

// Count returns the number of incidents ever created.
func (m *MemoryIncidentManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.incidents)
}

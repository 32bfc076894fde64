package core

import (
	"regexp"
	"time"
)

// Rule represents a correlation rule loaded from the rule store.
// Rules are owned exclusively by the rule index for the lifetime of a
// load generation and are replaced wholesale on reload, never mutated.
type Rule struct {
	ID                string                 `json:"id" example:"failed_login_burst"`
	Name              string                 `json:"name" example:"Failed Login Burst"`
	Description       string                 `json:"description,omitempty"`
	Type              string                 `json:"type" example:"threshold"`
	Priority          int                    `json:"priority" example:"8"`
	Severity          string                 `json:"severity" example:"high"`
	Enabled           bool                   `json:"enabled" example:"true"`
	Conditions        []Condition            `json:"conditions"`
	TimeWindowMinutes int                    `json:"time_window_minutes,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt         time.Time              `json:"created_at,omitempty"`
	UpdatedAt         time.Time              `json:"updated_at,omitempty"`
}

// Condition is a single predicate within a rule. Conditions chain left to
// right; the Logic field on condition i joins it to condition i+1.
type Condition struct {
	Field    string      `json:"field" example:"event_type"`
	Operator string      `json:"operator" example:"equals"`
	Value    interface{} `json:"value"`
	Logic    string      `json:"logic,omitempty" example:"AND"`

	// Regex is the compiled pattern for "regex" conditions, populated at
	// load time so the hot path never compiles.
	Regex *regexp.Regexp `json:"-"`
}

// Category returns the rule's category from metadata, or "" if unset.
func (r *Rule) Category() string {
	if r.Metadata == nil {
		return ""
	}
	if c, ok := r.Metadata["category"].(string); ok {
		return c
	}
	return ""
}

// EvaluationResult is the outcome of evaluating one rule against one event.
// Results are ephemeral; matched results may be cached briefly.
type EvaluationResult struct {
	RuleID            string                 `json:"rule_id"`
	Matched           bool                   `json:"matched"`
	Confidence        float64                `json:"confidence"`
	MatchedConditions []string               `json:"matched_conditions,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

// PatternMatch is a cross-event detection produced by the pattern matching
// collaborator from an event buffer.
type PatternMatch struct {
	Pattern    string                 `json:"pattern"`
	Severity   string                 `json:"severity"`
	Confidence float64                `json:"confidence"`
	EventIDs   []string               `json:"event_ids,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Incident is the persistent grouping of correlated matches. Its schema is
// owned by the incident manager; the pipeline only passes it through.
type Incident struct {
	ID        string    `json:"id"`
	RuleID    string    `json:"rule_id"`
	Severity  string    `json:"severity"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

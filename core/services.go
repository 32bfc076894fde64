package core

import "context"

// Collaborator interfaces consumed by the correlation pipeline.
//
// DESIGN PRINCIPLES:
// 1. Interfaces are defined WHERE THEY ARE USED (consumer package), not where implemented
// 2. Small interfaces (1-3 methods ideal, following Interface Segregation Principle)
// 3. Accept interfaces, return concrete types
// 4. context.Context as first parameter for cancellation support
//
// The pipeline treats every call below as an opaque, possibly-blocking
// network/storage operation and bounds it with the calling worker pool's
// timeout. Implementations live outside this core; the match package ships
// file-backed and in-memory implementations so the binary can run
// standalone.

// RuleStore provides bulk access to enabled rules, ordered by
// priority/severity descending.
type RuleStore interface {
	LoadEnabledRules(ctx context.Context) ([]Rule, error)
}

// RuleEvaluator implements the actual condition logic for one (rule, event)
// pair. Errors are isolated per rule by the caller and never abort the
// surrounding event or batch.
type RuleEvaluator interface {
	Evaluate(ctx context.Context, rule *Rule, event *Event) (*EvaluationResult, error)
}

// PatternMatcher performs cross-event heuristic detection over the event
// buffer the pipeline maintains for the event's (source, type) key.
type PatternMatcher interface {
	FindMatches(ctx context.Context, event *Event, buffer []*Event) ([]PatternMatch, error)
}

// IncidentManager owns incident persistence and deduplication.
type IncidentManager interface {
	// FindOpenIncident returns the open incident for ruleID within the
	// window, or nil if none exists.
	FindOpenIncident(ctx context.Context, ruleID string, event *Event, windowMinutes int) (*Incident, error)
	CreateIncident(ctx context.Context, rule *Rule, event *Event, result *EvaluationResult) (*Incident, error)
	UpdateIncident(ctx context.Context, incidentID string, event *Event, result *EvaluationResult) (*Incident, error)
}

// ActionExecutor runs notification/response side effects for a match.
// Invoked fire-and-forget from the match dispatcher.
type ActionExecutor interface {
	ExecuteActions(ctx context.Context, rule *Rule, incident *Incident, event *Event) error
}

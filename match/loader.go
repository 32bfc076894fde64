package match

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"argus/core"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
)

// ruleDocument is the on-disk rules file layout.
type ruleDocument struct {
	Rules []core.Rule `json:"rules"`
}

// FileRuleStore is the reference RuleStore: a JSON rules file validated
// against an optional schema. The schema is looked up as
// rules_schema.json next to the rules file; absence skips validation
// with a warning.
type FileRuleStore struct {
	path   string
	logger *zap.SugaredLogger
}

func NewFileRuleStore(path string, logger *zap.SugaredLogger) *FileRuleStore {
	return &FileRuleStore{path: path, logger: logger}
}

// LoadEnabledRules reads the rules file and returns enabled rules with
// compiled regex conditions, ordered by priority then severity
// descending. Rules with invalid regex patterns are skipped.
func (s *FileRuleStore) LoadEnabledRules(ctx context.Context) ([]core.Rule, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	if err := s.validateSchema(data); err != nil {
		return nil, err
	}

	var doc ruleDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rules: %w", err)
	}

	var rules []core.Rule
	for _, rule := range doc.Rules {
		if rule.ID == "" {
			return nil, fmt.Errorf("rule missing ID")
		}
		if !rule.Enabled {
			continue
		}
		if len(rule.Conditions) == 0 {
			s.logger.Warnf("Warning: rule %s has no conditions", rule.ID)
		}
		if !compileRegexConditions(&rule, s.logger) {
			continue
		}
		rules = append(rules, rule)
	}

	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return severityOrder(rules[i].Severity) > severityOrder(rules[j].Severity)
	})

	s.logger.Infof("Loaded %d enabled rules from %s", len(rules), s.path)
	return rules, nil
}

// validateSchema validates the rules document against rules_schema.json
// in the same directory, if present.
func (s *FileRuleStore) validateSchema(data []byte) error {
	schemaPath := filepath.Join(filepath.Dir(s.path), "rules_schema.json")
	schemaData, err := os.ReadFile(schemaPath)
	if err != nil {
		s.logger.Warnf("Schema file not found, skipping validation: %v", err)
		return nil
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaData),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return fmt.Errorf("failed to validate rules against schema: %w", err)
	}
	if !result.Valid() {
		return fmt.Errorf("rules validation failed: %v", result.Errors())
	}
	return nil
}

// compileRegexConditions compiles regex patterns in place. Returns false
// when any pattern is invalid; the rule should then be skipped.
func compileRegexConditions(rule *core.Rule, logger *zap.SugaredLogger) bool {
	for j := range rule.Conditions {
		cond := &rule.Conditions[j]
		if cond.Operator != "regex" {
			continue
		}
		valStr, ok := cond.Value.(string)
		if !ok {
			logger.Errorf("Non-string regex pattern in rule %s condition %d, skipping rule", rule.ID, j)
			return false
		}
		regex, err := regexp.Compile(valStr)
		if err != nil {
			logger.Errorf("Invalid regex pattern in rule %s condition %d: %v, skipping rule", rule.ID, j, err)
			return false
		}
		cond.Regex = regex
	}
	return true
}

func severityOrder(severity string) int {
	switch severity {
	case "critical":
		return 4
	case "high":
		return 3
	case "medium":
		return 2
	case "low":
		return 1
	default:
		return 0
	}
}

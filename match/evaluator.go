package match

import (
	"context"
	"reflect"
	"strconv"
	"strings"

	"argus/core"
)

// Evaluator is the reference RuleEvaluator: straight condition chain
// evaluation over event fields, no external lookups. It is safe for
// concurrent use.
type Evaluator struct{}

func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate runs the rule's condition chain against the event. Conditions
// chain left to right; the Logic field of condition i joins it with
// condition i+1, defaulting to AND.
func (ev *Evaluator) Evaluate(ctx context.Context, rule *core.Rule, event *core.Event) (*core.EvaluationResult, error) {
	if len(rule.Conditions) == 0 {
		return &core.EvaluationResult{RuleID: rule.ID}, nil
	}

	var matchedFields []string
	record := func(cond core.Condition, ok bool) bool {
		if ok {
			matchedFields = append(matchedFields, cond.Field)
		}
		return ok
	}

	result := record(rule.Conditions[0], evaluateCondition(rule.Conditions[0], event))
	for i := 1; i < len(rule.Conditions); i++ {
		cond := rule.Conditions[i]
		condResult := record(cond, evaluateCondition(cond, event))
		if rule.Conditions[i-1].Logic == "OR" {
			result = result || condResult
		} else {
			result = result && condResult
		}
	}

	out := &core.EvaluationResult{
		RuleID:  rule.ID,
		Matched: result,
	}
	if result {
		out.Confidence = float64(len(matchedFields)) / float64(len(rule.Conditions))
		out.MatchedConditions = matchedFields
	}
	return out, nil
}

// evaluateCondition evaluates a single condition against the event.
func evaluateCondition(cond core.Condition, event *core.Event) bool {
	fieldValue := getFieldValue(cond.Field, event)
	if fieldValue == nil {
		return false
	}

	switch cond.Operator {
	case "equals":
		return reflect.DeepEqual(fieldValue, cond.Value)
	case "not_equals":
		return !reflect.DeepEqual(fieldValue, cond.Value)
	case "contains":
		if str, ok := fieldValue.(string); ok {
			if valStr, ok := cond.Value.(string); ok {
				return strings.Contains(str, valStr)
			}
		}
		return false
	case "starts_with":
		if str, ok := fieldValue.(string); ok {
			if valStr, ok := cond.Value.(string); ok {
				return strings.HasPrefix(str, valStr)
			}
		}
		return false
	case "ends_with":
		if str, ok := fieldValue.(string); ok {
			if valStr, ok := cond.Value.(string); ok {
				return strings.HasSuffix(str, valStr)
			}
		}
		return false
	case "regex":
		if str, ok := fieldValue.(string); ok {
			if cond.Regex != nil {
				return cond.Regex.MatchString(str)
			}
		}
		return false
	case "greater_than":
		return compareNumbers(fieldValue, cond.Value, func(a, b float64) bool { return a > b })
	case "less_than":
		return compareNumbers(fieldValue, cond.Value, func(a, b float64) bool { return a < b })
	case "greater_than_or_equal":
		return compareNumbers(fieldValue, cond.Value, func(a, b float64) bool { return a >= b })
	case "less_than_or_equal":
		return compareNumbers(fieldValue, cond.Value, func(a, b float64) bool { return a <= b })
	}
	return false
}

// compareNumbers compares two values as numbers, accepting float64 or
// numeric strings.
func compareNumbers(a, b interface{}, cmp func(float64, float64) bool) bool {
	fa, ok := toFloat(a)
	if !ok {
		return false
	}
	fb, ok := toFloat(b)
	if !ok {
		return false
	}
	return cmp(fa, fb)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		if parsed, err := strconv.ParseFloat(n, 64); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

// getFieldValue extracts a field from the event using dot notation
// (e.g. "metadata.process.name").
func getFieldValue(field string, event *core.Event) interface{} {
	parts := strings.Split(field, ".")

	current := map[string]interface{}{
		"event_id":      event.EventID,
		"event_type":    event.EventType,
		"source":        event.Source,
		"severity":      event.Severity,
		"timestamp":     event.Timestamp,
		"computer_name": event.ComputerName,
		"user_name":     event.UserName,
		"ip_address":    event.IPAddress,
	}
	for k, v := range event.Metadata {
		current[k] = v
	}
	if event.Metadata != nil {
		current["metadata"] = event.Metadata
	}

	for i, part := range parts {
		val := current[part]
		if i == len(parts)-1 {
			return val
		}
		m, ok := val.(map[string]interface{})
		if !ok {
			return nil
		}
		current = m
	}
	return nil
}

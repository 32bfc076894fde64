package detect

import (
	"sort"
	"strings"
	"sync/atomic"

	"argus/core"
)

// Index key prefixes. A rule registers under one key per discriminating
// condition, or under the wildcard when none applies.
const (
	keyPrefixEventID  = "event_id:"
	keyPrefixSource   = "source:"
	keyPrefixSeverity = "severity:"
	keyPrefixType     = "type:"
	keyWildcard       = "*"

	// defaultSeverity stands in for events that carry no severity so their
	// key set stays deterministic.
	defaultSeverity = "info"
)

// Membership is the fast-reject structure guarding index bucket use.
// It is exact, not probabilistic: a false positive would admit a rule the
// index never registered, changing match behavior. Kept behind an
// interface so a true Bloom filter could be swapped in if memory ever
// justifies accepting false positives.
type Membership interface {
	Contains(indexKey, ruleID string) bool
}

// membershipSet is the exact hash-set implementation of Membership.
type membershipSet map[string]struct{}

func (m membershipSet) add(indexKey, ruleID string) {
	m[indexKey+"\x00"+ruleID] = struct{}{}
}

func (m membershipSet) Contains(indexKey, ruleID string) bool {
	_, ok := m[indexKey+"\x00"+ruleID]
	return ok
}

// RuleIndex maps discriminator keys to candidate rule buckets. A built
// index is immutable; reloads construct a fresh index and swap it in
// wholesale so readers never observe partial state.
type RuleIndex struct {
	buckets    map[string][]*core.Rule
	membership membershipSet
	ruleCount  int
}

// BuildRuleIndex indexes every enabled rule under its derived key set and
// records a membership entry for each (key, ruleId) pair. Buckets preserve
// the store's priority/severity ordering and are additionally sorted by
// priority descending so top-N truncation on the fast and sequential paths
// is meaningful.
func BuildRuleIndex(rules []core.Rule) *RuleIndex {
	idx := &RuleIndex{
		buckets:    make(map[string][]*core.Rule),
		membership: make(membershipSet),
	}

	for i := range rules {
		rule := &rules[i]
		if !rule.Enabled {
			continue
		}
		idx.ruleCount++
		for _, key := range ruleIndexKeys(rule) {
			idx.buckets[key] = append(idx.buckets[key], rule)
			idx.membership.add(key, rule.ID)
		}
	}

	for key := range idx.buckets {
		bucket := idx.buckets[key]
		sort.SliceStable(bucket, func(a, b int) bool {
			if bucket[a].Priority != bucket[b].Priority {
				return bucket[a].Priority > bucket[b].Priority
			}
			return severityRank(bucket[a].Severity) > severityRank(bucket[b].Severity)
		})
	}

	return idx
}

// ruleIndexKeys derives the discriminator keys a rule registers under.
// Equality conditions on event_type, source and severity discriminate;
// the rule's own type discriminates; anything else falls through to the
// wildcard bucket.
func ruleIndexKeys(rule *core.Rule) []string {
	var keys []string

	for _, cond := range rule.Conditions {
		if cond.Operator != "equals" {
			continue
		}
		value, ok := cond.Value.(string)
		if !ok || value == "" {
			continue
		}
		switch cond.Field {
		case "event_type", "event_id":
			keys = append(keys, keyPrefixEventID+value)
		case "source":
			keys = append(keys, keyPrefixSource+value)
		case "severity":
			keys = append(keys, keyPrefixSeverity+strings.ToLower(value))
		case "type":
			keys = append(keys, keyPrefixType+value)
		}
	}

	if len(keys) == 0 {
		keys = append(keys, keyWildcard)
	}
	return keys
}

// eventIndexKeys derives the lookup key set for an incoming event.
func eventIndexKeys(event *core.Event) []string {
	severity := strings.ToLower(event.Severity)
	if severity == "" {
		severity = defaultSeverity
	}
	return []string{
		keyPrefixEventID + event.EventType,
		keyPrefixSource + event.Source,
		keyPrefixSeverity + severity,
		keyWildcard,
	}
}

// Candidates returns the deduplicated candidate set for an event. A rule
// in a bucket is admitted only when the membership filter confirms its
// (key, ruleId) registration; this rejects entries from a stale or
// partially observed bucket at O(1) per rule.
func (idx *RuleIndex) Candidates(event *core.Event) []*core.Rule {
	var candidates []*core.Rule
	seen := make(map[string]struct{})

	for _, key := range eventIndexKeys(event) {
		bucket, ok := idx.buckets[key]
		if !ok {
			continue
		}
		for _, rule := range bucket {
			if !idx.membership.Contains(key, rule.ID) {
				continue
			}
			if _, dup := seen[rule.ID]; dup {
				continue
			}
			seen[rule.ID] = struct{}{}
			candidates = append(candidates, rule)
		}
	}

	return candidates
}

// RuleCount returns the number of enabled rules in this generation.
func (idx *RuleIndex) RuleCount() int {
	return idx.ruleCount
}

// KeyCount returns the number of distinct index keys.
func (idx *RuleIndex) KeyCount() int {
	return len(idx.buckets)
}

// Membership exposes the filter for direct inspection in tests.
func (idx *RuleIndex) Membership() Membership {
	return idx.membership
}

// severityRank orders severities for bucket sorting.
func severityRank(severity string) int {
	switch strings.ToLower(severity) {
	case "critical":
		return 4
	case "high":
		return 3
	case "medium", "warning":
		return 2
	case "low":
		return 1
	default:
		return 0
	}
}

// indexHolder provides the atomic wholesale swap between load generations.
type indexHolder struct {
	ptr atomic.Pointer[RuleIndex]
}

func newIndexHolder() *indexHolder {
	h := &indexHolder{}
	h.ptr.Store(BuildRuleIndex(nil))
	return h
}

func (h *indexHolder) get() *RuleIndex {
	return h.ptr.Load()
}

func (h *indexHolder) swap(idx *RuleIndex) {
	h.ptr.Store(idx)
}

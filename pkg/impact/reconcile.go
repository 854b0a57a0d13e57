package impact

import (
	"math"
	"strings"

	"github.com/google/uuid"
)

// secondaryWeight is how much every impact but the strongest adds to a merged
// impact.
const secondaryWeight = 0.5

type groupKey struct {
	typ    Type
	target string
}

// ReconcileConflictingImpacts merges impacts that share a type and target.
// Within a group, same-signed values combine with diminishing returns
// (strongest + the rest at half weight) and the two signs are then netted.
// Single impacts pass through untouched. Groups keep first-seen order.
func ReconcileConflictingImpacts(impacts []DecisionImpact) []DecisionImpact {
	if len(impacts) == 0 {
		return []DecisionImpact{}
	}

	var order []groupKey
	groups := make(map[groupKey][]DecisionImpact)
	for _, imp := range impacts {
		k := groupKey{typ: imp.Type, target: imp.Target}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], imp)
	}

	out := make([]DecisionImpact, 0, len(order))
	for _, k := range order {
		g := groups[k]
		if len(g) == 1 {
			out = append(out, g[0])
			continue
		}
		out = append(out, merge(g))
	}
	return out
}

func merge(g []DecisionImpact) DecisionImpact {
	var pos, neg []float64
	for _, imp := range g {
		switch {
		case imp.Value > 0:
			pos = append(pos, imp.Value)
		case imp.Value < 0:
			neg = append(neg, -imp.Value)
		}
	}

	merged := DecisionImpact{
		ID:       uuid.NewString(),
		Type:     g[0].Type,
		Target:   g[0].Target,
		Severity: g[0].Severity,
		Value:    combine(pos) - combine(neg),
	}

	var descriptions []string
	seenDesc := map[string]bool{}
	permanent := false
	conditions := newOrderedSet()
	related := newOrderedSet()
	for _, imp := range g {
		if imp.Severity.rank() > merged.Severity.rank() {
			merged.Severity = imp.Severity
		}
		if imp.Description != "" && !seenDesc[imp.Description] {
			seenDesc[imp.Description] = true
			descriptions = append(descriptions, imp.Description)
		}
		if imp.Permanent() {
			permanent = true
		} else if imp.Duration > merged.Duration {
			merged.Duration = imp.Duration
		}
		conditions.add(imp.Conditions...)
		related.add(imp.RelatedDecisionIDs...)
	}
	if permanent {
		merged.Duration = 0
	}
	merged.Description = strings.Join(descriptions, "; ")
	merged.Conditions = conditions.items
	merged.RelatedDecisionIDs = related.items
	return merged
}

// combine returns max + (sum - max) * secondaryWeight over non-negative values.
func combine(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum, max float64
	for _, v := range vals {
		sum += v
		max = math.Max(max, v)
	}
	return max + (sum-max)*secondaryWeight
}

type orderedSet struct {
	seen  map[string]bool
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: map[string]bool{}, items: []string{}}
}

func (s *orderedSet) add(vals ...string) {
	for _, v := range vals {
		if v == "" || s.seen[v] {
			continue
		}
		s.seen[v] = true
		s.items = append(s.items, v)
	}
}

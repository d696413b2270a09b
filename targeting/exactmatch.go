package targeting

import (
	"fmt"
)

// ExactMatchEvaluator is the default Evaluator: a rule matches when, for
// every dimension, the context value is in the include list (if one exists
// for that key) and not in the exclude list. Comparison is exact and
// case-sensitive. An empty include set matches everything not excluded.
type ExactMatchEvaluator struct{}

var _ Evaluator = ExactMatchEvaluator{}

func (ExactMatchEvaluator) Evaluate(include, exclude map[string][]string, context map[string]string, dimensions []string) Result {
	for key, denied := range exclude {
		if !dimensionKnown(key, dimensions) {
			continue
		}
		if contains(denied, context[key]) {
			return Result{Matched: false, Reason: fmt.Sprintf("excluded by %s=%s", key, context[key])}
		}
	}
	for key, allowed := range include {
		if !dimensionKnown(key, dimensions) {
			continue
		}
		if !contains(allowed, context[key]) {
			return Result{Matched: false, Reason: fmt.Sprintf("%s=%s not in include list", key, context[key])}
		}
	}
	return Result{Matched: true, Reason: "matched"}
}

func dimensionKnown(key string, dimensions []string) bool {
	// An empty dimension config means every key is in play.
	if len(dimensions) == 0 {
		return true
	}
	return contains(dimensions, key)
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
